package app

import (
	"context"
	"log/slog"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/voicelink/internal/config"
	"github.com/MrWong99/voicelink/pkg/provider/llm"
	"github.com/MrWong99/voicelink/pkg/provider/llm/anyllm"
	"github.com/MrWong99/voicelink/pkg/provider/llm/gemini"
	oaillm "github.com/MrWong99/voicelink/pkg/provider/llm/openai"
	"github.com/MrWong99/voicelink/pkg/provider/realtime"
	oairt "github.com/MrWong99/voicelink/pkg/provider/realtime/openai"
)

// anyLLMBackends are served through any-llm-go. openai and gemini have
// dedicated clients.
var anyLLMBackends = []string{"anthropic", "deepseek", "mistral", "groq", "llamacpp", "llamafile", "ollama"}

// NewRegistry returns a registry with every built-in provider factory.
func NewRegistry() *config.Registry {
	reg := config.NewRegistry()
	RegisterBuiltinProviders(reg)
	return reg
}

// RegisterBuiltinProviders wires the built-in realtime and LLM factories
// into reg.
func RegisterBuiltinProviders(reg *config.Registry) {
	// ── Realtime ──────────────────────────────────────────────────────────────

	reg.RegisterRealtime("openai", func(up config.UpstreamConfig) (realtime.Provider, error) {
		var opts []oairt.Option
		if up.Model != "" {
			opts = append(opts, oairt.WithModel(up.Model))
		}
		if up.URL != "" {
			opts = append(opts, oairt.WithBaseURL(up.URL))
		}
		return oairt.New(up.APIKey, opts...), nil
	})

	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if entry.Timeout > 0 {
			opts = append(opts, oaillm.WithTimeout(entry.Timeout))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterLLM("gemini", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []gemini.Option
		if entry.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(entry.BaseURL))
		}
		if entry.Timeout > 0 {
			opts = append(opts, gemini.WithTimeout(entry.Timeout))
		}
		return gemini.New(context.Background(), entry.APIKey, entry.Model, opts...)
	})

	for _, backend := range anyLLMBackends {
		reg.RegisterLLM(backend, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(backend, entry.Model, opts...)
		})
	}

	slog.Debug("registered providers", "llm", reg.LLMNames())
}
