// Package anyllm adapts github.com/mozilla-ai/any-llm-go to [llm.Provider],
// giving the orchestrator's agents access to every backend that library
// speaks (Anthropic, DeepSeek, Groq, Mistral, Ollama, llama.cpp, ...).
//
//	p, err := anyllm.New("anthropic", "claude-3-5-haiku-latest", anyllmlib.WithAPIKey(key))
//	p, err := anyllm.New("ollama", "llama3.2", anyllmlib.WithBaseURL("http://gpu-box:11434"))
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/voicelink/pkg/provider/llm"
)

type constructor func(...anyllmlib.Option) (anyllmlib.Provider, error)

// backends maps lower-case backend names onto any-llm-go constructors.
var backends = map[string]constructor{
	"anthropic": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anthropic.New(o...) },
	"deepseek":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return deepseek.New(o...) },
	"gemini":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return gemini.New(o...) },
	"groq":      func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return groq.New(o...) },
	"llamacpp":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamacpp.New(o...) },
	"llamafile": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamafile.New(o...) },
	"mistral":   func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return mistral.New(o...) },
	"ollama":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return ollama.New(o...) },
	"openai":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anyllmoai.New(o...) },
}

// Backends returns the accepted backend names, sorted.
func Backends() []string {
	names := make([]string, 0, len(backends))
	for n := range backends {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

var _ llm.Provider = (*Provider)(nil)

// Provider is one backend/model pair.
type Provider struct {
	client anyllmlib.Provider
	id     string
}

// New opens backend (case-insensitive, see [Backends]) for model. Without
// anyllmlib.WithAPIKey the backend reads its usual environment variable.
func New(backend, model string, opts ...anyllmlib.Option) (*Provider, error) {
	backend = strings.ToLower(strings.TrimSpace(backend))
	switch {
	case backend == "":
		return nil, errors.New("anyllm: backend name is empty")
	case model == "":
		return nil, fmt.Errorf("anyllm: %s: model is empty", backend)
	}
	ctor, ok := backends[backend]
	if !ok {
		return nil, fmt.Errorf("anyllm: unknown backend %q (have %s)", backend, strings.Join(Backends(), ", "))
	}
	client, err := ctor(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s: %w", backend, err)
	}
	return &Provider{client: client, id: backend + "/" + model}, nil
}

// Name reports "backend/model".
func (p *Provider) Name() string { return p.id }

func (p *Provider) model() string {
	_, m, _ := strings.Cut(p.id, "/")
	return m
}

// Complete sends req as a chat completion and returns the first choice.
func (p *Provider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("anyllm: %s: no messages", p.id)
	}
	out, err := p.client.Completion(ctx, buildParams(p.model(), req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s: %w", p.id, err)
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: %s: reply has no choices", p.id)
	}
	resp := &llm.Response{Content: out.Choices[0].Message.ContentString()}
	if u := out.Usage; u != nil {
		resp.Usage = llm.Usage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
		}
	}
	return resp, nil
}

// buildParams flattens req into a chat transcript, system prompt first.
// Zero temperature and max tokens leave the backend defaults in place.
func buildParams(model string, req llm.Request) anyllmlib.CompletionParams {
	msgs := make([]anyllmlib.Message, 0, 1+len(req.Messages))
	if req.SystemPrompt != "" {
		msgs = append(msgs, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, anyllmlib.Message{Role: m.Role, Content: m.Content})
	}
	params := anyllmlib.CompletionParams{Model: model, Messages: msgs}
	if t := req.Temperature; t != 0 {
		params.Temperature = &t
	}
	if n := req.MaxTokens; n > 0 {
		params.MaxTokens = &n
	}
	return params
}
