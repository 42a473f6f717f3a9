package app_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/voicelink/internal/agent/orchestrator"
	"github.com/MrWong99/voicelink/internal/app"
	"github.com/MrWong99/voicelink/internal/config"
	"github.com/MrWong99/voicelink/internal/observe"
	"github.com/MrWong99/voicelink/pkg/provider/llm"
	llmmock "github.com/MrWong99/voicelink/pkg/provider/llm/mock"
)

// mockRegistry resolves every LLM entry to the mock keyed by entry.Name.
func mockRegistry(mocks map[string]*llmmock.Provider) *config.Registry {
	reg := config.NewRegistry()
	for name, m := range mocks {
		reg.RegisterLLM(name, func(config.ProviderEntry) (llm.Provider, error) { return m, nil })
	}
	return reg
}

func orchestratorConfig() config.OrchestratorConfig {
	cfg := config.Defaults().Orchestrator
	cfg.Enabled = true
	cfg.Providers = map[string]config.ProviderEntry{
		"main":   {Name: "primary", Model: "m1", Fallbacks: []string{"backup"}},
		"backup": {Name: "secondary", Model: "m2"},
	}
	cfg.DefaultProvider = "main"
	cfg.Agents = []config.AgentConfig{
		{Name: "forecaster", Description: "Answers weather questions.", Instructions: "Reply with a forecast."},
		{Name: "tone", Capability: "realtime", Instructions: "Speak formally and precisely."},
	}
	cfg.Rules = []config.RuleConfig{
		{Keywords: []string{"weather"}, Agents: []string{"forecaster"}},
		{Keywords: []string{"formal"}, Agents: []string{"tone"}, Instructions: "Speak formally."},
	}
	return cfg
}

func TestBuildOrchestrator_Disabled(t *testing.T) {
	t.Parallel()

	orch, err := app.BuildOrchestrator(config.OrchestratorConfig{}, config.NewRegistry(), observe.DefaultMetrics())
	if err != nil {
		t.Fatalf("BuildOrchestrator: %v", err)
	}
	if orch != nil {
		t.Fatal("disabled orchestrator should be nil")
	}
}

func TestBuildOrchestrator_RoutesThroughFallback(t *testing.T) {
	t.Parallel()

	primary := &llmmock.Provider{ProviderName: "primary", Err: errors.New("quota exceeded")}
	backup := &llmmock.Provider{ProviderName: "secondary", Response: &llm.Response{Content: "Sunny and mild."}}
	reg := mockRegistry(map[string]*llmmock.Provider{"primary": primary, "secondary": backup})

	orch, err := app.BuildOrchestrator(orchestratorConfig(), reg, observe.DefaultMetrics())
	if err != nil {
		t.Fatalf("BuildOrchestrator: %v", err)
	}
	if n := orch.Registry().Len(); n != 2 {
		t.Fatalf("agents = %d, want 2", n)
	}

	res, err := orch.Invoke(context.Background(), orchestrator.Input{SessionID: "s1", Text: "how is the weather today"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.RoutedOutput != "Sunny and mild." {
		t.Errorf("RoutedOutput = %q, want fallback reply", res.RoutedOutput)
	}
	if res.Agent != "forecaster" {
		t.Errorf("Agent = %q, want forecaster", res.Agent)
	}
	if len(primary.Calls()) == 0 {
		t.Error("primary provider was never tried")
	}
}

func TestBuildOrchestrator_InstructionRule(t *testing.T) {
	t.Parallel()

	reg := mockRegistry(map[string]*llmmock.Provider{
		"primary":   {ProviderName: "primary"},
		"secondary": {ProviderName: "secondary"},
	})
	orch, err := app.BuildOrchestrator(orchestratorConfig(), reg, observe.DefaultMetrics())
	if err != nil {
		t.Fatalf("BuildOrchestrator: %v", err)
	}

	res, err := orch.Invoke(context.Background(), orchestrator.Input{SessionID: "s1", Text: "please be formal"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.InstructionUpdate == "" {
		t.Error("expected an instruction update")
	}
	if res.RoutedOutput != "" {
		t.Errorf("RoutedOutput = %q, want none", res.RoutedOutput)
	}
}

func TestBuildOrchestrator_ProviderNotRegistered(t *testing.T) {
	t.Parallel()

	_, err := app.BuildOrchestrator(orchestratorConfig(), config.NewRegistry(), observe.DefaultMetrics())
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestBuildLLMProviders_NoFallbacks(t *testing.T) {
	t.Parallel()

	m := &llmmock.Provider{ProviderName: "primary", Response: &llm.Response{Content: "ok"}}
	reg := mockRegistry(map[string]*llmmock.Provider{"primary": m})
	cfg := config.OrchestratorConfig{Providers: map[string]config.ProviderEntry{"main": {Name: "primary"}}}

	got, err := app.BuildLLMProviders(cfg, reg)
	if err != nil {
		t.Fatalf("BuildLLMProviders: %v", err)
	}
	if got["main"] != llm.Provider(m) {
		t.Errorf("main = %T, want the registered provider unwrapped", got["main"])
	}
}
