package app

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/voicelink/internal/agent"
	"github.com/MrWong99/voicelink/internal/agent/orchestrator"
	"github.com/MrWong99/voicelink/internal/config"
	"github.com/MrWong99/voicelink/internal/observe"
	"github.com/MrWong99/voicelink/internal/resilience"
	"github.com/MrWong99/voicelink/pkg/provider/llm"
)

// BuildLLMProviders instantiates every configured LLM entry through reg and
// chains each with its fallbacks. Keys of the result match cfg.Providers.
func BuildLLMProviders(cfg config.OrchestratorConfig, reg *config.Registry) (map[string]llm.Provider, error) {
	raw := make(map[string]llm.Provider, len(cfg.Providers))
	var errs []error
	for id, entry := range cfg.Providers {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			errs = append(errs, fmt.Errorf("provider %q: %w", id, err))
			continue
		}
		raw[id] = p
		slog.Info("provider created", "kind", "llm", "id", id, "name", entry.Name, "model", entry.Model)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("app: build llm providers: %w", err)
	}

	out := make(map[string]llm.Provider, len(raw))
	for id, p := range raw {
		fallbacks := cfg.Providers[id].Fallbacks
		if len(fallbacks) == 0 {
			out[id] = p
			continue
		}
		chain := make([]llm.Provider, 0, len(fallbacks))
		for _, fb := range fallbacks {
			chain = append(chain, raw[fb])
		}
		out[id] = resilience.NewLLMFallback(breakerConfig("llm-"+id, cfg.Breaker), p, chain...)
	}
	return out, nil
}

// BuildOrchestrator assembles the agent registry, decider and orchestrator
// described by cfg. It returns nil when the orchestrator is disabled.
func BuildOrchestrator(cfg config.OrchestratorConfig, reg *config.Registry, m *observe.Metrics) (*orchestrator.Orchestrator, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	providers, err := BuildLLMProviders(cfg, reg)
	if err != nil {
		return nil, err
	}

	var loaderOpts []agent.LoaderOption
	if cfg.DefaultProvider != "" {
		loaderOpts = append(loaderOpts, agent.WithDefaultProvider(cfg.DefaultProvider))
	}
	defs := make([]agent.Definition, 0, len(cfg.Agents))
	for _, a := range cfg.Agents {
		capability := a.Capability
		if capability == "" {
			capability = agent.RequestResponse.String()
		}
		defs = append(defs, agent.Definition{
			Name:         a.Name,
			Description:  a.Description,
			Capability:   capability,
			Instructions: a.Instructions,
			Provider:     a.Provider,
			Temperature:  a.Temperature,
			MaxTokens:    a.MaxTokens,
		})
	}
	agents, err := agent.NewLoader(providers, loaderOpts...).Load(defs)
	if err != nil {
		return nil, fmt.Errorf("app: load agents: %w", err)
	}

	rules := make([]orchestrator.Rule, 0, len(cfg.Rules))
	for _, r := range cfg.Rules {
		rules = append(rules, orchestrator.Rule{Keywords: r.Keywords, Agents: r.Agents, Instructions: r.Instructions})
	}
	var ruleOpts []orchestrator.RuleOption
	if len(cfg.DefaultAgents) > 0 {
		ruleOpts = append(ruleOpts, orchestrator.WithDefaultAgents(cfg.DefaultAgents...))
	}
	if cfg.MatchThreshold > 0 {
		ruleOpts = append(ruleOpts, orchestrator.WithMatchThreshold(cfg.MatchThreshold))
	}
	ruleDecider := orchestrator.NewRuleDecider(rules, ruleOpts...)

	opts := []orchestrator.Option{
		orchestrator.WithBreakerConfig(breakerConfig("agent", cfg.Breaker)),
		orchestrator.WithMetrics(m),
	}
	if cfg.AgentTimeout > 0 {
		opts = append(opts, orchestrator.WithAgentTimeout(cfg.AgentTimeout))
	}
	if cfg.MaxParallel > 0 {
		opts = append(opts, orchestrator.WithMaxParallel(cfg.MaxParallel))
	}
	if cfg.HistorySize > 0 && cfg.HistoryAge > 0 {
		opts = append(opts, orchestrator.WithHistory(cfg.HistorySize, cfg.HistoryAge))
	}

	var decider orchestrator.Decider = ruleDecider
	if cfg.Decider == config.DeciderLLM {
		decider = orchestrator.NewLLMDecider(providers[cfg.DeciderProvider])
		opts = append(opts, orchestrator.WithFallbackDecider(ruleDecider))
	}

	slog.Info("orchestrator ready", "agents", agents.Len(), "rules", len(rules), "decider", cfg.Decider)
	return orchestrator.New(agents, decider, opts...), nil
}

func breakerConfig(name string, b config.BreakerConfig) resilience.CircuitBreakerConfig {
	return resilience.CircuitBreakerConfig{
		Name:         name,
		MaxFailures:  b.MaxFailures,
		ResetTimeout: b.ResetTimeout,
	}
}
