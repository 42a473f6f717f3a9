// Package orchestrator routes a finalized user turn to one or more backend
// agents and turns their contributions into a [Result]: routed text output
// and an optional instruction update for the live session.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voicelink/internal/agent"
	"github.com/MrWong99/voicelink/internal/observe"
	"github.com/MrWong99/voicelink/internal/resilience"
	"github.com/MrWong99/voicelink/pkg/memory"
)

const (
	defaultHistorySize     = 20
	defaultHistoryDuration = 5 * time.Minute
	defaultAgentTimeout    = 20 * time.Second
	defaultMaxParallel     = 4
	defaultOutputSeparator = "\n\n"
)

// Input is one finalized user turn.
type Input struct {
	SessionID string
	Text      string
}

// Result is what an invocation contributes to the session. Empty strings
// mean "absent".
type Result struct {
	// RoutedOutput is the joined reply of the request/response agents.
	RoutedOutput string

	// Agent names the agents that produced RoutedOutput, comma separated.
	Agent string

	// InstructionUpdate is the new instruction text for the live session.
	InstructionUpdate string
}

// Empty reports whether r carries nothing to apply.
func (r Result) Empty() bool {
	return r.RoutedOutput == "" && r.InstructionUpdate == ""
}

// Orchestrator manages the agents of one voice session.
//
// All exported methods are safe for concurrent use.
type Orchestrator struct {
	registry *agent.Registry
	decider  Decider
	fallback Decider
	history  *History
	metrics  *observe.Metrics

	breakerCfg   resilience.CircuitBreakerConfig
	agentTimeout time.Duration
	maxParallel  int
	separator    string

	mu               sync.Mutex
	breakers         map[string]*resilience.CircuitBreaker
	lastInstructions string
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithFallbackDecider is consulted when the primary decider fails.
func WithFallbackDecider(d Decider) Option {
	return func(o *Orchestrator) { o.fallback = d }
}

// WithHistory bounds the shared history buffer. Defaults: 20 entries, 5 minutes.
func WithHistory(size int, age time.Duration) Option {
	return func(o *Orchestrator) { o.history = NewHistory(size, age) }
}

// WithBreakerConfig sets the circuit breaker template applied per agent.
// The Name field is replaced with the agent name.
func WithBreakerConfig(cfg resilience.CircuitBreakerConfig) Option {
	return func(o *Orchestrator) { o.breakerCfg = cfg }
}

// WithAgentTimeout bounds a single agent call. Default 20s.
func WithAgentTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.agentTimeout = d }
}

// WithMaxParallel bounds the number of concurrent agent calls. Default 4.
func WithMaxParallel(n int) Option {
	return func(o *Orchestrator) { o.maxParallel = n }
}

// WithMetrics records invocation metrics on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates an Orchestrator over the agents in reg, using decider to
// select participants.
func New(reg *agent.Registry, decider Decider, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:     reg,
		decider:      decider,
		history:      NewHistory(defaultHistorySize, defaultHistoryDuration),
		agentTimeout: defaultAgentTimeout,
		maxParallel:  defaultMaxParallel,
		separator:    defaultOutputSeparator,
		breakers:     make(map[string]*resilience.CircuitBreaker),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}

// Registry returns the agent registry.
func (o *Orchestrator) Registry() *agent.Registry { return o.registry }

// Observe records a finalized entry that did not come from this
// orchestrator, such as a realtime assistant reply, in the shared history.
func (o *Orchestrator) Observe(e memory.TranscriptEntry) {
	o.history.Add(e)
}

// Reset forgets the shared history and the last applied instructions. Call
// it when a new live session starts.
func (o *Orchestrator) Reset() {
	o.history.Clear()
	o.mu.Lock()
	o.lastInstructions = ""
	o.mu.Unlock()
}

// Invoke runs one user turn through the decider and the selected agents.
//
// Request/response agents are called concurrently, each through its own
// circuit breaker. A failing agent is logged and left out of the output;
// Invoke fails only when every selected agent failed and there is no
// instruction update either.
func (o *Orchestrator) Invoke(ctx context.Context, in Input) (res Result, err error) {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "orchestrator.invoke")
	defer span.End()
	defer func() { o.metrics.RecordOrchestration(ctx, time.Since(start), err) }()

	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("orchestrator: %w", err)
	}
	in.Text = strings.TrimSpace(in.Text)
	if in.Text == "" {
		return Result{}, nil
	}

	active := o.registry.Active()
	dec, err := o.decide(ctx, in, active)
	if err != nil {
		return Result{}, err
	}

	var (
		instructors []agent.Instructor
		responders  []agent.Responder
	)
	for _, a := range selectAgents(dec.Agents, active) {
		switch v := a.(type) {
		case agent.Responder:
			responders = append(responders, v)
		case agent.Instructor:
			instructors = append(instructors, v)
		default:
			slog.Warn("orchestrator: agent has no usable capability", "agent", a.Name(), "capability", a.Capability())
		}
	}

	now := time.Now()
	res.InstructionUpdate = o.instructionUpdate(dec, instructors)

	replies, names, errs := o.fanOut(ctx, in, responders)
	o.history.Add(memory.TranscriptEntry{Role: memory.RoleUser, Text: in.Text, Timestamp: now})
	for i, reply := range replies {
		o.history.Add(memory.TranscriptEntry{Role: memory.RoleAssistant, Text: reply, Agent: names[i], Timestamp: time.Now()})
	}
	res.RoutedOutput = strings.Join(replies, o.separator)
	res.Agent = strings.Join(names, ", ")

	if len(errs) > 0 {
		joined := errors.Join(errs...)
		if len(replies) == 0 && res.InstructionUpdate == "" {
			return Result{}, fmt.Errorf("orchestrator: all agents failed: %w", joined)
		}
		slog.Warn("orchestrator: some agents failed", "session_id", in.SessionID, "failed", len(errs), "err", joined)
	}
	return res, nil
}

func (o *Orchestrator) decide(ctx context.Context, in Input, active []agent.Agent) (Decision, error) {
	dec, err := o.decider.Decide(ctx, in, active)
	if err == nil {
		return dec, nil
	}
	if o.fallback == nil || ctx.Err() != nil {
		return Decision{}, fmt.Errorf("orchestrator: decide: %w", err)
	}
	slog.Warn("orchestrator: decider failed, using fallback", "session_id", in.SessionID, "err", err)
	dec, ferr := o.fallback.Decide(ctx, in, active)
	if ferr != nil {
		return Decision{}, fmt.Errorf("orchestrator: decide: %w", errors.Join(err, ferr))
	}
	return dec, nil
}

// instructionUpdate returns the instructions to apply, or "" when no realtime
// agent was selected or the same instructions are already live.
func (o *Orchestrator) instructionUpdate(dec Decision, instructors []agent.Instructor) string {
	if len(instructors) == 0 {
		return ""
	}
	update := dec.InstructionUpdate
	if update == "" {
		update = instructors[0].Instructions()
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if update == o.lastInstructions {
		return ""
	}
	o.lastInstructions = update
	return update
}

// fanOut calls every responder concurrently and returns the non-empty
// replies with their agent names, in selection order.
func (o *Orchestrator) fanOut(ctx context.Context, in Input, responders []agent.Responder) (replies, names []string, errs []error) {
	if len(responders) == 0 {
		return nil, nil, nil
	}

	out := make([]string, len(responders))
	outErr := make([]error, len(responders))

	var g errgroup.Group
	g.SetLimit(o.maxParallel)
	for i, r := range responders {
		req := agent.Request{
			SessionID: in.SessionID,
			Text:      in.Text,
			History:   o.history.Recent(r.Name(), defaultHistorySize),
		}
		g.Go(func() error {
			out[i], outErr[i] = o.call(ctx, r, req)
			return nil
		})
	}
	_ = g.Wait()

	for i, r := range responders {
		switch {
		case outErr[i] != nil:
			errs = append(errs, fmt.Errorf("agent %q: %w", r.Name(), outErr[i]))
		case out[i] != "":
			replies = append(replies, out[i])
			names = append(names, r.Name())
		}
	}
	return replies, names, errs
}

func (o *Orchestrator) call(ctx context.Context, r agent.Responder, req agent.Request) (string, error) {
	reply, err := resilience.Call(ctx, o.breaker(r.Name()), func(ctx context.Context) (string, error) {
		actx, cancel := context.WithTimeout(ctx, o.agentTimeout)
		defer cancel()
		return r.Respond(actx, req)
	})
	o.metrics.RecordProviderRequest(ctx, r.Name(), "agent", observe.Status(err))
	return strings.TrimSpace(reply), err
}

// breaker returns the circuit breaker of the named agent, creating it on
// first use.
func (o *Orchestrator) breaker(name string) *resilience.CircuitBreaker {
	o.mu.Lock()
	defer o.mu.Unlock()
	cb, ok := o.breakers[name]
	if !ok {
		cfg := o.breakerCfg
		cfg.Name = "agent/" + name
		cb = resilience.NewCircuitBreaker(cfg)
		o.breakers[name] = cb
	}
	return cb
}

// selectAgents resolves names against active, dropping unknown, muted and
// duplicate names while keeping the decider's order.
func selectAgents(names []string, active []agent.Agent) []agent.Agent {
	byName := make(map[string]agent.Agent, len(active))
	for _, a := range active {
		byName[a.Name()] = a
	}
	out := make([]agent.Agent, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		a, ok := byName[n]
		if !ok || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, a)
	}
	return out
}
