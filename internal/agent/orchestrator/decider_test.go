package orchestrator

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/voicelink/internal/agent"
	"github.com/MrWong99/voicelink/internal/agent/mock"
	"github.com/MrWong99/voicelink/pkg/provider/llm"
	llmmock "github.com/MrWong99/voicelink/pkg/provider/llm/mock"
)

// ── RuleDecider ──────────────────────────────────────────────────────────────

func TestRuleDecider(t *testing.T) {
	t.Parallel()

	d := NewRuleDecider([]Rule{
		{Keywords: []string{"weather", "forecast"}, Agents: []string{"weather"}},
		{Keywords: []string{"concise", "shorter"}, Agents: []string{"concise"}, Instructions: "be concise"},
		{Keywords: []string{"train ticket"}, Agents: []string{"travel"}},
		{Keywords: []string{"go"}, Agents: []string{"short"}},
	}, WithDefaultAgents("fallback"))

	tests := []struct {
		name      string
		text      string
		want      []string
		wantInstr string
	}{
		{name: "exact keyword", text: "What's the weather like?", want: []string{"weather"}},
		{name: "case insensitive", text: "FORECAST for tomorrow", want: []string{"weather"}},
		{name: "misspelled keyword", text: "how is the wether today", want: []string{"weather"}},
		{name: "instructions", text: "please be more concise", want: []string{"concise"}, wantInstr: "be concise"},
		{name: "multiple rules in rule order", text: "shorter answers and the weather", want: []string{"weather", "concise"}, wantInstr: "be concise"},
		{name: "phrase", text: "I need a train ticket to Hamburg", want: []string{"travel"}},
		{name: "phrase needs both words", text: "I need a ticket", want: []string{"fallback"}},
		{name: "short keyword exact only", text: "let's go", want: []string{"short"}},
		{name: "short keyword no fuzzy", text: "let's do", want: []string{"fallback"}},
		{name: "unrelated word", text: "whatever you think", want: []string{"fallback"}},
		{name: "no match uses defaults", text: "tell me a joke", want: []string{"fallback"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := d.Decide(context.Background(), Input{Text: tt.text}, nil)
			if err != nil {
				t.Fatalf("Decide: %v", err)
			}
			if !slices.Equal(got.Agents, tt.want) {
				t.Errorf("agents = %v, want %v", got.Agents, tt.want)
			}
			if got.InstructionUpdate != tt.wantInstr {
				t.Errorf("instruction = %q, want %q", got.InstructionUpdate, tt.wantInstr)
			}
		})
	}
}

func TestTokenize(t *testing.T) {
	t.Parallel()

	got := tokenize("Hey, what's the WEATHER in São Paulo?!")
	want := []string{"hey", "what's", "the", "weather", "in", "são", "paulo"}
	if !slices.Equal(got, want) {
		t.Errorf("tokenize = %v, want %v", got, want)
	}
}

// ── LLMDecider ───────────────────────────────────────────────────────────────

func TestParseDecision(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		content   string
		want      []string
		wantInstr string
		wantErr   bool
	}{
		{name: "plain", content: `{"agents":["weather"],"instruction_update":""}`, want: []string{"weather"}},
		{name: "code fence", content: "```json\n{\"agents\": [\"a\", \"b\"]}\n```", want: []string{"a", "b"}},
		{name: "prose around", content: `Sure! {"agents": [], "instruction_update": " be concise "} Hope that helps.`, wantInstr: "be concise"},
		{name: "blank names dropped", content: `{"agents": ["", " x "]}`, want: []string{"x"}},
		{name: "no object", content: "I cannot help with that.", wantErr: true},
		{name: "broken json", content: `{"agents": [}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseDecision(tt.content)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if !slices.Equal(got.Agents, tt.want) {
				t.Errorf("agents = %v, want %v", got.Agents, tt.want)
			}
			if got.InstructionUpdate != tt.wantInstr {
				t.Errorf("instruction = %q, want %q", got.InstructionUpdate, tt.wantInstr)
			}
		})
	}

	if _, err := parseDecision("nothing"); !errors.Is(err, ErrNoDecision) {
		t.Errorf("err = %v, want ErrNoDecision", err)
	}
}

func TestLLMDecider_PromptListsAgents(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{Response: &llm.Response{Content: `{"agents":["weather"]}`}}
	d := NewLLMDecider(p)
	agents := []agent.Agent{
		&mock.Responder{NameResult: "weather", DescriptionResult: "reports the weather"},
		&mock.Instructor{NameResult: "concise", DescriptionResult: "short answers"},
	}

	got, err := d.Decide(context.Background(), Input{Text: "is it raining?"}, agents)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if !slices.Equal(got.Agents, []string{"weather"}) {
		t.Errorf("agents = %v", got.Agents)
	}

	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(calls))
	}
	for _, want := range []string{"- weather (request_response): reports the weather", "- concise (realtime): short answers"} {
		if !strings.Contains(calls[0].SystemPrompt, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
	if calls[0].Messages[0].Content != "is it raining?" {
		t.Errorf("user message = %q", calls[0].Messages[0].Content)
	}
}

func TestLLMDecider_ProviderError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	d := NewLLMDecider(&llmmock.Provider{Err: boom})
	if _, err := d.Decide(context.Background(), Input{Text: "x"}, nil); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
}
