package agent_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/voicelink/internal/agent"
	"github.com/MrWong99/voicelink/pkg/provider/llm"
	llmmock "github.com/MrWong99/voicelink/pkg/provider/llm/mock"
)

func TestLoader_Load(t *testing.T) {
	t.Parallel()

	l := agent.NewLoader(map[string]llm.Provider{"openai": &llmmock.Provider{}})
	reg, err := l.Load([]agent.Definition{
		{Name: "concise", Capability: "realtime", Instructions: "be concise"},
		{Name: "weather", Capability: "request_response", Instructions: "You report the weather."},
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	a, ok := reg.Get("concise")
	if !ok || a.Capability() != agent.Realtime {
		t.Fatalf("concise = %v, %v", a, ok)
	}
	if in, ok := a.(agent.Instructor); !ok || in.Instructions() != "be concise" {
		t.Errorf("concise is not an Instructor with its instructions")
	}
	w, _ := reg.Get("weather")
	if _, ok := w.(agent.Responder); !ok {
		t.Errorf("weather is %T, want Responder", w)
	}
}

func TestLoader_CollectsAllErrors(t *testing.T) {
	t.Parallel()

	l := agent.NewLoader(map[string]llm.Provider{
		"a": &llmmock.Provider{},
		"b": &llmmock.Provider{},
	})
	_, err := l.Load([]agent.Definition{
		{Name: "x", Capability: "batch"},
		{Name: "y", Capability: "request_response"},
		{Name: "z", Capability: "realtime"},
	})
	if err == nil {
		t.Fatal("Load succeeded")
	}
	for _, want := range []string{"agents[0]", "agents[1]", "agents[2]"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %s", err, want)
		}
	}
}

func TestLoader_DefaultProvider(t *testing.T) {
	t.Parallel()

	l := agent.NewLoader(map[string]llm.Provider{
		"a": &llmmock.Provider{},
		"b": &llmmock.Provider{},
	}, agent.WithDefaultProvider("b"))
	if _, err := l.Load([]agent.Definition{{Name: "y", Capability: "request_response"}}); err != nil {
		t.Fatalf("Load with default provider: %v", err)
	}
}
