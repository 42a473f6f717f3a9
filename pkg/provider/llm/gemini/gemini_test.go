package gemini

import (
	"context"
	"testing"

	"google.golang.org/genai"

	"github.com/MrWong99/voicelink/pkg/provider/llm"
)

func TestBuildContents_MapsRoles(t *testing.T) {
	t.Parallel()

	contents, err := buildContents([]llm.Message{
		{Role: llm.RoleUser, Content: "hi"},
		{Role: llm.RoleAssistant, Content: "hello"},
	})
	if err != nil {
		t.Fatalf("buildContents: %v", err)
	}
	if len(contents) != 2 {
		t.Fatalf("contents = %d, want 2", len(contents))
	}
	if contents[0].Role != string(genai.RoleUser) || contents[0].Parts[0].Text != "hi" {
		t.Errorf("first = %+v", contents[0])
	}
	if contents[1].Role != string(genai.RoleModel) {
		t.Errorf("assistant role = %q, want model", contents[1].Role)
	}

	if _, err := buildContents(nil); err == nil {
		t.Error("empty history accepted")
	}
	if _, err := buildContents([]llm.Message{{Role: "tool"}}); err == nil {
		t.Error("unknown role accepted")
	}
}

func TestBuildConfig(t *testing.T) {
	t.Parallel()

	cfg := buildConfig(llm.Request{SystemPrompt: "decide", Temperature: 0.5, MaxTokens: 200})
	if cfg.SystemInstruction == nil || cfg.SystemInstruction.Parts[0].Text != "decide" {
		t.Errorf("SystemInstruction = %+v", cfg.SystemInstruction)
	}
	if cfg.Temperature == nil || *cfg.Temperature != 0.5 {
		t.Errorf("Temperature = %v", cfg.Temperature)
	}
	if cfg.MaxOutputTokens != 200 {
		t.Errorf("MaxOutputTokens = %d", cfg.MaxOutputTokens)
	}

	empty := buildConfig(llm.Request{})
	if empty.SystemInstruction != nil || empty.Temperature != nil || empty.MaxOutputTokens != 0 {
		t.Errorf("zero request produced %+v", empty)
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New(context.Background(), "", "gemini-2.0-flash"); err == nil {
		t.Error("empty key accepted")
	}
	if _, err := New(context.Background(), "k", ""); err == nil {
		t.Error("empty model accepted")
	}
}
