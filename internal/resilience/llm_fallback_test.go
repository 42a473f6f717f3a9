package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/voicelink/pkg/provider/llm"
	llmmock "github.com/MrWong99/voicelink/pkg/provider/llm/mock"
)

func TestLLMFallback_PrimarySuccess(t *testing.T) {
	t.Parallel()

	primary := &llmmock.Provider{ProviderName: "primary", Response: &llm.Response{Content: "from primary"}}
	secondary := &llmmock.Provider{ProviderName: "secondary", Response: &llm.Response{Content: "from secondary"}}

	fb := NewLLMFallback(CircuitBreakerConfig{MaxFailures: 3}, primary, secondary)
	resp, err := fb.Complete(context.Background(), llm.UserPrompt("", "hi"))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "from primary" {
		t.Errorf("content = %q", resp.Content)
	}
	if len(secondary.Calls()) != 0 {
		t.Errorf("secondary called %d times, want 0", len(secondary.Calls()))
	}
	if fb.Name() != "primary" {
		t.Errorf("Name = %q", fb.Name())
	}
}

func TestLLMFallback_Failover(t *testing.T) {
	t.Parallel()

	primary := &llmmock.Provider{ProviderName: "primary", Err: errors.New("primary down")}
	secondary := &llmmock.Provider{ProviderName: "secondary", Response: &llm.Response{Content: "from secondary"}}

	fb := NewLLMFallback(CircuitBreakerConfig{MaxFailures: 3}, primary, secondary)
	resp, err := fb.Complete(context.Background(), llm.UserPrompt("", "hi"))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "from secondary" {
		t.Errorf("content = %q", resp.Content)
	}
	if len(fb.Breakers()) != 2 {
		t.Errorf("breakers = %d, want 2", len(fb.Breakers()))
	}
}
