package health

import (
	"context"
	"fmt"

	"github.com/MrWong99/voicelink/internal/resilience"
)

// BreakerCheck fails while cb is open, i.e. while calls through it are being
// rejected without reaching the backend.
func BreakerCheck(name string, cb *resilience.CircuitBreaker) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if cb.State() == resilience.StateOpen {
				return fmt.Errorf("circuit %q open: %w", cb.Name(), resilience.ErrCircuitOpen)
			}
			return nil
		},
	}
}

// CapacityCheck fails when usage reports that no session slot is free.
func CapacityCheck(name string, usage func() (active, limit int)) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			active, limit := usage()
			if limit > 0 && active >= limit {
				return fmt.Errorf("at capacity: %d/%d sessions", active, limit)
			}
			return nil
		},
	}
}
