package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/voicelink/internal/resilience"
)

func ok(context.Context) error { return nil }

func failing(msg string) func(context.Context) error {
	return func(context.Context) error { return errors.New(msg) }
}

func readyz(t *testing.T, h *Handler, ctx context.Context) (int, Report) {
	t.Helper()
	req := httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	var body Report
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	h := New(Checker{Name: "never", Check: failing("unused")})
	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Healthz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: StatusOK,
			wantChecks: map[string]string{},
		},
		{
			name: "all pass",
			checkers: []Checker{
				{Name: "upstream", Check: ok},
				{Name: "store", Check: ok},
			},
			wantCode:   http.StatusOK,
			wantStatus: StatusOK,
			wantChecks: map[string]string{"upstream": StatusOK, "store": StatusOK},
		},
		{
			name: "required failure",
			checkers: []Checker{
				{Name: "upstream", Check: failing("circuit open")},
				{Name: "store", Check: ok},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: StatusFail,
			wantChecks: map[string]string{"upstream": StatusFail, "store": StatusOK},
		},
		{
			name: "optional failure degrades",
			checkers: []Checker{
				{Name: "upstream", Check: ok},
				{Name: "store", Check: failing("connection refused"), Optional: true},
			},
			wantCode:   http.StatusOK,
			wantStatus: StatusDegraded,
			wantChecks: map[string]string{"upstream": StatusOK, "store": StatusFail},
		},
		{
			name: "required beats optional",
			checkers: []Checker{
				{Name: "capacity", Check: failing("full")},
				{Name: "store", Check: failing("down"), Optional: true},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: StatusFail,
			wantChecks: map[string]string{"capacity": StatusFail, "store": StatusFail},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code, body := readyz(t, New(tt.checkers...), context.Background())
			if code != tt.wantCode {
				t.Errorf("code = %d, want %d", code, tt.wantCode)
			}
			if body.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tt.wantStatus)
			}
			if len(body.Checks) != len(tt.wantChecks) {
				t.Errorf("checks = %+v, want %d entries", body.Checks, len(tt.wantChecks))
			}
			for name, want := range tt.wantChecks {
				if got := body.Checks[name].Status; got != want {
					t.Errorf("check %q = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestReadyz_ReportsErrorText(t *testing.T) {
	t.Parallel()

	_, body := readyz(t, New(Checker{Name: "store", Check: failing("connection refused")}), context.Background())
	if got := body.Checks["store"].Error; got != "connection refused" {
		t.Errorf("error = %q", got)
	}
}

func TestReadyz_RunsChecksConcurrently(t *testing.T) {
	t.Parallel()

	var running, peak atomic.Int32
	slow := func(context.Context) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		running.Add(-1)
		return nil
	}
	h := New(
		Checker{Name: "a", Check: slow},
		Checker{Name: "b", Check: slow},
		Checker{Name: "c", Check: slow},
	)
	readyz(t, h, context.Background())
	if peak.Load() < 2 {
		t.Errorf("peak concurrency = %d, want checks to overlap", peak.Load())
	}
}

func TestReadyz_CancelledRequest(t *testing.T) {
	t.Parallel()

	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	code, _ := readyz(t, h, ctx)
	if code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want 503", code)
	}
}

func TestRegister(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	New(Checker{Name: "x", Check: ok}).Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		t.Run(path, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want 200", rec.Code)
			}
		})
	}
}

func TestBreakerCheck(t *testing.T) {
	t.Parallel()

	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "upstream",
		MaxFailures:  1,
		ResetTimeout: time.Hour,
	})
	check := BreakerCheck("upstream", cb)
	if err := check.Check(context.Background()); err != nil {
		t.Fatalf("closed breaker: %v", err)
	}

	_ = cb.Execute(func() error { return errors.New("dial failed") })
	err := check.Check(context.Background())
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("open breaker err = %v, want ErrCircuitOpen", err)
	}
}

func TestCapacityCheck(t *testing.T) {
	t.Parallel()

	tests := []struct {
		active, limit int
		wantErr       bool
	}{
		{active: 0, limit: 10},
		{active: 9, limit: 10},
		{active: 10, limit: 10, wantErr: true},
		{active: 3, limit: 0},
	}
	for _, tt := range tests {
		check := CapacityCheck("capacity", func() (int, int) { return tt.active, tt.limit })
		err := check.Check(context.Background())
		if (err != nil) != tt.wantErr {
			t.Errorf("%d/%d: err = %v, wantErr %v", tt.active, tt.limit, err, tt.wantErr)
		}
	}
}
