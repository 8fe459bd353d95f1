package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sells-group/bureau-cli/internal/config"
)

var errEngineDown = NewTransientError(errors.New("engine down"), 503)

func fail(_ context.Context) (string, error) { return "", errEngineDown }

func ok(_ context.Context) (string, error) { return "text", nil }

func TestBreaker_ClosedPassesThrough(t *testing.T) {
	b := NewBreaker("mistral", DefaultBreakerConfig())

	got, err := Call(context.Background(), b, ok)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "text" {
		t.Errorf("expected text, got %q", got)
	}
	if b.State() != StateClosed {
		t.Errorf("expected closed, got %s", b.State())
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewBreaker("mistral", BreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})

	for i := 0; i < 3; i++ {
		_, _ = Call(context.Background(), b, fail)
	}
	if b.State() != StateOpen {
		t.Fatalf("expected open after 3 failures, got %s", b.State())
	}

	called := false
	_, err := Call(context.Background(), b, func(_ context.Context) (string, error) {
		called = true
		return "", nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("engine must not be called while open")
	}
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b := NewBreaker("mistral", BreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})

	_, _ = Call(context.Background(), b, fail)
	_, _ = Call(context.Background(), b, fail)
	if b.Failures() != 2 {
		t.Fatalf("expected 2 failures, got %d", b.Failures())
	}

	_, _ = Call(context.Background(), b, ok)
	if b.Failures() != 0 {
		t.Errorf("expected count reset after success, got %d", b.Failures())
	}
}

func TestBreaker_PermanentErrorsDoNotTrip(t *testing.T) {
	b := NewBreaker("docsumo", BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})

	_, _ = Call(context.Background(), b, func(_ context.Context) (string, error) {
		return "", errors.New("ocr: docsumo returned 400: unreadable document")
	})
	_, _ = Call(context.Background(), b, func(_ context.Context) (string, error) {
		return "", context.Canceled
	})
	if b.State() != StateClosed {
		t.Errorf("expected closed, got %s", b.State())
	}
}

func TestBreaker_TimeoutTrips(t *testing.T) {
	b := NewBreaker("mistral", BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})

	_, _ = Call(context.Background(), b, func(_ context.Context) (string, error) {
		return "", context.DeadlineExceeded
	})
	if b.State() != StateOpen {
		t.Errorf("expected a timeout to open the breaker, got %s", b.State())
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	now := time.Now()
	b := NewBreaker("mistral", BreakerConfig{FailureThreshold: 2, ResetTimeout: 100 * time.Millisecond})
	b.now = func() time.Time { return now }

	_, _ = Call(context.Background(), b, fail)
	_, _ = Call(context.Background(), b, fail)
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	b.now = func() time.Time { return now.Add(200 * time.Millisecond) }
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half-open after timeout, got %s", b.State())
	}

	if _, err := Call(context.Background(), b, ok); err != nil {
		t.Fatalf("unexpected probe error: %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("expected closed after good probe, got %s", b.State())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	b := NewBreaker("mistral", BreakerConfig{FailureThreshold: 2, ResetTimeout: 100 * time.Millisecond})
	b.now = func() time.Time { return now }

	_, _ = Call(context.Background(), b, fail)
	_, _ = Call(context.Background(), b, fail)

	later := now.Add(200 * time.Millisecond)
	b.now = func() time.Time { return later }
	_, _ = Call(context.Background(), b, fail)

	if b.State() != StateOpen {
		t.Errorf("expected open after failed probe, got %s", b.State())
	}
	if b.Failures() != 3 {
		t.Errorf("expected 3 failures, got %d", b.Failures())
	}
}

func TestBreaker_Reset(t *testing.T) {
	b := NewBreaker("mistral", BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})
	_, _ = Call(context.Background(), b, fail)
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	b.Reset()
	if b.State() != StateClosed {
		t.Errorf("expected closed after reset, got %s", b.State())
	}
	if _, err := Call(context.Background(), b, ok); err != nil {
		t.Errorf("unexpected error after reset: %v", err)
	}
}

func TestBreaker_CustomShouldTrip(t *testing.T) {
	b := NewBreaker("pdftotext", BreakerConfig{
		FailureThreshold: 1,
		ShouldTrip:       func(err error) bool { return err != nil },
	})
	_, _ = Call(context.Background(), b, func(_ context.Context) (string, error) {
		return "", errors.New("exit status 1")
	})
	if b.State() != StateOpen {
		t.Errorf("expected open, got %s", b.State())
	}
}

func TestBreaker_ConcurrentCalls(t *testing.T) {
	t.Parallel()
	b := NewBreaker("mistral", BreakerConfig{FailureThreshold: 1000, ResetTimeout: time.Minute})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				_, _ = Call(context.Background(), b, fail)
				return
			}
			_, _ = Call(context.Background(), b, ok)
		}()
	}
	wg.Wait()
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})

	if r.For("mistral") != r.For("mistral") {
		t.Error("expected the same breaker for the same engine")
	}
	if r.For("mistral") == r.For("pdftotext") {
		t.Error("expected distinct breakers per engine")
	}

	_, _ = Call(context.Background(), r.For("mistral"), fail)
	snap := r.Snapshot()
	if snap["mistral"] != "open" {
		t.Errorf("expected mistral=open, got %s", snap["mistral"])
	}
	if snap["pdftotext"] != "closed" {
		t.Errorf("expected pdftotext=closed, got %s", snap["pdftotext"])
	}
}

func TestFromConfig(t *testing.T) {
	got := FromConfig(config.BreakerConfig{FailureThreshold: 3, ResetTimeoutSecs: 10})
	if got.FailureThreshold != 3 || got.ResetTimeout != 10*time.Second {
		t.Errorf("unexpected config: %+v", got)
	}

	def := FromConfig(config.BreakerConfig{})
	if def.FailureThreshold != 5 || def.ResetTimeout != time.Minute {
		t.Errorf("expected defaults, got %+v", def)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
