// Package resilience guards OCR engines with circuit breakers so an engine
// that keeps failing is skipped instead of being called for every report.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// State is the position of a breaker.
type State int

const (
	// StateClosed lets calls through.
	StateClosed State = iota
	// StateOpen rejects calls until the reset timeout elapses.
	StateOpen
	// StateHalfOpen lets one probe through to test recovery.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned without calling the engine while a breaker is open.
var ErrCircuitOpen = eris.New("resilience: circuit open")

// BreakerConfig controls a Breaker.
type BreakerConfig struct {
	// FailureThreshold consecutive tripping failures open the breaker.
	FailureThreshold int
	// ResetTimeout is how long an open breaker waits before a probe.
	ResetTimeout time.Duration
	// ShouldTrip decides whether an error counts as a failure. Nil means
	// DefaultShouldTrip.
	ShouldTrip func(err error) bool
}

// DefaultBreakerConfig returns the built-in thresholds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, ResetTimeout: time.Minute}
}

// DefaultShouldTrip counts transient failures and timeouts. Caller
// cancellation and permanent errors (a corrupt document, a 4xx) do not
// count against the engine.
func DefaultShouldTrip(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return IsTransient(err)
}

// Breaker is a consecutive-failure circuit breaker for one engine.
type Breaker struct {
	name string
	cfg  BreakerConfig

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time

	now func() time.Time
}

// NewBreaker creates a closed breaker named after the engine it guards.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.ShouldTrip == nil {
		cfg.ShouldTrip = DefaultShouldTrip
	}
	return &Breaker{name: name, cfg: cfg, now: time.Now}
}

// Name returns the guarded engine name.
func (b *Breaker) Name() string { return b.name }

// Call runs fn through the breaker. While open it returns ErrCircuitOpen
// without invoking fn.
func Call[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.admit(); err != nil {
		return zero, err
	}
	v, err := fn(ctx)
	b.record(err)
	return v, err
}

// State reports the breaker position, treating an expired open breaker as
// half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.moveTo(StateClosed)
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return nil
	}
	if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
		return eris.Wrapf(ErrCircuitOpen, "resilience: %s", b.name)
	}
	b.moveTo(StateHalfOpen)
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.cfg.ShouldTrip(err) {
		b.failures = 0
		b.moveTo(StateClosed)
		return
	}

	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.cfg.FailureThreshold {
		b.openedAt = b.now()
		b.moveTo(StateOpen)
	}
}

// moveTo must be called with mu held.
func (b *Breaker) moveTo(to State) {
	if b.state == to {
		return
	}
	zap.L().Warn("resilience: breaker state change",
		zap.String("engine", b.name),
		zap.Stringer("from", b.state),
		zap.Stringer("to", to),
		zap.Int("failures", b.failures),
	)
	b.state = to
}

// Registry holds one breaker per engine name.
type Registry struct {
	cfg BreakerConfig

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates an empty registry whose breakers share cfg.
func NewRegistry(cfg BreakerConfig) *Registry {
	return &Registry{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// For returns the breaker for engine, creating it on first use.
func (r *Registry) For(engine string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[engine]
	if !ok {
		b = NewBreaker(engine, r.cfg)
		r.breakers[engine] = b
	}
	return b
}

// Snapshot returns the state of every breaker, keyed by engine name.
func (r *Registry) Snapshot() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.State().String()
	}
	return out
}
