package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

var breakerNopLogger = zerolog.Nop()

// ErrOpenCircuit is returned when the circuit breaker refuses a request.
var ErrOpenCircuit = errors.New("resilience: circuit breaker open")

// State represents the current breaker state.
type State int

const (
	// Closed accepts all requests and tracks failures.
	Closed State = iota
	// Open rejects requests until the cool-off period expires.
	Open
	// HalfOpen allows a limited number of probes to determine recovery.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// TransitionHook observes breaker state changes. It runs outside the breaker
// lock, so it may issue requests that go back through the breaker; a hook that
// fires work should hand it off to a goroutine to avoid blocking the caller
// whose request triggered the transition.
type TransitionHook func(from, to State)

// Breaker implements a simple failure-ratio circuit breaker guarding the one
// checkout backend this client talks to. An open breaker is classified
// upstream as a connectivity loss, which routes checkouts into the offline
// retry queue; the close transition is the client's connectivity-restored
// signal and is surfaced through the transition hook.
type Breaker struct {
	mu           sync.Mutex
	state        State
	failures     int
	successes    int
	minRequests  int
	failureRatio float64
	openedAt     time.Time
	openFor      time.Duration
	logger       *zerolog.Logger
	hook         TransitionHook
}

// NewBreaker constructs a breaker that opens when the rolling failure ratio
// exceeds the configured threshold once the minimum number of requests is
// observed.
func NewBreaker(minRequests int, failureRatio float64, openFor time.Duration) *Breaker {
	if minRequests <= 0 {
		minRequests = 1
	}
	if failureRatio <= 0 {
		failureRatio = 0.5
	}
	if failureRatio > 1 {
		failureRatio = 1
	}
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	return &Breaker{
		state:        Closed,
		minRequests:  minRequests,
		failureRatio: failureRatio,
		openFor:      openFor,
	}
}

// WithLogger configures the logger used for transition events.
func (b *Breaker) WithLogger(logger zerolog.Logger) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger = &logger
	return b
}

// WithTransitionHook registers the state-change observer.
func (b *Breaker) WithTransitionHook(hook TransitionHook) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hook = hook
	return b
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a request is permitted in the current state. When the
// breaker is open it only permits a request after the cool-off period and moves
// into half-open to sample the downstream dependency.
func (b *Breaker) Allow(ctx context.Context) bool {
	b.mu.Lock()
	allowed := true
	var change *transition
	if b.state == Open {
		if time.Since(b.openedAt) >= b.openFor {
			change = b.changeStateLocked(HalfOpen)
		} else {
			allowed = false
		}
	}
	b.mu.Unlock()
	b.afterTransition(ctx, change)
	return allowed
}

// Report records the outcome of a request and transitions the state machine
// when the configured thresholds are exceeded.
func (b *Breaker) Report(ctx context.Context, success bool) {
	b.mu.Lock()
	change := b.reportLocked(success)
	b.mu.Unlock()
	b.afterTransition(ctx, change)
}

func (b *Breaker) reportLocked(success bool) *transition {
	switch b.state {
	case Open:
		// Ignore reports while open.
		return nil
	case HalfOpen:
		if success {
			return b.changeStateLocked(Closed)
		}
		return b.changeStateLocked(Open)
	}

	if success {
		b.successes++
	} else {
		b.failures++
	}

	total := b.failures + b.successes
	if total < b.minRequests {
		return nil
	}
	ratio := float64(b.failures) / float64(total)
	if ratio >= b.failureRatio {
		return b.changeStateLocked(Open)
	}
	if total > b.minRequests*2 {
		// prevent unbounded growth of counters
		b.successes = int(math.Ceil(float64(b.successes) * 0.5))
		b.failures = int(math.Ceil(float64(b.failures) * 0.5))
	}
	return nil
}

// Backoff returns an exponential backoff duration for the provided attempt.
// Jitter is expressed as a fraction (e.g. 0.2 == 20%).
func Backoff(base time.Duration, attempt int, jitterPct float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	d := base * time.Duration(1<<uint(attempt-1))
	if jitterPct <= 0 {
		return d
	}
	jitter := float64(d) * jitterPct
	delta := (rand.Float64()*2 - 1) * jitter
	return d + time.Duration(delta)
}

type transition struct {
	from, to State
	hook     TransitionHook
}

func (b *Breaker) changeStateLocked(next State) *transition {
	prev := b.state
	if prev == next {
		return nil
	}
	b.state = next
	if next == Open {
		b.openedAt = time.Now()
	}
	if next == Closed {
		b.openedAt = time.Time{}
	}
	b.failures = 0
	b.successes = 0
	if BreakerState != nil {
		BreakerState.Set(stateGaugeValue(next))
	}
	return &transition{from: prev, to: next, hook: b.hook}
}

// afterTransition records and announces a state change. It runs without the
// lock so the hook may call back into the breaker.
func (b *Breaker) afterTransition(ctx context.Context, change *transition) {
	if change == nil {
		return
	}
	if BreakerTransitions != nil {
		BreakerTransitions.WithLabelValues(change.from.String(), change.to.String()).Inc()
	}
	if change.to == Open && BreakerOpenedTotal != nil {
		BreakerOpenedTotal.Inc()
	}
	logger := b.loggerFor(ctx)
	traceID := traceIDFromContext(ctx)
	evt := logger.Info().Str("from_state", change.from.String()).Str("to_state", change.to.String())
	if traceID != "" {
		evt = evt.Str("trace_id", traceID)
	}
	evt.Msg("breaker_transition")
	if change.hook != nil {
		change.hook(change.from, change.to)
	}
}

func (b *Breaker) loggerFor(ctx context.Context) *zerolog.Logger {
	if ctxLogger := zerolog.Ctx(ctx); ctxLogger != nil {
		logger := ctxLogger.With().Logger()
		return &logger
	}
	if b.logger == nil {
		return &breakerNopLogger
	}
	return b.logger
}

func stateGaugeValue(state State) float64 {
	switch state {
	case Closed:
		return 0
	case Open:
		return 1
	case HalfOpen:
		return 2
	default:
		return -1
	}
}

func traceIDFromContext(ctx context.Context) string {
	span := trace.SpanContextFromContext(ctx)
	if span.IsValid() {
		return span.TraceID().String()
	}
	return ""
}
