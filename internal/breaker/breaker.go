// Package breaker provides the circuit breaker and runtime feature gate that guard the
// enhancement paths (graph predictions and the vector search leg).
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/models"
)

// ErrOpen is returned when the circuit is open or a half-open probe is already in flight.
var ErrOpen = fmt.Errorf("circuit open: %w", models.ErrUnavailable)

// errProbeAbandoned is the cause logged when a half-open probe outlives the cool-down.
var errProbeAbandoned = errors.New("half-open probe did not complete within the cool-down")

// State is the circuit state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Settings configures a Breaker. Zero values fall back to the defaults below.
type Settings struct {
	// FailureThreshold is the number of consecutive failures within Window that opens the circuit.
	FailureThreshold int
	// Window bounds how far apart the consecutive failures may be.
	Window time.Duration
	// Cooldown is how long the circuit stays open before a probe is allowed.
	Cooldown time.Duration
	// MaxCooldown caps the cool-down after repeated failed probes.
	MaxCooldown time.Duration
	// BackoffMultiplier grows the cool-down after each failed probe; values <= 1 disable backoff.
	BackoffMultiplier float64
}

const (
	defaultFailureThreshold = 5
	defaultWindow           = time.Minute
	defaultCooldown         = 30 * time.Second
)

func (s Settings) withDefaults() Settings {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = defaultFailureThreshold
	}
	if s.Window <= 0 {
		s.Window = defaultWindow
	}
	if s.Cooldown <= 0 {
		s.Cooldown = defaultCooldown
	}
	if s.MaxCooldown < s.Cooldown {
		s.MaxCooldown = s.Cooldown
	}
	return s
}

// Breaker is a closed/open/half-open circuit breaker. It is safe for concurrent use.
type Breaker struct {
	name     string
	settings Settings
	now      func() time.Time
	logger   *zap.Logger

	mu       sync.Mutex
	state    State
	failures []time.Time // failure times since the last success, oldest first
	openedAt time.Time
	cooldown time.Duration
	probing  bool
	// probeID identifies the admitted probe; results of abandoned probes are ignored.
	probeID      uint64
	probeStarted time.Time
	rejected     int64
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock sets the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// WithLogger sets a logger for state transitions.
func WithLogger(l *zap.Logger) Option {
	return func(b *Breaker) { b.logger = l }
}

// New creates a closed breaker.
func New(name string, settings Settings, opts ...Option) *Breaker {
	settings = settings.withDefaults()
	b := &Breaker{
		name:     name,
		settings: settings,
		now:      time.Now,
		logger:   zap.NewNop(),
		cooldown: settings.Cooldown,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the breaker's name.
func (b *Breaker) Name() string { return b.name }

// Allow reports whether a call may proceed. When it may, the returned done func must be
// called exactly once with the call's error (nil for success).
func (b *Breaker) Allow() (done func(err error), err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	probe := false
	switch b.state {
	case StateOpen:
		if now.Sub(b.openedAt) < b.cooldown {
			b.rejected++
			return nil, ErrOpen
		}
		b.transitionLocked(StateHalfOpen)
		probe = true
	case StateHalfOpen:
		if b.probing {
			if now.Sub(b.probeStarted) >= b.cooldown {
				// The probe hung; count it as failed so a later call can probe again.
				b.probing = false
				b.probeID++
				b.cooldown = b.nextCooldown()
				b.openLocked(now, errProbeAbandoned)
			}
			b.rejected++
			return nil, ErrOpen
		}
		probe = true
	}

	var id uint64
	if probe {
		b.probing = true
		b.probeID++
		b.probeStarted = now
		id = b.probeID
	}
	var once sync.Once
	return func(err error) {
		once.Do(func() { b.record(probe, id, err) })
	}, nil
}

// Execute runs fn if the circuit allows it and records the outcome.
// A cancellation by the caller's own context is not counted as a failure, nor is a failure
// replayed from a cache (models.ErrCachedFailure).
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	done, err := b.Allow()
	if err != nil {
		return err
	}
	err = fn(ctx)
	if err != nil && errors.Is(err, context.Canceled) && ctx.Err() != nil {
		done(context.Canceled)
		return err
	}
	done(err)
	return err
}

func (b *Breaker) record(probe bool, id uint64, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		if id != b.probeID {
			// Abandoned probe; its outcome was already counted.
			return
		}
		b.probing = false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, models.ErrCachedFailure) {
		// No evidence about the dependency either way.
		return
	}

	now := b.now()
	if probe {
		if err == nil {
			b.failures = b.failures[:0]
			b.cooldown = b.settings.Cooldown
			b.transitionLocked(StateClosed)
			return
		}
		b.cooldown = b.nextCooldown()
		b.openLocked(now, err)
		return
	}
	// Calls admitted before the circuit opened do not move it.
	if b.state != StateClosed {
		return
	}
	if err == nil {
		b.failures = b.failures[:0]
		return
	}

	b.failures = append(b.failures, now)
	cutoff := now.Add(-b.settings.Window)
	i := 0
	for i < len(b.failures) && b.failures[i].Before(cutoff) {
		i++
	}
	b.failures = b.failures[i:]
	if len(b.failures) >= b.settings.FailureThreshold {
		b.openLocked(now, err)
	}
}

func (b *Breaker) nextCooldown() time.Duration {
	if b.settings.BackoffMultiplier <= 1 {
		return b.settings.Cooldown
	}
	next := time.Duration(float64(b.cooldown) * b.settings.BackoffMultiplier)
	if next > b.settings.MaxCooldown {
		next = b.settings.MaxCooldown
	}
	return next
}

func (b *Breaker) openLocked(now time.Time, cause error) {
	b.openedAt = now
	b.failures = b.failures[:0]
	b.transitionLocked(StateOpen)
	b.logger.Warn("circuit opened",
		zap.String("breaker", b.name),
		zap.Duration("cooldown", b.cooldown),
		zap.Error(cause))
}

func (b *Breaker) transitionLocked(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.logger.Info("circuit state change",
		zap.String("breaker", b.name),
		zap.String("from", from.String()),
		zap.String("to", to.String()))
}

// State returns the current state. An open circuit whose cool-down has elapsed is reported
// as half-open even before the next call arrives.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Snapshot is a point-in-time view of a breaker for status reporting.
type Snapshot struct {
	Name                string        `json:"name"`
	State               string        `json:"state"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	Cooldown            time.Duration `json:"cooldown"`
	Rejected            int64         `json:"rejected"`
}

// Snapshot returns the breaker's current counters.
func (b *Breaker) Snapshot() Snapshot {
	state := b.State()
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Name:                b.name,
		State:               state.String(),
		ConsecutiveFailures: len(b.failures),
		Cooldown:            b.cooldown,
		Rejected:            b.rejected,
	}
}

// Reset closes the circuit and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = b.failures[:0]
	b.cooldown = b.settings.Cooldown
	b.probing = false
	b.probeID++
	b.transitionLocked(StateClosed)
}
