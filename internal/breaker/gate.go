package breaker

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/models"
)

// ErrDisabled is returned when the gate's runtime flag is off.
var ErrDisabled = fmt.Errorf("feature disabled: %w", models.ErrUnavailable)

// Gate combines a runtime on/off flag with an optional circuit breaker.
type Gate struct {
	name    string
	enabled atomic.Bool
	breaker *Breaker
	logger  *zap.Logger
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithGateLogger sets a logger for flag changes.
func WithGateLogger(l *zap.Logger) GateOption {
	return func(g *Gate) { g.logger = l }
}

// NewGate creates a gate. b may be nil, in which case only the flag applies.
func NewGate(name string, enabled bool, b *Breaker, opts ...GateOption) *Gate {
	g := &Gate{name: name, breaker: b, logger: zap.NewNop()}
	g.enabled.Store(enabled)
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Name returns the gate name.
func (g *Gate) Name() string { return g.name }

// Enabled reports the runtime flag.
func (g *Gate) Enabled() bool { return g.enabled.Load() }

// SetEnabled flips the runtime flag.
func (g *Gate) SetEnabled(enabled bool) {
	if g.enabled.Swap(enabled) != enabled {
		g.logger.Info("feature gate changed", zap.String("gate", g.name), zap.Bool("enabled", enabled))
	}
}

// Breaker returns the gate's breaker, or nil.
func (g *Gate) Breaker() *Breaker { return g.breaker }

// Do runs fn when the gate is enabled and the circuit allows it.
// Rejections return ErrDisabled or ErrOpen; both match models.ErrUnavailable.
func (g *Gate) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if !g.Enabled() {
		return ErrDisabled
	}
	if g.breaker == nil {
		return fn(ctx)
	}
	return g.breaker.Execute(ctx, fn)
}

// GateStatus is the gate's status for reporting.
type GateStatus struct {
	Name    string    `json:"name"`
	Enabled bool      `json:"enabled"`
	Circuit *Snapshot `json:"circuit,omitempty"`
}

// Status returns the gate's flag and breaker snapshot.
func (g *Gate) Status() GateStatus {
	st := GateStatus{Name: g.name, Enabled: g.Enabled()}
	if g.breaker != nil {
		snap := g.breaker.Snapshot()
		st.Circuit = &snap
	}
	return st
}
