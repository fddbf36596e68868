// Package blend mixes the SM-2 baseline interval with an optional graph mastery prediction.
package blend

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/breaker"
	"github.com/hyperjump/kioku/internal/graph"
	"github.com/hyperjump/kioku/internal/models"
)

// Defaults for Config.
const (
	DefaultWeight             = 0.4
	DefaultBaseline           = 0.5
	DefaultStalenessThreshold = 24 * time.Hour
	// MaxStretch bounds the blended interval to MaxStretch times the baseline.
	MaxStretch = 3
)

// Config holds blend settings.
type Config struct {
	// Weight is the share of the predictor in the interval (the baseline keeps 1-Weight).
	// nil means DefaultWeight; an explicit 0 disables the adjustment.
	Weight *float64
	// Baseline is the mastery at which the prediction leaves the interval unchanged.
	// nil means DefaultBaseline.
	Baseline *float64
	// MinConfidence rejects predictions below this confidence. Zero accepts all.
	MinConfidence      float64
	StalenessThreshold time.Duration
}

// Float returns a pointer to v, for the optional Config fields.
func Float(v float64) *float64 { return &v }

// settings is a Config with every default resolved.
type settings struct {
	weight             float64
	baseline           float64
	minConfidence      float64
	stalenessThreshold time.Duration
}

func (c Config) resolve() settings {
	s := settings{
		weight:             DefaultWeight,
		baseline:           DefaultBaseline,
		minConfidence:      c.MinConfidence,
		stalenessThreshold: c.StalenessThreshold,
	}
	if c.Weight != nil {
		s.weight = *c.Weight
	}
	if c.Baseline != nil {
		s.baseline = *c.Baseline
	}
	if s.stalenessThreshold <= 0 {
		s.stalenessThreshold = DefaultStalenessThreshold
	}
	return s
}

// Reason explains why a prediction was not applied.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonDisabled      Reason = "disabled"
	ReasonUnavailable   Reason = "unavailable"
	ReasonTimeout       Reason = "timeout"
	ReasonStale         Reason = "stale"
	ReasonLowConfidence Reason = "low_confidence"
)

// Outcome records what the blender did with the prediction.
type Outcome struct {
	Applied    bool                    `json:"applied"`
	Reason     Reason                  `json:"reason,omitempty"`
	Prediction *models.GraphPrediction `json:"prediction,omitempty"`
}

// Degraded reports whether the enhancement was wanted but could not be used.
// A disabled gate or a low-confidence prediction is a decision, not a degradation.
func (o Outcome) Degraded() bool {
	switch o.Reason {
	case ReasonUnavailable, ReasonTimeout, ReasonStale:
		return true
	}
	return false
}

// Blender combines scheduler output with a Predictor.
type Blender struct {
	predictor graph.Predictor
	cfg       settings
	now       func() time.Time
	logger    *zap.Logger
}

// Option configures a Blender.
type Option func(*Blender)

// WithClock sets the clock used for staleness checks.
func WithClock(now func() time.Time) Option {
	return func(b *Blender) { b.now = now }
}

// WithLogger sets the blender logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Blender) { b.logger = l }
}

// New returns a Blender. A nil predictor behaves like a disabled enhancement.
func New(predictor graph.Predictor, cfg Config, opts ...Option) *Blender {
	b := &Blender{
		predictor: predictor,
		cfg:       cfg.resolve(),
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Blend asks the predictor about base.CardID and applies the prediction when it is fresh and
// confident enough. Otherwise base is returned unchanged.
func (b *Blender) Blend(ctx context.Context, base *models.ScheduleState) (*models.ScheduleState, Outcome) {
	if b.predictor == nil {
		return base, Outcome{Reason: ReasonDisabled}
	}
	pred, err := b.predictor.Predict(ctx, base.CardID)
	if err != nil {
		reason := classify(err)
		b.logger.Debug("enhancement not applied",
			zap.String("card_id", base.CardID),
			zap.String("reason", string(reason)),
			zap.Error(err))
		return base, Outcome{Reason: reason}
	}
	if !valid(pred) {
		b.logger.Debug("discarding invalid prediction", zap.String("card_id", base.CardID))
		return base, Outcome{Reason: ReasonUnavailable}
	}
	if b.now().Sub(pred.AsOf) > b.cfg.stalenessThreshold {
		b.logger.Debug("discarding stale prediction",
			zap.String("card_id", base.CardID),
			zap.Time("as_of", pred.AsOf))
		return base, Outcome{Reason: ReasonStale, Prediction: pred}
	}
	if pred.Confidence < b.cfg.minConfidence {
		return base, Outcome{Reason: ReasonLowConfidence, Prediction: pred}
	}
	return b.Apply(base, pred), Outcome{Applied: true, Prediction: pred}
}

// Apply returns base with its interval adjusted by pred. It is pure. A nil pred returns base.
// Easiness, repetition count and the canonical interval are untouched; the due date moves by
// the difference between the blended and the baseline interval.
func (b *Blender) Apply(base *models.ScheduleState, pred *models.GraphPrediction) *models.ScheduleState {
	if pred == nil {
		return base
	}
	out := base.Clone()
	canonical := base.BaseIntervalDays
	if canonical < 1 {
		canonical = base.IntervalDays
	}
	final := Interval(canonical, pred.PredictedMastery, b.cfg.weight, b.cfg.baseline)
	out.DueDate = base.DueDate.AddDate(0, 0, final-base.IntervalDays)
	out.IntervalDays = final
	out.Enhanced = true
	return out
}

// Interval returns round(base × (1 + weight × (mastery − baseline))) clamped to
// [1, MaxStretch × base].
func Interval(base int, mastery, weight, baseline float64) int {
	if base < 1 {
		base = 1
	}
	final := int(math.Round(float64(base) * (1 + weight*(mastery-baseline))))
	if final < 1 {
		final = 1
	}
	if upper := MaxStretch * base; final > upper {
		final = upper
	}
	return final
}

func valid(p *models.GraphPrediction) bool {
	if p == nil {
		return false
	}
	m, c := p.PredictedMastery, p.Confidence
	return !math.IsNaN(m) && !math.IsNaN(c) && m >= 0 && m <= 1 && c >= 0 && c <= 1
}

func classify(err error) Reason {
	switch {
	case errors.Is(err, breaker.ErrDisabled):
		return ReasonDisabled
	case errors.Is(err, models.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, models.ErrStale):
		return ReasonStale
	default:
		return ReasonUnavailable
	}
}
