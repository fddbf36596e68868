// Package scheduler implements the deterministic SM-2 review scheduler.
package scheduler

import (
	"math"
	"time"

	"github.com/hyperjump/kioku/internal/models"
)

// Fixed SM-2 intervals for the first two successful repetitions.
const (
	firstInterval  = 1
	secondInterval = 6
)

// Core computes the next schedule state from a prior state and a grade.
// It is pure: it never mutates its input and has no side effects.
type Core struct {
	loc *time.Location
}

// Option configures a Core.
type Option func(*Core)

// WithLocation sets the time zone whose calendar day boundaries due dates are aligned to.
// Defaults to UTC.
func WithLocation(loc *time.Location) Option {
	return func(c *Core) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// NewCore returns a scheduler core.
func NewCore(opts ...Option) *Core {
	c := &Core{loc: time.UTC}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Schedule returns the state after reviewing cardID with grade at now.
// prior is nil for a card that has never been reviewed.
func (c *Core) Schedule(prior *models.ScheduleState, cardID string, grade int, now time.Time) (*models.ScheduleState, error) {
	if cardID == "" {
		return nil, models.NewValidationError("card_id", "must not be empty")
	}
	if grade < models.MinGrade || grade > models.MaxGrade {
		return nil, models.NewValidationError("grade", "%d outside [%d, %d]", grade, models.MinGrade, models.MaxGrade)
	}
	if err := ValidateState(prior, cardID); err != nil {
		return nil, err
	}

	ef := models.InitialEasiness
	reps := 0
	prevBase := 0
	var version int64
	if prior != nil {
		ef = prior.EasinessFactor
		reps = prior.RepetitionCount
		prevBase = baseInterval(prior)
		version = prior.Version
	}

	next := &models.ScheduleState{
		CardID:         cardID,
		EasinessFactor: UpdateEasiness(ef, grade),
		LastGrade:      grade,
		UpdatedAt:      now,
		Version:        version,
	}

	if grade < models.PassingGrade {
		next.RepetitionCount = 0
		next.BaseIntervalDays = firstInterval
	} else {
		next.RepetitionCount = reps + 1
		switch next.RepetitionCount {
		case 1:
			next.BaseIntervalDays = firstInterval
		case 2:
			next.BaseIntervalDays = secondInterval
		default:
			next.BaseIntervalDays = int(math.Round(float64(prevBase) * next.EasinessFactor))
		}
		if next.BaseIntervalDays < prevBase && next.RepetitionCount > 2 {
			next.BaseIntervalDays = prevBase
		}
		if next.BaseIntervalDays < 1 {
			next.BaseIntervalDays = 1
		}
	}
	next.IntervalDays = next.BaseIntervalDays
	next.DueDate = c.DueDate(now, next.IntervalDays)
	return next, nil
}

// Preview returns the state each grade would produce, indexed by grade.
func (c *Core) Preview(prior *models.ScheduleState, cardID string, now time.Time) ([]*models.ScheduleState, error) {
	out := make([]*models.ScheduleState, 0, models.MaxGrade+1)
	for g := models.MinGrade; g <= models.MaxGrade; g++ {
		s, err := c.Schedule(prior, cardID, g, now)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// DueDate returns the start of the calendar day that is days after now.
func (c *Core) DueDate(now time.Time, days int) time.Time {
	t := now.In(c.loc)
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, c.loc)
	return day.AddDate(0, 0, days)
}

// UpdateEasiness applies the SM-2 easiness update for grade, floored at models.MinEasiness.
func UpdateEasiness(ef float64, grade int) float64 {
	q := float64(5 - grade)
	next := ef + (0.1 - q*(0.08+q*0.02))
	if next < models.MinEasiness {
		return models.MinEasiness
	}
	return next
}

// ValidateState rejects a malformed stored state. A nil state is valid (first review).
func ValidateState(s *models.ScheduleState, cardID string) error {
	if s == nil {
		return nil
	}
	switch {
	case s.CardID != "" && s.CardID != cardID:
		return models.NewValidationError("state", "card id %q does not match %q", s.CardID, cardID)
	case math.IsNaN(s.EasinessFactor) || math.IsInf(s.EasinessFactor, 0):
		return models.NewValidationError("state", "easiness factor is not finite")
	case s.EasinessFactor < models.MinEasiness:
		return models.NewValidationError("state", "easiness factor %.4f below %.1f", s.EasinessFactor, models.MinEasiness)
	case s.RepetitionCount < 0:
		return models.NewValidationError("state", "negative repetition count %d", s.RepetitionCount)
	case s.IntervalDays < 0 || s.BaseIntervalDays < 0:
		return models.NewValidationError("state", "negative interval")
	case s.RepetitionCount > 0 && baseInterval(s) < 1:
		return models.NewValidationError("state", "interval must be at least 1 once reviewed")
	}
	return nil
}

// baseInterval returns the canonical interval of s, falling back to IntervalDays for states
// written before the canonical interval was tracked.
func baseInterval(s *models.ScheduleState) int {
	if s.BaseIntervalDays > 0 {
		return s.BaseIntervalDays
	}
	return s.IntervalDays
}
