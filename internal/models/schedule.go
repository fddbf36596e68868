package models

import "time"

// Grade bounds for a review. Grades below PassingGrade count as a lapse.
const (
	MinGrade     = 0
	MaxGrade     = 5
	PassingGrade = 3
)

// Easiness factor bounds.
const (
	InitialEasiness = 2.5
	MinEasiness     = 1.3
)

// ScheduleState is the per-card scheduling state.
//
// IntervalDays is the interval actually applied to the due date and may have been adjusted
// by the graph enhancement. BaseIntervalDays is the canonical SM-2 interval that the next
// review progresses from, so an adjustment never feeds back into the SM-2 trajectory.
type ScheduleState struct {
	CardID           string    `json:"card_id"`
	EasinessFactor   float64   `json:"easiness_factor"`
	RepetitionCount  int       `json:"repetition_count"`
	IntervalDays     int       `json:"interval_days"`
	BaseIntervalDays int       `json:"base_interval_days"`
	DueDate          time.Time `json:"due_date"`
	LastGrade        int       `json:"last_grade"`
	UpdatedAt        time.Time `json:"updated_at"`
	Enhanced         bool      `json:"enhanced"`
	// Version is the optimistic concurrency token; 0 means never stored.
	Version int64 `json:"version"`
}

// Clone returns a copy of s.
func (s *ScheduleState) Clone() *ScheduleState {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// ReviewRecord is an immutable log entry appended after each successful review.
type ReviewRecord struct {
	ID             string         `json:"id"`
	CardID         string         `json:"card_id"`
	Grade          int            `json:"grade"`
	Timestamp      time.Time      `json:"timestamp"`
	ResultingState *ScheduleState `json:"resulting_state"`
	// Degraded is true when the graph enhancement was enabled but could not be applied.
	Degraded bool `json:"degraded"`
}

// GraphPrediction is the knowledge-graph predictor's estimate of how well a card is known.
type GraphPrediction struct {
	CardID           string    `json:"card_id"`
	PredictedMastery float64   `json:"predicted_mastery"`
	Confidence       float64   `json:"confidence"`
	AsOf             time.Time `json:"as_of"`
}

// DueCard pairs a card with its current schedule state.
type DueCard struct {
	Card  *Card          `json:"card"`
	State *ScheduleState `json:"state,omitempty"`
}
