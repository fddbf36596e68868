package scheduler

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/hyperjump/kioku/internal/models"
)

var t0 = time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

func assertFloat(t *testing.T, name string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("%s = %.6f, want %.6f", name, got, want)
	}
}

func mustSchedule(t *testing.T, c *Core, prior *models.ScheduleState, grade int, now time.Time) *models.ScheduleState {
	t.Helper()
	s, err := c.Schedule(prior, "card-1", grade, now)
	if err != nil {
		t.Fatalf("Schedule(grade=%d): %v", grade, err)
	}
	return s
}

func TestScheduleLiteralSequence(t *testing.T) {
	c := NewCore()

	first := mustSchedule(t, c, nil, 5, t0)
	if first.RepetitionCount != 1 || first.IntervalDays != 1 {
		t.Errorf("first review: reps=%d interval=%d, want 1/1", first.RepetitionCount, first.IntervalDays)
	}
	assertFloat(t, "first EF", first.EasinessFactor, 2.6)

	second := mustSchedule(t, c, first, 5, t0.AddDate(0, 0, 1))
	if second.RepetitionCount != 2 || second.IntervalDays != 6 {
		t.Errorf("second review: reps=%d interval=%d, want 2/6", second.RepetitionCount, second.IntervalDays)
	}
	assertFloat(t, "second EF", second.EasinessFactor, 2.7)

	third := mustSchedule(t, c, second, 2, t0.AddDate(0, 0, 7))
	if third.RepetitionCount != 0 || third.IntervalDays != 1 {
		t.Errorf("failed review: reps=%d interval=%d, want 0/1", third.RepetitionCount, third.IntervalDays)
	}
	// 2.7 + (0.1 - 3*(0.08 + 3*0.02)) = 2.38; the 1.3 floor does not bind here.
	assertFloat(t, "failed EF", third.EasinessFactor, 2.38)
}

func TestScheduleThirdRepetitionUsesEasiness(t *testing.T) {
	c := NewCore()
	s := mustSchedule(t, c, nil, 4, t0)
	s = mustSchedule(t, c, s, 4, t0)
	s = mustSchedule(t, c, s, 4, t0)
	// EF stays 2.5 for grade 4; round(6 * 2.5) = 15.
	if s.IntervalDays != 15 || s.BaseIntervalDays != 15 {
		t.Errorf("interval = %d (base %d), want 15", s.IntervalDays, s.BaseIntervalDays)
	}
	assertFloat(t, "EF", s.EasinessFactor, 2.5)
}

func TestScheduleProgressesFromBaseInterval(t *testing.T) {
	c := NewCore()
	prior := &models.ScheduleState{
		CardID:           "card-1",
		EasinessFactor:   2.5,
		RepetitionCount:  2,
		IntervalDays:     9, // adjusted by the graph blend
		BaseIntervalDays: 6,
	}
	s := mustSchedule(t, c, prior, 4, t0)
	if s.BaseIntervalDays != 15 {
		t.Errorf("base interval = %d, want 15 (from canonical 6, not blended 9)", s.BaseIntervalDays)
	}
}

func TestScheduleFirstReviewFailure(t *testing.T) {
	s := mustSchedule(t, NewCore(), nil, 0, t0)
	if s.RepetitionCount != 0 || s.IntervalDays != 1 {
		t.Errorf("reps=%d interval=%d, want 0/1", s.RepetitionCount, s.IntervalDays)
	}
	assertFloat(t, "EF", s.EasinessFactor, 1.7)
}

func TestEasinessFloor(t *testing.T) {
	c := NewCore()
	rng := rand.New(rand.NewSource(42))
	for run := 0; run < 200; run++ {
		var s *models.ScheduleState
		now := t0
		for i := 0; i < 30; i++ {
			grade := rng.Intn(models.MaxGrade + 1)
			s = mustSchedule(t, c, s, grade, now)
			if s.EasinessFactor < models.MinEasiness {
				t.Fatalf("run %d step %d: EF %.4f below floor", run, i, s.EasinessFactor)
			}
			now = s.DueDate
		}
	}

	s := &models.ScheduleState{CardID: "card-1", EasinessFactor: 1.3, RepetitionCount: 0, IntervalDays: 1}
	for i := 0; i < 10; i++ {
		s = mustSchedule(t, c, s, 0, t0)
	}
	assertFloat(t, "EF after repeated failures", s.EasinessFactor, models.MinEasiness)
}

func TestIntervalMonotonicOnSuccess(t *testing.T) {
	c := NewCore()
	rng := rand.New(rand.NewSource(7))
	for run := 0; run < 200; run++ {
		var s *models.ScheduleState
		prevInterval := 0
		for i := 0; i < 25; i++ {
			grade := rng.Intn(models.MaxGrade + 1)
			s = mustSchedule(t, c, s, grade, t0)
			if grade < models.PassingGrade {
				if s.BaseIntervalDays != 1 {
					t.Fatalf("failure must reset interval to 1, got %d", s.BaseIntervalDays)
				}
			} else if s.BaseIntervalDays < prevInterval {
				t.Fatalf("run %d step %d: interval decreased %d -> %d", run, i, prevInterval, s.BaseIntervalDays)
			}
			prevInterval = s.BaseIntervalDays
		}
	}
}

func TestScheduleDoesNotMutatePrior(t *testing.T) {
	prior := &models.ScheduleState{CardID: "card-1", EasinessFactor: 2.5, RepetitionCount: 2, IntervalDays: 6, BaseIntervalDays: 6, Version: 3}
	snapshot := *prior
	s := mustSchedule(t, NewCore(), prior, 5, t0)
	if *prior != snapshot {
		t.Errorf("prior mutated: %+v", prior)
	}
	if s.Version != 3 {
		t.Errorf("Version = %d, want the prior's version carried for the conditional write", s.Version)
	}
}

func TestScheduleValidation(t *testing.T) {
	c := NewCore()
	tests := []struct {
		name  string
		prior *models.ScheduleState
		grade int
	}{
		{"grade above range", nil, 6},
		{"grade below range", nil, -1},
		{"EF below floor", &models.ScheduleState{CardID: "card-1", EasinessFactor: 1.1}, 3},
		{"EF not finite", &models.ScheduleState{CardID: "card-1", EasinessFactor: math.NaN()}, 3},
		{"negative interval", &models.ScheduleState{CardID: "card-1", EasinessFactor: 2.5, IntervalDays: -2}, 3},
		{"negative repetitions", &models.ScheduleState{CardID: "card-1", EasinessFactor: 2.5, RepetitionCount: -1}, 3},
		{"reviewed without interval", &models.ScheduleState{CardID: "card-1", EasinessFactor: 2.5, RepetitionCount: 2}, 3},
		{"card mismatch", &models.ScheduleState{CardID: "other", EasinessFactor: 2.5}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Schedule(tt.prior, "card-1", tt.grade, t0)
			if !errors.Is(err, models.ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestDueDate(t *testing.T) {
	c := NewCore()
	got := c.DueDate(t0, 6)
	want := time.Date(2025, 6, 21, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("DueDate = %v, want %v", got, want)
	}

	tokyo := time.FixedZone("JST", 9*3600)
	late := time.Date(2025, 6, 15, 20, 0, 0, 0, time.UTC) // already 16 June in Tokyo
	got = NewCore(WithLocation(tokyo)).DueDate(late, 1)
	want = time.Date(2025, 6, 17, 0, 0, 0, 0, tokyo)
	if !got.Equal(want) {
		t.Errorf("DueDate in JST = %v, want %v", got, want)
	}
}

func TestPreview(t *testing.T) {
	states, err := NewCore().Preview(nil, "card-1", t0)
	if err != nil {
		t.Fatal(err)
	}
	if len(states) != models.MaxGrade+1 {
		t.Fatalf("got %d states, want %d", len(states), models.MaxGrade+1)
	}
	for g, s := range states {
		if s.LastGrade != g {
			t.Errorf("states[%d].LastGrade = %d", g, s.LastGrade)
		}
	}
	if states[5].EasinessFactor <= states[3].EasinessFactor {
		t.Error("a higher grade should give a higher easiness factor")
	}
}
