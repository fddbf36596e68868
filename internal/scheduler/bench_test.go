package scheduler

import (
	"testing"
	"time"

	"github.com/hyperjump/kioku/internal/models"
)

func BenchmarkSchedule(b *testing.B) {
	core := NewCore()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var st *models.ScheduleState
		for g := 0; g < 10; g++ {
			st, _ = core.Schedule(st, "card", 4, now)
		}
	}
}
