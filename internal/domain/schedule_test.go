package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

// --- Schedule Tests ---

func TestSchedule_Trigger(t *testing.T) {
	tests := []struct {
		sched Schedule
		want  string
	}{
		{Schedule{CronExpr: "0 9 * * *"}, "0 9 * * *"},
		{Schedule{IntervalSec: 90}, "every 1m30s"},
		{Schedule{CronExpr: "@daily", IntervalSec: 5}, "@daily"},
	}
	for _, tt := range tests {
		if got := tt.sched.Trigger(); got != tt.want {
			t.Errorf("expected %q, got %q", tt.want, got)
		}
	}
}

func TestSchedule_IsDue(t *testing.T) {
	due := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	s := Schedule{Enabled: true, NextDueAt: &due}

	if s.IsDue(due.Add(-time.Second)) {
		t.Error("not due before NextDueAt")
	}
	if !s.IsDue(due) {
		t.Error("due exactly at NextDueAt")
	}
	s.Enabled = false
	if s.IsDue(due.Add(time.Hour)) {
		t.Error("disabled schedule is never due")
	}
}

func TestSchedule_Advance(t *testing.T) {
	at := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	next := at.Add(time.Minute)

	var s Schedule
	s.Advance(at, uuid.Nil, next)
	if s.LastRunID != nil || s.LastRunAt != nil {
		t.Error("failed fire must not record a run")
	}
	if !s.NextDueAt.Equal(next) {
		t.Errorf("expected next %s, got %s", next, s.NextDueAt)
	}

	id := uuid.New()
	s.Advance(at, id, next.Add(time.Minute))
	if s.LastRunID == nil || *s.LastRunID != id || !s.LastRunAt.Equal(at) {
		t.Errorf("run not recorded: %+v", s)
	}
}

func TestSchedule_Location(t *testing.T) {
	if (&Schedule{Timezone: "Nowhere/City"}).Location() != time.UTC {
		t.Error("unknown zone should fall back to UTC")
	}
	if loc := (&Schedule{Timezone: "Europe/Moscow"}).Location(); loc.String() != "Europe/Moscow" {
		t.Errorf("unexpected location %s", loc)
	}
}
