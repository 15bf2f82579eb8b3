package domain

import (
	"time"

	"github.com/google/uuid"
)

// Schedule запускает workflow из файла по cron-выражению или с
// постоянным интервалом. Если заданы оба, действует cron.
type Schedule struct {
	Name     string `json:"name"`
	Workflow string `json:"workflow"`

	// CronExpr — пять полей или дескриптор (@daily, @every 5m).
	CronExpr string `json:"cron_expr,omitempty"`

	IntervalSec int `json:"interval_sec,omitempty"`

	// Timezone — IANA имя пояса для cron (default: UTC).
	Timezone string `json:"timezone"`

	Enabled bool           `json:"enabled"`
	Inputs  map[string]any `json:"inputs,omitempty"`

	NextDueAt *time.Time `json:"next_due_at,omitempty"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	LastRunID *uuid.UUID `json:"last_run_id,omitempty"`
}

func (s *Schedule) IsCron() bool { return s.CronExpr != "" }

func (s *Schedule) IsInterval() bool { return !s.IsCron() && s.IntervalSec > 0 }

// Interval — шаг интервального расписания, 0 для cron.
func (s *Schedule) Interval() time.Duration {
	if !s.IsInterval() {
		return 0
	}
	return time.Duration(s.IntervalSec) * time.Second
}

// Trigger описывает, когда срабатывает расписание.
func (s *Schedule) Trigger() string {
	if s.IsInterval() {
		return "every " + s.Interval().String()
	}
	return s.CronExpr
}

// Location — пояс расписания. Неизвестное имя даёт UTC.
func (s *Schedule) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsDue — включено и NextDueAt уже наступило.
func (s *Schedule) IsDue(now time.Time) bool {
	return s.Enabled && s.NextDueAt != nil && !now.Before(*s.NextDueAt)
}

// Advance переносит NextDueAt. Если срабатывание создало run
// (runID != uuid.Nil), запоминает его и время at.
func (s *Schedule) Advance(at time.Time, runID uuid.UUID, next time.Time) {
	s.NextDueAt = &next
	if runID == uuid.Nil {
		return
	}
	s.LastRunAt = &at
	s.LastRunID = &runID
}
