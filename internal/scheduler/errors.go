package scheduler

import "errors"

// ErrInvalidSchedule — расписание нельзя вычислить (нет триггера или битый cron).
var ErrInvalidSchedule = errors.New("invalid schedule")

// ErrNoSubmitter — Scheduler создан без Submitter.
var ErrNoSubmitter = errors.New("scheduler has no submitter")
