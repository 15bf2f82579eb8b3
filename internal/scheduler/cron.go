package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shaiso/Interflow/internal/domain"
)

// cronParser понимает пять полей и дескрипторы (@daily, @every 5m).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// trigger строит cron.Schedule для расписания. Интервал становится
// ConstantDelaySchedule с точностью до секунды.
func trigger(sched *domain.Schedule) (cron.Schedule, error) {
	switch {
	case sched.IsCron():
		parsed, err := cronParser.Parse(sched.CronExpr)
		if err != nil {
			return nil, fmt.Errorf("%w: cron %q: %v", ErrInvalidSchedule, sched.CronExpr, err)
		}
		return parsed, nil
	case sched.IsInterval():
		return cron.Every(sched.Interval()), nil
	default:
		return nil, fmt.Errorf("%w: %s has neither cron nor interval_sec", ErrInvalidSchedule, sched.Name)
	}
}

// CalculateNextDue возвращает первое срабатывание строго после from, в UTC.
// Cron считается в поясе расписания.
func CalculateNextDue(sched *domain.Schedule, from time.Time) (time.Time, error) {
	t, err := trigger(sched)
	if err != nil {
		return time.Time{}, err
	}
	return t.Next(from.In(sched.Location())).UTC(), nil
}

// ValidateCronExpr проверяет cron-выражение без вычисления времени.
func ValidateCronExpr(expr string) error {
	_, err := trigger(&domain.Schedule{CronExpr: expr})
	return err
}
