package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidCronExpression is returned when a 5-field cron expression
// cannot be parsed.
var ErrInvalidCronExpression = errors.New("invalid cron expression")

// cronParser accepts standard 5-field expressions (minute hour dom month dow).
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// ParseCron parses a standard 5-field cron expression.
func ParseCron(expr string) (cron.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidCronExpression, expr, err)
	}
	return sched, nil
}

// ValidateCronExpression reports whether the expression parses.
func ValidateCronExpression(expr string) error {
	_, err := ParseCron(expr)
	return err
}

// NextRunTimes returns the next count fire times of the expression
// strictly after from.
func NextRunTimes(expr string, from time.Time, count int) ([]time.Time, error) {
	sched, err := ParseCron(expr)
	if err != nil {
		return nil, err
	}
	times := make([]time.Time, 0, count)
	t := from
	for range count {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		times = append(times, t)
	}
	return times, nil
}
