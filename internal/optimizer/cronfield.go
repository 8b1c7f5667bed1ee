package optimizer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jonesrussell/godispatch/internal/scheduler"
)

// fixedHour extracts the hour field of a 5-field cron expression when it
// is a single literal hour. Expressions with ranges, steps, or wildcards
// in the hour field return false; they have no single hour to rebalance.
func fixedHour(expr string) (int, bool) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return 0, false
	}
	hour, err := strconv.Atoi(fields[1])
	if err != nil || hour < 0 || hour > 23 {
		return 0, false
	}
	return hour, true
}

// withHour returns the expression with its hour field replaced by the
// given literal hour. The result is validated before being returned.
func withHour(expr string, hour int) (string, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return "", fmt.Errorf("%w: %q", scheduler.ErrInvalidCronExpression, expr)
	}
	if hour < 0 || hour > 23 {
		return "", fmt.Errorf("hour out of range: %d", hour)
	}
	fields[1] = strconv.Itoa(hour)
	out := strings.Join(fields, " ")
	if err := scheduler.ValidateCronExpression(out); err != nil {
		return "", err
	}
	return out, nil
}

// hourStep extracts N from an "*/N" hour field, if present.
func hourStep(expr string) (int, bool) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return 0, false
	}
	rest, ok := strings.CutPrefix(fields[1], "*/")
	if !ok {
		return 0, false
	}
	step, err := strconv.Atoi(rest)
	if err != nil || step <= 0 {
		return 0, false
	}
	return step, true
}

// withHourStep returns the expression with its hour field replaced by
// "*/step".
func withHourStep(expr string, step int) (string, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return "", fmt.Errorf("%w: %q", scheduler.ErrInvalidCronExpression, expr)
	}
	if step < 1 || step > 23 {
		return "", fmt.Errorf("hour step out of range: %d", step)
	}
	fields[1] = "*/" + strconv.Itoa(step)
	out := strings.Join(fields, " ")
	if err := scheduler.ValidateCronExpression(out); err != nil {
		return "", err
	}
	return out, nil
}
