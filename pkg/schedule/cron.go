package schedule

import (
	"fmt"
	"strconv"
	"strings"
)

// cron field ranges: minute, hour, day of month, month, day of week.
var fieldRanges = [5]struct {
	name string
	min  int
	max  int
}{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day of month", 1, 31},
	{"month", 1, 12},
	{"day of week", 0, 7}, // 7 == Sunday, like 0
}

// ValidateCron checks a standard five-field cron expression. Supported
// syntax per field: *, */step, single values, ranges a-b, ranges with
// steps a-b/step, and comma lists of any of these.
func ValidateCron(expr string) error {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}
	for i, f := range fields {
		r := fieldRanges[i]
		if err := validateField(f, r.min, r.max); err != nil {
			return fmt.Errorf("invalid %s field %q: %w", r.name, f, err)
		}
	}
	return nil
}

func validateField(field string, min, max int) error {
	for _, part := range strings.Split(field, ",") {
		if part == "" {
			return fmt.Errorf("empty list entry")
		}
		base, step, hasStep := strings.Cut(part, "/")
		if hasStep {
			n, err := strconv.Atoi(step)
			if err != nil || n <= 0 {
				return fmt.Errorf("bad step %q", step)
			}
		}
		if base == "*" {
			continue
		}
		lo, hi, isRange := strings.Cut(base, "-")
		a, err := strconv.Atoi(lo)
		if err != nil || a < min || a > max {
			return fmt.Errorf("value %q out of range %d-%d", lo, min, max)
		}
		if isRange {
			b, err := strconv.Atoi(hi)
			if err != nil || b < min || b > max {
				return fmt.Errorf("value %q out of range %d-%d", hi, min, max)
			}
			if b < a {
				return fmt.Errorf("range %q is inverted", base)
			}
		} else if hasStep {
			return fmt.Errorf("step requires * or a range")
		}
	}
	return nil
}

// Daily returns a cron expression firing every day at the given hour.
func Daily(hour int) string {
	return fmt.Sprintf("0 %d * * *", hour)
}

// Weekly returns a cron expression firing weekly on dayOfWeek (0=Sunday).
func Weekly(dayOfWeek, hour int) string {
	return fmt.Sprintf("0 %d * * %d", hour, dayOfWeek)
}

// Monthly returns a cron expression firing monthly on dayOfMonth.
func Monthly(dayOfMonth, hour int) string {
	return fmt.Sprintf("0 %d %d * *", hour, dayOfMonth)
}
