package limit

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"modbot/internal/apperr"
)

const (
	Day   = 24 * time.Hour
	Week  = 7 * Day
	Month = 30 * Day
	Year  = 365 * Day
)

var term = regexp.MustCompile(`^(\d+)(min|[smhdwy])`)

var units = map[string]time.Duration{
	"s":   time.Second,
	"min": time.Minute,
	"h":   time.Hour,
	"d":   Day,
	"w":   Week,
	"m":   Month,
	"y":   Year,
}

// Parse reads limits like "3h+40min" or "1d-2h". Terms are added or
// subtracted left to right and the total must be positive.
func Parse(raw string) (time.Duration, error) {
	rest := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(raw), " ", ""))
	if rest == "" {
		return 0, apperr.Userf(apperr.EmptyValue, "The limit is empty!")
	}

	sign := int64(1)
	switch rest[0] {
	case '+':
		rest = rest[1:]
	case '-':
		sign = -1
		rest = rest[1:]
	}

	var total int64
	for {
		match := term.FindStringSubmatch(rest)
		if match == nil {
			return 0, syntaxError(raw)
		}
		amount, err := strconv.ParseInt(match[1], 10, 64)
		if err != nil {
			return 0, syntaxError(raw)
		}
		unit := int64(units[match[2]])
		if amount > math.MaxInt64/unit {
			return 0, tooLong(raw)
		}
		value := amount * unit
		if (sign > 0 && total > math.MaxInt64-value) || (sign < 0 && total < math.MinInt64+value) {
			return 0, tooLong(raw)
		}
		total += sign * value
		rest = rest[len(match[0]):]

		if rest == "" {
			break
		}
		switch rest[0] {
		case '+':
			sign = 1
		case '-':
			sign = -1
		default:
			return 0, syntaxError(raw)
		}
		rest = rest[1:]
		if rest == "" {
			return 0, syntaxError(raw)
		}
	}

	if total <= 0 {
		return 0, apperr.Userf(apperr.InvalidValue, "The limit **%s** must be longer than zero!", raw)
	}
	return time.Duration(total), nil
}

func tooLong(raw string) error {
	return apperr.Userf(apperr.InvalidValue, "The limit **%s** is too long!", raw)
}

func syntaxError(raw string) error {
	return apperr.Userf(apperr.SyntaxError, "The limit **%s** is in the wrong format! Use something like `1d+3h-20min`.", raw)
}

var formatOrder = []struct {
	unit string
	size time.Duration
}{
	{"y", Year},
	{"m", Month},
	{"w", Week},
	{"d", Day},
	{"h", time.Hour},
	{"min", time.Minute},
	{"s", time.Second},
}

// Format renders d with the units Parse understands.
func Format(d time.Duration) string {
	if d < time.Second {
		return "0s"
	}
	parts := []string{}
	for _, step := range formatOrder {
		if d < step.size {
			continue
		}
		count := d / step.size
		d -= count * step.size
		parts = append(parts, strconv.FormatInt(int64(count), 10)+step.unit)
	}
	return strings.Join(parts, "+")
}
