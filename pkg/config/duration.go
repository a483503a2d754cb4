package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// calendarUnit matches a leading day or week component, e.g. "2w" or "3d".
var calendarUnit = regexp.MustCompile(`^(\d+)([dw])`)

// ParseDuration extends time.ParseDuration with leading day and week units.
// Examples: "30d", "2w", "1d12h", "90m". Days are 24 hours.
func ParseDuration(s string) (time.Duration, error) {
	rest := strings.TrimSpace(s)
	if rest == "" {
		return 0, fmt.Errorf("empty duration")
	}

	var total time.Duration
	for {
		m := calendarUnit.FindStringSubmatch(rest)
		if m == nil {
			break
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, fmt.Errorf("invalid duration value %q: %w", m[1], err)
		}
		unit := 24 * time.Hour
		if m[2] == "w" {
			unit *= 7
		}
		total += time.Duration(n) * unit
		rest = rest[len(m[0]):]
	}

	if rest == "" {
		return total, nil
	}
	d, err := time.ParseDuration(rest)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return total + d, nil
}
