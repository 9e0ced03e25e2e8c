package clock

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Fixed calendar factors keep duration arithmetic additive, which the trigger
// evaluator depends on: advance(a) followed by advance(b) must land on the
// same instant as advance(a+b).
const (
	Day   = 24 * time.Hour
	Week  = 7 * Day
	Month = 30 * Day
	Year  = 365 * Day
)

// ParseISODuration parses an ISO-8601 duration of the form
// P[n]Y[n]M[n]W[n]DT[n]H[n]M[n]S into a time.Duration.
// Fractional values are accepted in the seconds position.
func ParseISODuration(s string) (time.Duration, error) {
	orig := s
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}

	negative := false
	if strings.HasPrefix(s, "-") {
		negative = true
		s = s[1:]
	}
	if !strings.HasPrefix(s, "P") {
		return 0, fmt.Errorf("invalid ISO-8601 duration %q: missing P designator", orig)
	}
	s = s[1:]
	if s == "" {
		return 0, fmt.Errorf("invalid ISO-8601 duration %q: no components", orig)
	}

	datePart := s
	timePart := ""
	if i := strings.IndexByte(s, 'T'); i >= 0 {
		datePart = s[:i]
		timePart = s[i+1:]
		if timePart == "" {
			return 0, fmt.Errorf("invalid ISO-8601 duration %q: empty time part", orig)
		}
	}

	var total time.Duration

	parse := func(part string, units map[byte]time.Duration, order string) error {
		rest := part
		lastIdx := -1
		for rest != "" {
			j := 0
			for j < len(rest) && (rest[j] >= '0' && rest[j] <= '9' || rest[j] == '.') {
				j++
			}
			if j == 0 || j == len(rest) {
				return fmt.Errorf("invalid ISO-8601 duration %q", orig)
			}
			unit := rest[j]
			factor, ok := units[unit]
			if !ok {
				return fmt.Errorf("invalid ISO-8601 duration %q: unexpected designator %q", orig, string(unit))
			}
			idx := strings.IndexByte(order, unit)
			if idx <= lastIdx {
				return fmt.Errorf("invalid ISO-8601 duration %q: designator %q out of order", orig, string(unit))
			}
			lastIdx = idx
			value, err := strconv.ParseFloat(rest[:j], 64)
			if err != nil {
				return fmt.Errorf("invalid ISO-8601 duration %q: %w", orig, err)
			}
			total += time.Duration(value * float64(factor))
			rest = rest[j+1:]
		}
		return nil
	}

	if datePart != "" {
		if err := parse(datePart, map[byte]time.Duration{
			'Y': Year, 'M': Month, 'W': Week, 'D': Day,
		}, "YMWD"); err != nil {
			return 0, err
		}
	}
	if timePart != "" {
		if err := parse(timePart, map[byte]time.Duration{
			'H': time.Hour, 'M': time.Minute, 'S': time.Second,
		}, "HMS"); err != nil {
			return 0, err
		}
	}

	if negative {
		total = -total
	}
	return total, nil
}
