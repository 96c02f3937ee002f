package session

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Duration is a time.Duration that also accepts the human forms used by
// token lifetime settings: "15m", "7d", "2 days", "1.5h", "1y".
// A bare integer is a number of seconds.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalText implements encoding.TextUnmarshaler for env parsing.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

const (
	day  = 24 * time.Hour
	week = 7 * day
	year = time.Duration(365.25 * float64(day))
)

var durationUnits = map[string]time.Duration{
	"ms": time.Millisecond, "msec": time.Millisecond, "msecs": time.Millisecond,
	"millisecond": time.Millisecond, "milliseconds": time.Millisecond,
	"s": time.Second, "sec": time.Second, "secs": time.Second,
	"second": time.Second, "seconds": time.Second,
	"m": time.Minute, "min": time.Minute, "mins": time.Minute,
	"minute": time.Minute, "minutes": time.Minute,
	"h": time.Hour, "hr": time.Hour, "hrs": time.Hour,
	"hour": time.Hour, "hours": time.Hour,
	"d": day, "day": day, "days": day,
	"w": week, "week": week, "weeks": week,
	"y": year, "yr": year, "yrs": year, "year": year, "years": year,
}

// ParseDuration parses a lifetime setting.
//
// Accepted forms, in order:
//   - a bare integer: seconds ("900");
//   - a number with one unit, optionally space separated ("7d", "2 days", "1.5h");
//   - anything time.ParseDuration accepts ("1h30m", "250ms").
func ParseDuration(s string) (time.Duration, error) {
	in := strings.TrimSpace(s)
	if in == "" {
		return 0, fmt.Errorf("duration: empty value")
	}

	if n, err := strconv.ParseInt(in, 10, 64); err == nil {
		if n > math.MaxInt64/int64(time.Second) || n < math.MinInt64/int64(time.Second) {
			return 0, fmt.Errorf("duration: %q out of range", s)
		}
		return time.Duration(n) * time.Second, nil
	}

	if d, ok := parseSingleUnit(in); ok {
		return d, nil
	}

	d, err := time.ParseDuration(in)
	if err != nil {
		return 0, fmt.Errorf("duration: invalid value %q", s)
	}
	return d, nil
}

func parseSingleUnit(s string) (time.Duration, bool) {
	i := 0
	if i < len(s) && (s[i] == '-' || s[i] == '+') {
		i++
	}
	for i < len(s) && (s[i] >= '0' && s[i] <= '9' || s[i] == '.') {
		i++
	}
	num, unit := s[:i], strings.ToLower(strings.TrimSpace(s[i:]))
	if num == "" || unit == "" {
		return 0, false
	}

	mult, ok := durationUnits[unit]
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, false
	}

	v := f * float64(mult)
	if math.IsNaN(v) || v > math.MaxInt64 || v < math.MinInt64 {
		return 0, false
	}
	return time.Duration(math.Round(v)), true
}
