package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Clock is the source of "now" for evaluation. Production code uses SystemClock;
// tests pass a ClockFunc.
type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock in Loc (Local when nil).
type SystemClock struct {
	Loc *time.Location
}

func (c SystemClock) Now() time.Time {
	if c.Loc == nil {
		return time.Now()
	}
	return time.Now().In(c.Loc)
}

// Moment is an instant reduced to the values bells and special days are keyed by.
type Moment struct {
	At        time.Time
	TimeOfDay string // HH:MM
	Weekday   string // Sunday..Saturday
	Date      string // YYYY-MM-DD
}

// Normalize reduces t to minute granularity in t's own location.
func Normalize(t time.Time) Moment {
	t = t.Truncate(time.Minute)
	return Moment{
		At:        t,
		TimeOfDay: t.Format("15:04"),
		Weekday:   Weekdays[int(t.Weekday())],
		Date:      t.Format("2006-01-02"),
	}
}

// Key identifies the minute. Two ticks with the same key are the same minute.
func (m Moment) Key() string { return m.Date + " " + m.TimeOfDay }

const minutesPerDay = 24 * 60

// ParseHHMM parses a zero-padded 24h "HH:MM" into minutes since midnight.
func ParseHHMM(s string) (int, error) {
	s = strings.TrimSpace(s)
	if len(s) != 5 || s[2] != ':' {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(s[:2])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(s[3:])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// FormatHHMM renders minutes since midnight, wrapping across midnight in either direction.
func FormatHHMM(minutes int) string {
	minutes %= minutesPerDay
	if minutes < 0 {
		minutes += minutesPerDay
	}
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// ValidTime reports whether s is a zero-padded 24h "HH:MM".
func ValidTime(s string) bool {
	_, err := ParseHHMM(s)
	return err == nil && s == strings.TrimSpace(s)
}

// ValidWeekday reports whether s is one of the canonical weekday names.
func ValidWeekday(s string) bool {
	return WeekdayIndex(s) >= 0
}

// WeekdayIndex returns the Sunday-based index of the name, or -1.
func WeekdayIndex(s string) int {
	for i, d := range Weekdays {
		if d == s {
			return i
		}
	}
	return -1
}

// ValidDate reports whether s is a calendar date in YYYY-MM-DD form.
func ValidDate(s string) bool {
	if len(s) != 10 {
		return false
	}
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}
