package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var timeOfDayPattern = regexp.MustCompile(`^([0-1]?[0-9]|2[0-3]):[0-5][0-9]$`)

// TimeOfDay is a wall-clock time with minute resolution, stored as minutes
// since midnight. It serializes as "HH:MM".
type TimeOfDay int

// ParseTimeOfDay parses an "HH:MM" (or "H:MM") 24-hour string.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	invalid := &ValidationError{Reason: ReasonInvalidTime, Message: fmt.Sprintf("invalid time %q, expected HH:MM", s)}
	if !timeOfDayPattern.MatchString(s) {
		return 0, invalid
	}
	hh, mm, _ := strings.Cut(s, ":")
	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0, invalid
	}
	m, err := strconv.Atoi(mm)
	if err != nil {
		return 0, invalid
	}
	return TimeOfDay(h*60 + m), nil
}

// MustParseTimeOfDay is ParseTimeOfDay for literals known to be valid.
func MustParseTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

// At returns the time of day of t in t's location.
func At(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*60 + t.Minute())
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// LastOccurrence returns the latest instant at or before now whose wall clock
// in now's location reads t.
func (t TimeOfDay) LastOccurrence(now time.Time) time.Time {
	occ := time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, now.Location())
	if occ.After(now) {
		occ = occ.AddDate(0, 0, -1)
	}
	return occ
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	parsed, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
