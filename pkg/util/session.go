package util

import (
	"fmt"
	"time"
)

// istFallback is used when the tz database is not available in the image.
var istFallback = time.FixedZone("IST", 5*3600+1800)

// LoadLocation loads a named zone. Asia/Kolkata falls back to a fixed
// +05:30 offset when tzdata is missing.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = "Asia/Kolkata"
	}
	loc, err := time.LoadLocation(name)
	if err == nil {
		return loc, nil
	}
	if name == "Asia/Kolkata" {
		return istFallback, nil
	}
	return nil, fmt.Errorf("load location %q: %w", name, err)
}

// ParseClock parses "HH:MM" into minutes after midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// SessionClock answers trading-day questions in the exchange's zone.
type SessionClock struct {
	loc    *time.Location
	cutoff int
}

func NewSessionClock(zone, cutoff string) (*SessionClock, error) {
	loc, err := LoadLocation(zone)
	if err != nil {
		return nil, err
	}
	m, err := ParseClock(cutoff)
	if err != nil {
		return nil, err
	}
	return &SessionClock{loc: loc, cutoff: m}, nil
}

func (c *SessionClock) Location() *time.Location { return c.loc }

// Day is the exchange-local date of t, formatted as YYYY-MM-DD.
func (c *SessionClock) Day(t time.Time) string {
	return t.In(c.loc).Format(time.DateOnly)
}

// PastCutoff reports whether t is at or after the end-of-day cutoff.
func (c *SessionClock) PastCutoff(t time.Time) bool {
	l := t.In(c.loc)
	return l.Hour()*60+l.Minute() >= c.cutoff
}

// StartOfDay returns local midnight for t's exchange date.
func (c *SessionClock) StartOfDay(t time.Time) time.Time {
	l := t.In(c.loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, c.loc)
}
