package util

import (
	"testing"
	"time"
)

func TestSessionClockCutoff(t *testing.T) {
	c, err := NewSessionClock("Asia/Kolkata", "15:15")
	if err != nil {
		t.Fatalf("clock: %v", err)
	}
	// 09:44 UTC is 15:14 IST.
	before := time.Date(2024, 10, 10, 9, 44, 59, 0, time.UTC)
	if c.PastCutoff(before) {
		t.Fatalf("15:14 IST must be before cutoff")
	}
	if !c.PastCutoff(before.Add(time.Second)) {
		t.Fatalf("15:15 IST must be past cutoff")
	}
	// 20:00 UTC is already the next day in IST.
	if got := c.Day(time.Date(2024, 10, 10, 20, 0, 0, 0, time.UTC)); got != "2024-10-11" {
		t.Fatalf("unexpected day %s", got)
	}
}

func TestParseClockRejectsGarbage(t *testing.T) {
	if _, err := ParseClock("25:99"); err == nil {
		t.Fatalf("expected error")
	}
	if m, err := ParseClock("09:15"); err != nil || m != 555 {
		t.Fatalf("got %d %v", m, err)
	}
}
