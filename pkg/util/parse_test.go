package util

import (
	"strconv"
	"testing"
	"time"
)

func TestParseTime(t *testing.T) {
	want := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
	cases := map[string]string{
		"rfc3339":  "2024-10-10T10:10:10Z",
		"fraction": "2024-10-10T15:40:10.000+05:30",
		"unix":     strconv.FormatInt(want.Unix(), 10),
		"unixms":   strconv.FormatInt(want.UnixMilli(), 10),
	}
	for name, in := range cases {
		got, ok := ParseTime(in)
		if !ok || !got.Equal(want) {
			t.Errorf("%s: ParseTime(%q) = %v, %v", name, in, got, ok)
		}
	}
	for _, bad := range []string{"", "yesterday", "-5"} {
		if _, ok := ParseTime(bad); ok {
			t.Errorf("ParseTime(%q) should fail", bad)
		}
	}
}

func TestMinuteRange(t *testing.T) {
	from, to := MinuteRange(
		time.Date(2024, 10, 10, 9, 15, 42, 0, time.UTC),
		time.Date(2024, 10, 10, 9, 30, 1, 0, time.UTC))
	if from.Second() != 0 || from.Minute() != 15 || to.Minute() != 30 || to.Second() != 0 {
		t.Fatalf("range %v - %v", from, to)
	}
}

func TestParseIntDefault(t *testing.T) {
	if ParseIntDefault("9090", 1) != 9090 || ParseIntDefault("", 7) != 7 || ParseIntDefault("x", 7) != 7 {
		t.Fatalf("ParseIntDefault")
	}
}
