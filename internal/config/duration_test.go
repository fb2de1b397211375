package config

import (
	"testing"
	"time"
)

func TestParseDurationExtended(t *testing.T) {
	cases := map[string]time.Duration{
		"30d":    30 * 24 * time.Hour,
		"1w":     7 * 24 * time.Hour,
		"1w2d3h": (9*24 + 3) * time.Hour,
		"1.5d":   36 * time.Hour,
		"-2w":    -14 * 24 * time.Hour,
		"90m":    90 * time.Minute,
		" 60s ":  time.Minute,
	}
	for in, want := range cases {
		got, err := parseDurationExtended(in)
		if err != nil {
			t.Fatalf("parseDurationExtended(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("parseDurationExtended(%q)=%v want %v", in, got, want)
		}
	}
}

func TestParseDurationExtendedRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "   ", "3x", "2d3x", "-", "d"} {
		if _, err := parseDurationExtended(in); err == nil {
			t.Fatalf("parseDurationExtended(%q) expected error", in)
		}
	}
}
