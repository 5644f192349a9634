package escalation

import (
	"testing"
	"time"
)

func TestParseTimeout(t *testing.T) {
	cases := []struct {
		iso  string
		want time.Duration
	}{
		{"PT1H", time.Hour},
		{"PT30M", 30 * time.Minute},
		{"PT45S", 45 * time.Second},
		{"PT2H30M", 2*time.Hour + 30*time.Minute},
		{"P1D", 24 * time.Hour},
		{"P2DT3H4M5S", 51*time.Hour + 4*time.Minute + 5*time.Second},
		{"PT0S", 0},
	}
	for _, tc := range cases {
		t.Run(tc.iso, func(t *testing.T) {
			got, err := ParseTimeout(tc.iso)
			if err != nil {
				t.Fatalf("ParseTimeout(%q) failed: %v", tc.iso, err)
			}
			if got != tc.want {
				t.Errorf("ParseTimeout(%q) = %v, want %v", tc.iso, got, tc.want)
			}
		})
	}
}

func TestParseTimeoutRejectsMalformed(t *testing.T) {
	for _, iso := range []string{
		"",
		"P",
		"PT",
		"1H",
		"PT1X",
		"30 minutes",
		"PT1H extra",
		"P-1D",
	} {
		t.Run(iso, func(t *testing.T) {
			if _, err := ParseTimeout(iso); err == nil {
				t.Errorf("Expected ParseTimeout(%q) to fail", iso)
			}
		})
	}
}
