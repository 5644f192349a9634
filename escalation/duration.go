package escalation

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// FallbackTimeout is applied when a rule carries a malformed ISO-8601
// timeout. Degrading to one hour keeps a bad rule from blocking
// escalation creation; the engine logs a warning when it falls back.
const FallbackTimeout = time.Hour

// isoDuration matches the supported ISO-8601 duration subset:
// P[nD][T[nH][nM][nS]]. The whole string must match; partial matches are
// parse failures.
var isoDuration = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// ParseTimeout parses an ISO-8601 duration such as "PT1H" or "P1DT30M".
// Missing components default to zero, but a duration with no components
// at all ("P", "PT") is rejected.
func ParseTimeout(iso string) (time.Duration, error) {
	m := isoDuration.FindStringSubmatch(iso)
	if m == nil {
		return 0, fmt.Errorf("malformed ISO-8601 duration %q", iso)
	}
	if m[1] == "" && m[2] == "" && m[3] == "" && m[4] == "" {
		return 0, fmt.Errorf("empty ISO-8601 duration %q", iso)
	}

	var d time.Duration
	if m[1] != "" {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, fmt.Errorf("malformed ISO-8601 duration %q: %w", iso, err)
		}
		d += time.Duration(n) * 24 * time.Hour
	}
	if m[2] != "" {
		n, err := strconv.Atoi(m[2])
		if err != nil {
			return 0, fmt.Errorf("malformed ISO-8601 duration %q: %w", iso, err)
		}
		d += time.Duration(n) * time.Hour
	}
	if m[3] != "" {
		n, err := strconv.Atoi(m[3])
		if err != nil {
			return 0, fmt.Errorf("malformed ISO-8601 duration %q: %w", iso, err)
		}
		d += time.Duration(n) * time.Minute
	}
	if m[4] != "" {
		n, err := strconv.Atoi(m[4])
		if err != nil {
			return 0, fmt.Errorf("malformed ISO-8601 duration %q: %w", iso, err)
		}
		d += time.Duration(n) * time.Second
	}
	return d, nil
}
