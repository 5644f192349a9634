package ratelimit

import "strconv"

// Header names emitted for rate-limit outcomes. Both the IETF draft
// names and the legacy X- forms are set, with identical values.
const (
	HeaderRateLimitLimit     = "RateLimit-Limit"
	HeaderRateLimitRemaining = "RateLimit-Remaining"
	HeaderRateLimitReset     = "RateLimit-Reset"

	HeaderXRateLimitLimit     = "X-RateLimit-Limit"
	HeaderXRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderXRateLimitReset     = "X-RateLimit-Reset"

	HeaderRetryAfter = "Retry-After"
)

// Headers renders the admission as HTTP response headers. Reset and
// Retry-After are whole seconds, rounded up from milliseconds and
// clamped at zero; Remaining is clamped at zero. Retry-After appears
// only on denials.
//
// The result is a plain map rather than an http.Header because the
// legacy names are case-sensitive by convention and MIME
// canonicalization would rewrite X-RateLimit-Limit.
func (a Admission) Headers(nowMs int64) map[string]string {
	limit := strconv.Itoa(a.Limit)
	remainingVal := strconv.Itoa(max(0, a.Remaining))
	reset := strconv.FormatInt(ceilSeconds(a.ResetAt-nowMs), 10)

	headers := map[string]string{
		HeaderRateLimitLimit:     limit,
		HeaderRateLimitRemaining: remainingVal,
		HeaderRateLimitReset:     reset,

		HeaderXRateLimitLimit:     limit,
		HeaderXRateLimitRemaining: remainingVal,
		HeaderXRateLimitReset:     reset,
	}
	if !a.Allowed {
		headers[HeaderRetryAfter] = strconv.FormatInt(ceilSeconds(a.RetryAfterMs), 10)
	}
	return headers
}

// ceilSeconds converts milliseconds to whole seconds, rounding up and
// clamping at zero.
func ceilSeconds(ms int64) int64 {
	if ms <= 0 {
		return 0
	}
	return (ms + 999) / 1000
}
