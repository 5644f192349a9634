package ratelimit

// =============================================================================
// Sliding-Window Counter
// =============================================================================
//
// The primitive under every admission decision: an ordered sequence of
// epoch-ms event timestamps with lazy eviction. One window exists per
// (tenant, horizon) pair and is owned by the Limiter, which serializes all
// access; the window itself holds no lock.
//
// Accuracy does not depend on eviction having run: admit and count always
// re-evaluate against now-span, so stale timestamps can never cause a false
// admission. Eviction only bounds memory and per-operation work.
//
// =============================================================================

const (
	// cleanupIntervalMs is how long a window may go between lazy evictions.
	cleanupIntervalMs = 1_000

	// maxStoredSamples caps the sequence length; record prunes to the
	// window as soon as the cap is crossed.
	maxStoredSamples = 10_000
)

// slidingWindow tracks event timestamps inside a fixed span.
type slidingWindow struct {
	spanMs      int64
	timestamps  []int64
	lastCleanup int64
}

func newSlidingWindow(spanMs int64) *slidingWindow {
	return &slidingWindow{spanMs: spanMs}
}

// admit reports whether one more event at time now would stay strictly
// under max. It never inserts.
func (w *slidingWindow) admit(now int64, max int) bool {
	w.maybeCleanup(now)
	return w.count(now) < max
}

// record appends an event at time now.
func (w *slidingWindow) record(now int64) {
	w.maybeCleanup(now)
	w.timestamps = append(w.timestamps, now)
	if len(w.timestamps) > maxStoredSamples {
		w.evict(now)
	}
}

// count returns the number of events strictly inside (now-span, now].
func (w *slidingWindow) count(now int64) int {
	cutoff := now - w.spanMs
	n := 0
	for _, ts := range w.timestamps {
		if ts > cutoff {
			n++
		}
	}
	return n
}

// resetAt returns the epoch-ms time when the window next frees a slot:
// the oldest in-window timestamp plus the span. Leading samples that
// have already aged out are skipped, since lazy eviction may not have
// run yet and a stale head would report a reset in the past. A window
// with no in-window samples resets a full span from now.
func (w *slidingWindow) resetAt(now int64) int64 {
	cutoff := now - w.spanMs
	for _, ts := range w.timestamps {
		if ts > cutoff {
			return ts + w.spanMs
		}
	}
	return now + w.spanMs
}

// reset clears the sequence.
func (w *slidingWindow) reset() {
	w.timestamps = nil
	w.lastCleanup = 0
}

// maybeCleanup evicts expired timestamps at most once per cleanup
// interval.
func (w *slidingWindow) maybeCleanup(now int64) {
	if now-w.lastCleanup > cleanupIntervalMs {
		w.evict(now)
	}
}

func (w *slidingWindow) evict(now int64) {
	cutoff := now - w.spanMs
	kept := w.timestamps[:0]
	for _, ts := range w.timestamps {
		if ts > cutoff {
			kept = append(kept, ts)
		}
	}
	// Timestamps arrive in order, so the retained slice stays sorted.
	w.timestamps = kept
	w.lastCleanup = now
}
