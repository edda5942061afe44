package session

import "time"

// Reconnection delay bounds.
const (
	// DefaultInitialDelay is the delay before the first reconnect attempt.
	DefaultInitialDelay = 1 * time.Second

	// DefaultMaxDelay caps the delay between reconnect attempts.
	DefaultMaxDelay = 60 * time.Second
)

// Backoff computes exponential reconnection delays.
//
// The zero value uses the defaults (1s initial, 60s cap). Backoff is
// pure and deterministic: no jitter, no internal state.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay returns the wait before the given attempt:
// min(Initial * 2^attempt, Max).
//
// Delay(0) == Initial. The sequence is monotonic non-decreasing and
// overflow-safe for any attempt value; negative attempts are treated
// as zero.
func (b Backoff) Delay(attempt int) time.Duration {
	initial := b.Initial
	if initial <= 0 {
		initial = DefaultInitialDelay
	}
	maxDelay := b.Max
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	if maxDelay < initial {
		maxDelay = initial
	}
	if attempt < 0 {
		attempt = 0
	}

	// Doubling with a cap avoids shift overflow for large attempts.
	delay := initial
	for i := 0; i < attempt; i++ {
		if delay >= maxDelay/2 {
			return maxDelay
		}
		delay *= 2
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}
