package conn

import "time"

// backoffDelay computes a deterministic capped exponential backoff duration
// for the given zero-based attempt number.
func backoffDelay(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
