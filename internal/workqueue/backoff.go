package workqueue

import (
	"math/rand"
	"time"
)

// maxBackoff caps the retry delay regardless of attempt count.
const maxBackoff = 6 * time.Hour

// NextDelay computes the delay before the given retry. attempt is the
// number of executions that have already run, so the first retry passes 1.
// Adds ±10% jitter so retries from many units don't align.
func NextDelay(policy BackoffPolicy, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	base := policy.BaseDelay
	if base <= 0 {
		base = DefaultBackoff().BaseDelay
	}

	var delay time.Duration
	switch policy.Kind {
	case BackoffLinear:
		delay = base * time.Duration(attempt)
	default:
		delay = base
		for i := 1; i < attempt; i++ {
			delay *= 2
			if delay >= maxBackoff {
				break
			}
		}
	}

	if delay > maxBackoff {
		delay = maxBackoff
	}

	jitter := float64(delay) * 0.1
	delay += time.Duration(jitter * (2.0*rand.Float64() - 1.0))

	return delay
}
