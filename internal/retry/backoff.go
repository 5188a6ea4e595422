package retry

import (
	"math"
	"time"

	"github.com/xamircastel/xafra-ads-v5-sub000/internal/model"
)

// Delay computes the exponential backoff for a given attempt count:
// min(initial * multiplier^(attempts-1), max). Jitter is applied separately
// so the schedule itself stays monotonic and testable.
func Delay(initial time.Duration, multiplier float64, max time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if multiplier < 1 {
		multiplier = 1
	}
	d := time.Duration(float64(initial) * math.Pow(multiplier, float64(attempts-1)))
	if d > max || d <= 0 { // overflow guard
		d = max
	}
	return d
}

// itemDelay reads the policy stamped onto the retry item.
func itemDelay(item *model.RetryItem, attempts int) time.Duration {
	return Delay(
		time.Duration(item.InitialDelayMs)*time.Millisecond,
		item.Multiplier,
		time.Duration(item.MaxDelayMs)*time.Millisecond,
		attempts,
	)
}

// jitterFraction caps jitter at 10% of the computed delay, enough to spread
// synchronized retry storms without distorting the schedule.
const jitterFraction = 0.10
