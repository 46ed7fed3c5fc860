package backoff

import (
	"math"
	"math/rand"
	"time"
)

// CalculateRetryDelay calculates the retry delay using exponential backoff with jitter.
// attempt is the attempt about to be made, so the first attempt has no delay.
func CalculateRetryDelay(attempt int, baseRetryDelay time.Duration) time.Duration {
	if attempt <= 1 || baseRetryDelay <= 0 {
		return 0
	}

	// 2^(attempt-1) * base
	backoff := math.Pow(2, float64(attempt-1))
	baseDelayCalc := time.Duration(backoff) * baseRetryDelay

	// +/- 50% of the base delay
	jitterRange := float64(baseDelayCalc) * 0.5
	jitter := time.Duration(rand.Float64()*2*jitterRange - jitterRange)

	finalDelay := baseDelayCalc + jitter
	if finalDelay < 0 {
		finalDelay = 0
	}
	return finalDelay
}
