package infra

import (
	"math/rand"
	"time"
)

const (
	baseDelay = 1 * time.Second
	maxDelay  = 60 * time.Second
)

// CalculateBackoff returns the exponential backoff duration for a given
// retry count: baseDelay * 2^retryCount, capped at maxDelay.
// Negative retry counts return baseDelay.
func CalculateBackoff(retryCount int) time.Duration {
	if retryCount < 0 {
		return baseDelay
	}

	// 2^30 seconds is already far beyond maxDelay; shifting further
	// would overflow.
	if retryCount > 30 {
		return maxDelay
	}

	backoff := baseDelay * time.Duration(1<<retryCount)

	if backoff > maxDelay {
		return maxDelay
	}

	return backoff
}

// JitteredBackoff scales CalculateBackoff by a random factor in [1, 2)
// so reconnecting clients do not stampede the endpoint in lockstep.
// The first retry lands between 1s and 2s.
func JitteredBackoff(retryCount int) time.Duration {
	d := time.Duration(float64(CalculateBackoff(retryCount)) * (1 + rand.Float64()))
	if d > maxDelay {
		return maxDelay
	}
	return d
}
