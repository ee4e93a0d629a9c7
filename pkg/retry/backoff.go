// Package retry provides exponential backoff with deterministic jitter and a
// context-aware retry loop for calls that cross the process boundary.
package retry

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// Policy bounds a retry loop.
type Policy struct {
	BaseMs      int64
	MaxMs       int64
	MaxJitterMs int64
	MaxAttempts int
}

// DefaultPolicy is used for entity store and submission calls.
var DefaultPolicy = Policy{BaseMs: 100, MaxMs: 5000, MaxJitterMs: 50, MaxAttempts: 4}

// Params identify one attempt; the same params always give the same jitter.
type Params struct {
	Key          string // e.g. "entitystore:fetch:<ref>"
	AttemptIndex int
}

// ComputeBackoff returns the delay before attempt AttemptIndex+1:
// base * 2^attempt capped at MaxMs, plus deterministic jitter.
func ComputeBackoff(params Params, policy Policy) time.Duration {
	factor := int64(1)
	if params.AttemptIndex > 0 {
		if params.AttemptIndex > 30 {
			factor = 1 << 30
		} else {
			factor = 1 << params.AttemptIndex
		}
	}

	delay := policy.BaseMs * factor
	if policy.MaxMs > 0 && delay > policy.MaxMs {
		delay = policy.MaxMs
	}
	return time.Duration(delay+ComputeDeterministicJitter(params, policy)) * time.Millisecond
}

// ComputeDeterministicJitter derives jitter in [0, MaxJitterMs) from the params.
func ComputeDeterministicJitter(params Params, policy Policy) int64 {
	if policy.MaxJitterMs <= 0 {
		return 0
	}
	seed := fmt.Sprintf("%s:%d", params.Key, params.AttemptIndex)
	hash := sha256.Sum256([]byte(seed))
	basis := binary.BigEndian.Uint64(hash[:8])
	return int64(basis % uint64(policy.MaxJitterMs)) //nolint:gosec // MaxJitterMs is positive
}
