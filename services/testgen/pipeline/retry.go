// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import "time"

// RetryPolicy decides whether a classified failure earns another attempt.
//
// # Description
//
// The policy is a pure function of the failure class and how many retries
// the job has already consumed. It holds no clock, spawns no timers, and
// shares one budget across all retryable failure kinds: a job that burned
// two retries on timeouts has only one left for anything else.
//
// # Thread Safety
//
// RetryPolicy is immutable after construction and safe to share.
type RetryPolicy struct {
	delays []time.Duration
}

// NewRetryPolicy builds a policy from the delay schedule. The schedule
// length is the retry budget; delays[n] is the pause before retry n+1.
func NewRetryPolicy(delays []time.Duration) RetryPolicy {
	out := make([]time.Duration, len(delays))
	copy(out, delays)
	return RetryPolicy{delays: out}
}

// Decision is the outcome of a retry consultation.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// Decide returns the action for a failure of the given class after the job
// has already consumed attempt retries.
func (p RetryPolicy) Decide(class Class, attempt int) Decision {
	if class != ClassRetryable {
		return Decision{}
	}
	if attempt < 0 || attempt >= len(p.delays) {
		return Decision{}
	}
	return Decision{Retry: true, Delay: p.delays[attempt]}
}

// Budget returns the maximum number of retries the policy grants.
func (p RetryPolicy) Budget() int { return len(p.delays) }
