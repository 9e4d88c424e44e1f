// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of AccessFlow

// Package spanstat provides cumulated duration measurement for repeated
// operations such as recomputation tasks.
package spanstat

import (
	"time"
)

// SpanStat measures the total duration of all time spent in between Start()
// and End() calls.
type SpanStat struct {
	spanStart       time.Time
	successDuration time.Duration
	failureDuration time.Duration
}

// Start starts a new span
func (s *SpanStat) Start() {
	s.spanStart = time.Now()
}

// End ends the current span and adds the measured duration to the success or
// failure cumulated duration depending on the given success flag
func (s *SpanStat) End(success bool) {
	if !s.spanStart.IsZero() {
		d := time.Since(s.spanStart)
		if success {
			s.successDuration += d
		} else {
			s.failureDuration += d
		}
	}
	s.spanStart = time.Time{}
}

// Total returns the total duration of all spans measured, including both
// successes and failures
func (s *SpanStat) Total() time.Duration {
	return s.successDuration + s.failureDuration
}

// SuccessTotal returns the total duration of all successful spans measured
func (s *SpanStat) SuccessTotal() time.Duration {
	return s.successDuration
}

// FailureTotal returns the total duration of all failed spans measured
func (s *SpanStat) FailureTotal() time.Duration {
	return s.failureDuration
}

// Reset clears all accumulated state
func (s *SpanStat) Reset() {
	s.spanStart = time.Time{}
	s.successDuration = 0
	s.failureDuration = 0
}
