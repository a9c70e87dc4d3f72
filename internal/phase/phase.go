// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package phase implements the wall-clock phase alignment of the Client
// Engine's send cadence: every client wakes at the same 1/K-minute
// boundaries without needing to coordinate directly. The Server
// Aggregation Engine only takes the phase period from it, to size its
// flush quiescence window; it does not sleep on phase boundaries.
package phase

import (
	"time"

	"github.com/plaguedbypenguins/lustreharvest/pkg/log"
)

// Scheduler sleeps until the next phase boundary and reports the
// interval index of that boundary. K is the configured gather rate
// (phases per minute); Offset shifts the boundary by a fixed number of
// seconds, letting server flushes lag client sends if ever needed.
type Scheduler struct {
	K      int
	Offset time.Duration

	lastIdx    int
	haveLast   bool
	sleepFunc  func(time.Duration)
	nowFunc    func() time.Time
}

// New returns a Scheduler for a gather rate of k phases per minute.
func New(k int) *Scheduler {
	return &Scheduler{
		K:         k,
		sleepFunc: time.Sleep,
		nowFunc:   time.Now,
	}
}

// Period is the phase length Δ = 60/K seconds.
func (s *Scheduler) Period() time.Duration {
	return time.Duration(60_000/s.K) * time.Millisecond
}

// Next sleeps until the next phase boundary (using wall-clock time, not
// a monotonic clock, so independently-running hosts land on the same
// boundary) and returns the interval index and the time it woke at.
// Overrun — waking up having already missed one or more boundaries — is
// logged but does not change which boundary is reported; the caller's
// own work is expected to keep up within one period.
func (s *Scheduler) Next() (int, time.Time) {
	period := s.Period()
	now := s.nowFunc()

	sinceMinute := time.Duration(now.Second())*time.Second + time.Duration(now.Nanosecond())
	periods := sinceMinute / period
	next := (periods + 1) * period
	target := now.Truncate(time.Minute).Add(next).Add(s.Offset)
	if !target.After(now) {
		target = target.Add(period)
	}

	sleepFor := target.Sub(now)
	if sleepFor > 0 {
		s.sleepFunc(sleepFor)
	}

	woke := s.nowFunc()
	idx := int((time.Duration(woke.Second())*time.Second + time.Duration(woke.Nanosecond())) / period)
	idx %= s.K

	if s.haveLast {
		expected := (s.lastIdx + 1) % s.K
		if idx != expected {
			log.Warnf("phase: interval index jumped from %d to %d (expected %d); work overran the phase budget", s.lastIdx, idx, expected)
		}
	}
	s.lastIdx = idx
	s.haveLast = true

	return idx, woke
}
