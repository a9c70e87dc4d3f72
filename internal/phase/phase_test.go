// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package phase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPeriodForDefaultGatherRate(t *testing.T) {
	s := New(3)
	require.Equal(t, 20*time.Second, s.Period())
}

func TestNextAdvancesIndexModuloK(t *testing.T) {
	s := New(3)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	clock := base
	s.nowFunc = func() time.Time { return clock }
	s.sleepFunc = func(d time.Duration) { clock = clock.Add(d) }

	idx1, _ := s.Next()
	idx2, _ := s.Next()
	idx3, _ := s.Next()

	require.Equal(t, (idx1+1)%3, idx2)
	require.Equal(t, (idx2+1)%3, idx3)
}

func TestNextSleepsToBoundary(t *testing.T) {
	s := New(3)
	// 00:00:07 -> next boundary at 00:00:20 (period 20s), 13s away.
	clock := time.Date(2026, 1, 1, 0, 0, 7, 0, time.UTC)
	s.nowFunc = func() time.Time { return clock }
	var slept time.Duration
	s.sleepFunc = func(d time.Duration) {
		slept = d
		clock = clock.Add(d)
	}

	idx, woke := s.Next()
	require.Equal(t, 13*time.Second, slept)
	require.Equal(t, 1, idx)
	require.Equal(t, 20, woke.Second())
}
