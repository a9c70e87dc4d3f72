// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package dnscache

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveCachesSuccess(t *testing.T) {
	r := New("")
	var calls int32
	r.lookupFunc = func(ip string) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "client1.example.org", nil
	}

	host, err := r.Resolve("10.1.0.5")
	require.NoError(t, err)
	require.Equal(t, "client1.example.org", host)

	_, err = r.Resolve("10.1.0.5")
	require.NoError(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestResolveCachesFailure(t *testing.T) {
	r := New("")
	var calls int32
	r.lookupFunc = func(ip string) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "", ErrUnknownHost
	}

	_, err := r.Resolve("10.99.0.5")
	require.ErrorIs(t, err, ErrUnknownHost)

	_, err = r.Resolve("10.99.0.5")
	require.ErrorIs(t, err, ErrUnknownHost)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestTrimTrailingDot(t *testing.T) {
	require.Equal(t, "host.example.org", trimTrailingDot("host.example.org."))
	require.Equal(t, "host.example.org", trimTrailingDot("host.example.org"))
}
