// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package server

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/plaguedbypenguins/lustreharvest/internal/model"
)

func TestComputeFleetSumsAcrossPeers(t *testing.T) {
	s1 := model.Snapshot{
		"data": {
			"data-OST0001": model.TargetBlock{
				Role: model.RoleObject,
				Clients: map[model.ClientID]model.CounterTriple{
					"10.1.0.5@o2ib": {ReadBytes: 100, WriteBytes: 10, Ops: 2},
				},
			},
		},
	}
	s2 := model.Snapshot{
		"data": {
			"data-OST0002": model.TargetBlock{
				Role: model.RoleObject,
				Clients: map[model.ClientID]model.CounterTriple{
					"10.1.0.5@o2ib": {ReadBytes: 50, WriteBytes: 5, Ops: 1},
				},
			},
		},
	}

	fleet, fss, suppressed := computeFleet([]model.Snapshot{s1, s2}, nil)
	require.Equal(t, []string{"data"}, fss)
	require.Equal(t, model.ClientCounters{ReadBytes: 150, WriteBytes: 15, OssOps: 3, MdsOps: 0},
		fleet["data"]["10.1.0.5@o2ib"])
	require.Empty(t, suppressed)
}

func TestComputeFleetSuppressesMetadataOnly(t *testing.T) {
	snap := model.Snapshot{
		"apps": {
			"apps-MDT0000": model.TargetBlock{
				Role: model.RoleMetadata,
				Clients: map[model.ClientID]model.CounterTriple{
					"10.1.0.9@o2ib": {ReadBytes: 0, WriteBytes: 0, Ops: 40},
				},
			},
		},
	}

	fleet, fss, suppressed := computeFleet([]model.Snapshot{snap}, nil)
	require.Equal(t, []string{"apps"}, fss)
	cc := fleet["apps"]["10.1.0.9@o2ib"]
	require.Equal(t, uint64(0), cc.ReadBytes)
	require.Equal(t, uint64(0), cc.WriteBytes)
	require.Equal(t, uint64(0), cc.OssOps)
	require.Equal(t, uint64(40), cc.MdsOps)

	// Zeroing the counters is not enough on its own: callers must also
	// see "apps" flagged so publication omits read/write/oss_ops rather
	// than sending them as zero.
	require.True(t, suppressed["apps"])
}

func TestComputeFleetDoesNotSuppressMultipleMetadataTargets(t *testing.T) {
	snap := model.Snapshot{
		"apps": {
			"apps-MDT0000": model.TargetBlock{
				Role:    model.RoleMetadata,
				Clients: map[model.ClientID]model.CounterTriple{"c1@o2ib": {Ops: 10}},
			},
			"apps-MDT0001": model.TargetBlock{
				Role:    model.RoleMetadata,
				Clients: map[model.ClientID]model.CounterTriple{"c1@o2ib": {Ops: 5}},
			},
		},
	}
	fleet, _, suppressed := computeFleet([]model.Snapshot{snap}, nil)
	require.Equal(t, uint64(15), fleet["apps"]["c1@o2ib"].MdsOps)
	require.False(t, suppressed["apps"])
}

func TestComputeFleetMergesDisjointRelayFilesystems(t *testing.T) {
	local := model.Snapshot{
		"data": {
			"data-OST0001": model.TargetBlock{
				Role:    model.RoleObject,
				Clients: map[model.ClientID]model.CounterTriple{"c1@o2ib": {ReadBytes: 10}},
			},
		},
	}
	relay := model.RelayPayload{
		Filesystems: []string{"gdata"},
		Fleet: model.FleetTable{
			"gdata": {"c2@o2ib": model.ClientCounters{ReadBytes: 99}},
		},
	}

	fleet, fss, _ := computeFleet([]model.Snapshot{local}, []model.RelayPayload{relay})
	require.ElementsMatch(t, []string{"data", "gdata"}, fss)
	require.Equal(t, uint64(99), fleet["gdata"]["c2@o2ib"].ReadBytes)
}

func TestComputeFleetIgnoresOverlappingRelayFilesystem(t *testing.T) {
	local := model.Snapshot{
		"data": {
			"data-OST0001": model.TargetBlock{
				Role:    model.RoleObject,
				Clients: map[model.ClientID]model.CounterTriple{"c1@o2ib": {ReadBytes: 10}},
			},
		},
	}
	relay := model.RelayPayload{
		Filesystems: []string{"data"},
		Fleet: model.FleetTable{
			"data": {"c1@o2ib": model.ClientCounters{ReadBytes: 99999}},
		},
	}

	fleet, fss, _ := computeFleet([]model.Snapshot{local}, []model.RelayPayload{relay})
	require.Equal(t, []string{"data"}, fss)
	require.Equal(t, uint64(10), fleet["data"]["c1@o2ib"].ReadBytes)
}

func TestComputeRatesNonDecreasingCounters(t *testing.T) {
	prev := model.FleetTable{"data": {"c1@o2ib": model.ClientCounters{ReadBytes: 100000000}}}
	cur := model.FleetTable{"data": {"c1@o2ib": model.ClientCounters{ReadBytes: 200000000}}}

	rt, errFlag := computeRates(cur, prev, []string{"data"}, 20)
	require.False(t, errFlag)
	require.InDelta(t, 5000000.0, rt["data"]["c1@o2ib"].ReadRate, 0.001)
}

func TestComputeRatesNegativeDeltaSetsErrFlag(t *testing.T) {
	prev := model.FleetTable{"data": {"c1@o2ib": model.ClientCounters{ReadBytes: 200000000}}}
	cur := model.FleetTable{"data": {"c1@o2ib": model.ClientCounters{ReadBytes: 50000000}}}

	rt, errFlag := computeRates(cur, prev, []string{"data"}, 20)
	require.True(t, errFlag)
	require.Equal(t, 0.0, rt["data"]["c1@o2ib"].ReadRate)
}

func TestComputeRatesNewClientYieldsZero(t *testing.T) {
	prev := model.FleetTable{"data": {}}
	cur := model.FleetTable{"data": {"c1@o2ib": model.ClientCounters{ReadBytes: 100}}}

	rt, errFlag := computeRates(cur, prev, []string{"data"}, 20)
	require.False(t, errFlag)
	require.Equal(t, model.ClientRates{}, rt["data"]["c1@o2ib"])
}

func TestFssEqual(t *testing.T) {
	require.True(t, fssEqual([]string{"a", "b"}, []string{"a", "b"}))
	require.False(t, fssEqual([]string{"a"}, []string{"a", "b"}))
	require.False(t, fssEqual([]string{"a", "c"}, []string{"a", "b"}))
}
