// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package emitter

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/plaguedbypenguins/lustreharvest/internal/model"
)

type stubResolver struct {
	hosts map[string]string
}

func (s *stubResolver) Resolve(ip string) (string, error) {
	if h, ok := s.hosts[ip]; ok {
		return h, nil
	}
	return "", fmt.Errorf("unknown host %s", ip)
}

type stubPublisher struct {
	points []DataPoint
}

func (s *stubPublisher) Publish(p DataPoint) error {
	s.points = append(s.points, p)
	return nil
}

func (s *stubPublisher) Close() error { return nil }

func TestEmitPublishesFourMetricsPerClient(t *testing.T) {
	pub := &stubPublisher{}
	e := &Emitter{
		Publisher: pub,
		Resolver:  &stubResolver{hosts: map[string]string{"10.1.0.5": "client1.example.org"}},
		Aliases:   map[string]string{"data": "vu_short"},
	}

	rt := model.RateTable{
		"data": {
			"10.1.0.5@o2ib": model.ClientRates{ReadRate: 5000000, WriteRate: 0, OssOpsRate: 1, MdsOpsRate: 0},
		},
	}

	e.Emit(rt, nil)

	require.Len(t, pub.points, 4)
	names := map[string]float64{}
	for _, p := range pub.points {
		names[p.Name] = p.Value
		require.Equal(t, "10.1.0.5:client1.example.org", p.Spoof)
	}
	require.Equal(t, 5000000.0, names["vu_short_read_bytes"])
	require.Equal(t, 0.0, names["vu_short_write_bytes"])
	require.Equal(t, 1.0, names["vu_short_oss_ops"])
	require.Equal(t, 0.0, names["vu_short_mds_ops"])
}

func TestEmitDropsUnknownHost(t *testing.T) {
	pub := &stubPublisher{}
	e := &Emitter{
		Publisher: pub,
		Resolver:  &stubResolver{hosts: map[string]string{}},
		Aliases:   map[string]string{},
	}

	rt := model.RateTable{
		"data": {
			"10.99.0.5@o2ib": model.ClientRates{ReadRate: 1},
		},
	}
	e.Emit(rt, nil)
	require.Empty(t, pub.points)
}

func TestEmitSuppressesMetadataOnlyFilesystem(t *testing.T) {
	pub := &stubPublisher{}
	e := &Emitter{
		Publisher: pub,
		Resolver:  &stubResolver{hosts: map[string]string{"10.1.0.9": "mds-client.example.org"}},
		Aliases:   map[string]string{},
	}

	rt := model.RateTable{
		"apps": {
			"10.1.0.9@o2ib": model.ClientRates{ReadRate: 0, WriteRate: 0, OssOpsRate: 0, MdsOpsRate: 4},
		},
	}

	e.Emit(rt, map[string]bool{"apps": true})

	require.Len(t, pub.points, 1)
	require.Equal(t, "apps_mds_ops", pub.points[0].Name)
	require.Equal(t, 4.0, pub.points[0].Value)
}

func TestEmitDryRunIsNoOp(t *testing.T) {
	pub := &stubPublisher{}
	e := &Emitter{
		Publisher: pub,
		Resolver:  &stubResolver{hosts: map[string]string{"10.1.0.5": "client1"}},
		DryRun:    true,
	}
	rt := model.RateTable{"data": {"10.1.0.5@o2ib": model.ClientRates{ReadRate: 1}}}
	e.Emit(rt, nil)
	require.Empty(t, pub.points)
}
