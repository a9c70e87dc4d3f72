// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package emitter converts a RateTable into publish calls against the
// downstream monitoring bus, spoofing each metric's origin to the
// consuming client host rather than the emitting storage server.
package emitter

import (
	"fmt"

	"github.com/plaguedbypenguins/lustreharvest/internal/metrics"
	"github.com/plaguedbypenguins/lustreharvest/internal/model"
	"github.com/plaguedbypenguins/lustreharvest/pkg/log"
)

// Publisher is the downstream monitoring bus handle; implemented by
// *GmetricPublisher for production use and stubbed in tests.
type Publisher interface {
	Publish(p DataPoint) error
	Close() error
}

// HostResolver resolves an IPv4 string to a hostname. *dnscache.Resolver
// satisfies this; tests substitute a stub to avoid real DNS traffic.
type HostResolver interface {
	Resolve(ip string) (string, error)
}

// DataPoint is one (metric, value, spoof-identity) tuple ready to send.
type DataPoint struct {
	Name   string
	Value  float64
	Unit   string
	Spoof  string // "ip:host"
}

// Emitter publishes a RateTable's entries under spoofed client
// identities. DryRun suppresses all publication (spec.md §4.7).
type Emitter struct {
	Publisher Publisher
	Resolver  HostResolver
	Aliases   map[string]string
	DryRun    bool
	Metrics   *metrics.Registry
}

// Emit publishes every datum in rt. Metric names are
// "<alias>_read_bytes", "<alias>_write_bytes", "<alias>_oss_ops",
// "<alias>_mds_ops" per filesystem. suppressed names the filesystems the
// aggregation engine identified as metadata-only (spec.md §4.5 step 5):
// for those, read/write/oss_ops carry no meaning and are left out of
// publication entirely rather than published as zero.
func (e *Emitter) Emit(rt model.RateTable, suppressed map[string]bool) {
	if e.DryRun {
		return
	}

	for fs, clients := range rt {
		alias := e.alias(fs)
		metaOnly := suppressed[fs]
		for client, rates := range clients {
			e.emitClient(alias, client, rates, metaOnly)
		}
	}
}

func (e *Emitter) alias(fs string) string {
	if a, ok := e.Aliases[fs]; ok {
		return a
	}
	return fs
}

func (e *Emitter) emitClient(alias string, client model.ClientID, rates model.ClientRates, metaOnly bool) {
	ip := client.IP()

	host, err := e.Resolver.Resolve(ip)
	if err != nil {
		if e.Metrics != nil {
			e.Metrics.PublishDrops.WithLabelValues("unknown_host").Inc()
		}
		log.Debugf("emitter: dropping client %s: %v", client, err)
		return
	}
	spoof := fmt.Sprintf("%s:%s", ip, host)

	var points []DataPoint
	if !metaOnly {
		points = append(points,
			DataPoint{Name: alias + "_read_bytes", Value: rates.ReadRate, Unit: "bytes/sec", Spoof: spoof},
			DataPoint{Name: alias + "_write_bytes", Value: rates.WriteRate, Unit: "bytes/sec", Spoof: spoof},
			DataPoint{Name: alias + "_oss_ops", Value: rates.OssOpsRate, Unit: "ops/sec", Spoof: spoof},
		)
	}
	points = append(points, DataPoint{Name: alias + "_mds_ops", Value: rates.MdsOpsRate, Unit: "ops/sec", Spoof: spoof})

	for _, p := range points {
		if e.Metrics != nil {
			e.Metrics.PublishAttempts.Inc()
		}
		if err := e.Publisher.Publish(p); err != nil {
			log.Warnf("emitter: publish %s for %s failed: %v", p.Name, spoof, err)
			if e.Metrics != nil {
				e.Metrics.PublishDrops.WithLabelValues("publish_error").Inc()
			}
		}
	}
}
