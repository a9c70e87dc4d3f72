// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package relay implements the inter-site relay (spec.md §4.6): when
// the local server's hostname appears in the configured relay
// topology, it re-frames the post-sum FleetTable as a relay-typed
// message and pushes it to each configured peer cluster's head node.
package relay

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/plaguedbypenguins/lustreharvest/internal/metrics"
	"github.com/plaguedbypenguins/lustreharvest/internal/model"
	"github.com/plaguedbypenguins/lustreharvest/internal/wire"
	"github.com/plaguedbypenguins/lustreharvest/pkg/log"
)

// Destinations maps a peer cluster name to its head-node "host:port"
// address.
type Relay struct {
	Destinations map[string]string
	Secret       []byte
	Codec        *wire.Codec
	Metrics      *metrics.Registry

	mu          sync.Mutex
	conns       map[string]net.Conn
	failLimiter map[string]*rate.Limiter
	dialFunc    func(network, address string) (net.Conn, error)
}

// New returns a Relay forwarding to the given cluster -> head-node
// destinations.
func New(destinations map[string]string, secret []byte) *Relay {
	return &Relay{
		Destinations: destinations,
		Secret:       secret,
		Codec:        wire.NewCodec(),
		conns:        map[string]net.Conn{},
		failLimiter:  map[string]*rate.Limiter{},
		dialFunc:     net.Dial,
	}
}

// Send forwards fleet, together with its filesystem set fss, to every configured
// destination, re-establishing any connection that was previously
// marked broken. Errors close and null the connection; the next call
// retries.
func (r *Relay) Send(fleet model.FleetTable, fss []string) {
	if len(r.Destinations) == 0 {
		return
	}

	msg := &wire.Message{
		DataType: model.DataRelay,
		Relay:    &model.RelayPayload{Filesystems: fss, Fleet: fleet},
	}
	frame, err := r.Codec.Encode(msg, r.Secret)
	if err != nil {
		log.Errorf("relay: encoding fleet table: %v", err)
		return
	}

	for cluster, addr := range r.Destinations {
		r.sendTo(cluster, addr, frame)
	}
}

func (r *Relay) sendTo(cluster, addr string, frame []byte) {
	r.mu.Lock()
	conn := r.conns[cluster]
	r.mu.Unlock()

	if conn == nil {
		c, err := r.dialFunc("tcp", addr)
		if err != nil {
			r.logThrottled(cluster, "connecting to %s (%s): %v", cluster, addr, err)
			r.setState(cluster, 0)
			return
		}
		conn = c
		r.mu.Lock()
		r.conns[cluster] = conn
		r.mu.Unlock()
		log.Infof("relay: connected to %s (%s)", cluster, addr)
	}

	if _, err := conn.Write(frame); err != nil {
		r.logThrottled(cluster, "sending to %s (%s): %v", cluster, addr, err)
		conn.Close()
		r.mu.Lock()
		r.conns[cluster] = nil
		r.mu.Unlock()
		r.setState(cluster, 0)
		return
	}
	r.setState(cluster, 1)
}

func (r *Relay) setState(cluster string, v float64) {
	if r.Metrics != nil {
		r.Metrics.RelayState.WithLabelValues(cluster).Set(v)
	}
}

// logThrottled logs relay failures at most once per 30s per
// destination, so a peer cluster's head node being down for an
// extended period doesn't flood the log the way the unconditional
// print in the original source would.
func (r *Relay) logThrottled(cluster string, format string, args ...interface{}) {
	r.mu.Lock()
	lim, ok := r.failLimiter[cluster]
	if !ok {
		lim = rate.NewLimiter(rate.Every(30*time.Second), 1)
		r.failLimiter[cluster] = lim
	}
	r.mu.Unlock()

	if lim.Allow() {
		log.Warnf("relay: "+format, args...)
	}
}

// Close closes every outbound relay connection.
func (r *Relay) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for cluster, conn := range r.conns {
		if conn != nil {
			conn.Close()
		}
		delete(r.conns, cluster)
	}
}
