// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package client implements the Client Engine: on every phase boundary
// it reads local Lustre counters for each configured filesystem, frames
// them through the wire Codec and writes them to a persistent TCP
// connection to its server, reconnecting on failure.
package client

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/time/rate"

	"github.com/plaguedbypenguins/lustreharvest/internal/counterreader"
	"github.com/plaguedbypenguins/lustreharvest/internal/model"
	"github.com/plaguedbypenguins/lustreharvest/internal/phase"
	"github.com/plaguedbypenguins/lustreharvest/internal/wire"
	"github.com/plaguedbypenguins/lustreharvest/pkg/log"
)

// Engine drives the client state machine described in spec.md §4.4:
// Disconnected -> connect -> Connected -> (phase, read, send)* -> on
// error back to Disconnected.
type Engine struct {
	ServerAddr   string
	Filesystems  []string
	Reader       *counterreader.Reader
	Codec        *wire.Codec
	Secret       []byte
	Scheduler    *phase.Scheduler

	reconnectLimiter *rate.Limiter
	dialFunc         func(network, address string) (net.Conn, error)
}

// New returns an Engine. Reconnect attempts are throttled to one per 5s
// (burst 1) so a persistently-down server produces one log line per
// attempt instead of a busy-loop.
func New(serverAddr string, filesystems []string, reader *counterreader.Reader, secret []byte, sched *phase.Scheduler) *Engine {
	return &Engine{
		ServerAddr:       serverAddr,
		Filesystems:      filesystems,
		Reader:           reader,
		Codec:            wire.NewCodec(),
		Secret:           secret,
		Scheduler:        sched,
		reconnectLimiter: rate.NewLimiter(rate.Every(5*time.Second), 1),
		dialFunc:         net.Dial,
	}
}

// Run drives the state machine until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := e.connect(ctx)
		if err != nil {
			return
		}

		e.serve(ctx, conn)
		conn.Close()
	}
}

// connect blocks (throttled) until a connection succeeds or ctx is
// cancelled.
func (e *Engine) connect(ctx context.Context) (net.Conn, error) {
	for {
		if err := e.reconnectLimiter.Wait(ctx); err != nil {
			return nil, err
		}

		conn, err := e.dialFunc("tcp", e.ServerAddr)
		if err == nil {
			log.Infof("client: connected to %s", e.ServerAddr)
			return conn, nil
		}
		log.Warnf("client: connecting to %s: %v", e.ServerAddr, err)
	}
}

// serve runs the Connected-state loop: on every phase boundary, build a
// Snapshot, encode it, and write it to conn. Returns when a write fails
// or ctx is cancelled, so the caller can reconnect.
func (e *Engine) serve(ctx context.Context, conn net.Conn) {
	period := e.Scheduler.Period()

	for {
		if ctx.Err() != nil {
			return
		}

		_, woke := e.Scheduler.Next()

		snap := model.Snapshot{}
		for _, fs := range e.Filesystems {
			blocks := e.Reader.Read(fs)
			if len(blocks) > 0 {
				snap[fs] = blocks
			}
		}

		if overrun := time.Since(woke); overrun > period {
			log.Warnf("client: collection for phase at %s overran its %s budget by %s", woke, period, overrun-period)
		}

		msg := &wire.Message{DataType: model.DataDirect, Snapshot: snap}
		frame, err := e.Codec.Encode(msg, e.Secret)
		if err != nil {
			log.Errorf("client: encoding snapshot: %v", err)
			continue
		}

		if err := writeAll(conn, frame); err != nil {
			log.Warnf("client: write to %s failed, reconnecting: %v", e.ServerAddr, err)
			return
		}
	}
}

func writeAll(conn net.Conn, data []byte) error {
	for len(data) > 0 {
		n, err := conn.Write(data)
		if err != nil {
			return fmt.Errorf("client: write: %w", err)
		}
		data = data[n:]
	}
	return nil
}
