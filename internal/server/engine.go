// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package server implements the Server Aggregation Engine (spec.md
// §4.5): a multiplexed TCP listener that assembles incoming framed
// messages per peer, and on a 1-second-quantized flush condition, sums
// them into a fleet-wide counter table, diffs against the previous
// table to produce rates, and publishes.
//
// The Python source's select.select-based single-thread event loop is
// not idiomatic Go; here, one goroutine per accepted connection does
// blocking reads and decodes, pushing complete messages onto a single
// channel read by one aggregation goroutine. That goroutine is the only
// place the peer map, FleetTable and PreviousFleetTable are touched, so
// the sum/diff/flush/publish critical section still runs without locks
// on a single goroutine, preserving spec.md §5's ordering guarantees.
package server

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/plaguedbypenguins/lustreharvest/internal/emitter"
	"github.com/plaguedbypenguins/lustreharvest/internal/metrics"
	"github.com/plaguedbypenguins/lustreharvest/internal/model"
	"github.com/plaguedbypenguins/lustreharvest/internal/wire"
	"github.com/plaguedbypenguins/lustreharvest/pkg/log"
)

// maxBodySize bounds the declared body length accepted from a header,
// guarding against a corrupt or hostile length field triggering an
// oversized allocation; legitimate fleets are many orders of magnitude
// smaller than this.
const maxBodySize = 64 << 20

// RelaySender forwards the post-sum FleetTable to peer server
// instances. Implemented by *relay.Relay; an interface here avoids a
// dependency from server -> relay's concrete connection management.
type RelaySender interface {
	Send(fleet model.FleetTable, fss []string)
}

type eventKind int

const (
	eventConnect eventKind = iota
	eventClose
	eventFrame
)

type engineEvent struct {
	kind    eventKind
	key     peerKey
	msg     *wire.Message
	arrived time.Time
}

// Engine is the Server Aggregation Engine.
type Engine struct {
	Listener  net.Listener
	Codec     *wire.Codec
	Secret    []byte
	Period    time.Duration // Δ, the phase period; bounds the flush quiescence window
	Emitter   *emitter.Emitter
	Metrics   *metrics.Registry
	Relay     RelaySender

	events chan engineEvent

	peers              map[peerKey]*peerState
	fleet              model.FleetTable
	fleetTime          time.Time
	prevFleet          model.FleetTable
	prevFleetTime      time.Time
	prevFss            []string
	compositionChanged bool
	unprocessedData    bool
	lastArrival        time.Time
}

// New returns an Engine listening on ln.
func New(ln net.Listener, secret []byte, period time.Duration) *Engine {
	return &Engine{
		Listener: ln,
		Codec:    wire.NewCodec(),
		Secret:   secret,
		Period:   period,
		events:   make(chan engineEvent, 256),
		peers:    map[peerKey]*peerState{},
		fleet:    model.FleetTable{},
	}
}

// Run accepts connections until the listener is closed, and drives the
// single aggregation goroutine. It blocks until the listener closes.
func (e *Engine) Run() {
	go e.aggregationLoop()
	e.acceptLoop()
}

func (e *Engine) acceptLoop() {
	for {
		conn, err := e.Listener.Accept()
		if err != nil {
			log.Infof("server: listener closed: %v", err)
			return
		}
		go e.handleConn(conn)
	}
}

// handleConn owns one peer's connection for its whole lifetime: it
// reassembles frames (each read is exact-length, so TCP's own buffering
// does the job the Python source's manual byte-buffer bookkeeping did)
// and pushes decoded messages to the aggregation goroutine.
func (e *Engine) handleConn(conn net.Conn) {
	key := keyFromAddr(conn.RemoteAddr())
	e.events <- engineEvent{kind: eventConnect, key: key}
	if e.Metrics != nil {
		e.Metrics.PeersConnected.Inc()
	}

	defer func() {
		conn.Close()
		e.events <- engineEvent{kind: eventClose, key: key}
		if e.Metrics != nil {
			e.Metrics.PeersConnected.Dec()
		}
	}()

	for {
		msg, err := e.readFrame(conn)
		if err != nil {
			if isClosed(err) {
				return
			}
			// Framing/auth/body error: drop this message, keep the
			// connection and resume waiting for the next header.
			log.Warnf("server: peer %s: %v", conn.RemoteAddr(), err)
			if e.Metrics != nil {
				e.Metrics.MessagesRejected.WithLabelValues(rejectReason(err)).Inc()
			}
			continue
		}

		if e.Metrics != nil {
			e.Metrics.MessagesDecoded.WithLabelValues(msg.DataType.String()).Inc()
		}
		e.events <- engineEvent{kind: eventFrame, key: key, msg: msg, arrived: time.Now()}
	}
}

func (e *Engine) readFrame(conn net.Conn) (*wire.Message, error) {
	hdr := make([]byte, wire.HeaderSize)
	if _, err := io.ReadFull(conn, hdr); err != nil {
		return nil, err
	}

	bodyLen, bodyDigest, err := e.Codec.ParseHeader(hdr, e.Secret)
	if err != nil {
		return nil, err
	}
	if bodyLen > maxBodySize {
		return nil, wire.ErrOversize
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(conn, body); err != nil {
		return nil, err
	}
	if err := e.Codec.VerifyBody(body, bodyDigest); err != nil {
		return nil, err
	}

	return e.Codec.DecodeBody(body)
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed)
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, wire.ErrInvalidHeader):
		return "invalid_header"
	case errors.Is(err, wire.ErrAuthMismatch):
		return "auth_mismatch"
	case errors.Is(err, wire.ErrBodyCorrupt):
		return "body_corrupt"
	case errors.Is(err, wire.ErrOversize):
		return "oversize"
	case errors.Is(err, wire.ErrShortHeader):
		return "short_header"
	default:
		return "other"
	}
}

// aggregationLoop is the only goroutine that ever touches e.peers,
// e.fleet and e.prevFleet.
func (e *Engine) aggregationLoop() {
	quiescence := e.Period / 2
	if quiescence > 5*time.Second {
		quiescence = 5 * time.Second
	}

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-e.events:
			if !ok {
				return
			}
			e.handleEvent(ev)

		case <-ticker.C:
			if e.unprocessedData && !e.lastArrival.IsZero() && time.Since(e.lastArrival) >= quiescence {
				e.flush()
				e.unprocessedData = false
			}
		}
	}
}

func (e *Engine) handleEvent(ev engineEvent) {
	switch ev.kind {
	case eventConnect:
		e.peers[ev.key] = &peerState{}
		e.compositionChanged = true

	case eventClose:
		delete(e.peers, ev.key)
		e.compositionChanged = true

	case eventFrame:
		p, ok := e.peers[ev.key]
		if !ok {
			p = &peerState{}
			e.peers[ev.key] = p
		}
		p.dataType = ev.msg.DataType
		p.snapshot = ev.msg.Snapshot
		p.relay = ev.msg.Relay
		p.lastArrival = ev.arrived
		p.hasData = true
		e.unprocessedData = true
		e.lastArrival = ev.arrived
	}
}

// flush implements spec.md §4.5 steps 1-11.
func (e *Engine) flush() {
	prevFleet := e.fleet
	prevFleetTime := e.fleetTime
	tCur := e.lastArrival

	var directSnapshots []model.Snapshot
	var relayPayloads []model.RelayPayload
	for _, p := range e.peers {
		if !p.hasData {
			continue
		}
		switch p.dataType {
		case model.DataDirect:
			if p.snapshot != nil {
				directSnapshots = append(directSnapshots, p.snapshot)
			}
		case model.DataRelay:
			if p.relay != nil {
				relayPayloads = append(relayPayloads, *p.relay)
			}
		}
	}

	fleet, fss, suppressed := computeFleet(directSnapshots, relayPayloads)

	if e.Relay != nil {
		localFleet, localFss, _ := computeFleet(directSnapshots, nil)
		e.Relay.Send(localFleet, localFss)
	}

	// Clear every peer's decoded payload so a peer going silent does
	// not republish stale data at the next flush.
	for _, p := range e.peers {
		p.snapshot = nil
		p.relay = nil
		p.hasData = false
	}

	skip := e.compositionChanged
	e.compositionChanged = false
	if !fssEqual(fss, e.prevFss) {
		skip = true
	}
	e.prevFss = fss

	e.fleet = fleet
	e.fleetTime = tCur
	if e.Metrics != nil {
		e.Metrics.Flushes.Inc()
	}

	if skip {
		log.Debugf("server: flush skipped publication (fleet composition changed)")
		return
	}

	dt := tCur.Sub(prevFleetTime).Seconds()
	rt, errFlag := computeRates(fleet, prevFleet, fss, dt)
	if errFlag {
		e.compositionChanged = true
		log.Warnf("server: counter reset detected, suppressing publication and forcing re-baseline")
		return
	}

	if e.Emitter != nil {
		e.Emitter.Emit(rt, suppressed)
	}
	if e.Metrics != nil {
		e.Metrics.SetLastFlush(rt)
	}
}
