// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package emitter

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
)

// GmetricPublisher sends Ganglia gmetric-style XDR-encoded UDP
// datagrams to a gmond instance (unicast or multicast). This is the
// one piece of wire format from the *consumed* external interface that
// isn't backed by a library dependency: no example repo in the corpus
// carries a gmetric client, so it's implemented directly against the
// documented gmond wire protocol.
type GmetricPublisher struct {
	conn net.Conn
}

const (
	msgTypeMetadata = int32(128)
	msgTypeFloat    = int32(146)

	slopeBoth = int32(3)
	tmax      = int32(60)
	dmax      = int32(0)
)

// NewGmetricPublisher dials the gmond endpoint. protocol is informational
// only: Go's UDP dial works the same for unicast and multicast
// destinations (multicast group addresses are just another UDP peer to
// Dial against).
func NewGmetricPublisher(host string, port int, protocol string) (*GmetricPublisher, error) {
	conn, err := net.Dial("udp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, fmt.Errorf("emitter: dialing gmond at %s:%d (%s): %w", host, port, protocol, err)
	}
	return &GmetricPublisher{conn: conn}, nil
}

// Publish sends the metadata packet followed by the value packet for
// one data point, exactly as gmetric(1) does for a one-shot metric
// announcement: gmond treats a metric it hasn't seen metadata for as
// unknown, so metadata precedes every value send (cheap relative to
// UDP loss, and idempotent on the receiver).
func (p *GmetricPublisher) Publish(dp DataPoint) error {
	meta := encodeMetadata(dp)
	if _, err := p.conn.Write(meta); err != nil {
		return fmt.Errorf("emitter: sending metadata for %s: %w", dp.Name, err)
	}

	value := encodeValue(dp)
	if _, err := p.conn.Write(value); err != nil {
		return fmt.Errorf("emitter: sending value for %s: %w", dp.Name, err)
	}
	return nil
}

// Close releases the underlying UDP socket.
func (p *GmetricPublisher) Close() error {
	return p.conn.Close()
}

func encodeMetadata(dp DataPoint) []byte {
	var buf bytes.Buffer
	writeInt32(&buf, msgTypeMetadata)
	writeString(&buf, dp.Spoof) // host field carries "ip:host" (spoof identity)
	writeString(&buf, dp.Name)
	writeInt32(&buf, 1) // spoof flag: this sample's host field is spoofed
	writeString(&buf, "float")
	writeString(&buf, dp.Name)
	writeString(&buf, dp.Unit)
	writeInt32(&buf, slopeBoth)
	writeInt32(&buf, tmax)
	writeInt32(&buf, dmax)
	writeInt32(&buf, 0) // no extra metadata key/value pairs
	return buf.Bytes()
}

func encodeValue(dp DataPoint) []byte {
	var buf bytes.Buffer
	writeInt32(&buf, msgTypeFloat)
	writeString(&buf, dp.Spoof)
	writeString(&buf, dp.Name)
	writeInt32(&buf, 1)
	writeString(&buf, "%.2f")
	writeString(&buf, fmt.Sprintf("%.2f", dp.Value))
	return buf.Bytes()
}

// writeString writes an XDR-encoded string: a big-endian uint32 length
// followed by the bytes, padded with zeroes to a 4-byte boundary.
func writeString(buf *bytes.Buffer, s string) {
	writeInt32(buf, int32(len(s)))
	buf.WriteString(s)
	if pad := (4 - len(s)%4) % 4; pad > 0 {
		buf.Write(make([]byte, pad))
	}
}

func writeInt32(buf *bytes.Buffer, v int32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	buf.Write(b[:])
}
