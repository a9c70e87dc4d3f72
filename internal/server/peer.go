// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package server

import (
	"net"
	"time"

	"github.com/plaguedbypenguins/lustreharvest/internal/model"
)

// peerKey identifies a connected peer by its remote address, as a
// comparable native tuple rather than a formatted string (spec.md §9
// open question: pick the native-tuple form).
type peerKey struct {
	ip   [16]byte
	port uint16
}

func keyFromAddr(addr net.Addr) peerKey {
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		return peerKey{}
	}
	var k peerKey
	ip := tcpAddr.IP.To16()
	copy(k.ip[:], ip)
	k.port = uint16(tcpAddr.Port)
	return k
}

// peerState is the server's per-connection bookkeeping: the decoded
// payload of the most recent complete message (cleared every flush so
// a peer going silent does not republish stale data) and the dataType
// discriminator lifted out of that message at decode time.
type peerState struct {
	conn        net.Conn
	dataType    model.DataType
	snapshot    model.Snapshot
	relay       *model.RelayPayload
	lastArrival time.Time
	hasData     bool
}
