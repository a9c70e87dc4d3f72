// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package model holds the data types shared between the codec, the
// counter reader, the aggregation engine and the emitter: the Snapshot
// produced by one host per phase, the FleetTable produced by summing
// Snapshots across a fleet, and the RateTable derived from two
// consecutive FleetTables.
package model

import "strings"

// Role distinguishes the two kinds of Lustre storage targets a snapshot
// can report counters for.
type Role int

const (
	RoleObject Role = iota
	RoleMetadata
)

func (r Role) String() string {
	if r == RoleMetadata {
		return "metadata"
	}
	return "object"
}

// ParseRole is the inverse of Role.String, used when decoding a wire body.
func ParseRole(s string) (Role, bool) {
	switch s {
	case "object":
		return RoleObject, true
	case "metadata":
		return RoleMetadata, true
	default:
		return 0, false
	}
}

// CounterTriple is the raw (read_bytes, write_bytes, ops) sample for one
// client against one target, as read from a stats file or decoded off
// the wire. Missing source fields are normalized to zero here; callers
// that need to distinguish "absent" from "zero" do so before
// constructing a CounterTriple (see counterreader).
type CounterTriple struct {
	ReadBytes  uint64
	WriteBytes uint64
	Ops        uint64
}

// ClientID is "<ipv4>@<lnet-label>", e.g. "10.1.0.5@o2ib".
type ClientID string

// IP returns the IPv4 portion of a ClientID, the part left of '@'.
func (c ClientID) IP() string {
	if i := strings.IndexByte(string(c), '@'); i >= 0 {
		return string(c)[:i]
	}
	return string(c)
}

// TargetBlock is everything a Snapshot reports for one (filesystem,
// target) pair: the role that target serves, and the per-client
// counters observed against it.
type TargetBlock struct {
	Role    Role
	Clients map[ClientID]CounterTriple
}

// Snapshot is what one host reports for one phase: per filesystem, per
// target, the TargetBlock observed. Invariant: every target name in a
// filesystem's map is prefixed by that filesystem name and a separator
// (enforced by the counter reader, not by this type).
type Snapshot map[string]map[string]TargetBlock

// DataType discriminates a direct client report from a relayed,
// already-summed report forwarded by a peer server.
type DataType int

const (
	DataDirect DataType = iota
	DataRelay
)

func (d DataType) String() string {
	if d == DataRelay {
		return "relay"
	}
	return "direct"
}

// ParseDataType is the inverse of DataType.String.
func ParseDataType(s string) (DataType, bool) {
	switch s {
	case "direct":
		return DataDirect, true
	case "relay":
		return DataRelay, true
	default:
		return 0, false
	}
}

// ClientCounters is one fleet-wide client's post-sum counters for one
// filesystem: bytes summed across every target, ops summed separately
// per role.
type ClientCounters struct {
	ReadBytes  uint64
	WriteBytes uint64
	OssOps     uint64
	MdsOps     uint64
}

// FleetTable is the post-sum counter state produced by one flush:
// filesystem -> client -> counters.
type FleetTable map[string]map[ClientID]ClientCounters

// ClientRates is the per-second rate derived by differencing two
// FleetTables for one client.
type ClientRates struct {
	ReadRate   float64
	WriteRate  float64
	OssOpsRate float64
	MdsOpsRate float64
}

// RateTable is the publishable output of one flush: filesystem ->
// client -> rates.
type RateTable map[string]map[ClientID]ClientRates

// RelayPayload is the body of a relay-typed message: the post-sum
// FleetTable plus the explicit filesystem set it covers (a filesystem
// with no clients would otherwise vanish from the decoded FleetTable's
// keys).
type RelayPayload struct {
	Filesystems []string
	Fleet       FleetTable
}
