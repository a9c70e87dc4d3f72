// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package wire implements the framed, authenticated message protocol
// spoken between a client and its server, and between relay peers: a
// fixed 128-byte header followed by a self-describing body.
package wire

import "errors"

// HeaderSize is the fixed size of every frame header in bytes.
const HeaderSize = 128

const (
	headerPrefix    = "header "
	headerPrefixLen = len(headerPrefix)
	lengthFieldEnd  = 64
	bodyDigestStart = 64
	bodyDigestEnd   = 96
	authDigestStart = 96
	authDigestEnd   = HeaderSize
	digestHexLen    = 32
)

var (
	// ErrInvalidHeader is returned when the header prefix is missing or
	// the declared body length cannot be parsed.
	ErrInvalidHeader = errors.New("wire: invalid header")
	// ErrAuthMismatch is returned when the header-plus-secret digest
	// does not match.
	ErrAuthMismatch = errors.New("wire: header authentication mismatch")
	// ErrBodyCorrupt is returned when the body digest does not match.
	ErrBodyCorrupt = errors.New("wire: body digest mismatch")
	// ErrOversize is returned when a body is too large to frame: on
	// encode, when its length does not fit the header's length field; on
	// receive, when the declared length exceeds the server's size bound.
	ErrOversize = errors.New("wire: body exceeds declared length")
	// ErrShortHeader is returned by ParseHeader when fewer than
	// HeaderSize bytes were supplied.
	ErrShortHeader = errors.New("wire: short header")
)
