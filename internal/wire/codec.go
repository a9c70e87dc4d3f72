// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package wire

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"hash"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/influxdata/line-protocol/v2/lineprotocol"

	"github.com/plaguedbypenguins/lustreharvest/internal/model"
)

// Codec encodes and decodes frames. The zero value is not usable; use
// NewCodec. HashFunc is exported so the framing's hash primitive can be
// swapped for HMAC-SHA256 without touching the header layout. The
// header carries no version byte: its padding is all spaces.
type Codec struct {
	HashFunc func() hash.Hash
}

// NewCodec returns a Codec using MD5, the hash the wire protocol has
// always used, for wire compatibility with existing deployments.
func NewCodec() *Codec {
	return &Codec{HashFunc: md5.New}
}

func (c *Codec) hashFunc() func() hash.Hash {
	if c.HashFunc != nil {
		return c.HashFunc
	}
	return md5.New
}

func hashHex(hf func() hash.Hash, parts ...[]byte) string {
	h := hf()
	for _, p := range parts {
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Encode serializes msg into a body, then writes the 128-byte header in
// front of it. secret is the SecretBlob used for the header-plus-secret
// authenticity digest. The returned slice is the full frame (header
// then body) ready to write to a connection.
func (c *Codec) Encode(msg *Message, secret []byte) ([]byte, error) {
	body, err := encodeBody(msg)
	if err != nil {
		return nil, fmt.Errorf("wire: encode body: %w", err)
	}

	header := make([]byte, HeaderSize)
	copy(header, headerPrefix)

	lengthStr := strconv.Itoa(len(body))
	if headerPrefixLen+len(lengthStr) > lengthFieldEnd {
		return nil, fmt.Errorf("%w: body too large to frame", ErrOversize)
	}
	copy(header[headerPrefixLen:], lengthStr)
	for i := headerPrefixLen + len(lengthStr); i < lengthFieldEnd; i++ {
		header[i] = ' '
	}
	bodyDigest := hashHex(c.hashFunc(), body)
	copy(header[bodyDigestStart:bodyDigestEnd], bodyDigest)

	authDigest := hashHex(c.hashFunc(), header[:authDigestStart], secret)
	copy(header[authDigestStart:authDigestEnd], authDigest)

	frame := make([]byte, 0, HeaderSize+len(body))
	frame = append(frame, header...)
	frame = append(frame, body...)
	return frame, nil
}

// ParseHeader validates and decodes a HeaderSize-byte header, returning
// the declared body length and expected body digest. hdr must be
// exactly HeaderSize bytes (callers slice the reassembly buffer). The
// header-plus-secret digest is checked first, so any change to the
// bytes it covers reports ErrAuthMismatch; ErrInvalidHeader is only
// returned for an authentic header with a bad prefix or length field.
func (c *Codec) ParseHeader(hdr []byte, secret []byte) (bodyLen int, bodyDigestHex string, err error) {
	if len(hdr) < HeaderSize {
		return 0, "", ErrShortHeader
	}

	expectAuth := hashHex(c.hashFunc(), hdr[:authDigestStart], secret)
	gotAuth := string(hdr[authDigestStart:authDigestEnd])
	if !strings.EqualFold(expectAuth, gotAuth) {
		return 0, "", ErrAuthMismatch
	}

	if string(hdr[:headerPrefixLen]) != headerPrefix {
		return 0, "", ErrInvalidHeader
	}

	lengthField := strings.TrimSpace(string(hdr[headerPrefixLen:lengthFieldEnd]))
	n, perr := strconv.Atoi(lengthField)
	if perr != nil || n < 0 {
		return 0, "", ErrInvalidHeader
	}

	return n, string(hdr[bodyDigestStart:bodyDigestEnd]), nil
}

// VerifyBody checks a fully-reassembled body against the digest
// recovered from ParseHeader.
func (c *Codec) VerifyBody(body []byte, bodyDigestHex string) error {
	got := hashHex(c.hashFunc(), body)
	if !strings.EqualFold(got, bodyDigestHex) {
		return ErrBodyCorrupt
	}
	return nil
}

// DecodeBody parses a verified body into a Message.
func (c *Codec) DecodeBody(body []byte) (*Message, error) {
	return decodeBody(body)
}

const (
	measMeta   = "meta"
	measSample = "sample"
	measFleet  = "fleet"
)

func encodeBody(msg *Message) ([]byte, error) {
	enc := lineprotocol.NewEncoder()
	enc.SetPrecision(lineprotocol.Nanosecond)

	switch msg.DataType {
	case model.DataDirect:
		encodeMeta(enc, msg.DataType, nil)
		encodeSnapshot(enc, msg.Snapshot)
	case model.DataRelay:
		encodeMeta(enc, msg.DataType, msg.Relay.Filesystems)
		encodeFleet(enc, msg.Relay.Fleet)
	default:
		return nil, fmt.Errorf("wire: unknown dataType %d", msg.DataType)
	}

	if err := enc.Err(); err != nil {
		return nil, err
	}
	return enc.Bytes(), nil
}

func encodeMeta(enc *lineprotocol.Encoder, dt model.DataType, filesystems []string) {
	enc.StartLine(measMeta)
	enc.AddField("dataType", lineprotocol.StringValue(dt.String()))
	if len(filesystems) > 0 {
		fss := append([]string(nil), filesystems...)
		sort.Strings(fss)
		enc.AddField("filesystems", lineprotocol.StringValue(strings.Join(fss, ",")))
	}
	enc.EndLine(time.Time{})
}

func encodeSnapshot(enc *lineprotocol.Encoder, snap model.Snapshot) {
	fss := sortedKeys(snap)
	for _, fs := range fss {
		targets := snap[fs]
		targetNames := sortedTargetKeys(targets)
		for _, target := range targetNames {
			block := targets[target]
			clients := sortedClientKeys(block.Clients)
			for _, client := range clients {
				t := block.Clients[client]
				enc.StartLine(measSample)
				enc.AddTag("fs", fs)
				enc.AddTag("target", target)
				enc.AddTag("role", block.Role.String())
				enc.AddTag("client", string(client))
				enc.AddField("r", lineprotocol.UintValue(t.ReadBytes))
				enc.AddField("w", lineprotocol.UintValue(t.WriteBytes))
				enc.AddField("ops", lineprotocol.UintValue(t.Ops))
				enc.EndLine(time.Time{})
			}
		}
	}
}

func encodeFleet(enc *lineprotocol.Encoder, fleet model.FleetTable) {
	fss := make([]string, 0, len(fleet))
	for fs := range fleet {
		fss = append(fss, fs)
	}
	sort.Strings(fss)
	for _, fs := range fss {
		clients := fleet[fs]
		names := make([]model.ClientID, 0, len(clients))
		for c := range clients {
			names = append(names, c)
		}
		sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
		for _, client := range names {
			cc := clients[client]
			enc.StartLine(measFleet)
			enc.AddTag("fs", fs)
			enc.AddTag("client", string(client))
			enc.AddField("r", lineprotocol.UintValue(cc.ReadBytes))
			enc.AddField("w", lineprotocol.UintValue(cc.WriteBytes))
			enc.AddField("ossOps", lineprotocol.UintValue(cc.OssOps))
			enc.AddField("mdsOps", lineprotocol.UintValue(cc.MdsOps))
			enc.EndLine(time.Time{})
		}
	}
}

func sortedKeys(snap model.Snapshot) []string {
	out := make([]string, 0, len(snap))
	for k := range snap {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedTargetKeys(m map[string]model.TargetBlock) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedClientKeys(m map[model.ClientID]model.CounterTriple) []model.ClientID {
	out := make([]model.ClientID, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func decodeTime(dec *lineprotocol.Decoder) {
	t := time.Now()
	var err error
	if t, err = dec.Time(lineprotocol.Second, t); err != nil {
		if t, err = dec.Time(lineprotocol.Millisecond, t); err != nil {
			if t, err = dec.Time(lineprotocol.Microsecond, t); err != nil {
				_, _ = dec.Time(lineprotocol.Nanosecond, t)
			}
		}
	}
}

func decodeBody(body []byte) (*Message, error) {
	dec := lineprotocol.NewDecoderWithBytes(body)

	msg := &Message{Snapshot: model.Snapshot{}}
	var relay *model.RelayPayload
	var metaSeen bool

	for dec.Next() {
		measurement, err := dec.Measurement()
		if err != nil {
			return nil, fmt.Errorf("wire: decode measurement: %w", err)
		}
		meas := string(measurement)

		tags := map[string]string{}
		for {
			key, val, err := dec.NextTag()
			if err != nil {
				return nil, fmt.Errorf("wire: decode tag: %w", err)
			}
			if key == nil {
				break
			}
			tags[string(key)] = string(val)
		}

		fields := map[string]lineprotocol.Value{}
		for {
			key, val, err := dec.NextField()
			if err != nil {
				return nil, fmt.Errorf("wire: decode field: %w", err)
			}
			if key == nil {
				break
			}
			fields[string(key)] = val
		}
		decodeTime(dec)

		switch meas {
		case measMeta:
			metaSeen = true
			dtVal, ok := fields["dataType"]
			if !ok || dtVal.Kind() != lineprotocol.String {
				return nil, fmt.Errorf("wire: meta line missing dataType")
			}
			dt, ok := model.ParseDataType(dtVal.StringV())
			if !ok {
				return nil, fmt.Errorf("wire: unknown dataType %q", dtVal.StringV())
			}
			msg.DataType = dt
			if dt == model.DataRelay {
				relay = &model.RelayPayload{Fleet: model.FleetTable{}}
				if fsVal, ok := fields["filesystems"]; ok && fsVal.Kind() == lineprotocol.String && fsVal.StringV() != "" {
					relay.Filesystems = strings.Split(fsVal.StringV(), ",")
				}
			}

		case measSample:
			fs, target, role, client := tags["fs"], tags["target"], tags["role"], model.ClientID(tags["client"])
			r, _ := ParseRole(role)
			if msg.Snapshot[fs] == nil {
				msg.Snapshot[fs] = map[string]model.TargetBlock{}
			}
			block, ok := msg.Snapshot[fs][target]
			if !ok {
				block = model.TargetBlock{Role: r, Clients: map[model.ClientID]model.CounterTriple{}}
			}
			block.Clients[client] = model.CounterTriple{
				ReadBytes:  fieldUint(fields, "r"),
				WriteBytes: fieldUint(fields, "w"),
				Ops:        fieldUint(fields, "ops"),
			}
			msg.Snapshot[fs][target] = block

		case measFleet:
			if relay == nil {
				relay = &model.RelayPayload{Fleet: model.FleetTable{}}
			}
			fs, client := tags["fs"], model.ClientID(tags["client"])
			if relay.Fleet[fs] == nil {
				relay.Fleet[fs] = map[model.ClientID]model.ClientCounters{}
			}
			relay.Fleet[fs][client] = model.ClientCounters{
				ReadBytes:  fieldUint(fields, "r"),
				WriteBytes: fieldUint(fields, "w"),
				OssOps:     fieldUint(fields, "ossOps"),
				MdsOps:     fieldUint(fields, "mdsOps"),
			}
		}
	}
	if !metaSeen {
		return nil, fmt.Errorf("wire: body missing meta line")
	}
	if msg.DataType == model.DataRelay {
		msg.Relay = relay
		msg.Snapshot = nil
	}
	return msg, nil
}

func fieldUint(fields map[string]lineprotocol.Value, key string) uint64 {
	v, ok := fields[key]
	if !ok {
		return 0
	}
	switch v.Kind() {
	case lineprotocol.Uint:
		return v.UintV()
	case lineprotocol.Int:
		return uint64(v.IntV())
	case lineprotocol.Float:
		return uint64(v.FloatV())
	default:
		return 0
	}
}

// ParseRole exposes model.ParseRole for callers that only import wire.
func ParseRole(s string) (model.Role, bool) {
	return model.ParseRole(s)
}
