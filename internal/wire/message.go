// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package wire

import "github.com/plaguedbypenguins/lustreharvest/internal/model"

// Message is the decoded form of one frame body plus the dataType
// attribute lifted out of it during decode: dataType is a peer-level
// attribute carried alongside the payload, not embedded in it.
//
// Exactly one of Snapshot or Relay is populated, selected by DataType.
type Message struct {
	DataType model.DataType
	Snapshot model.Snapshot
	Relay    *model.RelayPayload
}
