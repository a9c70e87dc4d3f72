// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package counterreader reads the on-disk counter files exported by a
// Lustre object or metadata target and turns them into a Snapshot for
// one filesystem. The underlying file format (a whitespace-delimited
// stats file per client export) is treated as an opaque textual
// key/value store, per the external-interfaces contract: this package
// never propagates I/O errors, it only skips what it cannot read.
package counterreader

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/plaguedbypenguins/lustreharvest/internal/model"
	"github.com/plaguedbypenguins/lustreharvest/pkg/log"
)

// Reader enumerates stats files under a configured set of base
// directories, one list per Role.
type Reader struct {
	// BaseDirs maps a role to the base directories to search for
	// targets of that role, e.g. RoleObject -> {"/proc/fs/lustre/obdfilter"}.
	BaseDirs map[model.Role][]string
}

// New returns a Reader configured with the given base directories.
func New(baseDirs map[model.Role][]string) *Reader {
	return &Reader{BaseDirs: baseDirs}
}

// Read builds the Snapshot for filesystem fs by enumerating every
// configured base directory, matching target entries whose name is
// prefixed by "fs-", and parsing each target's per-client stats file.
func (r *Reader) Read(fs string) map[string]model.TargetBlock {
	out := map[string]model.TargetBlock{}
	prefix := fs + "-"

	for role, bases := range r.BaseDirs {
		for _, base := range bases {
			entries, err := os.ReadDir(base)
			if err != nil {
				continue
			}
			for _, entry := range entries {
				if !entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
					continue
				}
				target := entry.Name()
				clients := readTarget(filepath.Join(base, target), role)
				if len(clients) == 0 {
					continue
				}
				out[target] = model.TargetBlock{Role: role, Clients: clients}
			}
		}
	}
	return out
}

// readTarget enumerates one target's exports/<client>/stats files.
func readTarget(targetDir string, role model.Role) map[model.ClientID]model.CounterTriple {
	exportsDir := filepath.Join(targetDir, "exports")
	entries, err := os.ReadDir(exportsDir)
	if err != nil {
		return nil
	}

	out := map[model.ClientID]model.CounterTriple{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		client := model.ClientID(entry.Name())
		statsPath := filepath.Join(exportsDir, entry.Name(), "stats")

		r, w, ops, haveR, haveW, haveOps := parseStats(statsPath)
		if !haveR && !haveW && !haveOps {
			// (missing, missing, missing): drop the client entry entirely.
			continue
		}
		if role == model.RoleObject && !haveR && !haveW {
			// No I/O at all on an object target: pure intra-storage chatter.
			continue
		}
		out[client] = model.CounterTriple{ReadBytes: r, WriteBytes: w, Ops: ops}
	}
	return out
}

// parseStats parses one client's stats file. read_bytes and
// write_bytes take the cumulative byte counter at token index 5; any
// record whose third token is "[reqs]", except read_bytes, write_bytes,
// snapshot_time and ping, contributes its first-token sample count to
// the running ops total.
func parseStats(path string) (readBytes, writeBytes, ops uint64, haveRead, haveWrite, haveOps bool) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, 0, false, false, false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		name := fields[0]

		switch name {
		case "read_bytes":
			if v, ok := tokenUint(fields, 5); ok {
				readBytes = v
				haveRead = true
			}
			continue
		case "write_bytes":
			if v, ok := tokenUint(fields, 5); ok {
				writeBytes = v
				haveWrite = true
			}
			continue
		case "snapshot_time", "ping":
			continue
		}

		if len(fields) > 2 && fields[2] == "[reqs]" {
			if v, ok := tokenUint(fields, 0); ok {
				ops += v
				haveOps = true
			}
		}
	}
	if err := scanner.Err(); err != nil {
		log.Warnf("counterreader: reading %s: %v", path, err)
	}
	return readBytes, writeBytes, ops, haveRead, haveWrite, haveOps
}

func tokenUint(fields []string, idx int) (uint64, bool) {
	if idx >= len(fields) {
		return 0, false
	}
	v, err := strconv.ParseUint(fields[idx], 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
