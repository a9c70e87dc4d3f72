// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package server

import (
	"sort"

	"github.com/plaguedbypenguins/lustreharvest/internal/model"
	"github.com/plaguedbypenguins/lustreharvest/pkg/log"
)

// computeFleet implements spec.md §4.5 steps 2-8: sum every direct
// peer's Snapshot into a FleetTable, suppress object-side metrics on
// metadata-only filesystems, then splice in any relay-typed peers'
// already-summed payloads for filesystems not already present locally.
// It returns the new FleetTable, the sorted, de-duplicated set of
// filesystems it covers, and the subset of those filesystems that are
// metadata-only (read/write/oss_ops carry no meaning for them and must
// not be published).
func computeFleet(directSnapshots []model.Snapshot, relayPayloads []model.RelayPayload) (model.FleetTable, []string, map[string]bool) {
	localFss := map[string]bool{}
	ostCnt := map[string]int{}
	mdtCnt := map[string]int{}
	clients := map[model.ClientID]bool{}

	for _, snap := range directSnapshots {
		for fs, targets := range snap {
			localFss[fs] = true
			for _, block := range targets {
				if block.Role == model.RoleObject {
					ostCnt[fs]++
				} else {
					mdtCnt[fs]++
				}
				for c := range block.Clients {
					clients[c] = true
				}
			}
		}
	}

	fss := sortedStringSet(localFss)

	fleet := model.FleetTable{}
	for _, fs := range fss {
		fleet[fs] = map[model.ClientID]model.ClientCounters{}
		for c := range clients {
			fleet[fs][c] = model.ClientCounters{}
		}
	}

	for _, snap := range directSnapshots {
		for fs, targets := range snap {
			for _, block := range targets {
				for c, t := range block.Clients {
					cc := fleet[fs][c]
					cc.ReadBytes += t.ReadBytes
					cc.WriteBytes += t.WriteBytes
					if block.Role == model.RoleObject {
						cc.OssOps += t.Ops
					} else {
						cc.MdsOps += t.Ops
					}
					fleet[fs][c] = cc
				}
			}
		}
	}

	// Metadata-only suppression: a filesystem with zero object targets
	// and exactly one metadata target reports no meaningful I/O. The
	// counters are zeroed here (so counter-reset detection across
	// cycles stays well-defined) and the filesystem is additionally
	// flagged in the returned set, which the caller uses to keep
	// read/write/oss_ops out of publication entirely rather than
	// publishing them as zero.
	suppressed := map[string]bool{}
	for _, fs := range fss {
		if ostCnt[fs] == 0 && mdtCnt[fs] == 1 {
			suppressed[fs] = true
			for c, cc := range fleet[fs] {
				cc.ReadBytes = 0
				cc.WriteBytes = 0
				cc.OssOps = 0
				fleet[fs][c] = cc
			}
		}
	}

	mergeRelayPayloads(fleet, localFss, relayPayloads)

	finalFss := make([]string, 0, len(fleet))
	for fs := range fleet {
		finalFss = append(finalFss, fs)
	}
	sort.Strings(finalFss)

	return fleet, finalFss, suppressed
}

// mergeRelayPayloads splices each relay peer's filesystems into fleet,
// skipping (and logging) any filesystem that overlaps with the
// locally-observed set — relayed data is expected to describe disjoint
// filesystems (spec.md §4.6).
func mergeRelayPayloads(fleet model.FleetTable, localFss map[string]bool, relayPayloads []model.RelayPayload) {
	for _, payload := range relayPayloads {
		for _, fs := range payload.Filesystems {
			if localFss[fs] {
				log.Warnf("server: relayed filesystem %q overlaps with locally-observed data, ignoring relayed copy", fs)
				continue
			}
			if _, ok := fleet[fs]; !ok {
				fleet[fs] = map[model.ClientID]model.ClientCounters{}
			}
			for c, cc := range payload.Fleet[fs] {
				fleet[fs][c] = cc
			}
		}
	}
}

func sortedStringSet(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// computeRates implements spec.md §4.5 steps 9-11: differences cur
// against prev over dtSeconds for every (filesystem, client) in fss. A
// negative delta for any counter yields a zero rate for that metric and
// sets the returned error flag, which tells the caller to suppress
// publication for this cycle and force a re-baseline next cycle.
func computeRates(cur, prev model.FleetTable, fss []string, dtSeconds float64) (model.RateTable, bool) {
	rt := model.RateTable{}
	errFlag := false

	for _, fs := range fss {
		curClients := cur[fs]
		prevClients := prev[fs]
		rt[fs] = map[model.ClientID]model.ClientRates{}

		for c, cc := range curClients {
			prevCC, existed := prevClients[c]
			if !existed {
				// New client this cycle: no baseline yet, rate 0.
				rt[fs][c] = model.ClientRates{}
				continue
			}

			r, negR := diffRate(cc.ReadBytes, prevCC.ReadBytes, dtSeconds)
			w, negW := diffRate(cc.WriteBytes, prevCC.WriteBytes, dtSeconds)
			oss, negO := diffRate(cc.OssOps, prevCC.OssOps, dtSeconds)
			mds, negM := diffRate(cc.MdsOps, prevCC.MdsOps, dtSeconds)
			if negR || negW || negO || negM {
				errFlag = true
			}
			rt[fs][c] = model.ClientRates{ReadRate: r, WriteRate: w, OssOpsRate: oss, MdsOpsRate: mds}
		}
	}

	return rt, errFlag
}

func diffRate(cur, prev uint64, dtSeconds float64) (float64, bool) {
	if cur < prev {
		return 0, true
	}
	if dtSeconds <= 0 {
		return 0, false
	}
	return float64(cur-prev) / dtSeconds, false
}

func fssEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
