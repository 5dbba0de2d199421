// Copyright 2025-2026 CERN. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package sniffer

import (
	"github.com/cerndb/hbase-packet-inspector/pkg/hbase"
)

// track runs the scanner state machine on a freshly decoded event and
// augments it with region attribution where a scanner record exists.
// Missing records are not an error: a next on a scanner whose open was never
// observed is emitted with empty region info.
func (s *state) track(client ClientKey, ev *hbase.Event) {
	if !hbase.IsScan(ev.Method) {
		return
	}

	switch {
	case ev.Inbound && (ev.Method == hbase.MethodOpenScanner || ev.Method == hbase.MethodSmallScan):
		s.pending[callKey{client, ev.CallID}] = ev

	case !ev.Inbound && ev.Method == hbase.MethodOpenScanner:
		k := callKey{client, ev.CallID}
		if req, ok := s.pending[k]; ok {
			delete(s.pending, k)
			if ev.HasScanner {
				s.scanners[ev.Scanner] = &scannerRecord{
					ts:     ev.TS,
					table:  req.Table,
					region: req.Region,
				}
			}
			ev.MergeRequest(req)
		}

	case ev.Method == hbase.MethodNextRows:
		if !ev.HasScanner {
			return
		}
		if sr, ok := s.scanners[ev.Scanner]; ok {
			sr.ts = ev.TS
			if ev.Table == "" {
				ev.Table = sr.table
			}
			if ev.Region == "" {
				ev.Region = sr.region
			}
		}

	case ev.Inbound && ev.Method == hbase.MethodCloseScanner:
		if ev.HasScanner {
			delete(s.scanners, ev.Scanner)
		}

	case !ev.Inbound && ev.Method == hbase.MethodSmallScan:
		// The same response closes the scanner, so no record is minted.
		delete(s.pending, callKey{client, ev.CallID})
		if ev.HasScanner {
			if sr, ok := s.scanners[ev.Scanner]; ok {
				if ev.Table == "" {
					ev.Table = sr.table
				}
				if ev.Region == "" {
					ev.Region = sr.region
				}
			}
		}
	}
}
