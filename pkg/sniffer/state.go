// Copyright 2025-2026 CERN. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package sniffer is the stateful stream processor: it assembles RPC frames
// from TCP payloads, correlates responses with requests by call id, tracks
// server-side scanner lifecycles, and keeps all in-flight state bounded.
package sniffer

import (
	"fmt"

	"github.com/cerndb/hbase-packet-inspector/pkg/hbase"
)

// ClientKey identifies a correspondent by the non-server endpoint of the
// conversation, irrespective of packet direction.
type ClientKey struct {
	Addr string
	Port uint16
}

func (k ClientKey) String() string {
	return fmt.Sprintf("%s:%d", k.Addr, k.Port)
}

// callKey identifies a request. Call ids are per-connection and reused, so
// the client key disambiguates.
type callKey struct {
	client ClientKey
	callID uint32
}

// fragmentBuffer accumulates a multi-packet RPC frame for one client.
type fragmentBuffer struct {
	ts      int64
	buf     []byte
	total   int
	remains int
}

// expectedMemory is the byte footprint this buffer will reach once complete.
func (f *fragmentBuffer) expectedMemory() int {
	return f.remains + len(f.buf)
}

// scannerRecord is the attribution of an open server-side scanner, taken
// from the request that opened it.
type scannerRecord struct {
	ts     int64
	table  string
	region string
}

// state is the bundle of in-flight maps owned by the capture loop. All four
// categories carry a timestamp so the evictor can walk them uniformly.
type state struct {
	fragments map[ClientKey]*fragmentBuffer
	calls     map[callKey]*hbase.Event
	pending   map[callKey]*hbase.Event
	scanners  map[uint64]*scannerRecord
}

func newState() *state {
	return &state{
		fragments: make(map[ClientKey]*fragmentBuffer),
		calls:     make(map[callKey]*hbase.Event),
		pending:   make(map[callKey]*hbase.Event),
		scanners:  make(map[uint64]*scannerRecord),
	}
}

// size returns the total number of stored state objects.
func (s *state) size() int {
	return len(s.fragments) + len(s.calls) + len(s.pending) + len(s.scanners)
}
