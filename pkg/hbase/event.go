// Copyright 2025-2026 CERN. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package hbase

// Method names produced by the decoder. Scan requests are classified into
// one of the four scan sub-methods; everything else keeps its lower-cased
// RPC method name.
const (
	MethodGet          = "get"
	MethodMutate       = "mutate"
	MethodMulti        = "multi"
	MethodOpenScanner  = "open-scanner"
	MethodNextRows     = "next-rows"
	MethodCloseScanner = "close-scanner"
	MethodSmallScan    = "small-scan"
	MethodUnknown      = "unknown"
)

// IsScan reports whether method is one of the scan sub-methods.
func IsScan(method string) bool {
	switch method {
	case MethodOpenScanner, MethodNextRows, MethodCloseScanner, MethodSmallScan:
		return true
	}
	return false
}

// Action is a single sub-request of a multi call, or its per-action result.
type Action struct {
	Method   string `json:"method,omitempty"`
	Table    string `json:"table,omitempty"`
	Region   string `json:"region,omitempty"`
	Row      string `json:"row,omitempty"`
	Cells    int    `json:"cells,omitempty"`
	HasCells bool   `json:"-"`
	Error    string `json:"error,omitempty"`
}

// Event is the decoded view of a single RPC frame. The first block is always
// present; the rest is filled in depending on the method and direction.
type Event struct {
	Method  string
	CallID  uint32
	Inbound bool
	TS      int64 // capture timestamp, milliseconds since epoch
	Server  string
	Client  string
	Port    uint16
	Size    int

	Table      string
	Region     string
	Row        string
	Cells      int
	HasCells   bool
	Scanner    uint64
	HasScanner bool
	Elapsed    int64 // milliseconds between request and response
	HasElapsed bool
	Error      string
	Batch      int
	Actions    []Action
}

// AddCells accumulates a cell count and marks the field as present.
func (e *Event) AddCells(n int) {
	e.Cells += n
	e.HasCells = true
}

// MergeRequest copies table, region and row attribution from the originating
// request into a response event, without overwriting fields the response
// already carries.
func (e *Event) MergeRequest(req *Event) {
	if req == nil {
		return
	}
	if e.Table == "" {
		e.Table = req.Table
	}
	if e.Region == "" {
		e.Region = req.Region
	}
	if e.Row == "" {
		e.Row = req.Row
	}
	if !e.HasScanner && req.HasScanner {
		e.Scanner = req.Scanner
		e.HasScanner = true
	}
}

// Fields returns the event as a flat map for JSON sinks. Optional fields are
// omitted when absent.
func (e *Event) Fields() map[string]any {
	m := map[string]any{
		"method":  e.Method,
		"call_id": e.CallID,
		"inbound": e.Inbound,
		"ts":      e.TS,
		"server":  e.Server,
		"client":  e.Client,
		"port":    e.Port,
		"size":    e.Size,
	}
	if e.Table != "" {
		m["table"] = e.Table
	}
	if e.Region != "" {
		m["region"] = e.Region
	}
	if e.Row != "" {
		m["row"] = e.Row
	}
	if e.HasCells {
		m["cells"] = e.Cells
	}
	if e.HasScanner {
		m["scanner"] = e.Scanner
	}
	if e.HasElapsed {
		m["elapsed_ms"] = e.Elapsed
	}
	if e.Error != "" {
		m["error"] = e.Error
	}
	if e.Batch > 0 {
		m["batch"] = e.Batch
	}
	if len(e.Actions) > 0 {
		m["actions"] = e.Actions
	}
	return m
}
