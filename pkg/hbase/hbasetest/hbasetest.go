// Copyright 2025-2026 CERN. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package hbasetest builds wire-encoded RPC frames for tests.
package hbasetest

import (
	"encoding/binary"

	"google.golang.org/protobuf/encoding/protowire"
)

// Varint encodes a varint field.
func Varint(num protowire.Number, v uint64) []byte {
	b := protowire.AppendTag(nil, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// Bytes encodes a length-delimited field.
func Bytes(num protowire.Number, payload []byte) []byte {
	b := protowire.AppendTag(nil, num, protowire.BytesType)
	return protowire.AppendBytes(b, payload)
}

// String encodes a string field.
func String(num protowire.Number, s string) []byte {
	return Bytes(num, []byte(s))
}

// Msg concatenates encoded fields into one message.
func Msg(fields ...[]byte) []byte {
	var b []byte
	for _, f := range fields {
		b = append(b, f...)
	}
	return b
}

// Delimited prefixes a message with its varint length.
func Delimited(msg []byte) []byte {
	return append(protowire.AppendVarint(nil, uint64(len(msg))), msg...)
}

// Frame assembles the header and optional body into an RPC frame, without
// the 4-byte length prefix.
func Frame(header, body []byte) []byte {
	b := Delimited(header)
	if body != nil {
		b = append(b, Delimited(body)...)
	}
	return b
}

// Prefixed prepends the 4-byte big-endian length prefix to a frame,
// producing a complete wire payload.
func Prefixed(frame []byte) []byte {
	b := make([]byte, 4, 4+len(frame))
	binary.BigEndian.PutUint32(b, uint32(len(frame)))
	return append(b, frame...)
}

// RequestHeader builds a RequestHeader with the call id and method name.
func RequestHeader(callID uint32, method string) []byte {
	return Msg(
		Varint(1, uint64(callID)),
		String(3, method),
	)
}

// ResponseHeader builds a ResponseHeader; excClass adds an exception.
func ResponseHeader(callID uint32, excClass string) []byte {
	b := Varint(1, uint64(callID))
	if excClass != "" {
		b = Msg(b, Bytes(2, String(1, excClass)))
	}
	return b
}

// RegionSpecifier builds a REGION_NAME specifier.
func RegionSpecifier(name string) []byte {
	return Msg(
		Varint(1, 1),
		String(2, name),
	)
}

// Result builds a Result carrying only an associated cell count.
func Result(cells int) []byte {
	return Varint(2, uint64(cells))
}

// GetRequest builds a GetRequest for a region and row.
func GetRequest(region, row string) []byte {
	return Msg(
		Bytes(1, RegionSpecifier(region)),
		Bytes(2, String(1, row)),
	)
}

// GetResponse builds a GetResponse with the given cell count.
func GetResponse(cells int) []byte {
	return Bytes(1, Result(cells))
}

// ScanRequest builds a ScanRequest. scannerID is included only when
// hasScanner is true.
func ScanRequest(region string, hasScanner bool, scannerID uint64, closeScanner bool) []byte {
	b := Bytes(1, RegionSpecifier(region))
	if hasScanner {
		b = Msg(b, Varint(3, scannerID))
	}
	if closeScanner {
		b = Msg(b, Varint(5, 1))
	}
	return b
}

// ScanResponse builds a ScanResponse with a scanner id and per-result cell
// counts.
func ScanResponse(scannerID uint64, cellsPerResult ...int) []byte {
	var b []byte
	for _, c := range cellsPerResult {
		b = Msg(b, Varint(1, uint64(c)))
	}
	return Msg(b, Varint(2, scannerID))
}

// MutateRequest builds a MutateRequest with a put mutation on row.
func MutateRequest(region, row string) []byte {
	return Msg(
		Bytes(1, RegionSpecifier(region)),
		Bytes(2, Msg(String(1, row), Varint(2, 2))),
	)
}

// MutateResponse builds a MutateResponse with the given cell count.
func MutateResponse(cells int) []byte {
	return Bytes(1, Result(cells))
}

// MultiAction describes one action of a multi request.
type MultiAction struct {
	Get bool // get when true, put otherwise
	Row string
}

// MultiRequest builds a MultiRequest with all actions on one region.
func MultiRequest(region string, actions ...MultiAction) []byte {
	ra := Bytes(1, RegionSpecifier(region))
	for _, a := range actions {
		var act []byte
		if a.Get {
			act = Bytes(3, String(1, a.Row))
		} else {
			act = Bytes(2, Msg(String(1, a.Row), Varint(2, 2)))
		}
		ra = Msg(ra, Bytes(3, act))
	}
	return Bytes(1, ra)
}

// MultiResponse builds a MultiResponse with one result per cell count.
func MultiResponse(cells ...int) []byte {
	var rar []byte
	for i, c := range cells {
		roe := Msg(
			Varint(1, uint64(i)),
			Bytes(2, Result(c)),
		)
		rar = Msg(rar, Bytes(1, roe))
	}
	return Bytes(1, rar)
}
