// Copyright 2025-2026 CERN. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package hbase decodes RegionServer RPC frames into events. Only the fields
// needed for workload attribution are extracted; frames are walked at the
// protobuf wire level so no generated bindings are required for the HBase
// message set.
package hbase

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrInvalidProtobuf marks frames whose bytes do not parse as protobuf.
// Callers drop the client's fragment state without logging.
var ErrInvalidProtobuf = errors.New("invalid protobuf message")

var methodNameRe = regexp.MustCompile(`^[A-Za-z]+$`)

// RequestHeader field numbers (hbase RPC.proto).
const (
	reqHdrCallID     = 1
	reqHdrMethodName = 3
)

// ResponseHeader field numbers.
const (
	respHdrCallID    = 1
	respHdrException = 2
)

// ExceptionResponse field numbers.
const (
	excClassName  = 1
	excStackTrace = 2
)

// Split separates an RPC frame into its varint-delimited header and body.
// The body is empty when the frame carries no parameter message.
func Split(frame []byte) (header, body []byte, err error) {
	header, rest, err := consumeDelimited(frame)
	if err != nil {
		return nil, nil, err
	}
	if len(rest) == 0 {
		return header, nil, nil
	}
	body, _, err = consumeDelimited(rest)
	if err != nil {
		return nil, nil, err
	}
	return header, body, nil
}

func consumeDelimited(b []byte) (msg, rest []byte, err error) {
	n, w := protowire.ConsumeVarint(b)
	if w < 0 || uint64(len(b)-w) < n {
		return nil, nil, ErrInvalidProtobuf
	}
	return b[w : w+int(n)], b[w+int(n):], nil
}

// walk iterates the top-level fields of a protobuf message, calling visit
// with the field number and either the varint value or the bytes payload.
func walk(buf []byte, visit func(num protowire.Number, val uint64, raw []byte) error) error {
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return ErrInvalidProtobuf
		}
		buf = buf[n:]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return ErrInvalidProtobuf
			}
			if err := visit(num, v, nil); err != nil {
				return err
			}
			buf = buf[n:]
		case protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(buf)
			if n < 0 {
				return ErrInvalidProtobuf
			}
			if err := visit(num, uint64(v), nil); err != nil {
				return err
			}
			buf = buf[n:]
		case protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(buf)
			if n < 0 {
				return ErrInvalidProtobuf
			}
			if err := visit(num, v, nil); err != nil {
				return err
			}
			buf = buf[n:]
		case protowire.BytesType:
			b, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return ErrInvalidProtobuf
			}
			if err := visit(num, 0, b); err != nil {
				return err
			}
			buf = buf[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return ErrInvalidProtobuf
			}
			buf = buf[n:]
		}
	}
	return nil
}

// DecodeRequest parses an inbound frame's header and parameter message.
func DecodeRequest(header, body []byte) (*Event, error) {
	ev := &Event{Inbound: true}
	var method string
	err := walk(header, func(num protowire.Number, val uint64, raw []byte) error {
		switch num {
		case reqHdrCallID:
			ev.CallID = uint32(val)
		case reqHdrMethodName:
			method = string(raw)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !methodNameRe.MatchString(method) {
		return nil, fmt.Errorf("invalid method name: %q", method)
	}
	ev.Method = strings.ToLower(method)

	switch ev.Method {
	case MethodGet:
		err = decodeGetRequest(body, ev)
	case "scan":
		err = decodeScanRequest(body, ev)
	case MethodMutate:
		err = decodeMutateRequest(body, ev)
	case MethodMulti:
		err = decodeMultiRequest(body, ev)
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// DecodeResponse parses an outbound frame. The response body's schema depends
// on the request method, so the caller supplies a lookup from call id to the
// stored request event.
func DecodeResponse(header, body []byte, lookup func(callID uint32) *Event) (*Event, error) {
	ev := &Event{Method: MethodUnknown}
	err := walk(header, func(num protowire.Number, val uint64, raw []byte) error {
		switch num {
		case respHdrCallID:
			ev.CallID = uint32(val)
		case respHdrException:
			return walk(raw, func(num protowire.Number, _ uint64, raw []byte) error {
				if num == excClassName {
					ev.Error = string(raw)
				}
				return nil
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	req := lookup(ev.CallID)
	if req == nil {
		return ev, nil
	}
	ev.Method = req.Method

	switch {
	case ev.Method == MethodGet:
		err = decodeGetResponse(body, ev)
	case IsScan(ev.Method):
		err = decodeScanResponse(body, ev)
	case ev.Method == MethodMutate:
		err = decodeMutateResponse(body, ev)
	case ev.Method == MethodMulti:
		err = decodeMultiResponse(body, req, ev)
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// RegionSpecifier field numbers and type values.
const (
	regionSpecType  = 1
	regionSpecValue = 2

	regionTypeName = 1
)

// decodeRegion extracts region and table from a RegionSpecifier. A region
// name is "<table>,<start key>,<timestamp>.<encoded>."; an encoded specifier
// carries no table.
func decodeRegion(raw []byte) (table, region string, err error) {
	var specType uint64
	var value []byte
	err = walk(raw, func(num protowire.Number, val uint64, raw []byte) error {
		switch num {
		case regionSpecType:
			specType = val
		case regionSpecValue:
			value = raw
		}
		return nil
	})
	if err != nil {
		return "", "", err
	}
	region = string(value)
	if specType == regionTypeName {
		if i := bytes.IndexByte(value, ','); i >= 0 {
			table = string(value[:i])
		}
	}
	return table, region, nil
}

// GetRequest / Get field numbers.
const (
	getReqRegion = 1
	getReqGet    = 2
	getRow       = 1
)

func decodeGetRequest(body []byte, ev *Event) error {
	return walk(body, func(num protowire.Number, _ uint64, raw []byte) error {
		switch num {
		case getReqRegion:
			table, region, err := decodeRegion(raw)
			if err != nil {
				return err
			}
			ev.Table, ev.Region = table, region
		case getReqGet:
			return walk(raw, func(num protowire.Number, _ uint64, raw []byte) error {
				if num == getRow {
					ev.Row = string(raw)
				}
				return nil
			})
		}
		return nil
	})
}

// Result field numbers.
const (
	resultCell           = 1
	resultAssocCellCount = 2
)

// countCells returns the number of cells a Result message accounts for,
// inline cells plus the associated cell-block count.
func countCells(raw []byte) (int, error) {
	cells := 0
	err := walk(raw, func(num protowire.Number, val uint64, _ []byte) error {
		switch num {
		case resultCell:
			cells++
		case resultAssocCellCount:
			cells += int(val)
		}
		return nil
	})
	return cells, err
}

// GetResponse field numbers.
const getRespResult = 1

func decodeGetResponse(body []byte, ev *Event) error {
	return walk(body, func(num protowire.Number, _ uint64, raw []byte) error {
		if num == getRespResult {
			n, err := countCells(raw)
			if err != nil {
				return err
			}
			ev.AddCells(n)
		}
		return nil
	})
}

// ScanRequest field numbers.
const (
	scanReqRegion       = 1
	scanReqScan         = 2
	scanReqScannerID    = 3
	scanReqNumberOfRows = 4
	scanReqCloseScanner = 5

	scanStartRow = 3
)

func decodeScanRequest(body []byte, ev *Event) error {
	var hasScanner, closeScanner bool
	err := walk(body, func(num protowire.Number, val uint64, raw []byte) error {
		switch num {
		case scanReqRegion:
			table, region, err := decodeRegion(raw)
			if err != nil {
				return err
			}
			ev.Table, ev.Region = table, region
		case scanReqScan:
			return walk(raw, func(num protowire.Number, _ uint64, raw []byte) error {
				if num == scanStartRow {
					ev.Row = string(raw)
				}
				return nil
			})
		case scanReqScannerID:
			ev.Scanner = val
			ev.HasScanner = true
			hasScanner = true
		case scanReqCloseScanner:
			closeScanner = val != 0
		}
		return nil
	})
	if err != nil {
		return err
	}

	// open = no scanner id, close = close flag; both at once is a small
	// scan, neither is a next on an open cursor.
	switch {
	case !hasScanner && closeScanner:
		ev.Method = MethodSmallScan
	case !hasScanner:
		ev.Method = MethodOpenScanner
	case closeScanner:
		ev.Method = MethodCloseScanner
	default:
		ev.Method = MethodNextRows
	}
	return nil
}

// ScanResponse field numbers.
const (
	scanRespCellsPerResult = 1
	scanRespScannerID      = 2
	scanRespResults        = 5
)

func decodeScanResponse(body []byte, ev *Event) error {
	return walk(body, func(num protowire.Number, val uint64, raw []byte) error {
		switch num {
		case scanRespCellsPerResult:
			if raw != nil {
				// packed encoding
				for len(raw) > 0 {
					v, n := protowire.ConsumeVarint(raw)
					if n < 0 {
						return ErrInvalidProtobuf
					}
					ev.AddCells(int(v))
					raw = raw[n:]
				}
			} else {
				ev.AddCells(int(val))
			}
		case scanRespScannerID:
			ev.Scanner = val
			ev.HasScanner = true
		case scanRespResults:
			n, err := countCells(raw)
			if err != nil {
				return err
			}
			ev.AddCells(n)
		}
		return nil
	})
}

// MutateRequest / MutationProto field numbers.
const (
	mutateReqRegion   = 1
	mutateReqMutation = 2

	mutationRow  = 1
	mutationType = 2
)

var mutationTypes = map[uint64]string{
	0: "append",
	1: "increment",
	2: "put",
	3: "delete",
}

// decodeMutation extracts row and mutation type from a MutationProto.
func decodeMutation(raw []byte) (row, mtype string, err error) {
	err = walk(raw, func(num protowire.Number, val uint64, raw []byte) error {
		switch num {
		case mutationRow:
			row = string(raw)
		case mutationType:
			mtype = mutationTypes[val]
		}
		return nil
	})
	return row, mtype, err
}

func decodeMutateRequest(body []byte, ev *Event) error {
	return walk(body, func(num protowire.Number, _ uint64, raw []byte) error {
		switch num {
		case mutateReqRegion:
			table, region, err := decodeRegion(raw)
			if err != nil {
				return err
			}
			ev.Table, ev.Region = table, region
		case mutateReqMutation:
			row, _, err := decodeMutation(raw)
			if err != nil {
				return err
			}
			ev.Row = row
		}
		return nil
	})
}

// MutateResponse field numbers.
const mutateRespResult = 1

func decodeMutateResponse(body []byte, ev *Event) error {
	return walk(body, func(num protowire.Number, _ uint64, raw []byte) error {
		if num == mutateRespResult {
			n, err := countCells(raw)
			if err != nil {
				return err
			}
			ev.AddCells(n)
		}
		return nil
	})
}

// MultiRequest / RegionAction / Action field numbers.
const (
	multiReqRegionAction = 1

	regionActionRegion = 1
	regionActionAction = 3

	actionMutation = 2
	actionGet      = 3
)

func decodeMultiRequest(body []byte, ev *Event) error {
	err := walk(body, func(num protowire.Number, _ uint64, raw []byte) error {
		if num != multiReqRegionAction {
			return nil
		}
		var table, region string
		return walk(raw, func(num protowire.Number, _ uint64, raw []byte) error {
			switch num {
			case regionActionRegion:
				t, r, err := decodeRegion(raw)
				if err != nil {
					return err
				}
				table, region = t, r
			case regionActionAction:
				act := Action{Table: table, Region: region}
				err := walk(raw, func(num protowire.Number, _ uint64, raw []byte) error {
					switch num {
					case actionMutation:
						row, mtype, err := decodeMutation(raw)
						if err != nil {
							return err
						}
						act.Row, act.Method = row, mtype
					case actionGet:
						act.Method = MethodGet
						return walk(raw, func(num protowire.Number, _ uint64, raw []byte) error {
							if num == getRow {
								act.Row = string(raw)
							}
							return nil
						})
					}
					return nil
				})
				if err != nil {
					return err
				}
				ev.Actions = append(ev.Actions, act)
			}
			return nil
		})
	})
	if err != nil {
		return err
	}
	if len(ev.Actions) > 0 {
		// Attribute the request to the first region touched.
		ev.Table = ev.Actions[0].Table
		ev.Region = ev.Actions[0].Region
	}
	return nil
}

// MultiResponse / RegionActionResult / ResultOrException field numbers.
const (
	multiRespRegionActionResult = 1

	rarResultOrException = 1
	rarException         = 2

	roeResult    = 2
	roeException = 3
)

func decodeMultiResponse(body []byte, req, ev *Event) error {
	// Response results align positionally with the request's actions.
	ev.Actions = append([]Action(nil), req.Actions...)
	idx := 0
	err := walk(body, func(num protowire.Number, _ uint64, raw []byte) error {
		if num != multiRespRegionActionResult {
			return nil
		}
		return walk(raw, func(num protowire.Number, _ uint64, raw []byte) error {
			if num != rarResultOrException {
				return nil
			}
			var cells int
			var excName string
			err := walk(raw, func(num protowire.Number, _ uint64, raw []byte) error {
				switch num {
				case roeResult:
					n, err := countCells(raw)
					if err != nil {
						return err
					}
					cells += n
				case roeException:
					return walk(raw, func(num protowire.Number, _ uint64, raw []byte) error {
						if num == excClassName {
							excName = string(raw)
						}
						return nil
					})
				}
				return nil
			})
			if err != nil {
				return err
			}
			if idx < len(ev.Actions) {
				ev.Actions[idx].Cells = cells
				ev.Actions[idx].HasCells = true
				ev.Actions[idx].Error = excName
			}
			idx++
			return nil
		})
	})
	if err != nil {
		return err
	}
	ev.Table, ev.Region = req.Table, req.Region
	return nil
}
