// Copyright 2025-2026 CERN. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package sniffer

import (
	"encoding/binary"
)

// maxFrameLength rejects length prefixes that cannot be the start of an RPC
// frame. Connection preambles, SASL exchanges and mid-stream fragments decode
// to lengths outside (0, 2^30).
const maxFrameLength = 1 << 30

// ingest feeds one TCP payload into the per-client fragment buffer and
// returns a completed frame, or nil while the frame is still in flight or
// the payload was not a frame start.
func (s *state) ingest(client ClientKey, payload []byte, ts int64) []byte {
	if fb, ok := s.fragments[client]; ok {
		n := fb.remains
		if n > len(payload) {
			n = len(payload)
		}
		fb.buf = append(fb.buf, payload[:n]...)
		fb.remains -= n
		if fb.remains == 0 {
			delete(s.fragments, client)
			return fb.buf
		}
		fb.ts = ts
		return nil
	}

	if len(payload) < 4 {
		return nil
	}
	total := int(binary.BigEndian.Uint32(payload))
	if total <= 0 || total >= maxFrameLength {
		return nil
	}
	rest := payload[4:]
	if len(rest) >= total {
		return rest[:total]
	}

	fb := &fragmentBuffer{
		ts:      ts,
		buf:     append(make([]byte, 0, total), rest...),
		total:   total,
		remains: total - len(rest),
	}
	s.fragments[client] = fb
	return nil
}

// dropFragments discards any partial frame buffered for the client. Used
// when downstream decoding fails; the call and scanner tables are untouched.
func (s *state) dropFragments(client ClientKey) {
	delete(s.fragments, client)
}
