// Copyright 2025-2026 CERN. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package sniffer

import (
	"bytes"
	"encoding/binary"
	"testing"
)

var testClient = ClientKey{Addr: "10.0.0.1", Port: 5555}

func prefixed(frame []byte) []byte {
	b := make([]byte, 4, 4+len(frame))
	binary.BigEndian.PutUint32(b, uint32(len(frame)))
	return append(b, frame...)
}

func TestIngest_WholeFrame(t *testing.T) {
	s := newState()
	frame := []byte("0123456789abcdef")

	got := s.ingest(testClient, prefixed(frame), 1000)
	if !bytes.Equal(got, frame) {
		t.Fatalf("ingest = %q, want %q", got, frame)
	}
	if len(s.fragments) != 0 {
		t.Errorf("fragments = %d, want 0", len(s.fragments))
	}
}

func TestIngest_SplitArbitrarily(t *testing.T) {
	frame := make([]byte, 56)
	for i := range frame {
		frame[i] = byte(i)
	}
	whole := prefixed(frame)

	// The reassembled frame must be identical regardless of where the
	// payload is cut.
	for cut := 5; cut < len(whole); cut += 7 {
		s := newState()
		if got := s.ingest(testClient, whole[:cut], 2000); got != nil {
			t.Fatalf("cut %d: early frame after first fragment", cut)
		}
		if len(s.fragments) != 1 {
			t.Fatalf("cut %d: fragments = %d, want 1", cut, len(s.fragments))
		}
		got := s.ingest(testClient, whole[cut:], 2001)
		if !bytes.Equal(got, frame) {
			t.Fatalf("cut %d: reassembled frame differs", cut)
		}
		if len(s.fragments) != 0 {
			t.Errorf("cut %d: fragment buffer not released", cut)
		}
	}
}

func TestIngest_ByteAtATime(t *testing.T) {
	frame := []byte("hello frame")
	whole := prefixed(frame)

	// The 4-byte prefix has to arrive in one payload; after it, the body
	// is reassembled one byte at a time.
	s := newState()
	got := s.ingest(testClient, whole[:4], 3000)
	for i := 4; i < len(whole); i++ {
		got = s.ingest(testClient, whole[i:i+1], int64(3000+i))
	}
	if !bytes.Equal(got, frame) {
		t.Fatalf("reassembled = %q, want %q", got, frame)
	}
}

func TestIngest_InvalidPrefix(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"huge length", []byte{0xff, 0xff, 0xff, 0xff, 1, 2, 3}},
		{"zero length", []byte{0, 0, 0, 0, 1, 2, 3}},
		{"at limit", append([]byte{0x40, 0, 0, 0}, 1, 2, 3)},
		{"too short", []byte{0, 0, 1}},
		{"empty", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newState()
			if got := s.ingest(testClient, tt.payload, 1000); got != nil {
				t.Errorf("ingest = %v, want nil", got)
			}
			if len(s.fragments) != 0 {
				t.Errorf("fragment buffer created for invalid prefix")
			}
		})
	}
}

func TestIngest_PerClientBuffers(t *testing.T) {
	s := newState()
	other := ClientKey{Addr: "10.0.0.9", Port: 1234}

	frameA := []byte("client a frame")
	frameB := []byte("client b payload")
	wholeA := prefixed(frameA)
	wholeB := prefixed(frameB)

	s.ingest(testClient, wholeA[:6], 1000)
	s.ingest(other, wholeB[:9], 1001)
	if len(s.fragments) != 2 {
		t.Fatalf("fragments = %d, want 2", len(s.fragments))
	}

	if got := s.ingest(other, wholeB[9:], 1002); !bytes.Equal(got, frameB) {
		t.Errorf("client b frame = %q, want %q", got, frameB)
	}
	if got := s.ingest(testClient, wholeA[6:], 1003); !bytes.Equal(got, frameA) {
		t.Errorf("client a frame = %q, want %q", got, frameA)
	}
}

func TestIngest_FragmentInvariant(t *testing.T) {
	frame := make([]byte, 100)
	whole := prefixed(frame)

	s := newState()
	s.ingest(testClient, whole[:30], 1000)
	fb := s.fragments[testClient]
	if fb == nil {
		t.Fatal("no fragment buffer")
	}
	if fb.total != 100 || fb.remains != 100-26 {
		t.Errorf("total=%d remains=%d", fb.total, fb.remains)
	}
	if len(fb.buf)+fb.remains != fb.total {
		t.Errorf("buffer accounting broken: len=%d remains=%d total=%d",
			len(fb.buf), fb.remains, fb.total)
	}
}
