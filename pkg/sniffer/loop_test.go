// Copyright 2025-2026 CERN. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package sniffer

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/cerndb/hbase-packet-inspector/pkg/capture"
	ht "github.com/cerndb/hbase-packet-inspector/pkg/hbase/hbasetest"
)

// fakeSource replays a fixed packet sequence and then reports EOF.
type fakeSource struct {
	packets []*capture.Packet
	pos     int
	closed  bool
}

func (f *fakeSource) Next() (*capture.Packet, error) {
	if f.pos >= len(f.packets) {
		return nil, io.EOF
	}
	p := f.packets[f.pos]
	f.pos++
	return p, nil
}

func (f *fakeSource) Stats() capture.Stats { return capture.Stats{} }
func (f *fakeSource) Close()               { f.closed = true }

func TestRun_EOF(t *testing.T) {
	sn, rec := newTestSniffer()

	frame := ht.Frame(ht.RequestHeader(1, "Get"), ht.GetRequest("T1,,1.x.", "k"))
	src := &fakeSource{packets: []*capture.Packet{
		inboundPkt(1000, ht.Prefixed(frame)),
		nil, // non-TCP frame from the source
	}}

	if err := sn.Run(context.Background(), src, Limits{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !src.closed {
		t.Error("source not closed on EOF")
	}
	if len(rec.events) != 1 {
		t.Errorf("events = %d, want 1", len(rec.events))
	}
	if got := sn.stats.PacketsSeen.Load(); got != 2 {
		t.Errorf("packets seen = %d, want 2", got)
	}
}

func TestRun_CountLimit(t *testing.T) {
	sn, _ := newTestSniffer()

	frame := ht.Frame(ht.RequestHeader(1, "Get"), ht.GetRequest("T1,,1.x.", "k"))
	var packets []*capture.Packet
	for i := 0; i < 10; i++ {
		packets = append(packets, inboundPkt(int64(1000+i), ht.Prefixed(frame)))
	}
	src := &fakeSource{packets: packets}

	if err := sn.Run(context.Background(), src, Limits{Count: 3}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := sn.stats.PacketsSeen.Load(); got != 3 {
		t.Errorf("packets seen = %d, want 3", got)
	}
	if !src.closed {
		t.Error("source not closed at count limit")
	}
}

func TestRun_Cancelled(t *testing.T) {
	sn, _ := newTestSniffer()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := &fakeSource{packets: []*capture.Packet{
		inboundPkt(1000, []byte{0, 0, 0, 1, 0}),
	}}
	done := make(chan error, 1)
	go func() { done <- sn.Run(ctx, src, Limits{}) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not observe cancellation")
	}
	if !src.closed {
		t.Error("source not closed on cancel")
	}
}

type timeoutSource struct {
	fakeSource
	timeouts int
}

func (f *timeoutSource) Next() (*capture.Packet, error) {
	if f.timeouts > 0 {
		f.timeouts--
		return nil, capture.ErrTimeout
	}
	return f.fakeSource.Next()
}

func TestRun_RetriesAfterTimeout(t *testing.T) {
	sn, rec := newTestSniffer()

	frame := ht.Frame(ht.RequestHeader(1, "Get"), ht.GetRequest("T1,,1.x.", "k"))
	src := &timeoutSource{
		fakeSource: fakeSource{packets: []*capture.Packet{
			inboundPkt(1000, ht.Prefixed(frame)),
		}},
		timeouts: 2,
	}

	if err := sn.Run(context.Background(), src, Limits{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rec.events) != 1 {
		t.Errorf("events = %d, want 1 after timeouts", len(rec.events))
	}
}
