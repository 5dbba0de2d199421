// Copyright 2025-2026 CERN. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package sink

import (
	"errors"
	"testing"
	"time"

	"github.com/cerndb/hbase-packet-inspector/pkg/hbase"
	"github.com/cerndb/hbase-packet-inspector/pkg/health"
	"go.uber.org/zap"
)

type fakeSink struct {
	events []*hbase.Event
	subs   []struct {
		kind string
		ev   *hbase.Event
	}
	fail error
}

func (f *fakeSink) Emit(ev *hbase.Event) error {
	if f.fail != nil {
		return f.fail
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeSink) EmitSub(kind string, ev *hbase.Event) error {
	if f.fail != nil {
		return f.fail
	}
	f.subs = append(f.subs, struct {
		kind string
		ev   *hbase.Event
	}{kind, ev})
	return nil
}

func (f *fakeSink) Close() error { return nil }

func multiResponse() *hbase.Event {
	return &hbase.Event{
		Method: hbase.MethodMulti, CallID: 9, Inbound: false,
		TS: 5001, Server: "10.0.0.2", Client: "10.0.0.1", Port: 5555, Size: 64,
		Elapsed: 1, HasElapsed: true,
		Actions: []hbase.Action{
			{Method: "get", Table: "T1", Region: "R1", Row: "a", Cells: 4, HasCells: true},
			{Method: "put", Table: "T1", Region: "R1", Row: "b", Cells: 2, HasCells: true},
		},
	}
}

func TestManager_MultiUnpack(t *testing.T) {
	fs := &fakeSink{}
	m := NewManager(health.NewStats(), zap.NewNop())
	m.Add("fake", fs)

	ev := multiResponse()
	if err := m.Emit(ev); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	if ev.Batch != 2 {
		t.Errorf("batch = %d, want 2", ev.Batch)
	}
	if !ev.HasCells || ev.Cells != 6 {
		t.Errorf("cells = %d (set=%v), want 6", ev.Cells, ev.HasCells)
	}
	if len(fs.events) != 1 {
		t.Fatalf("top-level events = %d, want 1", len(fs.events))
	}
	if len(fs.subs) != 2 {
		t.Fatalf("sub events = %d, want 2", len(fs.subs))
	}
	for _, sub := range fs.subs {
		if sub.kind != KindResults {
			t.Errorf("kind = %q, want results", sub.kind)
		}
		if sub.ev.Client != "10.0.0.1" || sub.ev.Port != 5555 || sub.ev.CallID != 9 {
			t.Errorf("sub event missing copied-down identity: %+v", sub.ev)
		}
	}
	if fs.subs[0].ev.Cells != 4 || fs.subs[1].ev.Cells != 2 {
		t.Errorf("sub cells = %d,%d, want 4,2", fs.subs[0].ev.Cells, fs.subs[1].ev.Cells)
	}
}

func TestManager_MultiSingleActionMerged(t *testing.T) {
	fs := &fakeSink{}
	m := NewManager(health.NewStats(), zap.NewNop())
	m.Add("fake", fs)

	ev := &hbase.Event{
		Method: hbase.MethodMulti, CallID: 9, Inbound: true,
		TS: 5000, Client: "10.0.0.1", Port: 5555,
		Actions: []hbase.Action{
			{Method: "put", Table: "T2", Region: "R2", Row: "x"},
		},
	}
	if err := m.Emit(ev); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	if ev.Batch != 1 {
		t.Errorf("batch = %d, want 1", ev.Batch)
	}
	if ev.Table != "T2" || ev.Region != "R2" || ev.Row != "x" {
		t.Errorf("single action not merged: %+v", ev)
	}
	if len(fs.subs) != 0 {
		t.Errorf("sub events = %d, want 0 for batch of one", len(fs.subs))
	}
}

func TestManager_InboundMultiKind(t *testing.T) {
	fs := &fakeSink{}
	m := NewManager(health.NewStats(), zap.NewNop())
	m.Add("fake", fs)

	ev := &hbase.Event{
		Method: hbase.MethodMulti, CallID: 9, Inbound: true,
		TS: 5000, Client: "10.0.0.1", Port: 5555,
		Actions: []hbase.Action{
			{Method: "get", Row: "a"},
			{Method: "put", Row: "b"},
		},
	}
	if err := m.Emit(ev); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	for _, sub := range fs.subs {
		if sub.kind != KindActions {
			t.Errorf("kind = %q, want actions", sub.kind)
		}
	}
}

func TestManager_SurfacesSinkError(t *testing.T) {
	boom := errors.New("disk full")
	m := NewManager(health.NewStats(), zap.NewNop())
	m.Add("bad", &fakeSink{fail: boom})
	good := &fakeSink{}
	m.Add("good", good)

	ev := &hbase.Event{Method: hbase.MethodGet, CallID: 1, TS: 1}
	if err := m.Emit(ev); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
	// The failing sink must not starve the others.
	if len(good.events) != 1 {
		t.Errorf("good sink events = %d, want 1", len(good.events))
	}
}

func TestManager_BreakerOpensAndDrops(t *testing.T) {
	boom := errors.New("broker down")
	bad := &fakeSink{fail: boom}
	stats := health.NewStats()
	m := NewManager(stats, zap.NewNop())
	m.AddRemote("kafka", bad)

	ev := &hbase.Event{Method: hbase.MethodGet, CallID: 1, TS: 1}
	for i := 0; i < 5; i++ {
		m.Emit(ev)
	}
	if st := m.sinks[0].breaker.State(); st != CircuitOpen {
		t.Fatalf("breaker state = %v, want open", st)
	}

	// Writes while open are dropped, not attempted.
	if err := m.Emit(ev); err != nil {
		t.Errorf("open breaker must swallow the write, got %v", err)
	}
	if stats.SinkDropped.Load() == 0 {
		t.Error("dropped counter not incremented")
	}
}

func TestCircuitBreaker_Recovery(t *testing.T) {
	cb := NewCircuitBreaker(2, 10*time.Millisecond)

	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}
	if cb.Allow() {
		t.Error("open breaker must block")
	}

	time.Sleep(15 * time.Millisecond)
	if !cb.Allow() {
		t.Error("breaker must probe after reset timeout")
	}
	cb.RecordSuccess()
	if cb.State() != CircuitClosed {
		t.Errorf("state = %v, want closed after success", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(2, 5*time.Millisecond)
	cb.RecordFailure()
	cb.RecordFailure()
	time.Sleep(10 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("expected half-open probe")
	}
	cb.RecordFailure()
	if cb.Allow() {
		t.Error("failed probe must reopen the breaker")
	}
}
