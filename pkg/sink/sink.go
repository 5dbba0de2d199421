// Copyright 2025-2026 CERN. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package sink delivers decoded events to their destinations: an in-process
// SQLite store, a Kafka topic, an OTLP trace endpoint, or stdout. The
// manager fans events out and unpacks multi calls into per-action rows.
package sink

import (
	"sync"
	"time"

	"github.com/cerndb/hbase-packet-inspector/pkg/hbase"
	"github.com/cerndb/hbase-packet-inspector/pkg/health"
	"go.uber.org/zap"
)

// Sub-event kinds for per-action rows of a multi call.
const (
	KindActions = "actions"
	KindResults = "results"
)

// Sink consumes emitted events. EmitSub receives the per-action rows of a
// multi call.
type Sink interface {
	Emit(ev *hbase.Event) error
	EmitSub(kind string, ev *hbase.Event) error
	Close() error
}

// entry pairs a sink with its name and, for remote sinks, a circuit breaker.
type entry struct {
	name    string
	sink    Sink
	breaker *CircuitBreaker
}

// Manager fans events out to the registered sinks. Its Emit is the
// thread-safe enqueue the capture loop writes to.
type Manager struct {
	mu     sync.Mutex
	sinks  []entry
	stats  *health.Stats
	logger *zap.Logger
}

// NewManager creates an empty sink manager.
func NewManager(stats *health.Stats, logger *zap.Logger) *Manager {
	return &Manager{stats: stats, logger: logger}
}

// Add registers a local sink.
func (m *Manager) Add(name string, s Sink) {
	m.sinks = append(m.sinks, entry{name: name, sink: s})
}

// AddRemote registers a sink behind a circuit breaker. A remote sink that
// keeps failing is skipped until its reset timeout elapses; writes are never
// retried.
func (m *Manager) AddRemote(name string, s Sink) {
	m.sinks = append(m.sinks, entry{name: name, sink: s, breaker: NewCircuitBreaker(5, 30*time.Second)})
}

// Emit delivers one event to every sink. Multi events are unpacked first:
// batch is set, a single action is folded into the top-level event, and with
// more than one action each is emitted separately as a sub-event. The first
// sink error is returned after all sinks were attempted.
func (m *Manager) Emit(ev *hbase.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	kind, subs := unpackMulti(ev)

	var firstErr error
	for i := range m.sinks {
		e := &m.sinks[i]
		if e.breaker != nil && !e.breaker.Allow() {
			m.stats.SinkDropped.Add(1)
			continue
		}

		err := e.sink.Emit(ev)
		for _, sub := range subs {
			if err != nil {
				break
			}
			err = e.sink.EmitSub(kind, sub)
		}

		if e.breaker != nil {
			if err != nil {
				e.breaker.RecordFailure()
			} else {
				e.breaker.RecordSuccess()
			}
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	m.stats.EventsEmitted.Add(1)
	m.stats.SubEventsEmitted.Add(int64(len(subs)))
	return firstErr
}

// Close closes all sinks, returning the first error.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for _, e := range m.sinks {
		if err := e.sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// unpackMulti applies the multi unpacking rules to ev in place and returns
// the sub-events to emit alongside it, if any.
func unpackMulti(ev *hbase.Event) (kind string, subs []*hbase.Event) {
	if ev.Method != hbase.MethodMulti || len(ev.Actions) == 0 {
		return "", nil
	}
	ev.Batch = len(ev.Actions)

	if ev.Batch == 1 {
		a := ev.Actions[0]
		if ev.Table == "" {
			ev.Table = a.Table
		}
		if ev.Region == "" {
			ev.Region = a.Region
		}
		if ev.Row == "" {
			ev.Row = a.Row
		}
		if a.HasCells && !ev.HasCells {
			ev.AddCells(a.Cells)
		}
		if ev.Error == "" {
			ev.Error = a.Error
		}
		return "", nil
	}

	if !ev.HasCells {
		for _, a := range ev.Actions {
			if a.HasCells {
				ev.AddCells(a.Cells)
			}
		}
	}

	kind = KindActions
	if !ev.Inbound {
		kind = KindResults
	}
	subs = make([]*hbase.Event, 0, len(ev.Actions))
	for _, a := range ev.Actions {
		subs = append(subs, &hbase.Event{
			Method:   a.Method,
			CallID:   ev.CallID,
			Inbound:  ev.Inbound,
			TS:       ev.TS,
			Server:   ev.Server,
			Client:   ev.Client,
			Port:     ev.Port,
			Table:    a.Table,
			Region:   a.Region,
			Row:      a.Row,
			Cells:    a.Cells,
			HasCells: a.HasCells,
			Error:    a.Error,
		})
	}
	return kind, subs
}
