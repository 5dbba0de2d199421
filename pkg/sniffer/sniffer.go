// Copyright 2025-2026 CERN. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package sniffer

import (
	"errors"

	"github.com/cerndb/hbase-packet-inspector/pkg/capture"
	"github.com/cerndb/hbase-packet-inspector/pkg/hbase"
	"github.com/cerndb/hbase-packet-inspector/pkg/health"
	"go.uber.org/zap"
)

// Emitter consumes decoded events. The sink manager implements it; its
// enqueue operation is the only thread-safety the sniffer requires of it.
type Emitter interface {
	Emit(ev *hbase.Event) error
}

// Sniffer turns normalized packets into correlated events. It is driven by a
// single goroutine; none of its state is locked.
type Sniffer struct {
	ports  map[uint16]bool
	emit   Emitter
	logger *zap.Logger
	stats  *health.Stats

	state  *state
	budget uint64
	latest int64
}

// New creates a sniffer observing the given server ports.
func New(ports []int, emit Emitter, stats *health.Stats, logger *zap.Logger) *Sniffer {
	portSet := make(map[uint16]bool, len(ports))
	for _, p := range ports {
		portSet[uint16(p)] = true
	}
	return &Sniffer{
		ports:  portSet,
		emit:   emit,
		logger: logger,
		stats:  stats,
		state:  newState(),
		budget: memoryBudget(),
	}
}

// HandlePacket feeds one packet through framing, decoding, correlation and
// scanner tracking. Decode failures discard the client's fragment buffer and
// are otherwise non-fatal; only sink write errors are returned.
func (s *Sniffer) HandlePacket(pkt *capture.Packet) error {
	var inbound bool
	var client ClientKey
	var server string
	switch {
	case s.ports[pkt.DstPort]:
		inbound = true
		client = ClientKey{Addr: pkt.SrcIP, Port: pkt.SrcPort}
		server = pkt.DstIP
	case s.ports[pkt.SrcPort]:
		client = ClientKey{Addr: pkt.DstIP, Port: pkt.DstPort}
		server = pkt.SrcIP
	default:
		return nil
	}
	s.latest = pkt.TS

	frame := s.state.ingest(client, pkt.Payload, pkt.TS)
	if frame == nil {
		return nil
	}

	ev, err := s.decodeFrame(client, server, inbound, frame, pkt.TS)
	if err != nil {
		s.state.dropFragments(client)
		s.stats.DecodeErrors.Add(1)
		if !errors.Is(err, hbase.ErrInvalidProtobuf) {
			s.logger.Warn("frame decode failed",
				zap.String("client", client.String()),
				zap.Bool("inbound", inbound),
				zap.Error(err),
			)
		}
		return nil
	}

	s.stats.EventsProduced.Add(1)
	return s.emit.Emit(ev)
}

// decodeFrame parses a completed frame into an event, installs or consumes
// the call record, and runs the scanner tracker.
func (s *Sniffer) decodeFrame(client ClientKey, server string, inbound bool, frame []byte, ts int64) (*hbase.Event, error) {
	header, body, err := hbase.Split(frame)
	if err != nil {
		return nil, err
	}

	var ev *hbase.Event
	if inbound {
		ev, err = hbase.DecodeRequest(header, body)
		if err != nil {
			return nil, err
		}
		s.fill(ev, client, server, ts, len(frame))
		s.state.calls[callKey{client, ev.CallID}] = ev
	} else {
		ev, err = hbase.DecodeResponse(header, body, func(callID uint32) *hbase.Event {
			return s.state.calls[callKey{client, callID}]
		})
		if err != nil {
			return nil, err
		}
		s.fill(ev, client, server, ts, len(frame))

		k := callKey{client, ev.CallID}
		if req, ok := s.state.calls[k]; ok {
			delete(s.state.calls, k)
			ev.MergeRequest(req)
			ev.Elapsed = ts - req.TS
			ev.HasElapsed = true
		}
	}

	s.state.track(client, ev)
	return ev, nil
}

func (s *Sniffer) fill(ev *hbase.Event, client ClientKey, server string, ts int64, size int) {
	ev.TS = ts
	ev.Server = server
	ev.Client = client.Addr
	ev.Port = client.Port
	ev.Size = size
}

// Evict runs the periodic state sweep against the latest packet timestamp.
func (s *Sniffer) Evict() {
	expired, dropped := s.state.evict(s.latest, s.budget, s.logger)
	s.stats.StateExpired.Add(int64(expired))
	s.stats.StateDropped.Add(int64(dropped))
}

// StateSize returns the number of in-flight state objects.
func (s *Sniffer) StateSize() int {
	return s.state.size()
}
