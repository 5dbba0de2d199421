// Copyright 2025-2026 CERN. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package sniffer

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/cerndb/hbase-packet-inspector/pkg/capture"
	"go.uber.org/zap"
)

// Source yields normalized packets. capture.Handle implements it.
type Source interface {
	Next() (*capture.Packet, error)
	Stats() capture.Stats
	Close()
}

// Limits bound a capture run. Zero values mean unlimited.
type Limits struct {
	Count    int64
	Duration time.Duration
}

const (
	retrySleep       = 100 * time.Millisecond
	reportInterval   = 2 * time.Second
	reportEveryCount = 10_000
)

// Run drives the pipeline until the source is exhausted, the context is
// cancelled, or a limit is reached. The source is closed on all exit paths.
func (s *Sniffer) Run(ctx context.Context, src Source, limits Limits) error {
	defer src.Close()

	start := time.Now()
	var seen int64
	var firstTS int64
	prevSeen := int64(0)
	prevWall := start

	for {
		if ctx.Err() != nil {
			break
		}

		pkt, err := src.Next()
		switch {
		case errors.Is(err, capture.ErrTimeout):
			select {
			case <-ctx.Done():
			case <-time.After(retrySleep):
			}
			continue
		case errors.Is(err, io.EOF):
			s.report(seen, firstTS, src)
			s.logger.Info("end of capture", zap.Int64("packets", seen))
			return nil
		case err != nil:
			return err
		}

		seen++
		s.stats.PacketsSeen.Add(1)
		if pkt != nil {
			if firstTS == 0 {
				firstTS = pkt.TS
			}
			if err := s.HandlePacket(pkt); err != nil {
				s.stats.SinkErrors.Add(1)
				s.logger.Error("sink write failed", zap.Error(err))
			}
		}

		now := time.Now()
		if now.Sub(prevWall) >= reportInterval || seen-prevSeen >= reportEveryCount {
			s.report(seen, firstTS, src)
			s.Evict()
			prevSeen, prevWall = seen, now
		}

		if limits.Count > 0 && seen >= limits.Count {
			s.logger.Info("packet count limit reached", zap.Int64("count", seen))
			break
		}
		if limits.Duration > 0 && time.Since(start) >= limits.Duration {
			s.logger.Info("duration limit reached", zap.Duration("duration", limits.Duration))
			break
		}
	}

	s.report(seen, firstTS, src)
	return nil
}

// report logs a progress line with pipeline and libpcap counters.
func (s *Sniffer) report(seen, firstTS int64, src Source) {
	fields := []zap.Field{
		zap.Int64("packets", seen),
		zap.Int64("events", s.stats.EventsProduced.Load()),
		zap.Int("state", s.StateSize()),
	}
	if firstTS > 0 && s.latest > firstTS {
		fields = append(fields, zap.Duration("captured", time.Duration(s.latest-firstTS)*time.Millisecond))
	}
	if st := src.Stats(); st.Received > 0 {
		fields = append(fields,
			zap.Int("received", st.Received),
			zap.Int("dropped", st.Dropped),
		)
	}
	s.logger.Info("progress", fields...)
}
