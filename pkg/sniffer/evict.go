// Copyright 2025-2026 CERN. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package sniffer

import (
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

const (
	// maxAgeMS is how long a state object may go without a completing
	// event before the age sweep removes it.
	maxAgeMS = 120_000

	// fallbackBudget stands in when the platform cannot report total
	// memory.
	fallbackBudget = 1 << 30
)

// memoryBudget returns the byte budget the evictor caps against. Half of it
// is the ceiling for expected in-flight frame memory.
func memoryBudget() uint64 {
	vm, err := mem.VirtualMemory()
	if err != nil || vm.Total == 0 {
		return fallbackBudget
	}
	return vm.Total
}

// evict runs the two-stage sweep: drop state older than maxAgeMS relative to
// the latest packet timestamp, then cap expected fragment memory to half the
// budget by dropping the largest buffers first.
func (s *state) evict(latest int64, budget uint64, logger *zap.Logger) (expired, dropped int) {
	for k, fb := range s.fragments {
		if latest-fb.ts > maxAgeMS {
			delete(s.fragments, k)
			expired++
		}
	}
	for k, ev := range s.calls {
		if latest-ev.TS > maxAgeMS {
			delete(s.calls, k)
			expired++
		}
	}
	for k, ev := range s.pending {
		if latest-ev.TS > maxAgeMS {
			delete(s.pending, k)
			expired++
		}
	}
	for id, sr := range s.scanners {
		if latest-sr.ts > maxAgeMS {
			delete(s.scanners, id)
			expired++
		}
	}
	if expired > 0 {
		logger.Info(fmt.Sprintf("Expired %d state object(s)", expired))
	}

	// Only fragment buffers contribute expected memory; the other
	// categories ride along at zero weight and always survive this stage.
	var before uint64
	for _, fb := range s.fragments {
		before += uint64(fb.expectedMemory())
	}
	ceiling := budget / 2
	if before <= ceiling {
		return expired, 0
	}

	keys := make([]ClientKey, 0, len(s.fragments))
	for k := range s.fragments {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := s.fragments[keys[i]], s.fragments[keys[j]]
		if a.expectedMemory() != b.expectedMemory() {
			return a.expectedMemory() < b.expectedMemory()
		}
		return keys[i].String() < keys[j].String()
	})

	var kept uint64
	for _, k := range keys {
		em := uint64(s.fragments[k].expectedMemory())
		if kept+em < ceiling {
			kept += em
			continue
		}
		delete(s.fragments, k)
		dropped++
	}

	logger.Info("dropped state to fit memory budget",
		zap.Int("dropped", dropped),
		zap.String("before", humanize.Bytes(before)),
		zap.String("after", humanize.Bytes(kept)),
		zap.String("budget", humanize.Bytes(ceiling)),
	)
	return expired, dropped
}
