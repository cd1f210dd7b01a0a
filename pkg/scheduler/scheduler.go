// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package scheduler runs the periodic compression sweep: every graph
// gets a pass each interval, so memory decays on the clock even when
// nobody asks for it.
package scheduler

import (
	"errors"
	"time"

	"github.com/tejzpr/munin-mcp/internal/compression"
	"github.com/tejzpr/munin-mcp/internal/database"
	"github.com/tejzpr/munin-mcp/internal/locking"
	"github.com/tejzpr/munin-mcp/internal/store"
	"go.uber.org/zap"
)

// sweepHolder identifies the scheduler as a lock holder
const sweepHolder = "scheduler"

// Scheduler handles periodic compression sweeps
type Scheduler struct {
	store    *store.Store
	engine   *compression.Engine
	interval time.Duration
	logger   *zap.Logger
	stopChan chan bool
}

// NewScheduler creates a new scheduler
func NewScheduler(s *store.Store, engine *compression.Engine, intervalMinutes int, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		store:    s,
		engine:   engine,
		interval: time.Duration(intervalMinutes) * time.Minute,
		logger:   logger,
		stopChan: make(chan bool),
	}
}

// Start begins the scheduler
func (s *Scheduler) Start() {
	ticker := time.NewTicker(s.interval)
	go func() {
		for {
			select {
			case <-ticker.C:
				s.sweepAllGraphs()
			case <-s.stopChan:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.stopChan <- true
}

// sweepAllGraphs runs one compression pass over every graph. A graph
// that is being written concurrently is skipped; the next sweep gets it.
func (s *Scheduler) sweepAllGraphs() {
	var graphs []database.MemoryGraph
	if err := s.store.DB().Find(&graphs).Error; err != nil {
		s.logger.Error("failed to fetch graphs for sweep", zap.Error(err))
		return
	}

	for i := range graphs {
		report, err := s.engine.Compress(graphs[i].ID, sweepHolder)
		if err != nil {
			var concurrent *compression.ConcurrentModificationError
			var locked *locking.LockError
			if errors.As(err, &concurrent) || errors.As(err, &locked) {
				s.logger.Info("sweep skipped busy graph", zap.String("graph_id", graphs[i].ID))
				continue
			}
			s.logger.Error("sweep failed for graph",
				zap.String("graph_id", graphs[i].ID), zap.Error(err))
			continue
		}
		if report.NodesPruned > 0 || report.NodesMerged > 0 {
			s.logger.Info("sweep compressed graph",
				zap.String("graph_id", graphs[i].ID),
				zap.Int("pruned", report.NodesPruned),
				zap.Int("merged", report.NodesMerged),
				zap.Float64("snr", report.NewSNR))
		}
	}
}
