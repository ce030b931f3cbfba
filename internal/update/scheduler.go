// Copyright (c) 2026 Team CRM Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package update

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/copp1723/team-crm-ingest/internal/models"
	"github.com/copp1723/team-crm-ingest/internal/store"
)

const sweepBatchSize = 50

// DelayedStore supplies due updates and records their delivery.
// Implemented by store.Store.
type DelayedStore interface {
	DueUpdates(ctx context.Context, limit int) ([]store.DelayedUpdate, error)
	MarkUpdatePicked(ctx context.Context, id int64) error
}

// Pusher hands one update to the downstream queue. Implemented by
// Publisher.
type Pusher interface {
	Publish(ctx context.Context, u *models.TeamUpdate) error
}

// Scheduler periodically sweeps the delayed-update table and publishes
// every update whose scheduled time has passed. Messages routed with the
// queue action surface downstream through this loop.
type Scheduler struct {
	store    DelayedStore
	pusher   Pusher
	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a delayed-update scheduler.
func NewScheduler(st DelayedStore, pusher Pusher, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		store:    st,
		pusher:   pusher,
		interval: interval,
	}
}

// Start runs the sweep loop at the configured interval.
func (s *Scheduler) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				s.Sweep(loopCtx)
			}
		}
	}()

	slog.Info("delayed update scheduler started", "interval", s.interval)
}

// Stop shuts down the sweep loop.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Sweep publishes all currently due updates. A failed publish leaves the
// update unpicked so the next sweep retries it.
func (s *Scheduler) Sweep(ctx context.Context) {
	due, err := s.store.DueUpdates(ctx, sweepBatchSize)
	if err != nil {
		slog.Error("failed to list due updates", "error", err)
		return
	}
	if len(due) == 0 {
		return
	}

	published := 0
	for _, du := range due {
		if err := s.pusher.Publish(ctx, &du.Update); err != nil {
			slog.Error("failed to publish delayed update",
				"update_id", du.ID,
				"member", du.Update.MemberName,
				"error", err,
			)
			continue
		}

		if err := s.store.MarkUpdatePicked(ctx, du.ID); err != nil {
			// The update went out; without the mark the next sweep will
			// duplicate it, which the downstream consumer tolerates.
			slog.Error("published update not marked as picked",
				"update_id", du.ID,
				"error", err,
			)
		}
		published++
	}

	slog.Info("delayed update sweep complete",
		"due", len(due),
		"published", published,
	)
}
