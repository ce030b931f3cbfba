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

// Package retriage re-runs parked messages through the routing pipeline.
// Messages land in the unrouted store when no recipient resolved or an
// infrastructure fault interrupted dispatch; after the team directory or
// routing rules change, this runner gives each one another pass.
package retriage

import (
	"context"
	"log/slog"
	"time"

	"github.com/copp1723/team-crm-ingest/internal/dispatch"
	"github.com/copp1723/team-crm-ingest/internal/models"
	"github.com/copp1723/team-crm-ingest/internal/normalize"
	"github.com/copp1723/team-crm-ingest/internal/route"
	"github.com/copp1723/team-crm-ingest/internal/store"
)

// UnroutedStore is the slice of persistence the runner reads and prunes.
type UnroutedStore interface {
	ListUnrouted(ctx context.Context, limit int) ([]store.UnroutedMessage, error)
	DeleteUnrouted(ctx context.Context, id int64) error
}

// Resolver maps a normalized message to a team member.
type Resolver interface {
	Resolve(ctx context.Context, msg *models.NormalizedMessage) (*models.AssistantRecord, error)
}

// Result summarises a completed retriage run.
type Result struct {
	Total     int
	Resolved  int
	Unmatched int
	Errors    int
	Elapsed   time.Duration
}

// Runner replays parked messages through normalize, resolve, and
// dispatch.
type Runner struct {
	store      UnroutedStore
	normalizer *normalize.Normalizer
	resolver   Resolver
	engine     *route.Engine
	proc       dispatch.Processor
	dryRun     bool
	itemDelay  time.Duration
}

// RunnerConfig holds dependencies for the retriage runner.
type RunnerConfig struct {
	Store      UnroutedStore
	Normalizer *normalize.Normalizer
	Resolver   Resolver
	Engine     *route.Engine
	Processor  dispatch.Processor

	// DryRun logs what would happen without dispatching or pruning.
	DryRun bool

	// ItemDelay spaces out dispatches so a large batch doesn't hammer
	// the mail provider.
	ItemDelay time.Duration
}

// NewRunner creates a retriage runner.
func NewRunner(cfg RunnerConfig) *Runner {
	delay := cfg.ItemDelay
	if delay == 0 {
		delay = 200 * time.Millisecond
	}
	return &Runner{
		store:      cfg.Store,
		normalizer: cfg.Normalizer,
		resolver:   cfg.Resolver,
		engine:     cfg.Engine,
		proc:       cfg.Processor,
		dryRun:     cfg.DryRun,
		itemDelay:  delay,
	}
}

// Run replays up to limit parked messages, oldest first.
func (r *Runner) Run(ctx context.Context, limit int) (*Result, error) {
	start := time.Now()

	parked, err := r.store.ListUnrouted(ctx, limit)
	if err != nil {
		return nil, err
	}

	slog.Info("starting retriage run",
		"parked", len(parked),
		"dry_run", r.dryRun,
	)

	result := &Result{Total: len(parked)}

	for i, pm := range parked {
		if i > 0 && !r.dryRun {
			select {
			case <-ctx.Done():
				result.Elapsed = time.Since(start)
				return result, ctx.Err()
			case <-time.After(r.itemDelay):
			}
		}

		if err := r.retriageOne(ctx, pm, result); err != nil {
			slog.Error("retriage failed for message",
				"unrouted_id", pm.ID,
				"error", err,
			)
			result.Errors++
			// Continue with the rest of the batch
		}
	}

	result.Elapsed = time.Since(start)

	slog.Info("retriage run complete",
		"total", result.Total,
		"resolved", result.Resolved,
		"unmatched", result.Unmatched,
		"errors", result.Errors,
		"elapsed", result.Elapsed,
	)

	return result, nil
}

// retriageOne replays a single parked message. A message that still has
// no recipient stays parked.
func (r *Runner) retriageOne(ctx context.Context, pm store.UnroutedMessage, result *Result) error {
	msg := r.normalizer.Normalize(pm.Raw)

	recipient, err := r.resolver.Resolve(ctx, msg)
	if err != nil {
		return err
	}
	if recipient == nil {
		slog.Info("message still unmatched, leaving parked",
			"unrouted_id", pm.ID,
			"from", msg.From.Address,
			"subject", msg.Subject,
		)
		result.Unmatched++
		return nil
	}

	decision := r.engine.Decide(msg, recipient)

	if r.dryRun {
		slog.Info("dry run: would dispatch",
			"unrouted_id", pm.ID,
			"recipient", recipient.Name,
			"action", decision.Action,
			"priority", decision.Priority,
		)
		result.Resolved++
		return nil
	}

	r.proc.Process(ctx, dispatch.Entry{
		Message:   msg,
		Decision:  decision,
		Recipient: recipient,
		Raw:       pm.Raw,
	})

	if err := r.store.DeleteUnrouted(ctx, pm.ID); err != nil {
		return err
	}

	slog.Info("parked message re-routed",
		"unrouted_id", pm.ID,
		"recipient", recipient.Name,
		"action", decision.Action,
	)
	result.Resolved++
	return nil
}
