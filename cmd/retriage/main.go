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

// Team CRM — Retriage Command
//
// Standalone CLI tool that replays parked (unrouted) messages through
// the routing pipeline. Run it after adding team members or routing
// rules so previously unmatched mail finds its recipient.
//
// Usage:
//
//	go run ./cmd/retriage/ [--limit 100] [--dry-run]
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/copp1723/team-crm-ingest/internal/config"
	"github.com/copp1723/team-crm-ingest/internal/directory"
	"github.com/copp1723/team-crm-ingest/internal/dispatch"
	"github.com/copp1723/team-crm-ingest/internal/enrich"
	"github.com/copp1723/team-crm-ingest/internal/mailer"
	"github.com/copp1723/team-crm-ingest/internal/normalize"
	"github.com/copp1723/team-crm-ingest/internal/retriage"
	"github.com/copp1723/team-crm-ingest/internal/route"
	"github.com/copp1723/team-crm-ingest/internal/store"
	"github.com/copp1723/team-crm-ingest/internal/update"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// --- CLI Flags ---
	limitFlag := flag.Int("limit", 100, "Maximum number of parked messages to replay")
	dryRunFlag := flag.Bool("dry-run", false, "Resolve without dispatching or pruning")
	flag.Parse()

	slog.Info("starting retriage",
		"limit", *limitFlag,
		"dry_run", *dryRunFlag,
	)

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	st, err := store.New(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise store", "error", err)
		os.Exit(1)
	}

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	publisher := update.NewPublisher(rdb, cfg.UpdatesQueue)
	if err := publisher.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	// --- Routing Pipeline ---
	dir := directory.New(st, cfg.Mail.Domain, cfg.DirectoryTTL)
	mail := mailer.New(cfg.Mail)
	builder := enrich.NewBuilder(st, cfg.Mail.Domain, cfg.DirectoryTTL)
	dispatcher := dispatch.NewDispatcher(st, mail, builder, publisher, cfg.Mail.CatchAll)

	runner := retriage.NewRunner(retriage.RunnerConfig{
		Store:      st,
		Normalizer: normalize.New(cfg.MaxAttachmentBytes),
		Resolver:   route.NewResolver(dir, st),
		Engine:     route.NewEngine(cfg),
		Processor:  dispatcher,
		DryRun:     *dryRunFlag,
	})

	result, err := runner.Run(ctx, *limitFlag)
	if err != nil {
		slog.Error("retriage failed", "error", err)
		os.Exit(1)
	}

	// --- Summary ---
	slog.Info("retriage complete",
		"total", result.Total,
		"resolved", result.Resolved,
		"unmatched", result.Unmatched,
		"errors", result.Errors,
		"elapsed", result.Elapsed,
	)
}
