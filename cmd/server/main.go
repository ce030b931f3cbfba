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

// Team CRM — Email Routing Service
//
// Entry point for the inbound email processing service. It:
//  1. Loads configuration from config.yaml
//  2. Connects to PostgreSQL and Redis
//  3. Loads the team member directory and derives assistant addresses
//  4. Provisions inbound routes at the mail provider
//  5. Starts the assistant and general dispatch queues
//  6. Serves the inbound webhook endpoints
//  7. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/copp1723/team-crm-ingest/internal/config"
	"github.com/copp1723/team-crm-ingest/internal/dedup"
	"github.com/copp1723/team-crm-ingest/internal/directory"
	"github.com/copp1723/team-crm-ingest/internal/dispatch"
	"github.com/copp1723/team-crm-ingest/internal/enrich"
	"github.com/copp1723/team-crm-ingest/internal/mailer"
	"github.com/copp1723/team-crm-ingest/internal/models"
	"github.com/copp1723/team-crm-ingest/internal/normalize"
	"github.com/copp1723/team-crm-ingest/internal/route"
	"github.com/copp1723/team-crm-ingest/internal/store"
	"github.com/copp1723/team-crm-ingest/internal/update"
	"github.com/copp1723/team-crm-ingest/internal/webhook"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting team CRM email routing service")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"mail_domain", cfg.Mail.Domain,
		"rules", len(cfg.Rules),
		"dispatch_interval", cfg.DispatchInterval,
		"live_transport", cfg.Mail.APIKey != "",
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	if err := pgPool.Ping(ctx); err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to PostgreSQL")

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

	publisher := update.NewPublisher(rdb, cfg.UpdatesQueue)
	if err := publisher.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	filter := dedup.NewFilter(rdb, cfg.DedupTTL)

	// --- Member Directory ---
	if err := seedTeam(ctx, st, cfg.Team); err != nil {
		slog.Error("failed to seed team members", "error", err)
		os.Exit(1)
	}

	dir := directory.New(st, cfg.Mail.Domain, cfg.DirectoryTTL)
	members, err := dir.All(ctx)
	if err != nil {
		slog.Error("failed to load team member directory", "error", err)
		os.Exit(1)
	}
	slog.Info("team member directory loaded", "members", len(members))

	// --- Mail Transport ---
	mail := mailer.New(cfg.Mail)

	// --- Provision Inbound Routes ---
	// The provider validates routes against a public URL, so provisioning
	// only happens when one is configured.
	if webhookURL := strings.TrimSpace(os.Getenv("WEBHOOK_URL")); webhookURL != "" {
		provisionRoutes(ctx, mail, cfg.Mail.Domain, webhookURL)
	} else {
		slog.Warn("WEBHOOK_URL not set, skipping route provisioning")
	}

	// --- Routing Pipeline ---
	normalizer := normalize.New(cfg.MaxAttachmentBytes)
	builder := enrich.NewBuilder(st, cfg.Mail.Domain, cfg.DirectoryTTL)
	resolver := route.NewResolver(dir, st)
	engine := route.NewEngine(cfg)

	dispatcher := dispatch.NewDispatcher(st, mail, builder, publisher, cfg.Mail.CatchAll)

	// Assistant and general traffic each keep their own FIFO ordering.
	assistantQueue := dispatch.NewQueue("assistant", dispatcher, cfg.DispatchInterval, cfg.DispatchTimeout)
	generalQueue := dispatch.NewQueue("general", dispatcher, cfg.DispatchInterval, cfg.DispatchTimeout)
	assistantQueue.Start(ctx)
	generalQueue.Start(ctx)

	// Queued messages become team updates when their pickup time passes.
	scheduler := update.NewScheduler(st, publisher, cfg.UpdateSweepInterval)
	scheduler.Start(ctx)

	// --- Webhook Server ---
	handler := webhook.NewHandler(normalizer, resolver, engine, mail, filter, st, assistantQueue, generalQueue)
	handler.AddHealthCheck("postgres", pgPool.Ping)
	handler.AddHealthCheck("redis", publisher.Ping)

	ready, err := webhook.Serve(ctx, cfg.Port, handler)
	if err != nil {
		slog.Error("failed to start webhook server", "error", err)
		os.Exit(1)
	}
	<-ready
	slog.Info("email routing service ready", "port", cfg.Port)

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh

	slog.Info("received shutdown signal", "signal", sig)
	cancel()

	// Queues drain accepted entries before the stores close.
	assistantQueue.Stop()
	generalQueue.Stop()
	scheduler.Stop()

	rdb.Close()
	pgPool.Close()

	slog.Info("email routing service stopped")
}

// seedTeam upserts the team members declared in config so a fresh
// deployment routes mail without a manual insert step.
func seedTeam(ctx context.Context, st *store.Store, team []config.MemberConfig) error {
	for _, m := range team {
		rec := models.AssistantRecord{
			ExternalID:    m.ExternalID,
			Name:          m.Name,
			PersonalEmail: m.PersonalEmail,
			Role:          m.Role,
		}
		if err := st.UpsertMember(ctx, rec); err != nil {
			return fmt.Errorf("upsert member %s: %w", m.ExternalID, err)
		}
	}
	if len(team) > 0 {
		slog.Info("team members seeded", "count", len(team))
	}
	return nil
}

// provisionRoutes registers the provider routes that deliver inbound
// mail to this service: assistant-addressed mail first, then the
// domain-wide catch-all.
func provisionRoutes(ctx context.Context, mail *mailer.Client, domain, webhookURL string) {
	webhookURL = strings.TrimSuffix(webhookURL, "/")

	assistantExpr := fmt.Sprintf(`match_recipient(".*-assistant@%s")`, domain)
	if err := mail.CreateRoute(ctx, assistantExpr, webhookURL+"/webhooks/assistant", 0); err != nil {
		slog.Error("failed to provision assistant route", "error", err)
	}

	catchAllExpr := fmt.Sprintf(`match_recipient(".*@%s")`, domain)
	if err := mail.CreateRoute(ctx, catchAllExpr, webhookURL+"/webhooks/email", 10); err != nil {
		slog.Error("failed to provision catch-all route", "error", err)
	}
}
