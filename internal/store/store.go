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

// Package store provides the Postgres-backed persistence for the email
// pipeline: team members, inbound messages with their routing decisions
// and dispatch outcomes, unroutable messages awaiting triage, and the
// delayed-update table for queued work.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/copp1723/team-crm-ingest/internal/models"
)

// Store provides CRUD operations over the pipeline's Postgres tables.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a store backed by the given Postgres pool. It ensures the
// schema exists on creation.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	slog.Info("message store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS team_members (
			id             BIGSERIAL PRIMARY KEY,
			external_id    TEXT NOT NULL UNIQUE,
			name           TEXT NOT NULL,
			personal_email TEXT DEFAULT '',
			role           TEXT DEFAULT '',
			configuration  JSONB DEFAULT '{}'::jsonb,
			active         BOOLEAN DEFAULT TRUE,
			created_at     TIMESTAMPTZ DEFAULT NOW(),
			updated_at     TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS inbound_messages (
			message_id               TEXT PRIMARY KEY,
			thread_id                TEXT DEFAULT '',
			from_address             TEXT NOT NULL,
			subject                  TEXT DEFAULT '',
			normalized               JSONB NOT NULL,
			decision                 JSONB,
			recipient_id             TEXT DEFAULT '',
			forwarded                BOOLEAN DEFAULT FALSE,
			forward_message_id       TEXT DEFAULT '',
			forwarded_at             TIMESTAMPTZ,
			queued                   BOOLEAN DEFAULT FALSE,
			queued_at                TIMESTAMPTZ,
			auto_responded           BOOLEAN DEFAULT FALSE,
			auto_response_message_id TEXT DEFAULT '',
			auto_responded_at        TIMESTAMPTZ,
			dispatch_error           TEXT DEFAULT '',
			received_at              TIMESTAMPTZ NOT NULL,
			created_at               TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_messages_thread ON inbound_messages(thread_id);
		CREATE INDEX IF NOT EXISTS idx_messages_from ON inbound_messages(from_address);
		CREATE TABLE IF NOT EXISTS unrouted_messages (
			id         BIGSERIAL PRIMARY KEY,
			arrived_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			raw        JSONB NOT NULL,
			reason     TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS delayed_updates (
			id            BIGSERIAL PRIMARY KEY,
			member_name   TEXT NOT NULL,
			update_text   TEXT NOT NULL,
			metadata      JSONB DEFAULT '{}'::jsonb,
			scheduled_for TIMESTAMPTZ NOT NULL,
			picked_up     BOOLEAN DEFAULT FALSE,
			created_at    TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_delayed_pickup ON delayed_updates(picked_up, scheduled_for);
	`)
	return err
}

// ListActiveMembers returns all active team members, configuration
// decoded. Feeds the assistant directory.
func (s *Store) ListActiveMembers(ctx context.Context) ([]models.AssistantRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, external_id, name, personal_email, role, configuration
		FROM team_members
		WHERE active
		ORDER BY external_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []models.AssistantRecord
	for rows.Next() {
		var (
			r       models.AssistantRecord
			rawConf []byte
		)
		if err := rows.Scan(&r.ID, &r.ExternalID, &r.Name, &r.PersonalEmail, &r.Role, &rawConf); err != nil {
			return nil, err
		}
		if len(rawConf) > 0 {
			if err := json.Unmarshal(rawConf, &r.Configuration); err != nil {
				slog.Warn("skipping malformed member configuration",
					"member", r.ExternalID,
					"error", err,
				)
			}
		}
		members = append(members, r)
	}
	return members, rows.Err()
}

// UpsertMember inserts or updates a team member keyed on external_id.
func (s *Store) UpsertMember(ctx context.Context, r models.AssistantRecord) error {
	conf, err := json.Marshal(r.Configuration)
	if err != nil {
		return fmt.Errorf("marshal member configuration: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO team_members (external_id, name, personal_email, role, configuration)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (external_id) DO UPDATE SET
			name           = EXCLUDED.name,
			personal_email = EXCLUDED.personal_email,
			role           = EXCLUDED.role,
			configuration  = EXCLUDED.configuration,
			updated_at     = NOW()
	`, r.ExternalID, r.Name, r.PersonalEmail, r.Role, conf)
	return err
}

// SaveMessage persists a normalized message with its routing decision.
// Upserts so a provider redelivery cannot duplicate the record.
func (s *Store) SaveMessage(ctx context.Context, msg *models.NormalizedMessage, decision models.RoutingDecision, recipientID string) error {
	normalized, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal normalized message: %w", err)
	}
	dec, err := json.Marshal(decision)
	if err != nil {
		return fmt.Errorf("marshal routing decision: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO inbound_messages
			(message_id, thread_id, from_address, subject, normalized, decision, recipient_id, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (message_id) DO UPDATE SET
			decision     = EXCLUDED.decision,
			recipient_id = EXCLUDED.recipient_id
	`, msg.MessageID, msg.ThreadID, msg.From.Address, msg.Subject, normalized, dec, recipientID, msg.ReceivedAt)
	return err
}

// MarkForwarded records a successful forward with the outbound message id.
func (s *Store) MarkForwarded(ctx context.Context, messageID, outboundID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE inbound_messages
		SET forwarded = TRUE, forward_message_id = $1, forwarded_at = NOW()
		WHERE message_id = $2
	`, outboundID, messageID)
	return err
}

// MarkQueued records that a message was parked in the delayed-update table.
func (s *Store) MarkQueued(ctx context.Context, messageID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE inbound_messages
		SET queued = TRUE, queued_at = NOW()
		WHERE message_id = $1
	`, messageID)
	return err
}

// MarkAutoResponded records a sent auto-response.
func (s *Store) MarkAutoResponded(ctx context.Context, messageID, outboundID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE inbound_messages
		SET auto_responded = TRUE, auto_response_message_id = $1, auto_responded_at = NOW()
		WHERE message_id = $2
	`, outboundID, messageID)
	return err
}

// MarkDispatchFailed records a dispatch failure reason without touching
// the outcome flags of actions that did succeed.
func (s *Store) MarkDispatchFailed(ctx context.Context, messageID, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE inbound_messages
		SET dispatch_error = $1
		WHERE message_id = $2
	`, reason, messageID)
	return err
}

// SenderMessageCount returns how many messages we have stored from an
// address. Feeds the sender-profile cache.
func (s *Store) SenderMessageCount(ctx context.Context, address string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM inbound_messages WHERE from_address = $1
	`, address).Scan(&n)
	return n, err
}

// LatestRecipientForThread returns the member id that last handled a
// thread, or "" when the thread is unknown.
func (s *Store) LatestRecipientForThread(ctx context.Context, threadID string) (string, error) {
	var memberID string
	err := s.pool.QueryRow(ctx, `
		SELECT recipient_id FROM inbound_messages
		WHERE thread_id = $1 AND recipient_id <> ''
		ORDER BY received_at DESC
		LIMIT 1
	`, threadID).Scan(&memberID)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return memberID, nil
}

// UnroutedMessage is one message parked for manual triage.
type UnroutedMessage struct {
	ID        int64
	ArrivedAt time.Time
	Raw       models.InboundEmail
	Reason    string
}

// SaveUnrouted parks a message that could not be routed, keyed by arrival
// time, with the raw payload and failure reason.
func (s *Store) SaveUnrouted(ctx context.Context, raw models.InboundEmail, reason string) error {
	payload, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshal unrouted payload: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO unrouted_messages (arrived_at, raw, reason)
		VALUES (NOW(), $1, $2)
	`, payload, reason)
	return err
}

// ListUnrouted returns parked messages oldest first.
func (s *Store) ListUnrouted(ctx context.Context, limit int) ([]UnroutedMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, arrived_at, raw, reason
		FROM unrouted_messages
		ORDER BY arrived_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UnroutedMessage
	for rows.Next() {
		var (
			m   UnroutedMessage
			raw []byte
		)
		if err := rows.Scan(&m.ID, &m.ArrivedAt, &raw, &m.Reason); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &m.Raw); err != nil {
			return nil, fmt.Errorf("decode unrouted payload %d: %w", m.ID, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteUnrouted removes a triaged message.
func (s *Store) DeleteUnrouted(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM unrouted_messages WHERE id = $1`, id)
	return err
}

// ScheduleUpdate persists a team update for delayed batch pickup.
func (s *Store) ScheduleUpdate(ctx context.Context, update models.TeamUpdate, scheduledFor time.Time) error {
	meta, err := json.Marshal(update.Metadata)
	if err != nil {
		return fmt.Errorf("marshal update metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO delayed_updates (member_name, update_text, metadata, scheduled_for)
		VALUES ($1, $2, $3, $4)
	`, update.MemberName, update.UpdateText, meta, scheduledFor)
	return err
}

// DelayedUpdate is one scheduled team update awaiting pickup.
type DelayedUpdate struct {
	ID           int64
	Update       models.TeamUpdate
	ScheduledFor time.Time
}

// DueUpdates returns unpicked updates whose scheduled time has passed,
// oldest first.
func (s *Store) DueUpdates(ctx context.Context, limit int) ([]DelayedUpdate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, member_name, update_text, metadata, scheduled_for
		FROM delayed_updates
		WHERE NOT picked_up AND scheduled_for <= NOW()
		ORDER BY scheduled_for
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DelayedUpdate
	for rows.Next() {
		var (
			du   DelayedUpdate
			meta []byte
		)
		if err := rows.Scan(&du.ID, &du.Update.MemberName, &du.Update.UpdateText, &meta, &du.ScheduledFor); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &du.Update.Metadata); err != nil {
				return nil, fmt.Errorf("decode update metadata %d: %w", du.ID, err)
			}
		}
		out = append(out, du)
	}
	return out, rows.Err()
}

// MarkUpdatePicked flags a delayed update as delivered downstream.
func (s *Store) MarkUpdatePicked(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE delayed_updates SET picked_up = TRUE WHERE id = $1
	`, id)
	return err
}
