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

// Package update publishes team updates to Redis for the downstream CRM
// orchestrator. This is the bridge between the email pipeline and the
// AI summarisation workers.
package update

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/copp1723/team-crm-ingest/internal/models"
)

// Publisher sends team updates to Redis in the orchestrator's task format.
type Publisher struct {
	rdb       *redis.Client
	queueName string
}

// NewPublisher creates a Redis publisher targeting the specified queue.
func NewPublisher(rdb *redis.Client, queueName string) *Publisher {
	return &Publisher{
		rdb:       rdb,
		queueName: queueName,
	}
}

// envelope wraps a team update for Redis transport. The orchestrator
// reads tasks from the list using this exact JSON structure.
type envelope struct {
	ID         string            `json:"id"`
	Task       string            `json:"task"`
	Payload    json.RawMessage   `json:"payload"`
	Attempts   int               `json:"attempts"`
	EnqueuedAt string            `json:"enqueued_at"`
	Headers    map[string]string `json:"headers,omitempty"`
}

// Publish serialises a team update and pushes it onto the orchestrator's
// queue. The downstream worker pops it via BRPOP.
func (p *Publisher) Publish(ctx context.Context, u *models.TeamUpdate) error {
	payload, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal team update: %w", err)
	}

	taskID := uuid.New().String()
	msg := envelope{
		ID:         taskID,
		Task:       "team.update.process",
		Payload:    payload,
		EnqueuedAt: time.Now().UTC().Format(time.RFC3339),
		Headers: map[string]string{
			"source":     u.Metadata.Source,
			"message_id": u.Metadata.MessageID,
		},
	}

	msgJSON, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal task envelope: %w", err)
	}

	if err := p.rdb.LPush(ctx, p.queueName, string(msgJSON)).Err(); err != nil {
		return fmt.Errorf("redis LPUSH: %w", err)
	}

	slog.Info("published team update",
		"task_id", taskID,
		"member", u.MemberName,
		"message_id", u.Metadata.MessageID,
		"queue", p.queueName,
	)

	return nil
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}
