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

// Package route maps a normalized message to its internal owner and
// evaluates the routing rule chain that picks the dispatch action.
package route

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/copp1723/team-crm-ingest/internal/directory"
	"github.com/copp1723/team-crm-ingest/internal/models"
)

// ThreadHistory answers "who handled this thread last". Implemented by
// store.Store.
type ThreadHistory interface {
	LatestRecipientForThread(ctx context.Context, threadID string) (string, error)
}

// SmartRouter is the extension point for content-based recipient
// assignment. It may return (nil, nil) to decline.
type SmartRouter func(ctx context.Context, msg *models.NormalizedMessage) (*models.AssistantRecord, error)

// Resolver determines the internal owner of a message.
type Resolver struct {
	dir     *directory.Directory
	threads ThreadHistory

	// Smart, when set, is consulted after all address and thread checks
	// fail. Unset by default.
	Smart SmartRouter
}

// NewResolver creates a recipient resolver.
func NewResolver(dir *directory.Directory, threads ThreadHistory) *Resolver {
	return &Resolver{dir: dir, threads: threads}
}

// Resolve finds the owning team member for a message: direct To
// recipients first (assistant addresses, then personal), then CC, then
// thread continuity for replies, then the smart-routing hook. Returns
// nil when nothing matches.
func (r *Resolver) Resolve(ctx context.Context, msg *models.NormalizedMessage) (*models.AssistantRecord, error) {
	for _, list := range [][]models.EmailAddress{msg.To, msg.CC} {
		if rec, err := r.matchAddresses(ctx, list); err != nil {
			return nil, err
		} else if rec != nil {
			return rec, nil
		}
	}

	if msg.IsReply && msg.ThreadID != "" && r.threads != nil {
		memberID, err := r.threads.LatestRecipientForThread(ctx, msg.ThreadID)
		if err != nil {
			return nil, fmt.Errorf("thread continuity lookup: %w", err)
		}
		if memberID != "" {
			rec, err := r.byID(ctx, memberID)
			if err != nil {
				return nil, err
			}
			if rec != nil {
				slog.Debug("recipient resolved via thread continuity",
					"thread_id", msg.ThreadID,
					"member", rec.ExternalID,
				)
				return rec, nil
			}
		}
	}

	if r.Smart != nil {
		rec, err := r.Smart(ctx, msg)
		if err != nil {
			// The hook is advisory; its failure never fails resolution.
			slog.Warn("smart routing hook failed", "error", err)
			return nil, nil
		}
		return rec, nil
	}

	return nil, nil
}

// matchAddresses checks a recipient list against the directory, assistant
// addresses before personal ones.
func (r *Resolver) matchAddresses(ctx context.Context, addrs []models.EmailAddress) (*models.AssistantRecord, error) {
	for _, a := range addrs {
		rec, err := r.dir.LookupAssistant(ctx, a.Address)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			return rec, nil
		}
	}
	for _, a := range addrs {
		rec, err := r.dir.LookupPersonal(ctx, a.Address)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			return rec, nil
		}
	}
	return nil, nil
}

func (r *Resolver) byID(ctx context.Context, memberID string) (*models.AssistantRecord, error) {
	members, err := r.dir.All(ctx)
	if err != nil {
		return nil, err
	}
	for i := range members {
		if members[i].ID == memberID || members[i].ExternalID == memberID {
			return &members[i], nil
		}
	}
	return nil, nil
}
