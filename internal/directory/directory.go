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

// Package directory maintains the TTL-cached mapping from assistant
// addresses and personal emails to team-member records.
//
// The cache is a snapshot replaced wholesale on refresh, so concurrent
// readers always observe either the pre- or post-refresh state, never a
// half-populated map.
package directory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/copp1723/team-crm-ingest/internal/models"
)

// DefaultTTL is how long a loaded snapshot stays fresh.
const DefaultTTL = 5 * time.Minute

// MemberStore supplies the active team-member set. Implemented by
// store.Store.
type MemberStore interface {
	ListActiveMembers(ctx context.Context) ([]models.AssistantRecord, error)
}

// snapshot is an immutable view of the member set.
type snapshot struct {
	byAssistant map[string]*models.AssistantRecord
	byPersonal  map[string]*models.AssistantRecord
	loadedAt    time.Time
}

// Directory is the TTL-cached assistant directory.
type Directory struct {
	store  MemberStore
	domain string
	ttl    time.Duration

	mu   sync.RWMutex
	snap *snapshot

	// refreshMu serialises reloads so a thundering herd of expired
	// lookups triggers exactly one store query.
	refreshMu sync.Mutex
}

// New creates a directory over the given member store. domain is the mail
// domain assistant addresses are derived on.
func New(store MemberStore, domain string, ttl time.Duration) *Directory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Directory{
		store:  store,
		domain: strings.ToLower(domain),
		ttl:    ttl,
	}
}

// AssistantAddress derives the virtual inbox address for a member.
func (d *Directory) AssistantAddress(externalID string) string {
	return fmt.Sprintf("%s-assistant@%s", strings.ToLower(externalID), d.domain)
}

// LookupAssistant resolves an assistant address to its member record.
// Returns nil when the address is not a known assistant.
func (d *Directory) LookupAssistant(ctx context.Context, address string) (*models.AssistantRecord, error) {
	snap, err := d.fresh(ctx)
	if err != nil {
		return nil, err
	}
	return snap.byAssistant[strings.ToLower(address)], nil
}

// LookupPersonal resolves a member's personal email to their record.
func (d *Directory) LookupPersonal(ctx context.Context, address string) (*models.AssistantRecord, error) {
	snap, err := d.fresh(ctx)
	if err != nil {
		return nil, err
	}
	return snap.byPersonal[strings.ToLower(address)], nil
}

// All returns every cached member record.
func (d *Directory) All(ctx context.Context) ([]models.AssistantRecord, error) {
	snap, err := d.fresh(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.AssistantRecord, 0, len(snap.byAssistant))
	for _, r := range snap.byAssistant {
		out = append(out, *r)
	}
	return out, nil
}

// Clear drops the cached snapshot; the next lookup reloads from the store.
func (d *Directory) Clear() {
	d.mu.Lock()
	d.snap = nil
	d.mu.Unlock()
}

// Refresh forces an immediate reload regardless of snapshot age.
func (d *Directory) Refresh(ctx context.Context) error {
	d.refreshMu.Lock()
	defer d.refreshMu.Unlock()
	_, err := d.reload(ctx)
	return err
}

// fresh returns the current snapshot, reloading it when missing or older
// than the TTL.
func (d *Directory) fresh(ctx context.Context) (*snapshot, error) {
	d.mu.RLock()
	snap := d.snap
	d.mu.RUnlock()

	if snap != nil && time.Since(snap.loadedAt) < d.ttl {
		return snap, nil
	}

	d.refreshMu.Lock()
	defer d.refreshMu.Unlock()

	// Another caller may have reloaded while we waited.
	d.mu.RLock()
	snap = d.snap
	d.mu.RUnlock()
	if snap != nil && time.Since(snap.loadedAt) < d.ttl {
		return snap, nil
	}

	return d.reload(ctx)
}

// reload queries the store and atomically swaps in a new snapshot.
// Callers must hold refreshMu.
func (d *Directory) reload(ctx context.Context) (*snapshot, error) {
	members, err := d.store.ListActiveMembers(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active members: %w", err)
	}

	next := &snapshot{
		byAssistant: make(map[string]*models.AssistantRecord, len(members)),
		byPersonal:  make(map[string]*models.AssistantRecord, len(members)),
		loadedAt:    time.Now(),
	}
	for i := range members {
		rec := &members[i]
		if rec.AssistantAddress == "" {
			rec.AssistantAddress = d.AssistantAddress(rec.ExternalID)
		}
		next.byAssistant[strings.ToLower(rec.AssistantAddress)] = rec
		if rec.PersonalEmail != "" {
			next.byPersonal[strings.ToLower(rec.PersonalEmail)] = rec
		}
	}

	d.mu.Lock()
	d.snap = next
	d.mu.Unlock()

	slog.Info("assistant directory refreshed", "members", len(members))
	return next, nil
}
