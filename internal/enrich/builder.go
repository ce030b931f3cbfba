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

// Package enrich builds the context bundle handed to AI/CRM consumers:
// sender profile, thread continuity, urgency signal, and shallow
// business-entity extraction over a normalized message.
//
// Building a context never fails. When an enrichment step errors the
// bundle carries a note in Err and the remaining fields are best-effort;
// consumers treat such a bundle as usable-but-degraded.
package enrich

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/copp1723/team-crm-ingest/internal/models"
)

// SenderProfile describes what we know about a message sender.
type SenderProfile struct {
	Address       string    `json:"address"`
	Name          string    `json:"name,omitempty"`
	IsInternal    bool      `json:"is_internal"`
	IsKnownClient bool      `json:"is_known_client"`
	HasHistory    bool      `json:"has_history"`
	MessageCount  int       `json:"message_count"`
	CachedAt      time.Time `json:"-"`
}

// ThreadSummary captures thread continuity info for a message.
type ThreadSummary struct {
	ThreadID    string   `json:"thread_id,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	IsNewThread bool     `json:"is_new_thread"`
}

// Context is the enrichment bundle for one message.
type Context struct {
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	MessageID string    `json:"message_id"`

	Sender   SenderProfile `json:"sender"`
	Thread   ThreadSummary `json:"thread"`
	Urgency  Urgency       `json:"urgency"`
	Entities Entities      `json:"entities"`

	Recipient *models.AssistantRecord `json:"recipient,omitempty"`
	Text      string                  `json:"text"`

	// Err notes a degraded enrichment step. A non-empty Err does not
	// invalidate the bundle.
	Err string `json:"error,omitempty"`
}

// HistoryStore supplies sender-history counts. Implemented by store.Store.
type HistoryStore interface {
	SenderMessageCount(ctx context.Context, address string) (int, error)
}

// Builder produces context bundles. Sender profiles are cached by address
// with a TTL so a busy thread does not hammer the store.
type Builder struct {
	history        HistoryStore
	internalDomain string
	profileTTL     time.Duration

	mu       sync.RWMutex
	profiles map[string]SenderProfile
}

// NewBuilder creates a context builder. internalDomain marks senders from
// our own mail domain as internal.
func NewBuilder(history HistoryStore, internalDomain string, profileTTL time.Duration) *Builder {
	if profileTTL <= 0 {
		profileTTL = 10 * time.Minute
	}
	return &Builder{
		history:        history,
		internalDomain: strings.ToLower(internalDomain),
		profileTTL:     profileTTL,
		profiles:       make(map[string]SenderProfile),
	}
}

// Build enriches a normalized message with its sender profile, thread
// summary, urgency, and extracted entities.
func (b *Builder) Build(ctx context.Context, msg *models.NormalizedMessage, recipient *models.AssistantRecord) *Context {
	out := &Context{
		Source:    "email",
		Timestamp: time.Now().UTC(),
		MessageID: msg.MessageID,
		Recipient: recipient,
		Text:      msg.CleanText,
	}

	profile, err := b.senderProfile(ctx, msg.From)
	if err != nil {
		slog.Warn("sender profile lookup degraded",
			"address", msg.From.Address,
			"error", err,
		)
		out.Err = "sender profile unavailable: " + err.Error()
		profile = SenderProfile{
			Address:    msg.From.Address,
			Name:       msg.From.Name,
			IsInternal: b.isInternal(msg.From.Address),
		}
	}
	out.Sender = profile

	out.Thread = ThreadSummary{
		ThreadID:    msg.ThreadID,
		Keywords:    subjectKeywords(msg.Subject),
		IsNewThread: !msg.IsReply,
	}
	out.Urgency = DetectUrgency(msg.Subject, msg.CleanText, msg.Priority)
	out.Entities = ExtractEntities(msg.CleanText)

	return out
}

// senderProfile returns the cached profile for an address, refreshing it
// from the history store when the cache entry is older than the TTL.
func (b *Builder) senderProfile(ctx context.Context, from models.EmailAddress) (SenderProfile, error) {
	addr := strings.ToLower(from.Address)
	if addr == "" {
		return SenderProfile{}, nil
	}

	b.mu.RLock()
	cached, ok := b.profiles[addr]
	b.mu.RUnlock()
	if ok && time.Since(cached.CachedAt) < b.profileTTL {
		return cached, nil
	}

	count := 0
	if b.history != nil {
		n, err := b.history.SenderMessageCount(ctx, addr)
		if err != nil {
			return SenderProfile{}, err
		}
		count = n
	}

	profile := SenderProfile{
		Address:       addr,
		Name:          from.Name,
		IsInternal:    b.isInternal(addr),
		HasHistory:    count > 0,
		IsKnownClient: count > 0 && !b.isInternal(addr),
		MessageCount:  count,
		CachedAt:      time.Now(),
	}

	b.mu.Lock()
	b.profiles[addr] = profile
	b.mu.Unlock()

	return profile, nil
}

func (b *Builder) isInternal(addr string) bool {
	if b.internalDomain == "" {
		return false
	}
	return strings.HasSuffix(strings.ToLower(addr), "@"+b.internalDomain)
}

var subjectStopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "from": true,
	"this": true, "that": true, "your": true, "our": true, "about": true,
	"are": true, "was": true, "has": true, "have": true, "will": true,
	"not": true, "you": true, "all": true, "any": true, "can": true,
}

// subjectKeywords extracts the subject's content words: lower-cased,
// stop words and reply prefixes removed.
func subjectKeywords(subject string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(subject)) {
		w = strings.Trim(w, ".,;:!?\"'()[]")
		if len(w) < 3 || subjectStopWords[w] || w == "re:" || w == "fw:" || w == "fwd:" {
			continue
		}
		if !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	return out
}
