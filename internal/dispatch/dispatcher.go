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

package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/copp1723/team-crm-ingest/internal/enrich"
	"github.com/copp1723/team-crm-ingest/internal/mailer"
	"github.com/copp1723/team-crm-ingest/internal/models"
	"github.com/copp1723/team-crm-ingest/internal/store"
)

// MessageStore is the slice of persistence the dispatcher needs.
type MessageStore interface {
	SaveMessage(ctx context.Context, msg *models.NormalizedMessage, decision models.RoutingDecision, recipientID string) error
	MarkForwarded(ctx context.Context, messageID, forwardMessageID string) error
	MarkQueued(ctx context.Context, messageID string) error
	MarkAutoResponded(ctx context.Context, messageID, responseMessageID string) error
	MarkDispatchFailed(ctx context.Context, messageID, reason string) error
	SaveUnrouted(ctx context.Context, raw models.InboundEmail, reason string) error
	ScheduleUpdate(ctx context.Context, update models.TeamUpdate, scheduledFor time.Time) error
}

// UpdatePublisher hands finished updates to the downstream processor.
type UpdatePublisher interface {
	Publish(ctx context.Context, update *models.TeamUpdate) error
}

// Sender covers the outbound mail operations the dispatcher performs.
type Sender interface {
	Send(ctx context.Context, out mailer.OutboundMessage) (*mailer.SendResult, error)
	DefaultFrom() string
}

// Dispatcher executes routing decisions. Every step is fault-isolated:
// a failed forward never blocks persistence, a failed publish never
// blocks the forward.
type Dispatcher struct {
	store     MessageStore
	mail      Sender
	enricher  *enrich.Builder
	publisher UpdatePublisher
	catchAll  string
}

var _ Processor = (*Dispatcher)(nil)

// NewDispatcher wires a dispatcher. publisher may be nil when no
// downstream queue is configured; catchAll may be empty, in which case
// unresolvable messages are parked instead of forwarded.
func NewDispatcher(st MessageStore, mail Sender, enricher *enrich.Builder, publisher UpdatePublisher, catchAll string) *Dispatcher {
	return &Dispatcher{
		store:     st,
		mail:      mail,
		enricher:  enricher,
		publisher: publisher,
		catchAll:  catchAll,
	}
}

// Process persists the entry, builds its context bundle, and executes
// the decided action.
func (d *Dispatcher) Process(ctx context.Context, e Entry) {
	msg := e.Message
	log := slog.With("message_id", msg.MessageID, "from", msg.From.Address)

	recipientID := ""
	if e.Recipient != nil {
		recipientID = e.Recipient.ID
	}

	// Persist first. A message that reached the queue must end up in
	// the store whatever happens downstream.
	if err := d.store.SaveMessage(ctx, msg, e.Decision, recipientID); err != nil {
		log.Error("failed to persist message, parking as unrouted", "error", err)
		if perr := d.store.SaveUnrouted(ctx, e.Raw, "persist failed: "+err.Error()); perr != nil {
			log.Error("failed to park unrouted message", "error", perr)
		}
		return
	}

	bundle := d.enricher.Build(ctx, msg, e.Recipient)

	forwardTo := d.forwardAddress(e.Recipient)
	if forwardTo == "" {
		log.Warn("no recipient resolved and no catch-all configured, parking message")
		if err := d.store.SaveUnrouted(ctx, e.Raw, "no recipient resolved"); err != nil {
			log.Error("failed to park unrouted message", "error", err)
		}
		return
	}

	switch e.Decision.Action {
	case models.ActionQueue:
		d.queueForLater(ctx, e, bundle, log)
	case models.ActionAutoRespond:
		d.autoRespond(ctx, e, bundle, log)
	default:
		d.forward(ctx, e, bundle, forwardTo, log)
	}

	// After-hours decisions carry an auto-respond flag on top of the
	// primary action.
	if e.Decision.AutoRespond && e.Decision.Action != models.ActionAutoRespond {
		d.autoRespond(ctx, e, bundle, log)
	}
}

// forwardAddress picks the destination: the member's personal address,
// falling back to the catch-all.
func (d *Dispatcher) forwardAddress(recipient *models.AssistantRecord) string {
	if recipient != nil && recipient.PersonalEmail != "" {
		return recipient.PersonalEmail
	}
	return d.catchAll
}

func (d *Dispatcher) forward(ctx context.Context, e Entry, bundle *enrich.Context, to string, log *slog.Logger) {
	msg := e.Message

	// Members can opt out of low-urgency forwards; the message is
	// already persisted and searchable either way.
	if e.Recipient != nil && !e.Recipient.ForwardAllEmails() && bundle.Urgency.Level == enrich.UrgencyLow {
		log.Info("skipping forward per member preference", "recipient", e.Recipient.Name)
		return
	}

	subject, text, html := BuildForwardDigest(msg, bundle)
	result, err := d.mail.Send(ctx, mailer.OutboundMessage{
		From:       d.mail.DefaultFrom(),
		To:         []string{to},
		Subject:    subject,
		Text:       text,
		HTML:       html,
		InReplyTo:  msg.InReplyTo,
		References: msg.References,
		Tags:       e.Decision.Tags,
	})
	if err != nil {
		log.Error("forward failed", "to", to, "error", err)
		if merr := d.store.MarkDispatchFailed(ctx, msg.MessageID, err.Error()); merr != nil {
			log.Error("failed to record dispatch failure", "error", merr)
		}
		return
	}

	if err := d.store.MarkForwarded(ctx, msg.MessageID, result.MessageID); err != nil {
		log.Error("forward sent but not recorded", "error", err)
	}
	log.Info("message forwarded",
		"to", to,
		"forward_id", result.MessageID,
		"simulated", result.Simulated,
	)

	d.publishUpdate(ctx, e, bundle, log)
}

func (d *Dispatcher) queueForLater(ctx context.Context, e Entry, bundle *enrich.Context, log *slog.Logger) {
	msg := e.Message

	scheduledFor := time.Now().UTC().Add(time.Hour)
	if e.Decision.ScheduledFor != nil {
		scheduledFor = *e.Decision.ScheduledFor
	}

	err := d.store.ScheduleUpdate(ctx, buildUpdate(e, bundle), scheduledFor)
	if err != nil {
		log.Error("failed to schedule delayed update", "error", err)
		if merr := d.store.MarkDispatchFailed(ctx, msg.MessageID, err.Error()); merr != nil {
			log.Error("failed to record dispatch failure", "error", merr)
		}
		return
	}

	if err := d.store.MarkQueued(ctx, msg.MessageID); err != nil {
		log.Error("update scheduled but message not marked", "error", err)
	}
	log.Info("message queued for later", "scheduled_for", scheduledFor)
}

func (d *Dispatcher) autoRespond(ctx context.Context, e Entry, bundle *enrich.Context, log *slog.Logger) {
	msg := e.Message

	// Never auto-respond to an auto-reply; that way lies a mail loop.
	if msg.IsAutoReply {
		log.Info("suppressing auto-response to auto-reply")
		return
	}

	result, err := d.mail.Send(ctx, mailer.OutboundMessage{
		From:       d.mail.DefaultFrom(),
		To:         []string{msg.From.Address},
		Subject:    autoResponseSubject(msg),
		Text:       BuildAutoResponse(msg, bundle),
		InReplyTo:  msg.MessageID,
		References: append(msg.References, msg.MessageID),
		Tags:       []string{"auto-response"},
	})
	if err != nil {
		log.Error("auto-response failed", "error", err)
		return
	}

	if err := d.store.MarkAutoResponded(ctx, msg.MessageID, result.MessageID); err != nil {
		log.Error("auto-response sent but not recorded", "error", err)
	}
	log.Info("auto-response sent", "response_id", result.MessageID, "simulated", result.Simulated)
}

// publishUpdate pushes a team update to the downstream processor.
// Failures are logged and swallowed; the forward already succeeded.
func (d *Dispatcher) publishUpdate(ctx context.Context, e Entry, bundle *enrich.Context, log *slog.Logger) {
	if d.publisher == nil {
		return
	}

	update := buildUpdate(e, bundle)
	if err := d.publisher.Publish(ctx, &update); err != nil {
		log.Error("failed to publish team update", "error", err)
	}
}

// buildUpdate shapes a message into the update envelope the downstream
// orchestrator consumes.
func buildUpdate(e Entry, bundle *enrich.Context) models.TeamUpdate {
	msg := e.Message

	memberName := "unassigned"
	if e.Recipient != nil {
		memberName = e.Recipient.Name
	}

	text := msg.CleanText
	if text == "" {
		text = msg.Subject
	}

	business := map[string]any{
		"priority": string(e.Decision.Priority),
		"action":   string(e.Decision.Action),
	}
	if msg.ThreadID != "" {
		business["threadId"] = msg.ThreadID
	}
	if len(e.Decision.Tags) > 0 {
		business["tags"] = e.Decision.Tags
	}
	if len(bundle.Entities.MoneyAmounts) > 0 {
		business["moneyAmounts"] = bundle.Entities.MoneyAmounts
	}
	if len(bundle.Entities.Companies) > 0 {
		business["companies"] = bundle.Entities.Companies
	}
	if bundle.Entities.IsMeetingRequest {
		business["meetingRequest"] = true
	}

	return models.TeamUpdate{
		MemberName: memberName,
		UpdateText: "Email from " + msg.From.Address + ": " + msg.Subject + "\n\n" + text,
		Metadata: models.UpdateMetadata{
			Source:          "email",
			MessageID:       msg.MessageID,
			FromEmail:       msg.From.Address,
			Subject:         msg.Subject,
			Urgency:         string(bundle.Urgency.Level),
			BusinessContext: business,
		},
	}
}

// compile-time check that the concrete store satisfies the narrow
// interface the dispatcher depends on.
var _ MessageStore = (*store.Store)(nil)
