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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copp1723/team-crm-ingest/internal/enrich"
	"github.com/copp1723/team-crm-ingest/internal/mailer"
	"github.com/copp1723/team-crm-ingest/internal/models"
)

type fakeStore struct {
	saved          []string
	saveErr        error
	forwarded      map[string]string
	queued         []string
	autoResponded  map[string]string
	dispatchFailed map[string]string
	unrouted       []string
	scheduled      []models.TeamUpdate
	scheduleErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		forwarded:      map[string]string{},
		autoResponded:  map[string]string{},
		dispatchFailed: map[string]string{},
	}
}

func (s *fakeStore) SaveMessage(_ context.Context, msg *models.NormalizedMessage, _ models.RoutingDecision, _ string) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, msg.MessageID)
	return nil
}

func (s *fakeStore) MarkForwarded(_ context.Context, messageID, outboundID string) error {
	s.forwarded[messageID] = outboundID
	return nil
}

func (s *fakeStore) MarkQueued(_ context.Context, messageID string) error {
	s.queued = append(s.queued, messageID)
	return nil
}

func (s *fakeStore) MarkAutoResponded(_ context.Context, messageID, outboundID string) error {
	s.autoResponded[messageID] = outboundID
	return nil
}

func (s *fakeStore) MarkDispatchFailed(_ context.Context, messageID, reason string) error {
	s.dispatchFailed[messageID] = reason
	return nil
}

func (s *fakeStore) SaveUnrouted(_ context.Context, _ models.InboundEmail, reason string) error {
	s.unrouted = append(s.unrouted, reason)
	return nil
}

func (s *fakeStore) ScheduleUpdate(_ context.Context, update models.TeamUpdate, _ time.Time) error {
	if s.scheduleErr != nil {
		return s.scheduleErr
	}
	s.scheduled = append(s.scheduled, update)
	return nil
}

func (s *fakeStore) SenderMessageCount(context.Context, string) (int, error) { return 0, nil }

type fakeSender struct {
	sent    []mailer.OutboundMessage
	sendErr error
}

func (m *fakeSender) Send(_ context.Context, out mailer.OutboundMessage) (*mailer.SendResult, error) {
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	m.sent = append(m.sent, out)
	return &mailer.SendResult{Success: true, MessageID: "out-1", Simulated: true}, nil
}

func (m *fakeSender) DefaultFrom() string { return "crm@mail.example.com" }

type fakePublisher struct {
	updates []*models.TeamUpdate
	err     error
}

func (p *fakePublisher) Publish(_ context.Context, u *models.TeamUpdate) error {
	if p.err != nil {
		return p.err
	}
	p.updates = append(p.updates, u)
	return nil
}

func forwardEntry() Entry {
	return Entry{
		ID: "e1",
		Message: &models.NormalizedMessage{
			MessageID: "<msg1@client.example.com>",
			From:      models.EmailAddress{Address: "buyer@client.example.com", Name: "Buyer"},
			Subject:   "Pricing question",
			Text:      "What does the enterprise tier cost?",
			CleanText: "What does the enterprise tier cost?",
			Priority:  models.PriorityNormal,
		},
		Decision: models.RoutingDecision{Action: models.ActionForward, Priority: models.PriorityNormal},
		Recipient: &models.AssistantRecord{
			ID:            "m1",
			ExternalID:    "joe",
			Name:          "Joe Seller",
			PersonalEmail: "joe@company.example.com",
		},
	}
}

func newDispatcher(st *fakeStore, mail *fakeSender, pub UpdatePublisher) *Dispatcher {
	builder := enrich.NewBuilder(st, "mail.example.com", time.Minute)
	return NewDispatcher(st, mail, builder, pub, "fallback@company.example.com")
}

func TestProcessForward(t *testing.T) {
	st := newFakeStore()
	mail := &fakeSender{}
	pub := &fakePublisher{}
	d := newDispatcher(st, mail, pub)

	d.Process(context.Background(), forwardEntry())

	require.Len(t, st.saved, 1)
	require.Len(t, mail.sent, 1)
	assert.Equal(t, []string{"joe@company.example.com"}, mail.sent[0].To)
	assert.Equal(t, "Fwd: Pricing question", mail.sent[0].Subject)
	assert.Contains(t, mail.sent[0].Text, "What does the enterprise tier cost?")
	assert.Equal(t, "out-1", st.forwarded["<msg1@client.example.com>"])

	require.Len(t, pub.updates, 1)
	assert.Equal(t, "Joe Seller", pub.updates[0].MemberName)
	assert.Equal(t, "email", pub.updates[0].Metadata.Source)
}

func TestProcessForwardFailureRecorded(t *testing.T) {
	st := newFakeStore()
	mail := &fakeSender{sendErr: errors.New("provider down")}
	d := newDispatcher(st, mail, &fakePublisher{})

	d.Process(context.Background(), forwardEntry())

	// The message is persisted even though delivery failed.
	require.Len(t, st.saved, 1)
	assert.Equal(t, "provider down", st.dispatchFailed["<msg1@client.example.com>"])
	assert.Empty(t, st.forwarded)
}

func TestProcessPersistFailureParksMessage(t *testing.T) {
	st := newFakeStore()
	st.saveErr = errors.New("db unavailable")
	mail := &fakeSender{}
	d := newDispatcher(st, mail, &fakePublisher{})

	d.Process(context.Background(), forwardEntry())

	require.Len(t, st.unrouted, 1)
	assert.Contains(t, st.unrouted[0], "persist failed")
	assert.Empty(t, mail.sent, "no forward without a persisted record")
}

func TestProcessNoRecipientUsesCatchAll(t *testing.T) {
	st := newFakeStore()
	mail := &fakeSender{}
	d := newDispatcher(st, mail, &fakePublisher{})

	e := forwardEntry()
	e.Recipient = nil
	d.Process(context.Background(), e)

	require.Len(t, mail.sent, 1)
	assert.Equal(t, []string{"fallback@company.example.com"}, mail.sent[0].To)
}

func TestProcessNoRecipientNoCatchAllParks(t *testing.T) {
	st := newFakeStore()
	mail := &fakeSender{}
	builder := enrich.NewBuilder(st, "mail.example.com", time.Minute)
	d := NewDispatcher(st, mail, builder, nil, "")

	e := forwardEntry()
	e.Recipient = nil
	d.Process(context.Background(), e)

	require.Len(t, st.unrouted, 1)
	assert.Equal(t, "no recipient resolved", st.unrouted[0])
	assert.Empty(t, mail.sent)
}

func TestProcessQueueSchedulesUpdate(t *testing.T) {
	st := newFakeStore()
	mail := &fakeSender{}
	d := newDispatcher(st, mail, &fakePublisher{})

	e := forwardEntry()
	at := time.Now().UTC().Add(time.Hour)
	e.Decision = models.RoutingDecision{
		Action:       models.ActionQueue,
		Priority:     models.PriorityLow,
		ScheduledFor: &at,
	}
	d.Process(context.Background(), e)

	require.Len(t, st.scheduled, 1)
	assert.Equal(t, "Joe Seller", st.scheduled[0].MemberName)
	assert.Equal(t, []string{"<msg1@client.example.com>"}, st.queued)
	assert.Empty(t, mail.sent, "queued messages are not forwarded now")
}

func TestProcessAutoRespond(t *testing.T) {
	st := newFakeStore()
	mail := &fakeSender{}
	d := newDispatcher(st, mail, &fakePublisher{})

	e := forwardEntry()
	e.Decision = models.RoutingDecision{Action: models.ActionAutoRespond, Priority: models.PriorityNormal}
	d.Process(context.Background(), e)

	require.Len(t, mail.sent, 1)
	assert.Equal(t, []string{"buyer@client.example.com"}, mail.sent[0].To)
	assert.Equal(t, "Re: Pricing question", mail.sent[0].Subject)
	assert.Contains(t, mail.sent[0].Text, "automated acknowledgement")
	assert.Equal(t, "out-1", st.autoResponded["<msg1@client.example.com>"])
}

func TestProcessNeverAutoRespondsToAutoReply(t *testing.T) {
	st := newFakeStore()
	mail := &fakeSender{}
	d := newDispatcher(st, mail, &fakePublisher{})

	e := forwardEntry()
	e.Message.IsAutoReply = true
	e.Decision = models.RoutingDecision{Action: models.ActionAutoRespond}
	d.Process(context.Background(), e)

	assert.Empty(t, mail.sent)
	assert.Empty(t, st.autoResponded)
}

func TestProcessAfterHoursFlagAddsAcknowledgement(t *testing.T) {
	st := newFakeStore()
	mail := &fakeSender{}
	d := newDispatcher(st, mail, &fakePublisher{})

	e := forwardEntry()
	e.Decision.AutoRespond = true
	d.Process(context.Background(), e)

	// One forward to the member plus one acknowledgement to the sender.
	require.Len(t, mail.sent, 2)
	assert.Equal(t, []string{"joe@company.example.com"}, mail.sent[0].To)
	assert.Equal(t, []string{"buyer@client.example.com"}, mail.sent[1].To)
}

func TestProcessHonorsForwardPreference(t *testing.T) {
	st := newFakeStore()
	mail := &fakeSender{}
	d := newDispatcher(st, mail, &fakePublisher{})

	e := forwardEntry()
	e.Recipient.Configuration = map[string]any{"forwardAllEmails": false}
	d.Process(context.Background(), e)

	assert.Empty(t, mail.sent, "low-urgency forward skipped per preference")
	require.Len(t, st.saved, 1, "message is still persisted")
}

func TestProcessForwardPreferenceIgnoredWhenUrgent(t *testing.T) {
	st := newFakeStore()
	mail := &fakeSender{}
	d := newDispatcher(st, mail, &fakePublisher{})

	e := forwardEntry()
	e.Recipient.Configuration = map[string]any{"forwardAllEmails": false}
	e.Message.Subject = "URGENT: contract deadline today"
	e.Message.CleanText = "This is urgent, the contract deadline is today. Please respond asap."
	d.Process(context.Background(), e)

	require.Len(t, mail.sent, 1, "urgent messages forward regardless of preference")
}

func TestProcessPublisherFailureDoesNotAffectForward(t *testing.T) {
	st := newFakeStore()
	mail := &fakeSender{}
	pub := &fakePublisher{err: errors.New("redis down")}
	d := newDispatcher(st, mail, pub)

	d.Process(context.Background(), forwardEntry())

	require.Len(t, mail.sent, 1)
	assert.Equal(t, "out-1", st.forwarded["<msg1@client.example.com>"])
}
