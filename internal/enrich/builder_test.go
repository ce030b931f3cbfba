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

package enrich

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copp1723/team-crm-ingest/internal/models"
)

type fakeHistory struct {
	counts map[string]int
	err    error
	calls  int
}

func (f *fakeHistory) SenderMessageCount(ctx context.Context, address string) (int, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	return f.counts[address], nil
}

func testMessage() *models.NormalizedMessage {
	return &models.NormalizedMessage{
		MessageID: "m1@x.com",
		From:      models.EmailAddress{Address: "jane@bigco.com", Name: "Jane"},
		Subject:   "Re: Acme pricing proposal",
		CleanText: "Can we meet tomorrow to close the $50,000 deal with Acme Corp?",
		Priority:  models.PriorityNormal,
		IsReply:   true,
		ThreadID:  "t1",
	}
}

func TestBuildContext(t *testing.T) {
	hist := &fakeHistory{counts: map[string]int{"jane@bigco.com": 4}}
	b := NewBuilder(hist, "mail.example.com", time.Minute)

	got := b.Build(context.Background(), testMessage(), nil)

	assert.Empty(t, got.Err)
	assert.Equal(t, "email", got.Source)
	assert.Equal(t, "m1@x.com", got.MessageID)

	assert.True(t, got.Sender.HasHistory)
	assert.True(t, got.Sender.IsKnownClient)
	assert.False(t, got.Sender.IsInternal)
	assert.Equal(t, 4, got.Sender.MessageCount)

	assert.False(t, got.Thread.IsNewThread)
	assert.Contains(t, got.Thread.Keywords, "pricing")
	assert.Contains(t, got.Thread.Keywords, "acme")
	assert.NotContains(t, got.Thread.Keywords, "re:")

	assert.True(t, got.Entities.IsMeetingRequest)
	assert.Contains(t, got.Entities.MoneyAmounts, "$50,000")
	assert.Contains(t, got.Entities.Companies, "Acme Corp")
}

func TestBuildInternalSender(t *testing.T) {
	b := NewBuilder(&fakeHistory{counts: map[string]int{"joe@mail.example.com": 9}}, "mail.example.com", time.Minute)

	msg := testMessage()
	msg.From = models.EmailAddress{Address: "joe@mail.example.com"}
	got := b.Build(context.Background(), msg, nil)

	assert.True(t, got.Sender.IsInternal)
	assert.False(t, got.Sender.IsKnownClient, "internal senders are not clients")
}

// TestBuildDegradesOnStoreFailure verifies a failing history store yields a
// usable context with an error note instead of blocking the pipeline.
func TestBuildDegradesOnStoreFailure(t *testing.T) {
	b := NewBuilder(&fakeHistory{err: errors.New("pg down")}, "mail.example.com", time.Minute)

	got := b.Build(context.Background(), testMessage(), nil)

	require.NotNil(t, got)
	assert.Contains(t, got.Err, "sender profile unavailable")
	assert.Equal(t, "jane@bigco.com", got.Sender.Address)
	// Urgency and entities still run on the degraded path.
	assert.True(t, got.Entities.IsMeetingRequest)
}

func TestSenderProfileCacheTTL(t *testing.T) {
	hist := &fakeHistory{counts: map[string]int{"jane@bigco.com": 1}}
	b := NewBuilder(hist, "", time.Hour)

	msg := testMessage()
	b.Build(context.Background(), msg, nil)
	b.Build(context.Background(), msg, nil)

	assert.Equal(t, 1, hist.calls, "second build inside TTL must hit the cache")
}

func TestDetectUrgency(t *testing.T) {
	tests := []struct {
		name      string
		subject   string
		body      string
		priority  models.Priority
		wantLevel UrgencyLevel
	}{
		{"calm", "weekly notes", "nothing pressing", models.PriorityNormal, UrgencyLow},
		{"single keyword", "need this asap", "thanks", models.PriorityNormal, UrgencyMedium},
		{"stacked keywords", "URGENT", "critical blocker, deadline is tomorrow", models.PriorityNormal, UrgencyHigh},
		{"priority floor", "status", "status report attached", models.PriorityHigh, UrgencyMedium},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectUrgency(tt.subject, tt.body, tt.priority)
			assert.Equal(t, tt.wantLevel, got.Level)
		})
	}
}

func TestDetectUrgencyFlags(t *testing.T) {
	got := DetectUrgency("contract", "the deadline is Friday, please sign by 5pm", models.PriorityNormal)
	assert.True(t, got.HasDeadline)
	assert.True(t, got.HasTimeConstraint)
}

func TestExtractEntities(t *testing.T) {
	text := "Met with Sarah Connor from Cyberdyne Systems Inc about the Q3 rollout. " +
		"Budget is $2.5 million, up 15% from last year. Project Phoenix kicks off next week — " +
		"can we schedule a call tomorrow at 10am?"

	e := ExtractEntities(text)

	assert.Contains(t, e.MoneyAmounts, "$2.5 million")
	assert.Contains(t, e.Percentages, "15%")
	require.NotEmpty(t, e.Companies)
	assert.Contains(t, e.Companies[0], "Cyberdyne Systems")
	assert.Contains(t, e.People, "Sarah Connor")
	assert.Contains(t, e.Projects, "Phoenix")
	assert.True(t, e.IsMeetingRequest)
}

func TestExtractEntitiesEmpty(t *testing.T) {
	e := ExtractEntities("")
	assert.Empty(t, e.MoneyAmounts)
	assert.False(t, e.IsMeetingRequest)
}
