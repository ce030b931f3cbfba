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

package normalize

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copp1723/team-crm-ingest/internal/models"
)

func sampleInbound() models.InboundEmail {
	return models.InboundEmail{
		MessageID:  "<abc123@mail.example.com>",
		From:       `"Jane Prospect" <Jane@BigCo.com>`,
		To:         "joe-assistant@mail.example.com",
		Subject:    "Re: Pricing",
		BodyPlain:  "Hi Joe,\r\n\r\nCan we revisit the pricing?\r\n\r\nBest regards,\nJane\n\n> On Monday you said the discount was final.",
		InReplyTo:  "<root@mail.example.com>",
		Headers:    map[string]string{"X-Priority": "3"},
		ReceivedAt: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}
}

func TestNormalizeBasicFields(t *testing.T) {
	n := New(10 * 1024 * 1024)
	msg := n.Normalize(sampleInbound())

	assert.Equal(t, "abc123@mail.example.com", msg.MessageID)
	assert.Equal(t, "jane@bigco.com", msg.From.Address)
	assert.Equal(t, "Jane Prospect", msg.From.Name)
	require.Len(t, msg.To, 1)
	assert.Equal(t, "joe-assistant@mail.example.com", msg.To[0].Address)
	assert.Equal(t, "Re: Pricing", msg.Subject)
	assert.True(t, msg.IsReply)
	assert.Equal(t, "root@mail.example.com", msg.ThreadID)
	assert.Equal(t, models.PriorityNormal, msg.Priority)
	assert.False(t, msg.IsAutoReply)
}

// TestNormalizeIdempotent verifies normalization is a pure function of
// its input: the same raw email normalizes to the same message.
func TestNormalizeIdempotent(t *testing.T) {
	n := New(0)
	in := sampleInbound()

	first := n.Normalize(in)
	second := n.Normalize(in)

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("normalization not deterministic:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

// TestSignatureQuotePrecedence verifies the body partitions into
// clean | signature | quoted when a sign-off precedes a quote marker.
func TestSignatureQuotePrecedence(t *testing.T) {
	n := New(0)
	in := sampleInbound()
	msg := n.Normalize(in)

	assert.Equal(t, "Hi Joe,\n\nCan we revisit the pricing?", msg.CleanText)
	assert.Equal(t, "Best regards,\nJane", msg.Signature)
	assert.Equal(t, "> On Monday you said the discount was final.", msg.QuotedText)

	// The three regions must not overlap.
	assert.NotContains(t, msg.Signature, msg.QuotedText)
	assert.NotContains(t, msg.CleanText, "Best regards")
	assert.NotContains(t, msg.CleanText, ">")
}

func TestExtractSignatureStrategies(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantSig  string
		wantRest string
	}{
		{
			name:     "marker line",
			text:     "See attached.\n\nCheers,\nBob",
			wantSig:  "Cheers,\nBob",
			wantRest: "See attached.",
		},
		{
			name:     "mobile footer",
			text:     "Quick reply.\n\nSent from my iPhone",
			wantSig:  "Sent from my iPhone",
			wantRest: "Quick reply.",
		},
		{
			name:     "separator line",
			text:     "Body text here.\n--\nBob Seller\nAcme",
			wantSig:  "--\nBob Seller\nAcme",
			wantRest: "Body text here.",
		},
		{
			name:     "contact info line",
			text:     "Looping in finance.\n\nBob Seller\n+1 (555) 010-2030\nAcme Corp",
			wantSig:  "Bob Seller\n+1 (555) 010-2030\nAcme Corp",
			wantRest: "Looping in finance.",
		},
		{
			name:     "no signature",
			text:     "Just a short note with nothing else.",
			wantSig:  "",
			wantRest: "Just a short note with nothing else.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, rest := ExtractSignature(tt.text)
			assert.Equal(t, tt.wantSig, sig)
			assert.Equal(t, tt.wantRest, rest)
		})
	}
}

func TestExtractSignatureEarliestWins(t *testing.T) {
	// A separator appears before the sign-off marker; the separator's
	// lower offset must win.
	text := "Update below.\n---\ninternal note\nBest regards,\nBob"
	sig, rest := ExtractSignature(text)
	assert.Equal(t, "Update below.", rest)
	assert.True(t, strings.HasPrefix(sig, "---"))
}

func TestExtractQuoteMarkers(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		wantClean string
	}{
		{
			name:      "on wrote",
			text:      "Sounds good.\n\nOn Mon, Aug 24, 2026 at 9:00 AM Joe <joe@x.com> wrote:\n> earlier text",
			wantClean: "Sounds good.",
		},
		{
			name:      "original message",
			text:      "Agreed.\n\n-----Original Message-----\nFrom: Joe",
			wantClean: "Agreed.",
		},
		{
			name:      "header block",
			text:      "Forwarding.\n\nFrom: Joe Seller <joe@x.com>\nSent: Monday\nSubject: Pricing",
			wantClean: "Forwarding.",
		},
		{
			name:      "angle quoting",
			text:      "Reply here.\n> old line one\n> old line two",
			wantClean: "Reply here.",
		},
		{
			name:      "no quote",
			text:      "Nothing quoted at all.",
			wantClean: "Nothing quoted at all.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, clean := ExtractQuote(tt.text)
			assert.Equal(t, tt.wantClean, clean)
		})
	}
}

func TestThreadIDDerivation(t *testing.T) {
	n := New(0)

	// References wins over In-Reply-To.
	in := sampleInbound()
	in.References = "<first@x.com> <second@x.com>"
	msg := n.Normalize(in)
	assert.Equal(t, "first@x.com", msg.ThreadID)

	// In-Reply-To when References is absent.
	in = sampleInbound()
	msg = n.Normalize(in)
	assert.Equal(t, "root@mail.example.com", msg.ThreadID)

	// Subject hash as last resort; stable across reply prefixes.
	in = sampleInbound()
	in.InReplyTo = ""
	msg = n.Normalize(in)
	require.True(t, strings.HasPrefix(msg.ThreadID, "subject-"))

	in2 := sampleInbound()
	in2.InReplyTo = ""
	in2.Subject = "RE: RE: Pricing"
	msg2 := n.Normalize(in2)
	assert.Equal(t, msg.ThreadID, msg2.ThreadID)

	// All three absent yields no thread id.
	in3 := models.InboundEmail{BodyPlain: "hi"}
	msg3 := n.Normalize(in3)
	assert.Empty(t, msg3.ThreadID)
}

func TestNormalizeSynthesizesMessageID(t *testing.T) {
	n := New(0)
	msg := n.Normalize(models.InboundEmail{BodyPlain: "hi"})
	require.NotEmpty(t, msg.MessageID)
	assert.True(t, strings.HasPrefix(msg.MessageID, "synthesized-"))
}

func TestNormalizeMalformedAddressesDegrade(t *testing.T) {
	n := New(0)
	in := sampleInbound()
	in.From = "totally broken <<<"
	in.To = "joe@x.com, not-an-address, <sue@y.com>"

	msg := n.Normalize(in)

	// From degrades to empty, To keeps the parseable entries.
	assert.Empty(t, msg.From.Address)
	require.Len(t, msg.To, 2)
	assert.Equal(t, "joe@x.com", msg.To[0].Address)
	assert.Equal(t, "sue@y.com", msg.To[1].Address)
}

func TestDetectPriority(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		subject string
		want    models.Priority
	}{
		{"x-priority high", map[string]string{"X-Priority": "1"}, "hello", models.PriorityHigh},
		{"x-priority low", map[string]string{"X-Priority": "5"}, "hello", models.PriorityLow},
		{"importance high", map[string]string{"Importance": "High"}, "hello", models.PriorityHigh},
		{"subject urgent", nil, "URGENT: server down", models.PriorityHigh},
		{"subject asap", nil, "need this asap", models.PriorityHigh},
		{"default", nil, "weekly sync", models.PriorityNormal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectPriority(tt.headers, tt.subject))
		})
	}
}

func TestDetectAutoReply(t *testing.T) {
	assert.True(t, DetectAutoReply(map[string]string{"Auto-Submitted": "auto-replied"}, "hi"))
	assert.True(t, DetectAutoReply(map[string]string{"Precedence": "bulk"}, "hi"))
	assert.True(t, DetectAutoReply(nil, "Automatic reply: Out of Office"))
	assert.False(t, DetectAutoReply(map[string]string{"Auto-Submitted": "no"}, "hi"))
	assert.False(t, DetectAutoReply(nil, "quarterly report"))
}

func TestDetectLanguage(t *testing.T) {
	english := "The team said that this deal is moving and we will have the numbers from finance."
	assert.Equal(t, "en", DetectLanguage(english))

	spanish := "Gracias por los documentos que enviaste para una revisión con el equipo, por favor."
	assert.Equal(t, "es", DetectLanguage(spanish))

	assert.Equal(t, "unknown", DetectLanguage("ok"))
	assert.Equal(t, "unknown", DetectLanguage(""))
}

func TestExtractLinks(t *testing.T) {
	text := "See https://example.com/deal and the tracker https://click.campaigns.example.net/r/abc. Repeated: https://example.com/deal"
	links := ExtractLinks(text, "")

	require.Len(t, links, 2)
	assert.Equal(t, "https://example.com/deal", links[0].URL)
	assert.False(t, links[0].IsTracking)
	assert.Equal(t, "click.campaigns.example.net", links[1].Domain)
	assert.True(t, links[1].IsTracking)
}

func TestFilterAttachments(t *testing.T) {
	n := New(1024)
	in := sampleInbound()
	in.Attachments = []models.Attachment{
		{Filename: "deal.pdf", ContentType: "application/pdf", Size: 512},
		{Filename: "huge.pdf", ContentType: "application/pdf", Size: 4096},
		{Filename: "malware.exe", ContentType: "application/x-msdownload", Size: 100},
		{Filename: "notes.txt", ContentType: "text/plain; charset=utf-8", Size: 64},
	}

	msg := n.Normalize(in)
	require.Len(t, msg.Attachments, 2)
	assert.Equal(t, "deal.pdf", msg.Attachments[0].Filename)
	assert.Equal(t, "notes.txt", msg.Attachments[1].Filename)
}
