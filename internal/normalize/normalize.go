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

// Package normalize turns a provider-decoded inbound email into a
// NormalizedMessage: parsed addresses, canonical subject, signature and
// quoted-history stripping, link extraction, attachment filtering, and
// derived metadata (priority, auto-reply flag, language, thread id).
//
// Normalization is a pure function of its input and never fails as a
// whole: each sub-extractor degrades to an empty value on malformed
// input rather than propagating an error.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/copp1723/team-crm-ingest/internal/models"
)

// Normalizer produces NormalizedMessages from inbound emails.
type Normalizer struct {
	maxAttachmentBytes int
}

// New creates a normalizer. maxAttachmentBytes bounds the size of any
// attachment surfaced on the normalized message; larger ones are dropped.
func New(maxAttachmentBytes int) *Normalizer {
	return &Normalizer{maxAttachmentBytes: maxAttachmentBytes}
}

// Normalize converts one inbound email into its normalized form.
func (n *Normalizer) Normalize(in models.InboundEmail) *models.NormalizedMessage {
	text := normalizeBody(in.BodyPlain)
	html := normalizeBody(in.BodyHTML)
	subject := CanonicalSubject(in.Subject)

	// Quoted history is located first so the signature scan never reaches
	// into an earlier sender's sign-off; the three regions partition the
	// body as clean | signature | quoted.
	quoted, beforeQuote := ExtractQuote(text)
	signature, clean := ExtractSignature(beforeQuote)

	references := splitReferences(in.References)
	inReplyTo := strings.TrimSpace(in.InReplyTo)

	msg := &models.NormalizedMessage{
		MessageID:   canonicalMessageID(in.MessageID),
		InReplyTo:   inReplyTo,
		References:  references,
		From:        firstAddress(parseAddresses(in.From)),
		To:          parseAddresses(in.To),
		CC:          parseAddresses(in.CC),
		BCC:         parseAddresses(in.BCC),
		Subject:     subject,
		Text:        text,
		HTML:        html,
		CleanText:   clean,
		Signature:   signature,
		QuotedText:  quoted,
		Links:       ExtractLinks(text, html),
		Attachments: n.filterAttachments(in.Attachments),
		Priority:    DetectPriority(in.Headers, subject),
		IsAutoReply: DetectAutoReply(in.Headers, subject),
		Language:    DetectLanguage(clean),
		ReceivedAt:  in.ReceivedAt,
	}

	if replyTo := parseAddresses(in.ReplyTo); len(replyTo) > 0 {
		msg.ReplyTo = &replyTo[0]
	}
	msg.IsReply = inReplyTo != "" || hasReplyPrefix(in.Subject)
	msg.ThreadID = threadID(references, inReplyTo, subject)
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now().UTC()
	}

	return msg
}

// canonicalMessageID trims angle brackets and synthesizes an id when the
// source mail carried none.
func canonicalMessageID(raw string) string {
	id := strings.TrimSpace(raw)
	id = strings.TrimPrefix(id, "<")
	id = strings.TrimSuffix(id, ">")
	if id == "" {
		return fmt.Sprintf("synthesized-%s", uuid.New().String())
	}
	return id
}

// parseAddresses parses a raw address header into address pairs.
// Malformed headers degrade to a best-effort split rather than an error.
func parseAddresses(raw string) []models.EmailAddress {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	if list, err := mail.ParseAddressList(raw); err == nil {
		out := make([]models.EmailAddress, 0, len(list))
		for _, a := range list {
			out = append(out, models.EmailAddress{
				Address: strings.ToLower(a.Address),
				Name:    a.Name,
			})
		}
		return out
	}

	// Fallback for headers net/mail rejects: split on commas and keep
	// anything that still looks like an address.
	var out []models.EmailAddress
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if a, err := mail.ParseAddress(part); err == nil {
			out = append(out, models.EmailAddress{
				Address: strings.ToLower(a.Address),
				Name:    a.Name,
			})
			continue
		}
		if strings.Contains(part, "@") {
			out = append(out, models.EmailAddress{
				Address: strings.ToLower(strings.Trim(part, "<> ")),
			})
		}
	}
	return out
}

func firstAddress(list []models.EmailAddress) models.EmailAddress {
	if len(list) == 0 {
		return models.EmailAddress{}
	}
	return list[0]
}

// splitReferences splits a References header into its ordered message ids.
func splitReferences(raw string) []string {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return nil
	}
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimPrefix(f, "<")
		f = strings.TrimSuffix(f, ">")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// threadID correlates a message to its thread: the first References entry,
// then In-Reply-To, then a deterministic hash of the prefix-stripped
// subject. Empty when all three are absent.
func threadID(references []string, inReplyTo, subject string) string {
	if len(references) > 0 {
		return references[0]
	}
	if inReplyTo != "" {
		return strings.Trim(inReplyTo, "<>")
	}
	stripped := StripReplyPrefixes(subject)
	if stripped == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(strings.ToLower(stripped)))
	return "subject-" + hex.EncodeToString(sum[:8])
}

var (
	crlfRe     = regexp.MustCompile(`\r\n?`)
	blankRunRe = regexp.MustCompile(`\n{3,}`)
	trailingWS = regexp.MustCompile(`[ \t]+\n`)
)

// normalizeBody normalizes line endings, strips trailing whitespace per
// line, and collapses runs of blank lines.
func normalizeBody(s string) string {
	if s == "" {
		return ""
	}
	s = crlfRe.ReplaceAllString(s, "\n")
	s = trailingWS.ReplaceAllString(s, "\n")
	s = blankRunRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
