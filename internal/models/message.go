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

// Package models defines the data structures shared across the email
// processing pipeline.
package models

import "time"

// Priority is the derived importance of an inbound message.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Action is the dispatch action chosen by the routing rule chain.
type Action string

const (
	ActionForward     Action = "forward"
	ActionQueue       Action = "queue"
	ActionAutoRespond Action = "autoRespond"
)

// EmailAddress represents a sender or recipient with an address and optional name.
// Address is stored lower-cased so comparisons are case-insensitive.
type EmailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// Link is a URL extracted from a message body.
type Link struct {
	URL        string `json:"url"`
	Domain     string `json:"domain"`
	IsTracking bool   `json:"is_tracking"`
}

// Attachment represents a file attached to an email that passed the
// size and MIME-type filters.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
	ContentID   string `json:"content_id,omitempty"`
	Content     []byte `json:"content,omitempty"`
}

// InboundEmail is the provider-decoded shape of one raw email as delivered
// by the inbound webhook: MIME transport parsing has already happened, so
// headers, bodies, and attachments arrive as plain fields.
type InboundEmail struct {
	MessageID   string            `json:"message_id"`
	From        string            `json:"from"`
	To          string            `json:"to"`
	CC          string            `json:"cc,omitempty"`
	BCC         string            `json:"bcc,omitempty"`
	ReplyTo     string            `json:"reply_to,omitempty"`
	Subject     string            `json:"subject"`
	BodyPlain   string            `json:"body_plain"`
	BodyHTML    string            `json:"body_html,omitempty"`
	InReplyTo   string            `json:"in_reply_to,omitempty"`
	References  string            `json:"references,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Attachments []Attachment      `json:"attachments,omitempty"`
	ReceivedAt  time.Time         `json:"received_at"`
}

// NormalizedMessage is the de-noised representation of one inbound email.
// It is immutable once produced by the normalizer.
type NormalizedMessage struct {
	MessageID  string   `json:"message_id"`
	InReplyTo  string   `json:"in_reply_to,omitempty"`
	References []string `json:"references,omitempty"`

	From    EmailAddress   `json:"from"`
	To      []EmailAddress `json:"to"`
	CC      []EmailAddress `json:"cc,omitempty"`
	BCC     []EmailAddress `json:"bcc,omitempty"`
	ReplyTo *EmailAddress  `json:"reply_to,omitempty"`

	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html,omitempty"`

	// CleanText is Text with the trailing signature and quoted history
	// removed. Signature and QuotedText hold the removed sections.
	CleanText  string `json:"clean_text"`
	Signature  string `json:"signature,omitempty"`
	QuotedText string `json:"quoted_text,omitempty"`

	Links       []Link       `json:"links,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`

	Priority    Priority `json:"priority"`
	IsAutoReply bool     `json:"is_auto_reply"`
	Language    string   `json:"language"`
	IsReply     bool     `json:"is_reply"`
	ThreadID    string   `json:"thread_id,omitempty"`

	ReceivedAt time.Time `json:"received_at"`
}

// RoutingDecision is the action/priority/tags tuple computed once per
// inbound message before dispatch. Immutable; persisted for audit.
type RoutingDecision struct {
	Action       Action     `json:"action"`
	Priority     Priority   `json:"priority"`
	Tags         []string   `json:"tags,omitempty"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`

	// AutoRespond marks that an out-of-hours acknowledgement should be
	// sent in addition to the chosen action.
	AutoRespond bool `json:"auto_respond,omitempty"`
}

// AssistantRecord is one active team member's virtual inbox identity,
// cached by the assistant directory.
type AssistantRecord struct {
	ID               string         `json:"id"`
	ExternalID       string         `json:"external_id"`
	Name             string         `json:"name"`
	PersonalEmail    string         `json:"personal_email,omitempty"`
	AssistantAddress string         `json:"assistant_address"`
	Role             string         `json:"role,omitempty"`
	Configuration    map[string]any `json:"configuration,omitempty"`
}

// ForwardAllEmails reports whether the member wants every inbound message
// forwarded. Defaults to true when the configuration key is absent.
func (r *AssistantRecord) ForwardAllEmails() bool {
	if r == nil || r.Configuration == nil {
		return true
	}
	if v, ok := r.Configuration["forwardAllEmails"].(bool); ok {
		return v
	}
	return true
}

// TeamUpdate is the payload handed to the downstream CRM orchestrator.
//
// This struct's JSON serialisation MUST match the orchestrator's
// team-update contract; the Node consumer deserialises it field-for-field.
type TeamUpdate struct {
	MemberName string         `json:"memberName"`
	UpdateText string         `json:"updateText"`
	Metadata   UpdateMetadata `json:"metadata"`
}

// UpdateMetadata carries provenance and enrichment for a team update.
type UpdateMetadata struct {
	Source          string         `json:"source"`
	MessageID       string         `json:"messageId"`
	FromEmail       string         `json:"fromEmail"`
	Subject         string         `json:"subject"`
	Urgency         string         `json:"urgency,omitempty"`
	BusinessContext map[string]any `json:"businessContext,omitempty"`
}
