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
	"fmt"
	"html"
	"strings"

	"github.com/copp1723/team-crm-ingest/internal/enrich"
	"github.com/copp1723/team-crm-ingest/internal/models"
)

// BuildForwardDigest renders the forwarded email: original content plus
// an enrichment header so the recipient sees urgency and extracted
// entities at a glance.
func BuildForwardDigest(msg *models.NormalizedMessage, bundle *enrich.Context) (subject, text, htmlBody string) {
	subject = "Fwd: " + msg.Subject

	var tb strings.Builder
	fmt.Fprintf(&tb, "From: %s\n", formatAddress(msg.From))
	fmt.Fprintf(&tb, "Subject: %s\n", msg.Subject)
	fmt.Fprintf(&tb, "Received: %s\n", msg.ReceivedAt.Format("Mon, 2 Jan 2006 15:04 MST"))
	fmt.Fprintf(&tb, "Urgency: %s\n", bundle.Urgency.Level)
	if line := entitiesLine(bundle.Entities); line != "" {
		fmt.Fprintf(&tb, "Detected: %s\n", line)
	}
	tb.WriteString("\n---\n\n")
	tb.WriteString(msg.CleanText)
	if msg.Signature != "" {
		tb.WriteString("\n\n")
		tb.WriteString(msg.Signature)
	}
	text = tb.String()

	var hb strings.Builder
	hb.WriteString("<div style=\"font-family:sans-serif\">")
	hb.WriteString("<table style=\"font-size:13px;color:#555\">")
	htmlRow(&hb, "From", formatAddress(msg.From))
	htmlRow(&hb, "Subject", msg.Subject)
	htmlRow(&hb, "Urgency", string(bundle.Urgency.Level))
	if line := entitiesLine(bundle.Entities); line != "" {
		htmlRow(&hb, "Detected", line)
	}
	hb.WriteString("</table><hr>")
	if msg.HTML != "" {
		// Original HTML passes through untouched; the provider already
		// decoded it and the member's client renders it natively.
		hb.WriteString(msg.HTML)
	} else {
		hb.WriteString("<pre style=\"white-space:pre-wrap;font-family:inherit\">")
		hb.WriteString(html.EscapeString(msg.CleanText))
		hb.WriteString("</pre>")
	}
	hb.WriteString("</div>")
	htmlBody = hb.String()

	return subject, text, htmlBody
}

// BuildAutoResponse renders the out-of-hours acknowledgement body.
func BuildAutoResponse(msg *models.NormalizedMessage, bundle *enrich.Context) string {
	var b strings.Builder
	name := msg.From.Name
	if name == "" {
		name = "there"
	}
	fmt.Fprintf(&b, "Hi %s,\n\n", name)
	b.WriteString("Thanks for your email. We've received your message and it has been routed to the right team member.\n\n")
	if bundle.Urgency.Level == enrich.UrgencyHigh {
		b.WriteString("We can see this is time-sensitive and will prioritize it accordingly.\n\n")
	} else {
		b.WriteString("We'll get back to you during business hours.\n\n")
	}
	b.WriteString("This is an automated acknowledgement; there's no need to reply.\n")
	return b.String()
}

func autoResponseSubject(msg *models.NormalizedMessage) string {
	if strings.HasPrefix(strings.ToLower(msg.Subject), "re:") {
		return msg.Subject
	}
	return "Re: " + msg.Subject
}

func formatAddress(a models.EmailAddress) string {
	if a.Name != "" {
		return fmt.Sprintf("%s <%s>", a.Name, a.Address)
	}
	return a.Address
}

func entitiesLine(ents enrich.Entities) string {
	var parts []string
	if len(ents.MoneyAmounts) > 0 {
		parts = append(parts, strings.Join(ents.MoneyAmounts, ", "))
	}
	if len(ents.Companies) > 0 {
		parts = append(parts, strings.Join(ents.Companies, ", "))
	}
	if ents.IsMeetingRequest {
		parts = append(parts, "meeting request")
	}
	return strings.Join(parts, " | ")
}

func htmlRow(b *strings.Builder, label, value string) {
	fmt.Fprintf(b, "<tr><td style=\"padding-right:8px\"><b>%s</b></td><td>%s</td></tr>",
		html.EscapeString(label), html.EscapeString(value))
}
