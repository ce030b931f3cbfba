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
	"strings"

	"github.com/copp1723/team-crm-ingest/internal/models"
)

var urgentSubjectKeywords = []string{
	"urgent", "asap", "critical", "emergency", "immediately", "time sensitive",
}

var autoReplySubjectPhrases = []string{
	"out of office", "automatic reply", "auto-reply", "autoreply",
	"away from the office", "on vacation", "delivery status notification",
	"undeliverable",
}

// DetectPriority derives message priority from explicit mail headers,
// falling back to a subject keyword scan.
func DetectPriority(headers map[string]string, subject string) models.Priority {
	if v := headerValue(headers, "X-Priority"); v != "" {
		switch v[0] {
		case '1', '2':
			return models.PriorityHigh
		case '4', '5':
			return models.PriorityLow
		}
	}
	if v := strings.ToLower(headerValue(headers, "Importance")); v != "" {
		switch v {
		case "high", "urgent":
			return models.PriorityHigh
		case "low":
			return models.PriorityLow
		}
	}

	lower := strings.ToLower(subject)
	for _, kw := range urgentSubjectKeywords {
		if strings.Contains(lower, kw) {
			return models.PriorityHigh
		}
	}
	return models.PriorityNormal
}

// DetectAutoReply reports whether the message is an automated response,
// via auto-submission headers or subject phrases.
func DetectAutoReply(headers map[string]string, subject string) bool {
	if v := strings.ToLower(headerValue(headers, "Auto-Submitted")); v != "" && v != "no" {
		return true
	}
	if v := strings.ToLower(headerValue(headers, "Precedence")); v == "bulk" || v == "auto_reply" || v == "list" {
		return true
	}
	if headerValue(headers, "X-Autoreply") != "" || headerValue(headers, "X-Autorespond") != "" {
		return true
	}

	lower := strings.ToLower(subject)
	for _, phrase := range autoReplySubjectPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// headerValue does a case-insensitive header lookup.
func headerValue(headers map[string]string, name string) string {
	if headers == nil {
		return ""
	}
	if v, ok := headers[name]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
