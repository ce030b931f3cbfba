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
	"regexp"
	"strings"

	"github.com/copp1723/team-crm-ingest/internal/models"
)

// UrgencyLevel grades how pressing a message is.
type UrgencyLevel string

const (
	UrgencyLow    UrgencyLevel = "low"
	UrgencyMedium UrgencyLevel = "medium"
	UrgencyHigh   UrgencyLevel = "high"
)

// Urgency is the urgency signal extracted from a message.
type Urgency struct {
	Level             UrgencyLevel `json:"level"`
	Keywords          []string     `json:"keywords,omitempty"`
	HasDeadline       bool         `json:"has_deadline"`
	HasTimeConstraint bool         `json:"has_time_constraint"`
}

var urgencyKeywords = []string{
	"urgent", "asap", "immediately", "critical", "emergency",
	"time sensitive", "right away", "escalate", "blocker", "overdue",
}

var deadlineKeywords = []string{
	"deadline", "due date", "due by", "no later than", "must be done by",
	"expires", "final day", "last day",
}

var timeConstraintRe = regexp.MustCompile(`(?i)\b(today|tomorrow|tonight|eod|cob|end of (day|week|month)|this (morning|afternoon|week)|by (monday|tuesday|wednesday|thursday|friday|saturday|sunday)|\d{1,2}(:\d{2})?\s?(am|pm))\b`)

// DetectUrgency scans subject and body for urgency keywords, deadlines,
// and time constraints. The level escalates with the number of distinct
// keyword hits; a high message priority raises the floor to medium.
func DetectUrgency(subject, body string, priority models.Priority) Urgency {
	haystack := strings.ToLower(subject + "\n" + body)

	var hits []string
	for _, kw := range urgencyKeywords {
		if strings.Contains(haystack, kw) {
			hits = append(hits, kw)
		}
	}

	u := Urgency{
		Level:             UrgencyLow,
		Keywords:          hits,
		HasTimeConstraint: timeConstraintRe.MatchString(haystack),
	}
	for _, kw := range deadlineKeywords {
		if strings.Contains(haystack, kw) {
			u.HasDeadline = true
			break
		}
	}

	score := len(hits)
	if u.HasDeadline {
		score++
	}
	switch {
	case score >= 3:
		u.Level = UrgencyHigh
	case score >= 1:
		u.Level = UrgencyMedium
	}
	if priority == models.PriorityHigh && u.Level == UrgencyLow {
		u.Level = UrgencyMedium
	}
	return u
}
