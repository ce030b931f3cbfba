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

package route

import (
	"strings"
	"time"

	"github.com/copp1723/team-crm-ingest/internal/config"
	"github.com/copp1723/team-crm-ingest/internal/models"
)

// ConditionKind is the closed set of rule condition types.
type ConditionKind string

const (
	SenderContains  ConditionKind = "senderContains"
	SubjectContains ConditionKind = "subjectContains"
	RecipientEquals ConditionKind = "recipientEquals"
)

// Rule is one entry in the ordered routing rule chain.
type Rule struct {
	Kind     ConditionKind
	Value    string
	Action   models.Action
	Priority models.Priority
	Tags     []string
}

// highPriorityKeywords escalate a decision when present in subject or body.
var highPriorityKeywords = []string{
	"urgent", "asap", "critical", "emergency", "escalate", "immediately",
}

// queueDelay is how far out a queued message is scheduled for batch pickup.
const queueDelay = time.Hour

// Engine evaluates the routing rule chain for a message.
type Engine struct {
	rules               []Rule
	autoResponseEnabled bool
	businessHoursStart  int
	businessHoursEnd    int

	// now is swappable for tests.
	now func() time.Time
}

// NewEngine creates a rule engine from configuration. Rule order in the
// config file is evaluation order.
func NewEngine(cfg *config.Config) *Engine {
	rules := make([]Rule, 0, len(cfg.Rules))
	for _, rc := range cfg.Rules {
		rules = append(rules, Rule{
			Kind:     ConditionKind(rc.Kind),
			Value:    rc.Value,
			Action:   models.Action(rc.Action),
			Priority: models.Priority(rc.Priority),
			Tags:     rc.Tags,
		})
	}
	return &Engine{
		rules:               rules,
		autoResponseEnabled: cfg.AutoResponseEnabled,
		businessHoursStart:  cfg.BusinessHoursStart,
		businessHoursEnd:    cfg.BusinessHoursEnd,
		now:                 time.Now,
	}
}

// Decide computes the routing decision for a message and its resolved
// recipient (nil for catch-all traffic).
//
// Evaluation order: default forward decision, auto-reply downgrade,
// first-matching custom rule (which overrides, never merges), urgency
// escalation, then the out-of-hours auto-response flag.
func (e *Engine) Decide(msg *models.NormalizedMessage, recipient *models.AssistantRecord) models.RoutingDecision {
	decision := models.RoutingDecision{
		Action:   models.ActionForward,
		Priority: msg.Priority,
	}

	if msg.IsAutoReply {
		decision.Action = models.ActionQueue
		decision.Priority = models.PriorityLow
		decision.Tags = append(decision.Tags, "auto-reply")
	}

	for _, rule := range e.rules {
		if !rule.matches(msg, recipient) {
			continue
		}
		decision.Action = rule.Action
		if rule.Priority != "" {
			decision.Priority = rule.Priority
		}
		decision.Tags = append(decision.Tags, rule.Tags...)
		break // first match wins
	}

	if hasHighPriorityKeywords(msg) {
		decision.Priority = models.PriorityHigh
		decision.Tags = appendUnique(decision.Tags, "urgent")
	}

	if decision.Action == models.ActionQueue && decision.ScheduledFor == nil {
		at := e.now().Add(queueDelay)
		decision.ScheduledFor = &at
	}

	if e.autoResponseEnabled && e.outsideBusinessHours(e.now()) {
		decision.AutoRespond = true
	}

	return decision
}

func (r Rule) matches(msg *models.NormalizedMessage, recipient *models.AssistantRecord) bool {
	switch r.Kind {
	case SenderContains:
		return strings.Contains(msg.From.Address, strings.ToLower(r.Value))
	case SubjectContains:
		return strings.Contains(strings.ToLower(msg.Subject), strings.ToLower(r.Value))
	case RecipientEquals:
		return recipient != nil &&
			(recipient.ID == r.Value || strings.EqualFold(recipient.ExternalID, r.Value))
	default:
		return false
	}
}

func hasHighPriorityKeywords(msg *models.NormalizedMessage) bool {
	haystack := strings.ToLower(msg.Subject + "\n" + msg.CleanText)
	for _, kw := range highPriorityKeywords {
		if strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}

// outsideBusinessHours reports whether t falls on a weekend or outside
// the configured local working hours.
func (e *Engine) outsideBusinessHours(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return true
	}
	h := t.Hour()
	return h < e.businessHoursStart || h >= e.businessHoursEnd
}

func appendUnique(tags []string, tag string) []string {
	for _, t := range tags {
		if t == tag {
			return tags
		}
	}
	return append(tags, tag)
}
