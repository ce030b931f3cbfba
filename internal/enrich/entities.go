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
)

// Entities is the shallow business-entity extraction over a message body.
// It is pattern-based on purpose: good enough to tag CRM updates, no
// language model involved.
type Entities struct {
	MoneyAmounts     []string `json:"money_amounts,omitempty"`
	Percentages      []string `json:"percentages,omitempty"`
	Companies        []string `json:"companies,omitempty"`
	People           []string `json:"people,omitempty"`
	Projects         []string `json:"projects,omitempty"`
	IsMeetingRequest bool     `json:"is_meeting_request"`
}

var (
	moneyRe   = regexp.MustCompile(`[$€£]\s?\d[\d,]*(?:\.\d+)?\s?(?:million|billion|[kKmMbB])?\b|\b\d[\d,]*(?:\.\d+)?\s?(?:dollars|euros|USD|EUR|GBP)\b`)
	percentRe = regexp.MustCompile(`\b\d+(?:\.\d+)?\s?(?:%|percent)\b|\b\d+(?:\.\d+)?%`)
	companyRe = regexp.MustCompile(`\b([A-Z][A-Za-z&-]+(?:\s+[A-Z][A-Za-z&-]+)*)[,]?\s+(Inc|LLC|Ltd|Corp|Corporation|Group|Co)\b\.?`)
	personRe  = regexp.MustCompile(`\b[A-Z][a-z]{1,20}\s[A-Z][a-z]{1,20}\b`)
	projectRe = regexp.MustCompile(`(?i)\b(?:project|initiative|campaign|rollout|launch)\s+["']?([A-Za-z][\w-]*)`)

	meetingKeywordRe = regexp.MustCompile(`(?i)\b(meet|meeting|call|sync|catch up|schedule|calendar|demo|walkthrough)\b`)
)

const maxEntitiesPerKind = 10

// ExtractEntities pulls currency amounts, percentages, company names,
// person-name pairs, project phrases, and meeting-request intent out of
// a message body.
func ExtractEntities(text string) Entities {
	if text == "" {
		return Entities{}
	}

	e := Entities{
		MoneyAmounts: dedupe(moneyRe.FindAllString(text, maxEntitiesPerKind)),
		Percentages:  dedupe(percentRe.FindAllString(text, maxEntitiesPerKind)),
	}

	for _, m := range companyRe.FindAllStringSubmatch(text, maxEntitiesPerKind) {
		e.Companies = append(e.Companies, strings.TrimSpace(m[1]+" "+m[2]))
	}
	e.Companies = dedupe(e.Companies)

	for _, m := range personRe.FindAllString(text, maxEntitiesPerKind*2) {
		// Company matches like "Acme Corp" also fit the two-word name
		// shape; skip anything already claimed as a company.
		if isSentenceArtifact(m) || claimedByCompany(m, e.Companies) {
			continue
		}
		e.People = append(e.People, m)
		if len(e.People) >= maxEntitiesPerKind {
			break
		}
	}
	e.People = dedupe(e.People)

	for _, m := range projectRe.FindAllStringSubmatch(text, maxEntitiesPerKind) {
		e.Projects = append(e.Projects, m[1])
	}
	e.Projects = dedupe(e.Projects)

	// A meeting request needs both intent and a time reference.
	e.IsMeetingRequest = meetingKeywordRe.MatchString(text) && timeConstraintRe.MatchString(text)

	return e
}

// claimedByCompany reports whether a candidate name overlaps an already
// extracted company string.
func claimedByCompany(candidate string, companies []string) bool {
	for _, c := range companies {
		if strings.Contains(c, candidate) {
			return true
		}
	}
	return false
}

// isSentenceArtifact filters two-word matches that are sentence starts
// rather than names ("The Team", "Please Find").
func isSentenceArtifact(s string) bool {
	first, _, _ := strings.Cut(s, " ")
	switch first {
	case "The", "This", "That", "Please", "Thanks", "Thank", "Best", "Kind",
		"Our", "Your", "Dear", "Hello", "Next", "Last", "New", "Project":
		return true
	}
	return false
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
