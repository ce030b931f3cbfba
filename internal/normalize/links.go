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
	"net/url"
	"regexp"
	"strings"

	"github.com/copp1723/team-crm-ingest/internal/models"
)

var urlRe = regexp.MustCompile(`https?://[^\s<>"')\]]+`)

// trackingDomains are substrings identifying click-tracking and campaign
// redirect services.
var trackingDomains = []string{
	"click.",
	"track.",
	"links.",
	"list-manage.com",
	"sendgrid.net",
	"mailchimp.com",
	"mandrillapp.com",
	"hubspotlinks.com",
	"mailgun.org",
	"mixpanel.com",
	"doubleclick.net",
}

// ExtractLinks scans the HTML body when present, falling back to plain
// text, and returns de-duplicated links tagged with tracking detection.
func ExtractLinks(text, html string) []models.Link {
	source := html
	if source == "" {
		source = text
	}
	if source == "" {
		return nil
	}

	seen := make(map[string]bool)
	var links []models.Link
	for _, raw := range urlRe.FindAllString(source, -1) {
		u := strings.TrimRight(raw, ".,;:!?")
		if seen[u] {
			continue
		}
		seen[u] = true

		domain := ""
		if parsed, err := url.Parse(u); err == nil {
			domain = strings.ToLower(parsed.Hostname())
		}
		links = append(links, models.Link{
			URL:        u,
			Domain:     domain,
			IsTracking: isTrackingDomain(domain),
		})
	}
	return links
}

func isTrackingDomain(domain string) bool {
	if domain == "" {
		return false
	}
	for _, t := range trackingDomains {
		if strings.Contains(domain, t) {
			return true
		}
	}
	return false
}
