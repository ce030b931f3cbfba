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
	"regexp"
	"strings"
)

// Quoted-history detection: the earliest match among the common client
// conventions wins. Runs over the full body before the signature scan,
// which then only sees the text above the quote, so the signature and
// the quote never overlap.
var quoteMarkers = []*regexp.Regexp{
	// Gmail / Apple Mail
	regexp.MustCompile(`(?m)^On .{0,200}wrote:[ \t]*$`),
	// Outlook
	regexp.MustCompile(`(?mi)^-{2,}[ \t]*original message[ \t]*-{2,}`),
	// Forwarded header block
	regexp.MustCompile(`(?mi)^from:[ \t].+\n(sent|date|to|subject):[ \t]`),
	// Plain ">" quoting
	regexp.MustCompile(`(?m)^>`),
}

// ExtractQuote splits text into the new content and the quoted history
// that follows it. When no marker matches, the quote is empty.
func ExtractQuote(text string) (quoted, clean string) {
	if text == "" {
		return "", ""
	}

	best := -1
	for _, re := range quoteMarkers {
		if loc := re.FindStringIndex(text); loc != nil && loc[0] > 0 {
			if best == -1 || loc[0] < best {
				best = loc[0]
			}
		}
	}

	if best <= 0 {
		return "", text
	}
	return strings.TrimSpace(text[best:]), strings.TrimSpace(text[:best])
}
