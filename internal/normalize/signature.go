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

// Signature detection runs three strategies and takes the earliest
// (lowest-offset) match:
//
//  1. explicit sign-off markers ("Best regards,", "Sent from my iPhone", ...)
//  2. a contact-info scan over the last 10 lines (phone numbers, email
//     addresses, street addresses, social handles, job titles)
//  3. separator lines ("--", "---", "___")
var signatureMarkers = []*regexp.Regexp{
	regexp.MustCompile(`(?mi)^(best regards|kind regards|warm regards|regards|best wishes|best|thanks|thank you|many thanks|cheers|sincerely|yours truly|respectfully)[,.!]?[ \t]*$`),
	regexp.MustCompile(`(?mi)^sent from my (iphone|ipad|android|samsung|mobile|blackberry)`),
	regexp.MustCompile(`(?mi)^get outlook for (ios|android)`),
	regexp.MustCompile(`(?mi)^sent via `),
}

var separatorLineRe = regexp.MustCompile(`(?m)^(--|-{3,}|_{3,})[ \t]*$`)

var contactInfoRes = []*regexp.Regexp{
	// Phone-shaped
	regexp.MustCompile(`\+?\(?\d[\d\s().-]{7,}\d`),
	// Email address
	regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`),
	// Street address
	regexp.MustCompile(`(?i)\d+\s+\w+\s+(street|st\.|avenue|ave\.?|road|rd\.?|blvd|suite|ste\.?|floor)`),
	// Social / web
	regexp.MustCompile(`(?i)(linkedin\.com|twitter\.com|x\.com|@\w+\s*$|www\.)`),
	// Job title
	regexp.MustCompile(`(?i)^(ceo|cto|cfo|coo|vp|president|founder|director|manager|engineer|consultant|account executive|sales (rep|manager|director))\b`),
}

// ExtractSignature splits a message body into its signature (if any) and
// the text preceding it. When no strategy matches, the signature is empty
// and the body is returned unchanged.
func ExtractSignature(text string) (signature, remainder string) {
	if text == "" {
		return "", ""
	}

	best := -1

	// Strategy 1: explicit markers.
	for _, re := range signatureMarkers {
		if loc := re.FindStringIndex(text); loc != nil && loc[0] > 0 {
			if best == -1 || loc[0] < best {
				best = loc[0]
			}
		}
	}

	// Strategy 2: contact-info scan of the last 10 lines.
	if off := contactInfoOffset(text); off > 0 && (best == -1 || off < best) {
		best = off
	}

	// Strategy 3: separator line.
	if loc := separatorLineRe.FindStringIndex(text); loc != nil && loc[0] > 0 {
		if best == -1 || loc[0] < best {
			best = loc[0]
		}
	}

	if best <= 0 {
		return "", text
	}
	return strings.TrimSpace(text[best:]), strings.TrimSpace(text[:best])
}

// contactInfoOffset returns the byte offset where a trailing contact-info
// block begins, or -1. It scans the last 10 lines for content shaped like
// contact details, then widens the block back to the preceding blank line
// so the name line above a phone number is captured too.
func contactInfoOffset(text string) int {
	lines := strings.Split(text, "\n")
	start := 0
	if len(lines) > 10 {
		start = len(lines) - 10
	}

	offsets := make([]int, len(lines))
	off := 0
	for i, l := range lines {
		offsets[i] = off
		off += len(l) + 1
	}

	for i := start; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" || !looksLikeContactInfo(line) {
			continue
		}
		// Widen to the start of the surrounding block.
		j := i
		for j > 0 && strings.TrimSpace(lines[j-1]) != "" {
			j--
		}
		return offsets[j]
	}
	return -1
}

func looksLikeContactInfo(line string) bool {
	for _, re := range contactInfoRes {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}
