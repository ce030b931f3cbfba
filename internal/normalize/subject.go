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

var (
	// replyPrefixRe matches one leading RE:/FW:/FWD: token.
	replyPrefixRe = regexp.MustCompile(`^(?i)(re|fw|fwd)\s*:\s*`)

	// bracketTagRe matches leading client/security tags like [EXTERNAL].
	bracketTagRe = regexp.MustCompile(`^(?i)\[\s*(external|spam|ext|junk|suspected spam)\s*\]\s*`)
)

// CanonicalSubject canonicalizes a subject line: duplicate leading
// RE:/FW:/FWD: tokens collapse to a single instance of the first token
// encountered, and bracketed client/security tags are stripped.
// Canonicalizing an already-canonical subject is a no-op.
func CanonicalSubject(raw string) string {
	rest := strings.TrimSpace(raw)
	firstToken := ""

	for {
		if m := bracketTagRe.FindString(rest); m != "" {
			rest = strings.TrimSpace(rest[len(m):])
			continue
		}
		if m := replyPrefixRe.FindStringSubmatch(rest); m != nil {
			if firstToken == "" {
				// Keep the first token's original spelling so an
				// already-canonical subject round-trips unchanged.
				firstToken = m[1] + ":"
			}
			rest = strings.TrimSpace(rest[len(m[0]):])
			continue
		}
		break
	}

	if firstToken == "" {
		return rest
	}
	if rest == "" {
		return firstToken
	}
	return firstToken + " " + rest
}

// StripReplyPrefixes removes all leading RE:/FW:/FWD: tokens and bracket
// tags, leaving the bare subject used for thread hashing.
func StripReplyPrefixes(raw string) string {
	rest := strings.TrimSpace(raw)
	for {
		if m := bracketTagRe.FindString(rest); m != "" {
			rest = strings.TrimSpace(rest[len(m):])
			continue
		}
		if m := replyPrefixRe.FindString(rest); m != "" {
			rest = strings.TrimSpace(rest[len(m):])
			continue
		}
		return rest
	}
}

func hasReplyPrefix(raw string) bool {
	rest := strings.TrimSpace(raw)
	for {
		if m := bracketTagRe.FindString(rest); m != "" {
			rest = strings.TrimSpace(rest[len(m):])
			continue
		}
		break
	}
	m := replyPrefixRe.FindStringSubmatch(rest)
	return m != nil && strings.EqualFold(m[1], "re")
}
