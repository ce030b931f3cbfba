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

import "testing"

func TestCanonicalSubject(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Deal update", "Deal update"},
		{"single reply prefix", "RE: Deal update", "RE: Deal update"},
		{"collapsed reply run", "RE: RE: RE: Deal update", "RE: Deal update"},
		{"mixed case keeps first spelling", "Re: re: RE: Deal update", "Re: Deal update"},
		{"forward prefix", "FWD: Q3 numbers", "FWD: Q3 numbers"},
		{"forward run keeps first token", "FW: FWD: Q3 numbers", "FW: Q3 numbers"},
		{"external tag stripped", "[EXTERNAL] Pricing question", "Pricing question"},
		{"spam tag inside prefixes", "RE: [SPAM] RE: Pricing", "RE: Pricing"},
		{"whitespace only", "   ", ""},
		{"prefix without body", "RE:", "RE:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanonicalSubject(tt.in); got != tt.want {
				t.Errorf("CanonicalSubject(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// TestCanonicalSubjectIdempotent verifies that canonicalizing an already
// canonical subject is a no-op.
func TestCanonicalSubjectIdempotent(t *testing.T) {
	inputs := []string{
		"RE: Deal update",
		"FWD: Q3 numbers",
		"Pricing question",
		"",
	}
	for _, in := range inputs {
		once := CanonicalSubject(in)
		twice := CanonicalSubject(once)
		if once != twice {
			t.Errorf("CanonicalSubject not idempotent: %q -> %q -> %q", in, once, twice)
		}
	}
}

func TestStripReplyPrefixes(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"RE: RE: Deal update", "Deal update"},
		{"[EXTERNAL] FW: Pricing", "Pricing"},
		{"Deal update", "Deal update"},
	}
	for _, tt := range tests {
		if got := StripReplyPrefixes(tt.in); got != tt.want {
			t.Errorf("StripReplyPrefixes(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
