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

import "strings"

// languageStopWords is a coarse stop-word frequency table. The language
// with the most distinct stop-word hits wins, provided it clears the
// confidence threshold; otherwise the language is "unknown".
var languageStopWords = map[string][]string{
	"en": {"the", "and", "for", "that", "this", "with", "from", "have", "will", "your", "are", "was"},
	"es": {"que", "los", "las", "una", "por", "para", "con", "del", "este", "como", "pero", "más"},
	"fr": {"les", "des", "une", "que", "pour", "dans", "avec", "pas", "vous", "nous", "sur", "est"},
	"de": {"der", "die", "das", "und", "ist", "nicht", "mit", "für", "auf", "ein", "eine", "sie"},
}

const languageConfidenceThreshold = 3

// DetectLanguage guesses the message language from stop-word frequency.
// Returns "unknown" below the confidence threshold.
func DetectLanguage(text string) string {
	if text == "" {
		return "unknown"
	}

	words := make(map[string]int)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		words[strings.Trim(w, ".,;:!?\"'()")]++
	}

	bestLang := "unknown"
	bestScore := 0
	for lang, stops := range languageStopWords {
		score := 0
		for _, stop := range stops {
			score += words[stop]
		}
		if score > bestScore {
			bestScore = score
			bestLang = lang
		}
	}

	if bestScore < languageConfidenceThreshold {
		return "unknown"
	}
	return bestLang
}
