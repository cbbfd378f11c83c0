// SPDX-License-Identifier: MIT

package quality

import (
	"regexp"
	"strings"
)

// rejectPreservationBelow is the term preservation ratio under which
// the recommendation is forced to REJECT regardless of score.
const rejectPreservationBelow = 0.30

var (
	numberPattern = regexp.MustCompile(`\d+(?:[.,]\d+)*`)
	datePattern   = regexp.MustCompile(`\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{2,4}`)
	asciiRun      = regexp.MustCompile(`[A-Za-z]{2,}`)
	capitalized   = regexp.MustCompile(`\pL[\pL\d]*`)
)

// latinTargets are languages written in Latin script; for them, bare
// ASCII runs in the source are expected to be translated rather than
// carried over, so only numbers and proper nouns count.
var latinTargets = map[string]bool{
	"en": true, "es": true, "fr": true, "de": true, "it": true,
	"pt": true, "nl": true, "pl": true, "tr": true, "vi": true,
}

// ExtractTerms pulls the salient terms out of a source text: numbers,
// dates, capitalized non-sentence-initial words, and (for non-Latin
// targets) ASCII-alphabetic runs of two or more characters.
func ExtractTerms(original, targetLang string) []string {
	seen := make(map[string]bool)
	var terms []string
	add := func(t string) {
		key := strings.ToLower(t)
		if !seen[key] {
			seen[key] = true
			terms = append(terms, t)
		}
	}

	for _, m := range datePattern.FindAllString(original, -1) {
		add(m)
	}
	for _, m := range numberPattern.FindAllString(original, -1) {
		add(m)
	}

	// Capitalized words that do not open a sentence are treated as
	// proper nouns.
	for _, sentence := range splitSentences(original) {
		words := strings.Fields(sentence)
		for i, w := range words {
			if i == 0 {
				continue
			}
			w = strings.Trim(w, `.,!?;:"'()[]`)
			if len(w) < 2 || !isUpperASCII(w[0]) {
				continue
			}
			if capitalized.MatchString(w) {
				add(w)
			}
		}
	}

	if !latinTargets[targetLang] {
		for _, m := range asciiRun.FindAllString(original, -1) {
			add(m)
		}
	}
	return terms
}

// CheckPreservation computes the preservation ratio for the extracted
// terms. Latin terms match case-insensitively; numeric terms must match
// exactly.
func CheckPreservation(original, translated, targetLang string) TermPreservation {
	terms := ExtractTerms(original, targetLang)
	if len(terms) == 0 {
		return TermPreservation{Score: 1.0}
	}

	lowerTranslated := strings.ToLower(translated)
	var missing []string
	matched := 0
	for _, t := range terms {
		if isNumeric(t) {
			if strings.Contains(translated, t) {
				matched++
				continue
			}
		} else if strings.Contains(lowerTranslated, strings.ToLower(t)) {
			matched++
			continue
		}
		missing = append(missing, t)
	}
	return TermPreservation{
		Score:   float64(matched) / float64(len(terms)),
		Missing: missing,
	}
}

// ApplyPreservation stamps the term check onto a report and forces
// REJECT when the ratio falls below the floor.
func ApplyPreservation(r *Report, tp TermPreservation) {
	r.TermPreservation = tp
	if tp.Score < rejectPreservationBelow {
		r.Recommendation = Reject
	}
}

func splitSentences(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		switch r {
		case '.', '!', '?', '\n', '。', '！', '？':
			return true
		}
		return false
	})
}

func isUpperASCII(b byte) bool { return b >= 'A' && b <= 'Z' }

func isNumeric(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' && r != ',' && r != '-' && r != '/' {
			return false
		}
	}
	return len(s) > 0
}
