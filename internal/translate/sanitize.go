// SPDX-License-Identifier: MIT

package translate

import (
	"regexp"
	"strings"
)

// maxInputLength caps sanitized text, counted in runes so CJK input
// gets the same budget as Latin, to keep one prompt within model
// context limits.
const maxInputLength = 10000

var (
	codeBlockPattern = regexp.MustCompile("```[\\s\\S]*?```")

	// injectionPatterns neutralize instruction-like text before it can
	// reach a prompt. Transcripts are untrusted input.
	injectionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|above)\s+instructions?`),
		regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|above)`),
		regexp.MustCompile(`(?i)new\s+instructions?:`),
		regexp.MustCompile(`(?i)system\s*:`),
		regexp.MustCompile(`(?i)assistant\s*:`),
		regexp.MustCompile(`(?i)user\s*:`),
	}
)

// Sanitize neutralizes prompt-injection vectors in untrusted transcript
// text: fenced code blocks are replaced with a marker, instruction-like
// patterns with a neutral token, and the result is capped in length.
func Sanitize(text string) string {
	if text == "" {
		return ""
	}
	if runes := []rune(text); len(runes) > maxInputLength {
		text = string(runes[:maxInputLength])
	}

	text = codeBlockPattern.ReplaceAllString(text, "[code block removed]")
	for _, p := range injectionPatterns {
		text = p.ReplaceAllString(text, "[filtered]")
	}
	return strings.TrimSpace(text)
}
