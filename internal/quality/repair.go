// SPDX-License-Identifier: MIT

package quality

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// StripCodeFence removes a surrounding markdown code fence from a model
// response. Models frequently wrap JSON in ```json blocks despite being
// told not to.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.IndexByte(s, '\n'); idx >= 0 {
			s = s[idx+1:]
		} else {
			s = strings.TrimPrefix(s, "```json")
			s = strings.TrimPrefix(s, "```")
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

var trailingComma = regexp.MustCompile(`,\s*([}\]])`)

// RepairJSON applies a bounded set of mechanical fixes to a truncated
// or sloppy JSON document: close an unterminated string, balance
// brackets by depth, trim trailing commas. It reports whether the
// result parses.
func RepairJSON(s string) (string, bool) {
	s = StripCodeFence(s)
	if json.Valid([]byte(s)) {
		return s, true
	}

	// Close an unterminated string literal.
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		}
	}
	if inString {
		s += `"`
	}

	// Balance brackets by depth, ignoring bracket characters inside
	// strings.
	var stack []byte
	inString = false
	escaped = false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		if inString {
			switch c {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	s = strings.TrimRight(s, " \t\r\n")
	s = strings.TrimSuffix(s, ",")
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			s += "}"
		} else {
			s += "]"
		}
	}

	s = trailingComma.ReplaceAllString(s, "$1")
	return s, json.Valid([]byte(s))
}

// reportPayload mirrors the JSON shape the evaluator model is asked to
// emit.
type reportPayload struct {
	OverallScore   int       `json:"overall_score"`
	Breakdown      Breakdown `json:"breakdown"`
	Issues         []string  `json:"issues"`
	Recommendation string    `json:"recommendation"`
}

var (
	scoreField = regexp.MustCompile(`"overall_score"\s*:\s*(\d+)`)
	recField   = regexp.MustCompile(`"recommendation"\s*:\s*"(\w+)"`)
)

// ParseReport decodes an evaluator response into a Report, applying
// mechanical repair and a regex-based field recovery for truncated
// output. The returned error means the text is beyond mechanical
// recovery and a model self-repair round is warranted.
func ParseReport(raw string) (*Report, error) {
	text, ok := RepairJSON(raw)
	if ok {
		var p reportPayload
		if err := json.Unmarshal([]byte(text), &p); err == nil && scoreField.MatchString(text) {
			return fromPayload(p), nil
		}
	}

	// Last resort: pull individual fields out of the wreckage.
	m := scoreField.FindStringSubmatch(raw)
	if m == nil {
		return nil, fmt.Errorf("quality: response has no overall_score field")
	}
	score, _ := strconv.Atoi(m[1])
	p := reportPayload{OverallScore: score}
	for key, dst := range map[string]*int{
		"accuracy":    &p.Breakdown.Accuracy,
		"naturalness": &p.Breakdown.Naturalness,
		"dubbing_fit": &p.Breakdown.DubbingFit,
		"consistency": &p.Breakdown.Consistency,
	} {
		re := regexp.MustCompile(`"` + key + `"\s*:\s*(\d+)`)
		if fm := re.FindStringSubmatch(raw); fm != nil {
			*dst, _ = strconv.Atoi(fm[1])
		}
	}
	if rm := recField.FindStringSubmatch(raw); rm != nil {
		p.Recommendation = rm[1]
	}
	return fromPayload(p), nil
}

func fromPayload(p reportPayload) *Report {
	score := clampScore(p.OverallScore)
	b := p.Breakdown
	if b == (Breakdown{}) {
		b = Breakdown{Accuracy: score, Naturalness: score, DubbingFit: score, Consistency: score}
	}
	rec := Recommendation(p.Recommendation)
	switch rec {
	case Approved, ReviewNeeded, Reject:
	default:
		rec = recommendForScore(score)
	}
	return &Report{
		OverallScore:   score,
		Breakdown:      b,
		Issues:         p.Issues,
		Recommendation: rec,
	}
}

func clampScore(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}

func recommendForScore(score int) Recommendation {
	switch {
	case score >= 85:
		return Approved
	case score >= 60:
		return ReviewNeeded
	default:
		return Reject
	}
}

// DegradedReport is the failed-soft result used when every evaluation
// and repair attempt failed. Score 0, REJECT, the error preserved in
// the issues list.
func DegradedReport(reason string) *Report {
	return &Report{
		OverallScore:   0,
		Recommendation: Reject,
		Issues:         []string{reason},
	}
}
