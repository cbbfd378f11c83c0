// SPDX-License-Identifier: MIT

package quality

import "fmt"

var languageNames = map[string]string{
	"en": "English", "ko": "Korean", "ja": "Japanese",
	"zh": "Chinese", "ru": "Russian", "es": "Spanish",
	"fr": "French", "de": "German", "it": "Italian",
	"pt": "Portuguese", "nl": "Dutch", "pl": "Polish",
	"tr": "Turkish", "vi": "Vietnamese", "th": "Thai",
	"ar": "Arabic", "hi": "Hindi", "auto": "Auto-detected",
}

func langName(code string) string {
	if n, ok := languageNames[code]; ok {
		return n
	}
	return code
}

func evalLangNotes(targetLang string) string {
	switch targetLang {
	case "ko":
		return `
Additional criteria for Korean:
- Sentence endings should sound natural and spoken, not literary.
- Polite speech level (존댓말) should be consistent unless the source is casual.
- Dubbing fit: Korean is often shorter than English; check if padding feels forced.`
	case "ru":
		return `
Additional criteria for Russian:
- Grammatical case and gender agreement must be correct.
- Formal/informal register (ты/Вы) should match the source tone.`
	case "ja":
		return `
Additional criteria for Japanese:
- Politeness level (敬語/丁寧語/普通体) should match the source tone.
- Sentence-final particles should sound natural for spoken Japanese.`
	}
	return ""
}

func buildEvalPrompt(original, translated, sourceLang, targetLang string) string {
	srcName := langName(sourceLang)
	tgtName := langName(targetLang)

	return fmt.Sprintf(`You are a strict translation quality evaluator for video dubbing.

Evaluate the following %s → %s translation.

Original (%s):
%s

Translation (%s):
%s

SCORING RUBRIC (be strict and consistent):

1. Accuracy (40%% weight):
   - 90-100: Every sentence fully translated, no omissions, no mistranslations
   - 70-89: Minor inaccuracies but all sentences present
   - 50-69: Some sentences missing or significantly mistranslated
   - Below 50: Major omissions or incomplete sentences (e.g. sentence cut off mid-word)
   CRITICAL: If ANY sentence is incomplete or cut off, accuracy MUST be 70 or below.

2. Naturalness (30%% weight):
   - 90-100: Sounds like a native speaker wrote it, natural spoken style
   - 70-89: Grammatically correct but slightly stiff or literal
   - 50-69: Awkward phrasing that a native would notice immediately
   - Below 50: Machine-translation quality, unnatural word order

3. Dubbing Fit (20%% weight):
   - 90-100: Length matches original, easy to speak aloud at natural pace
   - 70-89: Slightly longer/shorter but still speakable
   - 50-69: Noticeably too long or too short for the video timing
   - Below 50: Completely mismatched length

4. Consistency (10%% weight):
   - 90-100: Same terms and tone throughout, no contradictions
   - 70-89: Minor inconsistencies in terminology
   - Below 70: Different terms used for the same concept, tone shifts
%s

overall_score = accuracy*0.4 + naturalness*0.3 + dubbing_fit*0.2 + consistency*0.1

List ONLY actionable issues that can be fixed (max 5). Be specific: quote the problematic text.

Respond ONLY in this JSON format (no markdown, no code blocks):
{
  "overall_score": <1-100>,
  "breakdown": {
    "accuracy": <1-100>,
    "naturalness": <1-100>,
    "dubbing_fit": <1-100>,
    "consistency": <1-100>
  },
  "issues": ["issue1", "issue2"],
  "recommendation": "APPROVED" or "REVIEW_NEEDED" or "REJECT"
}`, srcName, tgtName, srcName, original, tgtName, translated, evalLangNotes(targetLang))
}
