// SPDX-License-Identifier: MIT

package translate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vodub/vodub/internal/jobs"
)

// languageNames maps codes to the full names used in prompts.
var languageNames = map[string]string{
	"en": "English", "ko": "Korean", "ja": "Japanese",
	"zh": "Chinese", "ru": "Russian", "es": "Spanish",
	"fr": "French", "de": "German", "it": "Italian",
	"pt": "Portuguese", "nl": "Dutch", "pl": "Polish",
	"tr": "Turkish", "vi": "Vietnamese", "th": "Thai",
	"ar": "Arabic", "hi": "Hindi", "auto": "detected language",
}

// LanguageName returns the full prompt name for a language code.
func LanguageName(code string) string {
	if n, ok := languageNames[code]; ok {
		return n
	}
	return code
}

type fewShot struct {
	source string
	target string
}

// fewShotExamples anchor output quality for the common language pairs.
var fewShotExamples = map[[2]string]fewShot{
	{"ko", "ru"}: {
		source: "이 증상이 계속되면 디스크가 바깥쪽으로 밀려나오게 됩니다.",
		target: "Если эти симптомы будут продолжаться, диск начнёт выпячиваться наружу.",
	},
	{"ko", "en"}: {
		source: "목을 숙이는 자세를 반복하면 섬유륜에 상처가 발생합니다.",
		target: "Repeatedly tilting your head forward can cause damage to the annulus fibrosus.",
	},
	{"en", "ko"}: {
		source: "Repeatedly tilting your head forward can cause damage to the annulus fibrosus.",
		target: "목을 앞으로 숙이는 자세를 반복하면 섬유륜에 손상이 발생할 수 있습니다.",
	},
	{"en", "ru"}: {
		source: "This condition is known as a herniated disc in the cervical spine.",
		target: "Это состояние известно как грыжа межпозвоночного диска шейного отдела позвоночника.",
	},
}

// languageInstructions returns target-language rules, including
// register mapping for the source language where relevant.
func languageInstructions(targetLang, sourceLang string) string {
	var out []string
	switch targetLang {
	case "ko":
		out = append(out, "- Use natural spoken Korean (구어체). Maintain polite speech level (존댓말) unless the source is clearly casual.")
		switch sourceLang {
		case "ja":
			out = append(out, "- Preserve the honorific/politeness level from the Japanese source.")
		case "ru":
			out = append(out, "- Translate Russian formal/informal register (ты/Вы) to matching Korean speech level (반말/존댓말).")
		}
	case "ru":
		out = append(out, "- Ensure correct grammatical case and gender agreement throughout.")
		switch sourceLang {
		case "ko":
			out = append(out, "- Map Korean speech levels (존댓말/반말) to appropriate Russian register (Вы/ты).")
		case "ja":
			out = append(out, "- Map Japanese politeness levels (敬語/丁寧語/普通体) to appropriate Russian register (Вы/ты).")
		}
	case "ja":
		out = append(out, "- Use appropriate politeness level (敬語/丁寧語/普通体) matching the source tone.")
		if sourceLang == "ko" {
			out = append(out, "- Map Korean speech levels (존댓말/반말) to matching Japanese politeness (丁寧語/普通体).")
		}
	}
	return strings.Join(out, "\n")
}

// BuildSystemPrompt composes the translation system prompt for a
// language pair and sync mode.
func BuildSystemPrompt(sourceLang, targetLang string, syncMode jobs.SyncMode) string {
	constraint := "Translate COMPLETELY. Every sentence, detail, and nuance must be preserved. Do NOT summarize."
	if syncMode == jobs.SyncSpeed {
		constraint = "Translate concisely. Preserve ALL meaning without unnecessary filler."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are a professional %s-to-%s video dubbing translator.\n\nRULES:\n- %s\n",
		LanguageName(sourceLang), LanguageName(targetLang), constraint)
	b.WriteString("- Translate ALL medical/technical terms accurately.\n")
	b.WriteString("- Keep the original speaker's perspective (1st person stays 1st person).\n")
	b.WriteString("- Match the original tone (professional/casual/humorous).\n")
	b.WriteString("- NEVER leave a sentence incomplete or cut off.\n")
	b.WriteString("- Do NOT add explanations. Output ONLY the JSON array described below.")

	if li := languageInstructions(targetLang, sourceLang); li != "" {
		b.WriteString("\n")
		b.WriteString(li)
	}
	if ex, ok := fewShotExamples[[2]string{sourceLang, targetLang}]; ok {
		fmt.Fprintf(&b, "\n\nEXAMPLE:\nInput: %s\nOutput: %s", ex.source, ex.target)
	}
	return b.String()
}

// BuildChunkPrompt wraps the sanitized segment texts in content
// delimiters and states the aligned JSON array contract.
func BuildChunkPrompt(segments []string) string {
	numbered, _ := json.MarshalIndent(segments, "", "  ")

	var b strings.Builder
	fmt.Fprintf(&b, "Translate each of the following %d segments.\n\n", len(segments))
	b.WriteString("<segments>\n")
	b.Write(numbered)
	b.WriteString("\n</segments>\n\n")
	fmt.Fprintf(&b, "Respond with ONLY a JSON array of exactly %d strings, one translation per input segment, in the same order. No markdown, no commentary.", len(segments))
	return b.String()
}

// BuildRefinePrompt composes the refinement request from the evaluator
// findings.
func BuildRefinePrompt(sourceLang, targetLang string, originals, previous []string, issues []string, syncMode jobs.SyncMode) string {
	if len(issues) > 10 {
		issues = issues[:10]
	}
	constraint := "Provide a complete and accurate translation without omitting any content."
	if syncMode == jobs.SyncSpeed {
		constraint = "Translate concisely without unnecessary filler. Preserve all original meaning."
	}

	origJSON, _ := json.MarshalIndent(originals, "", "  ")
	prevJSON, _ := json.MarshalIndent(previous, "", "  ")

	var b strings.Builder
	b.WriteString("The previous translation had these issues:\n")
	for _, issue := range issues {
		fmt.Fprintf(&b, "- %s\n", issue)
	}
	fmt.Fprintf(&b, "\n%s\n\n", constraint)
	b.WriteString("Fix these issues:\n")
	b.WriteString("- Accuracy problems: fix mistranslations, restore omitted content.\n")
	b.WriteString("- Naturalness: rephrase to sound native.\n")
	b.WriteString("- Dubbing fit: adjust length without losing meaning.\n")
	b.WriteString("- Consistency: unify terminology and tone.\n")
	if li := languageInstructions(targetLang, sourceLang); li != "" {
		fmt.Fprintf(&b, "%s\n", li)
	}
	fmt.Fprintf(&b, "\nOriginal segments (%s):\n<segments>\n%s\n</segments>\n", LanguageName(sourceLang), origJSON)
	fmt.Fprintf(&b, "\nPrevious translation (%s):\n<segments>\n%s\n</segments>\n", LanguageName(targetLang), prevJSON)
	fmt.Fprintf(&b, "\nRespond with ONLY a JSON array of exactly %d improved translations, same order. No markdown, no commentary.", len(originals))
	return b.String()
}

// refineSystemPrompt is the system message for refinement calls.
func refineSystemPrompt(sourceLang, targetLang string) string {
	return fmt.Sprintf("You are a professional %s-to-%s translation refiner for video dubbing.\nFix the identified issues while preserving all content. Output ONLY the improved JSON array.",
		LanguageName(sourceLang), LanguageName(targetLang))
}
