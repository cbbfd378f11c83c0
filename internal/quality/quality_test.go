// SPDX-License-Identifier: MIT

package quality

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vodub/vodub/internal/engine/mt"
	mtmock "github.com/vodub/vodub/internal/engine/mt/mock"
)

func reportJSON(score int) string {
	return fmt.Sprintf(`{
  "overall_score": %d,
  "breakdown": {"accuracy": %d, "naturalness": %d, "dubbing_fit": %d, "consistency": %d},
  "issues": ["issue at score %d"],
  "recommendation": "%s"
}`, score, score, score, score, score, score, recommendForScore(score))
}

func TestParseReportValid(t *testing.T) {
	r, err := ParseReport(reportJSON(92))
	require.NoError(t, err)
	assert.Equal(t, 92, r.OverallScore)
	assert.Equal(t, Approved, r.Recommendation)
	assert.Equal(t, 92, r.Breakdown.Accuracy)
	assert.Len(t, r.Issues, 1)
}

func TestParseReportCodeFence(t *testing.T) {
	raw := "```json\n" + reportJSON(75) + "\n```"
	r, err := ParseReport(raw)
	require.NoError(t, err)
	assert.Equal(t, 75, r.OverallScore)
	assert.Equal(t, ReviewNeeded, r.Recommendation)
}

func TestParseReportTruncated(t *testing.T) {
	// Response cut off mid-way through the issues array.
	raw := `{"overall_score": 55, "breakdown": {"accuracy": 50, "naturalness": 60, "dubbing_fit": 55, "consistency": 58}, "issues": ["first issue", "second iss`
	r, err := ParseReport(raw)
	require.NoError(t, err)
	assert.Equal(t, 55, r.OverallScore)
	assert.Equal(t, 50, r.Breakdown.Accuracy)
	assert.Equal(t, Reject, r.Recommendation)
}

func TestParseReportGarbage(t *testing.T) {
	_, err := ParseReport("I cannot evaluate this translation.")
	require.Error(t, err)
}

func TestParseReportMissingBreakdownDefaults(t *testing.T) {
	r, err := ParseReport(`{"overall_score": 70}`)
	require.NoError(t, err)
	assert.Equal(t, 70, r.Breakdown.Accuracy)
	assert.Equal(t, 70, r.Breakdown.Consistency)
	assert.Equal(t, ReviewNeeded, r.Recommendation)
}

func TestRepairJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"trailing comma", `{"a": 1, "b": [1, 2,],}`},
		{"unterminated string", `{"a": "hello`},
		{"unclosed object", `{"a": {"b": 1}`},
		{"unclosed array", `{"a": [1, 2`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fixed, ok := RepairJSON(tc.in)
			assert.True(t, ok, "repaired output still invalid: %s", fixed)
		})
	}
}

func TestExtractTerms(t *testing.T) {
	original := "Dr. Smith measured 42.5 degrees on 2024-01-15 using the MRI scanner."

	terms := ExtractTerms(original, "ko")
	assert.Contains(t, terms, "42.5")
	assert.Contains(t, terms, "2024-01-15")
	assert.Contains(t, terms, "Smith")
	assert.Contains(t, terms, "MRI")

	// Latin-script target: bare ASCII runs are expected to be
	// translated, only numbers and proper nouns count.
	latin := ExtractTerms("the disc was herniated by 3 mm", "en")
	assert.Contains(t, latin, "3")
	assert.NotContains(t, latin, "disc")
}

func TestCheckPreservation(t *testing.T) {
	original := "Smith reported 42 cases."
	good := "스미스(Smith)는 42건의 사례를 보고했습니다."
	tp := CheckPreservation(original, good, "ko")
	assert.GreaterOrEqual(t, tp.Score, 0.5)

	bad := "보고된 사례가 있습니다."
	tp = CheckPreservation(original, bad, "ko")
	assert.Less(t, tp.Score, 0.30)
	assert.NotEmpty(t, tp.Missing)
}

func TestApplyPreservationForcesReject(t *testing.T) {
	r := &Report{OverallScore: 95, Recommendation: Approved}
	ApplyPreservation(r, TermPreservation{Score: 0.2, Missing: []string{"42"}})
	assert.Equal(t, Reject, r.Recommendation)
	assert.Equal(t, 95, r.OverallScore, "score itself is untouched")

	r = &Report{OverallScore: 95, Recommendation: Approved}
	ApplyPreservation(r, TermPreservation{Score: 0.9})
	assert.Equal(t, Approved, r.Recommendation)
}

func TestEvaluateDualAverage(t *testing.T) {
	p := &mtmock.Provider{Script: []mtmock.Response{{Text: reportJSON(90)}}}
	e := NewEvaluator(p)

	r, err := e.Evaluate(context.Background(), "안녕하세요 세계", "hello world", "ko", "en")
	require.NoError(t, err)
	assert.Equal(t, 90, r.OverallScore)
	assert.Equal(t, 2, r.Evaluations)
	assert.Equal(t, Approved, r.Recommendation)
	assert.False(t, r.Sampled)
	assert.Equal(t, 2, p.CallCount())
}

func TestEvaluateDisagreementUsesMedian(t *testing.T) {
	p := &mtmock.Provider{Script: []mtmock.Response{
		{Text: reportJSON(90)},
		{Text: reportJSON(60)},
		{Text: reportJSON(80)},
	}}
	e := NewEvaluator(p)

	r, err := e.Evaluate(context.Background(), "안녕하세요 세계", "hello world", "ko", "en")
	require.NoError(t, err)
	assert.Equal(t, 80, r.OverallScore, "delta >= 20 triggers a third call, median wins")
	assert.Equal(t, 3, r.Evaluations)
	assert.Equal(t, 3, p.CallCount())
}

func TestEvaluateQuotaFallsBackToSecondary(t *testing.T) {
	primary := &mtmock.Provider{
		Name:   "gemini",
		Script: []mtmock.Response{{Err: fmt.Errorf("429 resource exhausted")}},
	}
	secondary := &mtmock.Provider{
		Name:   "groq",
		Script: []mtmock.Response{{Text: reportJSON(88)}},
	}
	e := NewEvaluator(primary, secondary)

	r, err := e.Evaluate(context.Background(), "안녕하세요 세계", "hello world", "ko", "en")
	require.NoError(t, err)
	assert.Equal(t, 88, r.OverallScore)
	assert.Equal(t, 2, secondary.CallCount())
}

func TestEvaluateAllProvidersFail(t *testing.T) {
	p := &mtmock.Provider{Script: []mtmock.Response{{Err: fmt.Errorf("429 quota")}}}
	e := NewEvaluator(p)

	_, err := e.Evaluate(context.Background(), "안녕", "hello", "ko", "en")
	require.Error(t, err)
}

func TestEvaluateSamplesLongText(t *testing.T) {
	long := strings.Repeat("All work and no play makes a dull translation. ", 300)
	require.Greater(t, len(long), sampleLimit)

	p := &mtmock.Provider{Script: []mtmock.Response{{Text: reportJSON(90)}}}
	e := NewEvaluator(p)

	r, err := e.Evaluate(context.Background(), long, long, "en", "ko")
	require.NoError(t, err)
	assert.True(t, r.Sampled)

	// The prompt carries the sampled windows, not the full text.
	require.NotEmpty(t, p.Calls)
	assert.Contains(t, p.Calls[0].Prompt, "[...]")
	assert.Less(t, len(p.Calls[0].Prompt), 2*len(long))
}

func TestSampleText(t *testing.T) {
	long := strings.Repeat("x", 30000)
	s, sampled := sampleText(long)
	assert.True(t, sampled)
	assert.Less(t, len(s), 3*sampleWindow+20)
	assert.Contains(t, s, "[...]")

	short := "short text"
	s, sampled = sampleText(short)
	assert.False(t, sampled)
	assert.Equal(t, short, s)
}

func TestSampleTextCutsOnRuneBoundaries(t *testing.T) {
	long := strings.Repeat("한", 30000)
	require.Greater(t, len(long), 3*len("한")*sampleWindow)

	s, sampled := sampleText(long)
	assert.True(t, sampled)
	assert.True(t, utf8.ValidString(s))
	assert.Equal(t, 3*sampleWindow, strings.Count(s, "한"))
}

func TestEvaluateSampledFlagRequiresReplacement(t *testing.T) {
	// Combined size trips the threshold but neither text is long
	// enough for windowing on its own; both go through whole and the
	// report must not claim sampling.
	text := strings.Repeat("가", 6000)
	require.Less(t, utf8.RuneCountInString(text), sampleLimit)

	p := &mtmock.Provider{Script: []mtmock.Response{{Text: reportJSON(90)}}}
	e := NewEvaluator(p)

	r, err := e.Evaluate(context.Background(), text, text, "ko", "en")
	require.NoError(t, err)
	assert.False(t, r.Sampled)
	require.NotEmpty(t, p.Calls)
	assert.NotContains(t, p.Calls[0].Prompt, "[...]")
}

func TestEvaluateSelfRepair(t *testing.T) {
	// First response per round is garbage; the repair round returns
	// valid JSON.
	p := &mtmock.Provider{CompleteFn: func(_ context.Context, req mt.Request) (string, error) {
		if strings.Contains(req.Prompt, "malformed") {
			return reportJSON(86), nil
		}
		return "Sure! Here is my evaluation of the translation.", nil
	}}
	e := NewEvaluator(p)

	r, err := e.Evaluate(context.Background(), "안녕하세요 세계", "hello world", "ko", "en")
	require.NoError(t, err)
	assert.Equal(t, 86, r.OverallScore)
}

func TestEvalOnceRepairHonorsCancelledContext(t *testing.T) {
	// The repair round goes through the same paced call path as every
	// other provider call, so a cancelled context stops it before the
	// request is issued.
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	p := &mtmock.Provider{CompleteFn: func(context.Context, mt.Request) (string, error) {
		calls++
		cancel()
		return "not json", nil
	}}
	e := NewEvaluator(p)

	_, err := e.evalOnce(ctx, "prompt")
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDegradedReport(t *testing.T) {
	r := DegradedReport("all evaluators unavailable")
	assert.Equal(t, 0, r.OverallScore)
	assert.Equal(t, Reject, r.Recommendation)
	assert.Contains(t, r.Issues, "all evaluators unavailable")
}

func TestMedian3(t *testing.T) {
	assert.Equal(t, 80, median3(90, 60, 80))
	assert.Equal(t, 80, median3(80, 80, 10))
	assert.Equal(t, 50, median3(50, 50, 50))
}
