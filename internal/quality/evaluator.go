// SPDX-License-Identifier: MIT

// Package quality scores translations for dubbing fitness and produces
// structured reports with per-criterion breakdowns.
package quality

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/vodub/vodub/internal/engine"
	"github.com/vodub/vodub/internal/engine/mt"
	"github.com/vodub/vodub/internal/log"
	"github.com/vodub/vodub/internal/metrics"
)

const (
	evalTemperature = 0.1
	evalMaxTokens   = 2048

	// sampleLimit is the combined rune count above which texts are
	// reduced to head/middle/tail windows before evaluation.
	sampleLimit  = 10000
	sampleWindow = 3333

	// medianDelta is the dual-score disagreement that triggers a third
	// evaluation.
	medianDelta = 20
)

// Evaluator scores translation pairs through an ordered chain of LLM
// providers. A quota rejection advances to the next provider.
type Evaluator struct {
	providers []mt.Provider
}

// NewEvaluator creates an evaluator over the given provider chain. The
// first provider is primary; the rest are quota fallbacks.
func NewEvaluator(providers ...mt.Provider) *Evaluator {
	return &Evaluator{providers: providers}
}

// Evaluate scores one translation. The returned error means every
// provider and repair attempt failed; callers treat that as failed-soft
// and keep the unverified translation.
func (e *Evaluator) Evaluate(ctx context.Context, original, translated, sourceLang, targetLang string) (*Report, error) {
	if len(e.providers) == 0 {
		return nil, fmt.Errorf("quality: no evaluator providers configured")
	}
	if strings.TrimSpace(original) == "" || strings.TrimSpace(translated) == "" {
		return nil, fmt.Errorf("quality: empty text")
	}

	sampled := false
	evalOriginal, evalTranslated := original, translated
	if utf8.RuneCountInString(original)+utf8.RuneCountInString(translated) > sampleLimit {
		var origSampled, transSampled bool
		evalOriginal, origSampled = sampleText(original)
		evalTranslated, transSampled = sampleText(translated)
		// The flag records that windows actually replaced text, not
		// merely that the combined size tripped the threshold.
		sampled = origSampled || transSampled
	}

	prompt := buildEvalPrompt(evalOriginal, evalTranslated, sourceLang, targetLang)

	// Two independent rounds at low temperature keep single-call
	// variance out of the score.
	reports := make([]*Report, 2)
	g, gctx := errgroup.WithContext(ctx)
	for i := range reports {
		g.Go(func() error {
			r, err := e.evalOnce(gctx, prompt)
			if err != nil {
				l := log.WithComponent("quality")
				l.Warn().Err(err).Msg("evaluation round failed")
				return nil // a single failed round is not fatal
			}
			reports[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var ok []*Report
	for _, r := range reports {
		if r != nil {
			ok = append(ok, r)
		}
	}
	if len(ok) == 0 {
		return nil, fmt.Errorf("quality: all evaluation rounds failed")
	}

	if len(ok) == 2 && abs(ok[0].OverallScore-ok[1].OverallScore) >= medianDelta {
		third, err := e.evalOnce(ctx, prompt)
		if err == nil {
			ok = append(ok, third)
		}
	}

	report := merge(ok)
	report.Sampled = sampled
	ApplyPreservation(report, CheckPreservation(original, translated, targetLang))
	metrics.QualityScore.Observe(float64(report.OverallScore))
	return report, nil
}

// evalOnce runs one evaluation round through the provider chain,
// including mechanical and model-assisted JSON repair.
func (e *Evaluator) evalOnce(ctx context.Context, prompt string) (*Report, error) {
	var lastErr error
	for _, p := range e.providers {
		var raw string
		err := engine.CallPaced(ctx, p.ID(), func() error {
			var callErr error
			raw, callErr = p.Complete(ctx, mt.Request{
				Prompt:      prompt,
				Temperature: evalTemperature,
				MaxTokens:   evalMaxTokens,
			})
			return callErr
		})
		if err != nil {
			outcome := "error"
			if engine.IsQuota(err) {
				outcome = "quota"
			}
			metrics.EngineCalls.WithLabelValues(p.ID(), outcome).Inc()
			lastErr = fmt.Errorf("evaluator %s: %w", p.ID(), err)
			continue
		}
		metrics.EngineCalls.WithLabelValues(p.ID(), "ok").Inc()

		report, err := ParseReport(raw)
		if err == nil {
			return report, nil
		}

		// One self-repair round: ask the model to fix its own output.
		var fixed string
		ferr := engine.CallPaced(ctx, p.ID(), func() error {
			var callErr error
			fixed, callErr = p.Complete(ctx, mt.Request{
				Prompt:      repairPrompt(raw),
				Temperature: evalTemperature,
				MaxTokens:   evalMaxTokens,
			})
			return callErr
		})
		if ferr == nil {
			if report, err := ParseReport(fixed); err == nil {
				return report, nil
			}
		}
		lastErr = fmt.Errorf("evaluator %s: unparseable response", p.ID())
	}
	return nil, lastErr
}

func merge(reports []*Report) *Report {
	if len(reports) == 1 {
		out := reports[0].Clone()
		out.Evaluations = 1
		return out
	}

	// Three reports means the first two disagreed; the median decides.
	if len(reports) == 3 {
		m := median3(reports[0].OverallScore, reports[1].OverallScore, reports[2].OverallScore)
		for _, r := range reports {
			if r.OverallScore == m {
				out := r.Clone()
				out.Evaluations = 3
				return out
			}
		}
	}

	n := len(reports)
	out := &Report{Evaluations: n}
	seen := make(map[string]bool)
	for _, r := range reports {
		out.OverallScore += r.OverallScore
		out.Breakdown.Accuracy += r.Breakdown.Accuracy
		out.Breakdown.Naturalness += r.Breakdown.Naturalness
		out.Breakdown.DubbingFit += r.Breakdown.DubbingFit
		out.Breakdown.Consistency += r.Breakdown.Consistency
		for _, issue := range r.Issues {
			key := strings.ToLower(strings.TrimSpace(issue))
			if len(key) > 80 {
				key = key[:80]
			}
			if !seen[key] {
				seen[key] = true
				out.Issues = append(out.Issues, issue)
			}
		}
	}
	out.OverallScore = (out.OverallScore + n/2) / n
	out.Breakdown.Accuracy = (out.Breakdown.Accuracy + n/2) / n
	out.Breakdown.Naturalness = (out.Breakdown.Naturalness + n/2) / n
	out.Breakdown.DubbingFit = (out.Breakdown.DubbingFit + n/2) / n
	out.Breakdown.Consistency = (out.Breakdown.Consistency + n/2) / n
	out.Recommendation = recommendForScore(out.OverallScore)
	return out
}

// sampleText reduces a long text to head, middle and tail windows with
// separator markers. Windows are cut on rune boundaries. The second
// return reports whether any reduction happened.
func sampleText(s string) (string, bool) {
	runes := []rune(s)
	if len(runes) <= sampleLimit {
		return s, false
	}
	head := string(runes[:sampleWindow])
	midStart := len(runes)/2 - sampleWindow/2
	mid := string(runes[midStart : midStart+sampleWindow])
	tail := string(runes[len(runes)-sampleWindow:])
	return head + "\n[...]\n" + mid + "\n[...]\n" + tail, true
}

func repairPrompt(raw string) string {
	return "The following text was supposed to be a valid JSON object but is malformed. " +
		"Fix it and respond with ONLY the corrected JSON, no markdown, no commentary:\n\n" + raw
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func median3(a, b, c int) int {
	if a > b {
		a, b = b, a
	}
	if b > c {
		b = c
	}
	if a > b {
		b = a
	}
	return b
}
