// SPDX-License-Identifier: MIT

// Package translate turns a timestamped transcript into target-language
// text chunk by chunk, with prompt-injection sanitation, a strict JSON
// alignment contract, and an evaluator-driven refinement loop.
package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/vodub/vodub/internal/engine"
	"github.com/vodub/vodub/internal/engine/mt"
	"github.com/vodub/vodub/internal/engine/stt"
	"github.com/vodub/vodub/internal/jobs"
	"github.com/vodub/vodub/internal/log"
	"github.com/vodub/vodub/internal/metrics"
	"github.com/vodub/vodub/internal/quality"
)

const (
	// truncationRatio flags a suspiciously short translation: below
	// this fraction of the source length the chunk is retried once.
	truncationRatio = 0.4

	// refinementGuardRatio rejects a refinement that shrank the text
	// below this fraction of the previous round.
	refinementGuardRatio = 0.5
)

// ProviderSource resolves an engine id to a live provider. Satisfied by
// engine.Registry.
type ProviderSource interface {
	MT(id string) (mt.Provider, error)
}

// Verifier scores a translation pair. Satisfied by quality.Evaluator.
type Verifier interface {
	Evaluate(ctx context.Context, original, translated, sourceLang, targetLang string) (*quality.Report, error)
}

// Cache memoizes chunk translations across jobs. Implementations gate
// Lookup on a stored quality floor.
type Cache interface {
	Lookup(source, sourceLang, targetLang string, mode jobs.SyncMode) ([]string, bool)
	Store(source, sourceLang, targetLang string, mode jobs.SyncMode, translations []string, score int)
}

// SegmentResult pairs one source segment with its translation. Timing
// fields carry over untouched for the assembler.
type SegmentResult struct {
	Segment stt.Segment
	Text    string
}

// Result is the outcome of translating a whole transcript.
type Result struct {
	Segments []SegmentResult

	// Report aggregates the per-chunk evaluations. Nil when verify was
	// off or every evaluator was unavailable (failed-soft).
	Report *quality.Report

	// ReviewNeeded is set when any chunk stayed below the quality
	// threshold after all refinement rounds.
	ReviewNeeded bool
}

// Text joins the translated segments with single spaces.
func (r *Result) Text() string {
	parts := make([]string, len(r.Segments))
	for i, s := range r.Segments {
		parts[i] = s.Text
	}
	return strings.Join(parts, " ")
}

// Translator drives chunked translation through the engine fallback
// chain.
type Translator struct {
	resolver *engine.Resolver
	source   ProviderSource
	verifier Verifier
	cache    Cache

	minScore   int
	maxRefines int
}

// Option configures a Translator.
type Option func(*Translator)

// WithVerifier attaches the quality evaluator used by the refine loop.
func WithVerifier(v Verifier) Option {
	return func(t *Translator) { t.verifier = v }
}

// WithCache attaches a translation cache.
func WithCache(c Cache) Option {
	return func(t *Translator) { t.cache = c }
}

// WithMinScore overrides the acceptance threshold (default 85).
func WithMinScore(score int) Option {
	return func(t *Translator) { t.minScore = score }
}

// New creates a Translator resolving providers through source.
func New(resolver *engine.Resolver, source ProviderSource, opts ...Option) *Translator {
	t := &Translator{
		resolver:   resolver,
		source:     source,
		minScore:   85,
		maxRefines: 3,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Progress is called after each chunk completes.
type Progress func(done, total int)

// Translate translates the whole transcript. Cancellation is observed
// between chunks and before each network call through ctx.
func (t *Translator) Translate(ctx context.Context, transcript *stt.Transcript, settings jobs.Settings, progress Progress) (*Result, error) {
	chunks := BuildChunks(transcript.Segments)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("translate: transcript has no usable segments")
	}

	logger := log.WithComponentFromContext(ctx, "translate")
	logger.Info().
		Int("chunks", len(chunks)).
		Str("source", settings.SourceLang).
		Str("target", settings.TargetLang).
		Msg("starting chunked translation")

	engineSettings := engine.Settings{
		TranslateEngine: settings.TranslationEngine,
		SourceLang:      settings.SourceLang,
		TargetLang:      settings.TargetLang,
	}
	chain := t.resolver.Resolve(engine.StageTranslate, engineSettings)

	result := &Result{}
	var reports []*quality.Report

	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		translated, report, err := t.translateChunk(ctx, chunk, chain, settings)
		if err != nil {
			return nil, fmt.Errorf("translate: chunk %d/%d: %w", i+1, len(chunks), err)
		}
		for j, seg := range chunk.Segments {
			result.Segments = append(result.Segments, SegmentResult{Segment: seg, Text: translated[j]})
		}
		if report != nil {
			reports = append(reports, report)
			if report.OverallScore < t.minScore {
				result.ReviewNeeded = true
			}
		}
		if progress != nil {
			progress(i+1, len(chunks))
		}
	}

	result.Report = aggregate(reports)
	if result.ReviewNeeded && result.Report != nil && result.Report.Recommendation == quality.Approved {
		result.Report.Recommendation = quality.ReviewNeeded
	}
	return result, nil
}

// translateChunk runs one chunk through cache, the fallback chain, and
// (when verification is on) the refine loop.
func (t *Translator) translateChunk(ctx context.Context, chunk Chunk, chain []engine.Spec, settings jobs.Settings) ([]string, *quality.Report, error) {
	sources := make([]string, len(chunk.Segments))
	for i, seg := range chunk.Segments {
		sources[i] = Sanitize(seg.Text)
	}
	joinedSource := strings.Join(sources, "\n")

	if t.cache != nil {
		if cached, ok := t.cache.Lookup(joinedSource, settings.SourceLang, settings.TargetLang, settings.SyncMode); ok && len(cached) == len(sources) {
			metrics.CacheHits.WithLabelValues("hit").Inc()
			return cached, nil, nil
		}
		metrics.CacheHits.WithLabelValues("miss").Inc()
	}

	system := BuildSystemPrompt(settings.SourceLang, settings.TargetLang, settings.SyncMode)
	prompt := BuildChunkPrompt(sources)

	translated, provider, err := t.callChain(ctx, chain, system, prompt, len(sources), len(joinedSource))
	if err != nil {
		return nil, nil, err
	}

	var report *quality.Report
	if settings.VerifyTranslation && t.verifier != nil {
		translated, report = t.refineLoop(ctx, provider, sources, translated, settings)
	}

	if t.cache != nil {
		score := 100
		if report != nil {
			score = report.OverallScore
		}
		t.cache.Store(joinedSource, settings.SourceLang, settings.TargetLang, settings.SyncMode, translated, score)
	}
	return translated, report, nil
}

// callChain walks the fallback chain until one engine produces a
// parseable, non-truncated aligned array. It returns the provider that
// succeeded so refinement can stay on the same engine.
func (t *Translator) callChain(ctx context.Context, chain []engine.Spec, system, prompt string, want, sourceLen int) ([]string, mt.Provider, error) {
	logger := log.WithComponentFromContext(ctx, "translate")
	var lastErr error

	for _, spec := range chain {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		provider, err := t.source.MT(spec.ID)
		if err != nil {
			lastErr = err
			continue
		}

		translated, err := t.callOnce(ctx, provider, system, prompt, want)
		if err != nil {
			outcome := "error"
			if engine.IsQuota(err) {
				outcome = "quota"
				logger.Warn().Str("engine", spec.ID).Msg("quota exhausted, advancing chain")
			} else {
				logger.Warn().Str("engine", spec.ID).Err(err).Msg("translation engine failed")
			}
			metrics.EngineCalls.WithLabelValues(spec.ID, outcome).Inc()
			lastErr = fmt.Errorf("engine %s: %w", spec.ID, err)
			continue
		}
		metrics.EngineCalls.WithLabelValues(spec.ID, "ok").Inc()

		// A translation far shorter than its source usually means the
		// model summarized or stopped early. One retry, keep the longer.
		if totalLen(translated) < int(float64(sourceLen)*truncationRatio) {
			logger.Warn().Str("engine", spec.ID).Msg("translation suspiciously short, retrying once")
			if again, err := t.callOnce(ctx, provider, system, prompt, want); err == nil && totalLen(again) > totalLen(translated) {
				translated = again
			}
		}
		return translated, provider, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no translation engines available")
	}
	return nil, nil, lastErr
}

// callOnce performs one aligned-array completion against one provider,
// including mechanical JSON repair.
func (t *Translator) callOnce(ctx context.Context, provider mt.Provider, system, prompt string, want int) ([]string, error) {
	var raw string
	err := engine.CallPaced(ctx, provider.ID(), func() error {
		var callErr error
		raw, callErr = provider.Complete(ctx, mt.Request{
			System:      system,
			Prompt:      prompt,
			Temperature: 0.3,
		})
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return parseAligned(raw, want)
}

// refineLoop evaluates and iteratively refines one chunk. It never
// fails the chunk: evaluator outages keep the unverified translation
// (report nil), and a chunk still under threshold after all rounds is
// surfaced through the report's recommendation.
func (t *Translator) refineLoop(ctx context.Context, provider mt.Provider, sources, translated []string, settings jobs.Settings) ([]string, *quality.Report) {
	logger := log.WithComponentFromContext(ctx, "translate")
	joinedSource := strings.Join(sources, "\n")

	report, err := t.verifier.Evaluate(ctx, joinedSource, strings.Join(translated, "\n"), settings.SourceLang, settings.TargetLang)
	if err != nil {
		logger.Warn().Err(err).Msg("evaluation unavailable, keeping unverified translation")
		return translated, nil
	}

	rounds := 0
	for report.OverallScore < t.minScore && rounds < t.maxRefines {
		if ctx.Err() != nil {
			break
		}
		rounds++
		logger.Info().
			Int("round", rounds).
			Int("score", report.OverallScore).
			Msg("refining translation")

		prompt := BuildRefinePrompt(settings.SourceLang, settings.TargetLang, sources, translated, report.Issues, settings.SyncMode)
		refined, err := t.callOnce(ctx, provider, refineSystemPrompt(settings.SourceLang, settings.TargetLang), prompt, len(sources))
		if err != nil {
			logger.Warn().Err(err).Int("round", rounds).Msg("refinement call failed, keeping previous translation")
			break
		}
		if totalLen(refined) < int(float64(totalLen(translated))*refinementGuardRatio) {
			logger.Warn().Int("round", rounds).Msg("refinement dropped too much text, discarding")
			break
		}
		translated = refined

		next, err := t.verifier.Evaluate(ctx, joinedSource, strings.Join(translated, "\n"), settings.SourceLang, settings.TargetLang)
		if err != nil {
			logger.Warn().Err(err).Msg("re-evaluation unavailable, accepting refined translation")
			break
		}
		report = next
	}
	report.RefineRounds = rounds
	if report.OverallScore < t.minScore && report.Recommendation == quality.Approved {
		report.Recommendation = quality.ReviewNeeded
	}
	return translated, report
}

var thinkTags = regexp.MustCompile(`(?s)<think>.*?</think>`)

// parseAligned decodes a model response into exactly want strings.
func parseAligned(raw string, want int) ([]string, error) {
	raw = strings.TrimSpace(thinkTags.ReplaceAllString(raw, ""))
	text, ok := quality.RepairJSON(raw)
	if !ok {
		return nil, fmt.Errorf("response is not valid JSON")
	}
	var out []string
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, fmt.Errorf("response is not a string array: %w", err)
	}
	if len(out) != want {
		return nil, fmt.Errorf("alignment mismatch: got %d segments, want %d", len(out), want)
	}
	for i := range out {
		out[i] = strings.TrimSpace(out[i])
	}
	return out, nil
}

func totalLen(ss []string) int {
	n := 0
	for _, s := range ss {
		n += len(s)
	}
	return n
}

// aggregate merges per-chunk reports into one job-level report.
func aggregate(reports []*quality.Report) *quality.Report {
	if len(reports) == 0 {
		return nil
	}
	out := &quality.Report{Recommendation: quality.Approved}
	seen := make(map[string]bool)
	var tpSum float64
	for _, r := range reports {
		out.OverallScore += r.OverallScore
		out.Breakdown.Accuracy += r.Breakdown.Accuracy
		out.Breakdown.Naturalness += r.Breakdown.Naturalness
		out.Breakdown.DubbingFit += r.Breakdown.DubbingFit
		out.Breakdown.Consistency += r.Breakdown.Consistency
		tpSum += r.TermPreservation.Score
		out.TermPreservation.Missing = append(out.TermPreservation.Missing, r.TermPreservation.Missing...)
		for _, issue := range r.Issues {
			if !seen[issue] {
				seen[issue] = true
				out.Issues = append(out.Issues, issue)
			}
		}
		if worse(r.Recommendation, out.Recommendation) {
			out.Recommendation = r.Recommendation
		}
		if r.RefineRounds > out.RefineRounds {
			out.RefineRounds = r.RefineRounds
		}
		if r.Sampled {
			out.Sampled = true
		}
		out.Evaluations += r.Evaluations
	}
	n := len(reports)
	out.OverallScore = (out.OverallScore + n/2) / n
	out.Breakdown.Accuracy = (out.Breakdown.Accuracy + n/2) / n
	out.Breakdown.Naturalness = (out.Breakdown.Naturalness + n/2) / n
	out.Breakdown.DubbingFit = (out.Breakdown.DubbingFit + n/2) / n
	out.Breakdown.Consistency = (out.Breakdown.Consistency + n/2) / n
	out.TermPreservation.Score = tpSum / float64(n)
	return out
}

func worse(a, b quality.Recommendation) bool {
	rank := map[quality.Recommendation]int{
		quality.Approved:     0,
		quality.ReviewNeeded: 1,
		quality.Reject:       2,
	}
	return rank[a] > rank[b]
}
