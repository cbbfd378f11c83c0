// SPDX-License-Identifier: MIT

// Package pipeline drives one dubbing job through its stages: extract,
// transcribe, translate (with optional verification), synthesize and
// merge. It owns cancellation checkpoints, progress accounting and
// error classification.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vodub/vodub/internal/audio"
	"github.com/vodub/vodub/internal/engine"
	"github.com/vodub/vodub/internal/engine/stt"
	"github.com/vodub/vodub/internal/engine/tts"
	"github.com/vodub/vodub/internal/gate"
	"github.com/vodub/vodub/internal/jobs"
	"github.com/vodub/vodub/internal/log"
	"github.com/vodub/vodub/internal/metrics"
	"github.com/vodub/vodub/internal/translate"
)

// MediaProcessor is the subprocess boundary the pipeline drives.
// Satisfied by media.Processor.
type MediaProcessor interface {
	ExtractAudio(ctx context.Context, videoPath, outWav string) error
	NormalizeAudio(ctx context.Context, audioPath, outWav string) error
	MergeAudio(ctx context.Context, videoPath, audioPath, outPath string, videoDuration float64) error
	MergeVideoStretch(ctx context.Context, videoPath, audioPath, outPath string, stretchFactor float64) error
	EncodeAudioOutput(ctx context.Context, audioPath, outPath string) error
	TimeStretchAudio(ctx context.Context, inWav, outWav string, factor float64) error
	ProbeDuration(ctx context.Context, path string) (float64, error)
	HasAudioStream(ctx context.Context, path string) (bool, error)
}

// Translator is the chunked translation front end. Satisfied by
// translate.Translator.
type Translator interface {
	Translate(ctx context.Context, transcript *stt.Transcript, settings jobs.Settings, progress translate.Progress) (*translate.Result, error)
}

// Config wires an Orchestrator.
type Config struct {
	Manager    *jobs.Manager
	Resolver   *engine.Resolver
	Registry   *engine.Registry
	Translator Translator
	Media      MediaProcessor
	Gate       *gate.Gate

	// WorkDir holds per-job intermediates; OutputDir the final
	// artifacts.
	WorkDir   string
	OutputDir string

	// SampleRate of the assembled track (default 16000).
	SampleRate int
}

// Orchestrator runs jobs. One instance serves all workers.
type Orchestrator struct {
	mgr        *jobs.Manager
	resolver   *engine.Resolver
	registry   *engine.Registry
	translator Translator
	media      MediaProcessor
	gpuGate    *gate.Gate
	workDir    string
	outputDir  string
	sampleRate int
}

// New creates an Orchestrator from cfg.
func New(cfg Config) *Orchestrator {
	sr := cfg.SampleRate
	if sr == 0 {
		sr = 16000
	}
	return &Orchestrator{
		mgr:        cfg.Manager,
		resolver:   cfg.Resolver,
		registry:   cfg.Registry,
		translator: cfg.Translator,
		media:      cfg.Media,
		gpuGate:    cfg.Gate,
		workDir:    cfg.WorkDir,
		outputDir:  cfg.OutputDir,
		sampleRate: sr,
	}
}

// stageWeight is one entry of the progress model.
type stageWeight struct {
	stage  jobs.Stage
	weight int
}

// stagePlan returns the weighted stage list; verify participates only
// when enabled, and the remaining weights are rescaled to 100.
func stagePlan(verify bool) []stageWeight {
	plan := []stageWeight{
		{jobs.StageExtract, 5},
		{jobs.StageTranscribe, 15},
		{jobs.StageTranslate, 25},
	}
	if verify {
		plan = append(plan, stageWeight{jobs.StageVerify, 15})
	}
	return append(plan,
		stageWeight{jobs.StageSynthesize, 25},
		stageWeight{jobs.StageMerge, 15},
	)
}

// span returns the [from,to] progress range of one stage, rescaled to
// 0-100.
func span(plan []stageWeight, stage jobs.Stage) (from, to int) {
	total := 0
	for _, sw := range plan {
		total += sw.weight
	}
	acc := 0
	for _, sw := range plan {
		if sw.stage == stage {
			return acc * 100 / total, (acc + sw.weight) * 100 / total
		}
		acc += sw.weight
	}
	return 100, 100
}

// jobRun carries the per-job state between stages.
type jobRun struct {
	id       string
	settings jobs.Settings
	input    string
	tempDir  string
	plan     []stageWeight

	audioOnly     bool
	videoDuration float64
	extractedWAV  string
	transcript    *stt.Transcript
	translation   *translate.Result
	trackWAV      string
	stretchFactor float64
}

// Run executes one job to a terminal status. It never returns an error
// to the caller; failures are recorded on the job itself.
func (o *Orchestrator) Run(ctx context.Context, id string) {
	view, err := o.mgr.Get(id)
	if err != nil {
		lg := log.WithComponent("pipeline")
		lg.Error().Err(err).Str("job_id", id).Msg("job vanished before start")
		return
	}

	ctx = log.ContextWithJobID(ctx, id)
	logger := log.WithComponentFromContext(ctx, "pipeline")

	run := &jobRun{
		id:       id,
		settings: view.Settings,
		input:    view.InputPath,
		plan:     stagePlan(view.Settings.VerifyTranslation),
	}

	run.tempDir, err = os.MkdirTemp(o.workDir, "job-"+id[:8]+"-*")
	if err != nil {
		o.fail(run, fmt.Errorf("create work dir: %w", err))
		return
	}

	if err := o.mgr.UpdateStatus(id, jobs.StatusProcessing); err != nil {
		logger.Warn().Err(err).Msg("job not startable")
		os.RemoveAll(run.tempDir)
		return
	}

	started := time.Now()
	err = o.execute(ctx, run)
	switch {
	case err == nil:
		o.mgr.AppendLog(id, "job completed")
		o.mgr.UpdateStatus(id, jobs.StatusCompleted)
		logger.Info().Dur("elapsed", time.Since(started)).Msg("job completed")
	case errors.Is(err, ErrCancelled):
		o.mgr.AppendLog(id, "job cancelled")
		o.mgr.UpdateStatus(id, jobs.StatusCancelled)
		logger.Info().Msg("job cancelled")
	default:
		o.fail(run, err)
	}

	// Intermediates go on every terminal transition; the output
	// artifact survives only on success.
	os.RemoveAll(run.tempDir)
}

func (o *Orchestrator) fail(run *jobRun, err error) {
	logger := log.WithComponent("pipeline")
	logger.Error().Err(err).Str("job_id", run.id).Msg("job failed")
	o.mgr.AppendLog(run.id, "error: "+err.Error())
	o.mgr.SetError(run.id, err.Error())
	o.mgr.UpdateStatus(run.id, jobs.StatusFailed)
}

// execute runs the stage sequence. Each stage begins with a
// cancellation checkpoint and ends with its cumulative progress mark.
func (o *Orchestrator) execute(ctx context.Context, run *jobRun) error {
	type stageFn struct {
		stage jobs.Stage
		fn    func(context.Context, *jobRun) error
	}
	sequence := []stageFn{
		{jobs.StageExtract, o.stageExtract},
		{jobs.StageTranscribe, o.stageTranscribe},
		{jobs.StageTranslate, o.stageTranslate},
		{jobs.StageSynthesize, o.stageSynthesize},
		{jobs.StageMerge, o.stageMerge},
	}

	for _, s := range sequence {
		if o.mgr.IsCancelled(run.id) {
			return ErrCancelled
		}
		if err := ctx.Err(); err != nil {
			return ErrCancelled
		}

		o.mgr.SetStage(run.id, s.stage)
		stageCtx := log.ContextWithStage(ctx, string(s.stage))
		started := time.Now()

		if err := s.fn(stageCtx, run); err != nil {
			return stageFailure(s.stage, err)
		}

		metrics.StageDuration.WithLabelValues(string(s.stage)).Observe(time.Since(started).Seconds())
		_, to := span(run.plan, s.stage)
		if s.stage == jobs.StageTranslate && run.settings.VerifyTranslation {
			// The refine loop runs inside translation; publish the
			// verify stage so pollers see it happened.
			o.mgr.SetStage(run.id, jobs.StageVerify)
			_, to = span(run.plan, jobs.StageVerify)
		}
		o.mgr.SetProgress(run.id, to)
	}
	return nil
}

// stageExtract probes the input and produces the 16 kHz mono WAV every
// later stage consumes. Audio-only inputs skip video handling.
func (o *Orchestrator) stageExtract(ctx context.Context, run *jobRun) error {
	dur, err := o.media.ProbeDuration(ctx, run.input)
	if err != nil {
		return fmt.Errorf("probe input: %w", err)
	}
	run.videoDuration = dur

	hasAudio, err := o.media.HasAudioStream(ctx, run.input)
	if err != nil {
		return fmt.Errorf("probe streams: %w", err)
	}
	if !hasAudio {
		return fmt.Errorf("input has no audio stream")
	}

	run.audioOnly = isAudioExtension(run.input)
	run.extractedWAV = filepath.Join(run.tempDir, "source.wav")

	o.mgr.AppendLog(run.id, "extracting audio")
	if run.audioOnly {
		err = o.media.NormalizeAudio(ctx, run.input, run.extractedWAV)
	} else {
		err = o.media.ExtractAudio(ctx, run.input, run.extractedWAV)
	}
	if err != nil {
		return err
	}
	return nil
}

// stageTranscribe walks the STT fallback chain. Local whisper runs
// under the GPU gate; a GPU OOM releases the gate and retries once.
func (o *Orchestrator) stageTranscribe(ctx context.Context, run *jobRun) error {
	chain := o.resolver.Resolve(engine.StageSTT, engineSettings(run.settings))
	req := stt.Request{AudioPath: run.extractedWAV, Language: run.settings.SourceLang}

	var lastErr error
	for _, spec := range chain {
		if o.mgr.IsCancelled(run.id) {
			return ErrCancelled
		}
		provider, err := o.registry.STT(spec.ID)
		if err != nil {
			lastErr = err
			continue
		}
		o.mgr.AppendLog(run.id, "transcribing with "+spec.ID)

		transcript, err := o.transcribeWith(ctx, spec, provider, req)
		if err != nil {
			metrics.EngineCalls.WithLabelValues(spec.ID, engineOutcome(err)).Inc()
			o.mgr.AppendLog(run.id, "transcription with "+spec.ID+" failed: "+truncate(err.Error(), 200))
			lastErr = err
			continue
		}
		metrics.EngineCalls.WithLabelValues(spec.ID, "ok").Inc()

		if transcript.Empty() {
			return &StageError{
				Stage: jobs.StageTranscribe,
				Kind:  KindInputExhausted,
				Err:   fmt.Errorf("transcription produced no speech"),
			}
		}
		run.transcript = transcript
		o.mgr.AppendLog(run.id, fmt.Sprintf("transcribed %d segments", len(transcript.Segments)))
		return nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no transcription engines available")
	}
	return lastErr
}

// transcribeWith runs one provider, gating local engines and handling
// the single GPU-OOM retry.
func (o *Orchestrator) transcribeWith(ctx context.Context, spec engine.Spec, provider stt.Provider, req stt.Request) (*stt.Transcript, error) {
	if spec.Locality != engine.LocalityLocal {
		var transcript *stt.Transcript
		err := engine.CallPaced(ctx, spec.ID, func() error {
			var callErr error
			transcript, callErr = provider.Transcribe(ctx, req)
			return callErr
		})
		return transcript, err
	}

	guard, err := o.acquireGate(ctx, "stt")
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	transcript, err := provider.Transcribe(ctx, req)
	if IsGPUOOM(err) {
		// Free the GPU and give the provider one CPU-terms retry.
		guard.Release()
		o.mgr.AppendLog(log.JobIDFromContext(ctx), "GPU memory exhausted, retrying transcription")
		guard, err = o.acquireGate(ctx, "stt")
		if err != nil {
			return nil, err
		}
		defer guard.Release()
		transcript, err = provider.Transcribe(ctx, req)
	}
	return transcript, err
}

func (o *Orchestrator) stageTranslate(ctx context.Context, run *jobRun) error {
	from, to := span(run.plan, jobs.StageTranslate)
	o.mgr.AppendLog(run.id, "translating transcript")

	result, err := o.translator.Translate(ctx, run.transcript, run.settings, func(done, total int) {
		if o.mgr.IsCancelled(run.id) {
			return
		}
		o.mgr.SetProgress(run.id, from+(to-from)*done/total)
	})
	if err != nil {
		return err
	}
	run.translation = result

	if result.Report != nil {
		o.mgr.SetQuality(run.id, result.Report)
		o.mgr.AppendLog(run.id, fmt.Sprintf("translation quality %d/100 (%s)",
			result.Report.OverallScore, result.Report.Recommendation))
	} else if run.settings.VerifyTranslation {
		o.mgr.AppendLog(run.id, "quality evaluation unavailable, proceeding unverified")
	}
	if result.ReviewNeeded {
		o.mgr.AppendLog(run.id, "some chunks stayed below the quality threshold, review recommended")
	}
	return nil
}

// stageSynthesize renders every translated segment and assembles the
// timeline-aligned track.
func (o *Orchestrator) stageSynthesize(ctx context.Context, run *jobRun) error {
	chain := o.resolver.Resolve(engine.StageTTS, engineSettings(run.settings))
	if len(chain) == 0 {
		return fmt.Errorf("no synthesis engines available")
	}
	from, to := span(run.plan, jobs.StageSynthesize)

	// Voice cloning sets up one ad-hoc voice for the whole job.
	voice, cloneCleanup, err := o.prepareVoice(ctx, run, chain)
	if err != nil {
		o.mgr.AppendLog(run.id, "voice cloning unavailable: "+truncate(err.Error(), 200))
	}
	if cloneCleanup != nil {
		defer cloneCleanup()
	}

	segments := run.translation.Segments
	pieces := make([]audio.Piece, 0, len(segments))
	for i, seg := range segments {
		if o.mgr.IsCancelled(run.id) {
			return ErrCancelled
		}
		req := tts.Request{
			Text:     seg.Text,
			Language: run.settings.TargetLang,
			Voice:    voice,
		}
		if run.settings.CloneVoice {
			req.ReferenceWAV = run.extractedWAV
		}

		rendered, err := o.synthesizeSegment(ctx, chain, req)
		if err != nil {
			return fmt.Errorf("segment %d/%d: %w", i+1, len(segments), err)
		}
		pieces = append(pieces, audio.Piece{
			Audio: rendered,
			Start: seg.Segment.Start,
			End:   seg.Segment.End,
		})
		o.mgr.SetProgress(run.id, from+(to-from)*(i+1)/len(segments))
	}

	o.mgr.AppendLog(run.id, "assembling audio track")
	assembler := audio.NewAssembler(o.media, o.sampleRate, run.tempDir)
	track, err := assembler.Assemble(ctx, pieces, run.settings.SyncMode, run.videoDuration)
	if err != nil {
		return err
	}
	run.stretchFactor = track.StretchFactor

	run.trackWAV = filepath.Join(run.tempDir, "dubbed.wav")
	return os.WriteFile(run.trackWAV, track.WAV, 0o644)
}

// prepareVoice resolves the voice id for synthesis. With cloning on and
// a Cloner in the chain it creates a per-job cloned voice; the returned
// cleanup tears it down.
func (o *Orchestrator) prepareVoice(ctx context.Context, run *jobRun, chain []engine.Spec) (string, func(), error) {
	if !run.settings.CloneVoice {
		return "", nil, nil
	}
	for _, spec := range chain {
		if !spec.SupportsClone || spec.Locality != engine.LocalityRemote {
			continue
		}
		provider, err := o.registry.TTS(spec.ID)
		if err != nil {
			continue
		}
		cloner, ok := provider.(tts.Cloner)
		if !ok {
			continue
		}
		voiceID, cleanup, err := cloner.CloneVoice(ctx, "vodub-job-"+run.id[:8], run.extractedWAV)
		if err != nil {
			return "", nil, err
		}
		o.mgr.AppendLog(run.id, "cloned voice on "+spec.ID)
		return voiceID, func() {
			cctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := cleanup(cctx); err != nil {
				lg := log.WithComponent("pipeline")
				lg.Warn().Err(err).Msg("cloned voice cleanup failed")
			}
		}, nil
	}
	// Local XTTS clones per request from the reference WAV; nothing to
	// prepare.
	return "", nil, nil
}

// synthesizeSegment walks the TTS chain for one segment. Local engines
// run under the GPU gate.
func (o *Orchestrator) synthesizeSegment(ctx context.Context, chain []engine.Spec, req tts.Request) (*tts.Audio, error) {
	var lastErr error
	for _, spec := range chain {
		if err := ctx.Err(); err != nil {
			return nil, ErrCancelled
		}
		provider, err := o.registry.TTS(spec.ID)
		if err != nil {
			lastErr = err
			continue
		}

		rendered, err := o.renderWith(ctx, spec, provider, req)
		if err != nil {
			metrics.EngineCalls.WithLabelValues(spec.ID, engineOutcome(err)).Inc()
			lastErr = fmt.Errorf("engine %s: %w", spec.ID, err)
			continue
		}
		metrics.EngineCalls.WithLabelValues(spec.ID, "ok").Inc()
		return rendered, nil
	}
	return nil, lastErr
}

func (o *Orchestrator) renderWith(ctx context.Context, spec engine.Spec, provider tts.Provider, req tts.Request) (*tts.Audio, error) {
	call := func() (*tts.Audio, error) {
		var rendered *tts.Audio
		err := engine.CallPaced(ctx, spec.ID, func() error {
			var callErr error
			rendered, callErr = provider.Synthesize(ctx, req)
			return callErr
		})
		return rendered, err
	}

	if spec.Locality != engine.LocalityLocal {
		return call()
	}

	guard, err := o.acquireGate(ctx, "tts")
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	rendered, err := call()
	if IsGPUOOM(err) {
		guard.Release()
		guard, err = o.acquireGate(ctx, "tts")
		if err != nil {
			return nil, err
		}
		defer guard.Release()
		rendered, err = call()
	}
	return rendered, err
}

// stageMerge muxes the dubbed track onto the source container. The
// output path is published only after the mux succeeded.
func (o *Orchestrator) stageMerge(ctx context.Context, run *jobRun) error {
	outName := outputName(run.input, run.settings.TargetLang, run.audioOnly)
	outPath := filepath.Join(o.outputDir, outName)

	o.mgr.AppendLog(run.id, "merging dubbed audio")
	var err error
	switch {
	case run.audioOnly:
		err = o.media.EncodeAudioOutput(ctx, run.trackWAV, outPath)
	case run.settings.SyncMode == jobs.SyncVideoStretch && needsStretch(run.stretchFactor):
		err = o.media.MergeVideoStretch(ctx, run.input, run.trackWAV, outPath, run.stretchFactor)
	default:
		err = o.media.MergeAudio(ctx, run.input, run.trackWAV, outPath, run.videoDuration)
	}
	if err != nil {
		return err
	}
	return o.mgr.SetOutput(run.id, outPath)
}

func (o *Orchestrator) acquireGate(ctx context.Context, label string) (*gate.Guard, error) {
	if o.gpuGate == nil {
		return nil, fmt.Errorf("gpu gate not configured")
	}
	guard, err := o.gpuGate.Acquire(ctx, label)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, ErrCancelled
		}
		return nil, err
	}
	return guard, nil
}

// stretchTolerance below which video-stretch degrades to a plain merge.
const mergeStretchTolerance = 0.02

func needsStretch(factor float64) bool {
	return factor > 1+mergeStretchTolerance || (factor > 0 && factor < 1-mergeStretchTolerance)
}

func engineSettings(s jobs.Settings) engine.Settings {
	return engine.Settings{
		STTEngine:       s.STTEngine,
		TranslateEngine: s.TranslationEngine,
		TTSEngine:       s.TTSEngine,
		SourceLang:      s.SourceLang,
		TargetLang:      s.TargetLang,
		CloneVoice:      s.CloneVoice,
	}
}

var audioExtensions = map[string]bool{
	".mp3": true, ".wav": true, ".flac": true, ".ogg": true,
}

func isAudioExtension(path string) bool {
	return audioExtensions[strings.ToLower(filepath.Ext(path))]
}

func outputName(input, targetLang string, audioOnly bool) string {
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	if audioOnly {
		return fmt.Sprintf("%s.dubbed.%s.m4a", base, targetLang)
	}
	return fmt.Sprintf("%s.dubbed.%s.mp4", base, targetLang)
}

func engineOutcome(err error) string {
	switch {
	case engine.IsQuota(err):
		return "quota"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
