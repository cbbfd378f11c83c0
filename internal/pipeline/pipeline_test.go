// SPDX-License-Identifier: MIT

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vodub/vodub/internal/audio"
	"github.com/vodub/vodub/internal/engine"
	"github.com/vodub/vodub/internal/engine/stt"
	sttmock "github.com/vodub/vodub/internal/engine/stt/mock"
	"github.com/vodub/vodub/internal/engine/tts"
	ttsmock "github.com/vodub/vodub/internal/engine/tts/mock"
	"github.com/vodub/vodub/internal/gate"
	"github.com/vodub/vodub/internal/jobs"
	"github.com/vodub/vodub/internal/media"
	"github.com/vodub/vodub/internal/quality"
	"github.com/vodub/vodub/internal/translate"
)

type credSet map[string]bool

func (c credSet) HasCredential(p string) bool { return c[p] }

// testWAV returns seconds of constant-amplitude 16 kHz audio.
func testWAV(seconds float64) []byte {
	n := int(seconds * 16000)
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = 8000
	}
	return audio.EncodeWAV(samples, 16000)
}

// fakeMedia satisfies MediaProcessor without spawning ffmpeg. It
// records the sequence of operations and materializes output files so
// downstream stages find real WAV data.
type fakeMedia struct {
	mu       sync.Mutex
	duration float64
	hasAudio bool
	calls    []string

	extractErr error
	mergeErr   error
}

func newFakeMedia(duration float64) *fakeMedia {
	return &fakeMedia{duration: duration, hasAudio: true}
}

func (f *fakeMedia) record(op string) {
	f.mu.Lock()
	f.calls = append(f.calls, op)
	f.mu.Unlock()
}

func (f *fakeMedia) called(op string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == op {
			return true
		}
	}
	return false
}

func (f *fakeMedia) ExtractAudio(_ context.Context, _, outWav string) error {
	f.record("ExtractAudio")
	if f.extractErr != nil {
		return f.extractErr
	}
	return os.WriteFile(outWav, testWAV(f.duration), 0o644)
}

func (f *fakeMedia) NormalizeAudio(_ context.Context, _, outWav string) error {
	f.record("NormalizeAudio")
	return os.WriteFile(outWav, testWAV(f.duration), 0o644)
}

func (f *fakeMedia) MergeAudio(_ context.Context, _, _, outPath string, _ float64) error {
	f.record("MergeAudio")
	if f.mergeErr != nil {
		return f.mergeErr
	}
	return os.WriteFile(outPath, []byte("muxed"), 0o644)
}

func (f *fakeMedia) MergeVideoStretch(_ context.Context, _, _, outPath string, _ float64) error {
	f.record("MergeVideoStretch")
	return os.WriteFile(outPath, []byte("muxed-stretched"), 0o644)
}

func (f *fakeMedia) EncodeAudioOutput(_ context.Context, _, outPath string) error {
	f.record("EncodeAudioOutput")
	return os.WriteFile(outPath, []byte("encoded"), 0o644)
}

func (f *fakeMedia) TimeStretchAudio(_ context.Context, inWav, outWav string, factor float64) error {
	f.record("TimeStretchAudio")
	data, err := os.ReadFile(inWav)
	if err != nil {
		return err
	}
	samples, rate, err := audio.DecodeWAV(data)
	if err != nil {
		return err
	}
	out := audio.Resample(samples, int(float64(rate)*factor), rate)
	return os.WriteFile(outWav, audio.EncodeWAV(out, rate), 0o644)
}

func (f *fakeMedia) ProbeDuration(context.Context, string) (float64, error) {
	return f.duration, nil
}

func (f *fakeMedia) HasAudioStream(context.Context, string) (bool, error) {
	return f.hasAudio, nil
}

// fakeTranslator echoes the transcript back with a marker prefix.
type fakeTranslator struct {
	err    error
	report *quality.Report
	calls  int
}

func (f *fakeTranslator) Translate(_ context.Context, transcript *stt.Transcript, _ jobs.Settings, progress translate.Progress) (*translate.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	segs := make([]translate.SegmentResult, 0, len(transcript.Segments))
	for _, s := range transcript.Segments {
		segs = append(segs, translate.SegmentResult{Segment: s, Text: "dub: " + s.Text})
	}
	if progress != nil {
		progress(1, 1)
	}
	return &translate.Result{Segments: segs, Report: f.report}, nil
}

func testTranscript() *stt.Transcript {
	return &stt.Transcript{
		Language: "ko",
		Segments: []stt.Segment{
			{Start: 0.0, End: 1.0, Text: "첫 번째 문장"},
			{Start: 1.2, End: 2.0, Text: "두 번째 문장"},
		},
	}
}

type harness struct {
	mgr        *jobs.Manager
	media      *fakeMedia
	whisper    *sttmock.Provider
	edge       *ttsmock.Provider
	translator *fakeTranslator
	registry   *engine.Registry
	orch       *Orchestrator
	outputDir  string
}

func newHarness(t *testing.T, creds credSet) *harness {
	t.Helper()

	h := &harness{
		mgr:        jobs.NewManager(100, time.Hour),
		media:      newFakeMedia(2.0),
		whisper:    &sttmock.Provider{Name: "whisper", Transcript: testTranscript()},
		edge:       &ttsmock.Provider{Name: "edge", Audio: &tts.Audio{WAV: testWAV(0.5), SampleRate: 16000}},
		translator: &fakeTranslator{},
		registry:   engine.NewRegistry(),
		outputDir:  t.TempDir(),
	}
	h.registry.RegisterSTT(h.whisper)
	h.registry.RegisterTTS(h.edge)

	h.orch = New(Config{
		Manager:    h.mgr,
		Resolver:   engine.NewResolver(creds),
		Registry:   h.registry,
		Translator: h.translator,
		Media:      h.media,
		Gate:       gate.New(nil),
		WorkDir:    t.TempDir(),
		OutputDir:  h.outputDir,
	})
	return h
}

func (h *harness) createJob(t *testing.T, name string, settings jobs.Settings) string {
	t.Helper()
	input := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(input, []byte("input"), 0o644))
	return h.mgr.Create(settings, input)
}

func defaultSettings() jobs.Settings {
	return jobs.Settings{
		SourceLang: "ko",
		TargetLang: "ru",
		SyncMode:   jobs.SyncSpeed,
		STTEngine:  "whisper",
		TTSEngine:  "edge",
	}
}

func TestRunHappyPath(t *testing.T) {
	h := newHarness(t, credSet{})
	id := h.createJob(t, "video.mp4", defaultSettings())

	h.orch.Run(context.Background(), id)

	view, err := h.mgr.Get(id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, view.Status)
	assert.Equal(t, 100, view.Progress)
	assert.Empty(t, view.Error)

	require.NotEmpty(t, view.OutputPath)
	assert.True(t, strings.HasSuffix(view.OutputPath, ".dubbed.ru.mp4"))
	_, statErr := os.Stat(view.OutputPath)
	assert.NoError(t, statErr, "output artifact exists")

	assert.True(t, h.media.called("ExtractAudio"))
	assert.True(t, h.media.called("MergeAudio"))
	assert.False(t, h.media.called("NormalizeAudio"))
	assert.Equal(t, 1, h.whisper.CallCount())
	assert.Equal(t, 2, h.edge.CallCount(), "one synthesis per segment")
	assert.Equal(t, 1, h.translator.calls)
}

func TestRunAudioOnlyInput(t *testing.T) {
	h := newHarness(t, credSet{})
	id := h.createJob(t, "podcast.mp3", defaultSettings())

	h.orch.Run(context.Background(), id)

	view, err := h.mgr.Get(id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, view.Status)
	assert.True(t, strings.HasSuffix(view.OutputPath, ".dubbed.ru.m4a"))
	assert.True(t, h.media.called("NormalizeAudio"))
	assert.True(t, h.media.called("EncodeAudioOutput"))
	assert.False(t, h.media.called("ExtractAudio"))
	assert.False(t, h.media.called("MergeAudio"))
}

func TestRunSetsQualityReport(t *testing.T) {
	h := newHarness(t, credSet{})
	h.translator.report = &quality.Report{
		OverallScore:   88,
		Recommendation: quality.Approved,
	}
	settings := defaultSettings()
	settings.VerifyTranslation = true
	id := h.createJob(t, "video.mp4", settings)

	h.orch.Run(context.Background(), id)

	view, err := h.mgr.Get(id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, view.Status)
	require.NotNil(t, view.Quality)
	assert.Equal(t, 88, view.Quality.OverallScore)
}

func TestRunEmptyTranscriptFails(t *testing.T) {
	h := newHarness(t, credSet{})
	h.whisper.Transcript = &stt.Transcript{Language: "ko"}
	id := h.createJob(t, "silent.mp4", defaultSettings())

	h.orch.Run(context.Background(), id)

	view, err := h.mgr.Get(id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusFailed, view.Status)
	assert.Contains(t, view.Error, "input_exhausted")
	assert.Empty(t, view.OutputPath, "failed jobs expose no output")
}

func TestRunCancelledBeforeFirstStage(t *testing.T) {
	h := newHarness(t, credSet{})
	id := h.createJob(t, "video.mp4", defaultSettings())

	marked, err := h.mgr.Cancel(id)
	require.NoError(t, err)
	require.True(t, marked)

	h.orch.Run(context.Background(), id)

	view, err := h.mgr.Get(id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCancelled, view.Status)
	assert.Empty(t, view.OutputPath)
	assert.Equal(t, 0, h.whisper.CallCount(), "no stage ran")
}

func TestRunCancelledMidPipeline(t *testing.T) {
	h := newHarness(t, credSet{})
	id := h.createJob(t, "video.mp4", defaultSettings())

	// The transcription engine flips the cancellation flag, so the
	// checkpoint before translate must stop the job.
	h.whisper.TranscribeFn = func(context.Context, stt.Request) (*stt.Transcript, error) {
		_, err := h.mgr.Cancel(id)
		require.NoError(t, err)
		return testTranscript(), nil
	}

	h.orch.Run(context.Background(), id)

	view, err := h.mgr.Get(id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCancelled, view.Status)
	assert.Equal(t, 0, h.translator.calls, "translate never started")
	assert.Empty(t, view.OutputPath)
}

func TestRunTTSQuotaFallsBack(t *testing.T) {
	h := newHarness(t, credSet{})

	silero := &ttsmock.Provider{Name: "silero", Err: errors.New("429 too many requests")}
	h.registry.RegisterTTS(silero)

	// Auto selection for Russian resolves silero then edge.
	settings := defaultSettings()
	settings.TTSEngine = "auto"
	id := h.createJob(t, "video.mp4", settings)

	h.orch.Run(context.Background(), id)

	view, err := h.mgr.Get(id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, view.Status)
	assert.Equal(t, 2, silero.CallCount(), "quota error skips retries, one call per segment")
	assert.Equal(t, 2, h.edge.CallCount())
}

func TestRunGPUOOMRetriesOnce(t *testing.T) {
	h := newHarness(t, credSet{})

	attempts := 0
	h.whisper.TranscribeFn = func(context.Context, stt.Request) (*stt.Transcript, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("CUDA error: out of memory")
		}
		return testTranscript(), nil
	}
	id := h.createJob(t, "video.mp4", defaultSettings())

	h.orch.Run(context.Background(), id)

	view, err := h.mgr.Get(id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, view.Status)
	assert.Equal(t, 2, attempts)
}

func TestRunMergeFailureKeepsOutputUnset(t *testing.T) {
	h := newHarness(t, credSet{})
	h.media.mergeErr = &media.ExitError{Bin: "ffmpeg", Err: errors.New("exit status 1"), StderrTail: "muxer died"}
	id := h.createJob(t, "video.mp4", defaultSettings())

	h.orch.Run(context.Background(), id)

	view, err := h.mgr.Get(id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusFailed, view.Status)
	assert.Contains(t, view.Error, "subprocess")
	assert.Empty(t, view.OutputPath)
}

func TestRunVideoStretchMerge(t *testing.T) {
	h := newHarness(t, credSet{})
	// 4s of speech over a 2s video forces a stretch factor well past
	// the tolerance.
	h.edge.Audio = &tts.Audio{WAV: testWAV(2.0), SampleRate: 16000}
	settings := defaultSettings()
	settings.SyncMode = jobs.SyncVideoStretch
	id := h.createJob(t, "video.mp4", settings)

	h.orch.Run(context.Background(), id)

	view, err := h.mgr.Get(id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, view.Status)
	assert.True(t, h.media.called("MergeVideoStretch"))
}

func TestStagePlanSpans(t *testing.T) {
	withVerify := stagePlan(true)
	cases := []struct {
		stage    jobs.Stage
		from, to int
	}{
		{jobs.StageExtract, 0, 5},
		{jobs.StageTranscribe, 5, 20},
		{jobs.StageTranslate, 20, 45},
		{jobs.StageVerify, 45, 60},
		{jobs.StageSynthesize, 60, 85},
		{jobs.StageMerge, 85, 100},
	}
	for _, c := range cases {
		from, to := span(withVerify, c.stage)
		assert.Equal(t, c.from, from, "%s from", c.stage)
		assert.Equal(t, c.to, to, "%s to", c.stage)
	}

	// Without verification the remaining weights rescale to 100.
	noVerify := stagePlan(false)
	_, to := span(noVerify, jobs.StageMerge)
	assert.Equal(t, 100, to)
	from, _ := span(noVerify, jobs.StageSynthesize)
	assert.Equal(t, 52, from)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"cancelled", ErrCancelled, KindCancelled},
		{"context cancelled", context.Canceled, KindCancelled},
		{"gpu oom", errors.New("CUDA error: out of memory"), KindResourceExhausted},
		{"quota", errors.New("429 too many requests"), KindQuota},
		{"subprocess", &media.ExitError{Bin: "ffmpeg", Err: errors.New("exit status 1")}, KindSubprocess},
		{"subprocess timeout", fmt.Errorf("extract: %w", media.ErrTimeout), KindTransient},
		{"transient", errors.New("connection refused"), KindTransient},
		{"malformed", errors.New("unexpected token in response"), KindMalformed},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, Classify(c.err))
		})
	}
}

func TestTruncateCountsRunes(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))

	got := truncate(strings.Repeat("한", 80), 60)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, 63, utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestIsGPUOOM(t *testing.T) {
	assert.True(t, IsGPUOOM(errors.New("torch.cuda.OutOfMemoryError: CUDA out of memory")))
	assert.True(t, IsGPUOOM(errors.New("failed to allocate 2.1 GiB")))
	assert.False(t, IsGPUOOM(errors.New("file not found")))
	assert.False(t, IsGPUOOM(nil))
}

func TestPoolRunsSubmittedJob(t *testing.T) {
	h := newHarness(t, credSet{})
	id := h.createJob(t, "video.mp4", defaultSettings())

	pool := NewPool(h.orch, 2)
	pool.Start(context.Background())
	require.True(t, pool.Submit(id))
	pool.Shutdown()

	view, err := h.mgr.Get(id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, view.Status)
}

func TestPoolRejectsBeforeStart(t *testing.T) {
	h := newHarness(t, credSet{})
	pool := NewPool(h.orch, 1)
	assert.False(t, pool.Submit("some-id"))
}

func TestPoolRejectsAfterShutdown(t *testing.T) {
	h := newHarness(t, credSet{})
	pool := NewPool(h.orch, 1)
	pool.Start(context.Background())
	pool.Shutdown()
	assert.False(t, pool.Submit("some-id"))
}
