// SPDX-License-Identifier: MIT

// Command vodubd is the video dubbing daemon: it accepts uploads over
// HTTP, replaces the spoken audio track with a synthesized translation
// and serves the result.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/vodub/vodub/internal/api"
	"github.com/vodub/vodub/internal/cache"
	"github.com/vodub/vodub/internal/config"
	"github.com/vodub/vodub/internal/engine"
	"github.com/vodub/vodub/internal/engine/mt"
	"github.com/vodub/vodub/internal/engine/stt"
	"github.com/vodub/vodub/internal/engine/tts"
	"github.com/vodub/vodub/internal/gate"
	"github.com/vodub/vodub/internal/gpu"
	"github.com/vodub/vodub/internal/jobs"
	"github.com/vodub/vodub/internal/log"
	"github.com/vodub/vodub/internal/media"
	"github.com/vodub/vodub/internal/pipeline"
	"github.com/vodub/vodub/internal/quality"
	"github.com/vodub/vodub/internal/translate"
	"github.com/vodub/vodub/internal/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	showVersion := flag.Bool("version", false, "print version and exit")
	logLevel := flag.String("log-level", "", "log level (debug, info, warn, error)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("vodubd %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		return 0
	}

	log.Configure(log.Config{Level: *logLevel, Service: "vodub"})
	logger := log.WithComponent("daemon")

	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return 1
	}
	for _, dir := range []string{cfg.DataDir, cfg.UploadDir, cfg.OutputDir, cfg.WorkDir, cfg.CacheDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			logger.Error().Err(err).Str("dir", dir).Msg("cannot create data directory")
			return 1
		}
	}

	logger.Info().
		Str("version", version.Version).
		Str("listen", cfg.ListenAddr).
		Bool("auth", cfg.AuthEnabled).
		Bool("gemini_key", cfg.HasCredential("gemini")).
		Bool("groq_key", cfg.HasCredential("groq")).
		Bool("openai_key", cfg.HasCredential("openai")).
		Bool("elevenlabs_key", cfg.HasCredential("elevenlabs")).
		Msg("starting vodubd")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mgr := jobs.NewManager(cfg.MaxJobs, cfg.JobExpiry)
	snapshotPath := filepath.Join(cfg.DataDir, "jobs.json")
	if err := mgr.LoadSnapshot(snapshotPath); err != nil {
		logger.Warn().Err(err).Msg("job snapshot unreadable, starting fresh")
	}
	mgr.SweepOrphans(cfg.UploadDir, cfg.OutputDir)

	proc := media.NewProcessor(cfg.FFmpegBin, cfg.FFprobeBin, cfg.MediaTimeout, cfg.ProbeTimeout)
	prober := gpu.NewProber(cfg.NvidiaSMIBin)

	registry := engine.NewRegistry()
	evalProviders, err := registerEngines(registry, &cfg, proc, prober)
	if err != nil {
		logger.Error().Err(err).Msg("engine setup failed")
		return 1
	}

	resolver := engine.NewResolver(&cfg)
	gpuGate := gate.New(nil)

	topts := []translate.Option{
		translate.WithMinScore(cfg.MinQualityScore),
		translate.WithVerifier(quality.NewEvaluator(evalProviders...)),
	}
	var translationCache *cache.TranslationCache
	if cfg.CacheEnabled {
		translationCache, err = cache.Open(filepath.Join(cfg.CacheDir, "translations"), cfg.CacheTTL)
		if err != nil {
			logger.Warn().Err(err).Msg("translation cache unavailable, continuing without")
		} else {
			defer translationCache.Close()
			topts = append(topts, translate.WithCache(translationCache))
		}
	}
	translator := translate.New(resolver, registry, topts...)

	orch := pipeline.New(pipeline.Config{
		Manager:    mgr,
		Resolver:   resolver,
		Registry:   registry,
		Translator: translator,
		Media:      proc,
		Gate:       gpuGate,
		WorkDir:    cfg.WorkDir,
		OutputDir:  cfg.OutputDir,
	})
	pool := pipeline.NewPool(orch, cfg.MaxConcurrentJobs)
	pool.Start(ctx)

	srv := api.New(cfg, mgr, pool, registry, gpuGate, prober)
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			logger.Error().Err(err).Msg("http server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown incomplete")
	}

	// Stop lets in-flight jobs observe the cancelled root context and
	// settle into a terminal state before the snapshot is written.
	stop()
	pool.Shutdown()

	if err := mgr.SaveSnapshot(snapshotPath); err != nil {
		logger.Warn().Err(err).Msg("job snapshot not written")
	}
	logger.Info().Msg("vodubd stopped")
	return 0
}

// registerEngines constructs every provider the configured credentials
// allow. The returned translation providers, in fallback order, also
// serve the quality evaluator.
func registerEngines(registry *engine.Registry, cfg *config.Config, proc *media.Processor, prober *gpu.Prober) ([]mt.Provider, error) {
	// Speech to text.
	registry.RegisterSTT(stt.NewWhisper(cfg.WhisperBin, cfg.WhisperModel,
		stt.WithWhisperTimeout(cfg.MediaTimeout),
		stt.WithVRAMProbe(prober.FreeMB)))
	if cfg.HasCredential("groq") {
		registry.RegisterSTT(stt.NewGroq(cfg.GroqAPIKey, cfg.LLMTimeout))
	}
	if cfg.HasCredential("openai") {
		registry.RegisterSTT(stt.NewOpenAI(cfg.OpenAIAPIKey, cfg.LLMTimeout))
	}

	// Translation. Ollama terminates the chain unconditionally.
	var evalProviders []mt.Provider
	if cfg.HasCredential("gemini") {
		p, err := mt.NewGemini(cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("gemini provider: %w", err)
		}
		registry.RegisterMT(p)
		evalProviders = append(evalProviders, p)
	}
	if cfg.HasCredential("groq") {
		p, err := mt.NewGroq(cfg.GroqAPIKey, cfg.GroqModel)
		if err != nil {
			return nil, fmt.Errorf("groq provider: %w", err)
		}
		registry.RegisterMT(p)
		evalProviders = append(evalProviders, p)
	}
	ollama, err := mt.NewOllama(cfg.OllamaURL, cfg.OllamaModel)
	if err != nil {
		return nil, fmt.Errorf("ollama provider: %w", err)
	}
	registry.RegisterMT(ollama)
	evalProviders = append(evalProviders, ollama)

	// Text to speech.
	registry.RegisterTTS(tts.NewXTTS(cfg.XTTSServerURL, cfg.MediaTimeout))
	registry.RegisterTTS(tts.NewSilero(cfg.SileroURL, cfg.MediaTimeout))
	registry.RegisterTTS(tts.NewEdge(cfg.EdgeTTSBin, proc, cfg.MediaTimeout))
	if cfg.HasCredential("elevenlabs") {
		registry.RegisterTTS(tts.NewElevenLabs(cfg.ElevenLabsAPIKey, cfg.MediaTimeout))
	}
	if cfg.HasCredential("openai") {
		registry.RegisterTTS(tts.NewOpenAI(cfg.OpenAIAPIKey, cfg.MediaTimeout))
	}
	return evalProviders, nil
}
