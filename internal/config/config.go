// SPDX-License-Identifier: MIT

// Package config loads the vodub runtime configuration from the
// environment. Every knob has a VODUB_* variable and a usable default;
// Validate rejects combinations the daemon cannot run with.
package config

import (
	"fmt"
	"path/filepath"
	"time"
)

// Config is the full runtime configuration of the daemon.
type Config struct {
	// HTTP surface
	ListenAddr     string
	AuthEnabled    bool
	APIKeys        []string // accepted values for the X-API-Key header
	AllowedOrigins []string
	RateLimit      int           // requests per window per client IP
	RateWindow     time.Duration // sliding window size
	TrustedProxies []string      // CIDRs whose X-Forwarded-For is honored

	// Directories
	DataDir   string
	UploadDir string
	OutputDir string
	WorkDir   string
	CacheDir  string

	// Job control
	MaxConcurrentJobs int
	MaxJobs           int           // registry cap before stale terminal jobs are purged
	JobExpiry         time.Duration // age at which terminal jobs become purgeable
	MaxUploadBytes    int64

	// Engines
	STTEngine         string // "auto", "whisper", "groq", "openai"
	TranslationEngine string // "auto", "gemini", "groq", "ollama"
	TTSEngine         string // "auto", "xtts", "edge", "silero", "elevenlabs", "openai"

	// Provider credentials (presence is probed, values never logged)
	GeminiAPIKey     string
	GroqAPIKey       string
	OpenAIAPIKey     string
	ElevenLabsAPIKey string

	// Model identifiers
	GeminiModel  string
	GroqModel    string
	OllamaModel  string
	WhisperModel string

	// Local endpoints and binaries
	OllamaURL     string
	XTTSServerURL string
	SileroURL     string
	FFmpegBin     string
	FFprobeBin    string
	WhisperBin    string
	EdgeTTSBin    string
	NvidiaSMIBin  string

	// Quality loop
	MinQualityScore   int
	MaxQualityRetries int

	// Timeouts
	LLMTimeout   time.Duration
	MediaTimeout time.Duration
	ProbeTimeout time.Duration

	// Translation cache
	CacheEnabled bool
	CacheTTL     time.Duration
}

// FromEnv builds a Config from VODUB_* environment variables.
func FromEnv() Config {
	dataDir := ParseString("VODUB_DATA_DIR", "./data")
	return Config{
		ListenAddr:     ParseString("VODUB_LISTEN", ":8080"),
		AuthEnabled:    ParseBool("VODUB_AUTH_ENABLED", false),
		APIKeys:        ParseCSV("VODUB_API_KEYS", nil),
		AllowedOrigins: ParseCSV("VODUB_ALLOWED_ORIGINS", nil),
		RateLimit:      ParseInt("VODUB_RATE_LIMIT", 10),
		RateWindow:     ParseDuration("VODUB_RATE_WINDOW", time.Minute),
		TrustedProxies: ParseCSV("VODUB_TRUSTED_PROXIES", nil),

		DataDir:   dataDir,
		UploadDir: ParseString("VODUB_UPLOAD_DIR", filepath.Join(dataDir, "uploads")),
		OutputDir: ParseString("VODUB_OUTPUT_DIR", filepath.Join(dataDir, "outputs")),
		WorkDir:   ParseString("VODUB_WORK_DIR", filepath.Join(dataDir, "work")),
		CacheDir:  ParseString("VODUB_CACHE_DIR", filepath.Join(dataDir, "cache")),

		MaxConcurrentJobs: ParseInt("VODUB_MAX_CONCURRENT_JOBS", 3),
		MaxJobs:           ParseInt("VODUB_MAX_JOBS", 1000),
		JobExpiry:         ParseDuration("VODUB_JOB_EXPIRY", 24*time.Hour),
		MaxUploadBytes:    ParseInt64("VODUB_MAX_UPLOAD_BYTES", 2<<30),

		STTEngine:         ParseString("VODUB_STT_ENGINE", "auto"),
		TranslationEngine: ParseString("VODUB_TRANSLATION_ENGINE", "auto"),
		TTSEngine:         ParseString("VODUB_TTS_ENGINE", "auto"),

		GeminiAPIKey:     ParseString("VODUB_GEMINI_API_KEY", ""),
		GroqAPIKey:       ParseString("VODUB_GROQ_API_KEY", ""),
		OpenAIAPIKey:     ParseString("VODUB_OPENAI_API_KEY", ""),
		ElevenLabsAPIKey: ParseString("VODUB_ELEVENLABS_API_KEY", ""),

		GeminiModel:  ParseString("VODUB_GEMINI_MODEL", "gemini-2.0-flash"),
		GroqModel:    ParseString("VODUB_GROQ_MODEL", "llama-3.3-70b-versatile"),
		OllamaModel:  ParseString("VODUB_OLLAMA_MODEL", "qwen2.5:14b"),
		WhisperModel: ParseString("VODUB_WHISPER_MODEL", "large-v3"),

		OllamaURL:     ParseString("VODUB_OLLAMA_URL", "http://127.0.0.1:11434"),
		XTTSServerURL: ParseString("VODUB_XTTS_URL", "http://127.0.0.1:8020"),
		SileroURL:     ParseString("VODUB_SILERO_URL", "http://127.0.0.1:8021"),
		FFmpegBin:     ParseString("VODUB_FFMPEG_BIN", "ffmpeg"),
		FFprobeBin:    ParseString("VODUB_FFPROBE_BIN", "ffprobe"),
		WhisperBin:    ParseString("VODUB_WHISPER_BIN", "whisper-cli"),
		EdgeTTSBin:    ParseString("VODUB_EDGE_TTS_BIN", "edge-tts"),
		NvidiaSMIBin:  ParseString("VODUB_NVIDIA_SMI_BIN", "nvidia-smi"),

		MinQualityScore:   ParseInt("VODUB_MIN_QUALITY_SCORE", 85),
		MaxQualityRetries: ParseInt("VODUB_MAX_QUALITY_RETRIES", 3),

		LLMTimeout:   ParseDuration("VODUB_LLM_TIMEOUT", 120*time.Second),
		MediaTimeout: ParseDuration("VODUB_MEDIA_TIMEOUT", 600*time.Second),
		ProbeTimeout: ParseDuration("VODUB_PROBE_TIMEOUT", 30*time.Second),

		CacheEnabled: ParseBool("VODUB_CACHE_ENABLED", true),
		CacheTTL:     ParseDuration("VODUB_CACHE_TTL", 30*24*time.Hour),
	}
}

// Validate checks invariants the daemon cannot start without.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.AuthEnabled && len(c.APIKeys) == 0 {
		return fmt.Errorf("auth is enabled but no API keys are configured")
	}
	if c.MaxConcurrentJobs < 1 {
		return fmt.Errorf("max concurrent jobs must be >= 1, got %d", c.MaxConcurrentJobs)
	}
	if c.MaxUploadBytes < 1 {
		return fmt.Errorf("max upload bytes must be positive, got %d", c.MaxUploadBytes)
	}
	if c.RateLimit < 1 {
		return fmt.Errorf("rate limit must be >= 1, got %d", c.RateLimit)
	}
	if c.MinQualityScore < 0 || c.MinQualityScore > 100 {
		return fmt.Errorf("min quality score must be in [0,100], got %d", c.MinQualityScore)
	}
	if c.MaxQualityRetries < 0 {
		return fmt.Errorf("max quality retries must be >= 0, got %d", c.MaxQualityRetries)
	}
	for _, dir := range []string{c.UploadDir, c.OutputDir, c.WorkDir} {
		if dir == "" {
			return fmt.Errorf("upload, output and work directories must be set")
		}
	}
	return nil
}

// HasCredential reports whether a provider credential is configured.
// Used by the system status endpoint; never returns the value itself.
func (c *Config) HasCredential(provider string) bool {
	switch provider {
	case "gemini":
		return c.GeminiAPIKey != ""
	case "groq":
		return c.GroqAPIKey != ""
	case "openai":
		return c.OpenAIAPIKey != ""
	case "elevenlabs":
		return c.ElevenLabsAPIKey != ""
	default:
		return false
	}
}
