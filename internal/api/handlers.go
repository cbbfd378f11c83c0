// SPDX-License-Identifier: MIT

package api

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vodub/vodub/internal/fsutil"
	"github.com/vodub/vodub/internal/jobs"
	"github.com/vodub/vodub/internal/log"
	"github.com/vodub/vodub/internal/version"
)

var langPattern = regexp.MustCompile(`^[a-z]{2,3}$`)

// maxFieldBytes caps any non-file multipart field.
const maxFieldBytes = 256

var (
	validSTTEngines = map[string]bool{"auto": true, "whisper": true, "groq": true, "openai": true}
	validMTEngines  = map[string]bool{"auto": true, "gemini": true, "groq": true, "ollama": true}
	validTTSEngines = map[string]bool{
		"auto": true, "xtts": true, "edge": true, "silero": true,
		"elevenlabs": true, "openai": true,
	}
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

// handleCreateJob accepts a multipart upload plus job settings and
// queues the dubbing job. Parts are streamed; the file never passes
// through memory whole.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart/form-data")
		return
	}

	fields := map[string]string{}
	var inputPath string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			cleanupUpload(inputPath)
			writeError(w, http.StatusBadRequest, "malformed multipart body")
			return
		}

		if part.FormName() == "file" {
			if inputPath != "" {
				part.Close()
				cleanupUpload(inputPath)
				writeError(w, http.StatusBadRequest, "multiple file parts")
				return
			}
			inputPath, err = saveUpload(part, s.cfg.UploadDir, s.cfg.MaxUploadBytes)
			part.Close()
			if err != nil {
				if errors.Is(err, errUploadTooLarge) {
					writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
				} else {
					writeError(w, http.StatusBadRequest, err.Error())
				}
				return
			}
			continue
		}

		val, err := io.ReadAll(io.LimitReader(part, maxFieldBytes))
		part.Close()
		if err != nil {
			cleanupUpload(inputPath)
			writeError(w, http.StatusBadRequest, "malformed form field")
			return
		}
		fields[part.FormName()] = strings.TrimSpace(string(val))
	}

	if inputPath == "" {
		writeError(w, http.StatusBadRequest, "missing file part")
		return
	}

	settings, err := s.buildSettings(fields)
	if err != nil {
		cleanupUpload(inputPath)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := s.mgr.Create(settings, inputPath)
	if !s.pool.Submit(id) {
		cleanupUpload(inputPath)
		s.mgr.SetError(id, "server is shutting down")
		s.mgr.UpdateStatus(id, jobs.StatusFailed)
		writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}

	lg := log.WithComponentFromContext(r.Context(), "api")

	lg.Info().
		Str("job_id", id).
		Str("target_lang", settings.TargetLang).
		Str("sync_mode", string(settings.SyncMode)).
		Msg("job accepted")

	view, err := s.mgr.Get(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "job lookup failed")
		return
	}
	writeJSON(w, http.StatusAccepted, view)
}

func cleanupUpload(path string) {
	if path != "" {
		os.Remove(path)
	}
}

// buildSettings validates the form fields against the engine and
// language vocabulary, falling back to the configured defaults.
func (s *Server) buildSettings(fields map[string]string) (jobs.Settings, error) {
	settings := jobs.Settings{
		SourceLang:        fields["source_lang"],
		TargetLang:        fields["target_lang"],
		SyncMode:          jobs.SyncMode(fields["sync_mode"]),
		STTEngine:         fields["stt_engine"],
		TranslationEngine: fields["translation_engine"],
		TTSEngine:         fields["tts_engine"],
	}

	if settings.TargetLang == "" {
		return settings, errors.New("target_lang is required")
	}
	if !langPattern.MatchString(settings.TargetLang) {
		return settings, errors.New("target_lang must be an ISO 639 code")
	}
	if settings.SourceLang == "auto" {
		settings.SourceLang = ""
	}
	if settings.SourceLang != "" && !langPattern.MatchString(settings.SourceLang) {
		return settings, errors.New("source_lang must be an ISO 639 code or auto")
	}
	if settings.SourceLang != "" && settings.SourceLang == settings.TargetLang {
		return settings, errors.New("source and target language must differ")
	}

	if settings.SyncMode == "" {
		settings.SyncMode = jobs.SyncSpeed
	}
	if !jobs.ValidSyncMode(settings.SyncMode) {
		return settings, errors.New("sync_mode must be natural, speed-sync or video-stretch")
	}

	if settings.STTEngine == "" {
		settings.STTEngine = s.cfg.STTEngine
	}
	if settings.TranslationEngine == "" {
		settings.TranslationEngine = s.cfg.TranslationEngine
	}
	if settings.TTSEngine == "" {
		settings.TTSEngine = s.cfg.TTSEngine
	}
	if !validSTTEngines[settings.STTEngine] {
		return settings, errors.New("unknown stt_engine")
	}
	if !validMTEngines[settings.TranslationEngine] {
		return settings, errors.New("unknown translation_engine")
	}
	if !validTTSEngines[settings.TTSEngine] {
		return settings, errors.New("unknown tts_engine")
	}

	settings.CloneVoice = parseBool(fields["clone_voice"])
	settings.VerifyTranslation = parseBool(fields["verify_translation"])
	return settings, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	view, err := s.mgr.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	marked, err := s.mgr.Cancel(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if !marked {
		writeError(w, http.StatusConflict, "job already finished")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":     id,
		"status": "cancelling",
	})
}

// handleDownload serves the finished artifact. The stored path is
// re-confined to the output directory before any filesystem access.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	view, err := s.mgr.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if view.Status != jobs.StatusCompleted || view.OutputPath == "" {
		writeError(w, http.StatusConflict, "job has no downloadable result")
		return
	}

	path, err := fsutil.ConfineAbsPath(s.cfg.OutputDir, view.OutputPath)
	if err != nil {
		lg := log.WithComponentFromContext(r.Context(), "api")
		lg.Error().
			Err(err).
			Str("job_id", view.ID).
			Msg("stored output path escapes output dir")
		writeError(w, http.StatusInternalServerError, "output unavailable")
		return
	}
	if err := fsutil.IsRegularFile(path); err != nil {
		writeError(w, http.StatusNotFound, "output no longer exists")
		return
	}

	w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(path)+`"`)
	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeFile(w, r, path)
}

// systemStatus is the response shape of the system probe.
type systemStatus struct {
	Version string   `json:"version"`
	GPU     any      `json:"gpu"`
	Engines engines  `json:"engines"`
	Creds   credInfo `json:"credentials"`
	Jobs    jobStats `json:"jobs"`
}

type engines struct {
	STT []string `json:"stt"`
	MT  []string `json:"translation"`
	TTS []string `json:"tts"`
}

type credInfo struct {
	Gemini     bool `json:"gemini"`
	Groq       bool `json:"groq"`
	OpenAI     bool `json:"openai"`
	ElevenLabs bool `json:"elevenlabs"`
}

type jobStats struct {
	Active   int  `json:"active"`
	Total    int  `json:"total"`
	GateBusy bool `json:"gpu_gate_busy"`
}

func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, systemStatus{
		Version: version.Version,
		GPU:     s.prober.Probe(r.Context()),
		Engines: engines{
			STT: s.registry.STTIDs(),
			MT:  s.registry.MTIDs(),
			TTS: s.registry.TTSIDs(),
		},
		Creds: credInfo{
			Gemini:     s.cfg.HasCredential("gemini"),
			Groq:       s.cfg.HasCredential("groq"),
			OpenAI:     s.cfg.HasCredential("openai"),
			ElevenLabs: s.cfg.HasCredential("elevenlabs"),
		},
		Jobs: jobStats{
			Active:   s.mgr.ActiveCount(),
			Total:    s.mgr.TotalCount(),
			GateBusy: s.gpuGate.Busy(),
		},
	})
}
