// SPDX-License-Identifier: MIT

// Package jobs holds the dubbing job registry: status, progress, logs
// and cancellation for every job the daemon has accepted.
package jobs

import (
	"time"

	"github.com/vodub/vodub/internal/quality"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Stage is one ordered phase of the dubbing pipeline.
type Stage string

const (
	StageExtract    Stage = "extract"
	StageTranscribe Stage = "transcribe"
	StageTranslate  Stage = "translate"
	StageVerify     Stage = "verify"
	StageSynthesize Stage = "synthesize"
	StageMerge      Stage = "merge"
)

// SyncMode is the policy reconciling synthesized audio length with the
// source video timeline.
type SyncMode string

const (
	SyncNatural      SyncMode = "natural"
	SyncSpeed        SyncMode = "speed-sync"
	SyncVideoStretch SyncMode = "video-stretch"
)

// ValidSyncMode reports whether m is a known sync mode.
func ValidSyncMode(m SyncMode) bool {
	switch m {
	case SyncNatural, SyncSpeed, SyncVideoStretch:
		return true
	}
	return false
}

// Settings are the user-supplied parameters of a job. Immutable after
// creation.
type Settings struct {
	SourceLang        string   `json:"source_lang"`
	TargetLang        string   `json:"target_lang"`
	CloneVoice        bool     `json:"clone_voice"`
	VerifyTranslation bool     `json:"verify_translation"`
	SyncMode          SyncMode `json:"sync_mode"`
	STTEngine         string   `json:"stt_engine,omitempty"`
	TranslationEngine string   `json:"translation_engine,omitempty"`
	TTSEngine         string   `json:"tts_engine,omitempty"`
}

// LogEntry is one line of a job's bounded log buffer.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// View is a consistent snapshot of a job, safe to hand to callers.
type View struct {
	ID          string          `json:"id"`
	Settings    Settings        `json:"settings"`
	Status      Status          `json:"status"`
	Stage       Stage           `json:"current_step,omitempty"`
	Progress    int             `json:"progress"`
	Logs        []LogEntry      `json:"logs"`
	InputPath   string          `json:"-"`
	OutputPath  string          `json:"output_file,omitempty"`
	Error       string          `json:"error,omitempty"`
	Quality     *quality.Report `json:"quality_result,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt time.Time       `json:"completed_at,omitzero"`
}

// job is the registry-internal mutable record. Only the Manager touches
// it, always under the registry lock.
type job struct {
	ID          string          `json:"id"`
	Settings    Settings        `json:"settings"`
	Status      Status          `json:"status"`
	Stage       Stage           `json:"current_step,omitempty"`
	Progress    int             `json:"progress"`
	Logs        []LogEntry      `json:"logs"`
	InputPath   string          `json:"input_path"`
	OutputPath  string          `json:"output_file,omitempty"`
	Error       string          `json:"error,omitempty"`
	Quality     *quality.Report `json:"quality_result,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt time.Time       `json:"completed_at,omitzero"`
}

func (j *job) view() View {
	logs := make([]LogEntry, len(j.Logs))
	copy(logs, j.Logs)
	return View{
		ID:          j.ID,
		Settings:    j.Settings,
		Status:      j.Status,
		Stage:       j.Stage,
		Progress:    j.Progress,
		Logs:        logs,
		InputPath:   j.InputPath,
		OutputPath:  j.OutputPath,
		Error:       j.Error,
		Quality:     j.Quality.Clone(),
		CreatedAt:   j.CreatedAt,
		CompletedAt: j.CompletedAt,
	}
}
