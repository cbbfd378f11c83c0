// SPDX-License-Identifier: MIT

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vodub/vodub/internal/engine"
	"github.com/vodub/vodub/internal/jobs"
	"github.com/vodub/vodub/internal/media"
)

// ErrCancelled is the cancellation condition raised at checkpoints. The
// orchestrator converts it to the cancelled status, never to failed.
var ErrCancelled = errors.New("job cancelled")

// Kind classifies a stage failure and decides the retry policy.
type Kind string

const (
	// KindValidation rejects bad input before the pipeline starts.
	KindValidation Kind = "validation"
	// KindInputExhausted marks empty stage output (silent audio, empty
	// translation). Never retried.
	KindInputExhausted Kind = "input_exhausted"
	// KindTransient covers 5xx, timeouts and resets. Backoff then
	// fallback.
	KindTransient Kind = "transient"
	// KindQuota advances the fallback chain immediately.
	KindQuota Kind = "quota"
	// KindMalformed marks unparseable engine responses after repair.
	KindMalformed Kind = "malformed"
	// KindResourceExhausted is a GPU OOM; retried once on CPU terms.
	KindResourceExhausted Kind = "resource_exhausted"
	// KindSubprocess is a fatal media tool failure.
	KindSubprocess Kind = "subprocess"
	// KindCancelled is the observed cancellation condition.
	KindCancelled Kind = "cancelled"
)

// StageError wraps a failure with the stage it happened in and its
// classification.
type StageError struct {
	Stage jobs.Stage
	Kind  Kind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// gpuOOMMarkers identify CUDA allocator failures in whisper/XTTS error
// text.
var gpuOOMMarkers = []string{
	"out of memory",
	"cuda error",
	"cublas",
	"vram",
	"failed to allocate",
}

// IsGPUOOM reports whether err looks like a GPU memory exhaustion.
func IsGPUOOM(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range gpuOOMMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// Classify maps an arbitrary stage error to its kind.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled):
		return KindCancelled
	case IsGPUOOM(err):
		return KindResourceExhausted
	case engine.IsQuota(err):
		return KindQuota
	}

	var exitErr *media.ExitError
	if errors.As(err, &exitErr) {
		return KindSubprocess
	}
	if errors.Is(err, media.ErrTimeout) {
		return KindTransient
	}
	if engine.IsTransient(err) {
		return KindTransient
	}
	return KindMalformed
}

// stageFailure builds the classified error for one stage. Errors a
// stage already classified pass through untouched.
func stageFailure(stage jobs.Stage, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) {
		return ErrCancelled
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Stage: stage, Kind: Classify(err), Err: err}
}
