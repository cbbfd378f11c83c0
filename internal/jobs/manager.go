// SPDX-License-Identifier: MIT

package jobs

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vodub/vodub/internal/log"
	"github.com/vodub/vodub/internal/metrics"
	"github.com/vodub/vodub/internal/quality"
)

const (
	maxLogEntries = 1000
	logTrimCount  = 100 // oldest 10% dropped on overflow
	maxLogMessage = 500
	maxErrorLen   = 1000
)

var (
	// ErrNotFound reports an unknown or malformed job id.
	ErrNotFound = errors.New("job not found")

	// ErrTerminal reports an attempt to mutate a job whose status is
	// already terminal. Terminal status is never revised.
	ErrTerminal = errors.New("job already in terminal state")
)

// Manager is the single source of truth for job state. Every mutator is
// serialized under one mutex; reads return deep-copied snapshots.
type Manager struct {
	mu        sync.Mutex
	jobs      map[string]*job
	order     []string // creation order, for purge scans
	cancelled map[string]struct{}

	maxJobs int
	expiry  time.Duration
}

// NewManager creates a Manager. maxJobs caps the registry before stale
// terminal jobs are purged; expiry is the age at which terminal jobs
// become purgeable.
func NewManager(maxJobs int, expiry time.Duration) *Manager {
	if maxJobs < 1 {
		maxJobs = 1000
	}
	return &Manager{
		jobs:      make(map[string]*job),
		cancelled: make(map[string]struct{}),
		maxJobs:   maxJobs,
		expiry:    expiry,
	}
}

// Create registers a new queued job and returns its id.
func (m *Manager) Create(settings Settings, inputPath string) string {
	id := uuid.NewString()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.purgeStaleLocked()

	m.jobs[id] = &job{
		ID:        id,
		Settings:  settings,
		Status:    StatusQueued,
		InputPath: inputPath,
		CreatedAt: time.Now().UTC(),
	}
	m.order = append(m.order, id)
	return id
}

// validateID checks the UUID-v4 shape before any registry lookup, so a
// malformed id can never be used as a path component downstream.
func validateID(id string) error {
	u, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if u.Version() != 4 {
		return fmt.Errorf("%w: not a v4 id", ErrNotFound)
	}
	return nil
}

func (m *Manager) lookupLocked(id string) (*job, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	j, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return j, nil
}

// Get returns a snapshot of the job.
func (m *Manager) Get(id string) (View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.lookupLocked(id)
	if err != nil {
		return View{}, err
	}
	return j.view(), nil
}

// UpdateStatus transitions the job's status. Terminal states are never
// revised; such attempts return ErrTerminal.
func (m *Manager) UpdateStatus(id string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.lookupLocked(id)
	if err != nil {
		return err
	}
	if j.Status == status {
		return nil
	}
	if j.Status.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrTerminal, j.Status, status)
	}

	switch {
	case status == StatusProcessing:
		metrics.JobsActive.Inc()
	case j.Status == StatusProcessing && status.Terminal():
		metrics.JobsActive.Dec()
	}
	if status.Terminal() {
		metrics.JobsTotal.WithLabelValues(string(status)).Inc()
		j.CompletedAt = time.Now().UTC()
	}

	j.Status = status
	return nil
}

// SetStage publishes the job's current pipeline stage.
func (m *Manager) SetStage(id string, stage Stage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.lookupLocked(id)
	if err != nil {
		return err
	}
	if j.Status.Terminal() {
		return ErrTerminal
	}
	j.Stage = stage
	return nil
}

// SetProgress publishes cumulative progress. Values are clamped to
// [0,100] and progress never decreases.
func (m *Manager) SetProgress(id string, percent int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.lookupLocked(id)
	if err != nil {
		return err
	}
	if j.Status.Terminal() {
		return ErrTerminal
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	if percent > j.Progress {
		j.Progress = percent
	}
	return nil
}

// AppendLog appends a message to the job's bounded log buffer. Messages
// over 500 chars are truncated to exactly 500, ellipsis marker
// included; when the buffer reaches 1000 entries the oldest 100 are
// dropped first. Lengths count runes, not bytes.
func (m *Manager) AppendLog(id string, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.lookupLocked(id)
	if err != nil {
		return err
	}

	if runes := []rune(message); len(runes) > maxLogMessage {
		message = string(runes[:maxLogMessage-3]) + "..."
	}
	if len(j.Logs) >= maxLogEntries {
		j.Logs = append(j.Logs[:0], j.Logs[logTrimCount:]...)
	}
	j.Logs = append(j.Logs, LogEntry{Time: time.Now().UTC(), Message: message})
	return nil
}

// SetOutput records the finished artifact path. Called only after a
// successful merge.
func (m *Manager) SetOutput(id, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.lookupLocked(id)
	if err != nil {
		return err
	}
	if j.Status.Terminal() {
		return ErrTerminal
	}
	j.OutputPath = path
	return nil
}

// SetError records a failure message, truncated to 1000 chars.
func (m *Manager) SetError(id, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.lookupLocked(id)
	if err != nil {
		return err
	}
	if runes := []rune(message); len(runes) > maxErrorLen {
		message = string(runes[:maxErrorLen])
	}
	j.Error = message
	return nil
}

// SetQuality attaches the final quality report.
func (m *Manager) SetQuality(id string, report *quality.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.lookupLocked(id)
	if err != nil {
		return err
	}
	j.Quality = report.Clone()
	return nil
}

// Cancel marks the job for cancellation. It returns true when the mark
// was set, false when the job is already terminal. The mark itself does
// not stop work; workers poll IsCancelled at checkpoints.
func (m *Manager) Cancel(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.lookupLocked(id)
	if err != nil {
		return false, err
	}
	if j.Status.Terminal() {
		return false, nil
	}
	m.cancelled[id] = struct{}{}
	lg := log.WithComponent("jobs")
	lg.Info().Str("job_id", id).Msg("cancellation requested")
	return true, nil
}

// IsCancelled reports whether cancellation was requested for the job.
// Unknown ids report false.
func (m *Manager) IsCancelled(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.cancelled[id]
	return ok
}

// ActiveCount returns the number of queued or processing jobs.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, j := range m.jobs {
		if !j.Status.Terminal() {
			n++
		}
	}
	return n
}

// TotalCount returns the registry size.
func (m *Manager) TotalCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

// purgeStaleLocked removes expired terminal jobs once the registry
// exceeds its cap. Caller holds m.mu.
func (m *Manager) purgeStaleLocked() {
	if len(m.jobs) < m.maxJobs {
		return
	}
	cutoff := time.Now().UTC().Add(-m.expiry)
	kept := m.order[:0]
	for _, id := range m.order {
		j, ok := m.jobs[id]
		if !ok {
			continue
		}
		if j.Status.Terminal() && j.CompletedAt.Before(cutoff) {
			delete(m.jobs, id)
			delete(m.cancelled, id)
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
}
