// SPDX-License-Identifier: MIT

package jobs

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/renameio/v2"

	"github.com/vodub/vodub/internal/log"
)

// snapshot is the on-disk registry format.
type snapshot struct {
	SavedAt time.Time `json:"saved_at"`
	Jobs    []*job    `json:"jobs"`
}

// SaveSnapshot writes the registry to path atomically. Called on
// terminal transitions and at shutdown; losing a snapshot costs only
// history, never correctness.
func (m *Manager) SaveSnapshot(path string) error {
	m.mu.Lock()
	snap := snapshot{SavedAt: time.Now().UTC(), Jobs: make([]*job, 0, len(m.jobs))}
	for _, id := range m.order {
		if j, ok := m.jobs[id]; ok {
			cp := *j
			cp.Logs = append([]LogEntry(nil), j.Logs...)
			cp.Quality = j.Quality.Clone()
			snap.Jobs = append(snap.Jobs, &cp)
		}
	}
	m.mu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal job snapshot: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write job snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot restores the registry from a previous run. Jobs that were
// still processing are marked failed: their workers are gone.
func (m *Manager) LoadSnapshot(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read job snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode job snapshot: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	restored, interrupted := 0, 0
	for _, j := range snap.Jobs {
		if j == nil || j.ID == "" {
			continue
		}
		if _, exists := m.jobs[j.ID]; exists {
			continue
		}
		if !j.Status.Terminal() {
			j.Status = StatusFailed
			j.Error = "interrupted by service restart"
			j.CompletedAt = time.Now().UTC()
			interrupted++
		}
		m.jobs[j.ID] = j
		m.order = append(m.order, j.ID)
		restored++
	}

	lg := log.WithComponent("jobs")

	lg.Info().
		Int("restored", restored).
		Int("interrupted", interrupted).
		Msg("job registry restored from snapshot")
	return nil
}
