// SPDX-License-Identifier: MIT

package jobs

import (
	"os"
	"path/filepath"

	"github.com/vodub/vodub/internal/log"
)

// SweepOrphans removes regular files in the given directories that no
// registered job references as input or output. Run once at startup,
// after LoadSnapshot, so crashed uploads and outputs of purged jobs do
// not accumulate. Returns the number of files removed.
func (m *Manager) SweepOrphans(dirs ...string) int {
	referenced := make(map[string]struct{})
	m.mu.Lock()
	for _, j := range m.jobs {
		for _, p := range []string{j.InputPath, j.OutputPath} {
			if p == "" {
				continue
			}
			if abs, err := filepath.Abs(p); err == nil {
				referenced[abs] = struct{}{}
			}
		}
	}
	m.mu.Unlock()

	logger := log.WithComponent("jobs")
	removed := 0
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			abs, err := filepath.Abs(filepath.Join(dir, e.Name()))
			if err != nil {
				continue
			}
			if _, ok := referenced[abs]; ok {
				continue
			}
			if err := os.Remove(abs); err != nil {
				logger.Warn().Err(err).Str("file", abs).Msg("orphan file not removed")
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		logger.Info().Int("removed", removed).Msg("swept orphaned files")
	}
	return removed
}
