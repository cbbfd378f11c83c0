// SPDX-License-Identifier: MIT

package jobs

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/vodub/vodub/internal/quality"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestManager() *Manager {
	return NewManager(1000, 24*time.Hour)
}

func defaultSettings() Settings {
	return Settings{
		SourceLang: "ko",
		TargetLang: "en",
		SyncMode:   SyncSpeed,
	}
}

func TestCreateAndGet(t *testing.T) {
	m := newTestManager()
	id := m.Create(defaultSettings(), "/tmp/in.mp4")

	u, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(4), u.Version())

	v, err := m.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, v.Status)
	assert.Equal(t, 0, v.Progress)
	assert.Equal(t, "ko", v.Settings.SourceLang)
}

func TestGetRejectsBadIDs(t *testing.T) {
	m := newTestManager()

	_, err := m.Get("not-a-uuid")
	assert.ErrorIs(t, err, ErrNotFound)

	// Valid v4 shape but unknown.
	_, err = m.Get(uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)

	// v1 UUIDs are rejected even if syntactically valid.
	v1 := "f47ac10b-58cc-1372-a567-0e02b2c3d479"
	_, err = m.Get(v1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTerminalStatusNeverRevised(t *testing.T) {
	m := newTestManager()
	id := m.Create(defaultSettings(), "in.mp4")

	require.NoError(t, m.UpdateStatus(id, StatusProcessing))
	require.NoError(t, m.UpdateStatus(id, StatusCompleted))

	assert.ErrorIs(t, m.UpdateStatus(id, StatusFailed), ErrTerminal)
	assert.ErrorIs(t, m.UpdateStatus(id, StatusProcessing), ErrTerminal)

	// Same-status update stays a no-op.
	assert.NoError(t, m.UpdateStatus(id, StatusCompleted))

	v, err := m.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, v.Status)
	assert.False(t, v.CompletedAt.IsZero())
}

func TestProgressMonotonicAndClamped(t *testing.T) {
	m := newTestManager()
	id := m.Create(defaultSettings(), "in.mp4")

	require.NoError(t, m.SetProgress(id, 40))
	require.NoError(t, m.SetProgress(id, 20)) // ignored
	require.NoError(t, m.SetProgress(id, 150))

	v, err := m.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 100, v.Progress)

	id2 := m.Create(defaultSettings(), "in.mp4")
	require.NoError(t, m.SetProgress(id2, -5))
	v2, _ := m.Get(id2)
	assert.Equal(t, 0, v2.Progress)
}

func TestLogTrimming(t *testing.T) {
	m := newTestManager()
	id := m.Create(defaultSettings(), "in.mp4")

	for i := 0; i < 1050; i++ {
		require.NoError(t, m.AppendLog(id, fmt.Sprintf("entry %d", i)))
	}

	v, err := m.Get(id)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(v.Logs), 1000)
	// After the trim at entry 1000, entries 0..99 are gone.
	assert.Equal(t, "entry 100", v.Logs[0].Message)
	assert.Equal(t, "entry 1049", v.Logs[len(v.Logs)-1].Message)
}

func TestLogMessageTruncation(t *testing.T) {
	m := newTestManager()
	id := m.Create(defaultSettings(), "in.mp4")

	long := strings.Repeat("x", 700)
	require.NoError(t, m.AppendLog(id, long))

	v, _ := m.Get(id)
	require.Len(t, v.Logs, 1)
	assert.Len(t, v.Logs[0].Message, 500)
	assert.True(t, strings.HasSuffix(v.Logs[0].Message, "..."))
}

func TestLogMessageTruncationCountsRunes(t *testing.T) {
	m := newTestManager()
	id := m.Create(defaultSettings(), "in.mp4")

	// 700 Korean runes are 2100 bytes; the cap counts runes and must
	// not split one.
	require.NoError(t, m.AppendLog(id, strings.Repeat("한", 700)))

	v, _ := m.Get(id)
	require.Len(t, v.Logs, 1)
	got := v.Logs[0].Message
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, 500, utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestSetErrorTruncatesOnRuneBoundary(t *testing.T) {
	m := newTestManager()
	id := m.Create(defaultSettings(), "in.mp4")

	require.NoError(t, m.SetError(id, strings.Repeat("오", 1500)))

	v, _ := m.Get(id)
	assert.True(t, utf8.ValidString(v.Error))
	assert.Equal(t, 1000, utf8.RuneCountInString(v.Error))
}

func TestCancelIdempotentAndTerminalNoop(t *testing.T) {
	m := newTestManager()
	id := m.Create(defaultSettings(), "in.mp4")

	ok, err := m.Cancel(id)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, m.IsCancelled(id))

	// Second cancel is a deterministic no-op.
	ok, err = m.Cancel(id)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, m.UpdateStatus(id, StatusCancelled))
	ok, err = m.Cancel(id)
	require.NoError(t, err)
	assert.False(t, ok, "cancelling a terminal job is a no-op")
}

func TestSnapshotIsolation(t *testing.T) {
	m := newTestManager()
	id := m.Create(defaultSettings(), "in.mp4")
	require.NoError(t, m.AppendLog(id, "first"))

	v1, err := m.Get(id)
	require.NoError(t, err)
	v1.Logs[0].Message = "mutated"
	v1.Settings.TargetLang = "xx"

	v2, err := m.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "first", v2.Logs[0].Message)
	assert.Equal(t, "en", v2.Settings.TargetLang)
}

func TestRepolledCompletedJobIsStable(t *testing.T) {
	m := newTestManager()
	id := m.Create(defaultSettings(), "in.mp4")
	require.NoError(t, m.UpdateStatus(id, StatusProcessing))
	require.NoError(t, m.SetOutput(id, "/out/final.mp4"))
	require.NoError(t, m.UpdateStatus(id, StatusCompleted))

	a, err := m.Get(id)
	require.NoError(t, err)
	b, err := m.Get(id)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, "/out/final.mp4", a.OutputPath)
}

func TestConcurrentMutation(t *testing.T) {
	m := newTestManager()
	id := m.Create(defaultSettings(), "in.mp4")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = m.AppendLog(id, fmt.Sprintf("worker %d", n))
			_ = m.SetProgress(id, n*5)
			_, _ = m.Get(id)
		}(i)
	}
	wg.Wait()

	v, err := m.Get(id)
	require.NoError(t, err)
	assert.Len(t, v.Logs, 20)
}

func TestSetQualityDeepCopies(t *testing.T) {
	m := newTestManager()
	id := m.Create(defaultSettings(), "in.mp4")

	rep := &quality.Report{OverallScore: 88, Recommendation: quality.Approved, Issues: []string{"minor"}}
	require.NoError(t, m.SetQuality(id, rep))
	rep.Issues[0] = "mutated"

	v, _ := m.Get(id)
	require.NotNil(t, v.Quality)
	assert.Equal(t, "minor", v.Quality.Issues[0])
}

func TestSnapshotRoundTripMarksInterrupted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "jobs.json")

	m := newTestManager()
	done := m.Create(defaultSettings(), "a.mp4")
	require.NoError(t, m.UpdateStatus(done, StatusProcessing))
	require.NoError(t, m.UpdateStatus(done, StatusCompleted))

	running := m.Create(defaultSettings(), "b.mp4")
	require.NoError(t, m.UpdateStatus(running, StatusProcessing))

	require.NoError(t, m.SaveSnapshot(path))

	m2 := newTestManager()
	require.NoError(t, m2.LoadSnapshot(path))

	v, err := m2.Get(done)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, v.Status)

	v, err = m2.Get(running)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, v.Status)
	assert.Contains(t, v.Error, "restart")
}

func TestPurgeStale(t *testing.T) {
	m := NewManager(3, time.Millisecond)
	var ids []string
	for i := 0; i < 3; i++ {
		id := m.Create(defaultSettings(), "in.mp4")
		require.NoError(t, m.UpdateStatus(id, StatusProcessing))
		require.NoError(t, m.UpdateStatus(id, StatusCompleted))
		ids = append(ids, id)
	}
	time.Sleep(5 * time.Millisecond)

	// Creation at the cap triggers the purge of expired terminal jobs.
	fresh := m.Create(defaultSettings(), "in.mp4")

	for _, id := range ids {
		_, err := m.Get(id)
		assert.ErrorIs(t, err, ErrNotFound)
	}
	_, err := m.Get(fresh)
	assert.NoError(t, err)
}
