// SPDX-License-Identifier: MIT

package gate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestMutualExclusion(t *testing.T) {
	g := New(nil)

	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			guard, err := g.Acquire(context.Background(), "stt")
			require.NoError(t, err)
			cur := atomic.AddInt32(&active, 1)
			for {
				prev := atomic.LoadInt32(&maxActive)
				if cur <= prev || atomic.CompareAndSwapInt32(&maxActive, prev, cur) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			guard.Release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxActive), "no two holders may overlap")
}

func TestCleanupRunsOnReleaseAndBetweenAcquisitions(t *testing.T) {
	var calls []string
	var mu sync.Mutex
	g := New(func(label string) {
		mu.Lock()
		calls = append(calls, label)
		mu.Unlock()
	})

	guard, err := g.Acquire(context.Background(), "stt")
	require.NoError(t, err)
	guard.Release()

	guard2, err := g.Acquire(context.Background(), "tts")
	require.NoError(t, err)
	guard2.Release()

	mu.Lock()
	defer mu.Unlock()
	// Release of "stt", pre-grant wipe for "tts", release of "tts".
	assert.Equal(t, []string{"stt", "tts", "tts"}, calls)
}

func TestReleaseIdempotent(t *testing.T) {
	var cleanups int32
	g := New(func(string) { atomic.AddInt32(&cleanups, 1) })

	guard, err := g.Acquire(context.Background(), "stt")
	require.NoError(t, err)
	guard.Release()
	guard.Release()
	guard.Release()

	assert.Equal(t, int32(1), atomic.LoadInt32(&cleanups))

	// The slot must be free again exactly once.
	_, ok := g.TryAcquire("tts")
	assert.True(t, ok)
	_, ok = g.TryAcquire("tts")
	assert.False(t, ok)
}

func TestAcquireFailsFastWhenCancelled(t *testing.T) {
	g := New(nil)
	guard, err := g.Acquire(context.Background(), "stt")
	require.NoError(t, err)
	defer guard.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	_, err = g.Acquire(ctx, "tts")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestBusy(t *testing.T) {
	g := New(nil)
	assert.False(t, g.Busy())

	guard, err := g.Acquire(context.Background(), "stt")
	require.NoError(t, err)
	assert.True(t, g.Busy())

	guard.Release()
	assert.False(t, g.Busy())
}
