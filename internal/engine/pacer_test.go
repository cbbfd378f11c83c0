// SPDX-License-Identifier: MIT

package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaceAdmitsBurstImmediately(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	for i := 0; i < paceBurst; i++ {
		require.NoError(t, Pace(ctx, "pace-burst-test"))
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestPaceHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Pace(ctx, "pace-cancel-test")
	require.Error(t, err)
}

func TestCallPacedQuotaReturnsWithoutRetry(t *testing.T) {
	calls := 0
	err := CallPaced(context.Background(), "pace-quota-test", func() error {
		calls++
		return errors.New("429 too many requests")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
