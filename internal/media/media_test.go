// SPDX-License-Identifier: MIT

package media

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateArgPath(t *testing.T) {
	valid := []string{
		"/data/uploads/abc123_video.mp4",
		"relative/file.wav",
		"file..with..dots.mp4",
	}
	for _, p := range valid {
		assert.NoError(t, ValidateArgPath(p), p)
	}

	invalid := []string{
		"",
		"/data/../etc/passwd",
		"..",
		"/data/up\x00loads/a.mp4",
		"/data/evil|rm.mp4",
		"/data/a;b.mp4",
		"/data/$(boom).mp4",
		"/data/tick`tock.mp4",
		"/data/-loglevel.mp4",
	}
	for _, p := range invalid {
		assert.Error(t, ValidateArgPath(p), p)
	}
}

func TestBuildAtempoChain(t *testing.T) {
	cases := []struct {
		factor float64
		want   string
	}{
		{1.5, "atempo=1.500000"},
		{0.5, "atempo=0.500000"},
		{2.0, "atempo=2.000000"},
		// Below the filter minimum: chain two instances.
		{0.25, "atempo=0.500000,atempo=0.500000"},
		{0.4, "atempo=0.500000,atempo=0.800000"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, BuildAtempoChain(c.factor), "factor %f", c.factor)
	}
}

func TestBuildAtempoChainExtreme(t *testing.T) {
	// Every instance in the chain must stay within [0.5, 100].
	chain := BuildAtempoChain(0.1)
	for _, part := range strings.Split(chain, ",") {
		f, err := strconv.ParseFloat(strings.TrimPrefix(part, "atempo="), 64)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, f, 0.5)
		assert.LessOrEqual(t, f, 100.0)
	}
}

func TestRunCapturesStderrAndExitCode(t *testing.T) {
	// sh -c used only inside the test to fabricate a failing process.
	out, err := Run(context.Background(), "sh", []string{"-c", "echo to-stdout; echo to-stderr 1>&2; exit 3"}, 5*time.Second)
	require.Error(t, err)
	assert.Empty(t, out)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Contains(t, exitErr.StderrTail, "to-stderr")
}

func TestRunReturnsStdout(t *testing.T) {
	out, err := Run(context.Background(), "sh", []string{"-c", "echo hello"}, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out)
}

func TestRunTimeout(t *testing.T) {
	start := time.Now()
	_, err := Run(context.Background(), "sleep", []string{"10"}, 200*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 8*time.Second)
}

func TestLineRing(t *testing.T) {
	r := NewLineRing(3)
	_, _ = r.Write([]byte("one\ntwo\n"))
	_, _ = r.Write([]byte("three\nfour\n"))

	assert.Equal(t, []string{"two", "three", "four"}, r.LastN(3))
	assert.Equal(t, []string{"four"}, r.LastN(1))
}

func TestLineRingTailCap(t *testing.T) {
	r := NewLineRing(4)
	_, _ = r.Write([]byte(strings.Repeat("x", 300) + "\n" + strings.Repeat("y", 300) + "\n"))
	tail := r.Tail(4, 500)
	assert.LessOrEqual(t, len(tail), 500)
	assert.True(t, strings.HasSuffix(tail, strings.Repeat("y", 300)))
}
