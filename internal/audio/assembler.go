// SPDX-License-Identifier: MIT

package audio

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/vodub/vodub/internal/engine/tts"
	"github.com/vodub/vodub/internal/jobs"
	"github.com/vodub/vodub/internal/log"
)

// silenceFloorSec is the minimum inter-segment silence in every mode,
// preventing word collisions between adjacent segments.
const silenceFloorSec = 0.3

// stretchTolerance skips tempo correction for segments already within
// 2% of their window.
const stretchTolerance = 0.02

// Stretcher changes audio tempo without pitch shift. Satisfied by
// media.Processor; factor > 1 speeds up.
type Stretcher interface {
	TimeStretchAudio(ctx context.Context, inWav, outWav string, factor float64) error
}

// Piece is one synthesized segment with its original-transcript window.
type Piece struct {
	Audio *tts.Audio
	Start float64
	End   float64
}

// Track is the assembled output.
type Track struct {
	WAV      []byte
	Duration float64

	// StretchFactor is the video stretch the mux stage must apply.
	// 1.0 in every mode except video-stretch.
	StretchFactor float64
}

// Assembler places synthesized segments on the source timeline.
type Assembler struct {
	stretcher  Stretcher
	sampleRate int
	workDir    string
}

// NewAssembler creates an assembler emitting at sampleRate. workDir
// holds the temp files of tempo correction; empty uses the system
// default.
func NewAssembler(stretcher Stretcher, sampleRate int, workDir string) *Assembler {
	return &Assembler{stretcher: stretcher, sampleRate: sampleRate, workDir: workDir}
}

// Assemble builds one mono track from the pieces according to the sync
// mode. videoDuration is the source video length in seconds.
func (a *Assembler) Assemble(ctx context.Context, pieces []Piece, mode jobs.SyncMode, videoDuration float64) (*Track, error) {
	if len(pieces) == 0 {
		return nil, fmt.Errorf("audio: no segments to assemble")
	}

	decoded := make([][]int16, len(pieces))
	for i, p := range pieces {
		samples, rate, err := DecodeWAV(p.Audio.WAV)
		if err != nil {
			return nil, fmt.Errorf("audio: segment %d: %w", i, err)
		}
		decoded[i] = Resample(samples, rate, a.sampleRate)
	}

	var (
		track   []int16
		stretch = 1.0
		err     error
	)
	switch mode {
	case jobs.SyncNatural:
		track = a.assembleNatural(pieces, decoded, videoDuration)
	case jobs.SyncSpeed:
		track, err = a.assembleSpeedSync(ctx, pieces, decoded, videoDuration)
	case jobs.SyncVideoStretch:
		track, stretch = a.assembleVideoStretch(decoded, videoDuration)
	default:
		return nil, fmt.Errorf("audio: unknown sync mode %q", mode)
	}
	if err != nil {
		return nil, err
	}

	NormalizeRMS(track)
	return &Track{
		WAV:           EncodeWAV(track, a.sampleRate),
		Duration:      float64(len(track)) / float64(a.sampleRate),
		StretchFactor: stretch,
	}, nil
}

// assembleNatural places each segment at its original start, pushing
// later segments out when a synthesized segment overruns its window.
// The tail may drift past the video end.
func (a *Assembler) assembleNatural(pieces []Piece, decoded [][]int16, videoDuration float64) []int16 {
	floor := a.seconds(silenceFloorSec)
	var track []int16
	for i, p := range pieces {
		target := a.seconds(p.Start)
		min := len(track)
		if min > 0 {
			min += floor
		}
		if target < min {
			target = min // drift: previous segment overran its window
		}
		track = appendSilence(track, target-len(track))
		track = append(track, decoded[i]...)
	}
	if end := a.seconds(videoDuration); len(track) < end {
		track = appendSilence(track, end-len(track))
	}
	return track
}

// assembleSpeedSync compresses overlong segments into their windows so
// the track never drifts and ends exactly at the video duration.
func (a *Assembler) assembleSpeedSync(ctx context.Context, pieces []Piece, decoded [][]int16, videoDuration float64) ([]int16, error) {
	logger := log.WithComponentFromContext(ctx, "audio")
	floor := a.seconds(silenceFloorSec)
	end := a.seconds(videoDuration)

	var track []int16
	for i, p := range pieces {
		// The usable window runs to the next segment's start (minus the
		// silence floor) or the video end for the last segment.
		windowEnd := videoDuration
		if i+1 < len(pieces) {
			windowEnd = pieces[i+1].Start - silenceFloorSec
		}
		window := windowEnd - p.Start
		if window <= 0 {
			window = p.End - p.Start
		}

		segDur := float64(len(decoded[i])) / float64(a.sampleRate)
		if window > 0 && segDur > window*(1+stretchTolerance) {
			factor := segDur / window
			logger.Debug().
				Int("segment", i).
				Float64("factor", factor).
				Msg("compressing overlong segment")
			compressed, err := a.stretchSamples(ctx, decoded[i], factor)
			if err != nil {
				return nil, fmt.Errorf("audio: compress segment %d: %w", i, err)
			}
			decoded[i] = compressed
		}

		target := a.seconds(p.Start)
		min := len(track)
		if min > 0 {
			min += floor
		}
		if target < min {
			target = min
		}
		track = appendSilence(track, target-len(track))
		track = append(track, decoded[i]...)
	}

	if len(track) < end {
		track = appendSilence(track, end-len(track))
	} else if len(track) > end {
		track = track[:end]
	}
	return track, nil
}

// assembleVideoStretch lays segments end to end and reports the factor
// the mux stage must stretch the video by.
func (a *Assembler) assembleVideoStretch(decoded [][]int16, videoDuration float64) ([]int16, float64) {
	floor := a.seconds(silenceFloorSec)
	var track []int16
	for i, samples := range decoded {
		if i > 0 {
			track = appendSilence(track, floor)
		}
		track = append(track, samples...)
	}
	stretch := 1.0
	if videoDuration > 0 {
		stretch = (float64(len(track)) / float64(a.sampleRate)) / videoDuration
	}
	return track, stretch
}

// stretchSamples round-trips one segment through the tempo filter.
func (a *Assembler) stretchSamples(ctx context.Context, samples []int16, factor float64) ([]int16, error) {
	if a.stretcher == nil {
		// No stretcher available; fall back to decimation. Pitch rises
		// but timing holds.
		return Resample(samples, int(float64(a.sampleRate)*factor), a.sampleRate), nil
	}

	dir, err := os.MkdirTemp(a.workDir, "stretch-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "in.wav")
	out := filepath.Join(dir, "out.wav")
	if err := os.WriteFile(in, EncodeWAV(samples, a.sampleRate), 0o644); err != nil {
		return nil, err
	}
	if err := a.stretcher.TimeStretchAudio(ctx, in, out, factor); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(out)
	if err != nil {
		return nil, err
	}
	stretched, rate, err := DecodeWAV(data)
	if err != nil {
		return nil, err
	}
	return Resample(stretched, rate, a.sampleRate), nil
}

func (a *Assembler) seconds(s float64) int {
	return int(math.Round(s * float64(a.sampleRate)))
}

func appendSilence(track []int16, n int) []int16 {
	if n <= 0 {
		return track
	}
	return append(track, make([]int16, n)...)
}
