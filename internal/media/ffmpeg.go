// SPDX-License-Identifier: MIT

package media

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// TargetSampleRate is the rate all intermediate audio is normalized to.
// Matches what the STT models expect and what the mux stage encodes from.
const TargetSampleRate = 16000

// atempo accepts factors in [0.5, 100.0] per filter instance; factors
// outside the range are reached by chaining.
const (
	atempoMin = 0.5
	atempoMax = 100.0

	// speedTolerance is the factor band around 1.0 treated as "no
	// adjustment needed".
	speedTolerance = 0.02
)

// Processor invokes ffmpeg/ffprobe with fixed argument vectors.
type Processor struct {
	FFmpegBin    string
	FFprobeBin   string
	MediaTimeout time.Duration // per ffmpeg invocation
	ProbeTimeout time.Duration // per ffprobe invocation
}

// NewProcessor creates a Processor with the given binaries and timeouts.
func NewProcessor(ffmpegBin, ffprobeBin string, mediaTimeout, probeTimeout time.Duration) *Processor {
	if ffmpegBin == "" {
		ffmpegBin = "ffmpeg"
	}
	if ffprobeBin == "" {
		ffprobeBin = "ffprobe"
	}
	if mediaTimeout <= 0 {
		mediaTimeout = 600 * time.Second
	}
	if probeTimeout <= 0 {
		probeTimeout = 30 * time.Second
	}
	return &Processor{
		FFmpegBin:    ffmpegBin,
		FFprobeBin:   ffprobeBin,
		MediaTimeout: mediaTimeout,
		ProbeTimeout: probeTimeout,
	}
}

func validatePaths(paths ...string) error {
	for _, p := range paths {
		if err := ValidateArgPath(p); err != nil {
			return err
		}
	}
	return nil
}

// ExtractAudio demuxes the spoken track of a video into a 16 kHz mono
// PCM WAV, the input format for every STT engine.
func (p *Processor) ExtractAudio(ctx context.Context, videoPath, outWav string) error {
	if err := validatePaths(videoPath, outWav); err != nil {
		return err
	}
	args := []string{
		"-y", "-i", videoPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(TargetSampleRate),
		"-ac", "1",
		outWav,
	}
	_, err := Run(ctx, p.FFmpegBin, args, p.MediaTimeout)
	return err
}

// NormalizeAudio converts an audio-only input (mp3/flac/ogg/wav) to the
// same 16 kHz mono WAV the extract stage produces.
func (p *Processor) NormalizeAudio(ctx context.Context, audioPath, outWav string) error {
	return p.ExtractAudio(ctx, audioPath, outWav)
}

// MergeAudio muxes the dubbed track onto the original video. The video
// stream is copied untouched; audio is padded with silence to the video
// duration and encoded as AAC.
func (p *Processor) MergeAudio(ctx context.Context, videoPath, audioPath, outPath string, videoDuration float64) error {
	if err := validatePaths(videoPath, audioPath, outPath); err != nil {
		return err
	}
	args := []string{
		"-y",
		"-i", videoPath,
		"-i", audioPath,
		"-c:v", "copy",
		"-af", "apad",
		"-c:a", "aac",
		"-b:a", "192k",
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-t", formatSeconds(videoDuration),
		outPath,
	}
	_, err := Run(ctx, p.FFmpegBin, args, p.MediaTimeout)
	return err
}

// MergeVideoStretch re-times the video by stretchFactor so it matches
// the synthesized audio laid end-to-end, then muxes. Re-encode is
// unavoidable here.
func (p *Processor) MergeVideoStretch(ctx context.Context, videoPath, audioPath, outPath string, stretchFactor float64) error {
	if err := validatePaths(videoPath, audioPath, outPath); err != nil {
		return err
	}
	if stretchFactor <= 0 {
		return fmt.Errorf("stretch factor must be positive, got %f", stretchFactor)
	}
	args := []string{
		"-y",
		"-i", videoPath,
		"-i", audioPath,
		"-filter:v", fmt.Sprintf("setpts=%s*PTS", formatFactor(stretchFactor)),
		"-c:v", "libx264",
		"-preset", "medium",
		"-crf", "23",
		"-c:a", "aac",
		"-b:a", "192k",
		"-map", "0:v:0",
		"-map", "1:a:0",
		outPath,
	}
	_, err := Run(ctx, p.FFmpegBin, args, p.MediaTimeout)
	return err
}

// EncodeAudioOutput encodes the assembled WAV as the final artifact for
// audio-only inputs (no video to mux onto).
func (p *Processor) EncodeAudioOutput(ctx context.Context, audioPath, outPath string) error {
	if err := validatePaths(audioPath, outPath); err != nil {
		return err
	}
	args := []string{
		"-y", "-i", audioPath,
		"-c:a", "aac",
		"-b:a", "192k",
		outPath,
	}
	_, err := Run(ctx, p.FFmpegBin, args, p.MediaTimeout)
	return err
}

// TimeStretchAudio speeds an audio file up (factor > 1) or slows it
// down (factor < 1) without pitch shift, via a chained atempo filter.
// Factors within the tolerance band are a plain copy.
func (p *Processor) TimeStretchAudio(ctx context.Context, inWav, outWav string, factor float64) error {
	if err := validatePaths(inWav, outWav); err != nil {
		return err
	}
	if factor <= 0 {
		return fmt.Errorf("tempo factor must be positive, got %f", factor)
	}

	var args []string
	if factor > 1-speedTolerance && factor < 1+speedTolerance {
		args = []string{"-y", "-i", inWav, "-c", "copy", outWav}
	} else {
		args = []string{
			"-y", "-i", inWav,
			"-filter:a", BuildAtempoChain(factor),
			"-ar", strconv.Itoa(TargetSampleRate),
			"-ac", "1",
			outWav,
		}
	}
	_, err := Run(ctx, p.FFmpegBin, args, p.MediaTimeout)
	return err
}

// BuildAtempoChain decomposes a tempo factor into chained atempo
// instances, each clamped to the filter's [0.5, 100] legal range.
func BuildAtempoChain(factor float64) string {
	chain := ""
	for factor < atempoMin {
		chain = appendAtempo(chain, atempoMin)
		factor /= atempoMin
	}
	for factor > atempoMax {
		chain = appendAtempo(chain, atempoMax)
		factor /= atempoMax
	}
	return appendAtempo(chain, factor)
}

func appendAtempo(chain string, factor float64) string {
	part := "atempo=" + formatFactor(factor)
	if chain == "" {
		return part
	}
	return chain + "," + part
}

func formatFactor(f float64) string {
	return strconv.FormatFloat(f, 'f', 6, 64)
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}

// probeFormat mirrors the ffprobe -show_format JSON envelope.
type probeFormat struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
	} `json:"streams"`
}

// ProbeDuration returns the container duration in seconds.
func (p *Processor) ProbeDuration(ctx context.Context, path string) (float64, error) {
	if err := ValidateArgPath(path); err != nil {
		return 0, err
	}
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}
	out, err := Run(ctx, p.FFprobeBin, args, p.ProbeTimeout)
	if err != nil {
		return 0, err
	}

	var pf probeFormat
	if err := json.Unmarshal([]byte(out), &pf); err != nil {
		return 0, fmt.Errorf("parse ffprobe output: %w", err)
	}
	dur, err := strconv.ParseFloat(pf.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", pf.Format.Duration, err)
	}
	return dur, nil
}

// HasAudioStream reports whether the file contains at least one audio
// stream. Inputs without one are rejected before the pipeline starts.
func (p *Processor) HasAudioStream(ctx context.Context, path string) (bool, error) {
	if err := ValidateArgPath(path); err != nil {
		return false, err
	}
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		path,
	}
	out, err := Run(ctx, p.FFprobeBin, args, p.ProbeTimeout)
	if err != nil {
		return false, err
	}
	var pf probeFormat
	if err := json.Unmarshal([]byte(out), &pf); err != nil {
		return false, fmt.Errorf("parse ffprobe output: %w", err)
	}
	for _, s := range pf.Streams {
		if s.CodecType == "audio" {
			return true, nil
		}
	}
	return false, nil
}
