// SPDX-License-Identifier: MIT

// Package audio assembles synthesized speech segments into a single
// timeline-aligned track and provides the minimal WAV plumbing that
// takes: decode, encode, resample, normalize.
package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// DecodeWAV parses a RIFF/WAV byte stream into 16-bit mono samples.
// Stereo input is downmixed by averaging.
func DecodeWAV(data []byte) ([]int16, int, error) {
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("audio: not a RIFF/WAVE stream")
	}

	var (
		format     uint16
		channels   uint16
		sampleRate uint32
		bits       uint16
		pcm        []byte
	)

	// Walk the chunk list; fmt must precede data.
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if body+size > len(data) {
			size = len(data) - body // tolerate a truncated final chunk
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, fmt.Errorf("audio: fmt chunk too small")
			}
			format = binary.LittleEndian.Uint16(data[body : body+2])
			channels = binary.LittleEndian.Uint16(data[body+2 : body+4])
			sampleRate = binary.LittleEndian.Uint32(data[body+4 : body+8])
			bits = binary.LittleEndian.Uint16(data[body+14 : body+16])
		case "data":
			pcm = data[body : body+size]
		}
		pos = body + size
		if size%2 == 1 {
			pos++ // chunks are word-aligned
		}
	}

	if pcm == nil {
		return nil, 0, fmt.Errorf("audio: no data chunk")
	}
	if format != 1 || bits != 16 {
		return nil, 0, fmt.Errorf("audio: unsupported format (fmt=%d bits=%d), want 16-bit PCM", format, bits)
	}
	if channels == 0 {
		return nil, 0, fmt.Errorf("audio: zero channels")
	}

	frames := len(pcm) / 2 / int(channels)
	samples := make([]int16, frames)
	for i := 0; i < frames; i++ {
		var acc int32
		for c := 0; c < int(channels); c++ {
			off := (i*int(channels) + c) * 2
			acc += int32(int16(binary.LittleEndian.Uint16(pcm[off : off+2])))
		}
		samples[i] = int16(acc / int32(channels))
	}
	return samples, int(sampleRate), nil
}

// EncodeWAV wraps 16-bit mono samples in a RIFF container.
func EncodeWAV(samples []int16, sampleRate int) []byte {
	dataLen := len(samples) * 2
	buf := bytes.NewBuffer(make([]byte, 0, 44+dataLen))

	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(buf, binary.LittleEndian, uint32(sampleRate*2))
	_ = binary.Write(buf, binary.LittleEndian, uint16(2))
	_ = binary.Write(buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, uint32(dataLen))
	_ = binary.Write(buf, binary.LittleEndian, samples)

	return buf.Bytes()
}

// Resample converts samples between rates by linear interpolation.
// Good enough for speech headed into an AAC mux.
func Resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || len(samples) == 0 {
		return samples
	}
	outLen := int(math.Round(float64(len(samples)) * float64(toRate) / float64(fromRate)))
	out := make([]int16, outLen)
	ratio := float64(fromRate) / float64(toRate)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := pos - float64(idx)
		a := float64(samples[idx])
		b := float64(samples[idx+1])
		out[i] = int16(a + (b-a)*frac)
	}
	return out
}

// targetRMS is the normalization level, roughly -20 dBFS.
const targetRMS = 3276.0

// maxGain bounds amplification so near-silent tracks are not blown up
// into noise.
const maxGain = 8.0

// NormalizeRMS scales the track to the target RMS level in place.
// Samples that would clip are hard-limited.
func NormalizeRMS(samples []int16) {
	if len(samples) == 0 {
		return
	}
	var sum float64
	for _, s := range samples {
		f := float64(s)
		sum += f * f
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms < 1 {
		return // effectively silence
	}
	gain := targetRMS / rms
	if gain > maxGain {
		gain = maxGain
	}
	for i, s := range samples {
		v := float64(s) * gain
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		samples[i] = int16(v)
	}
}
