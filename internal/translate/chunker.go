// SPDX-License-Identifier: MIT

package translate

import "github.com/vodub/vodub/internal/engine/stt"

const (
	// chunkTarget is the joined length at which a chunk is emitted.
	chunkTarget = 400
	// chunkMax is never exceeded by adding another segment. A single
	// segment longer than this stands alone.
	chunkMax = 800
)

// Chunk is a run of consecutive transcript segments translated in one
// model call. Timing stays attached so the assembler can place each
// translated segment on the original timeline.
type Chunk struct {
	Segments []stt.Segment
}

// SourceTexts returns the segment texts in order.
func (c *Chunk) SourceTexts() []string {
	out := make([]string, len(c.Segments))
	for i, s := range c.Segments {
		out[i] = s.Text
	}
	return out
}

// joinedLen is the projected length of the segment texts joined with
// single newlines.
func joinedLen(segs []stt.Segment) int {
	n := 0
	for i, s := range segs {
		if i > 0 {
			n++
		}
		n += len(s.Text)
	}
	return n
}

// BuildChunks walks the transcript accumulating segments until the
// joined length reaches chunkTarget, never growing past chunkMax by
// adding a segment. Oversized single segments form their own chunk.
func BuildChunks(segments []stt.Segment) []Chunk {
	var chunks []Chunk
	var cur []stt.Segment

	flush := func() {
		if len(cur) > 0 {
			chunks = append(chunks, Chunk{Segments: cur})
			cur = nil
		}
	}

	for _, seg := range segments {
		if seg.Text == "" {
			continue
		}
		if len(cur) > 0 && joinedLen(cur)+1+len(seg.Text) > chunkMax {
			flush()
		}
		cur = append(cur, seg)
		if joinedLen(cur) >= chunkTarget {
			flush()
		}
	}
	flush()
	return chunks
}
