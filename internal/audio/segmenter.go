/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package audio

import (
	"math"
	"time"

	"github.com/mjibson/go-dsp/window"
)

// SegmenterConfig tunes voice activity detection.
type SegmenterConfig struct {
	SampleRate        int
	FrameSize         int           // Samples per analysis frame
	SilenceThreshold  float64       // Windowed RMS at or above this counts as speech
	SilenceDuration   time.Duration // Trailing silence that ends a segment
	MinSpeechDuration time.Duration // Voiced audio shorter than this is discarded
	PreRollFrames     int           // Frames kept from before speech onset
}

// DefaultSegmenterConfig returns settings suited to 16kHz close-talk audio.
func DefaultSegmenterConfig() SegmenterConfig {
	return SegmenterConfig{
		SampleRate:        DefaultSampleRate,
		FrameSize:         512,
		SilenceThreshold:  0.01,
		SilenceDuration:   700 * time.Millisecond,
		MinSpeechDuration: 200 * time.Millisecond,
		PreRollFrames:     4,
	}
}

// Segmenter cuts a stream of frames into utterances using the energy of
// Hamming-windowed frames.
type Segmenter struct {
	cfg     SegmenterConfig
	window  []float64
	norm    float64
	preRoll *ringBuffer

	inSpeech      bool
	speech        []float32
	voicedSamples int
	silentSamples int

	silenceSamples   int
	minSpeechSamples int
}

// NewSegmenter creates a segmenter, filling zero config values with defaults.
func NewSegmenter(cfg SegmenterConfig) *Segmenter {
	defaults := DefaultSegmenterConfig()
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaults.SampleRate
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = defaults.FrameSize
	}
	if cfg.SilenceThreshold <= 0 {
		cfg.SilenceThreshold = defaults.SilenceThreshold
	}
	if cfg.SilenceDuration <= 0 {
		cfg.SilenceDuration = defaults.SilenceDuration
	}
	if cfg.PreRollFrames < 0 {
		cfg.PreRollFrames = 0
	}

	w := window.Hamming(cfg.FrameSize)
	var norm float64
	for _, v := range w {
		norm += v * v
	}

	return &Segmenter{
		cfg:              cfg,
		window:           w,
		norm:             norm,
		preRoll:          newRingBuffer(cfg.PreRollFrames * cfg.FrameSize),
		silenceSamples:   samplesFor(cfg.SilenceDuration, cfg.SampleRate),
		minSpeechSamples: samplesFor(cfg.MinSpeechDuration, cfg.SampleRate),
	}
}

// FrameSize returns the number of samples Push expects per call
func (s *Segmenter) FrameSize() int {
	return s.cfg.FrameSize
}

// Energy returns the windowed RMS of frame. Frames shorter than the
// configured size are treated as zero-padded.
func (s *Segmenter) Energy(frame []float32) float64 {
	if len(frame) == 0 || s.norm == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < len(frame) && i < len(s.window); i++ {
		v := float64(frame[i]) * s.window[i]
		sum += v * v
	}
	return math.Sqrt(sum / s.norm)
}

// Push feeds one frame and returns a segment when trailing silence closes one.
func (s *Segmenter) Push(frame []float32) (Segment, bool) {
	voiced := s.Energy(frame) >= s.cfg.SilenceThreshold

	if !s.inSpeech {
		if !voiced {
			s.preRoll.Add(frame)
			return Segment{}, false
		}
		s.inSpeech = true
		s.speech = append(s.speech[:0], s.preRoll.Read()...)
		s.preRoll.Clear()
	}

	s.speech = append(s.speech, frame...)
	if voiced {
		s.voicedSamples += len(frame)
		s.silentSamples = 0
		return Segment{}, false
	}

	s.silentSamples += len(frame)
	if s.silentSamples < s.silenceSamples {
		return Segment{}, false
	}
	return s.finish()
}

// Flush closes any open segment, as at end of input.
func (s *Segmenter) Flush() (Segment, bool) {
	if !s.inSpeech {
		return Segment{}, false
	}
	return s.finish()
}

// Reset drops buffered audio.
func (s *Segmenter) Reset() {
	s.inSpeech = false
	s.speech = nil
	s.voicedSamples = 0
	s.silentSamples = 0
	s.preRoll.Clear()
}

func (s *Segmenter) finish() (Segment, bool) {
	voiced := s.voicedSamples
	samples := s.speech
	s.inSpeech = false
	s.speech = nil
	s.voicedSamples = 0
	s.silentSamples = 0

	if voiced < s.minSpeechSamples {
		return Segment{}, false
	}
	return Segment{Samples: samples, SampleRate: s.cfg.SampleRate}, true
}

func samplesFor(d time.Duration, sampleRate int) int {
	return int(d.Seconds() * float64(sampleRate))
}

// ringBuffer keeps the most recent samples up to its capacity.
type ringBuffer struct {
	buffer []float32
	head   int
	size   int
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{buffer: make([]float32, capacity)}
}

func (r *ringBuffer) Add(samples []float32) {
	if len(r.buffer) == 0 {
		return
	}
	for _, v := range samples {
		r.buffer[r.head] = v
		r.head = (r.head + 1) % len(r.buffer)
		if r.size < len(r.buffer) {
			r.size++
		}
	}
}

// Read returns buffered samples oldest first.
func (r *ringBuffer) Read() []float32 {
	out := make([]float32, r.size)
	start := (r.head - r.size + len(r.buffer)) % max(len(r.buffer), 1)
	for i := 0; i < r.size; i++ {
		out[i] = r.buffer[(start+i)%len(r.buffer)]
	}
	return out
}

func (r *ringBuffer) Clear() {
	r.head = 0
	r.size = 0
}
