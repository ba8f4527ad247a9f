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
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/loqalabs/loqa-voice-bridge/internal/logging"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// WAVSource replays a WAV file as if it were live input. Each Open resumes
// where the previous session stopped; once the file is exhausted every
// further session ends immediately.
type WAVSource struct {
	fs        afero.Fs
	path      string
	segmenter SegmenterConfig
	realtime  bool

	mu       sync.Mutex
	samples  []float32
	position int
	loaded   bool
}

// WAVSourceConfig configures a WAVSource
type WAVSourceConfig struct {
	Fs        afero.Fs
	Path      string
	Segmenter SegmenterConfig
	Realtime  bool // Pace frames at the file's sample rate
}

// NewWAVSource creates a source reading cfg.Path from cfg.Fs (the OS
// filesystem when nil). The file is decoded on first Open.
func NewWAVSource(cfg WAVSourceConfig) (*WAVSource, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("wav source requires a path")
	}
	fs := cfg.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &WAVSource{
		fs:        fs,
		path:      cfg.Path,
		segmenter: cfg.Segmenter,
		realtime:  cfg.Realtime,
	}, nil
}

// Open starts streaming segments from the current position.
func (w *WAVSource) Open(ctx context.Context) (<-chan Segment, error) {
	if err := w.load(); err != nil {
		return nil, err
	}

	out := make(chan Segment)
	go w.stream(ctx, out)
	return out, nil
}

// Rewind moves playback back to the start of the file
func (w *WAVSource) Rewind() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.position = 0
}

// Remaining reports how many samples have not been consumed yet
func (w *WAVSource) Remaining() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.samples) - w.position
}

// Close releases the decoded audio
func (w *WAVSource) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples = nil
	w.position = 0
	w.loaded = false
	return nil
}

func (w *WAVSource) load() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.loaded {
		return nil
	}

	samples, rate, err := DecodeWAV(w.fs, w.path)
	if err != nil {
		return err
	}
	if w.segmenter.SampleRate == 0 {
		w.segmenter.SampleRate = rate
	} else if rate != w.segmenter.SampleRate {
		logging.LogWarn("WAV sample rate differs from configured rate",
			zap.String("path", w.path),
			zap.Int("file_rate", rate),
			zap.Int("configured_rate", w.segmenter.SampleRate),
		)
		w.segmenter.SampleRate = rate
	}

	w.samples = samples
	w.position = 0
	w.loaded = true

	logging.LogDebug("WAV source loaded",
		zap.String("path", w.path),
		zap.Int("samples", len(samples)),
		zap.Int("sample_rate", rate),
	)
	return nil
}

// next returns the next frame and advances the position
func (w *WAVSource) next(size int) ([]float32, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.position >= len(w.samples) {
		return nil, false
	}
	end := min(w.position+size, len(w.samples))
	frame := w.samples[w.position:end]
	w.position = end
	return frame, true
}

func (w *WAVSource) stream(ctx context.Context, out chan<- Segment) {
	defer close(out)

	segmenter := NewSegmenter(w.segmenter)
	frameDuration := time.Duration(segmenter.FrameSize()) * time.Second / time.Duration(w.segmenter.SampleRate)

	send := func(segment Segment) bool {
		select {
		case out <- segment:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		if ctx.Err() != nil {
			return
		}

		frame, ok := w.next(segmenter.FrameSize())
		if !ok {
			if segment, ok := segmenter.Flush(); ok {
				send(segment)
			}
			return
		}

		if segment, ok := segmenter.Push(frame); ok {
			if !send(segment) {
				return
			}
		}

		if w.realtime {
			select {
			case <-time.After(frameDuration):
			case <-ctx.Done():
				return
			}
		}
	}
}
