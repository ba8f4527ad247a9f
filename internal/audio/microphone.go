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

//go:build portaudio

package audio

import (
	"context"
	"fmt"

	"github.com/gordonklaus/portaudio"
	"github.com/loqalabs/loqa-voice-bridge/internal/logging"
	"go.uber.org/zap"
)

// MicrophoneSource captures the default input device through PortAudio.
type MicrophoneSource struct {
	segmenter SegmenterConfig
}

// NewMicrophoneSource initializes PortAudio
func NewMicrophoneSource(cfg SegmenterConfig) (*MicrophoneSource, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	return &MicrophoneSource{segmenter: cfg}, nil
}

// Open starts a capture stream that runs until ctx is canceled.
func (m *MicrophoneSource) Open(ctx context.Context) (<-chan Segment, error) {
	segmenter := NewSegmenter(m.segmenter)
	in := make([]int16, segmenter.FrameSize())

	stream, err := portaudio.OpenDefaultStream(1, 0, float64(m.segmenter.SampleRate), len(in), in)
	if err != nil {
		return nil, fmt.Errorf("failed to open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("failed to start input stream: %w", err)
	}

	logging.LogDebug("Microphone capture started", zap.Int("sample_rate", m.segmenter.SampleRate))

	out := make(chan Segment)
	go func() {
		defer close(out)
		defer func() {
			if err := stream.Stop(); err != nil {
				logging.LogError(err, "Failed to stop input stream")
			}
			if err := stream.Close(); err != nil {
				logging.LogError(err, "Failed to close input stream")
			}
		}()

		for ctx.Err() == nil {
			if err := stream.Read(); err != nil {
				select {
				case out <- Segment{Err: fmt.Errorf("input stream read failed: %w", err)}:
				case <-ctx.Done():
				}
				return
			}

			if segment, ok := segmenter.Push(FromPCM16(in)); ok {
				select {
				case out <- segment:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close terminates PortAudio
func (m *MicrophoneSource) Close() error {
	return portaudio.Terminate()
}
