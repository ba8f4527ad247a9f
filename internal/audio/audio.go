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

// Package audio captures speech segments from a microphone or a WAV file.
package audio

import (
	"context"
	"errors"
	"fmt"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/afero"
)

// DefaultSampleRate is the rate every source delivers segments at.
const DefaultSampleRate = 16000

var (
	// ErrMicrophoneUnavailable is returned when the binary was built without capture support.
	ErrMicrophoneUnavailable = errors.New("microphone capture not available (build with -tags portaudio to enable)")

	// ErrInvalidWAV is returned for files the decoder does not recognize.
	ErrInvalidWAV = errors.New("invalid WAV file")
)

// Segment is one utterance cut out of the input stream. A segment with Err
// set reports a capture failure and is the last value sent on its channel.
type Segment struct {
	Samples    []float32
	SampleRate int
	Err        error
}

// Duration returns the length of the segment's audio
func (s Segment) Duration() time.Duration {
	if s.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(s.Samples)) * time.Second / time.Duration(s.SampleRate)
}

// Source produces speech segments until ctx is canceled or input runs out,
// then closes the channel.
type Source interface {
	Open(ctx context.Context) (<-chan Segment, error)
	Close() error
}

// EncodeWAV writes mono 16-bit PCM to path on fs.
func EncodeWAV(fs afero.Fs, path string, samples []float32, sampleRate int) error {
	file, err := fs.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	encoder := wav.NewEncoder(file, sampleRate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           ToPCM16(samples),
		SourceBitDepth: 16,
	}
	if err := encoder.Write(buf); err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to encode WAV: %w", err)
	}
	if err := encoder.Close(); err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to finalize WAV: %w", err)
	}
	return file.Close()
}

// EncodeWAVBytes returns samples as an in-memory WAV file.
func EncodeWAVBytes(samples []float32, sampleRate int) ([]byte, error) {
	fs := afero.NewMemMapFs()
	if err := EncodeWAV(fs, "audio.wav", samples, sampleRate); err != nil {
		return nil, err
	}
	return afero.ReadFile(fs, "audio.wav")
}

// DecodeWAV reads a PCM WAV file from fs and returns its first channel as
// normalized float samples.
func DecodeWAV(fs afero.Fs, path string) ([]float32, int, error) {
	file, err := fs.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	decoder := wav.NewDecoder(file)
	if !decoder.IsValidFile() {
		return nil, 0, fmt.Errorf("%s: %w", path, ErrInvalidWAV)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	channels := int(decoder.NumChans)
	if channels < 1 {
		channels = 1
	}
	scale := float32(int64(1) << (uint(decoder.BitDepth) - 1))

	samples := make([]float32, 0, len(buf.Data)/channels)
	for i := 0; i < len(buf.Data); i += channels {
		samples = append(samples, float32(buf.Data[i])/scale)
	}
	return samples, int(decoder.SampleRate), nil
}

// ToPCM16 converts normalized float samples to 16-bit integer samples, clipping
// anything outside [-1, 1].
func ToPCM16(samples []float32) []int {
	out := make([]int, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		out[i] = int(s * 32767)
	}
	return out
}

// FromPCM16 converts 16-bit samples to normalized floats.
func FromPCM16(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768
	}
	return out
}
