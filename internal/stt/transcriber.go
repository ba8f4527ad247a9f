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

// Package stt turns captured speech into transcripts and exposes the result
// as a speech.Recognizer.
package stt

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrEmptyAudio is returned when there are no samples to transcribe.
	ErrEmptyAudio = errors.New("empty audio data")

	// ErrInvalidSampleRate is returned for non-positive sample rates.
	ErrInvalidSampleRate = errors.New("invalid sample rate")

	// ErrWhisperDisabled is returned when the binary was built without whisper support.
	ErrWhisperDisabled = errors.New("whisper transcription disabled (build with -tags whisper to enable)")
)

// TranscriptionResult contains transcription text and confidence information
type TranscriptionResult struct {
	Text       string
	Confidence float64 // 0 when the backend does not report one
}

// Transcriber defines the interface for speech-to-text transcription services
type Transcriber interface {
	// Transcribe converts audio samples to text
	Transcribe(ctx context.Context, samples []float32, sampleRate int) (*TranscriptionResult, error)

	// Name identifies the backend in logs and metrics
	Name() string

	// Close cleans up resources
	Close() error
}

// LanguageSetter is implemented by transcribers that accept a language hint.
type LanguageSetter interface {
	SetLanguage(tag string)
}

// baseLanguage reduces a BCP 47 tag such as "en-US" to its primary subtag.
func baseLanguage(tag string) string {
	if i := strings.IndexAny(tag, "-_"); i >= 0 {
		tag = tag[:i]
	}
	return strings.ToLower(tag)
}

func validateAudio(samples []float32, sampleRate int) error {
	if len(samples) == 0 {
		return ErrEmptyAudio
	}
	if sampleRate <= 0 {
		return ErrInvalidSampleRate
	}
	return nil
}
