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

//go:build !whisper

package stt

import "context"

// WhisperTranscriber stub when whisper is not available
type WhisperTranscriber struct{}

// NewWhisperTranscriber stub implementation
func NewWhisperTranscriber(string) (*WhisperTranscriber, error) {
	return nil, ErrWhisperDisabled
}

// Name implements Transcriber
func (wt *WhisperTranscriber) Name() string { return "whisper" }

// Transcribe stub implementation
func (wt *WhisperTranscriber) Transcribe(context.Context, []float32, int) (*TranscriptionResult, error) {
	return nil, ErrWhisperDisabled
}

// Close stub implementation
func (wt *WhisperTranscriber) Close() error {
	return nil
}
