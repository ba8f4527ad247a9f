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

//go:build !portaudio

package audio

import "context"

// MicrophoneSource stub when portaudio is not available
type MicrophoneSource struct{}

// NewMicrophoneSource returns ErrMicrophoneUnavailable
func NewMicrophoneSource(SegmenterConfig) (*MicrophoneSource, error) {
	return nil, ErrMicrophoneUnavailable
}

// Open stub implementation
func (m *MicrophoneSource) Open(context.Context) (<-chan Segment, error) {
	return nil, ErrMicrophoneUnavailable
}

// Close stub implementation
func (m *MicrophoneSource) Close() error {
	return nil
}
