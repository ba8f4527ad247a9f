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

//go:build whisper

package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/loqalabs/loqa-voice-bridge/internal/logging"
	"go.uber.org/zap"
)

// WhisperTranscriber handles speech-to-text using a local Whisper model
type WhisperTranscriber struct {
	model     whisper.Model
	modelPath string

	// whisper contexts share model state, so transcriptions run one at a time
	mu       sync.Mutex
	language string
}

// NewWhisperTranscriber loads the model at modelPath
func NewWhisperTranscriber(modelPath string) (*WhisperTranscriber, error) {
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("whisper model not found at %s", modelPath)
	}

	model, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load whisper model: %w", err)
	}

	logging.LogInfo("Whisper model loaded", zap.String("model_path", modelPath))
	return &WhisperTranscriber{
		model:     model,
		modelPath: modelPath,
	}, nil
}

// Name implements Transcriber
func (wt *WhisperTranscriber) Name() string { return "whisper" }

// SetLanguage implements LanguageSetter
func (wt *WhisperTranscriber) SetLanguage(tag string) {
	wt.mu.Lock()
	defer wt.mu.Unlock()
	wt.language = baseLanguage(tag)
}

// Transcribe converts audio samples to text. Whisper expects 16kHz input.
func (wt *WhisperTranscriber) Transcribe(ctx context.Context, samples []float32, sampleRate int) (*TranscriptionResult, error) {
	if err := validateAudio(samples, sampleRate); err != nil {
		return nil, err
	}
	if wt.model == nil {
		return nil, fmt.Errorf("whisper model not initialized")
	}

	wt.mu.Lock()
	defer wt.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	wctx, err := wt.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("failed to create whisper context: %w", err)
	}
	if wt.language != "" {
		if err := wctx.SetLanguage(wt.language); err != nil {
			logging.LogWarn("Whisper rejected language", zap.String("language", wt.language), zap.Error(err))
		}
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("failed to process audio: %w", err)
	}

	var transcript strings.Builder
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read whisper segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		// bracketed segments are annotations such as [BLANK_AUDIO]
		if strings.HasPrefix(text, "[") || strings.HasPrefix(text, "(") {
			continue
		}
		transcript.WriteString(segment.Text)
	}

	result := strings.TrimSpace(transcript.String())
	logging.LogDebug("Whisper transcription", zap.Int("text_length", len(result)))
	return &TranscriptionResult{Text: result}, nil
}

// Close cleans up the Whisper model
func (wt *WhisperTranscriber) Close() error {
	if wt.model != nil {
		if err := wt.model.Close(); err != nil {
			return fmt.Errorf("failed to close whisper model: %w", err)
		}
		logging.LogDebug("Whisper model closed")
	}
	return nil
}
