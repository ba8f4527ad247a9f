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

package stt

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/loqalabs/loqa-voice-bridge/internal/audio"
	"github.com/loqalabs/loqa-voice-bridge/internal/logging"
	"go.uber.org/zap"
)

// RecognizeFunc performs one synchronous Google recognition call
type RecognizeFunc func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error)

// GoogleTranscriber implements Transcriber using Google Cloud Speech-to-Text.
// Requires GOOGLE_APPLICATION_CREDENTIALS to be set.
type GoogleTranscriber struct {
	client    *speech.Client
	recognize RecognizeFunc

	mu       sync.RWMutex
	language string
}

// NewGoogleTranscriber creates a Speech-to-Text client
func NewGoogleTranscriber(ctx context.Context, language string) (*GoogleTranscriber, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create google speech client: %w", err)
	}

	t := NewGoogleTranscriberWithFunc(func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
		return client.Recognize(ctx, req)
	}, language)
	t.client = client

	logging.LogInfo("Connected to Google Speech-to-Text", zap.String("language", t.language))
	return t, nil
}

// NewGoogleTranscriberWithFunc wraps an arbitrary recognize call
func NewGoogleTranscriberWithFunc(recognize RecognizeFunc, language string) *GoogleTranscriber {
	if language == "" {
		language = "en-US"
	}
	return &GoogleTranscriber{recognize: recognize, language: language}
}

// Name implements Transcriber
func (g *GoogleTranscriber) Name() string { return "google" }

// SetLanguage implements LanguageSetter
func (g *GoogleTranscriber) SetLanguage(tag string) {
	if tag == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.language = tag
}

// Transcribe sends the samples as LINEAR16 and joins the best alternative of
// every returned result.
func (g *GoogleTranscriber) Transcribe(ctx context.Context, samples []float32, sampleRate int) (*TranscriptionResult, error) {
	if err := validateAudio(samples, sampleRate); err != nil {
		return nil, err
	}

	g.mu.RLock()
	language := g.language
	g.mu.RUnlock()

	req := &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:        speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz: int32(sampleRate),
			LanguageCode:    language,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: linear16(samples)},
		},
	}

	resp, err := g.recognize(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("google recognize failed: %w", err)
	}

	var (
		parts      []string
		confidence float64
	)
	for _, r := range resp.GetResults() {
		if len(r.GetAlternatives()) == 0 {
			continue
		}
		alt := r.GetAlternatives()[0]
		parts = append(parts, strings.TrimSpace(alt.GetTranscript()))
		confidence += float64(alt.GetConfidence())
	}
	if len(parts) > 0 {
		confidence /= float64(len(parts))
	}

	return &TranscriptionResult{Text: strings.Join(parts, " "), Confidence: confidence}, nil
}

// Close releases the client
func (g *GoogleTranscriber) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// linear16 encodes samples as little-endian 16-bit PCM
func linear16(samples []float32) []byte {
	pcm := audio.ToPCM16(samples)
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s)))
	}
	return out
}
