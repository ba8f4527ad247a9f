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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-voice-bridge/internal/audio"
	"github.com/loqalabs/loqa-voice-bridge/internal/logging"
	"go.uber.org/zap"
)

// HTTPClient is the subset of *http.Client the REST transcriber needs
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// RESTConfig configures a RESTTranscriber
type RESTConfig struct {
	BaseURL    string
	Model      string
	Language   string // BCP 47 tag; empty means auto-detect
	Timeout    time.Duration
	HTTPClient HTTPClient // Optional, mainly for tests
}

// RESTTranscriber implements Transcriber using REST API calls
// to any OpenAI-compatible Speech-to-Text service
type RESTTranscriber struct {
	baseURL    string
	model      string
	httpClient HTTPClient

	mu       sync.RWMutex
	language string
}

// OpenAI-compatible verbose_json response
type transcriptionResponse struct {
	Text     string                 `json:"text"`
	Segments []transcriptionSegment `json:"segments"`
}

type transcriptionSegment struct {
	AvgLogprob   float64 `json:"avg_logprob"`
	NoSpeechProb float64 `json:"no_speech_prob"`
}

// NewRESTTranscriber creates a client and verifies the service is reachable
func NewRESTTranscriber(ctx context.Context, cfg RESTConfig) (*RESTTranscriber, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8000"
	}
	if cfg.Model == "" {
		cfg.Model = "tiny"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	t := &RESTTranscriber{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		httpClient: client,
		language:   cfg.Language,
	}

	if err := t.healthCheck(ctx); err != nil {
		return nil, fmt.Errorf("STT service health check failed: %w", err)
	}

	logging.LogInfo("Connected to STT REST service", zap.String("base_url", t.baseURL), zap.String("model", t.model))

	return t, nil
}

// healthCheck verifies the service is running
func (t *RESTTranscriber) healthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to STT service at %s: %w", t.baseURL, err)
	}
	defer closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("STT service health check failed with status: %d", resp.StatusCode)
	}

	return nil
}

// Name implements Transcriber
func (t *RESTTranscriber) Name() string { return "rest" }

// SetLanguage implements LanguageSetter
func (t *RESTTranscriber) SetLanguage(tag string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.language = tag
}

// Transcribe implements the Transcriber interface
func (t *RESTTranscriber) Transcribe(ctx context.Context, samples []float32, sampleRate int) (*TranscriptionResult, error) {
	if err := validateAudio(samples, sampleRate); err != nil {
		return nil, err
	}

	startTime := time.Now()
	requestID := uuid.NewString()

	logging.LogDebug("Sending transcription request",
		zap.String("request_id", requestID),
		zap.Int("samples", len(samples)),
		zap.Int("sample_rate", sampleRate),
	)

	wavData, err := audio.EncodeWAVBytes(samples, sampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to convert audio to WAV: %w", err)
	}

	t.mu.RLock()
	language := baseLanguage(t.language)
	t.mu.RUnlock()

	var requestBody bytes.Buffer
	writer := multipart.NewWriter(&requestBody)

	audioWriter, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := audioWriter.Write(wavData); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	_ = writer.WriteField("model", t.model)
	if language != "" {
		_ = writer.WriteField("language", language)
	}
	_ = writer.WriteField("temperature", "0.0")
	_ = writer.WriteField("response_format", "verbose_json")

	contentType := writer.FormDataContentType()
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/v1/audio/transcriptions", &requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Request-ID", requestID)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcription HTTP request failed: %w", err)
	}
	defer closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("transcription failed with status %d: %s", resp.StatusCode, string(body))
	}

	var parsed transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to parse transcription response: %w", err)
	}

	result := &TranscriptionResult{
		Text:       strings.TrimSpace(parsed.Text),
		Confidence: segmentConfidence(parsed.Segments),
	}

	logging.LogInfo("Transcription completed",
		zap.String("request_id", requestID),
		zap.Int64("processing_time_ms", time.Since(startTime).Milliseconds()),
		zap.Int("text_length", len(result.Text)),
		zap.Float64("confidence", result.Confidence),
	)

	return result, nil
}

// segmentConfidence averages exp(avg_logprob) over the segments.
func segmentConfidence(segments []transcriptionSegment) float64 {
	if len(segments) == 0 {
		return 0
	}
	var sum float64
	for _, s := range segments {
		sum += math.Exp(s.AvgLogprob)
	}
	return math.Min(sum/float64(len(segments)), 1)
}

// Close cleans up resources
func (t *RESTTranscriber) Close() error {
	logging.LogDebug("Closing STT client", zap.String("base_url", t.baseURL))
	return nil
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		logging.LogWarn("Failed to close response body", zap.Error(err))
	}
}
