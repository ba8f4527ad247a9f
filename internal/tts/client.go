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

package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-voice-bridge/internal/config"
	"github.com/loqalabs/loqa-voice-bridge/internal/logging"
	"go.uber.org/zap"
)

// SpeechRequest is the body of an OpenAI-compatible /audio/speech call
type SpeechRequest struct {
	Model   string         `json:"model"`
	Input   string         `json:"input"`
	Voice   string         `json:"voice"`
	Format  string         `json:"response_format"`
	Speed   float32        `json:"speed,omitempty"`
	Options map[string]any `json:"normalization_options,omitempty"`
}

// VoicesResponse represents the response from the voices endpoint
type VoicesResponse struct {
	Voices []string `json:"voices"`
}

// Client implements TextToSpeech for Kokoro-82M and other OpenAI-compatible services
type Client struct {
	baseURL         string
	model           string
	client          *http.Client
	config          config.TTSConfig
	semaphore       chan struct{} // Limits concurrent requests
	mu              sync.RWMutex
	cachedVoices    []string
	voicesCacheTime time.Time
}

// ModelForBackend returns the model name the backend expects
func ModelForBackend(backend string) string {
	if strings.EqualFold(backend, "openai") {
		return "tts-1"
	}
	return "kokoro"
}

// NewClient creates a TTS client and verifies the service responds
func NewClient(ctx context.Context, cfg config.TTSConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("TTS URL cannot be empty")
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	c := &Client{
		baseURL:   strings.TrimSuffix(cfg.URL, "/"),
		model:     ModelForBackend(cfg.Backend),
		client:    &http.Client{},
		config:    cfg,
		semaphore: make(chan struct{}, cfg.MaxConcurrent),
	}

	if err := c.testConnection(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to TTS service: %w", err)
	}

	logging.LogSynthesisOperation("client_initialized",
		zap.String("url", cfg.URL),
		zap.String("backend", cfg.Backend),
		zap.String("voice", cfg.Voice),
		zap.Int("max_concurrent", cfg.MaxConcurrent),
	)

	return c, nil
}

// Synthesize converts text to speech. The caller must Close the result.
func (c *Client) Synthesize(ctx context.Context, text string, options *TTSOptions) (*TTSResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	// Acquire semaphore slot for concurrency control
	select {
	case c.semaphore <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Second):
		return nil, ErrQueueFull
	}
	release := sync.OnceFunc(func() { <-c.semaphore })

	startTime := time.Now()

	voice := c.config.Voice
	speed := c.config.Speed
	format := c.config.ResponseFormat
	normalize := c.config.Normalize

	if options != nil {
		if options.Voice != "" {
			voice = options.Voice
		}
		if options.Speed > 0 {
			speed = options.Speed
		}
		if options.ResponseFormat != "" {
			format = options.ResponseFormat
		}
		normalize = options.Normalize
	}

	request := SpeechRequest{
		Model:  c.model,
		Input:  text,
		Voice:  voice,
		Format: format,
		Speed:  speed,
	}
	if !normalize {
		request.Options = map[string]any{"normalize": false}
	}

	requestBody, err := json.Marshal(request)
	if err != nil {
		release()
		return nil, fmt.Errorf("failed to marshal TTS request: %w", err)
	}

	logging.LogSynthesisOperation("synthesis_start",
		zap.String("voice", voice),
		zap.Int("text_length", len(text)),
		zap.String("format", format),
		zap.Float32("speed", speed),
	)

	reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	cleanup := sync.OnceFunc(func() {
		cancel()
		release()
	})

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/audio/speech", bytes.NewReader(requestBody))
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/*")

	resp, err := c.client.Do(req)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("TTS HTTP request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		cleanup()
		logging.LogWarn("TTS request failed",
			zap.Int("status_code", resp.StatusCode),
			zap.String("response_body", string(body)),
		)
		return nil, fmt.Errorf("TTS request failed with status %d: %s", resp.StatusCode, string(body))
	}

	logging.LogSynthesisOperation("synthesis_complete",
		zap.String("voice", voice),
		zap.Int("text_length", len(text)),
		zap.Duration("processing_time", time.Since(startTime)),
		zap.String("content_type", resp.Header.Get("Content-Type")),
		zap.Int64("content_length", resp.ContentLength),
	)

	return &TTSResult{
		Audio:       resp.Body,
		ContentType: resp.Header.Get("Content-Type"),
		Length:      resp.ContentLength,
		Cleanup: func() {
			_ = resp.Body.Close()
			cleanup()
		},
	}, nil
}

// GetAvailableVoices returns the list of available voices, cached for an hour
func (c *Client) GetAvailableVoices(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	if len(c.cachedVoices) > 0 && time.Since(c.voicesCacheTime) < time.Hour {
		voices := make([]string, len(c.cachedVoices))
		copy(voices, c.cachedVoices)
		c.mu.RUnlock()
		return voices, nil
	}
	c.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/audio/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create voices request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch voices: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("voices request failed with status %d", resp.StatusCode)
	}

	var voicesResponse VoicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&voicesResponse); err != nil {
		return nil, fmt.Errorf("failed to decode voices response: %w", err)
	}

	c.mu.Lock()
	c.cachedVoices = make([]string, len(voicesResponse.Voices))
	copy(c.cachedVoices, voicesResponse.Voices)
	c.voicesCacheTime = time.Now()
	c.mu.Unlock()

	logging.LogDebug("Retrieved available voices", zap.Int("count", len(voicesResponse.Voices)))

	return voicesResponse.Voices, nil
}

// Close cleans up resources
func (c *Client) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// testConnection tests the connection to the TTS service
func (c *Client) testConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/audio/voices", nil)
	if err != nil {
		return fmt.Errorf("failed to create test request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("service health check failed with status %d", resp.StatusCode)
	}

	return nil
}
