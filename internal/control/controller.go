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

// Package control is the single entry point the HTTP, NATS and CLI surfaces
// use to drive the speech bridge.
package control

import (
	"sync"
	"time"

	"github.com/loqalabs/loqa-voice-bridge/internal/logging"
	"github.com/loqalabs/loqa-voice-bridge/internal/security"
	"github.com/loqalabs/loqa-voice-bridge/internal/speech"
	"go.uber.org/zap"
)

// SpeakRecorder is told about every accepted speak request
type SpeakRecorder interface {
	RecordSpeak(text, source string)
}

// State is a snapshot of the bridge as seen by the controller
type State struct {
	Listening            bool      `json:"listening"`
	LastTranscript       string    `json:"last_transcript,omitempty"`
	LastResultAt         time.Time `json:"last_result_at,omitempty"`
	RecognitionAvailable bool      `json:"recognition_available"`
	SynthesisAvailable   bool      `json:"synthesis_available"`
	Recognizer           string    `json:"recognizer,omitempty"`
	Language             string    `json:"language"`
	SpeechRate           float32   `json:"speech_rate"`
}

// Controller owns the bridge's primary callback slot
type Controller struct {
	bridge   *speech.Bridge
	recorder SpeakRecorder

	mu             sync.RWMutex
	listening      bool
	lastTranscript string
	lastResultAt   time.Time
}

// New creates a controller for bridge. recorder may be nil.
func New(bridge *speech.Bridge, recorder SpeakRecorder) *Controller {
	return &Controller{bridge: bridge, recorder: recorder}
}

// StartListening starts recognition on behalf of source
func (c *Controller) StartListening(source string) {
	logging.LogInfo("Start listening requested", zap.String("source", source))
	c.bridge.StartListening(c.onResult, c.onStateChange)
}

// StopListening stops recognition on behalf of source
func (c *Controller) StopListening(source string) {
	logging.LogInfo("Stop listening requested", zap.String("source", source))
	c.bridge.StopListening()
}

// Speak validates text and hands it to the bridge. It returns
// speech.ErrSynthesisUnavailable when the host cannot speak, so callers can
// report it; the bridge itself would ignore the request silently.
func (c *Controller) Speak(text, source string) error {
	if err := security.ValidateSpeakText(text); err != nil {
		return err
	}
	if !c.bridge.SynthesisAvailable() {
		return speech.ErrSynthesisUnavailable
	}

	c.bridge.Speak(text)

	logging.LogInfo("Speak requested",
		zap.String("source", source),
		zap.Int("text_length", len(text)),
	)

	if c.recorder != nil {
		c.recorder.RecordSpeak(text, source)
	}
	return nil
}

// State returns the current snapshot
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return State{
		Listening:            c.listening,
		LastTranscript:       c.lastTranscript,
		LastResultAt:         c.lastResultAt,
		RecognitionAvailable: c.bridge.RecognitionAvailable(),
		SynthesisAvailable:   c.bridge.SynthesisAvailable(),
		Recognizer:           c.bridge.RecognizerName(),
		Language:             c.bridge.Language(),
		SpeechRate:           c.bridge.SpeechRate(),
	}
}

func (c *Controller) onResult(transcript string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastTranscript = transcript
	c.lastResultAt = time.Now().UTC()
}

func (c *Controller) onStateChange(listening bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listening = listening
}
