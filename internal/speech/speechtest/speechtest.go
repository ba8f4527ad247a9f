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

// Package speechtest provides in-memory speech capabilities for tests.
package speechtest

import (
	"sync"

	"github.com/loqalabs/loqa-voice-bridge/internal/speech"
)

// Recognizer records calls and lets tests fire recognition events.
type Recognizer struct {
	mu       sync.Mutex
	settings speech.RecognitionSettings
	handlers speech.RecognitionHandlers
	starts   int
	stops    int

	StartErr error
	StopErr  error
}

// Configure implements speech.Recognizer
func (r *Recognizer) Configure(settings speech.RecognitionSettings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings = settings
}

// SetHandlers implements speech.Recognizer
func (r *Recognizer) SetHandlers(handlers speech.RecognitionHandlers) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = handlers
}

// Start implements speech.Recognizer
func (r *Recognizer) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts++
	return r.StartErr
}

// Stop implements speech.Recognizer
func (r *Recognizer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
	return r.StopErr
}

// Settings returns the last applied settings
func (r *Recognizer) Settings() speech.RecognitionSettings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settings
}

// Starts returns how many times Start was called
func (r *Recognizer) Starts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts
}

// Stops returns how many times Stop was called
func (r *Recognizer) Stops() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stops
}

// FireResult reports one final result per transcript, newest last
func (r *Recognizer) FireResult(transcripts ...string) {
	event := speech.ResultEvent{}
	for _, transcript := range transcripts {
		event.Results = append(event.Results, speech.RecognitionResult{
			Alternatives: []speech.Alternative{{Transcript: transcript, Confidence: 0.9}},
			Final:        true,
		})
	}
	r.handler().OnResult(event)
}

// FireEnd reports the end of the session
func (r *Recognizer) FireEnd() {
	r.handler().OnEnd()
}

// FireError reports a session error with code
func (r *Recognizer) FireError(code string) {
	r.handler().OnError(speech.ErrorEvent{Code: code})
}

func (r *Recognizer) handler() speech.RecognitionHandlers {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handlers
}

// Synthesizer records cancel and speak calls in order.
type Synthesizer struct {
	mu    sync.Mutex
	calls []string
	rates []float32

	SpeakErr error
}

// Cancel implements speech.Synthesizer
func (s *Synthesizer) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "cancel")
}

// Speak implements speech.Synthesizer
func (s *Synthesizer) Speak(utterance speech.Utterance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "speak:"+utterance.Text)
	s.rates = append(s.rates, utterance.Rate)
	return s.SpeakErr
}

// Calls returns the recorded calls
func (s *Synthesizer) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Rates returns the rate of every spoken utterance
func (s *Synthesizer) Rates() []float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float32(nil), s.rates...)
}

// NewBridge returns a bridge over a fresh Recognizer registered as "test" and
// a fresh Synthesizer.
func NewBridge() (*speech.Bridge, *Recognizer, *Synthesizer) {
	recognizer := &Recognizer{}
	synthesizer := &Synthesizer{}

	host := speech.NewHost()
	host.RegisterRecognizer("test", func() (speech.Recognizer, error) { return recognizer, nil })
	host.SetSynthesizer(synthesizer)

	bridge := speech.NewBridge(speech.Options{Host: host, Recognizer: "test"})
	return bridge, recognizer, synthesizer
}
