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
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-voice-bridge/internal/audio"
	"github.com/loqalabs/loqa-voice-bridge/internal/logging"
	"github.com/loqalabs/loqa-voice-bridge/internal/metrics"
	"github.com/loqalabs/loqa-voice-bridge/internal/speech"
	"go.uber.org/zap"
)

// SessionConfig configures a SessionRecognizer
type SessionConfig struct {
	Source      audio.Source
	Transcriber Transcriber
	// SessionTimeout ends a session that has run this long; zero disables it.
	SessionTimeout time.Duration
	Metrics        *metrics.Metrics // Optional
}

// SessionRecognizer implements speech.Recognizer by transcribing segments
// from an audio source. A session runs from Start until Stop, the session
// timeout, the end of input or a failure; OnEnd always fires last.
type SessionRecognizer struct {
	source         audio.Source
	transcriber    Transcriber
	sessionTimeout time.Duration
	metrics        *metrics.Metrics

	mu       sync.Mutex
	settings speech.RecognitionSettings
	handlers speech.RecognitionHandlers
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSessionRecognizer creates an idle recognizer
func NewSessionRecognizer(cfg SessionConfig) *SessionRecognizer {
	return &SessionRecognizer{
		source:         cfg.Source,
		transcriber:    cfg.Transcriber,
		sessionTimeout: cfg.SessionTimeout,
		metrics:        cfg.Metrics,
		settings: speech.RecognitionSettings{
			Continuous: true,
			Language:   speech.DefaultLanguage,
		},
	}
}

// Configure implements speech.Recognizer. It applies to the next session.
func (r *SessionRecognizer) Configure(settings speech.RecognitionSettings) {
	r.mu.Lock()
	r.settings = settings
	r.mu.Unlock()

	if setter, ok := r.transcriber.(LanguageSetter); ok {
		setter.SetLanguage(settings.Language)
	}
}

// SetHandlers implements speech.Recognizer. It applies to the next session.
func (r *SessionRecognizer) SetHandlers(handlers speech.RecognitionHandlers) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = handlers
}

// Start implements speech.Recognizer. It may be called from an OnEnd handler.
func (r *SessionRecognizer) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return speech.ErrAlreadyStarted
	}

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if r.sessionTimeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), r.sessionTimeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}

	r.running = true
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.run(ctx, cancel, r.done, r.settings, r.handlers)
	return nil
}

// Stop implements speech.Recognizer. Stopping an idle recognizer is a no-op.
func (r *SessionRecognizer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running && r.cancel != nil {
		r.cancel()
	}
	return nil
}

// Running reports whether a session is active
func (r *SessionRecognizer) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Wait blocks until the current session, if any, has fired OnEnd
func (r *SessionRecognizer) Wait() {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Close stops any session and releases the source and transcriber
func (r *SessionRecognizer) Close() error {
	_ = r.Stop()
	r.Wait()

	var firstErr error
	if r.source != nil {
		firstErr = r.source.Close()
	}
	if r.transcriber != nil {
		if err := r.transcriber.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *SessionRecognizer) run(ctx context.Context, cancel context.CancelFunc, done chan struct{},
	settings speech.RecognitionSettings, handlers speech.RecognitionHandlers) {
	defer close(done)
	defer func() {
		cancel()
		r.mu.Lock()
		r.running = false
		r.cancel = nil
		r.mu.Unlock()

		if handlers.OnEnd != nil {
			handlers.OnEnd()
		}
	}()

	if r.source == nil || r.transcriber == nil {
		fail(handlers, speech.ErrorCodeAudioCapture, nil)
		return
	}

	segments, err := r.source.Open(ctx)
	if err != nil {
		fail(handlers, speech.ErrorCodeAudioCapture, err)
		return
	}

	var results []speech.RecognitionResult
	for {
		var (
			segment audio.Segment
			ok      bool
		)
		select {
		case segment, ok = <-segments:
		case <-ctx.Done():
		}

		if ctx.Err() != nil {
			logging.LogDebug("Recognition session closed", zap.Error(ctx.Err()), zap.Int("results", len(results)))
			return
		}
		if !ok {
			// input exhausted
			if len(results) == 0 {
				fail(handlers, speech.ErrorCodeNoSpeech, nil)
			}
			return
		}
		if segment.Err != nil {
			fail(handlers, speech.ErrorCodeAudioCapture, segment.Err)
			return
		}

		started := time.Now()
		transcription, err := r.transcriber.Transcribe(ctx, segment.Samples, segment.SampleRate)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			fail(handlers, speech.ErrorCodeNetwork, err)
			return
		}
		if r.metrics != nil {
			r.metrics.ObserveTranscription(r.transcriber.Name(), time.Since(started).Seconds())
		}

		text := strings.TrimSpace(transcription.Text)
		if text == "" {
			continue
		}

		results = append(results, speech.RecognitionResult{
			Alternatives: []speech.Alternative{{Transcript: text, Confidence: transcription.Confidence}},
			Final:        true,
		})
		if handlers.OnResult != nil {
			handlers.OnResult(speech.ResultEvent{Results: append([]speech.RecognitionResult(nil), results...)})
		}

		if !settings.Continuous {
			return
		}
	}
}

func fail(handlers speech.RecognitionHandlers, code string, err error) {
	if handlers.OnError != nil {
		handlers.OnError(speech.ErrorEvent{Code: code, Err: err})
	}
}
