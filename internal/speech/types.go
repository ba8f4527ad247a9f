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

// Package speech bridges callers to a host's speech recognition and speech
// synthesis capabilities.
package speech

import "errors"

// DefaultSpeechRate is applied to every utterance unless configured otherwise.
const DefaultSpeechRate float32 = 0.9

// DefaultLanguage is the locale tag given to the recognition handle.
const DefaultLanguage = "en-US"

var (
	// ErrRecognitionUnavailable is returned by the unavailable recognition variant.
	ErrRecognitionUnavailable = errors.New("speech recognition not supported")

	// ErrSynthesisUnavailable is returned by the unavailable synthesis variant.
	ErrSynthesisUnavailable = errors.New("speech synthesis not supported")

	// ErrAlreadyStarted is returned by recognizers asked to start a running session.
	ErrAlreadyStarted = errors.New("recognition already started")
)

// RecognitionSettings configures a recognition handle.
type RecognitionSettings struct {
	Continuous     bool   // Keep the session open after the first final result
	InterimResults bool   // Report non-final hypotheses
	Language       string // BCP 47 locale tag
}

// Alternative is one transcription hypothesis.
type Alternative struct {
	Transcript string
	Confidence float64
}

// RecognitionResult is one recognized segment with its alternatives, best first.
type RecognitionResult struct {
	Alternatives []Alternative
	Final        bool
}

// ResultEvent carries every result produced in the current session so far.
// The newest result is last.
type ResultEvent struct {
	Results []RecognitionResult
}

// LatestTranscript returns the best transcript of the newest result.
func (e ResultEvent) LatestTranscript() (string, bool) {
	if len(e.Results) == 0 {
		return "", false
	}
	last := e.Results[len(e.Results)-1]
	if len(last.Alternatives) == 0 {
		return "", false
	}
	return last.Alternatives[0].Transcript, true
}

// Error codes reported in ErrorEvent.Code.
const (
	ErrorCodeNoSpeech     = "no-speech"
	ErrorCodeAudioCapture = "audio-capture"
	ErrorCodeNetwork      = "network"
	ErrorCodeAborted      = "aborted"
)

// ErrorEvent is reported by a recognizer when its session fails.
type ErrorEvent struct {
	Code string
	Err  error
}

// RecognitionHandlers receive events from a recognition handle. Handlers may be
// invoked from any goroutine, but never concurrently for the same handle.
type RecognitionHandlers struct {
	OnResult func(ResultEvent)
	OnEnd    func()
	OnError  func(ErrorEvent)
}

// Recognizer is a host-provided speech-to-text handle.
type Recognizer interface {
	Configure(settings RecognitionSettings)
	SetHandlers(handlers RecognitionHandlers)
	// Start begins a session. It returns ErrAlreadyStarted if one is running.
	Start() error
	// Stop ends the session; OnEnd fires once it has wound down.
	Stop() error
}

// Utterance is a unit of text submitted for synthesis.
type Utterance struct {
	Text string
	Rate float32
}

// Synthesizer is a host-provided text-to-speech capability.
type Synthesizer interface {
	// Cancel drops queued utterances and interrupts the one playing.
	Cancel()
	// Speak queues an utterance and returns without waiting for playback.
	Speak(utterance Utterance) error
}
