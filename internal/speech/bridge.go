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

package speech

import (
	"errors"
	"sort"
	"sync"

	"github.com/loqalabs/loqa-voice-bridge/internal/logging"
	"github.com/loqalabs/loqa-voice-bridge/internal/metrics"
	"go.uber.org/zap"
)

// ResultFunc receives a final transcript.
type ResultFunc func(transcript string)

// StateFunc receives listening state notifications.
type StateFunc func(listening bool)

// Listener is a pair of callbacks. Either may be nil.
type Listener struct {
	OnResult      ResultFunc
	OnStateChange StateFunc
}

// Options configures a Bridge
type Options struct {
	Host               *Host
	Recognizer         string // Looked up first
	FallbackRecognizer string // Looked up when Recognizer is absent
	Language           string
	SpeechRate         float32
	Metrics            *metrics.Metrics // Optional
}

// Bridge relays recognition events to callers and forwards text to the
// synthesis capability. Every capability failure is logged and swallowed;
// nothing a backend does is surfaced to the caller as an error or panic.
type Bridge struct {
	recognition recognitionCapability
	synthesis   synthesisCapability
	settings    RecognitionSettings
	rate        float32
	metrics     *metrics.Metrics

	mu          sync.Mutex
	listening   bool // intended state, not the recognizer's actual state
	primary     Listener
	subscribers map[uint64]Listener
	nextID      uint64

	// speakMu keeps cancel+speak pairs from interleaving.
	speakMu sync.Mutex
}

// NewBridge detects the host's capabilities and wires the recognition handle
func NewBridge(opts Options) *Bridge {
	language := opts.Language
	if language == "" {
		language = DefaultLanguage
	}
	rate := opts.SpeechRate
	if rate <= 0 {
		rate = DefaultSpeechRate
	}

	b := &Bridge{
		settings: RecognitionSettings{
			Continuous:     true,
			InterimResults: false,
			Language:       language,
		},
		rate:        rate,
		metrics:     opts.Metrics,
		subscribers: make(map[uint64]Listener),
	}

	b.recognition = b.initRecognition(opts)

	if synthesizer, ok := opts.Host.Synthesizer(); ok {
		b.synthesis = &availableSynthesis{synthesizer: synthesizer}
	} else {
		logging.LogWarn("Speech synthesis not supported")
		b.synthesis = unavailableSynthesis{}
	}

	return b
}

func (b *Bridge) initRecognition(opts Options) recognitionCapability {
	handle, name := detectRecognizer(opts.Host, opts.Recognizer, opts.FallbackRecognizer)
	if handle == nil {
		logging.LogWarn("Speech recognition not supported",
			zap.String("recognizer", opts.Recognizer),
			zap.String("fallback_recognizer", opts.FallbackRecognizer),
		)
		return unavailableRecognition{}
	}

	err := guard(func() error {
		handle.Configure(b.settings)
		handle.SetHandlers(RecognitionHandlers{
			OnResult: b.handleResult,
			OnEnd:    b.handleEnd,
			OnError:  b.handleError,
		})
		return nil
	})
	if err != nil {
		logging.LogError(err, "Recognizer rejected configuration", zap.String("recognizer", name))
		return unavailableRecognition{}
	}

	logging.LogRecognitionEvent("configured",
		zap.String("recognizer", name),
		zap.String("language", b.settings.Language),
		zap.Bool("continuous", b.settings.Continuous),
		zap.Bool("interim_results", b.settings.InterimResults),
	)

	return &availableRecognition{handle: handle, recognizer: name}
}

// StartListening registers the primary callbacks, replacing any previous pair,
// and starts recognition. onStateChange(true) fires only once the handle has
// accepted the start.
func (b *Bridge) StartListening(onResult ResultFunc, onStateChange StateFunc) {
	b.mu.Lock()
	b.primary = Listener{OnResult: onResult, OnStateChange: onStateChange}
	b.listening = true
	b.mu.Unlock()

	err := b.recognition.start()
	switch {
	case errors.Is(err, ErrRecognitionUnavailable):
		return
	case err != nil:
		logging.LogError(err, "Failed to start recognition", zap.String("recognizer", b.recognition.name()))
		return
	}

	logging.LogRecognitionEvent("start", zap.String("recognizer", b.recognition.name()))
	b.notifyState(true)
}

// StopListening clears the intended state and stops recognition
func (b *Bridge) StopListening() {
	b.mu.Lock()
	b.listening = false
	b.mu.Unlock()

	err := b.recognition.stop()
	switch {
	case errors.Is(err, ErrRecognitionUnavailable):
		return
	case err != nil:
		logging.LogError(err, "Failed to stop recognition", zap.String("recognizer", b.recognition.name()))
		return
	}

	logging.LogRecognitionEvent("stop", zap.String("recognizer", b.recognition.name()))
	b.notifyState(false)
}

// Speak cancels whatever is queued or playing, then queues text at the
// configured rate. It does not wait for playback.
func (b *Bridge) Speak(text string) {
	if !b.synthesis.available() {
		return
	}

	b.speakMu.Lock()
	defer b.speakMu.Unlock()

	if err := b.synthesis.cancel(); err != nil {
		logging.LogError(err, "Failed to cancel speech")
	}

	if err := b.synthesis.speak(Utterance{Text: text, Rate: b.rate}); err != nil {
		logging.LogError(err, "Failed to queue speech", zap.Int("text_length", len(text)))
		return
	}

	logging.LogSynthesisOperation("speak",
		zap.Int("text_length", len(text)),
		zap.Float32("rate", b.rate),
	)
}

// Subscribe adds a listener that receives every result and state change
// alongside the primary callbacks. The returned func removes it.
func (b *Bridge) Subscribe(listener Listener) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subscribers[id] = listener
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, id)
			b.mu.Unlock()
		})
	}
}

// IsListening reports the intended listening state
func (b *Bridge) IsListening() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.listening
}

// RecognitionAvailable reports whether a recognizer was found
func (b *Bridge) RecognitionAvailable() bool {
	return b.recognition.available()
}

// RecognizerName returns the name the recognizer was found under
func (b *Bridge) RecognizerName() string {
	return b.recognition.name()
}

// SynthesisAvailable reports whether a synthesizer was found
func (b *Bridge) SynthesisAvailable() bool {
	return b.synthesis.available()
}

// Settings returns the configuration applied to the recognition handle
func (b *Bridge) Settings() RecognitionSettings {
	return b.settings
}

// Language returns the recognition locale tag
func (b *Bridge) Language() string {
	return b.settings.Language
}

// SpeechRate returns the rate applied to every utterance
func (b *Bridge) SpeechRate() float32 {
	return b.rate
}

func (b *Bridge) handleResult(event ResultEvent) {
	transcript, ok := event.LatestTranscript()
	if !ok {
		return
	}

	logging.LogDebug("Recognized speech", zap.String("transcript", transcript))

	for _, listener := range b.listeners() {
		if listener.OnResult != nil {
			deliver(func() { listener.OnResult(transcript) })
		}
	}
}

// handleEnd restarts the handle while listening is still intended. A race
// with StopListening is possible: an end event observed just before the
// intent flips will restart a session the caller asked to stop.
func (b *Bridge) handleEnd() {
	b.mu.Lock()
	listening := b.listening
	b.mu.Unlock()

	logging.LogRecognitionEvent("end", zap.Bool("listening", listening))

	if !listening {
		b.notifyState(false)
		return
	}

	err := b.recognition.start()
	if b.metrics != nil {
		b.metrics.RecordRestart(err)
	}
	if err != nil {
		logging.LogError(err, "Failed to restart recognition", zap.String("recognizer", b.recognition.name()))
		return
	}
	logging.LogRecognitionEvent("restart", zap.String("recognizer", b.recognition.name()))
}

func (b *Bridge) handleError(event ErrorEvent) {
	b.mu.Lock()
	b.listening = false
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.RecordRecognitionError(event.Code)
	}

	fields := []zap.Field{zap.String("code", event.Code), zap.String("recognizer", b.recognition.name())}
	if event.Err != nil {
		logging.LogError(event.Err, "Recognition error", fields...)
	} else {
		logging.LogWarn("Recognition error", fields...)
	}

	b.notifyState(false)
}

func (b *Bridge) notifyState(listening bool) {
	for _, listener := range b.listeners() {
		if listener.OnStateChange != nil {
			deliver(func() { listener.OnStateChange(listening) })
		}
	}
}

// listeners snapshots the primary pair followed by subscribers in
// registration order.
func (b *Bridge) listeners() []Listener {
	b.mu.Lock()
	defer b.mu.Unlock()

	ids := make([]uint64, 0, len(b.subscribers))
	for id := range b.subscribers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]Listener, 0, len(ids)+1)
	out = append(out, b.primary)
	for _, id := range ids {
		out = append(out, b.subscribers[id])
	}
	return out
}

// deliver invokes a caller callback, recovering from panics so one bad
// listener cannot break the event stream for the others.
func deliver(callback func()) {
	defer func() {
		if r := recover(); r != nil {
			logging.LogWarn("Listener panicked", zap.Any("panic", r))
		}
	}()
	callback()
}
