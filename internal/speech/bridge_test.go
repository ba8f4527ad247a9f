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
	"sync"
	"testing"

	"github.com/loqalabs/loqa-voice-bridge/internal/logging"
	"github.com/loqalabs/loqa-voice-bridge/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeRecognizer struct {
	mu         sync.Mutex
	settings   RecognitionSettings
	handlers   RecognitionHandlers
	starts     int
	stops      int
	startErr   error
	stopErr    error
	startPanic bool
}

func (f *fakeRecognizer) Configure(settings RecognitionSettings) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings = settings
}

func (f *fakeRecognizer) SetHandlers(handlers RecognitionHandlers) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = handlers
}

func (f *fakeRecognizer) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startPanic {
		panic("engine exploded")
	}
	f.starts++
	return f.startErr
}

func (f *fakeRecognizer) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return f.stopErr
}

func (f *fakeRecognizer) fireResult(transcripts ...string) {
	event := ResultEvent{}
	for _, transcript := range transcripts {
		event.Results = append(event.Results, RecognitionResult{
			Alternatives: []Alternative{{Transcript: transcript, Confidence: 0.9}},
			Final:        true,
		})
	}
	f.handlers.OnResult(event)
}

func (f *fakeRecognizer) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

type fakeSynthesizer struct {
	mu       sync.Mutex
	calls    []string
	speakErr error
}

func (f *fakeSynthesizer) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "cancel")
}

func (f *fakeSynthesizer) Speak(utterance Utterance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "speak:"+utterance.Text)
	return f.speakErr
}

type recorder struct {
	mu          sync.Mutex
	transcripts []string
	states      []bool
}

func (r *recorder) onResult(transcript string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcripts = append(r.transcripts, transcript)
}

func (r *recorder) onState(listening bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, listening)
}

func newTestBridge(t *testing.T) (*Bridge, *fakeRecognizer, *fakeSynthesizer) {
	t.Helper()
	recognizer := &fakeRecognizer{}
	synthesizer := &fakeSynthesizer{}

	host := NewHost()
	host.RegisterRecognizer("SpeechRecognition", func() (Recognizer, error) { return recognizer, nil })
	host.SetSynthesizer(synthesizer)

	bridge := NewBridge(Options{
		Host:               host,
		Recognizer:         "SpeechRecognition",
		FallbackRecognizer: "webkitSpeechRecognition",
	})
	return bridge, recognizer, synthesizer
}

func observeLogs(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	logging.SetLogger(zap.New(core))
	t.Cleanup(func() { logging.SetLogger(nil) })
	return logs
}

func TestNewBridge_ConfiguresRecognizer(t *testing.T) {
	bridge, recognizer, _ := newTestBridge(t)

	assert.True(t, bridge.RecognitionAvailable())
	assert.True(t, bridge.SynthesisAvailable())
	assert.Equal(t, "SpeechRecognition", bridge.RecognizerName())
	assert.Equal(t, RecognitionSettings{Continuous: true, InterimResults: false, Language: "en-US"}, recognizer.settings)
	assert.NotNil(t, recognizer.handlers.OnResult)
	assert.NotNil(t, recognizer.handlers.OnEnd)
	assert.NotNil(t, recognizer.handlers.OnError)
	assert.Equal(t, DefaultSpeechRate, bridge.SpeechRate())
	assert.Equal(t, "en-US", bridge.Language())
	assert.False(t, bridge.IsListening())
}

func TestNewBridge_FallbackName(t *testing.T) {
	recognizer := &fakeRecognizer{}
	host := NewHost()
	host.RegisterRecognizer("webkitSpeechRecognition", func() (Recognizer, error) { return recognizer, nil })

	bridge := NewBridge(Options{
		Host:               host,
		Recognizer:         "SpeechRecognition",
		FallbackRecognizer: "webkitSpeechRecognition",
		Language:           "de-DE",
	})

	assert.True(t, bridge.RecognitionAvailable())
	assert.Equal(t, "webkitSpeechRecognition", bridge.RecognizerName())
	assert.Equal(t, "de-DE", recognizer.settings.Language)
	assert.False(t, bridge.SynthesisAvailable())
}

func TestNewBridge_Unavailable(t *testing.T) {
	logs := observeLogs(t)

	bridge := NewBridge(Options{Host: NewHost(), Recognizer: "SpeechRecognition"})
	assert.False(t, bridge.RecognitionAvailable())
	assert.False(t, bridge.SynthesisAvailable())
	assert.Equal(t, 1, logs.FilterMessage("Speech recognition not supported").Len())

	rec := &recorder{}
	assert.NotPanics(t, func() {
		bridge.StartListening(rec.onResult, rec.onState)
		bridge.StopListening()
		bridge.Speak("hello")
	})
	assert.Empty(t, rec.transcripts)
	assert.Empty(t, rec.states)
}

func TestNewBridge_NilHost(t *testing.T) {
	assert.NotPanics(t, func() {
		bridge := NewBridge(Options{})
		bridge.StartListening(nil, nil)
		bridge.Speak("x")
	})
}

func TestNewBridge_FactoryErrorTreatedAsAbsent(t *testing.T) {
	fallback := &fakeRecognizer{}
	host := NewHost()
	host.RegisterRecognizer("primary", func() (Recognizer, error) { return nil, errors.New("no mic") })
	host.RegisterRecognizer("fallback", func() (Recognizer, error) { return fallback, nil })

	bridge := NewBridge(Options{Host: host, Recognizer: "primary", FallbackRecognizer: "fallback"})
	assert.Equal(t, "fallback", bridge.RecognizerName())
}

func TestStartListening_NotifiesTrue(t *testing.T) {
	bridge, recognizer, _ := newTestBridge(t)
	rec := &recorder{}

	bridge.StartListening(rec.onResult, rec.onState)

	assert.Equal(t, 1, recognizer.startCount())
	assert.True(t, bridge.IsListening())
	assert.Equal(t, []bool{true}, rec.states)
}

func TestStartListening_FailureSwallowed(t *testing.T) {
	logs := observeLogs(t)
	bridge, recognizer, _ := newTestBridge(t)
	recognizer.startErr = ErrAlreadyStarted
	rec := &recorder{}

	assert.NotPanics(t, func() { bridge.StartListening(rec.onResult, rec.onState) })

	assert.True(t, bridge.IsListening())
	assert.Empty(t, rec.states)
	assert.Equal(t, 1, logs.FilterMessage("Failed to start recognition").Len())
}

func TestStartListening_PanicRecovered(t *testing.T) {
	bridge, recognizer, _ := newTestBridge(t)
	recognizer.startPanic = true
	rec := &recorder{}

	assert.NotPanics(t, func() { bridge.StartListening(rec.onResult, rec.onState) })
	assert.Empty(t, rec.states)
}

func TestResultEvent_InvokesCallbackOnce(t *testing.T) {
	bridge, recognizer, _ := newTestBridge(t)
	rec := &recorder{}
	bridge.StartListening(rec.onResult, rec.onState)

	recognizer.fireResult("hello")

	assert.Equal(t, []string{"hello"}, rec.transcripts)
}

func TestResultEvent_UsesNewestResult(t *testing.T) {
	bridge, recognizer, _ := newTestBridge(t)
	rec := &recorder{}
	bridge.StartListening(rec.onResult, rec.onState)

	recognizer.fireResult("turn on", "the lights")

	assert.Equal(t, []string{"the lights"}, rec.transcripts)
}

func TestResultEvent_EmptyIgnored(t *testing.T) {
	bridge, recognizer, _ := newTestBridge(t)
	rec := &recorder{}
	bridge.StartListening(rec.onResult, rec.onState)

	recognizer.handlers.OnResult(ResultEvent{})
	recognizer.handlers.OnResult(ResultEvent{Results: []RecognitionResult{{Final: true}}})

	assert.Empty(t, rec.transcripts)
}

func TestStartListening_LastRegistrationWins(t *testing.T) {
	bridge, recognizer, _ := newTestBridge(t)
	first := &recorder{}
	second := &recorder{}

	bridge.StartListening(first.onResult, first.onState)
	bridge.StartListening(second.onResult, second.onState)
	recognizer.fireResult("hi")

	assert.Empty(t, first.transcripts)
	assert.Equal(t, []string{"hi"}, second.transcripts)
}

func TestEndEvent_RestartsWhileListening(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg, reg)

	recognizer := &fakeRecognizer{}
	host := NewHost()
	host.RegisterRecognizer("SpeechRecognition", func() (Recognizer, error) { return recognizer, nil })
	bridge := NewBridge(Options{Host: host, Recognizer: "SpeechRecognition", Metrics: m})

	rec := &recorder{}
	bridge.StartListening(rec.onResult, rec.onState)
	recognizer.handlers.OnEnd()

	assert.Equal(t, 2, recognizer.startCount())
	assert.Equal(t, []bool{true}, rec.states)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RecognitionRestarts.WithLabelValues("ok")))
}

func TestEndEvent_RestartFailureSwallowed(t *testing.T) {
	bridge, recognizer, _ := newTestBridge(t)
	rec := &recorder{}
	bridge.StartListening(rec.onResult, rec.onState)

	recognizer.startErr = errors.New("device busy")
	assert.NotPanics(t, func() { recognizer.handlers.OnEnd() })
	assert.True(t, bridge.IsListening())
	assert.Equal(t, []bool{true}, rec.states)
}

func TestEndEvent_AfterStopNotifiesFalse(t *testing.T) {
	bridge, recognizer, _ := newTestBridge(t)
	rec := &recorder{}
	bridge.StartListening(rec.onResult, rec.onState)
	bridge.StopListening()

	recognizer.handlers.OnEnd()

	assert.Equal(t, 1, recognizer.startCount())
	assert.Equal(t, []bool{true, false, false}, rec.states)
}

func TestErrorEvent_ForcesNotListening(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg, reg)

	recognizer := &fakeRecognizer{}
	host := NewHost()
	host.RegisterRecognizer("SpeechRecognition", func() (Recognizer, error) { return recognizer, nil })
	bridge := NewBridge(Options{Host: host, Recognizer: "SpeechRecognition", Metrics: m})

	rec := &recorder{}
	bridge.StartListening(rec.onResult, rec.onState)
	recognizer.handlers.OnError(ErrorEvent{Code: ErrorCodeNetwork, Err: errors.New("offline")})

	assert.False(t, bridge.IsListening())
	assert.Equal(t, []bool{true, false}, rec.states)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RecognitionErrors.WithLabelValues(ErrorCodeNetwork)))

	// The end event that follows an error must not restart.
	recognizer.handlers.OnEnd()
	assert.Equal(t, 1, recognizer.startCount())
}

func TestStopListening_Twice(t *testing.T) {
	bridge, recognizer, _ := newTestBridge(t)
	rec := &recorder{}
	bridge.StartListening(rec.onResult, rec.onState)

	assert.NotPanics(t, func() {
		bridge.StopListening()
		bridge.StopListening()
	})
	assert.Equal(t, 2, recognizer.stops)
	assert.False(t, bridge.IsListening())
}

func TestStopListening_FailureSwallowed(t *testing.T) {
	bridge, recognizer, _ := newTestBridge(t)
	recognizer.stopErr = errors.New("not started")
	rec := &recorder{}
	bridge.StartListening(rec.onResult, rec.onState)

	bridge.StopListening()

	assert.False(t, bridge.IsListening())
	assert.Equal(t, []bool{true}, rec.states)
}

func TestSpeak_CancelsBeforeEachUtterance(t *testing.T) {
	bridge, _, synthesizer := newTestBridge(t)

	bridge.Speak("a")
	bridge.Speak("b")

	assert.Equal(t, []string{"cancel", "speak:a", "cancel", "speak:b"}, synthesizer.calls)
}

func TestSpeak_FailureLogged(t *testing.T) {
	logs := observeLogs(t)
	bridge, _, synthesizer := newTestBridge(t)
	synthesizer.speakErr = errors.New("queue full")

	assert.NotPanics(t, func() { bridge.Speak("hello") })
	assert.Equal(t, 1, logs.FilterMessage("Failed to queue speech").Len())
}

func TestSubscribe_ReceivesEvents(t *testing.T) {
	bridge, recognizer, _ := newTestBridge(t)
	primary := &recorder{}
	sub := &recorder{}

	unsubscribe := bridge.Subscribe(Listener{OnResult: sub.onResult, OnStateChange: sub.onState})
	bridge.StartListening(primary.onResult, primary.onState)
	recognizer.fireResult("hello")

	assert.Equal(t, []string{"hello"}, primary.transcripts)
	assert.Equal(t, []string{"hello"}, sub.transcripts)
	assert.Equal(t, []bool{true}, sub.states)

	unsubscribe()
	unsubscribe()
	recognizer.fireResult("again")

	assert.Equal(t, []string{"hello"}, sub.transcripts)
	assert.Equal(t, []string{"hello", "again"}, primary.transcripts)
}

func TestSubscribe_PanickingListenerIsolated(t *testing.T) {
	bridge, recognizer, _ := newTestBridge(t)
	good := &recorder{}

	bridge.Subscribe(Listener{OnResult: func(string) { panic("bad listener") }})
	bridge.Subscribe(Listener{OnResult: good.onResult})
	bridge.StartListening(nil, nil)

	require.NotPanics(t, func() { recognizer.fireResult("hello") })
	assert.Equal(t, []string{"hello"}, good.transcripts)
}

func TestNoCallbacksBeforeRegistration(t *testing.T) {
	bridge, recognizer, _ := newTestBridge(t)

	assert.NotPanics(t, func() {
		recognizer.fireResult("stray")
		recognizer.handlers.OnEnd()
		recognizer.handlers.OnError(ErrorEvent{Code: ErrorCodeAborted})
	})
	assert.False(t, bridge.IsListening())
}
