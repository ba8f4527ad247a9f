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
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-voice-bridge/internal/audio"
	"github.com/loqalabs/loqa-voice-bridge/internal/metrics"
	"github.com/loqalabs/loqa-voice-bridge/internal/speech"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu       sync.Mutex
	segments []audio.Segment
	block    bool
	openErr  error
	opens    int
}

func (f *fakeSource) Open(ctx context.Context) (<-chan audio.Segment, error) {
	f.mu.Lock()
	f.opens++
	segments, block, err := f.segments, f.block, f.openErr
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}

	ch := make(chan audio.Segment)
	go func() {
		defer close(ch)
		for _, s := range segments {
			select {
			case ch <- s:
			case <-ctx.Done():
				return
			}
		}
		if block {
			<-ctx.Done()
		}
	}()
	return ch, nil
}

func (f *fakeSource) Close() error { return nil }

func (f *fakeSource) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

// fakeTranscriber returns texts in order, then empty strings.
type fakeTranscriber struct {
	mu       sync.Mutex
	texts    []string
	err      error
	calls    int
	language string
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, samples []float32, sampleRate int) (*TranscriptionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.texts) == 0 {
		return &TranscriptionResult{}, nil
	}
	text := f.texts[0]
	f.texts = f.texts[1:]
	return &TranscriptionResult{Text: text, Confidence: 0.8}, nil
}

func (f *fakeTranscriber) Name() string { return "fake" }
func (f *fakeTranscriber) Close() error { return nil }

func (f *fakeTranscriber) SetLanguage(tag string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.language = tag
}

func segments(n int) []audio.Segment {
	out := make([]audio.Segment, n)
	for i := range out {
		out[i] = audio.Segment{Samples: make([]float32, 1600), SampleRate: 16000}
	}
	return out
}

// eventLog records handler invocations as strings.
type eventLog struct {
	events  chan string
	results chan speech.ResultEvent
}

func newEventLog() *eventLog {
	return &eventLog{events: make(chan string, 32), results: make(chan speech.ResultEvent, 32)}
}

func (l *eventLog) handlers() speech.RecognitionHandlers {
	return speech.RecognitionHandlers{
		OnResult: func(e speech.ResultEvent) {
			transcript, _ := e.LatestTranscript()
			l.results <- e
			l.events <- "result:" + transcript
		},
		OnEnd:   func() { l.events <- "end" },
		OnError: func(e speech.ErrorEvent) { l.events <- "error:" + e.Code },
	}
}

// until collects events up to and including "end"
func (l *eventLog) until(t *testing.T) []string {
	t.Helper()
	var out []string
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e := <-l.events:
			out = append(out, e)
			if e == "end" {
				return out
			}
		case <-timeout:
			t.Fatalf("timed out waiting for end, got %v", out)
			return out
		}
	}
}

func newTestRecognizer(source audio.Source, transcriber Transcriber, log *eventLog) *SessionRecognizer {
	r := NewSessionRecognizer(SessionConfig{Source: source, Transcriber: transcriber})
	r.Configure(speech.RecognitionSettings{Continuous: true, Language: "en-US"})
	r.SetHandlers(log.handlers())
	return r
}

func TestSessionRecognizer_ContinuousResults(t *testing.T) {
	log := newEventLog()
	source := &fakeSource{segments: segments(2)}
	r := newTestRecognizer(source, &fakeTranscriber{texts: []string{"hello", "world"}}, log)

	require.NoError(t, r.Start())
	assert.Equal(t, []string{"result:hello", "result:world", "end"}, log.until(t))

	<-log.results
	second := <-log.results
	require.Len(t, second.Results, 2)
	assert.Equal(t, "hello", second.Results[0].Alternatives[0].Transcript)
	assert.True(t, second.Results[1].Final)
	assert.False(t, r.Running())
}

func TestSessionRecognizer_NoSpeech(t *testing.T) {
	log := newEventLog()
	r := newTestRecognizer(&fakeSource{}, &fakeTranscriber{}, log)

	require.NoError(t, r.Start())
	assert.Equal(t, []string{"error:" + speech.ErrorCodeNoSpeech, "end"}, log.until(t))
}

func TestSessionRecognizer_EmptyTranscriptsSkipped(t *testing.T) {
	log := newEventLog()
	r := newTestRecognizer(&fakeSource{segments: segments(2)}, &fakeTranscriber{texts: []string{"  ", "hi"}}, log)

	require.NoError(t, r.Start())
	assert.Equal(t, []string{"result:hi", "end"}, log.until(t))
}

func TestSessionRecognizer_SingleResultMode(t *testing.T) {
	log := newEventLog()
	transcriber := &fakeTranscriber{texts: []string{"one", "two"}}
	r := NewSessionRecognizer(SessionConfig{Source: &fakeSource{segments: segments(2)}, Transcriber: transcriber})
	r.Configure(speech.RecognitionSettings{Continuous: false, Language: "en-US"})
	r.SetHandlers(log.handlers())

	require.NoError(t, r.Start())
	assert.Equal(t, []string{"result:one", "end"}, log.until(t))
	assert.Equal(t, 1, transcriber.calls)
}

func TestSessionRecognizer_StopEndsWithoutError(t *testing.T) {
	log := newEventLog()
	r := newTestRecognizer(&fakeSource{block: true}, &fakeTranscriber{}, log)

	require.NoError(t, r.Start())
	assert.True(t, r.Running())
	require.NoError(t, r.Stop())
	assert.Equal(t, []string{"end"}, log.until(t))

	require.NoError(t, r.Stop())
}

func TestSessionRecognizer_AlreadyStarted(t *testing.T) {
	log := newEventLog()
	r := newTestRecognizer(&fakeSource{block: true}, &fakeTranscriber{}, log)

	require.NoError(t, r.Start())
	assert.ErrorIs(t, r.Start(), speech.ErrAlreadyStarted)

	require.NoError(t, r.Stop())
	log.until(t)
}

func TestSessionRecognizer_Timeout(t *testing.T) {
	log := newEventLog()
	r := NewSessionRecognizer(SessionConfig{
		Source:         &fakeSource{block: true},
		Transcriber:    &fakeTranscriber{},
		SessionTimeout: 20 * time.Millisecond,
	})
	r.SetHandlers(log.handlers())

	require.NoError(t, r.Start())
	assert.Equal(t, []string{"end"}, log.until(t))
}

func TestSessionRecognizer_Failures(t *testing.T) {
	tests := []struct {
		name        string
		source      *fakeSource
		transcriber *fakeTranscriber
		code        string
	}{
		{
			name:        "open failure",
			source:      &fakeSource{openErr: errors.New("no device")},
			transcriber: &fakeTranscriber{},
			code:        speech.ErrorCodeAudioCapture,
		},
		{
			name:        "capture failure",
			source:      &fakeSource{segments: []audio.Segment{{Err: errors.New("read failed")}}},
			transcriber: &fakeTranscriber{},
			code:        speech.ErrorCodeAudioCapture,
		},
		{
			name:        "transcription failure",
			source:      &fakeSource{segments: segments(1), block: true},
			transcriber: &fakeTranscriber{err: errors.New("connection refused")},
			code:        speech.ErrorCodeNetwork,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := newEventLog()
			r := newTestRecognizer(tt.source, tt.transcriber, log)

			require.NoError(t, r.Start())
			assert.Equal(t, []string{"error:" + tt.code, "end"}, log.until(t))
		})
	}
}

func TestSessionRecognizer_MissingBackends(t *testing.T) {
	log := newEventLog()
	r := NewSessionRecognizer(SessionConfig{})
	r.SetHandlers(log.handlers())

	require.NoError(t, r.Start())
	assert.Equal(t, []string{"error:" + speech.ErrorCodeAudioCapture, "end"}, log.until(t))
}

func TestSessionRecognizer_ConfigurePassesLanguage(t *testing.T) {
	transcriber := &fakeTranscriber{}
	r := NewSessionRecognizer(SessionConfig{Source: &fakeSource{}, Transcriber: transcriber})

	r.Configure(speech.RecognitionSettings{Continuous: true, Language: "fr-FR"})
	assert.Equal(t, "fr-FR", transcriber.language)
}

func TestSessionRecognizer_RestartFromEndHandler(t *testing.T) {
	source := &fakeSource{block: true}
	r := NewSessionRecognizer(SessionConfig{
		Source:         source,
		Transcriber:    &fakeTranscriber{},
		SessionTimeout: 10 * time.Millisecond,
	})

	restarted := make(chan error, 1)
	var once sync.Once
	r.SetHandlers(speech.RecognitionHandlers{
		OnEnd: func() {
			once.Do(func() { restarted <- r.Start() })
		},
	})

	require.NoError(t, r.Start())
	select {
	case err := <-restarted:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("session never ended")
	}

	assert.Eventually(t, func() bool { return source.openCount() == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, r.Close())
}

func TestSessionRecognizer_RecordsLatency(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg, reg)
	log := newEventLog()

	r := NewSessionRecognizer(SessionConfig{
		Source:      &fakeSource{segments: segments(1)},
		Transcriber: &fakeTranscriber{texts: []string{"hello"}},
		Metrics:     m,
	})
	r.SetHandlers(log.handlers())

	require.NoError(t, r.Start())
	log.until(t)
	assert.Equal(t, 1, testutil.CollectAndCount(m.TranscriptionLatency))
}

func TestSessionRecognizer_DrivesBridge(t *testing.T) {
	source := &fakeSource{segments: segments(1), block: true}
	recognizer := NewSessionRecognizer(SessionConfig{Source: source, Transcriber: &fakeTranscriber{texts: []string{"turn on the lights"}}})

	host := speech.NewHost()
	host.RegisterRecognizer("SpeechRecognition", func() (speech.Recognizer, error) { return recognizer, nil })
	bridge := speech.NewBridge(speech.Options{Host: host, Recognizer: "SpeechRecognition"})

	transcripts := make(chan string, 1)
	states := make(chan bool, 4)
	bridge.StartListening(func(s string) { transcripts <- s }, func(b bool) { states <- b })

	select {
	case got := <-transcripts:
		assert.Equal(t, "turn on the lights", got)
	case <-time.After(5 * time.Second):
		t.Fatal("no transcript")
	}
	assert.True(t, <-states)

	bridge.StopListening()
	assert.False(t, <-states)
	recognizer.Wait()
	assert.False(t, <-states)
}
