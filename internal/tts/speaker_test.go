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
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-voice-bridge/internal/metrics"
	"github.com/loqalabs/loqa-voice-bridge/internal/speech"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTTS struct {
	mu     sync.Mutex
	texts  []string
	speeds []float32
	err    error
}

func (f *fakeTTS) Synthesize(ctx context.Context, text string, options *TTSOptions) (*TTSResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	f.speeds = append(f.speeds, options.Speed)
	if f.err != nil {
		return nil, f.err
	}
	return &TTSResult{Audio: strings.NewReader("audio:" + text), ContentType: "audio/mpeg", Length: -1}, nil
}

func (f *fakeTTS) GetAvailableVoices(context.Context) ([]string, error) { return nil, nil }
func (f *fakeTTS) Close() error                                          { return nil }

func (f *fakeTTS) synthesized() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

// blockingSink holds each utterance until released or canceled.
type blockingSink struct {
	started  chan string
	release  chan struct{}
	mu       sync.Mutex
	played   []string
	canceled []string
}

func newBlockingSink() *blockingSink {
	return &blockingSink{started: make(chan string, 8), release: make(chan struct{})}
}

func (b *blockingSink) Play(ctx context.Context, result *TTSResult, utterance speech.Utterance) error {
	b.started <- utterance.Text
	select {
	case <-b.release:
		b.mu.Lock()
		b.played = append(b.played, utterance.Text)
		b.mu.Unlock()
		return nil
	case <-ctx.Done():
		b.mu.Lock()
		b.canceled = append(b.canceled, utterance.Text)
		b.mu.Unlock()
		return ctx.Err()
	}
}

func newTestSpeaker(t *testing.T, tts TextToSpeech, sink Sink) (*Speaker, *metrics.Metrics) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg, reg)
	s := NewSpeaker(SpeakerConfig{
		TTS:       tts,
		Sink:      sink,
		Options:   TTSOptions{Voice: "af_bella", Speed: 1.0, ResponseFormat: "mp3"},
		QueueSize: 4,
		Metrics:   m,
	})
	t.Cleanup(func() { _ = s.Close() })
	return s, m
}

func TestSpeaker_PlaysInOrder(t *testing.T) {
	tts := &fakeTTS{}
	fs := afero.NewMemMapFs()
	sink, err := NewFileSink(fs, "/speech")
	require.NoError(t, err)
	s, m := newTestSpeaker(t, tts, sink)

	require.NoError(t, s.Speak(speech.Utterance{Text: "one", Rate: 0.9}))
	require.NoError(t, s.Speak(speech.Utterance{Text: "two", Rate: 0.9}))
	s.Wait()

	assert.Equal(t, []string{"one", "two"}, tts.synthesized())
	assert.InDelta(t, 0.9, tts.speeds[0], 0.0001)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.UtterancesSpoken))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.UtterancesQueued))

	files, err := afero.ReadDir(fs, "/speech")
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestSpeaker_RejectsEmptyText(t *testing.T) {
	s, _ := newTestSpeaker(t, &fakeTTS{}, nil)
	assert.ErrorIs(t, s.Speak(speech.Utterance{Text: "  "}), ErrEmptyText)
}

func TestSpeaker_CancelInterruptsAndDrops(t *testing.T) {
	tts := &fakeTTS{}
	sink := newBlockingSink()
	s, m := newTestSpeaker(t, tts, sink)

	require.NoError(t, s.Speak(speech.Utterance{Text: "first", Rate: 1}))
	assert.Equal(t, "first", <-sink.started)
	require.NoError(t, s.Speak(speech.Utterance{Text: "queued", Rate: 1}))

	s.Cancel()
	require.NoError(t, s.Speak(speech.Utterance{Text: "second", Rate: 1}))
	assert.Equal(t, "second", <-sink.started)
	close(sink.release)
	s.Wait()

	assert.Equal(t, []string{"first"}, sink.canceled)
	assert.Equal(t, []string{"second"}, sink.played)
	assert.NotContains(t, tts.synthesized(), "queued")
	assert.Equal(t, float64(2), testutil.ToFloat64(m.UtterancesCanceled))
}

func TestSpeaker_QueueFull(t *testing.T) {
	sink := newBlockingSink()
	s, _ := newTestSpeaker(t, &fakeTTS{}, sink)

	require.NoError(t, s.Speak(speech.Utterance{Text: "playing"}))
	<-sink.started
	for i := 0; i < 4; i++ {
		require.NoError(t, s.Speak(speech.Utterance{Text: "queued"}))
	}
	assert.Equal(t, 4, s.Pending())
	assert.ErrorIs(t, s.Speak(speech.Utterance{Text: "overflow"}), ErrQueueFull)
}

func TestSpeaker_SynthesisFailure(t *testing.T) {
	tts := &fakeTTS{err: errors.New("service down")}
	s, m := newTestSpeaker(t, tts, nil)

	require.NoError(t, s.Speak(speech.Utterance{Text: "hello"}))
	s.Wait()
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SynthesisErrors))
	assert.Zero(t, testutil.ToFloat64(m.UtterancesSpoken))
}

func TestSpeaker_Closed(t *testing.T) {
	s := NewSpeaker(SpeakerConfig{TTS: &fakeTTS{}})
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Speak(speech.Utterance{Text: "late"}), ErrClosed)

	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait blocked after Close")
	}
}

func TestSpeaker_WithBridge(t *testing.T) {
	tts := &fakeTTS{}
	s, _ := newTestSpeaker(t, tts, nil)

	host := speech.NewHost()
	host.SetSynthesizer(s)
	bridge := speech.NewBridge(speech.Options{Host: host})

	bridge.Speak("good morning")
	s.Wait()

	assert.Equal(t, []string{"good morning"}, tts.synthesized())
	assert.InDelta(t, speech.DefaultSpeechRate, tts.speeds[0], 0.0001)
}
