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
	"time"

	"github.com/loqalabs/loqa-voice-bridge/internal/logging"
	"github.com/loqalabs/loqa-voice-bridge/internal/metrics"
	"github.com/loqalabs/loqa-voice-bridge/internal/speech"
	"go.uber.org/zap"
)

// SpeakerConfig configures a Speaker
type SpeakerConfig struct {
	TTS       TextToSpeech
	Sink      Sink
	Options   TTSOptions // Base options; Speed is multiplied by each utterance's rate
	QueueSize int
	Metrics   *metrics.Metrics // Optional
}

type job struct {
	utterance  speech.Utterance
	generation uint64
	queuedAt   time.Time
}

// Speaker implements speech.Synthesizer. Utterances are synthesized and
// played one at a time in the order they were queued.
type Speaker struct {
	tts     TextToSpeech
	sink    Sink
	options TTSOptions
	metrics *metrics.Metrics

	queue  chan job
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu            sync.Mutex
	generation    uint64 // bumped by Cancel; older jobs are dropped
	cancelCurrent context.CancelFunc
	pending       int // queued plus in progress
	idle          *sync.Cond
}

// NewSpeaker starts the playback worker
func NewSpeaker(cfg SpeakerConfig) *Speaker {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.Options.Speed <= 0 {
		cfg.Options.Speed = 1.0
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Speaker{
		tts:     cfg.TTS,
		sink:    cfg.Sink,
		options: cfg.Options,
		metrics: cfg.Metrics,
		queue:   make(chan job, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	s.idle = sync.NewCond(&s.mu)

	go s.worker()
	return s
}

// Speak implements speech.Synthesizer
func (s *Speaker) Speak(utterance speech.Utterance) error {
	if strings.TrimSpace(utterance.Text) == "" {
		return ErrEmptyText
	}
	if s.ctx.Err() != nil {
		return ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	j := job{utterance: utterance, generation: s.generation, queuedAt: time.Now()}
	select {
	case s.queue <- j:
		s.pending++
		if s.metrics != nil {
			s.metrics.UtterancesQueued.Inc()
		}
		return nil
	default:
		return ErrQueueFull
	}
}

// Cancel implements speech.Synthesizer: queued utterances are dropped and the
// one in progress is interrupted.
func (s *Speaker) Cancel() {
	s.mu.Lock()
	s.generation++
	if s.cancelCurrent != nil {
		s.cancelCurrent()
	}
	s.mu.Unlock()

	dropped := 0
	for {
		select {
		case <-s.queue:
			dropped++
			s.finishJob()
		default:
			if dropped > 0 {
				s.recordCanceled(dropped)
				logging.LogSynthesisOperation("cancel", zap.Int("dropped", dropped))
			}
			return
		}
	}
}

// Wait blocks until the queue is empty and nothing is playing
func (s *Speaker) Wait() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.pending > 0 {
		s.idle.Wait()
	}
}

// Pending returns the number of queued utterances
func (s *Speaker) Pending() int {
	return len(s.queue)
}

// Close interrupts playback and stops the worker
func (s *Speaker) Close() error {
	s.Cancel()
	s.cancel()
	<-s.done
	return nil
}

func (s *Speaker) worker() {
	defer close(s.done)
	defer func() {
		s.mu.Lock()
		s.pending = 0
		s.idle.Broadcast()
		s.mu.Unlock()
	}()

	for {
		var j job
		select {
		case <-s.ctx.Done():
			return
		case j = <-s.queue:
		}

		s.mu.Lock()
		if j.generation != s.generation {
			s.mu.Unlock()
			s.recordCanceled(1)
			s.finishJob()
			continue
		}
		ctx, cancel := context.WithCancel(s.ctx)
		s.cancelCurrent = cancel
		s.mu.Unlock()

		s.play(ctx, j)
		cancel()

		s.mu.Lock()
		s.cancelCurrent = nil
		s.mu.Unlock()
		s.finishJob()
	}
}

// finishJob marks one queued job as finished
func (s *Speaker) finishJob() {
	s.mu.Lock()
	if s.pending > 0 {
		s.pending--
	}
	s.idle.Broadcast()
	s.mu.Unlock()
}

func (s *Speaker) play(ctx context.Context, j job) {
	options := s.options
	rate := j.utterance.Rate
	if rate <= 0 {
		rate = 1
	}
	options.Speed = s.options.Speed * rate

	result, err := s.tts.Synthesize(ctx, j.utterance.Text, &options)
	if err != nil {
		s.handleFailure(ctx, err, "Synthesis failed", j)
		return
	}
	defer result.Close()

	if s.sink != nil {
		if err := s.sink.Play(ctx, result, j.utterance); err != nil {
			s.handleFailure(ctx, err, "Playback failed", j)
			return
		}
	}

	if s.metrics != nil {
		s.metrics.UtterancesSpoken.Inc()
		s.metrics.SynthesisLatency.Observe(time.Since(j.queuedAt).Seconds())
	}
	logging.LogSynthesisOperation("spoken",
		zap.Int("text_length", len(j.utterance.Text)),
		zap.Float32("speed", options.Speed),
	)
}

func (s *Speaker) handleFailure(ctx context.Context, err error, message string, j job) {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		s.recordCanceled(1)
		logging.LogSynthesisOperation("interrupted", zap.Int("text_length", len(j.utterance.Text)))
		return
	}
	if s.metrics != nil {
		s.metrics.SynthesisErrors.Inc()
	}
	logging.LogError(err, message, zap.Int("text_length", len(j.utterance.Text)))
}

func (s *Speaker) recordCanceled(n int) {
	if s.metrics != nil {
		s.metrics.UtterancesCanceled.Add(float64(n))
	}
}
