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

// Package relay turns bridge callbacks into BridgeEvents and fans them out to
// storage and messaging sinks.
package relay

import (
	"context"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/loqalabs/loqa-voice-bridge/internal/events"
	"github.com/loqalabs/loqa-voice-bridge/internal/logging"
	"github.com/loqalabs/loqa-voice-bridge/internal/metrics"
	"github.com/loqalabs/loqa-voice-bridge/internal/speech"
	"go.uber.org/zap"
)

const defaultSinkTimeout = 5 * time.Second

// Publisher accepts bridge events
type Publisher interface {
	PublishEvent(ctx context.Context, event *events.BridgeEvent) error
}

// PublisherFunc adapts a function to Publisher
type PublisherFunc func(ctx context.Context, event *events.BridgeEvent) error

// PublishEvent calls f
func (f PublisherFunc) PublishEvent(ctx context.Context, event *events.BridgeEvent) error {
	return f(ctx, event)
}

// Config configures a Relay
type Config struct {
	Workers     int // One worker keeps events in order
	Language    string
	SinkTimeout time.Duration
	Metrics     *metrics.Metrics
}

type namedSink struct {
	name      string
	publisher Publisher
}

// Relay delivers events to every sink in registration order
type Relay struct {
	pool        *workerpool.WorkerPool
	language    string
	sinkTimeout time.Duration
	metrics     *metrics.Metrics

	mu          sync.RWMutex
	sinks       []namedSink
	unsubscribe func()
	closed      bool
}

// New creates a relay with its worker pool
func New(cfg Config) *Relay {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	timeout := cfg.SinkTimeout
	if timeout <= 0 {
		timeout = defaultSinkTimeout
	}

	return &Relay{
		pool:        workerpool.New(workers),
		language:    cfg.Language,
		sinkTimeout: timeout,
		metrics:     cfg.Metrics,
	}
}

// AddSink registers a publisher under name
func (r *Relay) AddSink(name string, publisher Publisher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks = append(r.sinks, namedSink{name: name, publisher: publisher})
}

// Attach subscribes the relay to bridge. Calling it again replaces the
// previous subscription.
func (r *Relay) Attach(bridge *speech.Bridge) {
	unsubscribe := bridge.Subscribe(speech.Listener{
		OnResult:      r.onResult,
		OnStateChange: r.onStateChange,
	})

	r.mu.Lock()
	previous := r.unsubscribe
	r.unsubscribe = unsubscribe
	r.mu.Unlock()

	if previous != nil {
		previous()
	}
}

func (r *Relay) onResult(transcript string) {
	if r.metrics != nil {
		r.metrics.RecordTranscript()
	}
	r.Publish(events.NewResultEvent(transcript, r.language))
}

func (r *Relay) onStateChange(listening bool) {
	if r.metrics != nil {
		r.metrics.RecordStateChange(listening)
	}
	r.Publish(events.NewStateEvent(listening))
}

// RecordSpeak publishes a speak event for text submitted by source
func (r *Relay) RecordSpeak(text, source string) {
	r.Publish(events.NewSpeakEvent(text, source))
}

// Publish queues event for delivery. Events published after Close are dropped.
func (r *Relay) Publish(event *events.BridgeEvent) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		logging.LogDebug("Relay closed, dropping event", zap.String("uuid", event.UUID))
		return
	}

	sinks := make([]namedSink, len(r.sinks))
	copy(sinks, r.sinks)

	r.pool.Submit(func() {
		r.deliver(sinks, event)
	})
}

func (r *Relay) deliver(sinks []namedSink, event *events.BridgeEvent) {
	for _, sink := range sinks {
		ctx, cancel := context.WithTimeout(context.Background(), r.sinkTimeout)
		err := sink.publisher.PublishEvent(ctx, event)
		cancel()

		if r.metrics != nil {
			r.metrics.RecordSinkWrite(sink.name, err)
		}
		if err != nil {
			logging.LogError(err, "Failed to relay event",
				zap.String("sink", sink.name),
				zap.String("uuid", event.UUID),
				zap.String("kind", string(event.Kind)),
			)
		}
	}
}

// Pending returns the number of events waiting for a worker
func (r *Relay) Pending() int {
	return r.pool.WaitingQueueSize()
}

// Close detaches from the bridge and waits for queued events to be delivered
func (r *Relay) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	unsubscribe := r.unsubscribe
	r.unsubscribe = nil
	r.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	r.pool.StopWait()
}
