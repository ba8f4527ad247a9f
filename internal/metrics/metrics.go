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

// Package metrics exposes Prometheus metrics for the voice bridge.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "voice_bridge"

// Metrics holds all Prometheus metrics for the bridge and its backends.
type Metrics struct {
	// Recognition
	TranscriptsTotal     prometheus.Counter
	StateChanges         *prometheus.CounterVec
	RecognitionRestarts  *prometheus.CounterVec
	RecognitionErrors    *prometheus.CounterVec
	TranscriptionLatency *prometheus.HistogramVec
	ListeningActive      prometheus.Gauge

	// Synthesis
	UtterancesQueued   prometheus.Counter
	UtterancesSpoken   prometheus.Counter
	UtterancesCanceled prometheus.Counter
	SynthesisErrors    prometheus.Counter
	SynthesisLatency   prometheus.Histogram

	// Relay
	SinkWrites *prometheus.CounterVec
	SinkErrors *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// DefaultMetrics is registered with the default Prometheus registry.
var DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)

// NewMetrics creates and registers all metrics with reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		TranscriptsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_total",
			Help:      "Total number of final transcripts relayed",
		}),
		StateChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_changes_total",
			Help:      "Listening state notifications by reported state",
		}, []string{"listening"}),
		RecognitionRestarts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognition_restarts_total",
			Help:      "Automatic recognition restarts after an end event",
		}, []string{"result"}),
		RecognitionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognition_errors_total",
			Help:      "Errors reported by the recognition capability",
		}, []string{"code"}),
		TranscriptionLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcription_latency_seconds",
			Help:      "Speech-to-text latency per utterance",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"backend"}),
		ListeningActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "listening",
			Help:      "1 while the bridge intends to listen",
		}),
		UtterancesQueued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_queued_total",
			Help:      "Utterances accepted for synthesis",
		}),
		UtterancesSpoken: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_spoken_total",
			Help:      "Utterances synthesized and played to completion",
		}),
		UtterancesCanceled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_canceled_total",
			Help:      "Utterances dropped or interrupted by a cancel",
		}),
		SynthesisErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_errors_total",
			Help:      "Failed synthesis or playback attempts",
		}),
		SynthesisLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "synthesis_latency_seconds",
			Help:      "Time from dequeue to end of playback",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		SinkWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_writes_total",
			Help:      "Events delivered to each relay sink",
		}, []string{"sink"}),
		SinkErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      "Failed event deliveries per relay sink",
		}, []string{"sink"}),
		gatherer: gatherer,
	}
}

// RecordTranscript records a relayed transcript.
func (m *Metrics) RecordTranscript() {
	m.TranscriptsTotal.Inc()
}

// RecordStateChange records a listening state notification.
func (m *Metrics) RecordStateChange(listening bool) {
	if listening {
		m.StateChanges.WithLabelValues("true").Inc()
		m.ListeningActive.Set(1)
		return
	}
	m.StateChanges.WithLabelValues("false").Inc()
	m.ListeningActive.Set(0)
}

// RecordRestart records an automatic restart attempt.
func (m *Metrics) RecordRestart(err error) {
	if err != nil {
		m.RecognitionRestarts.WithLabelValues("failed").Inc()
		return
	}
	m.RecognitionRestarts.WithLabelValues("ok").Inc()
}

// RecordRecognitionError records an error event from the recognizer.
func (m *Metrics) RecordRecognitionError(code string) {
	if code == "" {
		code = "unknown"
	}
	m.RecognitionErrors.WithLabelValues(code).Inc()
}

// ObserveTranscription records speech-to-text latency for a backend.
func (m *Metrics) ObserveTranscription(backend string, seconds float64) {
	m.TranscriptionLatency.WithLabelValues(backend).Observe(seconds)
}

// RecordSinkWrite records a relay delivery attempt.
func (m *Metrics) RecordSinkWrite(sink string, err error) {
	m.SinkWrites.WithLabelValues(sink).Inc()
	if err != nil {
		m.SinkErrors.WithLabelValues(sink).Inc()
	}
}

// Handler serves the metrics registered with this instance.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
