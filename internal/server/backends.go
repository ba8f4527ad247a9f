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

package server

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/loqalabs/loqa-voice-bridge/internal/audio"
	"github.com/loqalabs/loqa-voice-bridge/internal/config"
	"github.com/loqalabs/loqa-voice-bridge/internal/logging"
	"github.com/loqalabs/loqa-voice-bridge/internal/messaging"
	"github.com/loqalabs/loqa-voice-bridge/internal/metrics"
	"github.com/loqalabs/loqa-voice-bridge/internal/speech"
	"github.com/loqalabs/loqa-voice-bridge/internal/stt"
	"github.com/loqalabs/loqa-voice-bridge/internal/tts"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Recognizer names registered on the host
const (
	RecognizerREST    = "rest"
	RecognizerWhisper = "whisper"
	RecognizerGoogle  = "google"
)

// backends owns everything the host hands to the bridge
type backends struct {
	host    *speech.Host
	source  audio.Source
	closers []io.Closer
	speaker *tts.Speaker
}

func (b *backends) track(c io.Closer) {
	b.closers = append(b.closers, c)
}

// close releases backends in reverse order of creation
func (b *backends) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i].Close(); err != nil {
			logging.LogWarn("Failed to close backend", zap.Error(err))
		}
	}
	b.closers = nil
}

// buildBackends registers one recognizer factory per transcription backend
// and, when TTS is enabled and reachable, a Speaker as the synthesizer.
// Factories are only invoked for the names the bridge looks up.
func buildBackends(ctx context.Context, cfg *config.Config, m *metrics.Metrics, ns *messaging.NATSService) (*backends, error) {
	b := &backends{host: speech.NewHost()}

	source, err := newAudioSource(cfg)
	if err != nil {
		logging.LogWarn("Audio capture unavailable", zap.String("source", cfg.Audio.Source), zap.Error(err))
	} else {
		b.source = source
		b.track(source)
	}

	b.host.RegisterRecognizer(RecognizerREST, b.recognizerFactory(cfg, m, func() (stt.Transcriber, error) {
		return stt.NewRESTTranscriber(ctx, stt.RESTConfig{
			BaseURL:  cfg.STT.URL,
			Model:    cfg.STT.Model,
			Language: cfg.Bridge.Language,
			Timeout:  cfg.STT.Timeout,
		})
	}))

	if cfg.STT.WhisperModelPath != "" {
		b.host.RegisterRecognizer(RecognizerWhisper, b.recognizerFactory(cfg, m, func() (stt.Transcriber, error) {
			return stt.NewWhisperTranscriber(cfg.STT.WhisperModelPath)
		}))
	}

	if cfg.STT.GoogleEnabled {
		b.host.RegisterRecognizer(RecognizerGoogle, b.recognizerFactory(cfg, m, func() (stt.Transcriber, error) {
			return stt.NewGoogleTranscriber(ctx, cfg.Bridge.Language)
		}))
	}

	if cfg.TTS.Enabled {
		if err := b.initSynthesis(ctx, cfg, m, ns); err != nil {
			logging.LogWarn("Speech synthesis backend unavailable", zap.Error(err))
		}
	}

	return b, nil
}

func (b *backends) recognizerFactory(cfg *config.Config, m *metrics.Metrics, newTranscriber func() (stt.Transcriber, error)) speech.RecognizerFactory {
	return func() (speech.Recognizer, error) {
		if b.source == nil {
			return nil, audio.ErrMicrophoneUnavailable
		}
		transcriber, err := newTranscriber()
		if err != nil {
			return nil, err
		}
		b.track(transcriber)

		recognizer := stt.NewSessionRecognizer(stt.SessionConfig{
			Source:         b.source,
			Transcriber:    transcriber,
			SessionTimeout: cfg.STT.SessionTimeout,
			Metrics:        m,
		})
		b.track(recognizer)
		return recognizer, nil
	}
}

func (b *backends) initSynthesis(ctx context.Context, cfg *config.Config, m *metrics.Metrics, ns *messaging.NATSService) error {
	client, err := tts.NewClient(ctx, cfg.TTS)
	if err != nil {
		return err
	}
	b.track(client)

	var sink tts.Sink
	switch cfg.TTS.Sink {
	case "nats":
		if ns == nil {
			return errors.New("nats sink requires a NATS connection")
		}
		sink = messaging.NewAudioPublisher(ns)
	default:
		fileSink, err := tts.NewFileSink(afero.NewOsFs(), cfg.TTS.OutputDir)
		if err != nil {
			return err
		}
		sink = fileSink
	}

	b.speaker = tts.NewSpeaker(tts.SpeakerConfig{
		TTS:  client,
		Sink: sink,
		Options: tts.TTSOptions{
			Voice:          cfg.TTS.Voice,
			Speed:          cfg.TTS.Speed,
			ResponseFormat: cfg.TTS.ResponseFormat,
			Normalize:      cfg.TTS.Normalize,
		},
		QueueSize: cfg.TTS.QueueSize,
		Metrics:   m,
	})
	b.track(b.speaker)
	b.host.SetSynthesizer(b.speaker)
	return nil
}

func newAudioSource(cfg *config.Config) (audio.Source, error) {
	segmenter := audio.SegmenterConfig{
		SampleRate:        cfg.STT.SampleRate,
		FrameSize:         cfg.Audio.FrameSize,
		SilenceThreshold:  cfg.Audio.SilenceThreshold,
		SilenceDuration:   cfg.Audio.SilenceDuration,
		MinSpeechDuration: cfg.Audio.MinSpeechDuration,
		PreRollFrames:     audio.DefaultSegmenterConfig().PreRollFrames,
	}

	switch cfg.Audio.Source {
	case "wav":
		return audio.NewWAVSource(audio.WAVSourceConfig{
			Path:      cfg.Audio.WAVPath,
			Segmenter: segmenter,
			Realtime:  cfg.Audio.Realtime,
		})
	case "mic":
		return audio.NewMicrophoneSource(segmenter)
	default:
		return nil, fmt.Errorf("unknown audio source: %q", cfg.Audio.Source)
	}
}
