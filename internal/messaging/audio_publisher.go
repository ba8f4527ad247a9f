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

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-voice-bridge/internal/logging"
	"github.com/loqalabs/loqa-voice-bridge/internal/speech"
	"github.com/loqalabs/loqa-voice-bridge/internal/tts"
	"go.uber.org/zap"
)

// SubjectAudio carries synthesized audio for remote playback
const SubjectAudio = "audio"

// AudioMessage is one complete synthesized utterance
type AudioMessage struct {
	StreamID    string  `json:"stream_id"`
	Text        string  `json:"text"`
	Rate        float32 `json:"rate"`
	AudioData   []byte  `json:"audio_data"`
	AudioFormat string  `json:"audio_format"`
}

// AudioPublisher is a tts.Sink that publishes each utterance over NATS
// instead of playing it locally.
type AudioPublisher struct {
	ns *NATSService
}

// NewAudioPublisher creates an audio sink backed by ns
func NewAudioPublisher(ns *NATSService) *AudioPublisher {
	return &AudioPublisher{ns: ns}
}

// Play reads the complete audio and publishes it as a single message
func (ap *AudioPublisher) Play(ctx context.Context, result *tts.TTSResult, utterance speech.Utterance) error {
	audioData, err := io.ReadAll(result.Audio)
	if err != nil {
		return fmt.Errorf("failed to read complete audio data: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := AudioMessage{
		StreamID:    uuid.NewString(),
		Text:        utterance.Text,
		Rate:        utterance.Rate,
		AudioData:   audioData,
		AudioFormat: result.ContentType,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal audio message: %w", err)
	}

	subject := ap.ns.Subject(SubjectAudio)
	if err := ap.ns.publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish audio file: %w", err)
	}

	logging.LogSynthesisOperation("audio_published",
		zap.String("subject", subject),
		zap.String("stream_id", msg.StreamID),
		zap.Int("bytes", len(audioData)),
	)
	return nil
}
