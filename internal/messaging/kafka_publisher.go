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
	"fmt"
	"time"

	"github.com/loqalabs/loqa-voice-bridge/internal/config"
	"github.com/loqalabs/loqa-voice-bridge/internal/events"
	"github.com/loqalabs/loqa-voice-bridge/internal/logging"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// messageWriter is the part of *kafka.Writer the publisher uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes bridge events to a Kafka topic keyed by event UUID.
// When disabled it only logs.
type KafkaPublisher struct {
	writer  messageWriter
	topic   string
	enabled bool
}

// NewKafkaPublisher creates a publisher from cfg
func NewKafkaPublisher(cfg config.KafkaConfig) *KafkaPublisher {
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		logging.LogInfo("Kafka disabled, using log-only mode")
		return &KafkaPublisher{topic: cfg.Topic}
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    &kafka.Transport{Dial: dialer.DialFunc},
	}

	logging.LogInfo("Kafka publisher initialized",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic),
	)

	return &KafkaPublisher{writer: writer, topic: cfg.Topic, enabled: true}
}

// Enabled reports whether events are actually written to Kafka
func (p *KafkaPublisher) Enabled() bool {
	return p.enabled
}

// PublishEvent writes one event
func (p *KafkaPublisher) PublishEvent(ctx context.Context, event *events.BridgeEvent) error {
	payload, err := event.Marshal()
	if err != nil {
		return err
	}

	logging.LogDebug("Publishing event",
		zap.String("topic", p.topic),
		zap.String("key", event.UUID),
		zap.String("kind", string(event.Kind)),
	)

	if !p.enabled || p.writer == nil {
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(event.UUID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(event.Kind)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		logging.LogError(err, "Failed to write to Kafka",
			zap.String("topic", p.topic),
			zap.String("key", event.UUID),
		)
		return fmt.Errorf("failed to write to kafka topic %s: %w", p.topic, err)
	}
	return nil
}

// Close closes the writer
func (p *KafkaPublisher) Close() error {
	if p.writer != nil {
		if err := p.writer.Close(); err != nil {
			return fmt.Errorf("failed to close kafka writer: %w", err)
		}
	}
	return nil
}
