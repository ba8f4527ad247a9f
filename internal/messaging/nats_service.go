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

// Package messaging publishes bridge events to NATS and Kafka and accepts
// control requests over NATS.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-voice-bridge/internal/config"
	"github.com/loqalabs/loqa-voice-bridge/internal/events"
	"github.com/loqalabs/loqa-voice-bridge/internal/logging"
	"github.com/loqalabs/loqa-voice-bridge/internal/security"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// ErrNotConnected is returned before Connect succeeds
var ErrNotConnected = errors.New("NATS connection not established")

// Subject suffixes appended to the configured prefix
const (
	SubjectTranscripts = "transcripts"
	SubjectState       = "state"
	SubjectSpoken      = "spoken"
	SubjectListenStart = "listen.start"
	SubjectListenStop  = "listen.stop"
	SubjectSpeak       = "speak"
)

// ControlHandler carries out control requests. source names the surface the
// request arrived on.
type ControlHandler interface {
	StartListening(source string)
	StopListening(source string)
	Speak(text, source string) error
}

// SpeakRequest is the payload of a speak control message. A payload that is
// not a JSON object is taken as the text itself.
type SpeakRequest struct {
	Text string `json:"text"`
}

// ControlReply is sent back when a control message carries a reply subject
type ControlReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// NATSService publishes bridge events and serves control subjects
type NATSService struct {
	url           string
	prefix        string
	maxReconnect  int
	reconnectWait time.Duration

	mu            sync.RWMutex
	conn          *nats.Conn
	subscriptions []*nats.Subscription

	// publish is swapped out in tests
	publish func(subject string, data []byte) error
}

// NewNATSService creates a new NATS service instance
func NewNATSService(cfg config.NATSConfig) *NATSService {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	prefix := strings.TrimSuffix(cfg.SubjectPrefix, ".")
	if prefix == "" {
		prefix = "voice.bridge"
	}

	ns := &NATSService{
		url:           url,
		prefix:        prefix,
		maxReconnect:  cfg.MaxReconnect,
		reconnectWait: cfg.ReconnectWait,
	}
	ns.publish = ns.connPublish
	return ns
}

// Connect establishes connection to NATS server
func (ns *NATSService) Connect() error {
	logging.LogNATSEvent(ns.url, "connecting")

	reconnectWait := ns.reconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}

	opts := []nats.Option{
		nats.Name("loqa-voice-bridge"),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(ns.maxReconnect),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logging.LogWarn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.LogNATSEvent(nc.ConnectedUrl(), "reconnected")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logging.LogNATSEvent(ns.url, "closed")
		}),
	}

	conn, err := nats.Connect(ns.url, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	ns.mu.Lock()
	ns.conn = conn
	ns.mu.Unlock()

	logging.LogNATSEvent(conn.ConnectedUrl(), "connected")
	return nil
}

// Subject returns the full subject for suffix
func (ns *NATSService) Subject(suffix string) string {
	return ns.prefix + "." + suffix
}

// SubjectFor returns the subject an event is published on
func (ns *NATSService) SubjectFor(event *events.BridgeEvent) string {
	switch event.Kind {
	case events.KindResult:
		return ns.Subject(SubjectTranscripts)
	case events.KindSpeak:
		return ns.Subject(SubjectSpoken)
	default:
		return ns.Subject(SubjectState)
	}
}

// PublishEvent publishes a bridge event on the subject for its kind
func (ns *NATSService) PublishEvent(_ context.Context, event *events.BridgeEvent) error {
	data, err := event.Marshal()
	if err != nil {
		return err
	}

	subject := ns.SubjectFor(event)
	if err := ns.publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	logging.LogNATSEvent(subject, "published",
		zap.String("uuid", event.UUID),
		zap.String("kind", string(event.Kind)),
	)
	return nil
}

func (ns *NATSService) connPublish(subject string, data []byte) error {
	ns.mu.RLock()
	conn := ns.conn
	ns.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Publish(subject, data)
}

// SubscribeControl routes the control subjects to handler
func (ns *NATSService) SubscribeControl(handler ControlHandler) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	if ns.conn == nil {
		return ErrNotConnected
	}

	for _, suffix := range []string{SubjectListenStart, SubjectListenStop, SubjectSpeak} {
		subject := ns.Subject(suffix)
		sub, err := ns.conn.Subscribe(subject, func(msg *nats.Msg) {
			ns.handleControl(handler, msg)
		})
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
		ns.subscriptions = append(ns.subscriptions, sub)
		logging.LogNATSEvent(subject, "subscribed")
	}
	return nil
}

// handleControl dispatches one control message and replies when asked to
func (ns *NATSService) handleControl(handler ControlHandler, msg *nats.Msg) {
	var err error

	switch msg.Subject {
	case ns.Subject(SubjectListenStart):
		handler.StartListening("nats")
	case ns.Subject(SubjectListenStop):
		handler.StopListening("nats")
	case ns.Subject(SubjectSpeak):
		var text string
		text, err = decodeSpeak(msg.Data)
		if err == nil {
			err = handler.Speak(text, "nats")
		}
	default:
		err = fmt.Errorf("unknown control subject %s", msg.Subject)
	}

	if err != nil {
		logging.LogWarn("Control request rejected",
			zap.String("subject", security.SanitizeLogInput(msg.Subject)),
			zap.Error(err),
		)
	} else {
		logging.LogNATSEvent(msg.Subject, "control")
	}

	if msg.Reply == "" {
		return
	}
	reply := ControlReply{OK: err == nil}
	if err != nil {
		reply.Error = err.Error()
	}
	data, _ := json.Marshal(reply)
	if respondErr := msg.Respond(data); respondErr != nil {
		logging.LogError(respondErr, "Failed to reply to control request", zap.String("subject", msg.Subject))
	}
}

func decodeSpeak(data []byte) (string, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		var req SpeakRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return "", fmt.Errorf("invalid speak request: %w", err)
		}
		return req.Text, nil
	}
	return trimmed, nil
}

// Close drains subscriptions and closes the NATS connection
func (ns *NATSService) Close() {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	for _, sub := range ns.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			logging.LogWarn("Failed to unsubscribe", zap.String("subject", sub.Subject), zap.Error(err))
		}
	}
	ns.subscriptions = nil

	if ns.conn != nil {
		ns.conn.Close()
		ns.conn = nil
	}
}

// IsConnected returns true if connected to NATS
func (ns *NATSService) IsConnected() bool {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return ns.conn != nil && ns.conn.IsConnected()
}

// GetStats returns connection statistics
func (ns *NATSService) GetStats() nats.Statistics {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	if ns.conn != nil {
		return ns.conn.Stats()
	}
	return nats.Statistics{}
}
