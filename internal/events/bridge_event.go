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

// Package events defines the records the relay emits for every bridge
// notification and speak request.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind identifies what produced a BridgeEvent
type Kind string

const (
	KindResult Kind = "result" // A final transcript was delivered
	KindState  Kind = "state"  // The listening state changed
	KindSpeak  Kind = "speak"  // Text was submitted for synthesis
)

// Valid reports whether k is a known kind
func (k Kind) Valid() bool {
	switch k {
	case KindResult, KindState, KindSpeak:
		return true
	}
	return false
}

// BridgeEvent is one observable bridge interaction
type BridgeEvent struct {
	UUID       string    `json:"uuid" db:"uuid"`
	Kind       Kind      `json:"kind" db:"kind"`
	Timestamp  time.Time `json:"timestamp" db:"timestamp"`
	Transcript string    `json:"transcript,omitempty" db:"transcript"`
	Listening  bool      `json:"listening" db:"listening"`
	Text       string    `json:"text,omitempty" db:"text"`
	Language   string    `json:"language,omitempty" db:"language"`
	Source     string    `json:"source,omitempty" db:"source"` // Control surface for speak events
}

func newEvent(kind Kind) *BridgeEvent {
	return &BridgeEvent{
		UUID:      uuid.NewString(),
		Kind:      kind,
		Timestamp: time.Now().UTC(),
	}
}

// NewResultEvent records a delivered transcript
func NewResultEvent(transcript, language string) *BridgeEvent {
	e := newEvent(KindResult)
	e.Transcript = transcript
	e.Language = language
	e.Listening = true
	return e
}

// NewStateEvent records a listening state notification
func NewStateEvent(listening bool) *BridgeEvent {
	e := newEvent(KindState)
	e.Listening = listening
	return e
}

// NewSpeakEvent records a speak request from source
func NewSpeakEvent(text, source string) *BridgeEvent {
	e := newEvent(KindSpeak)
	e.Text = text
	e.Source = source
	return e
}

// IsValid performs basic validation on the event
func (e *BridgeEvent) IsValid() error {
	if e.UUID == "" {
		return fmt.Errorf("UUID is required")
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	if e.Kind == KindResult && e.Transcript == "" {
		return fmt.Errorf("result events require a transcript")
	}
	if e.Kind == KindSpeak && e.Text == "" {
		return fmt.Errorf("speak events require text")
	}
	return nil
}

// Marshal encodes the event as JSON for messaging sinks
func (e *BridgeEvent) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal bridge event: %w", err)
	}
	return data, nil
}

// String returns a human-readable representation of the event
func (e *BridgeEvent) String() string {
	switch e.Kind {
	case KindResult:
		return fmt.Sprintf("BridgeEvent{UUID: %s, Kind: %s, Transcript: %q}", e.UUID, e.Kind, e.Transcript)
	case KindSpeak:
		return fmt.Sprintf("BridgeEvent{UUID: %s, Kind: %s, Text: %q, Source: %s}", e.UUID, e.Kind, e.Text, e.Source)
	default:
		return fmt.Sprintf("BridgeEvent{UUID: %s, Kind: %s, Listening: %t}", e.UUID, e.Kind, e.Listening)
	}
}
