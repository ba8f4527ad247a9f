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

package speech

import (
	"sort"
	"sync"

	"github.com/loqalabs/loqa-voice-bridge/internal/logging"
	"go.uber.org/zap"
)

// RecognizerFactory creates a recognition handle.
type RecognizerFactory func() (Recognizer, error)

// Host is the registry of speech capabilities the environment provides.
// Recognizers are registered by name; the bridge looks them up once at
// construction.
type Host struct {
	mu          sync.RWMutex
	recognizers map[string]RecognizerFactory
	synthesizer Synthesizer
}

// NewHost creates an empty host environment
func NewHost() *Host {
	return &Host{
		recognizers: make(map[string]RecognizerFactory),
	}
}

// RegisterRecognizer exposes a recognizer under name, replacing any previous one
func (h *Host) RegisterRecognizer(name string, factory RecognizerFactory) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recognizers[name] = factory
}

// SetSynthesizer exposes a synthesis capability
func (h *Host) SetSynthesizer(synthesizer Synthesizer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.synthesizer = synthesizer
}

// LookupRecognizer returns the factory registered under name
func (h *Host) LookupRecognizer(name string) (RecognizerFactory, bool) {
	if h == nil || name == "" {
		return nil, false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	factory, ok := h.recognizers[name]
	return factory, ok
}

// Synthesizer returns the synthesis capability, if any
func (h *Host) Synthesizer() (Synthesizer, bool) {
	if h == nil {
		return nil, false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.synthesizer, h.synthesizer != nil
}

// RecognizerNames lists registered recognizers in sorted order
func (h *Host) RecognizerNames() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.recognizers))
	for name := range h.recognizers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// detectRecognizer tries each name in order and returns the first handle that
// can be created. A factory that fails counts as absent.
func detectRecognizer(host *Host, names ...string) (Recognizer, string) {
	for _, name := range names {
		factory, ok := host.LookupRecognizer(name)
		if !ok {
			continue
		}
		recognizer, err := factory()
		if err != nil {
			logging.LogError(err, "Recognizer could not be created", zap.String("recognizer", name))
			continue
		}
		if recognizer != nil {
			return recognizer, name
		}
	}
	return nil, ""
}
