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

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/loqalabs/loqa-voice-bridge/internal/control"
	"github.com/loqalabs/loqa-voice-bridge/internal/logging"
	"github.com/loqalabs/loqa-voice-bridge/internal/security"
	"github.com/loqalabs/loqa-voice-bridge/internal/speech"
	"go.uber.org/zap"
)

// maxSpeakBody bounds a speak request body
const maxSpeakBody = 64 << 10

// ControlHandler handles HTTP requests that drive the bridge
type ControlHandler struct {
	controller *control.Controller
}

// NewControlHandler creates a new control handler
func NewControlHandler(controller *control.Controller) *ControlHandler {
	return &ControlHandler{controller: controller}
}

// SpeakRequest represents the request body for POST /api/speak
type SpeakRequest struct {
	Text string `json:"text"`
}

// HandleStartListening handles POST /api/listen/start
func (h *ControlHandler) HandleStartListening(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.controller.StartListening("http")
	writeJSON(w, http.StatusOK, h.controller.State())
}

// HandleStopListening handles POST /api/listen/stop
func (h *ControlHandler) HandleStopListening(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.controller.StopListening("http")
	writeJSON(w, http.StatusOK, h.controller.State())
}

// HandleSpeak handles POST /api/speak
func (h *ControlHandler) HandleSpeak(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req SpeakRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSpeakBody)).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	err := h.controller.Speak(req.Text, "http")
	switch {
	case errors.Is(err, security.ErrInvalidSpeakText):
		http.Error(w, "text must be non-empty UTF-8 of at most 4096 bytes", http.StatusBadRequest)
		return
	case errors.Is(err, speech.ErrSynthesisUnavailable):
		http.Error(w, "Speech synthesis not supported", http.StatusServiceUnavailable)
		return
	case err != nil:
		logging.LogError(err, "Failed to speak")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"queued": true})
}

// HandleState handles GET /api/state
func (h *ControlHandler) HandleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.controller.State())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.LogWarn("Failed to encode response", zap.Error(err))
	}
}
