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
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/loqalabs/loqa-voice-bridge/internal/events"
	"github.com/loqalabs/loqa-voice-bridge/internal/logging"
	"github.com/loqalabs/loqa-voice-bridge/internal/security"
	"github.com/loqalabs/loqa-voice-bridge/internal/storage"
	"go.uber.org/zap"
)

// EventsHandler handles HTTP requests for recorded bridge events
type EventsHandler struct {
	store *storage.EventsStore
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(store *storage.EventsStore) *EventsHandler {
	return &EventsHandler{store: store}
}

// ListEventsResponse represents the response for listing events
type ListEventsResponse struct {
	Events     []*events.BridgeEvent `json:"events"`
	Total      int64                 `json:"total"`
	Page       int                   `json:"page"`
	PageSize   int                   `json:"page_size"`
	TotalPages int                   `json:"total_pages"`
}

// HandleEvents handles GET /api/events
func (h *EventsHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.listEvents(w, r)
}

// HandleEventByID handles GET and DELETE /api/events/{id}
func (h *EventsHandler) HandleEventByID(w http.ResponseWriter, r *http.Request) {
	id := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/events/"), "/")[0]
	if id == "" {
		http.Error(w, "Event ID is required", http.StatusBadRequest)
		return
	}
	if err := security.ValidateEventID(id); err != nil {
		http.Error(w, "Invalid event ID", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getEvent(w, r, id)
	case http.MethodDelete:
		h.deleteEvent(w, r, id)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *EventsHandler) listEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	page := parseIntParam(query.Get("page"), 1)
	pageSize := parseIntParam(query.Get("page_size"), 20)
	if pageSize > 100 {
		pageSize = 100
	}
	if pageSize < 1 {
		pageSize = 1
	}
	if page < 1 {
		page = 1
	}

	options := storage.ListOptions{
		Contains:  query.Get("contains"),
		Limit:     pageSize,
		Offset:    (page - 1) * pageSize,
		SortOrder: strings.ToUpper(query.Get("sort_order")),
	}

	if kind := events.Kind(query.Get("kind")); kind != "" {
		if !kind.Valid() {
			http.Error(w, "Unknown event kind", http.StatusBadRequest)
			return
		}
		options.Kind = kind
	}

	if startTimeStr := query.Get("start_time"); startTimeStr != "" {
		if startTime, err := time.Parse(time.RFC3339, startTimeStr); err == nil {
			options.StartTime = &startTime
		}
	}
	if endTimeStr := query.Get("end_time"); endTimeStr != "" {
		if endTime, err := time.Parse(time.RFC3339, endTimeStr); err == nil {
			options.EndTime = &endTime
		}
	}

	total, err := h.store.Count(r.Context(), options)
	if err != nil {
		logging.LogError(err, "Failed to count bridge events")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	list, err := h.store.List(r.Context(), options)
	if err != nil {
		logging.LogError(err, "Failed to list bridge events")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []*events.BridgeEvent{}
	}

	logging.LogDebug("Events API request",
		zap.String("endpoint", "list"),
		zap.Int("page", page),
		zap.Int("page_size", pageSize),
		zap.Int64("total_results", total),
		zap.String("kind", string(options.Kind)),
	)

	writeJSON(w, http.StatusOK, ListEventsResponse{
		Events:     list,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: int((total + int64(pageSize) - 1) / int64(pageSize)),
	})
}

func (h *EventsHandler) getEvent(w http.ResponseWriter, r *http.Request, id string) {
	event, err := h.store.GetByUUID(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "Event not found", http.StatusNotFound)
			return
		}
		logging.LogError(err, "Failed to get bridge event", zap.String("uuid", id))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, event)
}

func (h *EventsHandler) deleteEvent(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "Event not found", http.StatusNotFound)
			return
		}
		logging.LogError(err, "Failed to delete bridge event", zap.String("uuid", id))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// parseIntParam parses integer parameter with default value
func parseIntParam(param string, defaultValue int) int {
	if param == "" {
		return defaultValue
	}
	if value, err := strconv.Atoi(param); err == nil {
		return value
	}
	return defaultValue
}
