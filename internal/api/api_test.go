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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-voice-bridge/internal/control"
	"github.com/loqalabs/loqa-voice-bridge/internal/events"
	"github.com/loqalabs/loqa-voice-bridge/internal/speech"
	"github.com/loqalabs/loqa-voice-bridge/internal/speech/speechtest"
	"github.com/loqalabs/loqa-voice-bridge/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *storage.EventsStore {
	t.Helper()
	db, err := storage.NewDatabase(storage.DatabaseConfig{Path: filepath.Join(t.TempDir(), "api.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return storage.NewEventsStore(db)
}

func TestControlHandler_ListenLifecycle(t *testing.T) {
	bridge, recognizer, _ := speechtest.NewBridge()
	h := NewControlHandler(control.New(bridge, nil))

	rec := httptest.NewRecorder()
	h.HandleStartListening(rec, httptest.NewRequest(http.MethodPost, "/api/listen/start", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var state control.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.True(t, state.Listening)
	assert.Equal(t, 1, recognizer.Starts())

	recognizer.FireResult("open the garage")

	rec = httptest.NewRecorder()
	h.HandleState(rec, httptest.NewRequest(http.MethodGet, "/api/state", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, "open the garage", state.LastTranscript)

	rec = httptest.NewRecorder()
	h.HandleStopListening(rec, httptest.NewRequest(http.MethodPost, "/api/listen/stop", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.False(t, state.Listening)
}

func TestControlHandler_MethodNotAllowed(t *testing.T) {
	bridge, _, _ := speechtest.NewBridge()
	h := NewControlHandler(control.New(bridge, nil))

	tests := []struct {
		name    string
		handler http.HandlerFunc
		method  string
	}{
		{"start via GET", h.HandleStartListening, http.MethodGet},
		{"stop via GET", h.HandleStopListening, http.MethodGet},
		{"speak via GET", h.HandleSpeak, http.MethodGet},
		{"state via POST", h.HandleState, http.MethodPost},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.handler(rec, httptest.NewRequest(tt.method, "/", nil))
			assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		})
	}
}

func TestControlHandler_Speak(t *testing.T) {
	bridge, _, synthesizer := speechtest.NewBridge()
	h := NewControlHandler(control.New(bridge, nil))

	rec := httptest.NewRecorder()
	h.HandleSpeak(rec, httptest.NewRequest(http.MethodPost, "/api/speak", strings.NewReader(`{"text":"dinner is ready"}`)))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"cancel", "speak:dinner is ready"}, synthesizer.Calls())
}

func TestControlHandler_SpeakErrors(t *testing.T) {
	bridge, _, _ := speechtest.NewBridge()
	h := NewControlHandler(control.New(bridge, nil))

	tests := []struct {
		name string
		body string
		code int
	}{
		{"invalid JSON", `{"text":`, http.StatusBadRequest},
		{"empty text", `{"text":"  "}`, http.StatusBadRequest},
		{"missing text", `{}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.HandleSpeak(rec, httptest.NewRequest(http.MethodPost, "/api/speak", strings.NewReader(tt.body)))
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestControlHandler_SpeakUnavailable(t *testing.T) {
	bridge := speech.NewBridge(speech.Options{Host: speech.NewHost()})
	h := NewControlHandler(control.New(bridge, nil))

	rec := httptest.NewRecorder()
	h.HandleSpeak(rec, httptest.NewRequest(http.MethodPost, "/api/speak", strings.NewReader(`{"text":"hello"}`)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestEventsHandler_List(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, events.NewStateEvent(true)))
	require.NoError(t, store.Insert(ctx, events.NewResultEvent("lights on", "en-US")))
	require.NoError(t, store.Insert(ctx, events.NewResultEvent("lights off", "en-US")))
	require.NoError(t, store.Insert(ctx, events.NewSpeakEvent("done", "http")))

	h := NewEventsHandler(store)

	rec := httptest.NewRecorder()
	h.HandleEvents(rec, httptest.NewRequest(http.MethodGet, "/api/events?kind=result&page_size=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ListEventsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(2), resp.Total)
	assert.Equal(t, 2, resp.TotalPages)
	assert.Equal(t, 1, resp.PageSize)
	require.Len(t, resp.Events, 1)
	assert.Equal(t, "lights off", resp.Events[0].Transcript)

	rec = httptest.NewRecorder()
	h.HandleEvents(rec, httptest.NewRequest(http.MethodGet, "/api/events?contains=done", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Events, 1)
	assert.Equal(t, events.KindSpeak, resp.Events[0].Kind)
}

func TestEventsHandler_ListEmpty(t *testing.T) {
	h := NewEventsHandler(newTestStore(t))

	rec := httptest.NewRecorder()
	h.HandleEvents(rec, httptest.NewRequest(http.MethodGet, "/api/events?page=0&page_size=500", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"events":[]`)
	assert.Contains(t, rec.Body.String(), `"page_size":100`)
	assert.Contains(t, rec.Body.String(), `"page":1`)
}

func TestEventsHandler_ListBadKind(t *testing.T) {
	h := NewEventsHandler(newTestStore(t))

	rec := httptest.NewRecorder()
	h.HandleEvents(rec, httptest.NewRequest(http.MethodGet, "/api/events?kind=wakeword", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.HandleEvents(rec, httptest.NewRequest(http.MethodPost, "/api/events", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestEventsHandler_ByID(t *testing.T) {
	store := newTestStore(t)
	event := events.NewResultEvent("play music", "en-US")
	require.NoError(t, store.Insert(context.Background(), event))

	h := NewEventsHandler(store)

	rec := httptest.NewRecorder()
	h.HandleEventByID(rec, httptest.NewRequest(http.MethodGet, "/api/events/"+event.UUID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got events.BridgeEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "play music", got.Transcript)

	rec = httptest.NewRecorder()
	h.HandleEventByID(rec, httptest.NewRequest(http.MethodDelete, "/api/events/"+event.UUID, nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.HandleEventByID(rec, httptest.NewRequest(http.MethodGet, "/api/events/"+event.UUID, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.HandleEventByID(rec, httptest.NewRequest(http.MethodDelete, "/api/events/"+event.UUID, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEventsHandler_ByIDValidation(t *testing.T) {
	h := NewEventsHandler(newTestStore(t))

	tests := []struct {
		name   string
		method string
		path   string
		code   int
	}{
		{"missing id", http.MethodGet, "/api/events/", http.StatusBadRequest},
		{"not a uuid", http.MethodGet, "/api/events/abc", http.StatusBadRequest},
		{"wrong method", http.MethodPut, "/api/events/6f1c1d4e-2b7a-4c55-9a0e-3f0b8f1e2d3c", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.HandleEventByID(rec, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestParseIntParam(t *testing.T) {
	assert.Equal(t, 5, parseIntParam("", 5))
	assert.Equal(t, 7, parseIntParam("7", 5))
	assert.Equal(t, 5, parseIntParam("seven", 5))
}
