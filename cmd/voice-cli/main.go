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

package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"
	"time"
)

const (
	defaultBridgeURL = "http://localhost:3100"
)

// BridgeState mirrors GET /api/state
type BridgeState struct {
	Listening            bool      `json:"listening"`
	LastTranscript       string    `json:"last_transcript,omitempty"`
	LastResultAt         time.Time `json:"last_result_at,omitempty"`
	RecognitionAvailable bool      `json:"recognition_available"`
	SynthesisAvailable   bool      `json:"synthesis_available"`
	Recognizer           string    `json:"recognizer,omitempty"`
	Language             string    `json:"language"`
	SpeechRate           float32   `json:"speech_rate"`
}

// BridgeEvent mirrors one entry of GET /api/events
type BridgeEvent struct {
	UUID       string    `json:"uuid"`
	Kind       string    `json:"kind"`
	Timestamp  time.Time `json:"timestamp"`
	Transcript string    `json:"transcript,omitempty"`
	Listening  bool      `json:"listening"`
	Text       string    `json:"text,omitempty"`
	Source     string    `json:"source,omitempty"`
}

func main() {
	var (
		bridgeURL = flag.String("bridge", defaultBridgeURL, "URL of the voice bridge")
		action    = flag.String("action", "state", "Action to perform: start, stop, speak, state, events, event, delete")
		text      = flag.String("text", "", "Text for the speak action")
		eventID   = flag.String("id", "", "Event ID for event and delete actions")
		kind      = flag.String("kind", "", "Event kind filter for events: result, state, speak")
		limit     = flag.Int("limit", 20, "Number of events to list")
		format    = flag.String("format", "table", "Output format: table, json")
	)
	flag.Parse()

	client := &VoiceCLI{
		bridgeURL: *bridgeURL,
		format:    *format,
		out:       os.Stdout,
		http:      http.DefaultClient,
	}

	if err := client.run(*action, *text, *eventID, *kind, *limit); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// VoiceCLI talks to the bridge's HTTP API
type VoiceCLI struct {
	bridgeURL string
	format    string
	out       io.Writer
	http      *http.Client
}

func (c *VoiceCLI) run(action, text, eventID, kind string, limit int) error {
	switch action {
	case "start":
		return c.listen("start")
	case "stop":
		return c.listen("stop")
	case "speak":
		if text == "" {
			return fmt.Errorf("text required for speak action")
		}
		return c.speak(text)
	case "state":
		return c.state()
	case "events":
		return c.listEvents(kind, limit)
	case "event":
		if eventID == "" {
			return fmt.Errorf("event ID required for event action")
		}
		return c.getEvent(eventID)
	case "delete":
		if eventID == "" {
			return fmt.Errorf("event ID required for delete action")
		}
		return c.deleteEvent(eventID)
	default:
		return fmt.Errorf("unknown action %s (valid actions: start, stop, speak, state, events, event, delete)", action)
	}
}

func (c *VoiceCLI) listen(verb string) error {
	resp, err := c.http.Post(c.bridgeURL+"/api/listen/"+verb, "application/json", nil)
	if err != nil {
		return fmt.Errorf("failed to connect to bridge: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	var state BridgeState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return c.printState(state)
}

func (c *VoiceCLI) speak(text string) error {
	data, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.http.Post(c.bridgeURL+"/api/speak", "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to connect to bridge: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return apiError(resp)
	}

	fmt.Fprintf(c.out, "Queued %d characters for speech\n", len([]rune(text)))
	return nil
}

func (c *VoiceCLI) state() error {
	resp, err := c.http.Get(c.bridgeURL + "/api/state")
	if err != nil {
		return fmt.Errorf("failed to connect to bridge: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	var state BridgeState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return c.printState(state)
}

func (c *VoiceCLI) printState(state BridgeState) error {
	if c.format == "json" {
		return c.encode(state)
	}

	fmt.Fprintf(c.out, "Bridge State:\n")
	fmt.Fprintf(c.out, "  Listening:   %s\n", formatBool(state.Listening))
	fmt.Fprintf(c.out, "  Recognition: %s %s\n", formatBool(state.RecognitionAvailable), state.Recognizer)
	fmt.Fprintf(c.out, "  Synthesis:   %s\n", formatBool(state.SynthesisAvailable))
	fmt.Fprintf(c.out, "  Language:    %s\n", state.Language)
	fmt.Fprintf(c.out, "  Speech Rate: %.2f\n", state.SpeechRate)
	if state.LastTranscript != "" {
		fmt.Fprintf(c.out, "  Last Heard:  %q at %s\n", state.LastTranscript, state.LastResultAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func (c *VoiceCLI) listEvents(kind string, limit int) error {
	query := url.Values{}
	query.Set("page_size", strconv.Itoa(limit))
	if kind != "" {
		query.Set("kind", kind)
	}

	resp, err := c.http.Get(c.bridgeURL + "/api/events?" + query.Encode())
	if err != nil {
		return fmt.Errorf("failed to connect to bridge: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	var result struct {
		Events []BridgeEvent `json:"events"`
		Total  int64         `json:"total"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if c.format == "json" {
		return c.encode(result.Events)
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tTIME\tDETAIL")
	fmt.Fprintln(w, "--\t----\t----\t------")
	for _, event := range result.Events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			event.UUID,
			event.Kind,
			event.Timestamp.Format("2006-01-02 15:04:05"),
			eventDetail(event),
		)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("error flushing output: %w", err)
	}

	fmt.Fprintf(c.out, "\nTotal: %d events\n", result.Total)
	return nil
}

func (c *VoiceCLI) getEvent(id string) error {
	resp, err := c.http.Get(c.bridgeURL + "/api/events/" + url.PathEscape(id))
	if err != nil {
		return fmt.Errorf("failed to connect to bridge: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("event %s not found", id)
	}
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	var event BridgeEvent
	if err := json.NewDecoder(resp.Body).Decode(&event); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if c.format == "json" {
		return c.encode(event)
	}

	fmt.Fprintf(c.out, "Event %s\n", event.UUID)
	fmt.Fprintf(c.out, "  Kind:   %s\n", event.Kind)
	fmt.Fprintf(c.out, "  Time:   %s\n", event.Timestamp.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(c.out, "  Detail: %s\n", eventDetail(event))
	return nil
}

func (c *VoiceCLI) deleteEvent(id string) error {
	req, err := http.NewRequest(http.MethodDelete, c.bridgeURL+"/api/events/"+url.PathEscape(id), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to bridge: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("event %s not found", id)
	}
	if resp.StatusCode != http.StatusNoContent {
		return apiError(resp)
	}

	fmt.Fprintf(c.out, "Event %s deleted\n", id)
	return nil
}

func (c *VoiceCLI) encode(v any) error {
	encoder := json.NewEncoder(c.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func eventDetail(event BridgeEvent) string {
	switch event.Kind {
	case "result":
		return strconv.Quote(event.Transcript)
	case "speak":
		return fmt.Sprintf("%q from %s", event.Text, event.Source)
	default:
		if event.Listening {
			return "listening"
		}
		return "stopped"
	}
}

func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return fmt.Errorf("API returned status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
}

func formatBool(b bool) string {
	if b {
		return "✓"
	}
	return "✗"
}
