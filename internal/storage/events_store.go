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

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/loqalabs/loqa-voice-bridge/internal/events"
	"github.com/loqalabs/loqa-voice-bridge/internal/logging"
	"go.uber.org/zap"
)

// ErrNotFound is returned when no event has the requested UUID
var ErrNotFound = errors.New("bridge event not found")

const eventColumns = `uuid, kind, timestamp, transcript, listening, text, language, source`

// EventsStore handles database operations for bridge events
type EventsStore struct {
	db *Database
}

// NewEventsStore creates a new bridge events store
func NewEventsStore(db *Database) *EventsStore {
	return &EventsStore{db: db}
}

// Insert stores a new event
func (s *EventsStore) Insert(ctx context.Context, event *events.BridgeEvent) error {
	if err := event.IsValid(); err != nil {
		return fmt.Errorf("invalid bridge event: %w", err)
	}

	query := `INSERT INTO bridge_events (` + eventColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.DB().ExecContext(ctx, query,
		event.UUID, string(event.Kind), event.Timestamp.UTC().UnixNano(),
		event.Transcript, event.Listening, event.Text, event.Language, event.Source,
	)
	if err != nil {
		return fmt.Errorf("failed to insert bridge event: %w", err)
	}

	logging.LogDatabaseOperation("insert", "bridge_events",
		zap.String("uuid", event.UUID),
		zap.String("kind", string(event.Kind)),
	)
	return nil
}

// GetByUUID retrieves an event by its UUID
func (s *EventsStore) GetByUUID(ctx context.Context, uuid string) (*events.BridgeEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM bridge_events WHERE uuid = ?`
	return scanEvent(s.db.DB().QueryRowContext(ctx, query, uuid))
}

// List retrieves events with pagination and filtering
func (s *EventsStore) List(ctx context.Context, options ListOptions) ([]*events.BridgeEvent, error) {
	query, args := buildListQuery(options)

	rows, err := s.db.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bridge events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var list []*events.BridgeEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bridge event: %w", err)
		}
		list = append(list, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bridge events: %w", err)
	}

	return list, nil
}

// Count returns the total number of events matching the filter
func (s *EventsStore) Count(ctx context.Context, options ListOptions) (int64, error) {
	options.Limit = 0
	options.Offset = 0
	query, args := buildListQuery(options)

	var count int64
	err := s.db.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM ("+query+") AS filtered", args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count bridge events: %w", err)
	}

	return count, nil
}

// Delete removes an event by UUID
func (s *EventsStore) Delete(ctx context.Context, uuid string) error {
	result, err := s.db.DB().ExecContext(ctx, "DELETE FROM bridge_events WHERE uuid = ?", uuid)
	if err != nil {
		return fmt.Errorf("failed to delete bridge event: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	logging.LogDatabaseOperation("delete", "bridge_events", zap.String("uuid", uuid))
	return nil
}

// Prune deletes events older than before and returns how many were removed
func (s *EventsStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.DB().ExecContext(ctx, "DELETE FROM bridge_events WHERE timestamp < ?", before.UTC().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune bridge events: %w", err)
	}
	return result.RowsAffected()
}

// ListOptions defines filtering and pagination options
type ListOptions struct {
	// Filtering
	Kind      events.Kind
	Contains  string // Substring of transcript or spoken text
	StartTime *time.Time
	EndTime   *time.Time

	// Pagination
	Limit  int
	Offset int

	// Sorting
	SortOrder string // "ASC", "DESC"
}

// buildListQuery constructs the SQL query based on ListOptions
func buildListQuery(options ListOptions) (string, []any) {
	query := `SELECT ` + eventColumns + ` FROM bridge_events WHERE 1=1`
	var args []any

	if options.Kind != "" {
		query += " AND kind = ?"
		args = append(args, string(options.Kind))
	}

	if options.Contains != "" {
		query += " AND (transcript LIKE ? OR text LIKE ?)"
		pattern := "%" + options.Contains + "%"
		args = append(args, pattern, pattern)
	}

	if options.StartTime != nil {
		query += " AND timestamp >= ?"
		args = append(args, options.StartTime.UTC().UnixNano())
	}

	if options.EndTime != nil {
		query += " AND timestamp <= ?"
		args = append(args, options.EndTime.UTC().UnixNano())
	}

	// only ASC and DESC reach the query
	sortOrder := "DESC"
	if strings.EqualFold(options.SortOrder, "ASC") {
		sortOrder = "ASC"
	}
	query += " ORDER BY timestamp " + sortOrder + ", id " + sortOrder

	if options.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, options.Limit)

		if options.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, options.Offset)
		}
	}

	return query, args
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanEvent scans a database row into a BridgeEvent
func scanEvent(row rowScanner) (*events.BridgeEvent, error) {
	var (
		event     events.BridgeEvent
		kind      string
		timestamp int64
	)

	err := row.Scan(
		&event.UUID, &kind, &timestamp,
		&event.Transcript, &event.Listening, &event.Text, &event.Language, &event.Source,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	event.Kind = events.Kind(kind)
	event.Timestamp = time.Unix(0, timestamp).UTC()
	return &event, nil
}
