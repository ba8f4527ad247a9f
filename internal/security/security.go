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

package security

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxSpeakTextLength bounds the text accepted for a single utterance.
const MaxSpeakTextLength = 4096

var (
	// ErrInvalidEventID is returned when an event ID is not a canonical UUID
	ErrInvalidEventID = errors.New("invalid event ID")

	// ErrInvalidSpeakText is returned when text submitted for synthesis is unusable
	ErrInvalidSpeakText = errors.New("invalid speak text")

	eventIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
)

// SanitizeLogInput removes newline characters to prevent log injection attacks
// This function should be used for all user-controlled data before logging
func SanitizeLogInput(input string) string {
	sanitized := strings.ReplaceAll(input, "\n", "")
	sanitized = strings.ReplaceAll(sanitized, "\r", "")
	return sanitized
}

// ValidateEventID ensures an event ID taken from a URL path is a canonical UUID,
// so it can never carry path separators or query fragments.
func ValidateEventID(eventID string) error {
	if !eventIDPattern.MatchString(eventID) {
		return ErrInvalidEventID
	}
	return nil
}

// ValidateSpeakText rejects empty, oversized or non-UTF-8 text before it reaches
// a synthesis backend.
func ValidateSpeakText(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrInvalidSpeakText
	}
	if len(text) > MaxSpeakTextLength {
		return ErrInvalidSpeakText
	}
	if !utf8.ValidString(text) {
		return ErrInvalidSpeakText
	}
	return nil
}
