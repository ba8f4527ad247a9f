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

import "fmt"

// recognitionCapability is selected once when the bridge is built: either a
// live handle or a stand-in whose operations do nothing.
type recognitionCapability interface {
	available() bool
	name() string
	start() error
	stop() error
}

type availableRecognition struct {
	handle     Recognizer
	recognizer string
}

func (r *availableRecognition) available() bool { return true }
func (r *availableRecognition) name() string { return r.recognizer }

func (r *availableRecognition) start() error {
	return guard(r.handle.Start)
}

func (r *availableRecognition) stop() error {
	return guard(r.handle.Stop)
}

type unavailableRecognition struct{}

func (unavailableRecognition) available() bool { return false }
func (unavailableRecognition) name() string { return "" }
func (unavailableRecognition) start() error { return ErrRecognitionUnavailable }
func (unavailableRecognition) stop() error { return ErrRecognitionUnavailable }

// synthesisCapability mirrors recognitionCapability for text-to-speech.
type synthesisCapability interface {
	available() bool
	cancel() error
	speak(utterance Utterance) error
}

type availableSynthesis struct {
	synthesizer Synthesizer
}

func (s *availableSynthesis) available() bool { return true }

func (s *availableSynthesis) cancel() error {
	return guard(func() error {
		s.synthesizer.Cancel()
		return nil
	})
}

func (s *availableSynthesis) speak(utterance Utterance) error {
	return guard(func() error {
		return s.synthesizer.Speak(utterance)
	})
}

type unavailableSynthesis struct{}

func (unavailableSynthesis) available() bool { return false }
func (unavailableSynthesis) cancel() error { return ErrSynthesisUnavailable }
func (unavailableSynthesis) speak(Utterance) error { return ErrSynthesisUnavailable }

// guard runs a capability call and converts a panic into an error so a
// misbehaving backend can never take the caller down.
func guard(call func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("capability panicked: %v", r)
		}
	}()
	return call()
}
