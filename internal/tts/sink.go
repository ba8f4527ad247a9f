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

package tts

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-voice-bridge/internal/logging"
	"github.com/loqalabs/loqa-voice-bridge/internal/speech"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Sink plays or stores synthesized audio. Play returns once the audio has
// been consumed or ctx is canceled.
type Sink interface {
	Play(ctx context.Context, result *TTSResult, utterance speech.Utterance) error
}

// FileSink writes each utterance to its own file under a directory.
type FileSink struct {
	fs  afero.Fs
	dir string
}

// NewFileSink creates dir on fs if needed
func NewFileSink(fs afero.Fs, dir string) (*FileSink, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}
	return &FileSink{fs: fs, dir: dir}, nil
}

// Play copies the audio stream into a new file. A canceled copy removes the
// partial file.
func (f *FileSink) Play(ctx context.Context, result *TTSResult, utterance speech.Utterance) error {
	path := filepath.Join(f.dir, uuid.NewString()+extensionFor(result.ContentType))

	file, err := f.fs.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	written, err := io.Copy(file, &contextReader{ctx: ctx, r: result.Audio})
	closeErr := file.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = f.fs.Remove(path)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	logging.LogSynthesisOperation("audio_written",
		zap.String("path", path),
		zap.Int64("bytes", written),
		zap.Int("text_length", len(utterance.Text)),
	)
	return nil
}

// Dir returns the output directory
func (f *FileSink) Dir() string {
	return f.dir
}

func extensionFor(contentType string) string {
	switch {
	case strings.Contains(contentType, "wav"):
		return ".wav"
	case strings.Contains(contentType, "opus"), strings.Contains(contentType, "ogg"):
		return ".opus"
	case strings.Contains(contentType, "flac"):
		return ".flac"
	case strings.Contains(contentType, "pcm"):
		return ".pcm"
	default:
		return ".mp3"
	}
}

// contextReader stops a copy once ctx is done
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
