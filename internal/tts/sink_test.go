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
	"strings"
	"testing"

	"github.com/loqalabs/loqa-voice-bridge/internal/speech"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSink_Play(t *testing.T) {
	fs := afero.NewMemMapFs()
	sink, err := NewFileSink(fs, "/out")
	require.NoError(t, err)
	assert.Equal(t, "/out", sink.Dir())

	result := &TTSResult{Audio: strings.NewReader("RIFFdata"), ContentType: "audio/wav"}
	require.NoError(t, sink.Play(context.Background(), result, speech.Utterance{Text: "hi"}))

	files, err := afero.ReadDir(fs, "/out")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.True(t, strings.HasSuffix(files[0].Name(), ".wav"))

	data, err := afero.ReadFile(fs, "/out/"+files[0].Name())
	require.NoError(t, err)
	assert.Equal(t, "RIFFdata", string(data))
}

func TestFileSink_CanceledRemovesFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	sink, err := NewFileSink(fs, "/out")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = sink.Play(ctx, &TTSResult{Audio: strings.NewReader("data")}, speech.Utterance{Text: "hi"})
	assert.ErrorIs(t, err, context.Canceled)

	files, err := afero.ReadDir(fs, "/out")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestExtensionFor(t *testing.T) {
	assert.Equal(t, ".mp3", extensionFor("audio/mpeg"))
	assert.Equal(t, ".wav", extensionFor("audio/wav"))
	assert.Equal(t, ".opus", extensionFor("audio/ogg; codecs=opus"))
	assert.Equal(t, ".flac", extensionFor("audio/flac"))
	assert.Equal(t, ".pcm", extensionFor("audio/pcm"))
}
