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

package stt

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoogleTranscriber_Transcribe(t *testing.T) {
	var captured *speechpb.RecognizeRequest
	g := NewGoogleTranscriberWithFunc(func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
		captured = req
		return &speechpb.RecognizeResponse{
			Results: []*speechpb.SpeechRecognitionResult{
				{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "turn on", Confidence: 0.8}}},
				{},
				{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: " the lights", Confidence: 0.6}}},
			},
		}, nil
	}, "")
	g.SetLanguage("en-GB")

	result, err := g.Transcribe(context.Background(), []float32{0.5, -0.5}, 16000)
	require.NoError(t, err)
	assert.Equal(t, "turn on the lights", result.Text)
	assert.InDelta(t, 0.7, result.Confidence, 0.0001)
	assert.Equal(t, "google", g.Name())

	require.NotNil(t, captured)
	assert.Equal(t, speechpb.RecognitionConfig_LINEAR16, captured.GetConfig().GetEncoding())
	assert.Equal(t, int32(16000), captured.GetConfig().GetSampleRateHertz())
	assert.Equal(t, "en-GB", captured.GetConfig().GetLanguageCode())

	content := captured.GetAudio().GetContent()
	require.Len(t, content, 4)
	assert.Equal(t, int16(16383), int16(binary.LittleEndian.Uint16(content[0:])))
	assert.Equal(t, int16(-16383), int16(binary.LittleEndian.Uint16(content[2:])))

	assert.NoError(t, g.Close())
}

func TestGoogleTranscriber_Error(t *testing.T) {
	g := NewGoogleTranscriberWithFunc(func(context.Context, *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
		return nil, errors.New("permission denied")
	}, "en-US")

	_, err := g.Transcribe(context.Background(), []float32{0.1}, 16000)
	assert.ErrorContains(t, err, "permission denied")

	_, err = g.Transcribe(context.Background(), nil, 16000)
	assert.ErrorIs(t, err, ErrEmptyAudio)
}

func TestGoogleTranscriber_DefaultLanguage(t *testing.T) {
	g := NewGoogleTranscriberWithFunc(nil, "")
	g.SetLanguage("")
	assert.Equal(t, "en-US", g.language)
}

func TestWhisperStub(t *testing.T) {
	_, err := NewWhisperTranscriber("/nonexistent/model.bin")
	assert.Error(t, err)
}
