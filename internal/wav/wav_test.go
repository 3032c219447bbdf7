// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wav

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTripFloat(t *testing.T) {
	samples := []float32{0.1, -0.2, 0.3, -0.4, 0.5, -0.6}
	format := Format{SampleRate: 48000, Channels: 2, Float: true}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, samples, format))

	got, gotFormat, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 48000, gotFormat.SampleRate)
	assert.Equal(t, 2, gotFormat.Channels)
	assert.True(t, gotFormat.Float)
	require.Len(t, got, len(samples))
	for i := range samples {
		assert.InDelta(t, samples[i], got[i], 1e-6)
	}
}

func TestEncodeDecodeRoundTrip16Bit(t *testing.T) {
	samples := []float32{0.25, -0.25, 0.5, -0.5}
	format := Format{SampleRate: 44100, Channels: 2, BitsPerSample: 16}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, samples, format))

	got, gotFormat, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 16, gotFormat.BitsPerSample)
	assert.False(t, gotFormat.Float)
	require.Len(t, got, len(samples))
	for i := range samples {
		assert.InDelta(t, samples[i], got[i], 0.001)
	}
}

func TestEncodeDecodeRoundTrip24Bit(t *testing.T) {
	samples := []float32{0.1, -0.1, 0.9, -0.9}
	format := Format{SampleRate: 48000, Channels: 1, BitsPerSample: 24}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, samples, format))

	got, _, err := Decode(&buf)
	require.NoError(t, err)
	require.Len(t, got, len(samples))
	for i := range samples {
		assert.InDelta(t, samples[i], got[i], 0.0001)
	}
}

func TestDecodeRejectsNonRIFF(t *testing.T) {
	_, _, err := DecodeBytes([]byte("not a wav file at all"))
	assert.Error(t, err)
}

func TestDecodeRejectsMissingDataChunk(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	writeU32(&buf, 100)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	writeU32(&buf, 16)
	writeU16(&buf, 1)
	writeU16(&buf, 2)
	writeU32(&buf, 48000)
	writeU32(&buf, 192000)
	writeU16(&buf, 4)
	writeU16(&buf, 16)

	_, _, err := DecodeBytes(buf.Bytes())
	assert.Error(t, err)
}

func TestEncodeRejectsZeroChannels(t *testing.T) {
	var buf bytes.Buffer
	err := Encode(&buf, []float32{0.1}, Format{SampleRate: 48000, Channels: 0})
	assert.Error(t, err)
}
