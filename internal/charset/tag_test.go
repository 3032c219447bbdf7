// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package charset

import (
	"testing"

	"github.com/awmkit/awmkit/internal/awmerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromIdentityPadsAndChecksums(t *testing.T) {
	tag, err := FromIdentity("SAKUZY")
	require.NoError(t, err)
	assert.Equal(t, Tag("SAKUZY_2"), tag)
}

func TestFromIdentityCaseInsensitive(t *testing.T) {
	tag, err := FromIdentity("sakuzy")
	require.NoError(t, err)
	assert.Equal(t, Tag("SAKUZY_2"), tag)
}

func TestFromIdentityRejectsInvalidCharset(t *testing.T) {
	_, err := FromIdentity("SAK0ZY")
	require.Error(t, err)
	assert.True(t, awmerr.Is(err, awmerr.InvalidCharset))
}

func TestFromIdentityRejectsEmptyOrTooLong(t *testing.T) {
	_, err := FromIdentity("")
	assert.True(t, awmerr.Is(err, awmerr.InvalidCharset))

	_, err = FromIdentity("ABCDEFGH")
	assert.True(t, awmerr.Is(err, awmerr.InvalidCharset))
}

func TestParseRoundTrip(t *testing.T) {
	tag, err := FromIdentity("SAKUZY")
	require.NoError(t, err)

	parsed, err := Parse(string(tag))
	require.NoError(t, err)
	assert.Equal(t, tag, parsed)

	parsedLower, err := Parse("sakuzy_2")
	require.NoError(t, err)
	assert.Equal(t, tag, parsedLower)
}

func TestParseChecksumMismatch(t *testing.T) {
	_, err := Parse("SAKUZY_A")
	require.Error(t, err)
	assert.True(t, awmerr.Is(err, awmerr.ChecksumMismatch))
}

func TestChecksumRoundTripAllLengths(t *testing.T) {
	for n := 1; n <= IdentityLen; n++ {
		identity := make([]byte, n)
		for i := range identity {
			identity[i] = Symbol((i + n) % Len)
		}
		tag, err := FromIdentity(string(identity))
		require.NoError(t, err)

		parsed, err := Parse(string(tag))
		require.NoError(t, err)
		assert.Equal(t, tag, parsed)
	}
}

func TestPackUnpackRoundTrip(t *testing.T) {
	tag, err := FromIdentity("SAKUZY")
	require.NoError(t, err)

	packed := Pack(tag)
	assert.Len(t, packed, PackedLen)

	unpacked := Unpack(packed)
	assert.Equal(t, tag, unpacked)
}

func TestPackUnpackLettersDigitsIdentity(t *testing.T) {
	identity := "AB234Z_"
	tag, err := FromIdentity(identity[:IdentityLen-1])
	require.NoError(t, err)
	assert.Equal(t, tag, Unpack(Pack(tag)))
}
