// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package codec

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/awmkit/awmkit/internal/awmerr"
	"github.com/awmkit/awmkit/internal/charset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keyOf(b byte) []byte {
	k := make([]byte, 32)
	for i := range k {
		k[i] = b
	}
	return k
}

func singleKeyLookup(slot int, key []byte) KeyLookup {
	return func(s int) ([]byte, bool) {
		if s != slot {
			return nil, false
		}
		return key, true
	}
}

// S1 — encode/decode v2.
func TestEncodeDecodeV2Scenario(t *testing.T) {
	key := keyOf(0x11)
	tag, err := charset.FromIdentity("SAKUZY")
	require.NoError(t, err)
	require.Equal(t, charset.Tag("SAKUZY_2"), tag)

	data, err := Encode(VersionCurrent, tag, key, 0, 29049600)
	require.NoError(t, err)

	msg, err := Decode(data, singleKeyLookup(0, key))
	require.NoError(t, err)

	assert.Equal(t, VersionCurrent, msg.Version)
	assert.Equal(t, 0, msg.Slot)
	assert.EqualValues(t, 29049600, msg.TimestampMinutes)
	assert.Equal(t, "SAKUZY", msg.Identity())
}

// S2 — wrong key.
func TestDecodeWrongKey(t *testing.T) {
	tag, _ := charset.FromIdentity("SAKUZY")
	keyA := keyOf(0xAA)
	keyB := keyOf(0xBB)

	data, err := Encode(VersionCurrent, tag, keyA, 0, 100)
	require.NoError(t, err)

	_, err = Decode(data, singleKeyLookup(0, keyB))
	require.Error(t, err)
	assert.True(t, awmerr.Is(err, awmerr.MacMismatch))
}

// S3 — slot isolation.
func TestDecodeSlotIsolation(t *testing.T) {
	tag, _ := charset.FromIdentity("SAKUZY")
	key3 := keyOf(0x03)
	key0 := keyOf(0x00)

	data, err := Encode(VersionCurrent, tag, key3, 3, 100)
	require.NoError(t, err)

	lookupReturnsSlot0KeyForSlot3 := func(s int) ([]byte, bool) {
		return key0, true
	}

	_, err = Decode(data, lookupReturnsSlot0KeyForSlot3)
	require.Error(t, err)
	assert.True(t, awmerr.Is(err, awmerr.MacMismatch))
}

// S4 — checksum typo, via the codec's own unpack/parse path.
func TestDecodeChecksumMismatch(t *testing.T) {
	tag, _ := charset.FromIdentity("SAKUZY")
	key := keyOf(0x01)
	data, err := Encode(VersionCurrent, tag, key, 0, 1)
	require.NoError(t, err)

	// Corrupt the packed tag bytes so the checksum no longer matches.
	data[9] ^= 0xFF

	_, err = Decode(data, singleKeyLookup(0, key))
	require.Error(t, err)
}

func TestMessageRoundTripProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	identities := []string{"A", "AB", "SAKUZY", "_______", "234567_"}

	for _, version := range []int{VersionLegacy, VersionCurrent} {
		for _, identity := range identities {
			tag, err := charset.FromIdentity(identity)
			require.NoError(t, err)

			for slot := 0; slot <= MaxSlot; slot += 7 {
				key := keyOf(byte(slot + 1))
				ts := uint32(rng.Intn(1 << 27))

				data, err := Encode(version, tag, key, slot, ts)
				require.NoError(t, err)

				expectSlot := slot
				if version == VersionLegacy {
					expectSlot = 0
				}

				msg, err := Decode(data, singleKeyLookup(expectSlot, key))
				require.NoError(t, err)
				assert.Equal(t, version, msg.Version)
				assert.Equal(t, tag, msg.Tag)
				assert.Equal(t, expectSlot, msg.Slot)
				assert.EqualValues(t, ts, msg.TimestampMinutes)
			}
		}
	}
}

// MAC tamper detection, fuzzed.
func TestVerifyDetectsBitFlips(t *testing.T) {
	key := keyOf(0x42)
	tag, _ := charset.FromIdentity("SAKUZY")
	data, err := Encode(VersionCurrent, tag, key, 5, 123456)
	require.NoError(t, err)

	lookup := singleKeyLookup(5, key)
	require.True(t, Verify(data, lookup))

	rng := rand.New(rand.NewSource(7))
	const trials = 10000
	for i := 0; i < trials; i++ {
		mutated := data
		byteIdx := rng.Intn(MessageLen)
		bitIdx := rng.Intn(8)
		mutated[byteIdx] ^= 1 << bitIdx

		if bytes.Equal(mutated[:], data[:]) {
			t.Fatal("mutation had no effect")
		}
		if Verify(mutated, lookup) {
			t.Fatalf("mutation at byte %d bit %d unexpectedly verified", byteIdx, bitIdx)
		}
	}
}

func TestEncodeTimestampOverflow(t *testing.T) {
	tag, _ := charset.FromIdentity("SAKUZY")
	_, err := Encode(VersionCurrent, tag, keyOf(1), 0, 1<<27)
	require.Error(t, err)
	assert.True(t, awmerr.Is(err, awmerr.TimestampOverflow))
}

func TestEncodeSlotOutOfRange(t *testing.T) {
	tag, _ := charset.FromIdentity("SAKUZY")
	_, err := Encode(VersionCurrent, tag, keyOf(1), 32, 0)
	require.Error(t, err)
	assert.True(t, awmerr.Is(err, awmerr.SlotOutOfRange))
}

func TestEncodeUnsupportedVersion(t *testing.T) {
	tag, _ := charset.FromIdentity("SAKUZY")
	_, err := Encode(3, tag, keyOf(1), 0, 0)
	require.Error(t, err)
	assert.True(t, awmerr.Is(err, awmerr.UnsupportedVersion))
}

func TestDecodeKeyMissing(t *testing.T) {
	tag, _ := charset.FromIdentity("SAKUZY")
	data, err := Encode(VersionCurrent, tag, keyOf(1), 2, 0)
	require.NoError(t, err)

	noKey := func(slot int) ([]byte, bool) { return nil, false }
	_, err = Decode(data, noKey)
	require.Error(t, err)
	assert.True(t, awmerr.Is(err, awmerr.KeyMissing))
}

func TestDecodeUnverifiedNoMACIgnoresMAC(t *testing.T) {
	tag, _ := charset.FromIdentity("SAKUZY")
	data, err := Encode(VersionCurrent, tag, keyOf(1), 0, 42)
	require.NoError(t, err)

	data[15] ^= 0xFF // corrupt MAC

	msg, err := DecodeUnverifiedNoMAC(data)
	require.NoError(t, err)
	assert.Equal(t, "SAKUZY", msg.Identity())
}
