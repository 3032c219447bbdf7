// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package codec implements the 16-byte wire format for watermark messages:
// version gating, time-and-slot packing, tag packing, and a constant-time
// MAC over the header.
package codec

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"

	"github.com/awmkit/awmkit/internal/awmerr"
	"github.com/awmkit/awmkit/internal/charset"
)

const (
	// VersionLegacy is the v1 wire format: no slot field, 32-bit minute
	// counter, implicit slot 0.
	VersionLegacy = 0x01
	// VersionCurrent is the v2 wire format encoders emit by default.
	VersionCurrent = 0x02

	// MessageLen is the total size of the encoded message in bytes.
	MessageLen = 16
	// macLen is the number of MAC bytes carried in the message (truncated
	// HMAC-SHA-256).
	macLen = 6
	// macInputLen is the number of leading bytes the MAC is computed over.
	macInputLen = 10

	// MaxSlot is the highest valid key slot index (5 bits: 0..31).
	MaxSlot = 31
	// maxTimestampMinutes is the largest value that fits in 27 bits.
	maxTimestampMinutes = 1<<27 - 1
)

const op = "codec"

// KeyLookup resolves the 32-byte secret for a key slot. It returns
// ok=false if the slot has no key (the caller maps this to KeyMissing).
type KeyLookup func(slot int) (key []byte, ok bool)

// Message is a decoded watermark payload.
type Message struct {
	Version           int
	TimestampMinutes  uint32
	Slot              int
	Tag               charset.Tag
}

// Identity returns the 7-symbol identity portion of the decoded tag.
func (m Message) Identity() string { return m.Tag.Identity() }

// Encode builds the 16-byte wire form of a message.
//
// version must be VersionLegacy or VersionCurrent. For VersionLegacy, slot
// is ignored and always encodes as 0; timestampMinutes must fit 32 bits.
// For VersionCurrent, timestampMinutes must fit 27 bits and slot must be
// 0..31.
func Encode(version int, tag charset.Tag, key []byte, slot int, timestampMinutes uint32) ([MessageLen]byte, error) {
	var out [MessageLen]byte

	switch version {
	case VersionLegacy:
		out[0] = VersionLegacy
		out[1] = byte(timestampMinutes >> 24)
		out[2] = byte(timestampMinutes >> 16)
		out[3] = byte(timestampMinutes >> 8)
		out[4] = byte(timestampMinutes)
	case VersionCurrent:
		if timestampMinutes > maxTimestampMinutes {
			return out, awmerr.New(op, awmerr.TimestampOverflow, nil)
		}
		if slot < 0 || slot > MaxSlot {
			return out, awmerr.New(op, awmerr.SlotOutOfRange, nil)
		}
		out[0] = VersionCurrent
		packed := (timestampMinutes << 5) | (uint32(slot) & 0x1F)
		out[1] = byte(packed >> 24)
		out[2] = byte(packed >> 16)
		out[3] = byte(packed >> 8)
		out[4] = byte(packed)
	default:
		return out, awmerr.New(op, awmerr.UnsupportedVersion, nil)
	}

	packedTag := charset.Pack(tag)
	copy(out[5:10], packedTag[:])

	mac := computeMAC(out[:macInputLen], key)
	copy(out[10:16], mac)

	return out, nil
}

// Decode parses and fully authenticates a 16-byte message: it validates the
// tag checksum, resolves the decoded slot's key via lookup, and verifies
// the MAC in constant time.
func Decode(data [MessageLen]byte, lookup KeyLookup) (Message, error) {
	msg, macField, err := decodeUnverified(data)
	if err != nil {
		return Message{}, err
	}

	key, ok := lookup(msg.Slot)
	if !ok {
		return Message{}, awmerr.New(op, awmerr.KeyMissing, nil)
	}

	want := computeMAC(data[:macInputLen], key)
	if subtle.ConstantTimeCompare(want, macField) != 1 {
		return Message{}, awmerr.New(op, awmerr.MacMismatch, nil)
	}

	return msg, nil
}

// Verify reports whether data authenticates under the key resolved by
// lookup for its decoded slot. It never short-circuits the MAC comparison:
// the underlying crypto/subtle.ConstantTimeCompare always inspects every
// byte regardless of where a mismatch occurs.
func Verify(data [MessageLen]byte, lookup KeyLookup) bool {
	_, err := Decode(data, lookup)
	return err == nil
}

// DecodeUnverifiedNoMAC returns the message payload without checking the
// MAC. Its fields must be displayed as UNVERIFIED and must never drive
// attribution decisions — use Decode for anything that matters.
func DecodeUnverifiedNoMAC(data [MessageLen]byte) (Message, error) {
	msg, _, err := decodeUnverified(data)
	return msg, err
}

func decodeUnverified(data [MessageLen]byte) (Message, []byte, error) {
	version := int(data[0])

	var timestampMinutes uint32
	var slot int

	switch version {
	case VersionLegacy:
		timestampMinutes = uint32(data[1])<<24 | uint32(data[2])<<16 | uint32(data[3])<<8 | uint32(data[4])
		slot = 0
	case VersionCurrent:
		packed := uint32(data[1])<<24 | uint32(data[2])<<16 | uint32(data[3])<<8 | uint32(data[4])
		timestampMinutes = packed >> 5
		slot = int(packed & 0x1F)
	default:
		return Message{}, nil, awmerr.New(op, awmerr.UnsupportedVersion, nil)
	}

	var packedTag [charset.PackedLen]byte
	copy(packedTag[:], data[5:10])
	tag, err := charset.Parse(string(charset.Unpack(packedTag)))
	if err != nil {
		return Message{}, nil, err
	}

	macField := append([]byte(nil), data[10:16]...)

	return Message{
		Version:          version,
		TimestampMinutes: timestampMinutes,
		Slot:             slot,
		Tag:              tag,
	}, macField, nil
}

func computeMAC(header []byte, key []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(header)
	return h.Sum(nil)[:macLen]
}
