// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package charset defines the 32-symbol alphabet used to pack watermark
// tags into 5-bit codes, and the tag checksum rule built on top of it.
package charset

import "strings"

// Alphabet is the fixed, ordered 32-symbol table used for packing. The
// order is normative: it must match bit-for-bit what existing databases
// and stored messages were built against (spec §4.1, §6).
const Alphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789_"

// Len is the number of symbols in Alphabet (and therefore bits per symbol:
// 5, since 2^5 == 32).
const Len = len(Alphabet)

var index [256]int8

func init() {
	for i := range index {
		index[i] = -1
	}
	for i := 0; i < Len; i++ {
		index[Alphabet[i]] = int8(i)
	}
}

// IndexOf returns the position of the canonical (uppercase) symbol r in
// Alphabet, or -1 if r is not in the alphabet.
func IndexOf(r byte) int {
	if r >= 'a' && r <= 'z' {
		r -= 'a' - 'A'
	}
	return int(index[r])
}

// Symbol returns the alphabet symbol at i. Callers must ensure
// 0 <= i < Len.
func Symbol(i int) byte {
	return Alphabet[i]
}

// Valid reports whether s is non-empty and every byte of s is a symbol in
// Alphabet (case-insensitive).
func Valid(s string) bool {
	if len(s) == 0 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if IndexOf(s[i]) < 0 {
			return false
		}
	}
	return true
}

// Canonicalize upper-cases s; it does not validate membership in Alphabet.
func Canonicalize(s string) string {
	return strings.ToUpper(s)
}
