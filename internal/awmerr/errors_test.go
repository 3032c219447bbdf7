// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package awmerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorIsKind(t *testing.T) {
	err := New("codec/decode", MacMismatch, nil)

	assert.True(t, errors.Is(err, MacMismatch))
	assert.False(t, errors.Is(err, KeyMissing))
}

func TestErrorWrapsCause(t *testing.T) {
	cause := errors.New("boom")
	err := New("evidence/insert", DatabaseError, cause)

	require.ErrorIs(t, err, DatabaseError)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "boom")
}

func TestOf(t *testing.T) {
	k, ok := Of(New("keystore/save", SlotOccupied, nil))
	require.True(t, ok)
	assert.Equal(t, SlotOccupied, k)

	_, ok = Of(errors.New("plain"))
	assert.False(t, ok)
}
