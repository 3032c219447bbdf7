// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectWithEmptyAddressDisablesPublishing(t *testing.T) {
	p, err := Connect("")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestNilPublisherMethodsAreNoOps(t *testing.T) {
	var p *Publisher

	assert.NotPanics(t, func() {
		p.PublishEmbedCompleted(EmbedCompleted{Identity: "ABCDE", At: time.Now()})
	})
	assert.NotPanics(t, func() {
		p.PublishCloneDetected(CloneDetected{Identity: "ABCDE", Kind: "exact", At: time.Now()})
	})
	assert.NotPanics(t, func() {
		p.Close()
	})
}

func TestConnectToUnreachableAddressFails(t *testing.T) {
	_, err := Connect("nats://127.0.0.1:1")
	assert.Error(t, err)
}
