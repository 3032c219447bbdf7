// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package events optionally publishes embed-completed and clone-detected
// notifications over NATS. Publishing is purely additive: Embed, Detect,
// and clone classification succeed identically whether or not a
// Publisher is configured (spec supplement).
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/awmkit/awmkit/pkg/log"
)

// Subjects used by this package's publishers.
const (
	SubjectEmbedCompleted = "awmkit.embed.completed"
	SubjectCloneDetected  = "awmkit.clone.detected"
)

// EmbedCompleted is published after a successful embed.
type EmbedCompleted struct {
	Identity   string    `json:"identity"`
	KeySlot    int       `json:"key_slot"`
	KeyID      string    `json:"key_id"`
	MessageHex string    `json:"message_hex"`
	At         time.Time `json:"at"`
}

// CloneDetected is published after a clone check classifies candidate
// audio as anything other than "unavailable".
type CloneDetected struct {
	Identity string    `json:"identity"`
	KeySlot  int       `json:"key_slot"`
	KeyID    string    `json:"key_id"`
	Kind     string    `json:"kind"`
	At       time.Time `json:"at"`
}

// Publisher wraps one NATS connection. Unlike the teacher's package-level
// singleton client, Publisher is caller-constructed and -owned.
type Publisher struct {
	conn *nats.Conn
}

// Connect dials address and returns a ready Publisher. An empty address
// means "events disabled"; Connect returns (nil, nil) in that case, and
// every Publish* method on a nil *Publisher is a silent no-op.
func Connect(address string) (*Publisher, error) {
	if address == "" {
		log.Info("events: no address configured, publishing disabled")
		return nil, nil
	}

	conn, err := nats.Connect(address,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnf("events: disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("events: reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("events: connect: %w", err)
	}

	log.Infof("events: connected to %s", address)
	return &Publisher{conn: conn}, nil
}

// PublishEmbedCompleted publishes e on SubjectEmbedCompleted. A nil
// Publisher or marshal/publish failure is logged, never returned as an
// error: event publishing must never fail an embed.
func (p *Publisher) PublishEmbedCompleted(e EmbedCompleted) {
	p.publish(SubjectEmbedCompleted, e)
}

// PublishCloneDetected publishes e on SubjectCloneDetected.
func (p *Publisher) PublishCloneDetected(e CloneDetected) {
	p.publish(SubjectCloneDetected, e)
}

func (p *Publisher) publish(subject string, v any) {
	if p == nil || p.conn == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		log.Warnf("events: marshal for %s failed: %v", subject, err)
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		log.Warnf("events: publish to %s failed: %v", subject, err)
	}
}

// Close releases the underlying connection. Safe to call on a nil
// Publisher.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	p.conn.Close()
}
