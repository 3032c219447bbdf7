// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package backend

import "errors"

// KeyringOps is implemented by a platform secret store adapter (macOS
// Keychain, Windows Credential Manager, a Secret Service client, ...). Per
// spec §1 these adapters are collaborators the core does not implement;
// Keyring below only adapts whatever the caller wires in to the Backend
// interface.
type KeyringOps interface {
	Get(service, account string) ([]byte, error)
	Set(service, account string, value []byte) error
	Delete(service, account string) error
}

// ErrKeyringNotConfigured is returned by every Keyring method when no
// KeyringOps implementation has been wired in.
var ErrKeyringNotConfigured = errors.New("backend/keyring: no platform keyring adapter configured")

// Keyring adapts a platform keyring (via KeyringOps) to the Backend
// interface, namespacing all entries under a single service name.
type Keyring struct {
	service string
	ops     KeyringOps
}

var _ Backend = (*Keyring)(nil)

// NewKeyring returns a Keyring backend that stores entries under service,
// delegating to ops. ops may be nil, in which case every call fails with
// ErrKeyringNotConfigured — callers on platforms without a wired adapter
// should select the file or memory backend instead.
func NewKeyring(service string, ops KeyringOps) *Keyring {
	return &Keyring{service: service, ops: ops}
}

func (k *Keyring) Get(id string) ([]byte, bool, error) {
	if k.ops == nil {
		return nil, false, ErrKeyringNotConfigured
	}
	v, err := k.ops.Get(k.service, id)
	if err != nil {
		return nil, false, err
	}
	if v == nil {
		return nil, false, nil
	}
	return v, true, nil
}

func (k *Keyring) Put(id string, value []byte) error {
	if k.ops == nil {
		return ErrKeyringNotConfigured
	}
	return k.ops.Set(k.service, id, value)
}

func (k *Keyring) Delete(id string) error {
	if k.ops == nil {
		return ErrKeyringNotConfigured
	}
	return k.ops.Delete(k.service, id)
}

func (k *Keyring) Label() string { return "keyring" }
