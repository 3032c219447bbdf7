// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package backend

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/chacha20poly1305"
)

// WrappingKeySize is the required size of the wrapping key passed to
// NewFile.
const WrappingKeySize = chacha20poly1305.KeySize

// File is a Backend for headless deployments: one file per slot id under a
// directory, permissions 0600. Each file's bytes are sealed with
// ChaCha20-Poly1305 under a machine-local wrapping key before they touch
// disk, so a stolen backup of the directory does not hand over key bytes
// outright; the wrapping key itself is the caller's concern to protect
// (e.g. derived from a platform secret store, out of scope here).
type File struct {
	dir  string
	aead cipher.AEAD
}

// NewFile returns a File backend rooted at dir (created with 0700 if
// missing), sealing every value under wrappingKey.
func NewFile(dir string, wrappingKey [WrappingKeySize]byte) (*File, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("backend/file: create dir: %w", err)
	}

	aead, err := chacha20poly1305.New(wrappingKey[:])
	if err != nil {
		return nil, fmt.Errorf("backend/file: init aead: %w", err)
	}

	return &File{dir: dir, aead: aead}, nil
}

func (f *File) path(id string) string {
	return filepath.Join(f.dir, id+".key")
}

func (f *File) Get(id string) ([]byte, bool, error) {
	raw, err := os.ReadFile(f.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("backend/file: read: %w", err)
	}

	nonceSize := f.aead.NonceSize()
	if len(raw) < nonceSize {
		return nil, false, errors.New("backend/file: corrupt key file")
	}
	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]

	plain, err := f.aead.Open(nil, nonce, ciphertext, []byte(id))
	if err != nil {
		return nil, false, fmt.Errorf("backend/file: decrypt: %w", err)
	}
	return plain, true, nil
}

func (f *File) Put(id string, value []byte) error {
	nonce := make([]byte, f.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("backend/file: nonce: %w", err)
	}

	sealed := f.aead.Seal(nil, nonce, value, []byte(id))
	out := append(nonce, sealed...)

	tmp := f.path(id) + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return fmt.Errorf("backend/file: write: %w", err)
	}
	if err := os.Rename(tmp, f.path(id)); err != nil {
		return fmt.Errorf("backend/file: rename: %w", err)
	}
	return nil
}

func (f *File) Delete(id string) error {
	err := os.Remove(f.path(id))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("backend/file: delete: %w", err)
	}
	return nil
}

func (f *File) Label() string { return "file" }

var _ Backend = (*File)(nil)
