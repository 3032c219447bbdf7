// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package keystore implements the 32-slot key-slot store: per-slot
// metadata, the active-slot pointer, and the conflict rules that keep key
// fingerprints unique across reachable slots (spec §3, §4.3).
package keystore

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/awmkit/awmkit/internal/awmerr"
	"github.com/awmkit/awmkit/internal/keystore/backend"
	"github.com/awmkit/awmkit/pkg/log"
)

const (
	// SlotCount is the number of key slots the store manages (0..31).
	SlotCount = 32
	// KeyLen is the required length of a slot's secret, in bytes.
	KeyLen = 32
)

const op = "keystore"

// EvidenceCounts is implemented by the evidence store and consulted by
// Delete and slot_summaries() so the key-slot store never needs to know
// evidence schema details, only "how many rows, and when was the last".
type EvidenceCounts interface {
	// CountForSlot returns the number of evidence rows referencing slot.
	CountForSlot(slot int) (int64, error)
	// LastUsedForSlot returns the most recent evidence created_at for
	// slot, or ok=false if there are no rows.
	LastUsedForSlot(slot int) (t time.Time, ok bool, err error)
}

// SlotMeta is the metadata the store tracks for one slot (spec §3).
type SlotMeta struct {
	Slot          int
	Label         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	HasKey        bool
	KeyID         string
	EvidenceCount int64
	LastUsedAt    *time.Time
}

type slotRecord struct {
	label     string
	createdAt time.Time
	updatedAt time.Time
}

// Store is the key-slot store. It is process-local and caller-constructed
// (design note §9: no package-level singleton); callers that want a single
// shared instance build one at their boundary.
type Store struct {
	mu       sync.Mutex
	backend  backend.Backend
	evidence EvidenceCounts

	records [SlotCount]slotRecord
	active  int
}

// New returns a Store backed by b. evidence may be nil; in that case
// EvidenceCount/LastUsedAt always report zero/absent and Delete never
// refuses for SlotHasEvidence (there is nothing to consult). Wire a real
// EvidenceCounts once the evidence store exists.
func New(b backend.Backend, evidence EvidenceCounts) *Store {
	s := &Store{backend: b, evidence: evidence}
	now := time.Now()
	for i := range s.records {
		s.records[i] = slotRecord{createdAt: now, updatedAt: now}
	}
	return s
}

func checkSlot(slot int) error {
	if slot < 0 || slot >= SlotCount {
		return awmerr.New(op, awmerr.SlotOutOfRange, nil)
	}
	return nil
}

func slotID(slot int) string { return fmt.Sprintf("%d", slot) }

// Fingerprint returns the hex-encoded SHA-256 digest of key, used both as
// the duplicate-detection fingerprint and (truncated) as the display key_id.
func Fingerprint(key []byte) string {
	sum := sha256.Sum256(key)
	return hex.EncodeToString(sum[:])
}

// KeyID truncates a fingerprint for display.
func KeyID(fingerprint string) string {
	const keep = 16
	if len(fingerprint) <= keep {
		return fingerprint
	}
	return fingerprint[:keep]
}

// Exists reports whether slot has a stored key.
func (s *Store) Exists(slot int) (bool, error) {
	if err := checkSlot(slot); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exists(slot)
}

func (s *Store) exists(slot int) (bool, error) {
	_, ok, err := s.backend.Get(slotID(slot))
	if err != nil {
		return false, awmerr.New(op, awmerr.BackendError, err)
	}
	return ok, nil
}

// Load returns the 32-byte secret stored in slot.
func (s *Store) Load(slot int) ([]byte, error) {
	if err := checkSlot(slot); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok, err := s.backend.Get(slotID(slot))
	if err != nil {
		return nil, awmerr.New(op, awmerr.BackendError, err)
	}
	if !ok {
		return nil, awmerr.New(op, awmerr.KeyMissing, nil)
	}
	return v, nil
}

// fingerprintConflict scans every slot other than except for a key whose
// fingerprint equals fp. It loads key bytes one slot at a time and never
// holds more than one secret in memory at once (spec §3: "never held
// longer than a single call" — here, a single conflict scan).
func (s *Store) fingerprintConflict(fp string, except int) (bool, error) {
	for slot := 0; slot < SlotCount; slot++ {
		if slot == except {
			continue
		}
		v, ok, err := s.backend.Get(slotID(slot))
		if err != nil {
			return false, awmerr.New(op, awmerr.BackendError, err)
		}
		if !ok {
			continue
		}
		if Fingerprint(v) == fp {
			return true, nil
		}
	}
	return false, nil
}

// Save stores key into slot. It fails FingerprintConflict if another slot
// already carries the same key, and SlotOccupied if the slot already has a
// key and overwrite is false.
func (s *Store) Save(slot int, key []byte, overwrite bool) error {
	if err := checkSlot(slot); err != nil {
		return err
	}
	if len(key) != KeyLen {
		return awmerr.New(op, awmerr.InvalidKeyLength, nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	occupied, err := s.exists(slot)
	if err != nil {
		return err
	}
	if occupied && !overwrite {
		return awmerr.New(op, awmerr.SlotOccupied, nil)
	}

	fp := Fingerprint(key)
	conflict, err := s.fingerprintConflict(fp, slot)
	if err != nil {
		return err
	}
	if conflict {
		return awmerr.New(op, awmerr.FingerprintConflict, nil)
	}

	if err := s.backend.Put(slotID(slot), key); err != nil {
		return awmerr.New(op, awmerr.BackendError, err)
	}
	s.records[slot].updatedAt = time.Now()
	log.Debugf("keystore: saved key for slot %d (key_id=%s)", slot, log.RedactKeyID(KeyID(fp)))
	return nil
}

// Generate creates 32 random bytes from the OS CSPRNG and saves them into
// slot. It never overwrites an occupied slot.
func (s *Store) Generate(slot int) ([]byte, error) {
	if err := checkSlot(slot); err != nil {
		return nil, err
	}

	key := make([]byte, KeyLen)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, awmerr.New(op, awmerr.BackendError, err)
	}

	if err := s.Save(slot, key, false); err != nil {
		return nil, err
	}
	return key, nil
}

// Rotate atomically replaces slot's key. If newKey is nil, a fresh random
// key is generated. Rotate returns the fingerprint of the key that was
// replaced (empty string if the slot had none).
func (s *Store) Rotate(slot int, newKey []byte) (oldFingerprint string, err error) {
	if err := checkSlot(slot); err != nil {
		return "", err
	}

	s.mu.Lock()
	old, hadKey, getErr := s.backend.Get(slotID(slot))
	s.mu.Unlock()
	if getErr != nil {
		return "", awmerr.New(op, awmerr.BackendError, getErr)
	}
	if hadKey {
		oldFingerprint = Fingerprint(old)
	}

	if newKey == nil {
		newKey = make([]byte, KeyLen)
		if _, err := io.ReadFull(rand.Reader, newKey); err != nil {
			return "", awmerr.New(op, awmerr.BackendError, err)
		}
	} else if len(newKey) != KeyLen {
		return "", awmerr.New(op, awmerr.InvalidKeyLength, nil)
	}

	if err := s.Save(slot, newKey, true); err != nil {
		return "", err
	}
	return oldFingerprint, nil
}

// Delete clears slot's key. It refuses with SlotHasEvidence unless force is
// true or no EvidenceCounts collaborator is configured. On success it
// returns the slot the active pointer now refers to: if the deleted slot
// was active, the pointer falls back to the lowest has_key slot, else 0.
func (s *Store) Delete(slot int, force bool) (nextActive int, err error) {
	if err := checkSlot(slot); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !force && s.evidence != nil {
		count, cerr := s.evidence.CountForSlot(slot)
		if cerr != nil {
			return 0, awmerr.New(op, awmerr.BackendError, cerr)
		}
		if count > 0 {
			return 0, awmerr.New(op, awmerr.SlotHasEvidence, nil)
		}
	}

	if err := s.backend.Delete(slotID(slot)); err != nil {
		return 0, awmerr.New(op, awmerr.BackendError, err)
	}
	s.records[slot].updatedAt = time.Now()

	if s.active == slot {
		s.active = s.lowestKeyedSlotLocked()
	}
	return s.active, nil
}

func (s *Store) lowestKeyedSlotLocked() int {
	for slot := 0; slot < SlotCount; slot++ {
		if ok, _ := s.exists(slot); ok {
			return slot
		}
	}
	return 0
}

// Active returns the currently active slot.
func (s *Store) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// SetActive changes the active slot. The slot need not have a key yet
// (spec invariant: "active_key_slot always refers to a slot whose metadata
// row exists; the row may have has_key = false").
func (s *Store) SetActive(slot int) error {
	if err := checkSlot(slot); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = slot
	return nil
}

// SetLabel sets a slot's display label.
func (s *Store) SetLabel(slot int, label string) error {
	if err := checkSlot(slot); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[slot].label = label
	s.records[slot].updatedAt = time.Now()
	return nil
}

// ClearLabel clears a slot's display label.
func (s *Store) ClearLabel(slot int) error {
	return s.SetLabel(slot, "")
}

// SlotSummaries returns metadata for every slot, derived fields populated
// from the backend and (if configured) the evidence store.
func (s *Store) SlotSummaries() ([]SlotMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]SlotMeta, SlotCount)
	for slot := 0; slot < SlotCount; slot++ {
		rec := s.records[slot]
		meta := SlotMeta{
			Slot:      slot,
			Label:     rec.label,
			CreatedAt: rec.createdAt,
			UpdatedAt: rec.updatedAt,
		}

		v, ok, err := s.backend.Get(slotID(slot))
		if err != nil {
			return nil, awmerr.New(op, awmerr.BackendError, err)
		}
		if ok {
			meta.HasKey = true
			meta.KeyID = KeyID(Fingerprint(v))
		}

		if s.evidence != nil {
			count, err := s.evidence.CountForSlot(slot)
			if err != nil {
				return nil, awmerr.New(op, awmerr.BackendError, err)
			}
			meta.EvidenceCount = count

			if t, ok, err := s.evidence.LastUsedForSlot(slot); err != nil {
				return nil, awmerr.New(op, awmerr.BackendError, err)
			} else if ok {
				meta.LastUsedAt = &t
			}
		}

		out[slot] = meta
	}
	return out, nil
}

// KeyLookup adapts the store into a codec.KeyLookup-shaped function: given
// a slot, return its key bytes if present.
func (s *Store) KeyLookup(slot int) ([]byte, bool) {
	v, err := s.Load(slot)
	if err != nil {
		return nil, false
	}
	return v, true
}
