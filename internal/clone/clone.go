// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package clone implements the clone checker (spec §4.10): given a detected
// message, it compares the candidate audio against previously recorded
// evidence for the same (identity, slot, key_id) and classifies how closely
// it resembles a known-good embed.
package clone

import (
	"github.com/awmkit/awmkit/internal/evidence"
	"github.com/awmkit/awmkit/internal/recorder"
)

// Kind is the clone-check classification (spec §4.10 step 3).
type Kind string

const (
	Exact       Kind = "exact"
	Likely      Kind = "likely"
	Suspect     Kind = "suspect"
	Unavailable Kind = "unavailable"
)

// DefaultTightThreshold and DefaultLooseThreshold are the documented default
// fingerprint similarity boundaries (fraction of matching bits, 1.0 =
// identical). Tight is reserved for "likely", loose for "suspect".
const (
	DefaultTightThreshold = 0.95
	DefaultLooseThreshold = 0.85
)

// Thresholds configures the fingerprint similarity boundaries used by Check.
type Thresholds struct {
	Tight float64
	Loose float64
}

// DefaultThresholds returns the documented default boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{Tight: DefaultTightThreshold, Loose: DefaultLooseThreshold}
}

// EvidenceStore is the subset of *evidence.DB the clone checker needs.
type EvidenceStore interface {
	FindByIdentitySlotKey(identity string, keySlot int, keyID string, limit int) ([]evidence.Record, error)
}

// Candidate describes the detected message and its carrying audio.
type Candidate struct {
	Identity string
	KeySlot  int
	KeyID    string
	PCM      recorder.PCM
}

// Result is what Check reports back to the caller (spec §4.10 step 4).
type Result struct {
	Kind         Kind
	BestScore    *float64
	MatchSeconds *float64
	Reason       string
}

// lookupLimit bounds how many historical rows are compared against, per
// spec §4.10 step 2 ("bounded (e.g., 20 rows)").
const lookupLimit = 20

// Check classifies candidate against evidence previously recorded for the
// same (identity, slot, key_id). fp may be nil, in which case fingerprint
// comparison is skipped and classification falls back to exact-hash-only.
func Check(store EvidenceStore, fp recorder.Fingerprinter, candidate Candidate, th Thresholds) Result {
	if candidate.KeyID == "" {
		return Result{Kind: Unavailable, Reason: "key missing"}
	}

	rows, err := store.FindByIdentitySlotKey(candidate.Identity, candidate.KeySlot, candidate.KeyID, lookupLimit)
	if err != nil {
		return Result{Kind: Unavailable, Reason: "evidence lookup failed"}
	}
	if len(rows) == 0 {
		return Result{Kind: Unavailable, Reason: "no evidence recorded"}
	}

	candidateHash := recorder.SHA256(candidate.PCM)
	for _, row := range rows {
		if row.PCMSHA256 == candidateHash {
			return Result{Kind: Exact, Reason: "identical content hash"}
		}
	}

	if fp == nil {
		return Result{Kind: Unavailable, Reason: "fingerprint collaborator unavailable"}
	}

	prefix := prefixSamples(candidate.PCM)
	blob, fpErr := fp.Fingerprint(prefix, candidate.PCM.SampleRate)
	if fpErr != nil || len(blob) == 0 {
		return Result{Kind: Unavailable, Reason: "fingerprinting failed"}
	}

	var best float64
	var haveBest bool
	for _, row := range rows {
		if len(row.ChromaprintBlob) == 0 {
			continue
		}
		score, ok := compareFingerprints(blob, row.ChromaprintBlob)
		if !ok {
			continue
		}
		if !haveBest || score > best {
			best = score
			haveBest = true
		}
	}

	if !haveBest {
		return Result{Kind: Unavailable, Reason: "no comparable fingerprints recorded"}
	}

	matchSeconds := float64(recorder.PrefixSeconds)
	result := Result{BestScore: &best, MatchSeconds: &matchSeconds}

	switch {
	case best >= th.Tight:
		result.Kind = Likely
		result.Reason = "fingerprint within tight threshold"
	case best >= th.Loose:
		result.Kind = Suspect
		result.Reason = "fingerprint within loose threshold"
	default:
		result.Kind = Unavailable
		result.Reason = "fingerprint below loose threshold"
	}
	return result
}

// prefixSamples returns the first recorder.PrefixSeconds of p, matching the
// bound the recorder fingerprints at embed time so candidates and recorded
// evidence are comparable.
func prefixSamples(p recorder.PCM) []float32 {
	if p.Channels == 0 {
		return nil
	}
	frames := recorder.PrefixSeconds * p.SampleRate
	n := frames * p.Channels
	if n > len(p.Samples) {
		n = len(p.Samples)
	}
	return p.Samples[:n]
}

// compareFingerprints returns the fraction of matching bits between a and
// b, compared over their shared length. ok=false if either blob is empty.
func compareFingerprints(a, b []byte) (score float64, ok bool) {
	if len(a) == 0 || len(b) == 0 {
		return 0, false
	}

	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	var matching, total int
	for i := 0; i < n; i++ {
		x := a[i] ^ b[i]
		for bit := 0; bit < 8; bit++ {
			total++
			if x&(1<<uint(bit)) == 0 {
				matching++
			}
		}
	}
	if total == 0 {
		return 0, false
	}
	return float64(matching) / float64(total), true
}
