// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package recorder implements the evidence recorder (spec §4.9): after a
// successful embed, it hashes the output PCM, fingerprints a bounded
// prefix of it, estimates SNR against the original input, and inserts the
// resulting evidence row.
package recorder

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"

	"github.com/awmkit/awmkit/internal/awmerr"
	"github.com/awmkit/awmkit/internal/evidence"
	"github.com/awmkit/awmkit/pkg/log"
)

const op = "recorder"

// PrefixSeconds is the compile-time default amount of audio fingerprinted
// from the start of each recording (spec §4.9 step 2: "T is a
// compile-time constant the implementer fixes"). 30s is long enough for
// typical fingerprint libraries (e.g. Chromaprint) to produce a stable
// match signature while keeping the hashed prefix small for short clips.
const PrefixSeconds = 30

// FingerprintConfigID names the fixed fingerprinting configuration this
// recorder was built against, stored alongside each row so future
// comparisons know which config produced the blob.
const FingerprintConfigID = "awmkit-fp-v1"

// Fingerprinter is the external acoustic-fingerprint collaborator (e.g. a
// Chromaprint binding), out of scope for this core per spec §1.
type Fingerprinter interface {
	// Fingerprint computes a fingerprint blob over samples at sampleRate,
	// already bounded to the prefix the caller wants fingerprinted.
	Fingerprint(samples []float32, sampleRate int) (blob []byte, err error)
}

// PCM is a single-stream, interleaved float32 PCM buffer plus its format.
type PCM struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// SampleCount returns the number of per-channel samples (frames) in p.
func (p PCM) SampleCount() int64 {
	if p.Channels == 0 {
		return 0
	}
	return int64(len(p.Samples) / p.Channels)
}

// SHA256 computes a deterministic content hash over p: samples are
// serialized little-endian as IEEE-754 float32, interleaved exactly as
// stored, so the same samples always hash identically regardless of where
// they came from (spec §4.9 step 1: "the exact format chosen — the choice
// must be fixed and documented").
func SHA256(p PCM) string {
	h := sha256.New()
	buf := make([]byte, 4)
	for _, s := range p.Samples {
		binary.LittleEndian.PutUint32(buf, math.Float32bits(s))
		h.Write(buf)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// prefixSamples returns the first PrefixSeconds of p, interleaved samples
// included.
func prefixSamples(p PCM) []float32 {
	frames := PrefixSeconds * p.SampleRate
	n := frames * p.Channels
	if n > len(p.Samples) {
		n = len(p.Samples)
	}
	return p.Samples[:n]
}

// Result is what Record reports back to the caller: the inserted (or
// colliding) evidence row, and whether recording failed as a
// non-fatal warning (spec: "Recording failures ... do not invalidate the
// embedded output; they are reported as a warning, not a hard error").
type Result struct {
	Record          *evidence.Record
	AlreadyRecorded bool
	Warning         error
}

// Record computes hash/fingerprint/SNR for output (the freshly embedded
// PCM) against input (the original, pre-embed PCM, whose Samples may be nil
// if unavailable) and inserts the resulting evidence row via db.
func Record(db *evidence.DB, fp Fingerprinter, meta RecordMeta, input, output PCM) Result {
	rec := &evidence.Record{
		FilePath:         meta.FilePath,
		Tag:              meta.Tag,
		Identity:         meta.Identity,
		Version:          meta.Version,
		KeySlot:          meta.KeySlot,
		TimestampMinutes: meta.TimestampMinutes,
		MessageHex:       meta.MessageHex,
		SampleRate:       output.SampleRate,
		Channels:         output.Channels,
		SampleCount:      output.SampleCount(),
		PCMSHA256:        SHA256(output),
		KeyID:            meta.KeyID,
		IsForcedEmbed:    meta.IsForcedEmbed,
		FingerprintLen:   0,
		FPConfigID:       FingerprintConfigID,
	}

	if fp != nil {
		blob, err := fp.Fingerprint(prefixSamples(output), output.SampleRate)
		if err != nil {
			log.Warnf("recorder: fingerprinting failed: %v", err)
		} else {
			rec.ChromaprintBlob = blob
			rec.FingerprintLen = len(blob)
		}
	}

	snr, status := computeSNR(input, output)
	rec.SNRStatus = status
	if status == "ok" {
		rec.SNRDb = &snr
	}

	already, err := db.Insert(rec)
	if err != nil {
		return Result{Warning: awmerr.New(op, awmerr.DatabaseError, nil)}
	}

	return Result{Record: rec, AlreadyRecorded: already}
}

// RecordMeta carries the embed-path facts the recorder needs but does not
// itself compute.
type RecordMeta struct {
	FilePath         string
	Tag              string
	Identity         string
	Version          int
	KeySlot          int
	TimestampMinutes uint32
	MessageHex       string
	KeyID            string
	IsForcedEmbed    bool
}

// sampleTolerance is the maximum fractional length mismatch between input
// and output PCM still considered comparable for SNR purposes.
const sampleTolerance = 0.01

// computeSNR estimates the signal-to-noise ratio between input and output
// by treating (output - input) as the noise component, in decibels:
// 10*log10(signal_power / noise_power). If input is absent or the two
// streams' lengths disagree beyond sampleTolerance, SNR is unavailable.
func computeSNR(input, output PCM) (snr float64, status string) {
	if input.Samples == nil {
		return 0, "unavailable"
	}

	n := len(input.Samples)
	if len(output.Samples) < n {
		n = len(output.Samples)
	}
	if n == 0 {
		return 0, "unavailable"
	}

	longer := len(input.Samples)
	if len(output.Samples) > longer {
		longer = len(output.Samples)
	}
	if float64(longer-n)/float64(longer) > sampleTolerance {
		return 0, "unavailable"
	}

	var signalPower, noisePower float64
	for i := 0; i < n; i++ {
		s := float64(input.Samples[i])
		noise := float64(output.Samples[i]) - s
		signalPower += s * s
		noisePower += noise * noise
	}

	if signalPower == 0 {
		return 0, "unavailable"
	}
	if noisePower == 0 {
		// Output is sample-identical to input: report a high but finite
		// ceiling rather than +Inf.
		return 120, "ok"
	}

	return 10 * math.Log10(signalPower/noisePower), "ok"
}
