// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package evidence

import "time"

// Record is one audio_evidence row (spec §3).
type Record struct {
	ID               int64     `db:"id"`
	CreatedAt        time.Time `db:"created_at"`
	FilePath         string    `db:"file_path"`
	Tag              string    `db:"tag"`
	Identity         string    `db:"identity"`
	Version          int       `db:"version"`
	KeySlot          int       `db:"key_slot"`
	TimestampMinutes uint32    `db:"timestamp_minutes"`
	MessageHex       string    `db:"message_hex"`
	SampleRate       int       `db:"sample_rate"`
	Channels         int       `db:"channels"`
	SampleCount      int64     `db:"sample_count"`
	PCMSHA256        string    `db:"pcm_sha256"`
	KeyID            string    `db:"key_id"`
	IsForcedEmbed    bool      `db:"is_forced_embed"`
	SNRDb            *float64  `db:"snr_db"`
	SNRStatus        string    `db:"snr_status"`
	ChromaprintBlob  []byte    `db:"chromaprint_blob"`
	FingerprintLen   int       `db:"fingerprint_len"`
	FPConfigID       string    `db:"fp_config_id"`
}
