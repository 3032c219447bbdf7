// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package evidence

import (
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	sq "github.com/Masterminds/squirrel"
	"github.com/mattn/go-sqlite3"

	"github.com/awmkit/awmkit/internal/awmerr"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Question)

const evidenceColumns = `id, created_at, file_path, tag, identity, version, key_slot, timestamp_minutes,
	message_hex, sample_rate, channels, sample_count, pcm_sha256, key_id, is_forced_embed,
	snr_db, snr_status, chromaprint_blob, fingerprint_len, fp_config_id`

// Insert adds rec to audio_evidence inside its own write transaction. If a
// row already exists for rec's (identity, key_slot, key_id, pcm_sha256)
// tuple, the existing row wins: Insert returns alreadyRecorded=true and the
// new computation is discarded, per spec §4.9 step 4.
func (db *DB) Insert(rec *Record) (alreadyRecorded bool, err error) {
	txErr := db.withWriteTx(func(tx *sqlx.Tx) error {
		q, args, buildErr := psql.Insert("audio_evidence").
			Columns("created_at", "file_path", "tag", "identity", "version", "key_slot",
				"timestamp_minutes", "message_hex", "sample_rate", "channels", "sample_count",
				"pcm_sha256", "key_id", "is_forced_embed", "snr_db", "snr_status",
				"chromaprint_blob", "fingerprint_len", "fp_config_id").
			Values(time.Now().UTC(), rec.FilePath, rec.Tag, rec.Identity, rec.Version, rec.KeySlot,
				rec.TimestampMinutes, rec.MessageHex, rec.SampleRate, rec.Channels, rec.SampleCount,
				rec.PCMSHA256, rec.KeyID, rec.IsForcedEmbed, rec.SNRDb, rec.SNRStatus,
				rec.ChromaprintBlob, rec.FingerprintLen, rec.FPConfigID).
			ToSql()
		if buildErr != nil {
			return awmerr.New(op, awmerr.DatabaseError, nil)
		}

		res, execErr := tx.Exec(q, args...)
		if execErr != nil {
			var sqliteErr sqlite3.Error
			if errors.As(execErr, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
				alreadyRecorded = true
				return nil
			}
			return awmerr.New(op, awmerr.DatabaseError, nil)
		}

		id, idErr := res.LastInsertId()
		if idErr == nil {
			rec.ID = id
		}
		return nil
	})
	if txErr != nil {
		return false, txErr
	}
	return alreadyRecorded, nil
}

// FindByIdentitySlotKey returns up to limit rows for (identity, key_slot,
// key_id), ordered by created_at DESC — the lookup the clone checker uses
// (spec §4.10 step 2).
func (db *DB) FindByIdentitySlotKey(identity string, keySlot int, keyID string, limit int) ([]Record, error) {
	q, args, err := psql.Select(evidenceColumns).
		From("audio_evidence").
		Where(sq.Eq{"identity": identity, "key_slot": keySlot, "key_id": keyID}).
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, awmerr.New(op, awmerr.DatabaseError, nil)
	}

	var rows []Record
	if err := db.Select(&rows, q, args...); err != nil {
		return nil, awmerr.New(op, awmerr.DatabaseError, nil)
	}
	return rows, nil
}

// CountForSlot implements keystore.EvidenceCounts.
func (db *DB) CountForSlot(slot int) (int64, error) {
	q, args, err := psql.Select("COUNT(*)").From("audio_evidence").Where(sq.Eq{"key_slot": slot}).ToSql()
	if err != nil {
		return 0, awmerr.New(op, awmerr.DatabaseError, nil)
	}

	var count int64
	if err := db.Get(&count, q, args...); err != nil {
		return 0, awmerr.New(op, awmerr.DatabaseError, nil)
	}
	return count, nil
}

// LastUsedForSlot implements keystore.EvidenceCounts.
func (db *DB) LastUsedForSlot(slot int) (time.Time, bool, error) {
	q, args, err := psql.Select("created_at").From("audio_evidence").Where(sq.Eq{"key_slot": slot}).
		OrderBy("created_at DESC").Limit(1).ToSql()
	if err != nil {
		return time.Time{}, false, awmerr.New(op, awmerr.DatabaseError, nil)
	}

	var t time.Time
	if err := db.Get(&t, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, awmerr.New(op, awmerr.DatabaseError, nil)
	}
	return t, true, nil
}

// SetAppSetting upserts a single app_settings row.
func (db *DB) SetAppSetting(key, value string) error {
	return db.withWriteTx(func(tx *sqlx.Tx) error {
		_, err := tx.Exec(`INSERT INTO app_settings (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
		if err != nil {
			return awmerr.New(op, awmerr.DatabaseError, nil)
		}
		return nil
	})
}

// AppSetting reads a single app_settings value, ok=false if unset.
func (db *DB) AppSetting(key string) (value string, ok bool, err error) {
	var v sql.NullString
	getErr := db.Get(&v, `SELECT value FROM app_settings WHERE key = ?`, key)
	if getErr != nil {
		if errors.Is(getErr, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, awmerr.New(op, awmerr.DatabaseError, nil)
	}
	return v.String, v.Valid, nil
}

// PutTagMapping upserts the (username -> identity, tag) mapping.
// username is matched case-insensitively against the existing table.
func (db *DB) PutTagMapping(username, identity, tag string) error {
	return db.withWriteTx(func(tx *sqlx.Tx) error {
		_, err := tx.Exec(`INSERT INTO tag_mappings (username, identity, tag) VALUES (?, ?, ?)
			ON CONFLICT(username) DO UPDATE SET identity = excluded.identity, tag = excluded.tag`,
			username, identity, tag)
		if err != nil {
			return awmerr.New(op, awmerr.DatabaseError, nil)
		}
		return nil
	})
}

// EnsureSlotRows inserts any missing key_slots_meta rows for slots 0..count-1,
// so every slot the key-slot store knows about has a persisted metadata row
// to carry its label across restarts.
func (db *DB) EnsureSlotRows(count int) error {
	return db.withWriteTx(func(tx *sqlx.Tx) error {
		for slot := 0; slot < count; slot++ {
			if _, err := tx.Exec(`INSERT OR IGNORE INTO key_slots_meta (slot) VALUES (?)`, slot); err != nil {
				return awmerr.New(op, awmerr.DatabaseError, nil)
			}
		}
		return nil
	})
}

// SetSlotLabel persists slot's display label into key_slots_meta.
func (db *DB) SetSlotLabel(slot int, label string) error {
	return db.withWriteTx(func(tx *sqlx.Tx) error {
		_, err := tx.Exec(`UPDATE key_slots_meta SET label = ?, updated_at = CURRENT_TIMESTAMP WHERE slot = ?`,
			label, slot)
		if err != nil {
			return awmerr.New(op, awmerr.DatabaseError, nil)
		}
		return nil
	})
}

// SlotLabel reads slot's persisted display label, ok=false if the slot has
// no key_slots_meta row yet.
func (db *DB) SlotLabel(slot int) (label string, ok bool, err error) {
	var l sql.NullString
	getErr := db.Get(&l, `SELECT label FROM key_slots_meta WHERE slot = ?`, slot)
	if getErr != nil {
		if errors.Is(getErr, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, awmerr.New(op, awmerr.DatabaseError, nil)
	}
	return l.String, true, nil
}

// PruneBefore deletes audio_evidence rows older than cutoff, returning the
// number of rows removed. It only ever runs on explicit operator
// configuration (see internal/maintenance), never silently.
func (db *DB) PruneBefore(cutoff time.Time) (int64, error) {
	var n int64
	err := db.withWriteTx(func(tx *sqlx.Tx) error {
		res, err := tx.Exec(`DELETE FROM audio_evidence WHERE created_at < ?`, cutoff)
		if err != nil {
			return awmerr.New(op, awmerr.DatabaseError, nil)
		}
		n, err = res.RowsAffected()
		if err != nil {
			return awmerr.New(op, awmerr.DatabaseError, nil)
		}
		return nil
	})
	return n, err
}

// Checkpoint forces a WAL checkpoint, folding the write-ahead log back
// into the main database file.
func (db *DB) Checkpoint() error {
	if _, err := db.Exec(`PRAGMA wal_checkpoint(TRUNCATE);`); err != nil {
		return awmerr.New(op, awmerr.DatabaseError, nil)
	}
	return nil
}
