// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package evidence is the SQLite-backed evidence store (spec §4.8): the
// tag_mappings, audio_evidence, app_settings, and key_slots_meta tables.
// The recorder (§4.9) and clone checker (§4.10) that sit on top of it live
// in internal/recorder and internal/clone.
package evidence

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/qustavo/sqlhooks/v2"

	"github.com/awmkit/awmkit/internal/awmerr"
	"github.com/awmkit/awmkit/pkg/log"
)

const op = "evidence"

// DB wraps the evidence database connection. Unlike the teacher's
// package-level singleton, DB is a value the caller constructs and passes
// explicitly (spec §9: no process-wide singletons in the core).
type DB struct {
	*sqlx.DB

	// writeMu serializes writers: SQLite allows only one writer at a
	// time, and the spec requires every insert/update to run inside an
	// explicit transaction guarded by this in-process mutex, with
	// SQLite's own locking as the backstop (spec §4.8, §5).
	writeMu sync.Mutex
}

var registerOnce sync.Once

// Open opens (and, if necessary, creates and migrates) the evidence
// database at path. WAL journaling and NORMAL synchronous mode are applied
// as recommended defaults (spec §6).
func Open(path string) (*DB, error) {
	registerOnce.Do(func() {
		sql.Register("sqlite3_awmkit", sqlhooks.Wrap(&sqlite3.SQLiteDriver{}, &queryHooks{}))
	})

	dsn := fmt.Sprintf("%s?_foreign_keys=on", path)
	handle, err := sqlx.Open("sqlite3_awmkit", dsn)
	if err != nil {
		return nil, awmerr.New(op, awmerr.DatabaseError, nil)
	}

	// SQLite does not multithread writes; one connection avoids piling up
	// on locks instead of serializing through them.
	handle.SetMaxOpenConns(1)

	if _, err := handle.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		return nil, awmerr.New(op, awmerr.DatabaseError, nil)
	}
	if _, err := handle.Exec(`PRAGMA synchronous = NORMAL;`); err != nil {
		return nil, awmerr.New(op, awmerr.DatabaseError, nil)
	}

	db := &DB{DB: handle}
	if err := db.migrate(); err != nil {
		return nil, err
	}
	return db, nil
}

// Close releases the underlying connection.
func (db *DB) Close() error {
	return db.DB.Close()
}

// withWriteTx runs fn inside a single write transaction, serialized against
// every other writer on this DB. fn's error rolls the transaction back;
// success commits it.
func (db *DB) withWriteTx(fn func(tx *sqlx.Tx) error) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	tx, err := db.Beginx()
	if err != nil {
		return awmerr.New(op, awmerr.DatabaseError, nil)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Errorf("evidence: rollback failed: %v", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return awmerr.New(op, awmerr.DatabaseError, nil)
	}
	return nil
}
