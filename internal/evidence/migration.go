// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package evidence

import (
	"embed"
	"errors"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/awmkit/awmkit/internal/awmerr"
	"github.com/awmkit/awmkit/pkg/log"
)

//go:embed migrations/*
var migrationFiles embed.FS

// migrate applies every pending up migration, idempotently: a fresh
// database is brought straight to the latest schema, an existing one is
// advanced from the version recorded in golang-migrate's schema_migrations
// table. PRAGMA user_version is neither read nor written.
func (db *DB) migrate() error {
	driver, err := sqlite3.WithInstance(db.DB.DB, &sqlite3.Config{})
	if err != nil {
		return awmerr.New(op, awmerr.DatabaseError, nil)
	}

	src, err := iofs.New(migrationFiles, "migrations/sqlite3")
	if err != nil {
		return awmerr.New(op, awmerr.DatabaseError, nil)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return awmerr.New(op, awmerr.DatabaseError, nil)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Errorf("evidence: migration failed: %v", err)
		return awmerr.New(op, awmerr.DatabaseError, nil)
	}

	return nil
}
