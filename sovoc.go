// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
//  http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

// Package sovoc implements a small CouchDB-style, multi-version document
// store over a single SQLite file. Documents are never overwritten: every
// write appends a new revision to a per-document revision tree, recorded
// both as a row in documents and as a set of closure edges in ancestry,
// so that ancestry enumeration and conflict detection are plain indexed
// joins rather than a recursive walk.
//
// A *DB holds exactly one connection to the backing SQLite file and is not
// safe for concurrent use from multiple goroutines: operations on a single
// handle are expected to be serialized by the caller. An application that
// wants concurrency should open multiple handles against the same file and
// rely on SQLite's own file-level locking.
package sovoc

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/xpqz/sovoc/errors"
)

const maxConnectAttempts = 5

// DB is a handle to one sovoc database file.
type DB struct {
	db     *sql.DB
	logger *log.Logger
}

// Open opens (creating if necessary) the sovoc database at path, retrying
// the initial connection up to five times with a short pause between
// attempts before giving up with a StorageError.
func Open(path string, opts ...Option) (*DB, error) {
	p := applyOptions(opts)

	logger := p.logger
	if logger == nil {
		logger = log.Default()
	}

	sqlDB, err := connectWithRetry(path, p.busyTimeout, logger)
	if err != nil {
		return nil, err
	}

	d := &DB{db: sqlDB, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		_ = d.db.Close()
		return nil, errors.Wrap(err, errors.StorageError, "begin schema transaction")
	}
	defer tx.Rollback() //nolint:errcheck
	if err := createSchema(ctx, tx); err != nil {
		_ = d.db.Close()
		return nil, errors.Wrap(err, errors.StorageError, "create schema")
	}
	if err := tx.Commit(); err != nil {
		_ = d.db.Close()
		return nil, errors.Wrap(err, errors.StorageError, "commit schema transaction")
	}

	return d, nil
}

func connectWithRetry(path string, busyTimeout time.Duration, logger *log.Logger) (*sql.DB, error) {
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)", path, busyTimeout.Milliseconds())

	var (
		sqlDB *sql.DB
		err   error
	)
	for attempt := 1; attempt <= maxConnectAttempts; attempt++ {
		sqlDB, err = sql.Open("sqlite", dsn)
		if err == nil {
			sqlDB.SetMaxOpenConns(1)
			err = sqlDB.Ping()
		}
		if err == nil {
			return sqlDB, nil
		}
		logger.Printf("sovoc: connect attempt %d/%d failed: %v", attempt, maxConnectAttempts, err)
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
		time.Sleep(time.Millisecond)
	}
	return nil, errors.Wrapf(err, errors.StorageError, "connect to %q after %d attempts", path, maxConnectAttempts)
}

// Close releases the backing SQLite connection.
func (d *DB) Close() error {
	return d.db.Close()
}
