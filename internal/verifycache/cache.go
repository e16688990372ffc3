// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

// Package verifycache memoizes verification verdicts by the SHA-256
// content hash of the input bytecode, backed by a SQLite database, so
// that repeated verification of the same chunk (a CI job re-checking an
// unchanged artifact, a cache-warming fleet of lbcv instances) skips the
// decode/verify pipeline entirely.
package verifycache

import (
	"context"
	"crypto/sha256"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"zombiezen.com/go/log"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitemigration"
	"zombiezen.com/go/sqlite/sqlitex"
)

//go:embed sql/schema/*.sql
var rawSchemaFiles embed.FS

var schemaState struct {
	init   sync.Once
	schema sqlitemigration.Schema
	err    error
}

func loadSchema() sqlitemigration.Schema {
	schemaState.init.Do(func() {
		sub, err := fs.Sub(rawSchemaFiles, "sql/schema")
		if err != nil {
			schemaState.err = err
			return
		}
		for i := 1; ; i++ {
			migration, err := fs.ReadFile(sub, fmt.Sprintf("%02d.sql", i))
			if errors.Is(err, fs.ErrNotExist) {
				break
			}
			if err != nil {
				schemaState.err = err
				return
			}
			schemaState.schema.Migrations = append(schemaState.schema.Migrations, string(migration))
		}
	})
	if schemaState.err != nil {
		panic(schemaState.err)
	}
	return schemaState.schema
}

// Verdict is a recorded verification result.
type Verdict struct {
	Accepted bool
	Reason   string
}

// Cache is a handle to the verdict cache database. The zero value is not
// usable; construct one with [Open].
type Cache struct {
	pool *sqlitemigration.Pool
	lock *fileLock
}

// Open opens (creating if necessary, including parent directories) the
// verdict cache database at path.
//
// On Unix platforms, Open takes an advisory lock on a lock file beside
// path (path + ".lock") so
// that two lbcv processes never open the same cache concurrently: SQLite's
// own WAL locking handles concurrent readers and writers within a single
// process fine, but a cache left behind by a killed process can leave a
// stale WAL/SHM pair that a second process's migration step would trip
// over before SQLite ever gets a chance to reconcile it.
func Open(ctx context.Context, path string) (*Cache, error) {
	var lock *fileLock
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o777); err != nil {
			return nil, fmt.Errorf("open verdict cache: %w", err)
		}
		var err error
		lock, err = lockPath(path)
		if err != nil {
			return nil, fmt.Errorf("open verdict cache: %w", err)
		}
	}
	pool := sqlitemigration.NewPool(path, loadSchema(), sqlitemigration.Options{
		Flags:       sqlite.OpenCreate | sqlite.OpenReadWrite,
		PrepareConn: prepareConn,
		OnStartMigrate: func() {
			log.Debugf(ctx, "verifycache: migrating %s", path)
		},
		OnReady: func() {
			log.Debugf(ctx, "verifycache: %s ready", path)
		},
		OnError: func(err error) {
			log.Errorf(ctx, "verifycache: migration of %s: %v", path, err)
		},
	})
	return &Cache{pool: pool, lock: lock}, nil
}

func prepareConn(conn *sqlite.Conn) error {
	if err := sqlitex.ExecuteTransient(conn, "PRAGMA journal_mode = wal;", nil); err != nil {
		return err
	}
	return sqlitex.ExecuteTransient(conn, "PRAGMA foreign_keys = on;", nil)
}

// Close releases the cache's database connections and its file lock.
func (c *Cache) Close() error {
	err := c.pool.Close()
	if lockErr := c.lock.Close(); err == nil {
		err = lockErr
	}
	return err
}

// Lookup returns the recorded verdict for sum, if any.
func (c *Cache) Lookup(ctx context.Context, sum [32]byte) (Verdict, bool, error) {
	conn, err := c.pool.Get(ctx)
	if err != nil {
		return Verdict{}, false, err
	}
	defer c.pool.Put(conn)

	var verdict Verdict
	found := false
	err = sqlitex.Execute(conn, `SELECT accepted, reason FROM verdicts WHERE content_hash = ?;`, &sqlitex.ExecOptions{
		Args: []any{sum[:]},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			verdict.Accepted = stmt.ColumnBool(0)
			verdict.Reason = stmt.ColumnText(1)
			return nil
		},
	})
	if err != nil {
		return Verdict{}, false, err
	}
	return verdict, found, nil
}

// Store records verdict for sum, overwriting any prior entry.
func (c *Cache) Store(ctx context.Context, sum [32]byte, verdict Verdict) error {
	conn, err := c.pool.Get(ctx)
	if err != nil {
		return err
	}
	defer c.pool.Put(conn)

	return sqlitex.Execute(conn, `
		INSERT INTO verdicts (content_hash, accepted, reason, recorded_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (content_hash) DO UPDATE SET
			accepted = excluded.accepted,
			reason = excluded.reason,
			recorded_at = excluded.recorded_at;
	`, &sqlitex.ExecOptions{
		Args: []any{sum[:], verdict.Accepted, verdict.Reason, time.Now().Unix()},
	})
}

// ReadAndHash reads all of r, returning its bytes and their SHA-256 sum.
func ReadAndHash(r io.Reader) (data []byte, sum [32]byte, err error) {
	data, err = io.ReadAll(r)
	if err != nil {
		return nil, [32]byte{}, err
	}
	return data, sha256.Sum256(data), nil
}
