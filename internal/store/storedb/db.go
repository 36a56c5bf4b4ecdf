// Package storedb is the low-level SQLite plumbing shared by every
// mailbox store: schema creation, pooled read/write connections, the
// IMMEDIATE-transaction-with-busy-retry discipline, and the per-store
// id allocators.
package storedb

import (
	"errors"
	"fmt"
	"time"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
)

// DB wraps the two connection pools a store needs: one read/write
// connection serialized by the pool itself (mailbox writes are single
// writer), and a larger read-only pool for concurrent queries under WAL.
type DB struct {
	path string
	RW   *sqlitex.Pool
	RO   *sqlitex.Pool
}

// Open creates (if absent) and opens the store database at path.
func Open(path string, roPoolSize int) (*DB, error) {
	conn, err := sqlite.OpenConn(path, 0)
	if err != nil {
		return nil, fmt.Errorf("storedb.Open: init open: %v", err)
	}
	if err := initConn(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("storedb.Open: init: %v", err)
	}
	if err := conn.Close(); err != nil {
		return nil, fmt.Errorf("storedb.Open: init close: %v", err)
	}

	rw, err := sqlitex.Open(path, 0, 1)
	if err != nil {
		return nil, fmt.Errorf("storedb.Open: rw pool: %v", err)
	}
	ro, err := sqlitex.Open(path, sqlite.SQLITE_OPEN_READONLY, roPoolSize)
	if err != nil {
		rw.Close()
		return nil, fmt.Errorf("storedb.Open: ro pool: %v", err)
	}
	return &DB{path: path, RW: rw, RO: ro}, nil
}

func initConn(conn *sqlite.Conn) error {
	if err := sqlitex.ExecTransient(conn, "PRAGMA journal_mode=WAL;", nil); err != nil {
		return err
	}
	if err := sqlitex.ExecTransient(conn, "PRAGMA synchronous=NORMAL;", nil); err != nil {
		return err
	}
	if err := sqlitex.ExecTransient(conn, "PRAGMA foreign_keys=ON;", nil); err != nil {
		return err
	}
	return sqlitex.ExecScript(conn, createSQL)
}

func (db *DB) Close() error {
	err1 := db.RW.Close()
	err2 := db.RO.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// busyRetryLimit bounds how long a write transaction waits out a
// concurrent writer before surfacing SQLITE_BUSY to the caller, per the
// store's 10x1s commit retry policy.
const busyRetryLimit = 10

// WriteTx runs fn inside a BEGIN IMMEDIATE transaction on the store's
// single writer connection, retrying the whole transaction up to
// busyRetryLimit times, sleeping a second between attempts, if SQLite
// reports the database is busy.
func (db *DB) WriteTx(fn func(conn *sqlite.Conn) error) error {
	conn := db.RW.Get(nil)
	defer db.RW.Put(conn)

	var lastErr error
	for attempt := 0; attempt < busyRetryLimit; attempt++ {
		err := sqlitex.Exec(conn, "BEGIN IMMEDIATE;", nil)
		if isBusy(err) {
			lastErr = err
			time.Sleep(time.Second)
			continue
		}
		if err != nil {
			return err
		}

		if err := fn(conn); err != nil {
			sqlitex.Exec(conn, "ROLLBACK;", nil)
			return err
		}

		err = sqlitex.Exec(conn, "COMMIT;", nil)
		if isBusy(err) {
			sqlitex.Exec(conn, "ROLLBACK;", nil)
			lastErr = err
			time.Sleep(time.Second)
			continue
		}
		return err
	}
	return fmt.Errorf("storedb: commit still busy after %d attempts: %v", busyRetryLimit, lastErr)
}

// ReadTx runs fn inside a deferred (read) transaction on a connection
// drawn from the read-only pool.
func (db *DB) ReadTx(fn func(conn *sqlite.Conn) error) error {
	conn := db.RO.Get(nil)
	defer db.RO.Put(conn)

	if err := sqlitex.Exec(conn, "BEGIN;", nil); err != nil {
		return err
	}
	if err := fn(conn); err != nil {
		sqlitex.Exec(conn, "ROLLBACK;", nil)
		return err
	}
	return sqlitex.Exec(conn, "COMMIT;", nil)
}

func isBusy(err error) bool {
	var se sqlite.Error
	if errors.As(err, &se) {
		return se.Code == sqlite.SQLITE_BUSY
	}
	return false
}
