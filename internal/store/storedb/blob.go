package storedb

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"crawshaw.io/sqlite"
)

// BlobStore is the content-addressed-by-sequence-number file area at
// <storedir>/cid/<n>: large property values (PT_BINARY, PT_OBJECT,
// compressed bodies) live there instead of inline in message_properties,
// keeping the sqlite pages small. cid_refs tracks how many property rows
// point at each file so the last reference's removal can unlink it.
type BlobStore struct {
	dir string
}

func NewBlobStore(storeDir string) *BlobStore {
	return &BlobStore{dir: filepath.Join(storeDir, "cid")}
}

func (b *BlobStore) path(cid int64) string {
	return filepath.Join(b.dir, fmt.Sprint(cid))
}

// Put allocates a fresh cid, writes r's bytes to cid/<n>, and records one
// reference. The write happens outside the sqlite transaction but the cid
// is not visible to any property row until the caller's transaction
// commits; on rollback the caller must call Discard.
func (b *BlobStore) Put(conn *sqlite.Conn, r io.Reader) (cid int64, length int64, err error) {
	if err := os.MkdirAll(b.dir, 0o700); err != nil {
		return 0, 0, err
	}
	next, err := nextCounter(conn, "cid", 1)
	if err != nil {
		return 0, 0, err
	}
	cid = int64(next)

	f, err := os.OpenFile(b.path(cid), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	n, err := io.Copy(f, r)
	if err != nil {
		os.Remove(b.path(cid))
		return 0, 0, err
	}

	stmt := conn.Prep(`INSERT INTO cid_refs (cid, refcount, byte_length) VALUES ($cid, 1, $len)
		ON CONFLICT(cid) DO UPDATE SET refcount = refcount + 1;`)
	stmt.SetInt64("$cid", cid)
	stmt.SetInt64("$len", n)
	if _, err := stmt.Step(); err != nil {
		return 0, 0, err
	}
	if err := stmt.Reset(); err != nil {
		return 0, 0, err
	}
	return cid, n, nil
}

// AddRef increments cid's refcount, used when a property value (already
// stored) is copied onto another message/attachment/folder without
// rewriting the bytes (movecopy with shared large properties).
func (b *BlobStore) AddRef(conn *sqlite.Conn, cid int64) error {
	stmt := conn.Prep(`UPDATE cid_refs SET refcount = refcount + 1 WHERE cid = $cid;`)
	stmt.SetInt64("$cid", cid)
	_, err := stmt.Step()
	if err != nil {
		return err
	}
	return stmt.Reset()
}

// Release decrements cid's refcount and, if it reaches zero, deletes the
// row and unlinks the file. The unlink happens after the caller's
// transaction commits, since the file isn't transactional. Call sites
// should defer the actual unlink: Release returns whether the file is now
// orphaned so the caller can unlink after a successful COMMIT.
func (b *BlobStore) Release(conn *sqlite.Conn, cid int64) (orphaned bool, err error) {
	stmt := conn.Prep(`UPDATE cid_refs SET refcount = refcount - 1 WHERE cid = $cid RETURNING refcount;`)
	stmt.SetInt64("$cid", cid)
	hasRow, err := stmt.Step()
	if err != nil {
		return false, err
	}
	if !hasRow {
		stmt.Reset()
		return false, nil
	}
	remaining := stmt.GetInt64("refcount")
	if err := stmt.Reset(); err != nil {
		return false, err
	}
	if remaining > 0 {
		return false, nil
	}
	del := conn.Prep(`DELETE FROM cid_refs WHERE cid = $cid;`)
	del.SetInt64("$cid", cid)
	if _, err := del.Step(); err != nil {
		return false, err
	}
	return true, del.Reset()
}

// Unlink removes cid's backing file. Call only after the transaction that
// made Release return orphaned=true has committed.
func (b *BlobStore) Unlink(cid int64) error {
	err := os.Remove(b.path(cid))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Open opens cid's file for reading.
func (b *BlobStore) Open(cid int64) (*os.File, error) {
	return os.Open(b.path(cid))
}

// Discard unlinks a just-written blob whose owning transaction rolled
// back, matching the store's "delete any previously-unreferenced cid/
// file written during a failed operation" rule.
func (b *BlobStore) Discard(cid int64) error {
	return b.Unlink(cid)
}
