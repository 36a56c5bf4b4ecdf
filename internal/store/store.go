// Package store is the mailbox store: per-user SQLite-backed folders,
// messages, attachments, recipients, permissions, search folders, and the
// notification fan-out that the exmdb protocol and ROP layers sit on top
// of. One Store value owns exactly one mailbox directory.
package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"crawshaw.io/iox"
	"crawshaw.io/sqlite"
	"github.com/google/uuid"

	"gromox.run/internal/ident"
	"gromox.run/internal/store/namedprop"
	"gromox.run/internal/store/storedb"
)

// Well-known folder ids, stable across every store (private or public),
// matching the fixed forest roots every mailbox is rooted at.
const (
	FolderRoot          ident.EID = 1
	FolderIPMSubtree    ident.EID = 2
	FolderInbox         ident.EID = 3
	FolderOutbox        ident.EID = 4
	FolderDeletedItems  ident.EID = 5
	FolderSentItems     ident.EID = 6
	FolderCommonViews   ident.EID = 7
	FolderFinder        ident.EID = 8
	FolderPublicFIDRoot ident.EID = 9
	firstDynamicFID     ident.EID = 0x100
)

// Store is one open mailbox.
type Store struct {
	Dir         string
	IsPublic    bool
	ReplicaGUID uuid.UUID

	DB        *storedb.DB
	Blobs     *storedb.BlobStore
	NamedProp *namedprop.Map
	Filer     *iox.Filer // spills large message parts to disk; shared across deliveries

	mu sync.Mutex // serializes search-populator bookkeeping

	notify    *notifyHub
	populate  *searchPopulator
	instances *instanceTable
	tables    *tableRegistry
}

// Options configures Open.
type Options struct {
	IsPublic       bool
	ReadPoolSize   int
	NamedPropCache int
}

// Open opens (creating on first use) the mailbox rooted at dir.
func Open(dir string, opt Options) (*Store, error) {
	if opt.ReadPoolSize <= 0 {
		opt.ReadPoolSize = 8
	}
	if opt.NamedPropCache <= 0 {
		opt.NamedPropCache = 512
	}

	dbPath := filepath.Join(dir, "exmdb", "exchange.sqlite3")
	db, err := storedb.Open(dbPath, opt.ReadPoolSize)
	if err != nil {
		return nil, fmt.Errorf("store.Open: %v", err)
	}
	np, err := namedprop.New(opt.NamedPropCache)
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		Dir:       dir,
		IsPublic:  opt.IsPublic,
		DB:        db,
		Blobs:     storedb.NewBlobStore(dir),
		NamedProp: np,
		Filer:     iox.NewFiler(0),
		notify:    newNotifyHub(),
		instances: newInstanceTable(),
		tables:    newTableRegistry(),
	}
	s.populate = newSearchPopulator(s)

	if err := s.ensureReplicaGUID(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.ensureWellKnownFolders(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close stops the search populator, flushes nothing (writes are already
// durable per-transaction), and closes the database pools.
func (s *Store) Close() error {
	s.populate.stopAll()
	s.Filer.Shutdown(context.Background())
	return s.DB.Close()
}

const storeConfigReplicaGUID = 1

func (s *Store) ensureReplicaGUID() error {
	var guid uuid.UUID
	err := s.DB.WriteTx(func(conn *sqlite.Conn) error {
		stmt := conn.Prep(`SELECT value FROM configurations WHERE config_id = $id;`)
		stmt.SetInt64("$id", storeConfigReplicaGUID)
		hasRow, err := stmt.Step()
		if err != nil {
			return err
		}
		if hasRow {
			parsed, err := uuid.Parse(stmt.GetText("value"))
			stmt.Reset()
			if err != nil {
				return err
			}
			guid = parsed
			return nil
		}
		stmt.Reset()

		guid = uuid.New()
		ins := conn.Prep(`INSERT INTO configurations (config_id, value) VALUES ($id, $v);`)
		ins.SetInt64("$id", storeConfigReplicaGUID)
		ins.SetText("$v", guid.String())
		if _, err := ins.Step(); err != nil {
			return err
		}
		return ins.Reset()
	})
	if err != nil {
		return err
	}
	s.ReplicaGUID = guid
	return nil
}

// ResetChangeGUID mints a fresh replica GUID and persists it, for the
// cgkreset verb. It's used after a store is cloned from a backup so
// change keys it mints afterward don't collide with the original's.
func (s *Store) ResetChangeGUID() (uuid.UUID, error) {
	guid := uuid.New()
	err := s.DB.WriteTx(func(conn *sqlite.Conn) error {
		stmt := conn.Prep(`INSERT INTO configurations (config_id, value) VALUES ($id, $v)
			ON CONFLICT(config_id) DO UPDATE SET value = excluded.value;`)
		stmt.SetInt64("$id", storeConfigReplicaGUID)
		stmt.SetText("$v", guid.String())
		if _, err := stmt.Step(); err != nil {
			return err
		}
		return stmt.Reset()
	})
	if err != nil {
		return uuid.UUID{}, err
	}
	s.ReplicaGUID = guid
	return guid, nil
}

// wellKnownFolder names the folders ensureWellKnownFolders creates once.
var wellKnownFolders = []struct {
	id     ident.EID
	parent ident.EID
	name   string
}{
	{FolderRoot, 0, "Root"},
	{FolderIPMSubtree, FolderRoot, "Top of Information Store"},
	{FolderInbox, FolderIPMSubtree, "Inbox"},
	{FolderOutbox, FolderIPMSubtree, "Outbox"},
	{FolderDeletedItems, FolderIPMSubtree, "Deleted Items"},
	{FolderSentItems, FolderIPMSubtree, "Sent Items"},
	{FolderCommonViews, FolderRoot, "Common Views"},
	{FolderFinder, FolderIPMSubtree, "Finder"},
}

func (s *Store) ensureWellKnownFolders() error {
	return s.DB.WriteTx(func(conn *sqlite.Conn) error {
		for _, wf := range wellKnownFolders {
			stmt := conn.Prep(`INSERT OR IGNORE INTO folders (folder_id, parent_id, change_number) VALUES ($id, $parent, 0);`)
			stmt.SetInt64("$id", int64(wf.id))
			if wf.parent == 0 {
				stmt.SetNull("$parent")
			} else {
				stmt.SetInt64("$parent", int64(wf.parent))
			}
			if _, err := stmt.Step(); err != nil {
				return err
			}
			if err := stmt.Reset(); err != nil {
				return err
			}
			if err := setFolderPropertyTx(conn, wf.id, ident.PrDisplayName, []byte(wf.name)); err != nil {
				return err
			}
		}
		return nil
	})
}
