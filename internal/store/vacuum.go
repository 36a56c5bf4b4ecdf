package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"

	"gromox.run/internal/ident"
)

// VacuumReport summarizes what Vacuum found and repaired.
type VacuumReport struct {
	IntegrityOK    bool
	IntegrityErrs  []string
	OrphanedBlobs  int // cid files with no surviving cid_refs row, unlinked
	DanglingRefs   int // cid_refs rows whose file is missing, row dropped
}

// Vacuum runs PRAGMA integrity_check, then cross-checks the cid/ blob
// directory against cid_refs: files with no reference row are orphans
// from a crashed write and are unlinked; cid_refs rows whose file is
// missing are dropped so future refcounting doesn't operate on a ghost.
// Finally it runs SQLite's own VACUUM to reclaim freed pages.
func (s *Store) Vacuum() (VacuumReport, error) {
	var report VacuumReport
	err := s.DB.WriteTx(func(conn *sqlite.Conn) error {
		stmt := conn.Prep(`PRAGMA integrity_check;`)
		for {
			hasRow, err := stmt.Step()
			if err != nil {
				return err
			}
			if !hasRow {
				break
			}
			msg := stmt.GetText("integrity_check")
			if msg != "ok" {
				report.IntegrityErrs = append(report.IntegrityErrs, msg)
			}
		}
		if err := stmt.Reset(); err != nil {
			return err
		}
		report.IntegrityOK = len(report.IntegrityErrs) == 0

		refCids, err := allCidRefsTx(conn)
		if err != nil {
			return err
		}
		onDisk, err := s.listBlobFiles()
		if err != nil {
			return err
		}
		for cid := range refCids {
			if !onDisk[cid] {
				if err := dropCidRefTx(conn, cid); err != nil {
					return err
				}
				report.DanglingRefs++
			}
		}
		for cid := range onDisk {
			if !refCids[cid] {
				if err := s.Blobs.Unlink(cid); err != nil {
					return err
				}
				report.OrphanedBlobs++
			}
		}
		return nil
	})
	if err != nil {
		return report, err
	}
	// VACUUM cannot run inside a transaction, so it goes straight to the
	// writer connection rather than through WriteTx.
	conn := s.DB.RW.Get(nil)
	defer s.DB.RW.Put(conn)
	if err := sqlitex.ExecTransient(conn, "VACUUM;", nil); err != nil {
		return report, err
	}
	return report, nil
}

func allCidRefsTx(conn *sqlite.Conn) (map[int64]bool, error) {
	out := make(map[int64]bool)
	stmt := conn.Prep(`SELECT cid FROM cid_refs;`)
	for {
		hasRow, err := stmt.Step()
		if err != nil {
			return nil, err
		}
		if !hasRow {
			break
		}
		out[stmt.GetInt64("cid")] = true
	}
	return out, stmt.Reset()
}

func dropCidRefTx(conn *sqlite.Conn, cid int64) error {
	del := conn.Prep(`DELETE FROM cid_refs WHERE cid = $cid;`)
	del.SetInt64("$cid", cid)
	if _, err := del.Step(); err != nil {
		return err
	}
	return del.Reset()
}

func (s *Store) listBlobFiles() (map[int64]bool, error) {
	dir := filepath.Join(s.Dir, "cid")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return map[int64]bool{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: Vacuum: reading %s: %v", dir, err)
	}
	out := make(map[int64]bool, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n, err := strconv.ParseInt(e.Name(), 10, 64)
		if err != nil {
			continue // not a cid file, leave it alone
		}
		out[n] = true
	}
	return out, nil
}

// PurgeSoftDeleted permanently removes every message and folder marked
// is_deleted, the purge_softdelete verb, through DeleteFolder's and
// DeleteMessages' hard paths. Those remove the folder and message rows
// only; the matching property, recipient and attachment rows are not
// deleted.
func (s *Store) PurgeSoftDeleted() error {
	var folders []ident.EID
	if err := s.DB.ReadTx(func(conn *sqlite.Conn) error {
		stmt := conn.Prep(`SELECT folder_id FROM folders WHERE is_deleted = 1;`)
		for {
			hasRow, err := stmt.Step()
			if err != nil {
				return err
			}
			if !hasRow {
				break
			}
			folders = append(folders, ident.EID(stmt.GetInt64("folder_id")))
		}
		return stmt.Reset()
	}); err != nil {
		return err
	}
	for _, f := range folders {
		if err := s.DeleteFolder(f, true, true); err != nil {
			return err
		}
	}

	deletedMessages := map[ident.EID][]ident.EID{}
	if err := s.DB.ReadTx(func(conn *sqlite.Conn) error {
		stmt := conn.Prep(`SELECT message_id, parent_fid FROM messages WHERE is_deleted = 1;`)
		for {
			hasRow, err := stmt.Step()
			if err != nil {
				return err
			}
			if !hasRow {
				break
			}
			fid := ident.EID(stmt.GetInt64("parent_fid"))
			deletedMessages[fid] = append(deletedMessages[fid], ident.EID(stmt.GetInt64("message_id")))
		}
		return stmt.Reset()
	}); err != nil {
		return err
	}
	for folder, ids := range deletedMessages {
		if _, err := s.DeleteMessages(folder, ids, true); err != nil {
			return err
		}
	}
	return nil
}

// PurgeDatafiles is PurgeSoftDeleted followed by Vacuum's blob/integrity
// sweep, the purge_datafiles verb's full effect.
func (s *Store) PurgeDatafiles() (VacuumReport, error) {
	if err := s.PurgeSoftDeleted(); err != nil {
		return VacuumReport{}, err
	}
	return s.Vacuum()
}
