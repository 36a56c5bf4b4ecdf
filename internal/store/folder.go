package store

import (
	"fmt"

	"crawshaw.io/sqlite"

	"gromox.run/internal/ident"
)

// ErrFolderCycle is returned when a move/reparent would make a folder its
// own ancestor, violating invariant 2 (the folder graph is a forest).
var ErrFolderCycle = fmt.Errorf("store: folder move would create a cycle")

// ErrDuplicateName is returned by CreateFolder when a sibling folder
// already has the requested display name (ecDuplicateName).
var ErrDuplicateName = fmt.Errorf("store: duplicate folder name")

func setFolderPropertyTx(conn *sqlite.Conn, folder ident.EID, tag ident.PropTag, value []byte) error {
	stmt := conn.Prep(`INSERT INTO folder_properties (folder_id, proptag, value) VALUES ($fid, $tag, $val)
		ON CONFLICT(folder_id, proptag) DO UPDATE SET value = excluded.value;`)
	stmt.SetInt64("$fid", int64(folder))
	stmt.SetInt64("$tag", int64(tag))
	stmt.SetBytes("$val", value)
	if _, err := stmt.Step(); err != nil {
		return err
	}
	return stmt.Reset()
}

func getFolderPropertyTx(conn *sqlite.Conn, folder ident.EID, tag ident.PropTag) ([]byte, bool, error) {
	stmt := conn.Prep(`SELECT value FROM folder_properties WHERE folder_id = $fid AND proptag = $tag;`)
	stmt.SetInt64("$fid", int64(folder))
	stmt.SetInt64("$tag", int64(tag))
	hasRow, err := stmt.Step()
	if err != nil {
		return nil, false, err
	}
	if !hasRow {
		stmt.Reset()
		return nil, false, nil
	}
	v := make([]byte, stmt.GetLen("value"))
	stmt.GetBytes("value", v)
	return v, true, stmt.Reset()
}

// CreateFolder creates a subfolder of parent with the given display name,
// rejecting a duplicate sibling name and refusing to create under a
// nonexistent or deleted parent.
func (s *Store) CreateFolder(parent ident.EID, name string) (ident.EID, error) {
	var newID ident.EID
	err := s.DB.WriteTx(func(conn *sqlite.Conn) error {
		if !folderExistsTx(conn, parent) {
			return fmt.Errorf("store: CreateFolder: parent %s does not exist", parent)
		}
		if dup, err := siblingNameExistsTx(conn, parent, name); err != nil {
			return err
		} else if dup {
			return ErrDuplicateName
		}

		id, err := storedbAllocateID(conn)
		if err != nil {
			return err
		}
		cn, err := storedbAllocateCN(conn)
		if err != nil {
			return err
		}

		ins := conn.Prep(`INSERT INTO folders (folder_id, parent_id, change_number) VALUES ($id, $parent, $cn);`)
		ins.SetInt64("$id", int64(id))
		ins.SetInt64("$parent", int64(parent))
		ins.SetInt64("$cn", int64(cn))
		if _, err := ins.Step(); err != nil {
			return err
		}
		if err := ins.Reset(); err != nil {
			return err
		}
		if err := setFolderPropertyTx(conn, id, ident.PrDisplayName, []byte(name)); err != nil {
			return err
		}
		newID = id
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.notify.folderCreated(parent, newID)
	return newID, nil
}

// DeleteFolder soft-deletes folder (marks is_deleted) unless hard is true,
// in which case rows are actually removed. Refuses to delete a non-empty
// folder unless deleteContents is set, matching the "delete contents"
// all-or-nothing atomicity invariant 9 requires.
func (s *Store) DeleteFolder(folder ident.EID, hard, deleteContents bool) error {
	err := s.DB.WriteTx(func(conn *sqlite.Conn) error {
		if !deleteContents {
			empty, err := folderIsEmptyTx(conn, folder)
			if err != nil {
				return err
			}
			if !empty {
				return fmt.Errorf("store: DeleteFolder: folder %s not empty", folder)
			}
		}
		if deleteContents {
			if err := deleteAllMessagesInFolderTx(conn, folder, hard); err != nil {
				return err
			}
		}
		if hard {
			del := conn.Prep(`DELETE FROM folders WHERE folder_id = $id;`)
			del.SetInt64("$id", int64(folder))
			if _, err := del.Step(); err != nil {
				return err
			}
			return del.Reset()
		}
		upd := conn.Prep(`UPDATE folders SET is_deleted = 1 WHERE folder_id = $id;`)
		upd.SetInt64("$id", int64(folder))
		if _, err := upd.Step(); err != nil {
			return err
		}
		return upd.Reset()
	})
	if err != nil {
		return err
	}
	s.notify.folderDeleted(folder)
	return nil
}

// CheckFolderCycle reports whether candidate appears in folder's ancestor
// chain (i.e. whether re-parenting folder under candidate would create a
// cycle).
func (s *Store) CheckFolderCycle(folder, candidate ident.EID) (bool, error) {
	var cyclic bool
	err := s.DB.ReadTx(func(conn *sqlite.Conn) error {
		cur := candidate
		for i := 0; i < 10_000; i++ { // bound the walk against corrupt data
			if cur == folder {
				cyclic = true
				return nil
			}
			stmt := conn.Prep(`SELECT parent_id FROM folders WHERE folder_id = $id;`)
			stmt.SetInt64("$id", int64(cur))
			hasRow, err := stmt.Step()
			if err != nil {
				return err
			}
			if !hasRow || stmt.ColumnIsNull(0) {
				stmt.Reset()
				return nil
			}
			cur = ident.EID(stmt.GetInt64("parent_id"))
			if err := stmt.Reset(); err != nil {
				return err
			}
		}
		return fmt.Errorf("store: CheckFolderCycle: ancestor walk exceeded bound")
	})
	return cyclic, err
}

func folderExistsTx(conn *sqlite.Conn, folder ident.EID) bool {
	stmt := conn.Prep(`SELECT 1 FROM folders WHERE folder_id = $id AND is_deleted = 0;`)
	stmt.SetInt64("$id", int64(folder))
	hasRow, err := stmt.Step()
	stmt.Reset()
	return err == nil && hasRow
}

func siblingNameExistsTx(conn *sqlite.Conn, parent ident.EID, name string) (bool, error) {
	stmt := conn.Prep(`SELECT 1 FROM folder_properties fp
		JOIN folders f ON f.folder_id = fp.folder_id
		WHERE f.parent_id = $parent AND f.is_deleted = 0
		  AND fp.proptag = $tag AND fp.value = $name;`)
	stmt.SetInt64("$parent", int64(parent))
	stmt.SetInt64("$tag", int64(ident.PrDisplayName))
	stmt.SetBytes("$name", []byte(name))
	hasRow, err := stmt.Step()
	if err != nil {
		return false, err
	}
	return hasRow, stmt.Reset()
}

func folderIsEmptyTx(conn *sqlite.Conn, folder ident.EID) (bool, error) {
	stmt := conn.Prep(`SELECT
		(SELECT COUNT(*) FROM messages WHERE parent_fid = $fid AND is_deleted = 0) +
		(SELECT COUNT(*) FROM folders WHERE parent_id = $fid AND is_deleted = 0) AS n;`)
	stmt.SetInt64("$fid", int64(folder))
	hasRow, err := stmt.Step()
	if err != nil {
		return false, err
	}
	n := stmt.GetInt64("n")
	return n == 0, stmt.Reset()
}
