package store

import (
	"crawshaw.io/sqlite"

	"gromox.run/internal/ident"
)

// GetFolderProperties reads the requested tags (or all, if tags is nil)
// from folder.
func (s *Store) GetFolderProperties(folder ident.EID, tags []ident.PropTag) ([]Property, error) {
	var out []Property
	err := s.DB.ReadTx(func(conn *sqlite.Conn) error {
		if len(tags) == 0 {
			stmt := conn.Prep(`SELECT proptag, value FROM folder_properties WHERE folder_id = $fid;`)
			stmt.SetInt64("$fid", int64(folder))
			for {
				hasRow, err := stmt.Step()
				if err != nil {
					return err
				}
				if !hasRow {
					break
				}
				v := make([]byte, stmt.GetLen("value"))
				stmt.GetBytes("value", v)
				out = append(out, Property{Tag: ident.PropTag(stmt.GetInt64("proptag")), Value: v})
			}
			return stmt.Reset()
		}
		for _, tag := range tags {
			v, ok, err := getFolderPropertyTx(conn, folder, tag)
			if err != nil {
				return err
			}
			if ok {
				out = append(out, Property{Tag: tag, Value: v})
			}
		}
		return nil
	})
	return out, err
}

// SetFolderProperties writes props onto folder, each inside the same write
// transaction, and bumps folder's change number once.
func (s *Store) SetFolderProperties(folder ident.EID, props []Property) error {
	err := s.DB.WriteTx(func(conn *sqlite.Conn) error {
		for _, p := range props {
			if err := setFolderPropertyTx(conn, folder, p.Tag, p.Value); err != nil {
				return err
			}
		}
		cn, err := storedbAllocateCN(conn)
		if err != nil {
			return err
		}
		upd := conn.Prep(`UPDATE folders SET change_number = $cn WHERE folder_id = $id;`)
		upd.SetInt64("$cn", int64(cn))
		upd.SetInt64("$id", int64(folder))
		if _, err := upd.Step(); err != nil {
			return err
		}
		if err := upd.Reset(); err != nil {
			return err
		}
		return appendChangeTx(conn, objKindFolder, folder, s.ReplicaGUID, ident.GC(cn))
	})
	if err != nil {
		return err
	}
	s.notify.folderModified(folder)
	return nil
}

// RemoveFolderProperties deletes the given tags from folder.
func (s *Store) RemoveFolderProperties(folder ident.EID, tags []ident.PropTag) error {
	return s.DB.WriteTx(func(conn *sqlite.Conn) error {
		for _, tag := range tags {
			del := conn.Prep(`DELETE FROM folder_properties WHERE folder_id = $fid AND proptag = $tag;`)
			del.SetInt64("$fid", int64(folder))
			del.SetInt64("$tag", int64(tag))
			if _, err := del.Step(); err != nil {
				return err
			}
			if err := del.Reset(); err != nil {
				return err
			}
		}
		return nil
	})
}
