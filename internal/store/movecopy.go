package store

import (
	"crawshaw.io/sqlite"

	"gromox.run/internal/ec"
	"gromox.run/internal/ident"
)

// MovecopyFolder relocates (or, if copy, duplicates) folder under
// newParent with newName, refusing a move that would create a cycle
// (invariant 2) and a name collision under the destination parent.
func (s *Store) MovecopyFolder(folder, newParent ident.EID, newName string, copy bool) (ident.EID, error) {
	if !copy {
		cyclic, err := s.CheckFolderCycle(newParent, folder)
		if err != nil {
			return 0, err
		}
		if cyclic || folder == newParent {
			return 0, ec.Wrap("store.MovecopyFolder", ec.InvalidParam, ErrFolderCycle)
		}
	}
	if dup, err := s.siblingNameExists(newParent, newName); err != nil {
		return 0, err
	} else if dup {
		return 0, ErrDuplicateName
	}

	if !copy {
		err := s.DB.WriteTx(func(conn *sqlite.Conn) error {
			upd := conn.Prep(`UPDATE folders SET parent_id = $parent WHERE folder_id = $id;`)
			upd.SetInt64("$parent", int64(newParent))
			upd.SetInt64("$id", int64(folder))
			if _, err := upd.Step(); err != nil {
				return err
			}
			if err := upd.Reset(); err != nil {
				return err
			}
			return setFolderPropertyTx(conn, folder, ident.PrDisplayName, []byte(newName))
		})
		if err != nil {
			return 0, err
		}
		s.notify.folderDeleted(folder)
		s.notify.folderCreated(newParent, folder)
		return folder, nil
	}

	return s.CopyFolderInternal(folder, newParent, newName)
}

// CopyFolderInternal duplicates folder (properties only, not children —
// frontends that need a recursive copy call this once per level) under
// newParent with newName, the copy_folder_internal verb.
func (s *Store) CopyFolderInternal(folder, newParent ident.EID, newName string) (ident.EID, error) {
	newID, err := s.CreateFolder(newParent, newName)
	if err != nil {
		return 0, err
	}
	props, err := s.GetFolderProperties(folder, nil)
	if err != nil {
		return 0, err
	}
	for _, p := range props {
		if p.Tag == ident.PrDisplayName {
			continue // already set to newName by CreateFolder
		}
		if err := s.SetFolderProperties(newID, []Property{p}); err != nil {
			return 0, err
		}
	}
	return newID, nil
}

func (s *Store) siblingNameExists(parent ident.EID, name string) (bool, error) {
	var dup bool
	err := s.DB.ReadTx(func(conn *sqlite.Conn) error {
		var err error
		dup, err = siblingNameExistsTx(conn, parent, name)
		return err
	})
	return dup, err
}

// MovecopyMessage relocates (or copies) one message into destFolder, the
// single-message form of movecopy_messages.
func (s *Store) MovecopyMessage(srcFolder, destFolder, message ident.EID, copy bool) (ident.EID, error) {
	ids, failed, err := s.MovecopyMessages(srcFolder, destFolder, []ident.EID{message}, copy)
	if err != nil {
		return 0, err
	}
	if len(failed) > 0 {
		return 0, ec.New("store.MovecopyMessage", ec.AccessDenied)
	}
	return ids[0], nil
}

// MovecopyMessages relocates (or copies) messages from srcFolder into
// destFolder. Per-message failures do not abort the batch: failed carries
// the ids that could not be moved/copied and err is nil unless the whole
// operation failed to even start (e.g. destFolder does not exist).
func (s *Store) MovecopyMessages(srcFolder, destFolder ident.EID, ids []ident.EID, copy bool) (newIDs, failed []ident.EID, err error) {
	err = s.DB.WriteTx(func(conn *sqlite.Conn) error {
		if !folderExistsTx(conn, destFolder) {
			return ec.New("store.MovecopyMessages", ec.NotFound)
		}
		for _, id := range ids {
			newID, ferr := movecopyOneMessageTx(conn, s, srcFolder, destFolder, id, copy)
			if ferr != nil {
				failed = append(failed, id)
				continue
			}
			newIDs = append(newIDs, newID)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if len(newIDs) > 0 {
		s.notify.messagesDeleted(srcFolder, newIDs)
		for _, id := range newIDs {
			s.notify.messageCreated(destFolder, id)
		}
	}
	return newIDs, failed, nil
}

func movecopyOneMessageTx(conn *sqlite.Conn, s *Store, srcFolder, destFolder, message ident.EID, copy bool) (ident.EID, error) {
	if !copy {
		upd := conn.Prep(`UPDATE messages SET parent_fid = $dest WHERE message_id = $id AND parent_fid = $src;`)
		upd.SetInt64("$dest", int64(destFolder))
		upd.SetInt64("$id", int64(message))
		upd.SetInt64("$src", int64(srcFolder))
		changes, err := upd.Step()
		if err != nil {
			return 0, err
		}
		if err := upd.Reset(); err != nil {
			return 0, err
		}
		if !changes {
			return 0, ec.New("store.MovecopyMessages", ec.NotFound)
		}
		return message, nil
	}

	newID, err := storedbAllocateID(conn)
	if err != nil {
		return 0, err
	}
	cn, err := storedbAllocateCN(conn)
	if err != nil {
		return 0, err
	}
	ins := conn.Prep(`INSERT INTO messages (message_id, parent_fid, change_number, is_associated)
		SELECT $newID, $dest, $cn, is_associated FROM messages WHERE message_id = $id AND parent_fid = $src;`)
	ins.SetInt64("$newID", int64(newID))
	ins.SetInt64("$dest", int64(destFolder))
	ins.SetInt64("$cn", int64(cn))
	ins.SetInt64("$id", int64(message))
	ins.SetInt64("$src", int64(srcFolder))
	changes, err := ins.Step()
	if err != nil {
		return 0, err
	}
	if err := ins.Reset(); err != nil {
		return 0, err
	}
	if !changes {
		return 0, ec.New("store.MovecopyMessages", ec.NotFound)
	}
	copyIns := conn.Prep(`INSERT INTO message_properties (message_id, proptag, value)
		SELECT $newID, proptag, value FROM message_properties WHERE message_id = $id;`)
	copyIns.SetInt64("$newID", int64(newID))
	copyIns.SetInt64("$id", int64(message))
	if _, err := copyIns.Step(); err != nil {
		return 0, err
	}
	if err := copyIns.Reset(); err != nil {
		return 0, err
	}
	return newID, appendChangeTx(conn, objKindMessage, newID, s.ReplicaGUID, ident.GC(cn))
}

// EmptyFolder deletes every message (and, if includeSubfolders, every
// descendant folder) under folder. Partial completion is reported rather
// than rolled back.
func (s *Store) EmptyFolder(folder ident.EID, includeSubfolders, hard bool) (partial bool, err error) {
	ids, err := s.listMessageIDsForFolder(folder)
	if err != nil {
		return false, err
	}
	failed, err := s.DeleteMessages(folder, ids, hard)
	if err != nil {
		return false, err
	}
	if len(failed) > 0 {
		partial = true
	}
	if includeSubfolders {
		children, err := s.ListChildFolders(folder)
		if err != nil {
			return partial, err
		}
		for _, c := range children {
			if err := s.DeleteFolder(c, hard, true); err != nil {
				partial = true
				continue
			}
		}
	}
	return partial, nil
}

func (s *Store) listMessageIDsForFolder(folder ident.EID) ([]ident.EID, error) {
	var out []ident.EID
	err := s.DB.ReadTx(func(conn *sqlite.Conn) error {
		var err error
		out, err = s.listMessageIDsTx(conn, folder)
		return err
	})
	return out, err
}
