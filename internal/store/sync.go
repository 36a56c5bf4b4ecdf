package store

import (
	"crawshaw.io/sqlite"

	"gromox.run/internal/ident"
)

// SyncMessageInfo is the subset of a message row internal/ics needs to run
// get_content_sync's per-message decision without pulling every property.
type SyncMessageInfo struct {
	ID           ident.EID
	ChangeNumber ident.CN
	Associated   bool
	Deleted      bool
	Read         bool
}

// ListMessagesForSync lists every message under folder, including
// soft-deleted rows (the caller needs those to compute the deletion list).
func (s *Store) ListMessagesForSync(folder ident.EID) ([]SyncMessageInfo, error) {
	var out []SyncMessageInfo
	err := s.DB.ReadTx(func(conn *sqlite.Conn) error {
		stmt := conn.Prep(`SELECT message_id, change_number, is_associated, is_deleted, read_state
			FROM messages WHERE parent_fid = $folder;`)
		stmt.SetInt64("$folder", int64(folder))
		for {
			hasRow, err := stmt.Step()
			if err != nil {
				return err
			}
			if !hasRow {
				break
			}
			out = append(out, SyncMessageInfo{
				ID:           ident.EID(stmt.GetInt64("message_id")),
				ChangeNumber: ident.CN(stmt.GetInt64("change_number")),
				Associated:   stmt.GetInt64("is_associated") != 0,
				Deleted:      stmt.GetInt64("is_deleted") != 0,
				Read:         stmt.GetInt64("read_state") != 0,
			})
		}
		return stmt.Reset()
	})
	return out, err
}

// SetMessageReadState marks message read or unread, the
// set_message_read_state verb. This doesn't mint a new change number:
// read state is tracked per-message via the Read flag SyncMessageInfo
// already surfaces, not through the PCL/change-number machinery proper
// property changes go through.
func (s *Store) SetMessageReadState(message ident.EID, read bool) error {
	var folder ident.EID
	err := s.DB.WriteTx(func(conn *sqlite.Conn) error {
		sel := conn.Prep(`SELECT parent_fid FROM messages WHERE message_id = $id;`)
		sel.SetInt64("$id", int64(message))
		hasRow, err := sel.Step()
		if err != nil {
			return err
		}
		if hasRow {
			folder = ident.EID(sel.GetInt64("parent_fid"))
		}
		if err := sel.Reset(); err != nil {
			return err
		}
		upd := conn.Prep(`UPDATE messages SET read_state = $r WHERE message_id = $id;`)
		upd.SetInt64("$r", boolInt(read))
		upd.SetInt64("$id", int64(message))
		if _, err := upd.Step(); err != nil {
			return err
		}
		return upd.Reset()
	})
	if err != nil {
		return err
	}
	s.notify.messageModified(folder, message)
	return nil
}

// MessagePCL returns the predecessor change list recorded for message,
// exposing loadPCLTx for ICS's conflict-resolution-aware import flow.
func (s *Store) MessagePCL(message ident.EID) (*ident.PCL, error) {
	var pcl *ident.PCL
	err := s.DB.ReadTx(func(conn *sqlite.Conn) error {
		var err error
		pcl, err = loadPCLTx(conn, objKindMessage, message)
		return err
	})
	return pcl, err
}

// ListChildFolders lists the immediate child folders of folder, for
// get_hierarchy_sync and a recursive get_content_sync.
func (s *Store) ListChildFolders(folder ident.EID) ([]ident.EID, error) {
	var out []ident.EID
	err := s.DB.ReadTx(func(conn *sqlite.Conn) error {
		var err error
		out, err = s.listChildFoldersTx(conn, folder)
		return err
	})
	return out, err
}
