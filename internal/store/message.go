package store

import (
	"bufio"
	"bytes"
	"fmt"
	"time"

	"crawshaw.io/iox"
	"crawshaw.io/sqlite"

	"gromox.run/internal/ident"
	mimepkg "gromox.run/internal/mime"
)

// Property is one tag/value pair as stored and returned by the property
// read/write verbs; value is nil for PT_UNSPECIFIED (property absent).
type Property struct {
	Tag   ident.PropTag
	Value []byte
}

// AllocateMessageID draws a fresh message id for folder. The id space is
// store-global (see storedb.AllocateMessageID) but the verb is folder
// scoped on the wire, so the parameter is kept for protocol parity.
func (s *Store) AllocateMessageID(folder ident.EID) (ident.EID, error) {
	var id ident.EID
	err := s.DB.WriteTx(func(conn *sqlite.Conn) error {
		var err error
		id, err = storedbAllocateID(conn)
		return err
	})
	return id, err
}

// CreateMessage inserts an empty message row under folder and returns its
// id and initial change number; callers then call SetMessageProperties /
// the instance layer to fill it in.
func (s *Store) CreateMessage(folder ident.EID, associated bool) (ident.EID, ident.CN, error) {
	var id ident.EID
	var cn ident.CN
	err := s.DB.WriteTx(func(conn *sqlite.Conn) error {
		if !folderExistsTx(conn, folder) {
			return fmt.Errorf("store: CreateMessage: folder %s does not exist", folder)
		}
		var err error
		id, err = storedbAllocateID(conn)
		if err != nil {
			return err
		}
		cn, err = storedbAllocateCN(conn)
		if err != nil {
			return err
		}
		ins := conn.Prep(`INSERT INTO messages (message_id, parent_fid, change_number, is_associated)
			VALUES ($id, $fid, $cn, $assoc);`)
		ins.SetInt64("$id", int64(id))
		ins.SetInt64("$fid", int64(folder))
		ins.SetInt64("$cn", int64(cn))
		ins.SetInt64("$assoc", boolInt(associated))
		if _, err := ins.Step(); err != nil {
			return err
		}
		if err := ins.Reset(); err != nil {
			return err
		}
		return appendChangeTx(conn, objKindMessage, id, s.ReplicaGUID, ident.GC(cn))
	})
	if err != nil {
		return 0, 0, err
	}
	s.notify.messageCreated(folder, id)
	return id, cn, nil
}

const (
	objKindFolder  = 0
	objKindMessage = 1
)

func appendChangeTx(conn *sqlite.Conn, kind int, objID ident.EID, replica [16]byte, gc ident.GC) error {
	stmt := conn.Prep(`INSERT INTO message_changes (object_kind, object_id, replica_guid, gc_value)
		VALUES ($kind, $id, $guid, $gc)
		ON CONFLICT(object_kind, object_id, replica_guid) DO UPDATE SET gc_value = excluded.gc_value
		WHERE excluded.gc_value > message_changes.gc_value;`)
	stmt.SetInt64("$kind", int64(kind))
	stmt.SetInt64("$id", int64(objID))
	stmt.SetBytes("$guid", replica[:])
	stmt.SetInt64("$gc", int64(gc))
	if _, err := stmt.Step(); err != nil {
		return err
	}
	return stmt.Reset()
}

func loadPCLTx(conn *sqlite.Conn, kind int, objID ident.EID) (*ident.PCL, error) {
	pcl := ident.NewPCL()
	stmt := conn.Prep(`SELECT replica_guid, gc_value FROM message_changes WHERE object_kind = $kind AND object_id = $id;`)
	stmt.SetInt64("$kind", int64(kind))
	stmt.SetInt64("$id", int64(objID))
	for {
		hasRow, err := stmt.Step()
		if err != nil {
			return nil, err
		}
		if !hasRow {
			break
		}
		var guid [16]byte
		stmt.GetBytes("replica_guid", guid[:])
		pcl.Append(ident.XID{ReplicaGUID: guid, Value: ident.GC(stmt.GetInt64("gc_value"))})
	}
	return pcl, stmt.Reset()
}

// SetMessageProperties writes props under message inside its own write
// transaction, allocating a new change number and appending it to the
// message's PCL.
func (s *Store) SetMessageProperties(message ident.EID, props []Property) error {
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

		for _, p := range props {
			stmt := conn.Prep(`INSERT INTO message_properties (message_id, proptag, value) VALUES ($id, $tag, $val)
				ON CONFLICT(message_id, proptag) DO UPDATE SET value = excluded.value;`)
			stmt.SetInt64("$id", int64(message))
			stmt.SetInt64("$tag", int64(p.Tag))
			stmt.SetBytes("$val", p.Value)
			if _, err := stmt.Step(); err != nil {
				return err
			}
			if err := stmt.Reset(); err != nil {
				return err
			}
		}
		cn, err := storedbAllocateCN(conn)
		if err != nil {
			return err
		}
		if err := appendChangeTx(conn, objKindMessage, message, s.ReplicaGUID, ident.GC(cn)); err != nil {
			return err
		}
		upd := conn.Prep(`UPDATE messages SET change_number = $cn WHERE message_id = $id;`)
		upd.SetInt64("$cn", int64(cn))
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

// GetMessageProperties reads the requested tags (or all, if tags is nil)
// from message.
func (s *Store) GetMessageProperties(message ident.EID, tags []ident.PropTag) ([]Property, error) {
	var out []Property
	err := s.DB.ReadTx(func(conn *sqlite.Conn) error {
		if len(tags) == 0 {
			stmt := conn.Prep(`SELECT proptag, value FROM message_properties WHERE message_id = $id;`)
			stmt.SetInt64("$id", int64(message))
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
			stmt := conn.Prep(`SELECT value FROM message_properties WHERE message_id = $id AND proptag = $tag;`)
			stmt.SetInt64("$id", int64(message))
			stmt.SetInt64("$tag", int64(tag))
			hasRow, err := stmt.Step()
			if err != nil {
				return err
			}
			if hasRow {
				v := make([]byte, stmt.GetLen("value"))
				stmt.GetBytes("value", v)
				out = append(out, Property{Tag: tag, Value: v})
			}
			if err := stmt.Reset(); err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

// DeleteMessages soft- or hard-deletes the given messages from folder.
// Failures for individual messages (e.g. held by an open instance) do not
// abort the batch: the store continues and reports which ids it could not
// remove, matching the empty_folder partial-completion rule.
func (s *Store) DeleteMessages(folder ident.EID, ids []ident.EID, hard bool) (failed []ident.EID, err error) {
	err = s.DB.WriteTx(func(conn *sqlite.Conn) error {
		for _, id := range ids {
			if hard {
				del := conn.Prep(`DELETE FROM messages WHERE message_id = $id AND parent_fid = $fid;`)
				del.SetInt64("$id", int64(id))
				del.SetInt64("$fid", int64(folder))
				if _, err := del.Step(); err != nil {
					failed = append(failed, id)
					del.Reset()
					continue
				}
				if err := del.Reset(); err != nil {
					failed = append(failed, id)
				}
				continue
			}
			upd := conn.Prep(`UPDATE messages SET is_deleted = 1 WHERE message_id = $id AND parent_fid = $fid;`)
			upd.SetInt64("$id", int64(id))
			upd.SetInt64("$fid", int64(folder))
			if _, err := upd.Step(); err != nil {
				failed = append(failed, id)
				upd.Reset()
				continue
			}
			if err := upd.Reset(); err != nil {
				failed = append(failed, id)
			}
		}
		return nil
	})
	if err == nil && len(failed) > 0 {
		s.notify.messagesDeleted(folder, subtract(ids, failed))
	} else if err == nil {
		s.notify.messagesDeleted(folder, ids)
	}
	return failed, err
}

func deleteAllMessagesInFolderTx(conn *sqlite.Conn, folder ident.EID, hard bool) error {
	if hard {
		del := conn.Prep(`DELETE FROM messages WHERE parent_fid = $fid;`)
		del.SetInt64("$fid", int64(folder))
		if _, err := del.Step(); err != nil {
			return err
		}
		return del.Reset()
	}
	upd := conn.Prep(`UPDATE messages SET is_deleted = 1 WHERE parent_fid = $fid;`)
	upd.SetInt64("$fid", int64(folder))
	if _, err := upd.Step(); err != nil {
		return err
	}
	return upd.Reset()
}

// DeliverMessage is the LDA entry point (deliver_message): it parses a raw
// RFC 5322 blob, inserts a message into folder (normally the Inbox, or a
// rule target), stores its subject as PR_DISPLAY_NAME plus the delivery
// time, and writes the raw blob as the canonical "eml/<msgid>" rendition.
// No part of the message is written to the cid/ blob store.
func (s *Store) DeliverMessage(filer *iox.Filer, folder ident.EID, raw []byte) (ident.EID, error) {
	msg, err := mimepkg.Parse(filer, bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return 0, fmt.Errorf("store: DeliverMessage: parse: %v", err)
	}
	defer msg.Close()

	id, cn, err := s.CreateMessage(folder, false)
	if err != nil {
		return 0, err
	}

	props := []Property{
		{Tag: ident.PrDisplayName, Value: []byte(msg.Subject())},
		{Tag: ident.PrMessageDeliveryTime, Value: encodeFileTime(time.Now())},
	}
	if err := s.SetMessageProperties(id, props); err != nil {
		return 0, err
	}

	if err := writeEmlRendition(s.Dir, id, raw); err != nil {
		return 0, err
	}

	_ = cn
	s.notify.newMail(folder, id)
	return id, nil
}

func encodeFileTime(t time.Time) []byte {
	// PT_SYSTIME is a 64-bit count of 100ns intervals since 1601-01-01,
	// the Windows FILETIME epoch.
	const epochDelta = 116444736000000000
	ft := t.UnixNano()/100 + epochDelta
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(ft >> (8 * i))
	}
	return b
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func subtract(all, remove []ident.EID) []ident.EID {
	skip := make(map[ident.EID]bool, len(remove))
	for _, id := range remove {
		skip[id] = true
	}
	var out []ident.EID
	for _, id := range all {
		if !skip[id] {
			out = append(out, id)
		}
	}
	return out
}
