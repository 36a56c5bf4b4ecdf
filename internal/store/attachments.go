package store

import (
	"crawshaw.io/sqlite"

	"gromox.run/internal/ident"
)

// attachmentRowTx finds attachNum's row under message, creating it on
// first use (so SetAttachmentProperties can be called before any explicit
// create_attachment verb, matching how a flushed attachment instance
// materializes its row lazily).
func attachmentRowTx(conn *sqlite.Conn, message ident.EID, attachNum int32) (int64, error) {
	sel := conn.Prep(`SELECT attachment_id FROM attachments WHERE message_id = $mid AND attach_num = $num;`)
	sel.SetInt64("$mid", int64(message))
	sel.SetInt64("$num", int64(attachNum))
	hasRow, err := sel.Step()
	if err != nil {
		return 0, err
	}
	if hasRow {
		id := sel.GetInt64("attachment_id")
		return id, sel.Reset()
	}
	if err := sel.Reset(); err != nil {
		return 0, err
	}

	ins := conn.Prep(`INSERT INTO attachments (message_id, attach_num) VALUES ($mid, $num);`)
	ins.SetInt64("$mid", int64(message))
	ins.SetInt64("$num", int64(attachNum))
	if _, err := ins.Step(); err != nil {
		return 0, err
	}
	if err := ins.Reset(); err != nil {
		return 0, err
	}
	return lastInsertRowIDTx(conn)
}

// GetAttachmentProperties reads tags (or all, if tags is nil) from
// message's attachNum attachment.
func (s *Store) GetAttachmentProperties(message ident.EID, attachNum int32, tags []ident.PropTag) ([]Property, error) {
	var out []Property
	err := s.DB.ReadTx(func(conn *sqlite.Conn) error {
		sel := conn.Prep(`SELECT attachment_id FROM attachments WHERE message_id = $mid AND attach_num = $num;`)
		sel.SetInt64("$mid", int64(message))
		sel.SetInt64("$num", int64(attachNum))
		hasRow, err := sel.Step()
		if err != nil {
			return err
		}
		if !hasRow {
			return sel.Reset()
		}
		attachID := sel.GetInt64("attachment_id")
		if err := sel.Reset(); err != nil {
			return err
		}

		if len(tags) == 0 {
			stmt := conn.Prep(`SELECT proptag, value FROM attachment_properties WHERE attachment_id = $id;`)
			stmt.SetInt64("$id", attachID)
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
			stmt := conn.Prep(`SELECT value FROM attachment_properties WHERE attachment_id = $id AND proptag = $tag;`)
			stmt.SetInt64("$id", attachID)
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

// SetAttachmentProperties writes props onto message's attachNum
// attachment, creating the attachment row if this is its first write.
func (s *Store) SetAttachmentProperties(message ident.EID, attachNum int32, props []Property) error {
	return s.DB.WriteTx(func(conn *sqlite.Conn) error {
		attachID, err := attachmentRowTx(conn, message, attachNum)
		if err != nil {
			return err
		}
		for _, p := range props {
			stmt := conn.Prep(`INSERT INTO attachment_properties (attachment_id, proptag, value) VALUES ($id, $tag, $val)
				ON CONFLICT(attachment_id, proptag) DO UPDATE SET value = excluded.value;`)
			stmt.SetInt64("$id", attachID)
			stmt.SetInt64("$tag", int64(p.Tag))
			stmt.SetBytes("$val", p.Value)
			if _, err := stmt.Step(); err != nil {
				return err
			}
			if err := stmt.Reset(); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListAttachmentNums lists the attach_num values message currently has,
// the get_message_instance_attachments_num verb's non-instance analogue.
func (s *Store) ListAttachmentNums(message ident.EID) ([]int32, error) {
	var out []int32
	err := s.DB.ReadTx(func(conn *sqlite.Conn) error {
		stmt := conn.Prep(`SELECT attach_num FROM attachments WHERE message_id = $mid ORDER BY attach_num;`)
		stmt.SetInt64("$mid", int64(message))
		for {
			hasRow, err := stmt.Step()
			if err != nil {
				return err
			}
			if !hasRow {
				break
			}
			out = append(out, int32(stmt.GetInt64("attach_num")))
		}
		return stmt.Reset()
	})
	return out, err
}

// GetMessageRcpts lists message's recipient rows in row_id order, each as
// its own property set, the get_message_rcpts verb.
func (s *Store) GetMessageRcpts(message ident.EID) ([][]Property, error) {
	var out [][]Property
	err := s.DB.ReadTx(func(conn *sqlite.Conn) error {
		stmt := conn.Prep(`SELECT recipient_id FROM recipients WHERE message_id = $mid ORDER BY row_id;`)
		stmt.SetInt64("$mid", int64(message))
		var ids []int64
		for {
			hasRow, err := stmt.Step()
			if err != nil {
				return err
			}
			if !hasRow {
				break
			}
			ids = append(ids, stmt.GetInt64("recipient_id"))
		}
		if err := stmt.Reset(); err != nil {
			return err
		}
		for _, rid := range ids {
			props, err := recipientPropertiesTx(conn, rid)
			if err != nil {
				return err
			}
			out = append(out, props)
		}
		return nil
	})
	return out, err
}

func recipientPropertiesTx(conn *sqlite.Conn, recipientID int64) ([]Property, error) {
	var out []Property
	stmt := conn.Prep(`SELECT proptag, value FROM recipients_properties WHERE recipient_id = $id;`)
	stmt.SetInt64("$id", recipientID)
	for {
		hasRow, err := stmt.Step()
		if err != nil {
			return nil, err
		}
		if !hasRow {
			break
		}
		v := make([]byte, stmt.GetLen("value"))
		stmt.GetBytes("value", v)
		out = append(out, Property{Tag: ident.PropTag(stmt.GetInt64("proptag")), Value: v})
	}
	return out, stmt.Reset()
}
