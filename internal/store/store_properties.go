package store

import (
	"encoding/binary"

	"crawshaw.io/sqlite"

	"gromox.run/internal/ident"
)

// GetStoreProperties reads the requested tags (or all, if tags is nil) from
// the mailbox-wide store_properties table (PR_MESSAGE_SIZE_EXTENDED,
// quota marks, and similar singleton properties that belong to the store
// itself rather than any folder or message).
func (s *Store) GetStoreProperties(tags []ident.PropTag) ([]Property, error) {
	var out []Property
	err := s.DB.ReadTx(func(conn *sqlite.Conn) error {
		if len(tags) == 0 {
			stmt := conn.Prep(`SELECT proptag, value FROM store_properties;`)
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
			stmt := conn.Prep(`SELECT value FROM store_properties WHERE proptag = $tag;`)
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

// SetStoreProperties upserts props onto the store_properties table.
func (s *Store) SetStoreProperties(props []Property) error {
	return s.DB.WriteTx(func(conn *sqlite.Conn) error {
		for _, p := range props {
			stmt := conn.Prep(`INSERT INTO store_properties (proptag, value) VALUES ($tag, $val)
				ON CONFLICT(proptag) DO UPDATE SET value = excluded.value;`)
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

// RemoveStoreProperties deletes the given tags from store_properties.
func (s *Store) RemoveStoreProperties(tags []ident.PropTag) error {
	return s.DB.WriteTx(func(conn *sqlite.Conn) error {
		for _, tag := range tags {
			del := conn.Prep(`DELETE FROM store_properties WHERE proptag = $tag;`)
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

// RecalcStoreSize sums every live message's size_estimate across the store
// and writes it back as PR_MESSAGE_SIZE_EXTENDED on store_properties, the
// work behind the recalc_store_size admin verb.
func (s *Store) RecalcStoreSize() (int64, error) {
	var total int64
	err := s.DB.ReadTx(func(conn *sqlite.Conn) error {
		stmt := conn.Prep(`SELECT COALESCE(SUM(size_estimate), 0) AS total FROM messages WHERE is_deleted = 0;`)
		hasRow, err := stmt.Step()
		if err != nil {
			return err
		}
		if hasRow {
			total = stmt.GetInt64("total")
		}
		return stmt.Reset()
	})
	if err != nil {
		return 0, err
	}
	if err := s.SetStoreProperties([]Property{{Tag: ident.PrMessageSizeExtended, Value: encodeInt64(total)}}); err != nil {
		return 0, err
	}
	return total, nil
}

func encodeInt64(v int64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(v))
	return b
}
