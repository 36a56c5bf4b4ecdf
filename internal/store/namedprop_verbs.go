package store

import (
	"crawshaw.io/sqlite"

	"gromox.run/internal/ident"
)

// GetNamedPropIDs resolves each of keys to its stable property id,
// assigning fresh ids for any never seen before, the get_named_propids
// verb (create=true) and its read-only get_named_propids(create=false)
// sibling folded into one call, since this core treats the mapping as
// always-assign-on-miss.
func (s *Store) GetNamedPropIDs(keys []ident.NamedPropKey) ([]ident.PropID, error) {
	out := make([]ident.PropID, len(keys))
	err := s.DB.WriteTx(func(conn *sqlite.Conn) error {
		for i, k := range keys {
			id, err := s.NamedProp.Resolve(conn, k)
			if err != nil {
				return err
			}
			out[i] = id
		}
		return nil
	})
	return out, err
}

// GetNamedPropNames resolves each of ids back to its (GUID, kind,
// lid-or-name) key, the get_named_propnames verb.
func (s *Store) GetNamedPropNames(ids []ident.PropID) ([]ident.NamedPropKey, error) {
	out := make([]ident.NamedPropKey, len(ids))
	err := s.DB.ReadTx(func(conn *sqlite.Conn) error {
		for i, id := range ids {
			key, ok, err := namedPropNameTx(conn, id)
			if err != nil {
				return err
			}
			if ok {
				out[i] = key
			}
		}
		return nil
	})
	return out, err
}

func namedPropNameTx(conn *sqlite.Conn, id ident.PropID) (ident.NamedPropKey, bool, error) {
	stmt := conn.Prep(`SELECT guid, kind, lid, name FROM named_properties WHERE propid = $id;`)
	stmt.SetInt64("$id", int64(id))
	hasRow, err := stmt.Step()
	if err != nil {
		return ident.NamedPropKey{}, false, err
	}
	if !hasRow {
		return ident.NamedPropKey{}, false, stmt.Reset()
	}
	var key ident.NamedPropKey
	var guid [16]byte
	stmt.GetBytes("guid", guid[:])
	copy(key.GUID[:], guid[:])
	key.Kind = ident.NamedPropKind(stmt.GetInt64("kind"))
	key.LID = uint32(stmt.GetInt64("lid"))
	key.Name = stmt.GetText("name")
	return key, true, stmt.Reset()
}

// GetAllNamedPropIDs lists every named property this store has ever
// assigned, the get_all_named_propids verb used to warm a fresh process's
// cache without waiting for misses.
func (s *Store) GetAllNamedPropIDs() ([]ident.PropID, error) {
	var out []ident.PropID
	err := s.DB.ReadTx(func(conn *sqlite.Conn) error {
		stmt := conn.Prep(`SELECT propid FROM named_properties ORDER BY propid;`)
		for {
			hasRow, err := stmt.Step()
			if err != nil {
				return err
			}
			if !hasRow {
				break
			}
			out = append(out, ident.PropID(stmt.GetInt64("propid")))
		}
		return stmt.Reset()
	})
	return out, err
}
