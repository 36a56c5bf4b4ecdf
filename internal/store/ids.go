package store

import (
	"crawshaw.io/sqlite"

	"gromox.run/internal/ident"
	"gromox.run/internal/store/storedb"
)

func storedbAllocateID(conn *sqlite.Conn) (ident.EID, error) {
	return storedb.AllocateMessageID(conn, 0)
}

func storedbAllocateCN(conn *sqlite.Conn) (ident.CN, error) {
	return storedb.AllocateCN(conn)
}

// AllocateCN draws one change number, for the allocate_cn verb.
func (s *Store) AllocateCN() (ident.CN, error) {
	var cn ident.CN
	err := s.DB.WriteTx(func(conn *sqlite.Conn) error {
		var err error
		cn, err = storedbAllocateCN(conn)
		return err
	})
	return cn, err
}

// AllocateIDs draws count consecutive entry ids in one counter step,
// returning the first, for the allocate_ids verb.
func (s *Store) AllocateIDs(count int) (ident.EID, error) {
	var first ident.EID
	err := s.DB.WriteTx(func(conn *sqlite.Conn) error {
		var err error
		first, err = storedb.AllocateIDs(conn, count)
		return err
	})
	return first, err
}
