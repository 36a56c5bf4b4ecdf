package storedb

import (
	"fmt"

	"crawshaw.io/sqlite"

	"gromox.run/internal/ident"
)

const (
	counterCN    = "cn"
	counterEID   = "eid"
	counterNamed = "named_propid"
)

// firstNamedPropID is the first id a dynamically assigned named property
// may take; ids below it are well-known, non-namespaced properties.
const firstNamedPropID = 0x8000

// maxNamedPropID is the last assignable named property id; exhausting the
// range surfaces ecNPQuotaExceeded to the caller.
const maxNamedPropID = 0xFFFF

// nextCounter increments the named persistent counter and returns its new
// value, creating it at start (and returning start) if absent. Must be called
// inside a write transaction; the caller is the transaction boundary.
func nextCounter(conn *sqlite.Conn, name string, start uint64) (uint64, error) {
	stmt := conn.Prep(`INSERT INTO allocated_eids (name, next_value) VALUES ($name, $start)
		ON CONFLICT(name) DO UPDATE SET next_value = next_value + 1
		RETURNING next_value;`)
	stmt.SetText("$name", name)
	stmt.SetInt64("$start", int64(start))
	hasRow, err := stmt.Step()
	if err != nil {
		return 0, err
	}
	if !hasRow {
		return 0, fmt.Errorf("storedb: counter %q: no row returned", name)
	}
	v := uint64(stmt.GetInt64("next_value"))
	if err := stmt.Reset(); err != nil {
		return 0, err
	}
	return v, nil
}

// AllocateCN draws the next change number for the store.
func AllocateCN(conn *sqlite.Conn) (ident.CN, error) {
	v, err := nextCounter(conn, counterCN, 1)
	if err != nil {
		return 0, err
	}
	return ident.NewEID(ident.LocalReplica, ident.GC(v)), nil
}

// AllocateMessageID draws the next message/folder entry id for the store.
// The folder argument is accepted for parity with the exmdb verb surface
// (allocate_message_id takes a folder) but the counter is store-global:
// ids must never collide across folders since an EID alone must address a
// unique object store-wide.
func AllocateMessageID(conn *sqlite.Conn, folder ident.EID) (ident.EID, error) {
	v, err := nextCounter(conn, counterEID, 0x100) // low ids reserved for well-known folders
	if err != nil {
		return 0, err
	}
	return ident.NewEID(ident.LocalReplica, ident.GC(v)), nil
}

// AllocateIDs draws count consecutive ids in one counter step, returning
// the first. Used by bulk import paths (FastTransfer upload, ICS import)
// that would otherwise take the per-store write lock once per object.
func AllocateIDs(conn *sqlite.Conn, count int) (ident.EID, error) {
	if count <= 0 {
		return 0, fmt.Errorf("storedb: AllocateIDs: count must be positive, got %d", count)
	}
	stmt := conn.Prep(`INSERT INTO allocated_eids (name, next_value) VALUES ($name, $start + $count - 1)
		ON CONFLICT(name) DO UPDATE SET next_value = next_value + $count
		RETURNING next_value;`)
	stmt.SetText("$name", counterEID)
	stmt.SetInt64("$start", 0x100)
	stmt.SetInt64("$count", int64(count))
	hasRow, err := stmt.Step()
	if err != nil {
		return 0, err
	}
	if !hasRow {
		return 0, fmt.Errorf("storedb: AllocateIDs: no row returned")
	}
	last := uint64(stmt.GetInt64("next_value"))
	if err := stmt.Reset(); err != nil {
		return 0, err
	}
	first := last - uint64(count) + 1
	return ident.NewEID(ident.LocalReplica, ident.GC(first)), nil
}

// AssignNamedPropID resolves key to its stable property id, assigning the
// next free one at or above firstNamedPropID if key has never been seen
// before. Returns ecNPQuotaExceeded-equivalent error when the namespace is
// exhausted.
func AssignNamedPropID(conn *sqlite.Conn, key ident.NamedPropKey) (ident.PropID, error) {
	sel := conn.Prep(`SELECT propid FROM named_properties
		WHERE guid = $guid AND kind = $kind AND
		      (($kind = 0 AND lid = $lid) OR ($kind = 1 AND name = $name));`)
	sel.SetBytes("$guid", key.GUID[:])
	sel.SetInt64("$kind", int64(key.Kind))
	sel.SetInt64("$lid", int64(key.LID))
	sel.SetText("$name", key.Name)
	hasRow, err := sel.Step()
	if err != nil {
		return 0, err
	}
	if hasRow {
		id := ident.PropID(sel.GetInt64("propid"))
		sel.Reset()
		return id, nil
	}
	sel.Reset()

	next, err := nextCounter(conn, counterNamed, firstNamedPropID)
	if err != nil {
		return 0, err
	}
	if next > maxNamedPropID {
		return 0, ErrNamedPropQuotaExceeded
	}

	ins := conn.Prep(`INSERT INTO named_properties (propid, guid, kind, lid, name)
		VALUES ($propid, $guid, $kind, $lid, $name);`)
	ins.SetInt64("$propid", int64(next))
	ins.SetBytes("$guid", key.GUID[:])
	ins.SetInt64("$kind", int64(key.Kind))
	ins.SetInt64("$lid", int64(key.LID))
	ins.SetText("$name", key.Name)
	if _, err := ins.Step(); err != nil {
		return 0, err
	}
	if err := ins.Reset(); err != nil {
		return 0, err
	}
	return ident.PropID(next), nil
}

// ErrNamedPropQuotaExceeded is returned by AssignNamedPropID when the
// 0x8000-0xFFFF range is exhausted (ecNPQuotaExceeded in the protocol
// layer's error taxonomy).
var ErrNamedPropQuotaExceeded = fmt.Errorf("storedb: named property id space exhausted")
