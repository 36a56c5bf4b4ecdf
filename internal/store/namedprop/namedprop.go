// Package namedprop caches the named-property id mapping that storedb
// persists, so that the common case — the same handful of named
// properties queried on every open of a mailbox's tables — does not pay
// for a SQLite round trip each time. The map is read from many goroutines
// and written rarely, matching the read-mostly lock the store's
// concurrency model calls for; a bounded LRU plus invalidate-on-write
// gives us that without a bespoke RWMutex map.
package namedprop

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"crawshaw.io/sqlite"

	"gromox.run/internal/ident"
	"gromox.run/internal/store/storedb"
)

// Map resolves NamedPropKeys to PropIDs for one open store.
type Map struct {
	cache *lru.Cache[ident.NamedPropKey, ident.PropID]
}

// New builds a named-property cache holding up to size entries. A typical
// mailbox touches on the order of dozens of distinct named properties, so
// a few hundred entries comfortably covers steady state.
func New(size int) (*Map, error) {
	c, err := lru.New[ident.NamedPropKey, ident.PropID](size)
	if err != nil {
		return nil, err
	}
	return &Map{cache: c}, nil
}

// Resolve returns key's stable property id, assigning one and persisting
// it via conn if this is the first time key has been seen in this store.
// conn must belong to a write transaction when assignment may be needed;
// callers that only expect lookups (get_named_propids against a
// previously-assigned key) may pass a read connection and accept a miss
// turning into ecNotFound-equivalent behavior at the caller.
func (m *Map) Resolve(conn *sqlite.Conn, key ident.NamedPropKey) (ident.PropID, error) {
	if id, ok := m.cache.Get(key); ok {
		return id, nil
	}
	id, err := storedb.AssignNamedPropID(conn, key)
	if err != nil {
		return 0, err
	}
	m.cache.Add(key, id)
	return id, nil
}

// Invalidate drops key from the cache, used when a lower layer discovers
// the persisted mapping disagrees with what's cached (should not happen
// in steady state, since mappings are never reassigned, but a rebuild
// tool importing into a fresh file can observe a different id for the
// same key).
func (m *Map) Invalidate(key ident.NamedPropKey) {
	m.cache.Remove(key)
}
