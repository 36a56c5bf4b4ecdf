package main

import (
	"fmt"
	"path/filepath"
	"sync"

	"gromox.run/internal/config"
	"gromox.run/internal/store"
)

// manager keeps one *store.Store open per mailbox prefix, opening lazily on
// first connect and never closing a store once opened: one sqlite pool
// stays alive per mailbox for the daemon's whole life, not a per-request
// open/close.
type manager struct {
	cfg *config.Daemon

	mu     sync.Mutex
	stores map[string]*store.Store
}

func newManager(cfg *config.Daemon) *manager {
	return &manager{cfg: cfg, stores: make(map[string]*store.Store)}
}

// open returns the store for prefix, opening it under cfg.DataPath if this
// is the first request for it. private distinguishes a user mailbox from a
// public-folder store, matching ConnectRequest.Private.
func (m *manager) open(prefix string, private bool) (*store.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.stores[prefix]; ok {
		return s, nil
	}
	dir := filepath.Join(m.cfg.DataPath, filepath.Clean("/"+prefix))
	s, err := store.Open(dir, store.Options{IsPublic: !private})
	if err != nil {
		return nil, fmt.Errorf("exmdbd: opening store %q: %w", prefix, err)
	}
	m.stores[prefix] = s
	return s, nil
}

// all returns a snapshot of every store currently open, for fanning a
// listen_notification reader out across the mailboxes already live when it
// connects.
func (m *manager) all() []*store.Store {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*store.Store, 0, len(m.stores))
	for _, s := range m.stores {
		out = append(out, s)
	}
	return out
}

// count reports how many stores are open, for the OpenMailboxes gauge.
func (m *manager) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stores)
}
