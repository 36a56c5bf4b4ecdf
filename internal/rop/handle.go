// Package rop is the ROP object and handle layer: per-connection handle
// trees over logons, folders, messages, attachments, and tables, sitting
// between the exmdb wire protocol and the mailbox store.
package rop

import (
	"fmt"
	"sync"
)

// Handle identifies one open object within a session.
type Handle uint32

// RootHandle is the implicit handle every session starts with (the
// logon object itself never needs opening); InvalidHandle is the sentinel
// a verb returns on failure, matching the ROP wire convention.
const (
	RootHandle    Handle = 0
	InvalidHandle Handle = 0xFFFFFFFF
)

// MaxHandleNum bounds how many objects one session may have open at once,
// guarding against a client leaking handles across a long-lived
// connection.
const MaxHandleNum = 500

// handleEntry is one slot in the handle table: the object it names plus
// its parent, so closing a handle can cascade to children in LIFO order
// (closing a folder handle must close every table/message handle opened
// under it first).
type handleEntry struct {
	obj      Object
	parent   Handle
	children []Handle
}

// HandleTable is the per-session arena mapping Handles to Objects.
type HandleTable struct {
	mu      sync.Mutex
	next    Handle
	entries map[Handle]*handleEntry
}

// NewHandleTable builds an empty table seeded with the root handle bound
// to logon.
func NewHandleTable(logon Object) *HandleTable {
	t := &HandleTable{
		next:    1,
		entries: map[Handle]*handleEntry{RootHandle: {obj: logon}},
	}
	return t
}

// Open installs obj as a child of parent and returns its new handle,
// failing once MaxHandleNum live handles (root excluded) are open.
func (t *HandleTable) Open(parent Handle, obj Object) (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.entries) >= MaxHandleNum+1 {
		return InvalidHandle, fmt.Errorf("rop: handle table full (max %d)", MaxHandleNum)
	}
	if _, ok := t.entries[parent]; !ok {
		return InvalidHandle, fmt.Errorf("rop: parent handle %d not open", parent)
	}
	h := t.next
	t.next++
	t.entries[h] = &handleEntry{obj: obj, parent: parent}
	t.entries[parent].children = append(t.entries[parent].children, h)
	return h, nil
}

// Get returns the object bound to h.
func (t *HandleTable) Get(h Handle) (Object, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[h]
	if !ok {
		return nil, false
	}
	return e.obj, true
}

// Close releases h and, recursively, every handle opened under it
// (children last-opened-first), the LIFO child-closing rule release and
// logoff both rely on.
func (t *HandleTable) Close(h Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeLocked(h)
}

func (t *HandleTable) closeLocked(h Handle) {
	e, ok := t.entries[h]
	if !ok {
		return
	}
	for i := len(e.children) - 1; i >= 0; i-- {
		t.closeLocked(e.children[i])
	}
	if e.obj != nil {
		e.obj.Close()
	}
	delete(t.entries, h)
	if p, ok := t.entries[e.parent]; ok {
		for i, c := range p.children {
			if c == h {
				p.children = append(p.children[:i], p.children[i+1:]...)
				break
			}
		}
	}
}

// CloseAll tears down every handle except the root, releasing the
// session's open tables/instances on logoff.
func (t *HandleTable) CloseAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if root, ok := t.entries[RootHandle]; ok {
		for i := len(root.children) - 1; i >= 0; i-- {
			t.closeLocked(root.children[i])
		}
	}
}

// Count reports how many handles (root excluded) are currently open.
func (t *HandleTable) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries) - 1
}
