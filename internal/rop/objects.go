package rop

import (
	"gromox.run/internal/ident"
	"gromox.run/internal/store"
)

// Object is the common interface every handle-tree entry satisfies. Close
// releases whatever store-side resource the object holds (an open table
// cursor, an instance); objects with nothing to release (LogonObject,
// FolderObject) no-op.
type Object interface {
	Close()
}

// LogonObject is the root object every session's handle 0 is bound to: the
// open mailbox plus the authenticated principal's id, consulted by every
// permission check a child object makes.
type LogonObject struct {
	Store    *store.Store
	UserID   int64
	OwnerID  int64
	IsPublic bool
}

func (*LogonObject) Close() {}

// FolderObject names an open folder; it carries no store-side resource of
// its own (folder state always lives in the DB), so Close is a no-op.
type FolderObject struct {
	Logon *LogonObject
	ID    ident.EID
}

func (*FolderObject) Close() {}

// MessageObject names an open, already-flushed message (as opposed to a
// scratch instance — see InstanceObject). Like FolderObject it holds no
// separate store resource.
type MessageObject struct {
	Logon    *LogonObject
	ID       ident.EID
	FolderID ident.EID
}

func (*MessageObject) Close() {}

// InstanceObject wraps a message or attachment instance handle; Close
// unloads the scratch copy if the caller never flushed it — an instance
// not flushed before its handle closes is discarded.
type InstanceObject struct {
	Logon      *LogonObject
	InstanceID uint64
}

func (o *InstanceObject) Close() {
	o.Logon.Store.UnloadInstance(o.InstanceID)
}

// TableObject wraps a loaded hierarchy/content/permission/rule table;
// Close releases its materialized row snapshot.
type TableObject struct {
	Logon   *LogonObject
	TableID uint32
	Kind    store.TableKind
}

func (o *TableObject) Close() {
	o.Logon.Store.UnloadTable(o.TableID)
}

// AttachmentObject names an open, already-flushed attachment.
type AttachmentObject struct {
	Logon     *LogonObject
	MessageID ident.EID
	AttachNum int32
}

func (*AttachmentObject) Close() {}
