package rop

import (
	"fmt"
	"sync"

	"gromox.run/internal/ec"
	"gromox.run/internal/ident"
	"gromox.run/internal/store"
)

// Session is one logged-on exmdb connection's ROP state: the handle tree
// rooted at the logon object, plus the store it talks to. One Session
// backs one Dispatcher, created per accepted connection via
// exrpc.Server.DispatcherFactory.
type Session struct {
	Logon   *LogonObject
	Handles *HandleTable

	subMu   sync.Mutex
	subs    map[uint32]struct{} // cookies from subscribe_notification, live until unsubscribe or Close
}

// NewSession opens a session against st on behalf of userID, whose
// effective owner (the mailbox's principal) is ownerID; userID == ownerID
// for the common case of a user opening their own mailbox.
func NewSession(st *store.Store, userID, ownerID int64) *Session {
	logon := &LogonObject{Store: st, UserID: userID, OwnerID: ownerID, IsPublic: st.IsPublic}
	return &Session{Logon: logon, Handles: NewHandleTable(logon), subs: make(map[uint32]struct{})}
}

// trackSubscription remembers cookie as owned by this session, so Close
// can tear it down even if the client never sends unsubscribe_notification.
func (s *Session) trackSubscription(cookie uint32) {
	s.subMu.Lock()
	s.subs[cookie] = struct{}{}
	s.subMu.Unlock()
}

// untrackSubscription forgets cookie, called from unsubscribe_notification.
func (s *Session) untrackSubscription(cookie uint32) {
	s.subMu.Lock()
	delete(s.subs, cookie)
	s.subMu.Unlock()
}

// Close tears down every handle the session opened and any notification
// subscription the client left registered.
func (s *Session) Close() {
	s.Handles.CloseAll()
	s.subMu.Lock()
	cookies := make([]uint32, 0, len(s.subs))
	for c := range s.subs {
		cookies = append(cookies, c)
	}
	s.subs = make(map[uint32]struct{})
	s.subMu.Unlock()
	for _, c := range cookies {
		s.Logon.Store.Unsubscribe(c)
	}
}

// folder resolves h to a folder id, accepting either a FolderObject handle
// or RootHandle (meaning the mailbox's IPM subtree root).
func (s *Session) folder(h Handle) (ident.EID, error) {
	if h == RootHandle {
		return store.FolderIPMSubtree, nil
	}
	obj, ok := s.Handles.Get(h)
	if !ok {
		return 0, ec.New("rop.folder", ec.NullObject)
	}
	f, ok := obj.(*FolderObject)
	if !ok {
		return 0, ec.New("rop.folder", ec.InvalidParam)
	}
	return f.ID, nil
}

// message resolves h to a message id.
func (s *Session) message(h Handle) (ident.EID, error) {
	obj, ok := s.Handles.Get(h)
	if !ok {
		return 0, ec.New("rop.message", ec.NullObject)
	}
	m, ok := obj.(*MessageObject)
	if !ok {
		return 0, ec.New("rop.message", ec.InvalidParam)
	}
	return m.ID, nil
}

// instance resolves h to an open instance id.
func (s *Session) instance(h Handle) (uint64, error) {
	obj, ok := s.Handles.Get(h)
	if !ok {
		return 0, ec.New("rop.instance", ec.NullObject)
	}
	i, ok := obj.(*InstanceObject)
	if !ok {
		return 0, ec.New("rop.instance", ec.InvalidParam)
	}
	return i.InstanceID, nil
}

// table resolves h to an open table id.
func (s *Session) table(h Handle) (uint32, error) {
	obj, ok := s.Handles.Get(h)
	if !ok {
		return 0, ec.New("rop.table", ec.NullObject)
	}
	t, ok := obj.(*TableObject)
	if !ok {
		return 0, ec.New("rop.table", ec.InvalidParam)
	}
	return t.TableID, nil
}

// requireRights checks the session's principal has every bit of want on
// folder, the permission gate every write/delete verb takes before
// touching the store.
func (s *Session) requireRights(folder ident.EID, want uint32) error {
	rights, err := s.Logon.Store.CheckFolderPermission(folder, s.Logon.UserID, s.Logon.OwnerID)
	if err != nil {
		return err
	}
	if rights&want != want {
		return ec.New(fmt.Sprintf("rop.requireRights(%#x)", want), ec.AccessDenied)
	}
	return nil
}

// openFolder binds folder as a child of parent, the common body behind
// every verb that returns a new folder handle.
func (s *Session) openFolder(parent Handle, folder ident.EID) (Handle, error) {
	return s.Handles.Open(parent, &FolderObject{Logon: s.Logon, ID: folder})
}

func (s *Session) openMessage(parent Handle, folder, message ident.EID) (Handle, error) {
	return s.Handles.Open(parent, &MessageObject{Logon: s.Logon, ID: message, FolderID: folder})
}

func (s *Session) openInstance(parent Handle, instanceID uint64) (Handle, error) {
	return s.Handles.Open(parent, &InstanceObject{Logon: s.Logon, InstanceID: instanceID})
}

func (s *Session) openTable(parent Handle, tableID uint32, kind store.TableKind) (Handle, error) {
	return s.Handles.Open(parent, &TableObject{Logon: s.Logon, TableID: tableID, Kind: kind})
}
