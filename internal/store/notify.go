package store

import (
	"sync"

	"gromox.run/internal/ident"
)

// NotifyKind classifies a DB_NOTIFY event.
type NotifyKind int

const (
	NotifyObjectCreated NotifyKind = iota
	NotifyObjectModified
	NotifyObjectMoved
	NotifyObjectDeleted
	NotifyNewMail
	NotifyTableRowAdded
	NotifyTableRowDeleted
	NotifyTableRowModified
)

// Notification is one store-side event, folder- or message-scoped,
// fanned out to every matching subscription. The exmdb protocol layer
// translates these into DB_NOTIFY_DATAGRAM frames on the listen channel.
type Notification struct {
	Kind      NotifyKind
	FolderID  ident.EID
	MessageID ident.EID // zero when the event is folder-level
}

// subscriptionQueueDepth bounds how many undelivered notifications a
// subscriber's channel holds before the hub starts dropping for it and
// flags that a reset is needed on reconnect.
const subscriptionQueueDepth = 256

type subscription struct {
	cookie    uint32
	folderID  ident.EID // 0 matches any folder
	messageID ident.EID // 0 matches any message
	ch        chan Notification

	mu         sync.Mutex
	needsReset bool
}

func (s *subscription) matches(n Notification) bool {
	if s.folderID != 0 && s.folderID != n.FolderID {
		return false
	}
	if s.messageID != 0 && s.messageID != n.MessageID {
		return false
	}
	return true
}

func (s *subscription) deliver(n Notification) {
	select {
	case s.ch <- n:
	default:
		s.mu.Lock()
		s.needsReset = true
		s.mu.Unlock()
	}
}

// notifyHub fans out store mutations to subscribers keyed by a session
// cookie plus an optional folder/message scope. Delivery is best-effort:
// a subscriber whose channel is backed up past subscriptionQueueDepth has
// notifications dropped and is marked for reset rather than blocking the
// writer that produced the event.
type notifyHub struct {
	mu         sync.Mutex
	subs       map[uint32]*subscription
	nextCookie uint32
}

func newNotifyHub() *notifyHub {
	return &notifyHub{subs: make(map[uint32]*subscription)}
}

// Subscribe registers interest in events scoped to folder and/or message
// (either may be zero to mean "any"), returning a cookie used to
// unsubscribe and the channel notifications arrive on.
func (h *notifyHub) Subscribe(folder, message ident.EID) (cookie uint32, ch <-chan Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextCookie++
	sub := &subscription{
		cookie:    h.nextCookie,
		folderID:  folder,
		messageID: message,
		ch:        make(chan Notification, subscriptionQueueDepth),
	}
	h.subs[sub.cookie] = sub
	return sub.cookie, sub.ch
}

// Unsubscribe removes a subscription; its channel is left to be garbage
// collected once the owning reader drains or drops it.
func (h *notifyHub) Unsubscribe(cookie uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, cookie)
}

// NeedsReset reports and clears whether cookie's subscriber missed events
// due to a full queue, so the ROP layer can tell a reconnecting client it
// must re-synchronize instead of trusting a gap-free notification stream.
func (h *notifyHub) NeedsReset(cookie uint32) bool {
	h.mu.Lock()
	sub, ok := h.subs[cookie]
	h.mu.Unlock()
	if !ok {
		return false
	}
	sub.mu.Lock()
	defer sub.mu.Unlock()
	reset := sub.needsReset
	sub.needsReset = false
	return reset
}

func (h *notifyHub) publish(n Notification) {
	h.mu.Lock()
	subs := make([]*subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()
	for _, sub := range subs {
		if sub.matches(n) {
			sub.deliver(n)
		}
	}
}

// Subscribe registers interest in store events scoped to folder and/or
// message (zero means "any"), for the exmdb listen_notification channel.
func (s *Store) Subscribe(folder, message ident.EID) (cookie uint32, ch <-chan Notification) {
	return s.notify.Subscribe(folder, message)
}

// Unsubscribe tears down a subscription created by Subscribe.
func (s *Store) Unsubscribe(cookie uint32) {
	s.notify.Unsubscribe(cookie)
}

// NeedsReset reports and clears whether cookie's subscriber missed events
// because its queue filled up.
func (s *Store) NeedsReset(cookie uint32) bool {
	return s.notify.NeedsReset(cookie)
}

func (h *notifyHub) folderCreated(parent, id ident.EID) {
	h.publish(Notification{Kind: NotifyObjectCreated, FolderID: id})
	h.publish(Notification{Kind: NotifyTableRowAdded, FolderID: parent})
}

func (h *notifyHub) folderDeleted(id ident.EID) {
	h.publish(Notification{Kind: NotifyObjectDeleted, FolderID: id})
}

func (h *notifyHub) folderModified(id ident.EID) {
	h.publish(Notification{Kind: NotifyObjectModified, FolderID: id})
}

func (h *notifyHub) messageCreated(folder, id ident.EID) {
	h.publish(Notification{Kind: NotifyObjectCreated, FolderID: folder, MessageID: id})
	h.publish(Notification{Kind: NotifyTableRowAdded, FolderID: folder, MessageID: id})
}

func (h *notifyHub) messagesDeleted(folder ident.EID, ids []ident.EID) {
	for _, id := range ids {
		h.publish(Notification{Kind: NotifyObjectDeleted, FolderID: folder, MessageID: id})
		h.publish(Notification{Kind: NotifyTableRowDeleted, FolderID: folder, MessageID: id})
	}
}

func (h *notifyHub) messageModified(folder, id ident.EID) {
	h.publish(Notification{Kind: NotifyObjectModified, FolderID: folder, MessageID: id})
	h.publish(Notification{Kind: NotifyTableRowModified, FolderID: folder, MessageID: id})
}

func (h *notifyHub) newMail(folder, id ident.EID) {
	h.publish(Notification{Kind: NotifyNewMail, FolderID: folder, MessageID: id})
}
