package main

import (
	"net"

	"github.com/rs/zerolog"

	"gromox.run/internal/exrpc"
	"gromox.run/internal/metrics"
	"gromox.run/internal/store"
)

// bridgeNotifications fans every store open at connect time into one
// Datagram stream over c, matching exrpc.Server.OnNotificationChannel's
// contract. A store opened after this bridge starts is not retroactively
// included — see DESIGN.md's notification-bridge note.
func bridgeNotifications(log zerolog.Logger, remoteID string, stores []*store.Store, c net.Conn) {
	defer c.Close()

	type sub struct {
		s      *store.Store
		cookie uint32
		ch     <-chan store.Notification
	}
	subs := make([]sub, 0, len(stores))
	for _, s := range stores {
		cookie, ch := s.Subscribe(0, 0)
		subs = append(subs, sub{s: s, cookie: cookie, ch: ch})
	}
	defer func() {
		for _, sb := range subs {
			sb.s.Unsubscribe(sb.cookie)
		}
	}()

	merged := make(chan store.Notification, 256)
	done := make(chan struct{})
	defer close(done)
	for _, sb := range subs {
		go func(sb sub) {
			for {
				select {
				case n, ok := <-sb.ch:
					if !ok {
						return
					}
					select {
					case merged <- n:
					case <-done:
						return
					}
				case <-done:
					return
				}
			}
		}(sb)
	}

	metrics.NotificationQueueDepth.WithLabelValues(remoteID).Set(0)
	for n := range merged {
		metrics.NotificationQueueDepth.WithLabelValues(remoteID).Set(float64(len(merged)))
		d := exrpc.Datagram{
			Dir:    exrpc.DirNotifyViaFolder,
			BTable: isTableNotify(n.Kind),
			Notify: exrpc.DBNotify{
				Kind:      wireNotifyKind(n.Kind),
				FolderID:  uint64(n.FolderID),
				MessageID: uint64(n.MessageID),
			},
		}
		if n.MessageID != 0 {
			d.Dir = exrpc.DirNotifyViaMessage
		}
		if err := exrpc.WriteDatagram(c, d); err != nil {
			log.Debug().Err(err).Str("remote", remoteID).Msg("notification channel closed")
			return
		}
	}
}

func isTableNotify(k store.NotifyKind) bool {
	switch k {
	case store.NotifyTableRowAdded, store.NotifyTableRowDeleted, store.NotifyTableRowModified:
		return true
	default:
		return false
	}
}

func wireNotifyKind(k store.NotifyKind) uint8 {
	switch k {
	case store.NotifyObjectCreated:
		return exrpc.NotifyKindObjectCreated
	case store.NotifyObjectModified:
		return exrpc.NotifyKindObjectModified
	case store.NotifyObjectMoved:
		return exrpc.NotifyKindObjectMoved
	case store.NotifyObjectDeleted:
		return exrpc.NotifyKindObjectDeleted
	case store.NotifyNewMail:
		return exrpc.NotifyKindNewMail
	case store.NotifyTableRowAdded:
		return exrpc.NotifyKindTableRowAdded
	case store.NotifyTableRowDeleted:
		return exrpc.NotifyKindTableRowDeleted
	case store.NotifyTableRowModified:
		return exrpc.NotifyKindTableRowModified
	default:
		return exrpc.NotifyKindObjectModified
	}
}
