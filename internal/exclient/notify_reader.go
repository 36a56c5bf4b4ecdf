package exclient

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"

	"gromox.run/internal/exrpc"
)

// ensureNotificationReader lazily starts this remote's notification-reader
// goroutine the first time a command-channel call succeeds: one long-lived
// parallel connection per remote, reconnected with backoff on any error,
// dispatching every datagram to the pool's EventProc and replying to pings
// in place.
func (r *remoteServer) ensureNotificationReader() {
	if r.pool.opt.OnEvent == nil {
		return
	}
	r.notifyOnce.Do(func() {
		ctx, cancel := context.WithCancel(r.pool.ctx)
		r.notifyCancel = cancel
		r.pool.wg.Add(1)
		go r.runNotificationReader(ctx)
	})
}

func (r *remoteServer) runNotificationReader(ctx context.Context) {
	defer r.pool.wg.Done()

	b := backoff.WithContext(reconnectBackoff(), ctx)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		conn, err := r.dialNotificationChannel()
		if err != nil {
			wait := b.NextBackOff()
			if wait == backoff.Stop {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		b.Reset()
		r.readNotificationsUntilError(ctx, conn)
		conn.Close()
	}
}

func (r *remoteServer) dialNotificationChannel() (net.Conn, error) {
	c, err := dialTimeout(r.addr())
	if err != nil {
		return nil, err
	}
	req := exrpc.ListenNotificationRequest{RemoteID: r.pool.opt.RemoteID}
	if err := exrpc.WriteRequest(c, exrpc.Request{Call: exrpc.CallListenNotification, Payload: req.EncodePayload()}); err != nil {
		c.Close()
		return nil, err
	}
	resp, err := exrpc.ReadResponse(c)
	if err != nil {
		c.Close()
		return nil, err
	}
	if resp.Code != exrpc.RespSuccess {
		c.Close()
		return nil, fmt.Errorf("exclient: listen_notification to %s rejected: %s", r.addr(), resp.Code)
	}
	return c, nil
}

func (r *remoteServer) readNotificationsUntilError(ctx context.Context, conn net.Conn) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		d, isPing, err := exrpc.ReadDatagramOrPing(conn)
		if err != nil {
			return
		}
		if isPing {
			if exrpc.WritePingReply(conn, true) != nil {
				return
			}
			continue
		}
		r.pool.opt.OnEvent(d.Dir, d.BTable, d.IDArray, d.Notify)
	}
}
