package exclient

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"gromox.run/internal/exrpc"
)

func errNoServer(dir string) error {
	return fmt.Errorf("exclient: no exmdb server configured for prefix of %q", dir)
}

// idleConn is a handshake-completed, currently idle connection sitting in
// a remoteServer's free list.
type idleConn struct {
	net.Conn
	lastUsed time.Time
}

// remoteServer is one configured backend's live state: its free list of
// idle connections, the count of connections currently checked out or
// open, and (lazily) its notification reader.
type remoteServer struct {
	pool *Pool
	cfg  ServerConfig

	mu            sync.Mutex
	idle          []*idleConn
	activeHandles int

	notifyOnce   sync.Once
	notifyCancel context.CancelFunc
}

func newRemoteServer(p *Pool, cfg ServerConfig) *remoteServer {
	return &remoteServer{pool: p, cfg: cfg}
}

func (r *remoteServer) addr() string {
	return fmt.Sprintf("%s:%d", r.cfg.Host, r.cfg.Port)
}

// get implements the pool's get_connection algorithm: pop idle
// connections until one looks healthy, else open a new one if under the
// per-server cap, else report exhaustion.
func (r *remoteServer) get() (*idleConn, error) {
	r.mu.Lock()
	for len(r.idle) > 0 {
		c := r.idle[len(r.idle)-1]
		r.idle = r.idle[:len(r.idle)-1]
		if connWritable(c.Conn) {
			r.mu.Unlock()
			return c, nil
		}
		c.Close()
	}
	if r.activeHandles >= r.pool.opt.MaxConnsPerRemote {
		r.mu.Unlock()
		return nil, fmt.Errorf("exclient: reached maximum connections to %s", r.addr())
	}
	r.activeHandles++
	r.mu.Unlock()

	c, err := r.dialAndHandshake()
	if err != nil {
		r.mu.Lock()
		r.activeHandles--
		r.mu.Unlock()
		return nil, err
	}
	return &idleConn{Conn: c, lastUsed: time.Now()}, nil
}

func (r *remoteServer) dialAndHandshake() (net.Conn, error) {
	c, err := dialTimeout(r.addr())
	if err != nil {
		return nil, err
	}
	c.SetDeadline(time.Now().Add(SocketTimeout))
	req := exrpc.ConnectRequest{Prefix: r.cfg.Prefix, RemoteID: r.pool.opt.RemoteID, Private: true}
	if err := exrpc.WriteRequest(c, exrpc.Request{Call: exrpc.CallConnect, Payload: req.EncodePayload()}); err != nil {
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
		return nil, fmt.Errorf("exclient: connect to %s rejected: %s", r.addr(), resp.Code)
	}
	c.SetDeadline(time.Time{})
	return c, nil
}

// put returns c to the free list. Call only for a connection still known
// good; a caller observing an error should call discard instead.
func (r *remoteServer) put(c *idleConn) {
	c.lastUsed = time.Now()
	r.mu.Lock()
	r.idle = append(r.idle, c)
	r.mu.Unlock()
}

// discard closes c and frees its slot, for a connection the caller found
// dead or broken.
func (r *remoteServer) discard(c *idleConn) {
	c.Close()
	r.mu.Lock()
	r.activeHandles--
	r.mu.Unlock()
}

// call acquires a connection, issues one request, and returns it to the
// pool around this one call rather than handing back a held lease, since
// every exmdb request is single-shot.
func (r *remoteServer) call(call exrpc.CallID, payload []byte) ([]byte, error) {
	c, err := r.get()
	if err != nil {
		return nil, err
	}
	if timeout := r.pool.opt.RPCTimeout; timeout > 0 {
		c.SetDeadline(time.Now().Add(timeout))
	}
	if err := exrpc.WriteRequest(c, exrpc.Request{Call: call, Payload: payload}); err != nil {
		r.discard(c)
		return nil, err
	}
	resp, err := exrpc.ReadResponse(c)
	if err != nil {
		r.discard(c)
		return nil, err
	}
	c.SetDeadline(time.Time{})
	if resp.Code != exrpc.RespSuccess {
		// The connection itself is still healthy; only the verb failed.
		r.put(c)
		return nil, fmt.Errorf("exclient: %s: %s", call.Name(), resp.Code)
	}
	r.put(c)

	r.ensureNotificationReader()
	return resp.Payload, nil
}

// pingStale walks the free list for connections near the server's 60s
// idle timeout and pings them to keep them from being closed server-side.
func (r *remoteServer) pingStale() {
	cutoff := time.Now().Add(-(idleTimeout - pingMargin))
	r.mu.Lock()
	var stale []*idleConn
	fresh := r.idle[:0]
	for _, c := range r.idle {
		if c.lastUsed.Before(cutoff) {
			stale = append(stale, c)
		} else {
			fresh = append(fresh, c)
		}
	}
	r.idle = fresh
	r.mu.Unlock()

	for _, c := range stale {
		c.SetDeadline(time.Now().Add(5 * time.Second))
		ok := exrpc.WritePing(c) == nil
		if ok {
			if reply, err := exrpc.ReadPingReply(c); err != nil || !reply {
				ok = false
			}
		}
		c.SetDeadline(time.Time{})
		if ok {
			r.put(c)
		} else {
			r.discard(c)
		}
	}
}

func (r *remoteServer) closeAll() {
	if r.notifyCancel != nil {
		r.notifyCancel()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.idle {
		c.Close()
	}
	r.idle = nil
	r.activeHandles = 0
}

func connWritable(c net.Conn) bool {
	// A bare net.Conn can't be probed for pending readable bytes without
	// consuming them; a short zero-deadline write attempt is the cheapest
	// liveness probe available without peeking the read buffer.
	if tc, ok := c.(*net.TCPConn); ok {
		var sys bool
		tc.SetWriteDeadline(time.Now().Add(time.Millisecond))
		defer tc.SetWriteDeadline(time.Time{})
		_, err := tc.Write(nil)
		sys = err == nil
		return sys
	}
	return true
}
