// Package exclient is the exmdb client pool: per-remote idle-connection
// pools with keepalive pings, a notification-reader goroutine per remote,
// transparent reconnect with backoff, and an optional local short-circuit
// that bypasses the socket entirely for an in-process store.
package exclient

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"gromox.run/internal/exrpc"
)

// SocketTimeout bounds connect and handshake.
const SocketTimeout = 60 * time.Second

// idleTimeout is how long the server is documented to keep an idle
// connection open; the pool pings connections older than
// idleTimeout-pingMargin so they never actually hit it.
const idleTimeout = 60 * time.Second
const pingMargin = 3 * time.Second

// LocalDispatcher lets a Pool short-circuit a prefix known to be served
// in-process, bypassing the socket entirely. Implemented by whatever
// wraps internal/rop or internal/store directly in the same process.
type LocalDispatcher interface {
	Dispatch(call exrpc.CallID, payload []byte) ([]byte, error)
}

// EventProc is invoked for every notification datagram read off a remote's
// notification channel.
type EventProc func(dir exrpc.NotifyDir, bTable bool, ids []uint32, n exrpc.DBNotify)

// ServerConfig names one remote exmdb server this pool talks to.
type ServerConfig struct {
	Host   string
	Port   int
	Prefix string // store-directory prefix this server is authoritative for
	Local  bool   // true: eligible for LocalDispatcher short-circuit
}

// Options configures a Pool.
type Options struct {
	RemoteID         string // this process's identity, sent on every connect/listen
	MaxConnsPerRemote int
	RPCTimeout       time.Duration // 0 = no timeout
	AllowDirect      bool
	Local            LocalDispatcher
	OnEvent          EventProc
}

// Pool is the process-global exmdb client: one remoteServer per configured
// backend, a keepalive scanner, and (lazily) one notification reader per
// remote, with explicit Run/Close rather than relying on module-load order.
type Pool struct {
	opt Options

	mu      sync.Mutex
	remotes []*remoteServer

	ctx      context.Context
	cancelFn context.CancelFunc
	wg       sync.WaitGroup
}

// New builds a Pool over the given remotes; call Run to start the
// keepalive scanner before issuing requests.
func New(opt Options, servers []ServerConfig) *Pool {
	if opt.MaxConnsPerRemote <= 0 {
		opt.MaxConnsPerRemote = 8
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{opt: opt, ctx: ctx, cancelFn: cancel}
	for _, sc := range servers {
		p.remotes = append(p.remotes, newRemoteServer(p, sc))
	}
	return p
}

// Run starts the keepalive scanner thread. It returns once Close is
// called.
func (p *Pool) Run() {
	p.wg.Add(1)
	defer p.wg.Done()

	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-t.C:
			p.scanKeepalive()
		}
	}
}

// Close stops the keepalive scanner and every notification reader, and
// drops all pooled connections.
func (p *Pool) Close() {
	p.cancelFn()
	p.wg.Wait()
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range p.remotes {
		r.closeAll()
	}
}

func (p *Pool) scanKeepalive() {
	p.mu.Lock()
	remotes := append([]*remoteServer(nil), p.remotes...)
	p.mu.Unlock()
	for _, r := range remotes {
		r.pingStale()
	}
}

// serverFor returns the remote whose prefix is a prefix of dir.
func (p *Pool) serverFor(dir string) *remoteServer {
	p.mu.Lock()
	defer p.mu.Unlock()
	var best *remoteServer
	for _, r := range p.remotes {
		if len(r.cfg.Prefix) > 0 && len(dir) >= len(r.cfg.Prefix) && dir[:len(r.cfg.Prefix)] == r.cfg.Prefix {
			if best == nil || len(r.cfg.Prefix) > len(best.cfg.Prefix) {
				best = r
			}
		}
	}
	return best
}

// Call issues one RPC to whichever remote owns dir, via the local
// short-circuit if eligible and enabled, else over a pooled connection.
func (p *Pool) Call(dir string, call exrpc.CallID, payload []byte) ([]byte, error) {
	r := p.serverFor(dir)
	if r == nil {
		return nil, errNoServer(dir)
	}
	if p.opt.AllowDirect && r.cfg.Local && p.opt.Local != nil {
		return p.opt.Local.Dispatch(call, payload)
	}
	return r.call(call, payload)
}

func dialTimeout(addr string) (net.Conn, error) {
	return net.DialTimeout("tcp", addr, SocketTimeout)
}

// reconnectBackoff is the exponential reconnect policy for the
// notification reader: a dropped listen_notification channel backs off
// instead of busy-looping a reconnect attempt.
func reconnectBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0 // retry forever; the reader outlives any one outage
	return b
}
