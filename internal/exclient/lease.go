package exclient

import (
	"fmt"
	"time"

	"gromox.run/internal/exrpc"
)

// Lease is an RAII-style handle on one leased connection: acquire via
// Pool.Acquire, use Call any number of times (for a FastTransfer stream
// that must stay pinned to one connection across several frames), then
// Release(lost) exactly once. Forgetting to Release leaks the remote's
// active-handle slot.
type Lease struct {
	r  *remoteServer
	c  *idleConn
	done bool
}

// Acquire checks out a connection to whichever remote owns dir. AllowDirect
// short-circuiting does not apply here: a Lease is for callers that need
// the real connection (streaming verbs), not single-shot dispatch.
func (p *Pool) Acquire(dir string) (*Lease, error) {
	r := p.serverFor(dir)
	if r == nil {
		return nil, errNoServer(dir)
	}
	c, err := r.get()
	if err != nil {
		return nil, err
	}
	return &Lease{r: r, c: c}, nil
}

// Call issues one request/response exchange over the leased connection.
func (l *Lease) Call(call exrpc.CallID, payload []byte) ([]byte, error) {
	if l.done {
		return nil, fmt.Errorf("exclient: lease already released")
	}
	if timeout := l.r.pool.opt.RPCTimeout; timeout > 0 {
		l.c.SetDeadline(time.Now().Add(timeout))
	}
	if err := exrpc.WriteRequest(l.c, exrpc.Request{Call: call, Payload: payload}); err != nil {
		return nil, err
	}
	resp, err := exrpc.ReadResponse(l.c)
	if err != nil {
		return nil, err
	}
	l.c.SetDeadline(time.Time{})
	if resp.Code != exrpc.RespSuccess {
		return nil, fmt.Errorf("exclient: %s: %s", call.Name(), resp.Code)
	}
	return resp.Payload, nil
}

// Release returns the connection to its pool, or drops it if lost reports
// the connection is no longer known good (a read/write error, a dropped
// stream mid-FastTransfer).
func (l *Lease) Release(lost bool) {
	if l.done {
		return
	}
	l.done = true
	if lost {
		l.r.discard(l.c)
	} else {
		l.r.put(l.c)
	}
}
