package exrpc

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// Dispatcher executes one verb call against whatever backs this server
// (normally internal/rop's session layer, or internal/store directly for
// verbs with no ROP/handle involvement) and returns its response payload.
// A non-nil error becomes RespDispatchError on the wire.
type Dispatcher interface {
	Dispatch(call CallID, payload []byte) ([]byte, error)
}

// Validator accepts or rejects a connect request's prefix/mode before any
// verb is dispatched.
type Validator interface {
	Validate(req ConnectRequest) ResponseCode
}

// Server is the exmdb RPC listener: one goroutine per accepted connection,
// dispatching each framed request to a Dispatcher, modeled on the
// teacher's imapserver accept-loop shape (ServeTLS's tempDelay backoff).
type Server struct {
	Validator  Validator
	Dispatcher Dispatcher

	// DispatcherFactory, when set, builds one Dispatcher per accepted
	// connection from its connect request, giving internal/rop's session
	// layer somewhere to keep per-connection handle-tree state. It takes
	// precedence over Dispatcher when both are set.
	DispatcherFactory func(req ConnectRequest) (Dispatcher, error)

	// OnNotificationChannel receives a registered listen_notification connection
	// for the given remote id; the caller (cmd/exmdbd) owns draining the
	// store's notifyHub and writing Datagrams to it.
	OnNotificationChannel func(remoteID string, conn net.Conn)

	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	shutdown chan struct{}
}

// Serve accepts connections on ln until Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.conns = make(map[net.Conn]struct{})
	s.shutdown = make(chan struct{})
	s.mu.Unlock()

	var tempDelay time.Duration
	for {
		c, err := ln.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return nil
			default:
			}
			var ne net.Error
			if errors.As(err, &ne) {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if tempDelay > time.Second {
					tempDelay = time.Second
				}
				time.Sleep(tempDelay)
				continue
			}
			return err
		}
		tempDelay = 0

		s.mu.Lock()
		s.conns[c] = struct{}{}
		s.mu.Unlock()
		go s.serveConn(c)
	}
}

// Shutdown stops Serve and closes every live connection.
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown != nil {
		close(s.shutdown)
	}
	for c := range s.conns {
		c.Close()
	}
}

func (s *Server) forget(c net.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	c.Close()
}

func (s *Server) serveConn(c net.Conn) {
	defer s.forget(c)

	req, err := ReadRequest(c)
	if err != nil {
		return
	}
	if req.Call == CallListenNotification {
		ln, err := DecodeListenNotificationRequest(req.Payload)
		if err != nil {
			WriteResponse(c, Response{Code: RespDispatchError})
			return
		}
		WriteResponse(c, Response{Code: RespSuccess})
		if s.OnNotificationChannel != nil {
			s.OnNotificationChannel(ln.RemoteID, c)
		}
		return
	}
	if req.Call != CallConnect {
		WriteResponse(c, Response{Code: RespDispatchError})
		return
	}
	connReq, err := DecodeConnectRequest(req.Payload)
	if err != nil {
		WriteResponse(c, Response{Code: RespDispatchError})
		return
	}
	code := RespSuccess
	if s.Validator != nil {
		code = s.Validator.Validate(connReq)
	}
	if err := WriteResponse(c, Response{Code: code}); err != nil || code != RespSuccess {
		return
	}

	dispatcher := s.Dispatcher
	if s.DispatcherFactory != nil {
		d, err := s.DispatcherFactory(connReq)
		if err != nil {
			WriteResponse(c, Response{Code: RespDispatchError})
			return
		}
		dispatcher = d
	}

	for {
		req, err := ReadRequest(c)
		if err != nil {
			return
		}
		if req.IsPing() {
			WritePingReply(c, true)
			continue
		}
		if req.Call > MaxCallID {
			WriteResponse(c, Response{Code: RespBadSwitch})
			continue
		}
		payload, err := dispatcher.Dispatch(req.Call, req.Payload)
		if err != nil {
			WriteResponse(c, Response{Code: RespDispatchError})
			continue
		}
		if err := WriteResponse(c, Response{Code: RespSuccess, Payload: payload}); err != nil {
			return
		}
	}
}

// ErrNotDispatched is returned by a Dispatcher for a recognized but
// unimplemented CallID, distinct from an unknown opnum (which the name
// table already reports via CallID.Name() == "").
var ErrNotDispatched = fmt.Errorf("exrpc: verb not implemented by this dispatcher")
