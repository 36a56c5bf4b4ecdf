// Package exrpc is the exmdb wire protocol: PDU framing, the verb name
// table, and the shared compound-type encoding (proplist, tagged-propval,
// id-set, …) used by both the RPC server and the client pool. It owns no
// store or socket state of its own — see internal/exclient for the pooled
// client and cmd/exmdbd for the server loop.
package exrpc

import (
	"encoding/binary"
	"fmt"
	"io"
)

// maxFrameLength bounds a single PDU so a corrupt or hostile length prefix
// cannot make the reader allocate unbounded memory; no legitimate verb
// payload approaches this.
const maxFrameLength = 256 << 20

// ResponseCode is the single byte a connect (or any terminal protocol
// error) reply carries.
type ResponseCode uint8

const (
	RespSuccess ResponseCode = iota
	RespAccessDenied
	RespMaxReached
	RespLackMemory
	RespMisconfigPrefix
	RespMisconfigMode
	RespPullError
	RespDispatchError
	RespBadSwitch
)

func (c ResponseCode) String() string {
	switch c {
	case RespSuccess:
		return "success"
	case RespAccessDenied:
		return "access_denied"
	case RespMaxReached:
		return "max_reached"
	case RespLackMemory:
		return "lack_memory"
	case RespMisconfigPrefix:
		return "misconfig_prefix"
	case RespMisconfigMode:
		return "misconfig_mode"
	case RespPullError:
		return "pull_error"
	case RespDispatchError:
		return "dispatch_error"
	case RespBadSwitch:
		return "bad_switch"
	default:
		return fmt.Sprintf("response_code(%d)", uint8(c))
	}
}

// Request is one PDU on the control channel: [u32 length][u8 call_id]
// [payload], length excluding itself.
type Request struct {
	Call    CallID
	Payload []byte
}

// WriteRequest frames and writes req to w.
func WriteRequest(w io.Writer, req Request) error {
	if len(req.Payload) > maxFrameLength {
		return fmt.Errorf("exrpc: request payload too large: %d bytes", len(req.Payload))
	}
	buf := make([]byte, 4+1+len(req.Payload))
	binary.LittleEndian.PutUint32(buf[:4], uint32(1+len(req.Payload)))
	buf[4] = byte(req.Call)
	copy(buf[5:], req.Payload)
	_, err := w.Write(buf)
	return err
}

// ReadRequest reads one framed request from r.
func ReadRequest(r io.Reader) (Request, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Request{}, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n == 0 {
		// Zero-length PDU: the keepalive ping.
		return Request{Call: CallID(0xFF)}, nil
	}
	if n > maxFrameLength {
		return Request{}, fmt.Errorf("exrpc: request frame too large: %d bytes", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Request{}, err
	}
	return Request{Call: CallID(body[0]), Payload: body[1:]}, nil
}

// IsPing reports whether req is the zero-length keepalive PDU rather than a
// verb call.
func (req Request) IsPing() bool { return req.Call == CallID(0xFF) && req.Payload == nil }

// Response is one reply: a response code, and — on success — a
// length-prefixed payload.
type Response struct {
	Code    ResponseCode
	Payload []byte
}

// WriteResponse frames and writes resp to w. A non-success code carries no
// payload, matching the connect handshake's "1 byte of response code
// followed (on success) by the rest".
func WriteResponse(w io.Writer, resp Response) error {
	if resp.Code != RespSuccess {
		_, err := w.Write([]byte{byte(resp.Code)})
		return err
	}
	buf := make([]byte, 1+4+len(resp.Payload))
	buf[0] = byte(resp.Code)
	binary.LittleEndian.PutUint32(buf[1:5], uint32(len(resp.Payload)))
	copy(buf[5:], resp.Payload)
	_, err := w.Write(buf)
	return err
}

// ReadResponse reads one response frame from r.
func ReadResponse(r io.Reader) (Response, error) {
	var codeBuf [1]byte
	if _, err := io.ReadFull(r, codeBuf[:]); err != nil {
		return Response{}, err
	}
	code := ResponseCode(codeBuf[0])
	if code != RespSuccess {
		return Response{Code: code}, nil
	}
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Response{}, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n > maxFrameLength {
		return Response{}, fmt.Errorf("exrpc: response frame too large: %d bytes", n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Response{}, err
	}
	return Response{Code: code, Payload: payload}, nil
}

// WritePing writes the zero-length keepalive PDU.
func WritePing(w io.Writer) error {
	_, err := w.Write([]byte{0, 0, 0, 0})
	return err
}

// WritePingReply writes the single-byte keepalive reply. Unlike a normal
// Response, a ping reply carries no length-prefixed payload even on
// success — ReadPingReply is its matching reader, not ReadResponse.
func WritePingReply(w io.Writer, ok bool) error {
	code := RespSuccess
	if !ok {
		code = RespPullError
	}
	_, err := w.Write([]byte{byte(code)})
	return err
}

// ReadPingReply reads the single-byte reply WritePingReply writes.
func ReadPingReply(r io.Reader) (bool, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return false, err
	}
	return ResponseCode(b[0]) == RespSuccess, nil
}
