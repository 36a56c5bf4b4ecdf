package exrpc

import (
	"encoding/binary"
	"fmt"
)

// ConnectRequest is the connect PDU's payload.
type ConnectRequest struct {
	Prefix   string // store directory prefix the client wants to talk to
	RemoteID string // the calling daemon's identity, for pool/notification pairing
	Private  bool   // b_private: true for a private (user) store, false for public
}

// EncodePayload renders r as a connect request payload: two NUL-terminated
// UTF-8 strings followed by a one-byte bool, matching §4.2's "strings on
// the wire are NUL-terminated UTF-8" encoding rule.
func (r ConnectRequest) EncodePayload() []byte {
	buf := append([]byte(r.Prefix), 0)
	buf = append(buf, r.RemoteID...)
	buf = append(buf, 0)
	if r.Private {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

// DecodeConnectRequest parses a connect request payload.
func DecodeConnectRequest(b []byte) (ConnectRequest, error) {
	var r ConnectRequest
	prefix, rest, err := readCString(b)
	if err != nil {
		return r, fmt.Errorf("exrpc: connect: prefix: %v", err)
	}
	remote, rest, err := readCString(rest)
	if err != nil {
		return r, fmt.Errorf("exrpc: connect: remote_id: %v", err)
	}
	if len(rest) < 1 {
		return r, fmt.Errorf("exrpc: connect: missing b_private byte")
	}
	r.Prefix = prefix
	r.RemoteID = remote
	r.Private = rest[0] != 0
	return r, nil
}

func readCString(b []byte) (string, []byte, error) {
	for i, c := range b {
		if c == 0 {
			return string(b[:i]), b[i+1:], nil
		}
	}
	return "", nil, fmt.Errorf("unterminated string")
}

// listenNotification is sent on the parallel notification socket, carrying
// only the remote id so the server can pair it with the command channel
// opened for the same remote.
type ListenNotificationRequest struct {
	RemoteID string
}

func (r ListenNotificationRequest) EncodePayload() []byte {
	return append([]byte(r.RemoteID), 0)
}

func DecodeListenNotificationRequest(b []byte) (ListenNotificationRequest, error) {
	remote, _, err := readCString(b)
	return ListenNotificationRequest{RemoteID: remote}, err
}

// putUint32 / getUint32 are the little-endian helpers every verb's payload
// codec is built from, per §4.2 "All integers little-endian".
func putUint32(buf []byte, v uint32) { binary.LittleEndian.PutUint32(buf, v) }
func getUint32(buf []byte) uint32    { return binary.LittleEndian.Uint32(buf) }

func putUint64(buf []byte, v uint64) { binary.LittleEndian.PutUint64(buf, v) }
func getUint64(buf []byte) uint64    { return binary.LittleEndian.Uint64(buf) }
