package exrpc

import (
	"encoding/binary"
	"io"
)

// NotifyDir tells how a DB_NOTIFY is addressed: via its folder alone, or
// via a specific message in that folder.
type NotifyDir uint8

const (
	DirNotifyViaFolder NotifyDir = iota
	DirNotifyViaMessage
)

// DBNotify mirrors store.Notification on the wire: enough to reconstruct
// what changed without shipping full property rows (subscribers re-read
// via the normal get_*_properties verbs if they need more).
type DBNotify struct {
	Kind      uint8
	FolderID  uint64
	MessageID uint64
}

const (
	NotifyKindObjectCreated uint8 = iota
	NotifyKindObjectModified
	NotifyKindObjectMoved
	NotifyKindObjectDeleted
	NotifyKindNewMail
	NotifyKindTableRowAdded
	NotifyKindTableRowDeleted
	NotifyKindTableRowModified
)

// Datagram is one DB_NOTIFY_DATAGRAM: a table-notification flag, the
// subscriber ids the server believes are interested, and the change
// itself.
type Datagram struct {
	Dir     NotifyDir
	BTable  bool
	IDArray []uint32
	Notify  DBNotify
}

// EncodeDatagram renders d into its wire form.
func EncodeDatagram(d Datagram) []byte {
	buf := make([]byte, 0, 32+4*len(d.IDArray))
	buf = append(buf, byte(d.Dir))
	if d.BTable {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	var tmp4 [4]byte
	binary.LittleEndian.PutUint32(tmp4[:], uint32(len(d.IDArray)))
	buf = append(buf, tmp4[:]...)
	for _, id := range d.IDArray {
		binary.LittleEndian.PutUint32(tmp4[:], id)
		buf = append(buf, tmp4[:]...)
	}
	buf = append(buf, d.Notify.Kind)
	var tmp8 [8]byte
	binary.LittleEndian.PutUint64(tmp8[:], d.Notify.FolderID)
	buf = append(buf, tmp8[:]...)
	binary.LittleEndian.PutUint64(tmp8[:], d.Notify.MessageID)
	buf = append(buf, tmp8[:]...)
	return buf
}

// DecodeDatagram parses a Datagram from its wire form.
func DecodeDatagram(b []byte) (Datagram, error) {
	var d Datagram
	if len(b) < 1+1+4 {
		return d, io.ErrUnexpectedEOF
	}
	d.Dir = NotifyDir(b[0])
	d.BTable = b[1] != 0
	n := binary.LittleEndian.Uint32(b[2:6])
	off := 6
	for i := uint32(0); i < n; i++ {
		if off+4 > len(b) {
			return d, io.ErrUnexpectedEOF
		}
		d.IDArray = append(d.IDArray, binary.LittleEndian.Uint32(b[off:off+4]))
		off += 4
	}
	if off+1+8+8 > len(b) {
		return d, io.ErrUnexpectedEOF
	}
	d.Notify.Kind = b[off]
	off++
	d.Notify.FolderID = binary.LittleEndian.Uint64(b[off : off+8])
	off += 8
	d.Notify.MessageID = binary.LittleEndian.Uint64(b[off : off+8])
	return d, nil
}

// WriteDatagram frames and writes d to the notification channel.
func WriteDatagram(w io.Writer, d Datagram) error {
	payload := EncodeDatagram(d)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadDatagram reads one [u32 len][payload] frame. A zero length is a
// keepalive ping the caller must reply to with a single success byte, not
// a Datagram — callers should check for io.EOF-free zero-length reads via
// ReadDatagramOrPing.
func ReadDatagram(r io.Reader) (Datagram, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Datagram{}, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	payload := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Datagram{}, err
		}
	}
	return DecodeDatagram(payload)
}

// ReadDatagramOrPing reads one frame, reporting isPing=true for a
// zero-length keepalive instead of attempting to decode it as a Datagram.
func ReadDatagramOrPing(r io.Reader) (d Datagram, isPing bool, err error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Datagram{}, false, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n == 0 {
		return Datagram{}, true, nil
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Datagram{}, false, err
	}
	d, err = DecodeDatagram(payload)
	return d, false, err
}
