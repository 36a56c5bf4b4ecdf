package mime

import "io"

// Buffer is a seekable content store for a part's decoded bytes. In
// practice it is backed by an *iox.BufferFile (spills to disk past a size
// threshold) or a *sqlite.Blob opened against the cid/ content store.
type Buffer interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer
	Size() int64
}

// Part is a single leaf of a message's MIME tree, flattened: the store
// does not need to preserve multipart/* structure exactly, only enough to
// rebuild an equivalent tree (body parts first, attachments after).
type Part struct {
	PartNum      int
	Name         string
	IsBody       bool
	IsAttachment bool
	ContentType  string
	ContentID    string
	Disposition  string // "inline" or "attachment", "" if absent
	Content      Buffer
	CID          string // content-addressed blob id in the cid/ store, once flushed
}

// Message is the parsed form of a delivered or exported RFC 5322 message:
// a header plus a flattened list of parts. It carries none of the
// mailbox-scoped bookkeeping (folder id, message id, change number) —
// those live on the store's message row, not here.
type Message struct {
	Headers     Header
	Parts       []Part // Parts[i].PartNum == i
	EncodedSize int64
}

func (m *Message) Close() {
	for i := range m.Parts {
		if m.Parts[i].Content != nil {
			m.Parts[i].Content.Close()
			m.Parts[i].Content = nil
		}
	}
}

// Subject, From, To, Cc are convenience accessors used by the store when
// populating the cheap header properties (PR_SUBJECT, PR_SENT_REPRESENTING_*,
// PR_DISPLAY_TO, PR_DISPLAY_CC) without re-parsing addresses for every read.
func (m *Message) Subject() string { return string(m.Headers.Get("Subject")) }

func (m *Message) From() (Address, bool) {
	v := m.Headers.Get("From")
	if v == nil {
		return Address{}, false
	}
	addrs, err := ParseAddressList(string(v))
	if err != nil || len(addrs) == 0 {
		return Address{}, false
	}
	return addrs[0], true
}

func (m *Message) AddressList(key Key) []Address {
	v := m.Headers.Get(key)
	if v == nil {
		return nil
	}
	addrs, _ := ParseAddressList(string(v))
	return addrs
}
