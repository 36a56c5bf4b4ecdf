// Package mime holds the RFC 5322 / MIME primitives the mailbox store uses
// to turn a raw message blob into property values at delivery time and back
// into a raw blob when a client asks for the canonical rendition of a
// message (the "eml/" side of the content-addressed blob store).
package mime

import (
	"bytes"
	"fmt"
	"io"
)

// Key is a canonical MIME header field name. Use CanonicalKey to build one.
type Key string

// HeaderEntry is a single Key: Value pair, preserving the original order
// and wording so re-encoding a parsed header is close to byte-identical to
// the source when the source already folded conservatively.
type HeaderEntry struct {
	Key   Key
	Value []byte
}

// Encode writes the entry back out, folding long values at or before column
// 78 and, failing that, before the RFC 5322 hard limit of 998.
func (entry *HeaderEntry) Encode(w io.Writer) (n int, err error) {
	var wErr error
	defer func() {
		if err == nil {
			err = wErr
		}
	}()
	printf := func(format string, args ...interface{}) {
		n2, err := fmt.Fprintf(w, format, args...)
		if wErr == nil {
			wErr = err
		}
		n += n2
	}

	v := entry.Value
	if len(v) == 0 {
		printf("%s:\r\n", entry.Key)
		return n, nil
	}
	printf("%s: ", entry.Key)

	const padding = "    "
	spent := len(entry.Key) - len(": ")
	limit := 78
	firstPass := false
	for {
		if len(v) < limit-spent {
			printf("%s", v)
			break
		}
		var i int
		for i = limit - spent - 1; i > 0; i-- {
			if v[i] == ' ' {
				break
			}
		}
		if i == 0 {
			if limit == 78 {
				limit = 998
				continue
			}
			i = 998 - spent
		}
		if firstPass {
			printf("%s", v[:i])
			firstPass = false
		} else {
			printf("%s\r\n%s", v[:i], padding)
		}
		spent = len(padding)
		limit = 78
		v = v[i:]
	}
	printf("\r\n")
	return n, nil
}

// Header is an ordered, indexed set of header entries.
type Header struct {
	Entries []HeaderEntry
	Index   map[Key][][]byte
}

func (h *Header) Add(k Key, v []byte) {
	h.Entries = append(h.Entries, HeaderEntry{Key: k, Value: v})
	if h.Index == nil {
		h.Index = make(map[Key][][]byte)
	}
	h.Index[k] = append(h.Index[k], v)
}

// Get returns the first value stored under k, or nil.
func (h *Header) Get(k Key) []byte {
	if h.Index == nil {
		h.Index = make(map[Key][][]byte)
		for _, entry := range h.Entries {
			h.Index[entry.Key] = append(h.Index[entry.Key], entry.Value)
		}
	}
	vals := h.Index[k]
	if len(vals) == 0 {
		return nil
	}
	return vals[0]
}

// All returns every value stored under k, in header order.
func (h *Header) All(k Key) [][]byte {
	h.Get(k) // force Index build
	return h.Index[k]
}

func (h *Header) Del(k Key) {
	e := h.Entries[:0]
	for _, entry := range h.Entries {
		if entry.Key != k {
			e = append(e, entry)
		}
	}
	h.Entries = e
	if h.Index != nil {
		delete(h.Index, k)
	}
}

func (h *Header) Encode(w io.Writer) (n int, err error) {
	for _, entry := range h.Entries {
		n2, err := entry.Encode(w)
		n += n2
		if err != nil {
			return n, err
		}
	}
	n2, err := io.WriteString(w, "\r\n")
	n += n2
	return n, err
}

func (h Header) String() string {
	buf := new(bytes.Buffer)
	if _, err := h.Encode(buf); err != nil {
		return fmt.Sprintf("mime.Header(encode error: %v)", err)
	}
	return buf.String()
}

// CanonicalKey maps raw header field bytes to their canonical spelling.
// The table below favors MAPI/Exchange-adjacent and transport headers the
// store cares about (Message-ID, delivery tracing, Exchange cross-tenant
// headers); anything unrecognized falls through to the generic
// Dash-Capitalized form.
func CanonicalKey(keyBytes []byte) Key {
	b := append([]byte(nil), keyBytes...)
	asciiLower(b)

	switch string(b) {
	case "subject":
		return "Subject"
	case "date":
		return "Date"
	case "to":
		return "To"
	case "from":
		return "From"
	case "cc":
		return "Cc"
	case "bcc":
		return "Bcc"
	case "reply-to":
		return "Reply-To"
	case "sender":
		return "Sender"
	case "content-id":
		return "Content-ID"
	case "content-disposition":
		return "Content-Disposition"
	case "content-length":
		return "Content-Length"
	case "content-type":
		return "Content-Type"
	case "content-transfer-encoding":
		return "Content-Transfer-Encoding"
	case "content-language":
		return "Content-Language"
	case "received":
		return "Received"
	case "return-path":
		return "Return-Path"
	case "delivered-to":
		return "Delivered-To"
	case "message-id":
		return "Message-ID"
	case "references":
		return "References"
	case "in-reply-to":
		return "In-Reply-To"
	case "mime-version":
		return "MIME-Version"
	case "x-mailer":
		return "X-Mailer"
	case "x-ms-has-attach":
		return "X-MS-Has-Attach"
	case "x-ms-tnef-correlator":
		return "X-MS-TNEF-Correlator"
	case "thread-topic":
		return "Thread-Topic"
	case "thread-index":
		return "Thread-Index"
	case "x-originating-ip":
		return "X-Originating-IP"
	case "x-ms-exchange-crosstenant-network-message-id":
		return "X-MS-Exchange-CrossTenant-Network-Message-Id"
	case "x-ms-exchange-crosstenant-id":
		return "X-MS-Exchange-CrossTenant-id"
	case "x-ms-exchange-crosstenant-originalarrivaltime":
		return "X-MS-Exchange-CrossTenant-originalarrivaltime"
	case "authentication-results":
		return "Authentication-Results"
	case "received-spf":
		return "Received-SPF"
	case "dkim-signature":
		return "DKIM-Signature"
	case "auto-submitted":
		return "Auto-Submitted"
	case "precedence":
		return "Precedence"
	case "importance":
		return "Importance"
	case "x-priority":
		return "X-Priority"
	case "x-auto-response-suppress":
		return "X-Auto-Response-Suppress"
	default:
		for i, c := range b {
			if 'a' <= c && c <= 'z' {
				if i == 0 || b[i-1] == '-' {
					b[i] -= 'a' - 'A'
				}
			}
		}
		return Key(b)
	}
}

func asciiLower(data []byte) {
	for i, b := range data {
		if b >= 'A' && b <= 'Z' {
			data[i] = b + ('a' - 'A')
		}
	}
}
