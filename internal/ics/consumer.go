package ics

import (
	"encoding/binary"
	"fmt"
	"io"

	"gromox.run/internal/exrpc"
)

// Record is one parsed unit of an incoming FastTransfer stream: either a
// bare marker or a property list, mirroring the producer's grammar.
type Record struct {
	IsMarker bool
	Marker   Marker
	Props    exrpc.PropList
}

// Consumer parses a FastTransfer byte stream incrementally as buffers
// arrive from fasttransferdestputbuffer, without assuming the whole
// stream is available at once.
type Consumer struct {
	pending []byte
}

// Feed appends newly received bytes and returns every Record that could be
// fully parsed from the accumulated buffer. Partial trailing data is kept
// for the next Feed call.
func (c *Consumer) Feed(b []byte) ([]Record, error) {
	c.pending = append(c.pending, b...)
	var out []Record
	for {
		rec, n, err := c.tryParseOne(c.pending)
		if err == io.ErrShortBuffer {
			break
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
		c.pending = c.pending[n:]
	}
	return out, nil
}

// tryParseOne attempts one record from the front of b. A marker value is
// distinguished from a TPROPVAL_ARRAY count by range: every Marker constant
// here is >= 0x40000000, far above any realistic property-list length
// (capped well under that by exrpc.maxFrameLength-sized payloads).
func (c *Consumer) tryParseOne(b []byte) (Record, int, error) {
	if len(b) < 4 {
		return Record{}, 0, io.ErrShortBuffer
	}
	head := binary.LittleEndian.Uint32(b[:4])
	if head >= 0x40000000 {
		return Record{IsMarker: true, Marker: Marker(head)}, 4, nil
	}
	list, rest, err := decodePropListPrefix(b)
	if err == io.ErrShortBuffer {
		return Record{}, 0, io.ErrShortBuffer
	}
	if err != nil {
		return Record{}, 0, err
	}
	return Record{Props: list}, len(b) - len(rest), nil
}

// decodePropListPrefix is exrpc.DecodePropList but tolerant of a buffer
// that doesn't yet contain the whole list, reporting io.ErrShortBuffer
// instead of an error in that case.
func decodePropListPrefix(b []byte) (exrpc.PropList, []byte, error) {
	if len(b) < 4 {
		return nil, nil, io.ErrShortBuffer
	}
	n := binary.LittleEndian.Uint32(b[:4])
	rest := b[4:]
	out := make(exrpc.PropList, 0, n)
	for i := uint32(0); i < n; i++ {
		pv, next, err := tryDecodeTaggedPropVal(rest)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, pv)
		rest = next
	}
	return out, rest, nil
}

func tryDecodeTaggedPropVal(b []byte) (exrpc.TaggedPropVal, []byte, error) {
	pv, rest, err := exrpc.DecodeTaggedPropVal(b)
	if err != nil {
		return exrpc.TaggedPropVal{}, nil, io.ErrShortBuffer
	}
	return pv, rest, nil
}

// ErrUnexpectedRecord reports a FastTransfer record that doesn't fit the
// grammar position expected. Consumer itself never returns it, and no code
// in this module does; it is exported for an import loop built on Consumer.
var ErrUnexpectedRecord = fmt.Errorf("ics: unexpected record in FastTransfer stream")
