package ics

import (
	"encoding/binary"

	"crawshaw.io/iox"

	"gromox.run/internal/exrpc"
)

// Marker is one of the FastTransfer grammar's 32-bit delimiter values. The
// numeric values below are this implementation's own stable assignment
// rather than a byte-exact reproduction of the MS-OXCFXICS wire values:
// this producer and its own consumer only need to agree with each other,
// not interoperate with another implementation.
type Marker uint32

const (
	MarkerStartTopFld Marker = 0x40090000 + iota
	MarkerStartSubFld
	MarkerEndFolder
	MarkerStartMessage
	MarkerStartFAIMsg
	MarkerEndMessage
	MarkerStartEmbed
	MarkerEndEmbed
	MarkerStartRecip
	MarkerEndToRecip
	MarkerNewAttach
	MarkerEndAttach
	MarkerIncrSyncChg
	MarkerIncrSyncChgPartial
	MarkerIncrSyncDel
	MarkerIncrSyncEnd
	MarkerIncrSyncRead
)

// producerBufferLength is a 1 MiB in-memory buffer size; Producer does not
// read it, since NewProducer's memSize argument sets the BufferFile's
// in-memory size. producerPointLength is the normal break-point stride.
const (
	producerBufferLength = 1 << 20
	producerPointLength  = 48 << 10
)

// Producer streams TPROPVAL data (and folder/message/attachment markers)
// into a growable iox.BufferFile, recording break points the consumer's
// read_buffer may safely cut at. Overflow past the BufferFile's in-memory
// size spills to disk via the same crawshaw.io/iox mechanism internal/mime
// uses for large message parts.
type Producer struct {
	buf    *iox.BufferFile
	size   int64
	breaks []int64 // byte offsets, ascending, each a safe cut line
}

// NewProducer allocates a producer backed by filer; memSize is the initial
// in-memory capacity before the BufferFile itself decides to spill.
func NewProducer(filer *iox.Filer, memSize int) *Producer {
	return &Producer{buf: filer.BufferFile(memSize)}
}

func (p *Producer) write(b []byte) error {
	if _, err := p.buf.Write(b); err != nil {
		return err
	}
	p.size += int64(len(b))
	return nil
}

// mark writes a marker record: a bare u32 marker value.
func (p *Producer) mark(m Marker) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(m))
	if err := p.write(buf[:]); err != nil {
		return err
	}
	p.maybeNormalBreak()
	return nil
}

// WriteProps appends one TPROPVAL_ARRAY record. A long-value break is
// recorded immediately after if the record pushed past the normal-break
// threshold.
func (p *Producer) WriteProps(list exrpc.PropList) error {
	before := p.size
	if err := p.write(exrpc.EncodePropList(list)); err != nil {
		return err
	}
	if p.size-before >= producerPointLength {
		p.breaks = append(p.breaks, p.size)
	} else {
		p.maybeNormalBreak()
	}
	return nil
}

// StartTopFld, StartSubFld, EndFolder, StartMessage, StartFAIMsg,
// EndMessage, StartEmbed, EndEmbed, StartRecip, EndToRecip, NewAttach,
// EndAttach each emit the named marker, one per scope transition.
func (p *Producer) StartTopFld() error   { return p.mark(MarkerStartTopFld) }
func (p *Producer) StartSubFld() error   { return p.mark(MarkerStartSubFld) }
func (p *Producer) EndFolder() error     { return p.mark(MarkerEndFolder) }
func (p *Producer) StartMessage(associated bool) error {
	if associated {
		return p.mark(MarkerStartFAIMsg)
	}
	return p.mark(MarkerStartMessage)
}
func (p *Producer) EndMessage() error  { return p.mark(MarkerEndMessage) }
func (p *Producer) StartEmbed() error  { return p.mark(MarkerStartEmbed) }
func (p *Producer) EndEmbed() error    { return p.mark(MarkerEndEmbed) }
func (p *Producer) StartRecip() error  { return p.mark(MarkerStartRecip) }
func (p *Producer) EndToRecip() error  { return p.mark(MarkerEndToRecip) }
func (p *Producer) NewAttach() error   { return p.mark(MarkerNewAttach) }
func (p *Producer) EndAttach() error   { return p.mark(MarkerEndAttach) }

// IncrSyncChg, IncrSyncDel, IncrSyncEnd mark get_content_sync's change,
// deletion, and end-of-stream records.
func (p *Producer) IncrSyncChg() error { return p.mark(MarkerIncrSyncChg) }
func (p *Producer) IncrSyncDel() error { return p.mark(MarkerIncrSyncDel) }
func (p *Producer) IncrSyncEnd() error { return p.mark(MarkerIncrSyncEnd) }

func (p *Producer) maybeNormalBreak() {
	if len(p.breaks) == 0 || p.size-p.breaks[len(p.breaks)-1] >= producerPointLength {
		p.breaks = append(p.breaks, p.size)
	}
}

// Close releases the underlying buffer file.
func (p *Producer) Close() error { return p.buf.Close() }

// Size returns the number of bytes written so far.
func (p *Producer) Size() int64 { return p.size }

// ReadBuffer is the consumer-side read_buffer(max_len) primitive: it
// returns the largest prefix ending at a registered break point that is
// <= maxLen, and whether it is the stream's final chunk.
func (p *Producer) ReadBuffer(offset int64, maxLen int64) (data []byte, bLast bool, nextOffset int64, err error) {
	if offset >= p.size {
		return nil, true, offset, nil
	}
	remaining := p.size - offset
	if remaining <= maxLen {
		data, err = p.readAt(offset, remaining)
		return data, true, p.size, err
	}

	cut := offset
	for _, b := range p.breaks {
		if b <= offset {
			continue
		}
		if b-offset > maxLen {
			break
		}
		cut = b
	}
	if cut == offset {
		// No registered break fits; cut exactly at maxLen rather than
		// stalling the stream (the consumer only needs a safe cut when
		// one exists inside the window).
		cut = offset + maxLen
	}
	data, err = p.readAt(offset, cut-offset)
	return data, false, cut, err
}

func (p *Producer) readAt(offset, length int64) ([]byte, error) {
	if _, err := p.buf.Seek(offset, 0); err != nil {
		return nil, err
	}
	out := make([]byte, length)
	if _, err := p.buf.Read(out); err != nil {
		return nil, err
	}
	return out, nil
}
