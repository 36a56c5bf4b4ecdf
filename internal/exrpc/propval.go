package exrpc

import (
	"encoding/binary"
	"fmt"
)

// TaggedPropVal is the wire form of one property tag/value pair, the unit
// every property-bearing verb (get/set_*_properties, FastTransfer) moves
// in bulk. Encoding here covers the fixed-width and length-prefixed
// variable-width types the store's property bag actually produces or
// consumes (PT_LONG, PT_I8, PT_SYSTIME, PT_BOOLEAN, PT_BINARY, PT_UNICODE,
// PT_STRING8); other PT_* values round-trip as opaque PT_BINARY, which is
// sufficient for a core that treats property values as typed byte blobs
// end to end.
type TaggedPropVal struct {
	Tag   uint32 // PropID<<16 | PropType
	Value []byte
}

const (
	ptShort     = 0x0002
	ptLong      = 0x0003
	ptFloat     = 0x0004
	ptDouble    = 0x0005
	ptBoolean   = 0x000B
	ptI8        = 0x0014
	ptSysTime   = 0x0040
	ptGUID      = 0x0048
	ptString8   = 0x001E
	ptUnicode   = 0x001F
	ptBinary    = 0x0102
	ptMvBinary  = 0x1102
	ptMvUnicode = 0x101F
)

func propType(tag uint32) uint16 { return uint16(tag & 0xFFFF) }

// fixedWidth returns the on-wire byte width of typ's value for the
// fixed-size property types, or 0 if typ is variable-width (the caller
// must consult a length prefix instead).
func fixedWidth(typ uint16) int {
	switch typ {
	case ptShort:
		return 2
	case ptLong, ptFloat:
		return 4
	case ptDouble, ptI8, ptSysTime:
		return 8
	case ptBoolean:
		return 1
	case ptGUID:
		return 16
	default:
		return 0
	}
}

// EncodeTaggedPropVal appends pv's wire form to buf: a u32 tag, then
// either the fixed-width value inline or a u32 length followed by the
// bytes for a variable-width type.
func EncodeTaggedPropVal(buf []byte, pv TaggedPropVal) []byte {
	var tagBuf [4]byte
	putUint32(tagBuf[:], pv.Tag)
	buf = append(buf, tagBuf[:]...)

	typ := propType(pv.Tag)
	if w := fixedWidth(typ); w > 0 {
		v := pv.Value
		if len(v) < w {
			v = append(v, make([]byte, w-len(v))...)
		}
		return append(buf, v[:w]...)
	}
	var lenBuf [4]byte
	putUint32(lenBuf[:], uint32(len(pv.Value)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, pv.Value...)
}

// DecodeTaggedPropVal parses one TaggedPropVal from the front of b,
// returning it and the unconsumed remainder.
func DecodeTaggedPropVal(b []byte) (TaggedPropVal, []byte, error) {
	if len(b) < 4 {
		return TaggedPropVal{}, nil, fmt.Errorf("exrpc: propval: truncated tag")
	}
	tag := getUint32(b[:4])
	b = b[4:]
	typ := propType(tag)

	if w := fixedWidth(typ); w > 0 {
		if len(b) < w {
			return TaggedPropVal{}, nil, fmt.Errorf("exrpc: propval: truncated fixed value")
		}
		v := make([]byte, w)
		copy(v, b[:w])
		return TaggedPropVal{Tag: tag, Value: v}, b[w:], nil
	}
	if len(b) < 4 {
		return TaggedPropVal{}, nil, fmt.Errorf("exrpc: propval: truncated length")
	}
	n := getUint32(b[:4])
	b = b[4:]
	if uint32(len(b)) < n {
		return TaggedPropVal{}, nil, fmt.Errorf("exrpc: propval: truncated variable value")
	}
	v := make([]byte, n)
	copy(v, b[:n])
	return TaggedPropVal{Tag: tag, Value: v}, b[n:], nil
}

// PropList is a TPROPVAL_ARRAY: a count followed by that many
// TaggedPropVals, the unit get_*_properties/set_*_properties and every
// FastTransfer property record move.
type PropList []TaggedPropVal

// EncodePropList renders l as count:u32 + entries.
func EncodePropList(l PropList) []byte {
	buf := make([]byte, 4)
	putUint32(buf, uint32(len(l)))
	for _, pv := range l {
		buf = EncodeTaggedPropVal(buf, pv)
	}
	return buf
}

// DecodePropList parses a PropList from the front of b.
func DecodePropList(b []byte) (PropList, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("exrpc: proplist: truncated count")
	}
	n := getUint32(b[:4])
	b = b[4:]
	out := make(PropList, 0, n)
	for i := uint32(0); i < n; i++ {
		var pv TaggedPropVal
		var err error
		pv, b, err = DecodeTaggedPropVal(b)
		if err != nil {
			return nil, err
		}
		out = append(out, pv)
	}
	return out, nil
}

// EncodePropTagList renders a plain list of property tags (get_*_proptags'
// return shape): count:u32 + u32 tags.
func EncodePropTagList(tags []uint32) []byte {
	buf := make([]byte, 4, 4+4*len(tags))
	putUint32(buf, uint32(len(tags)))
	var tmp [4]byte
	for _, t := range tags {
		putUint32(tmp[:], t)
		buf = append(buf, tmp[:]...)
	}
	return buf
}

// DecodePropTagList parses the shape EncodePropTagList produces.
func DecodePropTagList(b []byte) ([]uint32, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("exrpc: proptaglist: truncated count")
	}
	n := binary.LittleEndian.Uint32(b[:4])
	b = b[4:]
	out := make([]uint32, 0, n)
	for i := uint32(0); i < n; i++ {
		if len(b) < 4 {
			return nil, fmt.Errorf("exrpc: proptaglist: truncated entry")
		}
		out = append(out, binary.LittleEndian.Uint32(b[:4]))
		b = b[4:]
	}
	return out, nil
}
