package ident

import "github.com/google/uuid"

// PropID is a 16-bit property id. Values below 0x8000 are well-known MAPI
// properties; values at or above 0x8000 are dynamically assigned named
// properties, scoped per store.
type PropID uint16

// NamedPropKind distinguishes the two ways a named property can be keyed.
type NamedPropKind uint8

const (
	NamedPropByLID  NamedPropKind = iota // numeric "long id" within GUID
	NamedPropByName                      // string name within GUID
)

// NamedPropKey is the (GUID, kind, lid-or-name) triple that a named
// property id is assigned to exactly once.
type NamedPropKey struct {
	GUID uuid.UUID
	Kind NamedPropKind
	LID  uint32 // valid when Kind == NamedPropByLID
	Name string // valid when Kind == NamedPropByName
}

// PropType is the MAPI property type tag (low 16 bits of a PROPTAG).
type PropType uint16

const (
	PtUnspecified PropType = 0x0000
	PtShort       PropType = 0x0002
	PtLong        PropType = 0x0003
	PtFloat       PropType = 0x0004
	PtDouble      PropType = 0x0005
	PtCurrency    PropType = 0x0006
	PtAppTime     PropType = 0x0007
	PtBoolean     PropType = 0x000B
	PtObject      PropType = 0x000D
	PtI8          PropType = 0x0014
	PtString8     PropType = 0x001E
	PtUnicode     PropType = 0x001F
	PtSysTime     PropType = 0x0040
	PtGUID        PropType = 0x0048
	PtBinary      PropType = 0x0102
	PtMvLong      PropType = 0x1003
	PtMvBinary    PropType = 0x1102
	PtMvUnicode   PropType = 0x101F
)

// PropTag is a 32-bit (PropID<<16 | PropType) tag, the unit property
// reads/writes and FastTransfer serialize against.
type PropTag uint32

func MakeTag(id PropID, typ PropType) PropTag {
	return PropTag(uint32(id)<<16 | uint32(typ))
}

func (t PropTag) ID() PropID    { return PropID(uint32(t) >> 16) }
func (t PropTag) Type() PropType { return PropType(uint32(t) & 0xFFFF) }

// Well-known property tags used by the core directly (the bulk of the MAPI
// property space is opaque to this layer — frontends own the rest).
const (
	PrChangeKey               PropTag = 0x65E20102 // PT_BINARY
	PrPredecessorChangeList    PropTag = 0x65E30102 // PT_BINARY
	PrDisplayName             PropTag = 0x3001001F
	PrCreationTime            PropTag = 0x30070040
	PrLastModificationTime    PropTag = 0x30080040
	PrMessageDeliveryTime     PropTag = 0x0E060040
	PrReadReceiptRequested    PropTag = 0x0029000B
	PrMessageFlags            PropTag = 0x0E070003
	PrConflictItems           PropTag = 0x67430102
	PrSourceKey               PropTag = 0x65E00102
	PrParentSourceKey         PropTag = 0x65E10102
	PrChangeNumber            PropTag = 0x67A40014
	PrAssociated              PropTag = 0x67AA000B
	PrMessageSize             PropTag = 0x0E080003 // PT_LONG
	PrMessageSizeExtended     PropTag = 0x0E080014 // PT_I8
	PrEmailAddress            PropTag = 0x3003001F // PT_UNICODE
	PrSmtpAddress             PropTag = 0x39FE001F // PT_UNICODE
	PrAutoreplyTimestamp      PropTag = 0x68FF0040 // PT_SYSTIME, store-wide "last autoreply sent" mark
)
