package rop

import (
	"encoding/binary"
	"fmt"

	"gromox.run/internal/exrpc"
	"gromox.run/internal/ident"
	"gromox.run/internal/store"
)

// reader is a cursor over a verb's request payload, the codec helper every
// Dispatch case uses to pull fixed-width fields off the front before
// handing the remainder to exrpc's PropList/PropTagList decoders.
type reader struct {
	b []byte
}

func newReader(b []byte) *reader { return &reader{b: b} }

func (r *reader) u32() (uint32, error) {
	if len(r.b) < 4 {
		return 0, fmt.Errorf("rop: truncated u32")
	}
	v := binary.LittleEndian.Uint32(r.b[:4])
	r.b = r.b[4:]
	return v, nil
}

func (r *reader) u64() (uint64, error) {
	if len(r.b) < 8 {
		return 0, fmt.Errorf("rop: truncated u64")
	}
	v := binary.LittleEndian.Uint64(r.b[:8])
	r.b = r.b[8:]
	return v, nil
}

func (r *reader) handle() (Handle, error) {
	v, err := r.u32()
	return Handle(v), err
}

func (r *reader) eid() (ident.EID, error) {
	v, err := r.u64()
	return ident.EID(v), err
}

func (r *reader) bool() (bool, error) {
	if len(r.b) < 1 {
		return false, fmt.Errorf("rop: truncated bool")
	}
	v := r.b[0] != 0
	r.b = r.b[1:]
	return v, nil
}

func (r *reader) i32() (int32, error) {
	v, err := r.u32()
	return int32(v), err
}

func (r *reader) u8() (uint8, error) {
	if len(r.b) < 1 {
		return 0, fmt.Errorf("rop: truncated u8")
	}
	v := r.b[0]
	r.b = r.b[1:]
	return v, nil
}

// eids decodes the count-prefixed list w.eids encodes.
func (r *reader) eids() ([]ident.EID, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([]ident.EID, 0, n)
	for i := uint32(0); i < n; i++ {
		id, err := r.eid()
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func (r *reader) cstring() (string, error) {
	for i, c := range r.b {
		if c == 0 {
			s := string(r.b[:i])
			r.b = r.b[i+1:]
			return s, nil
		}
	}
	return "", fmt.Errorf("rop: unterminated string")
}

func (r *reader) propTags() ([]uint32, error) {
	tags, err := exrpc.DecodePropTagList(r.b)
	if err != nil {
		return nil, err
	}
	return tags, nil
}

func (r *reader) propList() (exrpc.PropList, error) {
	return exrpc.DecodePropList(r.b)
}

// remaining consumes and returns whatever is left of the payload, for
// verbs whose last field is a raw blob with no length prefix of its own
// (the frame itself is already length-delimited by exrpc).
func (r *reader) remaining() []byte {
	b := r.b
	r.b = nil
	return b
}

// writer accumulates a verb's response payload using the same primitives.
type writer struct {
	b []byte
}

func (w *writer) u32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	w.b = append(w.b, tmp[:]...)
}

func (w *writer) u64(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	w.b = append(w.b, tmp[:]...)
}

func (w *writer) handle(h Handle) { w.u32(uint32(h)) }
func (w *writer) eid(e ident.EID) { w.u64(uint64(e)) }

func (w *writer) bool(v bool) {
	if v {
		w.b = append(w.b, 1)
	} else {
		w.b = append(w.b, 0)
	}
}

func (w *writer) i32(v int32) { w.u32(uint32(v)) }

func (w *writer) u8(v uint8) { w.b = append(w.b, v) }

func (w *writer) bytes(b []byte) { w.b = append(w.b, b...) }

func (w *writer) cstring(s string) {
	w.b = append(w.b, s...)
	w.b = append(w.b, 0)
}

func (w *writer) eids(ids []ident.EID) {
	w.u32(uint32(len(ids)))
	for _, id := range ids {
		w.eid(id)
	}
}

func toPropList(props []store.Property) exrpc.PropList {
	out := make(exrpc.PropList, 0, len(props))
	for _, p := range props {
		out = append(out, exrpc.TaggedPropVal{Tag: uint32(p.Tag), Value: p.Value})
	}
	return out
}

func fromPropList(l exrpc.PropList) []store.Property {
	out := make([]store.Property, 0, len(l))
	for _, pv := range l {
		out = append(out, store.Property{Tag: ident.PropTag(pv.Tag), Value: pv.Value})
	}
	return out
}

func toIdentTags(tags []uint32) []ident.PropTag {
	out := make([]ident.PropTag, len(tags))
	for i, t := range tags {
		out[i] = ident.PropTag(t)
	}
	return out
}

// encodeRestriction and decodeRestriction walk a Restriction tree
// depth-first: op:u32, tag:u32, value (len:u32 + bytes), child count:u32,
// then each child in the same shape. Used by the search-criteria and
// folder-rule verbs, the only ones that move a restriction over the wire.
func encodeRestriction(w *writer, r store.Restriction) {
	w.u32(uint32(r.Op))
	w.u32(uint32(r.Tag))
	w.u32(uint32(len(r.Value)))
	w.bytes(r.Value)
	w.u32(uint32(len(r.Children)))
	for _, c := range r.Children {
		encodeRestriction(w, c)
	}
}

func decodeRestriction(r *reader) (store.Restriction, error) {
	op, err := r.u32()
	if err != nil {
		return store.Restriction{}, err
	}
	tag, err := r.u32()
	if err != nil {
		return store.Restriction{}, err
	}
	vlen, err := r.u32()
	if err != nil {
		return store.Restriction{}, err
	}
	if uint32(len(r.b)) < vlen {
		return store.Restriction{}, fmt.Errorf("rop: truncated restriction value")
	}
	value := append([]byte(nil), r.b[:vlen]...)
	r.b = r.b[vlen:]
	n, err := r.u32()
	if err != nil {
		return store.Restriction{}, err
	}
	out := store.Restriction{Op: store.RestrictionOp(op), Tag: ident.PropTag(tag), Value: value}
	for i := uint32(0); i < n; i++ {
		c, err := decodeRestriction(r)
		if err != nil {
			return store.Restriction{}, err
		}
		out.Children = append(out.Children, c)
	}
	return out, nil
}

// encodeSearchCriteria and decodeSearchCriteria are set/get_search_criteria's
// wire shape: scope (eid list), flags:u32, status:u32, then a restriction.
func encodeSearchCriteria(c store.SearchCriteria) []byte {
	var w writer
	w.eids(c.Scope)
	w.u32(c.Flags)
	w.u32(uint32(c.Status))
	encodeRestriction(&w, c.Restriction)
	return w.b
}

func decodeSearchCriteria(r *reader) (store.SearchCriteria, error) {
	scope, err := r.eids()
	if err != nil {
		return store.SearchCriteria{}, err
	}
	flags, err := r.u32()
	if err != nil {
		return store.SearchCriteria{}, err
	}
	status, err := r.u32()
	if err != nil {
		return store.SearchCriteria{}, err
	}
	restr, err := decodeRestriction(r)
	if err != nil {
		return store.SearchCriteria{}, err
	}
	return store.SearchCriteria{Scope: scope, Flags: flags, Status: store.SearchStatus(status), Restriction: restr}, nil
}

// encodeNamedPropKeys and decodeNamedPropKeys move a list of
// (GUID, kind, lid-or-name) keys for get_named_propids/get_named_propnames:
// count:u32, then per key guid:16 bytes, kind:u8, lid:u32, name: cstring
// (empty when Kind is NamedPropByLID).
func encodeNamedPropKeys(w *writer, keys []ident.NamedPropKey) {
	w.u32(uint32(len(keys)))
	for _, k := range keys {
		w.bytes(k.GUID[:])
		w.u8(uint8(k.Kind))
		w.u32(k.LID)
		w.cstring(k.Name)
	}
}

func decodeNamedPropKeys(r *reader) ([]ident.NamedPropKey, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([]ident.NamedPropKey, 0, n)
	for i := uint32(0); i < n; i++ {
		if len(r.b) < 16 {
			return nil, fmt.Errorf("rop: truncated named prop guid")
		}
		var k ident.NamedPropKey
		copy(k.GUID[:], r.b[:16])
		r.b = r.b[16:]
		kind, err := r.u8()
		if err != nil {
			return nil, err
		}
		k.Kind = ident.NamedPropKind(kind)
		if k.LID, err = r.u32(); err != nil {
			return nil, err
		}
		if k.Name, err = r.cstring(); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}

// encodePropIDs and decodePropIDs move a plain list of property ids,
// get_named_propids' response and get_named_propnames' request.
func encodePropIDs(ids []ident.PropID) []byte {
	var w writer
	w.u32(uint32(len(ids)))
	for _, id := range ids {
		w.u32(uint32(id))
	}
	return w.b
}

func decodePropIDs(r *reader) ([]ident.PropID, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([]ident.PropID, 0, n)
	for i := uint32(0); i < n; i++ {
		v, err := r.u32()
		if err != nil {
			return nil, err
		}
		out = append(out, ident.PropID(v))
	}
	return out, nil
}

// encodeRules and decodeRules move update_folder_rule's rule list: count:u32,
// then per rule id:u64, seq:i32, state:u32, provider cstring, a
// restriction, and the action (target folder eid, copy:bool, delete:bool).
func encodeRules(rules []store.Rule) []byte {
	var w writer
	w.u32(uint32(len(rules)))
	for _, ru := range rules {
		w.u64(uint64(ru.ID))
		w.i32(ru.Seq)
		w.u32(ru.State)
		w.cstring(ru.Provider)
		encodeRestriction(&w, ru.Condition)
		w.eid(ru.Action.Folder)
		w.bool(ru.Action.Copy)
		w.bool(ru.Action.Delete)
	}
	return w.b
}

func decodeRules(r *reader) ([]store.Rule, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([]store.Rule, 0, n)
	for i := uint32(0); i < n; i++ {
		id, err := r.u64()
		if err != nil {
			return nil, err
		}
		seq, err := r.i32()
		if err != nil {
			return nil, err
		}
		state, err := r.u32()
		if err != nil {
			return nil, err
		}
		provider, err := r.cstring()
		if err != nil {
			return nil, err
		}
		cond, err := decodeRestriction(r)
		if err != nil {
			return nil, err
		}
		folder, err := r.eid()
		if err != nil {
			return nil, err
		}
		copyAction, err := r.bool()
		if err != nil {
			return nil, err
		}
		del, err := r.bool()
		if err != nil {
			return nil, err
		}
		out = append(out, store.Rule{
			ID:        int64(id),
			Seq:       seq,
			State:     state,
			Provider:  provider,
			Condition: cond,
			Action:    store.RuleAction{Folder: folder, Copy: copyAction, Delete: del},
		})
	}
	return out, nil
}
