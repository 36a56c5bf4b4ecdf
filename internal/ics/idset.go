// Package ics is the Incremental Change Synchronization engine: ID-sets
// tracking what a replica has given/seen, the FastTransfer byte-stream
// producer, and the get_content_sync/get_hierarchy_sync delta logic built
// on top of internal/store.
package ics

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/google/uuid"

	"gromox.run/internal/ident"
)

// IDSet is a replica-scoped set of 48-bit GC values — pgiven, pseen,
// pseen_fai, and pread are each one of these. Values are backed by
// roaring64 bitmaps for cheap membership tests and unions instead of a
// hand-rolled sorted range list.
type IDSet struct {
	byReplica map[uuid.UUID]*roaring64.Bitmap
}

// NewIDSet returns an empty set.
func NewIDSet() *IDSet {
	return &IDSet{byReplica: make(map[uuid.UUID]*roaring64.Bitmap)}
}

// Append adds xid's GC value under its replica guid, per §4.4 "append(eid)".
// Roaring's bitmap coalesces adjacent bits into runs internally (RunOptimize
// is called at serialize time), so no explicit range-coalescing is needed
// here.
func (s *IDSet) Append(xid ident.XID) {
	b, ok := s.byReplica[xid.ReplicaGUID]
	if !ok {
		b = roaring64.New()
		s.byReplica[xid.ReplicaGUID] = b
	}
	b.Add(uint64(xid.Value))
}

// AppendGC is Append for a caller that already knows the local replica's
// GUID, used by the upload flow when appending a just-committed CN.
func (s *IDSet) AppendGC(replica uuid.UUID, gc ident.GC) {
	s.Append(ident.XID{ReplicaGUID: replica, Value: gc})
}

// Contains reports whether gc is present for replica.
func (s *IDSet) Contains(replica uuid.UUID, gc ident.GC) bool {
	b, ok := s.byReplica[replica]
	if !ok {
		return false
	}
	return b.Contains(uint64(gc))
}

// CheckEmpty reports whether the set has no members on any replica, per
// §4.4 "check_empty()".
func (s *IDSet) CheckEmpty() bool {
	for _, b := range s.byReplica {
		if !b.IsEmpty() {
			return false
		}
	}
	return true
}

// Concatenate unions other into s, per §4.4 "concatenate(other)".
func (s *IDSet) Concatenate(other *IDSet) {
	for replica, b := range other.byReplica {
		if dst, ok := s.byReplica[replica]; ok {
			dst.Or(b)
		} else {
			s.byReplica[replica] = b.Clone()
		}
	}
}

// Clone returns a deep copy.
func (s *IDSet) Clone() *IDSet {
	out := NewIDSet()
	for replica, b := range s.byReplica {
		out.byReplica[replica] = b.Clone()
	}
	return out
}

// Serialize renders s as a GUID-GLOBSET: a count of replicas, then per
// replica the 16-byte guid, a u32 byte length, and the roaring-serialized
// bitmap. This is an internal wire format, not a byte-exact reproduction of
// the MS-OXCFXICS GLOBSET encoding — the pair (Serialize, Deserialize)
// only needs to round-trip between this server's own download and upload
// flows, not interoperate byte-for-byte with another implementation.
func (s *IDSet) Serialize() ([]byte, error) {
	replicas := make([]uuid.UUID, 0, len(s.byReplica))
	for r := range s.byReplica {
		replicas = append(replicas, r)
	}
	sort.Slice(replicas, func(i, j int) bool {
		return replicas[i].String() < replicas[j].String()
	})

	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(len(replicas)))
	for _, r := range replicas {
		b := s.byReplica[r]
		b.RunOptimize()
		bits, err := b.ToBytes()
		if err != nil {
			return nil, fmt.Errorf("ics: idset: serialize replica %s: %w", r, err)
		}
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(bits)))
		buf = append(buf, r[:]...)
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, bits...)
	}
	return buf, nil
}

// Deserialize parses the form Serialize produces, per §4.4
// "deserialize(bin)".
func Deserialize(b []byte) (*IDSet, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("ics: idset: truncated count")
	}
	n := binary.LittleEndian.Uint32(b[:4])
	b = b[4:]
	s := NewIDSet()
	for i := uint32(0); i < n; i++ {
		if len(b) < 16+4 {
			return nil, fmt.Errorf("ics: idset: truncated replica header")
		}
		var replica uuid.UUID
		copy(replica[:], b[:16])
		b = b[16:]
		blen := binary.LittleEndian.Uint32(b[:4])
		b = b[4:]
		if uint32(len(b)) < blen {
			return nil, fmt.Errorf("ics: idset: truncated bitmap")
		}
		bm := roaring64.New()
		if _, err := bm.FromBuffer(b[:blen]); err != nil {
			return nil, fmt.Errorf("ics: idset: replica %s: %w", replica, err)
		}
		s.byReplica[replica] = bm
		b = b[blen:]
	}
	return s, nil
}
