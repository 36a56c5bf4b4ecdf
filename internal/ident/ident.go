// Package ident defines the identifier types shared by the mailbox store,
// the exmdb wire protocol, and the ICS engine: entry identifiers, change
// numbers, and the XID pairs used inside change-keys and source-keys.
package ident

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// GC is the 48-bit monotonically increasing counter portion of an EID.
//
// Only the low 48 bits are ever significant; the top 16 bits must be zero.
type GC uint64

const gcMask = (1 << 48) - 1

func (g GC) valid() bool { return uint64(g)&^uint64(gcMask) == 0 }

// ReplicaID is the 16-bit replica scope of an EID, carried in its top bits.
type ReplicaID uint16

// LocalReplica is the replica id used for every EID minted by this store.
const LocalReplica ReplicaID = 1

// EID is a 64-bit entry identifier: high 16 bits are the replica id, low 48
// bits are the GC value.
type EID uint64

// NewEID packs a replica id and GC value into an EID.
func NewEID(replica ReplicaID, gc GC) EID {
	return EID(uint64(replica)<<48 | uint64(gc)&gcMask)
}

func (e EID) Replica() ReplicaID { return ReplicaID(uint64(e) >> 48) }
func (e EID) GC() GC             { return GC(uint64(e) & gcMask) }

func (e EID) String() string {
	return fmt.Sprintf("eid:%04x:%012x", e.Replica(), uint64(e.GC()))
}

// CN is a change number: an EID drawn from a store's change-number
// allocator, distinct from the message/folder id allocator even though it
// shares the same 48-bit GC encoding.
type CN = EID

// XID is (replica-guid, GC value), the form change-keys and source-keys are
// built from. Unlike EID, an XID names a GC value against a durable replica
// GUID rather than a transient numeric replica id, so it survives export to
// a different store.
type XID struct {
	ReplicaGUID uuid.UUID
	Value       GC
}

// Serialize renders an XID into its 22-byte wire form: a 16-byte GUID
// followed by a little-endian GC value occupying 1-8 bytes, padded to 6
// bytes here (the GC value never exceeds 48 bits so 6 bytes always suffice
// and this keeps every XID a fixed 22 bytes, matching change-key entries
// observed in PR_PREDECESSOR_CHANGE_LIST blobs).
func (x XID) Serialize() []byte {
	buf := make([]byte, 22)
	copy(buf[:16], x.ReplicaGUID[:])
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], uint64(x.Value))
	copy(buf[16:22], tmp[:6])
	return buf
}

// ParseXID parses a 22-byte serialized XID.
func ParseXID(b []byte) (XID, error) {
	if len(b) != 22 {
		return XID{}, fmt.Errorf("ident: bad XID length %d, want 22", len(b))
	}
	var tmp [8]byte
	copy(tmp[:6], b[16:22])
	var x XID
	copy(x.ReplicaGUID[:], b[:16])
	x.Value = GC(binary.LittleEndian.Uint64(tmp[:]) & gcMask)
	return x, nil
}

func (x XID) String() string {
	return fmt.Sprintf("%s:%012x", x.ReplicaGUID, uint64(x.Value))
}

// PCL is PR_PREDECESSOR_CHANGE_LIST: an append-only set of XIDs, one per
// replica that has ever modified the object, recording the most recent
// change-key contributed by that replica.
type PCL struct {
	byReplica map[uuid.UUID]XID
}

// NewPCL builds an empty predecessor change list.
func NewPCL() *PCL {
	return &PCL{byReplica: make(map[uuid.UUID]XID)}
}

// ParsePCL parses a concatenation of serialized XIDs, the wire form stored
// in PR_PREDECESSOR_CHANGE_LIST.
func ParsePCL(b []byte) (*PCL, error) {
	p := NewPCL()
	for len(b) > 0 {
		if len(b) < 22 {
			return nil, fmt.Errorf("ident: truncated PCL, %d trailing bytes", len(b))
		}
		x, err := ParseXID(b[:22])
		if err != nil {
			return nil, err
		}
		p.byReplica[x.ReplicaGUID] = x
		b = b[22:]
	}
	return p, nil
}

// Append records a new change-key, replacing any prior XID from the same
// replica (append-only at the replica level; the list as a whole only
// grows the set of replicas it names).
func (p *PCL) Append(x XID) {
	if p.byReplica == nil {
		p.byReplica = make(map[uuid.UUID]XID)
	}
	p.byReplica[x.ReplicaGUID] = x
}

// Contains reports whether x's replica is present in p with a GC value at
// least as new as x's.
func (p *PCL) Contains(x XID) bool {
	cur, ok := p.byReplica[x.ReplicaGUID]
	return ok && cur.Value >= x.Value
}

// Includes reports whether every XID recorded in other is also covered by p
// (p.Contains holds for each). This is the "C_old includes every XID in
// C_new" test from the conflict-resolution algorithm.
func (p *PCL) Includes(other *PCL) bool {
	for _, x := range other.byReplica {
		if !p.Contains(x) {
			return false
		}
	}
	return true
}

// Clone returns an independent copy.
func (p *PCL) Clone() *PCL {
	n := NewPCL()
	for k, v := range p.byReplica {
		n.byReplica[k] = v
	}
	return n
}

// Merge folds other into p, keeping the newer XID per replica.
func (p *PCL) Merge(other *PCL) {
	for repl, x := range other.byReplica {
		if cur, ok := p.byReplica[repl]; !ok || x.Value > cur.Value {
			p.byReplica[repl] = x
		}
	}
}

// Serialize renders the PCL back to its wire form. Order is not
// significant to readers but is kept stable (ascending GUID) so two calls
// against the same logical set produce byte-identical output — needed for
// a stable FastTransfer round-trip.
func (p *PCL) Serialize() []byte {
	xids := make([]XID, 0, len(p.byReplica))
	for _, x := range p.byReplica {
		xids = append(xids, x)
	}
	sortXIDs(xids)
	buf := make([]byte, 0, 22*len(xids))
	for _, x := range xids {
		buf = append(buf, x.Serialize()...)
	}
	return buf
}

func sortXIDs(xids []XID) {
	for i := 1; i < len(xids); i++ {
		for j := i; j > 0; j-- {
			if lessGUID(xids[j].ReplicaGUID, xids[j-1].ReplicaGUID) {
				xids[j], xids[j-1] = xids[j-1], xids[j]
			} else {
				break
			}
		}
	}
}

func lessGUID(a, b uuid.UUID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// ConflictDisposition is the outcome of comparing a candidate change against
// the currently stored PCL at write/import time.
type ConflictDisposition int

const (
	// DispositionApply means the candidate is strictly newer: apply it.
	DispositionApply ConflictDisposition = iota
	// DispositionIgnore means the candidate is already reflected: drop it
	// (SYNC_E_IGNORE).
	DispositionIgnore
	// DispositionConflict means neither PCL includes the other.
	DispositionConflict
)

// Resolve implements the three-way PCL comparison used to decide whether
// a candidate change should apply, be ignored, or is a genuine conflict.
func Resolve(stored, candidate *PCL) ConflictDisposition {
	switch {
	case stored.Includes(candidate):
		return DispositionIgnore
	case candidate.Includes(stored):
		return DispositionApply
	default:
		return DispositionConflict
	}
}
