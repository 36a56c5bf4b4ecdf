package ics

import (
	"encoding/binary"
	"fmt"
)

// Mode selects which of the four id-sets a State allocates: a State is
// constructed for exactly one mode, and NewState allocates that mode's
// subset of the sets.
type Mode uint8

const (
	ModeContentsDown Mode = iota
	ModeHierarchyDown
	ModeContentsUp
	ModeHierarchyUp
)

// ErrSetNotAllocated names the case of an id-set the state's mode did not
// allocate (a nil field of State). No function in this package returns it;
// Serialize writes a nil set as a zero length instead.
var ErrSetNotAllocated = fmt.Errorf("ics: id-set not allocated for this state's mode")

// State mirrors the ICS_STATE concept: four id-sets, only the subset
// relevant to Mode populated. It is owned by
// whichever side holds it — a download context on the server, or the
// client once shipped a serialized copy — and the server never persists
// one outside of pgiven bookkeeping on the next download request.
type State struct {
	Mode     Mode
	Given    *IDSet // pgiven: ids previously sent to the client
	Seen     *IDSet // pseen: change-set seen (non-FAI)
	SeenFAI  *IDSet // pseen_fai: associated (FAI) change-set seen
	Read     *IDSet // pread: read-state changes seen
}

// NewState allocates only the id-sets relevant to mode.
func NewState(mode Mode) *State {
	s := &State{Mode: mode}
	switch mode {
	case ModeContentsDown:
		s.Given = NewIDSet()
		s.Seen = NewIDSet()
		s.SeenFAI = NewIDSet()
		s.Read = NewIDSet()
	case ModeHierarchyDown:
		s.Given = NewIDSet()
		s.Seen = NewIDSet()
	case ModeContentsUp, ModeHierarchyUp:
		s.Seen = NewIDSet()
		s.SeenFAI = NewIDSet()
	}
	return s
}

// Serialize renders the state's allocated id-sets in a fixed order (given,
// seen, seen_fai, read), each length-prefixed and nil-able via a zero
// length.
func (s *State) Serialize() ([]byte, error) {
	buf := []byte{byte(s.Mode)}
	for _, set := range []*IDSet{s.Given, s.Seen, s.SeenFAI, s.Read} {
		if set == nil {
			buf = append(buf, 0, 0, 0, 0)
			continue
		}
		enc, err := set.Serialize()
		if err != nil {
			return nil, err
		}
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(enc)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, enc...)
	}
	return buf, nil
}

// DeserializeState parses the form Serialize produces.
func DeserializeState(b []byte) (*State, error) {
	if len(b) < 1 {
		return nil, fmt.Errorf("ics: state: empty buffer")
	}
	s := &State{Mode: Mode(b[0])}
	b = b[1:]
	sets := make([]*IDSet, 4)
	for i := range sets {
		if len(b) < 4 {
			return nil, fmt.Errorf("ics: state: truncated set %d length", i)
		}
		n := binary.LittleEndian.Uint32(b[:4])
		b = b[4:]
		if n == 0 {
			continue
		}
		if uint32(len(b)) < n {
			return nil, fmt.Errorf("ics: state: truncated set %d", i)
		}
		set, err := Deserialize(b[:n])
		if err != nil {
			return nil, fmt.Errorf("ics: state: set %d: %w", i, err)
		}
		sets[i] = set
		b = b[n:]
	}
	s.Given, s.Seen, s.SeenFAI, s.Read = sets[0], sets[1], sets[2], sets[3]
	return s, nil
}
