package ics_test

import (
	"testing"

	"github.com/google/uuid"

	"gromox.run/internal/ics"
	"gromox.run/internal/ident"
)

func TestIDSetAppendContains(t *testing.T) {
	replica := uuid.New()
	s := ics.NewIDSet()
	if !s.CheckEmpty() {
		t.Fatal("fresh set should be empty")
	}
	s.Append(ident.XID{ReplicaGUID: replica, Value: 10})
	s.Append(ident.XID{ReplicaGUID: replica, Value: 11})
	if s.CheckEmpty() {
		t.Fatal("set with members reports empty")
	}
	if !s.Contains(replica, 10) || !s.Contains(replica, 11) {
		t.Fatal("expected 10 and 11 to be present")
	}
	if s.Contains(replica, 12) {
		t.Fatal("12 was never added")
	}
	other := uuid.New()
	if s.Contains(other, 10) {
		t.Fatal("value should be scoped per replica")
	}
}

func TestIDSetSerializeRoundTrip(t *testing.T) {
	replica := uuid.New()
	s := ics.NewIDSet()
	for _, gc := range []ident.GC{1, 2, 3, 100, 101, 5000} {
		s.Append(ident.XID{ReplicaGUID: replica, Value: gc})
	}
	enc, err := s.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	got, err := ics.Deserialize(enc)
	if err != nil {
		t.Fatal(err)
	}
	for _, gc := range []ident.GC{1, 2, 3, 100, 101, 5000} {
		if !got.Contains(replica, gc) {
			t.Fatalf("gc %d missing after round trip", gc)
		}
	}
	if got.Contains(replica, 4) {
		t.Fatal("unexpected member after round trip")
	}
}

func TestIDSetConcatenate(t *testing.T) {
	replica := uuid.New()
	a := ics.NewIDSet()
	a.Append(ident.XID{ReplicaGUID: replica, Value: 1})
	b := ics.NewIDSet()
	b.Append(ident.XID{ReplicaGUID: replica, Value: 2})
	a.Concatenate(b)
	if !a.Contains(replica, 1) || !a.Contains(replica, 2) {
		t.Fatal("expected union of both sets")
	}
}
