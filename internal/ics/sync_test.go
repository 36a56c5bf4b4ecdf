package ics_test

import (
	"testing"

	"gromox.run/internal/ics"
	"gromox.run/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir(), store.Options{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestGetContentSyncFreshClientThenIdempotent checks that a fresh client
// downloading an empty state sees every message once, and re-running with
// the returned state sees nothing further.
func TestGetContentSyncFreshClientThenIdempotent(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < 3; i++ {
		mid, _, err := s.CreateMessage(store.FolderInbox, false)
		if err != nil {
			t.Fatal(err)
		}
		if err := s.SetMessageProperties(mid, nil); err != nil {
			t.Fatal(err)
		}
	}

	var replica [16]byte
	copy(replica[:], s.ReplicaGUID[:])

	res, err := ics.GetContentSync(s, store.FolderInbox, replica, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Changes) != 3 {
		t.Fatalf("got %d changes, want 3", len(res.Changes))
	}
	if len(res.Deletions) != 0 {
		t.Fatalf("unexpected deletions: %v", res.Deletions)
	}

	res2, err := ics.GetContentSync(s, store.FolderInbox, replica, res.NewState)
	if err != nil {
		t.Fatal(err)
	}
	if len(res2.Changes) != 0 || len(res2.ChangesFAI) != 0 || len(res2.Deletions) != 0 {
		t.Fatalf("expected an empty second sync, got %+v", res2)
	}
}

func TestGetContentSyncPicksUpNewMessage(t *testing.T) {
	s := openTestStore(t)
	var replica [16]byte
	copy(replica[:], s.ReplicaGUID[:])

	mid1, _, err := s.CreateMessage(store.FolderInbox, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetMessageProperties(mid1, nil); err != nil {
		t.Fatal(err)
	}

	first, err := ics.GetContentSync(s, store.FolderInbox, replica, nil)
	if err != nil {
		t.Fatal(err)
	}

	mid2, _, err := s.CreateMessage(store.FolderInbox, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetMessageProperties(mid2, nil); err != nil {
		t.Fatal(err)
	}

	second, err := ics.GetContentSync(s, store.FolderInbox, replica, first.NewState)
	if err != nil {
		t.Fatal(err)
	}
	if len(second.Changes) != 1 || second.Changes[0] != mid2 {
		t.Fatalf("expected only the new message, got %v", second.Changes)
	}
}
