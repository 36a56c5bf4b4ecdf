package exrpc_test

import (
	"testing"

	"gromox.run/internal/exrpc"
)

func TestCallIDNamesAreUniqueAndIndexStable(t *testing.T) {
	seen := make(map[string]exrpc.CallID)
	for id := exrpc.CallID(0); id <= exrpc.MaxCallID; id++ {
		name := id.Name()
		if name == "" {
			t.Fatalf("call id %d has no name", id)
		}
		if prior, ok := seen[name]; ok {
			t.Fatalf("verb %q assigned to both %d and %d", name, prior, id)
		}
		seen[name] = id
	}
	if len(seen) != int(exrpc.MaxCallID)+1 {
		t.Fatalf("got %d distinct verb names, want %d", len(seen), exrpc.MaxCallID+1)
	}
}

func TestWellKnownCallIDs(t *testing.T) {
	cases := map[exrpc.CallID]string{
		exrpc.CallConnect:            "connect",
		exrpc.CallListenNotification: "listen_notification",
		exrpc.CallPingStore:          "ping_store",
	}
	for id, want := range cases {
		if got := id.Name(); got != want {
			t.Fatalf("call id %d: got name %q, want %q", id, got, want)
		}
	}
}
