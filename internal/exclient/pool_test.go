package exclient_test

import (
	"net"
	"strconv"
	"sync"
	"testing"

	"gromox.run/internal/exclient"
	"gromox.run/internal/exrpc"
)

// echoDispatcher replies to every call with its payload reversed, and
// records how many times each call id was dispatched.
type echoDispatcher struct {
	mu    sync.Mutex
	calls map[exrpc.CallID]int
}

func (d *echoDispatcher) Dispatch(call exrpc.CallID, payload []byte) ([]byte, error) {
	d.mu.Lock()
	if d.calls == nil {
		d.calls = make(map[exrpc.CallID]int)
	}
	d.calls[call]++
	d.mu.Unlock()

	out := make([]byte, len(payload))
	for i, b := range payload {
		out[len(payload)-1-i] = b
	}
	return out, nil
}

func (d *echoDispatcher) count(call exrpc.CallID) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[call]
}

type acceptAllValidator struct{}

func (acceptAllValidator) Validate(exrpc.ConnectRequest) exrpc.ResponseCode { return exrpc.RespSuccess }

func startTestServer(t *testing.T, disp exrpc.Dispatcher) (addr string, shutdown func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := &exrpc.Server{Validator: acceptAllValidator{}, Dispatcher: disp}
	go srv.Serve(ln)
	return ln.Addr().String(), func() { srv.Shutdown(); ln.Close() }
}

func TestPoolCallRoundTrip(t *testing.T) {
	disp := &echoDispatcher{}
	addr, shutdown := startTestServer(t, disp)
	defer shutdown()

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatal(err)
	}

	p := exclient.New(exclient.Options{RemoteID: "test-client", MaxConnsPerRemote: 2},
		[]exclient.ServerConfig{{Host: host, Port: port, Prefix: "/var/lib/gromox/"}})
	go p.Run()
	defer p.Close()

	resp, err := p.Call("/var/lib/gromox/user1", exrpc.CallPingStore, []byte("abc"))
	if err != nil {
		t.Fatal(err)
	}
	if string(resp) != "cba" {
		t.Fatalf("got %q, want %q", resp, "cba")
	}
	if got := disp.count(exrpc.CallPingStore); got != 1 {
		t.Fatalf("dispatch count = %d, want 1", got)
	}
}

func TestPoolUnknownPrefix(t *testing.T) {
	p := exclient.New(exclient.Options{RemoteID: "test-client"}, nil)
	go p.Run()
	defer p.Close()

	if _, err := p.Call("/no/such/prefix", exrpc.CallPingStore, nil); err == nil {
		t.Fatal("expected an error for an unconfigured prefix")
	}
}

func TestPoolLocalShortCircuit(t *testing.T) {
	local := &echoDispatcher{}
	p := exclient.New(exclient.Options{
		RemoteID:    "test-client",
		AllowDirect: true,
		Local:       local,
	}, []exclient.ServerConfig{{Host: "127.0.0.1", Port: 1, Prefix: "/local/", Local: true}})
	go p.Run()
	defer p.Close()

	resp, err := p.Call("/local/user1", exrpc.CallPingStore, []byte("xy"))
	if err != nil {
		t.Fatal(err)
	}
	if string(resp) != "yx" {
		t.Fatalf("got %q", resp)
	}
	if got := local.count(exrpc.CallPingStore); got != 1 {
		t.Fatalf("dispatch count = %d, want 1", got)
	}
}

func TestLeaseReleaseAllowsReuse(t *testing.T) {
	disp := &echoDispatcher{}
	addr, shutdown := startTestServer(t, disp)
	defer shutdown()

	host, portStr, _ := net.SplitHostPort(addr)
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatal(err)
	}

	p := exclient.New(exclient.Options{RemoteID: "test-client", MaxConnsPerRemote: 1},
		[]exclient.ServerConfig{{Host: host, Port: port, Prefix: "/var/lib/gromox/"}})
	go p.Run()
	defer p.Close()

	l, err := p.Acquire("/var/lib/gromox/user1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Call(exrpc.CallPingStore, []byte("ab")); err != nil {
		t.Fatal(err)
	}
	l.Release(false)

	l2, err := p.Acquire("/var/lib/gromox/user1")
	if err != nil {
		t.Fatal(err)
	}
	defer l2.Release(false)
	if _, err := l2.Call(exrpc.CallPingStore, []byte("cd")); err != nil {
		t.Fatal(err)
	}
}

