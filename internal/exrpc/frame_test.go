package exrpc_test

import (
	"bytes"
	"testing"

	"gromox.run/internal/exrpc"
)

func TestRequestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	req := exrpc.Request{Call: exrpc.CallGetFolderProperties, Payload: []byte("hello")}
	if err := exrpc.WriteRequest(&buf, req); err != nil {
		t.Fatal(err)
	}
	got, err := exrpc.ReadRequest(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.Call != req.Call || !bytes.Equal(got.Payload, req.Payload) {
		t.Fatalf("got %+v, want %+v", got, req)
	}
}

func TestRequestPing(t *testing.T) {
	var buf bytes.Buffer
	if err := exrpc.WritePing(&buf); err != nil {
		t.Fatal(err)
	}
	got, err := exrpc.ReadRequest(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsPing() {
		t.Fatalf("expected ping, got %+v", got)
	}
}

func TestResponseRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	resp := exrpc.Response{Code: exrpc.RespSuccess, Payload: []byte("world")}
	if err := exrpc.WriteResponse(&buf, resp); err != nil {
		t.Fatal(err)
	}
	got, err := exrpc.ReadResponse(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.Code != resp.Code || !bytes.Equal(got.Payload, resp.Payload) {
		t.Fatalf("got %+v, want %+v", got, resp)
	}
}

func TestResponseErrorCarriesNoPayload(t *testing.T) {
	var buf bytes.Buffer
	if err := exrpc.WriteResponse(&buf, exrpc.Response{Code: exrpc.RespAccessDenied}); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 1 {
		t.Fatalf("expected a single response-code byte, got %d bytes", buf.Len())
	}
	got, err := exrpc.ReadResponse(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.Code != exrpc.RespAccessDenied || len(got.Payload) != 0 {
		t.Fatalf("got %+v", got)
	}
}

func TestPingReplyRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := exrpc.WritePingReply(&buf, true); err != nil {
		t.Fatal(err)
	}
	ok, err := exrpc.ReadPingReply(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected successful ping reply")
	}
}

func TestDatagramRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	d := exrpc.Datagram{
		Dir:     exrpc.DirNotifyViaFolder,
		BTable:  true,
		IDArray: []uint32{1, 2, 3},
		Notify:  exrpc.DBNotify{Kind: exrpc.NotifyKindNewMail, FolderID: 42, MessageID: 99},
	}
	if err := exrpc.WriteDatagram(&buf, d); err != nil {
		t.Fatal(err)
	}
	got, isPing, err := exrpc.ReadDatagramOrPing(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if isPing {
		t.Fatal("expected a datagram, got a ping")
	}
	if got.Dir != d.Dir || got.BTable != d.BTable || got.Notify != d.Notify {
		t.Fatalf("got %+v, want %+v", got, d)
	}
	if len(got.IDArray) != len(d.IDArray) {
		t.Fatalf("id array mismatch: got %v, want %v", got.IDArray, d.IDArray)
	}
}

func TestPropListRoundTrip(t *testing.T) {
	list := exrpc.PropList{
		{Tag: 0x0E060003, Value: []byte{1, 0, 0, 0}}, // PT_LONG
		{Tag: 0x3001001F, Value: []byte("display name")}, // PT_UNICODE
	}
	enc := exrpc.EncodePropList(list)
	got, err := exrpc.DecodePropList(enc)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(list) {
		t.Fatalf("got %d entries, want %d", len(got), len(list))
	}
	for i := range list {
		if got[i].Tag != list[i].Tag || !bytes.Equal(got[i].Value, list[i].Value) {
			t.Fatalf("entry %d: got %+v, want %+v", i, got[i], list[i])
		}
	}
}
