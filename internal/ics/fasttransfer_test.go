package ics_test

import (
	"bytes"
	"testing"

	"crawshaw.io/iox"

	"gromox.run/internal/exrpc"
	"gromox.run/internal/ics"
)

func TestProducerConsumerRoundTrip(t *testing.T) {
	filer := iox.NewFiler(0)
	defer filer.Shutdown(nil)

	p := ics.NewProducer(filer, 0)
	defer p.Close()

	if err := p.StartMessage(false); err != nil {
		t.Fatal(err)
	}
	props := exrpc.PropList{{Tag: 0x0E060003, Value: []byte{7, 0, 0, 0}}}
	if err := p.WriteProps(props); err != nil {
		t.Fatal(err)
	}
	if err := p.EndMessage(); err != nil {
		t.Fatal(err)
	}
	if err := p.IncrSyncEnd(); err != nil {
		t.Fatal(err)
	}

	var all bytes.Buffer
	var offset int64
	for {
		chunk, last, next, err := p.ReadBuffer(offset, 4096)
		if err != nil {
			t.Fatal(err)
		}
		all.Write(chunk)
		offset = next
		if last {
			break
		}
	}

	var c ics.Consumer
	recs, err := c.Feed(all.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	want := []ics.Marker{ics.MarkerStartMessage}
	if len(recs) < 1 || !recs[0].IsMarker || recs[0].Marker != want[0] {
		t.Fatalf("expected first record to be StartMessage marker, got %+v", recs[0])
	}

	foundProps := false
	foundEnd := false
	for _, r := range recs {
		if !r.IsMarker && len(r.Props) == 1 && r.Props[0].Tag == props[0].Tag {
			foundProps = true
		}
		if r.IsMarker && r.Marker == ics.MarkerIncrSyncEnd {
			foundEnd = true
		}
	}
	if !foundProps {
		t.Fatal("expected the written proplist to round-trip")
	}
	if !foundEnd {
		t.Fatal("expected the trailing IncrSyncEnd marker to round-trip")
	}
}
