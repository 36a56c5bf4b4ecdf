package store

import (
	"bytes"
	"net/mail"
	"strings"
	"testing"

	"gromox.run/internal/ident"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDeliverMessageWritesEmlRendition(t *testing.T) {
	s := openTestStore(t)

	raw := []byte("From: a@example.com\r\nTo: b@example.com\r\nSubject: hello\r\n\r\nbody\r\n")
	id, err := s.DeliverMessage(s.Filer, FolderInbox, raw)
	if err != nil {
		t.Fatalf("DeliverMessage: %v", err)
	}

	got, err := s.ReadEmlRendition(id)
	if err != nil {
		t.Fatalf("ReadEmlRendition: %v", err)
	}
	if !bytes.Equal(got, raw) {
		t.Fatalf("ReadEmlRendition = %q, want %q", got, raw)
	}
}

func TestReadEmlRenditionRebuildsWhenAbsent(t *testing.T) {
	s := openTestStore(t)

	id, _, err := s.CreateMessage(FolderInbox, false)
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if err := s.SetMessageProperties(id, []Property{
		{Tag: ident.PrDisplayName, Value: []byte("reconstructed subject")},
	}); err != nil {
		t.Fatalf("SetMessageProperties: %v", err)
	}

	raw, err := s.ReadEmlRendition(id)
	if err != nil {
		t.Fatalf("ReadEmlRendition: %v", err)
	}

	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("mail.ReadMessage: %v\n%s", err, raw)
	}
	if got := msg.Header.Get("Subject"); got != "reconstructed subject" {
		t.Errorf("Subject = %q, want %q", got, "reconstructed subject")
	}
	if msg.Header.Get("Date") == "" {
		t.Error("Date header missing from rebuilt rendition")
	}
}

func TestImapfileRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if err := s.ImapfileWrite("msg1.eml", []byte("payload")); err != nil {
		t.Fatalf("ImapfileWrite: %v", err)
	}
	got, err := s.ImapfileRead("msg1.eml")
	if err != nil {
		t.Fatalf("ImapfileRead: %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("ImapfileRead = %q, want %q", got, "payload")
	}

	if err := s.ImapfileDelete("msg1.eml"); err != nil {
		t.Fatalf("ImapfileDelete: %v", err)
	}
	if _, err := s.ImapfileRead("msg1.eml"); err == nil {
		t.Fatal("ImapfileRead succeeded after delete")
	}
	// Deleting again is a no-op, not an error.
	if err := s.ImapfileDelete("msg1.eml"); err != nil {
		t.Fatalf("ImapfileDelete on missing file: %v", err)
	}
}

func TestImapfilePathEscapeSandboxed(t *testing.T) {
	s := openTestStore(t)
	if !strings.HasPrefix(s.imapfilePath("../../etc/passwd"), s.Dir) {
		t.Fatalf("imapfilePath escaped sandbox: %q", s.imapfilePath("../../etc/passwd"))
	}
}
