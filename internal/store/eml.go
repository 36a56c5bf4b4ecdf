package store

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gromox.run/email"
	"gromox.run/email/msgbuilder"
	"gromox.run/internal/ident"
)

// writeEmlRendition writes the canonical RFC 5322 rendition of a delivered
// message to dir/eml/<id>, mirroring the cid/ blob store's layout in
// vacuum.go. It's the file ReadEmlRendition reads back for callers that
// want the raw message rather than individual MAPI properties.
func writeEmlRendition(dir string, id ident.EID, raw []byte) error {
	emlDir := filepath.Join(dir, "eml")
	if err := os.MkdirAll(emlDir, 0o700); err != nil {
		return fmt.Errorf("store: writeEmlRendition: mkdir: %v", err)
	}
	path := filepath.Join(emlDir, fmt.Sprintf("%d", uint64(id)))
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("store: writeEmlRendition: write: %v", err)
	}
	return nil
}

// ReadEmlRendition returns the raw message bytes written by DeliverMessage
// for id. If no rendition was ever written to disk (the message was built
// by a ROP client rather than delivered as RFC 5322 mail), it reconstructs
// one from the message's stored properties via msgbuilder, rather than
// reporting the message as missing.
func (s *Store) ReadEmlRendition(id ident.EID) ([]byte, error) {
	path := filepath.Join(s.Dir, "eml", fmt.Sprintf("%d", uint64(id)))
	raw, err := os.ReadFile(path)
	if err == nil {
		return raw, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}
	return s.rebuildEmlRendition(id)
}

// rebuildEmlRendition assembles a minimal RFC 5322 form of message id out
// of its stored MAPI properties, for messages that were composed through
// the ROP object layer rather than delivered from raw mail.
func (s *Store) rebuildEmlRendition(id ident.EID) ([]byte, error) {
	props, err := s.GetMessageProperties(id, []ident.PropTag{
		ident.PrDisplayName,
		ident.PrMessageDeliveryTime,
	})
	if err != nil {
		return nil, fmt.Errorf("store: rebuildEmlRendition: %v", err)
	}

	subject := ""
	date := time.Now()
	for _, p := range props {
		switch p.Tag {
		case ident.PrDisplayName:
			subject = string(p.Value)
		case ident.PrMessageDeliveryTime:
			date = decodeFileTime(p.Value)
		}
	}

	body := s.Filer.BufferFile(0)
	defer body.Close()

	msg := &email.Msg{
		Date: date,
		Parts: []email.Part{{
			PartNum:     0,
			IsBody:      true,
			ContentType: "text/plain",
			Content:     body,
		}},
	}
	msg.Headers.Add("Subject", []byte(subject))
	msg.Headers.Add("Date", []byte(date.UTC().Format(time.RFC1123Z)))

	b := &msgbuilder.Builder{Filer: s.Filer, FillOutFields: true}
	var out bytes.Buffer
	if err := b.Build(&out, msg); err != nil {
		return nil, fmt.Errorf("store: rebuildEmlRendition: %v", err)
	}
	return out.Bytes(), nil
}

// imapfileDir is the sandbox for the imapfile_read/write/delete verbs,
// which IMAP frontends use to stash maildir-style renditions under the
// mailbox directory keyed by an arbitrary filename rather than a message
// id. filepath.Base strips any directory components a caller supplies so
// the name can't escape the sandbox.
func (s *Store) imapfilePath(name string) string {
	return filepath.Join(s.Dir, "imapfile", filepath.Base(name))
}

// ImapfileRead returns the contents previously written under name.
func (s *Store) ImapfileRead(name string) ([]byte, error) {
	return os.ReadFile(s.imapfilePath(name))
}

// ImapfileWrite stores data under name, creating the imapfile directory
// on first use.
func (s *Store) ImapfileWrite(name string, data []byte) error {
	if err := os.MkdirAll(filepath.Join(s.Dir, "imapfile"), 0o700); err != nil {
		return fmt.Errorf("store: ImapfileWrite: mkdir: %v", err)
	}
	if err := os.WriteFile(s.imapfilePath(name), data, 0o600); err != nil {
		return fmt.Errorf("store: ImapfileWrite: write: %v", err)
	}
	return nil
}

// ImapfileDelete removes a file written by ImapfileWrite. Deleting a file
// that doesn't exist is not an error, matching the wire verb's semantics.
func (s *Store) ImapfileDelete(name string) error {
	if err := os.Remove(s.imapfilePath(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("store: ImapfileDelete: %v", err)
	}
	return nil
}
