package mime

import (
	"bufio"
	"encoding/base64"
	"io"
	stdmime "mime"
	"mime/multipart"
	"mime/quotedprintable"
	"strings"

	"crawshaw.io/iox"
)

// Parse splits a raw RFC 5322 message into a header and a flat list of
// leaf parts, decoding Content-Transfer-Encoding as it walks. Parts are
// spooled through filer so large attachments don't have to live in memory.
//
// This mirrors the walk a delivery does before handing a message to
// deliver_message: one pass to recover structure, a later pass (by the
// store) to compute blob hashes and write property rows.
func Parse(filer *iox.Filer, src *bufio.Reader) (*Message, error) {
	hr := NewHeaderReader(src)
	hdr, err := hr.ReadHeader()
	if err != nil {
		return nil, err
	}
	msg := &Message{Headers: hdr}

	mediaType, params, err := stdmime.ParseMediaType(string(hdr.Get("Content-Type")))
	if err != nil {
		mediaType, params = "text/plain", nil
	}

	if err := walkPart(filer, msg, mediaType, params, "", 0, src); err != nil {
		msg.Close()
		return nil, err
	}
	return msg, nil
}

func walkPart(filer *iox.Filer, msg *Message, mediaType string, params map[string]string, parentMediaType string, localNum int, r io.Reader) error {
	if strings.HasPrefix(mediaType, "multipart/") {
		mr := multipart.NewReader(r, params["boundary"])
		for i := 0; ; i++ {
			p, err := mr.NextPart()
			if err != nil {
				return nil
			}
			childHdr := Header{Index: make(map[Key][][]byte)}
			for k, vs := range p.Header {
				ck := CanonicalKey([]byte(k))
				for _, v := range vs {
					childHdr.Add(ck, decodeWords([]byte(v)))
				}
			}
			childType, childParams, err := stdmime.ParseMediaType(string(childHdr.Get("Content-Type")))
			if err != nil {
				childType, childParams = "text/plain", nil
			}
			if err := addOrDescend(filer, msg, childHdr, childType, childParams, mediaType, i, p); err != nil {
				return err
			}
		}
	}
	return addLeafPart(filer, msg, msg.Headers, mediaType, params, parentMediaType, localNum, r)
}

func addOrDescend(filer *iox.Filer, msg *Message, hdr Header, mediaType string, params map[string]string, parentMediaType string, localNum int, r io.Reader) error {
	if strings.HasPrefix(mediaType, "multipart/") {
		return walkPart(filer, msg, mediaType, params, parentMediaType, localNum, r)
	}
	return addLeafPart(filer, msg, hdr, mediaType, params, parentMediaType, localNum, r)
}

func addLeafPart(filer *iox.Filer, msg *Message, hdr Header, mediaType string, params map[string]string, parentMediaType string, localNum int, r io.Reader) error {
	body := r
	switch strings.ToLower(string(hdr.Get("Content-Transfer-Encoding"))) {
	case "base64":
		body = base64.NewDecoder(base64.StdEncoding, r)
	case "quoted-printable":
		body = quotedprintable.NewReader(r)
	}

	isAttachment := false
	fileName := ""
	if d, dparams, err := stdmime.ParseMediaType(string(hdr.Get("Content-Disposition"))); err == nil {
		fileName = dparams["filename"]
		if strings.EqualFold(d, "attachment") {
			isAttachment = true
		}
	}
	if fileName == "" {
		fileName = params["name"]
	}

	isBody := false
	switch parentMediaType {
	case "":
		isBody = !strings.HasPrefix(mediaType, "multipart/")
	case "multipart/alternative":
		isBody = true
	case "multipart/mixed", "multipart/related":
		isBody = localNum == 0 && !isAttachment
	}
	if isBody {
		isAttachment = false
	} else if fileName != "" {
		isAttachment = true
	}

	buf := filer.BufferFile(0)
	if _, err := io.Copy(buf, body); err != nil {
		buf.Close()
		return err
	}
	buf.Seek(0, 0)

	msg.Parts = append(msg.Parts, Part{
		PartNum:      len(msg.Parts),
		Name:         fileName,
		IsBody:       isBody,
		IsAttachment: isAttachment,
		ContentType:  mediaType,
		ContentID:    strings.Trim(string(hdr.Get("Content-ID")), "<>"),
		Disposition:  strings.ToLower(string(hdr.Get("Content-Disposition"))),
		Content:      buf,
	})
	return nil
}
