package mime

import (
	"encoding/base64"
	"fmt"
	"io"
	"math/rand"
	"mime/multipart"
	"mime/quotedprintable"
)

// Build re-encodes a Message into its raw RFC 5322 form, picking a
// multipart structure from the parts present: a single body part is
// written directly, multiple body parts become multipart/alternative,
// and the presence of attachments wraps that (or the lone body) in
// multipart/mixed. This is the inverse of Parse. Nothing in this module
// calls it: the store rebuilds a missing "eml/" rendition with
// email/msgbuilder instead.
func Build(w io.Writer, msg *Message, seed int64) error {
	bodies, attachments := splitParts(msg.Parts)

	hdr := msg.Headers
	hdr.Del("MIME-Version")
	hdr.Add("MIME-Version", []byte("1.0"))
	hdr.Del("Content-Type")
	hdr.Del("Content-Transfer-Encoding")

	switch {
	case len(bodies) == 0 && len(attachments) == 0:
		hdr.Add("Content-Type", []byte("text/plain; charset=utf-8"))
		if _, err := hdr.Encode(w); err != nil {
			return err
		}
		return nil

	case len(attachments) == 0 && len(bodies) == 1:
		writePartHeader(&hdr, bodies[0], "")
		if _, err := hdr.Encode(w); err != nil {
			return err
		}
		return writeEncodedBody(w, bodies[0])

	default:
		rnd := rand.New(rand.NewSource(seed))
		outerBoundary := randBoundary(rnd)
		if len(attachments) == 0 {
			hdr.Add("Content-Type", []byte(fmt.Sprintf(`multipart/alternative; boundary="%s"`, outerBoundary)))
			if _, err := hdr.Encode(w); err != nil {
				return err
			}
			return writeMultipart(w, outerBoundary, bodies)
		}

		hdr.Add("Content-Type", []byte(fmt.Sprintf(`multipart/mixed; boundary="%s"`, outerBoundary)))
		if _, err := hdr.Encode(w); err != nil {
			return err
		}
		mw := multipart.NewWriter(w)
		mw.SetBoundary(outerBoundary)

		if len(bodies) == 1 {
			if err := writeMultipartChild(mw, bodies[0]); err != nil {
				return err
			}
		} else if len(bodies) > 1 {
			innerBoundary := randBoundary(rand.New(rand.NewSource(seed + 1)))
			pw, err := mw.CreatePart(map[string][]string{
				"Content-Type": {fmt.Sprintf(`multipart/alternative; boundary="%s"`, innerBoundary)},
			})
			if err != nil {
				return err
			}
			if err := writeMultipart(pw, innerBoundary, bodies); err != nil {
				return err
			}
		}
		for _, a := range attachments {
			if err := writeMultipartChild(mw, a); err != nil {
				return err
			}
		}
		return mw.Close()
	}
}

func splitParts(parts []Part) (bodies, attachments []Part) {
	for _, p := range parts {
		if p.IsBody && !p.IsAttachment {
			bodies = append(bodies, p)
		} else {
			attachments = append(attachments, p)
		}
	}
	return bodies, attachments
}

func writeMultipart(w io.Writer, boundary string, parts []Part) error {
	mw := multipart.NewWriter(w)
	mw.SetBoundary(boundary)
	for _, p := range parts {
		if err := writeMultipartChild(mw, p); err != nil {
			return err
		}
	}
	return mw.Close()
}

func writeMultipartChild(mw *multipart.Writer, p Part) error {
	header := make(map[string][]string)
	ct := p.ContentType
	if p.Name != "" {
		ct += fmt.Sprintf(`; name="%s"`, p.Name)
	}
	header["Content-Type"] = []string{ct}
	header["Content-Transfer-Encoding"] = []string{transferEncodingFor(p)}
	if p.ContentID != "" {
		header["Content-ID"] = []string{"<" + p.ContentID + ">"}
	}
	if p.IsAttachment {
		disp := "attachment"
		if p.Disposition == "inline" {
			disp = "inline"
		}
		if p.Name != "" {
			header["Content-Disposition"] = []string{fmt.Sprintf(`%s; filename="%s"`, disp, p.Name)}
		} else {
			header["Content-Disposition"] = []string{disp}
		}
	}
	pw, err := mw.CreatePart(header)
	if err != nil {
		return err
	}
	return writeEncodedBodyTo(pw, p)
}

func writePartHeader(hdr *Header, p Part, forcedDisp string) {
	hdr.Add("Content-Type", []byte(p.ContentType))
	hdr.Add("Content-Transfer-Encoding", []byte(transferEncodingFor(p)))
}

func transferEncodingFor(p Part) string {
	if p.IsAttachment {
		return "base64"
	}
	return "quoted-printable"
}

func writeEncodedBody(w io.Writer, p Part) error {
	return writeEncodedBodyTo(w, p)
}

func writeEncodedBodyTo(w io.Writer, p Part) error {
	if p.Content == nil {
		return nil
	}
	p.Content.Seek(0, 0)
	if p.IsAttachment {
		lw := &lineWrapWriter{w: w, limit: 76}
		enc := base64.NewEncoder(base64.StdEncoding, lw)
		if _, err := io.Copy(enc, p.Content); err != nil {
			return err
		}
		if err := enc.Close(); err != nil {
			return err
		}
		_, err := io.WriteString(w, "\r\n")
		return err
	}
	qw := quotedprintable.NewWriter(w)
	defer qw.Close()
	_, err := io.Copy(qw, p.Content)
	return err
}

// lineWrapWriter inserts a CRLF every limit bytes, the way base64 transfer
// encoding is folded in practice (RFC 2045 caps lines at 76 characters).
type lineWrapWriter struct {
	w     io.Writer
	limit int
	col   int
}

func (lw *lineWrapWriter) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		n := lw.limit - lw.col
		if n > len(p) {
			n = len(p)
		}
		if _, err := lw.w.Write(p[:n]); err != nil {
			return written, err
		}
		written += n
		lw.col += n
		p = p[n:]
		if lw.col == lw.limit {
			if _, err := io.WriteString(lw.w, "\r\n"); err != nil {
				return written, err
			}
			lw.col = 0
		}
	}
	return written, nil
}

func randBoundary(rnd *rand.Rand) string {
	const letters = "0123456789abcdef"
	b := make([]byte, 30)
	for i := range b {
		b[i] = letters[rnd.Intn(len(letters))]
	}
	return string(b)
}
