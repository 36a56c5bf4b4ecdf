package mime

import (
	"bytes"
	stdmime "mime"
)

var wordDecoder = new(stdmime.WordDecoder)

// decodeWords decodes any RFC 2047 encoded-words found in a header value,
// leaving the bytes untouched if decoding fails (we'd rather keep the raw
// value than drop it).
func decodeWords(value []byte) []byte {
	if !bytes.Contains(value, []byte("=?")) {
		return value
	}
	decoded, err := wordDecoder.DecodeHeader(string(value))
	if err != nil {
		return value
	}
	return []byte(decoded)
}
