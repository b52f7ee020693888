package perron

import (
	"compress/gzip"
	"compress/zlib"
	"io"
	"strings"
)

// Content encodings decoded by the client.
const (
	EncodingGzip    = "gzip"
	EncodingDeflate = "deflate"
)

// decodeBody wraps body with a decoder for the given Content-Encoding value.
// Unknown or empty encodings pass the stream through untouched. Constructing
// a decoder reads the encoding header, so a malformed stream may already
// fail here.
func decodeBody(encoding string, body io.Reader) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case EncodingGzip:
		zr, err := gzip.NewReader(body)
		if err != nil {
			return nil, err
		}
		return zr, nil
	case EncodingDeflate:
		zr, err := zlib.NewReader(body)
		if err != nil {
			return nil, err
		}
		return zr, nil
	default:
		return body, nil
	}
}
