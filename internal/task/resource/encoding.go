package resource

import (
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
)

// acceptEncoding is sent with every HTTP request. Setting it by hand turns
// off the transport's transparent gzip handling, so decodeBody covers gzip
// as well.
const acceptEncoding = "gzip, deflate, br"

// ErrUnsupportedEncoding is returned for a Content-Encoding the loader cannot
// undo.
var ErrUnsupportedEncoding = errors.New("unsupported content encoding")

// decodeBody wraps r so that reads return the identity encoding of a body
// sent with the given Content-Encoding.
func decodeBody(encoding string, r io.Reader) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return io.NopCloser(r), nil
	case "gzip", "x-gzip":
		return gzip.NewReader(r)
	case "deflate":
		return zlib.NewReader(r)
	case "br":
		return io.NopCloser(brotli.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, encoding)
	}
}
