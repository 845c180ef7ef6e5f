// internal/capture/decode.go
package capture

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
)

var (
	gzipReaderPool = sync.Pool{
		New: func() interface{} { return new(gzip.Reader) },
	}
	brotliReaderPool = sync.Pool{
		New: func() interface{} { return brotli.NewReader(nil) },
	}
	emptyReader = strings.NewReader("")
)

// decodeContent undoes the Content-Encoding layers of a request body. Layers
// are listed in the order they were applied, so they are removed in reverse.
// The decoded output is capped at limit bytes; truncated reports whether the
// cap was hit.
func decodeContent(encodings []string, body []byte, limit int64) (out []byte, truncated bool, err error) {
	var layers []string
	for _, header := range encodings {
		for _, enc := range strings.Split(header, ",") {
			enc = strings.ToLower(strings.TrimSpace(enc))
			if enc != "" && enc != "identity" {
				layers = append(layers, enc)
			}
		}
	}

	out = body
	for i := len(layers) - 1; i >= 0; i-- {
		out, truncated, err = decodeLayer(layers[i], out, limit)
		if err != nil {
			return nil, false, err
		}
	}
	return out, truncated, nil
}

func decodeLayer(encoding string, data []byte, limit int64) ([]byte, bool, error) {
	src := bytes.NewReader(data)

	switch encoding {
	case "gzip", "x-gzip":
		zr := gzipReaderPool.Get().(*gzip.Reader)
		defer func() {
			_ = zr.Reset(emptyReader)
			gzipReaderPool.Put(zr)
		}()
		if err := zr.Reset(src); err != nil {
			return nil, false, fmt.Errorf("gzip header: %w", err)
		}
		return readLimited(zr, limit)

	case "br":
		br := brotliReaderPool.Get().(*brotli.Reader)
		defer func() {
			_ = br.Reset(emptyReader)
			brotliReaderPool.Put(br)
		}()
		if err := br.Reset(src); err != nil {
			return nil, false, fmt.Errorf("brotli init: %w", err)
		}
		return readLimited(br, limit)

	case "deflate":
		// Browsers send zlib-wrapped deflate, some clients send raw streams.
		if zr, err := zlib.NewReader(src); err == nil {
			defer zr.Close()
			return readLimited(zr, limit)
		}
		fr := flate.NewReader(bytes.NewReader(data))
		defer fr.Close()
		return readLimited(fr, limit)

	default:
		return nil, false, fmt.Errorf("unsupported Content-Encoding %q", encoding)
	}
}

// readLimited reads at most limit bytes from r and reports whether more remained.
func readLimited(r io.Reader, limit int64) ([]byte, bool, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) > limit {
		return data[:limit], true, nil
	}
	return data, false, nil
}

// parseBody attempts a structured decode. It never fails: anything that is
// not a single valid JSON value is returned as text.
func parseBody(data []byte) (body interface{}, structured bool) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return string(data), false
	}

	var v interface{}
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return string(data), false
	}
	return v, true
}
