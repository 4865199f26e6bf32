// Package zarrcodec compresses chunk byte payloads the way spec.md
// §4.4 step 4 requires: DEFLATE at a configured level, with a sync flush
// before the stream is closed, reported to clients as compressor id
// "zlib". Grounded on
// SPEC_FULL.md's domain-stack table: github.com/klauspost/compress/zlib
// is an indirect dependency of the teacher promoted to direct use here,
// chosen over the stdlib compress/zlib because it's the pack's actual
// choice for hot-path DEFLATE and exposes the same zlib.NewWriterLevel
// shape.
package zarrcodec

import (
	"bytes"

	"github.com/klauspost/compress/zlib"
)

// CompressChunk DEFLATE-compresses buf at the given level (0-9), issues
// a sync flush, and then closes the writer, so the body ends with the
// final block and the zlib checksum and decodes as a complete zlib
// stream.
func CompressChunk(buf []byte, level int) ([]byte, error) {
	var out bytes.Buffer
	w, err := zlib.NewWriterLevel(&out, level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(buf); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Flush(); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
