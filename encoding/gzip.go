package encoding

import (
	"io"

	"github.com/klauspost/compress/gzip"
)

// gzipCompressor implements Compressor over github.com/klauspost/compress's
// gzip, a drop-in faster replacement for compress/gzip — the same dependency
// the complete example repo docker-compose carries for exactly that reason.
type gzipCompressor struct {
	level int
}

// NewGzipCompressor returns the default gzip provider, registered under the
// name "gzip", compressing at gzip.BestSpeed per spec §4.D ("fastest
// level").
func NewGzipCompressor() Compressor {
	return &gzipCompressor{level: gzip.BestSpeed}
}

func (c *gzipCompressor) Name() string { return "gzip" }

func (c *gzipCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	return gzip.NewWriterLevel(w, c.level)
}

func (c *gzipCompressor) Decompress(r io.Reader) (io.Reader, error) {
	return gzip.NewReader(r)
}

func init() {
	RegisterCompressor(NewGzipCompressor())
}
