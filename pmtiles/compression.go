package pmtiles

import (
	"bytes"
	"compress/gzip"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

// Compression is the compression algorithm applied to directories, metadata
// or individual tiles (or none).
type Compression uint8

const (
	UnknownCompression Compression = 0
	NoCompression      Compression = 1
	Gzip               Compression = 2
	Brotli             Compression = 3
	Zstd               Compression = 4
)

func (c Compression) String() string {
	switch c {
	case NoCompression:
		return "none"
	case Gzip:
		return "gzip"
	case Brotli:
		return "brotli"
	case Zstd:
		return "zstd"
	default:
		return "unknown"
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (w nopWriteCloser) Close() error { return nil }

// NewCompressor wraps w so that bytes written to it are stored with the
// given compression. The stream is not complete until Close is called.
func NewCompressor(w io.Writer, compression Compression) (io.WriteCloser, error) {
	switch compression {
	case NoCompression:
		return nopWriteCloser{w}, nil
	case Gzip:
		gw, err := gzip.NewWriterLevel(w, gzip.BestCompression)
		if err != nil {
			return nil, &CompressionError{Kind: Gzip, Err: err}
		}
		return gw, nil
	case Brotli:
		return brotli.NewWriterLevel(w, brotli.BestCompression), nil
	case Zstd:
		zw, err := zstd.NewWriter(w, zstd.WithEncoderConcurrency(1))
		if err != nil {
			return nil, &CompressionError{Kind: Zstd, Err: err}
		}
		return zw, nil
	default:
		return nil, ErrUnsupportedCompression
	}
}

// NewDecompressor wraps r so that reads yield the decompressed stream.
func NewDecompressor(r io.Reader, compression Compression) (io.ReadCloser, error) {
	switch compression {
	case NoCompression:
		return io.NopCloser(r), nil
	case Gzip:
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, &CompressionError{Kind: Gzip, Err: err}
		}
		return gr, nil
	case Brotli:
		return io.NopCloser(brotli.NewReader(r)), nil
	case Zstd:
		zr, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, &CompressionError{Kind: Zstd, Err: err}
		}
		return zr.IOReadCloser(), nil
	default:
		return nil, ErrUnsupportedCompression
	}
}

// Compress encodes data with the given compression.
func Compress(data []byte, compression Compression) ([]byte, error) {
	if compression == NoCompression {
		return data, nil
	}
	var b bytes.Buffer
	w, err := NewCompressor(&b, compression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, &CompressionError{Kind: compression, Err: err}
	}
	if err := w.Close(); err != nil {
		return nil, &CompressionError{Kind: compression, Err: err}
	}
	return b.Bytes(), nil
}

// Decompress decodes data stored with the given compression.
func Decompress(data []byte, compression Compression) ([]byte, error) {
	if compression == NoCompression {
		return data, nil
	}
	r, err := NewDecompressor(bytes.NewReader(data), compression)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	result, err := io.ReadAll(r)
	if err != nil {
		return nil, &CompressionError{Kind: compression, Err: err}
	}
	return result, nil
}
