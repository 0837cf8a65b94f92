package pmtiles

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressionRoundtrip(t *testing.T) {
	r := rand.New(rand.NewSource(3857))
	data := make([]byte, 10000)
	r.Read(data)

	for _, compression := range []Compression{NoCompression, Gzip, Brotli, Zstd} {
		compressed, err := Compress(data, compression)
		require.NoError(t, err, compression.String())
		result, err := Decompress(compressed, compression)
		require.NoError(t, err, compression.String())
		assert.Equal(t, data, result, compression.String())
	}
}

func TestCompressionRoundtripEmpty(t *testing.T) {
	for _, compression := range []Compression{NoCompression, Gzip, Brotli, Zstd} {
		compressed, err := Compress([]byte{}, compression)
		require.NoError(t, err, compression.String())
		result, err := Decompress(compressed, compression)
		require.NoError(t, err, compression.String())
		assert.Len(t, result, 0, compression.String())
	}
}

func TestStreamingRoundtrip(t *testing.T) {
	data := bytes.Repeat([]byte("pyramid"), 1000)

	for _, compression := range []Compression{NoCompression, Gzip, Brotli, Zstd} {
		var b bytes.Buffer
		w, err := NewCompressor(&b, compression)
		require.NoError(t, err, compression.String())
		_, err = w.Write(data)
		require.NoError(t, err, compression.String())
		require.NoError(t, w.Close(), compression.String())

		r, err := NewDecompressor(&b, compression)
		require.NoError(t, err, compression.String())
		result := new(bytes.Buffer)
		_, err = result.ReadFrom(r)
		require.NoError(t, err, compression.String())
		require.NoError(t, r.Close(), compression.String())
		assert.Equal(t, data, result.Bytes(), compression.String())
	}
}

func TestUnknownCompressionRejected(t *testing.T) {
	_, err := Compress([]byte{1}, UnknownCompression)
	assert.ErrorIs(t, err, ErrUnsupportedCompression)
	_, err = Decompress([]byte{1}, UnknownCompression)
	assert.ErrorIs(t, err, ErrUnsupportedCompression)
	_, err = Compress([]byte{1}, Compression(9))
	assert.ErrorIs(t, err, ErrUnsupportedCompression)
}

func TestCorruptStream(t *testing.T) {
	garbage := []byte{0xde, 0xad, 0xbe, 0xef}

	for _, compression := range []Compression{Gzip, Zstd} {
		_, err := Decompress(garbage, compression)
		require.Error(t, err, compression.String())
		var cerr *CompressionError
		require.True(t, errors.As(err, &cerr), compression.String())
		assert.Equal(t, compression, cerr.Kind)
	}
}

func TestCompressionString(t *testing.T) {
	assert.Equal(t, "none", NoCompression.String())
	assert.Equal(t, "gzip", Gzip.String())
	assert.Equal(t, "brotli", Brotli.String())
	assert.Equal(t, "zstd", Zstd.String())
	assert.Equal(t, "unknown", UnknownCompression.String())
}
