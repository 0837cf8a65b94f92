package pmtiles

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemBucket(t *testing.T) {
	bucket := NewMemBucket()
	bucket.Put("a.pmtiles", []byte("0123456789"))
	ctx := context.Background()

	r, err := bucket.NewRangeReader(ctx, "a.pmtiles", 2, 3)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, []byte("234"), data)

	_, err = bucket.NewRangeReader(ctx, "a.pmtiles", 8, 5)
	assert.Error(t, err)

	_, err = bucket.NewRangeReader(ctx, "missing.pmtiles", 0, 1)
	assert.Error(t, err)
}

func TestFileBucket(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.pmtiles"), []byte("0123456789"), 0644))

	bucket := NewFileBucket(dir)
	r, err := bucket.NewRangeReader(context.Background(), "a.pmtiles", 4, 4)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, []byte("4567"), data)
}

func TestNormalizeLocalFile(t *testing.T) {
	bucket, key, err := NormalizeBucketKey("", "", "../foo/bar.pmtiles")
	require.NoError(t, err)
	assert.Equal(t, "bar.pmtiles", key)
	assert.True(t, strings.HasSuffix(bucket, "/foo"))
	assert.True(t, strings.HasPrefix(bucket, "file://"))
}

func TestNormalizeHTTP(t *testing.T) {
	bucket, key, err := NormalizeBucketKey("", "", "http://example.com/foo/bar.pmtiles")
	require.NoError(t, err)
	assert.Equal(t, "bar.pmtiles", key)
	assert.Equal(t, "http://example.com/foo", bucket)
}

func TestNormalizePassthrough(t *testing.T) {
	bucket, key, err := NormalizeBucketKey("s3://mybucket", "", "tiles/planet.pmtiles")
	require.NoError(t, err)
	assert.Equal(t, "s3://mybucket", bucket)
	assert.Equal(t, "tiles/planet.pmtiles", key)
}
