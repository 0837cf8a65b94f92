package pmtiles

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gocloud.dev/blob"
)

// Bucket is a random-access byte source addressed by key: an abstraction
// over a gocloud bucket, a plain HTTP server supporting range requests, the
// local filesystem, or an in-memory store.
type Bucket interface {
	Close() error
	NewRangeReader(ctx context.Context, key string, offset int64, length int64) (io.ReadCloser, error)
}

// MemBucket is an in-memory Bucket.
type MemBucket struct {
	items map[string][]byte
}

func NewMemBucket() *MemBucket {
	return &MemBucket{items: make(map[string][]byte)}
}

// Put stores data under key, replacing any previous value.
func (m *MemBucket) Put(key string, data []byte) {
	m.items[key] = data
}

func (m *MemBucket) Close() error { return nil }

func (m *MemBucket) NewRangeReader(_ context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	data, ok := m.items[key]
	if !ok {
		return nil, fmt.Errorf("pmtiles: key %s not found", key)
	}
	if offset < 0 || length < 0 || offset+length > int64(len(data)) {
		return nil, fmt.Errorf("pmtiles: range %d+%d outside of %s (%d bytes): %w", offset, length, key, len(data), io.ErrUnexpectedEOF)
	}
	return io.NopCloser(bytes.NewReader(data[offset : offset+length])), nil
}

// FileBucket is a bucket backed by a directory on disk.
type FileBucket struct {
	path string
}

func NewFileBucket(path string) FileBucket {
	return FileBucket{path: path}
}

func (b FileBucket) NewRangeReader(_ context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	name := filepath.Join(b.path, key)
	file, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	result := make([]byte, length)
	read, err := file.ReadAt(result, offset)
	if err != nil {
		return nil, err
	}
	if read != int(length) {
		return nil, fmt.Errorf("pmtiles: expected to read %d bytes but only read %d", length, read)
	}
	return io.NopCloser(bytes.NewReader(result)), nil
}

func (b FileBucket) Close() error { return nil }

// HTTPClient lets you swap out the default client with a mock one in tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPBucket reads ranges from any server supporting HTTP range requests.
type HTTPBucket struct {
	baseURL string
	client  HTTPClient
}

func (b HTTPBucket) NewRangeReader(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	reqURL := b.baseURL + "/" + key

	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		return nil, fmt.Errorf("pmtiles: HTTP error: %d", resp.StatusCode)
	}

	return resp.Body, nil
}

func (b HTTPBucket) Close() error { return nil }

// BucketAdapter wraps a gocloud blob bucket. Callers choose backends by
// blank-importing the gocloud drivers they need (s3blob, gcsblob, azureblob,
// fileblob).
type BucketAdapter struct {
	Bucket *blob.Bucket
}

func (ba BucketAdapter) NewRangeReader(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	return ba.Bucket.NewRangeReader(ctx, key, offset, length, nil)
}

func (ba BucketAdapter) Close() error {
	return ba.Bucket.Close()
}

// NormalizeBucketKey splits a bare path or URL into a bucket URL and a key
// within it.
func NormalizeBucketKey(bucket string, prefix string, key string) (string, string, error) {
	if bucket == "" {
		if strings.HasPrefix(key, "http") {
			u, err := url.Parse(key)
			if err != nil {
				return "", "", err
			}
			dir, file := path.Split(u.Path)
			dir = strings.TrimSuffix(dir, "/")
			return u.Scheme + "://" + u.Host + dir, file, nil
		}
		fileprotocol := "file://"
		if string(os.PathSeparator) != "/" {
			fileprotocol += "/"
		}
		if prefix != "" {
			abs, err := filepath.Abs(prefix)
			if err != nil {
				return "", "", err
			}
			return fileprotocol + filepath.ToSlash(abs), key, nil
		}
		abs, err := filepath.Abs(key)
		if err != nil {
			return "", "", err
		}
		return fileprotocol + filepath.ToSlash(filepath.Dir(abs)), filepath.Base(abs), nil
	}
	return bucket, key, nil
}

// OpenBucket opens a Bucket for a bucket URL: http(s)://, file://, or any
// scheme registered with gocloud.
func OpenBucket(ctx context.Context, bucketURL string, bucketPrefix string) (Bucket, error) {
	if strings.HasPrefix(bucketURL, "http") {
		return HTTPBucket{bucketURL, http.DefaultClient}, nil
	}
	if strings.HasPrefix(bucketURL, "file") {
		fileprotocol := "file://"
		if string(os.PathSeparator) != "/" {
			fileprotocol += "/"
		}
		p := strings.Replace(bucketURL, fileprotocol, "", 1)
		return FileBucket{filepath.FromSlash(p)}, nil
	}
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, err
	}
	if bucketPrefix != "" && bucketPrefix != "/" && bucketPrefix != "." {
		bucket = blob.PrefixedBucket(bucket, path.Clean(bucketPrefix)+string(os.PathSeparator))
	}
	return BucketAdapter{bucket}, nil
}
