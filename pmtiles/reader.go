package pmtiles

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/brunomvsouza/singleflight"
	"github.com/dgraph-io/ristretto/v2"
)

const (
	// cache cost is measured in directory entries
	defaultLeafCacheCost    = 512 * 1024
	leafCacheCounterFactor  = 10
	defaultCacheBufferItems = 64
)

// Reader resolves tiles from an archive without materializing it: only the
// header, metadata and root directory stay resident. Each lookup performs at
// most one leaf directory fetch and one tile data fetch against the
// underlying byte source. Leaf directories are cached; concurrent fetches of
// the same leaf are collapsed. A Reader performs no internal mutation after
// construction apart from its cache, so it is safe for concurrent use.
type Reader struct {
	bucket   Bucket
	key      string
	header   HeaderV3
	metadata map[string]interface{}
	root     []EntryV3
	cache    *ristretto.Cache[string, []EntryV3]
	group    singleflight.Group[string, []EntryV3]

	decompressTiles bool
	cacheMaxCost    int64
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithDecompressTiles makes GetTile decompress payloads with the header's
// advertised tile compression instead of returning stored bytes verbatim.
func WithDecompressTiles() ReaderOption {
	return func(r *Reader) { r.decompressTiles = true }
}

// WithLeafCacheSize sets the leaf directory cache budget, in entries.
func WithLeafCacheSize(maxCost int64) ReaderOption {
	return func(r *Reader) { r.cacheMaxCost = maxCost }
}

// NewReader reads the header, metadata and root directory of the archive
// stored in bucket under key and returns a handle for on-demand tile
// lookups.
func NewReader(ctx context.Context, bucket Bucket, key string, opts ...ReaderOption) (*Reader, error) {
	r := &Reader{
		bucket:       bucket,
		key:          key,
		cacheMaxCost: defaultLeafCacheCost,
	}
	for _, o := range opts {
		o(r)
	}

	headerBytes, err := r.readRange(ctx, 0, HeaderV3LenBytes)
	if err != nil {
		return nil, err
	}
	r.header, err = DeserializeHeader(headerBytes)
	if err != nil {
		return nil, err
	}

	if r.header.MetadataLength > 0 {
		metadataBytes, err := r.readRange(ctx, r.header.MetadataOffset, r.header.MetadataLength)
		if err != nil {
			return nil, err
		}
		jsonBytes, err := Decompress(metadataBytes, r.header.InternalCompression)
		if err != nil {
			return nil, err
		}
		var value interface{}
		if err := json.Unmarshal(jsonBytes, &value); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMetadataNotObject, err)
		}
		object, ok := value.(map[string]interface{})
		if !ok {
			return nil, ErrMetadataNotObject
		}
		r.metadata = object
	}

	rootBytes, err := r.readRange(ctx, r.header.RootOffset, r.header.RootLength)
	if err != nil {
		return nil, err
	}
	decompressed, err := Decompress(rootBytes, r.header.InternalCompression)
	if err != nil {
		return nil, err
	}
	r.root, err = DeserializeEntries(bytes.NewReader(decompressed))
	if err != nil {
		return nil, err
	}

	r.cache, err = ristretto.NewCache(&ristretto.Config[string, []EntryV3]{
		NumCounters: r.cacheMaxCost * leafCacheCounterFactor,
		MaxCost:     r.cacheMaxCost,
		BufferItems: defaultCacheBufferItems,
	})
	if err != nil {
		return nil, err
	}

	return r, nil
}

// Header returns the archive's header.
func (r *Reader) Header() HeaderV3 {
	return r.header
}

// Metadata returns the archive's metadata object, nil if the archive has no
// metadata section.
func (r *Reader) Metadata() map[string]interface{} {
	return r.metadata
}

// Root returns the resident root directory.
func (r *Reader) Root() Directory {
	return Directory{Entries: r.root}
}

// Close releases the leaf directory cache. It does not close the underlying
// bucket, which is borrowed from the caller.
func (r *Reader) Close() error {
	r.cache.Close()
	return nil
}

func (r *Reader) readRange(ctx context.Context, offset, length uint64) ([]byte, error) {
	rc, err := r.bucket.NewRangeReader(ctx, r.key, int64(offset), int64(length))
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (r *Reader) leafDir(ctx context.Context, entry EntryV3) ([]EntryV3, error) {
	cacheKey := fmt.Sprintf("%s:%d:%d", r.key, entry.Offset, entry.Length)
	if entries, ok := r.cache.Get(cacheKey); ok {
		return entries, nil
	}
	entries, err, _ := r.group.Do(cacheKey, func() ([]EntryV3, error) {
		data, err := r.readRange(ctx, r.header.LeafDirectoryOffset+entry.Offset, uint64(entry.Length))
		if err != nil {
			return nil, err
		}
		decompressed, err := Decompress(data, r.header.InternalCompression)
		if err != nil {
			return nil, err
		}
		leaf, err := DeserializeEntries(bytes.NewReader(decompressed))
		if err != nil {
			return nil, err
		}
		r.cache.Set(cacheKey, leaf, int64(len(leaf)))
		return leaf, nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// GetTile fetches the payload for the tile at (z, x, y), and whether such a
// tile exists.
func (r *Reader) GetTile(ctx context.Context, z uint8, x uint32, y uint32) ([]byte, bool, error) {
	tileID, err := ZxyToID(z, x, y)
	if err != nil {
		return nil, false, err
	}

	entries := r.root
	for depth := 0; depth < 2; depth++ {
		entry, ok := FindTileEntry(entries, tileID)
		if !ok {
			return nil, false, nil
		}
		if entry.RunLength > 0 {
			data, err := r.readRange(ctx, r.header.TileDataOffset+entry.Offset, uint64(entry.Length))
			if err != nil {
				return nil, false, err
			}
			if r.decompressTiles {
				data, err = Decompress(data, r.header.TileCompression)
				if err != nil {
					return nil, false, err
				}
			}
			return data, true, nil
		}
		if depth > 0 {
			break
		}
		entries, err = r.leafDir(ctx, entry)
		if err != nil {
			return nil, false, err
		}
	}
	return nil, false, fmt.Errorf("%w: leaf directories must not be nested", ErrInvalidDirectory)
}
