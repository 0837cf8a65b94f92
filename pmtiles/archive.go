package pmtiles

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Archive is an in-memory PMTiles v3 archive.
//
// An archive is either under construction (created with NewArchive, tiles
// added with AddTile, emitted with WriteTo) or materialized from a byte
// stream (FromBytes / FromReader). In both states GetTile returns the stored
// tile payload verbatim; the header's TileCompression only advertises what
// consumers should expect.
type Archive struct {
	Header   HeaderV3
	Metadata map[string]interface{}

	res     *resolver // construction state
	entries []EntryV3 // read state, leaf directories flattened
	data    []byte    // read state tile data blob
}

var errArchiveReadOnly = errors.New("pmtiles: archive was materialized from a stream and cannot accept tiles")

// ArchiveOption configures an archive under construction.
type ArchiveOption func(*Archive)

// WithInternalCompression sets the compression applied to directories and
// metadata. The default is Gzip.
func WithInternalCompression(compression Compression) ArchiveOption {
	return func(a *Archive) { a.Header.InternalCompression = compression }
}

// WithBounds sets the archive's bounding box in degrees.
func WithBounds(minLon, minLat, maxLon, maxLat float64) ArchiveOption {
	return func(a *Archive) {
		a.Header.MinLonE7 = int32(minLon * 10000000)
		a.Header.MinLatE7 = int32(minLat * 10000000)
		a.Header.MaxLonE7 = int32(maxLon * 10000000)
		a.Header.MaxLatE7 = int32(maxLat * 10000000)
	}
}

// WithCenter sets the archive's center point and zoom.
func WithCenter(zoom uint8, lon, lat float64) ArchiveOption {
	return func(a *Archive) {
		a.Header.CenterZoom = zoom
		a.Header.CenterLonE7 = int32(lon * 10000000)
		a.Header.CenterLatE7 = int32(lat * 10000000)
	}
}

// NewArchive creates an empty archive accepting tiles of the given type.
// tileCompression advertises the compression of tile payloads passed to
// AddTile; payloads are stored as given, never recompressed.
func NewArchive(tileType TileType, tileCompression Compression, opts ...ArchiveOption) *Archive {
	a := &Archive{
		Header: HeaderV3{
			SpecVersion:         3,
			InternalCompression: Gzip,
			TileCompression:     tileCompression,
			TileType:            tileType,
		},
		res: newResolver(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// AddTile records data for the tile at (z, x, y). Equal payloads share one
// storage slot. Adding the same coordinates twice fails with
// ErrDuplicateTile; empty data fails with ErrEmptyTile.
func (a *Archive) AddTile(z uint8, x uint32, y uint32, data []byte) error {
	if a.res == nil {
		return errArchiveReadOnly
	}
	tileID, err := ZxyToID(z, x, y)
	if err != nil {
		return err
	}
	return a.res.addTile(tileID, data)
}

// GetTile returns the stored payload for the tile at (z, x, y), and whether
// such a tile exists.
func (a *Archive) GetTile(z uint8, x uint32, y uint32) ([]byte, bool, error) {
	tileID, err := ZxyToID(z, x, y)
	if err != nil {
		return nil, false, err
	}
	if a.res != nil {
		data, ok := a.res.get(tileID)
		return data, ok, nil
	}
	entry, ok := FindTileEntry(a.entries, tileID)
	if !ok || entry.RunLength == 0 {
		return nil, false, nil
	}
	end := entry.Offset + uint64(entry.Length)
	if end > uint64(len(a.data)) {
		return nil, false, fmt.Errorf("%w: entry outside tile data section", ErrInvalidDirectory)
	}
	return a.data[entry.Offset:end], true, nil
}

// WriteTo emits the archive as a PMTiles v3 byte stream: header, root
// directory, metadata, leaf directories, tile data. The root directory is
// guaranteed to fit RootDirSizeBudget after internal compression.
func (a *Archive) WriteTo(w io.Writer) (int64, error) {
	header := a.Header
	var entries []EntryV3
	var data []byte

	if a.res != nil {
		var clustered bool
		entries, clustered = a.res.entries()
		data = a.res.data.Bytes()
		header.Clustered = clustered
		header.AddressedTilesCount = a.res.addressed.GetCardinality()
		header.TileEntriesCount = uint64(len(entries))
		header.TileContentsCount = a.res.contents
		if !a.res.addressed.IsEmpty() {
			minZ, _, _, err := IDToZxy(a.res.addressed.Minimum())
			if err != nil {
				return 0, err
			}
			maxZ, _, _, err := IDToZxy(a.res.addressed.Maximum())
			if err != nil {
				return 0, err
			}
			header.MinZoom = minZ
			header.MaxZoom = maxZ
			if header.CenterZoom < minZ || header.CenterZoom > maxZ {
				header.CenterZoom = minZ
			}
		}
	} else {
		entries = a.entries
		data = a.data
	}

	rootBytes, leavesBytes, _, err := optimizeDirectories(entries, RootDirSizeBudget, header.InternalCompression)
	if err != nil {
		return 0, err
	}

	metadata := a.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	jsonBytes, err := json.Marshal(metadata)
	if err != nil {
		return 0, err
	}
	metadataBytes, err := Compress(jsonBytes, header.InternalCompression)
	if err != nil {
		return 0, err
	}

	header.RootOffset = HeaderV3LenBytes
	header.RootLength = uint64(len(rootBytes))
	header.MetadataOffset = header.RootOffset + header.RootLength
	header.MetadataLength = uint64(len(metadataBytes))
	header.LeafDirectoryOffset = header.MetadataOffset + header.MetadataLength
	header.LeafDirectoryLength = uint64(len(leavesBytes))
	header.TileDataOffset = header.LeafDirectoryOffset + header.LeafDirectoryLength
	header.TileDataLength = uint64(len(data))

	var written int64
	for _, section := range [][]byte{SerializeHeader(header), rootBytes, metadataBytes, leavesBytes, data} {
		n, err := w.Write(section)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	a.Header = header
	return written, nil
}

// FromBytes materializes a full archive from an in-memory byte stream,
// flattening leaf directories.
func FromBytes(data []byte) (*Archive, error) {
	header, err := DeserializeHeader(data)
	if err != nil {
		return nil, err
	}

	section := func(offset, length uint64, name string) ([]byte, error) {
		end := offset + length
		if end < offset || end > uint64(len(data)) {
			return nil, fmt.Errorf("pmtiles: %s section out of range: %w", name, io.ErrUnexpectedEOF)
		}
		return data[offset:end], nil
	}

	var metadata map[string]interface{}
	if header.MetadataLength > 0 {
		raw, err := section(header.MetadataOffset, header.MetadataLength, "metadata")
		if err != nil {
			return nil, err
		}
		jsonBytes, err := Decompress(raw, header.InternalCompression)
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
		metadata = object
	}

	rootRaw, err := section(header.RootOffset, header.RootLength, "root directory")
	if err != nil {
		return nil, err
	}
	rootBytes, err := Decompress(rootRaw, header.InternalCompression)
	if err != nil {
		return nil, err
	}
	root, err := DeserializeEntries(bytes.NewReader(rootBytes))
	if err != nil {
		return nil, err
	}

	leafSection, err := section(header.LeafDirectoryOffset, header.LeafDirectoryLength, "leaf directory")
	if err != nil {
		return nil, err
	}

	entries := make([]EntryV3, 0, len(root))
	for _, entry := range root {
		if entry.RunLength > 0 {
			entries = append(entries, entry)
			continue
		}
		end := entry.Offset + uint64(entry.Length)
		if end < entry.Offset || end > uint64(len(leafSection)) {
			return nil, fmt.Errorf("%w: leaf pointer outside leaf directory section", ErrInvalidDirectory)
		}
		leafBytes, err := Decompress(leafSection[entry.Offset:end], header.InternalCompression)
		if err != nil {
			return nil, err
		}
		leaf, err := DeserializeEntries(bytes.NewReader(leafBytes))
		if err != nil {
			return nil, err
		}
		for _, leafEntry := range leaf {
			if leafEntry.RunLength == 0 {
				return nil, fmt.Errorf("%w: nested leaf directory", ErrInvalidDirectory)
			}
			entries = append(entries, leafEntry)
		}
	}

	for i := 1; i < len(entries); i++ {
		prev := entries[i-1]
		if entries[i].TileID < prev.TileID+uint64(prev.RunLength) {
			return nil, fmt.Errorf("%w: entries overlap across directories", ErrInvalidDirectory)
		}
	}

	blob, err := section(header.TileDataOffset, header.TileDataLength, "tile data")
	if err != nil {
		return nil, err
	}

	return &Archive{
		Header:   header,
		Metadata: metadata,
		entries:  entries,
		data:     bytes.Clone(blob),
	}, nil
}

// FromReader materializes a full archive from a sequential byte source.
func FromReader(r io.Reader) (*Archive, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return FromBytes(data)
}
