package pmtiles

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"iter"
)

// EntryV3 is an entry in a PMTiles spec version 3 directory.
//
// An entry with RunLength >= 1 addresses tile data; its Offset and Length are
// relative to the tile data section. An entry with RunLength == 0 points to a
// leaf directory; its Offset and Length are relative to the leaf directory
// section.
type EntryV3 struct {
	TileID    uint64
	Offset    uint64
	Length    uint32
	RunLength uint32
}

// RootDirSizeBudget is the maximum encoded-and-compressed size of the root
// directory section.
const RootDirSizeBudget = 16384

// SerializeEntries serializes a sorted directory to its varint encoding:
// the entry count, tile ID deltas, run lengths, lengths, then offsets with
// 0 as the sentinel for "contiguous with the previous entry".
func SerializeEntries(entries []EntryV3) []byte {
	var b bytes.Buffer
	tmp := make([]byte, binary.MaxVarintLen64)

	n := binary.PutUvarint(tmp, uint64(len(entries)))
	b.Write(tmp[:n])

	lastID := uint64(0)
	for _, entry := range entries {
		n = binary.PutUvarint(tmp, entry.TileID-lastID)
		b.Write(tmp[:n])
		lastID = entry.TileID
	}

	for _, entry := range entries {
		n = binary.PutUvarint(tmp, uint64(entry.RunLength))
		b.Write(tmp[:n])
	}

	for _, entry := range entries {
		n = binary.PutUvarint(tmp, uint64(entry.Length))
		b.Write(tmp[:n])
	}

	for i, entry := range entries {
		if i > 0 && entry.Offset == entries[i-1].Offset+uint64(entries[i-1].Length) {
			n = binary.PutUvarint(tmp, 0)
		} else {
			n = binary.PutUvarint(tmp, entry.Offset+1) // add 1 to not conflict with the sentinel
		}
		b.Write(tmp[:n])
	}

	return b.Bytes()
}

// DeserializeEntries reads a varint-encoded directory, validating its
// structural invariants: nonzero lengths, ascending tile IDs and
// non-overlapping runs.
func DeserializeEntries(r io.Reader) ([]EntryV3, error) {
	byteReader := bufio.NewReader(r)

	numEntries, err := binary.ReadUvarint(byteReader)
	if err != nil {
		return nil, fmt.Errorf("%w: reading entry count: %v", ErrInvalidDirectory, err)
	}

	entries := make([]EntryV3, 0)

	lastID := uint64(0)
	for i := uint64(0); i < numEntries; i++ {
		delta, err := binary.ReadUvarint(byteReader)
		if err != nil {
			return nil, fmt.Errorf("%w: reading tile id delta %d: %v", ErrInvalidDirectory, i, err)
		}
		if i > 0 && delta == 0 {
			return nil, fmt.Errorf("%w: duplicate tile id at entry %d", ErrInvalidDirectory, i)
		}
		id := lastID + delta
		if id < lastID {
			return nil, fmt.Errorf("%w: tile id overflow at entry %d", ErrInvalidDirectory, i)
		}
		entries = append(entries, EntryV3{TileID: id})
		lastID = id
	}

	for i := range entries {
		runLength, err := binary.ReadUvarint(byteReader)
		if err != nil {
			return nil, fmt.Errorf("%w: reading run length %d: %v", ErrInvalidDirectory, i, err)
		}
		entries[i].RunLength = uint32(runLength)
	}

	for i := range entries {
		length, err := binary.ReadUvarint(byteReader)
		if err != nil {
			return nil, fmt.Errorf("%w: reading length %d: %v", ErrInvalidDirectory, i, err)
		}
		if length == 0 {
			return nil, fmt.Errorf("%w: zero length at entry %d", ErrInvalidDirectory, i)
		}
		entries[i].Length = uint32(length)
	}

	for i := range entries {
		offset, err := binary.ReadUvarint(byteReader)
		if err != nil {
			return nil, fmt.Errorf("%w: reading offset %d: %v", ErrInvalidDirectory, i, err)
		}
		if offset == 0 {
			if i == 0 {
				return nil, fmt.Errorf("%w: contiguous-offset sentinel on first entry", ErrInvalidDirectory)
			}
			entries[i].Offset = entries[i-1].Offset + uint64(entries[i-1].Length)
		} else {
			entries[i].Offset = offset - 1
		}
	}

	for i := 1; i < len(entries); i++ {
		prev := entries[i-1]
		if entries[i].TileID < prev.TileID+uint64(prev.RunLength) {
			return nil, fmt.Errorf("%w: entry %d overlaps run of entry %d", ErrInvalidDirectory, i, i-1)
		}
	}

	return entries, nil
}

// FindTileEntry locates the entry covering tileID: either an exact match, a
// run containing it, or a leaf pointer that may contain it.
func FindTileEntry(entries []EntryV3, tileID uint64) (EntryV3, bool) {
	m := 0
	n := len(entries) - 1
	for m <= n {
		k := (n + m) >> 1
		if tileID > entries[k].TileID {
			m = k + 1
		} else if tileID < entries[k].TileID {
			n = k - 1
		} else {
			return entries[k], true
		}
	}

	// at this point, m > n
	if n >= 0 {
		if entries[n].RunLength == 0 {
			return entries[n], true
		}
		if tileID-entries[n].TileID < uint64(entries[n].RunLength) {
			return entries[n], true
		}
	}
	return EntryV3{}, false
}

// Directory is a sorted sequence of directory entries.
type Directory struct {
	Entries []EntryV3
}

// FindEntry locates the entry covering tileID, see FindTileEntry.
func (d Directory) FindEntry(tileID uint64) (EntryV3, bool) {
	return FindTileEntry(d.Entries, tileID)
}

// Iter iterates the directory's entries in tile ID order.
func (d Directory) Iter() iter.Seq[EntryV3] {
	return func(yield func(EntryV3) bool) {
		for _, entry := range d.Entries {
			if !yield(entry) {
				return
			}
		}
	}
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (d Directory) MarshalBinary() ([]byte, error) {
	return SerializeEntries(d.Entries), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (d *Directory) UnmarshalBinary(data []byte) error {
	entries, err := DeserializeEntries(bytes.NewReader(data))
	if err != nil {
		return err
	}
	d.Entries = entries
	return nil
}

func serializeAndCompress(entries []EntryV3, compression Compression) ([]byte, error) {
	return Compress(SerializeEntries(entries), compression)
}

func buildRootsLeaves(entries []EntryV3, leafSize int, compression Compression) ([]byte, []byte, int, error) {
	rootEntries := make([]EntryV3, 0)
	leavesBytes := make([]byte, 0)
	numLeaves := 0

	for idx := 0; idx < len(entries); idx += leafSize {
		numLeaves++
		end := idx + leafSize
		if end > len(entries) {
			end = len(entries)
		}
		serialized, err := serializeAndCompress(entries[idx:end], compression)
		if err != nil {
			return nil, nil, 0, err
		}

		rootEntries = append(rootEntries, EntryV3{entries[idx].TileID, uint64(len(leavesBytes)), uint32(len(serialized)), 0})
		leavesBytes = append(leavesBytes, serialized...)
	}

	rootBytes, err := serializeAndCompress(rootEntries, compression)
	if err != nil {
		return nil, nil, 0, err
	}
	return rootBytes, leavesBytes, numLeaves, nil
}

const minLeafSize = 4096

// optimizeDirectories encodes entries as a single root directory if there
// are fewer than 16384 of them and the result fits targetRootLen after
// compression, otherwise splits them into leaf directories. The leaf size starts at minLeafSize and doubles until the
// root of leaf pointers fits, then a binary search refines it down to the
// smallest size that still fits.
func optimizeDirectories(entries []EntryV3, targetRootLen int, compression Compression) ([]byte, []byte, int, error) {
	if len(entries) < 16384 {
		testRootBytes, err := serializeAndCompress(entries, compression)
		if err != nil {
			return nil, nil, 0, err
		}
		if len(testRootBytes) <= targetRootLen {
			return testRootBytes, make([]byte, 0), 0, nil
		}
	}

	leafSize := minLeafSize
	lastFail := 0
	var rootBytes, leavesBytes []byte
	var numLeaves int
	for {
		var err error
		rootBytes, leavesBytes, numLeaves, err = buildRootsLeaves(entries, leafSize, compression)
		if err != nil {
			return nil, nil, 0, err
		}
		if len(rootBytes) <= targetRootLen {
			break
		}
		lastFail = leafSize
		leafSize *= 2
	}

	if lastFail == 0 {
		// fits at the minimum leaf size, nothing to refine
		return rootBytes, leavesBytes, numLeaves, nil
	}

	// refine down toward the smallest fitting leaf size
	lo, hi := lastFail+1, leafSize
	for lo < hi {
		mid := (lo + hi) / 2
		root, leaves, n, err := buildRootsLeaves(entries, mid, compression)
		if err != nil {
			return nil, nil, 0, err
		}
		if len(root) <= targetRootLen {
			rootBytes, leavesBytes, numLeaves = root, leaves, n
			hi = mid
		} else {
			lo = mid + 1
		}
	}

	return rootBytes, leavesBytes, numLeaves, nil
}

// IterateEntries calls operation for every tile entry reachable from the
// root directory, fetching and descending into leaf directories as needed.
// fetch reads a byte range (offset, length) from the archive.
func IterateEntries(header HeaderV3, fetch func(uint64, uint64) ([]byte, error), operation func(EntryV3)) error {
	var collectEntries func(uint64, uint64) error

	collectEntries = func(dirOffset uint64, dirLength uint64) error {
		data, err := fetch(dirOffset, dirLength)
		if err != nil {
			return err
		}

		decompressed, err := Decompress(data, header.InternalCompression)
		if err != nil {
			return err
		}
		directory, err := DeserializeEntries(bytes.NewReader(decompressed))
		if err != nil {
			return err
		}
		for _, entry := range directory {
			if entry.RunLength > 0 {
				operation(entry)
			} else {
				if err := collectEntries(header.LeafDirectoryOffset+entry.Offset, uint64(entry.Length)); err != nil {
					return err
				}
			}
		}
		return nil
	}

	return collectEntries(header.RootOffset, header.RootLength)
}
