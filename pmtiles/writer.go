package pmtiles

import (
	"bytes"
	"math"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/cespare/xxhash/v2"
)

type offsetLen struct {
	offset uint64
	length uint32
}

// resolver deduplicates tile contents by fingerprint and tracks the binding
// from each addressed tile ID to its slot in the tile data blob.
type resolver struct {
	tiles     map[uint64]offsetLen   // tile ID -> slot
	hashSlots map[uint64][]offsetLen // xxhash64 fingerprint -> candidate slots
	addressed *roaring64.Bitmap
	contents  uint64 // distinct stored blobs
	data      bytes.Buffer
}

func newResolver() *resolver {
	return &resolver{
		tiles:     make(map[uint64]offsetLen),
		hashSlots: make(map[uint64][]offsetLen),
		addressed: roaring64.New(),
	}
}

func (r *resolver) addTile(tileID uint64, data []byte) error {
	if len(data) == 0 {
		return ErrEmptyTile
	}
	if r.addressed.Contains(tileID) {
		return ErrDuplicateTile
	}

	sum := xxhash.Sum64(data)
	var slot offsetLen
	found := false
	for _, candidate := range r.hashSlots[sum] {
		// fingerprints can collide, reuse a slot only on byte equality
		stored := r.data.Bytes()[candidate.offset : candidate.offset+uint64(candidate.length)]
		if bytes.Equal(stored, data) {
			slot = candidate
			found = true
			break
		}
	}
	if !found {
		slot = offsetLen{offset: uint64(r.data.Len()), length: uint32(len(data))}
		r.data.Write(data)
		r.hashSlots[sum] = append(r.hashSlots[sum], slot)
		r.contents++
	}

	r.tiles[tileID] = slot
	r.addressed.Add(tileID)
	return nil
}

func (r *resolver) get(tileID uint64) ([]byte, bool) {
	slot, ok := r.tiles[tileID]
	if !ok {
		return nil, false
	}
	return r.data.Bytes()[slot.offset : slot.offset+uint64(slot.length)], true
}

// entries materializes the directory in tile ID order, collapsing contiguous
// bindings to the same slot into runs, and reports whether tile data offsets
// are non-decreasing in tile ID order.
func (r *resolver) entries() ([]EntryV3, bool) {
	entries := make([]EntryV3, 0, len(r.tiles))
	clustered := true
	it := r.addressed.Iterator()
	for it.HasNext() {
		id := it.Next()
		slot := r.tiles[id]
		if n := len(entries); n > 0 {
			last := &entries[n-1]
			if id == last.TileID+uint64(last.RunLength) &&
				slot.offset == last.Offset && slot.length == last.Length &&
				last.RunLength < math.MaxUint32 {
				last.RunLength++
				continue
			}
			if slot.offset < last.Offset {
				clustered = false
			}
		}
		entries = append(entries, EntryV3{id, slot.offset, slot.length, 1})
	}
	return entries, clustered
}
