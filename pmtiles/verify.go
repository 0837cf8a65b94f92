package pmtiles

import (
	"context"
	"fmt"
	"io"
	"math"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// Verify checks that an archive's header statistics match its directories:
// addressed tile, tile entry and tile content counts, min/max zoom, entry
// ordering, and that tile data offsets are in order if clustered=true.
// A nil logger suppresses the stats report.
func Verify(ctx context.Context, logger *zap.Logger, bucket Bucket, key string) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	fetch := func(offset, length uint64) ([]byte, error) {
		r, err := bucket.NewRangeReader(ctx, key, int64(offset), int64(length))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	}

	headerBytes, err := fetch(0, HeaderV3LenBytes)
	if err != nil {
		return err
	}
	header, err := DeserializeHeader(headerBytes)
	if err != nil {
		return err
	}

	var minTileID uint64 = math.MaxUint64
	var maxTileID uint64
	var addressedTiles uint64
	var tileEntries uint64
	var currentOffset uint64
	offsets := roaring64.New()

	var entryErr error
	err = IterateEntries(header, fetch, func(e EntryV3) {
		if entryErr != nil {
			return
		}
		addressedTiles += uint64(e.RunLength)
		tileEntries++

		if e.TileID < minTileID {
			minTileID = e.TileID
		}
		if last := e.TileID + uint64(e.RunLength) - 1; last > maxTileID {
			maxTileID = last
		}

		if e.Offset+uint64(e.Length) > header.TileDataLength {
			entryErr = fmt.Errorf("pmtiles: entry %v outside of tile data section", e)
			return
		}

		seen := offsets.Contains(e.Offset)
		offsets.Add(e.Offset)
		if header.Clustered && !seen {
			if e.Offset != currentOffset {
				entryErr = fmt.Errorf("pmtiles: out-of-order entry %v in clustered archive", e)
				return
			}
			currentOffset += uint64(e.Length)
		}
	})
	if err != nil {
		return err
	}
	if entryErr != nil {
		return entryErr
	}

	if addressedTiles != header.AddressedTilesCount {
		return fmt.Errorf("pmtiles: header AddressedTilesCount=%d but %d tiles addressed", header.AddressedTilesCount, addressedTiles)
	}
	if tileEntries != header.TileEntriesCount {
		return fmt.Errorf("pmtiles: header TileEntriesCount=%d but %d tile entries", header.TileEntriesCount, tileEntries)
	}
	if offsets.GetCardinality() != header.TileContentsCount {
		return fmt.Errorf("pmtiles: header TileContentsCount=%d but %d tile contents", header.TileContentsCount, offsets.GetCardinality())
	}

	if tileEntries > 0 {
		if z, _, _, err := IDToZxy(minTileID); err != nil || z != header.MinZoom {
			return fmt.Errorf("pmtiles: header MinZoom=%d does not match min tile z %d", header.MinZoom, z)
		}
		if z, _, _, err := IDToZxy(maxTileID); err != nil || z != header.MaxZoom {
			return fmt.Errorf("pmtiles: header MaxZoom=%d does not match max tile z %d", header.MaxZoom, z)
		}
		if header.CenterZoom < header.MinZoom || header.CenterZoom > header.MaxZoom {
			return fmt.Errorf("pmtiles: header CenterZoom=%d not within MinZoom/MaxZoom", header.CenterZoom)
		}
	}

	if header.MinLonE7 >= header.MaxLonE7 || header.MinLatE7 >= header.MaxLatE7 {
		logger.Warn("bounds has area <= 0: clients may not display tiles correctly",
			zap.Int32("min_lon_e7", header.MinLonE7),
			zap.Int32("max_lon_e7", header.MaxLonE7),
			zap.Int32("min_lat_e7", header.MinLatE7),
			zap.Int32("max_lat_e7", header.MaxLatE7),
		)
	}

	logger.Info("verified archive",
		zap.Uint64("addressed_tiles", addressedTiles),
		zap.Uint64("tile_entries", tileEntries),
		zap.Uint64("tile_contents", offsets.GetCardinality()),
		zap.Bool("clustered", header.Clustered),
		zap.Uint8("min_zoom", header.MinZoom),
		zap.Uint8("max_zoom", header.MaxZoom),
		zap.String("root_dir_size", humanize.Bytes(header.RootLength)),
		zap.String("leaf_dirs_size", humanize.Bytes(header.LeafDirectoryLength)),
		zap.String("tile_data_size", humanize.Bytes(header.TileDataLength)),
	)
	return nil
}
