package pmtiles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustID(t *testing.T, z uint8, x uint32, y uint32) uint64 {
	t.Helper()
	id, err := ZxyToID(z, x, y)
	require.NoError(t, err)
	return id
}

func TestZxyToID(t *testing.T) {
	assert.Equal(t, uint64(0), mustID(t, 0, 0, 0))
	assert.Equal(t, uint64(1), mustID(t, 1, 0, 0))
	assert.Equal(t, uint64(2), mustID(t, 1, 0, 1))
	assert.Equal(t, uint64(3), mustID(t, 1, 1, 1))
	assert.Equal(t, uint64(4), mustID(t, 1, 1, 0))
	assert.Equal(t, uint64(5), mustID(t, 2, 0, 0))
}

func TestIDToZxy(t *testing.T) {
	z, x, y, err := IDToZxy(0)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), z)
	assert.Equal(t, uint32(0), x)
	assert.Equal(t, uint32(0), y)
	z, x, y, err = IDToZxy(1)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), z)
	assert.Equal(t, uint32(0), x)
	assert.Equal(t, uint32(0), y)
	z, x, y, err = IDToZxy(5)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), z)
	assert.Equal(t, uint32(0), x)
	assert.Equal(t, uint32(0), y)
	z, x, y, err = IDToZxy(19078479)
	require.NoError(t, err)
	assert.Equal(t, uint8(12), z)
	assert.Equal(t, uint32(3423), x)
	assert.Equal(t, uint32(1763), y)
}

func TestManyTileIDs(t *testing.T) {
	var z uint8
	var x uint32
	var y uint32
	for z = 0; z < 10; z++ {
		for x = 0; x < (1 << z); x++ {
			for y = 0; y < (1 << z); y++ {
				id, err := ZxyToID(z, x, y)
				require.NoError(t, err)
				rz, rx, ry, err := IDToZxy(id)
				require.NoError(t, err)
				if !(z == rz && x == rx && y == ry) {
					t.Fatalf("fail on %d %d %d", z, x, y)
				}
			}
		}
	}
}

func TestExtremes(t *testing.T) {
	var tz uint8
	for tz = 0; tz <= MaxZoom; tz++ {
		var dim uint32 = (1 << tz) - 1
		z, x, y, err := IDToZxy(mustID(t, tz, 0, 0))
		require.NoError(t, err)
		assert.Equal(t, tz, z)
		assert.Equal(t, uint32(0), x)
		assert.Equal(t, uint32(0), y)
		z, x, y, err = IDToZxy(mustID(t, tz, dim, 0))
		require.NoError(t, err)
		assert.Equal(t, tz, z)
		assert.Equal(t, dim, x)
		assert.Equal(t, uint32(0), y)
		z, x, y, err = IDToZxy(mustID(t, tz, 0, dim))
		require.NoError(t, err)
		assert.Equal(t, tz, z)
		assert.Equal(t, uint32(0), x)
		assert.Equal(t, dim, y)
		z, x, y, err = IDToZxy(mustID(t, tz, dim, dim))
		require.NoError(t, err)
		assert.Equal(t, tz, z)
		assert.Equal(t, dim, x)
		assert.Equal(t, dim, y)
	}
}

func TestInvalidCoordinates(t *testing.T) {
	_, err := ZxyToID(0, 0, 1)
	assert.ErrorIs(t, err, ErrInvalidCoordinate)
	_, err = ZxyToID(0, 1, 0)
	assert.ErrorIs(t, err, ErrInvalidCoordinate)
	_, err = ZxyToID(1, 2, 0)
	assert.ErrorIs(t, err, ErrInvalidCoordinate)
	_, err = ZxyToID(4, 0, 16)
	assert.ErrorIs(t, err, ErrInvalidCoordinate)
	_, err = ZxyToID(32, 0, 0)
	assert.ErrorIs(t, err, ErrInvalidCoordinate)
}

func TestInvalidTileID(t *testing.T) {
	_, _, _, err := IDToZxy(maxTileID)
	assert.ErrorIs(t, err, ErrInvalidTileID)

	z, _, _, err := IDToZxy(maxTileID - 1)
	require.NoError(t, err)
	assert.Equal(t, uint8(MaxZoom), z)
}

func TestParent(t *testing.T) {
	parent := func(z uint8, x uint32, y uint32) uint64 {
		p, err := ParentID(mustID(t, z, x, y))
		require.NoError(t, err)
		return p
	}
	assert.Equal(t, mustID(t, 0, 0, 0), parent(1, 0, 0))

	assert.Equal(t, mustID(t, 1, 0, 0), parent(2, 0, 0))
	assert.Equal(t, mustID(t, 1, 0, 0), parent(2, 0, 1))
	assert.Equal(t, mustID(t, 1, 0, 0), parent(2, 1, 0))
	assert.Equal(t, mustID(t, 1, 0, 0), parent(2, 1, 1))

	assert.Equal(t, mustID(t, 1, 1, 1), parent(2, 3, 3))

	_, err := ParentID(maxTileID)
	assert.ErrorIs(t, err, ErrInvalidTileID)
}
