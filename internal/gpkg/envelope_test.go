package gpkg

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
)

func lineWKB(t *testing.T) []byte {
	t.Helper()
	line := geom.NewLineString(geom.XY).MustSetCoords([]geom.Coord{
		{1, 2}, {5, -3}, {-2, 8},
	})
	body, err := wkb.Marshal(line, binary.LittleEndian)
	require.NoError(t, err)
	return body
}

func pointWKB(t *testing.T) []byte {
	t.Helper()
	pt := geom.NewPoint(geom.XY).MustSetCoords(geom.Coord{10, 20})
	body, err := wkb.Marshal(pt, binary.LittleEndian)
	require.NoError(t, err)
	return body
}

func TestHeaderSizeByIndicator(t *testing.T) {
	header := func(indicator byte) []byte {
		return []byte{'G', 'P', 0, 1 | indicator<<1, 0, 0, 0, 0}
	}
	cases := map[byte]int{0: 8, 1: 40, 2: 56, 3: 56, 4: 72}
	for indicator, want := range cases {
		got, err := HeaderSize(header(indicator))
		require.NoError(t, err)
		assert.Equal(t, want, got, "indicator %d", indicator)
	}
}

func TestHeaderSizeRejectsForeignBlob(t *testing.T) {
	_, err := HeaderSize([]byte("not a geometry"))
	assert.Error(t, err)
	_, err = HeaderSize([]byte{'G', 'P'})
	assert.Error(t, err)
}

func TestWrapLineStringRoundTrip(t *testing.T) {
	body := lineWKB(t)
	blob, err := Wrap(body, 4326, "LINESTRING", false, false)
	require.NoError(t, err)

	size, err := HeaderSize(blob)
	require.NoError(t, err)
	assert.Equal(t, 8+32, size, "XY envelope")
	assert.Equal(t, uint32(4326), binary.LittleEndian.Uint32(blob[4:8]))

	// envelope order is minx, maxx, miny, maxy
	env := blob[8:40]
	assert.Equal(t, -2.0, floatAt(env, 0))
	assert.Equal(t, 5.0, floatAt(env, 1))
	assert.Equal(t, -3.0, floatAt(env, 2))
	assert.Equal(t, 8.0, floatAt(env, 3))

	stripped, err := Strip(blob)
	require.NoError(t, err)
	assert.Equal(t, body, stripped)
}

func TestWrapPointHasNoEnvelope(t *testing.T) {
	body := pointWKB(t)
	blob, err := Wrap(body, 4326, "POINT", false, false)
	require.NoError(t, err)
	size, err := HeaderSize(blob)
	require.NoError(t, err)
	assert.Equal(t, 8, size)
	stripped, err := Strip(blob)
	require.NoError(t, err)
	assert.Equal(t, body, stripped)
}

func TestWrapZGeometryWritesZEnvelope(t *testing.T) {
	line := geom.NewLineString(geom.XYZ).MustSetCoords([]geom.Coord{
		{0, 0, 1}, {2, 2, 5},
	})
	body, err := wkb.Marshal(line, binary.LittleEndian)
	require.NoError(t, err)
	blob, err := Wrap(body, 3857, "LINESTRING", true, false)
	require.NoError(t, err)
	size, err := HeaderSize(blob)
	require.NoError(t, err)
	assert.Equal(t, 8+48, size, "XYZ envelope")
	env := blob[8 : 8+48]
	assert.Equal(t, 1.0, floatAt(env, 4))
	assert.Equal(t, 5.0, floatAt(env, 5))
}

func TestEnvelopeOf(t *testing.T) {
	ext, empty, err := EnvelopeOf(lineWKB(t))
	require.NoError(t, err)
	assert.False(t, empty)
	assert.Equal(t, Extent{MinX: -2, MinY: -3, MaxX: 5, MaxY: 8}, ext)
}

func TestExtentExtend(t *testing.T) {
	e := Extent{MinX: 0, MinY: 0, MaxX: 1, MaxY: 1}
	e.Extend(Extent{MinX: -1, MinY: 2, MaxX: 0.5, MaxY: 3})
	assert.Equal(t, Extent{MinX: -1, MinY: 0, MaxX: 1, MaxY: 3}, e)
}

func floatAt(env []byte, i int) float64 {
	bits := binary.LittleEndian.Uint64(env[i*8 : i*8+8])
	return math.Float64frombits(bits)
}
