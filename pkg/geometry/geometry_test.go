package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

func TestEWKT(t *testing.T) {
	t.Run("srid prefix when positive", func(t *testing.T) {
		p := geom.NewPoint(geom.XY).MustSetCoords(geom.Coord{1, 2}).SetSRID(4326)

		s, err := EWKT(p)
		require.NoError(t, err)
		assert.Equal(t, "SRID=4326;POINT (1 2)", s)
	})

	t.Run("no prefix without srid", func(t *testing.T) {
		for _, srid := range []int{0, -1} {
			p := geom.NewPoint(geom.XY).MustSetCoords(geom.Coord{1, 2}).SetSRID(srid)

			s, err := EWKT(p)
			require.NoError(t, err)
			assert.Equal(t, "POINT (1 2)", s)
		}
	})

	t.Run("3D keeps Z", func(t *testing.T) {
		p := geom.NewPoint(geom.XYZ).MustSetCoords(geom.Coord{1, 2, 3})
		assert.Equal(t, 3, CoordinateDimension(p))

		s, err := EWKT(p)
		require.NoError(t, err)
		assert.Equal(t, "POINT Z (1 2 3)", s)
	})

	t.Run("M is dropped", func(t *testing.T) {
		p := geom.NewPoint(geom.XYM).MustSetCoords(geom.Coord{1, 2, 7})
		assert.Equal(t, 2, CoordinateDimension(p))

		s, err := EWKT(p)
		require.NoError(t, err)
		assert.Equal(t, "POINT (1 2)", s)
	})
}

func TestParseEWKT(t *testing.T) {
	t.Run("with prefix", func(t *testing.T) {
		g, err := ParseEWKT("SRID=2154;LINESTRING (0 0, 10 10)")
		require.NoError(t, err)
		assert.Equal(t, 2154, g.SRID())

		typ, err := TypeOf(g)
		require.NoError(t, err)
		assert.Equal(t, LINESTRING, typ)
	})

	t.Run("lower case prefix", func(t *testing.T) {
		g, err := ParseEWKT("srid=4326;POINT (3 4)")
		require.NoError(t, err)
		assert.Equal(t, 4326, g.SRID())
	})

	t.Run("without prefix", func(t *testing.T) {
		g, err := ParseEWKT("POLYGON ((0 0, 1 0, 1 1, 0 0))")
		require.NoError(t, err)
		assert.Equal(t, 0, g.SRID())
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := ParseEWKT("SRID=abc;POINT (1 2)")
		assert.Error(t, err)

		_, err = ParseEWKT("SRID=4326 POINT (1 2)")
		assert.Error(t, err)

		_, err = ParseEWKT("NOT A GEOMETRY")
		assert.Error(t, err)
	})

	t.Run("round trip", func(t *testing.T) {
		for _, s := range []string{
			"SRID=4326;POINT (1.5 2.25)",
			"SRID=3857;MULTIPOLYGON (((0 0, 1 0, 1 1, 0 0)), ((5 5, 6 5, 6 6, 5 5)))",
			"POINT Z (1 2 3)",
		} {
			g, err := ParseEWKT(s)
			require.NoError(t, err)

			out, err := EWKT(g)
			require.NoError(t, err)
			assert.Equal(t, s, out)
		}
	})
}

func TestClone(t *testing.T) {
	t.Run("deep copy keeps srid", func(t *testing.T) {
		ls := geom.NewLineString(geom.XY).MustSetCoords([]geom.Coord{{0, 0}, {1, 1}}).SetSRID(4326)

		c, err := Clone(ls)
		require.NoError(t, err)
		assert.True(t, Equal(ls, c))
		assert.Equal(t, 4326, c.SRID())

		c.FlatCoords()[0] = 99
		assert.Equal(t, float64(0), ls.FlatCoords()[0])
	})

	t.Run("collection", func(t *testing.T) {
		gc := geom.NewGeometryCollection()
		require.NoError(t, gc.Push(
			geom.NewPoint(geom.XY).MustSetCoords(geom.Coord{1, 2}),
			geom.NewLineString(geom.XY).MustSetCoords([]geom.Coord{{0, 0}, {1, 1}}),
		))
		gc.SetSRID(4326)

		c, err := Clone(gc)
		require.NoError(t, err)
		assert.True(t, Equal(gc, c))
	})
}

func TestForceLayout(t *testing.T) {
	poly := geom.NewPolygon(geom.XYZ).MustSetCoords([][]geom.Coord{
		{{0, 0, 1}, {1, 0, 1}, {1, 1, 1}, {0, 0, 1}},
	}).SetSRID(2154)

	flat, err := ForceLayout(poly, geom.XY)
	require.NoError(t, err)
	assert.Equal(t, geom.XY, flat.Layout())
	assert.Equal(t, []float64{0, 0, 1, 0, 1, 1, 0, 0}, flat.FlatCoords())
	assert.Equal(t, []int{8}, flat.Ends())
	assert.Equal(t, 2154, flat.SRID())

	t.Run("multipoint keeps empty members", func(t *testing.T) {
		mp := geom.NewMultiPointFlat(geom.XYM, []float64{1, 2, 3}, geom.NewMultiPointFlatOptionWithEnds([]int{0, 3}))

		out, err := ForceLayout(mp, geom.XY)
		require.NoError(t, err)

		got := out.(*geom.MultiPoint)
		require.Equal(t, 2, got.NumPoints())
		assert.True(t, got.Point(0).Empty())
		assert.Equal(t, []float64{1, 2}, got.Point(1).FlatCoords())
		assert.Equal(t, []int{0, 2}, got.Ends())
	})
}
