package projection

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"geomvalue/pkg/value"
)

func newProjector(t *testing.T) *Projector {
	p, err := NewProjector(context.Background())
	if err != nil {
		t.Skipf("duckdb spatial extension unavailable: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestSourceSRID(t *testing.T) {
	typ := value.NewGeometryType("shape")
	wgs84 := geom.NewPointFlat(geom.XY, []float64{95.42, 5.64}).SetSRID(4326)

	t.Run("common srid", func(t *testing.T) {
		geoms, srid, err := sourceSRID(typ, []value.Cell{value.Native(wgs84), value.Null(value.StorageNative)})
		require.NoError(t, err)
		assert.Equal(t, 4326, srid)
		assert.Nil(t, geoms[1])
	})

	t.Run("all null", func(t *testing.T) {
		_, srid, err := sourceSRID(typ, []value.Cell{value.Null(value.StorageNative)})
		require.NoError(t, err)
		assert.Equal(t, 0, srid)
	})

	t.Run("missing srid", func(t *testing.T) {
		_, _, err := sourceSRID(typ, []value.Cell{value.Native(geom.NewPointFlat(geom.XY, []float64{1, 2}))})
		assert.Error(t, err)
	})

	t.Run("mixed srid", func(t *testing.T) {
		other := geom.NewPointFlat(geom.XY, []float64{1, 2}).SetSRID(3857)
		_, _, err := sourceSRID(typ, []value.Cell{value.Native(wgs84), value.Native(other)})
		assert.Error(t, err)
	})
}

func TestTransform(t *testing.T) {
	p := newProjector(t)
	ctx := context.Background()

	t.Run("project to web mercator", func(t *testing.T) {
		pt := geom.NewPointFlat(geom.XY, []float64{1, 0}).SetSRID(4326)

		out, err := p.Transform(ctx, pt, 3857)
		require.NoError(t, err)
		require.NotNil(t, out)

		assert.Equal(t, 3857, out.SRID())
		assert.InDelta(t, 111319.49, out.FlatCoords()[0], 0.01)
		assert.InDelta(t, 0, out.FlatCoords()[1], 0.01)
	})

	t.Run("project back to 4326", func(t *testing.T) {
		pt := geom.NewPointFlat(geom.XY, []float64{95.42103999972832, 5.647860000331377}).SetSRID(4326)

		there, err := p.Transform(ctx, pt, 3857)
		require.NoError(t, err)
		back, err := p.Transform(ctx, there, 4326)
		require.NoError(t, err)

		assert.InDelta(t, 95.42103999972832, back.FlatCoords()[0], 1e-6)
		assert.InDelta(t, 5.647860000331377, back.FlatCoords()[1], 1e-6)
	})

	t.Run("column keeps row order and nulls", func(t *testing.T) {
		typ := value.NewGeometryType("shape")
		cells := []value.Cell{
			value.Native(geom.NewPointFlat(geom.XY, []float64{0, 0}).SetSRID(4326)),
			value.Null(value.StorageNative),
			value.Native(geom.NewLineStringFlat(geom.XY, []float64{0, 0, 1, 0}).SetSRID(4326)),
		}

		out, err := p.TransformCells(ctx, typ, cells, 3857)
		require.NoError(t, err)
		require.Len(t, out, 3)

		assert.IsType(t, &geom.Point{}, out[0].Native())
		assert.True(t, out[1].IsNull())
		assert.IsType(t, &geom.LineString{}, out[2].Native())
		assert.InDelta(t, 111319.49, out[2].Native().FlatCoords()[2], 0.01)
	})

	t.Run("invalid target", func(t *testing.T) {
		_, err := p.Transform(ctx, geom.NewPointFlat(geom.XY, []float64{0, 0}).SetSRID(4326), 0)
		assert.Error(t, err)
	})
}
