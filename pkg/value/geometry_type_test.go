package value

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"golang.org/x/text/encoding/charmap"

	"geomvalue/pkg/errs"
	"geomvalue/pkg/geometry"
)

func point(x, y float64, srid int) *geom.Point {
	return geom.NewPoint(geom.XY).MustSetCoords(geom.Coord{x, y}).SetSRID(srid)
}

func TestRenderText(t *testing.T) {
	t.Run("native with srid", func(t *testing.T) {
		typ := NewGeometryType("geom")

		s, ok, err := typ.RenderTextOK(Native(point(1, 2, 4326)))
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "SRID=4326;POINT (1 2)", s)
	})

	t.Run("native without srid", func(t *testing.T) {
		s, err := NewGeometryType("geom").RenderText(Native(point(1, 2, 0)))
		require.NoError(t, err)
		assert.Equal(t, "POINT (1 2)", s)
	})

	t.Run("null", func(t *testing.T) {
		s, ok, err := NewGeometryType("geom").RenderTextOK(Null(StorageNative))
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, "", s)
	})

	t.Run("binary encoded", func(t *testing.T) {
		typ := NewGeometryType("geom").SetStorageMode(StorageBinaryEncoded)

		s, err := typ.RenderText(BinaryEncoded([]byte("SRID=2154;POINT (5 6)")))
		require.NoError(t, err)
		assert.Equal(t, "SRID=2154;POINT (5 6)", s)
	})

	t.Run("indexed", func(t *testing.T) {
		b := NewIndexBuilder()
		c, err := b.Add(point(3, 4, 3857))
		require.NoError(t, err)

		typ := NewGeometryType("geom").SetStorageMode(StorageIndexed).SetIndexTable(b.Table())

		s, err := typ.RenderText(c)
		require.NoError(t, err)
		assert.Equal(t, "SRID=3857;POINT (3 4)", s)
	})

	t.Run("padding and truncation", func(t *testing.T) {
		typ := NewGeometryType("geom").SetOutputPadding(true).SetLength(14)

		s, err := typ.RenderText(Native(point(1, 2, 0)))
		require.NoError(t, err)
		assert.Equal(t, "POINT (1 2)   ", s)

		s, err = typ.RenderText(Native(point(1, 2, 4326)))
		require.NoError(t, err)
		assert.Equal(t, "SRID=4326;POIN", s)
	})

	t.Run("mode mismatch is fatal", func(t *testing.T) {
		typ := NewGeometryType("geom").SetStorageMode(StorageIndexed)

		_, err := typ.RenderText(Native(point(1, 2, 0)))
		assert.ErrorIs(t, err, errs.TypeMismatch)
		assert.True(t, errs.IsFatal(err))
	})

	t.Run("unknown storage mode", func(t *testing.T) {
		typ := NewGeometryType("geom").SetStorageMode(StorageMode(9))

		_, err := typ.RenderText(Cell{mode: StorageMode(9), valid: true})
		assert.ErrorIs(t, err, errs.UnknownStorageMode)
	})
}

func TestBinaryConverter(t *testing.T) {
	latin1, err := charmap.ISO8859_1.NewEncoder().String("POINT (1 2)")
	require.NoError(t, err)

	typ := NewGeometryType("geom").
		SetStorageMode(StorageBinaryEncoded).
		SetBinaryConverter(TextConverter{Encoding: charmap.ISO8859_1})

	g, err := typ.Geometry(BinaryEncoded([]byte(latin1)))
	require.NoError(t, err)
	assert.True(t, geometry.Equal(point(1, 2, 0), g))

	_, err = typ.Geometry(BinaryEncoded([]byte("not wkt")))
	assert.ErrorIs(t, err, errs.ConversionError)
}

func TestToNative(t *testing.T) {
	typ := NewGeometryType("shape")

	t.Run("geometry identity", func(t *testing.T) {
		p := point(1, 2, 4326)
		g, err := typ.ToNative(p)
		require.NoError(t, err)
		assert.Same(t, p, g)
	})

	t.Run("string", func(t *testing.T) {
		g, err := typ.ToNative("SRID=4326;POINT (1 2)")
		require.NoError(t, err)
		assert.Equal(t, 4326, g.SRID())
	})

	t.Run("bad string", func(t *testing.T) {
		_, err := typ.ToNative("POINT (1")
		assert.ErrorIs(t, err, errs.ConversionError)
		assert.Contains(t, err.Error(), "shape Geometry")
	})

	t.Run("other inputs", func(t *testing.T) {
		for _, in := range []any{42, 1.5, true, time.Now(), []byte{1}, big.NewInt(3), struct{}{}} {
			_, err := typ.ToNative(in)
			assert.ErrorIs(t, err, errs.ConversionError)
		}
	})
}

func TestConvert(t *testing.T) {
	typ := NewGeometryType("geom")

	g, err := typ.Convert(Value{Kind: KindString, Data: "POINT (1 2)"})
	require.NoError(t, err)
	assert.True(t, geometry.Equal(point(1, 2, 0), g))

	g, err = typ.Convert(Value{Kind: KindString, Text: "SRID=31370;POINT (1 2)"})
	require.NoError(t, err)
	assert.Equal(t, 31370, g.SRID())

	p := point(7, 8, 0)
	out, err := typ.ConvertFrom(Value{Kind: KindGeometry, Data: p})
	require.NoError(t, err)
	assert.Same(t, p, out)

	for _, k := range []Kind{KindNumber, KindInteger, KindBigNumber, KindBoolean, KindDate, KindBinary, KindTimestamp, KindInternetAddress, KindSerializable} {
		_, err := typ.Convert(Value{Kind: k, Data: 1})
		assert.ErrorIs(t, err, errs.UnsupportedConversion, k.String())
	}
}

func TestNotConvertible(t *testing.T) {
	typ := NewGeometryType("geom")
	c := Native(point(1, 2, 0))

	_, err := typ.Number(c)
	assert.ErrorIs(t, err, errs.NotConvertible)
	_, err = typ.Integer(c)
	assert.ErrorIs(t, err, errs.NotConvertible)
	_, err = typ.BigNumber(c)
	assert.ErrorIs(t, err, errs.NotConvertible)
	_, err = typ.Boolean(c)
	assert.ErrorIs(t, err, errs.NotConvertible)
	_, err = typ.Date(c)
	assert.ErrorIs(t, err, errs.NotConvertible)
}

func TestClone(t *testing.T) {
	typ := NewGeometryType("geom")
	p := point(1, 2, 4326)

	c, err := typ.Clone(Native(p))
	require.NoError(t, err)
	assert.NotSame(t, p, c.Native())
	assert.True(t, geometry.Equal(p, c.Native()))
	assert.Equal(t, 4326, c.Native().SRID())

	n, err := typ.Clone(Null(StorageNative))
	require.NoError(t, err)
	assert.True(t, n.IsNull())
}

func TestNativeDataType(t *testing.T) {
	typ := NewGeometryType("geom")

	v, err := typ.NativeDataType(Null(StorageNative))
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = typ.NativeDataType(Native(point(1, 2, 0)))
	require.NoError(t, err)
	assert.IsType(t, &geom.Point{}, v)
}

func TestParseWireFormat(t *testing.T) {
	f, err := ParseWireFormat("EWKB")
	require.NoError(t, err)
	assert.Equal(t, WireEWKB, f)

	f, err = ParseWireFormat("")
	require.NoError(t, err)
	assert.Equal(t, WireWKB, f)

	_, err = ParseWireFormat("twkb")
	assert.Error(t, err)
}
