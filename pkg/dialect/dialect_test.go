package dialect

import (
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkbhex"

	"geomvalue/pkg/errs"
	"geomvalue/pkg/geometry"
)

const desc = "geom Geometry"

func TestDetect(t *testing.T) {
	generics := []SQLType{TypeOther, TypeStruct, TypeBinary, TypeVarbinary, TypeVarchar, TypeBlob}
	names := []string{"GEOMETRY", "geometry", "MDSYS.SDO_GEOMETRY", "mdsys.sdo_geometry", "SDO_GEOMETRY", "TEXT"}

	expected := map[Family]func(SQLType, string) bool{
		FamilyPostgres: func(t SQLType, n string) bool { return t == TypeOther && (n == "GEOMETRY" || n == "geometry") },
		FamilyOracle: func(t SQLType, n string) bool {
			return t == TypeStruct && (n == "MDSYS.SDO_GEOMETRY" || n == "mdsys.sdo_geometry")
		},
		FamilyMySQL:     func(t SQLType, n string) bool { return t == TypeBinary && (n == "GEOMETRY" || n == "geometry") },
		FamilySQLServer: func(t SQLType, n string) bool { return t == TypeVarbinary && (n == "GEOMETRY" || n == "geometry") },
		FamilySQLite:    func(SQLType, string) bool { return false },
		FamilyUnknown:   func(SQLType, string) bool { return false },
	}

	for f, want := range expected {
		for _, g := range generics {
			for _, n := range names {
				col := Column{GenericType: g, TypeName: n}
				assert.Equal(t, want(g, n), DetectAny(f, col), "%s %s %s", f, g, n)
			}
		}
	}

	t.Run("mutually exclusive", func(t *testing.T) {
		for _, g := range generics {
			for _, n := range names {
				matches := 0
				for _, c := range Codecs {
					if c.Detect(Column{GenericType: g, TypeName: n}) {
						matches++
					}
				}
				assert.LessOrEqual(t, matches, 1)
			}
		}
	})
}

func TestColumnDefinition(t *testing.T) {
	tests := []struct {
		family Family
		add    bool
		cr     bool
		want   string
	}{
		{FamilyPostgres, false, false, "GEOMETRY"},
		{FamilyPostgres, true, false, "the_geom GEOMETRY"},
		{FamilyOracle, true, true, "the_geom SDO_GEOMETRY\n"},
		{FamilyOracle, false, true, "SDO_GEOMETRY\n"},
		{FamilyMySQL, false, false, "GEOMETRY"},
		{FamilySQLServer, true, false, "the_geom GEOMETRY"},
	}

	for _, tt := range tests {
		got, ok := ColumnDefinitionFor(tt.family, "the_geom", tt.add, tt.cr)
		assert.True(t, ok)
		assert.Equal(t, tt.want, got)
	}

	got, ok := ColumnDefinitionFor(FamilySQLite, "the_geom", true, true)
	assert.False(t, ok)
	assert.Equal(t, "", got)
}

func point(x, y float64, srid int) *geom.Point {
	return geom.NewPoint(geom.XY).MustSetCoords(geom.Coord{x, y}).SetSRID(srid)
}

func TestPostgres(t *testing.T) {
	col := Column{Index: 2, GenericType: TypeOther, TypeName: "geometry"}

	t.Run("hex ewkb", func(t *testing.T) {
		hex, err := ewkbhex.Encode(point(1, 2, 4326), binary.LittleEndian)
		require.NoError(t, err)

		g, err := Postgres.Decode(desc, col, []byte(hex))
		require.NoError(t, err)
		assert.Equal(t, 4326, g.SRID())
		assert.True(t, geometry.Equal(point(1, 2, 4326), g))
	})

	t.Run("ewkt", func(t *testing.T) {
		g, err := Postgres.Decode(desc, col, "SRID=2154;LINESTRING (0 0, 1 1)")
		require.NoError(t, err)
		assert.Equal(t, 2154, g.SRID())
	})

	t.Run("null", func(t *testing.T) {
		g, err := Postgres.Decode(desc, col, nil)
		require.NoError(t, err)
		assert.Nil(t, g)

		p, err := Postgres.Encode(desc, col, nil)
		require.NoError(t, err)
		assert.Nil(t, p.Value)
		assert.Equal(t, TypeOther, p.Type)
	})

	t.Run("encode", func(t *testing.T) {
		p, err := Postgres.Encode(desc, col, point(1, 2, 4326))
		require.NoError(t, err)
		assert.Equal(t, TypeOther, p.Type)
		assert.Equal(t, PGGeometry{EWKT: "SRID=4326;POINT (1 2)"}, p.Value)

		v, err := p.Value.(PGGeometry).Value()
		require.NoError(t, err)
		assert.Equal(t, "SRID=4326;POINT (1 2)", v)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := Postgres.Decode(desc, col, "NOT A GEOMETRY")
		assert.ErrorIs(t, err, errs.ExternalStore)

		var e *errs.Error
		require.True(t, errors.As(err, &e))
		assert.Equal(t, 2, e.Column)
		assert.Equal(t, Postgres.Driver(), e.Dialect)
	})
}

func TestMySQL(t *testing.T) {
	col := Column{Index: 0, GenericType: TypeBinary, TypeName: "GEOMETRY"}

	t.Run("big-endian srid prefix", func(t *testing.T) {
		p, err := MySQL.Encode(desc, col, point(1, 2, 4326))
		require.NoError(t, err)
		assert.Equal(t, TypeBinary, p.Type)

		b := p.Value.([]byte)
		assert.Equal(t, []byte{0x00, 0x00, 0x10, 0xE6}, b[:4])
		assert.Equal(t, byte(0), b[4], "big-endian WKB")
		assert.Len(t, b, 4+21)
	})

	t.Run("round trip", func(t *testing.T) {
		in := geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{{0, 0}, {2, 0}, {2, 2}, {0, 0}}}).SetSRID(3857)

		p, err := MySQL.Encode(desc, col, in)
		require.NoError(t, err)

		g, err := MySQL.Decode(desc, col, p.Value)
		require.NoError(t, err)
		assert.True(t, geometry.Equal(in, g))
	})

	t.Run("3D is flattened", func(t *testing.T) {
		in := geom.NewPoint(geom.XYZ).MustSetCoords(geom.Coord{1, 2, 3}).SetSRID(4326)

		p, err := MySQL.Encode(desc, col, in)
		require.NoError(t, err)

		g, err := MySQL.Decode(desc, col, p.Value)
		require.NoError(t, err)
		assert.Equal(t, 2, geometry.CoordinateDimension(g))
	})

	t.Run("short value", func(t *testing.T) {
		_, err := MySQL.Decode(desc, col, []byte{0, 0})
		assert.ErrorIs(t, err, errs.ExternalStore)
	})
}

func TestOracle(t *testing.T) {
	col := Column{Index: 1, GenericType: TypeStruct, TypeName: "MDSYS.SDO_GEOMETRY"}

	t.Run("3D encode fails", func(t *testing.T) {
		in := geom.NewPoint(geom.XYZ).MustSetCoords(geom.Coord{1, 2, 3})

		_, err := Oracle.Encode(desc, col, in)
		assert.ErrorIs(t, err, errs.ExternalStore)
		assert.ErrorIs(t, err, errs.UnsupportedDimension)
	})

	t.Run("3D decode fails", func(t *testing.T) {
		sdo := &SDOGeometry{GType: 3001, Point: SDOPoint{X: 1, Y: 2, Z: 3}}

		_, err := Oracle.Decode(desc, col, sdo)
		assert.ErrorIs(t, err, errs.UnsupportedDimension)
	})

	t.Run("polygon with hole", func(t *testing.T) {
		in := geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{
			{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}},
			{{2, 2}, {2, 4}, {4, 4}, {2, 2}},
		}).SetSRID(8307)

		p, err := Oracle.Encode(desc, col, in)
		require.NoError(t, err)
		assert.Equal(t, TypeStruct, p.Type)

		sdo := p.Value.(SDOGeometry)
		assert.Equal(t, int64(2003), sdo.GType)
		assert.Equal(t, sql.NullInt64{Int64: 8307, Valid: true}, sdo.SRID)
		assert.Equal(t, []int64{1, 1003, 1, 11, 2003, 1}, sdo.ElemInfo)
		assert.Len(t, sdo.Ordinates, 18)

		g, err := Oracle.Decode(desc, col, sdo)
		require.NoError(t, err)
		assert.True(t, geometry.Equal(in, g))
	})

	t.Run("point uses SDO_POINT", func(t *testing.T) {
		p, err := Oracle.Encode(desc, col, point(5, 6, 0))
		require.NoError(t, err)

		sdo := p.Value.(SDOGeometry)
		assert.Equal(t, int64(2001), sdo.GType)
		assert.False(t, sdo.SRID.Valid)
		assert.Equal(t, SDOPoint{X: 5, Y: 6}, sdo.Point)
		assert.Empty(t, sdo.ElemInfo)
		assert.Empty(t, sdo.Ordinates)
	})

	t.Run("null srid", func(t *testing.T) {
		sdo := SDOGeometry{GType: 2001, Point: SDOPoint{X: 1, Y: 2}}

		g, err := Oracle.Decode(desc, col, sdo)
		require.NoError(t, err)
		assert.Equal(t, 0, g.SRID())
		assert.Equal(t, []float64{1, 2}, g.FlatCoords())
	})

	t.Run("point attribute ignored with elements", func(t *testing.T) {
		sdo := &SDOGeometry{
			GType:     2002,
			SRID:      sql.NullInt64{Int64: 4326, Valid: true},
			Point:     SDOPoint{X: 9, Y: 9},
			ElemInfo:  []int64{1, 2, 1},
			Ordinates: []float64{0, 0, 1, 1},
		}

		g, err := Oracle.Decode(desc, col, sdo)
		require.NoError(t, err)

		s, err := geometry.EWKT(g)
		require.NoError(t, err)
		assert.Equal(t, "SRID=4326;LINESTRING (0 0, 1 1)", s)
	})

	t.Run("optimized rectangle", func(t *testing.T) {
		sdo := &SDOGeometry{
			GType:     2003,
			SRID:      sql.NullInt64{Int64: 4326, Valid: true},
			ElemInfo:  []int64{1, 1003, 3},
			Ordinates: []float64{0, 0, 2, 3},
		}

		g, err := Oracle.Decode(desc, col, sdo)
		require.NoError(t, err)

		s, err := geometry.EWKT(g)
		require.NoError(t, err)
		assert.Equal(t, "SRID=4326;POLYGON ((0 0, 2 0, 2 3, 0 3, 0 0))", s)
	})

	t.Run("collection", func(t *testing.T) {
		in, err := geometry.ParseEWKT("GEOMETRYCOLLECTION (POINT (1 2), LINESTRING (0 0, 1 1), POLYGON ((0 0, 1 0, 1 1, 0 0)))")
		require.NoError(t, err)

		p, err := Oracle.Encode(desc, col, in)
		require.NoError(t, err)

		g, err := Oracle.Decode(desc, col, p.Value)
		require.NoError(t, err)
		assert.True(t, geometry.Equal(in, g))
	})

	t.Run("unregistered column value", func(t *testing.T) {
		_, err := Oracle.Decode(desc, col, []byte{0, 1, 2, 3, 4})
		assert.ErrorIs(t, err, errs.ExternalStore)
		assert.ErrorContains(t, err, "not registered")
	})

	t.Run("bad element info", func(t *testing.T) {
		sdo := SDOGeometry{GType: 2002, ElemInfo: []int64{1, 2}, Ordinates: []float64{0, 0, 1, 1}}

		_, err := Oracle.Decode(desc, col, sdo)
		assert.ErrorIs(t, err, errs.ExternalStore)
	})

	t.Run("null", func(t *testing.T) {
		g, err := Oracle.Decode(desc, col, nil)
		require.NoError(t, err)
		assert.Nil(t, g)

		p, err := Oracle.Encode(desc, col, nil)
		require.NoError(t, err)
		assert.Nil(t, p.Value)
	})

	t.Run("udt tags", func(t *testing.T) {
		typ := reflect.TypeOf(SDOGeometry{})
		var tags []string
		for i := 0; i < typ.NumField(); i++ {
			tags = append(tags, typ.Field(i).Tag.Get("udt"))
		}
		assert.Equal(t, []string{"SDO_GTYPE", "SDO_SRID", "SDO_POINT", "SDO_ELEM_INFO", "SDO_ORDINATES"}, tags)
	})
}

func TestSQLServer(t *testing.T) {
	col := Column{Index: 3, GenericType: TypeVarbinary, TypeName: "geometry"}

	t.Run("single point header", func(t *testing.T) {
		p, err := SQLServer.Encode(desc, col, point(1, 2, 4326))
		require.NoError(t, err)
		assert.Equal(t, TypeVarbinary, p.Type)

		b := p.Value.([]byte)
		assert.Equal(t, []byte{0xE6, 0x10, 0x00, 0x00, 0x01, 0x0C}, b[:6])
		assert.Len(t, b, 22)
	})

	for _, s := range []string{
		"SRID=4326;POINT (1 2)",
		"SRID=4326;LINESTRING (0 0, 1 1)",
		"LINESTRING (0 0, 1 1, 2 0)",
		"SRID=2154;POLYGON ((0 0, 10 0, 10 10, 0 0), (2 2, 3 2, 3 3, 2 2))",
		"MULTIPOINT ((1 2), (3 4))",
		"MULTILINESTRING ((0 0, 1 1), (2 2, 3 3))",
		"SRID=3857;MULTIPOLYGON (((0 0, 1 0, 1 1, 0 0)), ((5 5, 6 5, 6 6, 5 5)))",
		"GEOMETRYCOLLECTION (POINT (1 2), LINESTRING (0 0, 1 1))",
		"POINT Z (1 2 3)",
		"SRID=4326;LINESTRING Z (0 0 1, 1 1 2, 2 2 3)",
	} {
		t.Run(s, func(t *testing.T) {
			in, err := geometry.ParseEWKT(s)
			require.NoError(t, err)

			p, err := SQLServer.Encode(desc, col, in)
			require.NoError(t, err)

			g, err := SQLServer.Decode(desc, col, p.Value)
			require.NoError(t, err)

			assert.True(t, geometry.Equal(in, g))
			assert.Equal(t, in.SRID(), g.SRID())
		})
	}

	// Version 1 serializations (valid flag set) laid out field by field: SRID, version,
	// properties, points, figures, shapes.
	fixtures := []struct {
		wkt string
		hex string
	}{
		{
			"POLYGON ((0 0, 10 0, 10 10, 0 10, 0 0), (2 2, 2 4, 4 4, 2 2))",
			"00000000" + "01" + "04" + "09000000" +
				"0000000000000000" + "0000000000000000" +
				"0000000000002440" + "0000000000000000" +
				"0000000000002440" + "0000000000002440" +
				"0000000000000000" + "0000000000002440" +
				"0000000000000000" + "0000000000000000" +
				"0000000000000040" + "0000000000000040" +
				"0000000000000040" + "0000000000001040" +
				"0000000000001040" + "0000000000001040" +
				"0000000000000040" + "0000000000000040" +
				"02000000" + "02" + "00000000" + "00" + "05000000" +
				"01000000" + "ffffffff" + "00000000" + "03",
		},
		{
			"SRID=4326;GEOMETRYCOLLECTION (POINT (1 2), LINESTRING (0 0, 1 1))",
			"e6100000" + "01" + "04" + "03000000" +
				"000000000000f03f" + "0000000000000040" +
				"0000000000000000" + "0000000000000000" +
				"000000000000f03f" + "000000000000f03f" +
				"02000000" + "01" + "00000000" + "01" + "01000000" +
				"03000000" +
				"ffffffff" + "00000000" + "07" +
				"00000000" + "00000000" + "01" +
				"00000000" + "01000000" + "02",
		},
	}
	for _, f := range fixtures {
		t.Run("fixture "+f.wkt, func(t *testing.T) {
			raw, err := hex.DecodeString(f.hex)
			require.NoError(t, err)

			want, err := geometry.ParseEWKT(f.wkt)
			require.NoError(t, err)

			g, err := SQLServer.Decode(desc, col, raw)
			require.NoError(t, err)
			assert.True(t, geometry.Equal(want, g))

			p, err := SQLServer.Encode(desc, col, want)
			require.NoError(t, err)
			assert.Equal(t, raw, p.Value)
		})
	}

	t.Run("truncated", func(t *testing.T) {
		p, err := SQLServer.Encode(desc, col, point(1, 2, 4326))
		require.NoError(t, err)

		b := p.Value.([]byte)
		_, err = SQLServer.Decode(desc, col, b[:len(b)-3])
		assert.ErrorIs(t, err, errs.ExternalStore)
	})
}

func TestDriver(t *testing.T) {
	assert.Equal(t, "github.com/lib/pq", Postgres.Driver())
	assert.Equal(t, "github.com/sijms/go-ora/v2", Oracle.Driver())
	assert.Equal(t, "github.com/go-sql-driver/mysql", MySQL.Driver())
	assert.Equal(t, "github.com/microsoft/go-mssqldb", SQLServer.Driver())
}
