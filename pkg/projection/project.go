// Package projection reprojects geometries between spatial reference systems with the DuckDB
// spatial extension.
package projection

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"text/template"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/duckdb/duckdb-go/v2"
	"github.com/sirupsen/logrus"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"

	"geomvalue/pkg/geometry"
	"geomvalue/pkg/value"
)

var queryTemplate = template.Must(template.New("transform").Parse(`
	select
	{{.RowCol}},
	ST_AsWKB(ST_Transform(ST_GeomFromWKB({{.GeomCol}}), '{{.OriginCRS}}', '{{.TargetCRS}}', true))::BLOB as {{.GeomCol}}
	from {{.View}}
	order by {{.RowCol}}
`))

// Projector runs ST_Transform on an in-memory DuckDB database.
type Projector struct {
	connector *duckdb.Connector
	db        *sql.DB
	views     atomic.Int64
	log       *logrus.Entry
}

// NewProjector opens an in-memory database and loads the spatial extension.
func NewProjector(ctx context.Context) (*Projector, error) {
	c, err := duckdb.NewConnector("", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create duckdb connector: %w", err)
	}

	db := sql.OpenDB(c)
	if _, err := db.ExecContext(ctx, "install spatial; load spatial;"); err != nil {
		db.Close()
		c.Close()
		return nil, fmt.Errorf("failed to load spatial extension: %w", err)
	}

	return &Projector{
		connector: c,
		db:        db,
		log:       logrus.WithField("component", "projection"),
	}, nil
}

func (p *Projector) Close() error {
	p.db.Close()
	return p.connector.Close()
}

// Transform reprojects a single geometry to the target SRID.
func (p *Projector) Transform(ctx context.Context, g geom.T, srid int) (geom.T, error) {
	typ := value.NewGeometryType("geometry")
	out, err := p.TransformCells(ctx, typ, []value.Cell{value.Native(g)}, srid)
	if err != nil {
		return nil, err
	}
	return out[0].Native(), nil
}

// TransformCells reprojects every cell of a column to the target SRID and returns native
// cells. All non-null cells must carry the same, non-zero SRID. Nulls stay null.
func (p *Projector) TransformCells(ctx context.Context, typ *value.GeometryType, cells []value.Cell, srid int) ([]value.Cell, error) {
	if srid <= 0 {
		return nil, fmt.Errorf("invalid target srid %d", srid)
	}

	geoms, origin, err := sourceSRID(typ, cells)
	if err != nil {
		return nil, err
	}

	out := make([]value.Cell, len(cells))
	for i := range out {
		out[i] = value.Null(value.StorageNative)
	}
	if origin == 0 {
		return out, nil
	}

	rec, err := wkbRecord(memory.NewGoAllocator(), geoms)
	if err != nil {
		return nil, err
	}
	defer rec.Release()

	conn, err := p.connector.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to duckdb: %w", err)
	}
	defer conn.Close()

	ar, err := duckdb.NewArrowFromConn(conn)
	if err != nil {
		return nil, err
	}

	rr, err := array.NewRecordReader(rec.Schema(), []arrow.RecordBatch{rec})
	if err != nil {
		return nil, err
	}

	view := fmt.Sprintf("geometries_%d", p.views.Add(1))
	release, err := ar.RegisterView(rr, view)
	if err != nil {
		return nil, fmt.Errorf("failed to register arrow view: %w", err)
	}
	defer release()

	var buf bytes.Buffer
	err = queryTemplate.Execute(&buf, map[string]string{
		"RowCol":    "ROW_ID",
		"GeomCol":   "WKB",
		"View":      view,
		"OriginCRS": crs(origin),
		"TargetCRS": crs(srid),
	})
	if err != nil {
		return nil, err
	}

	reader, err := ar.QueryContext(ctx, buf.String())
	if err != nil {
		return nil, fmt.Errorf("failed to transform %s to %s: %w", crs(origin), crs(srid), err)
	}
	defer reader.Release()

	for reader.Next() {
		res := reader.RecordBatch()
		rows, ok := res.Column(0).(*array.Int64)
		if !ok {
			return nil, fmt.Errorf("unexpected row id column %s", res.Column(0).DataType())
		}
		shapes, ok := res.Column(1).(binaryArray)
		if !ok {
			return nil, fmt.Errorf("unexpected geometry column %s", res.Column(1).DataType())
		}

		for i := 0; i < int(res.NumRows()); i++ {
			if shapes.IsNull(i) {
				continue
			}
			g, err := wkb.Unmarshal(shapes.Value(i))
			if err != nil {
				return nil, fmt.Errorf("failed to decode transformed geometry: %w", err)
			}
			if g, err = geometry.WithSRID(g, srid); err != nil {
				return nil, err
			}
			out[rows.Value(i)] = value.Native(g)
		}
	}
	if err := reader.Err(); err != nil {
		return nil, err
	}

	p.log.WithFields(logrus.Fields{"rows": len(cells), "from": origin, "to": srid}).Debug("transformed geometries")
	return out, nil
}

type binaryArray interface {
	arrow.Array
	Value(i int) []byte
}

func crs(srid int) string {
	return fmt.Sprintf("EPSG:%d", srid)
}

// sourceSRID resolves cells and returns their common SRID, or 0 when every cell is null.
func sourceSRID(typ *value.GeometryType, cells []value.Cell) ([]geom.T, int, error) {
	geoms := make([]geom.T, len(cells))
	origin := 0
	for i, c := range cells {
		g, err := typ.Geometry(c)
		if err != nil {
			return nil, 0, err
		}
		if g == nil {
			continue
		}
		switch {
		case g.SRID() <= 0:
			return nil, 0, fmt.Errorf("row %d of %s has no srid", i, typ)
		case origin == 0:
			origin = g.SRID()
		case g.SRID() != origin:
			return nil, 0, fmt.Errorf("row %d of %s has srid %d, expected %d", i, typ, g.SRID(), origin)
		}
		geoms[i] = g
	}
	return geoms, origin, nil
}

// wkbRecord builds the (ROW_ID, WKB) batch registered as a DuckDB view.
func wkbRecord(mem memory.Allocator, geoms []geom.T) (arrow.RecordBatch, error) {
	schema := arrow.NewSchema(
		[]arrow.Field{
			{Name: "ROW_ID", Type: arrow.PrimitiveTypes.Int64},
			{Name: "WKB", Type: arrow.BinaryTypes.Binary, Nullable: true},
		},
		nil,
	)

	builder := array.NewRecordBuilder(mem, schema)
	defer builder.Release()

	rows := builder.Field(0).(*array.Int64Builder)
	shapes := builder.Field(1).(*array.BinaryBuilder)
	for i, g := range geoms {
		rows.Append(int64(i))
		if g == nil {
			shapes.AppendNull()
			continue
		}
		b, err := wkb.Marshal(g, wkb.NDR)
		if err != nil {
			return nil, fmt.Errorf("failed to encode row %d: %w", i, err)
		}
		shapes.Append(b)
	}

	return builder.NewRecordBatch(), nil
}
