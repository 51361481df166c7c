// Package batch moves geometry columns in and out of Arrow record batches.
//
// A geometry column is an Arrow binary column holding little-endian EWKB, so the SRID travels
// with every value. Null cells become Arrow nulls.
package batch

import (
	"encoding/binary"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"geomvalue/pkg/errs"
	"geomvalue/pkg/value"
)

const (
	// EncodingKey is the field metadata key marking a geometry column.
	EncodingKey = "geometry.encoding"
	// StorageKey records the storage mode of the column the batch was built from.
	StorageKey = "geometry.storage"

	EncodingEWKB = "ewkb"
)

// Field returns the Arrow field of a geometry column.
func Field(typ *value.GeometryType) arrow.Field {
	return arrow.Field{
		Name:     typ.Name(),
		Type:     arrow.BinaryTypes.Binary,
		Nullable: true,
		Metadata: arrow.NewMetadata(
			[]string{EncodingKey, StorageKey},
			[]string{EncodingEWKB, typ.StorageMode().String()},
		),
	}
}

// IsGeometry reports whether f was produced by Field.
func IsGeometry(f arrow.Field) bool {
	if f.Type.ID() != arrow.BINARY {
		return false
	}
	v, ok := f.Metadata.GetValue(EncodingKey)
	return ok && v == EncodingEWKB
}

// FromCells builds the EWKB array of a column. Every cell is resolved through typ, so binary
// and indexed cells are accepted as long as typ can decode them.
func FromCells(mem memory.Allocator, typ *value.GeometryType, cells []value.Cell) (arrow.Array, error) {
	b := array.NewBinaryBuilder(mem, arrow.BinaryTypes.Binary)
	defer b.Release()

	b.Reserve(len(cells))
	for _, c := range cells {
		g, err := typ.Geometry(c)
		if err != nil {
			return nil, err
		}
		if g == nil {
			b.AppendNull()
			continue
		}
		data, err := ewkb.Marshal(g, binary.LittleEndian)
		if err != nil {
			return nil, errs.Wrap(errs.MalformedGeometry, typ.String(), err, "unable to encode geometry")
		}
		b.Append(data)
	}

	return b.NewArray(), nil
}

// ToCells decodes an EWKB array into native cells.
func ToCells(typ *value.GeometryType, arr arrow.Array) ([]value.Cell, error) {
	bin, ok := arr.(*array.Binary)
	if !ok {
		return nil, errs.New(errs.TypeMismatch, typ.String(), "geometry column is %s, not binary", arr.DataType())
	}

	cells := make([]value.Cell, bin.Len())
	for i := range cells {
		if bin.IsNull(i) {
			cells[i] = value.Null(value.StorageNative)
			continue
		}
		g, err := ewkb.Unmarshal(bin.Value(i))
		if err != nil {
			return nil, errs.Wrap(errs.MalformedGeometry, typ.String(), err, "unable to decode geometry at row %d", i)
		}
		cells[i] = value.Native(g)
	}

	return cells, nil
}

// Index converts cells to indexed cells over a fresh table of their distinct geometries.
func Index(typ *value.GeometryType, cells []value.Cell) ([]value.Cell, *value.IndexTable, error) {
	builder := value.NewIndexBuilder()

	out := make([]value.Cell, len(cells))
	for i, c := range cells {
		g, err := typ.Geometry(c)
		if err != nil {
			return nil, nil, err
		}
		if out[i], err = builder.Add(g); err != nil {
			return nil, nil, errs.Wrap(errs.MalformedGeometry, typ.String(), err, "unable to index row %d", i)
		}
	}

	return out, builder.Table(), nil
}

// IndexArray stores an index table as an EWKB array, one entry per index.
func IndexArray(mem memory.Allocator, table *value.IndexTable) (arrow.Array, error) {
	values := table.Values()
	cells := make([]value.Cell, len(values))
	for i, g := range values {
		cells[i] = value.Native(g)
	}
	return FromCells(mem, value.NewGeometryType("index"), cells)
}

// IndexTableFrom rebuilds an index table stored by IndexArray.
func IndexTableFrom(arr arrow.Array) (*value.IndexTable, error) {
	cells, err := ToCells(value.NewGeometryType("index"), arr)
	if err != nil {
		return nil, err
	}

	values := make([]geom.T, len(cells))
	for i, c := range cells {
		if c.IsNull() {
			return nil, fmt.Errorf("index entry %d is null", i)
		}
		values[i] = c.Native()
	}
	return value.NewIndexTable(values), nil
}

// Column pairs a geometry descriptor with the cells of one column.
type Column struct {
	Type  *value.GeometryType
	Cells []value.Cell
}

// NewRecordBatch builds a record batch of geometry columns. All columns must have the same
// number of cells.
func NewRecordBatch(mem memory.Allocator, columns []Column) (arrow.RecordBatch, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("no columns")
	}

	rows := len(columns[0].Cells)
	fields := make([]arrow.Field, len(columns))
	arrays := make([]arrow.Array, len(columns))
	defer func() {
		for _, a := range arrays {
			if a != nil {
				a.Release()
			}
		}
	}()

	for i, col := range columns {
		if len(col.Cells) != rows {
			return nil, fmt.Errorf("column %s has %d rows, expected %d", col.Type.Name(), len(col.Cells), rows)
		}
		arr, err := FromCells(mem, col.Type, col.Cells)
		if err != nil {
			return nil, err
		}
		fields[i] = Field(col.Type)
		arrays[i] = arr
	}

	return array.NewRecordBatch(arrow.NewSchema(fields, nil), arrays, int64(rows)), nil
}

// Cells decodes the column of rec named after typ.
func Cells(rec arrow.RecordBatch, typ *value.GeometryType) ([]value.Cell, error) {
	idx := rec.Schema().FieldIndices(typ.Name())
	if len(idx) == 0 {
		return nil, fmt.Errorf("record has no column %s", typ.Name())
	}
	return ToCells(typ, rec.Column(idx[0]))
}

// RenderArray renders every cell of a column as text, honouring typ's padding settings.
// Null cells stay null.
func RenderArray(mem memory.Allocator, typ *value.GeometryType, cells []value.Cell) (arrow.Array, error) {
	b := array.NewStringBuilder(mem)
	defer b.Release()

	for _, c := range cells {
		if c.IsNull() {
			b.AppendNull()
			continue
		}
		s, err := typ.RenderText(c)
		if err != nil {
			return nil, err
		}
		b.Append(s)
	}

	return b.NewArray(), nil
}
