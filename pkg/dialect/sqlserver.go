package dialect

import (
	"github.com/pkg/errors"
	"github.com/twpayne/go-geom"

	"geomvalue/pkg/geometry"
)

type sqlServerCodec struct{}

func (sqlServerCodec) Family() Family { return FamilySQLServer }

func (sqlServerCodec) Driver() string { return "github.com/microsoft/go-mssqldb" }

func (sqlServerCodec) Detect(col Column) bool {
	return detect(col, TypeVarbinary, "GEOMETRY")
}

func (c sqlServerCodec) Decode(desc string, col Column, src any) (geom.T, error) {
	if src == nil {
		return nil, nil
	}

	b, err := bytesOf(src)
	if err != nil {
		return nil, decodeFailure(c, desc, col, err)
	}

	g, err := decodeCLR(b)
	if err != nil {
		return nil, decodeFailure(c, desc, col, errors.Wrap(err, "failed to decode native geometry"))
	}

	out, err := normalize(g, g.SRID())
	if err != nil {
		return nil, decodeFailure(c, desc, col, err)
	}

	return out, nil
}

// Encode writes the geometry with its own coordinate dimension and SRID.
func (c sqlServerCodec) Encode(desc string, col Column, g geom.T) (Param, error) {
	if g == nil {
		return Param{Type: TypeVarbinary}, nil
	}

	s, err := geometry.EWKT(g)
	if err != nil {
		return Param{}, encodeFailure(c, desc, col, err)
	}
	reparsed, err := geometry.ParseEWKT(s)
	if err != nil {
		return Param{}, encodeFailure(c, desc, col, err)
	}

	b, err := encodeCLR(reparsed)
	if err != nil {
		return Param{}, encodeFailure(c, desc, col, errors.Wrap(err, "failed to encode native geometry"))
	}

	return Param{Value: b, Type: TypeVarbinary}, nil
}

func (sqlServerCodec) ColumnDefinition(name string, addFieldName, addCR bool) string {
	return columnDefinition("GEOMETRY", name, addFieldName, addCR)
}
