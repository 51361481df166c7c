package dialect

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"

	"geomvalue/pkg/geometry"
)

const mysqlSRIDSize = 4

type mysqlCodec struct{}

func (mysqlCodec) Family() Family { return FamilyMySQL }

func (mysqlCodec) Driver() string { return "github.com/go-sql-driver/mysql" }

func (mysqlCodec) Detect(col Column) bool {
	return detect(col, TypeBinary, "GEOMETRY")
}

// Decode reads a 4 byte big-endian SRID followed by WKB in either byte order.
func (c mysqlCodec) Decode(desc string, col Column, src any) (geom.T, error) {
	if src == nil {
		return nil, nil
	}

	b, err := bytesOf(src)
	if err != nil {
		return nil, decodeFailure(c, desc, col, err)
	}
	if len(b) < mysqlSRIDSize {
		return nil, decodeFailure(c, desc, col, fmt.Errorf("value of %d bytes has no SRID header", len(b)))
	}

	srid := int32(binary.BigEndian.Uint32(b[:mysqlSRIDSize]))

	g, err := wkb.Unmarshal(b[mysqlSRIDSize:])
	if err != nil {
		return nil, decodeFailure(c, desc, col, errors.Wrap(err, "failed to read wkb"))
	}

	out, err := normalize(g, int(srid))
	if err != nil {
		return nil, decodeFailure(c, desc, col, err)
	}

	return out, nil
}

// Encode writes a 4 byte big-endian SRID followed by 2D big-endian WKB.
func (c mysqlCodec) Encode(desc string, col Column, g geom.T) (Param, error) {
	if g == nil {
		return Param{Type: TypeBinary}, nil
	}

	flat, err := geometry.ForceLayout(g, geom.XY)
	if err != nil {
		return Param{}, encodeFailure(c, desc, col, err)
	}

	body, err := wkb.Marshal(flat, wkb.XDR)
	if err != nil {
		return Param{}, encodeFailure(c, desc, col, errors.Wrap(err, "failed to write wkb"))
	}

	b := make([]byte, mysqlSRIDSize, mysqlSRIDSize+len(body))
	binary.BigEndian.PutUint32(b, uint32(int32(g.SRID())))
	b = append(b, body...)

	return Param{Value: b, Type: TypeBinary}, nil
}

func (mysqlCodec) ColumnDefinition(name string, addFieldName, addCR bool) string {
	return columnDefinition("GEOMETRY", name, addFieldName, addCR)
}
