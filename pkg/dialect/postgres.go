package dialect

import (
	"database/sql/driver"
	"strings"

	"github.com/pkg/errors"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkbhex"

	"geomvalue/pkg/geometry"
)

// PGGeometry is an EWKT literal bound to a PostGIS geometry parameter.
type PGGeometry struct {
	EWKT string
}

// Value sends the literal as text; PostGIS casts it to geometry.
func (g PGGeometry) Value() (driver.Value, error) {
	return g.EWKT, nil
}

type postgresCodec struct{}

func (postgresCodec) Family() Family { return FamilyPostgres }

func (postgresCodec) Driver() string { return "github.com/lib/pq" }

func (postgresCodec) Detect(col Column) bool {
	return detect(col, TypeOther, "GEOMETRY")
}

// Decode reads the text form PostGIS returns: hex EWKB by default, EWKT when the query cast
// the column with ST_AsEWKT.
func (c postgresCodec) Decode(desc string, col Column, src any) (geom.T, error) {
	if src == nil {
		return nil, nil
	}

	b, err := bytesOf(src)
	if err != nil {
		return nil, decodeFailure(c, desc, col, err)
	}

	g, err := parsePostgres(strings.TrimSpace(string(b)))
	if err != nil {
		return nil, decodeFailure(c, desc, col, err)
	}

	out, err := normalize(g, g.SRID())
	if err != nil {
		return nil, decodeFailure(c, desc, col, err)
	}

	return out, nil
}

func parsePostgres(s string) (geom.T, error) {
	if isHex(s) {
		g, err := ewkbhex.Decode(s)
		if err != nil {
			return nil, errors.Wrap(err, "failed to decode hex ewkb")
		}
		return g, nil
	}
	return geometry.ParseEWKT(s)
}

func isHex(s string) bool {
	if s == "" || len(s)%2 != 0 {
		return false
	}
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case '0' <= c && c <= '9', 'a' <= c && c <= 'f', 'A' <= c && c <= 'F':
		default:
			return false
		}
	}
	return true
}

func (c postgresCodec) Encode(desc string, col Column, g geom.T) (Param, error) {
	if g == nil {
		return Param{Type: TypeOther}, nil
	}

	s, err := geometry.EWKT(g)
	if err != nil {
		return Param{}, encodeFailure(c, desc, col, err)
	}

	return Param{Value: PGGeometry{EWKT: s}, Type: TypeOther}, nil
}

func (postgresCodec) ColumnDefinition(name string, addFieldName, addCR bool) string {
	return columnDefinition("GEOMETRY", name, addFieldName, addCR)
}
