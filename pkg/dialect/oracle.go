package dialect

import (
	"database/sql"
	"fmt"

	go_ora "github.com/sijms/go-ora/v2"
	"github.com/twpayne/go-geom"

	"geomvalue/pkg/errs"
	"geomvalue/pkg/geometry"
)

const oracleTypeName = "MDSYS.SDO_GEOMETRY"

// oracleTypes are registered in dependency order: member types before the object using them.
var oracleTypes = []struct {
	typeName  string
	arrayName string
	obj       any
}{
	{"NUMBER", "MDSYS.SDO_ELEM_INFO_ARRAY", nil},
	{"NUMBER", "MDSYS.SDO_ORDINATE_ARRAY", nil},
	{"MDSYS.SDO_POINT_TYPE", "", SDOPoint{}},
	{oracleTypeName, "", SDOGeometry{}},
}

// RegisterOracleTypes registers SDO_GEOMETRY and its member types on a go-ora connection pool.
// Afterwards SDO_GEOMETRY columns scan into SDOGeometry and SDOGeometry parameters are bound
// as objects.
func RegisterOracleTypes(db *sql.DB) error {
	for _, t := range oracleTypes {
		if err := go_ora.RegisterType(db, t.typeName, t.arrayName, t.obj); err != nil {
			name := t.typeName
			if t.arrayName != "" {
				name = t.arrayName
			}
			return fmt.Errorf("failed to register %s: %w", name, err)
		}
	}
	return nil
}

// OracleCodec handles Oracle Spatial/Locator SDO_GEOMETRY columns. Only 2D geometries cross
// this boundary.
type OracleCodec struct{}

func (OracleCodec) Family() Family { return FamilyOracle }

func (OracleCodec) Driver() string { return "github.com/sijms/go-ora/v2" }

func (OracleCodec) Detect(col Column) bool {
	return detect(col, TypeStruct, oracleTypeName)
}

// Decode accepts the object scanned by go-ora once RegisterOracleTypes ran.
func (c OracleCodec) Decode(desc string, col Column, src any) (geom.T, error) {
	var sdo *SDOGeometry
	switch v := src.(type) {
	case nil:
		return nil, nil
	case *SDOGeometry:
		if v == nil {
			return nil, nil
		}
		sdo = v
	case SDOGeometry:
		sdo = &v
	default:
		return nil, decodeFailure(c, desc, col, fmt.Errorf("unsupported source type %T, %s not registered on the connection", src, oracleTypeName))
	}

	if d := sdo.Dimensions(); d > 2 {
		return nil, decodeFailure(c, desc, col, errs.New(errs.UnsupportedDimension, desc, "unable to get Geometry %dD", d))
	}

	g, err := sdo.Geometry()
	if err != nil {
		return nil, decodeFailure(c, desc, col, err)
	}

	out, err := normalize(g, sdo.srid())
	if err != nil {
		return nil, decodeFailure(c, desc, col, err)
	}

	return out, nil
}

// Encode returns an SDOGeometry value. go-ora binds it as an MDSYS.SDO_GEOMETRY object on a
// connection where RegisterOracleTypes ran.
func (c OracleCodec) Encode(desc string, col Column, g geom.T) (Param, error) {
	if g == nil {
		return Param{Type: TypeStruct}, nil
	}

	if geometry.CoordinateDimension(g) == 3 {
		return Param{}, encodeFailure(c, desc, col, errs.New(errs.UnsupportedDimension, desc, "unable to set Geometry 3D on prepared statement"))
	}

	flat, err := normalize(g, 0)
	if err != nil {
		return Param{}, encodeFailure(c, desc, col, err)
	}

	sdo, err := NewSDOGeometry(flat)
	if err != nil {
		return Param{}, encodeFailure(c, desc, col, err)
	}
	if geometry.HasSRID(g) {
		sdo.SRID = sql.NullInt64{Int64: int64(g.SRID()), Valid: true}
	}

	return Param{Value: *sdo, Type: TypeStruct}, nil
}

func (OracleCodec) ColumnDefinition(name string, addFieldName, addCR bool) string {
	return columnDefinition("SDO_GEOMETRY", name, addFieldName, addCR)
}
