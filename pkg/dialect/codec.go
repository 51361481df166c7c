// Package dialect converts geometries to and from the native spatial encodings of the
// supported database families.
//
// The set of dialects is closed: Postgres, Oracle, MySQL and SQLServer. Each is a stateless
// Codec that detects its geometry columns, decodes result-set values and encodes statement
// parameters.
package dialect

import (
	"fmt"
	"strings"

	"github.com/twpayne/go-geom"

	"geomvalue/pkg/errs"
	"geomvalue/pkg/geometry"
)

// SQLType is the generic SQL type code reported by a driver for a result-set column.
type SQLType int

const (
	TypeUnknown SQLType = iota
	TypeOther
	TypeStruct
	TypeBinary
	TypeVarbinary
	TypeLongVarbinary
	TypeBlob
	TypeVarchar
	TypeClob
)

var sqlTypeNames = map[SQLType]string{
	TypeUnknown:       "UNKNOWN",
	TypeOther:         "OTHER",
	TypeStruct:        "STRUCT",
	TypeBinary:        "BINARY",
	TypeVarbinary:     "VARBINARY",
	TypeLongVarbinary: "LONGVARBINARY",
	TypeBlob:          "BLOB",
	TypeVarchar:       "VARCHAR",
	TypeClob:          "CLOB",
}

func (t SQLType) String() string {
	if name, ok := sqlTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("SQLType(%d)", int(t))
}

// Family identifies the database a connection talks to.
type Family int

const (
	FamilyUnknown Family = iota
	FamilyPostgres
	FamilyOracle
	FamilyMySQL
	FamilySQLServer
	FamilySQLite
)

func (f Family) String() string {
	switch f {
	case FamilyPostgres:
		return "postgres"
	case FamilyOracle:
		return "oracle"
	case FamilyMySQL:
		return "mysql"
	case FamilySQLServer:
		return "sqlserver"
	case FamilySQLite:
		return "sqlite"
	default:
		return "unknown"
	}
}

// ParseFamily maps a database or driver name to its family.
func ParseFamily(s string) (Family, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgres", "postgresql", "postgis", "pq":
		return FamilyPostgres, nil
	case "oracle", "oci8", "godror":
		return FamilyOracle, nil
	case "mysql", "mariadb":
		return FamilyMySQL, nil
	case "sqlserver", "mssql":
		return FamilySQLServer, nil
	case "sqlite", "sqlite3":
		return FamilySQLite, nil
	default:
		return FamilyUnknown, fmt.Errorf("unknown database family %q", s)
	}
}

// Column describes one result-set or statement column.
type Column struct {
	Index       int
	Name        string
	GenericType SQLType
	TypeName    string
}

// Param is a statement parameter ready to be bound, with the generic type it binds as.
type Param struct {
	Value any
	Type  SQLType
}

// Codec is the per-dialect geometry conversion.
type Codec interface {
	Family() Family
	// Driver names the driver in error messages.
	Driver() string
	// Detect reports whether col is a geometry column of this dialect.
	Detect(col Column) bool
	// Decode converts a result-set value to a geometry. A nil src gives a nil geometry.
	Decode(desc string, col Column, src any) (geom.T, error)
	// Encode converts a geometry to a statement parameter. A nil geometry gives a typed null.
	Encode(desc string, col Column, g geom.T) (Param, error)
	// ColumnDefinition returns the declared column type for DDL.
	ColumnDefinition(name string, addFieldName, addCR bool) string
}

var (
	Postgres  Codec = postgresCodec{}
	Oracle    Codec = OracleCodec{}
	MySQL     Codec = mysqlCodec{}
	SQLServer Codec = sqlServerCodec{}
)

// Codecs lists every dialect.
var Codecs = []Codec{Postgres, Oracle, MySQL, SQLServer}

// ForFamily returns the codec of a family, or false when the family has no geometry support.
func ForFamily(f Family) (Codec, bool) {
	for _, c := range Codecs {
		if c.Family() == f {
			return c, true
		}
	}
	return nil, false
}

// DetectAny reports whether col is a geometry column for a connection of the given family.
func DetectAny(f Family, col Column) bool {
	c, ok := ForFamily(f)
	return ok && c.Detect(col)
}

// ColumnDefinitionFor returns the declared geometry column type of a family, or false when the
// family cannot hold geometry columns.
func ColumnDefinitionFor(f Family, name string, addFieldName, addCR bool) (string, bool) {
	c, ok := ForFamily(f)
	if !ok {
		return "", false
	}
	return c.ColumnDefinition(name, addFieldName, addCR), true
}

func detect(col Column, generic SQLType, typeName string) bool {
	return col.GenericType == generic && strings.EqualFold(col.TypeName, typeName)
}

func columnDefinition(typeName, name string, addFieldName, addCR bool) string {
	s := typeName
	if addFieldName {
		s = name + " " + s
	}
	if addCR {
		s += "\n"
	}
	return s
}

// normalize re-reads g through its WKT rendering and applies srid. Measures are dropped and
// the coordinate dimension is 2 or 3.
func normalize(g geom.T, srid int) (geom.T, error) {
	s, err := geometry.WKT(g, geometry.CoordinateDimension(g))
	if err != nil {
		return nil, err
	}
	out, err := geometry.ParseWKT(s)
	if err != nil {
		return nil, err
	}
	return geometry.WithSRID(out, srid)
}

func bytesOf(src any) ([]byte, error) {
	switch v := src.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported source type %T", src)
	}
}

func decodeFailure(c Codec, desc string, col Column, err error) error {
	if errs.IsTimeout(err) {
		return err
	}
	return errs.Store(desc, col.Index, c.Driver(), err, "get")
}

func encodeFailure(c Codec, desc string, col Column, err error) error {
	if errs.IsTimeout(err) {
		return err
	}
	return errs.Store(desc, col.Index, c.Driver(), err, "set")
}
