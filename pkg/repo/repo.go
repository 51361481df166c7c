// Package repo reads and writes geometry columns through database/sql using the dialect codecs.
package repo

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"
	"sync"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	mssql "github.com/microsoft/go-mssqldb"
	"github.com/pkg/errors"
	_ "github.com/sijms/go-ora/v2"
	"github.com/sirupsen/logrus"

	"geomvalue/pkg/dialect"
	"geomvalue/pkg/errs"
	"geomvalue/pkg/value"
)

// Describer maps a driver column type to the generic type and declared type name the dialect
// codecs detect on.
type Describer func(ct *sql.ColumnType) (dialect.SQLType, string)

type GeometryRepository struct {
	db       *sql.DB
	family   dialect.Family
	codec    dialect.Codec
	describe Describer
	// catalog is set while the family's default describer is in use.
	catalog bool
	log     *logrus.Entry

	mu         sync.Mutex
	registered bool
}

type Option func(*GeometryRepository)

// WithDescriber overrides how result-set column types are classified.
func WithDescriber(d Describer) Option {
	return func(r *GeometryRepository) {
		r.describe = d
		r.catalog = false
	}
}

// WithCodec overrides the family codec.
func WithCodec(c dialect.Codec) Option {
	return func(r *GeometryRepository) {
		r.codec = c
	}
}

func NewGeometryRepository(db *sql.DB, family dialect.Family, opts ...Option) (*GeometryRepository, error) {
	codec, ok := dialect.ForFamily(family)
	if !ok {
		return nil, fmt.Errorf("no geometry support for %s", family)
	}

	r := &GeometryRepository{
		db:       db,
		family:   family,
		codec:    codec,
		describe: DescriberFor(family),
		catalog:  true,
		log:      logrus.WithField("family", family.String()),
	}
	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

// Open connects to a database of one of the families with a bundled driver.
func Open(family dialect.Family, dsn string) (*sql.DB, error) {
	switch family {
	case dialect.FamilyPostgres:
		if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
			converted, err := pq.ParseURL(dsn)
			if err != nil {
				return nil, errors.Wrap(err, "invalid postgres url")
			}
			dsn = converted
		}
		connector, err := pq.NewConnector(dsn)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create postgres connector")
		}
		return sql.OpenDB(connector), nil
	case dialect.FamilyMySQL:
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, errors.Wrap(err, "invalid mysql dsn")
		}
		connector, err := mysql.NewConnector(cfg)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create mysql connector")
		}
		return sql.OpenDB(connector), nil
	case dialect.FamilySQLServer:
		connector, err := mssql.NewConnector(dsn)
		if err != nil {
			return nil, errors.Wrap(err, "invalid sqlserver dsn")
		}
		return sql.OpenDB(connector), nil
	case dialect.FamilyOracle:
		db, err := sql.Open("oracle", dsn)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open oracle database")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("no bundled driver for %s", family)
	}
}

// register makes the Oracle spatial object types known to the go-ora pool before first use.
// A failed registration is retried on the next call.
func (r *GeometryRepository) register() error {
	if r.family != dialect.FamilyOracle {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.registered {
		return nil
	}
	if err := dialect.RegisterOracleTypes(r.db); err != nil {
		return err
	}
	r.registered = true
	return nil
}

// DescriberFor returns the default column classification of a family's driver.
func DescriberFor(family dialect.Family) Describer {
	return func(ct *sql.ColumnType) (dialect.SQLType, string) {
		return classify(family, ct.DatabaseTypeName())
	}
}

// classify maps a driver's database type name to the generic type and declared type name.
// lib/pq reports no name at all for OIDs it does not know, PostGIS geometry among them, so an
// empty name never counts as geometry here.
func classify(family dialect.Family, typeName string) (dialect.SQLType, string) {
	name := strings.ToUpper(typeName)
	switch family {
	case dialect.FamilyPostgres:
		if name == "GEOMETRY" {
			return dialect.TypeOther, name
		}
	case dialect.FamilyMySQL:
		if name == "GEOMETRY" {
			return dialect.TypeBinary, name
		}
	case dialect.FamilyOracle:
		if strings.HasSuffix(name, "SDO_GEOMETRY") {
			return dialect.TypeStruct, "MDSYS.SDO_GEOMETRY"
		}
	case dialect.FamilySQLServer:
		if name == "GEOMETRY" || name == "UDT" {
			return dialect.TypeVarbinary, "GEOMETRY"
		}
	}
	return genericType(name), name
}

func genericType(name string) dialect.SQLType {
	switch name {
	case "BINARY":
		return dialect.TypeBinary
	case "VARBINARY":
		return dialect.TypeVarbinary
	case "BLOB", "BYTEA", "LONGBLOB", "MEDIUMBLOB":
		return dialect.TypeBlob
	case "VARCHAR", "TEXT", "CHAR", "NVARCHAR":
		return dialect.TypeVarchar
	case "CLOB":
		return dialect.TypeClob
	default:
		return dialect.TypeUnknown
	}
}

// ResultColumn is one column of a query result. Geometry is nil for non-spatial columns.
type ResultColumn struct {
	Column   dialect.Column
	Geometry *value.GeometryType
}

// ResultSet holds decoded rows. Geometry columns hold value.Cell values; other columns hold
// whatever the driver scanned.
type ResultSet struct {
	Columns []ResultColumn
	Rows    [][]any
}

// Query runs a query and decodes every geometry column into native cells. With lib/pq the
// default describer cannot see PostGIS columns; use Select or WithDescriber there.
func (r *GeometryRepository) Query(ctx context.Context, query string, args ...any) (*ResultSet, error) {
	return r.query(ctx, r.describe, query, args...)
}

func (r *GeometryRepository) query(ctx context.Context, describe Describer, query string, args ...any) (*ResultSet, error) {
	if err := r.register(); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to read column types: %w", err)
	}

	out := &ResultSet{Columns: make([]ResultColumn, len(types))}
	for i, ct := range types {
		generic, typeName := describe(ct)
		col := dialect.Column{Index: i, Name: ct.Name(), GenericType: generic, TypeName: typeName}

		length := -1
		if n, ok := ct.Length(); ok {
			length = int(n)
		}
		out.Columns[i] = ResultColumn{Column: col, Geometry: value.FromColumn(r.family, col, length)}
	}

	for rows.Next() {
		dest := make([]any, len(types))
		ptrs := make([]any, len(types))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		for i, rc := range out.Columns {
			if rc.Geometry == nil {
				continue
			}
			g, err := r.codec.Decode(rc.Geometry.String(), rc.Column, dest[i])
			if err != nil {
				return nil, err
			}
			dest[i] = value.Native(g)
		}
		out.Rows = append(out.Rows, dest)
	}
	if err := rows.Err(); err != nil {
		if errs.IsTimeout(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	r.log.WithFields(logrus.Fields{"rows": len(out.Rows), "columns": len(out.Columns)}).Debug("query decoded")
	return out, nil
}

// Select reads every column of table, at most limit rows when limit is positive.
func (r *GeometryRepository) Select(ctx context.Context, table string, limit int) (*ResultSet, error) {
	query := "SELECT * FROM " + r.quote(table)
	if limit > 0 {
		switch r.family {
		case dialect.FamilyOracle:
			query += fmt.Sprintf(" FETCH FIRST %d ROWS ONLY", limit)
		case dialect.FamilySQLServer:
			query = fmt.Sprintf("SELECT TOP %d * FROM %s", limit, r.quote(table))
		default:
			query += fmt.Sprintf(" LIMIT %d", limit)
		}
	}

	describe := r.describe
	if r.family == dialect.FamilyPostgres && r.catalog {
		names, err := r.postgisColumns(ctx, table)
		if err != nil {
			return nil, err
		}
		describe = namedGeometry(describe, names)
	}
	return r.query(ctx, describe, query)
}

// postgisColumns lists the geometry columns of a Postgres table from the catalog.
func (r *GeometryRepository) postgisColumns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT attname FROM pg_attribute
		WHERE attrelid = $1::regclass AND atttypid = 'geometry'::regtype AND attnum > 0 AND NOT attisdropped`, r.quote(table))
	if err != nil {
		return nil, fmt.Errorf("failed to read geometry columns of %s: %w", table, err)
	}
	defer rows.Close()

	names := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan geometry column name: %w", err)
		}
		names[name] = true
	}
	return names, rows.Err()
}

// namedGeometry classifies the named columns as PostGIS geometry and defers to base otherwise.
func namedGeometry(base Describer, names map[string]bool) Describer {
	return func(ct *sql.ColumnType) (dialect.SQLType, string) {
		if names[ct.Name()] {
			return dialect.TypeOther, "GEOMETRY"
		}
		return base(ct)
	}
}

// InsertColumn is a target column of Insert. Geometry columns carry their descriptor and take
// value.Cell row values.
type InsertColumn struct {
	Name     string
	Geometry *value.GeometryType
}

// Insert writes rows into table in one transaction.
func (r *GeometryRepository) Insert(ctx context.Context, table string, columns []InsertColumn, rows [][]any) error {
	names := make([]string, len(columns))
	marks := make([]string, len(columns))
	for i, c := range columns {
		names[i] = r.quote(c.Name)
		marks[i] = r.placeholder(i + 1)
	}
	if err := r.register(); err != nil {
		return err
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", r.quote(table), strings.Join(names, ", "), strings.Join(marks, ", "))

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for n, row := range rows {
		if len(row) != len(columns) {
			return fmt.Errorf("row %d has %d values for %d columns", n, len(row), len(columns))
		}

		args := make([]any, len(row))
		for i, c := range columns {
			if c.Geometry == nil {
				args[i] = row[i]
				continue
			}
			args[i], err = r.bind(i, c.Geometry, row[i])
			if err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return fmt.Errorf("failed to insert row %d: %w", n, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.log.WithFields(logrus.Fields{"table": table, "rows": len(rows)}).Info("rows inserted")
	return nil
}

func (r *GeometryRepository) bind(index int, typ *value.GeometryType, v any) (any, error) {
	c, ok := v.(value.Cell)
	if !ok {
		return nil, errs.New(errs.TypeMismatch, typ.String(), "geometry column holds %T", v)
	}

	g, err := typ.Geometry(c)
	if err != nil {
		return nil, err
	}

	col := dialect.Column{Index: index, Name: typ.Name()}
	p, err := r.codec.Encode(typ.String(), col, g)
	if err != nil {
		return nil, err
	}

	if valuer, ok := p.Value.(driver.Valuer); ok && p.Value != nil {
		return valuer.Value()
	}
	return p.Value, nil
}

// ColumnSpec describes a column for CreateTable. Geometry columns ignore Type.
type ColumnSpec struct {
	Name     string
	Type     string
	Geometry bool
}

// CreateTableSQL builds the DDL for a table holding geometry columns.
func (r *GeometryRepository) CreateTableSQL(table string, columns []ColumnSpec) (string, error) {
	defs := make([]string, len(columns))
	for i, c := range columns {
		if !c.Geometry {
			defs[i] = r.quote(c.Name) + " " + c.Type
			continue
		}
		def, ok := dialect.ColumnDefinitionFor(r.family, r.quote(c.Name), true, false)
		if !ok {
			return "", fmt.Errorf("%s has no geometry column type", r.family)
		}
		defs[i] = def
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", r.quote(table), strings.Join(defs, ", ")), nil
}

func (r *GeometryRepository) quote(name string) string {
	if r.family == dialect.FamilyMySQL {
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	}
	return pq.QuoteIdentifier(name)
}

func (r *GeometryRepository) placeholder(n int) string {
	switch r.family {
	case dialect.FamilyPostgres:
		return fmt.Sprintf("$%d", n)
	case dialect.FamilyOracle:
		return fmt.Sprintf(":%d", n)
	case dialect.FamilySQLServer:
		return fmt.Sprintf("@p%d", n)
	default:
		return "?"
	}
}
