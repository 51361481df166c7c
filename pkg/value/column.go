package value

import (
	"geomvalue/pkg/dialect"
)

// FromColumn returns a geometry descriptor for a result-set column when the column is a
// spatial column of the connection's family, and nil otherwise. The descriptor is named after
// the column and keeps the column's declared length when one is known.
func FromColumn(f dialect.Family, col dialect.Column, length int) *GeometryType {
	if !dialect.DetectAny(f, col) {
		return nil
	}
	return NewGeometryType(col.Name).SetLength(length)
}
