// Package geometry adapts the go-geom model to the operations the value type needs:
// coordinate dimension, SRID handling, (E)WKT rendering and parsing, cloning and equality.
package geometry

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
)

type GeometryType string

const (
	POINT              GeometryType = "POINT"
	LINESTRING         GeometryType = "LINESTRING"
	POLYGON            GeometryType = "POLYGON"
	MULTIPOINT         GeometryType = "MULTIPOINT"
	MULTILINESTRING    GeometryType = "MULTILINESTRING"
	MULTIPOLYGON       GeometryType = "MULTIPOLYGON"
	GEOMETRYCOLLECTION GeometryType = "GEOMETRYCOLLECTION"
)

// Get the geometry type tag of g
func TypeOf(g geom.T) (GeometryType, error) {
	switch g.(type) {
	case *geom.Point:
		return POINT, nil
	case *geom.LineString:
		return LINESTRING, nil
	case *geom.Polygon:
		return POLYGON, nil
	case *geom.MultiPoint:
		return MULTIPOINT, nil
	case *geom.MultiLineString:
		return MULTILINESTRING, nil
	case *geom.MultiPolygon:
		return MULTIPOLYGON, nil
	case *geom.GeometryCollection:
		return GEOMETRYCOLLECTION, nil
	default:
		return "", fmt.Errorf("unsupported geometry %T", g)
	}
}

// CoordinateDimension is 3 when the coordinates carry Z, 2 otherwise. M is not a spatial
// dimension and is ignored.
func CoordinateDimension(g geom.T) int {
	if g.Layout().ZIndex() != -1 {
		return 3
	}
	return 2
}

// HasSRID reports whether g carries a usable SRID. SRID <= 0 means none.
func HasSRID(g geom.T) bool {
	return g.SRID() > 0
}

// WithSRID sets the SRID of g in place and returns it.
func WithSRID(g geom.T, srid int) (geom.T, error) {
	switch g := g.(type) {
	case *geom.Point:
		return g.SetSRID(srid), nil
	case *geom.LineString:
		return g.SetSRID(srid), nil
	case *geom.Polygon:
		return g.SetSRID(srid), nil
	case *geom.MultiPoint:
		return g.SetSRID(srid), nil
	case *geom.MultiLineString:
		return g.SetSRID(srid), nil
	case *geom.MultiPolygon:
		return g.SetSRID(srid), nil
	case *geom.GeometryCollection:
		return g.SetSRID(srid), nil
	default:
		return nil, fmt.Errorf("unsupported geometry %T", g)
	}
}

// Clone deep copies g: new coordinate payload, same SRID.
func Clone(g geom.T) (geom.T, error) {
	var out geom.T
	switch g := g.(type) {
	case *geom.Point:
		out = g.Clone()
	case *geom.LineString:
		out = g.Clone()
	case *geom.Polygon:
		out = g.Clone()
	case *geom.MultiPoint:
		out = g.Clone()
	case *geom.MultiLineString:
		out = g.Clone()
	case *geom.MultiPolygon:
		out = g.Clone()
	case *geom.GeometryCollection:
		gc := geom.NewGeometryCollection()
		for _, child := range g.Geoms() {
			c, err := Clone(child)
			if err != nil {
				return nil, err
			}
			if err := gc.Push(c); err != nil {
				return nil, fmt.Errorf("failed to clone collection member: %w", err)
			}
		}
		out = gc
	default:
		return nil, fmt.Errorf("unsupported geometry %T", g)
	}
	return WithSRID(out, g.SRID())
}

// Equal reports whether a and b have the same type, layout, coordinates and SRID.
func Equal(a, b geom.T) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ab, err := ewkb.Marshal(a, binary.LittleEndian)
	if err != nil {
		return false
	}
	bb, err := ewkb.Marshal(b, binary.LittleEndian)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}
