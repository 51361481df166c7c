package dialect

import (
	"database/sql"
	"fmt"

	"github.com/twpayne/go-geom"

	"geomvalue/pkg/geometry"
)

// SDO_GTYPE geometry type digits (the TT part of DLTT).
const (
	sdoUnknown         = 0
	sdoPoint           = 1
	sdoLine            = 2
	sdoPolygon         = 3
	sdoCollection      = 4
	sdoMultiPoint      = 5
	sdoMultiLine       = 6
	sdoMultiPolygon    = 7
	sdoEtypePoint      = 1
	sdoEtypeLine       = 2
	sdoEtypeExterior   = 1003
	sdoEtypeInterior   = 2003
	sdoInterpStraight  = 1
	sdoInterpRectangle = 3
)

// SDOPoint is the MDSYS.SDO_POINT_TYPE object.
type SDOPoint struct {
	X float64 `udt:"X"`
	Y float64 `udt:"Y"`
	Z float64 `udt:"Z"`
}

// SDOGeometry is the MDSYS.SDO_GEOMETRY object as registered with go-ora. Point is only read
// when both arrays are empty, the way Oracle Spatial reads it.
type SDOGeometry struct {
	GType     int64         `udt:"SDO_GTYPE"`
	SRID      sql.NullInt64 `udt:"SDO_SRID"`
	Point     SDOPoint      `udt:"SDO_POINT"`
	ElemInfo  []int64       `udt:"SDO_ELEM_INFO"`
	Ordinates []float64     `udt:"SDO_ORDINATES"`
}

// Dimensions returns the D digit of the geometry type.
func (s *SDOGeometry) Dimensions() int {
	return int(s.GType / 1000)
}

func (s *SDOGeometry) measureDim() int {
	return int(s.GType/100) % 10
}

func (s *SDOGeometry) typeCode() int {
	return int(s.GType % 100)
}

func (s *SDOGeometry) srid() int {
	if !s.SRID.Valid {
		return 0
	}
	return int(s.SRID.Int64)
}

func (s *SDOGeometry) isPoint() bool {
	return len(s.ElemInfo) == 0 && len(s.Ordinates) == 0
}

// NewSDOGeometry converts a 2D or 3D geometry. Measures are not supported.
func NewSDOGeometry(g geom.T) (*SDOGeometry, error) {
	dim := 2
	if g.Layout().ZIndex() != -1 {
		dim = 3
	}
	if g.Layout().MIndex() != -1 {
		return nil, fmt.Errorf("measured geometries are not supported")
	}
	if g.Empty() {
		return nil, fmt.Errorf("empty %T has no SDO_GEOMETRY form", g)
	}

	s := &SDOGeometry{}
	if g.SRID() > 0 {
		s.SRID = sql.NullInt64{Int64: int64(g.SRID()), Valid: true}
	}

	var tt int
	switch g := g.(type) {
	case *geom.Point:
		tt = sdoPoint
		s.Point = SDOPoint{X: g.X(), Y: g.Y()}
		if dim == 3 {
			s.Point.Z = g.Z()
		}
	case *geom.LineString:
		tt = sdoLine
		s.appendElement(g.FlatCoords(), sdoEtypeLine, sdoInterpStraight)
	case *geom.Polygon:
		tt = sdoPolygon
		s.appendPolygon(g)
	case *geom.MultiPoint:
		tt = sdoMultiPoint
		s.appendElement(g.FlatCoords(), sdoEtypePoint, g.NumPoints())
	case *geom.MultiLineString:
		tt = sdoMultiLine
		for i := 0; i < g.NumLineStrings(); i++ {
			s.appendElement(g.LineString(i).FlatCoords(), sdoEtypeLine, sdoInterpStraight)
		}
	case *geom.MultiPolygon:
		tt = sdoMultiPolygon
		for i := 0; i < g.NumPolygons(); i++ {
			s.appendPolygon(g.Polygon(i))
		}
	case *geom.GeometryCollection:
		tt = sdoCollection
		for _, child := range g.Geoms() {
			if err := s.appendChild(child); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("unsupported geometry %T", g)
	}

	s.GType = int64(dim*1000 + tt)
	return s, nil
}

func (s *SDOGeometry) appendElement(flat []float64, etype, interp int) {
	s.ElemInfo = append(s.ElemInfo, int64(len(s.Ordinates)+1), int64(etype), int64(interp))
	s.Ordinates = append(s.Ordinates, flat...)
}

func (s *SDOGeometry) appendPolygon(p *geom.Polygon) {
	for i := 0; i < p.NumLinearRings(); i++ {
		etype := sdoEtypeExterior
		if i > 0 {
			etype = sdoEtypeInterior
		}
		s.appendElement(p.LinearRing(i).FlatCoords(), etype, sdoInterpStraight)
	}
}

func (s *SDOGeometry) appendChild(g geom.T) error {
	switch g := g.(type) {
	case *geom.Point:
		s.appendElement(g.FlatCoords(), sdoEtypePoint, 1)
	case *geom.LineString:
		s.appendElement(g.FlatCoords(), sdoEtypeLine, sdoInterpStraight)
	case *geom.Polygon:
		s.appendPolygon(g)
	case *geom.MultiPoint:
		s.appendElement(g.FlatCoords(), sdoEtypePoint, g.NumPoints())
	case *geom.MultiLineString:
		for i := 0; i < g.NumLineStrings(); i++ {
			s.appendElement(g.LineString(i).FlatCoords(), sdoEtypeLine, sdoInterpStraight)
		}
	case *geom.MultiPolygon:
		for i := 0; i < g.NumPolygons(); i++ {
			s.appendPolygon(g.Polygon(i))
		}
	default:
		return fmt.Errorf("unsupported collection member %T", g)
	}
	return nil
}

type sdoElement struct {
	etype  int
	interp int
	flat   []float64
}

func (s *SDOGeometry) elements(stride int) ([]sdoElement, error) {
	if len(s.ElemInfo)%3 != 0 {
		return nil, fmt.Errorf("SDO_ELEM_INFO length %d is not a multiple of 3", len(s.ElemInfo))
	}

	var out []sdoElement
	for i := 0; i < len(s.ElemInfo); i += 3 {
		start := int(s.ElemInfo[i]) - 1
		end := len(s.Ordinates)
		if i+3 < len(s.ElemInfo) {
			end = int(s.ElemInfo[i+3]) - 1
		}
		if start < 0 || start > end || end > len(s.Ordinates) || (end-start)%stride != 0 {
			return nil, fmt.Errorf("SDO_ELEM_INFO offset %d out of range", s.ElemInfo[i])
		}
		out = append(out, sdoElement{etype: int(s.ElemInfo[i+1]), interp: int(s.ElemInfo[i+2]), flat: s.Ordinates[start:end]})
	}
	return out, nil
}

// Geometry converts the object to a go-geom geometry with its SRID.
func (s *SDOGeometry) Geometry() (geom.T, error) {
	layout, err := sdoLayout(s.Dimensions(), s.measureDim())
	if err != nil {
		return nil, err
	}
	stride := layout.Stride()

	if s.isPoint() {
		coords := []float64{s.Point.X, s.Point.Y}
		if stride == 3 {
			coords = append(coords, s.Point.Z)
		}
		return geom.NewPointFlat(layout, coords).SetSRID(s.srid()), nil
	}

	elems, err := s.elements(stride)
	if err != nil {
		return nil, err
	}

	b := sdoBuilder{layout: layout}
	for _, e := range elems {
		if err := b.add(e); err != nil {
			return nil, err
		}
	}

	g, err := b.shape(s.typeCode())
	if err != nil {
		return nil, err
	}
	return geometry.WithSRID(g, s.srid())
}

func sdoLayout(dim, measure int) (geom.Layout, error) {
	switch {
	case dim == 2:
		return geom.XY, nil
	case dim == 3 && measure == 3:
		return geom.XYM, nil
	case dim == 3:
		return geom.XYZ, nil
	case dim == 4:
		return geom.XYZM, nil
	default:
		return geom.NoLayout, fmt.Errorf("unsupported SDO dimension %d", dim)
	}
}

// sdoBuilder collects decoded elements in order.
type sdoBuilder struct {
	layout   geom.Layout
	points   []*geom.Point
	lines    []*geom.LineString
	polygons []*geom.Polygon
	members  []geom.T
}

func (b *sdoBuilder) add(e sdoElement) error {
	stride := b.layout.Stride()

	switch e.etype {
	case sdoEtypePoint:
		for i := 0; i+stride <= len(e.flat); i += stride {
			p := geom.NewPointFlat(b.layout, e.flat[i:i+stride])
			b.points = append(b.points, p)
			b.members = append(b.members, p)
		}
	case sdoEtypeLine:
		if e.interp != sdoInterpStraight {
			return fmt.Errorf("unsupported line interpretation %d", e.interp)
		}
		l := geom.NewLineStringFlat(b.layout, e.flat)
		b.lines = append(b.lines, l)
		b.members = append(b.members, l)
	case sdoEtypeExterior, sdoEtypeInterior:
		ring, err := b.ring(e)
		if err != nil {
			return err
		}
		if e.etype == sdoEtypeExterior || len(b.polygons) == 0 {
			p := geom.NewPolygonFlat(b.layout, ring, []int{len(ring)})
			b.polygons = append(b.polygons, p)
			b.members = append(b.members, p)
			return nil
		}
		last := b.polygons[len(b.polygons)-1]
		flat := append(append([]float64{}, last.FlatCoords()...), ring...)
		ends := append(append([]int{}, last.Ends()...), len(flat))
		p := geom.NewPolygonFlat(b.layout, flat, ends)
		b.polygons[len(b.polygons)-1] = p
		b.members[len(b.members)-1] = p
	default:
		return fmt.Errorf("unsupported SDO element type %d", e.etype)
	}
	return nil
}

func (b *sdoBuilder) ring(e sdoElement) ([]float64, error) {
	switch e.interp {
	case sdoInterpStraight:
		return e.flat, nil
	case sdoInterpRectangle:
		if b.layout.Stride() != 2 || len(e.flat) != 4 {
			return nil, fmt.Errorf("invalid optimized rectangle")
		}
		x0, y0, x1, y1 := e.flat[0], e.flat[1], e.flat[2], e.flat[3]
		return []float64{x0, y0, x1, y0, x1, y1, x0, y1, x0, y0}, nil
	default:
		return nil, fmt.Errorf("unsupported polygon interpretation %d", e.interp)
	}
}

func (b *sdoBuilder) shape(tt int) (geom.T, error) {
	switch tt {
	case sdoPoint:
		if len(b.points) != 1 {
			return nil, fmt.Errorf("point geometry with %d points", len(b.points))
		}
		return b.points[0], nil
	case sdoLine:
		if len(b.lines) != 1 {
			return nil, fmt.Errorf("line geometry with %d lines", len(b.lines))
		}
		return b.lines[0], nil
	case sdoPolygon:
		if len(b.polygons) != 1 {
			return nil, fmt.Errorf("polygon geometry with %d polygons", len(b.polygons))
		}
		return b.polygons[0], nil
	case sdoMultiPoint:
		mp := geom.NewMultiPoint(b.layout)
		for _, p := range b.points {
			if err := mp.Push(p); err != nil {
				return nil, err
			}
		}
		return mp, nil
	case sdoMultiLine:
		ml := geom.NewMultiLineString(b.layout)
		for _, l := range b.lines {
			if err := ml.Push(l); err != nil {
				return nil, err
			}
		}
		return ml, nil
	case sdoMultiPolygon:
		mp := geom.NewMultiPolygon(b.layout)
		for _, p := range b.polygons {
			if err := mp.Push(p); err != nil {
				return nil, err
			}
		}
		return mp, nil
	case sdoCollection, sdoUnknown:
		gc := geom.NewGeometryCollection()
		if err := gc.Push(b.members...); err != nil {
			return nil, err
		}
		return gc, nil
	default:
		return nil, fmt.Errorf("unsupported SDO geometry type %d", tt)
	}
}
