package dialect

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/twpayne/go-geom"

	"geomvalue/pkg/geometry"
)

// SQL Server CLR geometry serialization.

const (
	clrVersion1 uint8 = 1
	clrVersion2 uint8 = 2
)

// serialization properties
const (
	clrPropZ uint8 = 0x01
	clrPropM uint8 = 0x02
	clrPropV uint8 = 0x04
	clrPropP uint8 = 0x08
	clrPropL uint8 = 0x10
	clrPropH uint8 = 0x20
)

type clrFigureAttr uint8

const (
	clrFigureInteriorRing clrFigureAttr = 0x00
	clrFigureStroke       clrFigureAttr = 0x01
	clrFigureExteriorRing clrFigureAttr = 0x02
)

type clrShapeType uint8

const (
	clrShapePoint              clrShapeType = 0x01
	clrShapeLineString         clrShapeType = 0x02
	clrShapePolygon            clrShapeType = 0x03
	clrShapeMultiPoint         clrShapeType = 0x04
	clrShapeMultiLineString    clrShapeType = 0x05
	clrShapeMultiPolygon       clrShapeType = 0x06
	clrShapeGeometryCollection clrShapeType = 0x07
)

type clrFigure struct {
	Attribute clrFigureAttr
	Offset    int32
}

type clrShape struct {
	ParentOffset int32
	FigureOffset int32
	Type         clrShapeType
}

type clrGeometry struct {
	SRID    int32
	Version uint8
	Props   uint8

	layout  geom.Layout
	xy      []float64
	z       []float64
	m       []float64
	figures []clrFigure
	shapes  []clrShape
}

func (g *clrGeometry) numPoints() int {
	return len(g.xy) / 2
}

// encodeCLR serializes g in the version 1 format.
func encodeCLR(g geom.T) ([]byte, error) {
	c := &clrGeometry{SRID: int32(g.SRID()), Version: clrVersion1, Props: clrPropV, layout: g.Layout()}
	if c.SRID < 0 {
		c.SRID = 0
	}
	if err := c.addShape(-1, g); err != nil {
		return nil, err
	}

	zi, mi := c.layout.ZIndex(), c.layout.MIndex()
	if zi != -1 {
		c.Props |= clrPropZ
	}
	if mi != -1 {
		c.Props |= clrPropM
	}
	if len(c.shapes) == 1 && len(c.figures) == 1 {
		switch {
		case c.shapes[0].Type == clrShapePoint && c.numPoints() == 1:
			c.Props |= clrPropP
		case c.shapes[0].Type == clrShapeLineString && c.numPoints() == 2:
			c.Props |= clrPropL
		}
	}

	return c.marshal()
}

func (c *clrGeometry) addPoints(flat []float64) {
	stride := c.layout.Stride()
	zi, mi := c.layout.ZIndex(), c.layout.MIndex()
	for i := 0; i+stride <= len(flat); i += stride {
		c.xy = append(c.xy, flat[i], flat[i+1])
		if zi != -1 {
			c.z = append(c.z, flat[i+zi])
		}
		if mi != -1 {
			c.m = append(c.m, flat[i+mi])
		}
	}
}

func (c *clrGeometry) addFigure(attr clrFigureAttr, flat []float64) {
	c.figures = append(c.figures, clrFigure{Attribute: attr, Offset: int32(c.numPoints())})
	c.addPoints(flat)
}

func (c *clrGeometry) addShape(parent int32, g geom.T) error {
	idx := int32(len(c.shapes))
	shape := clrShape{ParentOffset: parent, FigureOffset: int32(len(c.figures))}
	if g.Empty() {
		shape.FigureOffset = -1
	}

	switch g := g.(type) {
	case *geom.Point:
		shape.Type = clrShapePoint
		c.shapes = append(c.shapes, shape)
		if !g.Empty() {
			c.addFigure(clrFigureStroke, g.FlatCoords())
		}
	case *geom.LineString:
		shape.Type = clrShapeLineString
		c.shapes = append(c.shapes, shape)
		if !g.Empty() {
			c.addFigure(clrFigureStroke, g.FlatCoords())
		}
	case *geom.Polygon:
		shape.Type = clrShapePolygon
		c.shapes = append(c.shapes, shape)
		for i := 0; i < g.NumLinearRings(); i++ {
			attr := clrFigureExteriorRing
			if i > 0 {
				attr = clrFigureInteriorRing
			}
			c.addFigure(attr, g.LinearRing(i).FlatCoords())
		}
	case *geom.MultiPoint:
		shape.Type = clrShapeMultiPoint
		c.shapes = append(c.shapes, shape)
		for i := 0; i < g.NumPoints(); i++ {
			if err := c.addShape(idx, g.Point(i)); err != nil {
				return err
			}
		}
	case *geom.MultiLineString:
		shape.Type = clrShapeMultiLineString
		c.shapes = append(c.shapes, shape)
		for i := 0; i < g.NumLineStrings(); i++ {
			if err := c.addShape(idx, g.LineString(i)); err != nil {
				return err
			}
		}
	case *geom.MultiPolygon:
		shape.Type = clrShapeMultiPolygon
		c.shapes = append(c.shapes, shape)
		for i := 0; i < g.NumPolygons(); i++ {
			if err := c.addShape(idx, g.Polygon(i)); err != nil {
				return err
			}
		}
	case *geom.GeometryCollection:
		shape.Type = clrShapeGeometryCollection
		c.shapes = append(c.shapes, shape)
		for _, child := range g.Geoms() {
			if err := c.addShape(idx, child); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unsupported geometry %T", g)
	}
	return nil
}

type clrBuffer struct {
	b   *bytes.Buffer
	err error
}

func (b *clrBuffer) write(v any) {
	if b.err == nil {
		b.err = binary.Write(b.b, binary.LittleEndian, v)
	}
}

func (c *clrGeometry) marshal() ([]byte, error) {
	b := &clrBuffer{b: new(bytes.Buffer)}
	b.write(c.SRID)
	b.write(c.Version)
	b.write(c.Props)

	if c.Props&(clrPropP|clrPropL) == 0 {
		b.write(uint32(c.numPoints()))
	}
	b.write(c.xy)
	if c.Props&clrPropZ != 0 {
		b.write(c.z)
	}
	if c.Props&clrPropM != 0 {
		b.write(c.m)
	}
	if c.Props&(clrPropP|clrPropL) == 0 {
		b.write(uint32(len(c.figures)))
		for _, f := range c.figures {
			b.write(uint8(f.Attribute))
			b.write(f.Offset)
		}
		b.write(uint32(len(c.shapes)))
		for _, s := range c.shapes {
			b.write(s.ParentOffset)
			b.write(s.FigureOffset)
			b.write(uint8(s.Type))
		}
	}
	if b.err != nil {
		return nil, b.err
	}
	return b.b.Bytes(), nil
}

type clrReader struct {
	r   *bytes.Reader
	err error
}

func (r *clrReader) read(v any) {
	if r.err == nil {
		r.err = binary.Read(r.r, binary.LittleEndian, v)
	}
}

// count reads an element count and checks that size bytes per element are available.
func (r *clrReader) count(size int) int {
	var n uint32
	r.read(&n)
	if r.err == nil && int64(n)*int64(size) > int64(r.r.Len()) {
		r.err = fmt.Errorf("count %d exceeds remaining %d bytes", n, r.r.Len())
	}
	return int(n)
}

func (r *clrReader) floats(n int) []float64 {
	if r.err != nil {
		return nil
	}
	out := make([]float64, n)
	r.read(out)
	return out
}

// decodeCLR parses a version 1 or 2 serialized geometry.
func decodeCLR(data []byte) (geom.T, error) {
	r := &clrReader{r: bytes.NewReader(data)}
	c := &clrGeometry{}
	r.read(&c.SRID)
	r.read(&c.Version)
	r.read(&c.Props)
	if r.err != nil {
		return nil, fmt.Errorf("failed to read header: %w", r.err)
	}
	if c.Version != clrVersion1 && c.Version != clrVersion2 {
		return nil, fmt.Errorf("unsupported serialization version %d", c.Version)
	}

	hasZ, hasM := c.Props&clrPropZ != 0, c.Props&clrPropM != 0
	switch {
	case hasZ && hasM:
		c.layout = geom.XYZM
	case hasZ:
		c.layout = geom.XYZ
	case hasM:
		c.layout = geom.XYM
	default:
		c.layout = geom.XY
	}

	zmSize := 0
	if hasZ {
		zmSize += 8
	}
	if hasM {
		zmSize += 8
	}

	var n int
	switch {
	case c.Props&clrPropP != 0:
		n = 1
	case c.Props&clrPropL != 0:
		n = 2
	default:
		n = r.count(16 + zmSize)
	}
	c.xy = r.floats(2 * n)
	if hasZ {
		c.z = r.floats(n)
	}
	if hasM {
		c.m = r.floats(n)
	}

	switch {
	case c.Props&clrPropP != 0:
		c.figures = []clrFigure{{Attribute: clrFigureStroke}}
		c.shapes = []clrShape{{ParentOffset: -1, Type: clrShapePoint}}
	case c.Props&clrPropL != 0:
		c.figures = []clrFigure{{Attribute: clrFigureStroke}}
		c.shapes = []clrShape{{ParentOffset: -1, Type: clrShapeLineString}}
	default:
		nf := r.count(5)
		for i := 0; i < nf && r.err == nil; i++ {
			var f clrFigure
			r.read(&f.Attribute)
			r.read(&f.Offset)
			c.figures = append(c.figures, f)
		}
		ns := r.count(9)
		for i := 0; i < ns && r.err == nil; i++ {
			var s clrShape
			r.read(&s.ParentOffset)
			r.read(&s.FigureOffset)
			r.read(&s.Type)
			c.shapes = append(c.shapes, s)
		}
	}
	if r.err != nil {
		if r.err == io.EOF {
			r.err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("failed to read geometry body: %w", r.err)
	}
	if len(c.shapes) == 0 {
		return nil, fmt.Errorf("geometry has no shapes")
	}

	g, err := c.build(0)
	if err != nil {
		return nil, err
	}
	return geometry.WithSRID(g, int(c.SRID))
}

func (c *clrGeometry) flat(from, to int) []float64 {
	stride := c.layout.Stride()
	zi, mi := c.layout.ZIndex(), c.layout.MIndex()
	out := make([]float64, 0, (to-from)*stride)
	for i := from; i < to; i++ {
		out = append(out, c.xy[2*i], c.xy[2*i+1])
		if zi != -1 {
			out = append(out, c.z[i])
		}
		if mi != -1 {
			out = append(out, c.m[i])
		}
	}
	return out
}

// figureRange returns the figures owned by shape i.
func (c *clrGeometry) figureRange(i int) (int, int) {
	start := int(c.shapes[i].FigureOffset)
	if start < 0 {
		return 0, 0
	}
	end := len(c.figures)
	for j := i + 1; j < len(c.shapes); j++ {
		if c.shapes[j].FigureOffset >= 0 {
			end = int(c.shapes[j].FigureOffset)
			break
		}
	}
	return start, end
}

// pointRange returns the points of figure j.
func (c *clrGeometry) pointRange(j int) (int, int, error) {
	start := int(c.figures[j].Offset)
	end := c.numPoints()
	if j+1 < len(c.figures) {
		end = int(c.figures[j+1].Offset)
	}
	if start < 0 || start > end || end > c.numPoints() {
		return 0, 0, fmt.Errorf("figure %d point offset %d out of range", j, start)
	}
	return start, end, nil
}

func (c *clrGeometry) children(i int) []int {
	var out []int
	for j := i + 1; j < len(c.shapes); j++ {
		if int(c.shapes[j].ParentOffset) == i {
			out = append(out, j)
		}
	}
	return out
}

func (c *clrGeometry) build(i int) (geom.T, error) {
	fs, fe := c.figureRange(i)
	if fs > fe || fe > len(c.figures) {
		return nil, fmt.Errorf("shape %d figure offset out of range", i)
	}

	switch c.shapes[i].Type {
	case clrShapePoint:
		if fs == fe {
			return geom.NewPointEmpty(c.layout), nil
		}
		ps, pe, err := c.pointRange(fs)
		if err != nil {
			return nil, err
		}
		if pe-ps != 1 {
			return nil, fmt.Errorf("point shape with %d points", pe-ps)
		}
		return geom.NewPointFlat(c.layout, c.flat(ps, pe)), nil
	case clrShapeLineString:
		if fs == fe {
			return geom.NewLineString(c.layout), nil
		}
		ps, pe, err := c.pointRange(fs)
		if err != nil {
			return nil, err
		}
		return geom.NewLineStringFlat(c.layout, c.flat(ps, pe)), nil
	case clrShapePolygon:
		var (
			flat []float64
			ends []int
		)
		for j := fs; j < fe; j++ {
			ps, pe, err := c.pointRange(j)
			if err != nil {
				return nil, err
			}
			flat = append(flat, c.flat(ps, pe)...)
			ends = append(ends, len(flat))
		}
		return geom.NewPolygonFlat(c.layout, flat, ends), nil
	case clrShapeMultiPoint:
		mp := geom.NewMultiPoint(c.layout)
		for _, j := range c.children(i) {
			child, err := c.build(j)
			if err != nil {
				return nil, err
			}
			p, ok := child.(*geom.Point)
			if !ok {
				return nil, fmt.Errorf("multipoint member is %T", child)
			}
			if err := mp.Push(p); err != nil {
				return nil, err
			}
		}
		return mp, nil
	case clrShapeMultiLineString:
		ml := geom.NewMultiLineString(c.layout)
		for _, j := range c.children(i) {
			child, err := c.build(j)
			if err != nil {
				return nil, err
			}
			l, ok := child.(*geom.LineString)
			if !ok {
				return nil, fmt.Errorf("multilinestring member is %T", child)
			}
			if err := ml.Push(l); err != nil {
				return nil, err
			}
		}
		return ml, nil
	case clrShapeMultiPolygon:
		mp := geom.NewMultiPolygon(c.layout)
		for _, j := range c.children(i) {
			child, err := c.build(j)
			if err != nil {
				return nil, err
			}
			p, ok := child.(*geom.Polygon)
			if !ok {
				return nil, fmt.Errorf("multipolygon member is %T", child)
			}
			if err := mp.Push(p); err != nil {
				return nil, err
			}
		}
		return mp, nil
	case clrShapeGeometryCollection:
		gc := geom.NewGeometryCollection()
		for _, j := range c.children(i) {
			child, err := c.build(j)
			if err != nil {
				return nil, err
			}
			if err := gc.Push(child); err != nil {
				return nil, err
			}
		}
		return gc, nil
	default:
		return nil, fmt.Errorf("unsupported shape type %d", c.shapes[i].Type)
	}
}
