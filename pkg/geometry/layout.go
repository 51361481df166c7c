package geometry

import (
	"fmt"

	"github.com/twpayne/go-geom"
)

// ForceLayout returns g with its coordinates re-strided to layout. Ordinates missing in the
// source are filled with 0, ordinates missing in the target are dropped. SRID is kept.
func ForceLayout(g geom.T, layout geom.Layout) (geom.T, error) {
	if g.Layout() == layout {
		return g, nil
	}

	if gc, ok := g.(*geom.GeometryCollection); ok {
		out := geom.NewGeometryCollection()
		for _, child := range gc.Geoms() {
			c, err := ForceLayout(child, layout)
			if err != nil {
				return nil, err
			}
			if err := out.Push(c); err != nil {
				return nil, fmt.Errorf("failed to push collection member: %w", err)
			}
		}
		return out.SetSRID(gc.SRID()), nil
	}

	src := g.Layout()
	flat := restride(g.FlatCoords(), src, layout)

	var out geom.T
	switch g := g.(type) {
	case *geom.Point:
		if len(flat) == 0 {
			out = geom.NewPointEmpty(layout)
		} else {
			out = geom.NewPointFlat(layout, flat)
		}
	case *geom.LineString:
		out = geom.NewLineStringFlat(layout, flat)
	case *geom.Polygon:
		out = geom.NewPolygonFlat(layout, flat, scaleEnds(g.Ends(), src.Stride(), layout.Stride()))
	case *geom.MultiPoint:
		ends := scaleEnds(g.Ends(), src.Stride(), layout.Stride())
		out = geom.NewMultiPointFlat(layout, flat, geom.NewMultiPointFlatOptionWithEnds(ends))
	case *geom.MultiLineString:
		out = geom.NewMultiLineStringFlat(layout, flat, scaleEnds(g.Ends(), src.Stride(), layout.Stride()))
	case *geom.MultiPolygon:
		endss := make([][]int, len(g.Endss()))
		for i, ends := range g.Endss() {
			endss[i] = scaleEnds(ends, src.Stride(), layout.Stride())
		}
		out = geom.NewMultiPolygonFlat(layout, flat, endss)
	default:
		return nil, fmt.Errorf("unsupported geometry %T", g)
	}

	return WithSRID(out, g.SRID())
}

func restride(flat []float64, src, dst geom.Layout) []float64 {
	srcStride := src.Stride()
	dstStride := dst.Stride()
	n := len(flat) / srcStride
	out := make([]float64, n*dstStride)

	for i := range n {
		s := flat[i*srcStride : (i+1)*srcStride]
		d := out[i*dstStride : (i+1)*dstStride]
		d[0], d[1] = s[0], s[1]
		if zi := dst.ZIndex(); zi != -1 && src.ZIndex() != -1 {
			d[zi] = s[src.ZIndex()]
		}
		if mi := dst.MIndex(); mi != -1 && src.MIndex() != -1 {
			d[mi] = s[src.MIndex()]
		}
	}

	return out
}

func scaleEnds(ends []int, srcStride, dstStride int) []int {
	out := make([]int, len(ends))
	for i, end := range ends {
		out[i] = end / srcStride * dstStride
	}
	return out
}
