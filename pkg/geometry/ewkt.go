package geometry

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"
)

const sridPrefix = "SRID="

// WKT renders g with the given output dimension (2 or 3). A 2 dimension output drops Z and M,
// a 3 dimension output keeps Z and drops M.
func WKT(g geom.T, dim int) (string, error) {
	layout := geom.XY
	if dim == 3 {
		layout = geom.XYZ
	}

	forced, err := ForceLayout(g, layout)
	if err != nil {
		return "", err
	}

	s, err := wkt.Marshal(forced)
	if err != nil {
		return "", fmt.Errorf("failed to write wkt: %w", err)
	}

	return s, nil
}

// EWKT renders g as WKT using its own coordinate dimension, prefixed with SRID=<n>; when the
// SRID is positive.
func EWKT(g geom.T) (string, error) {
	s, err := WKT(g, CoordinateDimension(g))
	if err != nil {
		return "", err
	}

	if HasSRID(g) {
		s = sridPrefix + strconv.Itoa(g.SRID()) + ";" + s
	}

	return s, nil
}

// ParseWKT reads plain WKT.
func ParseWKT(s string) (geom.T, error) {
	g, err := wkt.Unmarshal(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("failed to read wkt %q: %w", s, err)
	}
	return g, nil
}

// ParseEWKT reads WKT with an optional SRID=<n>; prefix.
func ParseEWKT(s string) (geom.T, error) {
	s = strings.TrimSpace(s)

	srid := 0
	if len(s) >= len(sridPrefix) && strings.EqualFold(s[:len(sridPrefix)], sridPrefix) {
		semi := strings.IndexByte(s, ';')
		if semi < 0 {
			return nil, fmt.Errorf("missing ';' after SRID in %q", s)
		}
		n, err := strconv.Atoi(strings.TrimSpace(s[len(sridPrefix):semi]))
		if err != nil {
			return nil, fmt.Errorf("invalid SRID in %q: %w", s, err)
		}
		srid = n
		s = s[semi+1:]
	}

	g, err := ParseWKT(s)
	if err != nil {
		return nil, err
	}

	return WithSRID(g, srid)
}
