package tiger

import (
	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// ToMultiPolygon converts a shapefile polygon to a MultiPolygon. Shapefile
// outer rings run clockwise and holes counter-clockwise; each hole is
// attached to the outer ring that contains it. The result follows RFC 7946
// winding: exteriors counter-clockwise, holes clockwise. Degenerate rings
// are dropped. Returns nil when no usable ring remains.
func ToMultiPolygon(p *shp.Polygon) (*geom.MultiPolygon, error) {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil, nil
	}

	var outers, holes [][]geom.Coord
	for _, ring := range splitRings(p) {
		switch a := signedArea(ring); {
		case a < 0:
			outers = append(outers, ring)
		case a > 0:
			holes = append(holes, ring)
		}
	}
	// Some producers ignore winding; then every ring is a polygon.
	if len(outers) == 0 {
		outers, holes = holes, nil
	}
	if len(outers) == 0 {
		return nil, nil
	}

	polys := make([][][]geom.Coord, len(outers))
	for i, o := range outers {
		polys[i] = [][]geom.Coord{wind(o, true)}
	}
	for _, h := range holes {
		owner := 0
		for i, o := range outers {
			if containsPoint(o, h[0]) {
				owner = i
				break
			}
		}
		polys[owner] = append(polys[owner], wind(h, false))
	}

	mp, err := geom.NewMultiPolygon(geom.XY).SetCoords(polys)
	if err != nil {
		return nil, eris.Wrap(err, "tiger: build multipolygon")
	}
	return mp, nil
}

// splitRings returns the closed rings of p with at least four points.
func splitRings(p *shp.Polygon) [][]geom.Coord {
	var rings [][]geom.Coord
	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		if start < 0 || start >= end || end > int32(len(p.Points)) {
			continue
		}

		ring := make([]geom.Coord, 0, end-start+1)
		for _, pt := range p.Points[start:end] {
			ring = append(ring, geom.Coord{pt.X, pt.Y})
		}
		first, last := ring[0], ring[len(ring)-1]
		if first[0] != last[0] || first[1] != last[1] {
			ring = append(ring, geom.Coord{first[0], first[1]})
		}
		if len(ring) < 4 {
			continue
		}
		rings = append(rings, ring)
	}
	return rings
}

// signedArea is the shoelace area: positive for counter-clockwise rings.
func signedArea(ring []geom.Coord) float64 {
	var sum float64
	for i := 0; i < len(ring)-1; i++ {
		sum += ring[i][0]*ring[i+1][1] - ring[i+1][0]*ring[i][1]
	}
	return sum / 2
}

// wind returns ring oriented counter-clockwise when ccw is set, clockwise
// otherwise. The ring is reversed in place.
func wind(ring []geom.Coord, ccw bool) []geom.Coord {
	if (signedArea(ring) > 0) == ccw {
		return ring
	}
	for i, j := 0, len(ring)-1; i < j; i, j = i+1, j-1 {
		ring[i], ring[j] = ring[j], ring[i]
	}
	return ring
}

// containsPoint is an even-odd ray cast.
func containsPoint(ring []geom.Coord, pt geom.Coord) bool {
	x, y := pt[0], pt[1]
	in := false
	for i, j := 0, len(ring)-1; i < len(ring); j, i = i, i+1 {
		xi, yi := ring[i][0], ring[i][1]
		xj, yj := ring[j][0], ring[j][1]
		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			in = !in
		}
	}
	return in
}
