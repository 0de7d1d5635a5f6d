package tiger

import (
	"context"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/census-viz/internal/failure"
	"github.com/sells-group/census-viz/internal/geoid"
	"github.com/sells-group/census-viz/internal/model"
)

// Attribute names tried in order. Decennial vintages suffix them with the
// census year.
var (
	geoidFields  = []string{"geoid", "geoid20", "geoid10"}
	alandFields  = []string{"aland", "aland20", "aland10"}
	awaterFields = []string{"awater", "awater20", "awater10"}
)

// handlerError carries an error returned by the caller's record handler so it
// is passed back untouched.
type handlerError struct{ err error }

func (e *handlerError) Error() string { return e.err.Error() }
func (e *handlerError) Unwrap() error { return e.err }

// ReadShapefile streams the block groups of a shapefile to fn, one record at a
// time. Records with an invalid GEOID or no usable geometry are skipped.
// Returns the number of records handed to fn and the number skipped.
func ReadShapefile(ctx context.Context, shpPath string, res model.Resolution, fn func(model.BoundaryRecord) error) (int, int, error) {
	reader, err := shp.Open(shpPath)
	if err != nil {
		return 0, 0, eris.Wrapf(err, "tiger: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	// Build field name → index map.
	fieldIdx := make(map[string]int)
	for i, f := range reader.Fields() {
		name := strings.TrimRight(f.String(), "\x00")
		fieldIdx[strings.ToLower(strings.TrimSpace(name))] = i
	}
	idIdx, ok := firstField(fieldIdx, geoidFields)
	if !ok {
		return 0, 0, failure.New(failure.GeometrySourceUnavailable, "shapefile %s has no GEOID attribute", shpPath)
	}
	landIdx, hasLand := firstField(fieldIdx, alandFields)
	waterIdx, hasWater := firstField(fieldIdx, awaterFields)

	var read, skipped int
	for reader.Next() {
		if err := ctx.Err(); err != nil {
			return read, skipped, err
		}
		_, shape := reader.Shape()

		id, err := geoid.Parse(attribute(reader, idIdx))
		if err != nil {
			skipped++
			continue
		}
		poly, ok := shape.(*shp.Polygon)
		if !ok {
			skipped++
			continue
		}
		mp, err := ToMultiPolygon(poly)
		if err != nil || mp == nil || mp.NumPolygons() == 0 {
			skipped++
			continue
		}

		rec := model.BoundaryRecord{ID: id, Geometry: mp, Resolution: res}
		if hasLand {
			rec.LandArea = parseArea(attribute(reader, landIdx))
		}
		if hasWater {
			rec.WaterArea = parseArea(attribute(reader, waterIdx))
		}
		if err := fn(rec); err != nil {
			return read, skipped, &handlerError{err: err}
		}
		read++
	}
	if err := reader.Err(); err != nil {
		return read, skipped, failure.Wrap(failure.GeometrySourceUnavailable, err, "read shapefile %s", shpPath)
	}

	if skipped > 0 {
		zap.L().Debug("tiger: skipped shapefile records",
			zap.String("path", shpPath),
			zap.Int("skipped", skipped),
		)
	}
	return read, skipped, nil
}

func firstField(idx map[string]int, names []string) (int, bool) {
	for _, n := range names {
		if i, ok := idx[n]; ok {
			return i, true
		}
	}
	return 0, false
}

func attribute(r *shp.Reader, i int) string {
	return strings.TrimSpace(strings.TrimRight(r.Attribute(i), "\x00"))
}

func parseArea(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
