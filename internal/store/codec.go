package store

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/sells-group/census-viz/internal/geoid"
	"github.com/sells-group/census-viz/internal/model"
)

// SRID of stored geometries. TIGER/Line and cartographic boundary files
// are NAD83 longitude-latitude and are stored without reprojection.
const SRID = 4269

// blockGroupColumns is the column order of block_groups rows.
var blockGroupColumns = []string{
	"geoid", "year", "state", "boundary_vintage", "name", "resolution",
	"land_area", "water_area", "attributes", "geom",
}

// bgRow is one encoded block_groups row.
type bgRow struct {
	GeoID      string
	Name       string
	Resolution string
	LandArea   float64
	WaterArea  float64
	Attributes []byte
	Geom       []byte
}

func encodeRecords(ds *model.Dataset) ([]bgRow, error) {
	if ds == nil {
		return nil, eris.New("store: nil dataset")
	}
	rows := make([]bgRow, 0, len(ds.Records))
	for _, r := range ds.Records {
		g, err := encodeGeom(r.Geometry)
		if err != nil {
			return nil, eris.Wrapf(err, "store: block group %s", r.ID)
		}
		attrs, err := json.Marshal(r.Values)
		if err != nil {
			return nil, eris.Wrapf(err, "store: marshal attributes %s", r.ID)
		}
		rows = append(rows, bgRow{
			GeoID:      r.ID.String(),
			Name:       r.Name,
			Resolution: string(r.Resolution),
			LandArea:   r.LandArea,
			WaterArea:  r.WaterArea,
			Attributes: attrs,
			Geom:       g,
		})
	}
	return rows, nil
}

// values returns the row in blockGroupColumns order.
func (b bgRow) values(ds *model.Dataset) []any {
	return []any{
		b.GeoID, ds.Year, ds.StateFIPS, ds.BoundaryVintage, b.Name, b.Resolution,
		b.LandArea, b.WaterArea, b.Attributes, b.Geom,
	}
}

func (b bgRow) decode() (model.JoinedRecord, error) {
	id, err := geoid.Parse(b.GeoID)
	if err != nil {
		return model.JoinedRecord{}, err
	}
	rec := model.JoinedRecord{
		ID:         id,
		Name:       b.Name,
		Resolution: model.Resolution(b.Resolution),
		LandArea:   b.LandArea,
		WaterArea:  b.WaterArea,
	}
	if err := json.Unmarshal(b.Attributes, &rec.Values); err != nil {
		return rec, eris.Wrapf(err, "store: unmarshal attributes %s", id)
	}
	if rec.Values == nil {
		rec.Values = model.Values{}
	}
	rec.Geometry, err = decodeGeom(b.Geom)
	if err != nil {
		return rec, eris.Wrapf(err, "store: block group %s", id)
	}
	return rec, nil
}

// encodeGeom writes mp as little-endian EWKB tagged with SRID.
func encodeGeom(mp *geom.MultiPolygon) ([]byte, error) {
	if mp == nil || mp.Empty() {
		return nil, eris.New("empty geometry")
	}
	g := geom.NewMultiPolygonFlat(mp.Layout(), mp.FlatCoords(), mp.Endss()).SetSRID(SRID)
	data, err := ewkb.Marshal(g, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "encode EWKB")
	}
	return data, nil
}

// decodeGeom reads EWKB into an SRID-less MultiPolygon, promoting a Polygon.
func decodeGeom(data []byte) (*geom.MultiPolygon, error) {
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "decode EWKB")
	}
	var coords [][][]geom.Coord
	switch t := g.(type) {
	case *geom.MultiPolygon:
		coords = t.Coords()
	case *geom.Polygon:
		coords = [][][]geom.Coord{t.Coords()}
	default:
		return nil, eris.Errorf("unsupported geometry %T", g)
	}
	mp, err := geom.NewMultiPolygon(geom.XY).SetCoords(coords)
	if err != nil {
		return nil, eris.Wrap(err, "rebuild geometry")
	}
	return mp, nil
}
