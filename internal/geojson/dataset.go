// Package geojson serializes datasets and choropleth layers as GeoJSON
// FeatureCollections. Output is byte-stable: the same input always encodes
// to the same bytes.
package geojson

import (
	"encoding/json"
	"io"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	gj "github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/census-viz/internal/geoid"
	"github.com/sells-group/census-viz/internal/model"
)

// Feature property names written for every record. Attribute names must not
// collide with them.
const (
	PropGeoID      = "geoid"
	PropName       = "name"
	PropResolution = "resolution"
	PropLandArea   = "aland"
	PropWaterArea  = "awater"
)

var reserved = map[string]bool{
	PropGeoID:      true,
	PropName:       true,
	PropResolution: true,
	PropLandArea:   true,
	PropWaterArea:  true,
}

type datasetCollection struct {
	Type            string        `json:"type"`
	State           string        `json:"state"`
	Year            int           `json:"year"`
	BoundaryVintage int           `json:"boundary_vintage"`
	Features        []*gj.Feature `json:"features"`
}

// featureDoc is the decode side of a feature. The geometry is kept raw so
// null geometries are reported instead of decoded.
type featureDoc struct {
	Type       string          `json:"type"`
	ID         any             `json:"id"`
	Geometry   json.RawMessage `json:"geometry"`
	Properties map[string]any  `json:"properties"`
}

type datasetDoc struct {
	Type            string       `json:"type"`
	State           string       `json:"state"`
	Year            int          `json:"year"`
	BoundaryVintage int          `json:"boundary_vintage"`
	Features        []featureDoc `json:"features"`
}

// MarshalDataset encodes ds as a FeatureCollection with the dataset's
// provenance as foreign members.
func MarshalDataset(ds *model.Dataset) ([]byte, error) {
	if ds == nil {
		return nil, eris.New("geojson: nil dataset")
	}
	fc := datasetCollection{
		Type:            "FeatureCollection",
		State:           ds.StateFIPS,
		Year:            ds.Year,
		BoundaryVintage: ds.BoundaryVintage,
		Features:        make([]*gj.Feature, 0, len(ds.Records)),
	}
	for _, r := range ds.Records {
		if r.Geometry == nil {
			return nil, eris.Errorf("geojson: record %s has no geometry", r.ID)
		}
		props := make(map[string]any, len(r.Values)+len(reserved))
		for k, v := range r.Values {
			if reserved[k] {
				return nil, eris.Errorf("geojson: attribute %q collides with a reserved property", k)
			}
			props[k] = v
		}
		props[PropGeoID] = r.ID.String()
		props[PropName] = r.Name
		props[PropResolution] = string(r.Resolution)
		props[PropLandArea] = r.LandArea
		props[PropWaterArea] = r.WaterArea

		fc.Features = append(fc.Features, &gj.Feature{
			ID:         r.ID.String(),
			Geometry:   r.Geometry,
			Properties: props,
		})
	}

	b, err := json.Marshal(&fc)
	if err != nil {
		return nil, eris.Wrap(err, "geojson: marshal dataset")
	}
	return append(b, '\n'), nil
}

// DecodeDataset reads a dataset written by MarshalDataset. Records come back
// sorted by ID.
func DecodeDataset(r io.Reader) (*model.Dataset, error) {
	var doc datasetDoc
	dec := json.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, eris.Wrap(err, "geojson: decode dataset")
	}
	if doc.Type != "FeatureCollection" {
		return nil, eris.Errorf("geojson: want FeatureCollection, got %q", doc.Type)
	}

	ds := &model.Dataset{
		StateFIPS:       doc.State,
		Year:            doc.Year,
		BoundaryVintage: doc.BoundaryVintage,
		Records:         make([]model.JoinedRecord, 0, len(doc.Features)),
	}
	for i, f := range doc.Features {
		rec, err := decodeRecord(f)
		if err != nil {
			return nil, eris.Wrapf(err, "geojson: feature %d", i)
		}
		ds.Records = append(ds.Records, rec)
	}
	sort.SliceStable(ds.Records, func(i, j int) bool {
		return ds.Records[i].ID.Less(ds.Records[j].ID)
	})
	return ds, nil
}

func decodeRecord(f featureDoc) (model.JoinedRecord, error) {
	var rec model.JoinedRecord
	if f.Type != "Feature" {
		return rec, eris.Errorf("want Feature, got %q", f.Type)
	}

	rawID, _ := f.ID.(string)
	if rawID == "" {
		rawID, _ = f.Properties[PropGeoID].(string)
	}
	id, err := geoid.Parse(rawID)
	if err != nil {
		return rec, err
	}
	rec.ID = id

	rec.Geometry, err = decodeMultiPolygon(f.Geometry)
	if err != nil {
		return rec, eris.Wrapf(err, "block group %s", id)
	}

	values := make(model.Values)
	for k, v := range f.Properties {
		switch k {
		case PropGeoID:
		case PropName:
			rec.Name, _ = v.(string)
		case PropResolution:
			s, _ := v.(string)
			rec.Resolution = model.Resolution(s)
			if !rec.Resolution.Valid() {
				return rec, eris.Errorf("block group %s: unknown resolution %q", id, s)
			}
		case PropLandArea:
			rec.LandArea, _ = v.(float64)
		case PropWaterArea:
			rec.WaterArea, _ = v.(float64)
		default:
			switch n := v.(type) {
			case nil:
				values[k] = nil
			case float64:
				values[k] = model.Float(n)
			default:
				return rec, eris.Errorf("block group %s: attribute %q is not numeric", id, k)
			}
		}
	}
	rec.Values = values
	return rec, nil
}

func decodeMultiPolygon(raw json.RawMessage) (*geom.MultiPolygon, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, eris.New("missing geometry")
	}
	var g geom.T
	if err := gj.Unmarshal(raw, &g); err != nil {
		return nil, eris.Wrap(err, "decode geometry")
	}
	switch t := g.(type) {
	case *geom.MultiPolygon:
		return t, nil
	case *geom.Polygon:
		mp, err := geom.NewMultiPolygon(t.Layout()).SetCoords([][][]geom.Coord{t.Coords()})
		if err != nil {
			return nil, eris.Wrap(err, "promote polygon")
		}
		return mp, nil
	default:
		return nil, eris.Errorf("unsupported geometry %T", g)
	}
}
