package geojson

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	gj "github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/census-viz/internal/viz"
)

// LegendStops is the number of legend entries written with a layer.
const LegendStops = 8

type legendStop struct {
	Value float64 `json:"value"`
	Color string  `json:"color"`
}

type layerCollection struct {
	Type      string        `json:"type"`
	BBox      []float64     `json:"bbox,omitempty"`
	Attribute string        `json:"attribute"`
	Min       float64       `json:"min"`
	Max       float64       `json:"max"`
	Palette   []string      `json:"palette"`
	NullColor string        `json:"null_color"`
	Legend    []legendStop  `json:"legend"`
	Features  []*gj.Feature `json:"features"`
}

// MarshalLayer encodes a choropleth layer. Each feature carries its value,
// fill color and scale intensity; the collection carries the scale.
func MarshalLayer(l *viz.Layer) ([]byte, error) {
	if l == nil {
		return nil, eris.New("geojson: nil layer")
	}
	fc := layerCollection{
		Type:      "FeatureCollection",
		Attribute: l.Attribute,
		Min:       l.Min,
		Max:       l.Max,
		Palette:   l.Palette,
		NullColor: l.NullColor,
		Features:  make([]*gj.Feature, 0, len(l.Features)),
	}
	if l.Bounds != nil && !l.Bounds.IsEmpty() {
		fc.BBox = []float64{l.Bounds.Min(0), l.Bounds.Min(1), l.Bounds.Max(0), l.Bounds.Max(1)}
	}
	for _, s := range l.Legend(LegendStops) {
		fc.Legend = append(fc.Legend, legendStop{Value: s.Value, Color: s.Color})
	}
	for _, f := range l.Features {
		if f.Geometry == nil {
			return nil, eris.Errorf("geojson: feature %s has no geometry", f.ID)
		}
		fc.Features = append(fc.Features, &gj.Feature{
			ID:       f.ID.String(),
			Geometry: f.Geometry,
			Properties: map[string]any{
				PropGeoID:   f.ID.String(),
				PropName:    f.Name,
				"value":     f.Value,
				"fillColor": f.Color,
				"intensity": f.Intensity,
			},
		})
	}

	b, err := json.Marshal(&fc)
	if err != nil {
		return nil, eris.Wrap(err, "geojson: marshal layer")
	}
	return append(b, '\n'), nil
}
