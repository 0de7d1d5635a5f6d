// Package viz turns a joined dataset into a choropleth layer: each block
// group's geometry paired with a color derived from one attribute. It does
// no I/O.
package viz

import (
	"math"

	"github.com/twpayne/go-geom"

	"github.com/sells-group/census-viz/internal/failure"
	"github.com/sells-group/census-viz/internal/geoid"
	"github.com/sells-group/census-viz/internal/model"
)

// ScaleOptions configures the color scale. Zero values take defaults.
type ScaleOptions struct {
	Palette   []string
	NullColor string
	// Min and Max override the data range.
	Min, Max *float64
	// Clamp colors values outside an overridden range with the end colors.
	// Without it they are drawn as null.
	Clamp bool
}

// Feature is one colored block group.
type Feature struct {
	ID       geoid.ID
	Name     string
	Geometry *geom.MultiPolygon
	// Value is nil when the attribute is null or missing for this record.
	Value *float64
	Color string
	// Intensity is the position on the scale in [0, 1]; nil for nulls.
	Intensity *float64
}

// Layer is a renderable choropleth.
type Layer struct {
	Attribute string
	Min, Max  float64
	Palette   []string
	NullColor string
	Bounds    *geom.Bounds
	Features  []Feature

	scale *Scale
}

// Stop is one legend entry.
type Stop struct {
	Value float64
	Color string
}

// Build colors every record of ds by attribute.
func Build(ds *model.Dataset, attribute string, opts ScaleOptions) (*Layer, error) {
	if ds == nil {
		ds = &model.Dataset{}
	}
	if len(opts.Palette) == 0 {
		opts.Palette = DefaultPalette
	}
	if opts.NullColor == "" {
		opts.NullColor = DefaultNullColor
	}
	if _, err := parseHex(opts.NullColor); err != nil {
		return nil, err
	}

	found := false
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, r := range ds.Records {
		if !r.Values.Has(attribute) {
			continue
		}
		found = true
		if v, ok := r.Values.Get(attribute); ok {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	if !found {
		return nil, failure.New(failure.UnknownAttribute, "no record carries attribute %q", attribute)
	}
	if math.IsInf(lo, 1) {
		return nil, failure.New(failure.NoRenderableData, "every value of %q is null", attribute)
	}
	if opts.Min != nil {
		lo = *opts.Min
	}
	if opts.Max != nil {
		hi = *opts.Max
	}

	scale, err := NewScale(opts.Palette, lo, hi)
	if err != nil {
		return nil, err
	}

	layer := &Layer{
		Attribute: attribute,
		Min:       lo,
		Max:       hi,
		Palette:   append([]string(nil), opts.Palette...),
		NullColor: opts.NullColor,
		Bounds:    geom.NewBounds(geom.XY),
		Features:  make([]Feature, 0, len(ds.Records)),
		scale:     scale,
	}
	for _, r := range ds.Records {
		f := Feature{ID: r.ID, Name: r.Name, Geometry: r.Geometry, Color: opts.NullColor}
		if v, ok := r.Values.Get(attribute); ok {
			f.Value = model.Float(v)
			if opts.Clamp || scale.InRange(v) {
				f.Color = scale.Color(v)
				f.Intensity = model.Float(scale.Intensity(v))
			}
		}
		if r.Geometry != nil {
			layer.Bounds.Extend(r.Geometry)
		}
		layer.Features = append(layer.Features, f)
	}
	return layer, nil
}

// Legend returns n evenly spaced stops from Min to Max. n below 2 is
// treated as 2. Returns nil when the layer's palette is unusable.
func (l *Layer) Legend(n int) []Stop {
	if n < 2 {
		n = 2
	}
	scale := l.scale
	if scale == nil {
		var err error
		if scale, err = NewScale(l.Palette, l.Min, l.Max); err != nil {
			return nil
		}
	}
	stops := make([]Stop, n)
	for i := range stops {
		v := l.Min + (l.Max-l.Min)*float64(i)/float64(n-1)
		stops[i] = Stop{Value: v, Color: scale.Color(v)}
	}
	return stops
}
