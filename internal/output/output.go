// Package output writes datasets, choropleth layers and map pages to an
// output directory. Every write replaces the previous file atomically, so a
// re-run leaves byte-identical files behind.
package output

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/census-viz/internal/fips"
	"github.com/sells-group/census-viz/internal/geojson"
	"github.com/sells-group/census-viz/internal/model"
	"github.com/sells-group/census-viz/internal/viz"
)

//go:embed map.html.tmpl
var mapSource string

var mapTemplate = template.Must(template.New("map").Parse(mapSource))

// Writer writes files under Dir.
type Writer struct {
	Dir string
}

// NewWriter creates a Writer for dir.
func NewWriter(dir string) *Writer {
	return &Writer{Dir: dir}
}

// LayerFiles are the paths written for one layer.
type LayerFiles struct {
	GeoJSON string
	HTML    string
}

// DatasetPath returns {dir}/bg_{SS}_{YYYY}.geojson.
func (w *Writer) DatasetPath(state string, year int) string {
	return filepath.Join(w.Dir, fmt.Sprintf("bg_%s_%d.geojson", state, year))
}

// LayerPath returns {dir}/bg_{SS}_{YYYY}_{attribute}.geojson.
func (w *Writer) LayerPath(state string, year int, attribute string) string {
	return filepath.Join(w.Dir, fmt.Sprintf("bg_%s_%d_%s.geojson", state, year, safeName(attribute)))
}

// WriteDataset writes ds and returns the path.
func (w *Writer) WriteDataset(ds *model.Dataset) (string, error) {
	b, err := geojson.MarshalDataset(ds)
	if err != nil {
		return "", err
	}
	path := w.DatasetPath(ds.StateFIPS, ds.Year)
	if err := writeFile(path, b); err != nil {
		return "", err
	}
	zap.L().Info("wrote dataset",
		zap.String("component", "output"),
		zap.String("path", path),
		zap.Int("records", ds.Len()),
		zap.Int("bytes", len(b)),
	)
	return path, nil
}

// WriteLayer writes the layer GeoJSON and an HTML map page next to it. ds
// supplies the state and year for the file names.
func (w *Writer) WriteLayer(ds *model.Dataset, layer *viz.Layer) (LayerFiles, error) {
	if ds == nil || layer == nil {
		return LayerFiles{}, eris.New("output: nil dataset or layer")
	}
	b, err := geojson.MarshalLayer(layer)
	if err != nil {
		return LayerFiles{}, err
	}
	page, err := renderMap(ds, layer, b)
	if err != nil {
		return LayerFiles{}, err
	}

	files := LayerFiles{GeoJSON: w.LayerPath(ds.StateFIPS, ds.Year, layer.Attribute)}
	files.HTML = strings.TrimSuffix(files.GeoJSON, ".geojson") + ".html"
	if err := writeFile(files.GeoJSON, b); err != nil {
		return LayerFiles{}, err
	}
	if err := writeFile(files.HTML, page); err != nil {
		return LayerFiles{}, err
	}
	zap.L().Info("wrote layer",
		zap.String("component", "output"),
		zap.String("attribute", layer.Attribute),
		zap.String("geojson", files.GeoJSON),
		zap.String("html", files.HTML),
	)
	return files, nil
}

// ReadDataset loads a dataset written by WriteDataset.
func ReadDataset(path string) (*model.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "output: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	ds, err := geojson.DecodeDataset(f)
	if err != nil {
		return nil, eris.Wrapf(err, "output: read %s", path)
	}
	return ds, nil
}

func renderMap(ds *model.Dataset, layer *viz.Layer, layerJSON []byte) ([]byte, error) {
	place := ds.StateFIPS
	if s, ok := fips.Lookup(ds.StateFIPS); ok {
		place = s.Name
	}
	title := fmt.Sprintf("%s by block group, %s %d", layer.Attribute, place, ds.Year)

	var buf bytes.Buffer
	err := mapTemplate.Execute(&buf, struct {
		Title   string
		Caption string
		Layer   template.JS
	}{
		Title:   title,
		Caption: layer.Attribute,
		// MarshalLayer escapes <, > and & so the document is safe inline.
		Layer: template.JS(bytes.TrimSpace(layerJSON)),
	})
	if err != nil {
		return nil, eris.Wrap(err, "output: render map")
	}
	return buf.Bytes(), nil
}

// writeFile replaces path with data through a temp file in the same directory.
func writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "output: create dir %s", dir)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return eris.Wrap(err, "output: create temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck,gosec
		return eris.Wrapf(err, "output: write %s", path)
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrapf(err, "output: close %s", path)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return eris.Wrapf(err, "output: chmod %s", path)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return eris.Wrapf(err, "output: rename %s", path)
	}
	return nil
}

// safeName keeps letters, digits, '-' and '_' so an attribute can be used in
// a file name.
func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
