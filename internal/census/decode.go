package census

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// table is one decoded API response: a header row and data rows, every cell
// as text. JSON null cells decode to "".
type table struct {
	header []string
	index  map[string]int
	rows   [][]string
}

func (t *table) col(name string) (int, bool) {
	i, ok := t.index[name]
	return i, ok
}

// decodeTable reads the API's array-of-arrays body one row at a time. An
// empty body is an empty table.
func decodeTable(ctx context.Context, r io.Reader) (*table, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return &table{}, nil
		}
		return nil, eris.Wrap(err, "census: read opening token")
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return nil, eris.Errorf("census: expected '[', got %v", tok)
	}

	t := &table{}
	for dec.More() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var raw []any
		if err := dec.Decode(&raw); err != nil {
			return nil, eris.Wrap(err, "census: decode row")
		}
		row := make([]string, len(raw))
		for i, v := range raw {
			row[i] = cellText(v)
		}
		if t.header == nil {
			t.header = row
			t.index = make(map[string]int, len(row))
			for i, name := range row {
				t.index[name] = i
			}
			continue
		}
		if len(row) != len(t.header) {
			return nil, eris.Errorf("census: row has %d cells, header has %d", len(row), len(t.header))
		}
		t.rows = append(t.rows, row)
	}

	if _, err := dec.Token(); err != nil && !errors.Is(err, io.EOF) {
		return nil, eris.Wrap(err, "census: read closing token")
	}
	return t, nil
}

func cellText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// Annotation values the ACS publishes in place of an estimate (too few
// samples, not applicable, and so on).
var annotations = map[float64]bool{
	-111111111: true,
	-222222222: true,
	-333333333: true,
	-555555555: true,
	-666666666: true,
	-888888888: true,
	-999999999: true,
}

// parseValue converts one cell to a value. Blank, null-like and annotation
// cells are nil.
func parseValue(s string) *float64 {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "null", "none", "nan":
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || annotations[f] {
		return nil
	}
	return &f
}
