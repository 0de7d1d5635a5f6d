package model

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/census-viz/internal/failure"
	"github.com/sells-group/census-viz/internal/fips"
)

// Dataset is the joined collection for one (state, year). Records are sorted
// by ID. Treat it as immutable once built.
type Dataset struct {
	StateFIPS       string
	Year            int
	BoundaryVintage int
	Records         []JoinedRecord
}

// Stamp sets the provenance of the dataset.
func (d *Dataset) Stamp(state string, year, vintage int) {
	d.StateFIPS = state
	d.Year = year
	d.BoundaryVintage = vintage
}

// Len returns the number of records.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Records)
}

// Attributes returns the union of attribute names across records, sorted.
func (d *Dataset) Attributes() []string {
	seen := make(map[string]struct{})
	for _, r := range d.Records {
		for k := range r.Values {
			seen[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// SortRecords orders records by ID.
func (d *Dataset) SortRecords() {
	sort.Slice(d.Records, func(i, j int) bool {
		return d.Records[i].ID.Less(d.Records[j].ID)
	})
}

// YearRange is an inclusive range of supported data years.
type YearRange struct {
	Min int `mapstructure:"min"`
	Max int `mapstructure:"max"`
}

// Contains reports whether year is inside the range.
func (r YearRange) Contains(year int) bool {
	return year >= r.Min && year <= r.Max
}

func (r YearRange) String() string {
	return fmt.Sprintf("%d-%d", r.Min, r.Max)
}

// CheckYear returns an UnsupportedYear failure when year is out of range.
func (r YearRange) CheckYear(year int) error {
	if !r.Contains(year) {
		return failure.New(failure.UnsupportedYear, "year %d outside supported range %s", year, r)
	}
	return nil
}

// ParseYearRange parses "2013-2023".
func ParseYearRange(s string) (YearRange, error) {
	lo, hi, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return YearRange{}, eris.Errorf("model: year range %q: want MIN-MAX", s)
	}
	minY, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return YearRange{}, eris.Wrapf(err, "model: year range %q", s)
	}
	maxY, err := strconv.Atoi(strings.TrimSpace(hi))
	if err != nil {
		return YearRange{}, eris.Wrapf(err, "model: year range %q", s)
	}
	if minY > maxY {
		return YearRange{}, eris.Errorf("model: year range %q: min after max", s)
	}
	return YearRange{Min: minY, Max: maxY}, nil
}

// CheckState resolves a two-digit state code against the directory and
// returns an InvalidState failure when it is unknown.
func CheckState(code string) (fips.State, error) {
	s, ok := fips.Lookup(code)
	if !ok {
		return fips.State{}, failure.New(failure.InvalidState, "unknown state code %q", code)
	}
	return s, nil
}
