// Package geoid defines the block-group identifier shared by the statistics
// and boundary datasets. Both sources build IDs through New, so the two sides
// of a join always agree on format.
package geoid

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Component widths of a block-group GEOID.
const (
	stateLen  = 2
	countyLen = 3
	tractLen  = 6
	bgLen     = 1

	// Len is the length of the 12-digit text form.
	Len = stateLen + countyLen + tractLen + bgLen
)

// ErrInvalid is returned for malformed identifiers.
var ErrInvalid = eris.New("geoid: invalid block group identifier")

// ID identifies one census block group. The zero value is not a valid ID.
// IDs are comparable and safe to use as map keys.
type ID struct {
	state  string
	county string
	tract  string
	bg     string
}

// New validates the four components and returns the ID. Every component must
// be all digits at its exact width: state 2, county 3, tract 6, block group 1.
func New(state, county, tract, blockGroup string) (ID, error) {
	id := ID{
		state:  strings.TrimSpace(state),
		county: strings.TrimSpace(county),
		tract:  strings.TrimSpace(tract),
		bg:     strings.TrimSpace(blockGroup),
	}
	if err := checkDigits("state", id.state, stateLen); err != nil {
		return ID{}, err
	}
	if err := checkDigits("county", id.county, countyLen); err != nil {
		return ID{}, err
	}
	if err := checkDigits("tract", id.tract, tractLen); err != nil {
		return ID{}, err
	}
	if err := checkDigits("block group", id.bg, bgLen); err != nil {
		return ID{}, err
	}
	return id, nil
}

// Parse splits a 12-digit GEOID (as published in TIGER/Line attributes) and
// validates it through New.
func Parse(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if len(s) != Len {
		return ID{}, eris.Wrapf(ErrInvalid, "want %d digits, got %q", Len, s)
	}
	return New(
		s[:stateLen],
		s[stateLen:stateLen+countyLen],
		s[stateLen+countyLen:stateLen+countyLen+tractLen],
		s[Len-bgLen:],
	)
}

// MustParse is Parse for constants in tests and tables. It panics on error.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

func checkDigits(name, v string, width int) error {
	if len(v) != width {
		return eris.Wrapf(ErrInvalid, "%s %q: want %d digits", name, v, width)
	}
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return eris.Wrapf(ErrInvalid, "%s %q: non-digit", name, v)
		}
	}
	return nil
}

// State returns the 2-digit state FIPS code.
func (id ID) State() string { return id.state }

// County returns the 3-digit county code.
func (id ID) County() string { return id.county }

// Tract returns the 6-digit tract code.
func (id ID) Tract() string { return id.tract }

// BlockGroup returns the 1-digit block group code.
func (id ID) BlockGroup() string { return id.bg }

// CountyFIPS returns the 5-digit state+county code.
func (id ID) CountyFIPS() string { return id.state + id.county }

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool { return id == ID{} }

// String returns the 12-digit GEOID.
func (id ID) String() string {
	return id.state + id.county + id.tract + id.bg
}

// Compare orders IDs by state, county, tract, then block group. Components
// are fixed width, so lexicographic order matches numeric order.
func (id ID) Compare(other ID) int {
	for _, p := range [][2]string{
		{id.state, other.state},
		{id.county, other.county},
		{id.tract, other.tract},
		{id.bg, other.bg},
	} {
		if c := strings.Compare(p[0], p[1]); c != 0 {
			return c
		}
	}
	return 0
}

// Less reports whether id sorts before other.
func (id ID) Less(other ID) bool { return id.Compare(other) < 0 }

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	if id.IsZero() {
		return nil, eris.Wrap(ErrInvalid, "marshal zero id")
	}
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
