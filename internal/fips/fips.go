// Package fips is a static directory of US state and territory FIPS codes with
// case-insensitive partial-name lookup.
package fips

import (
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
)

// State is one directory entry.
type State struct {
	Name string `json:"name"`
	Abbr string `json:"abbr"`
	FIPS string `json:"fips"`
}

// states is ordered alphabetically by name; Resolve relies on that order.
var states = []State{
	{"Alabama", "AL", "01"},
	{"Alaska", "AK", "02"},
	{"American Samoa", "AS", "60"},
	{"Arizona", "AZ", "04"},
	{"Arkansas", "AR", "05"},
	{"California", "CA", "06"},
	{"Colorado", "CO", "08"},
	{"Connecticut", "CT", "09"},
	{"Delaware", "DE", "10"},
	{"District of Columbia", "DC", "11"},
	{"Florida", "FL", "12"},
	{"Georgia", "GA", "13"},
	{"Guam", "GU", "66"},
	{"Hawaii", "HI", "15"},
	{"Idaho", "ID", "16"},
	{"Illinois", "IL", "17"},
	{"Indiana", "IN", "18"},
	{"Iowa", "IA", "19"},
	{"Kansas", "KS", "20"},
	{"Kentucky", "KY", "21"},
	{"Louisiana", "LA", "22"},
	{"Maine", "ME", "23"},
	{"Maryland", "MD", "24"},
	{"Massachusetts", "MA", "25"},
	{"Michigan", "MI", "26"},
	{"Minnesota", "MN", "27"},
	{"Mississippi", "MS", "28"},
	{"Missouri", "MO", "29"},
	{"Montana", "MT", "30"},
	{"Nebraska", "NE", "31"},
	{"Nevada", "NV", "32"},
	{"New Hampshire", "NH", "33"},
	{"New Jersey", "NJ", "34"},
	{"New Mexico", "NM", "35"},
	{"New York", "NY", "36"},
	{"North Carolina", "NC", "37"},
	{"North Dakota", "ND", "38"},
	{"Northern Mariana Islands", "MP", "69"},
	{"Ohio", "OH", "39"},
	{"Oklahoma", "OK", "40"},
	{"Oregon", "OR", "41"},
	{"Pennsylvania", "PA", "42"},
	{"Puerto Rico", "PR", "72"},
	{"Rhode Island", "RI", "44"},
	{"South Carolina", "SC", "45"},
	{"South Dakota", "SD", "46"},
	{"Tennessee", "TN", "47"},
	{"Texas", "TX", "48"},
	{"U.S. Virgin Islands", "VI", "78"},
	{"Utah", "UT", "49"},
	{"Vermont", "VT", "50"},
	{"Virginia", "VA", "51"},
	{"Washington", "WA", "53"},
	{"West Virginia", "WV", "54"},
	{"Wisconsin", "WI", "55"},
	{"Wyoming", "WY", "56"},
}

var (
	byFIPS = make(map[string]State, len(states))
	byAbbr = make(map[string]State, len(states))
	fold   = cases.Fold()
)

func init() {
	for _, s := range states {
		byFIPS[s.FIPS] = s
		byAbbr[s.Abbr] = s
	}
}

// All returns every entry ordered by name.
func All() []State {
	out := make([]State, len(states))
	copy(out, states)
	return out
}

// Resolve returns every entry whose name or abbreviation contains query,
// case-insensitively, ordered by name. An empty result means no match.
func Resolve(query string) []State {
	q := fold.String(strings.TrimSpace(query))
	if q == "" {
		return nil
	}

	var out []State
	for _, s := range states {
		if strings.Contains(fold.String(s.Name), q) || strings.Contains(fold.String(s.Abbr), q) {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup returns the entry for a two-digit FIPS code.
func Lookup(code string) (State, bool) {
	s, ok := byFIPS[code]
	return s, ok
}

// ByAbbr returns the entry for a postal abbreviation (case-insensitive).
func ByAbbr(abbr string) (State, bool) {
	s, ok := byAbbr[strings.ToUpper(strings.TrimSpace(abbr))]
	return s, ok
}

// Normalize accepts a FIPS code ("6" or "06"), a postal abbreviation, or an
// exact state name and returns the matching entry.
func Normalize(input string) (State, bool) {
	in := strings.TrimSpace(input)
	if in == "" {
		return State{}, false
	}
	if n, err := strconv.Atoi(in); err == nil {
		if n < 0 || n > 99 {
			return State{}, false
		}
		return Lookup(padFIPS(n))
	}
	if s, ok := ByAbbr(in); ok {
		return s, true
	}
	q := fold.String(in)
	for _, s := range states {
		if fold.String(s.Name) == q {
			return s, true
		}
	}
	return State{}, false
}

func padFIPS(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}
