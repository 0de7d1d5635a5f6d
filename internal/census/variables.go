package census

import (
	"strings"

	"github.com/sells-group/census-viz/internal/model"
)

// ACS table B01001 (sex by age) and B19013 (median household income).
const (
	VarTotalPopulation = "B01001_001E"
	VarMaleUnder5      = "B01001_003E"
	VarMale5to9        = "B01001_004E"
	VarMale10to14      = "B01001_005E"
	VarMale15to17      = "B01001_006E"
	VarFemaleUnder5    = "B01001_027E"
	VarFemale5to9      = "B01001_028E"
	VarFemale10to14    = "B01001_029E"
	VarFemale15to17    = "B01001_030E"
	VarMedianIncome    = "B19013_001E"
)

// Derived attribute names added by Derive.
const (
	AttrTotalPopulation = "total_population"
	AttrUnder5          = "under_5"
	AttrAge5to9         = "age_5_to_9"
	AttrAge10to14       = "age_10_to_14"
	AttrAge15to17       = "age_15_to_17"
	AttrUnder18         = "under_18"
	AttrSchoolAge       = "school_age"
	AttrMedianIncome    = "median_income"
	AttrUnder18Pct      = "under_18_pct"
	AttrSchoolAgePct    = "school_age_pct"
)

// DefaultVariables is the variable set requested when none is given.
var DefaultVariables = []string{
	VarTotalPopulation,
	VarMaleUnder5, VarMale5to9, VarMale10to14, VarMale15to17,
	VarFemaleUnder5, VarFemale5to9, VarFemale10to14, VarFemale15to17,
	VarMedianIncome,
}

// ParseVariables splits a comma-separated list, trimming and de-duplicating.
// NAME is always requested separately and is dropped here.
func ParseVariables(s string) []string {
	return normalizeVariables(strings.Split(s, ","))
}

func normalizeVariables(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, v := range in {
		v = strings.ToUpper(strings.TrimSpace(v))
		if v == "" || v == "NAME" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// chunkVariables splits vars into groups of at most size.
func chunkVariables(vars []string, size int) [][]string {
	if size <= 0 {
		size = len(vars)
	}
	var groups [][]string
	for start := 0; start < len(vars); start += size {
		end := min(start+size, len(vars))
		groups = append(groups, vars[start:end])
	}
	return groups
}

type sumRule struct {
	attr   string
	inputs []string
}

var sums = []sumRule{
	{AttrTotalPopulation, []string{VarTotalPopulation}},
	{AttrUnder5, []string{VarMaleUnder5, VarFemaleUnder5}},
	{AttrAge5to9, []string{VarMale5to9, VarFemale5to9}},
	{AttrAge10to14, []string{VarMale10to14, VarFemale10to14}},
	{AttrAge15to17, []string{VarMale15to17, VarFemale15to17}},
	{AttrUnder18, []string{
		VarMaleUnder5, VarFemaleUnder5, VarMale5to9, VarFemale5to9,
		VarMale10to14, VarFemale10to14, VarMale15to17, VarFemale15to17,
	}},
	{AttrSchoolAge, []string{
		VarMale5to9, VarFemale5to9, VarMale10to14, VarFemale10to14,
		VarMale15to17, VarFemale15to17,
	}},
	{AttrMedianIncome, []string{VarMedianIncome}},
}

var ratios = []struct {
	attr, num, den string
}{
	{AttrUnder18Pct, AttrUnder18, AttrTotalPopulation},
	{AttrSchoolAgePct, AttrSchoolAge, AttrTotalPopulation},
}

// Derive returns copies of records with the named age and income attributes
// added. An attribute is added only when all of its inputs were requested; a
// null input makes it null. Shares are fractions of total population and are
// null when the total is zero or null.
func Derive(records []model.StatRecord) []model.StatRecord {
	out := make([]model.StatRecord, len(records))
	for i, r := range records {
		vals := r.Values.Clone()
		if vals == nil {
			vals = model.Values{}
		}
		for _, rule := range sums {
			if v, ok := sum(vals, rule.inputs); ok {
				vals[rule.attr] = v
			}
		}
		for _, q := range ratios {
			if !vals.Has(q.num) || !vals.Has(q.den) {
				continue
			}
			num, okN := vals.Get(q.num)
			den, okD := vals.Get(q.den)
			if okN && okD && den != 0 {
				vals[q.attr] = model.Float(num / den)
			} else {
				vals[q.attr] = nil
			}
		}
		out[i] = model.StatRecord{ID: r.ID, Name: r.Name, Values: vals}
	}
	return out
}

// sum adds the inputs. ok is false when an input was never requested.
func sum(vals model.Values, inputs []string) (*float64, bool) {
	var total float64
	null := false
	for _, k := range inputs {
		if !vals.Has(k) {
			return nil, false
		}
		v, ok := vals.Get(k)
		if !ok {
			null = true
			continue
		}
		total += v
	}
	if null {
		return nil, true
	}
	return model.Float(total), true
}
