package geoid

import (
	"encoding/json"
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Valid(t *testing.T) {
	id, err := New("24", "005", "400100", "2")
	require.NoError(t, err)
	assert.Equal(t, "240054001002", id.String())
	assert.Equal(t, "24", id.State())
	assert.Equal(t, "005", id.County())
	assert.Equal(t, "400100", id.Tract())
	assert.Equal(t, "2", id.BlockGroup())
	assert.Equal(t, "24005", id.CountyFIPS())
	assert.False(t, id.IsZero())
}

func TestNew_TrimsWhitespace(t *testing.T) {
	id, err := New(" 24", "005 ", "400100", "2")
	require.NoError(t, err)
	assert.Equal(t, "240054001002", id.String())
}

func TestNew_Invalid(t *testing.T) {
	tests := []struct {
		name                        string
		state, county, tract, group string
	}{
		{"short state", "6", "001", "400100", "1"},
		{"long county", "06", "0001", "400100", "1"},
		{"short tract", "06", "001", "4001", "1"},
		{"empty group", "06", "001", "400100", ""},
		{"letters", "06", "00A", "400100", "1"},
		{"two digit group", "06", "001", "400100", "12"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.state, tt.county, tt.tract, tt.group)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid))
		})
	}
}

func TestParse_MatchesNew(t *testing.T) {
	fromParts, err := New("06", "001", "400100", "1")
	require.NoError(t, err)
	fromGEOID, err := Parse("060014001001")
	require.NoError(t, err)
	assert.Equal(t, fromParts, fromGEOID)
}

func TestParse_Invalid(t *testing.T) {
	for _, s := range []string{"", "06001400100", "0600140010011", "06001400100X", "1500000US060014001001"} {
		_, err := Parse(s)
		assert.Error(t, err, s)
	}
}

func TestMustParse_Panics(t *testing.T) {
	assert.Panics(t, func() { MustParse("bad") })
	assert.NotPanics(t, func() { MustParse("060014001001") })
}

func TestCompare(t *testing.T) {
	a := MustParse("060014001001")
	b := MustParse("060014001002")
	c := MustParse("060030001001")
	d := MustParse("240014001001")

	assert.True(t, a.Less(b))
	assert.True(t, b.Less(c))
	assert.True(t, c.Less(d))
	assert.False(t, d.Less(a))
	assert.Equal(t, 0, a.Compare(MustParse("060014001001")))

	ids := []ID{d, b, c, a}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	assert.Equal(t, []ID{a, b, c, d}, ids)
}

func TestJSON_RoundTrip(t *testing.T) {
	type wrapper struct {
		ID ID `json:"id"`
	}
	in := wrapper{ID: MustParse("360610001001")}

	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"360610001001"}`, string(data))

	var out wrapper
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)

	assert.Error(t, json.Unmarshal([]byte(`{"id":"nope"}`), &out))
}

func TestMarshalText_Zero(t *testing.T) {
	_, err := ID{}.MarshalText()
	assert.Error(t, err)
}

func TestMapKey(t *testing.T) {
	m := map[ID]int{}
	m[MustParse("060014001001")]++
	id, _ := New("06", "001", "400100", "1")
	m[id]++
	assert.Len(t, m, 1)
	assert.Equal(t, 2, m[id])
}
