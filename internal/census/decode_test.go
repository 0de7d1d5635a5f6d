package census

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeTable(t *testing.T) {
	body := `[["NAME","B01001_001E","state","county","tract","block group"],
["BG 1","100","24","001","000100","1"],
["BG 2",null,"24","001","000100","2"],
["BG 3",42,"24","001","000100","3"]]`

	tbl, err := decodeTable(context.Background(), strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, []string{"NAME", "B01001_001E", "state", "county", "tract", "block group"}, tbl.header)
	require.Len(t, tbl.rows, 3)
	assert.Equal(t, "100", tbl.rows[0][1])
	assert.Equal(t, "", tbl.rows[1][1])
	assert.Equal(t, "42", tbl.rows[2][1])

	i, ok := tbl.col("block group")
	assert.True(t, ok)
	assert.Equal(t, 5, i)
}

func TestDecodeTable_Empty(t *testing.T) {
	for _, body := range []string{"", "[]", `[["NAME"]]`} {
		tbl, err := decodeTable(context.Background(), strings.NewReader(body))
		require.NoError(t, err, body)
		assert.Empty(t, tbl.rows, body)
	}
}

func TestDecodeTable_Errors(t *testing.T) {
	tests := map[string]string{
		"not an array":   `{"error":"bad"}`,
		"html page":      `<html>Invalid Key</html>`,
		"ragged row":     `[["a","b"],["1"]]`,
		"truncated body": `[["a","b"],["1",`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := decodeTable(context.Background(), strings.NewReader(body))
			assert.Error(t, err)
		})
	}
}

func TestDecodeTable_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := decodeTable(ctx, strings.NewReader(`[["a"],["1"]]`))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want *float64
	}{
		{"123", ptr(123)},
		{" 4.5 ", ptr(4.5)},
		{"0", ptr(0)},
		{"-5", ptr(-5)},
		{"", nil},
		{"null", nil},
		{"None", nil},
		{"NaN", nil},
		{"abc", nil},
		{"-666666666", nil},
		{"-999999999", nil},
		{"-222222222", nil},
		{"-888888888", nil},
		{"-111111111", nil},
		{"-333333333", nil},
		{"-555555555", nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := parseValue(tt.in)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.InDelta(t, *tt.want, *got, 1e-9)
		})
	}
}

func ptr(f float64) *float64 { return &f }
