package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFieldsReadsDefensively(t *testing.T) {
	var evt Event
	err := json.Unmarshal([]byte(`{"action":"deploy","approvals_count":3,"ratio":0.5,"pr":{"number":42},"flag":true,"empty":""}`), &evt)
	assert.NoError(t, err)

	assert.Equal(t, "deploy", evt.Str("action"))
	assert.Equal(t, "", evt.Str("missing"))
	assert.Equal(t, "3", evt.Str("approvals_count"))

	n, ok := evt.Int("approvals_count")
	assert.True(t, ok)
	assert.Equal(t, int64(3), n)

	_, ok = evt.Int("ratio")
	assert.False(t, ok)
	f, ok := evt.Float("ratio")
	assert.True(t, ok)
	assert.Equal(t, 0.5, f)

	pr, ok := evt.Map("pr").Int("number")
	assert.True(t, ok)
	assert.Equal(t, int64(42), pr)
	assert.Nil(t, evt.Map("action"))

	assert.True(t, evt.Bool("flag"))
	assert.True(t, evt.Present("action"))
	assert.False(t, evt.Present("empty"))
	assert.False(t, evt.Present("missing"))
}

func TestAsIntAcceptsIntegralNumbers(t *testing.T) {
	cases := []struct {
		in   any
		want int64
		ok   bool
	}{
		{json.Number("3"), 3, true},
		{json.Number("3.0"), 3, true},
		{json.Number("3e0"), 3, true},
		{json.Number("3.5"), 0, false},
		{json.Number("1e40"), 0, false},
		{float64(4), 4, true},
		{"4", 0, false},
	}
	for _, tc := range cases {
		got, ok := AsInt(tc.in)
		assert.Equal(t, tc.ok, ok, "%v", tc.in)
		assert.Equal(t, tc.want, got, "%v", tc.in)
	}
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "5", Stringify(float64(5)))
	assert.Equal(t, "12.5", Stringify(12.5))
	assert.Equal(t, "true", Stringify(true))
	assert.Equal(t, "", Stringify(nil))
	assert.Equal(t, `{"a":1}`, Stringify(map[string]any{"a": 1}))
}
