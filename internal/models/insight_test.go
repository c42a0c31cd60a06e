package models

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountOf(t *testing.T) {
	assert.Equal(t, int64(3), CountOf(2.6))
	assert.Equal(t, int64(0), CountOf(1e20))
	assert.Equal(t, int64(0), CountOf(math.MaxInt64))
	assert.Equal(t, int64(0), CountOf(-1))
	assert.Equal(t, int64(0), CountOf(math.NaN()))
	assert.Equal(t, int64(0), ParseCount("1e20"))
}

func TestRawActionDecodesLeniently(t *testing.T) {
	var got []RawAction
	require.NoError(t, json.Unmarshal([]byte(`[
		{"action_type": "search", "value": "400"},
		{"action_type": "purchase", "value": 6},
		{"action_type": "lead", "value": null},
		{"action_type": "phone", "value": [1]},
		{"action_type": "view_content"}
	]`), &got))

	assert.Equal(t, []RawAction{
		{ActionType: "search", Value: "400"},
		{ActionType: "purchase", Value: "6"},
		{ActionType: "lead", Value: ""},
		{ActionType: "phone", Value: ""},
		{ActionType: "view_content", Value: ""},
	}, got)
}
