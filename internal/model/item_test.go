package model_test

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/Makepad-fr/tada/internal/model"
)

func TestIDAcceptsStringsAndNumbers(t *testing.T) {
	for raw, want := range map[string]model.ID{
		`{"id":"a1b2"}`: "a1b2",
		`{"id":2}`:      "2",
		`{"id":-17}`:    "-17",
		`{"id":null}`:   "",
		`{}`:            "",
	} {
		var it model.Item
		require.NoError(t, json.Unmarshal([]byte(raw), &it), raw)
		require.Equal(t, want, it.ID, raw)
	}

	for _, raw := range []string{`{"id":true}`, `{"id":{"x":1}}`, `{"id":[1]}`} {
		var it model.Item
		require.Error(t, json.Unmarshal([]byte(raw), &it), raw)
	}
}

func TestNumericIDRoundTripsAsString(t *testing.T) {
	var it model.Item
	require.NoError(t, json.Unmarshal([]byte(`{"id":42,"task":"eggs"}`), &it))

	b, err := json.Marshal(it)
	require.NoError(t, err)

	var back model.Item
	require.NoError(t, json.Unmarshal(b, &back))
	require.Equal(t, model.ID("42"), back.ID)
	require.Equal(t, "eggs", back.Task)
}
