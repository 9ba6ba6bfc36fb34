package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetMissingIntermediates(t *testing.T) {
	doc := Document{"a": Document{"b": Document{"c": 1.0}}}

	v, ok := doc.Get("a.b.c")
	require.True(t, ok)
	assert.Equal(t, 1.0, v)

	_, ok = doc.Get("a.x.c")
	assert.False(t, ok)

	_, ok = doc.Get("x.y.z")
	assert.False(t, ok)
}

func TestGetThroughNonMapping(t *testing.T) {
	doc := Document{"a": 42.0}
	_, ok := doc.Get("a.b")
	assert.False(t, ok)
}

func TestSetCreatesIntermediates(t *testing.T) {
	doc := Document{}
	doc.Set("a.b.c", 5.0)

	v, ok := doc.Get("a.b.c")
	require.True(t, ok)
	assert.Equal(t, 5.0, v)
}

func TestSetBlockedByNonMapping(t *testing.T) {
	doc := Document{"a": "scalar"}
	doc.Set("a.b.c", 5.0)

	assert.Equal(t, "scalar", doc["a"])
	_, ok := doc.Get("a.b")
	assert.False(t, ok)
}

func TestCloneIsDeep(t *testing.T) {
	doc := Document{"a": Document{"b": 1.0}, "list": []any{Document{"x": 2.0}}}
	clone := doc.Clone()

	clone.Set("a.b", 9.0)
	v, _ := doc.Get("a.b")
	assert.Equal(t, 1.0, v)

	clone["list"].([]any)[0].(Document)["x"] = 9.0
	assert.Equal(t, 2.0, doc["list"].([]any)[0].(Document)["x"])
}

func TestEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{"numbers fold types", 2, 2.0, true},
		{"numbers differ", 2.0, 3.0, false},
		{"strings", "x", "x", true},
		{"string vs number", "2", 2.0, false},
		{"nils", nil, nil, true},
		{"nil vs value", nil, 1.0, false},
		{"nested docs", Document{"a": 1.0}, map[string]any{"a": 1}, true},
		{"arrays ordered", []any{1.0, 2.0}, []any{2.0, 1.0}, false},
		{"arrays equal", []any{1.0, "a"}, []any{1, "a"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Equal(tt.a, tt.b))
		})
	}
}

func TestKeyStructural(t *testing.T) {
	a := Key([]any{"laptop", 2.0})
	b := Key([]any{"laptop", 2})
	c := Key([]any{"mouse", 2.0})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestTruthy(t *testing.T) {
	assert.False(t, Truthy(nil))
	assert.False(t, Truthy(false))
	assert.False(t, Truthy(0.0))
	assert.False(t, Truthy(""))
	assert.True(t, Truthy(1.0))
	assert.True(t, Truthy("x"))
	assert.True(t, Truthy(Document{}))
	assert.True(t, Truthy([]any{}))
}
