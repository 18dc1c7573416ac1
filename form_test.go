package kueri

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormSpecTransformRegisterFlow(t *testing.T) {
	spec := &FormSpec{
		Rename: map[string]string{"confirmPassword": "password_confirmation"},
		Add:    map[string]any{"terms": true},
		Remove: []string{"confirmPassword"},
	}
	input := map[string]any{
		"name":            "A",
		"email":           "a@x",
		"password":        "p",
		"confirmPassword": "p",
	}

	out := spec.Transform(input)

	assert.Equal(t, map[string]any{
		"name":                  "A",
		"email":                 "a@x",
		"password":              "p",
		"password_confirmation": "p",
		"terms":                 true,
	}, out)

	// The input map is never mutated.
	assert.Equal(t, "p", input["confirmPassword"])
	assert.NotContains(t, input, "terms")
}

func TestFormSpecTransformOrder(t *testing.T) {
	// Remove runs last, so it can delete a key Add just wrote.
	spec := &FormSpec{
		Add:    map[string]any{"internal": 1},
		Remove: []string{"internal"},
	}
	out := spec.Transform(map[string]any{"keep": true})
	assert.Equal(t, map[string]any{"keep": true}, out)
}

func TestFormSpecTransformIsIdempotent(t *testing.T) {
	// With no rename-into-rename conflicts, applying the same passes to an
	// already-transformed map changes nothing.
	spec := &FormSpec{
		Rename: map[string]string{"confirmPassword": "password_confirmation"},
		Add:    map[string]any{"terms": true},
		Remove: []string{"confirmPassword", "debug"},
	}
	input := map[string]any{
		"email":           "a@x",
		"confirmPassword": "p",
		"debug":           1,
	}

	once := spec.Transform(input)
	twice := spec.Transform(once)

	assert.Equal(t, once, twice)
}

func TestFormSpecTransformMissingKeys(t *testing.T) {
	spec := &FormSpec{
		Rename: map[string]string{"absent": "renamed"},
		Remove: []string{"also_absent"},
	}
	out := spec.Transform(map[string]any{"a": 1})
	assert.Equal(t, map[string]any{"a": 1}, out)
}

func TestFormSpecNilTransform(t *testing.T) {
	var spec *FormSpec
	out := spec.Transform(map[string]any{"a": 1})
	assert.Equal(t, map[string]any{"a": 1}, out)
}

func TestMergeFormSpecs(t *testing.T) {
	global := &FormSpec{
		Rename: map[string]string{"a": "ga", "b": "gb"},
		Add:    map[string]any{"source": "global", "env": "prod"},
		Remove: []string{"secret", "debug"},
	}
	local := &FormSpec{
		Rename: map[string]string{"b": "lb"},
		Add:    map[string]any{"source": "local"},
		Remove: []string{"debug", "tmp"},
	}

	merged := MergeFormSpecs(global, local)

	assert.Equal(t, "ga", merged.Rename["a"])
	assert.Equal(t, "lb", merged.Rename["b"], "local rename wins")
	assert.Equal(t, "local", merged.Add["source"], "local add wins")
	assert.Equal(t, "prod", merged.Add["env"])
	assert.Equal(t, []string{"secret", "debug", "tmp"}, merged.Remove)
}

func TestMergeFormSpecsNilSides(t *testing.T) {
	spec := &FormSpec{Remove: []string{"x"}}
	assert.Same(t, spec, MergeFormSpecs(nil, spec))
	assert.Same(t, spec, MergeFormSpecs(spec, nil))
	assert.Nil(t, MergeFormSpecs(nil, nil))
}
