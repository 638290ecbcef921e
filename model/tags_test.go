package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTags_SetOverwritesAndSorts(t *testing.T) {
	tags := NewTags()
	tags.Set("env", "prod")
	tags.Set("stage", "sink")
	tags.Set("env", "dev")

	v, ok := tags.Get("env")
	require.True(t, ok)
	assert.Equal(t, "dev", v)
	assert.Equal(t, 2, tags.Len())
	assert.Equal(t, []string{"env", "stage"}, tags.Keys())
	assert.Equal(t, []string{"dev", "sink"}, tags.Values())
}

func TestTags_OrderIndependentOfInsertion(t *testing.T) {
	a := NewTags("zone", "z1", "app", "web", "host", "h1")
	b := NewTags("host", "h1", "zone", "z1", "app", "web")
	assert.Equal(t, a.Keys(), b.Keys())
	assert.Equal(t, []string{"app", "host", "zone"}, a.Keys())

	var seen []string
	for k, v := range a.All() {
		seen = append(seen, k+"="+v)
	}
	assert.Equal(t, []string{"app=web", "host=h1", "zone=z1"}, seen)
}

func TestTags_RemoveAndClear(t *testing.T) {
	tags := NewTags("a", "1", "b", "2", "c", "3")
	assert.True(t, tags.ContainsKey("b"))

	v, ok := tags.Remove("b")
	assert.True(t, ok)
	assert.Equal(t, "2", v)
	assert.False(t, tags.ContainsKey("b"))
	assert.Equal(t, []string{"a", "c"}, tags.Keys())

	_, ok = tags.Remove("b")
	assert.False(t, ok)

	assert.False(t, tags.IsEmpty())
	tags.Clear()
	assert.True(t, tags.IsEmpty())
	assert.Equal(t, 0, tags.Len())
	_, ok = tags.Get("a")
	assert.False(t, ok)
}

func TestTags_OddArgsIgnored(t *testing.T) {
	tags := NewTags("a", "1", "dangling")
	assert.Equal(t, 1, tags.Len())
}

func TestTags_Fields(t *testing.T) {
	tags := NewTags("stage", "sink", "env", "prod")
	fields := tags.Fields()
	require.Len(t, fields, 2)
	assert.Equal(t, "env", fields[0].Name())
	assert.Equal(t, TypeChars, fields[0].Meta())
	assert.Equal(t, Chars("prod"), fields[0].Value())
	assert.Equal(t, "stage", fields[1].Name())
}

func TestTags_Share(t *testing.T) {
	tags := NewTags("env", "prod")
	shared := tags.Share()
	assert.True(t, tags.IsEmpty())

	tags.Set("env", "dev")
	v, _ := shared.Get("env")
	assert.Equal(t, "prod", v)
	assert.True(t, shared.ContainsKey("env"))
	assert.Equal(t, 1, shared.Len())
	assert.False(t, shared.IsEmpty())
	assert.Equal(t, []string{"env"}, shared.Keys())
	assert.Equal(t, []string{"prod"}, shared.Values())
	assert.Len(t, shared.Fields(), 1)

	clone := shared.Clone()
	clone.Set("zone", "z1")
	assert.Equal(t, 1, shared.Len())
	assert.Equal(t, 2, clone.Len())

	var empty SharedTags
	assert.True(t, empty.IsEmpty())
	_, ok := empty.Get("x")
	assert.False(t, ok)
}
