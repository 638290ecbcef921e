package model

import (
	"iter"
	"sort"
	"strings"
)

// Object is an immutable name→field mapping kept sorted by name. Names are
// unique; when NewObject receives duplicates the last one wins.
type Object struct {
	fields []Field
}

// NewObject builds an Object from fields. The input slice is not retained.
func NewObject(fields ...Field) Object {
	if len(fields) == 0 {
		return Object{}
	}
	out := make([]Field, 0, len(fields))
	for _, f := range fields {
		i, found := searchField(out, f.name)
		if found {
			out[i] = f
			continue
		}
		out = append(out, Field{})
		copy(out[i+1:], out[i:])
		out[i] = f
	}
	return Object{fields: out}
}

func searchField(fields []Field, name string) (int, bool) {
	i := sort.Search(len(fields), func(i int) bool { return fields[i].name >= name })
	return i, i < len(fields) && fields[i].name == name
}

// Get returns the field stored under name.
func (o Object) Get(name string) (Field, bool) {
	i, found := searchField(o.fields, name)
	if !found {
		return Field{}, false
	}
	return o.fields[i], true
}

// Len returns the number of entries.
func (o Object) Len() int { return len(o.fields) }

// All iterates entries in ascending name order.
func (o Object) All() iter.Seq2[string, Field] {
	return func(yield func(string, Field) bool) {
		for _, f := range o.fields {
			if !yield(f.name, f) {
				return
			}
		}
	}
}

func (Object) Kind() Kind      { return KindObject }
func (o Object) IsEmpty() bool { return len(o.fields) == 0 }
func (Object) isValue()        {}

func (o Object) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, f := range o.fields {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(f.name)
		b.WriteString(": ")
		b.WriteString(f.Value().String())
	}
	b.WriteByte('}')
	return b.String()
}

// Array is an immutable ordered sequence of fields.
type Array struct {
	items []Field
}

// NewArray builds an Array. The input slice is copied.
func NewArray(items ...Field) Array {
	if len(items) == 0 {
		return Array{}
	}
	return Array{items: append([]Field(nil), items...)}
}

// Len returns the number of items.
func (a Array) Len() int { return len(a.items) }

// At returns item i.
func (a Array) At(i int) Field { return a.items[i] }

// All iterates items in order.
func (a Array) All() iter.Seq2[int, Field] {
	return func(yield func(int, Field) bool) {
		for i, f := range a.items {
			if !yield(i, f) {
				return
			}
		}
	}
}

func (Array) Kind() Kind      { return KindArray }
func (a Array) IsEmpty() bool { return len(a.items) == 0 }
func (Array) isValue()        {}

func (a Array) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range a.items {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(f.Value().String())
	}
	b.WriteByte(']')
	return b.String()
}
