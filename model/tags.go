package model

import (
	"iter"
	"sort"
)

// Tag is one key/value annotation.
type Tag struct {
	Key   string
	Value string
}

// Tags is a small set of string annotations kept sorted by key. Setting an
// existing key overwrites its value. Iteration is always in ascending key
// order, independent of insertion order.
//
// Tags is mutable and owned by one goroutine; Share hands it off as
// SharedTags for concurrent readers.
type Tags struct {
	items []Tag
}

// NewTags builds a tag set from alternating key, value pairs. A trailing
// key without a value is ignored.
func NewTags(kv ...string) *Tags {
	t := &Tags{items: make([]Tag, 0, len(kv)/2)}
	for i := 0; i+1 < len(kv); i += 2 {
		t.Set(kv[i], kv[i+1])
	}
	return t
}

func search(items []Tag, key string) (int, bool) {
	i := sort.Search(len(items), func(i int) bool { return items[i].Key >= key })
	return i, i < len(items) && items[i].Key == key
}

// Set inserts or overwrites key.
func (t *Tags) Set(key, value string) {
	i, found := search(t.items, key)
	if found {
		t.items[i].Value = value
		return
	}
	t.items = append(t.items, Tag{})
	copy(t.items[i+1:], t.items[i:])
	t.items[i] = Tag{Key: key, Value: value}
}

// Get returns the value stored under key.
func (t *Tags) Get(key string) (string, bool) { return get(t.items, key) }

// ContainsKey reports whether key is set.
func (t *Tags) ContainsKey(key string) bool {
	_, found := search(t.items, key)
	return found
}

// Remove deletes key and returns its previous value.
func (t *Tags) Remove(key string) (string, bool) {
	i, found := search(t.items, key)
	if !found {
		return "", false
	}
	v := t.items[i].Value
	t.items = append(t.items[:i], t.items[i+1:]...)
	return v, true
}

// Len returns the number of tags.
func (t *Tags) Len() int { return len(t.items) }

// IsEmpty reports whether no tag is set.
func (t *Tags) IsEmpty() bool { return len(t.items) == 0 }

// Clear removes every tag.
func (t *Tags) Clear() { t.items = t.items[:0] }

// All iterates tags in ascending key order.
func (t *Tags) All() iter.Seq2[string, string] { return allTags(t.items) }

// Keys returns the keys in ascending order.
func (t *Tags) Keys() []string { return keys(t.items) }

// Values returns the values in key order.
func (t *Tags) Values() []string { return values(t.items) }

// Fields flattens the tags into chars fields in key order.
func (t *Tags) Fields() []Field { return tagFields(t.items) }

// Share ends exclusive ownership and returns a read-only view. The set is
// empty afterwards.
func (t *Tags) Share() SharedTags {
	s := SharedTags{items: t.items}
	t.items = nil
	return s
}

// SharedTags is a read-only tag set safe for concurrent use.
type SharedTags struct {
	items []Tag
}

// Get returns the value stored under key.
func (s SharedTags) Get(key string) (string, bool) { return get(s.items, key) }

// ContainsKey reports whether key is set.
func (s SharedTags) ContainsKey(key string) bool {
	_, found := search(s.items, key)
	return found
}

// Len returns the number of tags.
func (s SharedTags) Len() int { return len(s.items) }

// IsEmpty reports whether no tag is set.
func (s SharedTags) IsEmpty() bool { return len(s.items) == 0 }

// All iterates tags in ascending key order.
func (s SharedTags) All() iter.Seq2[string, string] { return allTags(s.items) }

// Keys returns the keys in ascending order.
func (s SharedTags) Keys() []string { return keys(s.items) }

// Values returns the values in key order.
func (s SharedTags) Values() []string { return values(s.items) }

// Fields flattens the tags into chars fields in key order.
func (s SharedTags) Fields() []Field { return tagFields(s.items) }

// Clone returns an exclusively owned copy.
func (s SharedTags) Clone() *Tags {
	return &Tags{items: append([]Tag(nil), s.items...)}
}

func get(items []Tag, key string) (string, bool) {
	i, found := search(items, key)
	if !found {
		return "", false
	}
	return items[i].Value, true
}

func allTags(items []Tag) iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		for _, tag := range items {
			if !yield(tag.Key, tag.Value) {
				return
			}
		}
	}
}

func keys(items []Tag) []string {
	out := make([]string, len(items))
	for i, tag := range items {
		out[i] = tag.Key
	}
	return out
}

func values(items []Tag) []string {
	out := make([]string, len(items))
	for i, tag := range items {
		out[i] = tag.Value
	}
	return out
}

func tagFields(items []Tag) []Field {
	out := make([]Field, len(items))
	for i, tag := range items {
		out[i] = FromChars(tag.Key, tag.Value)
	}
	return out
}
