package model

import (
	"fmt"
	"iter"
	"math"
	"net/netip"
	"strings"
	"time"
)

// EventIDField is the reserved field name written by SetID.
const EventIDField = "wp_event_id"

// Record is an ordered sequence of fields owned by one goroutine while it is
// being built or transformed. Duplicate names are allowed; lookups, updates
// and removals act on the first match.
//
// Once a record is complete, Share hands it off as a SharedRecord that can be
// delivered to many sinks concurrently. SharedRecord has no mutating methods.
type Record struct {
	items []Field
}

// NewRecord builds a record from fields in order.
func NewRecord(fields ...Field) *Record {
	r := &Record{items: make([]Field, 0, max(len(fields), 8))}
	r.items = append(r.items, fields...)
	return r
}

// Len returns the number of fields.
func (r *Record) Len() int { return len(r.items) }

// At returns field i.
func (r *Record) At(i int) Field { return r.items[i] }

// All iterates fields in order.
func (r *Record) All() iter.Seq2[int, Field] { return allFields(r.items) }

// Append adds f at the end.
func (r *Record) Append(f Field) { r.items = append(r.items, f) }

// Merge appends every field of other, keeping its order.
func (r *Record) Merge(other SharedRecord) { r.items = append(r.items, other.items...) }

// Field returns the first field named name.
func (r *Record) Field(name string) (Field, bool) { return firstField(r.items, name) }

// Value returns the value of the first field named name.
func (r *Record) Value(name string) (Value, bool) {
	f, ok := firstField(r.items, name)
	if !ok {
		return nil, false
	}
	return f.Value(), true
}

// RemoveField removes the first field named name and reports whether one
// was found.
func (r *Record) RemoveField(name string) bool {
	i := indexOf(r.items, name)
	if i < 0 {
		return false
	}
	r.items = append(r.items[:i], r.items[i+1:]...)
	return true
}

// SetValue replaces the value of the first field named name. The new value
// must match the field's declared type. It returns false when no field has
// that name.
func (r *Record) SetValue(name string, v Value) (bool, error) {
	i := indexOf(r.items, name)
	if i < 0 {
		return false, nil
	}
	f, err := r.items[i].WithValue(v)
	if err != nil {
		return true, err
	}
	r.items[i] = f
	return true, nil
}

// SetID writes the event id into the reserved EventIDField. An existing field
// is overwritten in place; otherwise the field is inserted first. Ids above
// math.MaxInt64 do not fit a Digit and are skipped without error.
func (r *Record) SetID(id uint64) {
	if id > math.MaxInt64 {
		return
	}
	f := FromDigit(EventIDField, int64(id))
	if i := indexOf(r.items, EventIDField); i >= 0 {
		r.items[i] = f
		return
	}
	r.items = append(r.items, Field{})
	copy(r.items[1:], r.items)
	r.items[0] = f
}

// Share ends exclusive ownership and returns a read-only view of the fields.
// The record is empty afterwards and may be reused to build another one.
func (r *Record) Share() SharedRecord {
	s := SharedRecord{items: r.items}
	r.items = nil
	return s
}

// String renders one line per field, skipping placeholder fields.
func (r *Record) String() string { return displayFields(r.items) }

// SharedRecord is a read-only record safe for concurrent use. Use Clone to get
// a mutable copy.
type SharedRecord struct {
	items []Field
}

// Len returns the number of fields.
func (s SharedRecord) Len() int { return len(s.items) }

// At returns field i.
func (s SharedRecord) At(i int) Field { return s.items[i] }

// All iterates fields in order.
func (s SharedRecord) All() iter.Seq2[int, Field] { return allFields(s.items) }

// Field returns the first field named name.
func (s SharedRecord) Field(name string) (Field, bool) { return firstField(s.items, name) }

// Value returns the value of the first field named name.
func (s SharedRecord) Value(name string) (Value, bool) {
	f, ok := firstField(s.items, name)
	if !ok {
		return nil, false
	}
	return f.Value(), true
}

// Clone returns an exclusively owned copy. Field values are shared, which is
// safe because they are immutable.
func (s SharedRecord) Clone() *Record {
	return &Record{items: append(make([]Field, 0, len(s.items)+1), s.items...)}
}

// String renders one line per field, skipping placeholder fields.
func (s SharedRecord) String() string { return displayFields(s.items) }

// MetaLine renders the declared types of non-placeholder fields.
func (s SharedRecord) MetaLine() string {
	var b strings.Builder
	b.WriteString("(")
	for _, f := range s.items {
		if !f.meta.IsIgnore() {
			b.WriteString(f.meta.String())
			b.WriteString(",")
		}
	}
	b.WriteString(")")
	return b.String()
}

func allFields(items []Field) iter.Seq2[int, Field] {
	return func(yield func(int, Field) bool) {
		for i, f := range items {
			if !yield(i, f) {
				return
			}
		}
	}
}

func indexOf(items []Field, name string) int {
	for i := range items {
		if items[i].name == name {
			return i
		}
	}
	return -1
}

func firstField(items []Field, name string) (Field, bool) {
	if i := indexOf(items, name); i >= 0 {
		return items[i], true
	}
	return Field{}, false
}

func displayFields(items []Field) string {
	var b strings.Builder
	b.WriteByte('\n')
	for i, f := range items {
		if f.meta.IsIgnore() {
			continue
		}
		fmt.Fprintf(&b, "NO:%-5d", i+1)
		f.writeLine(&b, 1)
	}
	return b.String()
}

// SampleRecord returns a record with one field of each common kind. It is
// used by tests and by the CLI to preview formats.
func SampleRecord() *Record {
	ip, _ := NewIPAddr(netip.AddrFrom4([4]byte{127, 0, 0, 1}))
	return NewRecord(
		FromDigit("id", 1),
		FromChars("name", "wp"),
		FromBool("ok", true),
		FromFloat("ratio", 0.5),
		FromIP("src_ip", ip),
		FromTime("ts", NewTime(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC))),
		FromIgnore("_"),
	)
}
