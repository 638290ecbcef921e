package model

import (
	"fmt"
	"strings"

	"github.com/wp-labs/wp-open-api/errors"
)

// Field is a named value with its declared type.
//
// A Field is a small immutable value: copying it shares the name and the
// underlying value storage, so attaching the same field to many records does
// not copy data. The name never changes after construction; Renamed and
// WithValue return new fields.
type Field struct {
	meta  DataType
	name  string
	value Value
}

// NewField builds a field after checking that meta accepts the value's kind.
// Array values are also checked item by item against the array subtype
// unless the subtype is auto or not a known type name.
func NewField(meta DataType, name string, v Value) (Field, error) {
	if v == nil {
		v = Null{}
	}
	if err := checkType(meta, v); err != nil {
		return Field{}, errors.WrapInvalid(err, "model", "NewField", fmt.Sprintf("field %q", name))
	}
	return Field{meta: meta, name: name, value: v}, nil
}

// MustField is NewField for values known to match; it panics on error.
func MustField(meta DataType, name string, v Value) Field {
	f, err := NewField(meta, name, v)
	if err != nil {
		panic(err)
	}
	return f
}

// NewFieldOpt builds a field named after its type when name is empty.
func NewFieldOpt(meta DataType, name string, v Value) (Field, error) {
	if name == "" {
		name = meta.String()
	}
	return NewField(meta, name, v)
}

func checkType(meta DataType, v Value) error {
	if !meta.Accepts(v.Kind()) {
		return fmt.Errorf("%w: %s cannot hold %s", errors.ErrTypeMismatch, meta, v.Kind())
	}
	arr, ok := v.(Array)
	if !ok || !meta.IsArray() || meta.sub == "auto" {
		return nil
	}
	sub, err := ParseDataType(meta.sub)
	if err != nil {
		return nil
	}
	for i, item := range arr.items {
		if !sub.Accepts(item.Value().Kind()) {
			return fmt.Errorf("%w: item %d of %s is %s", errors.ErrTypeMismatch, i, meta, item.Value().Kind())
		}
	}
	return nil
}

// Constructors for fields whose declared type follows from the value.

func FromBool(name string, v bool) Field          { return Field{TypeBool, name, Bool(v)} }
func FromChars(name, v string) Field              { return Field{TypeChars, name, Chars(v)} }
func FromSymbol(name, v string) Field             { return Field{TypeSymbol, name, Symbol(v)} }
func FromDigit(name string, v int64) Field        { return Field{TypeDigit, name, Digit(v)} }
func FromFloat(name string, v float64) Field      { return Field{TypeFloat, name, Float(v)} }
func FromHex(name string, v uint64) Field         { return Field{TypeHex, name, Hex(v)} }
func FromTime(name string, v Time) Field          { return Field{TypeOf(v), name, v} }
func FromIP(name string, v IPAddr) Field          { return Field{TypeIP, name, v} }
func FromIPNet(name string, v IPNet) Field        { return Field{TypeIPNet, name, v} }
func FromDomain(name string, v Domain) Field      { return Field{TypeDomain, name, v} }
func FromURL(name string, v URL) Field            { return Field{TypeURL, name, v} }
func FromEmail(name string, v Email) Field        { return Field{TypeEmail, name, v} }
func FromIDCard(name string, v IDCard) Field      { return Field{TypeIDCard, name, v} }
func FromMobile(name string, v MobilePhone) Field { return Field{TypeMobilePhone, name, v} }
func FromIgnore(name string) Field                { return Field{TypeIgnore, name, Ignore{}} }
func FromObject(name string, v Object) Field      { return Field{TypeObj, name, v} }

// FromNull builds a field holding Null under the given type.
func FromNull(meta DataType, name string) Field { return Field{meta, name, Null{}} }

// FromArray builds an array field. The subtype is the declared type of the
// first item when every item shares it, and "auto" otherwise or when empty.
func FromArray(name string, items []Field) Field {
	arr := NewArray(items...)
	sub := "auto"
	if len(items) > 0 {
		sub = items[0].meta.String()
		for _, item := range items[1:] {
			if item.meta != items[0].meta {
				sub = "auto"
				break
			}
		}
	}
	return Field{DataType{id: idArray, sub: sub}, name, arr}
}

// FromValue builds a field whose declared type is the natural type of v.
func FromValue(name string, v Value) Field {
	if v == nil {
		v = Null{}
	}
	if arr, ok := v.(Array); ok {
		return FromArray(name, arr.items)
	}
	return Field{TypeOf(v), name, v}
}

// Name returns the field name.
func (f Field) Name() string { return f.name }

// Meta returns the declared type.
func (f Field) Meta() DataType { return f.meta }

// Value returns the value; the zero Field holds Null.
func (f Field) Value() Value {
	if f.value == nil {
		return Null{}
	}
	return f.value
}

// IsEmpty reports whether the value is empty.
func (f Field) IsEmpty() bool { return f.Value().IsEmpty() }

// Renamed returns a copy of f under another name.
func (f Field) Renamed(name string) Field {
	f.name = name
	return f
}

// WithValue returns a copy of f holding v, checked against the declared type.
func (f Field) WithValue(v Value) (Field, error) {
	return NewField(f.meta, f.name, v)
}

// String renders "meta(value)".
func (f Field) String() string {
	return f.meta.String() + "(" + f.Value().String() + ")"
}

func (f Field) writeLine(b *strings.Builder, level int) {
	fmt.Fprintf(b, "%*s[%-16s] %-20s : %s\n", level*6, "", f.meta.String(), f.name, f.Value().String())
}
