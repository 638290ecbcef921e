package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Value is the closed set of data a Field can carry. Only types declared in
// this package implement it.
//
// Kind and IsEmpty are O(1) and never copy the underlying data.
type Value interface {
	Kind() Kind
	IsEmpty() bool
	String() string

	isValue()
}

// Null is the absent value. Every DataType accepts it.
type Null struct{}

// Bool is a boolean value.
type Bool bool

// Chars is free text.
type Chars string

// Symbol is an interned-style identifier taken verbatim from the input.
type Symbol string

// Digit is a signed integer.
type Digit int64

// Float is a 64-bit float.
type Float float64

// Hex is an unsigned integer rendered in hexadecimal.
type Hex uint64

// Ignore marks a placeholder field. As the right-hand side of a comparison
// it means "the left side is set".
type Ignore struct{}

func (Null) Kind() Kind   { return KindNull }
func (Bool) Kind() Kind   { return KindBool }
func (Chars) Kind() Kind  { return KindChars }
func (Symbol) Kind() Kind { return KindSymbol }
func (Digit) Kind() Kind  { return KindDigit }
func (Float) Kind() Kind  { return KindFloat }
func (Hex) Kind() Kind    { return KindHex }
func (Ignore) Kind() Kind { return KindIgnore }

func (Null) IsEmpty() bool     { return true }
func (Bool) IsEmpty() bool     { return false }
func (v Chars) IsEmpty() bool  { return len(v) == 0 }
func (v Symbol) IsEmpty() bool { return len(v) == 0 }
func (Digit) IsEmpty() bool    { return false }
func (Float) IsEmpty() bool    { return false }
func (Hex) IsEmpty() bool      { return false }
func (Ignore) IsEmpty() bool   { return true }

func (Null) String() string     { return "NULL" }
func (v Bool) String() string   { return strconv.FormatBool(bool(v)) }
func (v Chars) String() string  { return string(v) }
func (v Symbol) String() string { return string(v) }
func (v Digit) String() string  { return strconv.FormatInt(int64(v), 10) }
func (v Float) String() string  { return strconv.FormatFloat(float64(v), 'f', -1, 64) }
func (v Hex) String() string    { return fmt.Sprintf("0x%X", uint64(v)) }
func (Ignore) String() string   { return "" }

func (Null) isValue()   {}
func (Bool) isValue()   {}
func (Chars) isValue()  {}
func (Symbol) isValue() {}
func (Digit) isValue()  {}
func (Float) isValue()  {}
func (Hex) isValue()    {}
func (Ignore) isValue() {}

// ParseHex parses "0x1F", "0X1f" or "1f" into a Hex value.
func ParseHex(s string) (Hex, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	n, err := strconv.ParseUint(trimmed, 16, 64)
	if err != nil {
		return 0, invalidValue(KindHex, s, err)
	}
	return Hex(n), nil
}
