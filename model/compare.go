package model

import (
	"cmp"
	"strings"
)

// CmpOp is a comparison operator used by Match.
type CmpOp uint8

const (
	OpEq CmpOp = iota
	OpNe
	OpGt
	OpGe
	OpLt
	OpLe
)

func (op CmpOp) String() string {
	switch op {
	case OpEq:
		return "=="
	case OpNe:
		return "!="
	case OpGt:
		return ">"
	case OpGe:
		return ">="
	case OpLt:
		return "<"
	case OpLe:
		return "<="
	default:
		return "?"
	}
}

// Equal reports whether a and b are the same kind and hold equal data.
// Composite values compare field by field, including names and types.
func Equal(a, b Value) bool {
	if a.Kind() != b.Kind() {
		return false
	}
	switch a.Kind() {
	case KindNull, KindIgnore:
		return true
	case KindBool, KindChars, KindSymbol, KindDigit, KindFloat, KindHex,
		KindDomain, KindURL, KindEmail, KindIDCard, KindMobilePhone:
		return a == b
	case KindTime:
		return a.(Time).at.Equal(b.(Time).at)
	case KindIPAddr:
		return a.(IPAddr).addr == b.(IPAddr).addr
	case KindIPNet:
		return a.(IPNet).prefix == b.(IPNet).prefix
	case KindObject:
		return fieldsEqual(a.(Object).fields, b.(Object).fields)
	case KindArray:
		return fieldsEqual(a.(Array).items, b.(Array).items)
	default:
		panic(unknownKind(a.Kind()))
	}
}

func fieldsEqual(x, y []Field) bool {
	if len(x) != len(y) {
		return false
	}
	for i := range x {
		if x[i].name != y[i].name || x[i].meta != y[i].meta || !Equal(x[i].Value(), y[i].Value()) {
			return false
		}
	}
	return true
}

// Compare orders two values of the same kind. The second result is false
// when the kinds differ or the kind has no order (objects, arrays, null and
// placeholders).
func Compare(a, b Value) (int, bool) {
	if a.Kind() != b.Kind() {
		return 0, false
	}
	switch a.Kind() {
	case KindNull, KindIgnore, KindObject, KindArray:
		return 0, false
	case KindBool:
		x, y := a.(Bool), b.(Bool)
		switch {
		case x == y:
			return 0, true
		case !bool(x):
			return -1, true
		default:
			return 1, true
		}
	case KindChars, KindSymbol, KindDomain, KindURL, KindEmail, KindIDCard, KindMobilePhone:
		return strings.Compare(a.String(), b.String()), true
	case KindDigit:
		return cmp.Compare(a.(Digit), b.(Digit)), true
	case KindFloat:
		return cmp.Compare(a.(Float), b.(Float)), true
	case KindHex:
		return cmp.Compare(a.(Hex), b.(Hex)), true
	case KindTime:
		return a.(Time).at.Compare(b.(Time).at), true
	case KindIPAddr:
		return a.(IPAddr).addr.Compare(b.(IPAddr).addr), true
	case KindIPNet:
		x, y := a.(IPNet).prefix, b.(IPNet).prefix
		if c := x.Addr().Compare(y.Addr()); c != 0 {
			return c, true
		}
		return cmp.Compare(x.Bits(), y.Bits()), true
	default:
		panic(unknownKind(a.Kind()))
	}
}

// Match evaluates "lhs op rhs". A placeholder on the right means "lhs is
// set" and always matches. Values of different kinds never match.
func Match(lhs, rhs Value, op CmpOp) bool {
	if rhs.Kind() == KindIgnore {
		return true
	}
	if lhs.Kind() != rhs.Kind() {
		return false
	}
	switch op {
	case OpEq:
		return Equal(lhs, rhs)
	case OpNe:
		return !Equal(lhs, rhs)
	}
	c, ok := Compare(lhs, rhs)
	if !ok {
		return false
	}
	switch op {
	case OpGt:
		return c > 0
	case OpGe:
		return c >= 0
	case OpLt:
		return c < 0
	case OpLe:
		return c <= 0
	default:
		return false
	}
}
