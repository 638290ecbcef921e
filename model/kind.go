package model

import "fmt"

// Kind discriminates the Value variants.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindChars
	KindSymbol
	KindDigit
	KindTime
	KindHex
	KindFloat
	KindIPNet
	KindIPAddr
	KindIgnore
	KindObject
	KindArray
	KindDomain
	KindURL
	KindEmail
	KindIDCard
	KindMobilePhone

	kindCount
)

// kindNames holds the stable tag of every kind, indexed by Kind.
var kindNames = [...]string{
	KindNull:        "Null",
	KindBool:        "Bool",
	KindChars:       "Chars",
	KindSymbol:      "Symbol",
	KindDigit:       "Digit",
	KindTime:        "Time",
	KindHex:         "Hex",
	KindFloat:       "Float",
	KindIPNet:       "IpNet",
	KindIPAddr:      "IpAddr",
	KindIgnore:      "Ignore",
	KindObject:      "Map",
	KindArray:       "Array",
	KindDomain:      "Domain",
	KindURL:         "Url",
	KindEmail:       "Email",
	KindIDCard:      "IdCard",
	KindMobilePhone: "MobilePhone",
}

// Compile-time check that every kind has a tag. Adding a kind without a name
// makes the array length differ from kindCount and this line stops compiling.
var _ [0]struct{} = [len(kindNames) - int(kindCount)]struct{}{}

// Kinds returns every kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, 0, kindCount)
	for k := Kind(0); k < kindCount; k++ {
		out = append(out, k)
	}
	return out
}

// String returns the stable tag of k.
func (k Kind) String() string {
	if k < kindCount {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// unknownKind is used by the default branch of every switch over Kind.
// Reaching it means a kind was added without updating that switch.
func unknownKind(k Kind) string {
	return fmt.Sprintf("model: unhandled value kind %s", k)
}
