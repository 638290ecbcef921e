package model

import (
	"fmt"
	"strings"

	"github.com/wp-labs/wp-open-api/errors"
)

type typeID uint8

const (
	idAuto typeID = iota
	idBool
	idChars
	idSymbol
	idPeekSymbol
	idDigit
	idFloat
	idIgnore
	idTime
	idTimeISO
	idTimeRFC3339
	idTimeRFC2822
	idTimeTimestamp
	idTimeCLF
	idIP
	idIPNet
	idDomain
	idEmail
	idPort
	idSN
	idHex
	idBase64
	idKV
	idJSON
	idExactJSON
	idHTTPRequest
	idHTTPStatus
	idHTTPAgent
	idHTTPMethod
	idURL
	idProtoText
	idObj
	idArray
	idIDCard
	idMobilePhone

	typeCount
)

// DataType is the declared type of a field. The zero value is Auto.
// DataType values are comparable with ==.
type DataType struct {
	id  typeID
	sub string
}

// Canonical data types.
var (
	TypeAuto          = DataType{id: idAuto}
	TypeBool          = DataType{id: idBool}
	TypeChars         = DataType{id: idChars}
	TypeSymbol        = DataType{id: idSymbol}
	TypePeekSymbol    = DataType{id: idPeekSymbol}
	TypeDigit         = DataType{id: idDigit}
	TypeFloat         = DataType{id: idFloat}
	TypeIgnore        = DataType{id: idIgnore}
	TypeTime          = DataType{id: idTime}
	TypeTimeISO       = DataType{id: idTimeISO}
	TypeTimeRFC3339   = DataType{id: idTimeRFC3339}
	TypeTimeRFC2822   = DataType{id: idTimeRFC2822}
	TypeTimeTimestamp = DataType{id: idTimeTimestamp}
	TypeTimeCLF       = DataType{id: idTimeCLF}
	TypeIP            = DataType{id: idIP}
	TypeIPNet         = DataType{id: idIPNet}
	TypeDomain        = DataType{id: idDomain}
	TypeEmail         = DataType{id: idEmail}
	TypePort          = DataType{id: idPort}
	TypeSN            = DataType{id: idSN}
	TypeHex           = DataType{id: idHex}
	TypeBase64        = DataType{id: idBase64}
	TypeKV            = DataType{id: idKV}
	TypeJSON          = DataType{id: idJSON}
	TypeExactJSON     = DataType{id: idExactJSON}
	TypeHTTPRequest   = DataType{id: idHTTPRequest}
	TypeHTTPStatus    = DataType{id: idHTTPStatus}
	TypeHTTPAgent     = DataType{id: idHTTPAgent}
	TypeHTTPMethod    = DataType{id: idHTTPMethod}
	TypeURL           = DataType{id: idURL}
	TypeProtoText     = DataType{id: idProtoText}
	TypeObj           = DataType{id: idObj}
	TypeIDCard        = DataType{id: idIDCard}
	TypeMobilePhone   = DataType{id: idMobilePhone}
)

type typeInfo struct {
	name  string
	kinds []Kind
}

var typeTable = [...]typeInfo{
	idAuto:          {"auto", nil},
	idBool:          {"bool", []Kind{KindBool}},
	idChars:         {"chars", []Kind{KindChars}},
	idSymbol:        {"symbol", []Kind{KindSymbol}},
	idPeekSymbol:    {"peek_symbol", []Kind{KindSymbol}},
	idDigit:         {"digit", []Kind{KindDigit}},
	idFloat:         {"float", []Kind{KindFloat}},
	idIgnore:        {"_", []Kind{KindIgnore}},
	idTime:          {"time", []Kind{KindTime}},
	idTimeISO:       {"time_iso", []Kind{KindTime}},
	idTimeRFC3339:   {"time_3339", []Kind{KindTime}},
	idTimeRFC2822:   {"time_2822", []Kind{KindTime}},
	idTimeTimestamp: {"time_timestamp", []Kind{KindTime}},
	idTimeCLF:       {"time_clf", []Kind{KindTime}},
	idIP:            {"ip", []Kind{KindIPAddr}},
	idIPNet:         {"ip_net", []Kind{KindIPNet}},
	idDomain:        {"domain", []Kind{KindDomain}},
	idEmail:         {"email", []Kind{KindEmail}},
	idPort:          {"port", []Kind{KindDigit}},
	idSN:            {"sn", []Kind{KindChars}},
	idHex:           {"hex", []Kind{KindHex}},
	idBase64:        {"base64", []Kind{KindChars}},
	idKV:            {"kv", []Kind{KindObject, KindChars}},
	idJSON:          {"json", []Kind{KindObject, KindChars}},
	idExactJSON:     {"exact_json", []Kind{KindObject, KindChars}},
	idHTTPRequest:   {"http/request", []Kind{KindChars}},
	idHTTPStatus:    {"http/status", []Kind{KindDigit}},
	idHTTPAgent:     {"http/agent", []Kind{KindChars}},
	idHTTPMethod:    {"http/method", []Kind{KindChars}},
	idURL:           {"url", []Kind{KindURL}},
	idProtoText:     {"proto_text", []Kind{KindChars}},
	idObj:           {"obj", []Kind{KindObject}},
	idArray:         {"array", []Kind{KindArray}},
	idIDCard:        {"id_card", []Kind{KindIDCard}},
	idMobilePhone:   {"mobile_phone", []Kind{KindMobilePhone}},
}

var _ [0]struct{} = [len(typeTable) - int(typeCount)]struct{}{}

// aliases maps accepted alternative spellings to canonical types.
var aliases = map[string]DataType{
	"time/apache":     TypeTimeCLF,
	"time/clf":        TypeTimeCLF,
	"time/httpd":      TypeTimeCLF,
	"time/nginx":      TypeTimeCLF,
	"time/timestamp":  TypeTimeTimestamp,
	"time/epoch":      TypeTimeTimestamp,
	"time/rfc3339":    TypeTimeRFC3339,
	"time/rfc2822":    TypeTimeRFC2822,
	"json/strict":     TypeExactJSON,
	"proto/text":      TypeProtoText,
	"http/user_agent": TypeHTTPAgent,
	"object":          TypeObj,
	"symbol/peek":     TypePeekSymbol,
	"http_request":    TypeHTTPRequest,
	"http_status":     TypeHTTPStatus,
	"http_agent":      TypeHTTPAgent,
	"http_method":     TypeHTTPMethod,
}

var canonical = func() map[string]DataType {
	m := make(map[string]DataType, typeCount)
	for id := typeID(0); id < typeCount; id++ {
		if id == idArray {
			continue
		}
		m[typeTable[id].name] = DataType{id: id}
	}
	return m
}()

const arrayPrefix = "array"

// ParseDataType accepts canonical names, documented aliases and
// "array/<sub>". Unknown names and an array without a subtype return an
// error matching errors.ErrUnsupportedType.
func ParseDataType(name string) (DataType, error) {
	if dt, ok := canonical[name]; ok {
		return dt, nil
	}
	if dt, ok := aliases[name]; ok {
		return dt, nil
	}
	if rest, ok := strings.CutPrefix(name, arrayPrefix); ok {
		sub, hasSlash := strings.CutPrefix(rest, "/")
		if !hasSlash || sub == "" {
			return DataType{}, unsupportedType(name, "array missing subtype")
		}
		return ArrayOf(sub)
	}
	return DataType{}, unsupportedType(name, "")
}

// MustParseDataType is ParseDataType for static names; it panics on error.
func MustParseDataType(name string) DataType {
	dt, err := ParseDataType(name)
	if err != nil {
		panic(err)
	}
	return dt
}

func unsupportedType(name, detail string) error {
	err := fmt.Errorf("%w: unknown meta: %s", errors.ErrUnsupportedType, name)
	if detail != "" {
		err = fmt.Errorf("%w (%s)", err, detail)
	}
	return errors.WrapInvalid(err, "model", "ParseDataType", "parse")
}

// ArrayOf returns the array type whose items are of type sub. The subtype is
// kept verbatim; "auto" places no constraint on items.
func ArrayOf(sub string) (DataType, error) {
	if sub == "" {
		return DataType{}, unsupportedType(arrayPrefix, "array missing subtype")
	}
	return DataType{id: idArray, sub: sub}, nil
}

// DataTypes returns every canonical non-array type.
func DataTypes() []DataType {
	out := make([]DataType, 0, typeCount)
	for id := typeID(0); id < typeCount; id++ {
		if id != idArray {
			out = append(out, DataType{id: id})
		}
	}
	return out
}

// Aliases returns a copy of the alias table.
func Aliases() map[string]DataType {
	out := make(map[string]DataType, len(aliases))
	for k, v := range aliases {
		out[k] = v
	}
	return out
}

// String renders the canonical name; arrays render as "array/<sub>".
func (d DataType) String() string {
	if d.id == idArray {
		return arrayPrefix + "/" + d.sub
	}
	return typeTable[d.id].name
}

// StaticName is the canonical name without the array subtype.
func (d DataType) StaticName() string { return typeTable[d.id].name }

// IsArray reports whether d is an array type.
func (d DataType) IsArray() bool { return d.id == idArray }

// IsAuto reports whether d places no constraint on its value.
func (d DataType) IsAuto() bool { return d.id == idAuto }

// IsIgnore reports whether d is the placeholder type.
func (d DataType) IsIgnore() bool { return d.id == idIgnore }

// Sub returns the item type name of an array, or "".
func (d DataType) Sub() string { return d.sub }

// ParsePatternFirst reports whether a parser should try the type's pattern
// before falling back to free text.
func (d DataType) ParsePatternFirst() bool {
	switch d.id {
	case idChars, idIgnore, idSN, idAuto:
		return false
	default:
		return true
	}
}

// TimeFormat returns the encoding implied by a time type.
func (d DataType) TimeFormat() (TimeFormat, bool) {
	switch d.id {
	case idTime:
		return TimeDefault, true
	case idTimeISO:
		return TimeISO, true
	case idTimeRFC3339:
		return TimeRFC3339, true
	case idTimeRFC2822:
		return TimeRFC2822, true
	case idTimeTimestamp:
		return TimeUnix, true
	case idTimeCLF:
		return TimeCLF, true
	default:
		return 0, false
	}
}

// Accepts reports whether a value of kind k may be declared as d.
// Null is accepted by every type; Auto accepts every kind.
func (d DataType) Accepts(k Kind) bool {
	if k == KindNull || d.id == idAuto {
		return true
	}
	for _, allowed := range typeTable[d.id].kinds {
		if allowed == k {
			return true
		}
	}
	return false
}

// TypeOf returns the natural declared type of a value.
func TypeOf(v Value) DataType {
	switch x := v.(type) {
	case Null:
		return TypeAuto
	case Bool:
		return TypeBool
	case Chars:
		return TypeChars
	case Symbol:
		return TypeSymbol
	case Digit:
		return TypeDigit
	case Float:
		return TypeFloat
	case Hex:
		return TypeHex
	case Time:
		switch x.format {
		case TimeISO:
			return TypeTimeISO
		case TimeRFC3339:
			return TypeTimeRFC3339
		case TimeRFC2822:
			return TypeTimeRFC2822
		case TimeUnix:
			return TypeTimeTimestamp
		case TimeCLF:
			return TypeTimeCLF
		default:
			return TypeTime
		}
	case IPAddr:
		return TypeIP
	case IPNet:
		return TypeIPNet
	case Domain:
		return TypeDomain
	case URL:
		return TypeURL
	case Email:
		return TypeEmail
	case IDCard:
		return TypeIDCard
	case MobilePhone:
		return TypeMobilePhone
	case Ignore:
		return TypeIgnore
	case Object:
		return TypeObj
	case Array:
		return DataType{id: idArray, sub: arraySub(x)}
	default:
		panic(unknownKind(v.Kind()))
	}
}

func arraySub(a Array) string {
	if len(a.items) == 0 {
		return "auto"
	}
	return a.items[0].meta.String()
}

// MarshalText implements encoding.TextMarshaler.
func (d DataType) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *DataType) UnmarshalText(b []byte) error {
	dt, err := ParseDataType(string(b))
	if err != nil {
		return err
	}
	*d = dt
	return nil
}
