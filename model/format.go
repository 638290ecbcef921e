package model

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/wp-labs/wp-open-api/errors"
)

// TextFmt selects how a record is rendered as text.
type TextFmt uint8

const (
	FmtRaw TextFmt = iota
	FmtJSON
	FmtCSV
	FmtShow
	FmtKV
	FmtProto
	FmtProtoText
)

// ParseTextFmt maps a format name to a TextFmt. Unknown names select raw.
func ParseTextFmt(s string) TextFmt {
	switch s {
	case "json":
		return FmtJSON
	case "csv":
		return FmtCSV
	case "show":
		return FmtShow
	case "kv":
		return FmtKV
	case "proto":
		return FmtProto
	case "proto-text":
		return FmtProtoText
	default:
		return FmtRaw
	}
}

func (f TextFmt) String() string {
	switch f {
	case FmtJSON:
		return "json"
	case FmtCSV:
		return "csv"
	case FmtShow:
		return "show"
	case FmtKV:
		return "kv"
	case FmtProto:
		return "proto"
	case FmtProtoText:
		return "proto-text"
	default:
		return "raw"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (f TextFmt) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *TextFmt) UnmarshalText(b []byte) error {
	*f = ParseTextFmt(string(b))
	return nil
}

// Format renders a record. Placeholder fields are skipped. The binary proto
// format is not produced by this package and returns an unsupported error.
func Format(f TextFmt, r SharedRecord) (string, error) {
	switch f {
	case FmtRaw:
		return formatRaw(r), nil
	case FmtJSON:
		return formatJSON(r)
	case FmtCSV:
		return formatCSV(r)
	case FmtShow:
		return r.String(), nil
	case FmtKV:
		return formatKV(r), nil
	case FmtProtoText:
		var b strings.Builder
		writeProtoText(&b, r.items, 0)
		return b.String(), nil
	case FmtProto:
		return "", errors.WrapInvalid(errors.Unsupported("proto format"), "model", "Format", "render record")
	default:
		return "", errors.WrapInvalid(fmt.Errorf("unknown format %d", f), "model", "Format", "render record")
	}
}

func visible(items []Field) []Field {
	out := make([]Field, 0, len(items))
	for _, f := range items {
		if !f.meta.IsIgnore() {
			out = append(out, f)
		}
	}
	return out
}

func formatRaw(r SharedRecord) string {
	parts := make([]string, 0, len(r.items))
	for _, f := range visible(r.items) {
		parts = append(parts, f.Value().String())
	}
	return strings.Join(parts, " ")
}

func formatKV(r SharedRecord) string {
	var b strings.Builder
	for i, f := range visible(r.items) {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(f.name)
		b.WriteByte('=')
		s := f.Value().String()
		if strings.ContainsAny(s, " \t\"=") {
			s = strconv.Quote(s)
		}
		b.WriteString(s)
	}
	return b.String()
}

func formatCSV(r SharedRecord) (string, error) {
	fields := visible(r.items)
	row := make([]string, len(fields))
	for i, f := range fields {
		row[i] = f.Value().String()
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(row); err != nil {
		return "", errors.Wrap(err, "model", "Format", "write csv")
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", errors.Wrap(err, "model", "Format", "flush csv")
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

func formatJSON(r SharedRecord) (string, error) {
	var buf bytes.Buffer
	if err := writeJSONObject(&buf, visible(r.items)); err != nil {
		return "", errors.Wrap(err, "model", "Format", "write json")
	}
	return buf.String(), nil
}

// writeJSONObject keeps record order, which encoding/json maps would not.
func writeJSONObject(buf *bytes.Buffer, fields []Field) error {
	buf.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.name)
		if err != nil {
			return err
		}
		buf.Write(key)
		buf.WriteByte(':')
		if err := writeJSONValue(buf, f.Value()); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func writeJSONValue(buf *bytes.Buffer, v Value) error {
	switch v.Kind() {
	case KindNull, KindIgnore:
		buf.WriteString("null")
		return nil
	case KindBool, KindDigit:
		buf.WriteString(v.String())
		return nil
	case KindFloat:
		b, err := json.Marshal(float64(v.(Float)))
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	case KindObject:
		return writeJSONObject(buf, v.(Object).fields)
	case KindArray:
		buf.WriteByte('[')
		for i, item := range v.(Array).items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSONValue(buf, item.Value()); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case KindChars, KindSymbol, KindTime, KindHex, KindIPNet, KindIPAddr,
		KindDomain, KindURL, KindEmail, KindIDCard, KindMobilePhone:
		b, err := json.Marshal(v.String())
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	default:
		panic(unknownKind(v.Kind()))
	}
}

func writeProtoText(b *strings.Builder, fields []Field, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, f := range visible(fields) {
		v := f.Value()
		switch v.Kind() {
		case KindObject:
			fmt.Fprintf(b, "%s%s {\n", indent, f.name)
			writeProtoText(b, v.(Object).fields, depth+1)
			fmt.Fprintf(b, "%s}\n", indent)
		case KindArray:
			for _, item := range v.(Array).items {
				fmt.Fprintf(b, "%s%s: %s\n", indent, f.name, protoScalar(item.Value()))
			}
		default:
			fmt.Fprintf(b, "%s%s: %s\n", indent, f.name, protoScalar(v))
		}
	}
}

func protoScalar(v Value) string {
	switch v.Kind() {
	case KindBool, KindDigit, KindFloat:
		return v.String()
	default:
		return strconv.Quote(v.String())
	}
}
