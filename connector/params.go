package connector

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/wp-labs/wp-open-api/errors"
)

// ParamMap is the flattened parameter set handed to a connector factory.
// Values are the scalar, list and map shapes produced by JSON, YAML or TOML
// decoding. Keys iterate in sorted order through Keys.
type ParamMap map[string]any

// Keys returns the parameter names in ascending order.
func (p ParamMap) Keys() []string {
	return slices.Sorted(maps.Keys(p))
}

// Clone returns a shallow copy.
func (p ParamMap) Clone() ParamMap {
	out := make(ParamMap, len(p))
	maps.Copy(out, p)
	return out
}

// Merge returns a copy of p overlaid with override. Only keys listed in
// allowed may be overridden; a nil allowed list permits every key.
func (p ParamMap) Merge(override ParamMap, allowed []string) (ParamMap, error) {
	out := p.Clone()
	for _, k := range slices.Sorted(maps.Keys(override)) {
		if allowed != nil && !slices.Contains(allowed, k) {
			return nil, invalidParam(k, "Merge", "override not allowed")
		}
		out[k] = override[k]
	}
	return out, nil
}

// Has reports whether key is present.
func (p ParamMap) Has(key string) bool {
	_, ok := p[key]
	return ok
}

func invalidParam(key, method, detail string) error {
	return errors.WrapInvalid(
		fmt.Errorf("%w: param %q: %s", errors.ErrInvalidConfig, key, detail),
		"ParamMap", method, "read param")
}

// RequireString returns a non-empty string parameter.
func (p ParamMap) RequireString(key string) (string, error) {
	v, ok := p[key]
	if !ok {
		return "", errors.WrapInvalid(
			fmt.Errorf("%w: param %q", errors.ErrMissingConfig, key),
			"ParamMap", "RequireString", "read param")
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", invalidParam(key, "RequireString", "expected non-empty string")
	}
	return s, nil
}

// String returns a string parameter or def when absent.
func (p ParamMap) String(key, def string) (string, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	switch x := v.(type) {
	case string:
		return x, nil
	case fmt.Stringer:
		return x.String(), nil
	default:
		return "", invalidParam(key, "String", fmt.Sprintf("expected string, got %T", v))
	}
}

// Int returns an integer parameter or def when absent. Strings holding an
// integer are accepted.
func (p ParamMap) Int(key string, def int64) (int64, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint64:
		return int64(x), nil
	case float64:
		if x != float64(int64(x)) {
			return 0, invalidParam(key, "Int", "expected integer")
		}
		return int64(x), nil
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return 0, invalidParam(key, "Int", err.Error())
		}
		return n, nil
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		if err != nil {
			return 0, invalidParam(key, "Int", err.Error())
		}
		return n, nil
	default:
		return 0, invalidParam(key, "Int", fmt.Sprintf("expected integer, got %T", v))
	}
}

// Bool returns a boolean parameter or def when absent.
func (p ParamMap) Bool(key string, def bool) (bool, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		b, err := strconv.ParseBool(x)
		if err != nil {
			return false, invalidParam(key, "Bool", err.Error())
		}
		return b, nil
	default:
		return false, invalidParam(key, "Bool", fmt.Sprintf("expected bool, got %T", v))
	}
}

// Duration returns a duration parameter or def when absent. Strings use
// time.ParseDuration syntax; integers are milliseconds.
func (p ParamMap) Duration(key string, def time.Duration) (time.Duration, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	if s, isString := v.(string); isString {
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, invalidParam(key, "Duration", err.Error())
		}
		return d, nil
	}
	ms, err := p.Int(key, 0)
	if err != nil {
		return 0, invalidParam(key, "Duration", "expected duration string or milliseconds")
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// StringSlice returns a list of strings or def when absent. A single string
// is returned as a one-element list.
func (p ParamMap) StringSlice(key string, def []string) ([]string, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	switch x := v.(type) {
	case string:
		return []string{x}, nil
	case []string:
		return slices.Clone(x), nil
	case []any:
		out := make([]string, 0, len(x))
		for i, item := range x {
			s, isString := item.(string)
			if !isString {
				return nil, invalidParam(key, "StringSlice", fmt.Sprintf("item %d is %T", i, item))
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, invalidParam(key, "StringSlice", fmt.Sprintf("expected list, got %T", v))
	}
}

// IntSlice returns a list of integers or def when absent. A single integer
// is returned as a one-element list; items follow the Int rules.
func (p ParamMap) IntSlice(key string, def []int64) ([]int64, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	var items []any
	switch x := v.(type) {
	case []any:
		items = x
	case []int:
		for _, n := range x {
			items = append(items, n)
		}
	case []int64:
		return slices.Clone(x), nil
	default:
		items = []any{x}
	}
	out := make([]int64, 0, len(items))
	for i, item := range items {
		n, err := ParamMap{key: item}.Int(key, 0)
		if err != nil {
			return nil, invalidParam(key, "IntSlice", fmt.Sprintf("item %d: %v", i, err))
		}
		out = append(out, n)
	}
	return out, nil
}

// StringMap returns a map of string values or def when absent. Scalar
// values are rendered with fmt.Sprint so YAML numbers and booleans can be
// used as header values.
func (p ParamMap) StringMap(key string, def map[string]string) (map[string]string, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	switch x := v.(type) {
	case map[string]string:
		return maps.Clone(x), nil
	case map[string]any:
		out := make(map[string]string, len(x))
		for k, item := range x {
			switch item.(type) {
			case map[string]any, []any:
				return nil, invalidParam(key, "StringMap", fmt.Sprintf("value of %q is %T", k, item))
			}
			out[k] = fmt.Sprint(item)
		}
		return out, nil
	case ParamMap:
		return ParamMap{key: map[string]any(x)}.StringMap(key, def)
	default:
		return nil, invalidParam(key, "StringMap", fmt.Sprintf("expected map, got %T", v))
	}
}

// Normalize converts decoder-specific values into the shapes ParamMap
// accessors understand: nested maps become map[string]any, times become
// RFC 3339 strings.
func Normalize(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = Normalize(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[fmt.Sprint(k)] = Normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = Normalize(item)
		}
		return out
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		return v
	}
}

// NormalizeMap applies Normalize to every value of m.
func NormalizeMap(m map[string]any) ParamMap {
	out := make(ParamMap, len(m))
	for k, v := range m {
		out[k] = Normalize(v)
	}
	return out
}
