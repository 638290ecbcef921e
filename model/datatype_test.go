package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wp-labs/wp-open-api/errors"
)

func TestParseDataType_Canonical(t *testing.T) {
	names := []string{
		"bool", "chars", "symbol", "peek_symbol", "digit", "float", "_", "auto",
		"time", "time_iso", "time_3339", "time_2822", "time_timestamp", "time_clf",
		"ip", "ip_net", "domain", "email", "port", "url",
		"sn", "hex", "base64", "kv", "json", "exact_json", "proto_text", "obj",
		"id_card", "mobile_phone",
		"http/request", "http/status", "http/agent", "http/method",
	}
	require.Len(t, DataTypes(), len(names))

	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			dt, err := ParseDataType(name)
			require.NoError(t, err)
			assert.Equal(t, name, dt.String())
		})
	}
}

func TestParseDataType_EveryTypeRoundTrips(t *testing.T) {
	for _, dt := range DataTypes() {
		parsed, err := ParseDataType(dt.String())
		require.NoError(t, err, dt.String())
		assert.Equal(t, dt, parsed)
	}
}

func TestParseDataType_Aliases(t *testing.T) {
	tests := map[string]string{
		"time/apache":     "time_clf",
		"time/clf":        "time_clf",
		"time/httpd":      "time_clf",
		"time/nginx":      "time_clf",
		"time/timestamp":  "time_timestamp",
		"time/epoch":      "time_timestamp",
		"time/rfc3339":    "time_3339",
		"time/rfc2822":    "time_2822",
		"json/strict":     "exact_json",
		"proto/text":      "proto_text",
		"http/user_agent": "http/agent",
		"object":          "obj",
		"symbol/peek":     "peek_symbol",
		"http_request":    "http/request",
		"http_status":     "http/status",
		"http_agent":      "http/agent",
		"http_method":     "http/method",
	}
	assert.Len(t, Aliases(), len(tests))

	for alias, canonical := range tests {
		t.Run(alias, func(t *testing.T) {
			dt, err := ParseDataType(alias)
			require.NoError(t, err)
			assert.Equal(t, canonical, dt.String())
		})
	}
}

func TestParseDataType_Array(t *testing.T) {
	dt, err := ParseDataType("array/json")
	require.NoError(t, err)
	assert.True(t, dt.IsArray())
	assert.Equal(t, "json", dt.Sub())
	assert.Equal(t, "array/json", dt.String())
	assert.Equal(t, "array", dt.StaticName())

	dt, err = ParseDataType("array/digit")
	require.NoError(t, err)
	assert.Equal(t, "array/digit", dt.String())

	for _, bad := range []string{"array", "array/", "arrayfoo"} {
		t.Run(bad, func(t *testing.T) {
			_, err := ParseDataType(bad)
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrUnsupportedType)
			assert.True(t, errors.IsInvalid(err))
			assert.Contains(t, err.Error(), "array missing subtype")
		})
	}
}

func TestParseDataType_Unknown(t *testing.T) {
	for _, bad := range []string{"", "int", "BOOL", "time/unix", "ignore"} {
		_, err := ParseDataType(bad)
		assert.ErrorIs(t, err, errors.ErrUnsupportedType, "name %q", bad)
		assert.Contains(t, err.Error(), "unknown meta: "+bad)
	}

	assert.Panics(t, func() { MustParseDataType("nope") })
	assert.Equal(t, TypeDigit, MustParseDataType("digit"))
}

func TestDataType_ZeroIsAuto(t *testing.T) {
	var dt DataType
	assert.Equal(t, TypeAuto, dt)
	assert.True(t, dt.IsAuto())
}

func TestDataType_Accepts(t *testing.T) {
	assert.True(t, TypeDigit.Accepts(KindDigit))
	assert.False(t, TypeDigit.Accepts(KindChars))
	assert.True(t, TypePort.Accepts(KindDigit))
	assert.True(t, TypeJSON.Accepts(KindObject))
	assert.True(t, TypeJSON.Accepts(KindChars))
	assert.False(t, TypeObj.Accepts(KindChars))
	assert.True(t, TypeIP.Accepts(KindIPAddr))
	assert.False(t, TypeIP.Accepts(KindIPNet))

	for _, k := range Kinds() {
		assert.True(t, TypeAuto.Accepts(k), "auto accepts %s", k)
	}
	for _, dt := range DataTypes() {
		assert.True(t, dt.Accepts(KindNull), "%s accepts null", dt)
	}
}

func TestDataType_ParsePatternFirst(t *testing.T) {
	for _, dt := range []DataType{TypeChars, TypeIgnore, TypeSN, TypeAuto} {
		assert.False(t, dt.ParsePatternFirst(), dt.String())
	}
	assert.True(t, TypeDigit.ParsePatternFirst())
	assert.True(t, TypeTimeCLF.ParsePatternFirst())
}

func TestDataType_TimeFormat(t *testing.T) {
	f, ok := TypeTimeCLF.TimeFormat()
	assert.True(t, ok)
	assert.Equal(t, TimeCLF, f)

	_, ok = TypeDigit.TimeFormat()
	assert.False(t, ok)
}

func TestDataType_Text(t *testing.T) {
	var cfg struct {
		Types []DataType `json:"types"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"types":["digit","time/nginx","array/ip"]}`), &cfg))
	require.Len(t, cfg.Types, 3)
	assert.Equal(t, TypeDigit, cfg.Types[0])
	assert.Equal(t, TypeTimeCLF, cfg.Types[1])
	assert.Equal(t, "array/ip", cfg.Types[2].String())

	out, err := json.Marshal(cfg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"types":["digit","time_clf","array/ip"]}`, string(out))

	assert.Error(t, json.Unmarshal([]byte(`{"types":["array"]}`), &cfg))
}
