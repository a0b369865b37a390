package automation

import (
	"strconv"
	"strings"

	"github.com/urmzd/zgw/pkg/gwerr"
	"github.com/urmzd/zgw/pkg/zbmodel"
)

// The authoring CBOR schema accepts numbers either as native CBOR integers
// or as numeric strings (the UI sometimes round-trips them through JSON),
// mirroring automation_compiled.c's parse_u16_any_cbor/parse_u32_any_cbor.

func asUint32(v interface{}) (uint32, bool) {
	switch n := v.(type) {
	case uint64:
		if n <= 0xffffffff {
			return uint32(n), true
		}
	case int64:
		if n >= 0 && n <= 0xffffffff {
			return uint32(n), true
		}
	case float64:
		if n >= 0 && n <= 0xffffffff && n == float64(uint32(n)) {
			return uint32(n), true
		}
	case string:
		u, err := strconv.ParseUint(strings.TrimSpace(n), 0, 32)
		if err == nil {
			return uint32(u), true
		}
	}
	return 0, false
}

func asUint16(v interface{}) (uint16, bool) {
	u, ok := asUint32(v)
	if !ok || u > 0xffff {
		return 0, false
	}
	return uint16(u), true
}

func asBool(v interface{}) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

func asFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case uint64:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err == nil {
			return f, true
		}
	}
	return 0, false
}

func asString(v interface{}) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func isUIDString(s string) bool {
	_, err := zbmodel.ParseUID(s)
	return err == nil
}

func getMap(m map[string]interface{}, key string) (map[string]interface{}, bool) {
	v, ok := m[key]
	if !ok {
		return nil, false
	}
	sub, ok := v.(map[string]interface{})
	return sub, ok
}

// errf wraps gwerr.ErrInvalidArgs with a field-specific message, matching
// automation_compiled.c's set_err diagnostics.
func errf(msg string) error {
	return &compileError{msg: msg}
}

type compileError struct{ msg string }

func (e *compileError) Error() string { return "automation compile: " + e.msg }
func (e *compileError) Unwrap() error { return gwerr.ErrInvalidArgs }
