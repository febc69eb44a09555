package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Scalar is a config value authored either as a string or as a number
type Scalar string

// UnmarshalJSON accepts strings, numbers and booleans
func (s *Scalar) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = Scalar(str)
		return nil
	}
	*s = Scalar(data)
	return nil
}

// UnmarshalYAML accepts any scalar node
func (s *Scalar) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var v interface{}
	if err := unmarshal(&v); err != nil {
		return err
	}
	if v == nil {
		*s = ""
		return nil
	}
	*s = Scalar(fmt.Sprint(v))
	return nil
}

// IntOr parses the scalar as an integer, returning def when empty or invalid
func (s Scalar) IntOr(def int) int {
	str := strings.TrimSpace(string(s))
	if str == "" {
		return def
	}
	if i, err := strconv.Atoi(str); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(str, 64); err == nil {
		return int(f)
	}
	return def
}

// ============================================================================
// Session variable helpers
// Variables round-trip through JSON, so numbers arrive as float64.
// ============================================================================

// ValueString renders a variable value as text
func ValueString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// VarString returns the named variable rendered as text, "" when missing
func VarString(vars map[string]any, name string) string {
	if vars == nil {
		return ""
	}
	return ValueString(vars[name])
}

// Truthy mirrors the loose truthiness used by authored conditions:
// nil, "", 0 and false are false.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case []any:
		return true
	default:
		return ValueString(v) != ""
	}
}

// ToNumber converts a value to float64, NaN-free: invalid input yields ok=false
func ToNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case nil:
		return 0, true
	}
	str := strings.TrimSpace(ValueString(v))
	if str == "" {
		return 0, true
	}
	f, err := strconv.ParseFloat(str, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// AtoiOr parses a leading integer, returning def on failure
func AtoiOr(s string, def int) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int(f)
	}
	return def
}
