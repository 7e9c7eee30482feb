package marketplace

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// Payload is a semi-structured marketplace response. Marketplaces add and
// remove fields without notice, so every access tolerates absence and wrong
// types, falling back to a zero value instead of failing.
type Payload map[string]any

// ParsePayload decodes a JSON object body into a Payload.
func ParsePayload(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return p, nil
}

// Obj returns the nested object under key, or an empty Payload.
func (p Payload) Obj(key string) Payload {
	if m, ok := p[key].(map[string]any); ok {
		return Payload(m)
	}
	return Payload{}
}

// Arr returns the array under key, or nil.
func (p Payload) Arr(key string) []any {
	if a, ok := p[key].([]any); ok {
		return a
	}
	return nil
}

// Str returns the first non-empty string found under the given keys.
func (p Payload) Str(keys ...string) string {
	for _, key := range keys {
		if s, ok := p[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// Num returns the first numeric value found under the given keys. It accepts
// JSON numbers, numeric strings with currency noise ("12 990 ₽"), and
// {value|price|amount: n} wrappers, which is the full set of shapes the
// marketplaces have been seen to use.
func (p Payload) Num(keys ...string) float64 {
	for _, key := range keys {
		if n, ok := asNum(p[key]); ok && n != 0 {
			return n
		}
	}
	return 0
}

var digitRun = regexp.MustCompile(`\d+`)

func asNum(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		cleaned := strings.NewReplacer(" ", "", " ", "", ",", "").Replace(t)
		if m := digitRun.FindString(cleaned); m != "" {
			n, err := strconv.ParseFloat(m, 64)
			return n, err == nil
		}
	case map[string]any:
		for _, inner := range []string{"value", "price", "amount"} {
			if n, ok := asNum(t[inner]); ok && n != 0 {
				return n, true
			}
		}
	}
	return 0, false
}

// Bool returns the boolean under the first matching key; def when absent.
func (p Payload) Bool(def bool, keys ...string) bool {
	for _, key := range keys {
		if b, ok := p[key].(bool); ok {
			return b
		}
	}
	return def
}

// Strings returns the string elements of the array under key.
func (p Payload) Strings(key string) []string {
	arr := p.Arr(key)
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Pairs flattens a list of {name,value} or {key,value} objects into a map.
// Non-object elements and pairs with an empty name are dropped.
func (p Payload) Pairs(key string) map[string]string {
	out := make(map[string]string)
	for _, v := range p.Arr(key) {
		obj, ok := v.(map[string]any)
		if !ok {
			continue
		}
		name, _ := obj["name"].(string)
		if name == "" {
			name, _ = obj["key"].(string)
		}
		if name == "" {
			continue
		}
		if val := stringify(obj["value"]); val != "" {
			out[name] = val
		}
	}
	return out
}

// StringMap returns the object under key coerced to string values.
func (p Payload) StringMap(key string) map[string]string {
	obj := p.Obj(key)
	if len(obj) == 0 {
		return nil
	}
	out := make(map[string]string, len(obj))
	for k, v := range obj {
		if s := stringify(v); s != "" {
			out[k] = s
		}
	}
	return out
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}
