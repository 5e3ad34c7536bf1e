package validation

import (
	"encoding/json"
	"reflect"
	"strconv"
	"strings"
)

// Kind is the runtime type class of a document value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindList
	KindMapping
	KindOther
)

var kindNames = [...]string{
	KindNull:    "null",
	KindString:  "string",
	KindInt:     "int",
	KindFloat:   "float",
	KindBool:    "bool",
	KindList:    "list",
	KindMapping: "mapping",
	KindOther:   "unknown",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return kindNames[KindOther]
}

// KindOf classifies v by exact type identity. json.Number values are ints when the
// literal has no fraction or exponent.
func KindOf(v any) Kind {
	switch x := v.(type) {
	case nil:
		return KindNull
	case string:
		return KindString
	case bool:
		return KindBool
	case json.Number:
		if strings.ContainsAny(string(x), ".eE") {
			return KindFloat
		}
		return KindInt
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return KindInt
	case float32, float64:
		return KindFloat
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Slice, reflect.Array:
		return KindList
	case reflect.Map:
		return KindMapping
	}
	return KindOther
}

func numberValue(v any) (float64, bool) {
	switch x := v.(type) {
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

func collectionLen(v any) (int, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len(), true
	}
	return 0, false
}

// valueText renders scalars the way they appear in input files.
func valueText(v any) string {
	switch x := v.(type) {
	case string:
		return "'" + x + "'"
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	case nil:
		return "null"
	}
	if f, ok := numberValue(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "?"
	}
	return string(data)
}

// scalarText is the comparison form used by domain membership rules.
func scalarText(v any) (string, bool) {
	switch KindOf(v) {
	case KindString:
		return v.(string), true
	case KindInt:
		if n, ok := v.(json.Number); ok {
			return n.String(), true
		}
		f, _ := numberValue(v)
		return strconv.FormatFloat(f, 'f', -1, 64), true
	}
	return "", false
}
