package domain

import (
	"strconv"

	commonv1 "go.opentelemetry.io/proto/otlp/common/v1"
)

// Bag is a decoded OTLP attribute bag. Values are native Go types as produced
// by DecodeValue; absent keys read through the typed accessors as "unknown"
// (String), 0 (Int, Float) or false (Bool).
type Bag map[string]any

// DecodeValue converts an OTLP AnyValue into a native Go value. Arrays recurse,
// kvlists become maps, and unknown or empty tags decode to nil.
func DecodeValue(v *commonv1.AnyValue) any {
	if v == nil {
		return nil
	}
	switch val := v.GetValue().(type) {
	case *commonv1.AnyValue_StringValue:
		return val.StringValue
	case *commonv1.AnyValue_IntValue:
		return val.IntValue
	case *commonv1.AnyValue_DoubleValue:
		return val.DoubleValue
	case *commonv1.AnyValue_BoolValue:
		return val.BoolValue
	case *commonv1.AnyValue_ArrayValue:
		items := val.ArrayValue.GetValues()
		out := make([]any, 0, len(items))
		for _, item := range items {
			out = append(out, DecodeValue(item))
		}
		return out
	case *commonv1.AnyValue_KvlistValue:
		out := make(map[string]any, len(val.KvlistValue.GetValues()))
		for _, kv := range val.KvlistValue.GetValues() {
			out[kv.GetKey()] = DecodeValue(kv.GetValue())
		}
		return out
	default:
		return nil
	}
}

// DecodeBag decodes a list of OTLP key/value records into a Bag,
// last-write-wins on duplicate keys.
func DecodeBag(attrs []*commonv1.KeyValue) Bag {
	bag := make(Bag, len(attrs))
	for _, kv := range attrs {
		bag[kv.GetKey()] = DecodeValue(kv.GetValue())
	}
	return bag
}

// String returns the string value for key, or "unknown" when absent or not a
// string.
func (b Bag) String(key string) string {
	if s, ok := b[key].(string); ok {
		return s
	}
	return "unknown"
}

// StringOr returns the string value for key, or fallback.
func (b Bag) StringOr(key, fallback string) string {
	if s, ok := b[key].(string); ok {
		return s
	}
	return fallback
}

// Int returns the integer value for key, coercing doubles and numeric strings.
// Claude Code serializes some counters as strings on the wire.
func (b Bag) Int(key string) int64 {
	switch v := b[key].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// Float returns the float value for key, coercing ints and numeric strings.
func (b Bag) Float(key string) float64 {
	switch v := b[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// Bool returns the bool value for key, or false.
func (b Bag) Bool(key string) bool {
	if v, ok := b[key].(bool); ok {
		return v
	}
	return false
}

// Has reports whether key is present in the bag.
func (b Bag) Has(key string) bool {
	_, ok := b[key]
	return ok
}
