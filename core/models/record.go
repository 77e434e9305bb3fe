package models

import (
	"encoding/hex"
	"strconv"
	"strings"
)

// LogRecord is one decoded sample from a recording: a timestamp in
// nanoseconds, the channel (field) name it belongs to, and its value.
type LogRecord struct {
	Timestamp int64
	Channel   string
	Value     Value
}

// ValueKind identifies the variant held by a Value.
type ValueKind int

const (
	ValueFloat ValueKind = iota
	ValueInt
	ValueBool
	ValueText
	ValueBinary
	ValueList
)

// Value is a closed tagged variant for decoded field values. Decoders
// populate exactly one of the payload fields according to Kind.
type Value struct {
	Kind  ValueKind
	Float float64
	Int   int64
	Bool  bool
	Text  string
	Bytes []byte
	List  []Value
}

// FloatValue builds a float variant.
func FloatValue(v float64) Value { return Value{Kind: ValueFloat, Float: v} }

// IntValue builds an integer variant.
func IntValue(v int64) Value { return Value{Kind: ValueInt, Int: v} }

// BoolValue builds a boolean variant.
func BoolValue(v bool) Value { return Value{Kind: ValueBool, Bool: v} }

// TextValue builds a text variant.
func TextValue(v string) Value { return Value{Kind: ValueText, Text: v} }

// BinaryValue builds a binary variant.
func BinaryValue(v []byte) Value { return Value{Kind: ValueBinary, Bytes: v} }

// ListValue builds an ordered-list variant.
func ListValue(items []Value) Value { return Value{Kind: ValueList, List: items} }

// AsFloat returns the numeric reading of the value. Text parses as a
// float when possible; non-numeric variants report false.
func (v Value) AsFloat() (float64, bool) {
	switch v.Kind {
	case ValueFloat:
		return v.Float, true
	case ValueInt:
		return float64(v.Int), true
	case ValueText:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Text), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// String renders the value for tabular output. Every variant has a fixed
// rule: booleans lowercase, binary hex up to 100 bytes then a marker,
// lists comma-joined.
func (v Value) String() string {
	switch v.Kind {
	case ValueFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case ValueInt:
		return strconv.FormatInt(v.Int, 10)
	case ValueBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case ValueText:
		return v.Text
	case ValueBinary:
		if len(v.Bytes) < 100 {
			return hex.EncodeToString(v.Bytes)
		}
		return "[binary data]"
	case ValueList:
		parts := make([]string, len(v.List))
		for i, item := range v.List {
			parts[i] = item.String()
		}
		return strings.Join(parts, ",")
	default:
		return ""
	}
}

// Coordinate is a WGS84 (longitude, latitude) pair in degrees.
type Coordinate struct {
	Lon float64
	Lat float64
}

// GeoPath is an ordered GPS trace. Downstream consumers require at
// least two points.
type GeoPath []Coordinate
