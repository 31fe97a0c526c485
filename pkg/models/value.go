package models

import (
	"encoding/base64"
	"encoding/json"
	"sort"
)

// ValueKind tags the concrete shape held by a Value.
type ValueKind int

const (
	ValueKindNull ValueKind = iota
	ValueKindBool
	ValueKindInt64
	ValueKindFloat64
	ValueKindString
	ValueKindBytes
	ValueKindList
	ValueKindObject
)

// Value is the runtime representation of everything flowing along a
// workflow edge: a recursive Null|Bool|Int64|Float64|String|Bytes|List|
// Object variant that round-trips losslessly to and from JSON, with Bytes
// carried as base64 on the wire.
type Value struct {
	kind ValueKind
	b    bool
	i    int64
	f    float64
	s    string
	by   []byte
	list []Value
	obj  map[string]Value
}

func NullValue() Value                { return Value{kind: ValueKindNull} }
func BoolValue(b bool) Value          { return Value{kind: ValueKindBool, b: b} }
func Int64Value(i int64) Value        { return Value{kind: ValueKindInt64, i: i} }
func Float64Value(f float64) Value    { return Value{kind: ValueKindFloat64, f: f} }
func StringValue(s string) Value      { return Value{kind: ValueKindString, s: s} }
func BytesValue(b []byte) Value       { return Value{kind: ValueKindBytes, by: append([]byte(nil), b...)} }
func ListValue(vs []Value) Value      { return Value{kind: ValueKindList, list: vs} }
func ObjectValue(m map[string]Value) Value {
	return Value{kind: ValueKindObject, obj: m}
}

func (v Value) Kind() ValueKind { return v.kind }
func (v Value) IsNull() bool    { return v.kind == ValueKindNull }

func (v Value) Bool() (bool, bool)          { return v.b, v.kind == ValueKindBool }
func (v Value) Int64() (int64, bool)        { return v.i, v.kind == ValueKindInt64 }
func (v Value) Float64() (float64, bool)    { return v.f, v.kind == ValueKindFloat64 }
func (v Value) String() (string, bool)      { return v.s, v.kind == ValueKindString }
func (v Value) Bytes() ([]byte, bool)       { return v.by, v.kind == ValueKindBytes }
func (v Value) List() ([]Value, bool)       { return v.list, v.kind == ValueKindList }
func (v Value) Object() (map[string]Value, bool) { return v.obj, v.kind == ValueKindObject }

// FromInterface converts a generic decoded-JSON interface{} (as produced by
// encoding/json, gojq, or handler code) into a Value. Bytes never appear
// here directly from JSON decoding — handlers that want a Bytes value must
// construct it explicitly; FromInterface treats []byte specially so Go
// handler code can hand back raw bytes without a manual base64 round trip.
func FromInterface(v any) Value {
	switch t := v.(type) {
	case nil:
		return NullValue()
	case bool:
		return BoolValue(t)
	case int:
		return Int64Value(int64(t))
	case int32:
		return Int64Value(int64(t))
	case int64:
		return Int64Value(t)
	case float32:
		return Float64Value(float64(t))
	case float64:
		// encoding/json decodes all numbers as float64; keep integral
		// floats as Int64 so templated round-trips stay byte-identical
		// for whole numbers.
		if t == float64(int64(t)) {
			return Int64Value(int64(t))
		}
		return Float64Value(t)
	case string:
		return StringValue(t)
	case []byte:
		return BytesValue(t)
	case []any:
		list := make([]Value, len(t))
		for i, item := range t {
			list[i] = FromInterface(item)
		}
		return ListValue(list)
	case map[string]any:
		obj := make(map[string]Value, len(t))
		for k, item := range t {
			obj[k] = FromInterface(item)
		}
		return ObjectValue(obj)
	default:
		// Fall back to a JSON round trip for any other concrete type
		// (structs, bun.JSONBMap, etc.) so callers never need a
		// type switch of their own before handing data to a Value.
		raw, err := json.Marshal(t)
		if err != nil {
			return NullValue()
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return NullValue()
		}
		return FromInterface(generic)
	}
}

// ToInterface converts a Value back into a plain interface{} suitable for
// json.Marshal, template evaluation, or handing to a handler. Bytes become
// a base64-encoded string, matching the wire representation (§3).
func (v Value) ToInterface() any {
	switch v.kind {
	case ValueKindNull:
		return nil
	case ValueKindBool:
		return v.b
	case ValueKindInt64:
		return v.i
	case ValueKindFloat64:
		return v.f
	case ValueKindString:
		return v.s
	case ValueKindBytes:
		return base64.StdEncoding.EncodeToString(v.by)
	case ValueKindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.ToInterface()
		}
		return out
	case ValueKindObject:
		out := make(map[string]any, len(v.obj))
		for k, item := range v.obj {
			out[k] = item.ToInterface()
		}
		return out
	default:
		return nil
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.ToInterface())
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return err
	}
	*v = FromInterface(generic)
	return nil
}

// Equal reports structural equality, comparing object keys in sorted order
// so map iteration order never affects the result.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case ValueKindNull:
		return true
	case ValueKindBool:
		return v.b == other.b
	case ValueKindInt64:
		return v.i == other.i
	case ValueKindFloat64:
		return v.f == other.f
	case ValueKindString:
		return v.s == other.s
	case ValueKindBytes:
		return string(v.by) == string(other.by)
	case ValueKindList:
		if len(v.list) != len(other.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(other.list[i]) {
				return false
			}
		}
		return true
	case ValueKindObject:
		if len(v.obj) != len(other.obj) {
			return false
		}
		for k, item := range v.obj {
			o, ok := other.obj[k]
			if !ok || !item.Equal(o) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Keys returns an Object value's keys in sorted order, for deterministic
// iteration (merge ordering in §4.2 relies on this).
func (v Value) Keys() []string {
	if v.kind != ValueKindObject {
		return nil
	}
	keys := make([]string, 0, len(v.obj))
	for k := range v.obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
