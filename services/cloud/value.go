package cloud

import (
	"encoding/json"
	"math"
	"strconv"

	"pwmlight-go/errcode"
)

// DataType is the wire type of a parameter value.
type DataType string

const (
	TypeBool   DataType = "bool"
	TypeInt    DataType = "int"
	TypeFloat  DataType = "float"
	TypeString DataType = "string"
)

// Value is a typed parameter value.
type Value struct {
	t DataType
	b bool
	i int
	f float64
	s string
}

func Bool(b bool) Value     { return Value{t: TypeBool, b: b} }
func Int(i int) Value       { return Value{t: TypeInt, i: i} }
func Float(f float64) Value { return Value{t: TypeFloat, f: f} }
func String(s string) Value { return Value{t: TypeString, s: s} }

func (v Value) Type() DataType { return v.t }
func (v Value) IsZero() bool   { return v.t == "" }
func (v Value) Bool() bool     { return v.b }
func (v Value) Int() int       { return v.i }
func (v Value) Float() float64 { return v.f }
func (v Value) Str() string    { return v.s }

// Any returns the value as a plain Go value for bus and JSON payloads.
func (v Value) Any() any {
	switch v.t {
	case TypeBool:
		return v.b
	case TypeInt:
		return v.i
	case TypeFloat:
		return v.f
	case TypeString:
		return v.s
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.t {
	case TypeBool:
		return strconv.FormatBool(v.b)
	case TypeInt:
		return strconv.Itoa(v.i)
	case TypeFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case TypeString:
		return strconv.Quote(v.s)
	default:
		return "<nil>"
	}
}

func (v Value) MarshalJSON() ([]byte, error) { return json.Marshal(v.Any()) }

// Coerce converts a decoded payload value into a Value of type t. JSON numbers
// arrive as float64 and become ints when integral; anything else that does not
// fit t is rejected with errcode.InvalidPayload.
func Coerce(t DataType, raw any) (Value, error) {
	if v, ok := raw.(Value); ok {
		raw = v.Any()
	}
	switch t {
	case TypeBool:
		if b, ok := raw.(bool); ok {
			return Bool(b), nil
		}
	case TypeInt:
		switch n := raw.(type) {
		case int:
			return Int(n), nil
		case int32:
			return Int(int(n)), nil
		case int64:
			return Int(int(n)), nil
		case uint8:
			return Int(int(n)), nil
		case uint16:
			return Int(int(n)), nil
		case uint32:
			return Int(int(n)), nil
		case float64:
			if n == math.Trunc(n) && !math.IsInf(n, 0) {
				return Int(int(n)), nil
			}
		case json.Number:
			if i, err := n.Int64(); err == nil {
				return Int(int(i)), nil
			}
		}
	case TypeFloat:
		switch n := raw.(type) {
		case float64:
			return Float(n), nil
		case float32:
			return Float(float64(n)), nil
		case int:
			return Float(float64(n)), nil
		case json.Number:
			if f, err := n.Float64(); err == nil {
				return Float(f), nil
			}
		}
	case TypeString:
		if s, ok := raw.(string); ok {
			return String(s), nil
		}
	}
	return Value{}, &errcode.E{C: errcode.InvalidPayload, Op: "cloud.coerce", Msg: "want " + string(t)}
}
