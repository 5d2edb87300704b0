package encryption

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// Representation is the form a scheme accepts or produces.
type Representation int

const (
	// Text values carry a string (decimal numbers, base64 or "c1:c2" pairs).
	Text Representation = iota
	// Integer values carry an arbitrary-precision signed integer.
	Integer
)

func (r Representation) String() string {
	switch r {
	case Text:
		return "text"
	case Integer:
		return "integer"
	default:
		return fmt.Sprintf("Representation(%d)", int(r))
	}
}

// Value is a plaintext or ciphertext in one of the two representations.
// The zero Value is the empty text.
type Value struct {
	kind    Representation
	text    string
	integer *big.Int
}

// TextValue wraps a string.
func TextValue(s string) Value {
	return Value{kind: Text, text: s}
}

// IntegerValue wraps a copy of x. A nil x is treated as zero.
func IntegerValue(x *big.Int) Value {
	v := new(big.Int)
	if x != nil {
		v.Set(x)
	}
	return Value{kind: Integer, integer: v}
}

// Int64Value wraps a machine integer.
func Int64Value(x int64) Value {
	return Value{kind: Integer, integer: big.NewInt(x)}
}

// Kind reports which representation the value holds.
func (v Value) Kind() Representation {
	return v.kind
}

// String renders the value as text. Integers use base 10.
func (v Value) String() string {
	if v.kind == Integer {
		return v.integer.String()
	}
	return v.text
}

// AsText converts the value to its text form. It never fails for the two
// representations but returns an error for symmetry with AsInteger.
func (v Value) AsText() (string, error) {
	switch v.kind {
	case Text:
		return v.text, nil
	case Integer:
		return v.integer.String(), nil
	default:
		return "", fmt.Errorf("%w: unknown representation %v", ErrTypeCoercion, v.kind)
	}
}

// AsInteger converts the value to an integer. Text must be a base-10 integer,
// optionally signed and surrounded by whitespace.
func (v Value) AsInteger() (*big.Int, error) {
	switch v.kind {
	case Integer:
		return new(big.Int).Set(v.integer), nil
	case Text:
		s := strings.TrimSpace(v.text)
		x, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("%w: %q is not a decimal integer", ErrTypeCoercion, v.text)
		}
		return x, nil
	default:
		return nil, fmt.Errorf("%w: unknown representation %v", ErrTypeCoercion, v.kind)
	}
}

// As converts the value into the requested representation.
func (v Value) As(r Representation) (Value, error) {
	switch r {
	case Text:
		s, err := v.AsText()
		if err != nil {
			return Value{}, err
		}
		return TextValue(s), nil
	case Integer:
		x, err := v.AsInteger()
		if err != nil {
			return Value{}, err
		}
		return Value{kind: Integer, integer: x}, nil
	default:
		return Value{}, fmt.Errorf("%w: unknown representation %v", ErrTypeCoercion, r)
	}
}

// ValueOf converts a Go value into a Value. Supported inputs are Value, every
// signed and unsigned integer type, float32 and float64 (truncated toward
// zero), string, []byte (as text), *big.Int and big.Int. Anything else fails
// with ErrTypeCoercion.
func ValueOf(x any) (Value, error) {
	switch t := x.(type) {
	case Value:
		return t, nil
	case *Value:
		if t == nil {
			return Value{}, fmt.Errorf("%w: nil value", ErrTypeCoercion)
		}
		return *t, nil
	case int:
		return Int64Value(int64(t)), nil
	case int8:
		return Int64Value(int64(t)), nil
	case int16:
		return Int64Value(int64(t)), nil
	case int32:
		return Int64Value(int64(t)), nil
	case int64:
		return Int64Value(t), nil
	case uint:
		return IntegerValue(new(big.Int).SetUint64(uint64(t))), nil
	case uint8:
		return Int64Value(int64(t)), nil
	case uint16:
		return Int64Value(int64(t)), nil
	case uint32:
		return Int64Value(int64(t)), nil
	case uint64:
		return IntegerValue(new(big.Int).SetUint64(t)), nil
	case float32:
		return floatValue(float64(t))
	case float64:
		return floatValue(t)
	case string:
		return TextValue(t), nil
	case []byte:
		return TextValue(string(t)), nil
	case *big.Int:
		if t == nil {
			return Value{}, fmt.Errorf("%w: nil integer", ErrTypeCoercion)
		}
		return IntegerValue(t), nil
	case big.Int:
		return IntegerValue(&t), nil
	case nil:
		return Value{}, fmt.Errorf("%w: nil input", ErrTypeCoercion)
	default:
		return Value{}, fmt.Errorf("%w: unexpected type %T", ErrTypeCoercion, x)
	}
}

func floatValue(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}, fmt.Errorf("%w: %s has no integral part", ErrTypeCoercion, strconv.FormatFloat(f, 'g', -1, 64))
	}
	i, _ := big.NewFloat(math.Trunc(f)).Int(nil)
	return Value{kind: Integer, integer: i}, nil
}
