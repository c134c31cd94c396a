package indexlevel

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/dwn-core/dwn/pkg/dwnerr"
)

// MaxEncodedValueLen is the largest encoded scalar IndexLevel will accept
// for a secondary key.
const MaxEncodedValueLen = 1024

// Value is a scalar indexed property value: exactly one of the three
// fields is meaningful, selected by Kind.
type Value struct {
	Kind   ValueKind
	String string
	Number float64
	Bool   bool
}

// ValueKind discriminates the variant held by a Value.
type ValueKind int

const (
	KindString ValueKind = iota
	KindNumber
	KindBool
)

// StringValue builds a string-kind Value.
func StringValue(s string) Value { return Value{Kind: KindString, String: s} }

// NumberValue builds a number-kind Value.
func NumberValue(n float64) Value { return Value{Kind: KindNumber, Number: n} }

// BoolValue builds a bool-kind Value.
func BoolValue(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// Equal reports whether two Values have the same kind and content.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindString:
		return v.String == o.String
	case KindNumber:
		return v.Number == o.Number
	case KindBool:
		return v.Bool == o.Bool
	}
	return false
}

// Encode renders v as a sortable binary encoding: byte-lex order of the
// output equals v's natural order within its kind. Strings may not
// contain the 0x00 separator byte; numbers must be finite.
func Encode(v Value) ([]byte, error) {
	var out []byte
	switch v.Kind {
	case KindString:
		for i := 0; i < len(v.String); i++ {
			if v.String[i] == 0 {
				return nil, dwnerr.New("indexlevel.Encode", dwnerr.BadIndexValue)
			}
		}
		out = []byte(v.String)
	case KindNumber:
		if math.IsNaN(v.Number) || math.IsInf(v.Number, 0) {
			return nil, dwnerr.New("indexlevel.Encode", dwnerr.BadIndexValue)
		}
		out = encodeNumber(v.Number)
	case KindBool:
		if v.Bool {
			out = []byte{1}
		} else {
			out = []byte{0}
		}
	default:
		return nil, dwnerr.New("indexlevel.Encode", dwnerr.BadIndexValue)
	}
	if len(out) > MaxEncodedValueLen {
		return nil, dwnerr.New("indexlevel.Encode", dwnerr.BadIndexValue)
	}
	return out, nil
}

// encodeNumber produces a 16-byte order-preserving encoding: an IEEE-754
// double is bit-flipped so that unsigned big-endian byte comparison
// matches numeric order across negatives, zero and positives, then
// zero-extended to 16 bytes, leaving headroom for a future
// higher-precision encoding without a key-format migration.
func encodeNumber(f float64) []byte {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		// Negative: flip every bit so larger-magnitude negatives sort first.
		bits = ^bits
	} else {
		// Non-negative: flip only the sign bit so positives sort after
		// all negatives.
		bits |= 1 << 63
	}
	out := make([]byte, 16)
	for i := 7; i >= 0; i-- {
		out[8+i] = byte(bits)
		bits >>= 8
	}
	return out
}

// MarshalJSON renders a Value as the plain JSON scalar it represents, so
// an indexes record on disk reads as ordinary JSON rather than a
// Go-specific envelope.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindString:
		return json.Marshal(v.String)
	case KindNumber:
		return json.Marshal(v.Number)
	case KindBool:
		return json.Marshal(v.Bool)
	}
	return nil, fmt.Errorf("indexlevel: value has unknown kind %d", v.Kind)
}

// UnmarshalJSON recovers a Value's kind from the JSON scalar's own type.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch x := raw.(type) {
	case string:
		*v = StringValue(x)
	case float64:
		*v = NumberValue(x)
	case bool:
		*v = BoolValue(x)
	default:
		return fmt.Errorf("indexlevel: cannot decode %T as an index value", raw)
	}
	return nil
}

// Decode reverses Encode for a value of the given kind.
func Decode(kind ValueKind, b []byte) (Value, error) {
	switch kind {
	case KindString:
		return StringValue(string(b)), nil
	case KindNumber:
		n, err := decodeNumber(b)
		if err != nil {
			return Value{}, err
		}
		return NumberValue(n), nil
	case KindBool:
		if len(b) != 1 {
			return Value{}, dwnerr.New("indexlevel.Decode", dwnerr.BadIndexValue)
		}
		return BoolValue(b[0] != 0), nil
	}
	return Value{}, dwnerr.New("indexlevel.Decode", dwnerr.BadIndexValue)
}

func decodeNumber(b []byte) (float64, error) {
	if len(b) != 16 {
		return 0, dwnerr.New("indexlevel.decodeNumber", dwnerr.BadIndexValue)
	}
	var bits uint64
	for i := 8; i < 16; i++ {
		bits = bits<<8 | uint64(b[i])
	}
	if bits&(1<<63) != 0 {
		bits &^= 1 << 63
	} else {
		bits = ^bits
	}
	return math.Float64frombits(bits), nil
}
