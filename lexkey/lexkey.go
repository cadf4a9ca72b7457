// Package lexkey implements the lexicographic codec: encoding typed values
// into byte sequences whose byte-lexicographic order matches the natural
// order of the source values, and a compound-key builder that joins several
// encoded fields into one range-scannable key.
//
// Every exported Encode* function satisfies the same contract: for values x
// and y of the same type, bytes.Compare(Encode(x), Encode(y)) == x.Cmp(y).
package lexkey

// Codec describes a type that can be serialized to lexicographically
// sortable bytes, mirroring the SerializeLexicographic trait of the
// reference implementation.
type Codec[T any] interface {
	Encode(v T) []byte
	// FixedWidth reports the encoded width in bytes, if constant.
	FixedWidth() (width int, ok bool)
	// Min returns the smallest possible encoding for the type.
	Min() []byte
	// Max returns the largest possible encoding for the type, if the type
	// is bounded.
	Max() (max []byte, ok bool)
}

// EncodeUint8 big-endian encodes a uint8. Fixed width 1.
func EncodeUint8(v uint8) []byte { return []byte{v} }

// EncodeUint16 big-endian encodes a uint16. Fixed width 2.
func EncodeUint16(v uint16) []byte {
	return []byte{byte(v >> 8), byte(v)}
}

// EncodeUint32 big-endian encodes a uint32. Fixed width 4.
func EncodeUint32(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

// EncodeUint64 big-endian encodes a uint64. Fixed width 8.
func EncodeUint64(v uint64) []byte {
	return []byte{
		byte(v >> 56), byte(v >> 48), byte(v >> 40), byte(v >> 32),
		byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v),
	}
}

// Uint128 is a 128-bit unsigned integer, since Go has no native u128. Hi
// holds the upper 64 bits, Lo the lower 64 bits.
type Uint128 struct {
	Hi, Lo uint64
}

// Uint128From64 widens a uint64 into a Uint128.
func Uint128From64(v uint64) Uint128 { return Uint128{Lo: v} }

// Cmp orders two Uint128 values the same way the encoded bytes sort.
func (v Uint128) Cmp(o Uint128) int {
	if v.Hi != o.Hi {
		if v.Hi < o.Hi {
			return -1
		}
		return 1
	}
	switch {
	case v.Lo < o.Lo:
		return -1
	case v.Lo > o.Lo:
		return 1
	default:
		return 0
	}
}

// EncodeUint128 big-endian encodes a Uint128. Fixed width 16.
func EncodeUint128(v Uint128) []byte {
	return []byte{
		byte(v.Hi >> 56), byte(v.Hi >> 48), byte(v.Hi >> 40), byte(v.Hi >> 32),
		byte(v.Hi >> 24), byte(v.Hi >> 16), byte(v.Hi >> 8), byte(v.Hi),
		byte(v.Lo >> 56), byte(v.Lo >> 48), byte(v.Lo >> 40), byte(v.Lo >> 32),
		byte(v.Lo >> 24), byte(v.Lo >> 16), byte(v.Lo >> 8), byte(v.Lo),
	}
}

// EncodeBool encodes false as 0x00 and true as 0x01. Fixed width 1.
func EncodeBool(v bool) []byte {
	if v {
		return []byte{0x01}
	}
	return []byte{0x00}
}

// EncodeString encodes a variable-length string as its raw bytes followed
// by a terminating 0x00. Strings must not contain an embedded 0x00 byte;
// callers that need arbitrary binary data should use a fixed-width field or
// restrict the string to the last position of a compound key (see
// Builder.AppendVariableKeySlice).
func EncodeString(v string) []byte {
	out := make([]byte, len(v)+1)
	copy(out, v)
	out[len(v)] = 0x00
	return out
}

// EncodeBytesFixed verifies b has length n and returns it verbatim; a
// fixed-width byte array needs no terminator since its length is known by
// the schema, not discovered at decode time.
func EncodeBytesFixed(b []byte, n int) ([]byte, bool) {
	if len(b) != n {
		return nil, false
	}
	return b, true
}

// EncodeOption encodes an optional value: None as 0x00, Some(v) as
// 0x01 followed by encode(v).
func EncodeOption[T any](v *T, encode func(T) []byte) []byte {
	if v == nil {
		return []byte{0x00}
	}
	return append([]byte{0x01}, encode(*v)...)
}

// Sentinel min/max byte sequences for each encoded type, useful for
// constructing fully-unbounded range scans over a field.
var (
	MinUint8  = []byte{0x00}
	MaxUint8  = []byte{0xff}
	MinUint16 = []byte{0x00, 0x00}
	MaxUint16 = []byte{0xff, 0xff}
	MinUint32 = []byte{0x00, 0x00, 0x00, 0x00}
	MaxUint32 = []byte{0xff, 0xff, 0xff, 0xff}
	MinUint64 = make([]byte, 8)
	MaxUint64 = []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

	MinBool = []byte{0x00}
	MaxBool = []byte{0x01}

	// MinString is the empty string's encoding; strings have no fixed max.
	MinString = []byte{0x00}
)

func init() {
	for i := range MinUint128 {
		MinUint128[i] = 0x00
	}
	for i := range MaxUint128 {
		MaxUint128[i] = 0xff
	}
}

// MinUint128 and MaxUint128 are the sentinel bounds for Uint128.
var (
	MinUint128 = make([]byte, 16)
	MaxUint128 = make([]byte, 16)
)
