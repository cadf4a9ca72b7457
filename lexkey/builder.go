package lexkey

import "errors"

// ErrVariableNotLast is returned by AppendVariableKeySlice when a
// variable-width field is appended while more fields are still expected.
// Rather than escape embedded 0x00 bytes, a variable-width field (string or
// byte slice without a fixed width) is only permitted in the last position
// of a compound key, where its self-terminating 0x00 can never be confused
// with a separator before a following field.
var ErrVariableNotLast = errors.New("lexkey: variable-width field must be last in a compound key")

// Builder assembles a compound key: a sequence of encoded field values
// joined by 0x00 separators, where variable-width fields self-terminate
// with a trailing 0x00 and the final 0x01 "upper inclusive byte" makes a
// prefix's range bound include every key that extends it.
//
// 0x00 is the smallest possible byte and 0x01 is the next smallest. Between
// any prefix P and any longer key starting with P, the key P++0x01 sorts
// strictly after every extension of P and strictly before any key that
// differs at position len(P) with a byte >= 0x01.
type Builder struct {
	bytes []byte
}

// AppendKeySlice appends an encoded fixed-width (or already self-terminating)
// field, inserting a 0x00 separator first if the builder is non-empty.
func (b *Builder) AppendKeySlice(s []byte) {
	if len(b.bytes) > 0 {
		b.AppendSeparator()
	}
	b.bytes = append(b.bytes, s...)
}

// AppendVariableKeySlice appends a variable-width encoded field (already
// including its own trailing terminator, e.g. from EncodeString). last must
// be true if no further fields will be appended to this key; otherwise an
// error is returned, since a variable-width field in a non-last position
// cannot be unambiguously range-scanned (see ErrVariableNotLast).
func (b *Builder) AppendVariableKeySlice(s []byte, last bool) error {
	if !last {
		return ErrVariableNotLast
	}
	b.AppendKeySlice(s)
	return nil
}

// AppendUpperInclusiveByte appends the literal 0x01 byte, used when
// constructing the upper bound of a range so that it includes every key
// that extends the current prefix.
func (b *Builder) AppendUpperInclusiveByte() {
	b.bytes = append(b.bytes, 0x01)
}

// AppendSeparator appends the literal 0x00 byte.
func (b *Builder) AppendSeparator() {
	b.bytes = append(b.bytes, 0x00)
}

// IsEmpty reports whether anything has been appended yet.
func (b *Builder) IsEmpty() bool { return len(b.bytes) == 0 }

// Take returns the accumulated bytes and resets the builder.
func (b *Builder) Take() []byte {
	out := b.bytes
	b.bytes = nil
	return out
}

// Bytes returns a snapshot of the accumulated bytes without resetting the
// builder.
func (b *Builder) Bytes() []byte {
	out := make([]byte, len(b.bytes))
	copy(out, b.bytes)
	return out
}
