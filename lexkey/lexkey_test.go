package lexkey_test

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/chancehudson/anondb/lexkey"
)

func TestUint32LexOrder(t *testing.T) {
	vals := []uint32{0, 1, 2, 100, 101, 65535, 65536, 0xffffffff}
	for i := range vals {
		for j := range vals {
			a, b := lexkey.EncodeUint32(vals[i]), lexkey.EncodeUint32(vals[j])
			got := bytes.Compare(a, b)
			want := 0
			switch {
			case vals[i] < vals[j]:
				want = -1
			case vals[i] > vals[j]:
				want = 1
			}
			if sign(got) != want {
				t.Fatalf("encode(%d) cmp encode(%d) = %d, want %d", vals[i], vals[j], got, want)
			}
		}
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}

func TestUint32LexOrderRandom(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 2000; i++ {
		x, y := r.Uint32(), r.Uint32()
		got := bytes.Compare(lexkey.EncodeUint32(x), lexkey.EncodeUint32(y))
		want := 0
		if x < y {
			want = -1
		} else if x > y {
			want = 1
		}
		if sign(got) != want {
			t.Fatalf("encode(%d) cmp encode(%d) mismatch", x, y)
		}
	}
}

func TestUint64And8And16LexOrder(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	for i := 0; i < 500; i++ {
		a8, b8 := uint8(r.Intn(256)), uint8(r.Intn(256))
		if sign(bytes.Compare(lexkey.EncodeUint8(a8), lexkey.EncodeUint8(b8))) != cmp8(a8, b8) {
			t.Fatalf("uint8 mismatch %d %d", a8, b8)
		}
		a16, b16 := uint16(r.Intn(65536)), uint16(r.Intn(65536))
		if sign(bytes.Compare(lexkey.EncodeUint16(a16), lexkey.EncodeUint16(b16))) != cmp16(a16, b16) {
			t.Fatalf("uint16 mismatch %d %d", a16, b16)
		}
		a64, b64 := r.Uint64(), r.Uint64()
		if sign(bytes.Compare(lexkey.EncodeUint64(a64), lexkey.EncodeUint64(b64))) != cmp64(a64, b64) {
			t.Fatalf("uint64 mismatch %d %d", a64, b64)
		}
	}
}

func cmp8(a, b uint8) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}
func cmp16(a, b uint16) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}
func cmp64(a, b uint64) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}

func TestUint128LexOrder(t *testing.T) {
	cases := []lexkey.Uint128{
		{Hi: 0, Lo: 0},
		{Hi: 0, Lo: 1},
		{Hi: 0, Lo: ^uint64(0)},
		{Hi: 1, Lo: 0},
		{Hi: ^uint64(0), Lo: ^uint64(0)},
	}
	for i := range cases {
		for j := range cases {
			got := sign(bytes.Compare(lexkey.EncodeUint128(cases[i]), lexkey.EncodeUint128(cases[j])))
			want := cases[i].Cmp(cases[j])
			if sign(want) != got {
				t.Fatalf("uint128 mismatch at (%d,%d): got %d want %d", i, j, got, want)
			}
		}
	}
}

func TestBoolLexOrder(t *testing.T) {
	if bytes.Compare(lexkey.EncodeBool(false), lexkey.EncodeBool(true)) >= 0 {
		t.Fatal("false must encode before true")
	}
}

func TestStringLexOrder(t *testing.T) {
	strs := []string{"", "a", "ab", "ac", "b"}
	for i := range strs {
		for j := range strs {
			got := sign(bytes.Compare(lexkey.EncodeString(strs[i]), lexkey.EncodeString(strs[j])))
			want := 0
			if strs[i] < strs[j] {
				want = -1
			} else if strs[i] > strs[j] {
				want = 1
			}
			if got != want {
				t.Fatalf("encode(%q) cmp encode(%q): got %d want %d", strs[i], strs[j], got, want)
			}
		}
	}
}

func TestStringEncodingIsSelfTerminating(t *testing.T) {
	// "a" must sort before "ab" even though "ab" extends "a" as a raw
	// string, because the encoded form of "a" is terminated by 0x00 which
	// is smaller than any further character byte.
	a := lexkey.EncodeString("a")
	ab := lexkey.EncodeString("ab")
	if bytes.Compare(a, ab) >= 0 {
		t.Fatalf("encode(a)=%x must sort before encode(ab)=%x", a, ab)
	}
}

func TestOptionEncoding(t *testing.T) {
	none := lexkey.EncodeOption[uint32](nil, lexkey.EncodeUint32)
	if !bytes.Equal(none, []byte{0x00}) {
		t.Fatalf("None should encode to 0x00, got %x", none)
	}
	v := uint32(5)
	some := lexkey.EncodeOption(&v, lexkey.EncodeUint32)
	if some[0] != 0x01 {
		t.Fatalf("Some(_) must start with 0x01, got %x", some)
	}
	if bytes.Compare(none, some) >= 0 {
		t.Fatal("None must sort before any Some(_)")
	}
}

func TestBuilderUpperInclusiveByte(t *testing.T) {
	// An inclusive upper bound of "a" among keys "a", "ab", "ac", "b" must
	// match only "a": the upper bound is "a"+0x00+0x01, which sorts after
	// "a"+0x00 (the full encoding of "a") but before "ab"+0x00.
	var lower, upper lexkey.Builder
	lower.AppendKeySlice(lexkey.EncodeString("a"))
	lowerKey := lower.Take()

	upper.AppendKeySlice(lexkey.EncodeString("a"))
	upper.AppendUpperInclusiveByte()
	upperKey := upper.Take()

	a := lexkey.EncodeString("a")
	ab := lexkey.EncodeString("ab")

	if bytes.Compare(a, lowerKey) != 0 {
		t.Fatalf("lower bound should equal encode(a), got %x vs %x", lowerKey, a)
	}
	if bytes.Compare(a, upperKey) >= 0 {
		t.Fatalf("encode(a)=%x must sort before upper bound=%x", a, upperKey)
	}
	if bytes.Compare(ab, upperKey) <= 0 {
		t.Fatalf("encode(ab)=%x must sort after upper bound=%x", ab, upperKey)
	}
}

func TestBuilderSeparatorDiscipline(t *testing.T) {
	var b lexkey.Builder
	if !b.IsEmpty() {
		t.Fatal("new builder must be empty")
	}
	b.AppendKeySlice(lexkey.EncodeUint8(1))
	b.AppendKeySlice(lexkey.EncodeUint8(2))
	got := b.Take()
	want := []byte{0x01, 0x00, 0x02}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %x want %x", got, want)
	}
	if !b.IsEmpty() {
		t.Fatal("Take must reset the builder")
	}
}

func TestAppendVariableKeySliceRejectsNonLast(t *testing.T) {
	var b lexkey.Builder
	if err := b.AppendVariableKeySlice(lexkey.EncodeString("x"), false); err != lexkey.ErrVariableNotLast {
		t.Fatalf("expected ErrVariableNotLast, got %v", err)
	}
	if err := b.AppendVariableKeySlice(lexkey.EncodeString("x"), true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
