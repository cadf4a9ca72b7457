// Package query implements the predicate primitives (Eq/Neq/In/Nin/Range)
// and generic range/bound types used to express a document-level query
// before it is translated into byte ranges by an index's planner.
package query

// BoundKind distinguishes the three ways a range endpoint can be specified.
type BoundKind int

const (
	Unbounded BoundKind = iota
	Included
	Excluded
)

// Bound is one endpoint of a GeneralRange.
type Bound[T any] struct {
	Kind  BoundKind
	Value T // meaningful only when Kind != Unbounded
}

// Incl constructs an inclusive bound.
func Incl[T any](v T) Bound[T] { return Bound[T]{Kind: Included, Value: v} }

// Excl constructs an exclusive bound.
func Excl[T any](v T) Bound[T] { return Bound[T]{Kind: Excluded, Value: v} }

// Unbound constructs an unbounded endpoint.
func Unbound[T any]() Bound[T] { return Bound[T]{Kind: Unbounded} }

// GeneralRange pairs a lower and upper Bound, collapsing the several
// half-open/inclusive/open range shapes a caller might reach for into one
// type.
type GeneralRange[T any] struct {
	Start Bound[T]
	End   Bound[T]
}

// Cmp compares two values of T; passed in explicitly since Go has no
// built-in ordering constraint that covers every type we need (strings,
// integers, byte slices, user enums).
type Cmp[T any] func(a, b T) int

// Contains reports whether x falls within the range, honoring standard
// bound semantics (Included is <=/>=, Excluded is </>).
func (r GeneralRange[T]) Contains(x T, cmp Cmp[T]) bool {
	switch r.Start.Kind {
	case Included:
		if cmp(x, r.Start.Value) < 0 {
			return false
		}
	case Excluded:
		if cmp(x, r.Start.Value) <= 0 {
			return false
		}
	}
	switch r.End.Kind {
	case Included:
		if cmp(x, r.End.Value) > 0 {
			return false
		}
	case Excluded:
		if cmp(x, r.End.Value) >= 0 {
			return false
		}
	}
	return true
}

// Eq is a convenience constructor for a single-point inclusive range.
func Eq[T any](v T) GeneralRange[T] { return GeneralRange[T]{Start: Incl(v), End: Incl(v)} }

// Between constructs an inclusive..inclusive range. Callers wanting
// half-open 100..102 semantics should use HalfOpen instead.
func Between[T any](lo, hi T) GeneralRange[T] {
	return GeneralRange[T]{Start: Incl(lo), End: Incl(hi)}
}

// HalfOpen constructs an inclusive..exclusive range, matching Go's native
// a..b slice-style range semantics.
func HalfOpen[T any](lo, hi T) GeneralRange[T] {
	return GeneralRange[T]{Start: Incl(lo), End: Excl(hi)}
}

// AtLeast constructs a lo..unbounded range.
func AtLeast[T any](lo T) GeneralRange[T] {
	return GeneralRange[T]{Start: Incl(lo), End: Unbound[T]()}
}

// AtMost constructs an unbounded..hi inclusive range.
func AtMost[T any](hi T) GeneralRange[T] {
	return GeneralRange[T]{Start: Unbound[T](), End: Incl(hi)}
}
