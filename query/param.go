package query

// Kind distinguishes which predicate shape a Param carries.
type Kind int

const (
	KindEq Kind = iota
	KindNeq
	KindRange
	KindIn
	KindNin
)

// Param is the erased-byte form of a predicate on one field: already
// encoded through the field's codec, so the planner never needs to know the
// field's Go type.
type Param struct {
	Kind  Kind
	Eq    []byte
	Neq   []byte
	Range GeneralRange[[]byte]
	In    [][]byte
	Nin   [][]byte
}

// ParamTyped is the pre-encoding form of a predicate: it carries a Test
// predicate over the native Go value, for a document's Matcher
// implementation to call, plus the raw
// value(s) for later conversion to a Param once a field's encoder is known.
type ParamTyped[T any] struct {
	kind  Kind
	eq    T
	neq   T
	rng   GeneralRange[T]
	in    []T
	nin   []T
	test  func(T) bool
}

func EqT[T any](v T, cmp Cmp[T]) ParamTyped[T] {
	return ParamTyped[T]{kind: KindEq, eq: v, test: func(x T) bool { return cmp(x, v) == 0 }}
}

func NeqT[T any](v T, cmp Cmp[T]) ParamTyped[T] {
	return ParamTyped[T]{kind: KindNeq, neq: v, test: func(x T) bool { return cmp(x, v) != 0 }}
}

func RangeT[T any](r GeneralRange[T], cmp Cmp[T]) ParamTyped[T] {
	return ParamTyped[T]{kind: KindRange, rng: r, test: func(x T) bool { return r.Contains(x, cmp) }}
}

func InT[T any](vs []T, cmp Cmp[T]) ParamTyped[T] {
	return ParamTyped[T]{kind: KindIn, in: vs, test: func(x T) bool {
		for _, v := range vs {
			if cmp(x, v) == 0 {
				return true
			}
		}
		return false
	}}
}

func NinT[T any](vs []T, cmp Cmp[T]) ParamTyped[T] {
	return ParamTyped[T]{kind: KindNin, nin: vs, test: func(x T) bool {
		for _, v := range vs {
			if cmp(x, v) == 0 {
				return false
			}
		}
		return true
	}}
}

// Kind reports which predicate shape this ParamTyped carries.
func (p ParamTyped[T]) Kind() Kind { return p.kind }

// Test evaluates the predicate against a decoded field value, used as the
// final doc.Matches(query) filter after a scan.
func (p ParamTyped[T]) Test(v T) bool {
	if p.test == nil {
		return true
	}
	return p.test(v)
}

// Encode converts a ParamTyped[T] to its erased Param form by applying
// encode elementwise to every literal value the predicate carries.
func (p ParamTyped[T]) Encode(encode func(T) []byte) Param {
	switch p.kind {
	case KindEq:
		return Param{Kind: KindEq, Eq: encode(p.eq)}
	case KindNeq:
		return Param{Kind: KindNeq, Neq: encode(p.neq)}
	case KindRange:
		out := Param{Kind: KindRange}
		if p.rng.Start.Kind != Unbounded {
			out.Range.Start = Bound[[]byte]{Kind: p.rng.Start.Kind, Value: encode(p.rng.Start.Value)}
		} else {
			out.Range.Start = Bound[[]byte]{Kind: Unbounded}
		}
		if p.rng.End.Kind != Unbounded {
			out.Range.End = Bound[[]byte]{Kind: p.rng.End.Kind, Value: encode(p.rng.End.Value)}
		} else {
			out.Range.End = Bound[[]byte]{Kind: Unbounded}
		}
		return out
	case KindIn:
		out := Param{Kind: KindIn}
		for _, v := range p.in {
			out.In = append(out.In, encode(v))
		}
		return out
	case KindNin:
		out := Param{Kind: KindNin}
		for _, v := range p.nin {
			out.Nin = append(out.Nin, encode(v))
		}
		return out
	}
	panic("query: unknown param kind")
}
