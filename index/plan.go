package index

import (
	"math"

	"github.com/pkg/errors"

	"github.com/chancehudson/anondb/kv"
	"github.com/chancehudson/anondb/lexkey"
	"github.com/chancehudson/anondb/query"
)

// Score estimates how well this index accelerates q: higher is better,
// zero means "no acceleration, full scan" (still usable, since every
// collection always has at least its primary index to fall back on).
func (idx *Index[T]) Score(q query.Query) int64 {
	var score int64
	fullPrefix := true

fieldLoop:
	for i, f := range idx.Fields {
		p, ok := q.Get(f.Name)
		if !ok {
			if f.FixedWidth >= 0 {
				continue
			}
			fullPrefix = false
			break fieldLoop
		}
		switch p.Kind {
		case query.KindEq:
			score = satMul(score+1, 10)
		case query.KindIn:
			score = satMul(score+1, 8)
		case query.KindRange:
			score = satMul(score+1, 5)
			if i != len(idx.Fields)-1 {
				fullPrefix = false
			}
			break fieldLoop
		case query.KindNeq, query.KindNin:
			score = satMul(score+1, 2)
			if i != len(idx.Fields)-1 {
				fullPrefix = false
			}
			break fieldLoop
		}
	}

	if fullPrefix {
		score = satMul(score, 10000)
	}
	return score
}

func satMul(a, b int64) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	if a > math.MaxInt64/b {
		return math.MaxInt64
	}
	return a * b
}

// PlanRanges translates q into the KV ranges this index's table must be
// scanned over. More than one range is returned when an In(...) predicate
// is encountered: it is planned as the union of one Eq-shaped sub-plan per
// candidate value, each continuing to plan the remaining fields. min and
// max track independent compound-key prefixes: they stay identical while
// only Eq fields (or In's per-value Eq substitution) have been seen, and
// diverge the first time an absent fixed-width field is bracketed in —
// after which later Eq fields keep narrowing both, matching Score's
// "continue past a fixed-width gap" treatment of the same field.
func (idx *Index[T]) PlanRanges(q query.Query) []kv.Range {
	return planFields(idx.Fields, q, 0, lexkey.Builder{}, lexkey.Builder{})
}

func planFields(fields []Field, q query.Query, i int, min, max lexkey.Builder) []kv.Range {
	if i == len(fields) {
		return []kv.Range{rangeFromBuilders(min, max)}
	}
	f := fields[i]
	p, ok := q.Get(f.Name)
	if !ok {
		if f.FixedWidth >= 0 {
			// Unconstrained fixed-width field: every value of known width w
			// is a candidate, so bracket it as [0x00*w, 0xFF*w] and keep
			// planning later fields within that bracket, rather than
			// giving up on narrowing entirely.
			nmin := cloneBuilder(min)
			nmin.AppendKeySlice(zeroBytes(f.FixedWidth))
			nmax := cloneBuilder(max)
			nmax.AppendKeySlice(maxBytes(f.FixedWidth))
			return planFields(fields, q, i+1, nmin, nmax)
		}
		// Unconstrained variable-width field: it self-terminates with no
		// fixed width to bracket, so the scan can't narrow past it.
		return []kv.Range{rangeFromBuilders(min, max)}
	}
	switch p.Kind {
	case query.KindEq:
		nmin := cloneBuilder(min)
		nmin.AppendKeySlice(p.Eq)
		nmax := cloneBuilder(max)
		nmax.AppendKeySlice(p.Eq)
		return planFields(fields, q, i+1, nmin, nmax)
	case query.KindIn:
		var out []kv.Range
		for _, v := range p.In {
			nmin := cloneBuilder(min)
			nmin.AppendKeySlice(v)
			nmax := cloneBuilder(max)
			nmax.AppendKeySlice(v)
			out = append(out, planFields(fields, q, i+1, nmin, nmax)...)
		}
		return out
	case query.KindRange:
		return []kv.Range{rangeFromRangeParam(min, max, p.Range)}
	default: // Neq, Nin: cannot accelerate past this field
		return []kv.Range{rangeFromBuilders(min, max)}
	}
}

func cloneBuilder(b lexkey.Builder) lexkey.Builder {
	var nb lexkey.Builder
	if !b.IsEmpty() {
		nb.AppendKeySlice(b.Bytes())
	}
	return nb
}

func zeroBytes(n int) []byte { return make([]byte, n) }

func maxBytes(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = 0xFF
	}
	return b
}

// rangeFromBuilders bounds a scan to the keys from min (inclusive) through
// every extension of max. When there's no gap between them, min and max
// hold identical bytes and this is exactly "prefix and everything under
// it"; a fixed-width gap upstream leaves them diverged, which is what lets
// the range actually reflect constraints on fields after the gap instead of
// only on fields before it. An empty min means no field constrained the
// scan at all, so it covers the entire table.
func rangeFromBuilders(min, max lexkey.Builder) kv.Range {
	if min.IsEmpty() {
		return kv.Range{}
	}
	upper := cloneBuilder(max)
	upper.AppendUpperInclusiveByte()
	return kv.Range{
		Min: kv.Bound{Kind: kv.Included, Value: min.Bytes()},
		Max: kv.Bound{Kind: kv.Included, Value: upper.Bytes()},
	}
}

func rangeFromRangeParam(min, max lexkey.Builder, r query.GeneralRange[[]byte]) kv.Range {
	var lo, hi kv.Bound

	if r.Start.Kind == query.Unbounded {
		if min.IsEmpty() {
			lo = kv.Bound{Kind: kv.Unbounded}
		} else {
			lo = kv.Bound{Kind: kv.Included, Value: min.Bytes()}
		}
	} else {
		b := cloneBuilder(min)
		b.AppendKeySlice(r.Start.Value)
		lo = kv.Bound{Kind: kv.Included, Value: b.Bytes()}
	}

	if r.End.Kind == query.Unbounded {
		if max.IsEmpty() {
			hi = kv.Bound{Kind: kv.Unbounded}
		} else {
			b := cloneBuilder(max)
			b.AppendUpperInclusiveByte()
			hi = kv.Bound{Kind: kv.Included, Value: b.Bytes()}
		}
	} else {
		b := cloneBuilder(max)
		b.AppendKeySlice(r.End.Value)
		b.AppendUpperInclusiveByte()
		hi = kv.Bound{Kind: kv.Included, Value: b.Bytes()}
	}

	return kv.Range{Min: lo, Max: hi}
}

// Execute scans this index's table over every range PlanRanges produces,
// resolving each matching entry to a document via resolve (which knows how
// to turn a stored value — a full document when this is the primary index,
// or a primary-key pointer otherwise — into a T), deduplicating by the
// stored value and applying q as a final exact filter when T implements
// query.Matcher.
func (idx *Index[T]) Execute(tx kv.Tx, q query.Query, resolve func(value []byte) (T, error)) ([]T, error) {
	return idx.execute(tx, q, resolve, 0)
}

// ExecuteOne is Execute stopping after the first match, used by
// Collection.FindOne to avoid scanning past a single result.
func (idx *Index[T]) ExecuteOne(tx kv.Tx, q query.Query, resolve func(value []byte) (T, error)) (T, bool, error) {
	results, err := idx.execute(tx, q, resolve, 1)
	if err != nil || len(results) == 0 {
		var zero T
		return zero, false, err
	}
	return results[0], true, nil
}

func (idx *Index[T]) execute(tx kv.Tx, q query.Query, resolve func(value []byte) (T, error), limit int) ([]T, error) {
	ranges := idx.PlanRanges(q)
	seen := make(map[string]struct{})
	var results []T

	for _, r := range ranges {
		var it kv.Iterator
		var err error
		if idx.Options.Unique {
			it, err = tx.Range(idx.tableName, r)
		} else {
			it, err = tx.RangeMultimap(idx.tableName, r)
		}
		if err != nil {
			return nil, errors.Wrap(err, "index: scan")
		}

		for it.Next() {
			value := it.Value()
			key := string(value)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}

			doc, err := resolve(value)
			if err != nil {
				it.Close()
				return nil, errors.Wrap(err, "index: resolve")
			}
			if m, ok := any(doc).(query.Matcher); ok && !m.Matches(q) {
				continue
			}
			results = append(results, doc)
			if limit > 0 && len(results) >= limit {
				it.Close()
				return results, nil
			}
		}
		if err := it.Err(); err != nil {
			it.Close()
			return nil, errors.Wrap(err, "index: iterate")
		}
		it.Close()
	}
	return results, nil
}
