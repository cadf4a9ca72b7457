package index_test

import (
	"bytes"
	"testing"

	"github.com/chancehudson/anondb/index"
	"github.com/chancehudson/anondb/lexkey"
	"github.com/chancehudson/anondb/query"
)

type reading struct {
	Region uint32
	Rank   uint32
	Score  uint32
}

func readingKey(r reading) []byte {
	var b lexkey.Builder
	b.AppendKeySlice(lexkey.EncodeUint32(r.Region))
	b.AppendKeySlice(lexkey.EncodeUint32(r.Rank))
	b.AppendKeySlice(lexkey.EncodeUint32(r.Score))
	return b.Take()
}

func eqUint32(v uint32) query.Param {
	return query.EqT(v, func(a, b uint32) int {
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		default:
			return 0
		}
	}).Encode(lexkey.EncodeUint32)
}

// A query that constrains the first and third fields of a three-field
// index but leaves the (fixed-width) middle one unconstrained must still
// narrow on the third field: Score already credits this shape as a
// near-full-prefix match (continuing past the gap), so PlanRanges has to
// actually deliver a range reflecting that, not just a region-only prefix.
func TestPlanRangesBracketsAbsentFixedWidthFieldInMiddle(t *testing.T) {
	idx, err := index.New[reading]("readings", []index.Field{
		{Name: "region", FixedWidth: 4},
		{Name: "rank", FixedWidth: 4},
		{Name: "score", FixedWidth: 4},
	}, readingKey, index.Options{Unique: true, Primary: true})
	if err != nil {
		t.Fatalf("index.New: %v", err)
	}

	q := query.Query{
		"region": eqUint32(5),
		"score":  eqUint32(7),
	}

	ranges := idx.PlanRanges(q)
	if len(ranges) != 1 {
		t.Fatalf("PlanRanges returned %d ranges, want 1", len(ranges))
	}
	r := ranges[0]

	scoreBytes := lexkey.EncodeUint32(7)
	if !bytes.HasSuffix(r.Min.Value, scoreBytes) {
		t.Fatalf("Min bound %x does not end with the score constraint %x; the gap field swallowed it", r.Min.Value, scoreBytes)
	}
	// Max carries the score constraint too, before the trailing
	// upper-inclusive byte that rangeFromBuilders appends.
	withoutUpperByte := r.Max.Value[:len(r.Max.Value)-1]
	if !bytes.HasSuffix(withoutUpperByte, scoreBytes) {
		t.Fatalf("Max bound %x does not end with the score constraint %x; the gap field swallowed it", r.Max.Value, scoreBytes)
	}

	// Narrower than "region-only, any rank, any score": the min and max
	// rank brackets (0x00000000 and 0xFFFFFFFF) must both still be present
	// rather than collapsing the range down to just the region prefix.
	wantLen := len(lexkey.EncodeUint32(5)) + 1 + 4 + 1 + len(scoreBytes)
	if len(r.Min.Value) != wantLen {
		t.Fatalf("Min bound length = %d, want %d (region+sep+rank+sep+score)", len(r.Min.Value), wantLen)
	}
}
