// Package kvtest is a conformance test suite exercised against every kv.DB
// implementation, the same role perkeep's pkg/sorted/kvtest plays for its
// sorted.KeyValue implementations: one shared set of behavioral assertions,
// run by each backend's own _test.go file against its own constructor.
package kvtest

import (
	"bytes"
	"testing"

	"github.com/chancehudson/anondb/kv"
)

// Test runs the full conformance suite against a freshly opened, empty db.
// The caller is responsible for opening and closing db.
func Test(t *testing.T, db kv.DB) {
	t.Run("BasicGetSet", func(t *testing.T) { testBasicGetSet(t, db) })
	t.Run("NotFoundOnMissingTable", func(t *testing.T) { testNotFoundOnMissingTable(t, db) })
	t.Run("Range", func(t *testing.T) { testRange(t, db) })
	t.Run("Count", func(t *testing.T) { testCount(t, db) })
	t.Run("Clear", func(t *testing.T) { testClear(t, db) })
	t.Run("Multimap", func(t *testing.T) { testMultimap(t, db) })
	t.Run("WriteIsolation", func(t *testing.T) { testWriteIsolation(t, db) })
	t.Run("Abort", func(t *testing.T) { testAbort(t, db) })
}

func mustWrite(t *testing.T, db kv.DB) kv.Tx {
	t.Helper()
	tx, err := db.BeginWrite()
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	return tx
}

func mustRead(t *testing.T, db kv.DB) kv.Tx {
	t.Helper()
	tx, err := db.BeginRead()
	if err != nil {
		t.Fatalf("BeginRead: %v", err)
	}
	return tx
}

func testBasicGetSet(t *testing.T, db kv.DB) {
	const table = "basic"
	w := mustWrite(t, db)
	if old, err := w.Insert(table, []byte("foo"), []byte("bar")); err != nil || old != nil {
		t.Fatalf("Insert(foo)=%q,%v want nil,nil", old, err)
	}
	if v, err := w.Get(table, []byte("foo")); err != nil || !bytes.Equal(v, []byte("bar")) {
		t.Fatalf("Get(foo)=%q,%v want bar,nil", v, err)
	}
	if _, err := w.Get(table, []byte("missing")); err != kv.ErrNotFound {
		t.Fatalf("Get(missing) err=%v want ErrNotFound", err)
	}
	if old, err := w.Insert(table, []byte("foo"), []byte("baz")); err != nil || !bytes.Equal(old, []byte("bar")) {
		t.Fatalf("Insert(foo) overwrite old=%q,%v want bar,nil", old, err)
	}
	if old, err := w.Remove(table, []byte("foo")); err != nil || !bytes.Equal(old, []byte("baz")) {
		t.Fatalf("Remove(foo) old=%q,%v want baz,nil", old, err)
	}
	if _, err := w.Get(table, []byte("foo")); err != kv.ErrNotFound {
		t.Fatalf("Get after Remove err=%v want ErrNotFound", err)
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func testNotFoundOnMissingTable(t *testing.T, db kv.DB) {
	r := mustRead(t, db)
	defer r.Abort()
	if _, err := r.Get("does-not-exist-table", []byte("k")); err != kv.ErrNotFound {
		t.Fatalf("Get on nonexistent table err=%v want ErrNotFound", err)
	}
	if n, err := r.Count("does-not-exist-table"); err != nil || n != 0 {
		t.Fatalf("Count on nonexistent table = %d,%v want 0,nil", n, err)
	}
	it, err := r.Range("does-not-exist-table", kv.Range{})
	if err != nil {
		t.Fatalf("Range on nonexistent table: %v", err)
	}
	defer it.Close()
	if it.Next() {
		t.Fatal("Range on nonexistent table yielded a row")
	}
}

func testRange(t *testing.T, db kv.DB) {
	const table = "range"
	w := mustWrite(t, db)
	for _, k := range []string{"a", "ab", "ac", "b"} {
		if _, err := w.Insert(table, []byte(k), []byte(k+"v")); err != nil {
			t.Fatalf("Insert(%q): %v", k, err)
		}
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	cases := []struct {
		name string
		r    kv.Range
		want []string
	}{
		{"all", kv.Range{}, []string{"a", "ab", "ac", "b"}},
		{"from-a", kv.Range{Min: kv.Bound{Kind: kv.Included, Value: []byte("a")}}, []string{"a", "ab", "ac", "b"}},
		{"from-b", kv.Range{Min: kv.Bound{Kind: kv.Included, Value: []byte("b")}}, []string{"b"}},
		{"a-to-b-excl", kv.Range{
			Min: kv.Bound{Kind: kv.Included, Value: []byte("a")},
			Max: kv.Bound{Kind: kv.Excluded, Value: []byte("b")},
		}, []string{"a", "ab", "ac"}},
		{"a-prefix-only", kv.Range{
			Min: kv.Bound{Kind: kv.Included, Value: []byte("a")},
			Max: kv.Bound{Kind: kv.Excluded, Value: append([]byte("a"), 0x01)},
		}, []string{"a"}},
	}
	r := mustRead(t, db)
	defer r.Abort()
	for _, c := range cases {
		it, err := r.Range(table, c.r)
		if err != nil {
			t.Fatalf("%s: Range: %v", c.name, err)
		}
		var got []string
		for it.Next() {
			got = append(got, string(it.Key()))
		}
		if err := it.Err(); err != nil {
			t.Fatalf("%s: iteration error: %v", c.name, err)
		}
		it.Close()
		if !stringSliceEqual(got, c.want) {
			t.Fatalf("%s: Range got %q want %q", c.name, got, c.want)
		}
	}
}

func testCount(t *testing.T, db kv.DB) {
	const table = "count"
	w := mustWrite(t, db)
	for i := 0; i < 5; i++ {
		if _, err := w.Insert(table, []byte{byte(i)}, []byte("v")); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	r := mustRead(t, db)
	defer r.Abort()
	if n, err := r.Count(table); err != nil || n != 5 {
		t.Fatalf("Count=%d,%v want 5,nil", n, err)
	}
}

func testClear(t *testing.T, db kv.DB) {
	const table = "clear"
	w := mustWrite(t, db)
	w.Insert(table, []byte("a"), []byte("1"))
	w.Insert(table, []byte("b"), []byte("2"))
	if err := w.Clear(table); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	r := mustRead(t, db)
	defer r.Abort()
	if n, _ := r.Count(table); n != 0 {
		t.Fatalf("Count after Clear=%d want 0", n)
	}
}

func testMultimap(t *testing.T, db kv.DB) {
	const table = "mm"
	w := mustWrite(t, db)
	if err := w.InsertMultimap(table, []byte("k1"), []byte("v1")); err != nil {
		t.Fatalf("InsertMultimap: %v", err)
	}
	if err := w.InsertMultimap(table, []byte("k1"), []byte("v2")); err != nil {
		t.Fatalf("InsertMultimap: %v", err)
	}
	if err := w.InsertMultimap(table, []byte("k2"), []byte("v3")); err != nil {
		t.Fatalf("InsertMultimap: %v", err)
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	r := mustRead(t, db)
	it, err := r.GetMultimap(table, []byte("k1"))
	if err != nil {
		t.Fatalf("GetMultimap: %v", err)
	}
	var got []string
	for it.Next() {
		got = append(got, string(it.Key()))
	}
	it.Close()
	if !stringSliceEqual(got, []string{"v1", "v2"}) {
		t.Fatalf("GetMultimap(k1)=%q want [v1 v2]", got)
	}
	r.Abort()

	w2 := mustWrite(t, db)
	ok, err := w2.RemoveMultimap(table, []byte("k1"), []byte("v1"))
	if err != nil || !ok {
		t.Fatalf("RemoveMultimap=%v,%v want true,nil", ok, err)
	}
	if err := w2.RemoveAllMultimap(table, []byte("k2")); err != nil {
		t.Fatalf("RemoveAllMultimap: %v", err)
	}
	if err := w2.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	r2 := mustRead(t, db)
	defer r2.Abort()
	it2, _ := r2.GetMultimap(table, []byte("k1"))
	got = nil
	for it2.Next() {
		got = append(got, string(it2.Key()))
	}
	it2.Close()
	if !stringSliceEqual(got, []string{"v2"}) {
		t.Fatalf("GetMultimap(k1) after remove=%q want [v2]", got)
	}
	it3, _ := r2.GetMultimap(table, []byte("k2"))
	if it3.Next() {
		t.Fatal("GetMultimap(k2) should be empty after RemoveAllMultimap")
	}
	it3.Close()
}

func testWriteIsolation(t *testing.T, db kv.DB) {
	const table = "isolation"
	w0 := mustWrite(t, db)
	w0.Insert(table, []byte("x"), []byte("1"))
	if err := w0.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	r := mustRead(t, db)
	defer r.Abort()

	w := mustWrite(t, db)
	w.Insert(table, []byte("x"), []byte("2"))
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if v, err := r.Get(table, []byte("x")); err != nil || !bytes.Equal(v, []byte("1")) {
		t.Fatalf("reader saw %q,%v after concurrent commit; want the pre-commit value 1", v, err)
	}
}

func testAbort(t *testing.T, db kv.DB) {
	const table = "abort"
	w := mustWrite(t, db)
	w.Insert(table, []byte("k"), []byte("v"))
	if err := w.Abort(); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	r := mustRead(t, db)
	defer r.Abort()
	if _, err := r.Get(table, []byte("k")); err != kv.ErrNotFound {
		t.Fatalf("Get after aborted write err=%v want ErrNotFound", err)
	}
}

func stringSliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
