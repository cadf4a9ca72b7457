// Package memkv is a pure-Go, in-memory implementation of kv.DB. It exists
// for tests and development, the same role perkeep's in-memory sorted.KeyValue
// plays for that project: never durable, never meant for production use.
//
// Isolation is achieved by copy-on-write: a write transaction clones each
// table it touches before mutating it, and only publishes the clone into the
// live table set on Commit. A concurrent read transaction snapshots the live
// table set at BeginRead and never observes the writer's clones, so it sees
// a consistent view regardless of what the writer does before committing or
// aborting.
package memkv

import (
	"bytes"
	"encoding/binary"
	"sort"
	"sync"

	"github.com/chancehudson/anondb/kv"
)

// New returns an empty in-memory kv.DB.
func New() kv.DB {
	return &memDB{tables: make(map[string]*table)}
}

type memDB struct {
	mu      sync.RWMutex // guards tables
	writeMu sync.Mutex   // serializes write transactions
	tables  map[string]*table
}

func (d *memDB) snapshot() map[string]*table {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]*table, len(d.tables))
	for k, v := range d.tables {
		out[k] = v
	}
	return out
}

func (d *memDB) BeginRead() (kv.Tx, error) {
	return &tx{db: d, write: false, tables: d.snapshot()}, nil
}

func (d *memDB) BeginWrite() (kv.Tx, error) {
	d.writeMu.Lock()
	return &tx{db: d, write: true, tables: d.snapshot(), staged: make(map[string]*table)}, nil
}

func (d *memDB) Close() error { return nil }

// table is an immutable-once-published sorted key/value list. Every
// mutating method is called only on a private, not-yet-published clone.
type table struct {
	keys [][]byte
	vals [][]byte
}

func (t *table) find(key []byte) (int, bool) {
	i := sort.Search(len(t.keys), func(i int) bool { return bytes.Compare(t.keys[i], key) >= 0 })
	if i < len(t.keys) && bytes.Equal(t.keys[i], key) {
		return i, true
	}
	return i, false
}

func (t *table) clone() *table {
	c := &table{keys: make([][]byte, len(t.keys)), vals: make([][]byte, len(t.vals))}
	copy(c.keys, t.keys)
	copy(c.vals, t.vals)
	return c
}

func (t *table) set(key, val []byte) (old []byte) {
	i, ok := t.find(key)
	if ok {
		old = t.vals[i]
		t.vals[i] = val
		return old
	}
	t.keys = append(t.keys, nil)
	copy(t.keys[i+1:], t.keys[i:])
	t.keys[i] = key
	t.vals = append(t.vals, nil)
	copy(t.vals[i+1:], t.vals[i:])
	t.vals[i] = val
	return nil
}

func (t *table) delete(key []byte) (old []byte, ok bool) {
	i, found := t.find(key)
	if !found {
		return nil, false
	}
	old = t.vals[i]
	t.keys = append(t.keys[:i], t.keys[i+1:]...)
	t.vals = append(t.vals[:i], t.vals[i+1:]...)
	return old, true
}

// rangeSlice returns the [lo, hi) index bounds of r within t.
func (t *table) rangeSlice(r kv.Range) (lo, hi int) {
	lo = 0
	switch r.Min.Kind {
	case kv.Included:
		lo = sort.Search(len(t.keys), func(i int) bool { return bytes.Compare(t.keys[i], r.Min.Value) >= 0 })
	case kv.Excluded:
		lo = sort.Search(len(t.keys), func(i int) bool { return bytes.Compare(t.keys[i], r.Min.Value) > 0 })
	}
	hi = len(t.keys)
	switch r.Max.Kind {
	case kv.Included:
		hi = sort.Search(len(t.keys), func(i int) bool { return bytes.Compare(t.keys[i], r.Max.Value) > 0 })
	case kv.Excluded:
		hi = sort.Search(len(t.keys), func(i int) bool { return bytes.Compare(t.keys[i], r.Max.Value) >= 0 })
	}
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

type tx struct {
	db     *memDB
	write  bool
	done   bool
	tables map[string]*table // base snapshot, read through when not staged
	staged map[string]*table // clones being mutated, write txs only
}

func (x *tx) IsWrite() bool { return x.write }

func (x *tx) readTable(name string) *table {
	if x.write {
		if t, ok := x.staged[name]; ok {
			return t
		}
	}
	return x.tables[name]
}

// writeTable returns a mutable clone of name, cloning from the base snapshot
// (or creating an empty table) the first time this transaction touches it.
func (x *tx) writeTable(name string) *table {
	if t, ok := x.staged[name]; ok {
		if t == nil {
			// name was renamed away or deleted earlier in this same
			// transaction; touching it again starts a fresh empty table
			// rather than resurrecting the tombstone's absence.
			t = &table{}
			x.staged[name] = t
		}
		return t
	}
	base, ok := x.tables[name]
	var clone *table
	if ok {
		clone = base.clone()
	} else {
		clone = &table{}
	}
	x.staged[name] = clone
	return clone
}

// keyLenMarker records a multimap entry's key length as its stored value,
// so RangeMultimap can split a composite key++0x00++value pair back apart
// without assuming anything about embedded 0x00 bytes in key or value.
func keyLenMarker(key []byte) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(len(key)))
	return b
}

func beUint32(b []byte) uint32 { return binary.BigEndian.Uint32(b) }

func multimapKey(key, val []byte) []byte {
	out := make([]byte, 0, len(key)+1+len(val))
	out = append(out, key...)
	out = append(out, 0x00)
	out = append(out, val...)
	return out
}

// multimapKeyUpperBound is the smallest byte string that sorts strictly
// after every multimapKey(key, *): key followed by 0x01, the byte
// immediately above the 0x00 separator.
func multimapKeyUpperBound(key []byte) []byte {
	out := make([]byte, 0, len(key)+1)
	out = append(out, key...)
	out = append(out, 0x01)
	return out
}

func (x *tx) Get(table string, key []byte) ([]byte, error) {
	t := x.readTable(table)
	if t == nil {
		return nil, kv.ErrNotFound
	}
	i, ok := t.find(key)
	if !ok {
		return nil, kv.ErrNotFound
	}
	return t.vals[i], nil
}

func (x *tx) Insert(table string, key, val []byte) ([]byte, error) {
	return x.writeTable(table).set(key, val), nil
}

func (x *tx) Remove(table string, key []byte) ([]byte, error) {
	old, _ := x.writeTable(table).delete(key)
	return old, nil
}

func (x *tx) Count(table string) (uint64, error) {
	t := x.readTable(table)
	if t == nil {
		return 0, nil
	}
	return uint64(len(t.keys)), nil
}

func (x *tx) Clear(name string) error {
	x.staged[name] = &table{}
	return nil
}

func (x *tx) Range(table string, r kv.Range) (kv.Iterator, error) {
	t := x.readTable(table)
	if t == nil {
		return &sliceIter{}, nil
	}
	lo, hi := t.rangeSlice(r)
	return &sliceIter{keys: t.keys[lo:hi], vals: t.vals[lo:hi], idx: -1}, nil
}

// renameTable moves a table's content under a new name within this
// transaction's staged set. A nil entry in staged is a tombstone: it
// overrides whatever the base snapshot holds under that name, so a renamed
// table's old name reads as absent after commit instead of falling back to
// its pre-rename content.
func (x *tx) renameTable(oldName, newName string) error {
	moved := x.writeTable(oldName)
	x.staged[newName] = moved
	x.staged[oldName] = nil
	return nil
}

func (x *tx) RenameTable(oldName, newName string) error { return x.renameTable(oldName, newName) }

func (x *tx) DeleteTable(name string) error {
	x.staged[name] = nil
	return nil
}

func (x *tx) RenameMultimapTable(oldName, newName string) error {
	return x.renameTable(oldName, newName)
}

func (x *tx) DeleteMultimapTable(name string) error { return x.DeleteTable(name) }

func (x *tx) InsertMultimap(table string, key, val []byte) error {
	x.writeTable(table).set(multimapKey(key, val), keyLenMarker(key))
	return nil
}

func (x *tx) RemoveMultimap(table string, key, val []byte) (bool, error) {
	_, ok := x.writeTable(table).delete(multimapKey(key, val))
	return ok, nil
}

func (x *tx) RemoveAllMultimap(table string, key []byte) error {
	t := x.writeTable(table)
	r := kv.Range{
		Min: kv.Bound{Kind: kv.Included, Value: multimapKey(key, nil)},
		Max: kv.Bound{Kind: kv.Excluded, Value: multimapKeyUpperBound(key)},
	}
	lo, hi := t.rangeSlice(r)
	t.keys = append(t.keys[:lo:lo], t.keys[hi:]...)
	t.vals = append(t.vals[:lo:lo], t.vals[hi:]...)
	return nil
}

func (x *tx) ClearMultimap(table string) error {
	return x.Clear(table)
}

func (x *tx) GetMultimap(table string, key []byte) (kv.Iterator, error) {
	t := x.readTable(table)
	if t == nil {
		return &sliceIter{}, nil
	}
	r := kv.Range{
		Min: kv.Bound{Kind: kv.Included, Value: multimapKey(key, nil)},
		Max: kv.Bound{Kind: kv.Excluded, Value: multimapKeyUpperBound(key)},
	}
	lo, hi := t.rangeSlice(r)
	vals := make([][]byte, hi-lo)
	for i := lo; i < hi; i++ {
		vals[i-lo] = t.keys[i][len(key)+1:]
	}
	return &sliceIter{keys: vals, vals: make([][]byte, len(vals)), idx: -1}, nil
}

func (x *tx) RangeMultimap(table string, r kv.Range) (kv.Iterator, error) {
	t := x.readTable(table)
	if t == nil {
		return &sliceIter{}, nil
	}
	lo, hi := t.rangeSlice(r)
	keys := make([][]byte, hi-lo)
	vals := make([][]byte, hi-lo)
	for i := lo; i < hi; i++ {
		n := int(beUint32(t.vals[i]))
		keys[i-lo] = t.keys[i][:n]
		vals[i-lo] = t.keys[i][n+1:]
	}
	return &sliceIter{keys: keys, vals: vals, idx: -1}, nil
}

func (x *tx) Commit() error {
	if x.done {
		return nil
	}
	x.done = true
	if !x.write {
		return nil
	}
	defer x.db.writeMu.Unlock()
	x.db.mu.Lock()
	defer x.db.mu.Unlock()
	for name, t := range x.staged {
		if t == nil {
			delete(x.db.tables, name)
			continue
		}
		x.db.tables[name] = t
	}
	return nil
}

func (x *tx) Abort() error {
	if x.done {
		return nil
	}
	x.done = true
	if x.write {
		x.db.writeMu.Unlock()
	}
	return nil
}

type sliceIter struct {
	keys, vals [][]byte
	idx        int
}

func (it *sliceIter) Next() bool {
	it.idx++
	return it.idx < len(it.keys)
}

func (it *sliceIter) Key() []byte   { return it.keys[it.idx] }
func (it *sliceIter) Value() []byte { return it.vals[it.idx] }
func (it *sliceIter) Err() error    { return nil }
func (it *sliceIter) Close() error  { return nil }
