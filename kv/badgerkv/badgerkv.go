// Package badgerkv implements kv.DB on top of github.com/dgraph-io/badger/v4,
// the embedded LSM-tree store this database uses for real (non-test)
// storage. Badger's own transaction model already gives single-writer,
// many-reader MVCC snapshot isolation and atomic fallible commit; this
// package's job is narrower: map named tables and multimap tables onto
// Badger's flat byte-key space, the same byte-prefix-per-table convention
// used by on-disk key-value schemas throughout the Go ecosystem.
//
// Key layout:
//
//	0xfe ++ kind(1) ++ name            -> table id (4 bytes BE)      [catalog]
//	0xff                                -> next free table id (4 bytes BE)
//	0x01 ++ id(4) ++ userKey            -> value                     [table]
//	0x02 ++ id(4) ++ userKey ++ 0x00 ++ value -> keyLen(4 bytes BE)   [multimap table]
package badgerkv

import (
	"bytes"
	"encoding/binary"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"

	"github.com/chancehudson/anondb/kv"
)

const (
	kindRegular  byte = 0x01
	kindMultimap byte = 0x02
	catalogByte  byte = 0xfe
	counterByte  byte = 0xff
)

var counterKey = []byte{counterByte}

// DB wraps an open *badger.DB as a kv.DB.
type DB struct {
	bdb *badger.DB

	writeMu sync.Mutex // serializes write transactions, per the kv.DB contract

	mu       sync.Mutex
	tableIDs map[string]uint32
	nextID   uint32
}

// OpenAtPath opens (creating if necessary) a persistent Badger store at path.
func OpenAtPath(path string) (*DB, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	return open(opts)
}

// OpenInMemory opens a Badger store that keeps everything in memory and
// discards it on Close. Useful for tests that want Badger's real
// transaction semantics without touching disk.
func OpenInMemory() (*DB, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return open(opts)
}

// OpenWithOptions opens Badger using opts verbatim, for callers that need
// to tune Badger beyond what OpenAtPath/OpenInMemory's defaults provide
// (anondb.Options.WithBadgerOptions uses this).
func OpenWithOptions(opts badger.Options) (*DB, error) {
	return open(opts)
}

func open(opts badger.Options) (*DB, error) {
	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "badgerkv: open")
	}
	d := &DB{bdb: bdb, tableIDs: make(map[string]uint32)}
	if err := d.loadCatalog(); err != nil {
		bdb.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) loadCatalog() error {
	return d.bdb.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte{catalogByte}
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return errors.Wrap(err, "badgerkv: read catalog entry")
			}
			// key = 0xfe ++ kind(1) ++ name
			name := string(key[2:])
			d.tableIDs[string(key[1])+name] = binary.BigEndian.Uint32(val)
		}
		item, err := txn.Get(counterKey)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "badgerkv: read table id counter")
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		d.nextID = binary.BigEndian.Uint32(val)
		return nil
	})
}

func (d *DB) Close() error {
	return errors.Wrap(d.bdb.Close(), "badgerkv: close")
}

func (d *DB) BeginRead() (kv.Tx, error) {
	return &tx{db: d, write: false, btx: d.bdb.NewTransaction(false)}, nil
}

func (d *DB) BeginWrite() (kv.Tx, error) {
	d.writeMu.Lock()
	return &tx{db: d, write: true, btx: d.bdb.NewTransaction(true)}, nil
}

// tableID returns the assigned id for (kind, name), and whether one exists.
// It never assigns: a table with no data never got an id, and ranging or
// reading it must behave as empty, not as an error.
func (d *DB) tableID(kind byte, name string) (uint32, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.tableIDs[string(kind)+name]
	return id, ok
}

// ensureTableID assigns an id to (kind, name) on first write, persisting the
// catalog entry and the bumped counter inside the same Badger transaction
// as the write that triggered it, so the assignment is only durable if the
// write it was for also commits.
func (d *DB) ensureTableID(btx *badger.Txn, kind byte, name string) (uint32, error) {
	d.mu.Lock()
	mapKey := string(kind) + name
	if id, ok := d.tableIDs[mapKey]; ok {
		d.mu.Unlock()
		return id, nil
	}
	id := d.nextID
	d.nextID++
	d.tableIDs[mapKey] = id
	next := d.nextID
	d.mu.Unlock()

	catKey := append([]byte{catalogByte, kind}, []byte(name)...)
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, id)
	if err := btx.Set(catKey, buf); err != nil {
		return 0, errors.Wrap(err, "badgerkv: write catalog entry")
	}
	ctr := make([]byte, 4)
	binary.BigEndian.PutUint32(ctr, next)
	if err := btx.Set(counterKey, ctr); err != nil {
		return 0, errors.Wrap(err, "badgerkv: write table id counter")
	}
	return id, nil
}

func dataPrefix(kind byte, id uint32) []byte {
	buf := make([]byte, 5)
	buf[0] = kind
	binary.BigEndian.PutUint32(buf[1:], id)
	return buf
}

func dataKey(kind byte, id uint32, userKey []byte) []byte {
	return append(dataPrefix(kind, id), userKey...)
}

func multimapUserKey(key, val []byte) []byte {
	out := make([]byte, 0, len(key)+1+len(val))
	out = append(out, key...)
	out = append(out, 0x00)
	out = append(out, val...)
	return out
}

func multimapUserKeyUpper(key []byte) []byte {
	out := make([]byte, 0, len(key)+1)
	out = append(out, key...)
	out = append(out, 0x01)
	return out
}

type tx struct {
	db    *DB
	write bool
	btx   *badger.Txn
	done  bool
}

func (x *tx) IsWrite() bool { return x.write }

func getValue(btx *badger.Txn, key []byte) ([]byte, error) {
	item, err := btx.Get(key)
	if err == badger.ErrKeyNotFound {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "badgerkv: get")
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, errors.Wrap(err, "badgerkv: copy value")
	}
	return val, nil
}

func (x *tx) Get(table string, key []byte) ([]byte, error) {
	id, ok := x.db.tableID(kindRegular, table)
	if !ok {
		return nil, kv.ErrNotFound
	}
	return getValue(x.btx, dataKey(kindRegular, id, key))
}

func (x *tx) Insert(table string, key, val []byte) ([]byte, error) {
	id, err := x.db.ensureTableID(x.btx, kindRegular, table)
	if err != nil {
		return nil, err
	}
	fullKey := dataKey(kindRegular, id, key)
	old, err := getValue(x.btx, fullKey)
	if err != nil && err != kv.ErrNotFound {
		return nil, err
	}
	if err := x.btx.Set(fullKey, val); err != nil {
		return nil, errors.Wrap(err, "badgerkv: insert")
	}
	if err == kv.ErrNotFound {
		return nil, nil
	}
	return old, nil
}

func (x *tx) Remove(table string, key []byte) ([]byte, error) {
	id, ok := x.db.tableID(kindRegular, table)
	if !ok {
		return nil, nil
	}
	fullKey := dataKey(kindRegular, id, key)
	old, err := getValue(x.btx, fullKey)
	if err == kv.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := x.btx.Delete(fullKey); err != nil {
		return nil, errors.Wrap(err, "badgerkv: remove")
	}
	return old, nil
}

func (x *tx) Count(table string) (uint64, error) {
	id, ok := x.db.tableID(kindRegular, table)
	if !ok {
		return 0, nil
	}
	prefix := dataPrefix(kindRegular, id)
	var n uint64
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := x.btx.NewIterator(opts)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		n++
	}
	return n, nil
}

func (x *tx) clearPrefix(prefix []byte) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := x.btx.NewIterator(opts)
	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()
	for _, k := range keys {
		if err := x.btx.Delete(k); err != nil {
			return errors.Wrap(err, "badgerkv: clear")
		}
	}
	return nil
}

func (x *tx) Clear(table string) error {
	id, ok := x.db.tableID(kindRegular, table)
	if !ok {
		return nil
	}
	return x.clearPrefix(dataPrefix(kindRegular, id))
}

// lowerBound and upperBoundExclusive append a range endpoint's value onto a
// table prefix, or, for an unbounded endpoint, return the prefix itself
// (min) or the prefix's upper exclusive bound (max, prefix with its last
// byte incremented).
func lowerBound(prefix []byte, b kv.Bound) []byte {
	switch b.Kind {
	case kv.Included:
		return append(append([]byte{}, prefix...), b.Value...)
	case kv.Excluded:
		return append(append(append([]byte{}, prefix...), b.Value...), 0x00)
	default:
		return prefix
	}
}

func prefixUpperBound(prefix []byte) []byte {
	out := append([]byte{}, prefix...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] < 0xff {
			out[i]++
			return out[:i+1]
		}
	}
	// all 0xff: no finite upper bound within this keyspace; the caller
	// must treat this as "no upper limit".
	return nil
}

func upperBoundExclusive(prefix []byte, b kv.Bound) []byte {
	switch b.Kind {
	case kv.Included:
		return append(append(append([]byte{}, prefix...), b.Value...), 0x00)
	case kv.Excluded:
		return append(append([]byte{}, prefix...), b.Value...)
	default:
		return prefixUpperBound(prefix)
	}
}

func (x *tx) rangeIter(prefix []byte, r kv.Range) *boundedIter {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := x.btx.NewIterator(opts)
	lo := lowerBound(prefix, r.Min)
	hi := upperBoundExclusive(prefix, r.Max)
	it.Seek(lo)
	return &boundedIter{it: it, prefix: prefix, upper: hi}
}

func (x *tx) Range(table string, r kv.Range) (kv.Iterator, error) {
	id, ok := x.db.tableID(kindRegular, table)
	if !ok {
		return &boundedIter{}, nil
	}
	prefix := dataPrefix(kindRegular, id)
	return x.rangeIter(prefix, r), nil
}

// renameTable repoints the catalog entry for (kind, oldName) at newName,
// leaving the underlying id (and therefore all its data) untouched: the
// rename is just a catalog edit, not a data copy. A table with no assigned
// id (never written to) has nothing to rename.
func (x *tx) renameTable(kind byte, oldName, newName string) error {
	id, ok := x.db.tableID(kind, oldName)
	if !ok {
		return nil
	}
	if err := x.btx.Delete(append([]byte{catalogByte, kind}, []byte(oldName)...)); err != nil {
		return errors.Wrap(err, "badgerkv: delete old catalog entry")
	}
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, id)
	if err := x.btx.Set(append([]byte{catalogByte, kind}, []byte(newName)...), buf); err != nil {
		return errors.Wrap(err, "badgerkv: write renamed catalog entry")
	}
	x.db.mu.Lock()
	delete(x.db.tableIDs, string(kind)+oldName)
	x.db.tableIDs[string(kind)+newName] = id
	x.db.mu.Unlock()
	return nil
}

// deleteTable removes (kind, name)'s catalog entry and every data entry
// under its id prefix.
func (x *tx) deleteTable(kind byte, name string) error {
	id, ok := x.db.tableID(kind, name)
	if !ok {
		return nil
	}
	if err := x.clearPrefix(dataPrefix(kind, id)); err != nil {
		return err
	}
	if err := x.btx.Delete(append([]byte{catalogByte, kind}, []byte(name)...)); err != nil {
		return errors.Wrap(err, "badgerkv: delete catalog entry")
	}
	x.db.mu.Lock()
	delete(x.db.tableIDs, string(kind)+name)
	x.db.mu.Unlock()
	return nil
}

func (x *tx) RenameTable(oldName, newName string) error {
	return x.renameTable(kindRegular, oldName, newName)
}

func (x *tx) DeleteTable(name string) error {
	return x.deleteTable(kindRegular, name)
}

func (x *tx) RenameMultimapTable(oldName, newName string) error {
	return x.renameTable(kindMultimap, oldName, newName)
}

func (x *tx) DeleteMultimapTable(name string) error {
	return x.deleteTable(kindMultimap, name)
}

func (x *tx) InsertMultimap(table string, key, val []byte) error {
	id, err := x.db.ensureTableID(x.btx, kindMultimap, table)
	if err != nil {
		return err
	}
	fullKey := dataKey(kindMultimap, id, multimapUserKey(key, val))
	marker := make([]byte, 4)
	binary.BigEndian.PutUint32(marker, uint32(len(key)))
	if err := x.btx.Set(fullKey, marker); err != nil {
		return errors.Wrap(err, "badgerkv: insert multimap")
	}
	return nil
}

func (x *tx) RemoveMultimap(table string, key, val []byte) (bool, error) {
	id, ok := x.db.tableID(kindMultimap, table)
	if !ok {
		return false, nil
	}
	fullKey := dataKey(kindMultimap, id, multimapUserKey(key, val))
	if _, err := x.btx.Get(fullKey); err == badger.ErrKeyNotFound {
		return false, nil
	} else if err != nil {
		return false, errors.Wrap(err, "badgerkv: remove multimap lookup")
	}
	if err := x.btx.Delete(fullKey); err != nil {
		return false, errors.Wrap(err, "badgerkv: remove multimap")
	}
	return true, nil
}

func (x *tx) RemoveAllMultimap(table string, key []byte) error {
	id, ok := x.db.tableID(kindMultimap, table)
	if !ok {
		return nil
	}
	prefix := dataPrefix(kindMultimap, id)
	lo := append(append([]byte{}, prefix...), multimapUserKey(key, nil)...)
	hi := append(append([]byte{}, prefix...), multimapUserKeyUpper(key)...)
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := x.btx.NewIterator(opts)
	var keys [][]byte
	for it.Seek(lo); it.ValidForPrefix(prefix) && bytes.Compare(it.Item().Key(), hi) < 0; it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()
	for _, k := range keys {
		if err := x.btx.Delete(k); err != nil {
			return errors.Wrap(err, "badgerkv: remove all multimap")
		}
	}
	return nil
}

func (x *tx) ClearMultimap(table string) error {
	id, ok := x.db.tableID(kindMultimap, table)
	if !ok {
		return nil
	}
	return x.clearPrefix(dataPrefix(kindMultimap, id))
}

func (x *tx) GetMultimap(table string, key []byte) (kv.Iterator, error) {
	id, ok := x.db.tableID(kindMultimap, table)
	if !ok {
		return &boundedIter{}, nil
	}
	prefix := dataPrefix(kindMultimap, id)
	r := kv.Range{
		Min: kv.Bound{Kind: kv.Included, Value: multimapUserKey(key, nil)},
		Max: kv.Bound{Kind: kv.Excluded, Value: multimapUserKeyUpper(key)},
	}
	it := x.rangeIter(prefix, r)
	return &multimapValueIter{boundedIter: it, keyLen: len(key)}, nil
}

func (x *tx) RangeMultimap(table string, r kv.Range) (kv.Iterator, error) {
	id, ok := x.db.tableID(kindMultimap, table)
	if !ok {
		return &boundedIter{}, nil
	}
	prefix := dataPrefix(kindMultimap, id)
	it := x.rangeIter(prefix, r)
	return &multimapSplitIter{boundedIter: it}, nil
}

func (x *tx) Commit() error {
	if x.done {
		return nil
	}
	x.done = true
	err := x.btx.Commit()
	if x.write {
		x.db.writeMu.Unlock()
	}
	if err != nil {
		return errors.Wrap(err, "badgerkv: commit")
	}
	return nil
}

func (x *tx) Abort() error {
	if x.done {
		return nil
	}
	x.done = true
	x.btx.Discard()
	if x.write {
		x.db.writeMu.Unlock()
	}
	return nil
}

// boundedIter wraps a *badger.Iterator, stripping the table prefix and
// stopping at an exclusive upper bound that Badger's own Prefix option
// cannot express (e.g. a user-supplied Excluded/Included endpoint).
type boundedIter struct {
	it       *badger.Iterator
	prefix   []byte
	upper    []byte
	started  bool
	key, val []byte
	err      error
}

func (b *boundedIter) Next() bool {
	if b.it == nil {
		return false
	}
	if !b.started {
		b.started = true
	} else {
		b.it.Next()
	}
	if !b.it.ValidForPrefix(b.prefix) {
		return false
	}
	fullKey := b.it.Item().KeyCopy(nil)
	if b.upper != nil && bytes.Compare(fullKey, b.upper) >= 0 {
		return false
	}
	val, err := b.it.Item().ValueCopy(nil)
	if err != nil {
		b.err = errors.Wrap(err, "badgerkv: iterate")
		return false
	}
	b.key = fullKey[len(b.prefix):]
	b.val = val
	return true
}

func (b *boundedIter) Key() []byte   { return b.key }
func (b *boundedIter) Value() []byte { return b.val }
func (b *boundedIter) Err() error    { return b.err }
func (b *boundedIter) Close() error {
	if b.it != nil {
		b.it.Close()
	}
	return nil
}

// multimapValueIter adapts a boundedIter scoped to one multimap key so that
// Key() yields the member value rather than the composite storage key.
type multimapValueIter struct {
	*boundedIter
	keyLen int
}

func (m *multimapValueIter) Key() []byte   { return m.boundedIter.Key()[m.keyLen+1:] }
func (m *multimapValueIter) Value() []byte { return nil }

// multimapSplitIter adapts a boundedIter over an entire multimap table,
// splitting each composite key++0x00++value entry back into (key, value)
// using the key length recorded as that entry's stored value.
type multimapSplitIter struct {
	*boundedIter
	key, val []byte
}

func (m *multimapSplitIter) Next() bool {
	if !m.boundedIter.Next() {
		return false
	}
	composite := m.boundedIter.Key()
	n := int(binary.BigEndian.Uint32(m.boundedIter.Value()))
	m.key = composite[:n]
	m.val = composite[n+1:]
	return true
}

func (m *multimapSplitIter) Key() []byte   { return m.key }
func (m *multimapSplitIter) Value() []byte { return m.val }
