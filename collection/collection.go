// Package collection implements a typed document container bound to a KV
// handle: it owns exactly one primary index and zero or more secondary
// indexes, and executes insert and find operations by delegating range
// planning, scoring, and scanning to the index package.
package collection

import (
	"iter"

	"github.com/pkg/errors"

	"github.com/chancehudson/anondb/anonerr"
	"github.com/chancehudson/anondb/index"
	"github.com/chancehudson/anondb/journal"
	"github.com/chancehudson/anondb/kv"
	"github.com/chancehudson/anondb/query"
)

// Encoder serializes a document to its stored byte representation.
type Encoder[T any] func(T) ([]byte, error)

// Decoder deserializes a document from its stored byte representation.
type Decoder[T any] func([]byte) (T, error)

// Collection is a typed document container: a primary index (which stores
// full documents) plus any number of secondary indexes (which point back
// at the primary key), all bound to the same kv.DB.
type Collection[T any] struct {
	db        kv.DB
	journal   *journal.Journal
	name      string
	primary   *index.Index[T]
	secondary []*index.Index[T]
	encode    Encoder[T]
	decode    Decoder[T]
}

// Open validates and constructs a collection. primary must have been built
// with index.Options{Primary: true}; every secondary index's table name
// must be distinct from the primary's and from every other secondary's. j
// is the journal writes are funneled through when non-nil; a nil j means
// Insert and RebuildIndices write directly against db instead.
func Open[T any](db kv.DB, j *journal.Journal, name string, primary *index.Index[T], secondary []*index.Index[T], encode Encoder[T], decode Decoder[T]) (*Collection[T], error) {
	if !primary.Options.Primary {
		return nil, errors.Wrap(anonerr.ErrInvalidSchema, "collection: primary index must have Options.Primary set")
	}
	tableNames := map[string]bool{primary.TableName(): true}
	for _, idx := range secondary {
		if tableNames[idx.TableName()] {
			return nil, errors.Wrapf(anonerr.ErrInvalidSchema, "collection: duplicate index table name %q", idx.TableName())
		}
		tableNames[idx.TableName()] = true
	}
	return &Collection[T]{
		db:        db,
		journal:   j,
		name:      name,
		primary:   primary,
		secondary: secondary,
		encode:    encode,
		decode:    decode,
	}, nil
}

// beginWrite opens a write transaction for a mutating operation: a
// journaled ActiveTransaction when this collection was opened with a
// journal, or a plain kv.Tx otherwise. The returned commit/abort funcs hide
// that distinction from callers.
func (c *Collection[T]) beginWrite() (tx kv.Tx, commit func() error, abort func() error, err error) {
	if c.journal != nil {
		at, err := c.journal.Begin()
		if err != nil {
			return nil, nil, nil, errors.Wrap(err, "collection: begin journaled write")
		}
		return at.Tx(), at.Commit, at.Abort, nil
	}
	kvTx, err := c.db.BeginWrite()
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "collection: begin write")
	}
	return kvTx, kvTx.Commit, kvTx.Abort, nil
}

// Name returns the collection's name (the primary index's table name).
func (c *Collection[T]) Name() string { return c.name }

// Insert serializes doc, writes it into the primary table, inserts one
// entry per secondary index, and commits all of it atomically. Returns
// anonerr.ErrDuplicatePrimaryKey if the primary key already exists.
func (c *Collection[T]) Insert(doc T) error {
	docBytes, err := c.encode(doc)
	if err != nil {
		return errors.Wrap(err, "collection: encode")
	}
	pk := c.primary.ExtractKey(doc)

	tx, commit, abort, err := c.beginWrite()
	if err != nil {
		return err
	}
	if err := c.primary.Insert(tx, doc, docBytes, nil); err != nil {
		abort()
		return err
	}
	for _, idx := range c.secondary {
		if err := idx.Insert(tx, doc, nil, pk); err != nil {
			abort()
			return err
		}
	}
	if err := commit(); err != nil {
		return errors.Wrap(err, "collection: commit")
	}
	return nil
}

// Count returns the number of documents currently in the collection.
func (c *Collection[T]) Count() (uint64, error) {
	tx, err := c.db.BeginRead()
	if err != nil {
		return 0, errors.Wrap(err, "collection: begin read")
	}
	defer tx.Abort()
	n, err := tx.Count(c.primary.TableName())
	if err != nil {
		return 0, errors.Wrap(err, "collection: count")
	}
	return n, nil
}

// bestIndex scores every index against q and returns the index expected to
// accelerate it the most. The primary index always participates, so a
// query with no matching secondary index still yields a usable (full
// table scan) plan.
func (c *Collection[T]) bestIndex(q query.Query) *index.Index[T] {
	best := c.primary
	bestScore := c.primary.Score(q)
	for _, idx := range c.secondary {
		if s := idx.Score(q); s > bestScore {
			best = idx
			bestScore = s
		}
	}
	return best
}

func (c *Collection[T]) resolver(tx kv.Tx, idx *index.Index[T]) func([]byte) (T, error) {
	if idx.Options.Primary {
		return c.decode
	}
	return func(pk []byte) (T, error) {
		docBytes, err := tx.Get(c.primary.TableName(), pk)
		if err != nil {
			var zero T
			if err == kv.ErrNotFound {
				return zero, errors.Wrapf(anonerr.ErrDanglingIndexEntry, "collection: index %q points at missing primary key", idx.TableName())
			}
			return zero, err
		}
		return c.decode(docBytes)
	}
}

// FindOne returns the first document matching q, scored and scanned via
// whichever index best accelerates it.
func (c *Collection[T]) FindOne(q query.Query) (T, bool, error) {
	tx, err := c.db.BeginRead()
	if err != nil {
		var zero T
		return zero, false, errors.Wrap(err, "collection: begin read")
	}
	defer tx.Abort()

	idx := c.bestIndex(q)
	doc, ok, err := idx.ExecuteOne(tx, q, c.resolver(tx, idx))
	if err != nil {
		var zero T
		return zero, false, errors.Wrap(err, "collection: find one")
	}
	return doc, ok, nil
}

// FindMany returns a lazy sequence over every document matching q, backed
// by a single read transaction held open for the lifetime of the
// iteration. The transaction is released when iteration stops, including
// early termination by the consumer.
func (c *Collection[T]) FindMany(q query.Query) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		tx, err := c.db.BeginRead()
		if err != nil {
			var zero T
			yield(zero, errors.Wrap(err, "collection: begin read"))
			return
		}
		defer tx.Abort()

		idx := c.bestIndex(q)
		docs, err := idx.Execute(tx, q, c.resolver(tx, idx))
		if err != nil {
			var zero T
			yield(zero, errors.Wrap(err, "collection: find many"))
			return
		}
		for _, doc := range docs {
			if !yield(doc, nil) {
				return
			}
		}
	}
}

// RebuildIndices drops and repopulates every secondary index's table from
// the primary table's current contents. Used after adding a new index to
// an existing collection, or to repair a secondary index suspected of
// drifting from the primary table.
func (c *Collection[T]) RebuildIndices() error {
	if len(c.secondary) == 0 {
		// Nothing to clear or repopulate; a journaled write transaction with
		// zero secondary indexes would otherwise produce zero Ops, which
		// ActiveTransaction.Commit rejects as an empty transaction.
		return nil
	}

	tx, commit, abort, err := c.beginWrite()
	if err != nil {
		return err
	}
	for _, idx := range c.secondary {
		if err := idx.Clear(tx); err != nil {
			abort()
			return err
		}
	}

	it, err := tx.Range(c.primary.TableName(), kv.Range{})
	if err != nil {
		abort()
		return errors.Wrap(err, "collection: range primary table")
	}
	for it.Next() {
		pk := append([]byte{}, it.Key()...)
		docBytes := append([]byte{}, it.Value()...)
		doc, err := c.decode(docBytes)
		if err != nil {
			it.Close()
			abort()
			return errors.Wrap(err, "collection: decode during rebuild")
		}
		for _, idx := range c.secondary {
			if err := idx.Insert(tx, doc, nil, pk); err != nil {
				it.Close()
				abort()
				return err
			}
		}
	}
	if err := it.Err(); err != nil {
		it.Close()
		abort()
		return errors.Wrap(err, "collection: iterate during rebuild")
	}
	it.Close()

	if err := commit(); err != nil {
		return errors.Wrap(err, "collection: commit rebuild")
	}
	return nil
}
