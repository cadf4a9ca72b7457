// Package index implements one index (primary or secondary) over a
// collection: the compound key extractor, insertion, range planning, query
// execution, and compatibility scoring used to choose among a collection's
// indexes for a given query.
package index

import (
	"github.com/pkg/errors"

	"github.com/chancehudson/anondb/anonerr"
	"github.com/chancehudson/anondb/kv"
)

// Field describes one component of an index's compound key. FixedWidth is
// -1 for a variable-width (self-terminating) field, matching
// lexkey's fixed_width: Option<u32>.
type Field struct {
	Name       string
	FixedWidth int
}

// Options controls how an index stores its entries.
type Options struct {
	// Unique requires at most one document per distinct key; entries are
	// stored in a single-valued table rather than a multimap table.
	Unique bool
	// Primary marks the index whose table IS the collection's document
	// table: its table name equals the collection name and its stored
	// values are full serialized documents rather than primary-key
	// pointers. Primary implies Unique.
	Primary bool
}

// Index is one secondary or primary index over collection T.
type Index[T any] struct {
	CollectionName string
	Fields         []Field
	ExtractKey     func(doc T) []byte
	Options        Options

	tableName string
}

// New validates fields and options and computes the index's table name.
func New[T any](collectionName string, fields []Field, extractKey func(T) []byte, opts Options) (*Index[T], error) {
	if len(fields) == 0 {
		return nil, errors.Wrap(anonerr.ErrInvalidSchema, "index: field list must be non-empty")
	}
	if opts.Primary && !opts.Unique {
		return nil, errors.Wrap(anonerr.ErrInvalidSchema, "index: primary index must be unique")
	}
	return &Index[T]{
		CollectionName: collectionName,
		Fields:         fields,
		ExtractKey:     extractKey,
		Options:        opts,
		tableName:      TableName(collectionName, fields, opts),
	}, nil
}

// TableName computes the table-name rule: a primary index's table is the
// collection name itself; a secondary index's table name is derived from
// the collection name and its field list, with a "_unique" suffix only
// when the index requires uniqueness.
func TableName(collectionName string, fields []Field, opts Options) string {
	if opts.Primary {
		return collectionName
	}
	name := collectionName
	for _, f := range fields {
		name += "_" + f.Name
	}
	if opts.Unique {
		name += "_unique"
	}
	return name
}

// TableName returns this index's computed table name.
func (idx *Index[T]) TableName() string { return idx.tableName }

// Insert adds this index's entry for doc. docBytes is used as the stored
// value when this is the primary index (it stores full documents);
// primaryKeyBytes is used otherwise (secondary indexes point back at the
// primary key).
func (idx *Index[T]) Insert(tx kv.Tx, doc T, docBytes, primaryKeyBytes []byte) error {
	key := idx.ExtractKey(doc)
	var value []byte
	if idx.Options.Primary {
		value = docBytes
	} else {
		value = primaryKeyBytes
	}

	if idx.Options.Unique {
		if _, err := tx.Get(idx.tableName, key); err == nil {
			if idx.Options.Primary {
				return anonerr.ErrDuplicatePrimaryKey
			}
			return anonerr.ErrUniqueIndexViolation
		} else if err != kv.ErrNotFound {
			return errors.Wrap(err, "index: insert lookup")
		}
		if _, err := tx.Insert(idx.tableName, key, value); err != nil {
			return errors.Wrap(err, "index: insert")
		}
		return nil
	}

	if err := tx.InsertMultimap(idx.tableName, key, value); err != nil {
		return errors.Wrap(err, "index: insert multimap")
	}
	return nil
}

// Remove deletes this index's entry for doc, given the same bytes that
// were passed to Insert. Nothing in this module calls it: RebuildIndices
// uses Clear, and Collection has no delete operation.
func (idx *Index[T]) Remove(tx kv.Tx, doc T, primaryKeyBytes []byte) error {
	key := idx.ExtractKey(doc)
	if idx.Options.Unique {
		if _, err := tx.Remove(idx.tableName, key); err != nil {
			return errors.Wrap(err, "index: remove")
		}
		return nil
	}
	if _, err := tx.RemoveMultimap(idx.tableName, key, primaryKeyBytes); err != nil {
		return errors.Wrap(err, "index: remove multimap")
	}
	return nil
}

// Clear drops every entry in this index's table, used by RebuildIndices.
func (idx *Index[T]) Clear(tx kv.Tx) error {
	if idx.Options.Unique {
		return errors.Wrap(tx.Clear(idx.tableName), "index: clear")
	}
	return errors.Wrap(tx.ClearMultimap(idx.tableName), "index: clear multimap")
}
