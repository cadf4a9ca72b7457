// Package schema provides a builder surface for declaring a collection's
// primary key and secondary indexes by hand, and an Open entry point that
// wires a set of such declarations into a shared kv.DB while enforcing
// table-name uniqueness across every collection in the database.
//
// This stands in for the derive-macro-generated schema binding of the
// reference implementation: instead of a macro expanding a struct's field
// attributes into extractors and a query builder, a collection declares
// itself by chaining CollectionDef methods, and writes its own per-document
// query builder (playerQuery in schema_test.go is a worked example).
package schema

import (
	"github.com/pkg/errors"

	"github.com/chancehudson/anondb/anonerr"
	"github.com/chancehudson/anondb/collection"
	"github.com/chancehudson/anondb/index"
	"github.com/chancehudson/anondb/journal"
	"github.com/chancehudson/anondb/kv"
	"github.com/chancehudson/anondb/metadata"
)

// Def is the type-erased view of a CollectionDef used by Open to validate
// and build a set of collections whose document types differ.
type Def interface {
	// Name returns the collection's name.
	Name() string

	tableNames() []string
	open(db kv.DB, j *journal.Journal) (any, error)
	describe() (metadata.CollectionDescription, []metadata.IndexDescription, error)
}

// CollectionDef accumulates a primary key and zero or more secondary index
// declarations for a document type T. Build it with NewCollection, chain
// PrimaryKey and Index calls, and pass it to Open alongside every other
// collection sharing the same kv.DB.
type CollectionDef[T any] struct {
	name      string
	encode    collection.Encoder[T]
	decode    collection.Decoder[T]
	primary   *index.Index[T]
	secondary []*index.Index[T]
	err       error
}

// NewCollection starts a collection declaration. encode/decode are the
// document's serialization functions, supplied by the caller so this package
// stays format-agnostic (the tests in this module use msgpack).
func NewCollection[T any](name string, encode collection.Encoder[T], decode collection.Decoder[T]) *CollectionDef[T] {
	return &CollectionDef[T]{name: name, encode: encode, decode: decode}
}

// PrimaryKey declares the collection's primary key as a compound of fields,
// extracted from a document by extractor. Exactly one PrimaryKey call is
// permitted per collection; a second call records a schema error surfaced
// by Open.
func (d *CollectionDef[T]) PrimaryKey(extractor func(T) []byte, fields ...index.Field) *CollectionDef[T] {
	if d.err != nil {
		return d
	}
	if d.primary != nil {
		d.err = errors.Wrapf(anonerr.ErrInvalidSchema, "schema: collection %q already has a primary key", d.name)
		return d
	}
	idx, err := index.New[T](d.name, fields, extractor, index.Options{Unique: true, Primary: true})
	if err != nil {
		d.err = err
		return d
	}
	d.primary = idx
	return d
}

// Index declares one secondary index over fields, extracted from a document
// by extractor. opts.Primary is always forced to false; use PrimaryKey to
// declare the primary key.
func (d *CollectionDef[T]) Index(extractor func(T) []byte, opts index.Options, fields ...index.Field) *CollectionDef[T] {
	if d.err != nil {
		return d
	}
	opts.Primary = false
	idx, err := index.New[T](d.name, fields, extractor, opts)
	if err != nil {
		d.err = err
		return d
	}
	d.secondary = append(d.secondary, idx)
	return d
}

// Name returns the collection's name.
func (d *CollectionDef[T]) Name() string { return d.name }

func (d *CollectionDef[T]) tableNames() []string {
	if d.primary == nil {
		return nil
	}
	names := make([]string, 0, 1+len(d.secondary))
	names = append(names, d.primary.TableName())
	for _, idx := range d.secondary {
		names = append(names, idx.TableName())
	}
	return names
}

func (d *CollectionDef[T]) describe() (metadata.CollectionDescription, []metadata.IndexDescription, error) {
	fingerprint, err := metadata.FieldFingerprint[T]()
	if err != nil {
		return metadata.CollectionDescription{}, nil, errors.Wrapf(err, "schema: collection %q", d.name)
	}
	if d.primary == nil {
		return fingerprint, nil, nil
	}
	descs := make([]metadata.IndexDescription, 0, 1+len(d.secondary))
	descs = append(descs, indexDescription(d.primary))
	for _, idx := range d.secondary {
		descs = append(descs, indexDescription(idx))
	}
	return fingerprint, descs, nil
}

func indexDescription[T any](idx *index.Index[T]) metadata.IndexDescription {
	fieldNames := make([]string, len(idx.Fields))
	for i, f := range idx.Fields {
		fieldNames[i] = f.Name
	}
	return metadata.IndexDescription{
		CollectionName: idx.CollectionName,
		FieldNames:     fieldNames,
		Options:        idx.Options,
		TableName:      idx.TableName(),
	}
}

func (d *CollectionDef[T]) open(db kv.DB, j *journal.Journal) (any, error) {
	if d.err != nil {
		return nil, d.err
	}
	if d.primary == nil {
		return nil, errors.Wrapf(anonerr.ErrInvalidSchema, "schema: collection %q has no primary key", d.name)
	}
	return collection.Open[T](db, j, d.name, d.primary, d.secondary, d.encode, d.decode)
}

// Open validates every declaration in defs (a missing primary key, or a
// table name reused across two collections, both fail the whole call) and
// then builds each collection against db. j is threaded into every
// collection so its writes are funneled through the journal when non-nil;
// pass nil to build collections that write directly against db. On success,
// the returned map holds one *collection.Collection[T] per definition, keyed
// by its name; callers recover the concrete type with a type assertion, e.g.
// cols["widgets"].(*collection.Collection[widget]).
func Open(db kv.DB, j *journal.Journal, defs ...Def) (map[string]any, error) {
	owner := make(map[string]string, len(defs))
	for _, d := range defs {
		names := d.tableNames()
		if names == nil {
			return nil, errors.Wrapf(anonerr.ErrInvalidSchema, "schema: collection %q has no primary key", d.Name())
		}
		for _, tn := range names {
			if prev, dup := owner[tn]; dup {
				return nil, errors.Wrapf(anonerr.ErrInvalidSchema, "schema: table name %q used by both collection %q and %q", tn, prev, d.Name())
			}
			owner[tn] = d.Name()
		}
	}

	cols := make(map[string]any, len(defs))
	for _, d := range defs {
		c, err := d.open(db, j)
		if err != nil {
			return nil, err
		}
		cols[d.Name()] = c
	}
	return cols, nil
}

// CheckReserved rejects defs that declare a table name colliding with one
// of reserved (the journal's and metadata's own system table names, which
// live in the same kv.DB namespace and so are just as capable of aliasing
// a collection table as two collections aliasing each other).
func CheckReserved(reserved []string, defs ...Def) error {
	set := make(map[string]bool, len(reserved))
	for _, r := range reserved {
		set[r] = true
	}
	for _, d := range defs {
		for _, tn := range d.tableNames() {
			if set[tn] {
				return errors.Wrapf(anonerr.ErrInvalidSchema, "schema: table name %q collides with a reserved system table", tn)
			}
		}
	}
	return nil
}

// Describe computes the metadata descriptor for defs: one field fingerprint
// per collection and one index description per primary or secondary index,
// keyed by table name; a table name declared twice is rejected with
// ErrInvalidSchema. schemaVersion is informational — it is stored on the
// document but not itself compared; Document.Compare detects drift from the
// indices/fingerprints themselves.
func Describe(schemaVersion uint64, defs ...Def) (metadata.Document, error) {
	doc := metadata.NewDocument(schemaVersion)
	for _, d := range defs {
		fingerprint, indices, err := d.describe()
		if err != nil {
			return metadata.Document{}, err
		}
		doc.AddCollection(d.Name(), fingerprint)
		for _, idx := range indices {
			if _, dup := doc.IndicesByCollection[idx.TableName]; dup {
				return metadata.Document{}, errors.Wrapf(anonerr.ErrInvalidSchema, "schema: table name %q declared more than once", idx.TableName)
			}
			doc.AddIndex(idx)
		}
	}
	return doc, nil
}
