// Package metadata computes and persists the schema descriptor anondb
// compares against on every open: a per-collection index description plus a
// field fingerprint, so a schema change since the last run is caught before
// any query runs against a mismatched index layout rather than corrupting
// data silently.
package metadata

import (
	"reflect"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/chancehudson/anondb/anonerr"
	"github.com/chancehudson/anondb/index"
	"github.com/chancehudson/anondb/kv"
)

// CurrentVersion is the version of the Document shape itself (not
// the schema it describes). Bumping it without a migration path is a
// breaking change this package refuses to open across.
const CurrentVersion uint64 = 1

const (
	metadataTableName = "_______anondb_metadata"
	storageKey        = "metadata"
)

// SystemTables returns metadata's own reserved table name.
func SystemTables() []string { return []string{metadataTableName} }

// IndexDescription is the persisted shape of one index (primary or
// secondary) over a collection.
type IndexDescription struct {
	CollectionName string        `msgpack:"collection_name"`
	FieldNames     []string      `msgpack:"field_names"`
	Options        index.Options `msgpack:"options"`
	TableName      string        `msgpack:"table_name"`
}

// CollectionDescription is a document type's field fingerprint: field name
// mapped to its Go type name, in declaration order irrelevant (the map
// itself is the comparison unit).
type CollectionDescription struct {
	Fields map[string]string `msgpack:"fields"`
}

// Document is the full descriptor: every collection's index descriptions,
// keyed by table name (schema.Describe rejects a table name declared twice,
// so no entry overwrites another), plus every collection's field fingerprint, keyed by
// collection name.
type Document struct {
	Version             uint64                            `msgpack:"version"`
	SchemaVersion       uint64                            `msgpack:"schema_version"`
	IndicesByCollection map[string]IndexDescription        `msgpack:"indices_by_collection"`
	Collections         map[string]CollectionDescription   `msgpack:"collections"`
}

// NewDocument starts an empty descriptor at the current document version.
// schemaVersion is caller-supplied: it increments only when the caller's
// own schema declarations change, independent of this package's version.
func NewDocument(schemaVersion uint64) Document {
	return Document{
		Version:             CurrentVersion,
		SchemaVersion:       schemaVersion,
		IndicesByCollection: make(map[string]IndexDescription),
		Collections:         make(map[string]CollectionDescription),
	}
}

// AddIndex records one index's descriptor, keyed by its table name.
func (d Document) AddIndex(desc IndexDescription) {
	d.IndicesByCollection[desc.TableName] = desc
}

// AddCollection records one collection's field fingerprint.
func (d Document) AddCollection(name string, desc CollectionDescription) {
	d.Collections[name] = desc
}

// FieldFingerprint reflects over T's exported struct fields, mapping each
// field's name to its Go type's string representation. T must be a struct
// type (not a pointer to one); this is the same document-type constraint
// every other generic in this module assumes.
func FieldFingerprint[T any]() (CollectionDescription, error) {
	var zero T
	t := reflect.TypeOf(zero)
	if t == nil || t.Kind() != reflect.Struct {
		return CollectionDescription{}, errors.New("metadata: document type must be a struct")
	}
	fields := make(map[string]string, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		fields[f.Name] = f.Type.String()
	}
	return CollectionDescription{Fields: fields}, nil
}

// Equal reports whether d and other describe the same schema, ignoring
// Version and SchemaVersion (Compare checks Version separately, and
// SchemaVersion is informational only).
func (d Document) Equal(other Document) bool {
	return reflect.DeepEqual(d.IndicesByCollection, other.IndicesByCollection) &&
		reflect.DeepEqual(d.Collections, other.Collections)
}

// Compare checks a freshly computed descriptor (d) against a persisted one
// (stored). A Version mismatch means this build of the package cannot even
// interpret the stored document's shape, so it refuses unconditionally.
// Otherwise, any difference in indices or field fingerprints refuses to
// open: migration is not yet implemented, even for an apparently additive
// change, per the reference implementation's own stance.
func (d Document) Compare(stored Document) error {
	if d.Version != stored.Version {
		return errors.Wrapf(anonerr.ErrSchemaDrift, "metadata: document version %d cannot read stored version %d", d.Version, stored.Version)
	}
	if d.Equal(stored) {
		return nil
	}
	return errors.Wrap(anonerr.ErrSchemaDrift, "metadata: schema changed since last open")
}

// Load reads the persisted descriptor, if any, through tx.
func Load(tx kv.Tx) (Document, bool, error) {
	raw, err := tx.Get(metadataTableName, []byte(storageKey))
	if err == kv.ErrNotFound {
		return Document{}, false, nil
	}
	if err != nil {
		return Document{}, false, errors.Wrap(err, "metadata: load")
	}
	var doc Document
	if err := msgpack.Unmarshal(raw, &doc); err != nil {
		return Document{}, false, errors.Wrap(err, "metadata: unmarshal")
	}
	return doc, true, nil
}

// Store persists doc through tx, overwriting whatever was there.
func Store(tx kv.Tx, doc Document) error {
	raw, err := msgpack.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "metadata: marshal")
	}
	if _, err := tx.Insert(metadataTableName, []byte(storageKey), raw); err != nil {
		return errors.Wrap(err, "metadata: store")
	}
	return nil
}

// Reconcile compares live (computed from the current schema) against
// whatever descriptor is already persisted in db. If none is persisted yet
// (first open), live is stored and this is a no-op otherwise. If one is
// persisted, live.Compare decides whether open may proceed.
func Reconcile(db kv.DB, live Document) error {
	tx, err := db.BeginWrite()
	if err != nil {
		return errors.Wrap(err, "metadata: begin write")
	}

	stored, ok, err := Load(tx)
	if err != nil {
		tx.Abort()
		return err
	}
	if ok {
		if err := live.Compare(stored); err != nil {
			tx.Abort()
			return err
		}
		tx.Abort()
		return nil
	}

	if err := Store(tx, live); err != nil {
		tx.Abort()
		return err
	}
	return errors.Wrap(tx.Commit(), "metadata: commit")
}
