// Package anondb is an embeddable document database layered over an
// ordered key-value store: collections of typed documents with a primary
// key and any number of secondary indexes, a lexicographic key codec, a
// query planner that scores candidate indexes against a query, and an
// optional hash-chained journal recording every committed write.
//
// Declare a schema with package schema, then call Open or OpenInMemory to
// bind it to storage:
//
//	defs := []schema.Def{
//		schema.NewCollection[Player]("players", encodePlayer, decodePlayer).
//			PrimaryKey(playerPrimaryKey, index.Field{Name: "ID", FixedWidth: 4}),
//	}
//	db, err := anondb.OpenAtPath("./data", defs)
//	players, err := anondb.Collection[Player](db, "players")
package anondb

import (
	"log"

	"github.com/pkg/errors"

	"github.com/chancehudson/anondb/anonerr"
	"github.com/chancehudson/anondb/collection"
	"github.com/chancehudson/anondb/journal"
	"github.com/chancehudson/anondb/kv"
	"github.com/chancehudson/anondb/kv/badgerkv"
	"github.com/chancehudson/anondb/metadata"
	"github.com/chancehudson/anondb/schema"
)

// DB is an opened database: a kv.DB handle, the collections built from the
// schema it was opened with, and (unless disabled) a journal.
type DB struct {
	kv          kv.DB
	journal     *journal.Journal
	collections map[string]any
	logger      *log.Logger
}

// OpenAtPath opens (creating if necessary) a persistent database at path,
// binding it to the given schema declarations.
func OpenAtPath(path string, defs []schema.Def, opts ...Option) (*DB, error) {
	cfg := resolveOptions(opts)
	store, err := openBadger(func() (*badgerkv.DB, error) { return badgerkv.OpenAtPath(path) }, cfg)
	if err != nil {
		return nil, err
	}
	return open(store, defs, cfg)
}

// OpenInMemory opens a database that keeps everything in memory for the
// lifetime of the process, using Badger's real transaction semantics
// (unlike kv/memkv, which exists purely for lightweight unit tests).
func OpenInMemory(defs []schema.Def, opts ...Option) (*DB, error) {
	cfg := resolveOptions(opts)
	store, err := openBadger(badgerkv.OpenInMemory, cfg)
	if err != nil {
		return nil, err
	}
	return open(store, defs, cfg)
}

func openBadger(defaultOpen func() (*badgerkv.DB, error), cfg *Options) (kv.DB, error) {
	if cfg.badgerOpts != nil {
		return badgerkv.OpenWithOptions(*cfg.badgerOpts)
	}
	store, err := defaultOpen()
	if err != nil {
		return nil, errors.Wrap(err, "anondb: open storage")
	}
	return store, nil
}

func open(store kv.DB, defs []schema.Def, cfg *Options) (*DB, error) {
	reserved := append(append([]string{}, journal.SystemTables()...), metadata.SystemTables()...)
	if err := schema.CheckReserved(reserved, defs...); err != nil {
		store.Close()
		return nil, err
	}

	doc, err := schema.Describe(cfg.schemaVersion, defs...)
	if err != nil {
		store.Close()
		return nil, err
	}
	if err := metadata.Reconcile(store, doc); err != nil {
		store.Close()
		return nil, err
	}

	var jrnl *journal.Journal
	if cfg.journal {
		jrnl = journal.New(store)
	}

	cols, err := schema.Open(store, jrnl, defs...)
	if err != nil {
		store.Close()
		return nil, err
	}

	db := &DB{kv: store, journal: jrnl, collections: cols, logger: cfg.logger}
	db.logger.Printf("anondb: opened %d collection(s), journal=%v", len(cols), cfg.journal)
	return db, nil
}

// Close releases the underlying storage engine's resources.
func (db *DB) Close() error {
	return errors.Wrap(db.kv.Close(), "anondb: close")
}

// KV returns the underlying kv.DB, for callers that need direct access to
// storage (e.g. a journaled ActiveTransaction spanning several
// collections).
func (db *DB) KV() kv.DB { return db.kv }

// Journal returns the database's journal, or nil if it was opened with
// WithJournal(false).
func (db *DB) Journal() *journal.Journal { return db.journal }

// Collection retrieves the collection named name, type-asserted to
// *collection.Collection[T]. Returns ErrInvalidSchema if name wasn't
// declared, or if T doesn't match the document type it was declared with.
func Collection[T any](db *DB, name string) (*collection.Collection[T], error) {
	raw, ok := db.collections[name]
	if !ok {
		return nil, errors.Wrapf(anonerr.ErrInvalidSchema, "anondb: no collection named %q", name)
	}
	col, ok := raw.(*collection.Collection[T])
	if !ok {
		return nil, errors.Wrapf(anonerr.ErrInvalidSchema, "anondb: collection %q is not of the requested document type", name)
	}
	return col, nil
}
