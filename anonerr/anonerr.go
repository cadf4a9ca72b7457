// Package anonerr defines the error kinds shared across anondb's packages.
//
// Errors the database raises for the conditions below wrap one of these
// sentinels so callers can classify them with errors.Is, regardless of
// which package raised them. Errors from the storage engine or from a
// document encoder are not wrapped in a sentinel; they are passed through
// with call-site context. Wrapping is done with github.com/pkg/errors so a
// stack trace is attached the first time an error crosses a package
// boundary.
package anonerr

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSchema covers duplicate primary key declarations, a missing
	// primary key, an empty index, duplicate table names, or more than one
	// primary index on a collection.
	ErrInvalidSchema = errors.New("anondb: invalid schema")

	// ErrDuplicatePrimaryKey is returned when an insert collides with an
	// existing primary key.
	ErrDuplicatePrimaryKey = errors.New("anondb: duplicate primary key")

	// ErrUniqueIndexViolation is returned when an insert collides with an
	// existing entry in a unique secondary index.
	ErrUniqueIndexViolation = errors.New("anondb: unique index violation")

	// ErrDanglingIndexEntry means an index referenced a primary key absent
	// from the primary table. This indicates corruption.
	ErrDanglingIndexEntry = errors.New("anondb: dangling index entry")

	// ErrJournalDivergence is returned when AppendTx is invoked with a
	// last_tx_hash disagreeing with the journal's current state.
	ErrJournalDivergence = errors.New("anondb: journal divergence")

	// ErrJournalInvariant covers an empty transaction, a missing final
	// Commit operation, or an insert against a table that was never opened.
	ErrJournalInvariant = errors.New("anondb: journal invariant violated")

	// ErrSchemaDrift is returned when the persisted metadata descriptor
	// does not match the live schema on open.
	ErrSchemaDrift = errors.New("anondb: schema drift detected")

	// ErrKV names the kind of errors that come from the underlying store.
	// No package in this module wraps store errors with it; they are
	// returned as the store produced them, with call-site context.
	ErrKV = errors.New("anondb: kv error")

	// ErrNotFound names a lookup against a missing key. No package in this
	// module returns it; Gets return kv.ErrNotFound.
	ErrNotFound = errors.New("anondb: not found")

	// ErrTableNotOpen is returned when a journaled operation targets a
	// table that was never opened within the transaction being replayed.
	// It wraps ErrJournalInvariant, so errors.Is matches either.
	ErrTableNotOpen = fmt.Errorf("%w: table not open in transaction", ErrJournalInvariant)
)
