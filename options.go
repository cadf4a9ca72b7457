package anondb

import (
	"log"

	badger "github.com/dgraph-io/badger/v4"
)

// Options configures OpenAtPath/OpenInMemory. Build it with the With* functions
// below, the same functional-options shape the teacher's pkg/sorted
// backends take their jsonconfig.Obj configuration through.
type Options struct {
	journal       bool
	badgerOpts    *badger.Options
	logger        *log.Logger
	schemaVersion uint64
}

// Option mutates an in-progress Options.
type Option func(*Options)

// WithJournal enables or disables the hash-chained transaction log.
// Enabled by default; disabling it skips every journal table write, which
// is cheaper but gives up replay, merge, and flatten entirely.
func WithJournal(enabled bool) Option {
	return func(o *Options) { o.journal = enabled }
}

// WithBadgerOptions overrides the Badger options OpenAtPath/OpenInMemory
// would otherwise construct from defaults; OpenAtPath then ignores its path
// argument. The caller is responsible for setting Dir/ValueDir (or
// WithInMemory) correctly for the call being made.
func WithBadgerOptions(opts badger.Options) Option {
	return func(o *Options) { o.badgerOpts = &opts }
}

// WithLogger overrides the default logger (log.Default()).
func WithLogger(l *log.Logger) Option {
	return func(o *Options) { o.logger = l }
}

// WithSchemaVersion sets the caller's own schema version, stored alongside
// the computed metadata descriptor for operational visibility. It is not
// itself compared by metadata.Document.Compare.
func WithSchemaVersion(v uint64) Option {
	return func(o *Options) { o.schemaVersion = v }
}

func defaultOptions() *Options {
	return &Options{journal: true, logger: log.Default()}
}

func resolveOptions(opts []Option) *Options {
	cfg := defaultOptions()
	for _, o := range opts {
		o(cfg)
	}
	return cfg
}
