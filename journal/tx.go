package journal

import (
	"github.com/pkg/errors"

	"github.com/chancehudson/anondb/anonerr"
	"github.com/chancehudson/anondb/kv"
)

// Tx adapts this ActiveTransaction to the kv.Tx interface, so code written
// against a plain kv.Tx across several table names (index and collection)
// runs unmodified over a journaled transaction. Each table name is opened
// (recorded as an Op) the first time this Tx touches it; reads never need a
// table to be open, since ranging a never-created table already reads as
// empty regardless of journaling.
func (at *ActiveTransaction) Tx() kv.Tx {
	return &journaledTx{
		at:        at,
		tables:    make(map[string]*JournaledTable),
		multimaps: make(map[string]*JournaledMultimapTable),
	}
}

type journaledTx struct {
	at        *ActiveTransaction
	tables    map[string]*JournaledTable
	multimaps map[string]*JournaledMultimapTable
}

func (f *journaledTx) table(name string) *JournaledTable {
	if t, ok := f.tables[name]; ok {
		return t
	}
	t := f.at.OpenTable(name)
	f.tables[name] = t
	return t
}

func (f *journaledTx) multimap(name string) *JournaledMultimapTable {
	if t, ok := f.multimaps[name]; ok {
		return t
	}
	t := f.at.OpenMultimapTable(name)
	f.multimaps[name] = t
	return t
}

func (f *journaledTx) IsWrite() bool { return true }

func (f *journaledTx) Get(table string, key []byte) ([]byte, error) {
	return f.at.tx.Get(table, key)
}

func (f *journaledTx) Insert(table string, key, value []byte) ([]byte, error) {
	return f.table(table).Insert(key, value)
}

func (f *journaledTx) Remove(table string, key []byte) ([]byte, error) {
	return f.table(table).Remove(key)
}

func (f *journaledTx) Count(table string) (uint64, error) {
	return f.at.tx.Count(table)
}

func (f *journaledTx) Clear(table string) error {
	return f.table(table).Clear()
}

func (f *journaledTx) Range(table string, r kv.Range) (kv.Iterator, error) {
	return f.at.tx.Range(table, r)
}

func (f *journaledTx) RenameTable(oldName, newName string) error {
	if err := f.at.RenameTable(oldName, newName); err != nil {
		return err
	}
	delete(f.tables, oldName)
	return nil
}

func (f *journaledTx) DeleteTable(name string) error {
	if err := f.at.DeleteTable(name); err != nil {
		return err
	}
	delete(f.tables, name)
	return nil
}

func (f *journaledTx) InsertMultimap(table string, key, value []byte) error {
	return f.multimap(table).Insert(key, value)
}

// RemoveMultimap cannot be journaled faithfully: the Op vocabulary's Remove
// carries no value, so only "every value for key" is representable in the
// log (see JournaledMultimapTable.RemoveAll). Nothing in this repo drives a
// journaled transaction through a single-member multimap removal today;
// this exists to satisfy kv.Tx rather than silently journaling the wrong
// thing if that ever changes.
func (f *journaledTx) RemoveMultimap(table string, key, value []byte) (bool, error) {
	return false, errors.Wrap(anonerr.ErrJournalInvariant, "journal: a journaled transaction cannot record single-member multimap removal; use RemoveAllMultimap semantics")
}

func (f *journaledTx) RemoveAllMultimap(table string, key []byte) error {
	return f.multimap(table).RemoveAll(key)
}

func (f *journaledTx) ClearMultimap(table string) error {
	return f.multimap(table).Clear()
}

func (f *journaledTx) GetMultimap(table string, key []byte) (kv.Iterator, error) {
	return f.at.tx.GetMultimap(table, key)
}

func (f *journaledTx) RangeMultimap(table string, r kv.Range) (kv.Iterator, error) {
	return f.at.tx.RangeMultimap(table, r)
}

func (f *journaledTx) RenameMultimapTable(oldName, newName string) error {
	if err := f.at.RenameMultimapTable(oldName, newName); err != nil {
		return err
	}
	delete(f.multimaps, oldName)
	return nil
}

func (f *journaledTx) DeleteMultimapTable(name string) error {
	if err := f.at.DeleteMultimapTable(name); err != nil {
		return err
	}
	delete(f.multimaps, name)
	return nil
}

func (f *journaledTx) Commit() error { return f.at.Commit() }
func (f *journaledTx) Abort() error  { return f.at.Abort() }
