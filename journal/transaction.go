package journal

import (
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/chancehudson/anondb/anonerr"
	"github.com/chancehudson/anondb/kv"
	"github.com/chancehudson/anondb/lexkey"
)

// ActiveTransaction wraps a kv write transaction together with the ordered
// queue of Ops it has performed so far. Mutations go through JournaledTable
// or JournaledMultimapTable (obtained via OpenTable/OpenMultimapTable) so
// every one of them is recorded; Commit seals the queue with a trailing
// commitOp, hashes the result, and records it in the journal/transactions
// tables in the same underlying kv commit as the queued mutations.
type ActiveTransaction struct {
	j          *Journal
	tx         kv.Tx
	lastTxHash [32]byte
	ops        []Op
	done       bool
}

// Begin opens a new ActiveTransaction against j's kv.DB, capturing the
// journal's current last-transaction hash so Commit can detect whether
// another writer advanced the chain first.
func (j *Journal) Begin() (*ActiveTransaction, error) {
	tx, err := j.db.BeginWrite()
	if err != nil {
		return nil, errors.Wrap(err, "journal: begin write")
	}
	state, err := getState(tx)
	if err != nil {
		tx.Abort()
		return nil, err
	}
	return &ActiveTransaction{j: j, tx: tx, lastTxHash: state.LastTxHash}, nil
}

func (at *ActiveTransaction) appendOp(op Op) { at.ops = append(at.ops, op) }

// OpenTable returns a journaled handle on table name. Opening always
// succeeds and is itself recorded as an Op, since it constrains nothing at
// the kv layer (ranging a never-created table already reads as empty).
func (at *ActiveTransaction) OpenTable(name string) *JournaledTable {
	at.appendOp(openTableOp(name))
	return &JournaledTable{tx: at.tx, at: at, name: name}
}

// OpenMultimapTable is OpenTable for a multimap table.
func (at *ActiveTransaction) OpenMultimapTable(name string) *JournaledMultimapTable {
	at.appendOp(openMultimapTableOp(name))
	return &JournaledMultimapTable{tx: at.tx, at: at, name: name}
}

func (at *ActiveTransaction) RenameTable(oldName, newName string) error {
	if err := at.tx.RenameTable(oldName, newName); err != nil {
		return errors.Wrap(err, "journal: rename table")
	}
	at.appendOp(renameTableOp(oldName, newName))
	return nil
}

func (at *ActiveTransaction) RenameMultimapTable(oldName, newName string) error {
	if err := at.tx.RenameMultimapTable(oldName, newName); err != nil {
		return errors.Wrap(err, "journal: rename multimap table")
	}
	at.appendOp(renameMultimapTableOp(oldName, newName))
	return nil
}

func (at *ActiveTransaction) DeleteTable(name string) error {
	if err := at.tx.DeleteTable(name); err != nil {
		return errors.Wrap(err, "journal: delete table")
	}
	at.appendOp(deleteTableOp(name))
	return nil
}

func (at *ActiveTransaction) DeleteMultimapTable(name string) error {
	if err := at.tx.DeleteMultimapTable(name); err != nil {
		return errors.Wrap(err, "journal: delete multimap table")
	}
	at.appendOp(deleteMultimapTableOp(name))
	return nil
}

// Commit seals the queued operations into a JournalTransaction, verifies no
// other writer advanced the journal since Begin, records the transaction
// (keyed by its hash) and its journal-index entry in the same kv
// transaction as every queued mutation, and commits. On success the sealed
// transaction is pushed onto the journal's Recent queue.
func (at *ActiveTransaction) Commit() error {
	if at.done {
		return nil
	}
	if len(at.ops) == 0 {
		at.done = true
		at.tx.Abort()
		return errors.Wrap(anonerr.ErrJournalInvariant, "journal: cannot commit an empty transaction")
	}

	state, err := getState(at.tx)
	if err != nil {
		at.done = true
		at.tx.Abort()
		return err
	}
	if state.LastTxHash != at.lastTxHash {
		at.done = true
		at.tx.Abort()
		return errors.Wrap(anonerr.ErrJournalDivergence, "journal: journal state advanced since this transaction began")
	}

	sealed := JournalTransaction{
		LastTxHash: at.lastTxHash,
		Operations: append(append([]Op{}, at.ops...), commitOp),
	}
	hash, err := Hash(sealed)
	if err != nil {
		at.done = true
		at.tx.Abort()
		return err
	}
	sealedBytes, err := msgpack.Marshal(sealed)
	if err != nil {
		at.done = true
		at.tx.Abort()
		return errors.Wrap(err, "journal: marshal sealed transaction")
	}

	if _, err := at.tx.Insert(txTableName, hash[:], sealedBytes); err != nil {
		at.done = true
		at.tx.Abort()
		return errors.Wrap(err, "journal: insert transaction record")
	}
	if _, err := at.tx.Insert(journalTableName, lexkey.EncodeUint64(state.NextTxIndex), hash[:]); err != nil {
		at.done = true
		at.tx.Abort()
		return errors.Wrap(err, "journal: insert journal index")
	}

	at.done = true
	if err := at.tx.Commit(); err != nil {
		return errors.Wrap(err, "journal: commit")
	}
	at.j.pushRecent(sealed)
	return nil
}

// Abort discards every queued Op and the underlying kv write transaction;
// no partial state becomes visible.
func (at *ActiveTransaction) Abort() error {
	if at.done {
		return nil
	}
	at.done = true
	return errors.Wrap(at.tx.Abort(), "journal: abort")
}

// JournaledTable is a single-valued table scoped to one ActiveTransaction.
// Every mutating method performs the kv mutation first and only queues its
// Op once that succeeds; a failed mutation queues nothing. Reads never
// queue an Op.
type JournaledTable struct {
	tx   kv.Tx
	at   *ActiveTransaction
	name string
}

func (t *JournaledTable) Get(key []byte) ([]byte, error) { return t.tx.Get(t.name, key) }

func (t *JournaledTable) Count() (uint64, error) { return t.tx.Count(t.name) }

func (t *JournaledTable) Range(r kv.Range) (kv.Iterator, error) { return t.tx.Range(t.name, r) }

func (t *JournaledTable) Insert(key, value []byte) ([]byte, error) {
	old, err := t.tx.Insert(t.name, key, value)
	if err != nil {
		return nil, err
	}
	t.at.appendOp(insertOp(t.name, key, value))
	return old, nil
}

func (t *JournaledTable) Remove(key []byte) ([]byte, error) {
	old, err := t.tx.Remove(t.name, key)
	if err != nil {
		return nil, err
	}
	t.at.appendOp(removeOp(t.name, key))
	return old, nil
}

// Clear empties the table. The Op vocabulary has no dedicated clear
// operation, so it is recorded as delete-then-reopen: replaying those two
// Ops against any prior state reproduces an empty table of the same name.
func (t *JournaledTable) Clear() error {
	if err := t.tx.Clear(t.name); err != nil {
		return err
	}
	t.at.appendOp(deleteTableOp(t.name))
	t.at.appendOp(openTableOp(t.name))
	return nil
}

// JournaledMultimapTable is JournaledTable for a multimap table.
type JournaledMultimapTable struct {
	tx   kv.Tx
	at   *ActiveTransaction
	name string
}

func (t *JournaledMultimapTable) Get(key []byte) (kv.Iterator, error) {
	return t.tx.GetMultimap(t.name, key)
}

func (t *JournaledMultimapTable) Range(r kv.Range) (kv.Iterator, error) {
	return t.tx.RangeMultimap(t.name, r)
}

func (t *JournaledMultimapTable) Insert(key, value []byte) error {
	if err := t.tx.InsertMultimap(t.name, key, value); err != nil {
		return err
	}
	t.at.appendOp(insertOp(t.name, key, value))
	return nil
}

// RemoveAll removes every value in key's set. The Op vocabulary's Remove
// carries no value field, so a precise single-member removal cannot be
// journaled faithfully; only the all-values-for-key form is exposed here.
func (t *JournaledMultimapTable) RemoveAll(key []byte) error {
	if err := t.tx.RemoveAllMultimap(t.name, key); err != nil {
		return err
	}
	t.at.appendOp(removeOp(t.name, key))
	return nil
}

func (t *JournaledMultimapTable) Clear() error {
	if err := t.tx.ClearMultimap(t.name); err != nil {
		return err
	}
	t.at.appendOp(deleteMultimapTableOp(t.name))
	t.at.appendOp(openMultimapTableOp(t.name))
	return nil
}
