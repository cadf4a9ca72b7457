// Package journal records every committed write transaction as a
// hash-chained log on top of a kv.DB, giving the database replayable,
// content-addressed history: each JournalTransaction names the hash of the
// transaction before it, so the log can be verified, replayed from empty,
// or snapshotted at any past index.
package journal

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
	"lukechampine.com/blake3"

	"github.com/chancehudson/anondb/anonerr"
	"github.com/chancehudson/anondb/kv"
	"github.com/chancehudson/anondb/kv/memkv"
	"github.com/chancehudson/anondb/lexkey"
)

// Reserved table names, excluded from Flatten's table enumeration and from
// any collection/index schema (schema.CheckReserved, called when anondb
// opens a database, rejects a collision with either of these).
const (
	journalTableName = "_______anondb_journal"
	txTableName       = "_______anondb_transactions"
)

// SystemTables returns the journal's own reserved table names.
func SystemTables() []string { return []string{journalTableName, txTableName} }

// JournalTransaction is one hash-chained unit of the log: the hash of the
// transaction immediately before it, and the ordered operations it
// performed. Operations must end with a commitOp.
type JournalTransaction struct {
	LastTxHash [32]byte `msgpack:"last_tx_hash"`
	Operations []Op     `msgpack:"operations"`
}

// Hash computes this transaction's content hash: BLAKE3 over its MessagePack
// encoding. Two transactions with identical LastTxHash and Operations hash
// identically, which is what makes AppendTx idempotent-by-hash.
func Hash(t JournalTransaction) ([32]byte, error) {
	b, err := msgpack.Marshal(t)
	if err != nil {
		return [32]byte{}, errors.Wrap(err, "journal: marshal transaction")
	}
	return blake3.Sum256(b), nil
}

// State is the journal's current position: how many transactions have been
// appended, and the hash of the most recent one (the all-zero seed if none
// have).
type State struct {
	NextTxIndex uint64
	LastTxHash  [32]byte
}

// Journal wraps a kv.DB with the hash-chained transaction log described
// above, plus an in-memory queue of every transaction committed through
// this Journal instance's ActiveTransaction, for consumers that want to
// stream the log without re-reading it from storage.
type Journal struct {
	db kv.DB

	mu     sync.Mutex
	recent []JournalTransaction
}

// New wraps db with journal bookkeeping. db may already contain journal
// tables (from a prior process) or be empty.
func New(db kv.DB) *Journal { return &Journal{db: db} }

// DB returns the underlying kv.DB, for callers that need to open their own
// transactions outside the journal; only mutations made through an
// ActiveTransaction are recorded in the log.
func (j *Journal) DB() kv.DB { return j.db }

// Recent returns a copy of every transaction appended through this
// Journal's ActiveTransaction since the journal was opened (or since the
// last Drain). It does not reflect transactions applied via AppendTx,
// which is a replay primitive rather than the live commit path.
func (j *Journal) Recent() []JournalTransaction {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]JournalTransaction, len(j.recent))
	copy(out, j.recent)
	return out
}

// Drain returns and clears the recent-transaction queue.
func (j *Journal) Drain() []JournalTransaction {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := j.recent
	j.recent = nil
	return out
}

func (j *Journal) pushRecent(t JournalTransaction) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.recent = append(j.recent, t)
}

// GetState reads the journal's current position.
func (j *Journal) GetState() (State, error) {
	tx, err := j.db.BeginRead()
	if err != nil {
		return State{}, errors.Wrap(err, "journal: begin read")
	}
	defer tx.Abort()
	return getState(tx)
}

func getState(tx kv.Tx) (State, error) {
	n, err := tx.Count(journalTableName)
	if err != nil {
		return State{}, errors.Wrap(err, "journal: count journal table")
	}
	if n == 0 {
		return State{}, nil
	}
	val, err := tx.Get(journalTableName, lexkey.EncodeUint64(n-1))
	if err != nil {
		return State{}, errors.Wrap(err, "journal: get latest hash")
	}
	var hash [32]byte
	copy(hash[:], val)
	return State{NextTxIndex: n, LastTxHash: hash}, nil
}

// TxByIndex returns the transaction recorded at index i, and whether one
// exists.
func (j *Journal) TxByIndex(i uint64) (JournalTransaction, bool, error) {
	tx, err := j.db.BeginRead()
	if err != nil {
		return JournalTransaction{}, false, errors.Wrap(err, "journal: begin read")
	}
	defer tx.Abort()
	return txByIndex(tx, i)
}

func txByIndex(tx kv.Tx, i uint64) (JournalTransaction, bool, error) {
	hashBytes, err := tx.Get(journalTableName, lexkey.EncodeUint64(i))
	if err == kv.ErrNotFound {
		return JournalTransaction{}, false, nil
	}
	if err != nil {
		return JournalTransaction{}, false, errors.Wrap(err, "journal: get journal index")
	}
	txBytes, err := tx.Get(txTableName, hashBytes)
	if err != nil {
		return JournalTransaction{}, false, errors.Wrap(err, "journal: get transaction bytes")
	}
	var out JournalTransaction
	if err := msgpack.Unmarshal(txBytes, &out); err != nil {
		return JournalTransaction{}, false, errors.Wrap(err, "journal: unmarshal transaction")
	}
	return out, true, nil
}

// AppendTx is the idempotent-by-hash replay primitive: it rejects t if its
// LastTxHash disagrees with the journal's current state, otherwise replays
// every operation but the trailing commitOp against a fresh write
// transaction, records t in the journal/transactions tables at the next
// index in that same transaction, and commits it. It is the primitive
// AtIndex and Merge use to rebuild a journal from a log they already hold;
// unlike ActiveTransaction.Commit it does not push t onto Recent.
func (j *Journal) AppendTx(t JournalTransaction) error {
	if len(t.Operations) == 0 {
		return errors.Wrap(anonerr.ErrJournalInvariant, "journal: empty transaction")
	}
	if t.Operations[len(t.Operations)-1].Kind != OpCommit {
		return errors.Wrap(anonerr.ErrJournalInvariant, "journal: final operation must be commit")
	}

	wtx, err := j.db.BeginWrite()
	if err != nil {
		return errors.Wrap(err, "journal: begin write")
	}

	state, err := getState(wtx)
	if err != nil {
		wtx.Abort()
		return err
	}
	if state.LastTxHash != t.LastTxHash {
		wtx.Abort()
		return errors.Wrap(anonerr.ErrJournalDivergence, "journal: append_tx last_tx_hash mismatch")
	}

	if err := replay(wtx, t.Operations[:len(t.Operations)-1]); err != nil {
		wtx.Abort()
		return err
	}
	hash, err := Hash(t)
	if err != nil {
		wtx.Abort()
		return err
	}
	txBytes, err := msgpack.Marshal(t)
	if err == nil {
		_, err = wtx.Insert(txTableName, hash[:], txBytes)
	}
	if err == nil {
		_, err = wtx.Insert(journalTableName, lexkey.EncodeUint64(state.NextTxIndex), hash[:])
	}
	if err != nil {
		wtx.Abort()
		return errors.Wrap(err, "journal: record appended transaction")
	}
	if err := wtx.Commit(); err != nil {
		return errors.Wrap(err, "journal: commit append_tx")
	}
	return nil
}

// replay applies ops (with the trailing commitOp already stripped) against
// tx, enforcing that a table is opened (by an Open*TableOp earlier in the
// same operation list) before any Insert/Remove targets it.
func replay(tx kv.Tx, ops []Op) error {
	opened := make(map[string]bool)
	multimap := make(map[string]bool)
	for _, op := range ops {
		switch op.Kind {
		case OpOpenTable:
			opened[op.Table] = true
		case OpOpenMultimapTable:
			multimap[op.Table] = true
		case OpInsert:
			switch {
			case multimap[op.Table]:
				if err := tx.InsertMultimap(op.Table, op.Key, op.Value); err != nil {
					return errors.Wrap(err, "journal: replay insert multimap")
				}
			case opened[op.Table]:
				if _, err := tx.Insert(op.Table, op.Key, op.Value); err != nil {
					return errors.Wrap(err, "journal: replay insert")
				}
			default:
				return errors.Wrapf(anonerr.ErrTableNotOpen, "journal: table %q not open", op.Table)
			}
		case OpRemove:
			// The Op carries no value, so removal from a multimap table
			// can only mean "every value for this key" (RemoveAllMultimap):
			// a precise single-member removal would need the value too.
			switch {
			case multimap[op.Table]:
				if err := tx.RemoveAllMultimap(op.Table, op.Key); err != nil {
					return errors.Wrap(err, "journal: replay remove multimap")
				}
			case opened[op.Table]:
				if _, err := tx.Remove(op.Table, op.Key); err != nil {
					return errors.Wrap(err, "journal: replay remove")
				}
			default:
				return errors.Wrapf(anonerr.ErrTableNotOpen, "journal: table %q not open", op.Table)
			}
		case OpRenameTable:
			delete(opened, op.Old)
			opened[op.New] = true
			if err := tx.RenameTable(op.Old, op.New); err != nil {
				return errors.Wrap(err, "journal: replay rename table")
			}
		case OpRenameMultimapTable:
			delete(multimap, op.Old)
			multimap[op.New] = true
			if err := tx.RenameMultimapTable(op.Old, op.New); err != nil {
				return errors.Wrap(err, "journal: replay rename multimap table")
			}
		case OpDeleteTable:
			delete(opened, op.Table)
			if err := tx.DeleteTable(op.Table); err != nil {
				return errors.Wrap(err, "journal: replay delete table")
			}
		case OpDeleteMultimapTable:
			delete(multimap, op.Table)
			if err := tx.DeleteMultimapTable(op.Table); err != nil {
				return errors.Wrap(err, "journal: replay delete multimap table")
			}
		case OpCommit:
			return errors.Wrap(anonerr.ErrJournalInvariant, "journal: commit operation must be final")
		}
	}
	return nil
}

// AtIndex replays transactions 0..=i of this journal into a fresh in-memory
// journal, returning it. Replaying from empty should always yield an
// equivalent database.
func (j *Journal) AtIndex(i uint64) (*Journal, error) {
	out := New(memkv.New())
	for k := uint64(0); k <= i; k++ {
		t, ok, err := j.TxByIndex(k)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.Wrapf(anonerr.ErrJournalInvariant, "journal: no transaction at index %d", k)
		}
		if err := out.AppendTx(t); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// liveTables reconstructs, by folding over every committed transaction's
// Open/Rename/Delete operations, the set of non-system tables this journal
// currently knows about and whether each is a multimap table. kv.DB itself
// exposes no table-listing primitive, so Flatten derives this from the
// journal's own history instead.
func (j *Journal) liveTables() (map[string]bool, error) {
	state, err := j.GetState()
	if err != nil {
		return nil, err
	}
	tables := make(map[string]bool)
	for i := uint64(0); i < state.NextTxIndex; i++ {
		t, ok, err := j.TxByIndex(i)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		for _, op := range t.Operations {
			switch op.Kind {
			case OpOpenTable:
				tables[op.Table] = false
			case OpOpenMultimapTable:
				tables[op.Table] = true
			case OpRenameTable, OpRenameMultimapTable:
				if kind, ok := tables[op.Old]; ok {
					delete(tables, op.Old)
					tables[op.New] = kind
				}
			case OpDeleteTable, OpDeleteMultimapTable:
				delete(tables, op.Table)
			}
		}
	}
	return tables, nil
}

// Flatten produces a single synthetic JournalTransaction capturing every
// entry of every non-system table as of right now: an Open(Multimap)TableOp
// per table (in name order, for determinism) followed by one InsertOp per
// entry, concluded by commitOp. LastTxHash is left at the zero seed since
// this is a standalone snapshot, not a link in the chain.
func (j *Journal) Flatten() (JournalTransaction, error) {
	tables, err := j.liveTables()
	if err != nil {
		return JournalTransaction{}, err
	}
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)

	tx, err := j.db.BeginRead()
	if err != nil {
		return JournalTransaction{}, errors.Wrap(err, "journal: begin read")
	}
	defer tx.Abort()

	out := JournalTransaction{}
	for _, name := range names {
		if tables[name] {
			out.Operations = append(out.Operations, openMultimapTableOp(name))
			if err := appendMultimapEntries(tx, name, &out); err != nil {
				return JournalTransaction{}, err
			}
			continue
		}
		out.Operations = append(out.Operations, openTableOp(name))
		if err := appendTableEntries(tx, name, &out); err != nil {
			return JournalTransaction{}, err
		}
	}
	out.Operations = append(out.Operations, commitOp)
	return out, nil
}

func appendTableEntries(tx kv.Tx, name string, out *JournalTransaction) error {
	it, err := tx.Range(name, kv.Range{})
	if err != nil {
		return errors.Wrap(err, "journal: range during flatten")
	}
	defer it.Close()
	for it.Next() {
		out.Operations = append(out.Operations, insertOp(name, append([]byte{}, it.Key()...), append([]byte{}, it.Value()...)))
	}
	return errors.Wrap(it.Err(), "journal: iterate during flatten")
}

func appendMultimapEntries(tx kv.Tx, name string, out *JournalTransaction) error {
	it, err := tx.RangeMultimap(name, kv.Range{})
	if err != nil {
		return errors.Wrap(err, "journal: range multimap during flatten")
	}
	defer it.Close()
	for it.Next() {
		out.Operations = append(out.Operations, insertOp(name, append([]byte{}, it.Key()...), append([]byte{}, it.Value()...)))
	}
	return errors.Wrap(it.Err(), "journal: iterate multimap during flatten")
}

// FlattenAtIndex is AtIndex(i).Flatten(): a snapshot of the database as it
// stood immediately after transaction i.
func (j *Journal) FlattenAtIndex(i uint64) (JournalTransaction, error) {
	snap, err := j.AtIndex(i)
	if err != nil {
		return JournalTransaction{}, err
	}
	return snap.Flatten()
}

// Merge implements the preliminary policy recorded for this open question:
// rewind to divergentIndex-1 by replaying from empty, apply canonical in
// order, then attempt each of pending in order, stopping at (and returning,
// alongside) the first one that no longer applies cleanly — conflict
// resolution beyond "reject and report where" is not yet specified.
func (j *Journal) Merge(divergentIndex uint64, canonical, pending []JournalTransaction) (*Journal, error) {
	var base *Journal
	var err error
	if divergentIndex == 0 {
		base = New(memkv.New())
	} else {
		base, err = j.AtIndex(divergentIndex - 1)
		if err != nil {
			return nil, errors.Wrap(err, "journal: merge rewind")
		}
	}
	for _, t := range canonical {
		if err := base.AppendTx(t); err != nil {
			return nil, errors.Wrap(err, "journal: merge apply canonical")
		}
	}
	for _, t := range pending {
		if err := base.AppendTx(t); err != nil {
			return base, errors.Wrap(err, "journal: merge pending conflict")
		}
	}
	return base, nil
}
