package anondb

import (
	"testing"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/chancehudson/anondb/index"
	"github.com/chancehudson/anondb/journal"
	"github.com/chancehudson/anondb/kv/badgerkv"
	"github.com/chancehudson/anondb/lexkey"
	"github.com/chancehudson/anondb/schema"
)

type player struct {
	ID   uuid.UUID
	Name string
}

func playerPrimaryKey(p player) []byte {
	var b lexkey.Builder
	b.AppendKeySlice(p.ID[:])
	return b.Take()
}

func playerNameKey(p player) []byte {
	var b lexkey.Builder
	_ = b.AppendVariableKeySlice(lexkey.EncodeString(p.Name), true)
	return b.Take()
}

func encodePlayer(p player) ([]byte, error) { return msgpack.Marshal(p) }
func decodePlayer(b []byte) (player, error) {
	var p player
	err := msgpack.Unmarshal(b, &p)
	return p, err
}

func playerDefs() []schema.Def {
	return []schema.Def{
		schema.NewCollection[player]("players", encodePlayer, decodePlayer).
			PrimaryKey(playerPrimaryKey, index.Field{Name: "ID", FixedWidth: 16}).
			Index(playerNameKey, index.Options{Unique: false}, index.Field{Name: "Name", FixedWidth: -1}),
	}
}

func TestOpenInMemoryInsertAndFind(t *testing.T) {
	db, err := OpenInMemory(playerDefs())
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	defer db.Close()

	players, err := Collection[player](db, "players")
	if err != nil {
		t.Fatalf("Collection: %v", err)
	}

	alice := player{ID: uuid.New(), Name: "alice"}
	if err := players.Insert(alice); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, found, err := players.FindOne(nil)
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if !found {
		t.Fatal("expected to find the inserted player")
	}
	if got.Name != "alice" {
		t.Fatalf("expected alice, got %+v", got)
	}
}

func TestOpenInMemoryRejectsDriftedSchemaOnReopen(t *testing.T) {
	store, err := badgerkv.OpenInMemory()
	if err != nil {
		t.Fatalf("badgerkv.OpenInMemory: %v", err)
	}
	defer store.Close()

	if _, err := open(store, playerDefs(), defaultOptions()); err != nil {
		t.Fatalf("first open: %v", err)
	}

	driftedDefs := []schema.Def{
		schema.NewCollection[player]("players", encodePlayer, decodePlayer).
			PrimaryKey(playerPrimaryKey, index.Field{Name: "ID", FixedWidth: 16}),
	}
	_, err = open(store, driftedDefs, defaultOptions())
	if err == nil {
		t.Fatal("expected reopening with a different index set to be rejected")
	}
}

func TestCollectionWrongTypeAssertionFails(t *testing.T) {
	db, err := OpenInMemory(playerDefs())
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	defer db.Close()

	type notAPlayer struct{ X int }
	if _, err := Collection[notAPlayer](db, "players"); err == nil {
		t.Fatal("expected type mismatch to be rejected")
	}
	if _, err := Collection[player](db, "missing"); err == nil {
		t.Fatal("expected unknown collection name to be rejected")
	}
}

func TestJournalRecordsWritesAlongsideCollections(t *testing.T) {
	db, err := OpenInMemory(playerDefs())
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	defer db.Close()

	j := db.Journal()
	if j == nil {
		t.Fatal("expected journaling enabled by default")
	}

	at, err := j.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	tbl := at.OpenTable("side_table")
	if _, err := tbl.Insert([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := at.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	state, err := j.GetState()
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if state.NextTxIndex != 1 {
		t.Fatalf("expected one journaled transaction, got %d", state.NextTxIndex)
	}

	players, err := Collection[player](db, "players")
	if err != nil {
		t.Fatalf("Collection: %v", err)
	}
	alice := player{ID: uuid.New(), Name: "alice"}
	if err := players.Insert(alice); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	state, err = j.GetState()
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if state.NextTxIndex != 2 {
		t.Fatalf("expected players.Insert to append a second journaled transaction, got NextTxIndex=%d", state.NextTxIndex)
	}
	committed, ok, err := j.TxByIndex(1)
	if err != nil {
		t.Fatalf("TxByIndex: %v", err)
	}
	if !ok {
		t.Fatal("expected a journaled transaction at index 1 for players.Insert")
	}
	var sawInsert bool
	for _, op := range committed.Operations {
		if op.Kind == journal.OpInsert && op.Table == "players" {
			sawInsert = true
		}
	}
	if !sawInsert {
		t.Fatalf("expected an Insert op against the players table, got ops: %+v", committed.Operations)
	}
}

func TestDisablingJournalSkipsEveryDocumentWrite(t *testing.T) {
	db, err := OpenInMemory(playerDefs(), WithJournal(false))
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	defer db.Close()

	if db.Journal() != nil {
		t.Fatal("expected journal to be nil when WithJournal(false)")
	}

	players, err := Collection[player](db, "players")
	if err != nil {
		t.Fatalf("Collection: %v", err)
	}
	alice := player{ID: uuid.New(), Name: "alice"}
	if err := players.Insert(alice); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, found, err := players.FindOne(nil)
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if !found || got.Name != "alice" {
		t.Fatalf("expected to find alice even without journaling, got found=%v doc=%+v", found, got)
	}
}
