package schema_test

import (
	"encoding/binary"
	"testing"

	"github.com/chancehudson/anondb/collection"
	"github.com/chancehudson/anondb/index"
	"github.com/chancehudson/anondb/kv/memkv"
	"github.com/chancehudson/anondb/lexkey"
	"github.com/chancehudson/anondb/query"
	"github.com/chancehudson/anondb/schema"
)

type player struct {
	ID   uint32
	Name string
}

func playerPK(p player) []byte {
	var b lexkey.Builder
	b.AppendKeySlice(lexkey.EncodeUint32(p.ID))
	return b.Take()
}

func playerNameKey(p player) []byte {
	var b lexkey.Builder
	b.AppendVariableKeySlice(lexkey.EncodeString(p.Name), true)
	return b.Take()
}

func encodePlayer(p player) ([]byte, error) {
	var b []byte
	b = append(b, lexkey.EncodeUint32(p.ID)...)
	b = append(b, []byte(p.Name)...)
	return b, nil
}

func decodePlayer(b []byte) (player, error) {
	return player{ID: binary.BigEndian.Uint32(b[:4]), Name: string(b[4:])}, nil
}

// playerQuery is the hand-written stand-in for a derive-macro-generated
// per-document query builder: one optional typed predicate per queryable
// field, chainable, encoded to a query.Query from whichever fields were set.
type playerQuery struct {
	id   *query.ParamTyped[uint32]
	name *query.ParamTyped[string]
}

func newPlayerQuery() *playerQuery { return &playerQuery{} }

func (q *playerQuery) ID(p query.ParamTyped[uint32]) *playerQuery {
	q.id = &p
	return q
}

func (q *playerQuery) Name(p query.ParamTyped[string]) *playerQuery {
	q.name = &p
	return q
}

func (q *playerQuery) Encode() query.Query {
	out := query.Query{}
	if q.id != nil {
		out["id"] = q.id.Encode(lexkey.EncodeUint32)
	}
	if q.name != nil {
		out["name"] = q.name.Encode(lexkey.EncodeString)
	}
	return out
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func TestOpenBuildsDeclaredCollection(t *testing.T) {
	db := memkv.New()
	def := schema.NewCollection[player]("players", encodePlayer, decodePlayer).
		PrimaryKey(playerPK, index.Field{Name: "id", FixedWidth: 4}).
		Index(playerNameKey, index.Options{}, index.Field{Name: "name", FixedWidth: -1})

	cols, err := schema.Open(db, nil, def)
	if err != nil {
		t.Fatalf("schema.Open: %v", err)
	}
	players, ok := cols["players"].(*collection.Collection[player])
	if !ok {
		t.Fatalf("cols[players] has wrong type: %T", cols["players"])
	}
	if err := players.Insert(player{ID: 1, Name: "alice"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	q := newPlayerQuery().Name(query.EqT("alice", cmpString)).Encode()
	got, ok, err := players.FindOne(q)
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if !ok || got.ID != 1 {
		t.Fatalf("FindOne(name=alice) = %+v, %v, want id 1", got, ok)
	}
}

func TestOpenRejectsMissingPrimaryKey(t *testing.T) {
	db := memkv.New()
	def := schema.NewCollection[player]("players", encodePlayer, decodePlayer)
	if _, err := schema.Open(db, nil, def); err == nil {
		t.Fatal("expected error for collection with no primary key")
	}
}

func TestOpenRejectsDuplicateTableNameAcrossCollections(t *testing.T) {
	db := memkv.New()
	a := schema.NewCollection[player]("players", encodePlayer, decodePlayer).
		PrimaryKey(playerPK, index.Field{Name: "id", FixedWidth: 4})
	b := schema.NewCollection[player]("players", encodePlayer, decodePlayer).
		PrimaryKey(playerPK, index.Field{Name: "id", FixedWidth: 4})

	if _, err := schema.Open(db, nil, a, b); err == nil {
		t.Fatal("expected error for two collections sharing a table name")
	}
}

func TestOpenRejectsDuplicatePrimaryKeyDeclaration(t *testing.T) {
	db := memkv.New()
	def := schema.NewCollection[player]("players", encodePlayer, decodePlayer).
		PrimaryKey(playerPK, index.Field{Name: "id", FixedWidth: 4}).
		PrimaryKey(playerPK, index.Field{Name: "id", FixedWidth: 4})
	if _, err := schema.Open(db, nil, def); err == nil {
		t.Fatal("expected error for a second PrimaryKey call")
	}
}
