package badgerkv_test

import (
	"testing"

	"github.com/chancehudson/anondb/kv/badgerkv"
	"github.com/chancehudson/anondb/kv/kvtest"
)

func TestBadgerKV(t *testing.T) {
	db, err := badgerkv.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	defer db.Close()
	kvtest.Test(t, db)
}
