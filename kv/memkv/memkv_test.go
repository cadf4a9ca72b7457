package memkv_test

import (
	"testing"

	"github.com/chancehudson/anondb/kv/kvtest"
	"github.com/chancehudson/anondb/kv/memkv"
)

func TestMemKV(t *testing.T) {
	db := memkv.New()
	defer db.Close()
	kvtest.Test(t, db)
}
