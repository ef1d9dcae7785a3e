package store

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/nervos-rollup/challenge-engine/internal/smt"
	"github.com/nervos-rollup/challenge-engine/internal/types"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(filepath.Join(dir, "test.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestAccountSMTStorePersistsAcrossTx(t *testing.T) {
	db := openTestDB(t)

	var key, value smt.Hash
	key[31] = 1
	value[0] = 0xAB

	tx, err := db.Begin(true)
	if err != nil {
		t.Fatal(err)
	}
	tree := smt.New(smt.Zero, tx.AccountSMTStore())
	if err := tree.Update(key, value); err != nil {
		t.Fatal(err)
	}
	root := tree.Root()
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	tx2, err := db.Begin(false)
	if err != nil {
		t.Fatal(err)
	}
	defer tx2.Rollback()

	reopened := smt.New(root, tx2.AccountSMTStore())
	got, err := reopened.Get(key)
	if err != nil {
		t.Fatal(err)
	}
	if got != value {
		t.Fatalf("Get after reopen = %x, want %x", got, value)
	}
}

func TestRollbackDiscardsWrites(t *testing.T) {
	db := openTestDB(t)

	var key, value smt.Hash
	key[31] = 2
	value[0] = 7

	tx, err := db.Begin(true)
	if err != nil {
		t.Fatal(err)
	}
	tree := smt.New(smt.Zero, tx.AccountSMTStore())
	if err := tree.Update(key, value); err != nil {
		t.Fatal(err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatal(err)
	}

	tx2, err := db.Begin(false)
	if err != nil {
		t.Fatal(err)
	}
	defer tx2.Rollback()

	fresh := smt.New(smt.Zero, tx2.AccountSMTStore())
	got, err := fresh.Get(key)
	if err != nil {
		t.Fatal(err)
	}
	if got != smt.Zero {
		t.Fatalf("rolled-back write was visible: Get = %x", got)
	}
}

func TestBlockStorePutGetAndByNumber(t *testing.T) {
	db := openTestDB(t)

	var parent types.Hash
	parent[0] = 9
	block := &types.L2Block{Raw: types.RawL2Block{Number: 3, ParentBlockHash: parent, Timestamp: 123}}

	tx, err := db.Begin(true)
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Blocks().Put(block); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	tx2, err := db.Begin(false)
	if err != nil {
		t.Fatal(err)
	}
	defer tx2.Rollback()

	got, found, err := tx2.Blocks().Get(block.Hash())
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("block not found by hash")
	}
	if got.Raw.Number != 3 {
		t.Fatalf("Number = %d, want 3", got.Raw.Number)
	}

	h, ok := tx2.Blocks().HashByNumber(3)
	if !ok || h != block.Hash() {
		t.Fatalf("HashByNumber(3) = %x, %v, want %x, true", h, ok, block.Hash())
	}
}
