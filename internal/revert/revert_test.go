package revert

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/nervos-rollup/challenge-engine/internal/hash"
	"github.com/nervos-rollup/challenge-engine/internal/smt"
	"github.com/nervos-rollup/challenge-engine/internal/store"
	"github.com/nervos-rollup/challenge-engine/internal/types"
)

func openTestDB(t *testing.T) *store.DB {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "test.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// putChain writes n contiguous, minimal blocks (numbers 1..n) and returns
// their hashes in order.
func putChain(t *testing.T, db *store.DB, n int) []hash.Hash {
	t.Helper()
	tx, err := db.Begin(true)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()

	hashes := make([]hash.Hash, n)
	for i := 1; i <= n; i++ {
		block := &types.L2Block{Raw: types.RawL2Block{Number: uint64(i)}}
		if err := tx.Blocks().Put(block); err != nil {
			t.Fatal(err)
		}
		hashes[i-1] = block.Hash()
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	return hashes
}

func TestBuildRevertContext(t *testing.T) {
	db := openTestDB(t)
	hashes := putChain(t, db, 3)

	readTx, err := db.Begin(false)
	if err != nil {
		t.Fatal(err)
	}
	defer readTx.Rollback()

	builder := NewBuilder(zap.NewNop())
	rc, err := builder.Build(context.Background(), readTx, hashes)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if len(rc.RevertedBlocks) != 3 {
		t.Fatalf("expected 3 reverted blocks, got %d", len(rc.RevertedBlocks))
	}
	for i, h := range rc.RevertedBlocks {
		if h != hashes[i] {
			t.Fatalf("reverted block %d: got %x, want %x", i, h.Bytes(), hashes[i].Bytes())
		}
	}
	if rc.FirstRevertedRaw.Number != 1 {
		t.Fatalf("expected first reverted block number 1, got %d", rc.FirstRevertedRaw.Number)
	}

	wantRoot := readTx.Blocks().BlockSMTRoot()
	gotRoot, err := rc.BlockProof.ComputeRoot(blockProofLeaves(hashes))
	if err != nil {
		t.Fatalf("ComputeRoot(block proof): %v", err)
	}
	if gotRoot != wantRoot {
		t.Fatalf("block proof root = %x, want %x", gotRoot.Bytes(), wantRoot.Bytes())
	}

	wantPostRoot := readTx.RevertedSMTRoot()
	independentTree := smt.New(wantPostRoot, smt.NewOverlayStore(readTx.RevertedSMTStore()))
	for _, h := range hashes {
		if err := independentTree.Update(h, hash.One()); err != nil {
			t.Fatalf("Update(reverted): %v", err)
		}
	}
	if rc.PostRevertedBlockRoot != independentTree.Root() {
		t.Fatalf("post reverted block root = %x, want %x", rc.PostRevertedBlockRoot.Bytes(), independentTree.Root().Bytes())
	}
}

func blockProofLeaves(hashes []hash.Hash) []smt.Leaf {
	leaves := make([]smt.Leaf, len(hashes))
	for i, h := range hashes {
		leaves[i] = smt.Leaf{Key: hash.FromUint64(uint64(i + 1)), Value: h}
	}
	return leaves
}

func TestBuildRevertContextRejectsEmptyRange(t *testing.T) {
	db := openTestDB(t)
	putChain(t, db, 1)

	readTx, err := db.Begin(false)
	if err != nil {
		t.Fatal(err)
	}
	defer readTx.Rollback()

	builder := NewBuilder(zap.NewNop())
	if _, err := builder.Build(context.Background(), readTx, nil); err == nil {
		t.Fatal("expected an empty revert range to fail")
	}
}

func TestBuildRevertContextRejectsNonContiguousRange(t *testing.T) {
	db := openTestDB(t)
	hashes := putChain(t, db, 3)

	readTx, err := db.Begin(false)
	if err != nil {
		t.Fatal(err)
	}
	defer readTx.Rollback()

	builder := NewBuilder(zap.NewNop())
	_, err = builder.Build(context.Background(), readTx, []hash.Hash{hashes[0], hashes[2]})
	if err == nil {
		t.Fatal("expected a non-contiguous revert range to fail")
	}
}

func TestBuildRevertContextRejectsUnknownBlock(t *testing.T) {
	db := openTestDB(t)
	putChain(t, db, 1)

	readTx, err := db.Begin(false)
	if err != nil {
		t.Fatal(err)
	}
	defer readTx.Rollback()

	builder := NewBuilder(zap.NewNop())
	_, err = builder.Build(context.Background(), readTx, []hash.Hash{hash.Sum256([]byte("no such block"))})
	if err == nil {
		t.Fatal("expected an unknown block hash to fail")
	}
}
