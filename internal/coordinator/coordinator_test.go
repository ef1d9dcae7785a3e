package coordinator

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/nervos-rollup/challenge-engine/internal/executor"
	"github.com/nervos-rollup/challenge-engine/internal/executor/fixture"
	"github.com/nervos-rollup/challenge-engine/internal/hash"
	"github.com/nervos-rollup/challenge-engine/internal/smt"
	"github.com/nervos-rollup/challenge-engine/internal/stateview"
	"github.com/nervos-rollup/challenge-engine/internal/store"
	"github.com/nervos-rollup/challenge-engine/internal/types"
	"github.com/nervos-rollup/challenge-engine/internal/witness"
)

type fakeScripts struct{}

func (fakeScripts) GetScript(hash.Hash) (types.Script, bool, error) {
	return types.Script{}, true, nil
}

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

// putDisputedBlock writes a single-transaction block whose recorded roots
// are genuinely consistent with the fixture executor, mirroring
// internal/challenge's own test setup so Coordinator can be exercised
// end-to-end without a real generator.
func putDisputedBlock(t *testing.T, db *store.DB) *types.L2Block {
	t.Helper()

	tx1 := types.Transaction{
		Raw:       types.RawTransaction{FromID: 1, ToID: 2, Nonce: 0, Args: []byte("payload")},
		Signature: []byte("sig"),
	}
	txTree := smt.New(smt.Zero, smt.NewMapStore())
	if err := txTree.Update(hash.FromUint32(0), tx1.Hash()); err != nil {
		t.Fatal(err)
	}
	txRoot := txTree.Root()

	setupTx, err := db.Begin(true)
	if err != nil {
		t.Fatal(err)
	}

	// Register a script hash for both accounts in the pre-block state, under
	// stateview's script-hash key (domain 0x10 followed by the LE account id).
	accountTree := smt.New(smt.Zero, setupTx.AccountSMTStore())
	for _, id := range []uint32{1, 2} {
		if err := accountTree.Update(hash.Sum256([]byte{0x10}, hash.FromUint32(id).Bytes()[:4]), hash.Sum256([]byte("lock-script"))); err != nil {
			t.Fatal(err)
		}
	}
	prevRoot := accountTree.Root()

	blockInfo := executor.BlockInfo{Number: 1}
	postOverlay := smt.NewOverlayStore(setupTx.AccountSMTStore())
	postState := stateview.Bind(postOverlay, prevRoot, 1, types.PrevTxs(1), stateview.ReadWrite)
	if _, err := fixture.New().ExecuteTransaction(context.Background(), setupTx.Blocks(), postState, blockInfo, tx1); err != nil {
		t.Fatal(err)
	}
	postRoot := postState.Root()

	raw := types.RawL2Block{
		Number:          1,
		BlockProducerID: 0,
		PrevAccount:     types.AccountMerkleState{Root: prevRoot, Count: 1},
		PostAccount:     types.AccountMerkleState{Root: postRoot, Count: 1},
		SubmitTransactions: types.SubmitTransactions{
			TxWitnessRoot:         txRoot,
			TxCount:               1,
			CompactedPostRootList: []hash.Hash{postRoot},
		},
	}
	block := &types.L2Block{Raw: raw, Transactions: []types.Transaction{tx1}}

	if err := setupTx.Blocks().Put(block); err != nil {
		t.Fatal(err)
	}
	if err := setupTx.Commit(); err != nil {
		t.Fatal(err)
	}
	return block
}

func TestCoordinatorBuildVerifyContext(t *testing.T) {
	db := openTestDB(t)
	block := putDisputedBlock(t, db)

	c := New(db, fixture.New(), fakeScripts{}, zap.NewNop())
	vc, err := c.BuildVerifyContext(context.Background(), witness.ChallengeTarget{
		BlockHash:   block.Hash(),
		TargetIndex: 0,
		Kind:        witness.TargetTxExecution,
	})
	if err != nil {
		t.Fatalf("BuildVerifyContext: %v", err)
	}
	if len(vc.Witness) == 0 {
		t.Fatal("expected a non-empty witness")
	}
}

func TestCoordinatorBuildVerifyContextUnknownBlock(t *testing.T) {
	db := openTestDB(t)
	putDisputedBlock(t, db)

	c := New(db, fixture.New(), fakeScripts{}, zap.NewNop())
	_, err := c.BuildVerifyContext(context.Background(), witness.ChallengeTarget{
		BlockHash:   hash.Sum256([]byte("no such block")),
		TargetIndex: 0,
		Kind:        witness.TargetTxExecution,
	})
	if err == nil {
		t.Fatal("expected an unknown block hash to fail")
	}
}

func TestCoordinatorBuildVerifyContextCancelled(t *testing.T) {
	db := openTestDB(t)
	block := putDisputedBlock(t, db)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := New(db, fixture.New(), fakeScripts{}, zap.NewNop())
	_, err := c.BuildVerifyContext(ctx, witness.ChallengeTarget{
		BlockHash:   block.Hash(),
		TargetIndex: 0,
		Kind:        witness.TargetTxExecution,
	})
	if err == nil {
		t.Fatal("expected a pre-cancelled context to fail")
	}
}

func TestCoordinatorBuildRevertContext(t *testing.T) {
	db := openTestDB(t)
	block := putDisputedBlock(t, db)

	c := New(db, fixture.New(), fakeScripts{}, zap.NewNop())
	rc, err := c.BuildRevertContext(context.Background(), []hash.Hash{block.Hash()})
	if err != nil {
		t.Fatalf("BuildRevertContext: %v", err)
	}
	if len(rc.RevertedBlocks) != 1 || rc.RevertedBlocks[0] != block.Hash() {
		t.Fatalf("unexpected reverted blocks: %v", rc.RevertedBlocks)
	}
}

func TestCoordinatorBuildRevertContextEmptyRange(t *testing.T) {
	db := openTestDB(t)
	putDisputedBlock(t, db)

	c := New(db, fixture.New(), fakeScripts{}, zap.NewNop())
	if _, err := c.BuildRevertContext(context.Background(), nil); err == nil {
		t.Fatal("expected an empty revert range to fail")
	}
}
