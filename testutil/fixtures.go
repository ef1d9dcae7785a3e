package testutil

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
)

// OpenDB opens a fresh bbolt-backed store.DB under a temp directory, closed
// automatically on test cleanup.
func OpenDB(t *testing.T) *store.DB {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "test.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("testutil: open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// PutSingleTxBlock writes block number to db as a single-transaction block
// whose recorded roots are genuinely consistent with the fixture executor
// (internal/executor/fixture), so a Coordinator wired with that executor can
// rebuild its witness byte-for-byte. parent is the new block's
// ParentBlockHash and prevRoot/prevCount its PrevAccount snapshot — pass
// hash.Zero/0 for a genesis block, or a previous call's returned
// block.Raw.PostAccount to extend a chain. nonce must match fromID's current
// on-chain nonce (0 for that account's first transaction). A TxExecution
// build for the block also needs fromID's and toID's script hashes present
// under prevRoot; PutSingleTxBlock does not register them (PutChain does).
func PutSingleTxBlock(t *testing.T, db *store.DB, number uint64, parent hash.Hash, prevRoot hash.Hash, prevCount uint32, fromID, toID, nonce uint32, args []byte) *types.L2Block {
	t.Helper()

	tx1 := types.Transaction{
		Raw:       types.RawTransaction{FromID: fromID, ToID: toID, Nonce: nonce, Args: args},
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

	blockInfo := executor.BlockInfo{Number: number}
	postOverlay := smt.NewOverlayStore(setupTx.AccountSMTStore())
	postState := stateview.Bind(postOverlay, prevRoot, prevCount, types.PrevTxs(number), stateview.ReadWrite)
	if _, err := fixture.New().ExecuteTransaction(context.Background(), setupTx.Blocks(), postState, blockInfo, tx1); err != nil {
		t.Fatal(err)
	}
	postRoot := postState.Root()

	raw := types.RawL2Block{
		Number:          number,
		ParentBlockHash: parent,
		PrevAccount:     types.AccountMerkleState{Root: prevRoot, Count: prevCount},
		PostAccount:     types.AccountMerkleState{Root: postRoot, Count: prevCount},
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

// PutChain writes n single-transaction blocks (numbers 1..n), each chained
// off the previous one's post-state and hash, and returns them in order.
// Every block reuses the same sender account, so its nonce advances by one
// per block. Accounts 1 and 2 get a script hash registered in the state the
// first block starts from. Every block but the last has its transaction
// applied to the account store before the next block is written; the last
// block's effects exist only in its recorded roots.
func PutChain(t *testing.T, db *store.DB, n int) []*types.L2Block {
	t.Helper()

	blocks := make([]*types.L2Block, n)
	var parent hash.Hash
	var prevCount uint32

	// stateview's script-hash key: domain 0x10 followed by the LE account id.
	setupTx, err := db.Begin(true)
	if err != nil {
		t.Fatal(err)
	}
	genesis := smt.New(smt.Zero, setupTx.AccountSMTStore())
	for _, id := range []uint32{1, 2} {
		if err := genesis.Update(hash.Sum256([]byte{0x10}, hash.FromUint32(id).Bytes()[:4]), hash.Sum256([]byte("chain-lock-script"))); err != nil {
			t.Fatal(err)
		}
	}
	if err := setupTx.Commit(); err != nil {
		t.Fatal(err)
	}
	prevRoot := genesis.Root()

	for i := 0; i < n; i++ {
		if i > 0 {
			prev := blocks[i-1]
			applyTx, err := db.Begin(true)
			if err != nil {
				t.Fatal(err)
			}
			state := stateview.Bind(applyTx.AccountSMTStore(), prev.Raw.PrevAccount.Root, prev.Raw.PrevAccount.Count, types.PrevTxs(prev.Raw.Number), stateview.ReadWrite)
			if _, err := fixture.New().ExecuteTransaction(context.Background(), applyTx.Blocks(), state, executor.BlockInfo{Number: prev.Raw.Number}, prev.Transactions[0]); err != nil {
				t.Fatal(err)
			}
			if err := applyTx.Commit(); err != nil {
				t.Fatal(err)
			}
		}
		block := PutSingleTxBlock(t, db, uint64(i+1), parent, prevRoot, prevCount, 1, 2, uint32(i), []byte("payload"))
		blocks[i] = block
		parent = block.Hash()
		prevRoot = block.Raw.PostAccount.Root
		prevCount = block.Raw.PostAccount.Count
	}
	return blocks
}
