package challenge

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

type fakeScripts struct {
	byHash map[hash.Hash]types.Script
}

func (f *fakeScripts) GetScript(scriptHash hash.Hash) (types.Script, bool, error) {
	s, ok := f.byHash[scriptHash]
	return s, ok, nil
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

// setupDisputedBlock writes a single-transaction, single-withdrawal block
// whose recorded roots are genuinely consistent with the fixture executor,
// so that every build in the tests below passes the builder's checkpoint
// self-checks.
func setupDisputedBlock(t *testing.T) (db *store.DB, block *types.L2Block, senderScript, receiverScript types.Script) {
	t.Helper()
	db = openTestDB(t)

	const fromID, toID uint32 = 1, 2
	senderScript = types.Script{
		CodeHash: hash.Sum256([]byte("lock-code")),
		HashType: types.HashTypeType,
		Args:     []byte("owner-args"),
	}
	receiverScript = types.Script{
		CodeHash: hash.Sum256([]byte("lock-code")),
		HashType: types.HashTypeType,
		Args:     []byte("receiver-args"),
	}

	setupTx, err := db.Begin(true)
	if err != nil {
		t.Fatal(err)
	}

	accountTree := smt.New(smt.Zero, setupTx.AccountSMTStore())
	if err := accountTree.Update(scriptHashKeyOf(fromID), senderScript.Hash()); err != nil {
		t.Fatal(err)
	}
	if err := accountTree.Update(scriptHashKeyOf(toID), receiverScript.Hash()); err != nil {
		t.Fatal(err)
	}
	prevRoot := accountTree.Root()
	prevAccount := types.AccountMerkleState{Root: prevRoot, Count: 1}

	tx1 := types.Transaction{
		Raw: types.RawTransaction{
			FromID: fromID,
			ToID:   toID,
			Nonce:  0,
			Args:   []byte("payload"),
		},
		Signature: []byte("sig"),
	}
	txRoot, _, err := buildIndexedTree(1, func(int) hash.Hash { return tx1.Hash() })
	if err != nil {
		t.Fatal(err)
	}

	wd := types.Withdrawal{
		Raw:       types.RawWithdrawal{Nonce: 0, Capacity: 100},
		Signature: []byte("wsig"),
	}
	withdrawalRoot, _, err := buildIndexedTree(1, func(int) hash.Hash { return wd.Hash() })
	if err != nil {
		t.Fatal(err)
	}

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
		PrevAccount:     prevAccount,
		PostAccount:     types.AccountMerkleState{Root: postRoot, Count: 1},
		SubmitTransactions: types.SubmitTransactions{
			TxWitnessRoot:         txRoot,
			TxCount:               1,
			CompactedPostRootList: []hash.Hash{postRoot},
		},
		SubmitWithdrawals: types.SubmitWithdrawals{
			WithdrawalWitnessRoot: withdrawalRoot,
			WithdrawalCount:       1,
		},
	}
	block = &types.L2Block{Raw: raw, Transactions: []types.Transaction{tx1}, Withdrawals: []types.Withdrawal{wd}}

	if err := setupTx.Blocks().Put(block); err != nil {
		t.Fatal(err)
	}
	if err := setupTx.Commit(); err != nil {
		t.Fatal(err)
	}
	return db, block, senderScript, receiverScript
}

func TestBuildTxExecutionWitness(t *testing.T) {
	db, block, senderScript, receiverScript := setupDisputedBlock(t)

	readTx, err := db.Begin(false)
	if err != nil {
		t.Fatal(err)
	}
	defer readTx.Rollback()

	scripts := &fakeScripts{byHash: map[hash.Hash]types.Script{
		senderScript.Hash():   senderScript,
		receiverScript.Hash(): receiverScript,
	}}
	builder := NewBuilder(fixture.New(), scripts, zap.NewNop())
	vc, err := builder.Build(context.Background(), readTx, witness.ChallengeTarget{
		BlockHash:   block.Hash(),
		TargetIndex: 0,
		Kind:        witness.TargetTxExecution,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(vc.Witness) == 0 {
		t.Fatal("expected a non-empty witness")
	}
}

func TestBuildTxExecutionWitnessMissingReceiverScript(t *testing.T) {
	db, block, senderScript, _ := setupDisputedBlock(t)

	readTx, err := db.Begin(false)
	if err != nil {
		t.Fatal(err)
	}
	defer readTx.Rollback()

	scripts := &fakeScripts{byHash: map[hash.Hash]types.Script{senderScript.Hash(): senderScript}}
	builder := NewBuilder(fixture.New(), scripts, zap.NewNop())
	_, err = builder.Build(context.Background(), readTx, witness.ChallengeTarget{
		BlockHash:   block.Hash(),
		TargetIndex: 0,
		Kind:        witness.TargetTxExecution,
	})
	if err == nil {
		t.Fatal("expected an error when the script store has no entry for the receiver's registered script hash")
	}
}

func TestBuildTxSignatureWitness(t *testing.T) {
	db, block, senderScript, receiverScript := setupDisputedBlock(t)

	readTx, err := db.Begin(false)
	if err != nil {
		t.Fatal(err)
	}
	defer readTx.Rollback()

	scripts := &fakeScripts{byHash: map[hash.Hash]types.Script{
		senderScript.Hash():   senderScript,
		receiverScript.Hash(): receiverScript,
	}}
	builder := NewBuilder(fixture.New(), scripts, zap.NewNop())
	vc, err := builder.Build(context.Background(), readTx, witness.ChallengeTarget{
		BlockHash:   block.Hash(),
		TargetIndex: 0,
		Kind:        witness.TargetTxSignature,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(vc.Witness) == 0 {
		t.Fatal("expected a non-empty witness")
	}
}

func TestBuildTxSignatureWitnessMissingScript(t *testing.T) {
	db, block, _, _ := setupDisputedBlock(t)

	readTx, err := db.Begin(false)
	if err != nil {
		t.Fatal(err)
	}
	defer readTx.Rollback()

	builder := NewBuilder(fixture.New(), &fakeScripts{}, zap.NewNop())
	_, err = builder.Build(context.Background(), readTx, witness.ChallengeTarget{
		BlockHash:   block.Hash(),
		TargetIndex: 0,
		Kind:        witness.TargetTxSignature,
	})
	if err == nil {
		t.Fatal("expected an error when the script store has no entry for the sender's registered script hash")
	}
}

func TestBuildTxSignatureWitnessMissingReceiverScript(t *testing.T) {
	db, block, senderScript, _ := setupDisputedBlock(t)

	readTx, err := db.Begin(false)
	if err != nil {
		t.Fatal(err)
	}
	defer readTx.Rollback()

	scripts := &fakeScripts{byHash: map[hash.Hash]types.Script{senderScript.Hash(): senderScript}}
	builder := NewBuilder(fixture.New(), scripts, zap.NewNop())
	_, err = builder.Build(context.Background(), readTx, witness.ChallengeTarget{
		BlockHash:   block.Hash(),
		TargetIndex: 0,
		Kind:        witness.TargetTxSignature,
	})
	if err == nil {
		t.Fatal("expected an error when the script store has no entry for the receiver's registered script hash")
	}
}

func TestBuildWithdrawalWitness(t *testing.T) {
	db, block, _, _ := setupDisputedBlock(t)

	readTx, err := db.Begin(false)
	if err != nil {
		t.Fatal(err)
	}
	defer readTx.Rollback()

	builder := NewBuilder(fixture.New(), &fakeScripts{}, zap.NewNop())
	vc, err := builder.Build(context.Background(), readTx, witness.ChallengeTarget{
		BlockHash:   block.Hash(),
		TargetIndex: 0,
		Kind:        witness.TargetWithdrawal,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(vc.Witness) == 0 {
		t.Fatal("expected a non-empty witness")
	}
}

func TestBuildRejectsOutOfRangeTarget(t *testing.T) {
	db, block, _, _ := setupDisputedBlock(t)

	readTx, err := db.Begin(false)
	if err != nil {
		t.Fatal(err)
	}
	defer readTx.Rollback()

	builder := NewBuilder(fixture.New(), &fakeScripts{}, zap.NewNop())
	_, err = builder.Build(context.Background(), readTx, witness.ChallengeTarget{
		BlockHash:   block.Hash(),
		TargetIndex: 5,
		Kind:        witness.TargetTxExecution,
	})
	if err == nil {
		t.Fatal("expected an out-of-range transaction index to fail")
	}
}

func TestBuildRejectsUnknownBlock(t *testing.T) {
	db, _, _, _ := setupDisputedBlock(t)

	readTx, err := db.Begin(false)
	if err != nil {
		t.Fatal(err)
	}
	defer readTx.Rollback()

	builder := NewBuilder(fixture.New(), &fakeScripts{}, zap.NewNop())
	_, err = builder.Build(context.Background(), readTx, witness.ChallengeTarget{
		BlockHash:   hash.Sum256([]byte("no such block")),
		TargetIndex: 0,
		Kind:        witness.TargetTxExecution,
	})
	if err == nil {
		t.Fatal("expected a lookup against an unknown block hash to fail")
	}
}
