// Package witness defines the three challenge witness variants and the
// revert witness, their wire encoding, and the structural (proof-inclusion)
// verification every witness variant supports independent of re-execution
// (spec §4.6/§6). Field order within each Marshal method follows the
// on-chain challenge-cell layout referenced by
// original_source/contracts/state-validator/src/cells.rs (SPEC_FULL EXP-4).
package witness

import (
	"github.com/nervos-rollup/challenge-engine/internal/errs"
	"github.com/nervos-rollup/challenge-engine/internal/hash"
	"github.com/nervos-rollup/challenge-engine/internal/smt"
	"github.com/nervos-rollup/challenge-engine/internal/types"
	"github.com/nervos-rollup/challenge-engine/internal/wire"
)

// TargetKind distinguishes which of a block's three verifiable actions a
// ChallengeTarget names.
type TargetKind uint8

const (
	TargetTxExecution TargetKind = iota
	TargetTxSignature
	TargetWithdrawal
)

// ChallengeTarget names exactly one verifiable action inside one block.
type ChallengeTarget struct {
	BlockHash   hash.Hash
	TargetIndex uint32
	Kind        TargetKind
}

// KVPair is a single (key, value) entry of the pre-execution state a
// witness's KV proof covers.
type KVPair struct {
	Key   hash.Hash
	Value hash.Hash
}

func writeKVPairs(w *wire.Writer, pairs []KVPair) {
	wire.WriteVec(w, pairs, func(w *wire.Writer, p KVPair) {
		w.WriteFixed(p.Key.Bytes())
		w.WriteFixed(p.Value.Bytes())
	})
}

func readKVPairs(r *wire.Reader) ([]KVPair, error) {
	return wire.ReadVec(r, func(r *wire.Reader) (KVPair, error) {
		var p KVPair
		k, err := r.ReadFixed(hash.Size)
		if err != nil {
			return p, err
		}
		v, err := r.ReadFixed(hash.Size)
		if err != nil {
			return p, err
		}
		p.Key, p.Value = hash.FromBytes(k), hash.FromBytes(v)
		return p, nil
	})
}

// TxContext carries the context fields spec §6 requires alongside every
// TxExecution/TxSignature witness: the prev-tx account count the witness's
// proof roots are bound to (state_checkpoint = H(root ‖ account_count), spec
// §3/§8 invariant 2), and the sender and receiver lock scripts registered at
// that same checkpoint (§4.6 steps 6/12).
type TxContext struct {
	AccountCount   uint32
	SenderScript   types.Script
	ReceiverScript types.Script
}

func writeScript(w *wire.Writer, s types.Script) {
	w.WriteFixed(s.CodeHash.Bytes())
	w.WriteFixed([]byte{byte(s.HashType)})
	w.WriteBytesWithLen(s.Args)
}

func writeTxContext(w *wire.Writer, c TxContext) {
	w.WriteUint32LE(c.AccountCount)
	writeScript(w, c.SenderScript)
	writeScript(w, c.ReceiverScript)
}

// prevAccountRootFor returns the account tree root immediately before
// txIndex ran within rawBlock: tx 0 starts from the block's PrevAccount
// root, every later tx starts from its predecessor's entry in
// CompactedPostRootList. Shared by TxExecutionWitness and TxSignatureWitness
// since both are scoped to one (RawBlock, TxIndex) pair.
func prevAccountRootFor(rawBlock types.RawL2Block, txIndex uint32) (hash.Hash, error) {
	if txIndex == 0 {
		return rawBlock.PrevAccount.Root, nil
	}
	list := rawBlock.SubmitTransactions.CompactedPostRootList
	if int(txIndex-1) >= len(list) {
		return hash.Hash{}, errs.Inconsistent("compacted post root list", "an entry for the previous tx", "none")
	}
	return list[txIndex-1], nil
}

// TxExecutionWitness proves a block producer's claimed execution result for
// one transaction is wrong: it carries enough of the pre-state (a compiled
// proof over every key the transaction's re-execution touches) for a
// verifier to independently replay the transaction and compare outcomes.
type TxExecutionWitness struct {
	RawBlock       types.RawL2Block
	TxIndex        uint32
	Tx             types.Transaction
	TxInclusion    *smt.CompiledProof // proves Tx sits at TxIndex in RawBlock's tx tree
	KVPairs        []KVPair           // pre-execution values of every touched key
	KVProof        *smt.CompiledProof // proves KVPairs against the account root before TxIndex (RawBlock.PrevAccount for tx 0, else the previous compacted post root)
	Context        TxContext          // account_count + sender/receiver scripts read at the same checkpoint
	ReturnDataHash hash.Hash          // hash of the return data produced by re-executing Tx locally
}

// Marshal serializes the witness to its wire form.
func (w *TxExecutionWitness) Marshal() []byte {
	out := wire.NewWriter()
	rb := (&types.L2Block{Raw: w.RawBlock}).Marshal()
	out.WriteBytesWithLen(rb)
	out.WriteUint32LE(w.TxIndex)
	out.WriteBytesWithLen(w.Tx.Raw.Hash().Bytes())
	out.WriteBytesWithLen(w.Tx.Signature)
	out.WriteBytesWithLen(w.TxInclusion.Bytes())
	writeKVPairs(out, w.KVPairs)
	out.WriteBytesWithLen(w.KVProof.Bytes())
	writeTxContext(out, w.Context)
	out.WriteFixed(w.ReturnDataHash.Bytes())
	return out.Bytes()
}

// VerifyTxInclusion recomputes the tx-tree root from TxInclusion and
// confirms it matches RawBlock's recorded tx witness root.
func (w *TxExecutionWitness) VerifyTxInclusion() error {
	root, err := w.TxInclusion.ComputeRoot([]smt.Leaf{{
		Key:   hash.FromUint32(w.TxIndex),
		Value: w.Tx.Hash(),
	}})
	if err != nil {
		return errs.Inconsistent("tx inclusion proof", nil, err)
	}
	if root != w.RawBlock.SubmitTransactions.TxWitnessRoot {
		return errs.Inconsistent("tx witness root", w.RawBlock.SubmitTransactions.TxWitnessRoot, root)
	}
	return nil
}

// VerifyKVState recomputes the account-state root from KVPairs and KVProof,
// confirms it matches the root in effect immediately before TxIndex ran, and
// confirms the checkpoint that root forms together with Context.AccountCount
// matches the on-chain-recorded one (spec §8 invariant 2: recomputed root
// bound to the witness's own account_count must equal
// calculate_state_checkpoint(prev-root, prev-account-count)). Account count
// never changes mid-block (SPEC_FULL EXP-4), so RawBlock.PrevAccount.Count is
// the correct on-chain count regardless of TxIndex.
func (w *TxExecutionWitness) VerifyKVState() error {
	want, err := prevAccountRootFor(w.RawBlock, w.TxIndex)
	if err != nil {
		return err
	}

	leaves := make([]smt.Leaf, len(w.KVPairs))
	for i, p := range w.KVPairs {
		leaves[i] = smt.Leaf{Key: p.Key, Value: p.Value}
	}
	root, err := w.KVProof.ComputeRoot(leaves)
	if err != nil {
		return errs.Inconsistent("kv state proof", nil, err)
	}
	if root != want {
		return errs.Inconsistent("prev account root", want, root)
	}

	wantCheckpoint := hash.CalculateStateCheckpoint(want, w.RawBlock.PrevAccount.Count)
	gotCheckpoint := hash.CalculateStateCheckpoint(root, w.Context.AccountCount)
	if gotCheckpoint != wantCheckpoint {
		return errs.Inconsistent("prev state checkpoint", wantCheckpoint, gotCheckpoint)
	}
	return nil
}

// TxSignatureWitness proves a submitted transaction's signature does not
// verify against the sender account's registered lock script. Context
// carries both the sender's and the receiver's scripts (spec §4.6
// TxSignature: "proves the pre-tx account view contains the sender and
// receiver scripts"), same shape as TxExecutionWitness's context minus
// return_data_hash.
type TxSignatureWitness struct {
	RawBlock    types.RawL2Block
	TxIndex     uint32
	Tx          types.Transaction
	TxInclusion *smt.CompiledProof
	Context     TxContext
	ScriptProof *smt.CompiledProof // proves Context.SenderScript/ReceiverScript hashes are Tx.Raw.FromID/ToID's registered script hashes
}

// Marshal serializes the witness to its wire form.
func (w *TxSignatureWitness) Marshal() []byte {
	out := wire.NewWriter()
	rb := (&types.L2Block{Raw: w.RawBlock}).Marshal()
	out.WriteBytesWithLen(rb)
	out.WriteUint32LE(w.TxIndex)
	out.WriteBytesWithLen(w.Tx.Raw.Hash().Bytes())
	out.WriteBytesWithLen(w.Tx.Signature)
	out.WriteBytesWithLen(w.TxInclusion.Bytes())
	writeTxContext(out, w.Context)
	out.WriteBytesWithLen(w.ScriptProof.Bytes())
	return out.Bytes()
}

func (w *TxSignatureWitness) VerifyTxInclusion() error {
	root, err := w.TxInclusion.ComputeRoot([]smt.Leaf{{
		Key:   hash.FromUint32(w.TxIndex),
		Value: w.Tx.Hash(),
	}})
	if err != nil {
		return errs.Inconsistent("tx inclusion proof", nil, err)
	}
	if root != w.RawBlock.SubmitTransactions.TxWitnessRoot {
		return errs.Inconsistent("tx witness root", w.RawBlock.SubmitTransactions.TxWitnessRoot, root)
	}
	return nil
}

// VerifyScript recomputes the account-state root from the sender's and
// receiver's script-hash leaves and ScriptProof, confirms it matches the
// root in effect immediately before TxIndex ran, and confirms the checkpoint
// that root forms together with Context.AccountCount matches the
// on-chain-recorded one (same account-count-bound checkpoint check as
// TxExecutionWitness.VerifyKVState).
func (w *TxSignatureWitness) VerifyScript(scriptHashKeyOf func(accountID uint32) hash.Hash) error {
	want, err := prevAccountRootFor(w.RawBlock, w.TxIndex)
	if err != nil {
		return err
	}

	root, err := w.ScriptProof.ComputeRoot([]smt.Leaf{
		{Key: scriptHashKeyOf(w.Tx.Raw.FromID), Value: w.Context.SenderScript.Hash()},
		{Key: scriptHashKeyOf(w.Tx.Raw.ToID), Value: w.Context.ReceiverScript.Hash()},
	})
	if err != nil {
		return errs.Inconsistent("script proof", nil, err)
	}
	if root != want {
		return errs.Inconsistent("prev account root", want, root)
	}

	wantCheckpoint := hash.CalculateStateCheckpoint(want, w.RawBlock.PrevAccount.Count)
	gotCheckpoint := hash.CalculateStateCheckpoint(root, w.Context.AccountCount)
	if gotCheckpoint != wantCheckpoint {
		return errs.Inconsistent("prev state checkpoint", wantCheckpoint, gotCheckpoint)
	}
	return nil
}

// WithdrawalWitness proves a withdrawal request included in a block is
// malformed (bad owner lock, insufficient capacity, etc — the policy check
// itself is external; this witness only carries the inclusion proof).
type WithdrawalWitness struct {
	RawBlock            types.RawL2Block
	WithdrawalIndex     uint32
	Withdrawal          types.Withdrawal
	WithdrawalInclusion *smt.CompiledProof
}

// Marshal serializes the witness to its wire form.
func (w *WithdrawalWitness) Marshal() []byte {
	out := wire.NewWriter()
	rb := (&types.L2Block{Raw: w.RawBlock}).Marshal()
	out.WriteBytesWithLen(rb)
	out.WriteUint32LE(w.WithdrawalIndex)
	out.WriteBytesWithLen(w.Withdrawal.Raw.Hash().Bytes())
	out.WriteBytesWithLen(w.Withdrawal.Signature)
	out.WriteBytesWithLen(w.WithdrawalInclusion.Bytes())
	return out.Bytes()
}

func (w *WithdrawalWitness) VerifyInclusion() error {
	root, err := w.WithdrawalInclusion.ComputeRoot([]smt.Leaf{{
		Key:   hash.FromUint32(w.WithdrawalIndex),
		Value: w.Withdrawal.Hash(),
	}})
	if err != nil {
		return errs.Inconsistent("withdrawal inclusion proof", nil, err)
	}
	if root != w.RawBlock.SubmitWithdrawals.WithdrawalWitnessRoot {
		return errs.Inconsistent("withdrawal witness root", w.RawBlock.SubmitWithdrawals.WithdrawalWitnessRoot, root)
	}
	return nil
}

// VerifyContext bundles a ChallengeTarget with its serialized witness,
// ready to submit on-chain (spec §4.1/§4.6).
type VerifyContext struct {
	Target  ChallengeTarget
	Witness []byte
}

// RevertContext is the output of RevertBuilder.Build: the block-range proof
// plus the reverted-block SMT proof needed to reset the chain tip back
// before the first reverted block (spec §3, §4.7).
type RevertContext struct {
	RevertedBlocks        []hash.Hash
	BlockProof            *smt.CompiledProof // proves RevertedBlocks' hashes sit at their numbers in the block-number SMT
	RevertedProof         *smt.CompiledProof // proves RevertedBlocks are now marked reverted in the reverted-block SMT
	PostRevertedBlockRoot hash.Hash           // reverted-block SMT root after inserting RevertedBlocks, atop its current root (spec §4.7 step 3, scenario S4)
	FirstRevertedRaw      types.RawL2Block    // the first reverted block's header, whose PrevAccount becomes the new tip state
}
