// Package stateview implements the read (and, in write mode, read/write)
// view of global account state pinned to one CheckPoint (spec §4.4).
package stateview

import (
	"fmt"

	"github.com/nervos-rollup/challenge-engine/internal/errs"
	"github.com/nervos-rollup/challenge-engine/internal/hash"
	"github.com/nervos-rollup/challenge-engine/internal/smt"
	"github.com/nervos-rollup/challenge-engine/internal/store"
	"github.com/nervos-rollup/challenge-engine/internal/types"
)

// Mode gates whether a StateView allows mutation. A challenge build only
// ever needs ReadWrite on a throwaway overlay (to re-run one transaction);
// every other read path is ReadOnly.
type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
)

// StateView is a checkpoint-pinned window onto the global account tree.
type StateView struct {
	tree         *smt.SMT
	accountCount uint32
	mode         Mode
	checkpoint   types.CheckPoint
}

// ResolveAccountState returns the AccountMerkleState a checkpoint denotes,
// reading it directly off the relevant block header rather than from a
// separate index: Genesis is the empty tree; PrevTxs(n) and Block(n) are a
// block's own PrevAccount/PostAccount; Tx(n, i) is entry i of the block's
// compacted post-root list, paired with the block's PrevAccount.Count since
// account count only ever changes via deposits, which are applied outside
// of (and accounted for before) in-block transaction execution
// (SPEC_FULL EXP-4).
func ResolveAccountState(blocks *store.BlockStore, cp types.CheckPoint) (types.AccountMerkleState, error) {
	if cp.Sub == types.SubGenesis {
		return types.AccountMerkleState{Root: hash.Zero, Count: 0}, nil
	}

	block, found, err := blocks.GetByNumber(cp.BlockNumber)
	if err != nil {
		return types.AccountMerkleState{}, errs.Storage("resolve checkpoint block", err)
	}
	if !found {
		return types.AccountMerkleState{}, errs.NotFound(fmt.Sprintf("block %d", cp.BlockNumber))
	}

	switch cp.Sub {
	case types.SubPrevTxs:
		return block.Raw.PrevAccount, nil
	case types.SubBlock:
		return block.Raw.PostAccount, nil
	case types.SubTx:
		list := block.Raw.SubmitTransactions.CompactedPostRootList
		if int(cp.TxIndex) >= len(list) {
			return types.AccountMerkleState{}, errs.NotFound(fmt.Sprintf("tx checkpoint %d of block %d", cp.TxIndex, cp.BlockNumber))
		}
		return types.AccountMerkleState{Root: list[cp.TxIndex], Count: block.Raw.PrevAccount.Count}, nil
	default:
		return types.AccountMerkleState{}, errs.Inconsistent("checkpoint sub-kind", "a known SubKind", cp.Sub)
	}
}

// Open resolves checkpoint against blocks and binds a StateView to it over
// treeStore.
func Open(blocks *store.BlockStore, treeStore smt.Store, cp types.CheckPoint, mode Mode) (*StateView, error) {
	state, err := ResolveAccountState(blocks, cp)
	if err != nil {
		return nil, err
	}
	return &StateView{
		tree:         smt.New(state.Root, treeStore),
		accountCount: state.Count,
		mode:         mode,
		checkpoint:   cp,
	}, nil
}

// Bind constructs a StateView directly from an already-known root and
// account count, without resolving them from a stored block. Use this when
// the root comes from a local replay rather than directly from chain data:
// the account tree's backing store only ever holds one live value per raw
// key (SPEC_FULL EXP-4's leaf-by-account-key tradeoff), so an intra-block
// checkpoint that no separate index tracks can only be reconstructed by
// re-running the block's prior transactions against an overlay seeded from
// PrevTxs, never by reading the live store at an arbitrary historical root.
func Bind(treeStore smt.Store, root hash.Hash, accountCount uint32, cp types.CheckPoint, mode Mode) *StateView {
	return &StateView{
		tree:         smt.New(root, treeStore),
		accountCount: accountCount,
		mode:         mode,
		checkpoint:   cp,
	}
}

// CheckPoint returns the checkpoint this view is pinned to.
func (v *StateView) CheckPoint() types.CheckPoint {
	return v.checkpoint
}

// Root returns the view's current account tree root.
func (v *StateView) Root() hash.Hash {
	return v.tree.Root()
}

// AccountCount returns the view's current account count.
func (v *StateView) AccountCount() uint32 {
	return v.accountCount
}

// Checkpoint computes this view's on-chain checkpoint commitment.
func (v *StateView) Checkpoint() hash.Hash {
	return hash.CalculateStateCheckpoint(v.tree.Root(), v.accountCount)
}

// GetRaw reads a raw key/value pair from account state.
func (v *StateView) GetRaw(key hash.Hash) (hash.Hash, error) {
	val, err := v.tree.Get(key)
	if err != nil {
		return hash.Hash{}, errs.Storage("get raw", err)
	}
	return val, nil
}

// UpdateRaw writes a raw key/value pair. It returns an error in ReadOnly
// mode.
func (v *StateView) UpdateRaw(key, value hash.Hash) error {
	if v.mode != ReadWrite {
		return errs.InvalidTarget("state view is read-only")
	}
	if err := v.tree.Update(key, value); err != nil {
		return errs.Storage("update raw", err)
	}
	return nil
}

// SetAccountCount overwrites the view's account count. Only deposits (which
// are outside this core's scope) are expected to call this; it is gated to
// ReadWrite mode so that transaction re-execution, which never creates
// accounts, cannot accidentally desync the count from the on-chain value.
func (v *StateView) SetAccountCount(count uint32) error {
	if v.mode != ReadWrite {
		return errs.InvalidTarget("state view is read-only")
	}
	v.accountCount = count
	return nil
}

// accountKey derives the SMT key for account-scoped fields. Account state
// is modeled, like Godwoken's, as a flat key/value space: an account's
// script-hash, nonce and arbitrary storage slots are all raw keys, related
// only by how the key is derived from the account's id/script hash.
func accountKey(domain byte, accountID uint32) hash.Hash {
	var idBytes [4]byte
	idBytes[0] = byte(accountID)
	idBytes[1] = byte(accountID >> 8)
	idBytes[2] = byte(accountID >> 16)
	idBytes[3] = byte(accountID >> 24)
	return hash.Sum256([]byte{domain}, idBytes[:])
}

const (
	domainScriptHash byte = 0x10
	domainNonce      byte = 0x11
)

// GetScriptHash returns the script hash bound to accountID, or the zero
// hash if the account has no script registered yet.
func (v *StateView) GetScriptHash(accountID uint32) (hash.Hash, error) {
	return v.GetRaw(accountKey(domainScriptHash, accountID))
}

// GetScript looks up the full Script for accountID via the caller-supplied
// script store (scripts themselves, being unbounded in size, are not
// SMT-embedded; only their hash is). It returns ok=false rather than an
// error when absent — promoting "missing script" to a fatal condition is
// the caller's decision, not this view's (SPEC_FULL EXP-4, matching
// gw_common::state::State::get_script's Option<Script> signature).
func (v *StateView) GetScript(accountID uint32, scripts ScriptStore) (types.Script, bool, error) {
	scriptHash, err := v.GetScriptHash(accountID)
	if err != nil {
		return types.Script{}, false, err
	}
	if scriptHash.IsZero() {
		return types.Script{}, false, nil
	}
	script, found, err := scripts.GetScript(scriptHash)
	if err != nil {
		return types.Script{}, false, errs.Storage("get script", err)
	}
	return script, found, nil
}

// GetNonce returns accountID's current nonce.
func (v *StateView) GetNonce(accountID uint32) (uint32, error) {
	val, err := v.GetRaw(accountKey(domainNonce, accountID))
	if err != nil {
		return 0, err
	}
	return uint32(val[0]) | uint32(val[1])<<8 | uint32(val[2])<<16 | uint32(val[3])<<24, nil
}

// SetNonce writes accountID's nonce.
func (v *StateView) SetNonce(accountID uint32, nonce uint32) error {
	var val hash.Hash
	val[0] = byte(nonce)
	val[1] = byte(nonce >> 8)
	val[2] = byte(nonce >> 16)
	val[3] = byte(nonce >> 24)
	return v.UpdateRaw(accountKey(domainNonce, accountID), val)
}

// ScriptStore resolves a script hash to its full Script content, a side
// table alongside the account SMT (scripts are content-addressed and
// potentially large, so they are not embedded directly as SMT values).
type ScriptStore interface {
	GetScript(scriptHash hash.Hash) (types.Script, bool, error)
}
