// Package revert implements RevertBuilder: given an ordered, contiguous
// range of L2 blocks to revert, it assembles the proof material an on-chain
// validator needs to reset the chain tip back before the first reverted
// block (spec §4.7), grounded on
// original_source/crates/chain/src/challenge.rs's build_revert_context /
// build_block_proof.
package revert

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nervos-rollup/challenge-engine/internal/errs"
	"github.com/nervos-rollup/challenge-engine/internal/hash"
	"github.com/nervos-rollup/challenge-engine/internal/metrics"
	"github.com/nervos-rollup/challenge-engine/internal/smt"
	"github.com/nervos-rollup/challenge-engine/internal/store"
	"github.com/nervos-rollup/challenge-engine/internal/types"
	"github.com/nervos-rollup/challenge-engine/internal/witness"
)

// Builder assembles RevertContexts. Unlike challenge.Builder it holds no
// collaborators beyond logging: the revert proof is pure read-plus-compile
// over the block index and the two block-scoped SMTs, with no re-execution
// involved.
type Builder struct {
	log *zap.Logger
}

// NewBuilder returns a ready-to-use Builder.
func NewBuilder(log *zap.Logger) *Builder {
	return &Builder{log: log}
}

// Build assembles the RevertContext for blockHashes, an ordered, contiguous,
// ascending-by-number sequence of previously-submitted blocks. It never
// writes through tx: the reverted-block SMT mutation it computes is
// returned for the caller to apply only on the actual on-chain revert path
// (spec §4.7's "caller MUST NOT persist the reverted-block SMT mutations
// here" — mirrored by RevertedSMTStore being wrapped in a throwaway overlay
// below, never written back to tx directly).
func (b *Builder) Build(ctx context.Context, tx *store.Tx, blockHashes []hash.Hash) (*witness.RevertContext, error) {
	result := "error"
	defer func() {
		metrics.ChallengeBuildsTotal.WithLabelValues("revert", result).Inc()
	}()

	select {
	case <-ctx.Done():
		return nil, errs.Cancelled
	default:
	}

	if len(blockHashes) == 0 {
		return nil, errs.InvalidTarget("revert range is empty")
	}

	rawBlocks, err := b.resolveBlocks(tx, blockHashes)
	if err != nil {
		return nil, err
	}
	if err := requireContiguous(rawBlocks); err != nil {
		return nil, err
	}

	blockProof, err := b.buildBlockProof(tx, rawBlocks)
	if err != nil {
		return nil, err
	}
	b.log.Debug("built main chain block proof", zap.Int("count", len(rawBlocks)))

	revertedProof, postRevertedRoot, err := b.buildRevertedProof(tx, rawBlocks)
	if err != nil {
		return nil, err
	}
	b.log.Debug("built reverted block proof", zap.Int("count", len(rawBlocks)))

	result = "ok"
	metrics.RevertBlocksTotal.Add(float64(len(rawBlocks)))
	revertedHashes := make([]hash.Hash, len(rawBlocks))
	for i, rb := range rawBlocks {
		revertedHashes[i] = rb.Hash()
	}
	return &witness.RevertContext{
		RevertedBlocks:        revertedHashes,
		BlockProof:            blockProof,
		RevertedProof:         revertedProof,
		PostRevertedBlockRoot: postRevertedRoot,
		FirstRevertedRaw:      rawBlocks[0],
	}, nil
}

// resolveBlocks looks up each requested block hash in order, failing fast
// if any is absent.
func (b *Builder) resolveBlocks(tx *store.Tx, blockHashes []hash.Hash) ([]types.RawL2Block, error) {
	raws := make([]types.RawL2Block, len(blockHashes))
	for i, h := range blockHashes {
		block, found, err := tx.Blocks().Get(h)
		if err != nil {
			return nil, errs.Storage("get revert target block", err)
		}
		if !found {
			return nil, errs.NotFound(fmt.Sprintf("block %x", h.Bytes()))
		}
		raws[i] = block.Raw
	}
	return raws, nil
}

// requireContiguous enforces that rawBlocks is sorted ascending by number
// with no gaps, so the revert range unambiguously denotes "everything from
// the first entry's number onward" rather than a scattered set.
func requireContiguous(rawBlocks []types.RawL2Block) error {
	for i := 1; i < len(rawBlocks); i++ {
		if rawBlocks[i].Number != rawBlocks[i-1].Number+1 {
			return errs.InvalidTarget(fmt.Sprintf(
				"revert range is not contiguous: block %d follows block %d",
				rawBlocks[i].Number, rawBlocks[i-1].Number,
			))
		}
	}
	return nil
}

// buildBlockProof compiles a multi-leaf proof, over the persistent
// block-number SMT, that each raw block's hash sits at its own number —
// confirming every reverted block is genuinely part of the main chain
// (challenge.rs's build_block_proof).
func (b *Builder) buildBlockProof(tx *store.Tx, rawBlocks []types.RawL2Block) (*smt.CompiledProof, error) {
	blockSMTStore := tx.BlockSMTStore()
	root := tx.Blocks().BlockSMTRoot()
	tree := smt.New(root, blockSMTStore)

	keys := make([]hash.Hash, len(rawBlocks))
	leaves := make([]smt.Leaf, len(rawBlocks))
	for i, rb := range rawBlocks {
		key := hash.FromUint64(rb.Number)
		keys[i] = key
		leaves[i] = smt.Leaf{Key: key, Value: rb.Hash()}
	}

	proof, err := tree.MerkleProof(keys)
	if err != nil {
		return nil, errs.Storage("compile block proof", err)
	}
	gotRoot, err := proof.ComputeRoot(leaves)
	if err != nil {
		return nil, errs.Inconsistent("block proof", nil, err)
	}
	if gotRoot != root {
		metrics.ObserveInconsistent("block smt root")
		return nil, errs.Inconsistent("block smt root", root, gotRoot)
	}
	return proof, nil
}

// buildRevertedProof computes, without persisting, the reverted-block SMT
// root that results from marking every block in rawBlocks as reverted
// (value hash.One()), and compiles a multi-leaf proof over exactly those
// keys. The mutation lives entirely in a throwaway overlay: the caller owns
// rolling tx back, and the real reverted-block SMT is only ever advanced on
// the actual on-chain revert path (spec §4.7).
func (b *Builder) buildRevertedProof(tx *store.Tx, rawBlocks []types.RawL2Block) (*smt.CompiledProof, hash.Hash, error) {
	overlay := smt.NewOverlayStore(tx.RevertedSMTStore())
	tree := smt.New(tx.RevertedSMTRoot(), overlay)

	keys := make([]hash.Hash, len(rawBlocks))
	leaves := make([]smt.Leaf, len(rawBlocks))
	for i, rb := range rawBlocks {
		key := rb.Hash()
		keys[i] = key
		leaves[i] = smt.Leaf{Key: key, Value: hash.One()}
		if err := tree.Update(key, hash.One()); err != nil {
			return nil, hash.Hash{}, errs.Storage("mark block reverted", err)
		}
	}

	proof, err := tree.MerkleProof(keys)
	if err != nil {
		return nil, hash.Hash{}, errs.Storage("compile reverted block proof", err)
	}
	postRoot := tree.Root()
	gotRoot, err := proof.ComputeRoot(leaves)
	if err != nil {
		return nil, hash.Hash{}, errs.Inconsistent("reverted block proof", nil, err)
	}
	if gotRoot != postRoot {
		metrics.ObserveInconsistent("reverted block smt root")
		return nil, hash.Hash{}, errs.Inconsistent("reverted block smt root", postRoot, gotRoot)
	}
	return proof, postRoot, nil
}
