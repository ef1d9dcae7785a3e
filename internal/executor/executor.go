// Package executor defines the pluggable transaction-execution boundary
// the challenge engine re-runs a transaction against (spec §4.5). The core
// never interprets rollup bytecode itself — that is the generator's job,
// external to this repository, exactly as spec.md §1 scopes it.
package executor

import (
	"context"

	"github.com/nervos-rollup/challenge-engine/internal/hash"
	"github.com/nervos-rollup/challenge-engine/internal/stateview"
	"github.com/nervos-rollup/challenge-engine/internal/types"
)

// BlockInfo carries the minimal per-block context a transaction's execution
// can observe: its own block's number/timestamp plus its parent hash
// (needed by some contracts for block-hash introspection; the challenge
// builder copies it from the block's own RawL2Block.ParentBlockHash).
type BlockInfo struct {
	Number          uint64
	Timestamp       uint64
	ParentBlockHash hash.Hash
	BlockProducerID uint32
}

// ChainView resolves block numbers to hashes for an Executor that needs to
// look up other blocks while running a transaction. It is not used to fill
// BlockInfo.ParentBlockHash.
type ChainView interface {
	HashByNumber(number uint64) (hash.Hash, bool)
}

// RunResult is everything re-executing one transaction produces: the
// return data (whose hash becomes part of the witness) and nothing else —
// the resulting state mutations are already reflected in the StateView the
// Executor was given.
type RunResult struct {
	ReturnData []byte
}

// ReturnDataHash is the commitment over ReturnData embedded in
// TxExecutionWitness.
func (r RunResult) ReturnDataHash() hash.Hash {
	return hash.Sum256(r.ReturnData)
}

// Executor re-executes one transaction against a StateView opened in
// ReadWrite mode, exactly the way the on-chain validator's generator would,
// so that the resulting post-state checkpoint can be compared against the
// one recorded on-chain (spec §4.6 step 7).
type Executor interface {
	ExecuteTransaction(ctx context.Context, chain ChainView, state *stateview.StateView, block BlockInfo, tx types.Transaction) (RunResult, error)
}
