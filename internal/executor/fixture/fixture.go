// Package fixture provides a small deterministic Executor implementation
// used by tests that need a real post-state transition without depending on
// an actual rollup VM (DESIGN.md: internal/executor).
package fixture

import (
	"context"
	"fmt"

	"github.com/nervos-rollup/challenge-engine/internal/executor"
	"github.com/nervos-rollup/challenge-engine/internal/hash"
	"github.com/nervos-rollup/challenge-engine/internal/stateview"
	"github.com/nervos-rollup/challenge-engine/internal/types"
)

// Executor is a toy deterministic transaction interpreter: it bumps the
// sender's nonce, writes H(args) into a storage slot derived from the
// receiver account and the sender's pre-bump nonce, and returns H(args) as
// its return data. It never fails unless the sender's nonce does not match
// the transaction's declared nonce, mirroring the one universal check every
// real account-abstraction VM performs before running anything else.
type Executor struct{}

// New returns a ready-to-use fixture Executor.
func New() *Executor {
	return &Executor{}
}

func (e *Executor) ExecuteTransaction(ctx context.Context, chain executor.ChainView, state *stateview.StateView, block executor.BlockInfo, tx types.Transaction) (executor.RunResult, error) {
	select {
	case <-ctx.Done():
		return executor.RunResult{}, ctx.Err()
	default:
	}

	nonce, err := state.GetNonce(tx.Raw.FromID)
	if err != nil {
		return executor.RunResult{}, err
	}
	if nonce != tx.Raw.Nonce {
		return executor.RunResult{}, fmt.Errorf("fixture: nonce mismatch for account %d: have %d, tx declares %d", tx.Raw.FromID, nonce, tx.Raw.Nonce)
	}

	if err := state.SetNonce(tx.Raw.FromID, nonce+1); err != nil {
		return executor.RunResult{}, err
	}

	effect := hash.Sum256(tx.Raw.Args)
	slot := slotKey(tx.Raw.ToID, nonce)
	if err := state.UpdateRaw(slot, effect); err != nil {
		return executor.RunResult{}, err
	}

	return executor.RunResult{ReturnData: effect.Bytes()}, nil
}

func slotKey(accountID, nonce uint32) hash.Hash {
	var b [8]byte
	b[0], b[1], b[2], b[3] = byte(accountID), byte(accountID>>8), byte(accountID>>16), byte(accountID>>24)
	b[4], b[5], b[6], b[7] = byte(nonce), byte(nonce>>8), byte(nonce>>16), byte(nonce>>24)
	return hash.Sum256([]byte{0x20}, b[:])
}
