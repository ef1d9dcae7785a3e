// Package coordinator is the challenge/revert engine's public façade
// (spec §4.8): it owns DB transaction scoping around the two build entry
// points, the mandatory-rollback contract (§5), and top-level cancellation
// checks, and exposes exactly the two operations spec §6 names for F and G.
package coordinator

import (
	"context"

	"go.uber.org/zap"

	"github.com/nervos-rollup/challenge-engine/internal/challenge"
	"github.com/nervos-rollup/challenge-engine/internal/errs"
	"github.com/nervos-rollup/challenge-engine/internal/executor"
	"github.com/nervos-rollup/challenge-engine/internal/hash"
	"github.com/nervos-rollup/challenge-engine/internal/revert"
	"github.com/nervos-rollup/challenge-engine/internal/stateview"
	"github.com/nervos-rollup/challenge-engine/internal/store"
	"github.com/nervos-rollup/challenge-engine/internal/witness"
)

// Coordinator wires together the DB, the ChallengeBuilder and the
// RevertBuilder behind the two operations an external caller actually
// needs. Input validation (block exists, index in range) and the internal
// CheckpointDesync/ProofDesync -> Inconsistent mapping both already live at
// the builder level (internal/errs only ever exposes the final external
// taxonomy, so there is no separate internal error type left to translate
// here) — this type's own job is strictly transaction lifecycle and
// cancellation, per spec §4.8(b)/(c)/(d).
type Coordinator struct {
	db        *store.DB
	challenge *challenge.Builder
	revert    *revert.Builder
	log       *zap.Logger
}

// New wires a Coordinator over db. exec and scripts are passed through to
// the ChallengeBuilder; they are the core's only pluggable dependencies
// (spec §1).
func New(db *store.DB, exec executor.Executor, scripts stateview.ScriptStore, log *zap.Logger) *Coordinator {
	return &Coordinator{
		db:        db,
		challenge: challenge.NewBuilder(exec, scripts, log),
		revert:    revert.NewBuilder(log),
		log:       log,
	}
}

// BuildVerifyContext is entry point F of spec §6:
// build_verify_context(target) -> VerifyContext | Error. It opens a
// read-only DB transaction — every build only ever mutates throwaway
// in-memory overlays, never tx itself — and guarantees the transaction is
// rolled back on every exit path, success included, per §5's
// mandatory-rollback contract.
func (c *Coordinator) BuildVerifyContext(ctx context.Context, target witness.ChallengeTarget) (*witness.VerifyContext, error) {
	select {
	case <-ctx.Done():
		return nil, errs.Cancelled
	default:
	}

	tx, err := c.db.Begin(false)
	if err != nil {
		return nil, errs.Storage("begin challenge build transaction", err)
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil {
			c.log.Warn("rollback after challenge build failed", zap.Error(rerr))
		}
	}()

	return c.challenge.Build(ctx, tx, target)
}

// BuildRevertContext is entry point G of spec §6:
// build_revert_context(blocks) -> RevertContext | Error. blockHashes must
// be an ordered, contiguous, ascending-by-number sequence; RevertBuilder
// validates this itself (InvalidTarget on violation).
func (c *Coordinator) BuildRevertContext(ctx context.Context, blockHashes []hash.Hash) (*witness.RevertContext, error) {
	select {
	case <-ctx.Done():
		return nil, errs.Cancelled
	default:
	}

	tx, err := c.db.Begin(false)
	if err != nil {
		return nil, errs.Storage("begin revert build transaction", err)
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil {
			c.log.Warn("rollback after revert build failed", zap.Error(rerr))
		}
	}()

	return c.revert.Build(ctx, tx, blockHashes)
}

// Close releases the Coordinator's underlying DB handle. Callers that own
// the *store.DB themselves (e.g. to share it with other components) should
// close it directly instead of through this method.
func (c *Coordinator) Close() error {
	return c.db.Close()
}
