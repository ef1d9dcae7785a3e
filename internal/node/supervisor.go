// Package node is the illustrative supervisor layer spec.md §5 says the
// core deliberately does not implement itself ("does not decide *when* to
// challenge (policy lives in a supervisor)"). Supervisor wires a p2p.Node to
// a coordinator.Coordinator: it answers peers' build requests concurrently,
// dispatches its own disputes to Coordinator, and gossips the ones that
// build successfully so peers without the underlying block can still ask
// this node to build the witness for them.
package node

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nervos-rollup/challenge-engine/internal/coordinator"
	"github.com/nervos-rollup/challenge-engine/internal/hash"
	"github.com/nervos-rollup/challenge-engine/internal/metrics"
	"github.com/nervos-rollup/challenge-engine/internal/p2p"
	"github.com/nervos-rollup/challenge-engine/internal/witness"
)

// buildTimeout bounds how long this node will spend answering a single
// peer's build request: a slow or malicious peer's request must not pin a
// goroutine (and a DB read transaction) indefinitely.
const buildTimeout = 10 * time.Second

// statsInterval controls how often Supervisor refreshes its gauge metrics.
const statsInterval = 15 * time.Second

// Supervisor drives a single node's participation in the dispute network.
type Supervisor struct {
	p2p   *p2p.Node
	coord *coordinator.Coordinator
	log   *zap.Logger

	startedAt time.Time
}

// NewSupervisor wires coord behind p2pNode's build-request stream handler
// and returns a ready-to-run Supervisor. Call Run to start processing.
func NewSupervisor(p2pNode *p2p.Node, coord *coordinator.Coordinator, log *zap.Logger) *Supervisor {
	s := &Supervisor{
		p2p:       p2pNode,
		coord:     coord,
		log:       log,
		startedAt: time.Now(),
	}
	p2pNode.InitSyncer(s.handleVerifyRequest, s.handleRevertRequest)
	return s
}

// Run processes incoming dispute announcements until ctx is cancelled,
// dispatching each one to Coordinator on its own goroutine — spec §5's "the
// surrounding system is multi-tasked... the policy layer may issue
// concurrent builds from independent tasks" applies just as much to
// disputes this node learns about from peers as to ones it originates
// itself. Run blocks until every in-flight dispute finishes.
func (s *Supervisor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	defer wg.Wait()

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case dispute, ok := <-s.p2p.IncomingDisputes():
			if !ok {
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.handlePeerDispute(ctx, dispute)
			}()
		case <-ticker.C:
			metrics.PeersConnected.Set(float64(s.p2p.PeerCount()))
			metrics.UptimeSeconds.Set(time.Since(s.startedAt).Seconds())
		}
	}
}

// handlePeerDispute tries to independently corroborate a peer's dispute
// announcement by building the same VerifyContext locally. It never
// re-gossips: AnnounceDispute is this node's own entry point for that.
func (s *Supervisor) handlePeerDispute(ctx context.Context, msg *p2p.DisputeAnnounceMsg) {
	target := witness.ChallengeTarget{
		BlockHash:   hash.FromBytes(msg.BlockHash[:]),
		TargetIndex: msg.TargetIndex,
		Kind:        witness.TargetKind(msg.Kind),
	}
	vc, err := s.coord.BuildVerifyContext(ctx, target)
	if err != nil {
		s.log.Debug("could not corroborate peer dispute announcement", zap.Error(err))
		return
	}
	s.log.Info("corroborated peer dispute announcement",
		zap.Uint32("target_index", msg.TargetIndex),
		zap.Int("witness_bytes", len(vc.Witness)))
}

// AnnounceDispute builds a VerifyContext for target locally and, if that
// succeeds, gossips the dispute so peers that never saw the underlying
// block can ask this node to build it for them over BuildProtocolID.
func (s *Supervisor) AnnounceDispute(ctx context.Context, target witness.ChallengeTarget) (*witness.VerifyContext, error) {
	vc, err := s.coord.BuildVerifyContext(ctx, target)
	if err != nil {
		return nil, err
	}

	var blockHash [32]byte
	copy(blockHash[:], target.BlockHash.Bytes())
	msg := &p2p.DisputeAnnounceMsg{
		BlockHash:   blockHash,
		TargetIndex: target.TargetIndex,
		Kind:        uint8(target.Kind),
	}
	if err := s.p2p.AnnounceDispute(msg); err != nil {
		s.log.Warn("failed to announce dispute", zap.Error(err))
	} else {
		metrics.DisputesAnnouncedTotal.Inc()
	}
	return vc, nil
}

// AnnounceRevert runs BuildRevertContext for blockHashes. Reverts are not
// gossiped as disputes — a revert is something the on-chain validator
// applies directly once submitted, not a claim other nodes need to
// corroborate ahead of time.
func (s *Supervisor) AnnounceRevert(ctx context.Context, blockHashes []hash.Hash) (*witness.RevertContext, error) {
	return s.coord.BuildRevertContext(ctx, blockHashes)
}

func (s *Supervisor) handleVerifyRequest(req *p2p.VerifyRequest) *p2p.VerifyResponse {
	ctx, cancel := context.WithTimeout(context.Background(), buildTimeout)
	defer cancel()

	target := witness.ChallengeTarget{
		BlockHash:   hash.FromBytes(req.BlockHash[:]),
		TargetIndex: req.TargetIndex,
		Kind:        witness.TargetKind(req.Kind),
	}
	vc, err := s.coord.BuildVerifyContext(ctx, target)
	if err != nil {
		metrics.DisputesHandledTotal.WithLabelValues("verify", "error").Inc()
		return &p2p.VerifyResponse{Found: false, Err: err.Error()}
	}
	metrics.DisputesHandledTotal.WithLabelValues("verify", "ok").Inc()
	return &p2p.VerifyResponse{
		Found:        true,
		TargetIndex:  req.TargetIndex,
		Kind:         req.Kind,
		WitnessBytes: vc.Witness,
	}
}

func (s *Supervisor) handleRevertRequest(req *p2p.RevertRequest) *p2p.RevertResponse {
	ctx, cancel := context.WithTimeout(context.Background(), buildTimeout)
	defer cancel()

	blockHashes := make([]hash.Hash, len(req.BlockHashes))
	for i, h := range req.BlockHashes {
		blockHashes[i] = hash.FromBytes(h[:])
	}

	rc, err := s.coord.BuildRevertContext(ctx, blockHashes)
	if err != nil {
		metrics.DisputesHandledTotal.WithLabelValues("revert", "error").Inc()
		return &p2p.RevertResponse{Found: false, Err: err.Error()}
	}
	metrics.DisputesHandledTotal.WithLabelValues("revert", "ok").Inc()

	reverted := make([][32]byte, len(rc.RevertedBlocks))
	for i, h := range rc.RevertedBlocks {
		copy(reverted[i][:], h.Bytes())
	}
	var firstHash [32]byte
	copy(firstHash[:], rc.FirstRevertedRaw.Hash().Bytes())
	var postRoot [32]byte
	copy(postRoot[:], rc.PostRevertedBlockRoot.Bytes())

	return &p2p.RevertResponse{
		Found:                 true,
		RevertedBlocks:        reverted,
		BlockProofBytes:       rc.BlockProof.Bytes(),
		RevertedProofBytes:    rc.RevertedProof.Bytes(),
		FirstRevertedNumber:   rc.FirstRevertedRaw.Number,
		FirstRevertedHash:     firstHash,
		PostRevertedBlockRoot: postRoot,
	}
}
