package node

import (
	"context"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/nervos-rollup/challenge-engine/internal/coordinator"
	"github.com/nervos-rollup/challenge-engine/internal/executor/fixture"
	"github.com/nervos-rollup/challenge-engine/internal/hash"
	"github.com/nervos-rollup/challenge-engine/internal/p2p"
	"github.com/nervos-rollup/challenge-engine/internal/types"
	"github.com/nervos-rollup/challenge-engine/internal/witness"
	"github.com/nervos-rollup/challenge-engine/testutil"
)

type fakeScripts struct{}

func (fakeScripts) GetScript(hash.Hash) (types.Script, bool, error) {
	return types.Script{}, true, nil
}

func newTestP2PNode(t *testing.T, ctx context.Context) *p2p.Node {
	t.Helper()
	n, err := p2p.NewNode(ctx, 0, t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatalf("p2p.NewNode: %v", err)
	}
	t.Cleanup(func() { _ = n.Close() })
	return n
}

func TestSupervisorAnnounceDispute(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db := testutil.OpenDB(t)
	block := testutil.PutChain(t, db, 1)[0]

	coord := coordinator.New(db, fixture.New(), fakeScripts{}, zap.NewNop())
	p2pNode := newTestP2PNode(t, ctx)
	sup := NewSupervisor(p2pNode, coord, zap.NewNop())

	vc, err := sup.AnnounceDispute(ctx, witness.ChallengeTarget{
		BlockHash:   block.Hash(),
		TargetIndex: 0,
		Kind:        witness.TargetTxExecution,
	})
	if err != nil {
		t.Fatalf("AnnounceDispute: %v", err)
	}
	if len(vc.Witness) == 0 {
		t.Fatal("expected a non-empty witness")
	}
}

func TestSupervisorHandlesPeerVerifyRequest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db := testutil.OpenDB(t)
	block := testutil.PutChain(t, db, 1)[0]

	coord := coordinator.New(db, fixture.New(), fakeScripts{}, zap.NewNop())
	p2pNode := newTestP2PNode(t, ctx)
	sup := NewSupervisor(p2pNode, coord, zap.NewNop())

	var blockHash [32]byte
	copy(blockHash[:], block.Hash().Bytes())

	resp := sup.handleVerifyRequest(&p2p.VerifyRequest{
		BlockHash:   blockHash,
		TargetIndex: 0,
		Kind:        uint8(witness.TargetTxExecution),
	})
	if !resp.Found {
		t.Fatalf("expected Found=true, got error %q", resp.Err)
	}
	if len(resp.WitnessBytes) == 0 {
		t.Fatal("expected non-empty witness bytes")
	}
}

func TestSupervisorHandlesPeerRevertRequest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db := testutil.OpenDB(t)
	blocks := testutil.PutChain(t, db, 2)

	coord := coordinator.New(db, fixture.New(), fakeScripts{}, zap.NewNop())
	p2pNode := newTestP2PNode(t, ctx)
	sup := NewSupervisor(p2pNode, coord, zap.NewNop())

	req := &p2p.RevertRequest{}
	for _, b := range blocks {
		var h [32]byte
		copy(h[:], b.Hash().Bytes())
		req.BlockHashes = append(req.BlockHashes, h)
	}

	resp := sup.handleRevertRequest(req)
	if !resp.Found {
		t.Fatalf("expected Found=true, got error %q", resp.Err)
	}
	if len(resp.RevertedBlocks) != 2 {
		t.Fatalf("expected 2 reverted blocks, got %d", len(resp.RevertedBlocks))
	}
	if resp.FirstRevertedNumber != 1 {
		t.Fatalf("first reverted number = %d, want 1", resp.FirstRevertedNumber)
	}
}

func TestSupervisorRunCorroboratesGossipedDispute(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Both supervisors share one DB, as two processes watching the same
	// chain would: the point of this test is the gossip→Run wiring, not
	// independent chain state.
	db := testutil.OpenDB(t)
	block := testutil.PutChain(t, db, 1)[0]
	coord := coordinator.New(db, fixture.New(), fakeScripts{}, zap.NewNop())

	nodeA := newTestP2PNode(t, ctx)
	nodeB := newTestP2PNode(t, ctx)

	core, observed := observer.New(zapcore.DebugLevel)
	supA := NewSupervisor(nodeA, coord, zap.NewNop())
	supB := NewSupervisor(nodeB, coord, zap.New(core))

	addrInfo := peer.AddrInfo{ID: nodeA.Host.ID(), Addrs: nodeA.Host.Addrs()}
	if err := nodeB.Host.Connect(ctx, addrInfo); err != nil {
		t.Fatalf("connect peers: %v", err)
	}

	runDone := make(chan struct{})
	go func() {
		supB.Run(ctx)
		close(runDone)
	}()

	// Give GossipSub's mesh a moment to form before publishing.
	time.Sleep(500 * time.Millisecond)

	if _, err := supA.AnnounceDispute(ctx, witness.ChallengeTarget{
		BlockHash:   block.Hash(),
		TargetIndex: 0,
		Kind:        witness.TargetTxExecution,
	}); err != nil {
		t.Fatalf("AnnounceDispute: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if observed.FilterMessage("corroborated peer dispute announcement").Len() > 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if observed.FilterMessage("corroborated peer dispute announcement").Len() == 0 {
		t.Fatal("expected node B to have corroborated the gossiped dispute")
	}

	cancel()
	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Supervisor.Run did not return after cancellation")
	}
}
