package p2p

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"

	"go.uber.org/zap"
)

const (
	maxSyncMsgSize    = 1024 * 1024 // 1MB
	syncStreamTimeout = 30 * time.Second
)

// VerifyHandler builds a VerifyResponse for an incoming VerifyRequest,
// typically by delegating to coordinator.Coordinator.BuildVerifyContext.
type VerifyHandler func(req *VerifyRequest) *VerifyResponse

// RevertHandler builds a RevertResponse for an incoming RevertRequest,
// typically by delegating to coordinator.Coordinator.BuildRevertContext.
type RevertHandler func(req *RevertRequest) *RevertResponse

// Syncer serves build requests from peers over a single request/response
// stream protocol, and issues them to peers on this node's behalf.
type Syncer struct {
	host          host.Host
	logger        *zap.Logger
	verifyHandler VerifyHandler
	revertHandler RevertHandler
}

// NewSyncer creates a Syncer and registers its stream handler on host.
func NewSyncer(h host.Host, verify VerifyHandler, revert RevertHandler, logger *zap.Logger) *Syncer {
	s := &Syncer{
		host:          h,
		logger:        logger,
		verifyHandler: verify,
		revertHandler: revert,
	}

	h.SetStreamHandler(protocol.ID(BuildProtocolID), s.handleStream)

	return s
}

// typeEnvelope is decoded first to discover which concrete request a stream
// carries before fully decoding it.
type typeEnvelope struct {
	Type MessageType `cbor:"1,keyasint"`
}

func (s *Syncer) handleStream(stream network.Stream) {
	defer stream.Close()

	// Deadline prevents a slow/malicious peer from holding the stream open.
	stream.SetDeadline(time.Now().Add(syncStreamTimeout))

	data, err := io.ReadAll(io.LimitReader(stream, maxSyncMsgSize))
	if err != nil {
		s.logger.Debug("sync read error", zap.Error(err))
		return
	}

	var env typeEnvelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		s.logger.Debug("invalid build request envelope", zap.Error(err))
		return
	}

	var resp interface{}
	switch env.Type {
	case MsgTypeVerifyRequest:
		req, err := DecodeVerifyRequest(data)
		if err != nil {
			s.logger.Debug("invalid verify request", zap.Error(err))
			return
		}
		r := s.verifyHandler(req)
		if r == nil {
			r = &VerifyResponse{Type: MsgTypeVerifyResponse}
		}
		r.Type = MsgTypeVerifyResponse
		resp = r
	case MsgTypeRevertRequest:
		req, err := DecodeRevertRequest(data)
		if err != nil {
			s.logger.Debug("invalid revert request", zap.Error(err))
			return
		}
		r := s.revertHandler(req)
		if r == nil {
			r = &RevertResponse{Type: MsgTypeRevertResponse}
		}
		r.Type = MsgTypeRevertResponse
		resp = r
	default:
		s.logger.Debug("unknown build request type", zap.Uint8("type", uint8(env.Type)))
		return
	}

	out, err := Encode(resp)
	if err != nil {
		s.logger.Error("encode build response", zap.Error(err))
		return
	}
	stream.Write(out)
}

// RequestVerify asks peerID to build a VerifyContext for target.
func (s *Syncer) RequestVerify(ctx context.Context, peerID peer.ID, blockHash [32]byte, targetIndex uint32, kind uint8) (*VerifyResponse, error) {
	req := &VerifyRequest{
		Type:        MsgTypeVerifyRequest,
		BlockHash:   blockHash,
		TargetIndex: targetIndex,
		Kind:        kind,
	}
	data, err := s.roundTrip(ctx, peerID, req)
	if err != nil {
		return nil, err
	}
	return DecodeVerifyResponse(data)
}

// RequestRevert asks peerID to build a RevertContext for blockHashes.
func (s *Syncer) RequestRevert(ctx context.Context, peerID peer.ID, blockHashes [][32]byte) (*RevertResponse, error) {
	req := &RevertRequest{
		Type:        MsgTypeRevertRequest,
		BlockHashes: blockHashes,
	}
	data, err := s.roundTrip(ctx, peerID, req)
	if err != nil {
		return nil, err
	}
	return DecodeRevertResponse(data)
}

func (s *Syncer) roundTrip(ctx context.Context, peerID peer.ID, req interface{}) ([]byte, error) {
	stream, err := s.host.NewStream(ctx, peerID, protocol.ID(BuildProtocolID))
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	defer stream.Close()

	data, err := Encode(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	if _, err := stream.Write(data); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}
	stream.CloseWrite()

	resp, err := io.ReadAll(io.LimitReader(stream, maxSyncMsgSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return resp, nil
}
