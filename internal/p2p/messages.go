package p2p

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

const (
	// maxP2PWitnessSize is the maximum witness blob accepted from a peer.
	maxP2PWitnessSize = 512 * 1024
	// maxP2PRevertRange is the maximum number of blocks a single revert
	// request/response may carry.
	maxP2PRevertRange = 256
)

const (
	// ProtocolVersion is the current P2P protocol version.
	ProtocolVersion = "1.0.0"

	// DisputeTopicName is the GossipSub topic disputes are announced on.
	DisputeTopicName = "/challenge-engine/disputes/" + ProtocolVersion

	// BuildProtocolID is the protocol ID for the request/response build
	// service: ask a peer that already has the relevant blocks to build a
	// VerifyContext or RevertContext on your behalf.
	BuildProtocolID = "/challenge-engine/build/2.0.0"
)

// MessageType identifies the type of P2P message.
type MessageType uint8

const (
	MsgTypeDisputeAnnounce MessageType = 1
	MsgTypeVerifyRequest   MessageType = 2
	MsgTypeVerifyResponse  MessageType = 3
	MsgTypeRevertRequest   MessageType = 4
	MsgTypeRevertResponse  MessageType = 5
)

// DisputeAnnounceMsg is gossiped over DisputeTopicName to tell the network
// "this block looks wrong, someone should build and submit a challenge".
// It carries no proof material itself — it is a recruitment signal, not the
// witness; any peer that still has the disputed block can answer with a
// VerifyRequest/VerifyResponse exchange over BuildProtocolID.
type DisputeAnnounceMsg struct {
	Type        MessageType `cbor:"1,keyasint"`
	BlockHash   [32]byte    `cbor:"2,keyasint"`
	TargetIndex uint32      `cbor:"3,keyasint"`
	Kind        uint8       `cbor:"4,keyasint"` // witness.TargetKind
}

// VerifyRequest asks a peer to run Coordinator.BuildVerifyContext for the
// given target and return the resulting witness.
type VerifyRequest struct {
	Type        MessageType `cbor:"1,keyasint"`
	BlockHash   [32]byte    `cbor:"2,keyasint"`
	TargetIndex uint32      `cbor:"3,keyasint"`
	Kind        uint8       `cbor:"4,keyasint"`
}

// VerifyResponse carries the witness bytes built for a VerifyRequest, or an
// error if the peer could not build one (block unknown, build failed).
type VerifyResponse struct {
	Type         MessageType `cbor:"1,keyasint"`
	Found        bool        `cbor:"2,keyasint"`
	TargetIndex  uint32      `cbor:"3,keyasint"`
	Kind         uint8       `cbor:"4,keyasint"`
	WitnessBytes []byte      `cbor:"5,keyasint"`
	Err          string      `cbor:"6,keyasint"`
}

// RevertRequest asks a peer to run Coordinator.BuildRevertContext over an
// ordered, contiguous block-hash range.
type RevertRequest struct {
	Type        MessageType `cbor:"1,keyasint"`
	BlockHashes [][32]byte  `cbor:"2,keyasint"`
}

// RevertResponse carries the compiled proof material built for a
// RevertRequest. FirstRevertedNumber/FirstRevertedHash identify the raw
// block whose PrevAccount becomes the new chain tip state; the requester is
// expected to already have (or separately fetch) that block's full header.
type RevertResponse struct {
	Type                  MessageType `cbor:"1,keyasint"`
	Found                 bool        `cbor:"2,keyasint"`
	RevertedBlocks        [][32]byte  `cbor:"3,keyasint"`
	BlockProofBytes       []byte      `cbor:"4,keyasint"`
	RevertedProofBytes    []byte      `cbor:"5,keyasint"`
	FirstRevertedNumber   uint64      `cbor:"6,keyasint"`
	FirstRevertedHash     [32]byte    `cbor:"7,keyasint"`
	Err                   string      `cbor:"8,keyasint"`
	PostRevertedBlockRoot [32]byte    `cbor:"9,keyasint"`
}

// Encode serializes a message to CBOR.
func Encode(msg interface{}) ([]byte, error) {
	return cbor.Marshal(msg)
}

// DecodeDisputeAnnounce decodes a CBOR-encoded DisputeAnnounceMsg.
func DecodeDisputeAnnounce(data []byte) (*DisputeAnnounceMsg, error) {
	var msg DisputeAnnounceMsg
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// DecodeVerifyRequest decodes a CBOR-encoded VerifyRequest.
func DecodeVerifyRequest(data []byte) (*VerifyRequest, error) {
	var msg VerifyRequest
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// DecodeVerifyResponse decodes a CBOR-encoded VerifyResponse.
func DecodeVerifyResponse(data []byte) (*VerifyResponse, error) {
	var msg VerifyResponse
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if len(msg.WitnessBytes) > maxP2PWitnessSize {
		return nil, fmt.Errorf("witness too large: %d bytes", len(msg.WitnessBytes))
	}
	return &msg, nil
}

// DecodeRevertRequest decodes a CBOR-encoded RevertRequest.
func DecodeRevertRequest(data []byte) (*RevertRequest, error) {
	var msg RevertRequest
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if len(msg.BlockHashes) > maxP2PRevertRange {
		return nil, fmt.Errorf("revert range too large: %d blocks", len(msg.BlockHashes))
	}
	return &msg, nil
}

// DecodeRevertResponse decodes a CBOR-encoded RevertResponse.
func DecodeRevertResponse(data []byte) (*RevertResponse, error) {
	var msg RevertResponse
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if len(msg.RevertedBlocks) > maxP2PRevertRange {
		return nil, fmt.Errorf("revert range too large: %d blocks", len(msg.RevertedBlocks))
	}
	return &msg, nil
}
