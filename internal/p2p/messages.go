package p2p

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-ledger/pkg/block"
)

// ErrMalformedMessage is returned by the Decode functions for payloads that
// do not parse or are structurally incomplete.
var ErrMalformedMessage = errors.New("malformed message")

// ChainRequest asks peers for their full chain. An empty Target is a
// broadcast to every peer; otherwise only the named peer answers.
type ChainRequest struct {
	FromPeerID string `json:"from_peer_id"`
	Target     string `json:"target,omitempty"`
}

// ChainResponse carries a full chain to the peer named in Receiver. It is
// published on a shared topic, so every other peer ignores it.
type ChainResponse struct {
	Blocks   []block.Block `json:"blocks"`
	Receiver string        `json:"receiver"`
}

// EncodeChainRequest serializes a ChainRequest.
func EncodeChainRequest(req ChainRequest) ([]byte, error) {
	return json.Marshal(req)
}

// DecodeChainRequest parses a ChainRequest.
func DecodeChainRequest(data []byte) (ChainRequest, error) {
	var req ChainRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return ChainRequest{}, fmt.Errorf("%w: chain request: %v", ErrMalformedMessage, err)
	}
	if req.FromPeerID == "" {
		return ChainRequest{}, fmt.Errorf("%w: chain request without from_peer_id", ErrMalformedMessage)
	}
	return req, nil
}

// EncodeChainResponse serializes a ChainResponse.
func EncodeChainResponse(resp ChainResponse) ([]byte, error) {
	return json.Marshal(resp)
}

// DecodeChainResponse parses a ChainResponse and checks every block is
// structurally complete.
func DecodeChainResponse(data []byte) (ChainResponse, error) {
	var resp ChainResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return ChainResponse{}, fmt.Errorf("%w: chain response: %v", ErrMalformedMessage, err)
	}
	if resp.Receiver == "" {
		return ChainResponse{}, fmt.Errorf("%w: chain response without receiver", ErrMalformedMessage)
	}
	if len(resp.Blocks) == 0 {
		return ChainResponse{}, fmt.Errorf("%w: chain response without blocks", ErrMalformedMessage)
	}
	for i, blk := range resp.Blocks {
		if err := blk.Validate(); err != nil {
			return ChainResponse{}, fmt.Errorf("%w: block %d: %v", ErrMalformedMessage, i, err)
		}
	}
	return resp, nil
}

// EncodeBlock serializes a block for the new-block topic.
func EncodeBlock(blk block.Block) ([]byte, error) {
	return json.Marshal(blk)
}

// DecodeBlock parses a block from the new-block topic.
func DecodeBlock(data []byte) (block.Block, error) {
	var blk block.Block
	if err := json.Unmarshal(data, &blk); err != nil {
		return block.Block{}, fmt.Errorf("%w: block: %v", ErrMalformedMessage, err)
	}
	if err := blk.Validate(); err != nil {
		return block.Block{}, fmt.Errorf("%w: block: %v", ErrMalformedMessage, err)
	}
	return blk, nil
}
