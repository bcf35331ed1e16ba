package rpc

import (
	"context"

	"github.com/Klingon-tech/klingnet-ledger/pkg/block"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeNotFound       = -32000
	CodeUnavailable    = -32001
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      interface{} `json:"id"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// Backend is the node surface the RPC server exposes.
type Backend interface {
	// Blocks returns a snapshot of the local chain.
	Blocks() []block.Block
	// Tip returns the last block of the local chain.
	Tip() block.Block
	// CreateBlock mines a block carrying data on the current tip and waits
	// until it is appended.
	CreateBlock(ctx context.Context, data string) (block.Block, error)
	// Peers returns the IDs of known peers.
	Peers(ctx context.Context) ([]string, error)
	// Info describes the running node.
	Info() NodeInfo
}

// ── Param types ─────────────────────────────────────────────────────────

// BlockIDParam is used by chain_getBlock.
type BlockIDParam struct {
	ID uint64 `json:"id"`
}

// RangeParam is used by chain_getBlocks. A zero Limit returns every block
// from From onwards.
type RangeParam struct {
	From  uint64 `json:"from"`
	Limit uint64 `json:"limit"`
}

// CreateBlockParam is used by chain_createBlock.
type CreateBlockParam struct {
	Data string `json:"data"`
}

// ── Result types ────────────────────────────────────────────────────────

// BlocksResult is returned by chain_getBlocks.
type BlocksResult struct {
	Length int           `json:"length"`
	Blocks []block.Block `json:"blocks"`
}

// PeersResult is returned by net_getPeers.
type PeersResult struct {
	Count int      `json:"count"`
	Peers []string `json:"peers"`
}

// NodeInfo is returned by node_getInfo.
type NodeInfo struct {
	Version          string   `json:"version"`
	PeerID           string   `json:"peer_id"`
	KeyType          string   `json:"key_type"`
	Addrs            []string `json:"addrs"`
	GenesisHash      string   `json:"genesis_hash"`
	DifficultyPrefix string   `json:"difficulty_prefix"`
	ChainLength      int      `json:"chain_length"`
	TipHash          string   `json:"tip_hash"`
	PeerCount        int      `json:"peer_count"`
}
