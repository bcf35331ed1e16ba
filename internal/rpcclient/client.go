// Package rpcclient provides a JSON-RPC 2.0 client for ledger nodes.
package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Klingon-tech/klingnet-ledger/internal/rpc"
	"github.com/Klingon-tech/klingnet-ledger/pkg/block"
)

// Client is a JSON-RPC 2.0 HTTP client.
type Client struct {
	endpoint string
	http     *http.Client
}

// New creates a new RPC client targeting the given endpoint URL.
func New(endpoint string) *Client {
	return NewWithTimeout(endpoint, 10*time.Second)
}

// NewWithTimeout creates a new RPC client with a custom HTTP timeout.
func NewWithTimeout(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		http: &http.Client{
			Timeout: timeout,
		},
	}
}

// request is a JSON-RPC 2.0 request.
type request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      int         `json:"id"`
}

// response is a JSON-RPC 2.0 response.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      int             `json:"id"`
}

// rpcError is a JSON-RPC 2.0 error.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// RPCError is returned when the server responds with an error.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Call invokes a JSON-RPC method and unmarshals the result into the provided pointer.
// If result is nil, the response result is discarded.
func (c *Client) Call(method string, params, result interface{}) error {
	return c.CallContext(context.Background(), method, params, result)
}

// CallContext is Call with cancellation.
func (c *Client) CallContext(ctx context.Context, method string, params, result interface{}) error {
	req := request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var rpcResp response
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if rpcResp.Error != nil {
		return &RPCError{
			Code:    rpcResp.Error.Code,
			Message: rpcResp.Error.Message,
		}
	}

	if result != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}

	return nil
}

// ── Typed helpers ───────────────────────────────────────────────────

// Blocks returns the whole chain of the node.
func (c *Client) Blocks(ctx context.Context) (*rpc.BlocksResult, error) {
	var res rpc.BlocksResult
	if err := c.CallContext(ctx, "chain_getBlocks", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// BlockRange returns up to limit blocks starting at from. A zero limit means
// to the tip.
func (c *Client) BlockRange(ctx context.Context, from, limit uint64) (*rpc.BlocksResult, error) {
	var res rpc.BlocksResult
	if err := c.CallContext(ctx, "chain_getBlocks", rpc.RangeParam{From: from, Limit: limit}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Block returns the block with the given id.
func (c *Client) Block(ctx context.Context, id uint64) (*block.Block, error) {
	var blk block.Block
	if err := c.CallContext(ctx, "chain_getBlock", rpc.BlockIDParam{ID: id}, &blk); err != nil {
		return nil, err
	}
	return &blk, nil
}

// Tip returns the last block of the node's chain.
func (c *Client) Tip(ctx context.Context) (*block.Block, error) {
	var blk block.Block
	if err := c.CallContext(ctx, "chain_getTip", nil, &blk); err != nil {
		return nil, err
	}
	return &blk, nil
}

// CreateBlock asks the node to mine a block carrying data. It returns once
// the block is appended, which can take as long as the proof of work.
func (c *Client) CreateBlock(ctx context.Context, data string) (*block.Block, error) {
	var blk block.Block
	if err := c.CallContext(ctx, "chain_createBlock", rpc.CreateBlockParam{Data: data}, &blk); err != nil {
		return nil, err
	}
	return &blk, nil
}

// Peers returns the peer IDs the node currently knows.
func (c *Client) Peers(ctx context.Context) (*rpc.PeersResult, error) {
	var res rpc.PeersResult
	if err := c.CallContext(ctx, "net_getPeers", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Info returns the node summary.
func (c *Client) Info(ctx context.Context) (*rpc.NodeInfo, error) {
	var info rpc.NodeInfo
	if err := c.CallContext(ctx, "node_getInfo", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}
