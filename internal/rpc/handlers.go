package rpc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Klingon-tech/klingnet-ledger/pkg/block"
)

// maxBlockData bounds the payload accepted by chain_createBlock.
const maxBlockData = 64 << 10

// ── Chain ───────────────────────────────────────────────────────────────

func (s *Server) handleChainGetBlocks(req *Request) (interface{}, *Error) {
	var p RangeParam
	if req.Params != nil {
		if err := parseParams(req, &p); err != nil {
			return nil, err
		}
	}

	blocks := s.backend.Blocks()
	total := len(blocks)
	if p.From >= uint64(total) {
		return &BlocksResult{Length: total, Blocks: []block.Block{}}, nil
	}
	blocks = blocks[p.From:]
	if p.Limit > 0 && p.Limit < uint64(len(blocks)) {
		blocks = blocks[:p.Limit]
	}
	return &BlocksResult{Length: total, Blocks: blocks}, nil
}

func (s *Server) handleChainGetBlock(req *Request) (interface{}, *Error) {
	var p BlockIDParam
	if err := parseParams(req, &p); err != nil {
		return nil, err
	}
	blocks := s.backend.Blocks()
	if p.ID >= uint64(len(blocks)) {
		return nil, &Error{Code: CodeNotFound, Message: fmt.Sprintf("block %d not found", p.ID)}
	}
	blk := blocks[p.ID]
	return &blk, nil
}

func (s *Server) handleChainGetTip(_ *Request) (interface{}, *Error) {
	tip := s.backend.Tip()
	return &tip, nil
}

func (s *Server) handleChainCreateBlock(ctx context.Context, req *Request) (interface{}, *Error) {
	var p CreateBlockParam
	if err := parseParams(req, &p); err != nil {
		return nil, err
	}
	p.Data = strings.TrimSpace(p.Data)
	if p.Data == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: "data is required"}
	}
	if len(p.Data) > maxBlockData {
		return nil, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("data exceeds %d bytes", maxBlockData)}
	}

	blk, err := s.backend.CreateBlock(ctx, p.Data)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, &Error{Code: CodeUnavailable, Message: "block creation cancelled"}
		}
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	s.logger.Info().Uint64("height", blk.ID).Str("hash", blk.ShortHash()).Msg("Block created via RPC")
	return &blk, nil
}

// ── Network ─────────────────────────────────────────────────────────────

func (s *Server) handleNetGetPeers(ctx context.Context, _ *Request) (interface{}, *Error) {
	peers, err := s.backend.Peers(ctx)
	if err != nil {
		return nil, &Error{Code: CodeUnavailable, Message: err.Error()}
	}
	if peers == nil {
		peers = []string{}
	}
	return &PeersResult{Count: len(peers), Peers: peers}, nil
}

func (s *Server) handleNodeGetInfo(_ *Request) (interface{}, *Error) {
	info := s.backend.Info()
	return &info, nil
}
