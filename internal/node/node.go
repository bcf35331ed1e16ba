// Package node provides a reusable ledger node that can be embedded in any
// binary (daemon, tests).
package node

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Klingon-tech/klingnet-ledger/config"
	"github.com/Klingon-tech/klingnet-ledger/internal/chain"
	"github.com/Klingon-tech/klingnet-ledger/internal/consensus"
	klog "github.com/Klingon-tech/klingnet-ledger/internal/log"
	"github.com/Klingon-tech/klingnet-ledger/internal/miner"
	"github.com/Klingon-tech/klingnet-ledger/internal/p2p"
	"github.com/Klingon-tech/klingnet-ledger/internal/rpc"
	"github.com/Klingon-tech/klingnet-ledger/internal/storage"
	"github.com/Klingon-tech/klingnet-ledger/pkg/block"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/rs/zerolog"
)

// Node is a fully-initialized ledger node.
type Node struct {
	cfg     *config.Config
	genesis *config.Genesis
	logger  zerolog.Logger

	// Core
	db       storage.DB
	pow      *consensus.PoW
	ch       *chain.Chain
	identity *p2p.Identity
	coord    *Coordinator

	// Networking
	p2pNode *p2p.Node

	// RPC
	rpcServer *rpc.Server

	// Lifecycle
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates and initializes a new Node. It performs all setup steps
// (logger, genesis, storage, consensus, chain, identity, coordinator, P2P,
// RPC) but does NOT start goroutines or listeners. Call Start() for that.
func New(cfg *config.Config) (*Node, error) {
	cfg.DataDir = expandHome(cfg.DataDir)
	cfg.GenesisFile = expandHome(cfg.GenesisFile)

	// ── 1. Init logger ──────────────────────────────────────────────
	logFile := expandHome(cfg.Log.File)
	if logFile == "" {
		logFile = filepath.Join(cfg.LogsDir(), "ledger.log")
	}
	if err := klog.InitRotating(cfg.Log.Level, cfg.Log.JSON, logFile, cfg.Log.MaxSizeKB, cfg.Log.MaxRolls); err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	logger := klog.WithComponent("node")

	// ── 2. Genesis ──────────────────────────────────────────────────
	genesis, err := cfg.Genesis()
	if err != nil {
		return nil, fmt.Errorf("load genesis: %w", err)
	}

	logger.Info().
		Str("chain", genesis.ChainName).
		Str("genesis", genesis.Block.ShortHash()).
		Str("difficulty", genesis.DifficultyPrefix).
		Msg("Starting Klingnet Ledger node")

	// ── 3. Open storage ─────────────────────────────────────────────
	var db storage.DB
	if cfg.Storage.InMemory {
		db = storage.NewMemory()
		logger.Info().Msg("In-memory storage, chain will not survive restart")
	} else {
		bdb, err := storage.NewBadger(cfg.DBDir())
		if err != nil {
			return nil, fmt.Errorf("open database at %s: %w", cfg.DBDir(), err)
		}
		db = bdb
		logger.Info().Str("path", cfg.DBDir()).Msg("Database opened")
	}

	// ── 4. Consensus ────────────────────────────────────────────────
	pow, err := consensus.NewPoW(genesis.DifficultyPrefix)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create consensus engine: %w", err)
	}
	pow.Threads = cfg.Mining.Threads
	validator := consensus.NewValidator(pow, genesis.Block)

	// ── 5. Chain ────────────────────────────────────────────────────
	ch, err := chain.New(validator, storage.NewPrefixDB(db, []byte(genesis.Namespace())))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create chain: %w", err)
	}
	logger.Info().
		Int("length", ch.Len()).
		Str("tip", ch.Tip().ShortHash()).
		Msg("Chain ready")

	// ── 6. Identity ─────────────────────────────────────────────────
	identity, err := p2p.GenerateIdentity(cfg.Identity.KeyType)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("generate identity: %w", err)
	}
	logger.Info().
		Str("peer_id", identity.ID.String()).
		Str("key_type", identity.KeyType).
		Msg("Peer identity generated")

	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		cfg:      cfg,
		genesis:  genesis,
		logger:   logger,
		db:       db,
		pow:      pow,
		ch:       ch,
		identity: identity,
		ctx:      ctx,
		cancel:   cancel,
	}

	// ── 7. P2P ──────────────────────────────────────────────────────
	var network Network = offlineNetwork{}
	if cfg.P2P.Enabled {
		n.p2pNode = p2p.New(p2p.Config{
			ListenAddr:  cfg.P2P.ListenAddr,
			Port:        cfg.P2P.Port,
			Seeds:       cfg.P2P.Seeds,
			MaxPeers:    cfg.P2P.MaxPeers,
			NoDiscover:  cfg.P2P.NoDiscover,
			DHT:         cfg.P2P.DHT,
			DHTServer:   cfg.P2P.DHTServer,
			Rendezvous:  cfg.P2P.Rendezvous,
			DB:          db,
			Identity:    identity,
			GenesisHash: genesis.Block.Hash,
		})
		network = n.p2pNode
	} else {
		logger.Warn().Msg("P2P disabled by config; node will run offline")
	}

	// ── 8. Coordinator ──────────────────────────────────────────────
	n.coord = NewCoordinator(CoordinatorConfig{
		Self:       identity.ID,
		Chain:      ch,
		ForkChoice: consensus.NewForkChoice(validator),
		Producer:   miner.New(pow),
		Network:    network,
	})
	if n.p2pNode != nil {
		n.wireP2P()
	}

	// ── 9. RPC server ───────────────────────────────────────────────
	if cfg.RPC.Enabled {
		rpcAddr := fmt.Sprintf("%s:%d", cfg.RPC.Addr, cfg.RPC.Port)
		n.rpcServer = rpc.New(rpcAddr, n, cfg.RPC)
	} else {
		logger.Warn().Msg("RPC disabled by config")
	}

	return n, nil
}

// wireP2P routes decoded gossip and peer lifecycle notifications into the
// coordinator as events. Undecodable payloads are dropped here.
func (n *Node) wireP2P() {
	pn := n.p2pNode

	pn.SetPeerHandlers(
		func(id peer.ID) { n.submit(PeerDiscovered{Peer: id}) },
		func(id peer.ID) { n.submit(PeerLost{Peer: id}) },
	)
	pn.SetLengthFn(func() uint64 { return uint64(n.ch.Len()) })

	pn.SetChainRequestHandler(func(from peer.ID, data []byte) {
		req, err := p2p.DecodeChainRequest(data)
		if err != nil {
			n.logger.Debug().Err(err).Str("peer", from.String()).Msg("Dropping chain request")
			return
		}
		n.submit(ChainRequestReceived{From: from, Request: req})
	})
	pn.SetChainResponseHandler(func(from peer.ID, data []byte) {
		resp, err := p2p.DecodeChainResponse(data)
		if err != nil {
			n.logger.Debug().Err(err).Str("peer", from.String()).Msg("Dropping chain response")
			return
		}
		n.submit(ChainResponseReceived{From: from, Response: resp})
	})
	pn.SetBlockHandler(func(from peer.ID, data []byte) {
		blk, err := p2p.DecodeBlock(data)
		if err != nil {
			n.logger.Debug().Err(err).Str("peer", from.String()).Msg("Dropping block")
			return
		}
		n.submit(BlockReceived{From: from, Block: blk})
	})
}

func (n *Node) submit(ev Event) {
	if err := n.coord.Submit(ev); err != nil {
		n.logger.Debug().Err(err).Type("event", ev).Msg("Event dropped")
	}
}

// Start launches the coordinator loop, the P2P host, the RPC server and the
// delayed initial chain request.
func (n *Node) Start() error {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.coord.Run(n.ctx)
	}()

	if n.p2pNode != nil {
		if err := n.p2pNode.Start(); err != nil {
			return fmt.Errorf("start P2P: %w", err)
		}
		n.logger.Info().
			Str("id", n.p2pNode.ID().String()).
			Int("port", n.cfg.P2P.Port).
			Bool("discovery", !n.cfg.P2P.NoDiscover).
			Msg("P2P node started")
	}

	if n.rpcServer != nil {
		if err := n.rpcServer.Start(); err != nil {
			return fmt.Errorf("start RPC: %w", err)
		}
		n.logger.Info().Str("addr", n.rpcServer.Addr()).Msg("RPC server started")
	}

	n.wg.Add(1)
	go n.runInit(n.cfg.Sync.InitDelay)

	n.logger.Info().
		Int("length", n.ch.Len()).
		Str("tip", n.ch.Tip().ShortHash()).
		Msg("Node started successfully")
	return nil
}

// runInit waits for discovery to settle, then asks peers for their chains.
func (n *Node) runInit(delay time.Duration) {
	defer n.wg.Done()
	select {
	case <-n.ctx.Done():
		return
	case <-time.After(delay):
	}
	n.submit(Init{})
}

// Stop performs graceful shutdown in reverse order. It is safe to call more
// than once and after a failed Start.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		if n.rpcServer != nil {
			n.rpcServer.Stop()
		}
		if n.p2pNode != nil {
			n.p2pNode.Stop()
		}

		n.cancel()
		n.wg.Wait()

		if n.db != nil {
			n.db.Close()
		}

		n.logger.Info().Msg("Goodbye!")
		klog.Close()
	})
}

// RPCAddr returns the address the RPC server is listening on.
func (n *Node) RPCAddr() string {
	if n.rpcServer == nil {
		return ""
	}
	return n.rpcServer.Addr()
}

// ID returns the node's peer ID for this run.
func (n *Node) ID() peer.ID {
	return n.identity.ID
}

// Len returns the current chain length, genesis included.
func (n *Node) Len() int {
	return n.ch.Len()
}

// Execute parses and runs a console command line.
func (n *Node) Execute(ctx context.Context, line string) (CommandResult, error) {
	cmd, err := ParseCommand(line)
	if err != nil {
		return CommandResult{}, err
	}
	res, err := n.coord.Execute(ctx, cmd)
	if err != nil {
		return res, err
	}
	return res, res.Err
}

// ── rpc.Backend ─────────────────────────────────────────────────────

// Blocks returns a snapshot of the local chain.
func (n *Node) Blocks() []block.Block {
	return n.ch.Blocks()
}

// Tip returns the last block of the local chain.
func (n *Node) Tip() block.Block {
	return n.ch.Tip()
}

// CreateBlock queues data for mining and waits until the block is appended
// and broadcast.
func (n *Node) CreateBlock(ctx context.Context, data string) (block.Block, error) {
	data = strings.TrimSpace(data)
	if data == "" {
		return block.Block{}, ErrMissingData
	}
	res, err := n.coord.Execute(ctx, Command{Kind: CmdCreateBlock, Data: data})
	if err != nil {
		return block.Block{}, err
	}
	if res.Err != nil {
		return block.Block{}, res.Err
	}
	if res.Block == nil {
		return block.Block{}, errors.New("mining finished without a block")
	}
	return *res.Block, nil
}

// Peers returns the peers the coordinator currently knows.
func (n *Node) Peers(ctx context.Context) ([]string, error) {
	res, err := n.coord.Execute(ctx, Command{Kind: CmdListPeers})
	if err != nil {
		return nil, err
	}
	return res.Peers, res.Err
}

// Info summarizes the node for node_getInfo.
func (n *Node) Info() rpc.NodeInfo {
	tip := n.ch.Tip()
	info := rpc.NodeInfo{
		Version:          config.Version,
		PeerID:           n.identity.ID.String(),
		KeyType:          n.identity.KeyType,
		GenesisHash:      n.genesis.Block.Hash,
		DifficultyPrefix: n.genesis.DifficultyPrefix,
		ChainLength:      n.ch.Len(),
		TipHash:          tip.Hash,
	}
	if n.p2pNode != nil {
		info.Addrs = n.p2pNode.Addrs()
		info.PeerCount = n.p2pNode.PeerCount()
	}
	return info
}
