package node

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Klingon-tech/klingnet-ledger/internal/chain"
	"github.com/Klingon-tech/klingnet-ledger/internal/consensus"
	klog "github.com/Klingon-tech/klingnet-ledger/internal/log"
	"github.com/Klingon-tech/klingnet-ledger/internal/p2p"
	"github.com/Klingon-tech/klingnet-ledger/pkg/block"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/rs/zerolog"
)

// eventBuffer is the capacity of the coordinator's event channel.
const eventBuffer = 256

// ErrStopped is returned when an event is submitted to a coordinator that is
// no longer running.
var ErrStopped = errors.New("coordinator stopped")

// Network is the outbound side of the gossip layer.
type Network interface {
	PublishChainRequest(req p2p.ChainRequest) error
	PublishChainResponse(resp p2p.ChainResponse) error
	PublishBlock(blk block.Block) error
}

// BlockProducer mines a successor of a tip snapshot.
type BlockProducer interface {
	ProduceBlockCtx(ctx context.Context, tip block.Block, data string) (block.Block, error)
}

// CoordinatorConfig holds the collaborators of a Coordinator.
type CoordinatorConfig struct {
	Self       peer.ID
	Chain      *chain.Chain
	ForkChoice *consensus.ForkChoice
	Producer   BlockProducer
	Network    Network
}

type miningJob struct {
	data  string
	reply chan<- CommandResult
}

// Coordinator is the node's event loop. It owns every mutation of the local
// chain: inputs from the network, the console, RPC and the mining worker
// arrive as events and are handled one at a time.
type Coordinator struct {
	self       peer.ID
	chain      *chain.Chain
	forkChoice *consensus.ForkChoice
	producer   BlockProducer
	net        Network
	logger     zerolog.Logger

	events chan Event
	done   chan struct{}

	// Loop-owned state.
	peers    map[peer.ID]time.Time
	initDone bool

	queue        []miningJob
	active       *miningJob
	cancelActive context.CancelFunc
	seq          uint64
	wg           sync.WaitGroup
}

// NewCoordinator creates a coordinator. Call Run to start processing events.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	return &Coordinator{
		self:       cfg.Self,
		chain:      cfg.Chain,
		forkChoice: cfg.ForkChoice,
		producer:   cfg.Producer,
		net:        cfg.Network,
		logger:     klog.WithComponent("sync"),
		events:     make(chan Event, eventBuffer),
		done:       make(chan struct{}),
		peers:      make(map[peer.ID]time.Time),
	}
}

// Run processes events until ctx is cancelled. In-flight mining is cancelled
// and waited for before Run returns.
func (c *Coordinator) Run(ctx context.Context) {
	defer func() {
		if c.cancelActive != nil {
			c.cancelActive()
		}
		close(c.done)
		c.wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.events:
			c.dispatch(ctx, ev)
		}
	}
}

// Submit queues an event for the loop. It blocks while the queue is full and
// fails once the coordinator has stopped.
func (c *Coordinator) Submit(ev Event) error {
	select {
	case <-c.done:
		return ErrStopped
	default:
	}
	select {
	case c.events <- ev:
		return nil
	case <-c.done:
		return ErrStopped
	}
}

// Execute runs a local command through the loop and waits for its result.
func (c *Coordinator) Execute(ctx context.Context, cmd Command) (CommandResult, error) {
	reply := make(chan CommandResult, 1)
	if err := c.Submit(LocalInput{Command: cmd, Reply: reply}); err != nil {
		return CommandResult{}, err
	}
	select {
	case res := <-reply:
		return res, nil
	case <-ctx.Done():
		return CommandResult{}, ctx.Err()
	case <-c.done:
		return CommandResult{}, ErrStopped
	}
}

func (c *Coordinator) dispatch(ctx context.Context, ev Event) {
	switch ev := ev.(type) {
	case PeerDiscovered:
		c.handlePeerDiscovered(ev.Peer)
	case PeerLost:
		c.handlePeerLost(ev.Peer)
	case Init:
		c.handleInit()
	case LocalInput:
		c.handleLocalInput(ctx, ev)
	case ChainRequestReceived:
		c.handleChainRequest(ev.From, ev.Request)
	case ChainResponseReceived:
		c.handleChainResponse(ctx, ev.From, ev.Response)
	case BlockReceived:
		c.handleBlock(ctx, ev.From, ev.Block)
	case blockMined:
		c.handleBlockMined(ctx, ev)
	default:
		c.logger.Warn().Type("event", ev).Msg("Unhandled event")
	}
}

// --- Peers ---

func (c *Coordinator) handlePeerDiscovered(id peer.ID) {
	if id == c.self {
		return
	}
	if _, known := c.peers[id]; known {
		return
	}
	c.peers[id] = time.Now()
	c.logger.Info().Str("peer", id.String()).Int("peers", len(c.peers)).Msg("Peer discovered")

	// Peers that arrive after the initial request get asked directly.
	if c.initDone {
		c.requestChain(id)
	}
}

func (c *Coordinator) handlePeerLost(id peer.ID) {
	if _, known := c.peers[id]; !known {
		return
	}
	delete(c.peers, id)
	c.logger.Info().Str("peer", id.String()).Int("peers", len(c.peers)).Msg("Peer lost")
}

// peerList returns known peers in a stable order.
func (c *Coordinator) peerList() []peer.ID {
	out := make([]peer.ID, 0, len(c.peers))
	for id := range c.peers {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// --- Chain sync ---

func (c *Coordinator) handleInit() {
	if c.initDone {
		return
	}
	c.initDone = true
	c.logger.Info().Int("peers", len(c.peers)).Msg("Requesting chains from peers")
	c.requestChain("")
}

// requestChain publishes a ChainRequest, addressed to target unless it is
// empty.
func (c *Coordinator) requestChain(target peer.ID) {
	req := p2p.ChainRequest{FromPeerID: c.self.String()}
	if target != "" {
		req.Target = target.String()
	}
	if err := c.net.PublishChainRequest(req); err != nil {
		c.logger.Warn().Err(err).Str("target", req.Target).Msg("Publish chain request failed")
	}
}

func (c *Coordinator) handleChainRequest(from peer.ID, req p2p.ChainRequest) {
	if req.FromPeerID == c.self.String() || from == c.self {
		return
	}
	if req.Target != "" && req.Target != c.self.String() {
		return
	}

	resp := p2p.ChainResponse{Blocks: c.chain.Blocks(), Receiver: req.FromPeerID}
	if err := c.net.PublishChainResponse(resp); err != nil {
		c.logger.Warn().Err(err).Str("peer", req.FromPeerID).Msg("Publish chain response failed")
		return
	}
	c.logger.Debug().Str("peer", req.FromPeerID).Int("length", len(resp.Blocks)).Msg("Sent chain")
}

func (c *Coordinator) handleChainResponse(ctx context.Context, from peer.ID, resp p2p.ChainResponse) {
	if resp.Receiver != c.self.String() {
		return
	}
	// A genesis-only chain carries nothing to adopt. Two fresh nodes would
	// otherwise keep re-requesting from each other.
	if len(resp.Blocks) <= 1 {
		c.logger.Debug().Str("peer", from.String()).Msg("Ignoring genesis-only chain")
		return
	}

	local := c.chain.Blocks()
	side, err := c.forkChoice.Select(local, resp.Blocks)
	if errors.Is(err, consensus.ErrNoValidChain) {
		c.logger.Warn().Str("peer", from.String()).Int("remote_length", len(resp.Blocks)).
			Msg("Neither chain is valid, keeping local chain")
		c.requestFromOtherPeer(from)
		return
	}
	if side == consensus.Local {
		c.logger.Debug().Str("peer", from.String()).
			Int("local_length", len(local)).
			Int("remote_length", len(resp.Blocks)).
			Msg("Keeping local chain")
		return
	}

	if err := c.chain.Replace(resp.Blocks); err != nil {
		c.logger.Error().Err(err).Str("peer", from.String()).Msg("Chain replacement failed")
		return
	}
	c.logger.Info().Str("peer", from.String()).Int("length", len(resp.Blocks)).Msg("Adopted remote chain")
	c.tipChanged(ctx)
}

func (c *Coordinator) requestFromOtherPeer(exclude peer.ID) {
	for _, id := range c.peerList() {
		if id != exclude {
			c.requestChain(id)
			return
		}
	}
	c.logger.Debug().Msg("No other peer to ask for a chain")
}

func (c *Coordinator) handleBlock(ctx context.Context, from peer.ID, blk block.Block) {
	tip := c.chain.Tip()

	if blk.ID == tip.ID+1 {
		err := c.chain.Append(blk)
		if err == nil {
			c.logger.Info().Uint64("height", blk.ID).Str("hash", blk.ShortHash()).
				Str("peer", from.String()).Msg("Block received")
			c.tipChanged(ctx)
			return
		}
		if !errors.Is(err, consensus.ErrLinkMismatch) {
			c.logger.Debug().Err(err).Uint64("height", blk.ID).Str("peer", from.String()).Msg("Block rejected")
			return
		}
		// Same height on a different branch: compare whole chains.
	}

	if blk.ID > tip.ID {
		c.logger.Debug().Uint64("height", blk.ID).Uint64("tip", tip.ID).Str("peer", from.String()).
			Msg("Peer is ahead, requesting its chain")
		c.requestChain(from)
		return
	}
	if blk.ID == tip.ID && blk.Hash != tip.Hash {
		// Competing tip at our height: fork choice decides the tie.
		c.logger.Debug().Uint64("height", blk.ID).Str("peer", from.String()).
			Msg("Competing tip, requesting its chain")
		c.requestChain(from)
		return
	}
	c.logger.Debug().Uint64("height", blk.ID).Uint64("tip", tip.ID).Str("peer", from.String()).
		Str("reason", "stale").Msg("Block dropped")
}

// --- Local commands ---

func (c *Coordinator) handleLocalInput(ctx context.Context, in LocalInput) {
	switch in.Command.Kind {
	case CmdCreateBlock:
		c.queue = append(c.queue, miningJob{data: in.Command.Data, reply: in.Reply})
		c.logger.Debug().Int("queued", len(c.queue)).Msg("Mining job queued")
		c.startNextJob(ctx)
	case CmdListPeers:
		ids := c.peerList()
		out := make([]string, len(ids))
		for i, id := range ids {
			out[i] = id.String()
		}
		c.reply(in.Reply, CommandResult{Peers: out})
	case CmdListChain:
		c.reply(in.Reply, CommandResult{Blocks: c.chain.Blocks()})
	default:
		c.reply(in.Reply, CommandResult{Err: ErrUnknownCommand})
	}
}

func (c *Coordinator) reply(ch chan<- CommandResult, res CommandResult) {
	if ch == nil {
		return
	}
	select {
	case ch <- res:
	default:
		c.logger.Warn().Msg("Command reply dropped")
	}
}

// --- Mining ---

// startNextJob starts the head of the queue when no job is in flight. The
// worker mines against a snapshot of the tip and posts the result back as a
// blockMined event tagged with the job's sequence number.
func (c *Coordinator) startNextJob(ctx context.Context) {
	if c.active != nil || len(c.queue) == 0 {
		return
	}
	job := c.queue[0]
	c.queue = c.queue[1:]

	c.seq++
	seq := c.seq
	jobCtx, cancel := context.WithCancel(ctx)
	c.active = &job
	c.cancelActive = cancel
	tip := c.chain.Tip()

	c.logger.Info().Uint64("height", tip.ID+1).Str("parent", tip.ShortHash()).Msg("Mining block")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		blk, err := c.producer.ProduceBlockCtx(jobCtx, tip, job.data)
		// Undeliverable after shutdown; the job is dropped with the loop.
		_ = c.Submit(blockMined{seq: seq, job: job, block: blk, err: err})
	}()
}

// tipChanged restarts in-flight mining on the new tip. The cancelled job
// goes back to the front of the queue.
func (c *Coordinator) tipChanged(ctx context.Context) {
	if c.active == nil {
		return
	}
	job := *c.active
	c.cancelActive()
	c.active = nil
	c.cancelActive = nil
	c.seq++ // The cancelled worker's result is now stale.

	c.queue = append([]miningJob{job}, c.queue...)
	c.logger.Debug().Msg("Tip changed, restarting mining")
	c.startNextJob(ctx)
}

func (c *Coordinator) handleBlockMined(ctx context.Context, ev blockMined) {
	if ev.seq != c.seq || c.active == nil {
		c.logger.Debug().Uint64("seq", ev.seq).Msg("Discarding stale mining result")
		return
	}
	c.active = nil
	c.cancelActive = nil
	defer c.startNextJob(ctx)

	if ev.err != nil {
		c.logger.Warn().Err(ev.err).Msg("Mining failed")
		c.reply(ev.job.reply, CommandResult{Err: ev.err})
		return
	}

	if err := c.chain.Append(ev.block); err != nil {
		c.logger.Warn().Err(err).Uint64("height", ev.block.ID).Msg("Mined block rejected")
		c.reply(ev.job.reply, CommandResult{Err: err})
		return
	}
	c.logger.Info().Uint64("height", ev.block.ID).Str("hash", ev.block.ShortHash()).
		Uint64("nonce", ev.block.Nonce).Msg("Block mined")

	if err := c.net.PublishBlock(ev.block); err != nil {
		c.logger.Warn().Err(err).Uint64("height", ev.block.ID).Msg("Publish block failed")
	}
	blk := ev.block
	c.reply(ev.job.reply, CommandResult{Block: &blk})
}
