package node

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Klingon-tech/klingnet-ledger/config"
	"github.com/Klingon-tech/klingnet-ledger/internal/chain"
	"github.com/Klingon-tech/klingnet-ledger/internal/consensus"
	klog "github.com/Klingon-tech/klingnet-ledger/internal/log"
	"github.com/Klingon-tech/klingnet-ledger/internal/miner"
	"github.com/Klingon-tech/klingnet-ledger/internal/p2p"
	"github.com/Klingon-tech/klingnet-ledger/internal/storage"
	"github.com/Klingon-tech/klingnet-ledger/pkg/block"
	"github.com/libp2p/go-libp2p/core/peer"
)

const (
	selfID = peer.ID("self-peer")
	peerA  = peer.ID("peer-a")
	peerB  = peer.ID("peer-b")
)

// fakeNetwork records everything the coordinator publishes.
type fakeNetwork struct {
	mu        sync.Mutex
	requests  []p2p.ChainRequest
	responses []p2p.ChainResponse
	blocks    []block.Block
}

func (f *fakeNetwork) PublishChainRequest(req p2p.ChainRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return nil
}

func (f *fakeNetwork) PublishChainResponse(resp p2p.ChainResponse) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, resp)
	return nil
}

func (f *fakeNetwork) PublishBlock(blk block.Block) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocks = append(f.blocks, blk)
	return nil
}

func (f *fakeNetwork) sentRequests() []p2p.ChainRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]p2p.ChainRequest(nil), f.requests...)
}

// gatedProducer reports every job it starts and mines only once released.
type gatedProducer struct {
	m       *miner.Miner
	started chan block.Block
	release chan struct{}
}

func (g *gatedProducer) ProduceBlockCtx(ctx context.Context, tip block.Block, data string) (block.Block, error) {
	g.started <- tip
	select {
	case <-ctx.Done():
		return block.Block{}, ctx.Err()
	case <-g.release:
	}
	return g.m.ProduceBlockCtx(ctx, tip, data)
}

type coordEnv struct {
	coord *Coordinator
	chain *chain.Chain
	net   *fakeNetwork
	miner *miner.Miner
}

func newCoordEnv(t *testing.T, producer BlockProducer) *coordEnv {
	t.Helper()
	klog.Init("error", false, "")

	genesis := config.DefaultGenesis()
	pow, err := consensus.NewPoW(genesis.DifficultyPrefix)
	if err != nil {
		t.Fatalf("NewPoW: %v", err)
	}
	validator := consensus.NewValidator(pow, genesis.Block)
	ch, err := chain.New(validator, storage.NewMemory())
	if err != nil {
		t.Fatalf("chain.New: %v", err)
	}
	m := miner.New(pow)
	if producer == nil {
		producer = m
	}
	net := &fakeNetwork{}
	c := NewCoordinator(CoordinatorConfig{
		Self:       selfID,
		Chain:      ch,
		ForkChoice: consensus.NewForkChoice(validator),
		Producer:   producer,
		Network:    net,
	})
	return &coordEnv{coord: c, chain: ch, net: net, miner: m}
}

// extend mines n blocks on top of base without touching the local chain.
func (e *coordEnv) extend(t *testing.T, base []block.Block, n int, tag string) []block.Block {
	t.Helper()
	out := block.Clone(base)
	for i := 0; i < n; i++ {
		tip := out[len(out)-1]
		blk, err := e.miner.ProduceBlockAt(context.Background(), tip, tag, tip.Timestamp+1)
		if err != nil {
			t.Fatalf("mine: %v", err)
		}
		out = append(out, blk)
	}
	return out
}

// nextEvent waits for an event the coordinator posted to itself.
func nextEvent(t *testing.T, c *Coordinator) Event {
	t.Helper()
	select {
	case ev := <-c.events:
		return ev
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for coordinator event")
		return nil
	}
}

// ── Commands ────────────────────────────────────────────────────────

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line string
		want Command
		err  error
	}{
		{"create block hello world", Command{Kind: CmdCreateBlock, Data: "hello world"}, nil},
		{"  create   b   spaced  data ", Command{Kind: CmdCreateBlock, Data: "spaced  data"}, nil},
		{"create block", Command{}, ErrMissingData},
		{"create b    ", Command{}, ErrMissingData},
		{"list peers", Command{Kind: CmdListPeers}, nil},
		{"ls p", Command{Kind: CmdListPeers}, nil},
		{"list chain", Command{Kind: CmdListChain}, nil},
		{"list chains", Command{Kind: CmdListChain}, nil},
		{"ls c", Command{Kind: CmdListChain}, nil},
		{"list peers now", Command{}, ErrUnknownCommand},
		{"list", Command{}, ErrUnknownCommand},
		{"", Command{}, ErrUnknownCommand},
		{"delete block 1", Command{}, ErrUnknownCommand},
	}
	for _, tt := range tests {
		got, err := ParseCommand(tt.line)
		if !errors.Is(err, tt.err) {
			t.Errorf("ParseCommand(%q) error = %v, want %v", tt.line, err, tt.err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseCommand(%q) = %+v, want %+v", tt.line, got, tt.want)
		}
	}
}

func TestCommandKind_String(t *testing.T) {
	if CmdCreateBlock.String() != "create block" || CmdListPeers.String() != "list peers" {
		t.Error("unexpected command names")
	}
	if got := CommandKind(99).String(); got != "command(99)" {
		t.Errorf("unknown kind = %q", got)
	}
}

// ── Peers and init ──────────────────────────────────────────────────

func TestCoordinator_InitBroadcastsOnce(t *testing.T) {
	env := newCoordEnv(t, nil)
	ctx := context.Background()

	env.coord.dispatch(ctx, PeerDiscovered{Peer: peerA})
	if got := len(env.net.sentRequests()); got != 0 {
		t.Fatalf("requests before init = %d, want 0", got)
	}

	env.coord.dispatch(ctx, Init{})
	env.coord.dispatch(ctx, Init{})

	reqs := env.net.sentRequests()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d, want 1", len(reqs))
	}
	if reqs[0].FromPeerID != selfID.String() || reqs[0].Target != "" {
		t.Errorf("request = %+v, want untargeted from self", reqs[0])
	}
}

func TestCoordinator_PeerDiscoveredAfterInit(t *testing.T) {
	env := newCoordEnv(t, nil)
	ctx := context.Background()

	env.coord.dispatch(ctx, Init{})
	env.coord.dispatch(ctx, PeerDiscovered{Peer: peerB})
	env.coord.dispatch(ctx, PeerDiscovered{Peer: peerB}) // already known
	env.coord.dispatch(ctx, PeerDiscovered{Peer: selfID})

	reqs := env.net.sentRequests()
	if len(reqs) != 2 {
		t.Fatalf("requests = %d, want 2", len(reqs))
	}
	if reqs[1].Target != peerB.String() {
		t.Errorf("target = %q, want %q", reqs[1].Target, peerB)
	}
}

func TestCoordinator_PeerList(t *testing.T) {
	env := newCoordEnv(t, nil)
	ctx := context.Background()

	env.coord.dispatch(ctx, PeerDiscovered{Peer: peerB})
	env.coord.dispatch(ctx, PeerDiscovered{Peer: peerA})

	reply := make(chan CommandResult, 1)
	env.coord.dispatch(ctx, LocalInput{Command: Command{Kind: CmdListPeers}, Reply: reply})
	res := <-reply
	if len(res.Peers) != 2 || res.Peers[0] != peerA.String() || res.Peers[1] != peerB.String() {
		t.Fatalf("peers = %v, want sorted [a b]", res.Peers)
	}

	env.coord.dispatch(ctx, PeerLost{Peer: peerA})
	env.coord.dispatch(ctx, LocalInput{Command: Command{Kind: CmdListPeers}, Reply: reply})
	res = <-reply
	if len(res.Peers) != 1 || res.Peers[0] != peerB.String() {
		t.Fatalf("peers after loss = %v", res.Peers)
	}
}

// ── Chain requests ──────────────────────────────────────────────────

func TestCoordinator_AnswersChainRequest(t *testing.T) {
	env := newCoordEnv(t, nil)
	ctx := context.Background()

	env.coord.dispatch(ctx, ChainRequestReceived{From: peerA, Request: p2p.ChainRequest{FromPeerID: peerA.String()}})

	if len(env.net.responses) != 1 {
		t.Fatalf("responses = %d, want 1", len(env.net.responses))
	}
	resp := env.net.responses[0]
	if resp.Receiver != peerA.String() {
		t.Errorf("receiver = %q, want %q", resp.Receiver, peerA)
	}
	if len(resp.Blocks) != 1 || !resp.Blocks[0].IsGenesis() {
		t.Errorf("blocks = %v, want genesis only", resp.Blocks)
	}
}

func TestCoordinator_IgnoresForeignChainRequests(t *testing.T) {
	env := newCoordEnv(t, nil)
	ctx := context.Background()

	// Addressed to someone else.
	env.coord.dispatch(ctx, ChainRequestReceived{From: peerA, Request: p2p.ChainRequest{
		FromPeerID: peerA.String(), Target: peerB.String(),
	}})
	// Our own request echoed back.
	env.coord.dispatch(ctx, ChainRequestReceived{From: peerA, Request: p2p.ChainRequest{FromPeerID: selfID.String()}})

	if len(env.net.responses) != 0 {
		t.Fatalf("responses = %d, want 0", len(env.net.responses))
	}

	env.coord.dispatch(ctx, ChainRequestReceived{From: peerA, Request: p2p.ChainRequest{
		FromPeerID: peerA.String(), Target: selfID.String(),
	}})
	if len(env.net.responses) != 1 {
		t.Fatalf("targeted request: responses = %d, want 1", len(env.net.responses))
	}
}

// ── Chain responses ─────────────────────────────────────────────────

func TestCoordinator_AdoptsLongerChain(t *testing.T) {
	env := newCoordEnv(t, nil)
	remote := env.extend(t, env.chain.Blocks(), 3, "remote")

	env.coord.dispatch(context.Background(), ChainResponseReceived{
		From:     peerA,
		Response: p2p.ChainResponse{Blocks: remote, Receiver: selfID.String()},
	})

	if env.chain.Len() != 4 || env.chain.Tip() != remote[3] {
		t.Fatalf("chain length = %d, want adopted remote chain of 4", env.chain.Len())
	}
}

func TestCoordinator_KeepsLongerLocalChain(t *testing.T) {
	env := newCoordEnv(t, nil)
	genesis := env.chain.Blocks()
	for _, blk := range env.extend(t, genesis, 3, "local")[1:] {
		if err := env.chain.Append(blk); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	local := env.chain.Blocks()
	remote := env.extend(t, genesis, 2, "remote")

	env.coord.dispatch(context.Background(), ChainResponseReceived{
		From:     peerA,
		Response: p2p.ChainResponse{Blocks: remote, Receiver: selfID.String()},
	})

	if env.chain.Tip() != local[len(local)-1] {
		t.Fatal("local chain was replaced by a shorter one")
	}
}

func TestCoordinator_IgnoresUnaddressedAndGenesisOnly(t *testing.T) {
	env := newCoordEnv(t, nil)
	ctx := context.Background()
	env.coord.dispatch(ctx, PeerDiscovered{Peer: peerA})
	env.coord.dispatch(ctx, PeerDiscovered{Peer: peerB})

	remote := env.extend(t, env.chain.Blocks(), 2, "remote")
	env.coord.dispatch(ctx, ChainResponseReceived{
		From:     peerA,
		Response: p2p.ChainResponse{Blocks: remote, Receiver: peerB.String()},
	})
	env.coord.dispatch(ctx, ChainResponseReceived{
		From:     peerA,
		Response: p2p.ChainResponse{Blocks: remote[:1], Receiver: selfID.String()},
	})

	if env.chain.Len() != 1 {
		t.Fatalf("chain length = %d, want 1", env.chain.Len())
	}
	if got := len(env.net.sentRequests()); got != 0 {
		t.Fatalf("requests = %d, want 0 (no re-request for ignored responses)", got)
	}
}

func TestCoordinator_NeitherValidAsksAnotherPeer(t *testing.T) {
	env := newCoordEnv(t, nil)
	ctx := context.Background()
	env.coord.dispatch(ctx, PeerDiscovered{Peer: peerA})
	env.coord.dispatch(ctx, PeerDiscovered{Peer: peerB})

	// Local is genesis-only, so it has nothing to validate either.
	remote := env.extend(t, env.chain.Blocks(), 2, "remote")
	remote[2].Data = "tampered"

	env.coord.dispatch(ctx, ChainResponseReceived{
		From:     peerA,
		Response: p2p.ChainResponse{Blocks: remote, Receiver: selfID.String()},
	})

	if env.chain.Len() != 1 {
		t.Fatalf("chain length = %d, want 1", env.chain.Len())
	}
	reqs := env.net.sentRequests()
	if len(reqs) != 1 || reqs[0].Target != peerB.String() {
		t.Fatalf("requests = %+v, want one targeted at %s", reqs, peerB)
	}
}

// ── Block gossip ────────────────────────────────────────────────────

func TestCoordinator_AppendsNextBlock(t *testing.T) {
	env := newCoordEnv(t, nil)
	next := env.extend(t, env.chain.Blocks(), 1, "next")[1]

	env.coord.dispatch(context.Background(), BlockReceived{From: peerA, Block: next})

	if env.chain.Tip() != next {
		t.Fatalf("tip = %v, want %v", env.chain.Tip(), next)
	}
	if len(env.net.blocks) != 0 {
		t.Error("received block must not be re-broadcast by the coordinator")
	}
}

func TestCoordinator_RejectsBadNextBlock(t *testing.T) {
	env := newCoordEnv(t, nil)
	next := env.extend(t, env.chain.Blocks(), 1, "next")[1]
	next.Data = "tampered"

	env.coord.dispatch(context.Background(), BlockReceived{From: peerA, Block: next})

	if env.chain.Len() != 1 {
		t.Fatalf("chain length = %d, want 1", env.chain.Len())
	}
	if got := len(env.net.sentRequests()); got != 0 {
		t.Fatalf("requests = %d, want 0", got)
	}
}

func TestCoordinator_RequestsChainWhenBehind(t *testing.T) {
	env := newCoordEnv(t, nil)
	ahead := env.extend(t, env.chain.Blocks(), 3, "ahead")

	env.coord.dispatch(context.Background(), BlockReceived{From: peerA, Block: ahead[3]})

	reqs := env.net.sentRequests()
	if len(reqs) != 1 || reqs[0].Target != peerA.String() {
		t.Fatalf("requests = %+v, want one targeted at sender", reqs)
	}
	if env.chain.Len() != 1 {
		t.Fatalf("chain length = %d, want 1", env.chain.Len())
	}
}

func TestCoordinator_CompetingBlockAtSameHeight(t *testing.T) {
	env := newCoordEnv(t, nil)
	genesis := env.chain.Blocks()
	mine := env.extend(t, genesis, 1, "mine")
	if err := env.chain.Append(mine[1]); err != nil {
		t.Fatalf("Append: %v", err)
	}
	// Their height-2 block builds on a height-1 block we do not have.
	theirs := env.extend(t, genesis, 2, "theirs")

	env.coord.dispatch(context.Background(), BlockReceived{From: peerB, Block: theirs[2]})

	reqs := env.net.sentRequests()
	if len(reqs) != 1 || reqs[0].Target != peerB.String() {
		t.Fatalf("requests = %+v, want one targeted at sender", reqs)
	}
}

func TestCoordinator_CompetingTipConverges(t *testing.T) {
	env := newCoordEnv(t, nil)
	genesis := env.chain.Blocks()
	a := env.extend(t, genesis, 1, "a")
	b := env.extend(t, genesis, 1, "b")
	// Hold the larger tip hash locally so the remote tip wins the tie-break.
	local, remote := a, b
	if a[1].Hash < b[1].Hash {
		local, remote = b, a
	}
	if err := env.chain.Append(local[1]); err != nil {
		t.Fatalf("Append: %v", err)
	}

	ctx := context.Background()
	env.coord.dispatch(ctx, BlockReceived{From: peerB, Block: remote[1]})

	reqs := env.net.sentRequests()
	if len(reqs) != 1 || reqs[0].Target != peerB.String() {
		t.Fatalf("requests = %+v, want one targeted at sender", reqs)
	}

	env.coord.dispatch(ctx, ChainResponseReceived{
		From:     peerB,
		Response: p2p.ChainResponse{Blocks: remote, Receiver: selfID.String()},
	})
	if env.chain.Tip() != remote[1] {
		t.Fatalf("tip = %v, want the smaller-hash tip %v", env.chain.Tip(), remote[1])
	}
}

func TestCoordinator_DuplicateTipIgnored(t *testing.T) {
	env := newCoordEnv(t, nil)
	local := env.extend(t, env.chain.Blocks(), 1, "local")
	if err := env.chain.Append(local[1]); err != nil {
		t.Fatalf("Append: %v", err)
	}

	env.coord.dispatch(context.Background(), BlockReceived{From: peerA, Block: local[1]})

	if got := len(env.net.sentRequests()); got != 0 {
		t.Fatalf("requests = %d, want 0", got)
	}
}

func TestCoordinator_DropsStaleBlock(t *testing.T) {
	env := newCoordEnv(t, nil)
	local := env.extend(t, env.chain.Blocks(), 2, "local")
	for _, blk := range local[1:] {
		if err := env.chain.Append(blk); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	old := env.extend(t, local[:1], 1, "old")[1]

	env.coord.dispatch(context.Background(), BlockReceived{From: peerA, Block: old})

	if env.chain.Tip() != local[2] {
		t.Fatal("stale block changed the tip")
	}
	if got := len(env.net.sentRequests()); got != 0 {
		t.Fatalf("requests = %d, want 0", got)
	}
}

// ── Mining ──────────────────────────────────────────────────────────

func TestCoordinator_CreateBlock(t *testing.T) {
	env := newCoordEnv(t, nil)
	ctx := context.Background()

	reply := make(chan CommandResult, 1)
	env.coord.dispatch(ctx, LocalInput{Command: Command{Kind: CmdCreateBlock, Data: "payload"}, Reply: reply})
	env.coord.dispatch(ctx, nextEvent(t, env.coord))

	res := <-reply
	if res.Err != nil {
		t.Fatalf("create block: %v", res.Err)
	}
	if res.Block == nil || res.Block.ID != 1 || res.Block.Data != "payload" {
		t.Fatalf("block = %+v", res.Block)
	}
	if env.chain.Tip() != *res.Block {
		t.Error("mined block is not the tip")
	}
	if len(env.net.blocks) != 1 || env.net.blocks[0] != *res.Block {
		t.Errorf("published blocks = %v, want the mined block", env.net.blocks)
	}
}

func TestCoordinator_QueuedJobsMineInOrder(t *testing.T) {
	env := newCoordEnv(t, nil)
	ctx := context.Background()

	first := make(chan CommandResult, 1)
	second := make(chan CommandResult, 1)
	env.coord.dispatch(ctx, LocalInput{Command: Command{Kind: CmdCreateBlock, Data: "first"}, Reply: first})
	env.coord.dispatch(ctx, LocalInput{Command: Command{Kind: CmdCreateBlock, Data: "second"}, Reply: second})

	env.coord.dispatch(ctx, nextEvent(t, env.coord))
	env.coord.dispatch(ctx, nextEvent(t, env.coord))

	a, b := <-first, <-second
	if a.Err != nil || b.Err != nil {
		t.Fatalf("errors: %v, %v", a.Err, b.Err)
	}
	if a.Block.ID != 1 || b.Block.ID != 2 || b.Block.PreviousHash != a.Block.Hash {
		t.Fatalf("blocks = %v, %v, want 1 then 2 linked", a.Block, b.Block)
	}
}

func TestCoordinator_TipChangeRestartsMining(t *testing.T) {
	gate := &gatedProducer{started: make(chan block.Block, 4), release: make(chan struct{})}
	env := newCoordEnv(t, gate)
	gate.m = env.miner
	ctx := context.Background()

	reply := make(chan CommandResult, 1)
	env.coord.dispatch(ctx, LocalInput{Command: Command{Kind: CmdCreateBlock, Data: "mine"}, Reply: reply})
	if tip := <-gate.started; !tip.IsGenesis() {
		t.Fatalf("first job tip = %v, want genesis", tip)
	}

	// A peer's block lands first.
	theirs := env.extend(t, env.chain.Blocks(), 1, "theirs")[1]
	env.coord.dispatch(ctx, BlockReceived{From: peerA, Block: theirs})
	if tip := <-gate.started; tip != theirs {
		t.Fatalf("restarted job tip = %v, want %v", tip, theirs)
	}
	close(gate.release)

	var res CommandResult
	deadline := time.After(10 * time.Second)
	for done := false; !done; {
		env.coord.dispatch(ctx, nextEvent(t, env.coord))
		select {
		case res = <-reply:
			done = true
		case <-deadline:
			t.Fatal("no reply")
		default:
		}
	}
	if res.Err != nil {
		t.Fatalf("create block: %v", res.Err)
	}
	if res.Block.ID != 2 || res.Block.PreviousHash != theirs.Hash {
		t.Fatalf("block = %+v, want height 2 on top of peer block", res.Block)
	}
	if env.chain.Len() != 3 {
		t.Fatalf("chain length = %d, want 3", env.chain.Len())
	}
}

func TestCoordinator_StaleResultDiscarded(t *testing.T) {
	env := newCoordEnv(t, nil)
	env.coord.seq = 5
	env.coord.dispatch(context.Background(), blockMined{seq: 4, err: errors.New("late")})
	if env.chain.Len() != 1 {
		t.Fatal("stale result changed the chain")
	}
}

// ── Loop ────────────────────────────────────────────────────────────

func TestCoordinator_DroppedReplyLogged(t *testing.T) {
	env := newCoordEnv(t, nil)
	var buf bytes.Buffer
	env.coord.logger = klog.NewJSONLogger(&buf, "warn")

	// Nobody reads the unbuffered channel, so the reply is dropped.
	env.coord.dispatch(context.Background(), LocalInput{
		Command: Command{Kind: CmdListPeers},
		Reply:   make(chan CommandResult),
	})

	if !strings.Contains(buf.String(), "Command reply dropped") {
		t.Fatalf("coordinator log = %q, want dropped reply warning", buf.String())
	}
}

func TestCoordinator_RunAndExecute(t *testing.T) {
	env := newCoordEnv(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		env.coord.Run(ctx)
		close(stopped)
	}()

	res, err := env.coord.Execute(ctx, Command{Kind: CmdCreateBlock, Data: "via loop"})
	if err != nil || res.Err != nil {
		t.Fatalf("Execute: %v / %v", err, res.Err)
	}
	res, err = env.coord.Execute(ctx, Command{Kind: CmdListChain})
	if err != nil {
		t.Fatalf("Execute list: %v", err)
	}
	if len(res.Blocks) != 2 || res.Blocks[1].Data != "via loop" {
		t.Fatalf("blocks = %v", res.Blocks)
	}

	cancel()
	<-stopped
	if err := env.coord.Submit(Init{}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Submit after stop = %v, want ErrStopped", err)
	}
	if _, err := env.coord.Execute(context.Background(), Command{Kind: CmdListPeers}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Execute after stop = %v, want ErrStopped", err)
	}
}

func TestCoordinator_UnknownCommand(t *testing.T) {
	env := newCoordEnv(t, nil)
	reply := make(chan CommandResult, 1)
	env.coord.dispatch(context.Background(), LocalInput{Command: Command{Kind: CommandKind(42)}, Reply: reply})
	if res := <-reply; !errors.Is(res.Err, ErrUnknownCommand) {
		t.Fatalf("err = %v, want ErrUnknownCommand", res.Err)
	}
}

// ── Node ────────────────────────────────────────────────────────────

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.P2P.Enabled = false
	cfg.RPC.Enabled = false
	cfg.Storage.InMemory = true
	cfg.Sync.InitDelay = time.Millisecond
	cfg.Log.Level = "error"
	return cfg
}

func startNode(t *testing.T, cfg *config.Config) *Node {
	t.Helper()
	n, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := n.Start(); err != nil {
		n.Stop()
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(n.Stop)
	return n
}

func TestNode_OfflineCreateBlock(t *testing.T) {
	n := startNode(t, testConfig(t))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	blk, err := n.CreateBlock(ctx, "  offline block ")
	if err != nil {
		t.Fatalf("CreateBlock: %v", err)
	}
	if blk.ID != 1 || blk.Data != "offline block" {
		t.Fatalf("block = %+v", blk)
	}
	if n.Len() != 2 || n.Tip() != blk {
		t.Fatalf("length = %d, tip = %v", n.Len(), n.Tip())
	}

	res, err := n.Execute(ctx, "ls c")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(res.Blocks) != 2 {
		t.Errorf("blocks = %d, want 2", len(res.Blocks))
	}

	if _, err := n.Execute(ctx, "create block"); !errors.Is(err, ErrMissingData) {
		t.Errorf("empty create = %v, want ErrMissingData", err)
	}
	if _, err := n.CreateBlock(ctx, "   "); !errors.Is(err, ErrMissingData) {
		t.Errorf("empty CreateBlock = %v, want ErrMissingData", err)
	}
	if _, err := n.Execute(ctx, "drop table"); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("unknown = %v, want ErrUnknownCommand", err)
	}

	peers, err := n.Peers(ctx)
	if err != nil || len(peers) != 0 {
		t.Errorf("peers = %v, %v, want none", peers, err)
	}
}

func TestNode_Info(t *testing.T) {
	cfg := testConfig(t)
	cfg.Identity.KeyType = config.KeyTypeSecp256k1
	cfg.Consensus.Difficulty = "0"
	n := startNode(t, cfg)

	info := n.Info()
	if info.Version != config.Version {
		t.Errorf("version = %q", info.Version)
	}
	if info.KeyType != config.KeyTypeSecp256k1 {
		t.Errorf("key_type = %q, want secp256k1", info.KeyType)
	}
	if info.PeerID != n.ID().String() || info.PeerID == "" {
		t.Errorf("peer_id = %q", info.PeerID)
	}
	if info.DifficultyPrefix != "0" {
		t.Errorf("difficulty = %q, want override 0", info.DifficultyPrefix)
	}
	if info.ChainLength != 1 || info.TipHash != config.DefaultGenesis().Block.Hash {
		t.Errorf("info = %+v, want genesis-only chain", info)
	}
	if info.Addrs != nil || info.PeerCount != 0 {
		t.Errorf("offline node reports network state: %+v", info)
	}
}

func TestNode_ChainSurvivesRestart(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.InMemory = false
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := n.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	blk, err := n.CreateBlock(ctx, "persisted")
	if err != nil {
		t.Fatalf("CreateBlock: %v", err)
	}
	n.Stop()
	n.Stop() // idempotent

	reopened := startNode(t, cfg)
	if reopened.Len() != 2 || reopened.Tip() != blk {
		t.Fatalf("after restart: length %d tip %v, want 2 / %v", reopened.Len(), reopened.Tip(), blk)
	}
	if reopened.ID() == n.ID() {
		t.Error("peer identity must be regenerated every run")
	}
}

func TestNode_BadDifficulty(t *testing.T) {
	cfg := testConfig(t)
	cfg.Consensus.Difficulty = "01"
	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for non-zero difficulty prefix")
	}
}

func TestNode_GenesisFile(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(cfg.DataDir, "genesis.json")
	g := config.DefaultGenesis()
	g.ChainName = "File Ledger"
	if err := g.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	cfg.GenesisFile = path

	n := startNode(t, cfg)
	if n.Tip() != g.Block {
		t.Fatalf("tip = %v, want genesis from file", n.Tip())
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	tests := []struct {
		input, want string
	}{
		{"~/foo/bar", filepath.Join(home, "foo/bar")},
		{"~/.klingnet-ledger/ledger.log", filepath.Join(home, ".klingnet-ledger/ledger.log")},
		{"/absolute/path", "/absolute/path"},
		{"relative/path", "relative/path"},
		{"", ""},
	}
	for _, tt := range tests {
		got := expandHome(tt.input)
		if got != tt.want {
			t.Errorf("expandHome(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
