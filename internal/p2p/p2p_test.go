package p2p

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Klingon-tech/klingnet-ledger/internal/storage"
	"github.com/Klingon-tech/klingnet-ledger/pkg/block"
	pb "github.com/libp2p/go-libp2p-pubsub/pb"
	"github.com/libp2p/go-libp2p/core/peer"
)

const testGenesisHash = "0c00139b5d2ed9569ce4bc89854250565b80883503e9cc06d9f446ea518ed01d"

func testGenesisBlock() block.Block {
	return block.Block{
		ID:           0,
		Hash:         testGenesisHash,
		PreviousHash: block.GenesisPreviousHash,
		Timestamp:    1704067200,
		Data:         "genesis!",
		Nonce:        2,
	}
}

// testNextBlock returns a structurally valid successor of prev. It does not
// carry proof-of-work; the p2p layer never checks it.
func testNextBlock(prev block.Block, data string) block.Block {
	b := block.Block{
		ID:           prev.ID + 1,
		PreviousHash: prev.Hash,
		Timestamp:    prev.Timestamp + 1,
		Data:         data,
	}
	b.Hash = b.ComputeHash()
	return b
}

// --- Node Lifecycle ---

func TestNode_New(t *testing.T) {
	n := New(Config{ListenAddr: "127.0.0.1", Port: 0})
	if n == nil {
		t.Fatal("New returned nil")
	}
	if n.host != nil {
		t.Error("host should be nil before Start")
	}
	if n.ID() != "" {
		t.Error("ID should be empty before Start")
	}
	if n.Addrs() != nil {
		t.Error("Addrs should be nil before Start")
	}
}

func TestNode_StartStop(t *testing.T) {
	n := New(Config{ListenAddr: "127.0.0.1", Port: 0, NoDiscover: true})

	if err := n.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if n.host == nil {
		t.Fatal("host should not be nil after Start")
	}
	if n.ID() == "" {
		t.Error("ID should not be empty after Start")
	}
	if len(n.Addrs()) == 0 {
		t.Error("should have at least one address")
	}

	if err := n.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	// Second Stop is a no-op.
	if err := n.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestNode_StopBeforeStart(t *testing.T) {
	n := New(Config{ListenAddr: "127.0.0.1", Port: 0})
	if err := n.Stop(); err != nil {
		t.Fatalf("Stop before Start should not error: %v", err)
	}
}

func TestNode_UsesConfiguredIdentity(t *testing.T) {
	id, err := GenerateIdentity(KeyTypeSecp256k1)
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	n := New(Config{ListenAddr: "127.0.0.1", Port: 0, NoDiscover: true, Identity: id})
	if err := n.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { n.Stop() })

	if n.ID() != id.ID {
		t.Fatalf("ID() = %s, want %s", n.ID(), id.ID)
	}
}

func TestNode_MaxPeersConnManager(t *testing.T) {
	n := New(Config{ListenAddr: "127.0.0.1", Port: 0, NoDiscover: true, MaxPeers: 8})
	if err := n.Start(); err != nil {
		t.Fatalf("Start with MaxPeers: %v", err)
	}
	t.Cleanup(func() { n.Stop() })
}

// --- Peer Management ---

func TestNode_AddRemovePeer(t *testing.T) {
	n := New(Config{ListenAddr: "127.0.0.1", Port: 0})
	fakeID := peer.ID("test-peer-1")

	if !n.addPeer(fakeID, SourceSeed) {
		t.Fatal("first addPeer should report a new peer")
	}
	if n.PeerCount() != 1 {
		t.Errorf("expected 1 peer, got %d", n.PeerCount())
	}

	// Adding same peer again should not duplicate.
	if n.addPeer(fakeID, SourceMDNS) {
		t.Error("second addPeer should not report a new peer")
	}
	if n.PeerCount() != 1 {
		t.Errorf("expected 1 peer after dup, got %d", n.PeerCount())
	}
	if got := n.PeerList()[0].Source; got != SourceSeed {
		t.Errorf("Source = %q, want %q (first source sticks)", got, SourceSeed)
	}

	if !n.removePeer(fakeID) {
		t.Error("removePeer should report removal")
	}
	if n.removePeer(fakeID) {
		t.Error("removePeer of unknown peer should report false")
	}
	if n.PeerCount() != 0 {
		t.Errorf("expected 0 peers after remove, got %d", n.PeerCount())
	}
}

func TestNode_AddPeer_InboundSourceUpgraded(t *testing.T) {
	n := New(Config{})
	id := peer.ID("p")
	n.addPeer(id, SourceInbound)
	n.addPeer(id, SourceMDNS)
	if got := n.PeerList()[0].Source; got != SourceMDNS {
		t.Fatalf("Source = %q, want %q", got, SourceMDNS)
	}
}

func TestNode_PeerList_IsSnapshot(t *testing.T) {
	n := New(Config{})
	n.addPeer(peer.ID("a"), SourceSeed)
	n.addPeer(peer.ID("b"), SourceSeed)

	list := n.PeerList()
	if len(list) != 2 {
		t.Fatalf("expected 2 peers, got %d", len(list))
	}
	list[0].Verified = true
	for _, p := range n.PeerList() {
		if p.Verified {
			t.Fatal("mutating the snapshot changed node state")
		}
	}
}

func TestNode_MarkVerified(t *testing.T) {
	n := New(Config{})
	id := peer.ID("v")
	n.markVerified(id, 3) // Unknown peer: no-op.
	n.addPeer(id, SourceSeed)
	n.markVerified(id, 7)

	p := n.PeerList()[0]
	if !p.Verified || p.ChainLength != 7 {
		t.Fatalf("peer = %+v, want verified with length 7", p)
	}
}

func TestNode_Rendezvous(t *testing.T) {
	if got := New(Config{}).rendezvous(); got != defaultRendezvous {
		t.Errorf("rendezvous() = %q, want %q", got, defaultRendezvous)
	}
	if got := New(Config{Rendezvous: "lab"}).rendezvous(); got != "lab" {
		t.Errorf("rendezvous() = %q, want %q", got, "lab")
	}
}

// --- Publish before Start ---

func TestNode_Publish_NotStarted(t *testing.T) {
	n := New(Config{ListenAddr: "127.0.0.1", Port: 0})
	if err := n.PublishBlock(testGenesisBlock()); err == nil {
		t.Error("PublishBlock should fail before Start")
	}
	if err := n.PublishChainRequest(ChainRequest{FromPeerID: "x"}); err == nil {
		t.Error("PublishChainRequest should fail before Start")
	}
	if err := n.PublishChainResponse(ChainResponse{Receiver: "x"}); err == nil {
		t.Error("PublishChainResponse should fail before Start")
	}
}

func TestTopicNames(t *testing.T) {
	seen := map[string]bool{}
	for _, topic := range []string{TopicChainSync, TopicChainResponse, TopicNewBlock} {
		if seen[topic] {
			t.Fatalf("duplicate topic %q", topic)
		}
		seen[topic] = true
	}
}

// --- Two-Node Gossip Integration Tests ---

// startTestNode creates, starts, and returns a P2P node on a random port.
func startTestNode(t *testing.T) *Node {
	t.Helper()
	return startTestNodeWith(t, Config{})
}

func startTestNodeWith(t *testing.T, cfg Config) *Node {
	t.Helper()
	cfg.ListenAddr = "127.0.0.1"
	cfg.Port = 0
	cfg.NoDiscover = true
	n := New(cfg)
	if err := n.Start(); err != nil {
		t.Fatalf("start node: %v", err)
	}
	t.Cleanup(func() { n.Stop() })
	return n
}

// connectNodes connects node B to node A via direct libp2p connect.
func connectNodes(t *testing.T, a, b *Node) {
	t.Helper()
	aInfo := peer.AddrInfo{
		ID:    a.host.ID(),
		Addrs: a.host.Addrs(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.host.Connect(ctx, aInfo); err != nil {
		t.Fatalf("connect nodes: %v", err)
	}

	// Give GossipSub time to establish mesh.
	time.Sleep(200 * time.Millisecond)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		default:
			time.Sleep(50 * time.Millisecond)
		}
	}
}

func TestTwoNodes_BlockGossip(t *testing.T) {
	nodeA := startTestNode(t)
	nodeB := startTestNode(t)

	var (
		received atomic.Value
		author   atomic.Value
	)
	nodeB.SetBlockHandler(func(from peer.ID, data []byte) {
		blk, err := DecodeBlock(data)
		if err != nil {
			return
		}
		author.Store(from)
		received.Store(blk)
	})

	connectNodes(t, nodeA, nodeB)
	time.Sleep(300 * time.Millisecond)

	want := testNextBlock(testGenesisBlock(), "hello")
	if err := nodeA.PublishBlock(want); err != nil {
		t.Fatalf("PublishBlock: %v", err)
	}

	waitFor(t, "block gossip", func() bool { return received.Load() != nil })
	if got := received.Load().(block.Block); got != want {
		t.Errorf("received %+v, want %+v", got, want)
	}
	if got := author.Load().(peer.ID); got != nodeA.ID() {
		t.Errorf("author = %s, want %s", got, nodeA.ID())
	}
}

func TestTwoNodes_ChainRequestResponse(t *testing.T) {
	nodeA := startTestNode(t)
	nodeB := startTestNode(t)

	// B answers every request with its chain.
	chainB := []block.Block{testGenesisBlock()}
	chainB = append(chainB, testNextBlock(chainB[0], "b1"))
	nodeB.SetChainRequestHandler(func(_ peer.ID, data []byte) {
		req, err := DecodeChainRequest(data)
		if err != nil {
			return
		}
		_ = nodeB.PublishChainResponse(ChainResponse{Blocks: chainB, Receiver: req.FromPeerID})
	})

	var (
		mu  sync.Mutex
		got *ChainResponse
	)
	nodeA.SetChainResponseHandler(func(_ peer.ID, data []byte) {
		resp, err := DecodeChainResponse(data)
		if err != nil {
			return
		}
		mu.Lock()
		got = &resp
		mu.Unlock()
	})

	connectNodes(t, nodeA, nodeB)
	time.Sleep(300 * time.Millisecond)

	if err := nodeA.PublishChainRequest(ChainRequest{FromPeerID: nodeA.ID().String()}); err != nil {
		t.Fatalf("PublishChainRequest: %v", err)
	}

	waitFor(t, "chain response", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got != nil
	})
	mu.Lock()
	defer mu.Unlock()
	if got.Receiver != nodeA.ID().String() {
		t.Errorf("Receiver = %s, want %s", got.Receiver, nodeA.ID())
	}
	if len(got.Blocks) != 2 || got.Blocks[1] != chainB[1] {
		t.Errorf("Blocks = %+v, want %+v", got.Blocks, chainB)
	}
}

func TestTwoNodes_RepeatedChainRequestDelivered(t *testing.T) {
	nodeA := startTestNode(t)
	nodeB := startTestNode(t)

	var received atomic.Int32
	nodeB.SetChainRequestHandler(func(_ peer.ID, data []byte) {
		if _, err := DecodeChainRequest(data); err == nil {
			received.Add(1)
		}
	})

	connectNodes(t, nodeA, nodeB)
	time.Sleep(300 * time.Millisecond)

	req := ChainRequest{FromPeerID: nodeA.ID().String(), Target: nodeB.ID().String()}
	if err := nodeA.PublishChainRequest(req); err != nil {
		t.Fatalf("first PublishChainRequest: %v", err)
	}
	waitFor(t, "first chain request", func() bool { return received.Load() == 1 })

	if err := nodeA.PublishChainRequest(req); err != nil {
		t.Fatalf("second PublishChainRequest: %v", err)
	}
	waitFor(t, "second chain request", func() bool { return received.Load() == 2 })
}

// --- Message IDs ---

func TestMessageID_SamePayloadNewSeqno(t *testing.T) {
	data := []byte(`{"from_peer_id":"A","target":"B"}`)
	first := &pb.Message{From: []byte("A"), Seqno: []byte{0, 0, 0, 1}, Data: data}
	second := &pb.Message{From: []byte("A"), Seqno: []byte{0, 0, 0, 2}, Data: data}

	if messageID(first) == messageID(second) {
		t.Fatal("repeated payload with a new seqno shares a message ID")
	}
	if messageID(first) != messageID(&pb.Message{From: []byte("A"), Seqno: []byte{0, 0, 0, 1}, Data: data}) {
		t.Fatal("messageID is not deterministic")
	}
}

func TestTwoNodes_OwnMessagesSkipped(t *testing.T) {
	nodeA := startTestNode(t)
	nodeB := startTestNode(t)

	var selfCount atomic.Int32
	nodeA.SetBlockHandler(func(peer.ID, []byte) { selfCount.Add(1) })

	connectNodes(t, nodeA, nodeB)
	if err := nodeA.PublishBlock(testGenesisBlock()); err != nil {
		t.Fatalf("PublishBlock: %v", err)
	}
	time.Sleep(500 * time.Millisecond)

	if n := selfCount.Load(); n != 0 {
		t.Fatalf("own block delivered to handler %d times", n)
	}
}

func TestTwoNodes_PeerCallbacks(t *testing.T) {
	var (
		connected    atomic.Value
		disconnected atomic.Value
	)
	nodeA := New(Config{ListenAddr: "127.0.0.1", Port: 0, NoDiscover: true})
	nodeA.SetPeerHandlers(
		func(id peer.ID) { connected.Store(id) },
		func(id peer.ID) { disconnected.Store(id) },
	)
	if err := nodeA.Start(); err != nil {
		t.Fatalf("start nodeA: %v", err)
	}
	t.Cleanup(func() { nodeA.Stop() })

	nodeB := startTestNode(t)
	connectNodes(t, nodeA, nodeB)

	waitFor(t, "connect callback", func() bool { return connected.Load() != nil })
	if got := connected.Load().(peer.ID); got != nodeB.ID() {
		t.Errorf("connected = %s, want %s", got, nodeB.ID())
	}

	if err := nodeB.Stop(); err != nil {
		t.Fatalf("stop nodeB: %v", err)
	}
	waitFor(t, "disconnect callback", func() bool { return disconnected.Load() != nil })
	if got := disconnected.Load().(peer.ID); got != nodeB.ID() {
		t.Errorf("disconnected = %s, want %s", got, nodeB.ID())
	}
}

// --- Peer persistence ---

func TestNode_PersistAndReconnect(t *testing.T) {
	db := storage.NewMemory()

	nodeA := startTestNode(t)
	nodeB := startTestNodeWith(t, Config{DB: db})
	connectNodes(t, nodeA, nodeB)

	nodeB.persistPeers()
	rec, err := nodeB.peerStore.Load(nodeA.ID())
	if err != nil {
		t.Fatalf("peer A not persisted: %v", err)
	}
	if len(rec.Addrs) == 0 {
		t.Fatal("persisted record has no addresses")
	}
	if err := nodeB.Stop(); err != nil {
		t.Fatalf("stop nodeB: %v", err)
	}

	// A fresh node on the same DB redials A at startup.
	nodeC := startTestNodeWith(t, Config{DB: db})
	waitFor(t, "reconnect to persisted peer", func() bool {
		for _, p := range nodeC.PeerList() {
			if p.ID == nodeA.ID() {
				return true
			}
		}
		return false
	})
}
