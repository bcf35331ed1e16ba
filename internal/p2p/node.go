// Package p2p implements peer-to-peer networking using libp2p.
package p2p

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	klog "github.com/Klingon-tech/klingnet-ledger/internal/log"
	"github.com/Klingon-tech/klingnet-ledger/internal/storage"
	"github.com/Klingon-tech/klingnet-ledger/pkg/crypto"
	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	pb "github.com/libp2p/go-libp2p-pubsub/pb"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
)

const (
	// defaultRendezvous is the mDNS/DHT namespace when none is configured.
	defaultRendezvous = "klingnet-ledger"

	// dhtDiscoveryInterval is how often DHT FindPeers runs.
	dhtDiscoveryInterval = 30 * time.Second

	// peerConnectTimeout bounds a single dial.
	peerConnectTimeout = 5 * time.Second

	// seedRetryInterval is how often seeds are redialled while we have no peers.
	seedRetryInterval = 10 * time.Second
)

// ErrNotStarted is returned by operations that need a running host.
var ErrNotStarted = errors.New("p2p node not started")

// Config holds P2P node configuration.
type Config struct {
	ListenAddr string
	Port       int
	Seeds      []string
	MaxPeers   int // 0 = libp2p default limits
	NoDiscover bool
	DHT        bool       // Kademlia discovery in addition to mDNS
	DHTServer  bool       // Run DHT in server mode (for seeds)
	Rendezvous string     // mDNS service name and DHT namespace
	DB         storage.DB // Peer persistence (nil = disabled, for tests)
	Identity   *Identity  // nil = fresh ed25519 identity on Start

	// GenesisHash enables the handshake protocol when non-empty.
	GenesisHash string
}

// MessageHandler receives the raw payload of a gossip message together with
// the peer that authored it.
type MessageHandler func(from peer.ID, data []byte)

// Node represents a P2P node built on libp2p.
type Node struct {
	host   host.Host
	pubsub *pubsub.PubSub
	config Config
	ctx    context.Context
	cancel context.CancelFunc

	topics map[string]*pubsub.Topic
	subs   map[string]*pubsub.Subscription

	handlerMu sync.RWMutex
	handlers  map[string]MessageHandler

	mu    sync.RWMutex
	peers map[peer.ID]*Peer

	peerStore  *PeerStore    // nil if Config.DB is nil
	dht        *dht.IpfsDHT  // nil unless DHT discovery is on
	mdns       mdns.Service  // nil if NoDiscover
	connNotify *connNotifier // connection lifecycle tracker

	onPeerConnected    func(peer.ID)
	onPeerDisconnected func(peer.ID)

	lengthFn func() uint64
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a new P2P node with the given config.
func New(cfg Config) *Node {
	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		config:   cfg,
		ctx:      ctx,
		cancel:   cancel,
		topics:   make(map[string]*pubsub.Topic),
		subs:     make(map[string]*pubsub.Subscription),
		handlers: make(map[string]MessageHandler),
		peers:    make(map[peer.ID]*Peer),
	}
	if cfg.DB != nil {
		n.peerStore = NewPeerStore(cfg.DB)
	}
	return n
}

func (n *Node) rendezvous() string {
	if n.config.Rendezvous != "" {
		return n.config.Rendezvous
	}
	return defaultRendezvous
}

func (n *Node) handshakeEnabled() bool {
	return n.config.GenesisHash != ""
}

// Start initializes the libp2p host, pubsub, and begins listening.
func (n *Node) Start() error {
	logger := klog.WithComponent("p2p")

	if n.config.Identity == nil {
		id, err := GenerateIdentity(KeyTypeEd25519)
		if err != nil {
			return fmt.Errorf("p2p identity: %w", err)
		}
		n.config.Identity = id
	}

	addr := fmt.Sprintf("/ip4/%s/tcp/%d", n.config.ListenAddr, n.config.Port)
	opts := []libp2p.Option{
		libp2p.ListenAddrStrings(addr),
		libp2p.Identity(n.config.Identity.Key),
	}
	if n.config.MaxPeers > 0 {
		low := n.config.MaxPeers * 3 / 4
		cm, err := connmgr.NewConnManager(low, n.config.MaxPeers)
		if err != nil {
			return fmt.Errorf("create connection manager: %w", err)
		}
		opts = append(opts, libp2p.ConnectionManager(cm))
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return fmt.Errorf("create libp2p host: %w", err)
	}
	n.host = h

	n.connNotify = &connNotifier{node: n}
	h.Network().Notify(n.connNotify)

	// Init DHT before GossipSub so the DHT can serve as a peer source.
	if n.config.DHT && !n.config.NoDiscover {
		if err := n.initDHT(); err != nil {
			h.Close()
			return fmt.Errorf("init dht: %w", err)
		}
	}

	ps, err := pubsub.NewGossipSub(n.ctx, h,
		pubsub.WithMaxMessageSize(MaxMessageSize),
		pubsub.WithMessageIdFn(messageID),
	)
	if err != nil {
		n.closeDHT()
		h.Close()
		return fmt.Errorf("create pubsub: %w", err)
	}
	n.pubsub = ps

	if err := n.joinTopics(); err != nil {
		n.closeDHT()
		h.Close()
		return err
	}

	if n.handshakeEnabled() {
		n.registerHandshakeHandler()
	}

	for name, sub := range n.subs {
		n.wg.Add(1)
		go n.readLoop(name, sub)
	}

	n.wg.Add(1)
	go n.loadPersistedPeers()

	if len(n.config.Seeds) > 0 {
		logger.Info().Int("seeds", len(n.config.Seeds)).Msg("Connecting to seeds...")
	}
	n.connectSeedsOnce()
	n.wg.Add(1)
	go n.connectSeedsLoop()

	if !n.config.NoDiscover {
		n.startMDNS()
		if n.dht != nil {
			n.wg.Add(1)
			go n.runDHTDiscovery()
		}
	}

	if n.peerStore != nil {
		n.wg.Add(1)
		go n.runPersistLoop()
	}

	logger.Info().
		Str("peer_id", h.ID().String()).
		Str("key_type", n.config.Identity.KeyType).
		Strs("addrs", n.Addrs()).
		Msg("P2P node started")
	return nil
}

// Stop shuts down the P2P node. It is safe to call more than once.
func (n *Node) Stop() error {
	var err error
	n.stopOnce.Do(func() {
		// Persist peers one final time before shutdown.
		n.persistPeers()

		n.cancel()
		for _, sub := range n.subs {
			sub.Cancel()
		}
		for _, t := range n.topics {
			t.Close()
		}
		if n.mdns != nil {
			n.mdns.Close()
		}
		n.closeDHT()

		if n.host != nil {
			err = n.host.Close()
		}
		n.wg.Wait()
	})
	return err
}

// Host returns the underlying libp2p host (nil before Start).
func (n *Node) Host() host.Host {
	return n.host
}

// SetPeerHandlers registers callbacks invoked when a peer's first connection
// opens and when its last connection closes. Callbacks run on their own
// goroutine and must not block for long.
func (n *Node) SetPeerHandlers(onConnected, onDisconnected func(peer.ID)) {
	n.onPeerConnected = onConnected
	n.onPeerDisconnected = onDisconnected
}

// SetLengthFn sets the function used to report the local chain length
// during handshake.
func (n *Node) SetLengthFn(fn func() uint64) {
	n.lengthFn = fn
}

// SetChainRequestHandler registers a callback for the chain-sync topic.
func (n *Node) SetChainRequestHandler(fn MessageHandler) {
	n.setHandler(TopicChainSync, fn)
}

// SetChainResponseHandler registers a callback for the chain-response topic.
func (n *Node) SetChainResponseHandler(fn MessageHandler) {
	n.setHandler(TopicChainResponse, fn)
}

// SetBlockHandler registers a callback for the new-block topic.
func (n *Node) SetBlockHandler(fn MessageHandler) {
	n.setHandler(TopicNewBlock, fn)
}

func (n *Node) setHandler(topic string, fn MessageHandler) {
	n.handlerMu.Lock()
	n.handlers[topic] = fn
	n.handlerMu.Unlock()
}

// DisconnectPeer closes all connections to a peer and removes it from the peer list.
func (n *Node) DisconnectPeer(id peer.ID) error {
	if n.host == nil {
		return ErrNotStarted
	}
	removed := n.removePeer(id)
	err := n.host.Network().ClosePeer(id)
	if removed && n.onPeerDisconnected != nil {
		go n.onPeerDisconnected(id)
	}
	return err
}

// ID returns the peer ID of this node.
func (n *Node) ID() peer.ID {
	if n.host == nil {
		return ""
	}
	return n.host.ID()
}

// Addrs returns the full multiaddrs of this node.
func (n *Node) Addrs() []string {
	if n.host == nil {
		return nil
	}
	var addrs []string
	for _, a := range n.host.Addrs() {
		addrs = append(addrs, fmt.Sprintf("%s/p2p/%s", a, n.host.ID()))
	}
	return addrs
}

// PeerCount returns the number of connected peers.
func (n *Node) PeerCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.peers)
}

// PeerList returns a snapshot of connected peers.
func (n *Node) PeerList() []Peer {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]Peer, 0, len(n.peers))
	for _, p := range n.peers {
		out = append(out, *p)
	}
	return out
}

// addPeer records a peer and reports whether it was not already known.
func (n *Node) addPeer(id peer.ID, source string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if existing, ok := n.peers[id]; ok {
		if existing.Source == "" || existing.Source == SourceInbound {
			existing.Source = source
		}
		return false
	}
	n.peers[id] = &Peer{
		ID:          id,
		ConnectedAt: time.Now(),
		Source:      source,
	}
	return true
}

func (n *Node) removePeer(id peer.ID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.peers[id]; !ok {
		return false
	}
	delete(n.peers, id)
	return true
}

func (n *Node) markVerified(id peer.ID, length uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if p, ok := n.peers[id]; ok {
		p.Verified = true
		p.ChainLength = length
	}
}

func (n *Node) joinTopics() error {
	for _, name := range []string{TopicChainSync, TopicChainResponse, TopicNewBlock} {
		t, err := n.pubsub.Join(name)
		if err != nil {
			return fmt.Errorf("join topic %s: %w", name, err)
		}
		sub, err := t.Subscribe()
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", name, err)
		}
		n.topics[name] = t
		n.subs[name] = sub
	}
	return nil
}

// messageID hashes the author, sequence number and payload. Every publish
// gets a fresh sequence number, so a repeated request is never mistaken for
// one already seen.
func messageID(m *pb.Message) string {
	buf := make([]byte, 0, len(m.GetFrom())+len(m.GetSeqno())+len(m.GetData()))
	buf = append(buf, m.GetFrom()...)
	buf = append(buf, m.GetSeqno()...)
	buf = append(buf, m.GetData()...)
	return crypto.MessageID(buf)
}

func (n *Node) publish(topic string, data []byte) error {
	t, ok := n.topics[topic]
	if !ok {
		return ErrNotStarted
	}
	return t.Publish(n.ctx, data)
}

func (n *Node) readLoop(topic string, sub *pubsub.Subscription) {
	defer n.wg.Done()
	for {
		msg, err := sub.Next(n.ctx)
		if err != nil {
			return // Context cancelled.
		}
		author := msg.GetFrom()
		if author == n.host.ID() {
			continue // Skip own messages.
		}
		n.handleMessage(topic, author, msg)
	}
}

func (n *Node) handleMessage(topic string, author peer.ID, msg *pubsub.Message) {
	defer func() {
		if r := recover(); r != nil {
			klog.P2P.Error().Interface("panic", r).Str("topic", topic).Msg("Gossip handler panicked")
		}
	}()
	if msg.ReceivedFrom != n.host.ID() && n.addPeer(msg.ReceivedFrom, SourceInbound) {
		if fn := n.onPeerConnected; fn != nil {
			go fn(msg.ReceivedFrom)
		}
	}

	n.handlerMu.RLock()
	fn := n.handlers[topic]
	n.handlerMu.RUnlock()
	if fn != nil {
		fn(author, msg.Data)
	}
}

func (n *Node) startMDNS() {
	svc := mdns.NewMdnsService(n.host, n.rendezvous(), &discoveryNotifee{node: n})
	// mDNS failure is non-fatal.
	if err := svc.Start(); err != nil {
		klog.P2P.Warn().Err(err).Msg("mDNS discovery unavailable")
		return
	}
	n.mdns = svc
}

// connectSeedsOnce tries to connect to each seed peer once (blocking).
// Returns true if at least one seed connected.
func (n *Node) connectSeedsOnce() bool {
	logger := klog.WithComponent("p2p")
	connected := false
	for _, addr := range n.config.Seeds {
		info, err := peer.AddrInfoFromString(addr)
		if err != nil {
			logger.Warn().Str("addr", addr).Err(err).Msg("Bad seed address")
			continue
		}
		if info.ID == n.host.ID() {
			continue
		}
		ctx, cancel := context.WithTimeout(n.ctx, 2*peerConnectTimeout)
		err = n.host.Connect(ctx, *info)
		cancel()
		if err != nil {
			logger.Warn().Str("peer", shortID(info.ID)).Err(err).Msg("Seed connect failed")
			continue
		}
		n.addPeer(info.ID, SourceSeed)
		logger.Info().Str("peer", shortID(info.ID)).Msg("Seed connected")
		connected = true
	}
	return connected
}

// connectSeedsLoop retries seed connections while the node has no peers.
func (n *Node) connectSeedsLoop() {
	defer n.wg.Done()
	if len(n.config.Seeds) == 0 {
		return
	}
	logger := klog.WithComponent("p2p")

	ticker := time.NewTicker(seedRetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			if n.PeerCount() == 0 {
				logger.Info().Int("seeds", len(n.config.Seeds)).Msg("No peers, retrying seeds...")
				n.connectSeedsOnce()
			}
		}
	}
}

// --- DHT ---

func (n *Node) initDHT() error {
	mode := dht.ModeClient
	if n.config.DHTServer {
		mode = dht.ModeServer
	}
	kadDHT, err := dht.New(n.ctx, n.host, dht.Mode(mode))
	if err != nil {
		return fmt.Errorf("create kad-dht: %w", err)
	}
	n.dht = kadDHT
	return kadDHT.Bootstrap(n.ctx)
}

func (n *Node) closeDHT() {
	if n.dht != nil {
		n.dht.Close()
		n.dht = nil
	}
}

func shortID(id peer.ID) string {
	s := id.String()
	if len(s) > 16 {
		return s[:16]
	}
	return s
}
