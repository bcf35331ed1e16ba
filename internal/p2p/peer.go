package p2p

import (
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// Peer sources.
const (
	SourceMDNS    = "mdns"
	SourceDHT     = "dht"
	SourceSeed    = "seed"
	SourceStore   = "store"
	SourceInbound = "inbound"
)

// Peer represents a connected peer.
type Peer struct {
	ID          peer.ID
	ConnectedAt time.Time
	Source      string
	ChainLength uint64 // Reported during handshake; 0 until then.
	Verified    bool   // Handshake completed with a matching genesis.
}
