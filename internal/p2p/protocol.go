package p2p

import (
	"github.com/libp2p/go-libp2p/core/protocol"
)

// GossipSub topic names.
const (
	// TopicChainSync carries ChainRequest messages.
	TopicChainSync = "/klingnet-ledger/chain-sync/1.0.0"
	// TopicChainResponse carries ChainResponse messages.
	TopicChainResponse = "/klingnet-ledger/chain-response/1.0.0"
	// TopicNewBlock carries single freshly mined blocks.
	TopicNewBlock = "/klingnet-ledger/new-block/1.0.0"
)

// MaxMessageSize bounds a single gossip message. A ChainResponse carries the
// whole chain, so this also bounds the chain length peers can exchange.
const MaxMessageSize = 4 << 20

// Handshake protocol constants.
const (
	// HandshakeProtocol is the stream protocol ID for peer compatibility checking.
	HandshakeProtocol = protocol.ID("/klingnet-ledger/handshake/1.0.0")

	// ProtocolVersion is the current protocol version advertised during handshake.
	ProtocolVersion uint32 = 1

	// MinProtocolVersion is the minimum protocol version we accept from peers.
	MinProtocolVersion uint32 = 1
)
