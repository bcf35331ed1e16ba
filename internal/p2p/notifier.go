package p2p

import (
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/multiformats/go-multiaddr"
)

// connNotifier tracks connection lifecycle events via the network.Notifiee
// interface and turns them into peer connected/disconnected callbacks.
type connNotifier struct {
	node *Node
}

// Connected is called when a new connection is opened.
func (cn *connNotifier) Connected(_ network.Network, conn network.Conn) {
	n := cn.node
	remotePeer := conn.RemotePeer()
	if remotePeer == n.host.ID() {
		return // Ignore self-connections.
	}

	source := SourceInbound
	if conn.Stat().Direction == network.DirOutbound {
		source = ""
	}
	if n.addPeer(remotePeer, source) {
		if fn := n.onPeerConnected; fn != nil {
			go fn(remotePeer)
		}
	}

	// Initiate handshake for outbound connections only (inbound handled by stream handler).
	if n.handshakeEnabled() && conn.Stat().Direction == network.DirOutbound {
		go n.doHandshake(remotePeer)
	}
}

// Disconnected is called when a connection is closed. Only removes the peer
// if there are no remaining connections to it.
func (cn *connNotifier) Disconnected(net network.Network, conn network.Conn) {
	n := cn.node
	remotePeer := conn.RemotePeer()
	if len(net.ConnsToPeer(remotePeer)) > 0 {
		return
	}
	if n.removePeer(remotePeer) {
		if fn := n.onPeerDisconnected; fn != nil {
			go fn(remotePeer)
		}
	}
}

// Listen is called when the node starts listening on a new address.
func (cn *connNotifier) Listen(network.Network, multiaddr.Multiaddr) {}

// ListenClose is called when the node stops listening on an address.
func (cn *connNotifier) ListenClose(network.Network, multiaddr.Multiaddr) {}
