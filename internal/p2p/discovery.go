package p2p

import (
	"context"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	dutil "github.com/libp2p/go-libp2p/p2p/discovery/util"
)

// discoveryNotifee handles mDNS peer discovery notifications.
type discoveryNotifee struct {
	node *Node
}

// HandlePeerFound is called when a peer is discovered via mDNS.
func (d *discoveryNotifee) HandlePeerFound(pi peer.AddrInfo) {
	d.node.connectDiscovered(pi, SourceMDNS)
}

// connectDiscovered dials a peer found by a discovery mechanism. The
// connection notifier takes care of registering it.
func (n *Node) connectDiscovered(pi peer.AddrInfo, source string) {
	if n.host == nil || pi.ID == n.host.ID() || len(pi.Addrs) == 0 {
		return
	}
	if n.config.MaxPeers > 0 && n.PeerCount() >= n.config.MaxPeers {
		return
	}

	ctx, cancel := context.WithTimeout(n.ctx, peerConnectTimeout)
	defer cancel()
	if err := n.host.Connect(ctx, pi); err == nil {
		n.addPeer(pi.ID, source)
	}
}

func (n *Node) runDHTDiscovery() {
	defer n.wg.Done()

	routingDiscovery := drouting.NewRoutingDiscovery(n.dht)
	dutil.Advertise(n.ctx, routingDiscovery, n.rendezvous())

	ticker := time.NewTicker(dhtDiscoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			n.findDHTPeers(routingDiscovery)
		}
	}
}

func (n *Node) findDHTPeers(routingDiscovery *drouting.RoutingDiscovery) {
	ctx, cancel := context.WithTimeout(n.ctx, 20*time.Second)
	defer cancel()

	peerCh, err := routingDiscovery.FindPeers(ctx, n.rendezvous())
	if err != nil {
		return
	}
	for p := range peerCh {
		n.connectDiscovered(p, SourceDHT)
	}
}
