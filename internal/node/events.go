package node

import (
	"github.com/Klingon-tech/klingnet-ledger/internal/p2p"
	"github.com/Klingon-tech/klingnet-ledger/pkg/block"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Event is an input to the Coordinator loop. The set of events is closed;
// dispatch handles each concrete type in one switch.
type Event interface {
	isEvent()
}

// PeerDiscovered reports a newly connected peer.
type PeerDiscovered struct {
	Peer peer.ID
}

// PeerLost reports that the last connection to a peer closed.
type PeerLost struct {
	Peer peer.ID
}

// Init fires once shortly after startup and triggers the initial chain
// request.
type Init struct{}

// LocalInput carries a parsed command from the console or RPC. Reply, when
// non-nil, receives exactly one result and must be buffered.
type LocalInput struct {
	Command Command
	Reply   chan<- CommandResult
}

// ChainRequestReceived carries a decoded message from the chain-sync topic.
type ChainRequestReceived struct {
	From    peer.ID
	Request p2p.ChainRequest
}

// ChainResponseReceived carries a decoded message from the chain-response topic.
type ChainResponseReceived struct {
	From     peer.ID
	Response p2p.ChainResponse
}

// BlockReceived carries a decoded message from the new-block topic.
type BlockReceived struct {
	From  peer.ID
	Block block.Block
}

// blockMined is posted by the mining worker when a job finishes.
type blockMined struct {
	seq   uint64
	job   miningJob
	block block.Block
	err   error
}

func (PeerDiscovered) isEvent()        {}
func (PeerLost) isEvent()              {}
func (Init) isEvent()                  {}
func (LocalInput) isEvent()            {}
func (ChainRequestReceived) isEvent()  {}
func (ChainResponseReceived) isEvent() {}
func (BlockReceived) isEvent()         {}
func (blockMined) isEvent()            {}
