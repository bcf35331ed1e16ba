package p2p

import (
	"fmt"

	"github.com/Klingon-tech/klingnet-ledger/pkg/block"
)

// PublishChainRequest publishes a ChainRequest on the chain-sync topic.
func (n *Node) PublishChainRequest(req ChainRequest) error {
	data, err := EncodeChainRequest(req)
	if err != nil {
		return fmt.Errorf("marshal chain request: %w", err)
	}
	return n.publish(TopicChainSync, data)
}

// PublishChainResponse publishes a full chain addressed to resp.Receiver.
func (n *Node) PublishChainResponse(resp ChainResponse) error {
	data, err := EncodeChainResponse(resp)
	if err != nil {
		return fmt.Errorf("marshal chain response: %w", err)
	}
	if len(data) > MaxMessageSize {
		return fmt.Errorf("chain response of %d blocks is %d bytes, limit %d",
			len(resp.Blocks), len(data), MaxMessageSize)
	}
	return n.publish(TopicChainResponse, data)
}

// PublishBlock publishes a single block on the new-block topic.
func (n *Node) PublishBlock(blk block.Block) error {
	data, err := EncodeBlock(blk)
	if err != nil {
		return fmt.Errorf("marshal block: %w", err)
	}
	return n.publish(TopicNewBlock, data)
}
