package node

import (
	"os"
	"path/filepath"
	"strings"

	klog "github.com/Klingon-tech/klingnet-ledger/internal/log"
	"github.com/Klingon-tech/klingnet-ledger/internal/p2p"
	"github.com/Klingon-tech/klingnet-ledger/pkg/block"
)

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// offlineNetwork stands in for the gossip layer when P2P is disabled.
// Every publish is dropped.
type offlineNetwork struct{}

func (offlineNetwork) PublishChainRequest(req p2p.ChainRequest) error {
	klog.Node.Debug().Str("target", req.Target).Msg("P2P disabled, chain request not sent")
	return nil
}

func (offlineNetwork) PublishChainResponse(resp p2p.ChainResponse) error {
	klog.Node.Debug().Str("receiver", resp.Receiver).Msg("P2P disabled, chain response not sent")
	return nil
}

func (offlineNetwork) PublishBlock(blk block.Block) error {
	klog.Node.Debug().Uint64("height", blk.ID).Msg("P2P disabled, block not broadcast")
	return nil
}
