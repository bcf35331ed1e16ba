// ledger-cli is a command-line client for interacting with a ledgerd node.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Klingon-tech/klingnet-ledger/config"
	"github.com/Klingon-tech/klingnet-ledger/internal/rpcclient"
	"github.com/Klingon-tech/klingnet-ledger/pkg/block"
)

// createTimeout bounds chain_createBlock, which waits for proof of work.
const createTimeout = 10 * time.Minute

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	rpcURL := fmt.Sprintf("http://127.0.0.1:%d", config.DefaultRPCPort)

	// Scan for --rpc before the subcommand.
	args := os.Args[1:]
	for len(args) > 0 {
		switch {
		case args[0] == "--rpc" && len(args) > 1:
			rpcURL = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--rpc="):
			rpcURL = args[0][len("--rpc="):]
			args = args[1:]
		default:
			goto dispatch
		}
	}

dispatch:
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	cmd := args[0]
	cmdArgs := args[1:]
	ctx := context.Background()

	switch cmd {
	case "info":
		cmdInfo(ctx, rpcclient.New(rpcURL))
	case "chain":
		cmdChain(ctx, rpcclient.New(rpcURL), cmdArgs)
	case "block":
		cmdBlock(ctx, rpcclient.New(rpcURL), cmdArgs)
	case "tip":
		cmdTip(ctx, rpcclient.New(rpcURL))
	case "create":
		cmdCreate(ctx, rpcclient.NewWithTimeout(rpcURL, createTimeout), cmdArgs)
	case "peers":
		cmdPeers(ctx, rpcclient.New(rpcURL))
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: ledger-cli [--rpc <url>] <command> [args]

Global flags:
  --rpc <url>         RPC endpoint (default: http://127.0.0.1:%d)

Commands:
  info                Show node summary
  chain [from] [n]    Print the chain as JSON (optionally n blocks from id)
  block <id>          Print one block
  tip                 Print the last block
  create <data...>    Mine and append a block carrying data
  peers               List connected peers
`, config.DefaultRPCPort)
}

// ── info ────────────────────────────────────────────────────────────────

func cmdInfo(ctx context.Context, client *rpcclient.Client) {
	info, err := client.Info(ctx)
	if err != nil {
		fatal("node_getInfo: %v", err)
	}

	fmt.Printf("Version:    %s\n", info.Version)
	fmt.Printf("Peer ID:    %s (%s)\n", info.PeerID, info.KeyType)
	for _, a := range info.Addrs {
		fmt.Printf("  Listen:   %s\n", a)
	}
	fmt.Printf("Genesis:    %s\n", info.GenesisHash)
	fmt.Printf("Difficulty: %s\n", info.DifficultyPrefix)
	fmt.Printf("Length:     %d\n", info.ChainLength)
	fmt.Printf("Tip:        %s\n", info.TipHash)
	fmt.Printf("Peers:      %d\n", info.PeerCount)
}

// ── chain ───────────────────────────────────────────────────────────────

func cmdChain(ctx context.Context, client *rpcclient.Client, args []string) {
	var from, limit uint64
	var err error
	if len(args) > 0 {
		if from, err = strconv.ParseUint(args[0], 10, 64); err != nil {
			fatal("invalid from %q: %v", args[0], err)
		}
	}
	if len(args) > 1 {
		if limit, err = strconv.ParseUint(args[1], 10, 64); err != nil {
			fatal("invalid count %q: %v", args[1], err)
		}
	}

	res, err := client.BlockRange(ctx, from, limit)
	if err != nil {
		fatal("chain_getBlocks: %v", err)
	}
	printJSON(res.Blocks)
	fmt.Fprintf(os.Stderr, "%d of %d blocks\n", len(res.Blocks), res.Length)
}

// ── block / tip ─────────────────────────────────────────────────────────

func cmdBlock(ctx context.Context, client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: ledger-cli block <id>")
	}
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		fatal("invalid block id %q: %v", args[0], err)
	}
	blk, err := client.Block(ctx, id)
	if err != nil {
		fatal("chain_getBlock: %v", err)
	}
	printBlock(blk)
}

func cmdTip(ctx context.Context, client *rpcclient.Client) {
	blk, err := client.Tip(ctx)
	if err != nil {
		fatal("chain_getTip: %v", err)
	}
	printBlock(blk)
}

// ── create ──────────────────────────────────────────────────────────────

func cmdCreate(ctx context.Context, client *rpcclient.Client, args []string) {
	data := strings.TrimSpace(strings.Join(args, " "))
	if data == "" {
		fatal("Usage: ledger-cli create <data...>")
	}

	start := time.Now()
	blk, err := client.CreateBlock(ctx, data)
	if err != nil {
		fatal("chain_createBlock: %v", err)
	}
	fmt.Fprintf(os.Stderr, "Mined in %s\n", time.Since(start).Round(time.Millisecond))
	printBlock(blk)
}

// ── peers ───────────────────────────────────────────────────────────────

func cmdPeers(ctx context.Context, client *rpcclient.Client) {
	peers, err := client.Peers(ctx)
	if err != nil {
		fatal("net_getPeers: %v", err)
	}
	fmt.Printf("Peers:   %d\n", peers.Count)
	for _, p := range peers.Peers {
		fmt.Printf("  %s\n", p)
	}
}

// ── helpers ─────────────────────────────────────────────────────────────

func printBlock(blk *block.Block) {
	fmt.Printf("ID:        %d\n", blk.ID)
	fmt.Printf("Hash:      %s\n", blk.Hash)
	fmt.Printf("Previous:  %s\n", blk.PreviousHash)
	fmt.Printf("Timestamp: %s\n", time.Unix(blk.Timestamp, 0).UTC().Format(time.RFC3339))
	fmt.Printf("Nonce:     %d\n", blk.Nonce)
	fmt.Printf("Data:      %s\n", blk.Data)
}

func printJSON(v interface{}) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fatal("encode: %v", err)
	}
	fmt.Println(string(out))
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
