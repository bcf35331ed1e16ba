// Klingnet Ledger node daemon.
//
// Usage:
//
//	ledgerd [options]   Run node with an interactive console on stdin
//	ledgerd --help      Show help
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Klingon-tech/klingnet-ledger/config"
	"github.com/Klingon-tech/klingnet-ledger/internal/node"
	"golang.org/x/term"
)

func main() {
	cfg, _, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	n, err := node.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := n.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		n.Stop()
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	go runConsole(ctx, os.Stdin, os.Stdout, n, interactive)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	cancel()
	n.Stop()
}
