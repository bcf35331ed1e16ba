package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Klingon-tech/klingnet-ledger/internal/node"
)

const prompt = "> "

// executor runs one console line against the node.
type executor interface {
	Execute(ctx context.Context, line string) (node.CommandResult, error)
}

// runConsole reads commands from r, one per line, until EOF or ctx ends.
// Blank lines are skipped. A prompt is printed only when interactive.
func runConsole(ctx context.Context, r io.Reader, w io.Writer, exec executor, interactive bool) {
	scanner := bufio.NewScanner(r)
	if interactive {
		fmt.Fprint(w, prompt)
	}
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			res, err := exec.Execute(ctx, line)
			printResult(w, res, err)
		}
		if interactive {
			fmt.Fprint(w, prompt)
		}
	}
}

func printResult(w io.Writer, res node.CommandResult, err error) {
	switch {
	case errors.Is(err, node.ErrUnknownCommand):
		fmt.Fprintf(w, "%v\n", err)
		fmt.Fprintln(w, "commands: create block <data> | list peers | list chain")
	case err != nil:
		fmt.Fprintf(w, "error: %v\n", err)
	case res.Block != nil:
		fmt.Fprintf(w, "mined block %d hash %s nonce %d\n", res.Block.ID, res.Block.Hash, res.Block.Nonce)
	case res.Peers != nil:
		fmt.Fprintf(w, "peers: %d\n", len(res.Peers))
		for _, p := range res.Peers {
			fmt.Fprintf(w, "  %s\n", p)
		}
	case res.Blocks != nil:
		out, _ := json.MarshalIndent(res.Blocks, "", "  ")
		fmt.Fprintf(w, "%s\n", out)
	}
}
