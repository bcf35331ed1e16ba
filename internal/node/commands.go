package node

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Klingon-tech/klingnet-ledger/pkg/block"
)

// Command errors.
var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrMissingData    = errors.New("create block requires data")
)

// CommandKind identifies a local command.
type CommandKind int

// Local commands.
const (
	CmdCreateBlock CommandKind = iota + 1
	CmdListPeers
	CmdListChain
)

func (k CommandKind) String() string {
	switch k {
	case CmdCreateBlock:
		return "create block"
	case CmdListPeers:
		return "list peers"
	case CmdListChain:
		return "list chain"
	default:
		return fmt.Sprintf("command(%d)", int(k))
	}
}

// Command is a parsed local command.
type Command struct {
	Kind CommandKind
	Data string // block payload for CmdCreateBlock
}

// CommandResult is the reply to a LocalInput event. Exactly one of the
// payload fields is set, or Err.
type CommandResult struct {
	Peers  []string
	Blocks []block.Block
	Block  *block.Block
	Err    error
}

// ParseCommand parses a console line. Accepted forms:
//
//	create block <data>   (alias: create b <data>)
//	list peers            (alias: ls p)
//	list chain            (aliases: ls c, list chains)
//
// Block data is everything after the second word, with surrounding
// whitespace removed.
func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, strings.TrimSpace(line))
	}
	verb, noun := fields[0], fields[1]

	switch {
	case verb == "create" && (noun == "block" || noun == "b"):
		data := strings.TrimSpace(afterFields(line, 2))
		if data == "" {
			return Command{}, ErrMissingData
		}
		return Command{Kind: CmdCreateBlock, Data: data}, nil
	case len(fields) == 2 && isList(verb) && (noun == "peers" || noun == "p"):
		return Command{Kind: CmdListPeers}, nil
	case len(fields) == 2 && isList(verb) && (noun == "chain" || noun == "chains" || noun == "c"):
		return Command{Kind: CmdListChain}, nil
	}
	return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, strings.TrimSpace(line))
}

func isList(verb string) bool {
	return verb == "list" || verb == "ls"
}

// afterFields returns the remainder of s after skipping n
// whitespace-separated words.
func afterFields(s string, n int) string {
	for i := 0; i < n; i++ {
		s = strings.TrimLeft(s, " \t")
		idx := strings.IndexAny(s, " \t")
		if idx < 0 {
			return ""
		}
		s = s[idx:]
	}
	return s
}
