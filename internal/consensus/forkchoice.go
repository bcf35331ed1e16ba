package consensus

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-ledger/pkg/block"
)

// ErrNoValidChain is returned when neither candidate chain validates.
var ErrNoValidChain = errors.New("neither chain is valid")

// Side identifies which candidate chain fork choice picked.
type Side int

const (
	Local Side = iota
	Remote
)

func (s Side) String() string {
	switch s {
	case Local:
		return "local"
	case Remote:
		return "remote"
	default:
		return fmt.Sprintf("side(%d)", int(s))
	}
}

// ForkChoice picks between the local chain and a remote candidate.
//
// Both valid: the strictly longer chain wins. At equal length the chain whose
// tip hash is lexicographically smaller wins, and identical tips keep local.
// The rule is symmetric, so peers holding either chain converge on the same
// one. Exactly one valid: that chain wins regardless of length.
type ForkChoice struct {
	validator *Validator
}

// NewForkChoice creates a fork-choice selector backed by validator.
func NewForkChoice(validator *Validator) *ForkChoice {
	return &ForkChoice{validator: validator}
}

// Select returns the winning side, or ErrNoValidChain when neither chain
// validates.
func (f *ForkChoice) Select(local, remote []block.Block) (Side, error) {
	_, localErr := f.validator.ValidateChain(local)
	_, remoteErr := f.validator.ValidateChain(remote)

	switch {
	case localErr == nil && remoteErr == nil:
		if len(remote) > len(local) {
			return Remote, nil
		}
		if len(remote) == len(local) && remote[len(remote)-1].Hash < local[len(local)-1].Hash {
			return Remote, nil
		}
		return Local, nil
	case localErr == nil:
		return Local, nil
	case remoteErr == nil:
		return Remote, nil
	default:
		return Local, fmt.Errorf("%w: local: %v; remote: %v", ErrNoValidChain, localErr, remoteErr)
	}
}

// Choose returns the winning chain itself, unchanged.
func (f *ForkChoice) Choose(local, remote []block.Block) ([]block.Block, error) {
	side, err := f.Select(local, remote)
	if err != nil {
		return nil, err
	}
	if side == Remote {
		return remote, nil
	}
	return local, nil
}
