package cluster

import (
	"errors"
	"fmt"
)

// ErrInvariant marks a violation of the registry's partition invariants.
// It is a programming error in the caller, never a recoverable condition:
// every error below is returned wrapped in it.
var ErrInvariant = errors.New("cluster: invariant violation")

var (
	ErrUnknownEntity = errors.New("unknown entity")
	ErrUnknownWallet = errors.New("unknown wallet")
	ErrEmptyEntity   = errors.New("entity has no wallets")
	ErrNotSurvivor   = errors.New("survivor is not the minimum id")
	ErrWalletOwned   = errors.New("wallet already owned by another entity")
	ErrEntityExists  = errors.New("entity id already in use")
	ErrPartition     = errors.New("partition mismatch")
)

func violation(cause error, format string, args ...any) error {
	return fmt.Errorf("%w: %w: %s", ErrInvariant, cause, fmt.Sprintf(format, args...))
}
