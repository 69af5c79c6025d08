// Package identity derives the deterministic child address used as the
// cross-chain join key. The address is not backed by a key pair; it only has
// to be reproducible from the provider user id and the child's name so that
// three chains and the reconciliation loop agree on which child is which
// without a shared database.
package identity

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrEmptyUserID = errors.New("provider user id cannot be empty")

// DeriveChildAddress hashes providerUserID and childName with keccak-256 and
// takes the conventional 20-byte prefix. Same inputs always yield the same
// address; collisions are cryptographically negligible and not guarded.
func DeriveChildAddress(providerUserID, childName string) (common.Address, error) {
	if providerUserID == "" {
		return common.Address{}, ErrEmptyUserID
	}

	hash := crypto.Keccak256([]byte(providerUserID + childName))

	return common.BytesToAddress(hash[:20]), nil
}

// DeriveChildEmail builds the synthetic internal email under which a child is
// registered at the wallet provider. Children have no real inbox; the address
// only has to be unique per (parent, child name) pair. Runs before the child
// has a provider id of its own, so it is keyed on the parent's.
func DeriveChildEmail(parentUserID, childName string) string {
	hash := crypto.Keccak256([]byte(parentUserID + ":" + childName))
	return fmt.Sprintf("child-%x@family-custody.internal", hash[:8])
}
