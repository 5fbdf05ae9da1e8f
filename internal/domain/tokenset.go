package domain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TokenSetKind enumerates the supported token-set shapes.
type TokenSetKind string

const (
	// TokenSetSingle covers exactly one (contract, tokenId).
	TokenSetSingle TokenSetKind = "single-token"
	// TokenSetContract covers an entire collection.
	TokenSetContract TokenSetKind = "contract-wide"
	// TokenSetList covers an explicit token-id list, identified by its merkle root.
	TokenSetList TokenSetKind = "token-list"
	// TokenSetRange covers a contiguous tokenId interval.
	TokenSetRange TokenSetKind = "range"
	// TokenSetNonFlagged covers all non-flagged tokens of a collection and is
	// recomputed as flags change.
	TokenSetNonFlagged TokenSetKind = "dynamic:collection-non-flagged"
)

// TokenSetSpec describes the token scope an order applies to, before
// resolution into a persisted token set. Exactly the fields relevant to Kind
// are populated.
type TokenSetSpec struct {
	Kind     TokenSetKind
	Contract common.Address

	// TokenID for single-token sets.
	TokenID *big.Int

	// TokenIDs for token-list sets. A one-element list must be collapsed to a
	// single-token set by the resolver.
	TokenIDs []*big.Int

	// Start and End (inclusive) for range sets.
	Start *big.Int
	End   *big.Int
}

// SingleTokenSpec is a convenience constructor for the most common scope.
func SingleTokenSpec(contract common.Address, tokenID *big.Int) TokenSetSpec {
	return TokenSetSpec{Kind: TokenSetSingle, Contract: contract, TokenID: tokenID}
}

// ContractWideSpec scopes an order to a whole collection.
func ContractWideSpec(contract common.Address) TokenSetSpec {
	return TokenSetSpec{Kind: TokenSetContract, Contract: contract}
}

// TokenSet is a persisted, deterministic-id token scope shared by any number
// of orders. Rows are append-only: re-saving an existing id is a no-op.
type TokenSet struct {
	ID         string
	SchemaHash common.Hash
	Kind       TokenSetKind
	Contract   common.Address

	TokenID  *big.Int
	TokenIDs []*big.Int
	Start    *big.Int
	End      *big.Int
}

// SingleTokenID builds the deterministic id for a single-token set.
func SingleTokenID(contract common.Address, tokenID *big.Int) string {
	return fmt.Sprintf("token:%s:%s", addrLower(contract), tokenID.String())
}

// ContractWideID builds the deterministic id for a contract-wide set.
func ContractWideID(contract common.Address) string {
	return fmt.Sprintf("contract:%s", addrLower(contract))
}

// TokenListID builds the deterministic id for a token-list set from its
// merkle root.
func TokenListID(contract common.Address, merkleRoot common.Hash) string {
	return fmt.Sprintf("list:%s:%s", addrLower(contract), merkleRoot.Hex())
}

// TokenRangeID builds the deterministic id for a contiguous range set.
func TokenRangeID(contract common.Address, start, end *big.Int) string {
	return fmt.Sprintf("range:%s:%s:%s", addrLower(contract), start.String(), end.String())
}

// NonFlaggedID builds the deterministic id for a dynamic non-flagged set.
func NonFlaggedID(contract common.Address) string {
	return fmt.Sprintf("dynamic:collection-non-flagged:%s", addrLower(contract))
}

func addrLower(a common.Address) string {
	return "0x" + common.Bytes2Hex(a.Bytes())
}
