package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TokenStandard selects the balance-read path for an NFT contract.
type TokenStandard string

const (
	StandardERC721  TokenStandard = "erc721"
	StandardERC1155 TokenStandard = "erc1155"
)

// ChainReader exposes the read-only on-chain state the validity checker
// needs. Implementations issue eth_call-style reads; any RPC failure is a
// transient error, never a balance determination.
type ChainReader interface {
	// NFTBalance returns how many units of (contract, tokenId) the owner
	// holds. For ERC721 the result is 0 or 1 (ownerOf comparison).
	NFTBalance(ctx context.Context, standard TokenStandard, contract, owner common.Address, tokenID *big.Int) (*big.Int, error)
	// IsApprovedForAll reports whether operator may move owner's tokens on
	// the given contract.
	IsApprovedForAll(ctx context.Context, contract, owner, operator common.Address) (bool, error)
	ERC20Balance(ctx context.Context, token, owner common.Address) (*big.Int, error)
	ERC20Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
}

// Prices is the oracle's answer for one (currency, amount, timestamp) triple.
// Native is nil when the oracle has no native-denominated price.
type Prices struct {
	Native *big.Int
	USD    *big.Int
}

// PriceOracle converts currency amounts into native and USD terms,
// best-effort.
type PriceOracle interface {
	GetUSDAndNativePrices(ctx context.Context, currency common.Address, amount *big.Int, timestamp int64) (Prices, error)
}
