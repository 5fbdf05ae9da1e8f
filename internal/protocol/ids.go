package protocol

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

// Deterministic order ids for protocols without a native order hash. Parsers
// and the on-chain event router must derive the same id for the same logical
// order slot, so the builders live here and both sides call them.

// CryptoPunksOrderID identifies the single standing offer slot for a punk.
func CryptoPunksOrderID(punkIndex *big.Int) string {
	return compositeID([]byte("cryptopunks"), punkIndex.Bytes())
}

// FoundationOrderID identifies the buy-now slot for an NFT on Foundation.
func FoundationOrderID(contract common.Address, tokenID *big.Int) string {
	return compositeID(contract.Bytes(), tokenID.Bytes())
}

// ZoraOrderID identifies the ask slot for an NFT in the Zora asks module.
func ZoraOrderID(contract common.Address, tokenID *big.Int) string {
	return compositeID([]byte("zora"), contract.Bytes(), tokenID.Bytes())
}

// SudoswapOrderID identifies a pool's standing order.
func SudoswapOrderID(pool common.Address) string {
	return compositeID([]byte("sudoswap"), pool.Bytes())
}

// ManifoldOrderID identifies a Manifold marketplace listing.
func ManifoldOrderID(exchange common.Address, listingID uint64) string {
	return compositeID(
		[]byte("manifold"),
		exchange.Bytes(),
		[]byte(strconv.FormatUint(listingID, 10)),
	)
}
