// Package protocol contains the per-exchange order parsers. Each parser turns
// a protocol-native payload into a canonical domain.NormalizedOrder or a
// structural rejection with a specific reason. Parsers never touch the chain
// or the database.
package protocol

import (
	"context"
	"encoding/json"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/openfloor/nftindex/internal/domain"
)

// Parser converts one protocol's native order payloads.
type Parser interface {
	Kind() domain.OrderKind
	Parse(ctx context.Context, raw json.RawMessage, meta domain.OrderMetadata, origin domain.SignalOrigin) (domain.NormalizedOrder, error)
}

// Config carries the chain-specific addresses and fee parameters the parsers
// need. It is built once at startup and shared read-only across goroutines.
type Config struct {
	// WETH is the wrapped-native token; the only accepted bid currency for
	// protocols that disallow native-token bids.
	WETH common.Address
	// NativeToken is the zero-address sentinel for the chain's native coin.
	NativeToken common.Address

	// Exchange/operator contracts per protocol; the operator is what the
	// validity checker tests approvals against.
	SeaportExchange     common.Address
	SeaportConduit      common.Address
	LooksRareExchange   common.Address
	LooksRareTransferMgr common.Address
	X2Y2Exchange        common.Address
	ZoraModule          common.Address
	ElementExchange     common.Address
	ManifoldExchange    common.Address
	CryptoPunksMarket   common.Address
	FoundationMarket    common.Address
	InfinityExchange    common.Address
	WyvernExchange      common.Address
	WyvernTokenProxy    common.Address
	PaymentProcessor    common.Address

	// Flat marketplace fee schedules, in bps.
	LooksRareFeeBps  int
	FoundationFeeBps int
	X2Y2FeeBps       int

	LooksRareFeeRecipient  common.Address
	FoundationFeeRecipient common.Address
	X2Y2FeeRecipient       common.Address
}

// Operator returns the contract that must be approved to move the maker's
// assets for orders of the given kind.
func (c Config) Operator(kind domain.OrderKind) common.Address {
	switch kind {
	case domain.OrderKindSeaport:
		return c.SeaportConduit
	case domain.OrderKindLooksRare:
		return c.LooksRareTransferMgr
	case domain.OrderKindX2Y2:
		return c.X2Y2Exchange
	case domain.OrderKindZora:
		return c.ZoraModule
	case domain.OrderKindElementERC721, domain.OrderKindElementERC1155:
		return c.ElementExchange
	case domain.OrderKindManifold:
		return c.ManifoldExchange
	case domain.OrderKindCryptoPunks:
		return c.CryptoPunksMarket
	case domain.OrderKindFoundation:
		return c.FoundationMarket
	case domain.OrderKindInfinity:
		return c.InfinityExchange
	case domain.OrderKindWyvernV23:
		return c.WyvernTokenProxy
	case domain.OrderKindPaymentProcessor:
		return c.PaymentProcessor
	default:
		return common.Address{}
	}
}

// ---------------------------------------------------------------------------
// Shared payload helpers. Amounts arrive as decimal strings, addresses and
// hashes as 0x-hex.
// ---------------------------------------------------------------------------

func parseBig(s string) (*big.Int, bool) {
	if s == "" {
		return nil, false
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return nil, false
	}
	return n, true
}

func parseHash(s string) (common.Hash, bool) {
	if !strings.HasPrefix(s, "0x") || len(s) != 66 {
		return common.Hash{}, false
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return common.Hash{}, false
	}
	return common.BytesToHash(b), true
}

// validFlatSignature checks a packed 65-byte r||s||v hex signature for shape:
// correct length, non-zero r and s, v in {0, 1, 27, 28}.
func validFlatSignature(sig string) bool {
	b, err := hexutil.Decode(sig)
	if err != nil || len(b) != 65 {
		return false
	}
	return validSignatureParts(b[64], common.BytesToHash(b[:32]), common.BytesToHash(b[32:64]))
}

func validSignatureParts(v byte, r, s common.Hash) bool {
	if r == (common.Hash{}) || s == (common.Hash{}) {
		return false
	}
	switch v {
	case 0, 1, 27, 28:
		return true
	default:
		return false
	}
}

// compositeID derives a deterministic order id for protocols without native
// order hashing: keccak256 over the given parts.
func compositeID(parts ...[]byte) string {
	return hexutil.Encode(crypto.Keccak256(parts...))
}

// validityWindow converts unix-second bounds into the order's valid range. A
// zero end means no expiration.
func validityWindow(start, end int64) (time.Time, *time.Time) {
	from := time.Unix(start, 0).UTC()
	if end == 0 {
		return from, nil
	}
	until := time.Unix(end, 0).UTC()
	return from, &until
}

// packedExpiry extracts the expiration from a bitmasked expiry field
// (low 32 bits hold the unix timestamp, the rest is protocol flags).
func packedExpiry(expiry *big.Int) int64 {
	return int64(new(big.Int).And(expiry, big.NewInt(0xffffffff)).Uint64())
}

// sumFeeBps totals a fee breakdown.
func sumFeeBps(fees []domain.FeeItem) int {
	total := 0
	for _, f := range fees {
		total += f.Bps
	}
	return total
}

// netValue computes price minus fees for buy orders: a bid's value is what
// the maker actually offers once fees come out. Sell orders keep value=price.
func netValue(side domain.Side, price *big.Int, feeBps int) *big.Int {
	if side == domain.SideSell || feeBps <= 0 {
		return new(big.Int).Set(price)
	}
	fee := new(big.Int).Mul(price, big.NewInt(int64(feeBps)))
	fee.Div(fee, big.NewInt(domain.MaxFeeBps))
	return new(big.Int).Sub(price, fee)
}

// perUnit divides an aggregate amount across n units, truncating. Used for
// ERC1155 bundle orders where price and fees are quoted for the whole lot.
func perUnit(total *big.Int, n *big.Int) *big.Int {
	if n == nil || n.Sign() <= 0 {
		return new(big.Int).Set(total)
	}
	return new(big.Int).Div(total, n)
}

// checkFees rejects breakdowns that exceed 100%.
func checkFees(fees []domain.FeeItem, orderID string) error {
	if sumFeeBps(fees) > domain.MaxFeeBps {
		return domain.RejectOrder(domain.RejectFeeOverLimit, orderID)
	}
	return nil
}

// feeBpsFromAmounts derives a bps figure for a fee paid as an absolute amount
// of a gross price.
func feeBpsFromAmounts(fee, gross *big.Int) int {
	if gross == nil || gross.Sign() == 0 {
		return 0
	}
	bps := new(big.Int).Mul(fee, big.NewInt(domain.MaxFeeBps))
	bps.Div(bps, gross)
	return int(bps.Int64())
}
