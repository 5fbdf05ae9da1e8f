package protocol

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openfloor/nftindex/internal/domain"
)

type punkOffer struct {
	PunkIndex string         `json:"punkIndex"`
	Seller    common.Address `json:"seller"`
	MinValue  string         `json:"minValue"`
	// OnlySellTo restricts the offer to one buyer; zero address means open.
	OnlySellTo common.Address `json:"onlySellTo"`
}

// CryptoPunksParser handles the original punks marketplace. The contract
// predates order hashing entirely: identity is keccak over the punk index, so
// there is at most one active offer per punk and a relisting replaces it.
type CryptoPunksParser struct {
	cfg Config
}

// NewCryptoPunksParser builds a CryptoPunksParser.
func NewCryptoPunksParser(cfg Config) *CryptoPunksParser {
	return &CryptoPunksParser{cfg: cfg}
}

func (p *CryptoPunksParser) Kind() domain.OrderKind { return domain.OrderKindCryptoPunks }

func (p *CryptoPunksParser) Parse(_ context.Context, raw json.RawMessage, meta domain.OrderMetadata, origin domain.SignalOrigin) (domain.NormalizedOrder, error) {
	var o punkOffer
	if err := json.Unmarshal(raw, &o); err != nil {
		return domain.NormalizedOrder{}, domain.Reject(domain.RejectUnknownOrderKind)
	}

	punkIndex, ok := parseBig(o.PunkIndex)
	if !ok {
		return domain.NormalizedOrder{}, domain.Reject(domain.RejectInvalidTokenSet)
	}

	id := CryptoPunksOrderID(punkIndex)

	price, ok := parseBig(o.MinValue)
	if !ok || price.Sign() == 0 {
		return domain.NormalizedOrder{}, domain.RejectOrder(domain.RejectZeroPrice, id)
	}

	// Punks trade in raw ETH with no fees and no expiration.
	return domain.NormalizedOrder{
		Order: domain.Order{
			ID:                 id,
			Kind:               domain.OrderKindCryptoPunks,
			Side:               domain.SideSell,
			TokenSetSchemaHash: meta.SchemaHash,
			Maker:              o.Seller,
			Taker:              o.OnlySellTo,
			Price:              price,
			Value:              new(big.Int).Set(price),
			Currency:           p.cfg.NativeToken,
			CurrencyPrice:      new(big.Int).Set(price),
			CurrencyValue:      new(big.Int).Set(price),
			QuantityRemaining:  big.NewInt(1),
			ValidFrom:          origin.Timestamp,
			Source:             meta.Source,
			RawData:            raw,
		},
		TokenSet: domain.SingleTokenSpec(p.cfg.CryptoPunksMarket, punkIndex),
		Origin:   origin,
	}, nil
}
