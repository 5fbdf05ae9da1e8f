package protocol

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openfloor/nftindex/internal/domain"
)

type foundationListing struct {
	Maker         common.Address `json:"maker"`
	TokenContract common.Address `json:"tokenContract"`
	TokenID       string         `json:"tokenId"`
	Price         string         `json:"price"`
}

// FoundationParser handles Foundation buy-now listings. Foundation keeps one
// listing per token, so identity is keccak over (contract, tokenId): a newer
// listing for the same token replaces the earlier one in place.
type FoundationParser struct {
	cfg Config
}

// NewFoundationParser builds a FoundationParser.
func NewFoundationParser(cfg Config) *FoundationParser {
	return &FoundationParser{cfg: cfg}
}

func (p *FoundationParser) Kind() domain.OrderKind { return domain.OrderKindFoundation }

func (p *FoundationParser) Parse(_ context.Context, raw json.RawMessage, meta domain.OrderMetadata, origin domain.SignalOrigin) (domain.NormalizedOrder, error) {
	var o foundationListing
	if err := json.Unmarshal(raw, &o); err != nil {
		return domain.NormalizedOrder{}, domain.Reject(domain.RejectUnknownOrderKind)
	}

	tokenID, ok := parseBig(o.TokenID)
	if !ok {
		return domain.NormalizedOrder{}, domain.Reject(domain.RejectInvalidTokenSet)
	}

	id := FoundationOrderID(o.TokenContract, tokenID)

	price, ok := parseBig(o.Price)
	if !ok || price.Sign() == 0 {
		return domain.NormalizedOrder{}, domain.RejectOrder(domain.RejectZeroPrice, id)
	}

	fees := []domain.FeeItem{{
		Kind:      domain.FeeKindMarketplace,
		Recipient: p.cfg.FoundationFeeRecipient,
		Bps:       p.cfg.FoundationFeeBps,
	}}
	if err := checkFees(fees, id); err != nil {
		return domain.NormalizedOrder{}, err
	}

	value := netValue(domain.SideSell, price, sumFeeBps(fees))

	return domain.NormalizedOrder{
		Order: domain.Order{
			ID:                 id,
			Kind:               domain.OrderKindFoundation,
			Side:               domain.SideSell,
			TokenSetSchemaHash: meta.SchemaHash,
			Maker:              o.Maker,
			Price:              price,
			Value:              value,
			Currency:           p.cfg.NativeToken,
			CurrencyPrice:      new(big.Int).Set(price),
			CurrencyValue:      new(big.Int).Set(value),
			QuantityRemaining:  big.NewInt(1),
			ValidFrom:          origin.Timestamp,
			Source:             meta.Source,
			FeeBps:             sumFeeBps(fees),
			FeeBreakdown:       fees,
			RawData:            raw,
		},
		TokenSet: domain.SingleTokenSpec(o.TokenContract, tokenID),
		Origin:   origin,
	}, nil
}
