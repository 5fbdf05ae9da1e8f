package protocol

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openfloor/nftindex/internal/domain"
)

type manifoldListing struct {
	ListingID     uint64         `json:"listingId"`
	Exchange      common.Address `json:"exchangeAddress"`
	Seller        common.Address `json:"seller"`
	TokenContract common.Address `json:"tokenContract"`
	TokenID       string         `json:"tokenId"`
	Price         string         `json:"price"`
	Currency      common.Address `json:"currency"`
	Quantity      string         `json:"quantity"`
	EndTime       int64          `json:"endTime"`
	MarketplaceBps int           `json:"marketplaceBps"`
	ReferrerBps    int           `json:"referrerBps"`
}

// ManifoldParser handles Manifold marketplace listings. Manifold has no order
// hash; identity is a composite over the exchange address and the
// incrementing listing id.
type ManifoldParser struct {
	cfg Config
}

// NewManifoldParser builds a ManifoldParser.
func NewManifoldParser(cfg Config) *ManifoldParser {
	return &ManifoldParser{cfg: cfg}
}

func (p *ManifoldParser) Kind() domain.OrderKind { return domain.OrderKindManifold }

func (p *ManifoldParser) Parse(_ context.Context, raw json.RawMessage, meta domain.OrderMetadata, origin domain.SignalOrigin) (domain.NormalizedOrder, error) {
	var o manifoldListing
	if err := json.Unmarshal(raw, &o); err != nil {
		return domain.NormalizedOrder{}, domain.Reject(domain.RejectUnknownOrderKind)
	}

	id := ManifoldOrderID(o.Exchange, o.ListingID)

	price, ok := parseBig(o.Price)
	if !ok || price.Sign() == 0 {
		return domain.NormalizedOrder{}, domain.RejectOrder(domain.RejectZeroPrice, id)
	}
	tokenID, ok := parseBig(o.TokenID)
	if !ok {
		return domain.NormalizedOrder{}, domain.RejectOrder(domain.RejectInvalidTokenSet, id)
	}

	var fees []domain.FeeItem
	if o.MarketplaceBps > 0 {
		fees = append(fees, domain.FeeItem{
			Kind:      domain.FeeKindMarketplace,
			Recipient: o.Exchange,
			Bps:       o.MarketplaceBps + o.ReferrerBps,
		})
	}
	if err := checkFees(fees, id); err != nil {
		return domain.NormalizedOrder{}, err
	}

	quantity, ok := parseBig(o.Quantity)
	if !ok || quantity.Sign() == 0 {
		quantity = big.NewInt(1)
	}

	unitPrice := perUnit(price, quantity)
	value := netValue(domain.SideSell, unitPrice, sumFeeBps(fees))
	validFrom, validUntil := validityWindow(origin.Timestamp.Unix(), o.EndTime)

	return domain.NormalizedOrder{
		Order: domain.Order{
			ID:                 id,
			Kind:               domain.OrderKindManifold,
			Side:               domain.SideSell,
			TokenSetSchemaHash: meta.SchemaHash,
			Maker:              o.Seller,
			Price:              unitPrice,
			Value:              value,
			Currency:           o.Currency,
			CurrencyPrice:      new(big.Int).Set(unitPrice),
			CurrencyValue:      new(big.Int).Set(value),
			QuantityRemaining:  quantity,
			ValidFrom:          validFrom,
			ValidUntil:         validUntil,
			Source:             meta.Source,
			FeeBps:             sumFeeBps(fees),
			FeeBreakdown:       fees,
			RawData:            raw,
		},
		TokenSet: domain.SingleTokenSpec(o.TokenContract, tokenID),
		Origin:   origin,
	}, nil
}
