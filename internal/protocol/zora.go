package protocol

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openfloor/nftindex/internal/domain"
)

type zoraAsk struct {
	Seller               common.Address `json:"seller"`
	TokenContract        common.Address `json:"tokenContract"`
	TokenID              string         `json:"tokenId"`
	AskPrice             string         `json:"askPrice"`
	AskCurrency          common.Address `json:"askCurrency"`
	SellerFundsRecipient common.Address `json:"sellerFundsRecipient"`
	FindersFeeBps        int            `json:"findersFeeBps"`
}

// ZoraParser handles Zora V3 asks. Zora keeps at most one ask per
// (contract, tokenId), so identity is a composite over the pair rather than a
// signature hash: a relisting replaces the previous ask in place.
type ZoraParser struct {
	cfg Config
}

// NewZoraParser builds a ZoraParser.
func NewZoraParser(cfg Config) *ZoraParser {
	return &ZoraParser{cfg: cfg}
}

func (p *ZoraParser) Kind() domain.OrderKind { return domain.OrderKindZora }

func (p *ZoraParser) Parse(_ context.Context, raw json.RawMessage, meta domain.OrderMetadata, origin domain.SignalOrigin) (domain.NormalizedOrder, error) {
	var o zoraAsk
	if err := json.Unmarshal(raw, &o); err != nil {
		return domain.NormalizedOrder{}, domain.Reject(domain.RejectUnknownOrderKind)
	}

	tokenID, ok := parseBig(o.TokenID)
	if !ok {
		return domain.NormalizedOrder{}, domain.Reject(domain.RejectInvalidTokenSet)
	}

	id := ZoraOrderID(o.TokenContract, tokenID)

	price, ok := parseBig(o.AskPrice)
	if !ok || price.Sign() == 0 {
		return domain.NormalizedOrder{}, domain.RejectOrder(domain.RejectZeroPrice, id)
	}

	var fees []domain.FeeItem
	if o.FindersFeeBps > 0 {
		fees = append(fees, domain.FeeItem{
			Kind: domain.FeeKindMarketplace,
			Bps:  o.FindersFeeBps,
		})
	}
	if err := checkFees(fees, id); err != nil {
		return domain.NormalizedOrder{}, err
	}

	value := netValue(domain.SideSell, price, sumFeeBps(fees))

	return domain.NormalizedOrder{
		Order: domain.Order{
			ID:                 id,
			Kind:               domain.OrderKindZora,
			Side:               domain.SideSell,
			TokenSetSchemaHash: meta.SchemaHash,
			Maker:              o.Seller,
			Price:              price,
			Value:              value,
			Currency:           o.AskCurrency,
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
