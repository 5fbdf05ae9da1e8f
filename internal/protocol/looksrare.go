package protocol

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openfloor/nftindex/internal/domain"
)

type looksRareOrder struct {
	Hash               string         `json:"hash"`
	IsOrderAsk         bool           `json:"isOrderAsk"`
	Signer             common.Address `json:"signer"`
	Collection         common.Address `json:"collection"`
	Price              string         `json:"price"`
	TokenID            string         `json:"tokenId"`
	Amount             string         `json:"amount"`
	Strategy           common.Address `json:"strategy"`
	Currency           common.Address `json:"currency"`
	Nonce              string         `json:"nonce"`
	StartTime          int64          `json:"startTime"`
	EndTime            int64          `json:"endTime"`
	MinPercentageToAsk int            `json:"minPercentageToAsk"`
	V                  int            `json:"v"`
	R                  string         `json:"r"`
	S                  string         `json:"s"`
	// IsCollectionOffer marks the collection-bid strategy: the bid targets
	// any token in the collection and TokenID is ignored.
	IsCollectionOffer bool `json:"isCollectionOffer"`
}

// LooksRareParser handles LooksRare v1 maker orders. Both asks and bids
// settle in WETH.
type LooksRareParser struct {
	cfg Config
}

// NewLooksRareParser builds a LooksRareParser.
func NewLooksRareParser(cfg Config) *LooksRareParser {
	return &LooksRareParser{cfg: cfg}
}

func (p *LooksRareParser) Kind() domain.OrderKind { return domain.OrderKindLooksRare }

// Parse normalizes a LooksRare maker order. Identity is the protocol's
// EIP-712 order hash.
func (p *LooksRareParser) Parse(_ context.Context, raw json.RawMessage, meta domain.OrderMetadata, origin domain.SignalOrigin) (domain.NormalizedOrder, error) {
	var o looksRareOrder
	if err := json.Unmarshal(raw, &o); err != nil {
		return domain.NormalizedOrder{}, domain.Reject(domain.RejectUnknownOrderKind)
	}

	hash, ok := parseHash(o.Hash)
	if !ok {
		return domain.NormalizedOrder{}, domain.Reject(domain.RejectInvalidSignature)
	}
	id := hash.Hex()

	if o.Currency != p.cfg.WETH {
		return domain.NormalizedOrder{}, domain.RejectOrder(domain.RejectUnsupportedPaymentToken, id)
	}

	r, rok := parseHash(o.R)
	s, sok := parseHash(o.S)
	if !origin.OnChain && (!rok || !sok || !validSignatureParts(byte(o.V), r, s)) {
		return domain.NormalizedOrder{}, domain.RejectOrder(domain.RejectInvalidSignature, id)
	}

	price, ok := parseBig(o.Price)
	if !ok || price.Sign() == 0 {
		return domain.NormalizedOrder{}, domain.RejectOrder(domain.RejectZeroPrice, id)
	}

	side := domain.SideBuy
	if o.IsOrderAsk {
		side = domain.SideSell
	}

	var spec domain.TokenSetSpec
	if o.IsCollectionOffer {
		if o.IsOrderAsk {
			// Collection-wide asks do not exist on LooksRare.
			return domain.NormalizedOrder{}, domain.RejectOrder(domain.RejectUnsupportedOrderType, id)
		}
		spec = domain.ContractWideSpec(o.Collection)
	} else {
		tokenID, ok := parseBig(o.TokenID)
		if !ok {
			return domain.NormalizedOrder{}, domain.RejectOrder(domain.RejectInvalidTokenSet, id)
		}
		spec = domain.SingleTokenSpec(o.Collection, tokenID)
	}

	// The protocol fee is flat; minPercentageToAsk bounds total deductions
	// the maker will accept.
	fees := []domain.FeeItem{{
		Kind:      domain.FeeKindMarketplace,
		Recipient: p.cfg.LooksRareFeeRecipient,
		Bps:       p.cfg.LooksRareFeeBps,
	}}
	if err := checkFees(fees, id); err != nil {
		return domain.NormalizedOrder{}, err
	}
	if o.MinPercentageToAsk > 0 && domain.MaxFeeBps-o.MinPercentageToAsk < sumFeeBps(fees) {
		return domain.NormalizedOrder{}, domain.RejectOrder(domain.RejectFeeOverLimit, id)
	}

	quantity, ok := parseBig(o.Amount)
	if !ok || quantity.Sign() == 0 {
		quantity = big.NewInt(1)
	}

	unitPrice := perUnit(price, quantity)
	value := netValue(side, unitPrice, sumFeeBps(fees))
	validFrom, validUntil := validityWindow(o.StartTime, o.EndTime)
	nonce := o.Nonce

	return domain.NormalizedOrder{
		Order: domain.Order{
			ID:                 id,
			Kind:               domain.OrderKindLooksRare,
			Side:               side,
			TokenSetSchemaHash: meta.SchemaHash,
			Maker:              o.Signer,
			Price:              unitPrice,
			Value:              value,
			Currency:           o.Currency,
			CurrencyPrice:      new(big.Int).Set(unitPrice),
			CurrencyValue:      new(big.Int).Set(value),
			QuantityRemaining:  quantity,
			ValidFrom:          validFrom,
			ValidUntil:         validUntil,
			Nonce:              &nonce,
			Source:             meta.Source,
			FeeBps:             sumFeeBps(fees),
			FeeBreakdown:       fees,
			RawData:            raw,
		},
		TokenSet: spec,
		Origin:   origin,
	}, nil
}
