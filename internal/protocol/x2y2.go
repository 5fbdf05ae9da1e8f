package protocol

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openfloor/nftindex/internal/domain"
)

type x2y2Order struct {
	ItemHash      string         `json:"itemHash"`
	Maker         common.Address `json:"maker"`
	Taker         common.Address `json:"taker"`
	Currency      common.Address `json:"currency"`
	Price         string         `json:"price"`
	Contract      common.Address `json:"nft_contract"`
	TokenID       string         `json:"nft_token_id"`
	Amount        string         `json:"nft_amount"`
	Side          string         `json:"side"` // "sell" | "buy"
	Deadline      int64          `json:"deadline"`
	CreatedAt     int64          `json:"created_at"`
	RoyaltyFeeBps int            `json:"royalty_fee"`
	RoyaltyTo     common.Address `json:"royalty_to"`
	Signature     string         `json:"signature"`
}

// X2Y2Parser handles X2Y2 orders. Identity is the protocol's item hash; asks
// settle in the native token, bids in WETH.
type X2Y2Parser struct {
	cfg Config
}

// NewX2Y2Parser builds an X2Y2Parser.
func NewX2Y2Parser(cfg Config) *X2Y2Parser {
	return &X2Y2Parser{cfg: cfg}
}

func (p *X2Y2Parser) Kind() domain.OrderKind { return domain.OrderKindX2Y2 }

func (p *X2Y2Parser) Parse(_ context.Context, raw json.RawMessage, meta domain.OrderMetadata, origin domain.SignalOrigin) (domain.NormalizedOrder, error) {
	var o x2y2Order
	if err := json.Unmarshal(raw, &o); err != nil {
		return domain.NormalizedOrder{}, domain.Reject(domain.RejectUnknownOrderKind)
	}

	hash, ok := parseHash(o.ItemHash)
	if !ok {
		return domain.NormalizedOrder{}, domain.Reject(domain.RejectInvalidSignature)
	}
	id := hash.Hex()

	var side domain.Side
	switch o.Side {
	case "sell":
		side = domain.SideSell
		if o.Currency != p.cfg.NativeToken && o.Currency != p.cfg.WETH {
			return domain.NormalizedOrder{}, domain.RejectOrder(domain.RejectUnsupportedPaymentToken, id)
		}
	case "buy":
		side = domain.SideBuy
		if o.Currency != p.cfg.WETH {
			return domain.NormalizedOrder{}, domain.RejectOrder(domain.RejectUnsupportedPaymentToken, id)
		}
	default:
		return domain.NormalizedOrder{}, domain.RejectOrder(domain.RejectUnsupportedOrderType, id)
	}

	if !origin.OnChain && !validFlatSignature(o.Signature) {
		return domain.NormalizedOrder{}, domain.RejectOrder(domain.RejectInvalidSignature, id)
	}

	price, ok := parseBig(o.Price)
	if !ok || price.Sign() == 0 {
		return domain.NormalizedOrder{}, domain.RejectOrder(domain.RejectZeroPrice, id)
	}
	tokenID, ok := parseBig(o.TokenID)
	if !ok {
		return domain.NormalizedOrder{}, domain.RejectOrder(domain.RejectInvalidTokenSet, id)
	}

	fees := []domain.FeeItem{{
		Kind:      domain.FeeKindMarketplace,
		Recipient: p.cfg.X2Y2FeeRecipient,
		Bps:       p.cfg.X2Y2FeeBps,
	}}
	if o.RoyaltyFeeBps > 0 {
		fees = append(fees, domain.FeeItem{
			Kind:      domain.FeeKindRoyalty,
			Recipient: o.RoyaltyTo,
			Bps:       o.RoyaltyFeeBps,
		})
	}
	if err := checkFees(fees, id); err != nil {
		return domain.NormalizedOrder{}, err
	}

	quantity, ok := parseBig(o.Amount)
	if !ok || quantity.Sign() == 0 {
		quantity = big.NewInt(1)
	}

	unitPrice := perUnit(price, quantity)
	value := netValue(side, unitPrice, sumFeeBps(fees))
	validFrom, validUntil := validityWindow(o.CreatedAt, o.Deadline)

	return domain.NormalizedOrder{
		Order: domain.Order{
			ID:                 id,
			Kind:               domain.OrderKindX2Y2,
			Side:               side,
			TokenSetSchemaHash: meta.SchemaHash,
			Maker:              o.Maker,
			Taker:              o.Taker,
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
		TokenSet: domain.SingleTokenSpec(o.Contract, tokenID),
		Origin:   origin,
	}, nil
}
