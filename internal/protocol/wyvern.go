package protocol

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openfloor/nftindex/internal/domain"
)

// Wyvern sale kinds. Dutch auctions need curve evaluation at fill time and
// are not indexable as standing orders.
const (
	wyvernSaleFixedPrice = 0
	wyvernSaleDutch      = 1
)

const (
	wyvernSideBuy  = 0
	wyvernSideSell = 1
)

type wyvernOrder struct {
	Hash            string         `json:"hash"`
	Exchange        common.Address `json:"exchange"`
	Maker           common.Address `json:"maker"`
	Taker           common.Address `json:"taker"`
	MakerRelayerFee string         `json:"makerRelayerFee"`
	TakerRelayerFee string         `json:"takerRelayerFee"`
	FeeRecipient    common.Address `json:"feeRecipient"`
	Side            int            `json:"side"`
	SaleKind        int            `json:"saleKind"`
	PaymentToken    common.Address `json:"paymentToken"`
	BasePrice       string         `json:"basePrice"`
	ListingTime     int64          `json:"listingTime"`
	// ExpirationTime packs the unix expiration into the low 32 bits.
	ExpirationTime string `json:"expirationTime"`
	// Collection and TokenID are pre-decoded from the order calldata by the
	// feed; the raw calldata is preserved in RawData.
	Collection common.Address `json:"collection"`
	TokenID    string         `json:"tokenId"`
	V          int            `json:"v"`
	R          string         `json:"r"`
	S          string         `json:"s"`
}

// WyvernParser handles legacy Wyvern 2.3 orders (the original OpenSea
// exchange). Identity is the protocol's order hash.
type WyvernParser struct {
	cfg Config
}

// NewWyvernParser builds a WyvernParser.
func NewWyvernParser(cfg Config) *WyvernParser {
	return &WyvernParser{cfg: cfg}
}

func (p *WyvernParser) Kind() domain.OrderKind { return domain.OrderKindWyvernV23 }

func (p *WyvernParser) Parse(_ context.Context, raw json.RawMessage, meta domain.OrderMetadata, origin domain.SignalOrigin) (domain.NormalizedOrder, error) {
	var o wyvernOrder
	if err := json.Unmarshal(raw, &o); err != nil {
		return domain.NormalizedOrder{}, domain.Reject(domain.RejectUnknownOrderKind)
	}

	hash, ok := parseHash(o.Hash)
	if !ok {
		return domain.NormalizedOrder{}, domain.Reject(domain.RejectInvalidSignature)
	}
	id := hash.Hex()

	if o.SaleKind != wyvernSaleFixedPrice {
		return domain.NormalizedOrder{}, domain.RejectOrder(domain.RejectUnsupportedOrderType, id)
	}

	var side domain.Side
	switch o.Side {
	case wyvernSideSell:
		side = domain.SideSell
		if o.PaymentToken != p.cfg.NativeToken && o.PaymentToken != p.cfg.WETH {
			return domain.NormalizedOrder{}, domain.RejectOrder(domain.RejectUnsupportedPaymentToken, id)
		}
	case wyvernSideBuy:
		side = domain.SideBuy
		if o.PaymentToken != p.cfg.WETH {
			return domain.NormalizedOrder{}, domain.RejectOrder(domain.RejectUnsupportedPaymentToken, id)
		}
	default:
		return domain.NormalizedOrder{}, domain.RejectOrder(domain.RejectUnsupportedOrderType, id)
	}

	r, rok := parseHash(o.R)
	s, sok := parseHash(o.S)
	if !origin.OnChain && (!rok || !sok || !validSignatureParts(byte(o.V), r, s)) {
		return domain.NormalizedOrder{}, domain.RejectOrder(domain.RejectInvalidSignature, id)
	}

	price, ok := parseBig(o.BasePrice)
	if !ok || price.Sign() == 0 {
		return domain.NormalizedOrder{}, domain.RejectOrder(domain.RejectZeroPrice, id)
	}
	tokenID, ok := parseBig(o.TokenID)
	if !ok {
		return domain.NormalizedOrder{}, domain.RejectOrder(domain.RejectInvalidTokenSet, id)
	}

	// The maker-side relayer fee is the only deduction Wyvern encodes; it is
	// expressed directly in bps.
	feeStr := o.MakerRelayerFee
	if side == domain.SideBuy {
		feeStr = o.TakerRelayerFee
	}
	var fees []domain.FeeItem
	if feeBig, ok := parseBig(feeStr); ok && feeBig.Sign() > 0 {
		fees = append(fees, domain.FeeItem{
			Kind:      domain.FeeKindMarketplace,
			Recipient: o.FeeRecipient,
			Bps:       int(feeBig.Int64()),
		})
	}
	if err := checkFees(fees, id); err != nil {
		return domain.NormalizedOrder{}, err
	}

	expiry, ok := parseBig(o.ExpirationTime)
	if !ok {
		return domain.NormalizedOrder{}, domain.RejectOrder(domain.RejectUnsupportedOrderType, id)
	}
	validFrom, validUntil := validityWindow(o.ListingTime, packedExpiry(expiry))

	value := netValue(side, price, sumFeeBps(fees))

	return domain.NormalizedOrder{
		Order: domain.Order{
			ID:                 id,
			Kind:               domain.OrderKindWyvernV23,
			Side:               side,
			TokenSetSchemaHash: meta.SchemaHash,
			Maker:              o.Maker,
			Taker:              o.Taker,
			Price:              price,
			Value:              value,
			Currency:           o.PaymentToken,
			CurrencyPrice:      new(big.Int).Set(price),
			CurrencyValue:      new(big.Int).Set(value),
			QuantityRemaining:  big.NewInt(1),
			ValidFrom:          validFrom,
			ValidUntil:         validUntil,
			Source:             meta.Source,
			FeeBps:             sumFeeBps(fees),
			FeeBreakdown:       fees,
			RawData:            raw,
		},
		TokenSet: domain.SingleTokenSpec(o.Collection, tokenID),
		Origin:   origin,
	}, nil
}
