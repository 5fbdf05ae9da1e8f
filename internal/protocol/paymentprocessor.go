package protocol

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openfloor/nftindex/internal/domain"
)

type paymentProcessorOrder struct {
	OrderHash            string         `json:"orderHash"`
	SellerAcceptedOffer  bool           `json:"sellerAcceptedOffer"`
	Marketplace          common.Address `json:"marketplace"`
	MarketplaceFeeBps    int            `json:"marketplaceFeeNumerator"`
	RoyaltyFeeBps        int            `json:"maxRoyaltyFeeNumerator"`
	RoyaltyReceiver      common.Address `json:"royaltyReceiver"`
	Trader               common.Address `json:"trader"`
	TokenAddress         common.Address `json:"tokenAddress"`
	TokenID              string         `json:"tokenId"`
	Amount               string         `json:"amount"`
	Price                string         `json:"price"`
	// Coin is the zero address for native-token sales.
	Coin        common.Address `json:"coin"`
	Expiration  int64          `json:"expiration"`
	Nonce       string         `json:"nonce"`
	MasterNonce string         `json:"masterNonce"`
	Signature   string         `json:"signature"`
}

// PaymentProcessorParser handles PaymentProcessor orders. Identity is the
// protocol's EIP-712 digest.
type PaymentProcessorParser struct {
	cfg Config
}

// NewPaymentProcessorParser builds a PaymentProcessorParser.
func NewPaymentProcessorParser(cfg Config) *PaymentProcessorParser {
	return &PaymentProcessorParser{cfg: cfg}
}

func (p *PaymentProcessorParser) Kind() domain.OrderKind { return domain.OrderKindPaymentProcessor }

func (p *PaymentProcessorParser) Parse(_ context.Context, raw json.RawMessage, meta domain.OrderMetadata, origin domain.SignalOrigin) (domain.NormalizedOrder, error) {
	var o paymentProcessorOrder
	if err := json.Unmarshal(raw, &o); err != nil {
		return domain.NormalizedOrder{}, domain.Reject(domain.RejectUnknownOrderKind)
	}

	hash, ok := parseHash(o.OrderHash)
	if !ok {
		return domain.NormalizedOrder{}, domain.Reject(domain.RejectInvalidSignature)
	}
	id := hash.Hex()

	if !origin.OnChain && !validFlatSignature(o.Signature) {
		return domain.NormalizedOrder{}, domain.RejectOrder(domain.RejectInvalidSignature, id)
	}

	side := domain.SideSell
	if o.SellerAcceptedOffer {
		side = domain.SideBuy
	}
	if side == domain.SideBuy && o.Coin == p.cfg.NativeToken {
		return domain.NormalizedOrder{}, domain.RejectOrder(domain.RejectUnsupportedPaymentToken, id)
	}

	price, ok := parseBig(o.Price)
	if !ok || price.Sign() == 0 {
		return domain.NormalizedOrder{}, domain.RejectOrder(domain.RejectZeroPrice, id)
	}
	tokenID, ok := parseBig(o.TokenID)
	if !ok {
		return domain.NormalizedOrder{}, domain.RejectOrder(domain.RejectInvalidTokenSet, id)
	}

	var fees []domain.FeeItem
	if o.MarketplaceFeeBps > 0 {
		fees = append(fees, domain.FeeItem{
			Kind:      domain.FeeKindMarketplace,
			Recipient: o.Marketplace,
			Bps:       o.MarketplaceFeeBps,
		})
	}
	if o.RoyaltyFeeBps > 0 {
		fees = append(fees, domain.FeeItem{
			Kind:      domain.FeeKindRoyalty,
			Recipient: o.RoyaltyReceiver,
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
	validFrom, validUntil := validityWindow(origin.Timestamp.Unix(), o.Expiration)
	nonce := o.Nonce

	return domain.NormalizedOrder{
		Order: domain.Order{
			ID:                 id,
			Kind:               domain.OrderKindPaymentProcessor,
			Side:               side,
			TokenSetSchemaHash: meta.SchemaHash,
			Maker:              o.Trader,
			Price:              unitPrice,
			Value:              value,
			Currency:           o.Coin,
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
		TokenSet: domain.SingleTokenSpec(o.TokenAddress, tokenID),
		Origin:   origin,
	}, nil
}
