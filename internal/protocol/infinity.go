package protocol

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openfloor/nftindex/internal/domain"
)

type infinityToken struct {
	TokenID   string `json:"tokenId"`
	NumTokens string `json:"numTokens"`
}

type infinityCollection struct {
	Collection common.Address  `json:"collection"`
	Tokens     []infinityToken `json:"tokens"`
}

type infinityOrder struct {
	Hash        string               `json:"hash"`
	IsSellOrder bool                 `json:"isSellOrder"`
	Signer      common.Address       `json:"signer"`
	NumItems    string               `json:"numItems"`
	StartPrice  string               `json:"startPrice"`
	EndPrice    string               `json:"endPrice"`
	StartTime   int64                `json:"startTime"`
	EndTime     int64                `json:"endTime"`
	Nonce       string               `json:"nonce"`
	Currency    common.Address       `json:"currency"`
	NFTs        []infinityCollection `json:"nfts"`
	Signature   string               `json:"signature"`
}

// InfinityParser handles Infinity orders. An order may scope a whole
// collection, an explicit token list, or a single token; multi-collection
// orders cannot be expressed as one token set and are rejected.
type InfinityParser struct {
	cfg Config
}

// NewInfinityParser builds an InfinityParser.
func NewInfinityParser(cfg Config) *InfinityParser {
	return &InfinityParser{cfg: cfg}
}

func (p *InfinityParser) Kind() domain.OrderKind { return domain.OrderKindInfinity }

func (p *InfinityParser) Parse(_ context.Context, raw json.RawMessage, meta domain.OrderMetadata, origin domain.SignalOrigin) (domain.NormalizedOrder, error) {
	var o infinityOrder
	if err := json.Unmarshal(raw, &o); err != nil {
		return domain.NormalizedOrder{}, domain.Reject(domain.RejectUnknownOrderKind)
	}

	hash, ok := parseHash(o.Hash)
	if !ok {
		return domain.NormalizedOrder{}, domain.Reject(domain.RejectInvalidSignature)
	}
	id := hash.Hex()

	if !origin.OnChain && !validFlatSignature(o.Signature) {
		return domain.NormalizedOrder{}, domain.RejectOrder(domain.RejectInvalidSignature, id)
	}
	if len(o.NFTs) != 1 {
		return domain.NormalizedOrder{}, domain.RejectOrder(domain.RejectUnsupportedOrderType, id)
	}

	side := domain.SideBuy
	if o.IsSellOrder {
		side = domain.SideSell
	}
	if side == domain.SideBuy && o.Currency != p.cfg.WETH {
		return domain.NormalizedOrder{}, domain.RejectOrder(domain.RejectUnsupportedPaymentToken, id)
	}

	price, ok := parseBig(o.StartPrice)
	if !ok || price.Sign() == 0 {
		return domain.NormalizedOrder{}, domain.RejectOrder(domain.RejectZeroPrice, id)
	}
	endPrice, ok := parseBig(o.EndPrice)
	if !ok || endPrice.Cmp(price) != 0 {
		// Declining-price orders need curve evaluation at fill time.
		return domain.NormalizedOrder{}, domain.RejectOrder(domain.RejectUnsupportedOrderType, id)
	}

	col := o.NFTs[0]
	var spec domain.TokenSetSpec
	switch len(col.Tokens) {
	case 0:
		spec = domain.ContractWideSpec(col.Collection)
	case 1:
		tokenID, ok := parseBig(col.Tokens[0].TokenID)
		if !ok {
			return domain.NormalizedOrder{}, domain.RejectOrder(domain.RejectInvalidTokenSet, id)
		}
		spec = domain.SingleTokenSpec(col.Collection, tokenID)
	default:
		ids := make([]*big.Int, 0, len(col.Tokens))
		for _, t := range col.Tokens {
			n, ok := parseBig(t.TokenID)
			if !ok {
				return domain.NormalizedOrder{}, domain.RejectOrder(domain.RejectInvalidTokenSet, id)
			}
			ids = append(ids, n)
		}
		spec = domain.TokenSetSpec{
			Kind:     domain.TokenSetList,
			Contract: col.Collection,
			TokenIDs: ids,
		}
	}

	quantity, ok := parseBig(o.NumItems)
	if !ok || quantity.Sign() == 0 {
		quantity = big.NewInt(1)
	}

	unitPrice := perUnit(price, quantity)
	validFrom, validUntil := validityWindow(o.StartTime, o.EndTime)
	nonce := o.Nonce

	return domain.NormalizedOrder{
		Order: domain.Order{
			ID:                 id,
			Kind:               domain.OrderKindInfinity,
			Side:               side,
			TokenSetSchemaHash: meta.SchemaHash,
			Maker:              o.Signer,
			Price:              unitPrice,
			Value:              new(big.Int).Set(unitPrice),
			Currency:           o.Currency,
			CurrencyPrice:      new(big.Int).Set(unitPrice),
			CurrencyValue:      new(big.Int).Set(unitPrice),
			QuantityRemaining:  quantity,
			ValidFrom:          validFrom,
			ValidUntil:         validUntil,
			Nonce:              &nonce,
			Source:             meta.Source,
			RawData:            raw,
		},
		TokenSet: spec,
		Origin:   origin,
	}, nil
}
