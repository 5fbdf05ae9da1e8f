package protocol

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openfloor/nftindex/internal/domain"
)

type elementFee struct {
	Recipient common.Address `json:"recipient"`
	Amount    string         `json:"amount"`
}

type elementOrder struct {
	OrderHash        string         `json:"orderHash"`
	Maker            common.Address `json:"maker"`
	Taker            common.Address `json:"taker"`
	// Expiry packs the unix expiration into the low 32 bits; the upper bits
	// carry protocol flags.
	Expiry           string         `json:"expiry"`
	Nonce            string         `json:"nonce"`
	ERC20Token       common.Address `json:"erc20Token"`
	ERC20TokenAmount string         `json:"erc20TokenAmount"`
	Fees             []elementFee   `json:"fees"`
	NFT              common.Address `json:"nft"`
	NFTID            string         `json:"nftId"`
	// NFTAmount is only present on ERC1155 orders; the price and fees then
	// cover the whole lot.
	NFTAmount string `json:"nftAmount,omitempty"`
	IsSell    bool   `json:"isSellOrder"`
	Signature string `json:"signature"`
}

// ElementParser handles Element (0x-style) ERC721 and ERC1155 orders. The two
// kinds share a payload; the ERC1155 variant adds lot quantity and partial
// fills.
type ElementParser struct {
	cfg  Config
	kind domain.OrderKind
}

// NewElementParser builds an ElementParser for one of the two Element kinds.
func NewElementParser(cfg Config, kind domain.OrderKind) *ElementParser {
	return &ElementParser{cfg: cfg, kind: kind}
}

func (p *ElementParser) Kind() domain.OrderKind { return p.kind }

func (p *ElementParser) Parse(_ context.Context, raw json.RawMessage, meta domain.OrderMetadata, origin domain.SignalOrigin) (domain.NormalizedOrder, error) {
	var o elementOrder
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

	side := domain.SideBuy
	if o.IsSell {
		side = domain.SideSell
	}
	if side == domain.SideSell {
		if o.ERC20Token != p.cfg.NativeToken && o.ERC20Token != p.cfg.WETH {
			return domain.NormalizedOrder{}, domain.RejectOrder(domain.RejectUnsupportedPaymentToken, id)
		}
	} else if o.ERC20Token != p.cfg.WETH {
		return domain.NormalizedOrder{}, domain.RejectOrder(domain.RejectUnsupportedPaymentToken, id)
	}

	gross, ok := parseBig(o.ERC20TokenAmount)
	if !ok || gross.Sign() == 0 {
		return domain.NormalizedOrder{}, domain.RejectOrder(domain.RejectZeroPrice, id)
	}
	tokenID, ok := parseBig(o.NFTID)
	if !ok {
		return domain.NormalizedOrder{}, domain.RejectOrder(domain.RejectInvalidTokenSet, id)
	}

	quantity := big.NewInt(1)
	if p.kind == domain.OrderKindElementERC1155 {
		q, ok := parseBig(o.NFTAmount)
		if !ok || q.Sign() == 0 {
			return domain.NormalizedOrder{}, domain.RejectOrder(domain.RejectUnsupportedOrderType, id)
		}
		quantity = q
	}

	// Fees are absolute amounts on top of the erc20 amount; total gross is
	// price plus fees for a listing.
	total := new(big.Int).Set(gross)
	feeAmounts := make([]*big.Int, 0, len(o.Fees))
	for _, f := range o.Fees {
		amt, ok := parseBig(f.Amount)
		if !ok {
			return domain.NormalizedOrder{}, domain.RejectOrder(domain.RejectUnsupportedPaymentToken, id)
		}
		total.Add(total, amt)
		feeAmounts = append(feeAmounts, amt)
	}
	fees := make([]domain.FeeItem, 0, len(o.Fees))
	for i, f := range o.Fees {
		fees = append(fees, domain.FeeItem{
			Kind:      domain.FeeKindMarketplace,
			Recipient: f.Recipient,
			Bps:       feeBpsFromAmounts(feeAmounts[i], total),
		})
	}
	if err := checkFees(fees, id); err != nil {
		return domain.NormalizedOrder{}, err
	}

	expiry, ok := parseBig(o.Expiry)
	if !ok {
		return domain.NormalizedOrder{}, domain.RejectOrder(domain.RejectUnsupportedOrderType, id)
	}
	validFrom, validUntil := validityWindow(origin.Timestamp.Unix(), packedExpiry(expiry))

	unitPrice := perUnit(total, quantity)
	value := netValue(side, unitPrice, sumFeeBps(fees))
	nonce := o.Nonce

	return domain.NormalizedOrder{
		Order: domain.Order{
			ID:                 id,
			Kind:               p.kind,
			Side:               side,
			TokenSetSchemaHash: meta.SchemaHash,
			Maker:              o.Maker,
			Taker:              o.Taker,
			Price:              unitPrice,
			Value:              value,
			Currency:           o.ERC20Token,
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
		TokenSet: domain.SingleTokenSpec(o.NFT, tokenID),
		Origin:   origin,
	}, nil
}
