package protocol

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openfloor/nftindex/internal/domain"
)

// Seaport item types, as encoded on-chain.
const (
	seaportItemNative          = 0
	seaportItemERC20           = 1
	seaportItemERC721          = 2
	seaportItemERC1155         = 3
	seaportItemERC721Criteria  = 4
	seaportItemERC1155Criteria = 5
)

// Seaport order types. Contract orders (4) cannot be validated off-chain and
// are rejected.
const (
	seaportFullOpen          = 0
	seaportPartialOpen       = 1
	seaportFullRestricted    = 2
	seaportPartialRestricted = 3
	seaportContractOrder     = 4
)

type seaportItem struct {
	ItemType             int            `json:"itemType"`
	Token                common.Address `json:"token"`
	IdentifierOrCriteria string         `json:"identifierOrCriteria"`
	StartAmount          string         `json:"startAmount"`
	EndAmount            string         `json:"endAmount"`
	Recipient            common.Address `json:"recipient"`
}

type seaportOrder struct {
	OrderHash     string         `json:"orderHash"`
	Offerer       common.Address `json:"offerer"`
	Zone          common.Address `json:"zone"`
	Offer         []seaportItem  `json:"offer"`
	Consideration []seaportItem  `json:"consideration"`
	OrderType     int            `json:"orderType"`
	StartTime     int64          `json:"startTime"`
	EndTime       int64          `json:"endTime"`
	Counter       string         `json:"counter"`
	Signature     string         `json:"signature"`
	// CriteriaTokenIDs expands a criteria item's merkle root into the token
	// ids it covers; required for criteria offers submitted off-chain.
	CriteriaTokenIDs []string `json:"criteriaTokenIds,omitempty"`
}

// SeaportParser handles Seaport orders (1.1 through 1.5 share the payload
// layout relevant here).
type SeaportParser struct {
	cfg Config
}

// NewSeaportParser builds a SeaportParser with the shared config.
func NewSeaportParser(cfg Config) *SeaportParser {
	return &SeaportParser{cfg: cfg}
}

func (p *SeaportParser) Kind() domain.OrderKind { return domain.OrderKindSeaport }

// Parse normalizes a Seaport order. The order hash is the protocol-native
// EIP-712 hash carried on the payload.
func (p *SeaportParser) Parse(_ context.Context, raw json.RawMessage, meta domain.OrderMetadata, origin domain.SignalOrigin) (domain.NormalizedOrder, error) {
	var o seaportOrder
	if err := json.Unmarshal(raw, &o); err != nil {
		return domain.NormalizedOrder{}, domain.Reject(domain.RejectUnknownOrderKind)
	}

	hash, ok := parseHash(o.OrderHash)
	if !ok {
		return domain.NormalizedOrder{}, domain.Reject(domain.RejectInvalidSignature)
	}
	id := hash.Hex()

	if o.OrderType == seaportContractOrder {
		return domain.NormalizedOrder{}, domain.RejectOrder(domain.RejectUnsupportedOrderType, id)
	}
	// Off-chain signals must carry a well-formed signature; on-chain ask
	// events have already been validated by the chain itself.
	if !origin.OnChain && !validFlatSignature(o.Signature) {
		return domain.NormalizedOrder{}, domain.RejectOrder(domain.RejectInvalidSignature, id)
	}
	if len(o.Offer) == 0 || len(o.Consideration) == 0 {
		return domain.NormalizedOrder{}, domain.RejectOrder(domain.RejectUnsupportedOrderType, id)
	}

	side, nftItem, err := p.classify(o, id)
	if err != nil {
		return domain.NormalizedOrder{}, err
	}

	spec, quantity, err := p.tokenSet(o, nftItem, id)
	if err != nil {
		return domain.NormalizedOrder{}, err
	}

	currency, gross, fees, err := p.pricing(o, side, id)
	if err != nil {
		return domain.NormalizedOrder{}, err
	}
	if err := checkFees(fees, id); err != nil {
		return domain.NormalizedOrder{}, err
	}

	// ERC1155 lots are quoted for the whole lot; store per-unit figures.
	price := perUnit(gross, quantity)
	value := netValue(side, price, sumFeeBps(fees))

	validFrom, validUntil := validityWindow(o.StartTime, o.EndTime)
	counter := o.Counter

	return domain.NormalizedOrder{
		Order: domain.Order{
			ID:                 id,
			Kind:               domain.OrderKindSeaport,
			Side:               side,
			TokenSetSchemaHash: meta.SchemaHash,
			Maker:              o.Offerer,
			Price:              price,
			Value:              value,
			Currency:           currency,
			CurrencyPrice:      new(big.Int).Set(price),
			CurrencyValue:      new(big.Int).Set(value),
			QuantityRemaining:  quantity,
			ValidFrom:          validFrom,
			ValidUntil:         validUntil,
			Nonce:              &counter,
			Source:             meta.Source,
			FeeBps:             sumFeeBps(fees),
			FeeBreakdown:       fees,
			RawData:            raw,
		},
		TokenSet: spec,
		Origin:   origin,
	}, nil
}

// classify determines the order side and locates the NFT item: NFT in the
// offer means a listing, NFT in the consideration means a bid.
func (p *SeaportParser) classify(o seaportOrder, id string) (domain.Side, seaportItem, error) {
	if isNFTItem(o.Offer[0].ItemType) {
		return domain.SideSell, o.Offer[0], nil
	}
	for _, c := range o.Consideration {
		if isNFTItem(c.ItemType) {
			return domain.SideBuy, c, nil
		}
	}
	return "", seaportItem{}, domain.RejectOrder(domain.RejectUnsupportedOrderType, id)
}

func isNFTItem(itemType int) bool {
	return itemType >= seaportItemERC721 && itemType <= seaportItemERC1155Criteria
}

func (p *SeaportParser) tokenSet(o seaportOrder, item seaportItem, id string) (domain.TokenSetSpec, *big.Int, error) {
	quantity, ok := parseBig(item.StartAmount)
	if !ok || quantity.Sign() == 0 {
		return domain.TokenSetSpec{}, nil, domain.RejectOrder(domain.RejectUnsupportedOrderType, id)
	}

	switch item.ItemType {
	case seaportItemERC721, seaportItemERC1155:
		tokenID, ok := parseBig(item.IdentifierOrCriteria)
		if !ok {
			return domain.TokenSetSpec{}, nil, domain.RejectOrder(domain.RejectInvalidTokenSet, id)
		}
		return domain.SingleTokenSpec(item.Token, tokenID), quantity, nil

	case seaportItemERC721Criteria, seaportItemERC1155Criteria:
		// Criteria zero means any token in the collection.
		root, ok := parseBig(item.IdentifierOrCriteria)
		if !ok {
			return domain.TokenSetSpec{}, nil, domain.RejectOrder(domain.RejectInvalidTokenSet, id)
		}
		if root.Sign() == 0 {
			return domain.ContractWideSpec(item.Token), quantity, nil
		}
		if len(o.CriteriaTokenIDs) == 0 {
			// A bare merkle root cannot be expanded into a token list.
			return domain.TokenSetSpec{}, nil, domain.RejectOrder(domain.RejectUnsupportedOrderType, id)
		}
		ids := make([]*big.Int, 0, len(o.CriteriaTokenIDs))
		for _, s := range o.CriteriaTokenIDs {
			n, ok := parseBig(s)
			if !ok {
				return domain.TokenSetSpec{}, nil, domain.RejectOrder(domain.RejectInvalidTokenSet, id)
			}
			ids = append(ids, n)
		}
		return domain.TokenSetSpec{
			Kind:     domain.TokenSetList,
			Contract: item.Token,
			TokenIDs: ids,
		}, quantity, nil

	default:
		return domain.TokenSetSpec{}, nil, domain.RejectOrder(domain.RejectInvalidTokenSet, id)
	}
}

// pricing extracts the currency, the gross price and the fee breakdown. For a
// listing the consideration holds the payment split; the first payment item
// going to the offerer is principal and the rest are fees. For a bid the
// offer holds the payment and every non-NFT consideration item is a fee.
func (p *SeaportParser) pricing(o seaportOrder, side domain.Side, id string) (common.Address, *big.Int, []domain.FeeItem, error) {
	var currency common.Address
	currencySet := false
	gross := new(big.Int)
	var feeAmounts []*big.Int
	var feeRecipients []common.Address

	if side == domain.SideSell {
		for _, c := range o.Consideration {
			if isNFTItem(c.ItemType) {
				return common.Address{}, nil, nil, domain.RejectOrder(domain.RejectUnsupportedOrderType, id)
			}
			amt, ok := parseBig(c.StartAmount)
			if !ok {
				return common.Address{}, nil, nil, domain.RejectOrder(domain.RejectUnsupportedPaymentToken, id)
			}
			if !currencySet {
				currency = c.Token
				currencySet = true
			} else if c.Token != currency {
				return common.Address{}, nil, nil, domain.RejectOrder(domain.RejectUnsupportedPaymentToken, id)
			}
			gross.Add(gross, amt)
			if c.Recipient != o.Offerer {
				feeAmounts = append(feeAmounts, amt)
				feeRecipients = append(feeRecipients, c.Recipient)
			}
		}
	} else {
		pay := o.Offer[0]
		if pay.ItemType != seaportItemERC20 {
			// Native-token bids cannot be escrowed.
			return common.Address{}, nil, nil, domain.RejectOrder(domain.RejectUnsupportedPaymentToken, id)
		}
		amt, ok := parseBig(pay.StartAmount)
		if !ok {
			return common.Address{}, nil, nil, domain.RejectOrder(domain.RejectUnsupportedPaymentToken, id)
		}
		currency = pay.Token
		gross.Set(amt)
		for _, c := range o.Consideration {
			if isNFTItem(c.ItemType) {
				continue
			}
			famt, ok := parseBig(c.StartAmount)
			if !ok {
				return common.Address{}, nil, nil, domain.RejectOrder(domain.RejectUnsupportedPaymentToken, id)
			}
			feeAmounts = append(feeAmounts, famt)
			feeRecipients = append(feeRecipients, c.Recipient)
		}
	}

	if gross.Sign() == 0 {
		return common.Address{}, nil, nil, domain.RejectOrder(domain.RejectZeroPrice, id)
	}

	fees := make([]domain.FeeItem, 0, len(feeAmounts))
	for i, amt := range feeAmounts {
		fees = append(fees, domain.FeeItem{
			// Seaport does not tag fee intent; anything paid to a third party
			// is reported as a marketplace fee unless enrichment reclassifies
			// it later.
			Kind:      domain.FeeKindMarketplace,
			Recipient: feeRecipients[i],
			Bps:       feeBpsFromAmounts(amt, gross),
		})
	}

	return currency, gross, fees, nil
}
