package protocol

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openfloor/nftindex/internal/domain"
)

// Sudoswap pool types.
const (
	sudoswapPoolToken = 0 // pool holds tokens, bids on NFTs
	sudoswapPoolNFT   = 1 // pool holds NFTs, sells them
	sudoswapPoolTrade = 2 // both sides
)

type sudoswapPool struct {
	Pool       common.Address `json:"pool"`
	Collection common.Address `json:"collection"`
	PoolType   int            `json:"poolType"`
	// SpotPrice is the current quote off the bonding curve for one unit.
	SpotPrice string `json:"spotPrice"`
	Delta     string `json:"delta"`
	FeeBps    int    `json:"feeBps"`
	// Quantity is how many units the pool can still trade at quote time.
	Quantity string `json:"quantity"`
}

// SudoswapParser derives orders from sudoswap AMM pool state. A pool is a
// standing order against the whole collection; identity is a composite over
// the pool address so each requote updates the same slot.
type SudoswapParser struct {
	cfg Config
}

// NewSudoswapParser builds a SudoswapParser.
func NewSudoswapParser(cfg Config) *SudoswapParser {
	return &SudoswapParser{cfg: cfg}
}

func (p *SudoswapParser) Kind() domain.OrderKind { return domain.OrderKindSudoswap }

func (p *SudoswapParser) Parse(_ context.Context, raw json.RawMessage, meta domain.OrderMetadata, origin domain.SignalOrigin) (domain.NormalizedOrder, error) {
	var o sudoswapPool
	if err := json.Unmarshal(raw, &o); err != nil {
		return domain.NormalizedOrder{}, domain.Reject(domain.RejectUnknownOrderKind)
	}

	id := SudoswapOrderID(o.Pool)

	var side domain.Side
	switch o.PoolType {
	case sudoswapPoolNFT, sudoswapPoolTrade:
		side = domain.SideSell
	case sudoswapPoolToken:
		side = domain.SideBuy
	default:
		return domain.NormalizedOrder{}, domain.RejectOrder(domain.RejectUnsupportedOrderType, id)
	}

	price, ok := parseBig(o.SpotPrice)
	if !ok || price.Sign() == 0 {
		return domain.NormalizedOrder{}, domain.RejectOrder(domain.RejectZeroPrice, id)
	}

	var fees []domain.FeeItem
	if o.FeeBps > 0 {
		fees = append(fees, domain.FeeItem{
			Kind:      domain.FeeKindMarketplace,
			Recipient: o.Pool,
			Bps:       o.FeeBps,
		})
	}
	if err := checkFees(fees, id); err != nil {
		return domain.NormalizedOrder{}, err
	}

	quantity, ok := parseBig(o.Quantity)
	if !ok || quantity.Sign() == 0 {
		quantity = big.NewInt(1)
	}

	value := netValue(side, price, sumFeeBps(fees))

	// The pool itself is the maker; it trades in the native token and never
	// expires.
	return domain.NormalizedOrder{
		Order: domain.Order{
			ID:                 id,
			Kind:               domain.OrderKindSudoswap,
			Side:               side,
			TokenSetSchemaHash: meta.SchemaHash,
			Maker:              o.Pool,
			Price:              price,
			Value:              value,
			Currency:           p.cfg.NativeToken,
			CurrencyPrice:      new(big.Int).Set(price),
			CurrencyValue:      new(big.Int).Set(value),
			QuantityRemaining:  quantity,
			ValidFrom:          origin.Timestamp,
			Source:             meta.Source,
			FeeBps:             sumFeeBps(fees),
			FeeBreakdown:       fees,
			RawData:            raw,
		},
		TokenSet: domain.ContractWideSpec(o.Collection),
		Origin:   origin,
	}, nil
}
