package handler

import (
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openfloor/nftindex/internal/domain"
)

// View types translate domain structs into stable JSON shapes. Big integers
// are rendered as decimal strings because they routinely exceed float64 and
// int64 ranges.

type orderView struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Side        string `json:"side"`
	Fillability string `json:"fillability"`
	Approval    string `json:"approval"`

	TokenSetID string `json:"tokenSetId"`
	SchemaHash string `json:"tokenSetSchemaHash"`

	Maker string `json:"maker"`
	Taker string `json:"taker,omitempty"`

	Price         string `json:"price"`
	Value         string `json:"value"`
	Currency      string `json:"currency"`
	CurrencyPrice string `json:"currencyPrice,omitempty"`
	CurrencyValue string `json:"currencyValue,omitempty"`

	QuantityRemaining string `json:"quantityRemaining"`

	ValidFrom  int64  `json:"validFrom"`
	ValidUntil int64  `json:"validUntil,omitempty"`
	Nonce      string `json:"nonce,omitempty"`

	Source       string           `json:"source,omitempty"`
	FeeBps       int              `json:"feeBps"`
	FeeBreakdown []domain.FeeItem `json:"feeBreakdown,omitempty"`

	RawData json.RawMessage `json:"rawData,omitempty"`

	BlockNumber *uint64 `json:"blockNumber,omitempty"`
	LogIndex    *uint32 `json:"logIndex,omitempty"`

	CreatedAt int64 `json:"createdAt"`
	UpdatedAt int64 `json:"updatedAt"`
}

func toOrderView(o *domain.Order) orderView {
	v := orderView{
		ID:                o.ID,
		Kind:              string(o.Kind),
		Side:              string(o.Side),
		Fillability:       string(o.Fillability),
		Approval:          string(o.Approval),
		TokenSetID:        o.TokenSetID,
		SchemaHash:        o.TokenSetSchemaHash.Hex(),
		Maker:             o.Maker.Hex(),
		Price:             bigStr(o.Price),
		Value:             bigStr(o.Value),
		Currency:          o.Currency.Hex(),
		CurrencyPrice:     bigStrOmit(o.CurrencyPrice),
		CurrencyValue:     bigStrOmit(o.CurrencyValue),
		QuantityRemaining: bigStr(o.QuantityRemaining),
		ValidFrom:         o.ValidFrom.Unix(),
		Source:            o.Source,
		FeeBps:            o.FeeBps,
		FeeBreakdown:      o.FeeBreakdown,
		RawData:           o.RawData,
		BlockNumber:       o.BlockNumber,
		LogIndex:          o.LogIndex,
		CreatedAt:         o.CreatedAt.Unix(),
		UpdatedAt:         o.UpdatedAt.Unix(),
	}
	if o.Taker != (common.Address{}) {
		v.Taker = o.Taker.Hex()
	}
	if o.ValidUntil != nil {
		v.ValidUntil = o.ValidUntil.Unix()
	}
	if o.Nonce != nil {
		v.Nonce = *o.Nonce
	}
	return v
}

type tokenSetView struct {
	ID         string   `json:"id"`
	Kind       string   `json:"kind"`
	SchemaHash string   `json:"schemaHash"`
	Contract   string   `json:"contract"`
	TokenID    string   `json:"tokenId,omitempty"`
	TokenIDs   []string `json:"tokenIds,omitempty"`
	Start      string   `json:"start,omitempty"`
	End        string   `json:"end,omitempty"`
}

func toTokenSetView(ts *domain.TokenSet) tokenSetView {
	v := tokenSetView{
		ID:         ts.ID,
		Kind:       string(ts.Kind),
		SchemaHash: ts.SchemaHash.Hex(),
		Contract:   ts.Contract.Hex(),
		TokenID:    bigStrOmit(ts.TokenID),
		Start:      bigStrOmit(ts.Start),
		End:        bigStrOmit(ts.End),
	}
	for _, id := range ts.TokenIDs {
		v.TokenIDs = append(v.TokenIDs, id.String())
	}
	return v
}

type fillView struct {
	OrderID       string `json:"orderId"`
	OrderKind     string `json:"orderKind"`
	OrderSide     string `json:"orderSide"`
	Maker         string `json:"maker"`
	Taker         string `json:"taker"`
	Contract      string `json:"contract"`
	TokenID       string `json:"tokenId"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	CurrencyPrice string `json:"currencyPrice,omitempty"`
	Price         string `json:"price"`
	USDPrice      string `json:"usdPrice,omitempty"`
	TxHash        string `json:"txHash"`
	Block         uint64 `json:"block"`
	LogIndex      uint32 `json:"logIndex"`
	BatchIndex    uint32 `json:"batchIndex"`
	Timestamp     int64  `json:"timestamp"`
}

func toFillView(e *domain.FillEvent) fillView {
	return fillView{
		OrderID:       e.OrderID,
		OrderKind:     string(e.OrderKind),
		OrderSide:     string(e.OrderSide),
		Maker:         e.Maker.Hex(),
		Taker:         e.Taker.Hex(),
		Contract:      e.Contract.Hex(),
		TokenID:       bigStr(e.TokenID),
		Amount:        bigStr(e.Amount),
		Currency:      e.Currency.Hex(),
		CurrencyPrice: bigStrOmit(e.CurrencyPrice),
		Price:         bigStr(e.Price),
		USDPrice:      bigStrOmit(e.USDPrice),
		TxHash:        e.TxHash.Hex(),
		Block:         e.Block,
		LogIndex:      e.LogIndex,
		BatchIndex:    e.BatchIndex,
		Timestamp:     e.Timestamp.Unix(),
	}
}

type transferView struct {
	Contract   string `json:"contract"`
	TokenID    string `json:"tokenId"`
	From       string `json:"from"`
	To         string `json:"to"`
	Amount     string `json:"amount"`
	TxHash     string `json:"txHash"`
	Block      uint64 `json:"block"`
	LogIndex   uint32 `json:"logIndex"`
	BatchIndex uint32 `json:"batchIndex"`
	Timestamp  int64  `json:"timestamp"`
}

func toTransferView(e *domain.TransferEvent) transferView {
	return transferView{
		Contract:   e.Contract.Hex(),
		TokenID:    bigStr(e.TokenID),
		From:       e.From.Hex(),
		To:         e.To.Hex(),
		Amount:     bigStr(e.Amount),
		TxHash:     e.TxHash.Hex(),
		Block:      e.Block,
		LogIndex:   e.LogIndex,
		BatchIndex: e.BatchIndex,
		Timestamp:  e.Timestamp.Unix(),
	}
}

func bigStr(n *big.Int) string {
	if n == nil {
		return "0"
	}
	return n.String()
}

func bigStrOmit(n *big.Int) string {
	if n == nil {
		return ""
	}
	return n.String()
}
