package events

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/openfloor/nftindex/internal/domain"
	"github.com/openfloor/nftindex/internal/protocol"
)

// Seaport item types.
const (
	seaportItemNative = 0
	seaportItemERC20  = 1
)

type seaportItem struct {
	itemType   int
	token      common.Address
	identifier *big.Int
	amount     *big.Int
}

// seaportItems decodes a SpentItem[]/ReceivedItem[] whose offset sits in word
// i of data. size is the tuple width in words.
func seaportItems(data []byte, i, size int) ([]seaportItem, bool) {
	off, ok := bigWord(data, i)
	if !ok || !off.IsUint64() {
		return nil, false
	}
	base := int(off.Uint64())
	if len(data) < base+32 {
		return nil, false
	}
	n := int(new(big.Int).SetBytes(data[base : base+32]).Uint64())
	if len(data) < base+32+n*size*32 {
		return nil, false
	}
	items := make([]seaportItem, 0, n)
	for j := 0; j < n; j++ {
		at := func(k int) []byte {
			start := base + 32 + (j*size+k)*32
			return data[start : start+32]
		}
		items = append(items, seaportItem{
			itemType:   int(new(big.Int).SetBytes(at(0)).Uint64()),
			token:      common.BytesToAddress(at(1)[12:]),
			identifier: new(big.Int).SetBytes(at(2)),
			amount:     new(big.Int).SetBytes(at(3)),
		})
	}
	return items, true
}

func (r *Router) seaportFulfilled(ctx context.Context, tx *TxLogs, lg *types.Log) error {
	if len(lg.Topics) < 3 {
		return nil
	}
	orderHash, ok := hashWord(lg.Data, 0)
	if !ok {
		return nil
	}
	recipient, ok := addrWord(lg.Data, 1)
	if !ok {
		return nil
	}
	offer, ok := seaportItems(lg.Data, 2, 4)
	if !ok {
		return nil
	}
	consideration, ok := seaportItems(lg.Data, 3, 5)
	if !ok {
		return nil
	}

	var (
		side     domain.Side
		nft      *seaportItem
		currency common.Address
		price    = new(big.Int)
	)
	for j := range offer {
		if offer[j].itemType > seaportItemERC20 {
			side = domain.SideSell
			nft = &offer[j]
			break
		}
	}
	if nft != nil {
		// Listing fill: the payment is the sum of the consideration's
		// currency legs (seller proceeds plus fees).
		for j := range consideration {
			if consideration[j].itemType <= seaportItemERC20 {
				currency = consideration[j].token
				price.Add(price, consideration[j].amount)
			}
		}
	} else {
		side = domain.SideBuy
		for j := range consideration {
			if consideration[j].itemType > seaportItemERC20 {
				nft = &consideration[j]
				break
			}
		}
		if nft == nil || len(offer) == 0 {
			return nil
		}
		currency = offer[0].token
		price.Set(offer[0].amount)
	}

	r.metrics.EventsRouted.WithLabelValues("seaport-fulfilled").Inc()
	return r.applyFill(ctx, &domain.FillEvent{
		OrderID:       orderHash.Hex(),
		OrderKind:     domain.OrderKindSeaport,
		OrderSide:     side,
		Maker:         topicAddr(lg.Topics[1]),
		Taker:         recipient,
		Contract:      nft.token,
		TokenID:       nft.identifier,
		Amount:        nft.amount,
		Currency:      currency,
		CurrencyPrice: price,
		TxHash:        tx.TxHash,
		Block:         tx.Block,
		LogIndex:      uint32(lg.Index),
		Timestamp:     tx.Timestamp,
	})
}

func (r *Router) seaportCancelled(ctx context.Context, tx *TxLogs, lg *types.Log) error {
	if len(lg.Topics) < 3 {
		return nil
	}
	orderHash, ok := hashWord(lg.Data, 0)
	if !ok {
		return nil
	}
	r.metrics.EventsRouted.WithLabelValues("seaport-cancelled").Inc()
	return r.applyCancel(ctx, domain.CancelEvent{
		OrderID:   orderHash.Hex(),
		OrderKind: domain.OrderKindSeaport,
		Maker:     topicAddr(lg.Topics[1]),
		TxHash:    tx.TxHash,
		Block:     tx.Block,
		LogIndex:  uint32(lg.Index),
		Timestamp: tx.Timestamp,
	})
}

// looksRareFill handles TakerAsk (a taker selling into a maker bid) and
// TakerBid (a taker buying a maker listing); side is the filled order's side.
func (r *Router) looksRareFill(ctx context.Context, tx *TxLogs, lg *types.Log, side domain.Side) error {
	if len(lg.Topics) < 4 {
		return nil
	}
	orderHash, ok := hashWord(lg.Data, 0)
	if !ok {
		return nil
	}
	currency, ok1 := addrWord(lg.Data, 2)
	collection, ok2 := addrWord(lg.Data, 3)
	tokenID, ok3 := bigWord(lg.Data, 4)
	amount, ok4 := bigWord(lg.Data, 5)
	price, ok5 := bigWord(lg.Data, 6)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		return nil
	}

	r.metrics.EventsRouted.WithLabelValues("looksrare-fill").Inc()
	return r.applyFill(ctx, &domain.FillEvent{
		OrderID:       orderHash.Hex(),
		OrderKind:     domain.OrderKindLooksRare,
		OrderSide:     side,
		Maker:         topicAddr(lg.Topics[2]),
		Taker:         topicAddr(lg.Topics[1]),
		Contract:      collection,
		TokenID:       tokenID,
		Amount:        amount,
		Currency:      currency,
		CurrencyPrice: price,
		TxHash:        tx.TxHash,
		Block:         tx.Block,
		LogIndex:      uint32(lg.Index),
		Timestamp:     tx.Timestamp,
	})
}

// looksRareCancelNonces cancels every open order of the maker whose nonce is
// in the event's list. Orders the index never saw are skipped silently.
func (r *Router) looksRareCancelNonces(ctx context.Context, tx *TxLogs, lg *types.Log) error {
	if len(lg.Topics) < 2 {
		return nil
	}
	nonces, ok := bigArray(lg.Data, 0)
	if !ok || len(nonces) == 0 {
		return nil
	}
	cancelled := make(map[string]bool, len(nonces))
	for _, n := range nonces {
		cancelled[n.String()] = true
	}

	maker := topicAddr(lg.Topics[1])
	open, err := r.orders.ListOpenByMaker(ctx, maker)
	if err != nil {
		return fmt.Errorf("list open by maker: %w", err)
	}
	for i := range open {
		o := &open[i]
		if o.Kind != domain.OrderKindLooksRare || o.Nonce == nil || !cancelled[*o.Nonce] {
			continue
		}
		err := r.applyCancel(ctx, domain.CancelEvent{
			OrderID:   o.ID,
			OrderKind: domain.OrderKindLooksRare,
			Maker:     maker,
			TxHash:    tx.TxHash,
			Block:     tx.Block,
			LogIndex:  uint32(lg.Index),
			Timestamp: tx.Timestamp,
		})
		if err != nil {
			return err
		}
	}
	r.metrics.EventsRouted.WithLabelValues("looksrare-cancel").Inc()
	return nil
}

func (r *Router) punkBought(ctx context.Context, tx *TxLogs, lg *types.Log) error {
	if len(lg.Topics) < 4 {
		return nil
	}
	punkIndex := topicBig(lg.Topics[1])
	value, ok := bigWord(lg.Data, 0)
	if !ok {
		return nil
	}

	r.metrics.EventsRouted.WithLabelValues("punk-bought").Inc()
	return r.applyFill(ctx, &domain.FillEvent{
		OrderID:       protocol.CryptoPunksOrderID(punkIndex),
		OrderKind:     domain.OrderKindCryptoPunks,
		OrderSide:     domain.SideSell,
		Maker:         topicAddr(lg.Topics[2]),
		Taker:         topicAddr(lg.Topics[3]),
		Contract:      r.cfg.CryptoPunksMarket,
		TokenID:       punkIndex,
		Amount:        big.NewInt(1),
		Currency:      r.cfg.NativeToken,
		CurrencyPrice: value,
		TxHash:        tx.TxHash,
		Block:         tx.Block,
		LogIndex:      uint32(lg.Index),
		Timestamp:     tx.Timestamp,
	})
}

func (r *Router) punkDelisted(ctx context.Context, tx *TxLogs, lg *types.Log) error {
	if len(lg.Topics) < 2 {
		return nil
	}
	punkIndex := topicBig(lg.Topics[1])
	r.metrics.EventsRouted.WithLabelValues("punk-delisted").Inc()
	return r.applyCancel(ctx, domain.CancelEvent{
		OrderID:   protocol.CryptoPunksOrderID(punkIndex),
		OrderKind: domain.OrderKindCryptoPunks,
		TxHash:    tx.TxHash,
		Block:     tx.Block,
		LogIndex:  uint32(lg.Index),
		Timestamp: tx.Timestamp,
	})
}

func (r *Router) foundationAccepted(ctx context.Context, tx *TxLogs, lg *types.Log) error {
	if len(lg.Topics) < 4 {
		return nil
	}
	contract := topicAddr(lg.Topics[1])
	tokenID := topicBig(lg.Topics[2])
	buyer, ok := addrWord(lg.Data, 0)
	if !ok {
		return nil
	}
	protocolFee, ok1 := bigWord(lg.Data, 1)
	creatorFee, ok2 := bigWord(lg.Data, 2)
	sellerRev, ok3 := bigWord(lg.Data, 3)
	if !ok1 || !ok2 || !ok3 {
		return nil
	}
	price := new(big.Int).Add(protocolFee, creatorFee)
	price.Add(price, sellerRev)

	r.metrics.EventsRouted.WithLabelValues("foundation-accepted").Inc()
	return r.applyFill(ctx, &domain.FillEvent{
		OrderID:       protocol.FoundationOrderID(contract, tokenID),
		OrderKind:     domain.OrderKindFoundation,
		OrderSide:     domain.SideSell,
		Maker:         topicAddr(lg.Topics[3]),
		Taker:         buyer,
		Contract:      contract,
		TokenID:       tokenID,
		Amount:        big.NewInt(1),
		Currency:      r.cfg.NativeToken,
		CurrencyPrice: price,
		TxHash:        tx.TxHash,
		Block:         tx.Block,
		LogIndex:      uint32(lg.Index),
		Timestamp:     tx.Timestamp,
	})
}

func (r *Router) foundationCancelled(ctx context.Context, tx *TxLogs, lg *types.Log) error {
	if len(lg.Topics) < 3 {
		return nil
	}
	contract := topicAddr(lg.Topics[1])
	tokenID := topicBig(lg.Topics[2])
	r.metrics.EventsRouted.WithLabelValues("foundation-cancelled").Inc()
	return r.applyCancel(ctx, domain.CancelEvent{
		OrderID:   protocol.FoundationOrderID(contract, tokenID),
		OrderKind: domain.OrderKindFoundation,
		TxHash:    tx.TxHash,
		Block:     tx.Block,
		LogIndex:  uint32(lg.Index),
		Timestamp: tx.Timestamp,
	})
}

func (r *Router) wyvernCancelled(ctx context.Context, tx *TxLogs, lg *types.Log) error {
	if len(lg.Topics) < 2 {
		return nil
	}
	r.metrics.EventsRouted.WithLabelValues("wyvern-cancelled").Inc()
	return r.applyCancel(ctx, domain.CancelEvent{
		OrderID:   lg.Topics[1].Hex(),
		OrderKind: domain.OrderKindWyvernV23,
		TxHash:    tx.TxHash,
		Block:     tx.Block,
		LogIndex:  uint32(lg.Index),
		Timestamp: tx.Timestamp,
	})
}
