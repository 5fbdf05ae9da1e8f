package events

import (
	"context"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/openfloor/nftindex/internal/domain"
)

// wyvernMatched reconstructs a fill from the legacy OrdersMatched event. The
// event names neither the token nor the currency, so both are recovered from
// the surrounding logs of the same transaction: the single-unit NFT transfer
// logged at exactly the index before the match carries the token, and a
// preceding ERC20 transfer moving the sale price between the matched parties
// carries the currency (native coin otherwise). Without an adjacent transfer
// the fill cannot be attributed and is dropped.
func (r *Router) wyvernMatched(ctx context.Context, tx *TxLogs, i int) error {
	lg := &tx.Logs[i]
	if len(lg.Topics) < 3 {
		return nil
	}
	buyHash, ok1 := hashWord(lg.Data, 0)
	sellHash, ok2 := hashWord(lg.Data, 1)
	price, ok3 := bigWord(lg.Data, 2)
	if !ok1 || !ok2 || !ok3 {
		return nil
	}

	nft := adjacentNFTTransfer(tx, i)
	if nft == nil {
		r.logger.Warn("wyvern match without adjacent nft transfer, dropped",
			slog.String("tx", tx.TxHash.Hex()))
		return nil
	}

	// A two-sided match emits both hashes; recording both would double-count
	// the sale, so the sell side wins.
	orderID := sellHash
	side := domain.SideSell
	switch {
	case sellHash == (common.Hash{}) && buyHash == (common.Hash{}):
		return nil
	case sellHash == (common.Hash{}):
		orderID = buyHash
		side = domain.SideBuy
	}

	maker := topicAddr(lg.Topics[1])
	taker := topicAddr(lg.Topics[2])
	currency := r.cfg.NativeToken
	if erc20 := paymentTransfer(tx, i, price, maker, taker); erc20 != nil {
		currency = erc20.Address
	}

	r.metrics.EventsRouted.WithLabelValues("wyvern-matched").Inc()
	return r.applyFill(ctx, &domain.FillEvent{
		OrderID:       orderID.Hex(),
		OrderKind:     domain.OrderKindWyvernV23,
		OrderSide:     side,
		Maker:         maker,
		Taker:         taker,
		Contract:      nft.Contract,
		TokenID:       nft.TokenID,
		Amount:        big.NewInt(1),
		Currency:      currency,
		CurrencyPrice: price,
		TxHash:        tx.TxHash,
		Block:         tx.Block,
		LogIndex:      uint32(lg.Index),
		Timestamp:     tx.Timestamp,
	})
}

type nftRef struct {
	Contract common.Address
	TokenID  *big.Int
}

// adjacentNFTTransfer returns the token moved by the single-unit NFT transfer
// logged at exactly logIndex-1 of the match, or nil when no such transfer
// exists. Earlier transfers in the transaction may belong to a different fill
// and must not be attributed to this match. Multi-unit ERC1155 transfers are
// skipped: they cannot be attributed to a one-unit match.
func adjacentNFTTransfer(tx *TxLogs, i int) *nftRef {
	lg := &tx.Logs[i]
	if i == 0 || lg.Index == 0 {
		return nil
	}
	prev := &tx.Logs[i-1]
	if prev.Index != lg.Index-1 || len(prev.Topics) == 0 {
		return nil
	}
	switch prev.Topics[0] {
	case topicTransfer:
		if len(prev.Topics) == 4 {
			return &nftRef{Contract: prev.Address, TokenID: topicBig(prev.Topics[3])}
		}
	case topicTransferSingle:
		if len(prev.Topics) < 4 {
			return nil
		}
		id, ok1 := bigWord(prev.Data, 0)
		amount, ok2 := bigWord(prev.Data, 1)
		if ok1 && ok2 && amount.Cmp(big.NewInt(1)) == 0 {
			return &nftRef{Contract: prev.Address, TokenID: id}
		}
	}
	return nil
}

// paymentTransfer finds an ERC20 transfer before the match whose amount
// equals the sale price and that moves between the matched maker and taker.
func paymentTransfer(tx *TxLogs, i int, price *big.Int, maker, taker common.Address) *types.Log {
	for j := i - 1; j >= 0; j-- {
		lg := &tx.Logs[j]
		if len(lg.Topics) != 3 || lg.Topics[0] != topicTransfer {
			continue
		}
		from := topicAddr(lg.Topics[1])
		to := topicAddr(lg.Topics[2])
		if (from != maker || to != taker) && (from != taker || to != maker) {
			continue
		}
		if amount, ok := bigWord(lg.Data, 0); ok && amount.Cmp(price) == 0 {
			return lg
		}
	}
	return nil
}
