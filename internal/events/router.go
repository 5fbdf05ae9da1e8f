// Package events reconciles on-chain logs into the canonical order state. The
// router consumes logs pre-grouped by transaction and ordered by log index,
// records immutable cancel/fill/transfer facts, applies guarded status
// transitions to order rows, and fans out maker rechecks for balance and
// approval changes.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/openfloor/nftindex/internal/domain"
	"github.com/openfloor/nftindex/internal/metrics"
	"github.com/openfloor/nftindex/internal/protocol"
)

// consecutiveTransferCap bounds how many per-token facts an ERC2309 batch
// mint expands into. Ranges beyond the cap still trigger maker rechecks but
// are not materialized row by row.
const consecutiveTransferCap = 256

// TxLogs is one transaction's logs, ordered ascending by log index.
type TxLogs struct {
	TxHash    common.Hash
	Block     uint64
	Timestamp time.Time
	Logs      []types.Log
}

// Router applies on-chain events to the order index.
type Router struct {
	orders    domain.OrderStore
	facts     domain.OrderEventStore
	transfers domain.TransferStore
	oracle    domain.PriceOracle
	queue     domain.JobQueue
	cfg       protocol.Config
	metrics   *metrics.Set
	logger    *slog.Logger
}

// NewRouter builds a Router. queue may be nil when downstream notifications
// are disabled.
func NewRouter(orders domain.OrderStore, facts domain.OrderEventStore, transfers domain.TransferStore, oracle domain.PriceOracle, queue domain.JobQueue, cfg protocol.Config, m *metrics.Set, logger *slog.Logger) *Router {
	return &Router{
		orders:    orders,
		facts:     facts,
		transfers: transfers,
		oracle:    oracle,
		queue:     queue,
		cfg:       cfg,
		metrics:   m,
		logger:    logger.With(slog.String("component", "events")),
	}
}

// Route processes a batch of transactions in order. Malformed or irrelevant
// logs are skipped; store and oracle failures abort so the batch can be
// retried from the same cursor.
func (r *Router) Route(ctx context.Context, txs []TxLogs) error {
	for i := range txs {
		if err := r.routeTx(ctx, &txs[i]); err != nil {
			return fmt.Errorf("events: tx %s: %w", txs[i].TxHash.Hex(), err)
		}
	}
	return nil
}

func (r *Router) routeTx(ctx context.Context, tx *TxLogs) error {
	var transfers []domain.TransferEvent

	for i := range tx.Logs {
		lg := &tx.Logs[i]
		if len(lg.Topics) == 0 {
			continue
		}

		switch lg.Topics[0] {
		case topicTransfer:
			// Three indexed topics means ERC721; the two-topic ERC20 shape is
			// only consulted by the Wyvern payment scan.
			if len(lg.Topics) == 4 {
				transfers = append(transfers, r.erc721Transfer(tx, lg))
				r.metrics.EventsRouted.WithLabelValues("erc721-transfer").Inc()
			}

		case topicTransferSingle:
			if t, ok := r.erc1155Single(tx, lg); ok {
				transfers = append(transfers, t)
				r.metrics.EventsRouted.WithLabelValues("erc1155-transfer").Inc()
			}

		case topicTransferBatch:
			ts := r.erc1155Batch(tx, lg)
			transfers = append(transfers, ts...)
			if len(ts) > 0 {
				r.metrics.EventsRouted.WithLabelValues("erc1155-transfer").Inc()
			}

		case topicConsecutiveTransfer:
			transfers = append(transfers, r.consecutiveTransfer(tx, lg)...)
			r.metrics.EventsRouted.WithLabelValues("consecutive-transfer").Inc()

		case topicApprovalForAll:
			if err := r.approvalForAll(ctx, tx, lg); err != nil {
				return err
			}

		default:
			if err := r.routeLifecycle(ctx, tx, i); err != nil {
				return err
			}
		}
	}

	if len(transfers) > 0 {
		if err := r.transfers.InsertBatch(ctx, transfers); err != nil {
			return fmt.Errorf("insert transfers: %w", err)
		}
		r.enqueueTransferRechecks(ctx, tx, transfers)
	}
	return nil
}

func (r *Router) routeLifecycle(ctx context.Context, tx *TxLogs, i int) error {
	lg := &tx.Logs[i]
	switch {
	case lg.Topics[0] == topicSeaportFulfilled && lg.Address == r.cfg.SeaportExchange:
		return r.seaportFulfilled(ctx, tx, lg)
	case lg.Topics[0] == topicSeaportCancelled && lg.Address == r.cfg.SeaportExchange:
		return r.seaportCancelled(ctx, tx, lg)

	case lg.Topics[0] == topicLooksRareTakerAsk && lg.Address == r.cfg.LooksRareExchange:
		return r.looksRareFill(ctx, tx, lg, domain.SideBuy)
	case lg.Topics[0] == topicLooksRareTakerBid && lg.Address == r.cfg.LooksRareExchange:
		return r.looksRareFill(ctx, tx, lg, domain.SideSell)
	case lg.Topics[0] == topicLooksRareCancelMultiple && lg.Address == r.cfg.LooksRareExchange:
		return r.looksRareCancelNonces(ctx, tx, lg)

	case lg.Topics[0] == topicPunkBought && lg.Address == r.cfg.CryptoPunksMarket:
		return r.punkBought(ctx, tx, lg)
	case lg.Topics[0] == topicPunkNoLongerForSale && lg.Address == r.cfg.CryptoPunksMarket:
		return r.punkDelisted(ctx, tx, lg)

	case lg.Topics[0] == topicFoundationAccepted && lg.Address == r.cfg.FoundationMarket:
		return r.foundationAccepted(ctx, tx, lg)
	case (lg.Topics[0] == topicFoundationCanceled || lg.Topics[0] == topicFoundationInvalidated) && lg.Address == r.cfg.FoundationMarket:
		return r.foundationCancelled(ctx, tx, lg)

	case lg.Topics[0] == topicWyvernOrdersMatched && lg.Address == r.cfg.WyvernExchange:
		return r.wyvernMatched(ctx, tx, i)
	case lg.Topics[0] == topicWyvernOrderCancelled && lg.Address == r.cfg.WyvernExchange:
		return r.wyvernCancelled(ctx, tx, lg)
	}
	return nil
}

func (r *Router) erc721Transfer(tx *TxLogs, lg *types.Log) domain.TransferEvent {
	return domain.TransferEvent{
		Contract:  lg.Address,
		TokenID:   topicBig(lg.Topics[3]),
		From:      topicAddr(lg.Topics[1]),
		To:        topicAddr(lg.Topics[2]),
		Amount:    big.NewInt(1),
		TxHash:    tx.TxHash,
		Block:     tx.Block,
		LogIndex:  uint32(lg.Index),
		Timestamp: tx.Timestamp,
	}
}

func (r *Router) erc1155Single(tx *TxLogs, lg *types.Log) (domain.TransferEvent, bool) {
	if len(lg.Topics) < 4 {
		return domain.TransferEvent{}, false
	}
	id, ok := bigWord(lg.Data, 0)
	if !ok {
		return domain.TransferEvent{}, false
	}
	amount, ok := bigWord(lg.Data, 1)
	if !ok {
		return domain.TransferEvent{}, false
	}
	return domain.TransferEvent{
		Contract:  lg.Address,
		TokenID:   id,
		From:      topicAddr(lg.Topics[2]),
		To:        topicAddr(lg.Topics[3]),
		Amount:    amount,
		TxHash:    tx.TxHash,
		Block:     tx.Block,
		LogIndex:  uint32(lg.Index),
		Timestamp: tx.Timestamp,
	}, true
}

func (r *Router) erc1155Batch(tx *TxLogs, lg *types.Log) []domain.TransferEvent {
	if len(lg.Topics) < 4 {
		return nil
	}
	ids, ok := bigArray(lg.Data, 0)
	if !ok {
		return nil
	}
	amounts, ok := bigArray(lg.Data, 1)
	if !ok || len(amounts) != len(ids) {
		return nil
	}
	from := topicAddr(lg.Topics[2])
	to := topicAddr(lg.Topics[3])
	out := make([]domain.TransferEvent, 0, len(ids))
	for j := range ids {
		out = append(out, domain.TransferEvent{
			Contract:   lg.Address,
			TokenID:    ids[j],
			From:       from,
			To:         to,
			Amount:     amounts[j],
			TxHash:     tx.TxHash,
			Block:      tx.Block,
			LogIndex:   uint32(lg.Index),
			BatchIndex: uint32(j),
			Timestamp:  tx.Timestamp,
		})
	}
	return out
}

func (r *Router) consecutiveTransfer(tx *TxLogs, lg *types.Log) []domain.TransferEvent {
	if len(lg.Topics) < 4 {
		return nil
	}
	fromID := topicBig(lg.Topics[1])
	toID, ok := bigWord(lg.Data, 0)
	if !ok || toID.Cmp(fromID) < 0 {
		return nil
	}
	from := topicAddr(lg.Topics[2])
	to := topicAddr(lg.Topics[3])

	span := new(big.Int).Sub(toID, fromID)
	n := consecutiveTransferCap
	if span.IsUint64() && span.Uint64() < uint64(consecutiveTransferCap) {
		n = int(span.Uint64()) + 1
	} else {
		r.logger.Warn("consecutive transfer range truncated",
			slog.String("contract", lg.Address.Hex()),
			slog.String("from_id", fromID.String()),
			slog.String("to_id", toID.String()))
	}

	out := make([]domain.TransferEvent, 0, n)
	for j := 0; j < n; j++ {
		out = append(out, domain.TransferEvent{
			Contract:   lg.Address,
			TokenID:    new(big.Int).Add(fromID, big.NewInt(int64(j))),
			From:       from,
			To:         to,
			Amount:     big.NewInt(1),
			TxHash:     tx.TxHash,
			Block:      tx.Block,
			LogIndex:   uint32(lg.Index),
			BatchIndex: uint32(j),
			Timestamp:  tx.Timestamp,
		})
	}
	return out
}

// approvalForAll triggers maker rechecks only when the operator is one of the
// tracked exchange operators; unrelated approvals are noise.
func (r *Router) approvalForAll(ctx context.Context, tx *TxLogs, lg *types.Log) error {
	if len(lg.Topics) < 3 {
		return nil
	}
	operator := topicAddr(lg.Topics[2])
	if !r.trackedOperator(operator) {
		return nil
	}
	owner := topicAddr(lg.Topics[1])
	r.metrics.EventsRouted.WithLabelValues("approval-for-all").Inc()

	return r.enqueueRecheck(ctx, domain.MakerRecheckPayload{
		Maker:    owner.Hex(),
		Contract: lg.Address.Hex(),
		Operator: operator.Hex(),
		Trigger:  domain.TriggerApprovalChange,
		TxHash:   tx.TxHash.Hex(),
		Block:    tx.Block,
		LogIndex: uint32(lg.Index),
	})
}

func (r *Router) trackedOperator(op common.Address) bool {
	switch op {
	case r.cfg.SeaportConduit, r.cfg.LooksRareTransferMgr, r.cfg.X2Y2Exchange,
		r.cfg.ZoraModule, r.cfg.ElementExchange, r.cfg.ManifoldExchange,
		r.cfg.FoundationMarket, r.cfg.InfinityExchange, r.cfg.WyvernTokenProxy,
		r.cfg.PaymentProcessor:
		return op != (common.Address{})
	default:
		return false
	}
}

// enqueueTransferRechecks fans out one balance recheck per distinct
// (address, contract) touched by a transaction's NFT transfers. Mints and
// burns skip the zero-address side.
func (r *Router) enqueueTransferRechecks(ctx context.Context, tx *TxLogs, transfers []domain.TransferEvent) {
	seen := make(map[string]bool)
	for i := range transfers {
		t := &transfers[i]
		for _, addr := range []common.Address{t.From, t.To} {
			if addr == (common.Address{}) {
				continue
			}
			key := addr.Hex() + ":" + t.Contract.Hex()
			if seen[key] {
				continue
			}
			seen[key] = true
			err := r.enqueueRecheck(ctx, domain.MakerRecheckPayload{
				Maker:    addr.Hex(),
				Contract: t.Contract.Hex(),
				TokenID:  t.TokenID.String(),
				Trigger:  domain.TriggerBalanceChange,
				TxHash:   tx.TxHash.Hex(),
				Block:    tx.Block,
				LogIndex: t.LogIndex,
			})
			if err != nil {
				r.logger.Error("enqueue balance recheck failed",
					slog.String("maker", addr.Hex()),
					slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Router) enqueueRecheck(ctx context.Context, p domain.MakerRecheckPayload) error {
	if r.queue == nil {
		return nil
	}
	key := fmt.Sprintf("%s-%s-%s-%s", p.Trigger, p.Maker, p.Contract, p.TxHash)
	return r.queue.Enqueue(ctx, domain.JobMakerRecheck, p, key, domain.EnqueueOpts{})
}
