package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openfloor/nftindex/internal/domain"
)

// applyCancel records the cancel fact and, when the order row exists and is
// still open, transitions it to cancelled. Cancels for orders the index never
// saw still leave a fact so a late-arriving order signal stays suppressed.
func (r *Router) applyCancel(ctx context.Context, e domain.CancelEvent) error {
	stored, err := r.orders.GetByID(ctx, e.OrderID)
	known := true
	switch {
	case errors.Is(err, domain.ErrNotFound):
		known = false
	case err != nil:
		return fmt.Errorf("get order %s: %w", e.OrderID, err)
	}
	if known && e.Maker == (common.Address{}) {
		e.Maker = stored.Maker
	}

	if err := r.facts.InsertCancel(ctx, e); err != nil {
		return fmt.Errorf("insert cancel %s: %w", e.OrderID, err)
	}
	if !known || !stored.Open() {
		return nil
	}

	coords := e.Coords()
	err = r.orders.UpdateStatus(ctx, domain.StatusPatch{
		OrderID:     e.OrderID,
		Fillability: domain.FillabilityCancelled,
		Approval:    stored.Approval,
		Coords:      &coords,
		Timestamp:   e.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("cancel order %s: %w", e.OrderID, err)
	}
	r.notifyOrder(ctx, e.OrderID, domain.TriggerCancel, e.TxHash, coords, e)
	return nil
}

// applyFill attaches oracle prices, records the fill fact, and settles the
// order row: partially filled ERC1155 orders have their remaining quantity
// reduced, everything else goes terminal. Fills without a native price are
// dropped, not retried.
func (r *Router) applyFill(ctx context.Context, e *domain.FillEvent) error {
	prices, err := r.oracle.GetUSDAndNativePrices(ctx, e.Currency, e.CurrencyPrice, e.Timestamp.Unix())
	switch {
	case errors.Is(err, domain.ErrMissingNativePrice):
		r.dropFill(e)
		return nil
	case err != nil:
		return fmt.Errorf("oracle prices %s: %w", e.OrderID, err)
	case prices.Native == nil:
		r.dropFill(e)
		return nil
	}
	e.Price = prices.Native
	e.USDPrice = prices.USD

	if err := r.facts.InsertFill(ctx, *e); err != nil {
		return fmt.Errorf("insert fill %s: %w", e.OrderID, err)
	}

	stored, err := r.orders.GetByID(ctx, e.OrderID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("get order %s: %w", e.OrderID, err)
	}
	if !stored.Open() {
		return nil
	}

	coords := e.Coords()
	if remaining := partialRemainder(&stored, e.Amount); remaining != nil {
		stored.QuantityRemaining = remaining
		stored.BlockNumber = &coords.Block
		stored.LogIndex = &coords.LogIndex
		stored.UpdatedAt = e.Timestamp
		if err := r.orders.UpdateTerms(ctx, stored); err != nil {
			return fmt.Errorf("reduce quantity %s: %w", e.OrderID, err)
		}
	} else {
		err := r.orders.UpdateStatus(ctx, domain.StatusPatch{
			OrderID:     e.OrderID,
			Fillability: domain.FillabilityFilled,
			Approval:    stored.Approval,
			Coords:      &coords,
			Timestamp:   e.Timestamp,
		})
		if err != nil {
			return fmt.Errorf("fill order %s: %w", e.OrderID, err)
		}
	}
	r.notifyOrder(ctx, e.OrderID, domain.TriggerSale, e.TxHash, coords, e)
	return nil
}

// partialRemainder returns the reduced remaining quantity when the fill only
// consumes part of a multi-unit order, or nil when the order is exhausted.
func partialRemainder(stored *domain.Order, amount *big.Int) *big.Int {
	if stored.QuantityRemaining == nil || amount == nil {
		return nil
	}
	if amount.Cmp(stored.QuantityRemaining) >= 0 {
		return nil
	}
	return new(big.Int).Sub(stored.QuantityRemaining, amount)
}

func (r *Router) dropFill(e *domain.FillEvent) {
	r.metrics.FillsDropped.Inc()
	r.logger.Warn("fill dropped, no native price",
		slog.String("order_id", e.OrderID),
		slog.String("currency", e.Currency.Hex()),
		slog.String("tx", e.TxHash.Hex()))
}

func (r *Router) notifyOrder(ctx context.Context, orderID string, trigger domain.TriggerKind, txHash common.Hash, coords domain.EventCoords, src any) {
	if r.queue == nil {
		return
	}
	update := domain.OrderUpdate{
		OrderID:  orderID,
		Trigger:  trigger,
		TxHash:   txHash,
		LogIndex: coords.LogIndex,
	}
	switch e := src.(type) {
	case domain.CancelEvent:
		update.TxTimestamp = e.Timestamp
		update.BatchIndex = e.BatchIndex
	case *domain.FillEvent:
		update.TxTimestamp = e.Timestamp
		update.BatchIndex = e.BatchIndex
	}
	if err := r.queue.Enqueue(ctx, domain.JobOrderUpdated, update, update.IdempotencyKey(), domain.EnqueueOpts{}); err != nil {
		r.logger.Error("enqueue order update failed",
			slog.String("order_id", orderID),
			slog.String("trigger", string(trigger)),
			slog.String("error", err.Error()))
	}
}
