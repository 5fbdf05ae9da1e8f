// Package engine reconciles normalized order signals into the canonical order
// store. It enforces the two ordering rules that keep the index convergent
// under out-of-order delivery: terminal events always win against older
// signals, and an existing row only moves forward when the incoming signal is
// strictly newer by on-chain coordinates.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/openfloor/nftindex/internal/domain"
	"github.com/openfloor/nftindex/internal/fillability"
	"github.com/openfloor/nftindex/internal/metrics"
)

// defaultConcurrency bounds the per-candidate evaluation fan-out. Each
// candidate costs a handful of store reads and up to two RPC calls.
const defaultConcurrency = 20

// ValidityChecker runs the off-chain balance/approval simulation.
type ValidityChecker interface {
	Check(ctx context.Context, n *domain.NormalizedOrder) (fillability.Outcome, error)
}

// TokenSetResolver persists an order's token scope and returns its id.
type TokenSetResolver interface {
	Resolve(ctx context.Context, spec domain.TokenSetSpec, schemaHash common.Hash) (string, error)
}

// Engine is the order upsert engine.
type Engine struct {
	orders      domain.OrderStore
	events      domain.OrderEventStore
	tokensets   TokenSetResolver
	checker     ValidityChecker
	queue       domain.JobQueue
	metrics     *metrics.Set
	logger      *slog.Logger
	concurrency int
	now         func() time.Time
}

// Options tunes optional Engine behavior.
type Options struct {
	// Concurrency bounds parallel candidate evaluation; 0 means the default.
	Concurrency int
}

// New creates an Engine. queue may be nil when downstream notifications are
// disabled (backfill mode).
func New(orders domain.OrderStore, events domain.OrderEventStore, tokensets TokenSetResolver, checker ValidityChecker, queue domain.JobQueue, m *metrics.Set, logger *slog.Logger, opts Options) *Engine {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Engine{
		orders:      orders,
		events:      events,
		tokensets:   tokensets,
		checker:     checker,
		queue:       queue,
		metrics:     m,
		logger:      logger.With(slog.String("component", "engine")),
		concurrency: concurrency,
		now:         time.Now,
	}
}

// plan is the evaluated fate of one candidate before the write phase.
type plan struct {
	result domain.UpsertResult
	insert *domain.Order
	update *domain.Order
	origin domain.SignalOrigin
}

// Upsert reconciles a batch of normalized orders. Per-order rejections and
// redundancies are reported in the results and never abort the batch; only
// infrastructure failures (store or RPC errors) return a non-nil error.
func (e *Engine) Upsert(ctx context.Context, batch []domain.NormalizedOrder) ([]domain.UpsertResult, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	plans := make([]plan, len(batch))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i := range batch {
		g.Go(func() error {
			p, err := e.evaluate(gctx, &batch[i])
			if err != nil {
				return err
			}
			plans[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("engine: evaluate batch: %w", err)
	}

	if err := e.applyInserts(ctx, plans); err != nil {
		return nil, err
	}
	if err := e.applyUpdates(ctx, plans); err != nil {
		return nil, err
	}

	results := make([]domain.UpsertResult, len(plans))
	for i := range plans {
		results[i] = plans[i].result
		e.metrics.OrderUpserts.WithLabelValues(string(results[i].Status)).Inc()
	}
	e.notify(ctx, plans)
	return results, nil
}

// evaluate decides what to do with one candidate. It never writes order rows;
// writes happen in the batched phase so racing duplicates resolve through the
// store's insert semantics.
func (e *Engine) evaluate(ctx context.Context, n *domain.NormalizedOrder) (plan, error) {
	id := n.Order.ID

	// A terminal event at coordinates at or past the signal makes the signal
	// stale regardless of what it says. Off-chain signals never outrank a
	// recorded terminal event.
	if terminal, ok, err := e.events.LatestTerminalCoords(ctx, id); err != nil {
		return plan{}, fmt.Errorf("terminal coords %s: %w", id, err)
	} else if ok {
		coords, onChain := n.Origin.Coords()
		if !onChain || !coords.Greater(terminal) {
			return redundantPlan(id), nil
		}
	}

	stored, err := e.orders.GetByID(ctx, id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return e.planInsert(ctx, n)
	case err != nil:
		return plan{}, fmt.Errorf("get order %s: %w", id, err)
	}

	if stored.Fillability.Terminal() {
		return redundantPlan(id), nil
	}
	if !newer(&stored, n.Origin) {
		return redundantPlan(id), nil
	}
	return e.planUpdate(ctx, n)
}

// newer reports whether the incoming signal outranks the stored row. On-chain
// coordinates order lexicographically; a row that has on-chain coordinates
// never yields to a timestamp-only signal.
func newer(stored *domain.Order, origin domain.SignalOrigin) bool {
	storedCoords, storedOnChain := stored.Coords()
	inCoords, inOnChain := origin.Coords()

	switch {
	case storedOnChain && inOnChain:
		return storedCoords.Less(inCoords)
	case storedOnChain:
		return false
	case inOnChain:
		return true
	default:
		return stored.ValidFrom.Before(origin.Timestamp)
	}
}

func (e *Engine) planInsert(ctx context.Context, n *domain.NormalizedOrder) (plan, error) {
	o, err := e.prepare(ctx, n)
	if err != nil {
		return rejectionPlan(n.Order.ID, err)
	}
	return plan{
		result: domain.UpsertResult{OrderID: o.ID, Status: domain.UpsertSuccess, Trigger: domain.TriggerNewOrder},
		insert: o,
		origin: n.Origin,
	}, nil
}

func (e *Engine) planUpdate(ctx context.Context, n *domain.NormalizedOrder) (plan, error) {
	o, err := e.prepare(ctx, n)
	if err != nil {
		return rejectionPlan(n.Order.ID, err)
	}
	return plan{
		result: domain.UpsertResult{OrderID: o.ID, Status: domain.UpsertSuccess, Trigger: domain.TriggerReprice},
		update: o,
		origin: n.Origin,
	}, nil
}

// prepare resolves the token set, runs the validity check, and stamps
// statuses and coordinates onto the row. Rejections come back as
// RejectionError; anything else is infrastructure.
func (e *Engine) prepare(ctx context.Context, n *domain.NormalizedOrder) (*domain.Order, error) {
	tokenSetID, err := e.tokensets.Resolve(ctx, n.TokenSet, n.Order.TokenSetSchemaHash)
	if err != nil {
		return nil, err
	}

	o := n.Order
	o.TokenSetID = tokenSetID

	now := e.now()
	switch {
	case o.ValidUntil != nil && !o.ValidUntil.After(now):
		// Already past its window: record it as expired rather than reject, so
		// historical queries still see the order.
		o.Fillability = domain.FillabilityExpired
		o.Approval = domain.ApprovalApproved
	default:
		outcome, err := e.checker.Check(ctx, n)
		if err != nil {
			return nil, err
		}
		if outcome == fillability.OutcomeNotFillable {
			return nil, domain.RejectOrder(domain.RejectNotFillable, o.ID)
		}
		o.Fillability, o.Approval = outcome.Statuses()
	}

	if coords, ok := n.Origin.Coords(); ok {
		o.BlockNumber = &coords.Block
		o.LogIndex = &coords.LogIndex
	}
	o.CreatedAt = now
	o.UpdatedAt = now
	return &o, nil
}

// applyInserts batches all new rows through a single conflict-tolerant insert.
// A row the store did not report back lost a race to an earlier signal.
func (e *Engine) applyInserts(ctx context.Context, plans []plan) error {
	var rows []domain.Order
	idx := make(map[string][]int)
	for i := range plans {
		if plans[i].insert == nil {
			continue
		}
		rows = append(rows, *plans[i].insert)
		idx[plans[i].insert.ID] = append(idx[plans[i].insert.ID], i)
	}
	if len(rows) == 0 {
		return nil
	}

	inserted, err := e.orders.InsertBatch(ctx, rows)
	if err != nil {
		return fmt.Errorf("engine: insert batch: %w", err)
	}
	won := make(map[string]bool, len(inserted))
	for _, id := range inserted {
		won[id] = true
	}
	for id, positions := range idx {
		if won[id] {
			// Duplicate candidates in one batch: only the first is the insert.
			for _, i := range positions[1:] {
				plans[i].result.Status = domain.UpsertAlreadyExists
				plans[i].insert = nil
			}
			continue
		}
		for _, i := range positions {
			plans[i].result.Status = domain.UpsertAlreadyExists
			plans[i].insert = nil
		}
	}
	return nil
}

func (e *Engine) applyUpdates(ctx context.Context, plans []plan) error {
	for i := range plans {
		if plans[i].update == nil {
			continue
		}
		if err := e.orders.UpdateTerms(ctx, *plans[i].update); err != nil {
			return fmt.Errorf("engine: update terms %s: %w", plans[i].update.ID, err)
		}
	}
	return nil
}

// notify enqueues one order-updated job per applied change. Enqueue failures
// are logged, not returned: the rows are already committed and the downstream
// feed tolerates gaps better than the index tolerates divergence.
func (e *Engine) notify(ctx context.Context, plans []plan) {
	if e.queue == nil {
		return
	}
	for i := range plans {
		p := &plans[i]
		if p.result.Status != domain.UpsertSuccess {
			continue
		}
		update := domain.OrderUpdate{
			OrderID:     p.result.OrderID,
			Trigger:     p.result.Trigger,
			TxHash:      p.origin.TxHash,
			TxTimestamp: p.origin.Timestamp,
			LogIndex:    p.origin.LogIndex,
			BatchIndex:  p.origin.BatchIndex,
		}
		if err := e.queue.Enqueue(ctx, domain.JobOrderUpdated, update, update.IdempotencyKey(), domain.EnqueueOpts{}); err != nil {
			e.logger.Error("enqueue order update failed",
				slog.String("order_id", update.OrderID),
				slog.String("trigger", string(update.Trigger)),
				slog.String("error", err.Error()))
		}
	}
}

func redundantPlan(id string) plan {
	return plan{
		result: domain.UpsertResult{OrderID: id, Status: domain.UpsertRedundant},
	}
}

// rejectionPlan converts an expected rejection into a per-order result;
// infrastructure errors pass through and abort the batch.
func rejectionPlan(id string, err error) (plan, error) {
	if rej, ok := domain.AsRejection(err); ok {
		return plan{
			result: domain.UpsertResult{
				OrderID: id,
				Status:  domain.UpsertRejected,
				Reason:  rej.Reason,
			},
		}, nil
	}
	return plan{}, err
}
