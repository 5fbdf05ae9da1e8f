package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	cacheredis "github.com/openfloor/nftindex/internal/cache/redis"
	"github.com/openfloor/nftindex/internal/domain"
	"github.com/openfloor/nftindex/internal/fillability"
	"github.com/openfloor/nftindex/internal/metrics"
	"github.com/openfloor/nftindex/internal/relay"
)

// UpdatesChannel is the pub/sub channel carrying order change notifications
// to the websocket feed.
const UpdatesChannel = "orders:updates"

// ValidityChecker re-runs the balance/approval simulation for one order.
type ValidityChecker interface {
	Check(ctx context.Context, n *domain.NormalizedOrder) (fillability.Outcome, error)
}

// RawArchiver persists raw order payloads to blob storage.
type RawArchiver interface {
	Archive(ctx context.Context, key string, payload []byte) error
}

// HandlerDeps bundles what the built-in handlers need.
type HandlerDeps struct {
	Redis     *cacheredis.Client
	Locks     domain.LockManager
	Orders    domain.OrderStore
	TokenSets domain.TokenSetStore
	Checker   ValidityChecker
	Queue     domain.JobQueue
	Relay     *relay.Client
	Archiver  RawArchiver
	Metrics   *metrics.Set
	Logger    *slog.Logger
}

// Handlers builds the handler table for the worker pool. Handlers whose
// dependency is absent (no relay endpoint, no blob bucket) are simply not
// registered.
func Handlers(d HandlerDeps) map[string]Handler {
	h := map[string]Handler{
		domain.JobOrderUpdated: orderUpdatedHandler(d),
		domain.JobMakerRecheck: makerRecheckHandler(d),
	}
	if d.Relay != nil {
		h[domain.JobRelayOrder] = relayOrderHandler(d)
	}
	if d.Archiver != nil {
		h[domain.JobArchiveRaw] = archiveRawHandler(d)
	}
	return h
}

// orderUpdatedHandler fans the change notification out to the websocket feed.
func orderUpdatedHandler(d HandlerDeps) Handler {
	rdb := d.Redis.Underlying()
	return func(ctx context.Context, job domain.Job) error {
		if err := rdb.Publish(ctx, UpdatesChannel, []byte(job.Payload)).Err(); err != nil {
			return fmt.Errorf("publish order update: %w", err)
		}
		return nil
	}
}

// Maker rechecks are serialized per maker: concurrent runs burn RPC reads on
// the same balances and can interleave their status writes.
const (
	recheckLockTTL      = time.Minute
	recheckRequeueDelay = 5 * time.Second
)

// makerRecheckHandler re-runs the validity check for every open order of the
// maker touching the changed contract and applies any status flips.
func makerRecheckHandler(d HandlerDeps) Handler {
	return func(ctx context.Context, job domain.Job) error {
		var p domain.MakerRecheckPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return fmt.Errorf("unmarshal recheck payload: %w", err)
		}
		maker := common.HexToAddress(p.Maker)
		contract := strings.ToLower(p.Contract)

		unlock, err := d.Locks.Acquire(ctx, "maker-recheck:"+strings.ToLower(p.Maker), recheckLockTTL)
		switch {
		case errors.Is(err, domain.ErrLockHeld):
			// Another worker is rechecking this maker; run again shortly so a
			// state change behind the running check is not missed.
			return d.Queue.Enqueue(ctx, domain.JobMakerRecheck, p,
				job.IdempotencyKey+":requeue", domain.EnqueueOpts{Delay: recheckRequeueDelay})
		case err != nil:
			return fmt.Errorf("acquire recheck lock: %w", err)
		}
		defer unlock()

		open, err := d.Orders.ListOpenByMaker(ctx, maker)
		if err != nil {
			return fmt.Errorf("list open by maker: %w", err)
		}

		for i := range open {
			o := &open[i]
			if !strings.Contains(o.TokenSetID, contract) {
				continue
			}
			if err := recheckOrder(ctx, d, o, p); err != nil {
				return err
			}
		}
		return nil
	}
}

func recheckOrder(ctx context.Context, d HandlerDeps, o *domain.Order, p domain.MakerRecheckPayload) error {
	ts, err := d.TokenSets.GetByID(ctx, o.TokenSetID)
	if err != nil {
		return fmt.Errorf("get token set %s: %w", o.TokenSetID, err)
	}

	n := domain.NormalizedOrder{
		Order: *o,
		TokenSet: domain.TokenSetSpec{
			Kind:     ts.Kind,
			Contract: ts.Contract,
			TokenID:  ts.TokenID,
			TokenIDs: ts.TokenIDs,
			Start:    ts.Start,
			End:      ts.End,
		},
	}
	outcome, err := d.Checker.Check(ctx, &n)
	if err != nil {
		return fmt.Errorf("recheck %s: %w", o.ID, err)
	}
	if outcome == fillability.OutcomeNotFillable {
		return nil
	}

	fillable, approval := outcome.Statuses()
	if fillable == o.Fillability && approval == o.Approval {
		return nil
	}

	coords := domain.EventCoords{Block: p.Block, LogIndex: p.LogIndex}
	err = d.Orders.UpdateStatus(ctx, domain.StatusPatch{
		OrderID:     o.ID,
		Fillability: fillable,
		Approval:    approval,
		Coords:      &coords,
	})
	if err != nil {
		return fmt.Errorf("update status %s: %w", o.ID, err)
	}

	update := domain.OrderUpdate{
		OrderID:  o.ID,
		Trigger:  p.Trigger,
		TxHash:   common.HexToHash(p.TxHash),
		LogIndex: p.LogIndex,
	}
	return d.Queue.Enqueue(ctx, domain.JobOrderUpdated, update, update.IdempotencyKey(), domain.EnqueueOpts{})
}

// RelayOrderPayload asks a worker to push one order to the external relayer.
type RelayOrderPayload struct {
	OrderID string `json:"order_id"`
}

// relayOrderHandler submits the order to the relayer. Structural rejections
// are dropped; throttling and unknown failures are retried through the job
// queue's attempt budget.
func relayOrderHandler(d HandlerDeps) Handler {
	return func(ctx context.Context, job domain.Job) error {
		var p RelayOrderPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return fmt.Errorf("unmarshal relay payload: %w", err)
		}
		o, err := d.Orders.GetByID(ctx, p.OrderID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		err = d.Relay.PostOrder(ctx, &o)
		switch {
		case errors.Is(err, relay.ErrInvalidOrder):
			d.Metrics.RelaySubmissions.WithLabelValues("invalid").Inc()
			d.Logger.Warn("relayer rejected order", slog.String("order_id", o.ID))
			return nil
		case errors.Is(err, domain.ErrRateLimited):
			d.Metrics.RelaySubmissions.WithLabelValues("throttled").Inc()
			return err
		case err != nil:
			d.Metrics.RelaySubmissions.WithLabelValues("error").Inc()
			return err
		}
		d.Metrics.RelaySubmissions.WithLabelValues("ok").Inc()
		return nil
	}
}

// ArchiveRawPayload asks a worker to archive one raw order payload.
type ArchiveRawPayload struct {
	Key     string          `json:"key"`
	Payload json.RawMessage `json:"payload"`
}

func archiveRawHandler(d HandlerDeps) Handler {
	return func(ctx context.Context, job domain.Job) error {
		var p ArchiveRawPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return fmt.Errorf("unmarshal archive payload: %w", err)
		}
		return d.Archiver.Archive(ctx, p.Key, []byte(p.Payload))
	}
}
