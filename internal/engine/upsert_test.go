package engine

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/openfloor/nftindex/internal/domain"
	"github.com/openfloor/nftindex/internal/fillability"
	"github.com/openfloor/nftindex/internal/metrics"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeOrders struct {
	mu    sync.Mutex
	rows  map[string]domain.Order
	terms []domain.Order
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{rows: make(map[string]domain.Order)}
}

func (s *fakeOrders) GetByID(_ context.Context, id string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.rows[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

func (s *fakeOrders) InsertBatch(_ context.Context, orders []domain.Order) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var inserted []string
	for _, o := range orders {
		if _, exists := s.rows[o.ID]; exists {
			continue
		}
		s.rows[o.ID] = o
		inserted = append(inserted, o.ID)
	}
	return inserted, nil
}

func (s *fakeOrders) UpdateTerms(_ context.Context, o domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[o.ID]; !ok {
		return domain.ErrNotFound
	}
	s.rows[o.ID] = o
	s.terms = append(s.terms, o)
	return nil
}

func (s *fakeOrders) UpdateStatus(_ context.Context, patch domain.StatusPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.rows[patch.OrderID]
	if !ok {
		return domain.ErrNotFound
	}
	o.Fillability = patch.Fillability
	o.Approval = patch.Approval
	s.rows[patch.OrderID] = o
	return nil
}

func (s *fakeOrders) List(context.Context, domain.OrderFilter, domain.ListOpts) ([]domain.Order, error) {
	return nil, nil
}

func (s *fakeOrders) ListOpenByToken(context.Context, common.Address, *big.Int, domain.Side) ([]domain.Order, error) {
	return nil, nil
}

func (s *fakeOrders) ListOpenByMaker(context.Context, common.Address) ([]domain.Order, error) {
	return nil, nil
}

type fakeEvents struct {
	terminal map[string]domain.EventCoords
}

func (s *fakeEvents) InsertCancel(context.Context, domain.CancelEvent) error { return nil }
func (s *fakeEvents) InsertFill(context.Context, domain.FillEvent) error     { return nil }
func (s *fakeEvents) ListFillsByToken(context.Context, common.Address, *big.Int, domain.ListOpts) ([]domain.FillEvent, error) {
	return nil, nil
}

func (s *fakeEvents) LatestTerminalCoords(_ context.Context, orderID string) (domain.EventCoords, bool, error) {
	c, ok := s.terminal[orderID]
	return c, ok, nil
}

type fakeResolver struct{}

func (fakeResolver) Resolve(_ context.Context, spec domain.TokenSetSpec, _ common.Hash) (string, error) {
	if spec.TokenID != nil {
		return domain.SingleTokenID(spec.Contract, spec.TokenID), nil
	}
	return domain.ContractWideID(spec.Contract), nil
}

type fakeChecker struct {
	outcome fillability.Outcome
	calls   atomic.Int32
}

func (c *fakeChecker) Check(context.Context, *domain.NormalizedOrder) (fillability.Outcome, error) {
	c.calls.Add(1)
	return c.outcome, nil
}

type enqueued struct {
	name string
	key  string
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []enqueued
}

func (q *fakeQueue) Enqueue(_ context.Context, name string, _ any, key string, _ domain.EnqueueOpts) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, enqueued{name: name, key: key})
	return nil
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

type harness struct {
	engine  *Engine
	orders  *fakeOrders
	events  *fakeEvents
	checker *fakeChecker
	queue   *fakeQueue
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		orders:  newFakeOrders(),
		events:  &fakeEvents{terminal: make(map[string]domain.EventCoords)},
		checker: &fakeChecker{outcome: fillability.OutcomeFillable},
		queue:   &fakeQueue{},
	}
	logger := slog.New(slog.DiscardHandler)
	h.engine = New(h.orders, h.events, fakeResolver{}, h.checker, h.queue, metrics.New(), logger, Options{Concurrency: 2})
	return h
}

var (
	engContract = common.HexToAddress("0x4444444444444444444444444444444444444444")
	engMaker    = common.HexToAddress("0x5555555555555555555555555555555555555555")
)

func candidate(id string, origin domain.SignalOrigin) domain.NormalizedOrder {
	return domain.NormalizedOrder{
		Order: domain.Order{
			ID:                id,
			Kind:              domain.OrderKindSeaport,
			Side:              domain.SideSell,
			Maker:             engMaker,
			Price:             big.NewInt(1000),
			Value:             big.NewInt(1000),
			QuantityRemaining: big.NewInt(1),
			ValidFrom:         origin.Timestamp,
		},
		TokenSet: domain.SingleTokenSpec(engContract, big.NewInt(1)),
		Origin:   origin,
	}
}

func onChain(block uint64, logIndex uint32, ts int64) domain.SignalOrigin {
	return domain.SignalOrigin{
		TxHash:    common.HexToHash("0xabc"),
		Block:     block,
		LogIndex:  logIndex,
		Timestamp: time.Unix(ts, 0).UTC(),
		OnChain:   true,
	}
}

func offChain(ts int64) domain.SignalOrigin {
	return domain.SignalOrigin{Timestamp: time.Unix(ts, 0).UTC()}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestUpsertInsertsNewOrder(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	results, err := h.engine.Upsert(context.Background(), []domain.NormalizedOrder{
		candidate("ord-1", offChain(1000)),
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, domain.UpsertSuccess, results[0].Status)
	require.Equal(t, domain.TriggerNewOrder, results[0].Trigger)

	stored, err := h.orders.GetByID(context.Background(), "ord-1")
	require.NoError(t, err)
	require.Equal(t, domain.FillabilityFillable, stored.Fillability)
	require.Equal(t, domain.ApprovalApproved, stored.Approval)
	require.NotEmpty(t, stored.TokenSetID)

	require.Len(t, h.queue.jobs, 1)
	require.Equal(t, domain.JobOrderUpdated, h.queue.jobs[0].name)
}

func TestUpsertStaleRepriceIsRedundant(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	// Insert at (100, 5), reprice at (101, 2), then replay an older signal.
	_, err := h.engine.Upsert(ctx, []domain.NormalizedOrder{candidate("ord-1", onChain(100, 5, 1000))})
	require.NoError(t, err)

	reprice := candidate("ord-1", onChain(101, 2, 1010))
	reprice.Order.Price = big.NewInt(800)
	reprice.Order.Value = big.NewInt(800)
	results, err := h.engine.Upsert(ctx, []domain.NormalizedOrder{reprice})
	require.NoError(t, err)
	require.Equal(t, domain.UpsertSuccess, results[0].Status)
	require.Equal(t, domain.TriggerReprice, results[0].Trigger)

	stale := candidate("ord-1", onChain(100, 9, 1005))
	stale.Order.Price = big.NewInt(1200)
	results, err = h.engine.Upsert(ctx, []domain.NormalizedOrder{stale})
	require.NoError(t, err)
	require.Equal(t, domain.UpsertRedundant, results[0].Status)

	stored, err := h.orders.GetByID(ctx, "ord-1")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(800), stored.Price, "stale replay must not move the row back")
}

func TestUpsertEqualCoordsAreRedundant(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.Upsert(ctx, []domain.NormalizedOrder{candidate("ord-1", onChain(100, 5, 1000))})
	require.NoError(t, err)

	results, err := h.engine.Upsert(ctx, []domain.NormalizedOrder{candidate("ord-1", onChain(100, 5, 1000))})
	require.NoError(t, err)
	require.Equal(t, domain.UpsertRedundant, results[0].Status, "monotonicity is strict")
}

func TestUpsertOnChainRowIgnoresTimestampSignals(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.Upsert(ctx, []domain.NormalizedOrder{candidate("ord-1", onChain(100, 5, 1000))})
	require.NoError(t, err)

	// A much later off-chain signal still loses to on-chain coordinates.
	results, err := h.engine.Upsert(ctx, []domain.NormalizedOrder{candidate("ord-1", offChain(99999))})
	require.NoError(t, err)
	require.Equal(t, domain.UpsertRedundant, results[0].Status)
}

func TestUpsertTimestampFallback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		storedAt int64
		signalAt int64
		want     domain.UpsertStatus
	}{
		{name: "NewerTimestampWins", storedAt: 1000, signalAt: 2000, want: domain.UpsertSuccess},
		{name: "OlderTimestampLoses", storedAt: 2000, signalAt: 1000, want: domain.UpsertRedundant},
		{name: "EqualTimestampLoses", storedAt: 1000, signalAt: 1000, want: domain.UpsertRedundant},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			ctx := context.Background()

			_, err := h.engine.Upsert(ctx, []domain.NormalizedOrder{candidate("ord-1", offChain(tt.storedAt))})
			require.NoError(t, err)

			results, err := h.engine.Upsert(ctx, []domain.NormalizedOrder{candidate("ord-1", offChain(tt.signalAt))})
			require.NoError(t, err)
			require.Equal(t, tt.want, results[0].Status)
		})
	}
}

func TestUpsertTerminalEventSuppressesSignals(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	// A cancel was recorded at (200, 3) before any order row existed.
	h.events.terminal["ord-1"] = domain.EventCoords{Block: 200, LogIndex: 3}

	// Off-chain signal with any timestamp: redundant.
	results, err := h.engine.Upsert(ctx, []domain.NormalizedOrder{candidate("ord-1", offChain(99999))})
	require.NoError(t, err)
	require.Equal(t, domain.UpsertRedundant, results[0].Status)

	// On-chain signal at or before the terminal coordinates: redundant.
	results, err = h.engine.Upsert(ctx, []domain.NormalizedOrder{candidate("ord-1", onChain(200, 3, 1000))})
	require.NoError(t, err)
	require.Equal(t, domain.UpsertRedundant, results[0].Status)

	// Strictly past the terminal coordinates: processed.
	results, err = h.engine.Upsert(ctx, []domain.NormalizedOrder{candidate("ord-1", onChain(200, 4, 1001))})
	require.NoError(t, err)
	require.Equal(t, domain.UpsertSuccess, results[0].Status)
}

func TestUpsertDuplicateInBatch(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	results, err := h.engine.Upsert(context.Background(), []domain.NormalizedOrder{
		candidate("ord-1", offChain(1000)),
		candidate("ord-1", offChain(1000)),
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	statuses := []domain.UpsertStatus{results[0].Status, results[1].Status}
	require.Contains(t, statuses, domain.UpsertSuccess)
	require.Contains(t, statuses, domain.UpsertAlreadyExists)
}

func TestUpsertExpiredOrderIsRecorded(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	past := time.Now().Add(-time.Hour).UTC()
	c := candidate("ord-1", offChain(1000))
	c.Order.ValidUntil = &past

	results, err := h.engine.Upsert(context.Background(), []domain.NormalizedOrder{c})
	require.NoError(t, err)
	require.Equal(t, domain.UpsertSuccess, results[0].Status)

	stored, err := h.orders.GetByID(context.Background(), "ord-1")
	require.NoError(t, err)
	require.Equal(t, domain.FillabilityExpired, stored.Fillability)
	require.Zero(t, h.checker.calls.Load(), "expired orders skip the balance check")
}

func TestUpsertNotFillableIsRejected(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.checker.outcome = fillability.OutcomeNotFillable

	results, err := h.engine.Upsert(context.Background(), []domain.NormalizedOrder{
		candidate("ord-1", offChain(1000)),
	})
	require.NoError(t, err)
	require.Equal(t, domain.UpsertRejected, results[0].Status)
	require.Equal(t, domain.RejectNotFillable, results[0].Reason)

	_, err = h.orders.GetByID(context.Background(), "ord-1")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpsertNoBalanceStillPersists(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.checker.outcome = fillability.OutcomeNoBalance

	results, err := h.engine.Upsert(context.Background(), []domain.NormalizedOrder{
		candidate("ord-1", offChain(1000)),
	})
	require.NoError(t, err)
	require.Equal(t, domain.UpsertSuccess, results[0].Status)

	stored, err := h.orders.GetByID(context.Background(), "ord-1")
	require.NoError(t, err)
	require.Equal(t, domain.FillabilityNoBalance, stored.Fillability)
	require.Equal(t, domain.ApprovalApproved, stored.Approval)
}

func TestUpsertTerminalRowStaysTerminal(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.Upsert(ctx, []domain.NormalizedOrder{candidate("ord-1", onChain(100, 5, 1000))})
	require.NoError(t, err)
	require.NoError(t, h.orders.UpdateStatus(ctx, domain.StatusPatch{
		OrderID:     "ord-1",
		Fillability: domain.FillabilityCancelled,
		Approval:    domain.ApprovalApproved,
	}))

	results, err := h.engine.Upsert(ctx, []domain.NormalizedOrder{candidate("ord-1", onChain(300, 1, 2000))})
	require.NoError(t, err)
	require.Equal(t, domain.UpsertRedundant, results[0].Status)
}
