package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/openfloor/nftindex/internal/domain"
	"github.com/openfloor/nftindex/internal/fillability"
	"github.com/openfloor/nftindex/internal/metrics"
)

type fakeLocks struct {
	held     bool
	acquired []string
	released int
}

func (l *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	if l.held {
		return nil, domain.ErrLockHeld
	}
	l.acquired = append(l.acquired, key)
	return func() { l.released++ }, nil
}

type fakeOrders struct {
	rows    map[string]domain.Order
	patches []domain.StatusPatch
}

func (s *fakeOrders) GetByID(_ context.Context, id string) (domain.Order, error) {
	o, ok := s.rows[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

func (s *fakeOrders) InsertBatch(context.Context, []domain.Order) ([]string, error) {
	return nil, nil
}

func (s *fakeOrders) UpdateTerms(context.Context, domain.Order) error { return nil }

func (s *fakeOrders) UpdateStatus(_ context.Context, patch domain.StatusPatch) error {
	o := s.rows[patch.OrderID]
	o.Fillability = patch.Fillability
	o.Approval = patch.Approval
	s.rows[patch.OrderID] = o
	s.patches = append(s.patches, patch)
	return nil
}

func (s *fakeOrders) List(context.Context, domain.OrderFilter, domain.ListOpts) ([]domain.Order, error) {
	return nil, nil
}

func (s *fakeOrders) ListOpenByToken(context.Context, common.Address, *big.Int, domain.Side) ([]domain.Order, error) {
	return nil, nil
}

func (s *fakeOrders) ListOpenByMaker(_ context.Context, maker common.Address) ([]domain.Order, error) {
	var out []domain.Order
	for _, o := range s.rows {
		if o.Maker == maker && o.Open() {
			out = append(out, o)
		}
	}
	return out, nil
}

type fakeTokenSets struct {
	sets map[string]domain.TokenSet
}

func (s *fakeTokenSets) Save(context.Context, domain.TokenSet) error { return nil }

func (s *fakeTokenSets) GetByID(_ context.Context, id string) (domain.TokenSet, error) {
	ts, ok := s.sets[id]
	if !ok {
		return domain.TokenSet{}, domain.ErrNotFound
	}
	return ts, nil
}

type fakeChecker struct {
	outcome fillability.Outcome
	calls   int
}

func (c *fakeChecker) Check(context.Context, *domain.NormalizedOrder) (fillability.Outcome, error) {
	c.calls++
	return c.outcome, nil
}

type queuedJob struct {
	name string
	key  string
	opts domain.EnqueueOpts
}

type fakeQueue struct {
	jobs []queuedJob
}

func (q *fakeQueue) Enqueue(_ context.Context, name string, _ any, key string, opts domain.EnqueueOpts) error {
	q.jobs = append(q.jobs, queuedJob{name: name, key: key, opts: opts})
	return nil
}

var (
	jobMaker    = common.HexToAddress("0x2222222222222222222222222222222222222222")
	jobContract = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

type recheckHarness struct {
	handler Handler
	locks   *fakeLocks
	orders  *fakeOrders
	checker *fakeChecker
	queue   *fakeQueue
}

func newRecheckHarness(t *testing.T, outcome fillability.Outcome) *recheckHarness {
	t.Helper()

	tokenSetID := domain.SingleTokenID(jobContract, big.NewInt(1))
	h := &recheckHarness{
		locks: &fakeLocks{},
		orders: &fakeOrders{rows: map[string]domain.Order{
			"ord-1": {
				ID:                "ord-1",
				Kind:              domain.OrderKindSeaport,
				Side:              domain.SideSell,
				Maker:             jobMaker,
				TokenSetID:        tokenSetID,
				Fillability:       domain.FillabilityFillable,
				Approval:          domain.ApprovalApproved,
				QuantityRemaining: big.NewInt(1),
			},
		}},
		checker: &fakeChecker{outcome: outcome},
		queue:   &fakeQueue{},
	}
	tokenSets := &fakeTokenSets{sets: map[string]domain.TokenSet{
		tokenSetID: {
			ID:       tokenSetID,
			Kind:     domain.TokenSetSingle,
			Contract: jobContract,
			TokenID:  big.NewInt(1),
		},
	}}
	h.handler = makerRecheckHandler(HandlerDeps{
		Locks:     h.locks,
		Orders:    h.orders,
		TokenSets: tokenSets,
		Checker:   h.checker,
		Queue:     h.queue,
		Metrics:   metrics.New(),
		Logger:    slog.New(slog.DiscardHandler),
	})
	return h
}

func recheckJob(t *testing.T) domain.Job {
	t.Helper()
	payload, err := json.Marshal(domain.MakerRecheckPayload{
		Maker:    jobMaker.Hex(),
		Contract: jobContract.Hex(),
		Trigger:  domain.TriggerBalanceChange,
		TxHash:   common.HexToHash("0xf00d").Hex(),
		Block:    1000,
		LogIndex: 3,
	})
	require.NoError(t, err)
	return domain.Job{
		Name:           domain.JobMakerRecheck,
		Payload:        payload,
		IdempotencyKey: "recheck-key",
	}
}

func TestMakerRecheckFlipsStatus(t *testing.T) {
	t.Parallel()
	h := newRecheckHarness(t, fillability.OutcomeNoBalance)

	require.NoError(t, h.handler(context.Background(), recheckJob(t)))

	require.Equal(t, 1, h.checker.calls)
	require.Len(t, h.orders.patches, 1)
	require.Equal(t, domain.FillabilityNoBalance, h.orders.patches[0].Fillability)
	require.Equal(t, domain.ApprovalApproved, h.orders.patches[0].Approval)

	require.Len(t, h.queue.jobs, 1)
	require.Equal(t, domain.JobOrderUpdated, h.queue.jobs[0].name)

	require.Len(t, h.locks.acquired, 1)
	require.True(t, strings.HasPrefix(h.locks.acquired[0], "maker-recheck:"))
	require.Equal(t, 1, h.locks.released)
}

func TestMakerRecheckUnchangedStatusIsQuiet(t *testing.T) {
	t.Parallel()
	h := newRecheckHarness(t, fillability.OutcomeFillable)

	require.NoError(t, h.handler(context.Background(), recheckJob(t)))

	require.Equal(t, 1, h.checker.calls)
	require.Empty(t, h.orders.patches)
	require.Empty(t, h.queue.jobs)
}

func TestMakerRecheckRequeuesWhenMakerLocked(t *testing.T) {
	t.Parallel()
	h := newRecheckHarness(t, fillability.OutcomeNoBalance)
	h.locks.held = true

	require.NoError(t, h.handler(context.Background(), recheckJob(t)))

	// The running holder covers the chain read; this delivery defers instead
	// of doubling it.
	require.Zero(t, h.checker.calls)
	require.Empty(t, h.orders.patches)
	require.Len(t, h.queue.jobs, 1)
	require.Equal(t, domain.JobMakerRecheck, h.queue.jobs[0].name)
	require.Equal(t, "recheck-key:requeue", h.queue.jobs[0].key)
	require.Positive(t, h.queue.jobs[0].opts.Delay)
}
