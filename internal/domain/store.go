package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// OrderFilter narrows order list queries. Zero values mean "any".
type OrderFilter struct {
	Side        Side
	Fillability FillabilityStatus
	Maker       *common.Address
	TokenSetID  string
	Kind        OrderKind
}

// StatusPatch is a guarded status transition applied to an existing order row.
// The store must refuse to move coordinates backwards.
type StatusPatch struct {
	OrderID     string
	Fillability FillabilityStatus
	Approval    ApprovalStatus
	Coords      *EventCoords
	Timestamp   time.Time
}

// OrderStore persists canonical orders. Writers follow a
// read-then-conditionally-write discipline: inserts never overwrite a racing
// duplicate, updates are guarded by the monotone coordinate check.
type OrderStore interface {
	GetByID(ctx context.Context, id string) (Order, error)
	// InsertBatch inserts rows with ON CONFLICT (id) DO NOTHING and returns
	// the ids actually inserted.
	InsertBatch(ctx context.Context, orders []Order) ([]string, error)
	// UpdateTerms refreshes the mutable order fields in place
	// (reprice/relist). The caller has already established that the incoming
	// signal is newer.
	UpdateTerms(ctx context.Context, o Order) error
	// UpdateStatus applies a fillability/approval transition.
	UpdateStatus(ctx context.Context, patch StatusPatch) error
	List(ctx context.Context, filter OrderFilter, opts ListOpts) ([]Order, error)
	// ListOpenByToken returns non-terminal orders whose token set covers the
	// given (contract, tokenId), used by balance rechecks.
	ListOpenByToken(ctx context.Context, contract common.Address, tokenID *big.Int, side Side) ([]Order, error)
	// ListOpenByMaker returns non-terminal orders by the given maker.
	ListOpenByMaker(ctx context.Context, maker common.Address) ([]Order, error)
}

// TokenSetStore persists token sets. Save is idempotent keyed by the set's
// deterministic id and safe under concurrent creation.
type TokenSetStore interface {
	Save(ctx context.Context, ts TokenSet) error
	GetByID(ctx context.Context, id string) (TokenSet, error)
}

// OrderEventStore persists the append-only cancel and fill facts and answers
// the upsert engine's redundancy check.
type OrderEventStore interface {
	InsertCancel(ctx context.Context, e CancelEvent) error
	InsertFill(ctx context.Context, e FillEvent) error
	// LatestTerminalCoords returns the highest (block, logIndex) recorded in
	// cancel or fill events for the order, or ok=false when none exist.
	LatestTerminalCoords(ctx context.Context, orderID string) (EventCoords, bool, error)
	ListFillsByToken(ctx context.Context, contract common.Address, tokenID *big.Int, opts ListOpts) ([]FillEvent, error)
}

// TransferStore persists NFT transfer facts.
type TransferStore interface {
	InsertBatch(ctx context.Context, transfers []TransferEvent) error
	ListByToken(ctx context.Context, contract common.Address, tokenID *big.Int, opts ListOpts) ([]TransferEvent, error)
}

// LockManager provides coarse-grained distributed locks for non-order-state
// operations (e.g. one-time search index initialization).
type LockManager interface {
	// Acquire returns an unlock function on success or ErrLockHeld when the
	// lock is taken.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}
