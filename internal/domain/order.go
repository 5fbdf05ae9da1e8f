package domain

import (
	"encoding/json"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// OrderKind identifies the exchange protocol an order originates from. The set
// is closed: every kind has a parser registered in internal/protocol and
// anything else is rejected at ingestion.
type OrderKind string

const (
	OrderKindSeaport          OrderKind = "seaport"
	OrderKindLooksRare        OrderKind = "looks-rare"
	OrderKindX2Y2             OrderKind = "x2y2"
	OrderKindZora             OrderKind = "zora"
	OrderKindElementERC721    OrderKind = "element-erc721"
	OrderKindElementERC1155   OrderKind = "element-erc1155"
	OrderKindManifold         OrderKind = "manifold"
	OrderKindSudoswap         OrderKind = "sudoswap"
	OrderKindCryptoPunks      OrderKind = "cryptopunks"
	OrderKindFoundation       OrderKind = "foundation"
	OrderKindInfinity         OrderKind = "infinity"
	OrderKindWyvernV23        OrderKind = "wyvern-v2.3"
	OrderKindPaymentProcessor OrderKind = "payment-processor"
)

// Side indicates whether the maker is selling or buying the token set.
type Side string

const (
	SideSell Side = "sell"
	SideBuy  Side = "buy"
)

// FillabilityStatus tracks whether an order can currently be executed.
// Filled, cancelled and expired are terminal; no-balance is reversible.
type FillabilityStatus string

const (
	FillabilityFillable  FillabilityStatus = "fillable"
	FillabilityNoBalance FillabilityStatus = "no-balance"
	FillabilityCancelled FillabilityStatus = "cancelled"
	FillabilityExpired   FillabilityStatus = "expired"
	FillabilityFilled    FillabilityStatus = "filled"
)

// Terminal reports whether the status permanently closes the order.
func (s FillabilityStatus) Terminal() bool {
	switch s {
	case FillabilityFilled, FillabilityCancelled, FillabilityExpired:
		return true
	default:
		return false
	}
}

// ApprovalStatus tracks whether the maker has granted the required operator
// (exchange or conduit) rights over the asset or currency.
type ApprovalStatus string

const (
	ApprovalApproved   ApprovalStatus = "approved"
	ApprovalNoApproval ApprovalStatus = "no-approval"
	ApprovalDisabled   ApprovalStatus = "disabled"
)

// FeeKind distinguishes marketplace fees from creator royalties in an order's
// fee breakdown.
type FeeKind string

const (
	FeeKindMarketplace FeeKind = "marketplace"
	FeeKindRoyalty     FeeKind = "royalty"
)

// FeeItem is a single entry in an order's fee breakdown.
type FeeItem struct {
	Kind      FeeKind        `json:"kind"`
	Recipient common.Address `json:"recipient"`
	Bps       int            `json:"bps"`
}

// MaxFeeBps is the upper bound on total fees (100%). Orders above it are
// structurally invalid and never persisted.
const MaxFeeBps = 10000

// Order is the canonical, protocol-agnostic order row. One id maps to exactly
// one logical order slot, across repriced and relisted instances.
type Order struct {
	ID          string
	Kind        OrderKind
	Side        Side
	Fillability FillabilityStatus
	Approval    ApprovalStatus

	TokenSetID         string
	TokenSetSchemaHash common.Hash

	Maker common.Address
	// Taker is the zero address when the order is open to anyone.
	Taker common.Address

	// Price is gross; Value is net of fees. For buy orders Value is what the
	// maker effectively offers after protocol and royalty fees come out.
	Price         *big.Int
	Value         *big.Int
	Currency      common.Address
	CurrencyPrice *big.Int
	CurrencyValue *big.Int

	QuantityRemaining *big.Int

	ValidFrom time.Time
	// ValidUntil is nil for orders with no expiration.
	ValidUntil *time.Time

	// Nonce is the maker-scoped nonce used by protocols with bulk
	// cancellation; nil when the protocol has none.
	Nonce *string

	Source       string
	FeeBps       int
	FeeBreakdown []FeeItem

	// RawData preserves the protocol-native payload for later re-signing or
	// filling.
	RawData json.RawMessage

	// BlockNumber and LogIndex are the on-chain coordinates of the most recent
	// state-changing event applied to this row. Nil for rows created from
	// off-chain feeds that have seen no on-chain signal yet.
	BlockNumber *uint64
	LogIndex    *uint32

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Coords returns the row's on-chain coordinates, or ok=false when the row was
// created from a timestamp-only source.
func (o *Order) Coords() (EventCoords, bool) {
	if o.BlockNumber == nil || o.LogIndex == nil {
		return EventCoords{}, false
	}
	return EventCoords{Block: *o.BlockNumber, LogIndex: *o.LogIndex}, true
}

// Open reports whether the order is in a state that further balance or
// approval events can still move.
func (o *Order) Open() bool {
	return !o.Fillability.Terminal()
}

// OrderMetadata describes an order's provenance and the schema used to build
// its token set. It is independent of the order's financial terms.
type OrderMetadata struct {
	Schema     json.RawMessage
	SchemaHash common.Hash
	Source     string
}

// SignalOrigin pins an order signal to its source coordinates. OnChain is
// false for off-chain feed payloads, in which case only Timestamp orders the
// signal.
type SignalOrigin struct {
	TxHash     common.Hash
	Block      uint64
	LogIndex   uint32
	BatchIndex uint32
	Timestamp  time.Time
	OnChain    bool
}

// Coords returns the origin's on-chain coordinates, or ok=false for off-chain
// signals.
func (s SignalOrigin) Coords() (EventCoords, bool) {
	if !s.OnChain {
		return EventCoords{}, false
	}
	return EventCoords{Block: s.Block, LogIndex: s.LogIndex}, true
}

// NormalizedOrder is a parsed, protocol-validated order together with the
// origin of the signal that produced it. It is the sole input to the upsert
// engine.
type NormalizedOrder struct {
	Order    Order
	TokenSet TokenSetSpec
	Origin   SignalOrigin
}

// TriggerKind labels what caused an order row to change, carried on the
// downstream change notification.
type TriggerKind string

const (
	TriggerNewOrder       TriggerKind = "new-order"
	TriggerReprice        TriggerKind = "reprice"
	TriggerCancel         TriggerKind = "cancel"
	TriggerSale           TriggerKind = "sale"
	TriggerExpiry         TriggerKind = "expiry"
	TriggerBalanceChange  TriggerKind = "balance-change"
	TriggerApprovalChange TriggerKind = "approval-change"
)

// UpsertStatus is the per-order outcome of an ingestion batch.
type UpsertStatus string

const (
	UpsertSuccess       UpsertStatus = "success"
	UpsertAlreadyExists UpsertStatus = "already-exists"
	UpsertRedundant     UpsertStatus = "redundant"
	UpsertRejected      UpsertStatus = "rejected"
)

// UpsertResult reports what the engine did with one normalized order.
type UpsertResult struct {
	OrderID string
	Status  UpsertStatus
	Trigger TriggerKind
	// Reason carries the rejection reason string when Status is rejected.
	Reason RejectReason
}

// OrderUpdate is the payload of the downstream "order changed" notification.
// Consumers deduplicate on IdempotencyKey under at-least-once delivery.
type OrderUpdate struct {
	OrderID     string      `json:"order_id"`
	Trigger     TriggerKind `json:"trigger"`
	TxHash      common.Hash `json:"tx_hash"`
	TxTimestamp time.Time   `json:"tx_timestamp"`
	LogIndex    uint32      `json:"log_index"`
	BatchIndex  uint32      `json:"batch_index"`
}

// IdempotencyKey builds the consumer-side dedup key for this update.
func (u OrderUpdate) IdempotencyKey() string {
	return string(u.Trigger) + "-" + u.OrderID + "-" + u.TxHash.Hex()
}
