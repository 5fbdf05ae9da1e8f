package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventCoords are the on-chain coordinates used as the ordering key across the
// whole pipeline: the persisted state of any order is a pure function of the
// highest coordinates seen so far.
type EventCoords struct {
	Block    uint64
	LogIndex uint32
}

// Less compares coordinates lexicographically.
func (c EventCoords) Less(other EventCoords) bool {
	if c.Block != other.Block {
		return c.Block < other.Block
	}
	return c.LogIndex < other.LogIndex
}

// Greater reports c > other lexicographically.
func (c EventCoords) Greater(other EventCoords) bool {
	return other.Less(c)
}

// CancelEvent is an immutable fact that an order was cancelled on-chain.
type CancelEvent struct {
	OrderID    string
	OrderKind  OrderKind
	Maker      common.Address
	TxHash     common.Hash
	Block      uint64
	LogIndex   uint32
	BatchIndex uint32
	Timestamp  time.Time
}

// Coords returns the event's ordering key.
func (e CancelEvent) Coords() EventCoords {
	return EventCoords{Block: e.Block, LogIndex: e.LogIndex}
}

// FillEvent is an immutable fact that an order (or part of it) was filled.
type FillEvent struct {
	OrderID   string
	OrderKind OrderKind
	OrderSide Side
	Maker     common.Address
	Taker     common.Address

	Contract common.Address
	TokenID  *big.Int
	Amount   *big.Int

	Currency      common.Address
	CurrencyPrice *big.Int
	// Price is the native-denominated per-unit price; fills without a native
	// price are dropped upstream, so this is always set on persisted rows.
	Price    *big.Int
	USDPrice *big.Int

	TxHash     common.Hash
	Block      uint64
	LogIndex   uint32
	BatchIndex uint32
	Timestamp  time.Time
}

// Coords returns the event's ordering key.
func (e FillEvent) Coords() EventCoords {
	return EventCoords{Block: e.Block, LogIndex: e.LogIndex}
}

// TransferEvent records an NFT moving between addresses. Used both as the
// audit trail and to trigger maker balance rechecks.
type TransferEvent struct {
	Contract common.Address
	TokenID  *big.Int
	From     common.Address
	To       common.Address
	Amount   *big.Int

	TxHash     common.Hash
	Block      uint64
	LogIndex   uint32
	BatchIndex uint32
	Timestamp  time.Time
}

// Coords returns the event's ordering key.
func (e TransferEvent) Coords() EventCoords {
	return EventCoords{Block: e.Block, LogIndex: e.LogIndex}
}

// ApprovalEvent records an operator approval being granted or revoked.
type ApprovalEvent struct {
	Contract common.Address
	Owner    common.Address
	Operator common.Address
	Approved bool

	TxHash    common.Hash
	Block     uint64
	LogIndex  uint32
	Timestamp time.Time
}
