package domain

import (
	"context"
	"encoding/json"
	"time"
)

// Job names understood by the worker pool.
const (
	JobOrderUpdated = "order-updated"
	JobMakerRecheck = "maker-recheck"
	JobRelayOrder   = "relay-order"
	JobArchiveRaw   = "archive-raw"
)

// Job is one unit of background work. Delivery is at-least-once; consumers
// deduplicate on IdempotencyKey.
type Job struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotency_key"`
	Attempt        int             `json:"attempt"`
	EnqueuedAt     time.Time       `json:"enqueued_at"`
}

// EnqueueOpts tunes delivery of a single job.
type EnqueueOpts struct {
	Delay    time.Duration
	Priority int
}

// JobQueue submits background work with at-least-once delivery and bounded
// retries. The broker behind it is out of scope for the core.
type JobQueue interface {
	Enqueue(ctx context.Context, name string, payload any, key string, opts EnqueueOpts) error
}

// MakerRecheckPayload asks a worker to re-run the validity check for all open
// orders affected by a balance or approval change.
type MakerRecheckPayload struct {
	Maker    string      `json:"maker"`
	Contract string      `json:"contract"`
	TokenID  string      `json:"token_id,omitempty"`
	Operator string      `json:"operator,omitempty"`
	Trigger  TriggerKind `json:"trigger"`
	TxHash   string      `json:"tx_hash"`
	Block    uint64      `json:"block"`
	LogIndex uint32      `json:"log_index"`
}
