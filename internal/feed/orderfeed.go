// Package feed consumes the upstream marketplace order firehose over a
// websocket and drives parsed orders into the upsert engine. The connection
// reconnects with backoff; batches are flushed on size or time, whichever
// comes first.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"github.com/openfloor/nftindex/internal/domain"
	"github.com/openfloor/nftindex/internal/engine"
	"github.com/openfloor/nftindex/internal/jobs"
	"github.com/openfloor/nftindex/internal/metrics"
	"github.com/openfloor/nftindex/internal/protocol"
)

const (
	reconnectDelay = 2 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second

	flushSize     = 50
	flushInterval = 200 * time.Millisecond
)

// envelope is one firehose message: a protocol-native order payload plus its
// provenance.
type envelope struct {
	Kind       string          `json:"kind"`
	Source     string          `json:"source"`
	Schema     json.RawMessage `json:"schema"`
	SchemaHash string          `json:"schemaHash"`
	Data       json.RawMessage `json:"data"`
	Origin     originPayload   `json:"origin"`
}

type originPayload struct {
	TxHash     string `json:"txHash"`
	Block      uint64 `json:"block"`
	LogIndex   uint32 `json:"logIndex"`
	BatchIndex uint32 `json:"batchIndex"`
	Timestamp  int64  `json:"timestamp"`
	OnChain    bool   `json:"onChain"`
}

// Config holds feed connection parameters.
type Config struct {
	URL string
	// Sources filters the subscription; empty means everything.
	Sources []string
	// ArchiveRaw enqueues every raw payload for blob archival.
	ArchiveRaw bool
}

// OrderFeed is the websocket consumer.
type OrderFeed struct {
	cfg      Config
	registry *protocol.Registry
	engine   *engine.Engine
	queue    domain.JobQueue
	metrics  *metrics.Set
	logger   *slog.Logger
}

// NewOrderFeed creates an OrderFeed.
func NewOrderFeed(cfg Config, registry *protocol.Registry, eng *engine.Engine, queue domain.JobQueue, m *metrics.Set, logger *slog.Logger) *OrderFeed {
	return &OrderFeed{
		cfg:      cfg,
		registry: registry,
		engine:   eng,
		queue:    queue,
		metrics:  m,
		logger:   logger.With(slog.String("component", "order_feed")),
	}
}

// Run connects and consumes until ctx is cancelled, reconnecting with a fixed
// backoff on disconnect.
func (f *OrderFeed) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.metrics.FeedReconnects.Inc()
		f.logger.Warn("order feed disconnected, reconnecting", slog.String("error", err.Error()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

func (f *OrderFeed) runConnection(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, f.cfg.URL, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("feed: dial %s: %w", f.cfg.URL, err)
	}
	defer conn.Close()

	sub := map[string]any{"action": "subscribe", "channel": "orders"}
	if len(f.cfg.Sources) > 0 {
		sub["sources"] = f.cfg.Sources
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	f.logger.Info("order feed subscribed", slog.String("url", f.cfg.URL))

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	msgs := make(chan envelope, flushSize*2)
	readErr := make(chan error, 1)
	go func() {
		defer close(msgs)
		for {
			var env envelope
			if err := conn.ReadJSON(&env); err != nil {
				readErr <- err
				return
			}
			select {
			case msgs <- env:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	flush := time.NewTicker(flushInterval)
	defer flush.Stop()

	batch := make([]envelope, 0, flushSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-readErr:
			f.ingest(ctx, batch)
			return fmt.Errorf("feed: read: %w", err)

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return fmt.Errorf("feed: ping: %w", err)
			}

		case env, ok := <-msgs:
			if !ok {
				continue
			}
			batch = append(batch, env)
			if len(batch) >= flushSize {
				f.ingest(ctx, batch)
				batch = batch[:0]
			}

		case <-flush.C:
			if len(batch) > 0 {
				f.ingest(ctx, batch)
				batch = batch[:0]
			}
		}
	}
}

// ingest parses a batch and hands it to the engine. Parse rejections are
// counted and skipped; engine infrastructure failures are logged and the
// batch dropped, since the upstream feed does not replay.
func (f *OrderFeed) ingest(ctx context.Context, envs []envelope) {
	if len(envs) == 0 {
		return
	}
	started := time.Now()

	normalized := make([]domain.NormalizedOrder, 0, len(envs))
	for i := range envs {
		env := &envs[i]
		meta := domain.OrderMetadata{
			Schema:     env.Schema,
			SchemaHash: common.HexToHash(env.SchemaHash),
			Source:     env.Source,
		}
		origin := domain.SignalOrigin{
			TxHash:     common.HexToHash(env.Origin.TxHash),
			Block:      env.Origin.Block,
			LogIndex:   env.Origin.LogIndex,
			BatchIndex: env.Origin.BatchIndex,
			Timestamp:  time.Unix(env.Origin.Timestamp, 0).UTC(),
			OnChain:    env.Origin.OnChain,
		}

		n, err := f.registry.Parse(ctx, domain.OrderKind(env.Kind), env.Data, meta, origin)
		if err != nil {
			if rej, ok := domain.AsRejection(err); ok {
				f.metrics.OrderRejections.WithLabelValues(string(rej.Reason)).Inc()
				f.logger.Debug("order rejected",
					slog.String("kind", env.Kind),
					slog.String("reason", string(rej.Reason)))
				continue
			}
			f.logger.Error("parse failed", slog.String("kind", env.Kind), slog.String("error", err.Error()))
			continue
		}
		normalized = append(normalized, n)
		f.archive(ctx, &n)
	}

	if len(normalized) == 0 {
		return
	}
	results, err := f.engine.Upsert(ctx, normalized)
	if err != nil {
		f.logger.Error("upsert batch failed", slog.Int("size", len(normalized)), slog.String("error", err.Error()))
		return
	}
	for i := range results {
		if results[i].Status == domain.UpsertRejected {
			f.metrics.OrderRejections.WithLabelValues(string(results[i].Reason)).Inc()
		}
	}
	f.metrics.UpsertBatchSeconds.Observe(time.Since(started).Seconds())
}

func (f *OrderFeed) archive(ctx context.Context, n *domain.NormalizedOrder) {
	if !f.cfg.ArchiveRaw || f.queue == nil {
		return
	}
	payload := jobs.ArchiveRawPayload{
		Key:     fmt.Sprintf("%s/%s.json", n.Order.Kind, n.Order.ID),
		Payload: n.Order.RawData,
	}
	key := "archive-" + n.Order.ID
	if err := f.queue.Enqueue(ctx, domain.JobArchiveRaw, payload, key, domain.EnqueueOpts{}); err != nil {
		f.logger.Error("enqueue archive failed", slog.String("order_id", n.Order.ID), slog.String("error", err.Error()))
	}
}
