package events

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// watchedTopics is the set of topic0 values the watcher pulls from the chain.
// Everything else is filtered server-side.
var watchedTopics = []common.Hash{
	topicTransfer,
	topicTransferSingle,
	topicTransferBatch,
	topicConsecutiveTransfer,
	topicApprovalForAll,
	topicSeaportFulfilled,
	topicSeaportCancelled,
	topicLooksRareTakerAsk,
	topicLooksRareTakerBid,
	topicLooksRareCancelMultiple,
	topicPunkBought,
	topicPunkNoLongerForSale,
	topicFoundationAccepted,
	topicFoundationCanceled,
	topicFoundationInvalidated,
	topicWyvernOrdersMatched,
	topicWyvernOrderCancelled,
}

// WatcherConfig holds chain polling parameters.
type WatcherConfig struct {
	RPCURL string
	// PollInterval is how often the head is re-checked.
	PollInterval time.Duration
	// Confirmations is how far behind head the watcher stays to avoid
	// processing blocks that may reorg.
	Confirmations uint64
	// StartBlock resumes from a specific block; 0 starts at the current
	// confirmed head.
	StartBlock uint64
	// BatchBlocks bounds the block span of one filter query.
	BatchBlocks uint64
}

// Watcher polls the chain for marketplace and token logs and feeds them to
// the Router in block order.
type Watcher struct {
	client *ethclient.Client
	router *Router
	cfg    WatcherConfig
	logger *slog.Logger

	// next is the first unprocessed block.
	next uint64
}

// NewWatcher dials the RPC endpoint and builds a Watcher.
func NewWatcher(ctx context.Context, cfg WatcherConfig, router *Router, logger *slog.Logger) (*Watcher, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 12 * time.Second
	}
	if cfg.Confirmations == 0 {
		cfg.Confirmations = 2
	}
	if cfg.BatchBlocks == 0 {
		cfg.BatchBlocks = 10
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("events: dial %s: %w", cfg.RPCURL, err)
	}

	return &Watcher{
		client: client,
		router: router,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "watcher")),
		next:   cfg.StartBlock,
	}, nil
}

// Close releases the RPC connection.
func (w *Watcher) Close() {
	w.client.Close()
}

// Run polls until the context is cancelled. Errors within one sweep are
// logged and retried on the next tick; the cursor only advances past blocks
// that routed successfully.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := w.sweep(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("sweep failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// sweep processes all confirmed blocks the cursor has not seen yet.
func (w *Watcher) sweep(ctx context.Context) error {
	head, err := w.client.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("events: head: %w", err)
	}
	if head < w.cfg.Confirmations {
		return nil
	}
	target := head - w.cfg.Confirmations

	if w.next == 0 {
		w.next = target + 1
		return nil
	}

	for w.next <= target {
		to := w.next + w.cfg.BatchBlocks - 1
		if to > target {
			to = target
		}
		if err := w.processRange(ctx, w.next, to); err != nil {
			return err
		}
		w.next = to + 1
	}
	return nil
}

func (w *Watcher) processRange(ctx context.Context, from, to uint64) error {
	logs, err := w.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Topics:    [][]common.Hash{watchedTopics},
	})
	if err != nil {
		return fmt.Errorf("events: filter logs %d-%d: %w", from, to, err)
	}
	if len(logs) == 0 {
		return nil
	}

	txs, err := w.group(ctx, logs)
	if err != nil {
		return err
	}
	if err := w.router.Route(ctx, txs); err != nil {
		return err
	}

	w.logger.Debug("routed block range",
		slog.Uint64("from", from),
		slog.Uint64("to", to),
		slog.Int("logs", len(logs)),
		slog.Int("txs", len(txs)))
	return nil
}

// group partitions logs into per-transaction batches, preserving the
// (block, logIndex) order the node returns them in.
func (w *Watcher) group(ctx context.Context, logs []types.Log) ([]TxLogs, error) {
	var (
		txs        []TxLogs
		idx        = make(map[common.Hash]int)
		timestamps = make(map[uint64]time.Time)
	)

	for i := range logs {
		lg := &logs[i]
		if lg.Removed {
			continue
		}

		ts, ok := timestamps[lg.BlockNumber]
		if !ok {
			header, err := w.client.HeaderByNumber(ctx, new(big.Int).SetUint64(lg.BlockNumber))
			if err != nil {
				return nil, fmt.Errorf("events: header %d: %w", lg.BlockNumber, err)
			}
			ts = time.Unix(int64(header.Time), 0).UTC()
			timestamps[lg.BlockNumber] = ts
		}

		j, ok := idx[lg.TxHash]
		if !ok {
			j = len(txs)
			idx[lg.TxHash] = j
			txs = append(txs, TxLogs{
				TxHash:    lg.TxHash,
				Block:     lg.BlockNumber,
				Timestamp: ts,
			})
		}
		txs[j].Logs = append(txs[j].Logs, *lg)
	}
	return txs, nil
}
