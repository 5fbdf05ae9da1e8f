package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openfloor/nftindex/internal/domain"
)

// OrderEventStore implements domain.OrderEventStore using PostgreSQL. Cancel
// and fill rows are append-only facts; re-inserting the same event is a no-op.
type OrderEventStore struct {
	pool *pgxpool.Pool
}

// NewOrderEventStore creates a new OrderEventStore backed by the given pool.
func NewOrderEventStore(pool *pgxpool.Pool) *OrderEventStore {
	return &OrderEventStore{pool: pool}
}

// InsertCancel records a cancel fact, idempotent on (tx, logIndex, order).
func (s *OrderEventStore) InsertCancel(ctx context.Context, e domain.CancelEvent) error {
	const query = `
		INSERT INTO cancel_events (order_id, order_kind, maker, tx_hash, block, log_index, batch_index, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		e.OrderID, string(e.OrderKind), addrStr(e.Maker),
		e.TxHash.Hex(), e.Block, e.LogIndex, e.BatchIndex, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert cancel %s: %w", e.OrderID, err)
	}
	return nil
}

// InsertFill records a fill fact, idempotent on (tx, logIndex, batch, order).
func (s *OrderEventStore) InsertFill(ctx context.Context, e domain.FillEvent) error {
	const query = `
		INSERT INTO fill_events (
			order_id, order_kind, order_side, maker, taker,
			contract, token_id, amount, currency, currency_price,
			price, usd_price, tx_hash, block, log_index, batch_index, ts
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7::numeric, $8::numeric, $9, $10::numeric,
			$11::numeric, $12::numeric, $13, $14, $15, $16, $17
		)
		ON CONFLICT DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		e.OrderID, string(e.OrderKind), string(e.OrderSide), addrStr(e.Maker), addrStr(e.Taker),
		addrStr(e.Contract), numStr(e.TokenID), numStr(e.Amount), addrStr(e.Currency), numStr(e.CurrencyPrice),
		numStr(e.Price), numStr(e.USDPrice), e.TxHash.Hex(), e.Block, e.LogIndex, e.BatchIndex, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert fill %s: %w", e.OrderID, err)
	}
	return nil
}

// LatestTerminalCoords returns the highest (block, logIndex) recorded across
// cancel and fill events for the order, or ok=false when none exist.
func (s *OrderEventStore) LatestTerminalCoords(ctx context.Context, orderID string) (domain.EventCoords, bool, error) {
	const query = `
		SELECT block, log_index FROM (
			SELECT block, log_index FROM cancel_events WHERE order_id = $1
			UNION ALL
			SELECT block, log_index FROM fill_events WHERE order_id = $1
		) events
		ORDER BY block DESC, log_index DESC
		LIMIT 1`

	var c domain.EventCoords
	err := s.pool.QueryRow(ctx, query, orderID).Scan(&c.Block, &c.LogIndex)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.EventCoords{}, false, nil
	}
	if err != nil {
		return domain.EventCoords{}, false, fmt.Errorf("postgres: terminal coords %s: %w", orderID, err)
	}
	return c, true, nil
}

// ListFillsByToken returns fills for one token, newest first.
func (s *OrderEventStore) ListFillsByToken(ctx context.Context, contract common.Address, tokenID *big.Int, opts domain.ListOpts) ([]domain.FillEvent, error) {
	const query = `
		SELECT order_id, order_kind, order_side, maker, taker,
		       contract, token_id::text, amount::text, currency, currency_price::text,
		       price::text, usd_price::text, tx_hash, block, log_index, batch_index, ts
		FROM fill_events
		WHERE contract = $1 AND token_id = $2::numeric
		ORDER BY block DESC, log_index DESC
		LIMIT $3 OFFSET $4`

	rows, err := s.pool.Query(ctx, query, addrStr(contract), tokenID.String(), limit(opts), opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills: %w", err)
	}
	defer rows.Close()

	var fills []domain.FillEvent
	for rows.Next() {
		var (
			e                            domain.FillEvent
			kind, side, maker, taker     string
			contractStr, currency, tx    string
			tokenIDStr, amount           *string
			currencyPrice, price, usd    *string
		)
		err := rows.Scan(
			&e.OrderID, &kind, &side, &maker, &taker,
			&contractStr, &tokenIDStr, &amount, &currency, &currencyPrice,
			&price, &usd, &tx, &e.Block, &e.LogIndex, &e.BatchIndex, &e.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan fill: %w", err)
		}
		e.OrderKind = domain.OrderKind(kind)
		e.OrderSide = domain.Side(side)
		e.Maker = common.HexToAddress(maker)
		e.Taker = common.HexToAddress(taker)
		e.Contract = common.HexToAddress(contractStr)
		e.Currency = common.HexToAddress(currency)
		e.TxHash = common.HexToHash(tx)
		e.TokenID = parseNum(tokenIDStr)
		e.Amount = parseNum(amount)
		e.CurrencyPrice = parseNum(currencyPrice)
		e.Price = parseNum(price)
		e.USDPrice = parseNum(usd)
		fills = append(fills, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate fills: %w", err)
	}
	return fills, nil
}
