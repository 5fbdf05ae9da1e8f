package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openfloor/nftindex/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// NUMERIC columns are cast to text and re-parsed into big.Int on scan.
const orderCols = `id, kind, side, fillability, approval,
	token_set_id, token_set_schema_hash, maker, taker,
	price::text, value::text, currency, currency_price::text, currency_value::text,
	quantity_remaining::text, valid_from, valid_until, nonce, source,
	fee_bps, fee_breakdown, raw_data, block_number, log_index,
	created_at, updated_at`

const openStatuses = `('fillable', 'no-balance')`

// InsertBatch inserts rows with ON CONFLICT (id) DO NOTHING and returns the
// ids actually inserted. Rows losing the conflict race are simply absent from
// the result.
func (s *OrderStore) InsertBatch(ctx context.Context, orders []domain.Order) ([]string, error) {
	const query = `
		INSERT INTO orders (
			id, kind, side, fillability, approval,
			token_set_id, token_set_schema_hash, maker, taker,
			price, value, currency, currency_price, currency_value,
			quantity_remaining, valid_from, valid_until, nonce, source,
			fee_bps, fee_breakdown, raw_data, block_number, log_index,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19,
			$20, $21, $22, $23, $24,
			$25, $26
		)
		ON CONFLICT (id) DO NOTHING
		RETURNING id`

	batch := &pgx.Batch{}
	for i := range orders {
		o := &orders[i]
		fees, err := json.Marshal(o.FeeBreakdown)
		if err != nil {
			return nil, fmt.Errorf("postgres: marshal fee breakdown %s: %w", o.ID, err)
		}
		batch.Queue(query,
			o.ID, string(o.Kind), string(o.Side), string(o.Fillability), string(o.Approval),
			o.TokenSetID, o.TokenSetSchemaHash.Hex(), addrStr(o.Maker), addrStr(o.Taker),
			numStr(o.Price), numStr(o.Value), addrStr(o.Currency), numStr(o.CurrencyPrice), numStr(o.CurrencyValue),
			numStr(o.QuantityRemaining), o.ValidFrom, o.ValidUntil, o.Nonce, o.Source,
			o.FeeBps, fees, []byte(o.RawData), o.BlockNumber, o.LogIndex,
			o.CreatedAt, o.UpdatedAt,
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	inserted := make([]string, 0, len(orders))
	for range orders {
		var id string
		err := results.QueryRow().Scan(&id)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			continue
		case err != nil:
			return nil, fmt.Errorf("postgres: insert orders: %w", err)
		}
		inserted = append(inserted, id)
	}
	return inserted, nil
}

// UpdateTerms refreshes the mutable fields of an existing row in place. The
// caller has already established the incoming signal is newer.
func (s *OrderStore) UpdateTerms(ctx context.Context, o domain.Order) error {
	const query = `
		UPDATE orders SET
			fillability = $2, approval = $3,
			price = $4, value = $5, currency = $6,
			currency_price = $7, currency_value = $8,
			quantity_remaining = $9, valid_from = $10, valid_until = $11,
			nonce = $12, fee_bps = $13, fee_breakdown = $14, raw_data = $15,
			block_number = $16, log_index = $17, updated_at = $18
		WHERE id = $1`

	fees, err := json.Marshal(o.FeeBreakdown)
	if err != nil {
		return fmt.Errorf("postgres: marshal fee breakdown %s: %w", o.ID, err)
	}
	tag, err := s.pool.Exec(ctx, query,
		o.ID, string(o.Fillability), string(o.Approval),
		numStr(o.Price), numStr(o.Value), addrStr(o.Currency),
		numStr(o.CurrencyPrice), numStr(o.CurrencyValue),
		numStr(o.QuantityRemaining), o.ValidFrom, o.ValidUntil,
		o.Nonce, o.FeeBps, fees, []byte(o.RawData),
		o.BlockNumber, o.LogIndex, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update order terms %s: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateStatus applies a fillability/approval transition. When the patch
// carries coordinates the update is guarded: a row already stamped with equal
// or newer coordinates is left untouched.
func (s *OrderStore) UpdateStatus(ctx context.Context, patch domain.StatusPatch) error {
	const guarded = `
		UPDATE orders SET
			fillability = $2, approval = $3,
			block_number = $4, log_index = $5, updated_at = $6
		WHERE id = $1
		  AND (block_number IS NULL
		       OR block_number < $4
		       OR (block_number = $4 AND log_index < $5))`

	const unguarded = `
		UPDATE orders SET fillability = $2, approval = $3, updated_at = $4
		WHERE id = $1`

	var err error
	if patch.Coords != nil {
		_, err = s.pool.Exec(ctx, guarded,
			patch.OrderID, string(patch.Fillability), string(patch.Approval),
			patch.Coords.Block, patch.Coords.LogIndex, patch.Timestamp)
	} else {
		_, err = s.pool.Exec(ctx, unguarded,
			patch.OrderID, string(patch.Fillability), string(patch.Approval),
			patch.Timestamp)
	}
	if err != nil {
		return fmt.Errorf("postgres: update order status %s: %w", patch.OrderID, err)
	}
	return nil
}

// GetByID fetches one order row.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	query := `SELECT ` + orderCols + ` FROM orders WHERE id = $1`
	o, err := scanOrder(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

// List returns orders matching the filter, newest first.
func (s *OrderStore) List(ctx context.Context, filter domain.OrderFilter, opts domain.ListOpts) ([]domain.Order, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.Side != "" {
		add("side = $%d", string(filter.Side))
	}
	if filter.Fillability != "" {
		add("fillability = $%d", string(filter.Fillability))
	}
	if filter.Maker != nil {
		add("maker = $%d", addrStr(*filter.Maker))
	}
	if filter.TokenSetID != "" {
		add("token_set_id = $%d", filter.TokenSetID)
	}
	if filter.Kind != "" {
		add("kind = $%d", string(filter.Kind))
	}

	query := `SELECT ` + orderCols + ` FROM orders`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC`
	args = append(args, limit(opts), opts.Offset)
	query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders: %w", err)
	}
	defer rows.Close()
	return scanOrderRows(rows)
}

// ListOpenByToken returns non-terminal orders whose token set covers the
// given token, across every set kind.
func (s *OrderStore) ListOpenByToken(ctx context.Context, contract common.Address, tokenID *big.Int, side domain.Side) ([]domain.Order, error) {
	query := `
		SELECT ` + prefixCols("o") + `
		FROM orders o
		JOIN token_sets t ON t.id = o.token_set_id
		WHERE o.fillability IN ` + openStatuses + `
		  AND o.side = $1
		  AND t.contract = $2
		  AND (
			(t.kind = 'single-token' AND t.token_id = $3::numeric)
			OR t.kind = 'contract-wide'
			OR (t.kind = 'token-list' AND $3::numeric = ANY(t.token_ids))
			OR (t.kind = 'range' AND $3::numeric BETWEEN t.range_start AND t.range_end)
			OR t.kind = 'dynamic:collection-non-flagged'
		  )`

	rows, err := s.pool.Query(ctx, query, string(side), addrStr(contract), tokenID.String())
	if err != nil {
		return nil, fmt.Errorf("postgres: list open by token: %w", err)
	}
	defer rows.Close()
	return scanOrderRows(rows)
}

// ListOpenByMaker returns non-terminal orders by the given maker.
func (s *OrderStore) ListOpenByMaker(ctx context.Context, maker common.Address) ([]domain.Order, error) {
	query := `SELECT ` + orderCols + ` FROM orders
		WHERE maker = $1 AND fillability IN ` + openStatuses
	rows, err := s.pool.Query(ctx, query, addrStr(maker))
	if err != nil {
		return nil, fmt.Errorf("postgres: list open by maker: %w", err)
	}
	defer rows.Close()
	return scanOrderRows(rows)
}

func scanOrder(scanner interface{ Scan(dest ...any) error }) (domain.Order, error) {
	var (
		o                              domain.Order
		kind, side, fillability        string
		approval, schemaHash           string
		maker, taker, currency         string
		price, value                   string
		currencyPrice, currencyValue   *string
		quantity                       *string
		fees, raw                      []byte
	)
	err := scanner.Scan(
		&o.ID, &kind, &side, &fillability, &approval,
		&o.TokenSetID, &schemaHash, &maker, &taker,
		&price, &value, &currency, &currencyPrice, &currencyValue,
		&quantity, &o.ValidFrom, &o.ValidUntil, &o.Nonce, &o.Source,
		&o.FeeBps, &fees, &raw, &o.BlockNumber, &o.LogIndex,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}

	o.Kind = domain.OrderKind(kind)
	o.Side = domain.Side(side)
	o.Fillability = domain.FillabilityStatus(fillability)
	o.Approval = domain.ApprovalStatus(approval)
	o.TokenSetSchemaHash = common.HexToHash(schemaHash)
	o.Maker = common.HexToAddress(maker)
	o.Taker = common.HexToAddress(taker)
	o.Currency = common.HexToAddress(currency)
	o.Price = parseNum(&price)
	o.Value = parseNum(&value)
	o.CurrencyPrice = parseNum(currencyPrice)
	o.CurrencyValue = parseNum(currencyValue)
	o.QuantityRemaining = parseNum(quantity)
	if len(fees) > 0 {
		if err := json.Unmarshal(fees, &o.FeeBreakdown); err != nil {
			return domain.Order{}, fmt.Errorf("unmarshal fee breakdown: %w", err)
		}
	}
	o.RawData = json.RawMessage(raw)
	return o, nil
}

func scanOrderRows(rows pgx.Rows) ([]domain.Order, error) {
	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate orders: %w", err)
	}
	return orders, nil
}

func prefixCols(alias string) string {
	cols := strings.Split(orderCols, ",")
	for i := range cols {
		cols[i] = alias + "." + strings.TrimSpace(cols[i])
	}
	return strings.Join(cols, ", ")
}

func limit(opts domain.ListOpts) int {
	if opts.Limit <= 0 || opts.Limit > 1000 {
		return 100
	}
	return opts.Limit
}

// numStr renders a big integer for a NUMERIC(78,0) column, nil-safe.
func numStr(n *big.Int) *string {
	if n == nil {
		return nil
	}
	v := n.String()
	return &v
}

func parseNum(s *string) *big.Int {
	if s == nil || *s == "" {
		return nil
	}
	n, ok := new(big.Int).SetString(*s, 10)
	if !ok {
		return nil
	}
	return n
}

// addrStr stores addresses lowercased so equality filters don't depend on
// checksum casing.
func addrStr(a common.Address) string {
	return strings.ToLower(a.Hex())
}
