package postgres

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openfloor/nftindex/internal/domain"
)

// TransferStore implements domain.TransferStore using PostgreSQL.
type TransferStore struct {
	pool *pgxpool.Pool
}

// NewTransferStore creates a new TransferStore backed by the given pool.
func NewTransferStore(pool *pgxpool.Pool) *TransferStore {
	return &TransferStore{pool: pool}
}

// InsertBatch records transfer facts, idempotent on (tx, logIndex, batch).
func (s *TransferStore) InsertBatch(ctx context.Context, transfers []domain.TransferEvent) error {
	const query = `
		INSERT INTO nft_transfers (contract, token_id, from_addr, to_addr, amount, tx_hash, block, log_index, batch_index, ts)
		VALUES ($1, $2::numeric, $3, $4, $5::numeric, $6, $7, $8, $9, $10)
		ON CONFLICT DO NOTHING`

	batch := &pgx.Batch{}
	for i := range transfers {
		t := &transfers[i]
		batch.Queue(query,
			addrStr(t.Contract), numStr(t.TokenID), addrStr(t.From), addrStr(t.To),
			numStr(t.Amount), t.TxHash.Hex(), t.Block, t.LogIndex, t.BatchIndex, t.Timestamp,
		)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres: insert transfers: %w", err)
	}
	return nil
}

// ListByToken returns one token's transfer history, newest first.
func (s *TransferStore) ListByToken(ctx context.Context, contract common.Address, tokenID *big.Int, opts domain.ListOpts) ([]domain.TransferEvent, error) {
	const query = `
		SELECT contract, token_id::text, from_addr, to_addr, amount::text,
		       tx_hash, block, log_index, batch_index, ts
		FROM nft_transfers
		WHERE contract = $1 AND token_id = $2::numeric
		ORDER BY block DESC, log_index DESC, batch_index DESC
		LIMIT $3 OFFSET $4`

	rows, err := s.pool.Query(ctx, query, addrStr(contract), tokenID.String(), limit(opts), opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transfers: %w", err)
	}
	defer rows.Close()

	var transfers []domain.TransferEvent
	for rows.Next() {
		var (
			t                       domain.TransferEvent
			contractStr, from, to   string
			tx                      string
			tokenIDStr, amount      *string
		)
		err := rows.Scan(
			&contractStr, &tokenIDStr, &from, &to, &amount,
			&tx, &t.Block, &t.LogIndex, &t.BatchIndex, &t.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan transfer: %w", err)
		}
		t.Contract = common.HexToAddress(contractStr)
		t.From = common.HexToAddress(from)
		t.To = common.HexToAddress(to)
		t.TxHash = common.HexToHash(tx)
		t.TokenID = parseNum(tokenIDStr)
		t.Amount = parseNum(amount)
		transfers = append(transfers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate transfers: %w", err)
	}
	return transfers, nil
}
