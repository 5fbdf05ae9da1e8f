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

// TokenSetStore implements domain.TokenSetStore using PostgreSQL.
type TokenSetStore struct {
	pool *pgxpool.Pool
}

// NewTokenSetStore creates a new TokenSetStore backed by the given pool.
func NewTokenSetStore(pool *pgxpool.Pool) *TokenSetStore {
	return &TokenSetStore{pool: pool}
}

// Save persists the set if its id does not exist yet. Ids are deterministic,
// so a conflicting row is by construction identical and the insert is skipped.
func (s *TokenSetStore) Save(ctx context.Context, ts domain.TokenSet) error {
	const query = `
		INSERT INTO token_sets (id, kind, schema_hash, contract, token_id, token_ids, range_start, range_end)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric[], $7::numeric, $8::numeric)
		ON CONFLICT (id) DO NOTHING`

	var ids *[]string
	if len(ts.TokenIDs) > 0 {
		strs := make([]string, len(ts.TokenIDs))
		for i, id := range ts.TokenIDs {
			strs[i] = id.String()
		}
		ids = &strs
	}

	_, err := s.pool.Exec(ctx, query,
		ts.ID, string(ts.Kind), ts.SchemaHash.Hex(), addrStr(ts.Contract),
		numStr(ts.TokenID), ids, numStr(ts.Start), numStr(ts.End),
	)
	if err != nil {
		return fmt.Errorf("postgres: save token set %s: %w", ts.ID, err)
	}
	return nil
}

// GetByID fetches one token set.
func (s *TokenSetStore) GetByID(ctx context.Context, id string) (domain.TokenSet, error) {
	const query = `
		SELECT id, kind, schema_hash, contract,
		       token_id::text, token_ids::text[], range_start::text, range_end::text
		FROM token_sets WHERE id = $1`

	var (
		ts                     domain.TokenSet
		kind, schemaHash, addr string
		tokenID, start, end    *string
		tokenIDs               []string
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&ts.ID, &kind, &schemaHash, &addr,
		&tokenID, &tokenIDs, &start, &end,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TokenSet{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.TokenSet{}, fmt.Errorf("postgres: get token set %s: %w", id, err)
	}

	ts.Kind = domain.TokenSetKind(kind)
	ts.SchemaHash = common.HexToHash(schemaHash)
	ts.Contract = common.HexToAddress(addr)
	ts.TokenID = parseNum(tokenID)
	ts.Start = parseNum(start)
	ts.End = parseNum(end)
	if len(tokenIDs) > 0 {
		ts.TokenIDs = make([]*big.Int, 0, len(tokenIDs))
		for i := range tokenIDs {
			if n := parseNum(&tokenIDs[i]); n != nil {
				ts.TokenIDs = append(ts.TokenIDs, n)
			}
		}
	}
	return ts, nil
}
