// Package tokenset resolves an order's token scope into a persisted,
// deterministic-id token set. Resolution is idempotent: the same
// (kind, params) always yields the same id, and re-saving an existing set is
// a no-op, so concurrent parsers can safely race on the same scope.
package tokenset

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openfloor/nftindex/internal/domain"
)

// Resolver turns TokenSetSpecs into persisted token sets.
type Resolver struct {
	store  domain.TokenSetStore
	logger *slog.Logger
}

// NewResolver creates a Resolver over the given store.
func NewResolver(store domain.TokenSetStore, logger *slog.Logger) *Resolver {
	return &Resolver{
		store:  store,
		logger: logger.With(slog.String("component", "tokenset_resolver")),
	}
}

// Resolve computes the deterministic id for spec, persists the set if it does
// not exist yet, and returns the id. Structural problems surface as
// invalid-token-set rejections; store failures are infrastructure errors.
func (r *Resolver) Resolve(ctx context.Context, spec domain.TokenSetSpec, schemaHash common.Hash) (string, error) {
	ts, err := build(spec)
	if err != nil {
		return "", err
	}
	ts.SchemaHash = schemaHash

	if err := r.store.Save(ctx, ts); err != nil {
		return "", fmt.Errorf("tokenset: save %s: %w", ts.ID, err)
	}
	return ts.ID, nil
}

func build(spec domain.TokenSetSpec) (domain.TokenSet, error) {
	switch spec.Kind {
	case domain.TokenSetSingle:
		if spec.TokenID == nil {
			return domain.TokenSet{}, domain.Reject(domain.RejectInvalidTokenSet)
		}
		return domain.TokenSet{
			ID:       domain.SingleTokenID(spec.Contract, spec.TokenID),
			Kind:     domain.TokenSetSingle,
			Contract: spec.Contract,
			TokenID:  spec.TokenID,
		}, nil

	case domain.TokenSetContract:
		return domain.TokenSet{
			ID:       domain.ContractWideID(spec.Contract),
			Kind:     domain.TokenSetContract,
			Contract: spec.Contract,
		}, nil

	case domain.TokenSetList:
		if len(spec.TokenIDs) == 0 {
			return domain.TokenSet{}, domain.Reject(domain.RejectInvalidTokenSet)
		}
		// A one-element list is the same scope as a single-token set; collapse
		// it so both spellings share one row.
		if len(spec.TokenIDs) == 1 {
			return build(domain.SingleTokenSpec(spec.Contract, spec.TokenIDs[0]))
		}
		root := MerkleRoot(spec.TokenIDs)
		return domain.TokenSet{
			ID:       domain.TokenListID(spec.Contract, root),
			Kind:     domain.TokenSetList,
			Contract: spec.Contract,
			TokenIDs: spec.TokenIDs,
		}, nil

	case domain.TokenSetRange:
		if spec.Start == nil || spec.End == nil || spec.Start.Cmp(spec.End) > 0 {
			return domain.TokenSet{}, domain.Reject(domain.RejectInvalidTokenSet)
		}
		return domain.TokenSet{
			ID:       domain.TokenRangeID(spec.Contract, spec.Start, spec.End),
			Kind:     domain.TokenSetRange,
			Contract: spec.Contract,
			Start:    spec.Start,
			End:      spec.End,
		}, nil

	case domain.TokenSetNonFlagged:
		return domain.TokenSet{
			ID:       domain.NonFlaggedID(spec.Contract),
			Kind:     domain.TokenSetNonFlagged,
			Contract: spec.Contract,
		}, nil

	default:
		return domain.TokenSet{}, domain.Reject(domain.RejectInvalidTokenSet)
	}
}
