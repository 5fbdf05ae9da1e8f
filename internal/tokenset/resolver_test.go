package tokenset

import (
	"context"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/openfloor/nftindex/internal/domain"
)

// memStore is an in-memory TokenSetStore recording save calls.
type memStore struct {
	sets  map[string]domain.TokenSet
	saves int
}

func newMemStore() *memStore {
	return &memStore{sets: make(map[string]domain.TokenSet)}
}

func (s *memStore) Save(_ context.Context, ts domain.TokenSet) error {
	s.saves++
	if _, ok := s.sets[ts.ID]; !ok {
		s.sets[ts.ID] = ts
	}
	return nil
}

func (s *memStore) GetByID(_ context.Context, id string) (domain.TokenSet, error) {
	ts, ok := s.sets[id]
	if !ok {
		return domain.TokenSet{}, domain.ErrNotFound
	}
	return ts, nil
}

var testLogger = slog.New(slog.DiscardHandler)

func TestResolveIsIdempotent(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	r := NewResolver(store, testLogger)
	contract := common.HexToAddress("0x1111111111111111111111111111111111111111")
	spec := domain.SingleTokenSpec(contract, big.NewInt(42))

	id1, err := r.Resolve(context.Background(), spec, common.Hash{})
	require.NoError(t, err)
	id2, err := r.Resolve(context.Background(), spec, common.Hash{})
	require.NoError(t, err)

	require.Equal(t, id1, id2)
	require.Len(t, store.sets, 1)
}

func TestResolveCollapsesSingleElementList(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	r := NewResolver(store, testLogger)
	contract := common.HexToAddress("0x1111111111111111111111111111111111111111")

	listID, err := r.Resolve(context.Background(), domain.TokenSetSpec{
		Kind:     domain.TokenSetList,
		Contract: contract,
		TokenIDs: []*big.Int{big.NewInt(7)},
	}, common.Hash{})
	require.NoError(t, err)

	singleID, err := r.Resolve(context.Background(), domain.SingleTokenSpec(contract, big.NewInt(7)), common.Hash{})
	require.NoError(t, err)

	require.Equal(t, singleID, listID, "one-element lists share the single-token row")
	require.Equal(t, domain.TokenSetSingle, store.sets[listID].Kind)
}

func TestResolveListOrderIndependent(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	r := NewResolver(store, testLogger)
	contract := common.HexToAddress("0x2222222222222222222222222222222222222222")

	forward := domain.TokenSetSpec{
		Kind:     domain.TokenSetList,
		Contract: contract,
		TokenIDs: []*big.Int{big.NewInt(1), big.NewInt(2), big.NewInt(3)},
	}
	reversed := domain.TokenSetSpec{
		Kind:     domain.TokenSetList,
		Contract: contract,
		TokenIDs: []*big.Int{big.NewInt(3), big.NewInt(1), big.NewInt(2)},
	}

	id1, err := r.Resolve(context.Background(), forward, common.Hash{})
	require.NoError(t, err)
	id2, err := r.Resolve(context.Background(), reversed, common.Hash{})
	require.NoError(t, err)

	require.Equal(t, id1, id2, "merkle root must not depend on input order")
	require.Len(t, store.sets, 1)
}

func TestResolveRejectsInvalidSpecs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		spec domain.TokenSetSpec
	}{
		{
			name: "SingleWithoutTokenID",
			spec: domain.TokenSetSpec{Kind: domain.TokenSetSingle},
		},
		{
			name: "EmptyList",
			spec: domain.TokenSetSpec{Kind: domain.TokenSetList},
		},
		{
			name: "InvertedRange",
			spec: domain.TokenSetSpec{
				Kind:  domain.TokenSetRange,
				Start: big.NewInt(10),
				End:   big.NewInt(5),
			},
		},
		{
			name: "UnknownKind",
			spec: domain.TokenSetSpec{Kind: "bogus"},
		},
	}

	r := NewResolver(newMemStore(), testLogger)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := r.Resolve(context.Background(), tt.spec, common.Hash{})
			rej, ok := domain.AsRejection(err)
			require.True(t, ok)
			require.Equal(t, domain.RejectInvalidTokenSet, rej.Reason)
		})
	}
}

func TestMerkleRootOddLeafPromotion(t *testing.T) {
	t.Parallel()

	ids := []*big.Int{big.NewInt(10), big.NewInt(20), big.NewInt(30)}
	root := MerkleRoot(ids)
	require.NotEqual(t, common.Hash{}, root)

	// Root over a different set must differ.
	other := MerkleRoot([]*big.Int{big.NewInt(10), big.NewInt(20), big.NewInt(31)})
	require.NotEqual(t, root, other)
}
