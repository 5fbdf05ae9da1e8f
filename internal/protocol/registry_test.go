package protocol

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openfloor/nftindex/internal/domain"
)

func TestRegistryCoversEveryKind(t *testing.T) {
	t.Parallel()

	r := NewRegistry(testConfig())

	want := []domain.OrderKind{
		domain.OrderKindSeaport,
		domain.OrderKindLooksRare,
		domain.OrderKindX2Y2,
		domain.OrderKindZora,
		domain.OrderKindElementERC721,
		domain.OrderKindElementERC1155,
		domain.OrderKindManifold,
		domain.OrderKindSudoswap,
		domain.OrderKindCryptoPunks,
		domain.OrderKindFoundation,
		domain.OrderKindInfinity,
		domain.OrderKindWyvernV23,
		domain.OrderKindPaymentProcessor,
	}
	require.ElementsMatch(t, want, r.Kinds())

	for _, kind := range r.Kinds() {
		p, ok := r.Get(kind)
		require.True(t, ok, "kind %s", kind)
		require.Equal(t, kind, p.Kind())
	}
}

func TestRegistryRejectsUnknownKind(t *testing.T) {
	t.Parallel()

	r := NewRegistry(testConfig())

	_, err := r.Parse(context.Background(), "opensea-v0", mustJSON(t, map[string]any{}), domain.OrderMetadata{}, offchainOrigin())
	rej, ok := domain.AsRejection(err)
	require.True(t, ok)
	require.Equal(t, domain.RejectUnknownOrderKind, rej.Reason)
}
