package protocol

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openfloor/nftindex/internal/domain"
)

func elementBid(hash string) map[string]any {
	return map[string]any{
		"orderHash":        hash,
		"maker":            testMaker.Hex(),
		"expiry":           "1800000000",
		"nonce":            "17",
		"erc20Token":       testWETH.Hex(),
		"erc20TokenAmount": "900",
		"fees": []map[string]any{
			{"recipient": testFeeAddr.Hex(), "amount": "100"},
		},
		"nft":         testContract.Hex(),
		"nftId":       "55",
		"nftAmount":   "4",
		"isSellOrder": false,
		"signature":   flatSig(),
	}
}

func TestElementERC1155BidPerUnitPricing(t *testing.T) {
	t.Parallel()

	p := NewElementParser(testConfig(), domain.OrderKindElementERC1155)
	raw := mustJSON(t, elementBid(orderHash(0x11)))

	n, err := p.Parse(context.Background(), raw, domain.OrderMetadata{Source: "element"}, offchainOrigin())
	require.NoError(t, err)

	// The lot totals 1000 (900 principal + 100 fee) across 4 units: the fee
	// is 10% of gross, the stored price is per unit and value nets the fee.
	require.Equal(t, domain.SideBuy, n.Order.Side)
	require.Equal(t, big.NewInt(250), n.Order.Price)
	require.Equal(t, 1000, n.Order.FeeBps)
	require.Equal(t, big.NewInt(225), n.Order.Value)
	require.Equal(t, big.NewInt(4), n.Order.QuantityRemaining)

	require.Equal(t, domain.TokenSetSingle, n.TokenSet.Kind)
	require.Equal(t, big.NewInt(55), n.TokenSet.TokenID)
}

func TestElementPackedExpiry(t *testing.T) {
	t.Parallel()

	p := NewElementParser(testConfig(), domain.OrderKindElementERC1155)
	payload := elementBid(orderHash(0x12))

	// Flags in the upper bits must not leak into the expiration: the low 32
	// bits hold unix 1800000000.
	packed := new(big.Int).Lsh(big.NewInt(0xdead), 200)
	packed.Or(packed, big.NewInt(1800000000))
	payload["expiry"] = packed.String()

	n, err := p.Parse(context.Background(), mustJSON(t, payload), domain.OrderMetadata{}, offchainOrigin())
	require.NoError(t, err)
	require.NotNil(t, n.Order.ValidUntil)
	require.Equal(t, int64(1800000000), n.Order.ValidUntil.Unix())
}

func TestElementERC721DefaultsToSingleUnit(t *testing.T) {
	t.Parallel()

	p := NewElementParser(testConfig(), domain.OrderKindElementERC721)
	payload := elementBid(orderHash(0x13))
	delete(payload, "nftAmount")

	n, err := p.Parse(context.Background(), mustJSON(t, payload), domain.OrderMetadata{}, offchainOrigin())
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1), n.Order.QuantityRemaining)
	require.Equal(t, big.NewInt(1000), n.Order.Price)
}

func TestElementBidRequiresWETH(t *testing.T) {
	t.Parallel()

	p := NewElementParser(testConfig(), domain.OrderKindElementERC1155)
	payload := elementBid(orderHash(0x14))
	payload["erc20Token"] = testContract.Hex()

	_, err := p.Parse(context.Background(), mustJSON(t, payload), domain.OrderMetadata{}, offchainOrigin())
	rej, ok := domain.AsRejection(err)
	require.True(t, ok)
	require.Equal(t, domain.RejectUnsupportedPaymentToken, rej.Reason)
}

func TestElementSellAllowsNativePayment(t *testing.T) {
	t.Parallel()

	p := NewElementParser(testConfig(), domain.OrderKindElementERC1155)
	payload := elementBid(orderHash(0x15))
	payload["isSellOrder"] = true
	payload["erc20Token"] = "0x0000000000000000000000000000000000000000"

	n, err := p.Parse(context.Background(), mustJSON(t, payload), domain.OrderMetadata{}, offchainOrigin())
	require.NoError(t, err)
	require.Equal(t, domain.SideSell, n.Order.Side)
	// Sell-side value stays gross.
	require.Equal(t, n.Order.Price, n.Order.Value)
}
