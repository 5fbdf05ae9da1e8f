package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/openfloor/nftindex/internal/domain"
)

var (
	testWETH     = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	testContract = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testMaker    = common.HexToAddress("0x2222222222222222222222222222222222222222")
	testFeeAddr  = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

func testConfig() Config {
	return Config{WETH: testWETH}
}

// flatSig is a shape-valid 65-byte r||s||v signature.
func flatSig() string {
	return "0x" + strings.Repeat("11", 32) + strings.Repeat("22", 32) + "1b"
}

func orderHash(n byte) string {
	return "0x" + strings.Repeat(fmt.Sprintf("%02x", n), 32)
}

func seaportListing(hash string) map[string]any {
	return map[string]any{
		"orderHash": hash,
		"offerer":   testMaker.Hex(),
		"orderType": 0,
		"startTime": 1700000000,
		"endTime":   1800000000,
		"counter":   "0",
		"signature": flatSig(),
		"offer": []map[string]any{
			{"itemType": 2, "token": testContract.Hex(), "identifierOrCriteria": "42", "startAmount": "1", "endAmount": "1"},
		},
		"consideration": []map[string]any{
			{"itemType": 0, "token": common.Address{}.Hex(), "startAmount": "950", "endAmount": "950", "recipient": testMaker.Hex()},
			{"itemType": 0, "token": common.Address{}.Hex(), "startAmount": "50", "endAmount": "50", "recipient": testFeeAddr.Hex()},
		},
	}
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func offchainOrigin() domain.SignalOrigin {
	return domain.SignalOrigin{Timestamp: time.Unix(1700000100, 0).UTC()}
}

func TestSeaportParseListing(t *testing.T) {
	t.Parallel()

	p := NewSeaportParser(testConfig())
	raw := mustJSON(t, seaportListing(orderHash(0xaa)))

	n, err := p.Parse(context.Background(), raw, domain.OrderMetadata{Source: "opensea"}, offchainOrigin())
	require.NoError(t, err)

	require.Equal(t, domain.SideSell, n.Order.Side)
	require.Equal(t, domain.OrderKindSeaport, n.Order.Kind)
	require.Equal(t, testMaker, n.Order.Maker)

	// Gross price is the sum of all consideration legs; the fee leg is the
	// payment not going back to the offerer.
	require.Equal(t, big.NewInt(1000), n.Order.Price)
	require.Equal(t, big.NewInt(1000), n.Order.Value, "listings keep value equal to price")
	require.Len(t, n.Order.FeeBreakdown, 1)
	require.Equal(t, 500, n.Order.FeeBps)
	require.Equal(t, testFeeAddr, n.Order.FeeBreakdown[0].Recipient)

	require.Equal(t, domain.TokenSetSingle, n.TokenSet.Kind)
	require.Equal(t, testContract, n.TokenSet.Contract)
	require.Equal(t, big.NewInt(42), n.TokenSet.TokenID)

	require.NotNil(t, n.Order.ValidUntil)
	require.Equal(t, int64(1800000000), n.Order.ValidUntil.Unix())
}

func TestSeaportParseBid(t *testing.T) {
	t.Parallel()

	p := NewSeaportParser(testConfig())
	payload := map[string]any{
		"orderHash": orderHash(0xbb),
		"offerer":   testMaker.Hex(),
		"orderType": 1,
		"startTime": 1700000000,
		"endTime":   0,
		"counter":   "3",
		"signature": flatSig(),
		"offer": []map[string]any{
			{"itemType": 1, "token": testWETH.Hex(), "startAmount": "1000", "endAmount": "1000"},
		},
		"consideration": []map[string]any{
			{"itemType": 2, "token": testContract.Hex(), "identifierOrCriteria": "7", "startAmount": "1", "endAmount": "1", "recipient": testMaker.Hex()},
			{"itemType": 1, "token": testWETH.Hex(), "startAmount": "100", "endAmount": "100", "recipient": testFeeAddr.Hex()},
		},
	}

	n, err := p.Parse(context.Background(), mustJSON(t, payload), domain.OrderMetadata{}, offchainOrigin())
	require.NoError(t, err)

	require.Equal(t, domain.SideBuy, n.Order.Side)
	require.Equal(t, testWETH, n.Order.Currency)
	require.Equal(t, big.NewInt(1000), n.Order.Price)
	// 10% fee comes out of what the maker offers.
	require.Equal(t, 1000, n.Order.FeeBps)
	require.Equal(t, big.NewInt(900), n.Order.Value)
	require.Nil(t, n.Order.ValidUntil, "zero end time means no expiration")
}

func TestSeaportParseRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(o map[string]any)
		reason domain.RejectReason
	}{
		{
			name:   "ContractOrder",
			mutate: func(o map[string]any) { o["orderType"] = 4 },
			reason: domain.RejectUnsupportedOrderType,
		},
		{
			name:   "MalformedSignature",
			mutate: func(o map[string]any) { o["signature"] = "0x1234" },
			reason: domain.RejectInvalidSignature,
		},
		{
			name: "ZeroSignatureR",
			mutate: func(o map[string]any) {
				o["signature"] = "0x" + strings.Repeat("00", 32) + strings.Repeat("22", 32) + "1b"
			},
			reason: domain.RejectInvalidSignature,
		},
		{
			name: "FeesOverHundredPercent",
			mutate: func(o map[string]any) {
				o["consideration"] = []map[string]any{
					{"itemType": 0, "token": common.Address{}.Hex(), "startAmount": "1", "endAmount": "1", "recipient": testMaker.Hex()},
					{"itemType": 0, "token": common.Address{}.Hex(), "startAmount": "100000", "endAmount": "100000", "recipient": testFeeAddr.Hex()},
				}
			},
			reason: domain.RejectFeeOverLimit,
		},
		{
			name: "MixedPaymentCurrencies",
			mutate: func(o map[string]any) {
				o["consideration"] = []map[string]any{
					{"itemType": 0, "token": common.Address{}.Hex(), "startAmount": "900", "endAmount": "900", "recipient": testMaker.Hex()},
					{"itemType": 1, "token": testWETH.Hex(), "startAmount": "100", "endAmount": "100", "recipient": testFeeAddr.Hex()},
				}
			},
			reason: domain.RejectUnsupportedPaymentToken,
		},
		{
			name: "BareMerkleRoot",
			mutate: func(o map[string]any) {
				o["offer"] = []map[string]any{
					{"itemType": 4, "token": testContract.Hex(), "identifierOrCriteria": "12345", "startAmount": "1", "endAmount": "1"},
				}
			},
			reason: domain.RejectUnsupportedOrderType,
		},
	}

	p := NewSeaportParser(testConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			payload := seaportListing(orderHash(0xcc))
			tt.mutate(payload)

			_, err := p.Parse(context.Background(), mustJSON(t, payload), domain.OrderMetadata{}, offchainOrigin())
			rej, ok := domain.AsRejection(err)
			require.True(t, ok, "expected a rejection, got %v", err)
			require.Equal(t, tt.reason, rej.Reason)
		})
	}
}

func TestSeaportCriteriaZeroIsContractWide(t *testing.T) {
	t.Parallel()

	p := NewSeaportParser(testConfig())
	payload := map[string]any{
		"orderHash": orderHash(0xdd),
		"offerer":   testMaker.Hex(),
		"orderType": 0,
		"startTime": 1700000000,
		"endTime":   0,
		"counter":   "0",
		"signature": flatSig(),
		"offer": []map[string]any{
			{"itemType": 1, "token": testWETH.Hex(), "startAmount": "500", "endAmount": "500"},
		},
		"consideration": []map[string]any{
			{"itemType": 4, "token": testContract.Hex(), "identifierOrCriteria": "0", "startAmount": "1", "endAmount": "1", "recipient": testMaker.Hex()},
		},
	}

	n, err := p.Parse(context.Background(), mustJSON(t, payload), domain.OrderMetadata{}, offchainOrigin())
	require.NoError(t, err)
	require.Equal(t, domain.TokenSetContract, n.TokenSet.Kind)
	require.Equal(t, testContract, n.TokenSet.Contract)
}

func TestSeaportOnChainSkipsSignatureCheck(t *testing.T) {
	t.Parallel()

	p := NewSeaportParser(testConfig())
	payload := seaportListing(orderHash(0xee))
	payload["signature"] = "0x"

	origin := domain.SignalOrigin{
		TxHash:    common.HexToHash("0xdead"),
		Block:     100,
		LogIndex:  3,
		Timestamp: time.Unix(1700000100, 0).UTC(),
		OnChain:   true,
	}
	_, err := p.Parse(context.Background(), mustJSON(t, payload), domain.OrderMetadata{}, origin)
	require.NoError(t, err)
}
