package events

import (
	"context"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/openfloor/nftindex/internal/domain"
	"github.com/openfloor/nftindex/internal/metrics"
	"github.com/openfloor/nftindex/internal/protocol"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeOrderStore struct {
	rows    map[string]domain.Order
	patches []domain.StatusPatch
	terms   []domain.Order
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{rows: make(map[string]domain.Order)}
}

func (s *fakeOrderStore) GetByID(_ context.Context, id string) (domain.Order, error) {
	o, ok := s.rows[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

func (s *fakeOrderStore) InsertBatch(_ context.Context, orders []domain.Order) ([]string, error) {
	var ids []string
	for _, o := range orders {
		if _, ok := s.rows[o.ID]; ok {
			continue
		}
		s.rows[o.ID] = o
		ids = append(ids, o.ID)
	}
	return ids, nil
}

func (s *fakeOrderStore) UpdateTerms(_ context.Context, o domain.Order) error {
	s.rows[o.ID] = o
	s.terms = append(s.terms, o)
	return nil
}

func (s *fakeOrderStore) UpdateStatus(_ context.Context, patch domain.StatusPatch) error {
	o, ok := s.rows[patch.OrderID]
	if !ok {
		return domain.ErrNotFound
	}
	o.Fillability = patch.Fillability
	o.Approval = patch.Approval
	s.rows[patch.OrderID] = o
	s.patches = append(s.patches, patch)
	return nil
}

func (s *fakeOrderStore) List(context.Context, domain.OrderFilter, domain.ListOpts) ([]domain.Order, error) {
	return nil, nil
}

func (s *fakeOrderStore) ListOpenByToken(context.Context, common.Address, *big.Int, domain.Side) ([]domain.Order, error) {
	return nil, nil
}

func (s *fakeOrderStore) ListOpenByMaker(_ context.Context, maker common.Address) ([]domain.Order, error) {
	var out []domain.Order
	for _, o := range s.rows {
		if o.Maker == maker && o.Open() {
			out = append(out, o)
		}
	}
	return out, nil
}

type fakeFactStore struct {
	cancels []domain.CancelEvent
	fills   []domain.FillEvent
}

func (s *fakeFactStore) InsertCancel(_ context.Context, e domain.CancelEvent) error {
	s.cancels = append(s.cancels, e)
	return nil
}

func (s *fakeFactStore) InsertFill(_ context.Context, e domain.FillEvent) error {
	s.fills = append(s.fills, e)
	return nil
}

func (s *fakeFactStore) LatestTerminalCoords(context.Context, string) (domain.EventCoords, bool, error) {
	return domain.EventCoords{}, false, nil
}

func (s *fakeFactStore) ListFillsByToken(context.Context, common.Address, *big.Int, domain.ListOpts) ([]domain.FillEvent, error) {
	return nil, nil
}

type fakeTransferStore struct {
	rows []domain.TransferEvent
}

func (s *fakeTransferStore) InsertBatch(_ context.Context, transfers []domain.TransferEvent) error {
	s.rows = append(s.rows, transfers...)
	return nil
}

func (s *fakeTransferStore) ListByToken(context.Context, common.Address, *big.Int, domain.ListOpts) ([]domain.TransferEvent, error) {
	return nil, nil
}

// fakeOracle prices 1:1 in native terms; currencies in unpriced yield the
// missing-native-price condition.
type fakeOracle struct {
	unpriced map[common.Address]bool
}

func (o *fakeOracle) GetUSDAndNativePrices(_ context.Context, currency common.Address, amount *big.Int, _ int64) (domain.Prices, error) {
	if o.unpriced[currency] {
		return domain.Prices{}, domain.ErrMissingNativePrice
	}
	return domain.Prices{
		Native: new(big.Int).Set(amount),
		USD:    new(big.Int).Mul(amount, big.NewInt(2000)),
	}, nil
}

type routedJob struct {
	name string
	key  string
}

type recordingQueue struct {
	jobs []routedJob
}

func (q *recordingQueue) Enqueue(_ context.Context, name string, _ any, key string, _ domain.EnqueueOpts) error {
	q.jobs = append(q.jobs, routedJob{name: name, key: key})
	return nil
}

func (q *recordingQueue) byName(name string) []routedJob {
	var out []routedJob
	for _, j := range q.jobs {
		if j.name == name {
			out = append(out, j)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

var (
	evtWyvern    = common.HexToAddress("0x7f268357A8c2552623316e2562D90e642bB538E5")
	evtSeaport   = common.HexToAddress("0x00000000000000ADc04C56Bf30aC9d3c0aAF14dC")
	evtConduit   = common.HexToAddress("0x1E0049783F008A0085193E00003D00cd54003c71")
	evtLooksRare = common.HexToAddress("0x59728544B08AB483533076417FbBB2fD0B17CE3a")
	evtPunks     = common.HexToAddress("0xb47e3cd837dDF8e4c57F05d70Ab865de6e193BBB")
	evtNFT       = common.HexToAddress("0xaaaaAAAaaaaAaaAAaAAAaaaAAAAaaAAAAAaaaaAa")
	evtWETH      = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	evtSeller    = common.HexToAddress("0x1000000000000000000000000000000000000001")
	evtBuyer     = common.HexToAddress("0x2000000000000000000000000000000000000002")
)

type routerHarness struct {
	router    *Router
	orders    *fakeOrderStore
	facts     *fakeFactStore
	transfers *fakeTransferStore
	oracle    *fakeOracle
	queue     *recordingQueue
}

func newRouterHarness(t *testing.T) *routerHarness {
	t.Helper()
	h := &routerHarness{
		orders:    newFakeOrderStore(),
		facts:     &fakeFactStore{},
		transfers: &fakeTransferStore{},
		oracle:    &fakeOracle{unpriced: make(map[common.Address]bool)},
		queue:     &recordingQueue{},
	}
	cfg := protocol.Config{
		WETH:              evtWETH,
		SeaportExchange:   evtSeaport,
		SeaportConduit:    evtConduit,
		LooksRareExchange: evtLooksRare,
		CryptoPunksMarket: evtPunks,
		WyvernExchange:    evtWyvern,
	}
	h.router = NewRouter(h.orders, h.facts, h.transfers, h.oracle, h.queue, cfg, metrics.New(), slog.New(slog.DiscardHandler))
	return h
}

func (h *routerHarness) seedOrder(o domain.Order) {
	h.orders.rows[o.ID] = o
}

func tx(logs ...types.Log) []TxLogs {
	return []TxLogs{{
		TxHash:    common.HexToHash("0xf00d"),
		Block:     1000,
		Timestamp: time.Unix(1700001000, 0).UTC(),
		Logs:      logs,
	}}
}

func addrTopic(a common.Address) common.Hash {
	return common.BytesToHash(a.Bytes())
}

func bigTopic(v *big.Int) common.Hash {
	return common.BytesToHash(common.LeftPadBytes(v.Bytes(), 32))
}

func pad(v *big.Int) []byte {
	return common.LeftPadBytes(v.Bytes(), 32)
}

func padAddr(a common.Address) []byte {
	return common.LeftPadBytes(a.Bytes(), 32)
}

func padHash(h common.Hash) []byte {
	return h.Bytes()
}

func cat(words ...[]byte) []byte {
	var out []byte
	for _, w := range words {
		out = append(out, w...)
	}
	return out
}

func erc721TransferLog(index uint, from, to common.Address, tokenID int64) types.Log {
	return types.Log{
		Address: evtNFT,
		Topics:  []common.Hash{topicTransfer, addrTopic(from), addrTopic(to), bigTopic(big.NewInt(tokenID))},
		Index:   index,
	}
}

func erc20TransferLog(index uint, token, from, to common.Address, amount *big.Int) types.Log {
	return types.Log{
		Address: token,
		Topics:  []common.Hash{topicTransfer, addrTopic(from), addrTopic(to)},
		Data:    pad(amount),
		Index:   index,
	}
}

func wyvernMatchedLog(index uint, buyHash, sellHash common.Hash, price *big.Int) types.Log {
	return types.Log{
		Address: evtWyvern,
		Topics:  []common.Hash{topicWyvernOrdersMatched, addrTopic(evtSeller), addrTopic(evtBuyer)},
		Data:    cat(padHash(buyHash), padHash(sellHash), pad(price), padHash(common.Hash{})),
		Index:   index,
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestWyvernMatchRecordsSingleSellFill(t *testing.T) {
	t.Parallel()
	h := newRouterHarness(t)

	buyHash := common.HexToHash("0x01")
	sellHash := common.HexToHash("0x02")
	err := h.router.Route(context.Background(), tx(
		erc721TransferLog(0, evtSeller, evtBuyer, 77),
		wyvernMatchedLog(1, buyHash, sellHash, big.NewInt(5000)),
	))
	require.NoError(t, err)

	// Both hashes present: only the sell side is recorded to avoid counting
	// the sale twice.
	require.Len(t, h.facts.fills, 1)
	fill := h.facts.fills[0]
	require.Equal(t, sellHash.Hex(), fill.OrderID)
	require.Equal(t, domain.SideSell, fill.OrderSide)
	require.Equal(t, evtNFT, fill.Contract)
	require.Equal(t, big.NewInt(77), fill.TokenID)
	require.Equal(t, big.NewInt(5000), fill.CurrencyPrice)
	require.Equal(t, common.Address{}, fill.Currency, "no matching erc20 payment means native coin")
}

func TestWyvernMatchWETHPayment(t *testing.T) {
	t.Parallel()
	h := newRouterHarness(t)

	err := h.router.Route(context.Background(), tx(
		erc20TransferLog(0, evtWETH, evtBuyer, evtSeller, big.NewInt(5000)),
		erc721TransferLog(1, evtSeller, evtBuyer, 77),
		wyvernMatchedLog(2, common.Hash{}, common.HexToHash("0x02"), big.NewInt(5000)),
	))
	require.NoError(t, err)

	require.Len(t, h.facts.fills, 1)
	require.Equal(t, evtWETH, h.facts.fills[0].Currency)
}

func TestWyvernMatchRequiresAdjacentTransfer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		logs []types.Log
	}{
		{
			// The only NFT transfer sits several logs before the match with
			// unrelated ERC20 traffic in between; attributing it would pin
			// the fill to a token this match never moved.
			name: "TransferBuriedEarlierInTx",
			logs: []types.Log{
				erc721TransferLog(0, evtSeller, evtBuyer, 77),
				erc20TransferLog(1, evtWETH, evtBuyer, evtSeller, big.NewInt(1)),
				erc20TransferLog(2, evtWETH, evtBuyer, evtSeller, big.NewInt(2)),
				wyvernMatchedLog(5, common.Hash{}, common.HexToHash("0x02"), big.NewInt(5000)),
			},
		},
		{
			// Adjacent slice position but a gap in log indices: the log at
			// logIndex-1 was not an NFT transfer.
			name: "LogIndexGap",
			logs: []types.Log{
				erc721TransferLog(0, evtSeller, evtBuyer, 77),
				wyvernMatchedLog(2, common.Hash{}, common.HexToHash("0x02"), big.NewInt(5000)),
			},
		},
		{
			// A multi-unit ERC1155 transfer cannot back a one-unit match.
			name: "MultiUnitTransfer",
			logs: []types.Log{
				{
					Address: evtNFT,
					Topics: []common.Hash{
						topicTransferSingle,
						addrTopic(evtSeller),
						addrTopic(evtSeller),
						addrTopic(evtBuyer),
					},
					Data:  cat(pad(big.NewInt(77)), pad(big.NewInt(3))),
					Index: 0,
				},
				wyvernMatchedLog(1, common.Hash{}, common.HexToHash("0x02"), big.NewInt(5000)),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newRouterHarness(t)

			require.NoError(t, h.router.Route(context.Background(), tx(tt.logs...)))
			require.Empty(t, h.facts.fills)
		})
	}
}

func TestWyvernPaymentScanChecksParties(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		logs []types.Log
	}{
		{
			// Amount-coincident ERC20 transfer between unrelated parties.
			name: "UnrelatedParties",
			logs: []types.Log{
				erc20TransferLog(0, evtWETH, evtBuyer, evtNFT, big.NewInt(5000)),
				erc721TransferLog(1, evtSeller, evtBuyer, 77),
				wyvernMatchedLog(2, common.Hash{}, common.HexToHash("0x02"), big.NewInt(5000)),
			},
		},
		{
			// A matching transfer logged after the match belongs to whatever
			// comes next in the transaction, not to this sale.
			name: "TransferAfterMatch",
			logs: []types.Log{
				erc721TransferLog(0, evtSeller, evtBuyer, 77),
				wyvernMatchedLog(1, common.Hash{}, common.HexToHash("0x02"), big.NewInt(5000)),
				erc20TransferLog(2, evtWETH, evtBuyer, evtSeller, big.NewInt(5000)),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newRouterHarness(t)

			require.NoError(t, h.router.Route(context.Background(), tx(tt.logs...)))
			require.Len(t, h.facts.fills, 1)
			require.Equal(t, common.Address{}, h.facts.fills[0].Currency, "payment scan must not attach this transfer")
		})
	}
}

func TestWyvernMatchWithoutNFTTransferIsDropped(t *testing.T) {
	t.Parallel()
	h := newRouterHarness(t)

	err := h.router.Route(context.Background(), tx(
		wyvernMatchedLog(0, common.Hash{}, common.HexToHash("0x02"), big.NewInt(5000)),
	))
	require.NoError(t, err)
	require.Empty(t, h.facts.fills, "unattributable match must not produce a fill")
}

func TestWyvernBuyOnlyMatch(t *testing.T) {
	t.Parallel()
	h := newRouterHarness(t)

	buyHash := common.HexToHash("0x0b")
	err := h.router.Route(context.Background(), tx(
		erc721TransferLog(0, evtSeller, evtBuyer, 9),
		wyvernMatchedLog(1, buyHash, common.Hash{}, big.NewInt(100)),
	))
	require.NoError(t, err)

	require.Len(t, h.facts.fills, 1)
	require.Equal(t, buyHash.Hex(), h.facts.fills[0].OrderID)
	require.Equal(t, domain.SideBuy, h.facts.fills[0].OrderSide)
}

func TestERC721TransferFansOutRechecks(t *testing.T) {
	t.Parallel()
	h := newRouterHarness(t)

	// Two transfers touching the same pair must still recheck each address
	// only once per contract.
	err := h.router.Route(context.Background(), tx(
		erc721TransferLog(0, evtSeller, evtBuyer, 1),
		erc721TransferLog(1, evtSeller, evtBuyer, 2),
	))
	require.NoError(t, err)

	require.Len(t, h.transfers.rows, 2)
	require.Len(t, h.queue.byName(domain.JobMakerRecheck), 2)
}

func TestMintSkipsZeroAddressRecheck(t *testing.T) {
	t.Parallel()
	h := newRouterHarness(t)

	err := h.router.Route(context.Background(), tx(
		erc721TransferLog(0, common.Address{}, evtBuyer, 1),
	))
	require.NoError(t, err)

	require.Len(t, h.transfers.rows, 1)
	require.Len(t, h.queue.byName(domain.JobMakerRecheck), 1)
}

func TestLooksRareTakerBidSettlesOrder(t *testing.T) {
	t.Parallel()
	h := newRouterHarness(t)

	orderHash := common.HexToHash("0xcafe")
	h.seedOrder(domain.Order{
		ID:                orderHash.Hex(),
		Kind:              domain.OrderKindLooksRare,
		Side:              domain.SideSell,
		Maker:             evtSeller,
		Fillability:       domain.FillabilityFillable,
		Approval:          domain.ApprovalApproved,
		QuantityRemaining: big.NewInt(1),
	})

	lg := types.Log{
		Address: evtLooksRare,
		Topics: []common.Hash{
			topicLooksRareTakerBid,
			addrTopic(evtBuyer),
			addrTopic(evtSeller),
			common.HexToHash("0x01"),
		},
		Data: cat(
			padHash(orderHash),
			pad(big.NewInt(17)),
			padAddr(evtWETH),
			padAddr(evtNFT),
			pad(big.NewInt(55)),
			pad(big.NewInt(1)),
			pad(big.NewInt(9000)),
		),
		Index: 0,
	}
	require.NoError(t, h.router.Route(context.Background(), tx(lg)))

	require.Len(t, h.facts.fills, 1)
	fill := h.facts.fills[0]
	require.Equal(t, domain.SideSell, fill.OrderSide)
	require.Equal(t, big.NewInt(9000), fill.Price, "oracle native price attached")

	require.Len(t, h.orders.patches, 1)
	require.Equal(t, domain.FillabilityFilled, h.orders.patches[0].Fillability)
	require.Len(t, h.queue.byName(domain.JobOrderUpdated), 1)
}

func TestPartialFillReducesQuantity(t *testing.T) {
	t.Parallel()
	h := newRouterHarness(t)

	orderHash := common.HexToHash("0xcafe")
	h.seedOrder(domain.Order{
		ID:                orderHash.Hex(),
		Kind:              domain.OrderKindLooksRare,
		Side:              domain.SideSell,
		Maker:             evtSeller,
		Fillability:       domain.FillabilityFillable,
		Approval:          domain.ApprovalApproved,
		QuantityRemaining: big.NewInt(5),
	})

	lg := types.Log{
		Address: evtLooksRare,
		Topics: []common.Hash{
			topicLooksRareTakerBid,
			addrTopic(evtBuyer),
			addrTopic(evtSeller),
			common.HexToHash("0x01"),
		},
		Data: cat(
			padHash(orderHash),
			pad(big.NewInt(17)),
			padAddr(evtWETH),
			padAddr(evtNFT),
			pad(big.NewInt(55)),
			pad(big.NewInt(2)),
			pad(big.NewInt(9000)),
		),
		Index: 0,
	}
	require.NoError(t, h.router.Route(context.Background(), tx(lg)))

	require.Empty(t, h.orders.patches, "partial fill must not go terminal")
	require.Len(t, h.orders.terms, 1)
	require.Equal(t, big.NewInt(3), h.orders.terms[0].QuantityRemaining)
}

func TestFillWithoutNativePriceIsDropped(t *testing.T) {
	t.Parallel()
	h := newRouterHarness(t)
	h.oracle.unpriced[evtWETH] = true

	err := h.router.Route(context.Background(), tx(
		erc20TransferLog(0, evtWETH, evtBuyer, evtSeller, big.NewInt(5000)),
		erc721TransferLog(1, evtSeller, evtBuyer, 77),
		wyvernMatchedLog(2, common.Hash{}, common.HexToHash("0x02"), big.NewInt(5000)),
	))
	require.NoError(t, err, "a missing price drops the fill, it does not abort the batch")
	require.Empty(t, h.facts.fills)
}

func TestSeaportCancelForUnknownOrderLeavesFact(t *testing.T) {
	t.Parallel()
	h := newRouterHarness(t)

	orderHash := common.HexToHash("0xdead")
	lg := types.Log{
		Address: evtSeaport,
		Topics:  []common.Hash{topicSeaportCancelled, addrTopic(evtSeller), common.Hash{}},
		Data:    padHash(orderHash),
		Index:   0,
	}
	require.NoError(t, h.router.Route(context.Background(), tx(lg)))

	// No order row exists, but the fact must survive so a late-arriving order
	// signal for the same hash stays suppressed.
	require.Len(t, h.facts.cancels, 1)
	require.Equal(t, orderHash.Hex(), h.facts.cancels[0].OrderID)
	require.Empty(t, h.orders.patches)
}

func TestLooksRareNonceCancel(t *testing.T) {
	t.Parallel()
	h := newRouterHarness(t)

	nonce := "17"
	other := "18"
	h.seedOrder(domain.Order{
		ID:          "lr-17",
		Kind:        domain.OrderKindLooksRare,
		Maker:       evtSeller,
		Nonce:       &nonce,
		Fillability: domain.FillabilityFillable,
		Approval:    domain.ApprovalApproved,
	})
	h.seedOrder(domain.Order{
		ID:          "lr-18",
		Kind:        domain.OrderKindLooksRare,
		Maker:       evtSeller,
		Nonce:       &other,
		Fillability: domain.FillabilityFillable,
		Approval:    domain.ApprovalApproved,
	})

	lg := types.Log{
		Address: evtLooksRare,
		Topics:  []common.Hash{topicLooksRareCancelMultiple, addrTopic(evtSeller)},
		Data:    cat(pad(big.NewInt(32)), pad(big.NewInt(1)), pad(big.NewInt(17))),
		Index:   0,
	}
	require.NoError(t, h.router.Route(context.Background(), tx(lg)))

	require.Len(t, h.facts.cancels, 1)
	require.Equal(t, "lr-17", h.facts.cancels[0].OrderID)
	require.Equal(t, domain.FillabilityCancelled, h.orders.rows["lr-17"].Fillability)
	require.Equal(t, domain.FillabilityFillable, h.orders.rows["lr-18"].Fillability)
}

func TestPunkBoughtFill(t *testing.T) {
	t.Parallel()
	h := newRouterHarness(t)

	lg := types.Log{
		Address: evtPunks,
		Topics: []common.Hash{
			topicPunkBought,
			bigTopic(big.NewInt(3100)),
			addrTopic(evtSeller),
			addrTopic(evtBuyer),
		},
		Data:  pad(big.NewInt(4200)),
		Index: 0,
	}
	require.NoError(t, h.router.Route(context.Background(), tx(lg)))

	require.Len(t, h.facts.fills, 1)
	fill := h.facts.fills[0]
	require.Equal(t, protocol.CryptoPunksOrderID(big.NewInt(3100)), fill.OrderID)
	require.Equal(t, evtPunks, fill.Contract)
	require.Equal(t, big.NewInt(4200), fill.CurrencyPrice)
}

func TestApprovalForAllOnlyTracksKnownOperators(t *testing.T) {
	t.Parallel()
	h := newRouterHarness(t)

	approval := func(operator common.Address) types.Log {
		return types.Log{
			Address: evtNFT,
			Topics:  []common.Hash{topicApprovalForAll, addrTopic(evtSeller), addrTopic(operator)},
			Data:    pad(big.NewInt(1)),
			Index:   0,
		}
	}

	require.NoError(t, h.router.Route(context.Background(), tx(approval(evtConduit))))
	require.Len(t, h.queue.byName(domain.JobMakerRecheck), 1)

	// An approval for an untracked operator is noise.
	require.NoError(t, h.router.Route(context.Background(), tx(approval(evtBuyer))))
	require.Len(t, h.queue.byName(domain.JobMakerRecheck), 1)
}

func TestERC1155BatchTransferExpands(t *testing.T) {
	t.Parallel()
	h := newRouterHarness(t)

	lg := types.Log{
		Address: evtNFT,
		Topics: []common.Hash{
			topicTransferBatch,
			addrTopic(evtSeller),
			addrTopic(evtSeller),
			addrTopic(evtBuyer),
		},
		Data: cat(
			pad(big.NewInt(64)),  // ids offset
			pad(big.NewInt(160)), // amounts offset
			pad(big.NewInt(2)), pad(big.NewInt(10)), pad(big.NewInt(11)),
			pad(big.NewInt(2)), pad(big.NewInt(3)), pad(big.NewInt(4)),
		),
		Index: 0,
	}
	require.NoError(t, h.router.Route(context.Background(), tx(lg)))

	require.Len(t, h.transfers.rows, 2)
	require.Equal(t, big.NewInt(10), h.transfers.rows[0].TokenID)
	require.Equal(t, big.NewInt(3), h.transfers.rows[0].Amount)
	require.Equal(t, uint32(1), h.transfers.rows[1].BatchIndex)
}
