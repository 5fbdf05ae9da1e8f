package fillability

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/openfloor/nftindex/internal/domain"
)

var (
	chkContract = common.HexToAddress("0x1111111111111111111111111111111111111111")
	chkMaker    = common.HexToAddress("0x2222222222222222222222222222222222222222")
	chkOperator = common.HexToAddress("0x3333333333333333333333333333333333333333")
	chkWETH     = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
)

// fakeChain serves canned balances and approvals; err poisons every read.
type fakeChain struct {
	nftBalance   *big.Int
	approved     bool
	erc20Balance *big.Int
	allowance    *big.Int
	err          error
}

func (c *fakeChain) NFTBalance(context.Context, domain.TokenStandard, common.Address, common.Address, *big.Int) (*big.Int, error) {
	return c.nftBalance, c.err
}

func (c *fakeChain) IsApprovedForAll(context.Context, common.Address, common.Address, common.Address) (bool, error) {
	return c.approved, c.err
}

func (c *fakeChain) ERC20Balance(context.Context, common.Address, common.Address) (*big.Int, error) {
	return c.erc20Balance, c.err
}

func (c *fakeChain) ERC20Allowance(context.Context, common.Address, common.Address, common.Address) (*big.Int, error) {
	return c.allowance, c.err
}

type staticOperators struct {
	operator common.Address
}

func (s staticOperators) Operator(domain.OrderKind) common.Address {
	return s.operator
}

func newTestChecker(chain *fakeChain, operator common.Address) *Checker {
	return NewChecker(chain, staticOperators{operator: operator}, 0, slog.New(slog.DiscardHandler))
}

func sellOrder(quantity int64) *domain.NormalizedOrder {
	return &domain.NormalizedOrder{
		Order: domain.Order{
			ID:                "chk-1",
			Kind:              domain.OrderKindSeaport,
			Side:              domain.SideSell,
			Maker:             chkMaker,
			Price:             big.NewInt(1000),
			QuantityRemaining: big.NewInt(quantity),
		},
		TokenSet: domain.SingleTokenSpec(chkContract, big.NewInt(42)),
	}
}

func buyOrder() *domain.NormalizedOrder {
	return &domain.NormalizedOrder{
		Order: domain.Order{
			ID:                "chk-2",
			Kind:              domain.OrderKindSeaport,
			Side:              domain.SideBuy,
			Maker:             chkMaker,
			Currency:          chkWETH,
			Price:             big.NewInt(1000),
			QuantityRemaining: big.NewInt(1),
		},
		TokenSet: domain.ContractWideSpec(chkContract),
	}
}

func TestCheckSellOutcomes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		balance  int64
		approved bool
		want     Outcome
	}{
		{name: "Fillable", balance: 1, approved: true, want: OutcomeFillable},
		{name: "NoBalance", balance: 0, approved: true, want: OutcomeNoBalance},
		{name: "NoApproval", balance: 1, approved: false, want: OutcomeNoApproval},
		{name: "Neither", balance: 0, approved: false, want: OutcomeNoBalanceNoApproval},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			chain := &fakeChain{nftBalance: big.NewInt(tt.balance), approved: tt.approved}
			c := newTestChecker(chain, chkOperator)

			got, err := c.Check(context.Background(), sellOrder(1))
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestCheckSellMultiUnitRequiresFullBalance(t *testing.T) {
	t.Parallel()

	chain := &fakeChain{nftBalance: big.NewInt(3), approved: true}
	c := newTestChecker(chain, chkOperator)

	got, err := c.Check(context.Background(), sellOrder(4))
	require.NoError(t, err)
	require.Equal(t, OutcomeNoBalance, got, "partial holdings cannot cover the remaining quantity")
}

func TestCheckContractWideSkipsBalance(t *testing.T) {
	t.Parallel()

	// A contract-wide listing pins no token, so only the approval leg applies.
	chain := &fakeChain{nftBalance: big.NewInt(0), approved: true}
	c := newTestChecker(chain, chkOperator)

	n := sellOrder(1)
	n.TokenSet = domain.ContractWideSpec(chkContract)

	got, err := c.Check(context.Background(), n)
	require.NoError(t, err)
	require.Equal(t, OutcomeFillable, got)
}

func TestCheckBuyOutcomes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		balance   int64
		allowance int64
		want      Outcome
	}{
		{name: "Fillable", balance: 1000, allowance: 1000, want: OutcomeFillable},
		{name: "NoBalance", balance: 999, allowance: 1000, want: OutcomeNoBalance},
		{name: "NoAllowance", balance: 1000, allowance: 999, want: OutcomeNoApproval},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			chain := &fakeChain{
				erc20Balance: big.NewInt(tt.balance),
				allowance:    big.NewInt(tt.allowance),
			}
			c := newTestChecker(chain, chkOperator)

			got, err := c.Check(context.Background(), buyOrder())
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestCheckBuyScalesCostByQuantity(t *testing.T) {
	t.Parallel()

	// 1000 per unit across 3 units: a 2500 balance is short.
	chain := &fakeChain{erc20Balance: big.NewInt(2500), allowance: big.NewInt(3000)}
	c := newTestChecker(chain, chkOperator)

	n := buyOrder()
	n.Order.QuantityRemaining = big.NewInt(3)

	got, err := c.Check(context.Background(), n)
	require.NoError(t, err)
	require.Equal(t, OutcomeNoBalance, got)
}

func TestCheckUnknownOperatorIsNotFillable(t *testing.T) {
	t.Parallel()

	c := newTestChecker(&fakeChain{}, common.Address{})

	got, err := c.Check(context.Background(), sellOrder(1))
	require.NoError(t, err)
	require.Equal(t, OutcomeNotFillable, got)
}

func TestCheckCustodyKindsSkipApproval(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		kind domain.OrderKind
	}{
		{name: "CryptoPunks", kind: domain.OrderKindCryptoPunks},
		{name: "Sudoswap", kind: domain.OrderKindSudoswap},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			// The market holds the asset itself: no operator and no
			// setApprovalForAll state exists.
			chain := &fakeChain{nftBalance: big.NewInt(1), approved: false}
			c := newTestChecker(chain, common.Address{})

			n := sellOrder(1)
			n.Order.Kind = tt.kind

			got, err := c.Check(context.Background(), n)
			require.NoError(t, err)
			require.Equal(t, OutcomeFillable, got)
		})
	}
}

func TestCheckRPCErrorsPropagate(t *testing.T) {
	t.Parallel()

	rpcErr := errors.New("connection reset")
	chain := &fakeChain{err: rpcErr}
	c := newTestChecker(chain, chkOperator)

	_, err := c.Check(context.Background(), sellOrder(1))
	require.ErrorIs(t, err, rpcErr, "transient failures are never a balance determination")

	_, err = c.Check(context.Background(), buyOrder())
	require.ErrorIs(t, err, rpcErr)
}
