// Package fillability runs the off-chain simulation that decides whether an
// order can currently be executed: it reads the maker's balances and operator
// approvals and maps them onto the order's fillability and approval statuses.
// Expected outcomes are returned as an explicit variant; only infrastructure
// failures (RPC errors, timeouts) surface as errors.
package fillability

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openfloor/nftindex/internal/domain"
)

// Outcome is the result variant of one validity check.
type Outcome string

const (
	OutcomeFillable            Outcome = "fillable"
	OutcomeNoBalance           Outcome = "no-balance"
	OutcomeNoApproval          Outcome = "no-approval"
	OutcomeNoBalanceNoApproval Outcome = "no-balance-no-approval"
	// OutcomeNotFillable marks an unrecoverable structural problem; the order
	// must not be persisted.
	OutcomeNotFillable Outcome = "not-fillable"
)

// Statuses maps the outcome onto the order status pair. A missing balance
// alone does not downgrade the approval status.
func (o Outcome) Statuses() (domain.FillabilityStatus, domain.ApprovalStatus) {
	switch o {
	case OutcomeFillable:
		return domain.FillabilityFillable, domain.ApprovalApproved
	case OutcomeNoBalance:
		return domain.FillabilityNoBalance, domain.ApprovalApproved
	case OutcomeNoApproval:
		return domain.FillabilityFillable, domain.ApprovalNoApproval
	case OutcomeNoBalanceNoApproval:
		return domain.FillabilityNoBalance, domain.ApprovalNoApproval
	default:
		return domain.FillabilityCancelled, domain.ApprovalDisabled
	}
}

// OperatorResolver yields the contract that must be approved to move the
// maker's assets for a given order kind.
type OperatorResolver interface {
	Operator(kind domain.OrderKind) common.Address
}

// Checker performs validity checks against live chain state.
type Checker struct {
	chain     domain.ChainReader
	operators OperatorResolver
	timeout   time.Duration
	logger    *slog.Logger
}

// NewChecker creates a Checker. timeout bounds each individual RPC read; a
// timed-out read is a transient error, never a no-balance determination.
func NewChecker(chain domain.ChainReader, operators OperatorResolver, timeout time.Duration, logger *slog.Logger) *Checker {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Checker{
		chain:     chain,
		operators: operators,
		timeout:   timeout,
		logger:    logger.With(slog.String("component", "fillability")),
	}
}

// Check runs the off-chain simulation for one normalized order. For sell
// orders it verifies NFT balance and operator approval; for buy orders it
// verifies currency balance and allowance.
func (c *Checker) Check(ctx context.Context, n *domain.NormalizedOrder) (Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	operator := c.operators.Operator(n.Order.Kind)
	if operator == (common.Address{}) && !custodyKind(n.Order.Kind) {
		return OutcomeNotFillable, nil
	}

	if n.Order.Side == domain.SideSell {
		return c.checkSell(ctx, n, operator)
	}
	return c.checkBuy(ctx, n, operator)
}

func (c *Checker) checkSell(ctx context.Context, n *domain.NormalizedOrder, operator common.Address) (Outcome, error) {
	// Contract-wide and list scopes cannot pin a specific balance; only the
	// approval leg applies.
	hasBalance := true
	if n.TokenSet.Kind == domain.TokenSetSingle && n.TokenSet.TokenID != nil {
		standard := domain.StandardERC721
		if n.Order.Kind == domain.OrderKindElementERC1155 {
			standard = domain.StandardERC1155
		}
		if n.Order.QuantityRemaining != nil && n.Order.QuantityRemaining.Cmp(big.NewInt(1)) > 0 {
			standard = domain.StandardERC1155
		}

		bal, err := c.chain.NFTBalance(ctx, standard, n.TokenSet.Contract, n.Order.Maker, n.TokenSet.TokenID)
		if err != nil {
			return "", fmt.Errorf("fillability: nft balance %s: %w", n.Order.ID, err)
		}
		required := big.NewInt(1)
		if n.Order.QuantityRemaining != nil {
			required = n.Order.QuantityRemaining
		}
		hasBalance = bal.Cmp(required) >= 0
	}

	approved, err := c.approvedForAll(ctx, n.TokenSet.Contract, n.Order.Maker, operator, n.Order.Kind)
	if err != nil {
		return "", fmt.Errorf("fillability: approval %s: %w", n.Order.ID, err)
	}

	return combine(hasBalance, approved), nil
}

func (c *Checker) checkBuy(ctx context.Context, n *domain.NormalizedOrder, operator common.Address) (Outcome, error) {
	// A bid's cost is the gross per-unit price across the remaining quantity.
	required := new(big.Int).Set(n.Order.Price)
	if n.Order.QuantityRemaining != nil {
		required.Mul(required, n.Order.QuantityRemaining)
	}

	bal, err := c.chain.ERC20Balance(ctx, n.Order.Currency, n.Order.Maker)
	if err != nil {
		return "", fmt.Errorf("fillability: erc20 balance %s: %w", n.Order.ID, err)
	}
	allowance, err := c.chain.ERC20Allowance(ctx, n.Order.Currency, n.Order.Maker, operator)
	if err != nil {
		return "", fmt.Errorf("fillability: erc20 allowance %s: %w", n.Order.ID, err)
	}

	return combine(bal.Cmp(required) >= 0, allowance.Cmp(required) >= 0), nil
}

// custodyKind reports protocols whose market contract holds the asset itself
// (cryptopunks escrow, sudoswap pools): no separate approval exists, listing
// implies custody.
func custodyKind(kind domain.OrderKind) bool {
	return kind == domain.OrderKindCryptoPunks || kind == domain.OrderKindSudoswap
}

func (c *Checker) approvedForAll(ctx context.Context, contract, owner, operator common.Address, kind domain.OrderKind) (bool, error) {
	if custodyKind(kind) {
		return true, nil
	}
	return c.chain.IsApprovedForAll(ctx, contract, owner, operator)
}

func combine(hasBalance, approved bool) Outcome {
	switch {
	case hasBalance && approved:
		return OutcomeFillable
	case !hasBalance && approved:
		return OutcomeNoBalance
	case hasBalance && !approved:
		return OutcomeNoApproval
	default:
		return OutcomeNoBalanceNoApproval
	}
}
