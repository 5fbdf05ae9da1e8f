// Package chain implements the read-only RPC client behind the validity
// checker. All reads are plain eth_call lookups, rate limited so validity
// sweeps cannot starve the node.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"

	"github.com/openfloor/nftindex/internal/domain"
)

// Method selectors, first four bytes of the keccak of the signature.
var (
	selOwnerOf          = selector("ownerOf(uint256)")
	selBalanceOf        = selector("balanceOf(address)")
	selBalanceOf1155    = selector("balanceOf(address,uint256)")
	selIsApprovedForAll = selector("isApprovedForAll(address,address)")
	selAllowance        = selector("allowance(address,address)")
)

func selector(sig string) []byte {
	return crypto.Keccak256([]byte(sig))[:4]
}

// ReaderConfig tunes the RPC reader.
type ReaderConfig struct {
	URL string
	// RequestsPerSecond caps outgoing eth_call volume; 0 disables limiting.
	RequestsPerSecond float64
	Timeout           time.Duration
}

// Reader implements domain.ChainReader over a JSON-RPC endpoint.
type Reader struct {
	client  *ethclient.Client
	limiter *rate.Limiter
	timeout time.Duration
	logger  *slog.Logger
}

// NewReader dials the RPC endpoint.
func NewReader(ctx context.Context, cfg ReaderConfig, logger *slog.Logger) (*Reader, error) {
	client, err := ethclient.DialContext(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", cfg.URL, err)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(cfg.RequestsPerSecond)+1)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Reader{
		client:  client,
		limiter: limiter,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "chain")),
	}, nil
}

// Close tears down the RPC connection.
func (r *Reader) Close() {
	r.client.Close()
}

// NFTBalance returns how many units of (contract, tokenId) owner holds. For
// ERC721 a reverting ownerOf (burned or never minted) counts as zero.
func (r *Reader) NFTBalance(ctx context.Context, standard domain.TokenStandard, contract, owner common.Address, tokenID *big.Int) (*big.Int, error) {
	if standard == domain.StandardERC1155 {
		out, err := r.call(ctx, contract, pack(selBalanceOf1155, addrArg(owner), bigArg(tokenID)))
		if err != nil {
			return nil, fmt.Errorf("chain: erc1155 balanceOf: %w", err)
		}
		return new(big.Int).SetBytes(out), nil
	}

	out, err := r.call(ctx, contract, pack(selOwnerOf, bigArg(tokenID)))
	if err != nil {
		if isRevert(err) {
			return big.NewInt(0), nil
		}
		return nil, fmt.Errorf("chain: ownerOf: %w", err)
	}
	if len(out) < 32 {
		return big.NewInt(0), nil
	}
	if common.BytesToAddress(out[12:32]) == owner {
		return big.NewInt(1), nil
	}
	return big.NewInt(0), nil
}

func (r *Reader) IsApprovedForAll(ctx context.Context, contract, owner, operator common.Address) (bool, error) {
	out, err := r.call(ctx, contract, pack(selIsApprovedForAll, addrArg(owner), addrArg(operator)))
	if err != nil {
		return false, fmt.Errorf("chain: isApprovedForAll: %w", err)
	}
	return len(out) == 32 && out[31] == 1, nil
}

func (r *Reader) ERC20Balance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	out, err := r.call(ctx, token, pack(selBalanceOf, addrArg(owner)))
	if err != nil {
		return nil, fmt.Errorf("chain: erc20 balanceOf: %w", err)
	}
	return new(big.Int).SetBytes(out), nil
}

func (r *Reader) ERC20Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	out, err := r.call(ctx, token, pack(selAllowance, addrArg(owner), addrArg(spender)))
	if err != nil {
		return nil, fmt.Errorf("chain: erc20 allowance: %w", err)
	}
	return new(big.Int).SetBytes(out), nil
}

func (r *Reader) call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
}

func pack(sel []byte, args ...[32]byte) []byte {
	data := make([]byte, 0, 4+32*len(args))
	data = append(data, sel...)
	for _, a := range args {
		data = append(data, a[:]...)
	}
	return data
}

func addrArg(a common.Address) [32]byte {
	var w [32]byte
	copy(w[12:], a.Bytes())
	return w
}

func bigArg(n *big.Int) [32]byte {
	var w [32]byte
	if n != nil {
		n.FillBytes(w[:])
	}
	return w
}

// isRevert distinguishes an executed-but-reverted call from a transport
// failure. geth and erigon both surface reverts with this phrasing.
func isRevert(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "execution reverted") || strings.Contains(msg, "revert")
}
