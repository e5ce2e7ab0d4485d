package clients

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/vitwit/xpay/types"
)

// ChainReader is the read side of a node that xpay needs. *ethclient.Client
// satisfies it.
type ChainReader interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
}

var _ ChainReader = (*ethclient.Client)(nil)

// Dial connects to a node and checks that it serves the expected chain.
func Dial(ctx context.Context, rpcURL string, expectChainID *big.Int) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC %s: %w", rpcURL, err)
	}
	if expectChainID == nil {
		return client, nil
	}

	got, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to read chain id from %s: %w", rpcURL, err)
	}
	if got.Cmp(expectChainID) != 0 {
		client.Close()
		return nil, fmt.Errorf("rpc %s serves chain %s, expected %s", rpcURL, got, expectChainID)
	}
	return client, nil
}

// RetryConfig controls retries of transport-level RPC failures.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
	}
}

// RetryingReader retries transport failures and rate limits. Node answers
// such as reverts are returned immediately.
type RetryingReader struct {
	inner ChainReader
	cfg   RetryConfig
}

func NewRetryingReader(inner ChainReader, cfg RetryConfig) *RetryingReader {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &RetryingReader{inner: inner, cfg: cfg}
}

func (r *RetryingReader) CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	var out []byte
	err := r.do(ctx, func() (err error) {
		out, err = r.inner.CallContract(ctx, msg, block)
		return err
	})
	return out, err
}

func (r *RetryingReader) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	var out uint64
	err := r.do(ctx, func() (err error) {
		out, err = r.inner.EstimateGas(ctx, msg)
		return err
	})
	return out, err
}

func (r *RetryingReader) HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error) {
	var out *gethtypes.Header
	err := r.do(ctx, func() (err error) {
		out, err = r.inner.HeaderByNumber(ctx, number)
		return err
	})
	return out, err
}

func (r *RetryingReader) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	var out *big.Int
	err := r.do(ctx, func() (err error) {
		out, err = r.inner.SuggestGasTipCap(ctx)
		return err
	})
	return out, err
}

func (r *RetryingReader) TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error) {
	var out *gethtypes.Receipt
	err := r.do(ctx, func() (err error) {
		out, err = r.inner.TransactionReceipt(ctx, txHash)
		return err
	})
	return out, err
}

func (r *RetryingReader) do(ctx context.Context, fn func() error) error {
	backoff := r.cfg.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsTransient(err) || attempt == r.cfg.MaxAttempts {
			break
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		if IsRateLimited(err) {
			backoff *= 2
			if r.cfg.MaxBackoff > 0 && backoff > r.cfg.MaxBackoff {
				backoff = r.cfg.MaxBackoff
			}
		}
	}
	return lastErr
}

// IsRateLimited matches the usual provider throttling replies.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "Too Many Requests") || strings.Contains(s, "-32005") || strings.Contains(s, "rate limit")
}

// IsTransient reports whether err came from the transport rather than from
// the node's evaluation of the request.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ethereum.NotFound) {
		return false
	}
	if IsRateLimited(err) {
		return true
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return false
	}
	return !IsRevert(err)
}

// IsRevert reports whether err carries an execution revert.
func IsRevert(err error) bool {
	if err == nil {
		return false
	}
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) && dataErr.ErrorData() != nil {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "revert")
}

// Readers holds one chain reader per network.
type Readers map[types.NetworkID]ChainReader

func (r Readers) Get(network types.NetworkID) (ChainReader, error) {
	c, ok := r[network]
	if !ok || c == nil {
		return nil, fmt.Errorf("no rpc client configured for network %s", network)
	}
	return c, nil
}
