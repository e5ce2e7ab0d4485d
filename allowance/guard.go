package allowance

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/vitwit/xpay/builder"
	"github.com/vitwit/xpay/clients"
	"github.com/vitwit/xpay/logger"
	"github.com/vitwit/xpay/metrics"
	"github.com/vitwit/xpay/types"
)

const (
	DefaultReceiptPoll    = 2 * time.Second
	DefaultReceiptTimeout = 3 * time.Minute
)

// Guard verifies that a spender may move the payer's tokens and, when it may
// not, obtains the payer's approval through the wallet.
type Guard struct {
	builder *builder.Builder
	readers clients.Readers
	wallet  clients.Wallet
	gate    *clients.SigningGate

	receiptPoll    time.Duration
	receiptTimeout time.Duration

	log     logger.Logger
	metrics metrics.Recorder
}

type Option func(*Guard)

func WithReceiptPolling(interval, timeout time.Duration) Option {
	return func(g *Guard) {
		g.receiptPoll = interval
		g.receiptTimeout = timeout
	}
}

func WithLogger(l logger.Logger) Option {
	return func(g *Guard) { g.log = l }
}

func WithMetrics(m metrics.Recorder) Option {
	return func(g *Guard) { g.metrics = m }
}

func NewGuard(b *builder.Builder, readers clients.Readers, wallet clients.Wallet, gate *clients.SigningGate, opts ...Option) *Guard {
	g := &Guard{
		builder:        b,
		readers:        readers,
		wallet:         wallet,
		gate:           gate,
		receiptPoll:    DefaultReceiptPoll,
		receiptTimeout: DefaultReceiptTimeout,
		log:            logger.NoopLogger{},
		metrics:        metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check reads the on-chain allowance. It has no side effects and keeps no
// state, so repeated calls without an on-chain change agree.
func (g *Guard) Check(ctx context.Context, network types.NetworkID, owner, token common.Address, amount *big.Int, spender common.Address) (*types.AllowanceStatus, error) {
	reader, err := g.readers.Get(network)
	if err != nil {
		return nil, types.NewAllowanceError(types.ErrAllowanceRead, "cannot read allowance", err)
	}

	granted, err := clients.NewERC20(token, reader).Allowance(ctx, owner, spender)
	if err != nil {
		return nil, types.NewAllowanceError(types.ErrAllowanceRead, "cannot read allowance", err)
	}

	status := &types.AllowanceStatus{
		Network:    network,
		Owner:      owner,
		Spender:    spender,
		Token:      token,
		Required:   new(big.Int).Set(amount),
		Granted:    granted,
		Sufficient: granted.Cmp(amount) >= 0,
	}
	if status.Sufficient {
		return status, nil
	}

	approval, err := g.builder.BuildApproval(ctx, network, owner, token, spender, amount)
	if err != nil {
		return nil, err
	}
	status.Approval = approval

	g.log.Info("allowance insufficient", map[string]any{
		"network":  network,
		"owner":    owner.Hex(),
		"spender":  spender.Hex(),
		"granted":  granted.String(),
		"required": amount.String(),
	})
	return status, nil
}

// RequestApproval asks the payer to sign the approval attached to status and
// waits until it is mined. A rejected prompt is reported as cancelled; a
// wallet failure or a reverted approval as failed. When ctx ends first the
// outcome is unknown and a retryable error is returned instead.
func (g *Guard) RequestApproval(ctx context.Context, status *types.AllowanceStatus) (*types.ApprovalResult, error) {
	if status == nil {
		return nil, errors.New("allowance status is nil")
	}
	if status.Sufficient {
		return &types.ApprovalResult{Outcome: types.ApprovalGranted}, nil
	}
	if status.Approval == nil {
		return nil, errors.New("insufficient allowance without an approval draft")
	}

	start := time.Now()
	labels := map[string]string{"network": string(status.Network)}
	defer func() { g.metrics.ObserveLatency(metrics.OpApproval, time.Since(start), labels) }()

	hash, err := g.gate.Send(ctx, g.wallet, status.Approval)
	if err != nil {
		if ctx.Err() != nil {
			return nil, interrupted(ctx, common.Hash{})
		}
		if errors.Is(err, clients.ErrUserRejected) {
			g.log.Info("approval rejected by payer", map[string]any{"network": status.Network})
			return &types.ApprovalResult{Outcome: types.ApprovalCancelled, Error: err.Error()}, nil
		}
		g.log.Warn("approval could not be sent", map[string]any{"network": status.Network, "error": err})
		return &types.ApprovalResult{Outcome: types.ApprovalFailed, Error: err.Error()}, nil
	}

	receipt, err := g.waitReceipt(ctx, status.Network, hash)
	if err != nil {
		if ctx.Err() != nil {
			return nil, interrupted(ctx, hash)
		}
		return &types.ApprovalResult{Outcome: types.ApprovalFailed, TxHash: hash, Error: err.Error()}, nil
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return &types.ApprovalResult{Outcome: types.ApprovalFailed, TxHash: hash, Error: "approval transaction reverted"}, nil
	}

	g.log.Info("approval mined", map[string]any{"network": status.Network, "tx": hash.Hex()})
	return &types.ApprovalResult{Outcome: types.ApprovalGranted, TxHash: hash}, nil
}

func interrupted(ctx context.Context, hash common.Hash) error {
	msg := "approval interrupted before it was confirmed"
	if hash != (common.Hash{}) {
		msg = fmt.Sprintf("approval %s sent but not confirmed", hash.Hex())
	}
	return types.NewAllowanceError(types.ErrApprovalInterrupted, msg, ctx.Err())
}

func (g *Guard) waitReceipt(ctx context.Context, network types.NetworkID, hash common.Hash) (*gethtypes.Receipt, error) {
	reader, err := g.readers.Get(network)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, g.receiptTimeout)
	defer cancel()

	ticker := time.NewTicker(g.receiptPoll)
	defer ticker.Stop()

	for {
		receipt, err := reader.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) && !clients.IsTransient(err) {
			return nil, fmt.Errorf("read approval receipt: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("approval %s not mined: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}
