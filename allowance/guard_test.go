package allowance

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/xpay/builder"
	"github.com/vitwit/xpay/clients"
	"github.com/vitwit/xpay/clients/clienttest"
	"github.com/vitwit/xpay/registry"
	"github.com/vitwit/xpay/types"
)

var (
	payer      = common.HexToAddress("0x1111111111111111111111111111111111111111")
	routerAddr = common.HexToAddress("0x9999999999999999999999999999999999999999")
	token      = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	fiveUSDC   = big.NewInt(5_000_000)
)

func setup(t *testing.T) (*Guard, *clienttest.Chain, *clienttest.Wallet) {
	t.Helper()
	reg, err := registry.New(registry.Override{ID: registry.Base, Router: routerAddr})
	require.NoError(t, err)

	chain := clienttest.NewChain()
	readers := clients.Readers{registry.Base: chain}
	wallet := clienttest.NewWallet(payer, 8453)
	wallet.Ledger = chain

	b := builder.New(reg, readers, builder.DefaultGasConfig(), nil)
	g := NewGuard(b, readers, wallet, clients.NewSigningGate(), WithReceiptPolling(time.Millisecond, time.Second))
	return g, chain, wallet
}

func TestCheckSufficient(t *testing.T) {
	g, chain, _ := setup(t)
	chain.SetAllowance(payer, routerAddr, big.NewInt(10_000_000))

	st, err := g.Check(context.Background(), registry.Base, payer, token, fiveUSDC, routerAddr)
	require.NoError(t, err)
	assert.True(t, st.Sufficient)
	assert.Nil(t, st.Approval)
	assert.Equal(t, "10000000", st.Granted.String())
}

func TestCheckInsufficientAttachesApproval(t *testing.T) {
	g, _, _ := setup(t)

	st, err := g.Check(context.Background(), registry.Base, payer, token, fiveUSDC, routerAddr)
	require.NoError(t, err)
	assert.False(t, st.Sufficient)
	assert.Equal(t, int64(0), st.Granted.Int64())
	require.NotNil(t, st.Approval)
	assert.Equal(t, types.PurposeApproval, st.Approval.Purpose)
	assert.Equal(t, token, st.Approval.To)
	assert.Equal(t, routerAddr, *st.Approval.Spender)
}

func TestCheckIdempotent(t *testing.T) {
	g, chain, _ := setup(t)
	chain.SetAllowance(payer, routerAddr, big.NewInt(1))

	first, err := g.Check(context.Background(), registry.Base, payer, token, fiveUSDC, routerAddr)
	require.NoError(t, err)
	second, err := g.Check(context.Background(), registry.Base, payer, token, fiveUSDC, routerAddr)
	require.NoError(t, err)

	assert.Equal(t, first.Sufficient, second.Sufficient)
	assert.Equal(t, first.Granted, second.Granted)
	assert.Equal(t, first.Approval.Data, second.Approval.Data)
}

func TestCheckReadFailure(t *testing.T) {
	g, chain, _ := setup(t)
	chain.CallErr = errors.New("dial tcp: connection refused")

	_, err := g.Check(context.Background(), registry.Base, payer, token, fiveUSDC, routerAddr)
	var pe *types.PaymentError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, types.KindAllowance, pe.Kind)
	assert.True(t, pe.Retryable)
}

func TestRequestApprovalGranted(t *testing.T) {
	g, _, wallet := setup(t)

	st, err := g.Check(context.Background(), registry.Base, payer, token, fiveUSDC, routerAddr)
	require.NoError(t, err)

	res, err := g.RequestApproval(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, types.ApprovalGranted, res.Outcome)
	assert.NotEqual(t, common.Hash{}, res.TxHash)
	assert.Equal(t, []types.DraftPurpose{types.PurposeApproval}, wallet.SentPurposes())

	after, err := g.Check(context.Background(), registry.Base, payer, token, fiveUSDC, routerAddr)
	require.NoError(t, err)
	assert.True(t, after.Sufficient)
}

func TestRequestApprovalRejected(t *testing.T) {
	g, _, wallet := setup(t)
	wallet.ApproveErr = clients.ErrUserRejected

	st, err := g.Check(context.Background(), registry.Base, payer, token, fiveUSDC, routerAddr)
	require.NoError(t, err)

	res, err := g.RequestApproval(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, types.ApprovalCancelled, res.Outcome)
	assert.Empty(t, wallet.SentPurposes())
}

func TestRequestApprovalReverted(t *testing.T) {
	g, _, wallet := setup(t)
	wallet.RevertApprs = true

	st, err := g.Check(context.Background(), registry.Base, payer, token, fiveUSDC, routerAddr)
	require.NoError(t, err)

	res, err := g.RequestApproval(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, types.ApprovalFailed, res.Outcome)
	assert.Contains(t, res.Error, "reverted")
}

func TestRequestApprovalNeverMined(t *testing.T) {
	g, _, wallet := setup(t)
	wallet.Ledger = nil
	g.receiptTimeout = 20 * time.Millisecond

	st, err := g.Check(context.Background(), registry.Base, payer, token, fiveUSDC, routerAddr)
	require.NoError(t, err)

	res, err := g.RequestApproval(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, types.ApprovalFailed, res.Outcome)
}

func TestRequestApprovalWalletFailure(t *testing.T) {
	g, _, wallet := setup(t)
	wallet.ApproveErr = errors.New("insufficient funds for gas")

	st, err := g.Check(context.Background(), registry.Base, payer, token, fiveUSDC, routerAddr)
	require.NoError(t, err)

	res, err := g.RequestApproval(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, types.ApprovalFailed, res.Outcome)
}

func TestRequestApprovalCallerGivesUpAtPrompt(t *testing.T) {
	g, _, wallet := setup(t)
	wallet.SendDelay = time.Second

	st, err := g.Check(context.Background(), registry.Base, payer, token, fiveUSDC, routerAddr)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res, err := g.RequestApproval(ctx, st)
	assert.Nil(t, res)

	var pe *types.PaymentError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, types.KindAllowance, pe.Kind)
	assert.Equal(t, types.ErrApprovalInterrupted, pe.Code)
	assert.True(t, pe.Retryable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRequestApprovalCallerGivesUpWhileMining(t *testing.T) {
	g, _, wallet := setup(t)
	wallet.Ledger = nil

	st, err := g.Check(context.Background(), registry.Base, payer, token, fiveUSDC, routerAddr)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	res, err := g.RequestApproval(ctx, st)
	assert.Nil(t, res)

	var pe *types.PaymentError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, types.ErrApprovalInterrupted, pe.Code)
	assert.Contains(t, pe.Message, "sent but not confirmed")
	assert.Equal(t, []types.DraftPurpose{types.PurposeApproval}, wallet.SentPurposes())
}
