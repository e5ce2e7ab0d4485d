package simulation

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/xpay/clients"
	"github.com/vitwit/xpay/clients/clienttest"
	"github.com/vitwit/xpay/types"
)

var (
	payer = common.HexToAddress("0x1111111111111111111111111111111111111111")
	payee = common.HexToAddress("0x2222222222222222222222222222222222222222")
	token = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
)

func transferDraft(t *testing.T, amount int64) *types.TransactionDraft {
	t.Helper()
	data, err := clients.PackTransfer(payee, big.NewInt(amount))
	require.NoError(t, err)
	return &types.TransactionDraft{
		Purpose:     types.PurposePayment,
		Mode:        types.ModeSameChain,
		Network:     "base",
		ChainID:     big.NewInt(8453),
		From:        payer,
		To:          token,
		Value:       new(big.Int),
		Data:        data,
		Token:       token,
		Recipient:   payee,
		TokenAmount: big.NewInt(amount),
		Gas:         65_000,
	}
}

func newSim(chain *clienttest.Chain) *Simulator {
	return New(clients.Readers{"base": chain}, 0, nil, nil)
}

func TestSimulateSuccessRefinesGas(t *testing.T) {
	chain := clienttest.NewChain()
	chain.SetBalance(payer, big.NewInt(10_000_000))
	chain.GasEstimate = 50_000

	d := transferDraft(t, 10_000_000)
	res, err := newSim(chain).Simulate(context.Background(), d)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Success)
	assert.Equal(t, uint64(50_000), res.GasUsed)
	assert.Equal(t, uint64(60_000), d.Gas)
}

func TestSimulateBalanceShortfall(t *testing.T) {
	chain := clienttest.NewChain()

	res, err := newSim(chain).Simulate(context.Background(), transferDraft(t, 10_000_000))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Equal(t, types.ReasonInsufficientBalance, res.Reason)
	assert.Equal(t, types.RemedyTopUpBalance, res.Reason.Remedy())
	assert.Contains(t, res.Message, "exceeds balance")
	assert.NotEmpty(t, res.RevertData)
}

func TestSimulateCustomErrors(t *testing.T) {
	balanceErr, err := clients.ERC20ABI.Errors["ERC20InsufficientBalance"].Inputs.Pack(payer, big.NewInt(0), big.NewInt(1))
	require.NoError(t, err)
	allowanceErr, err := clients.ERC20ABI.Errors["ERC20InsufficientAllowance"].Inputs.Pack(payer, big.NewInt(0), big.NewInt(1))
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
		want types.SimulationReason
	}{
		{"erc6093 balance", append(append([]byte{}, selInsufficientBalance...), balanceErr...), types.ReasonInsufficientBalance},
		{"erc6093 allowance", append(append([]byte{}, selInsufficientAllowance...), allowanceErr...), types.ReasonInsufficientAllowance},
		{"revert string allowance", clienttest.RevertString("ERC20: insufficient allowance"), types.ReasonInsufficientAllowance},
		{"revert string other", clienttest.RevertString("Pausable: paused"), types.ReasonGenericRevert},
		{"bare revert", nil, types.ReasonGenericRevert},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := clienttest.NewChain()
			chain.RevertWith = tt.data
			if tt.data == nil {
				chain.RevertWith = []byte{}
			}
			res, err := newSim(chain).Simulate(context.Background(), transferDraft(t, 1))
			require.NoError(t, err)
			require.NotNil(t, res)
			assert.False(t, res.Success)
			assert.Equal(t, tt.want, res.Reason)
		})
	}
}

func TestSimulateUnreachableNode(t *testing.T) {
	chain := clienttest.NewChain()
	chain.CallErr = errors.New("dial tcp 127.0.0.1:8545: connect: connection refused")

	res, err := newSim(chain).Simulate(context.Background(), transferDraft(t, 1))
	assert.NoError(t, err)
	assert.Nil(t, res)
}

func TestSimulateNoReader(t *testing.T) {
	d := transferDraft(t, 1)
	d.Network = "polygon"
	res, err := newSim(clienttest.NewChain()).Simulate(context.Background(), d)
	assert.NoError(t, err)
	assert.Nil(t, res)
}

func TestClassifyText(t *testing.T) {
	assert.Equal(t, types.ReasonInsufficientBalance, classifyText("insufficient funds for gas * price + value"))
	assert.Equal(t, types.ReasonInsufficientAllowance, classifyText("ERC20: transfer amount exceeds allowance"))
	assert.Equal(t, types.ReasonGenericRevert, classifyText("execution reverted"))
}
