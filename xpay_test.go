package xpay

import (
	"context"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/xpay/clients/clienttest"
	"github.com/vitwit/xpay/config"
	"github.com/vitwit/xpay/events"
	"github.com/vitwit/xpay/registry"
	"github.com/vitwit/xpay/types"
)

var (
	payer  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	payee  = common.HexToAddress("0x2222222222222222222222222222222222222222")
	router = common.HexToAddress("0x9999999999999999999999999999999999999999")
)

func newTestXPay(t *testing.T) (*XPay, *clienttest.Chain) {
	t.Helper()
	cfg := config.Default()
	cfg.Status.PollInterval = time.Millisecond
	cfg.Networks["base"] = config.NetworkConfig{Router: router.Hex()}

	chain := clienttest.NewChain()
	chain.QuoteFee = big.NewInt(1_000_000_000_000_000)
	chain.SetBalance(payer, big.NewInt(100_000_000))

	wallet := clienttest.NewWallet(payer, 8453)
	wallet.Ledger = chain

	now := time.Unix(1_700_000_000, 0)
	x, err := New(context.Background(), cfg,
		WithWallet(wallet),
		WithReader(registry.Base, chain),
		WithReader(registry.Polygon, chain),
		WithClock(func() time.Time { return now }),
	)
	require.NoError(t, err)
	t.Cleanup(x.Close)
	return x, chain
}

func TestPrepareSendTrack(t *testing.T) {
	x, _ := newTestXPay(t)

	var seen []events.Type
	unsubscribe := x.Subscribe(func(e events.Event) { seen = append(seen, e.Type) },
		events.ArtifactIssued, events.TransactionSent, events.IntentTerminated)
	defer unsubscribe()

	intent, err := x.Prepare(context.Background(), types.PaymentTarget{
		PayeeID:   "merchant-1",
		Recipient: payee.Hex(),
		Network:   registry.Base,
		Amount:    decimal.RequireFromString("12.5"),
		Token:     "USDC",
	})
	require.NoError(t, err)
	assert.Equal(t, types.ModeSameChain, intent.Mode)
	assert.Equal(t, types.StageEncoded, intent.Stage)
	require.NotNil(t, intent.Artifact)
	assert.True(t, strings.HasPrefix(intent.Artifact.URI, "ethereum:"))
	assert.Len(t, x.Active(), 1)

	hash, err := x.Send(context.Background(), intent.ID)
	require.NoError(t, err)

	res, err := x.Track(context.Background(), intent.ID, "")
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, res.Status)

	_, ok := x.Get(intent.ID)
	assert.False(t, ok)
	assert.Empty(t, x.Active())
	assert.Equal(t, []events.Type{events.ArtifactIssued, events.TransactionSent, events.IntentTerminated}, seen)
	assert.NotEqual(t, common.Hash{}, hash)
}

func TestQuoteFee(t *testing.T) {
	x, _ := newTestXPay(t)

	fee, err := x.QuoteFee(context.Background(), registry.Base, registry.Polygon, "USDC", decimal.NewFromInt(10), payee)
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000", fee.Raw.String())
	assert.Equal(t, "1200000000000000", fee.Buffered.String())

	_, err = x.QuoteFee(context.Background(), registry.Base, registry.Polygon, "DAI", decimal.NewFromInt(10), payee)
	assert.Equal(t, types.KindPrecondition, types.KindOf(err))
}

func TestSelectModeAndEncodeTarget(t *testing.T) {
	x, _ := newTestXPay(t)

	assert.Equal(t, types.ModeSameChain, x.SelectMode(registry.Base, registry.Base).Mode)
	assert.Equal(t, types.ModeCrossChain, x.SelectMode(registry.Base, registry.Polygon).Mode)

	art, err := x.EncodeTarget(types.PaymentTarget{
		PayeeID:   "merchant-1",
		Recipient: payee.Hex(),
		Network:   registry.Polygon,
		Amount:    decimal.NewFromInt(3),
		Token:     "USDC",
	})
	require.NoError(t, err)
	assert.Contains(t, art.URI, "@137/transfer")
	assert.NotEmpty(t, art.QRCode)
}

func TestNewRejectsUnknownRPCNetwork(t *testing.T) {
	cfg := config.Default()
	cfg.Networks["nowhere"] = config.NetworkConfig{RPCURL: "http://127.0.0.1:1"}

	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestGetVersion(t *testing.T) {
	v := GetVersion()
	assert.Equal(t, Version, v["library_version"])
	assert.Contains(t, v["supported_networks"], string(registry.Base))
}

func TestTrackOrder(t *testing.T) {
	x, chain := newTestXPay(t)
	hash := common.HexToHash("0xabc1")
	chain.SetReceipt(hash, false)

	res, err := x.TrackOrder(context.Background(), registry.Base, hash.Hex(), time.Unix(1_700_000_060, 0))
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, res.Status)

	_, err = x.TrackOrder(context.Background(), registry.Base, "order-1", time.Unix(1_700_000_060, 0))
	assert.Equal(t, types.KindTransport, types.KindOf(err))
}
