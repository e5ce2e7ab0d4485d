package clients

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/xpay/logger"
	"github.com/vitwit/xpay/types"
)

var (
	alice  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	bob    = common.HexToAddress("0x2222222222222222222222222222222222222222")
	router = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

func TestTokenCallRoundTrip(t *testing.T) {
	data, err := PackTransfer(bob, big.NewInt(10_000_000))
	require.NoError(t, err)
	assert.Equal(t, "a9059cbb", common.Bytes2Hex(data[:4]))

	method, to, amount, err := DecodeTokenCall(data)
	require.NoError(t, err)
	assert.Equal(t, "transfer", method)
	assert.Equal(t, bob, to)
	assert.Equal(t, int64(10_000_000), amount.Int64())

	data, err = PackApprove(router, big.NewInt(5))
	require.NoError(t, err)
	method, spender, _, err := DecodeTokenCall(data)
	require.NoError(t, err)
	assert.Equal(t, "approve", method)
	assert.Equal(t, router, spender)

	_, _, _, err = DecodeTokenCall([]byte{0x01})
	assert.Error(t, err)
}

func TestTransferRemoteRoundTrip(t *testing.T) {
	recipient := common.BytesToHash(bob.Bytes())
	data, err := PackTransferRemote(8453, recipient, big.NewInt(5_000_000))
	require.NoError(t, err)

	domain, gotRecipient, amount, err := DecodeTransferRemote(data)
	require.NoError(t, err)
	assert.Equal(t, uint32(8453), domain)
	assert.Equal(t, recipient, gotRecipient)
	assert.Equal(t, int64(5_000_000), amount.Int64())

	transfer, _ := PackTransfer(bob, big.NewInt(1))
	_, _, _, err = DecodeTransferRemote(transfer)
	assert.Error(t, err)
}

type userRejection struct{}

func (userRejection) Error() string {
	return "MetaMask Tx Signature: User denied transaction signature."
}
func (userRejection) ErrorCode() int { return CodeUserRejected }

func TestNormalizeWalletError(t *testing.T) {
	assert.Nil(t, NormalizeWalletError(nil))
	assert.ErrorIs(t, NormalizeWalletError(userRejection{}), ErrUserRejected)
	assert.ErrorIs(t, NormalizeWalletError(errors.New("Request closed by the popup")), ErrUserRejected)
	assert.ErrorIs(t, NormalizeWalletError(errors.New("User rejected the request.")), ErrUserRejected)

	other := errors.New("insufficient funds for gas")
	assert.Equal(t, other, NormalizeWalletError(other))
}

func TestStaticWallet(t *testing.T) {
	w := &StaticWallet{Account: alice, Chain: big.NewInt(8453)}
	accts, err := w.RequestAccounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []common.Address{alice}, accts)

	_, err = w.SendTransaction(context.Background(), &types.TransactionDraft{})
	assert.ErrorIs(t, err, ErrReadOnlyWallet)

	_, err = (&StaticWallet{}).ChainID(context.Background())
	assert.ErrorIs(t, err, ErrNoWallet)
}

type walletService struct {
	reject bool
	last   map[string]any
}

func (s *walletService) RequestAccounts() []common.Address {
	return []common.Address{alice}
}

func (s *walletService) ChainId() *hexutil.Big {
	return (*hexutil.Big)(big.NewInt(84532))
}

func (s *walletService) SendTransaction(args map[string]any) (common.Hash, error) {
	if s.reject {
		return common.Hash{}, userRejection{}
	}
	s.last = args
	return common.HexToHash("0xabc"), nil
}

func TestRPCWallet(t *testing.T) {
	svc := &walletService{}
	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("eth", svc))
	defer server.Stop()

	w := NewRPCWallet(rpc.DialInProc(server))
	defer w.Close()
	ctx := context.Background()

	accts, err := w.RequestAccounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, alice, accts[0])

	id, err := w.ChainID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(84532), id.Int64())

	draft := &types.TransactionDraft{
		From:      alice,
		To:        router,
		Value:     big.NewInt(1200),
		Data:      []byte{0xde, 0xad},
		Gas:       90000,
		GasFeeCap: big.NewInt(3),
		GasTipCap: big.NewInt(1),
		ChainID:   big.NewInt(84532),
	}
	hash, err := w.SendTransaction(ctx, draft)
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0xabc"), hash)
	assert.Equal(t, "0x4b0", svc.last["value"])
	assert.Equal(t, "0xdead", svc.last["data"])

	svc.reject = true
	_, err = w.SendTransaction(ctx, draft)
	assert.ErrorIs(t, err, ErrUserRejected)
}

type flakyReader struct {
	ChainReader
	failures int32
	calls    int32
	err      error
}

func (f *flakyReader) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if n <= f.failures {
		return nil, f.err
	}
	return []byte{1}, nil
}

func (f *flakyReader) TransactionReceipt(context.Context, common.Hash) (*gethtypes.Receipt, error) {
	atomic.AddInt32(&f.calls, 1)
	return nil, ethereum.NotFound
}

func TestRetryingReader(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}

	flaky := &flakyReader{failures: 2, err: errors.New("429 Too Many Requests")}
	out, err := NewRetryingReader(flaky, cfg).CallContract(context.Background(), ethereum.CallMsg{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, out)
	assert.Equal(t, int32(3), flaky.calls)

	reverting := &flakyReader{failures: 5, err: errors.New("execution reverted")}
	_, err = NewRetryingReader(reverting, cfg).CallContract(context.Background(), ethereum.CallMsg{}, nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), reverting.calls)

	missing := &flakyReader{}
	_, err = NewRetryingReader(missing, cfg).TransactionReceipt(context.Background(), common.Hash{})
	assert.ErrorIs(t, err, ethereum.NotFound)
	assert.Equal(t, int32(1), missing.calls)
}

func TestReadersGet(t *testing.T) {
	r := Readers{"base": &flakyReader{}}
	_, err := r.Get("base")
	assert.NoError(t, err)
	_, err = r.Get("polygon")
	assert.Error(t, err)
}

func TestHTTPClientRetries(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"fee":"1000"}`))
	}))
	defer srv.Close()

	cfg := DefaultHTTPRetryConfig()
	cfg.InitialBackoff = time.Millisecond
	c := NewHTTPClientWithRetry("test", time.Second, cfg, logger.NoopLogger{})

	var out struct {
		Fee string `json:"fee"`
	}
	require.NoError(t, c.GetJSON(context.Background(), srv.URL, &out))
	assert.Equal(t, "1000", out.Fee)
	assert.Equal(t, int32(2), hits)
}

func TestHTTPClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown order", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewHTTPClient("test", time.Second, nil)
	err := c.GetJSON(context.Background(), srv.URL, &struct{}{})

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)
}
