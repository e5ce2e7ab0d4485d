package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/xpay"
	"github.com/vitwit/xpay/clients/clienttest"
	"github.com/vitwit/xpay/registry"
	"github.com/vitwit/xpay/types"
)

var (
	payer  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	payee  = common.HexToAddress("0x2222222222222222222222222222222222222222")
	router = common.HexToAddress("0x9999999999999999999999999999999999999999")
)

type env struct {
	chain  *clienttest.Chain
	wallet *clienttest.Wallet
	dir    string
}

// newEnv points the CLI at a config file and at fake nodes for Base and
// Polygon. The wallet is only connected when withWallet is set.
func newEnv(t *testing.T, pollURL string, withWallet bool) *env {
	t.Helper()
	dir := t.TempDir()

	cfg := fmt.Sprintf("networks:\n  base:\n    router: %q\nstatus:\n  poll_interval: 1ms\n", router.Hex())
	if pollURL != "" {
		cfg += fmt.Sprintf("  poll_url: %q\n", pollURL)
	}
	path := filepath.Join(dir, "xpay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	t.Setenv("XPAY_CONFIG", path)

	chain := clienttest.NewChain()
	chain.QuoteFee = big.NewInt(1_000_000_000_000_000)
	chain.SetBalance(payer, big.NewInt(100_000_000))

	wallet := clienttest.NewWallet(payer, 8453)
	wallet.Ledger = chain

	sessionOptions = []xpay.Option{
		xpay.WithReader(registry.Base, chain),
		xpay.WithReader(registry.Polygon, chain),
	}
	if withWallet {
		sessionOptions = append(sessionOptions, xpay.WithWallet(wallet))
	}
	t.Cleanup(func() { sessionOptions = nil })

	return &env{chain: chain, wallet: wallet, dir: dir}
}

func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	if os.Getenv("XPAY_CONFIG") == "" {
		t.Setenv("XPAY_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	}
	resetFlags(rootCmd)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "none.env")))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestNetworksCommand(t *testing.T) {
	out, err := run(t, "networks")
	require.NoError(t, err)
	assert.Contains(t, out, "base")
	assert.Contains(t, out, "8453")
	assert.NotContains(t, out, "base-sepolia")

	out, err = run(t, "networks", "--testnets")
	require.NoError(t, err)
	assert.Contains(t, out, "base-sepolia")
}

func TestModeCommand(t *testing.T) {
	out, err := run(t, "mode", "--from", "base", "--to", "base")
	require.NoError(t, err)
	assert.Contains(t, out, "mode:   same-chain")

	out, err = run(t, "mode", "--from", "base", "--to", "gnosis")
	require.NoError(t, err)
	assert.Contains(t, out, "mode:   switch-network")
	assert.Contains(t, out, "switch: Gnosis (chain 100)")

	_, err = run(t, "mode", "--from", "base", "--to", "nowhere")
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)

	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "ethereum", info["uri_scheme"])
}

func TestQuoteCommand(t *testing.T) {
	newEnv(t, "", false)

	out, err := run(t, "quote", "--from", "base", "--to", "polygon", "--amount", "10", "--recipient", payee.Hex())
	require.NoError(t, err)
	assert.Contains(t, out, "fee:      0.0012 ETH (quoted 1000000000000000, +20%)")
	assert.Contains(t, out, "source:   router")

	_, err = run(t, "quote", "--from", "base", "--to", "polygon", "--amount", "10", "--recipient", "nope")
	assert.Error(t, err)
}

func TestPrepareWithoutWalletIssuesDirectLink(t *testing.T) {
	e := newEnv(t, "", false)
	qr := filepath.Join(e.dir, "pay.png")

	out, err := run(t, "prepare", "--payee", "merchant-1", "--recipient", payee.Hex(),
		"--network", "polygon", "--amount", "3", "--qr", qr)
	require.NoError(t, err)
	assert.Contains(t, out, "no wallet connected, issued a direct transfer link")
	assert.Contains(t, out, "@137/transfer?")
	assert.Contains(t, out, "uint256=3000000")

	png, err := os.ReadFile(qr)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))
}

func TestPrepareSendAndTrack(t *testing.T) {
	e := newEnv(t, "", true)

	out, err := run(t, "prepare", "--payee", "merchant-1", "--recipient", payee.Hex(),
		"--network", "base", "--amount", "10", "--send", "--track")
	require.NoError(t, err)
	assert.Contains(t, out, "mode:   same-chain (base -> base)")
	assert.Contains(t, out, "tx:     0x")
	assert.Contains(t, out, "status: completed via receipt")
	assert.Equal(t, []types.DraftPurpose{types.PurposePayment}, e.wallet.SentPurposes())
}

func TestPrepareAcknowledgeRisk(t *testing.T) {
	e := newEnv(t, "", true)
	e.chain.SetBalance(payer, big.NewInt(0))
	args := []string{"prepare", "--payee", "merchant-1", "--recipient", payee.Hex(), "--network", "base", "--amount", "10"}

	_, err := run(t, args...)
	require.Error(t, err)
	assert.Equal(t, types.KindSimulation, types.KindOf(err))
	assert.Contains(t, err.Error(), "remedy: top_up_balance")

	out, err := run(t, append(args, "--acknowledge-risk")...)
	require.NoError(t, err)
	assert.Contains(t, out, "link:   ethereum:")
}

func TestPrepareForReadOnlyPayer(t *testing.T) {
	e := newEnv(t, "", false)

	out, err := run(t, "prepare", "--payee", "merchant-1", "--recipient", payee.Hex(),
		"--network", "base", "--amount", "10", "--payer", payer.Hex(), "--payer-network", "base", "--send")
	require.NoError(t, err)
	assert.Contains(t, out, "link:   ethereum:")
	assert.NotContains(t, out, "tx:")
	assert.Empty(t, e.wallet.SentPurposes())

	_, err = run(t, "prepare", "--payee", "merchant-1", "--recipient", payee.Hex(),
		"--network", "base", "--amount", "10", "--payer", payer.Hex())
	assert.Error(t, err)
}

func TestPrepareFromTargetFile(t *testing.T) {
	e := newEnv(t, "", true)
	file := filepath.Join(e.dir, "target.json")
	body := fmt.Sprintf(`{"payeeId":"merchant-1","recipient":%q,"network":"base","amount":"2.5","token":"USDC"}`, payee.Hex())
	require.NoError(t, os.WriteFile(file, []byte(body), 0o600))

	out, err := run(t, "prepare", "--target-file", file)
	require.NoError(t, err)
	assert.Contains(t, out, "uint256=2500000")

	require.NoError(t, os.WriteFile(file, []byte(`{"payeeId":"merchant-1"`), 0o600))
	_, err = run(t, "prepare", "--target-file", file)
	assert.Equal(t, types.KindPrecondition, types.KindOf(err))
}

func TestTrackCommandPoll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status/order-9" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"orderId":"order-9","status":"succeeded"}`))
	}))
	defer srv.Close()
	newEnv(t, srv.URL, false)

	out, err := run(t, "track", "order-9", "--timeout", "1m")
	require.NoError(t, err)
	assert.Contains(t, out, "status:  completed")
	assert.Contains(t, out, "via:     poll")
}

func TestTrackCommandReceipt(t *testing.T) {
	e := newEnv(t, "", false)
	hash := common.HexToHash("0xbeef")
	e.chain.SetReceipt(hash, false)

	out, err := run(t, "track", hash.Hex(), "--network", "base", "--timeout", "1m")
	require.NoError(t, err)
	assert.Contains(t, out, "status:  failed")

	_, err = run(t, "track", "order-1")
	assert.Equal(t, types.KindTransport, types.KindOf(err))
}
