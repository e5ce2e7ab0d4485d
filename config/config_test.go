package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/xpay/registry"
	"github.com/vitwit/xpay/types"
)

const sample = `
log_level: debug
fee_buffer_percent: 25
artifact_ttl: 10m
status:
  poll_url: https://status.example.com
  poll_interval: 2s
networks:
  base:
    router: "0x9999999999999999999999999999999999999999"
    quote_url: https://quotes.example.com/base
    rpc_url: https://base.example.com
  devnet:
    chain_id: 424242
    display_name: Devnet
    bridging: true
    bridge_domain: 7
    tokens:
      - symbol: usdc
        address: "0x5555555555555555555555555555555555555555"
        decimals: 6
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := Load("", filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, int64(20), cfg.FeeBufferPercent)
	assert.Equal(t, 5*time.Minute, cfg.ArtifactTTL)
	assert.Equal(t, 3*time.Second, cfg.Status.PollInterval)
	assert.Equal(t, "ethereum", cfg.Scheme)
}

func TestLoadYAML(t *testing.T) {
	cfg, err := Load(writeFile(t, "xpay.yaml", sample), filepath.Join(t.TempDir(), "none"))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, int64(25), cfg.FeeBufferPercent)
	assert.Equal(t, 10*time.Minute, cfg.ArtifactTTL)
	assert.Equal(t, 2*time.Second, cfg.Status.PollInterval)
	assert.Equal(t, "https://base.example.com", cfg.RPCURLs()[registry.Base])

	reg, err := registry.New(cfg.Overrides()...)
	require.NoError(t, err)

	route, ok := reg.Route(registry.Base)
	require.True(t, ok)
	assert.Equal(t, "0x9999999999999999999999999999999999999999", route.Router.Hex())
	assert.Equal(t, "https://quotes.example.com/base", reg.QuoteURL(registry.Base))

	dev, ok := reg.Get("devnet")
	require.True(t, ok)
	assert.Equal(t, int64(424242), dev.ChainID.Int64())
	assert.True(t, dev.SupportsBridging)
	assert.Equal(t, uint32(7), dev.BridgeDomain)

	tok, ok := reg.Token("devnet", "USDC")
	require.True(t, ok)
	assert.Equal(t, int32(6), tok.Decimals)
}

func TestEnvOverrides(t *testing.T) {
	envFile := writeFile(t, ".env", "XPAY_POLL_INTERVAL=750ms\nXPAY_FEE_BUFFER_PERCENT=99\n")
	// registers restoration of the variable godotenv is about to set
	t.Setenv("XPAY_POLL_INTERVAL", "")
	require.NoError(t, os.Unsetenv("XPAY_POLL_INTERVAL"))
	t.Setenv("XPAY_FEE_BUFFER_PERCENT", "30")
	t.Setenv("XPAY_RPC_BASE_SEPOLIA", "https://sepolia.base.example.com")

	cfg, err := Load(writeFile(t, "xpay.yaml", sample), envFile)
	require.NoError(t, err)

	assert.Equal(t, int64(30), cfg.FeeBufferPercent)
	assert.Equal(t, 750*time.Millisecond, cfg.Status.PollInterval)
	assert.Equal(t, "https://sepolia.base.example.com", cfg.RPCURLs()[types.NetworkID("base-sepolia")])
}

func TestInvalidConfig(t *testing.T) {
	cases := map[string]string{
		"bad level":  "log_level: loud\n",
		"bad router": "networks:\n  base:\n    router: nope\n",
		"bad ttl":    "artifact_ttl: 0s\n",
		"upper id":   "networks:\n  Base: {}\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, "xpay.yaml", body), filepath.Join(t.TempDir(), "none"))
			assert.Error(t, err)
		})
	}
}

func TestBadEnvValue(t *testing.T) {
	t.Setenv("XPAY_ARTIFACT_TTL", "five minutes")
	_, err := Load("", filepath.Join(t.TempDir(), "none"))
	assert.ErrorContains(t, err, "XPAY_ARTIFACT_TTL")
}
