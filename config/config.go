package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/vitwit/xpay/registry"
	"github.com/vitwit/xpay/types"
	"github.com/vitwit/xpay/utils"
)

const envPrefix = "XPAY_"

// TokenConfig adds or replaces a token on one network.
type TokenConfig struct {
	Symbol   string `yaml:"symbol" validate:"required"`
	Address  string `yaml:"address" validate:"required,eth_addr"`
	Decimals int32  `yaml:"decimals" validate:"gte=0,lte=36"`
}

// NetworkConfig overrides a built-in network or declares a new one.
type NetworkConfig struct {
	ChainID      int64         `yaml:"chain_id" validate:"gte=0"`
	DisplayName  string        `yaml:"display_name"`
	NativeSymbol string        `yaml:"native_symbol"`
	ExplorerURL  string        `yaml:"explorer_url" validate:"omitempty,url"`
	RPCURL       string        `yaml:"rpc_url" validate:"omitempty,url"`
	Router       string        `yaml:"router" validate:"omitempty,eth_addr"`
	BridgeDomain uint32        `yaml:"bridge_domain"`
	QuoteURL     string        `yaml:"quote_url" validate:"omitempty,url"`
	Bridging     *bool         `yaml:"bridging"`
	Testnet      bool          `yaml:"testnet"`
	Tokens       []TokenConfig `yaml:"tokens" validate:"dive"`
}

// StatusConfig points the tracker at the payment status source.
type StatusConfig struct {
	PollURL      string        `yaml:"poll_url" validate:"omitempty,url"`
	PushURL      string        `yaml:"push_url" validate:"omitempty,url"`
	PollInterval time.Duration `yaml:"poll_interval" validate:"gt=0"`
}

// Config is loaded once at process start.
type Config struct {
	LogLevel         string                   `yaml:"log_level" validate:"oneof=debug info warn error"`
	Scheme           string                   `yaml:"scheme" validate:"required,alpha"`
	FeeBufferPercent int64                    `yaml:"fee_buffer_percent" validate:"gte=0,lte=500"`
	GasBufferPercent int64                    `yaml:"gas_buffer_percent" validate:"gte=0,lte=500"`
	ArtifactTTL      time.Duration            `yaml:"artifact_ttl" validate:"gt=0"`
	RequestTimeout   time.Duration            `yaml:"request_timeout" validate:"gt=0"`
	QRSize           int                      `yaml:"qr_size" validate:"gte=0"`
	WalletURL        string                   `yaml:"wallet_url" validate:"omitempty,url"`
	MetricsAddr      string                   `yaml:"metrics_addr"`
	Status           StatusConfig             `yaml:"status"`
	Networks         map[string]NetworkConfig `yaml:"networks" validate:"dive"`
}

func Default() *Config {
	return &Config{
		LogLevel:         "info",
		Scheme:           "ethereum",
		FeeBufferPercent: 20,
		GasBufferPercent: 20,
		ArtifactTTL:      5 * time.Minute,
		RequestTimeout:   15 * time.Second,
		QRSize:           256,
		Status:           StatusConfig{PollInterval: 3 * time.Second},
		Networks:         map[string]NetworkConfig{},
	}
}

// Load reads envFiles (default ".env") into the environment without
// overriding variables already set, then the YAML file at path, then XPAY_*
// variables, and validates the result. A missing file yields defaults.
func Load(path string, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	if path == "" {
		path = os.Getenv(envPrefix + "CONFIG")
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := utils.Validator().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for id := range c.Networks {
		if id == "" || strings.ToLower(id) != id {
			return fmt.Errorf("invalid config: network id %q must be lower case", id)
		}
	}
	return nil
}

func applyEnv(c *Config) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(envPrefix + key)); v != "" {
			*dst = v
		}
	}
	var errs []error
	integer := func(key string, dst *int64) {
		v := strings.TrimSpace(os.Getenv(envPrefix + key))
		if v == "" {
			return
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
			return
		}
		*dst = n
	}
	duration := func(key string, dst *time.Duration) {
		v := strings.TrimSpace(os.Getenv(envPrefix + key))
		if v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
			return
		}
		*dst = d
	}

	str("LOG_LEVEL", &c.LogLevel)
	str("SCHEME", &c.Scheme)
	str("WALLET_URL", &c.WalletURL)
	str("METRICS_ADDR", &c.MetricsAddr)
	str("STATUS_URL", &c.Status.PollURL)
	str("PUSH_URL", &c.Status.PushURL)
	integer("FEE_BUFFER_PERCENT", &c.FeeBufferPercent)
	integer("GAS_BUFFER_PERCENT", &c.GasBufferPercent)
	duration("ARTIFACT_TTL", &c.ArtifactTTL)
	duration("REQUEST_TIMEOUT", &c.RequestTimeout)
	duration("POLL_INTERVAL", &c.Status.PollInterval)

	// XPAY_RPC_BASE_SEPOLIA=https://... sets networks.base-sepolia.rpc_url
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, envPrefix+"RPC_") || value == "" {
			continue
		}
		id := strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(key, envPrefix+"RPC_")), "_", "-")
		if c.Networks == nil {
			c.Networks = map[string]NetworkConfig{}
		}
		n := c.Networks[id]
		n.RPCURL = value
		c.Networks[id] = n
	}
	return errors.Join(errs...)
}

// Overrides converts the network section for registry.New, in id order.
func (c *Config) Overrides() []registry.Override {
	ids := make([]string, 0, len(c.Networks))
	for id := range c.Networks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]registry.Override, 0, len(ids))
	for _, id := range ids {
		n := c.Networks[id]
		o := registry.Override{
			ID:               types.NetworkID(id),
			DisplayName:      n.DisplayName,
			NativeSymbol:     n.NativeSymbol,
			ExplorerURL:      n.ExplorerURL,
			SupportsBridging: n.Bridging,
			BridgeDomain:     n.BridgeDomain,
			QuoteURL:         n.QuoteURL,
			Testnet:          n.Testnet,
		}
		if n.ChainID > 0 {
			o.ChainID = big.NewInt(n.ChainID)
		}
		if n.Router != "" {
			o.Router = common.HexToAddress(n.Router)
		}
		for _, t := range n.Tokens {
			o.Tokens = append(o.Tokens, types.TokenInfo{
				Symbol:   t.Symbol,
				Address:  common.HexToAddress(t.Address),
				Decimals: t.Decimals,
			})
		}
		out = append(out, o)
	}
	return out
}

// RPCURLs lists the configured node endpoints per network.
func (c *Config) RPCURLs() map[types.NetworkID]string {
	out := make(map[types.NetworkID]string)
	for id, n := range c.Networks {
		if n.RPCURL != "" {
			out[types.NetworkID(id)] = n.RPCURL
		}
	}
	return out
}
