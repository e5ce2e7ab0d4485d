// Package xpay orchestrates EVM stablecoin payments between a payer's wallet
// network and a payee's settlement network: it routes, quotes bridge fees,
// builds and simulates the transaction, manages spending approvals, encodes a
// shareable payment link and tracks the payment to a terminal status.
package xpay

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/vitwit/xpay/allowance"
	"github.com/vitwit/xpay/builder"
	"github.com/vitwit/xpay/clients"
	"github.com/vitwit/xpay/config"
	"github.com/vitwit/xpay/encoding"
	"github.com/vitwit/xpay/events"
	"github.com/vitwit/xpay/fees"
	"github.com/vitwit/xpay/logger"
	"github.com/vitwit/xpay/metrics"
	"github.com/vitwit/xpay/orchestrator"
	"github.com/vitwit/xpay/registry"
	"github.com/vitwit/xpay/routing"
	"github.com/vitwit/xpay/simulation"
	"github.com/vitwit/xpay/tracking"
	"github.com/vitwit/xpay/types"
	"github.com/vitwit/xpay/utils"
)

// XPay wires the pipeline from a Config.
type XPay struct {
	config       *config.Config
	registry     *registry.Registry
	readers      clients.Readers
	wallet       clients.Wallet
	estimator    *fees.Estimator
	encoder      *encoding.Encoder
	orchestrator *orchestrator.Orchestrator
	transports   orchestrator.TransportFactory
	bus          *events.Bus

	logger      logger.Logger
	metrics     metrics.Recorder
	timeout     time.Duration
	now         func() time.Time
	trackerOpts []tracking.Option

	closers []func()
}

// New dials every configured node and the wallet endpoint, if any. A nil cfg
// uses config.Default.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*XPay, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	x := &XPay{
		config:  cfg,
		readers: clients.Readers{},
		logger:  logger.NoopLogger{},
		metrics: metrics.NoopRecorder{},
		timeout: cfg.RequestTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(x)
	}
	if x.timeout <= 0 {
		x.timeout = 30 * time.Second
	}

	reg, err := registry.New(cfg.Overrides()...)
	if err != nil {
		return nil, fmt.Errorf("failed to build network registry: %w", err)
	}
	x.registry = reg

	if err := x.dialNodes(ctx); err != nil {
		x.Close()
		return nil, err
	}
	if x.wallet == nil && cfg.WalletURL != "" {
		w, err := clients.DialWallet(ctx, cfg.WalletURL)
		if err != nil {
			x.Close()
			return nil, err
		}
		x.wallet = w
		x.closers = append(x.closers, w.Close)
	}

	x.assemble()
	x.logger.Info("xpay ready", map[string]any{
		"networks": len(reg.All()),
		"nodes":    len(x.readers),
		"wallet":   x.wallet != nil,
	})
	return x, nil
}

func (x *XPay) dialNodes(ctx context.Context) error {
	for id, url := range x.config.RPCURLs() {
		if _, injected := x.readers[id]; injected {
			continue
		}
		desc, ok := x.registry.Get(id)
		if !ok {
			return fmt.Errorf("rpc url configured for unknown network %s", id)
		}

		dialCtx, cancel := context.WithTimeout(ctx, x.timeout)
		client, err := clients.Dial(dialCtx, url, desc.ChainID)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to add network %s: %w", id, err)
		}
		x.closers = append(x.closers, client.Close)
		x.readers[id] = clients.NewRetryingReader(client, clients.DefaultRetryConfig())
		x.logger.Debug("node connected", map[string]any{"network": id, "chain_id": desc.ChainID.String()})
	}
	return nil
}

func (x *XPay) assemble() {
	cfg := x.config
	http := clients.NewHTTPClient("xpay", x.timeout, x.logger)

	x.estimator = fees.NewEstimator(x.registry,
		[]fees.Quoter{fees.NewRouterQuoter(x.registry, x.readers), fees.NewEndpointQuoter(x.registry, http)},
		fees.WithBufferPercent(cfg.FeeBufferPercent),
		fees.WithClock(x.now),
		fees.WithLogger(x.logger),
		fees.WithMetrics(x.metrics),
	)
	x.encoder = encoding.New(x.registry,
		encoding.WithScheme(cfg.Scheme),
		encoding.WithTTL(cfg.ArtifactTTL),
		encoding.WithQRSize(cfg.QRSize),
		encoding.WithClock(x.now),
	)

	gate := clients.NewSigningGate()
	b := builder.New(x.registry, x.readers, builder.DefaultGasConfig(), x.logger)
	x.bus = events.NewBus(x.logger)
	x.transports = orchestrator.DefaultTransports(orchestrator.StatusEndpoints{
		PushURL:      cfg.Status.PushURL,
		PollURL:      cfg.Status.PollURL,
		PollInterval: cfg.Status.PollInterval,
		HTTP:         http,
		Readers:      x.readers,
		Log:          x.logger,
	})

	// New only fails on missing components, all of which are set here
	x.orchestrator, _ = orchestrator.New(orchestrator.Components{
		Registry:   x.registry,
		Wallet:     x.wallet,
		Gate:       gate,
		Detector:   routing.NewDetector(x.wallet, x.registry),
		Selector:   routing.NewSelector(x.registry),
		Fees:       x.estimator,
		Builder:    b,
		Allowance:  allowance.NewGuard(b, x.readers, x.wallet, gate, allowance.WithLogger(x.logger), allowance.WithMetrics(x.metrics)),
		Simulator:  simulation.New(x.readers, cfg.GasBufferPercent, x.logger, x.metrics),
		Encoder:    x.encoder,
		Transports: x.transports,
	},
		orchestrator.WithBus(x.bus),
		orchestrator.WithClock(x.now),
		orchestrator.WithLogger(x.logger),
		orchestrator.WithMetrics(x.metrics),
		orchestrator.WithTrackerOptions(x.trackerOpts...),
	)
}

// Prepare runs a new payment up to an issued artifact.
func (x *XPay) Prepare(ctx context.Context, target types.PaymentTarget) (*types.PaymentIntent, error) {
	return x.orchestrator.Prepare(ctx, target)
}

// Proceed continues past a failed simulation when acknowledgeRisk is set.
func (x *XPay) Proceed(ctx context.Context, intentID string, acknowledgeRisk bool) (*types.PaymentIntent, error) {
	return x.orchestrator.Proceed(ctx, intentID, acknowledgeRisk)
}

// Retry reruns an intent that stopped on a recoverable error.
func (x *XPay) Retry(ctx context.Context, intentID string) (*types.PaymentIntent, error) {
	return x.orchestrator.Retry(ctx, intentID)
}

// Send hands the prepared transaction to the connected wallet.
func (x *XPay) Send(ctx context.Context, intentID string) (common.Hash, error) {
	return x.orchestrator.Send(ctx, intentID)
}

// Track follows the payment until it is terminal or its artifact expires.
func (x *XPay) Track(ctx context.Context, intentID, orderID string) (*tracking.Result, error) {
	return x.orchestrator.Track(ctx, intentID, orderID)
}

// TrackOrder follows an order that was not prepared by this process, such as
// one paid from a shared link. A transaction hash order id on network is also
// followed through its receipt.
func (x *XPay) TrackOrder(ctx context.Context, network types.NetworkID, orderID string, expiresAt time.Time) (*tracking.Result, error) {
	if orderID == "" {
		return nil, types.NewPreconditionError(types.ErrInvalidTarget, "order id is required", types.RemedyNone)
	}
	primary, fallback := x.transports(&types.PaymentIntent{PayerNetwork: network, PayeeNetwork: network}, orderID)
	if primary == nil {
		return nil, types.NewTransportError("no status transport configured", nil)
	}

	opts := append([]tracking.Option{
		tracking.WithBus(x.bus),
		tracking.WithClock(x.now),
		tracking.WithLogger(x.logger),
		tracking.WithMetrics(x.metrics),
	}, x.trackerOpts...)
	return tracking.NewTracker(primary, fallback, opts...).Track(ctx, tracking.Request{
		OrderID:   orderID,
		Network:   network,
		ExpiresAt: expiresAt,
	})
}

// Cancel discards an intent and stops anything running for it.
func (x *XPay) Cancel(intentID string) error {
	return x.orchestrator.Cancel(intentID)
}

func (x *XPay) Get(intentID string) (*types.PaymentIntent, bool) {
	return x.orchestrator.Get(intentID)
}

func (x *XPay) Active() []*types.PaymentIntent {
	return x.orchestrator.Active()
}

// Subscribe registers handler for the given event types, or all of them.
func (x *XPay) Subscribe(handler events.Handler, kinds ...events.Type) func() {
	return x.bus.Subscribe(handler, kinds...)
}

func (x *XPay) Registry() *registry.Registry {
	return x.registry
}

// SelectMode reports how a payer on payer would pay a payee on payee.
func (x *XPay) SelectMode(payer, payee types.NetworkID) routing.Decision {
	return routing.NewSelector(x.registry).Select(payer, payee)
}

// QuoteFee quotes the bridge fee for moving amount of token from payer to
// recipient on payee.
func (x *XPay) QuoteFee(ctx context.Context, payer, payee types.NetworkID, token string, amount decimal.Decimal, recipient common.Address) (*types.FeeEstimate, error) {
	info, ok := x.registry.Token(payer, token)
	if !ok {
		return nil, types.NewPreconditionError(types.ErrUnknownToken, fmt.Sprintf("token %s is not configured on %s", token, payer), types.RemedyNone)
	}
	units, err := utils.ToBaseUnits(amount, info.Decimals)
	if err != nil {
		return nil, types.NewPreconditionError(types.ErrInvalidTarget, err.Error(), types.RemedyNone)
	}

	ctx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()
	return x.estimator.EstimateFee(ctx, payer, payee, units, recipient)
}

// EncodeTarget issues a direct-transfer artifact on the payee's network for
// payers without a connected wallet.
func (x *XPay) EncodeTarget(target types.PaymentTarget) (*types.PaymentArtifact, error) {
	return x.encoder.EncodeTarget(target)
}

// Close cancels in-flight intents and closes node and wallet connections.
func (x *XPay) Close() {
	if x.orchestrator != nil {
		x.orchestrator.Close()
	}
	for i := len(x.closers) - 1; i >= 0; i-- {
		x.closers[i]()
	}
	x.closers = nil
}

const Version = "0.3.0"

// GetVersion returns version information.
func GetVersion() map[string]any {
	reg, _ := registry.New()
	networks := make([]string, 0)
	if reg != nil {
		for _, d := range reg.All() {
			networks = append(networks, string(d.ID))
		}
	}
	return map[string]any{
		"library_version":    Version,
		"uri_scheme":         encoding.DefaultScheme,
		"supported_networks": networks,
		"supported_modes": []string{
			string(types.ModeSameChain), string(types.ModeCrossChain), string(types.ModeSwitchNetwork),
		},
	}
}
