package xpay

import (
	"time"

	"github.com/vitwit/xpay/clients"
	"github.com/vitwit/xpay/logger"
	"github.com/vitwit/xpay/metrics"
	"github.com/vitwit/xpay/tracking"
	"github.com/vitwit/xpay/types"
)

type Option func(*XPay)

func WithLogger(l logger.Logger) Option {
	return func(x *XPay) {
		x.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(x *XPay) {
		x.metrics = r
	}
}

func WithTimeout(t time.Duration) Option {
	return func(x *XPay) {
		x.timeout = t
	}
}

// WithWallet replaces the wallet dialed from the config's wallet_url.
func WithWallet(w clients.Wallet) Option {
	return func(x *XPay) {
		x.wallet = w
	}
}

// WithReader uses r for network instead of dialing its rpc_url.
func WithReader(network types.NetworkID, r clients.ChainReader) Option {
	return func(x *XPay) {
		x.readers[network] = r
	}
}

func WithClock(now func() time.Time) Option {
	return func(x *XPay) {
		x.now = now
	}
}

func WithTrackerOptions(opts ...tracking.Option) Option {
	return func(x *XPay) {
		x.trackerOpts = append(x.trackerOpts, opts...)
	}
}
