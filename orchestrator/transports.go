package orchestrator

import (
	"time"

	"github.com/vitwit/xpay/clients"
	"github.com/vitwit/xpay/logger"
	"github.com/vitwit/xpay/tracking"
	"github.com/vitwit/xpay/types"
	"github.com/vitwit/xpay/utils"
)

// TransportFactory picks the primary and fallback status transports for one
// tracking session. Either may be nil.
type TransportFactory func(p *types.PaymentIntent, orderID string) (primary, fallback tracking.StatusTransport)

// StatusEndpoints configures DefaultTransports.
type StatusEndpoints struct {
	PushURL          string
	PollURL          string
	PollInterval     time.Duration
	HandshakeTimeout time.Duration
	HTTP             *clients.HTTPClient
	Readers          clients.Readers
	Log              logger.Logger
}

// DefaultTransports prefers the push channel, then polling of the status
// endpoint, then the chain receipt when the order id is a transaction hash.
// The first two available become primary and fallback.
func DefaultTransports(ep StatusEndpoints) TransportFactory {
	if ep.HandshakeTimeout <= 0 {
		ep.HandshakeTimeout = 10 * time.Second
	}
	return func(p *types.PaymentIntent, orderID string) (tracking.StatusTransport, tracking.StatusTransport) {
		var chain []tracking.StatusTransport
		if ep.PushURL != "" {
			chain = append(chain, tracking.NewPushTransport(ep.PushURL, ep.HandshakeTimeout, ep.Log))
		}
		if ep.PollURL != "" {
			chain = append(chain, tracking.NewPollTransport(ep.PollURL, ep.PollInterval, ep.HTTP, ep.Log))
		}
		if _, err := utils.ValidateTransactionHash(orderID); err == nil {
			if reader, err := ep.Readers.Get(p.PayerNetwork); err == nil {
				chain = append(chain, tracking.NewReceiptTransport(reader, ep.PollInterval))
			}
		}

		var primary, fallback tracking.StatusTransport
		if len(chain) > 0 {
			primary = chain[0]
		}
		if len(chain) > 1 {
			fallback = chain[1]
		}
		return primary, fallback
	}
}
