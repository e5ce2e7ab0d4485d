package fees

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vitwit/xpay/logger"
	"github.com/vitwit/xpay/metrics"
	"github.com/vitwit/xpay/registry"
	"github.com/vitwit/xpay/types"
	"github.com/vitwit/xpay/utils"
)

const DefaultBufferPercent = 20

// Estimator quotes cross-chain bridge fees and applies the safety buffer.
// Quoters are tried in order; the first answer wins.
type Estimator struct {
	registry      *registry.Registry
	quoters       []Quoter
	bufferPercent int64
	now           func() time.Time
	log           logger.Logger
	metrics       metrics.Recorder
}

type Option func(*Estimator)

func WithBufferPercent(pct int64) Option {
	return func(e *Estimator) { e.bufferPercent = pct }
}

func WithClock(now func() time.Time) Option {
	return func(e *Estimator) { e.now = now }
}

func WithLogger(l logger.Logger) Option {
	return func(e *Estimator) { e.log = l }
}

func WithMetrics(m metrics.Recorder) Option {
	return func(e *Estimator) { e.metrics = m }
}

func NewEstimator(reg *registry.Registry, quoters []Quoter, opts ...Option) *Estimator {
	e := &Estimator{
		registry:      reg,
		quoters:       quoters,
		bufferPercent: DefaultBufferPercent,
		now:           time.Now,
		log:           logger.NoopLogger{},
		metrics:       metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EstimateFee quotes delivering amount (token base units) from payer to
// recipient on payee. It never returns a zero fee unless a quoter reported
// one explicitly.
func (e *Estimator) EstimateFee(ctx context.Context, payer, payee types.NetworkID, amount *big.Int, recipient common.Address) (*types.FeeEstimate, error) {
	origin, ok := e.registry.Get(payer)
	if !ok {
		return nil, types.NewQuoteError(fmt.Sprintf("unknown payer network %s", payer), nil)
	}
	dest, ok := e.registry.Get(payee)
	if !ok || dest.BridgeDomain == 0 {
		return nil, types.NewQuoteError(fmt.Sprintf("no bridge domain for %s", payee), nil)
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, types.NewQuoteError("amount must be positive", nil)
	}
	if len(e.quoters) == 0 {
		return nil, types.NewQuoteError("no fee quoters configured", nil)
	}

	req := QuoteRequest{
		Origin:      payer,
		Destination: payee,
		Domain:      dest.BridgeDomain,
		Recipient:   utils.AddressToBytes32(recipient),
		Amount:      new(big.Int).Set(amount),
	}

	start := e.now()
	var errs []error
	for _, q := range e.quoters {
		raw, err := q.Quote(ctx, req)
		if err == nil && raw == nil {
			err = errors.New("quoter returned no fee")
		}
		if err != nil {
			e.log.Warn("bridge fee quote failed", map[string]any{
				"quoter": q.Name(),
				"origin": payer,
				"dest":   payee,
				"error":  err,
			})
			errs = append(errs, fmt.Errorf("%s: %w", q.Name(), err))
			if ctx.Err() != nil {
				break
			}
			continue
		}

		e.metrics.ObserveLatency(metrics.OpQuote, e.now().Sub(start), map[string]string{"network": string(payer)})
		est := &types.FeeEstimate{
			Raw:           new(big.Int).Set(raw),
			Buffered:      utils.ApplyBuffer(raw, e.bufferPercent),
			BufferPercent: e.bufferPercent,
			NativeSymbol:  origin.NativeSymbol,
			Source:        q.Name(),
			QuotedAt:      e.now(),
		}
		e.log.Debug("bridge fee quoted", map[string]any{
			"quoter":   q.Name(),
			"origin":   payer,
			"dest":     payee,
			"raw":      est.Raw.String(),
			"buffered": est.Buffered.String(),
		})
		return est, nil
	}

	return nil, types.NewQuoteError(fmt.Sprintf("bridge fee unavailable for %s -> %s", payer, payee), errors.Join(errs...))
}
