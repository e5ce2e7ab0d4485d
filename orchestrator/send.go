package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vitwit/xpay/clients"
	"github.com/vitwit/xpay/events"
	"github.com/vitwit/xpay/tracking"
	"github.com/vitwit/xpay/types"
)

// Send hands the intent's draft to the wallet. The payer's network and
// account are read again and must match the ones the draft was built for,
// and the artifact must not have expired. Signature requests from all
// intents are serialized by the signing gate.
func (o *Orchestrator) Send(ctx context.Context, id string) (common.Hash, error) {
	e, err := o.lookup(id)
	if err != nil {
		return common.Hash{}, err
	}
	ctx, done := o.bind(ctx, e)
	defer done()

	p := o.snapshot(e)
	if p.TxHash != (common.Hash{}) {
		return p.TxHash, nil
	}
	if p.Artifact == nil || !p.ReadyToSend() {
		return common.Hash{}, o.fail(e, notReady(p, ""), types.KindInvalidDraft)
	}
	if err := o.c.Encoder.Validate(p.Artifact); err != nil {
		pe := types.AsPaymentError(err, types.KindExpiry)
		o.terminate(e, types.StatusExpired, pe)
		return common.Hash{}, pe
	}

	network, payer, err := o.detect(ctx)
	if err != nil {
		return common.Hash{}, o.fail(e, err, types.KindPrecondition)
	}
	if network != p.PayerNetwork {
		return common.Hash{}, o.fail(e, types.NewPreconditionError(
			types.ErrNetworkChanged,
			fmt.Sprintf("wallet moved from %s to %s after the payment was prepared", p.PayerNetwork, network),
			types.RemedySwitchNetwork,
		), types.KindPrecondition)
	}
	if payer != p.Payer {
		return common.Hash{}, o.fail(e, types.NewPreconditionError(
			types.ErrAccountChanged,
			fmt.Sprintf("wallet account changed from %s to %s", p.Payer.Hex(), payer.Hex()),
			types.RemedyRegenerate,
		), types.KindPrecondition)
	}

	if err := o.advance(e, types.StageAwaitingSignature, nil); err != nil {
		return common.Hash{}, err
	}

	hash, err := o.c.Gate.SendWhen(ctx, o.c.Wallet, p.Draft, func() error {
		o.mu.Lock()
		defer o.mu.Unlock()
		if e.closed {
			return errIntentCancelled
		}
		return nil
	})
	if err != nil {
		switch {
		case e.ctx.Err() != nil || errors.Is(err, errIntentCancelled):
			return common.Hash{}, o.classify(e, err, types.KindCancelled)
		case errors.Is(err, clients.ErrUserRejected):
			pe := types.NewCancelledError(types.ErrSignatureRejected, "payer rejected the payment signature")
			o.terminate(e, types.StatusCancelled, pe)
			return common.Hash{}, pe
		case errors.Is(err, clients.ErrNoWallet):
			return common.Hash{}, o.fail(e, walletError(err), types.KindPrecondition)
		}
		return common.Hash{}, o.fail(e, &types.PaymentError{
			Kind:      types.KindPrecondition,
			Code:      types.ErrSendFailed,
			Message:   "wallet could not send the payment",
			Remedy:    types.RemedyRetry,
			Retryable: true,
			Err:       err,
		}, types.KindPrecondition)
	}

	if err := o.advance(e, types.StageSubmitted, func(live *types.PaymentIntent) { live.TxHash = hash }); err != nil {
		// cancelled after the wallet accepted; the hash is still reported
		return hash, err
	}
	data := map[string]any{"tx": hash.Hex()}
	if desc, ok := o.c.Registry.Get(p.PayerNetwork); ok && desc.ExplorerURL != "" {
		data["explorer"] = desc.TxURL(hash.Hex())
	}
	o.bus.Publish(events.Event{Type: events.TransactionSent, IntentID: id, Stage: types.StageSubmitted, Data: data})
	return hash, nil
}

// Track follows orderID, or the submitted transaction when orderID is empty,
// until the payment is terminal or the artifact expires. A failure of both
// status transports leaves the intent active so Track can be called again.
func (o *Orchestrator) Track(ctx context.Context, id, orderID string) (*tracking.Result, error) {
	e, err := o.lookup(id)
	if err != nil {
		return nil, err
	}

	p := o.snapshot(e)
	if orderID == "" && p.TxHash != (common.Hash{}) {
		orderID = p.TxHash.Hex()
	}
	if orderID == "" {
		return nil, o.fail(e, types.NewPreconditionError(types.ErrInvalidTarget, "an order id or a submitted transaction is required", types.RemedyNone), types.KindPrecondition)
	}
	if p.Artifact == nil {
		return nil, o.fail(e, notReady(p, ""), types.KindInvalidDraft)
	}
	if o.c.Transports == nil {
		return nil, o.fail(e, types.NewTransportError("no status transports configured", nil), types.KindTransport)
	}
	primary, fallback := o.c.Transports(p, orderID)

	if err := o.advance(e, types.StageTracking, func(live *types.PaymentIntent) { live.OrderID = orderID }); err != nil {
		return nil, err
	}

	ctx, done := o.bind(ctx, e)
	defer done()

	unsubscribe := o.bus.Subscribe(func(ev events.Event) {
		if ev.IntentID != id {
			return
		}
		_ = o.mutate(e, func(live *types.PaymentIntent) {
			if live.Status.CanTransition(ev.Status) {
				live.Status = ev.Status
			}
		})
	}, events.StatusChanged)
	defer unsubscribe()

	opts := append([]tracking.Option{
		tracking.WithBus(o.bus),
		tracking.WithClock(o.now),
		tracking.WithLogger(o.log),
		tracking.WithMetrics(o.metrics),
	}, o.trackerOpts...)
	tracker := tracking.NewTracker(primary, fallback, opts...)

	res, err := tracker.Track(ctx, tracking.Request{
		IntentID:  id,
		OrderID:   orderID,
		Network:   p.PayerNetwork,
		ExpiresAt: p.Artifact.ExpiresAt,
		Initial:   p.Status,
	})
	if err != nil {
		switch {
		case e.ctx.Err() != nil:
			return res, o.classify(e, err, types.KindCancelled)
		case types.KindOf(err) == types.KindTransport:
			return res, o.fail(e, err, types.KindTransport)
		}
		return res, err
	}

	if res.Status.IsTerminal() {
		var pe *types.PaymentError
		if res.Status == types.StatusExpired {
			pe = types.NewExpiryError("no terminal status arrived before the payment artifact expired")
		}
		o.terminate(e, res.Status, pe)
	}
	return res, nil
}
