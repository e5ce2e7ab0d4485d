package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/vitwit/xpay/builder"
	"github.com/vitwit/xpay/clients"
	"github.com/vitwit/xpay/events"
	"github.com/vitwit/xpay/metrics"
	"github.com/vitwit/xpay/types"
	"github.com/vitwit/xpay/utils"
)

// Prepare opens a PaymentIntent for target and runs detect, mode, fee,
// build, allowance, simulate and encode in that order. It stops early with
// a switch instruction when the networks cannot be bridged, and with a
// simulation error when the dry run reverted; Proceed continues from there.
//
// The intent snapshot is returned alongside any step error so callers can
// read its id, stage and recorded outcome.
func (o *Orchestrator) Prepare(ctx context.Context, target types.PaymentTarget) (*types.PaymentIntent, error) {
	if err := utils.ValidateTarget(&target); err != nil {
		return nil, err
	}

	now := o.now()
	p := &types.PaymentIntent{
		ID:        uuid.NewString(),
		Target:    target,
		Stage:     types.StageCreated,
		Status:    types.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	e := o.register(p)

	o.metrics.IncCounter(metrics.IntentsCreated, map[string]string{"network": string(target.Network)})
	o.log.Info("payment intent created", map[string]any{
		"intent": p.ID,
		"payee":  target.PayeeID,
		"amount": target.Amount.String(),
		"token":  target.Token,
	})
	o.bus.Publish(events.Event{
		Type:     events.IntentCreated,
		IntentID: p.ID,
		Stage:    types.StageCreated,
		Status:   types.StatusPending,
		Data: map[string]any{
			"payee":   target.PayeeID,
			"network": string(target.Network),
			"amount":  target.Amount.String(),
			"token":   target.Token,
		},
	})
	return o.run(ctx, e)
}

// Retry reruns the pipeline of an intent that stopped on a recoverable
// error. Nothing derived by the previous attempt is reused.
func (o *Orchestrator) Retry(ctx context.Context, id string) (*types.PaymentIntent, error) {
	e, err := o.lookup(id)
	if err != nil {
		return nil, err
	}
	if p := o.snapshot(e); p.TxHash != (common.Hash{}) {
		return p, types.NewPreconditionError(types.ErrNotReady, "payment already submitted; track it instead", types.RemedyNone)
	}
	err = o.mutate(e, func(p *types.PaymentIntent) {
		p.Payer = common.Address{}
		p.PayerNetwork = ""
		p.PayeeNetwork = ""
		p.Mode = ""
		p.Fee = nil
		p.Draft = nil
		p.Switch = nil
		p.Allowance = nil
		p.Approval = nil
		p.Simulation = nil
		p.RiskAcknowledged = false
		p.Artifact = nil
		p.Outcome = nil
		p.Stage = types.StageCreated
	})
	if err != nil {
		return o.snapshot(e), err
	}
	return o.run(ctx, e)
}

// Proceed continues an intent whose simulation failed. Without
// acknowledgeRisk it returns the recorded failure again. The allowance
// requirement of cross-chain payments cannot be overridden.
func (o *Orchestrator) Proceed(ctx context.Context, id string, acknowledgeRisk bool) (*types.PaymentIntent, error) {
	e, err := o.lookup(id)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return o.snapshot(e), err
	}

	p := o.snapshot(e)
	switch p.Stage {
	case types.StageEncoded:
		return p, nil
	case types.StageSimulationFailed:
	default:
		return p, o.fail(e, notReady(p, "no simulation failure awaiting an override"), types.KindInvalidDraft)
	}

	if !acknowledgeRisk {
		return p, types.NewSimulationFailure(p.Simulation)
	}

	if err := o.mutate(e, func(live *types.PaymentIntent) { live.RiskAcknowledged = true }); err != nil {
		return o.snapshot(e), err
	}
	o.log.Warn("payer accepted simulation risk", map[string]any{
		"intent": id,
		"reason": string(p.Simulation.Reason),
	})

	if err := o.issue(e); err != nil {
		return o.snapshot(e), err
	}
	return o.snapshot(e), nil
}

func (o *Orchestrator) run(ctx context.Context, e *entry) (*types.PaymentIntent, error) {
	ctx, done := o.bind(ctx, e)
	defer done()

	if err := o.pipeline(ctx, e); err != nil {
		return o.snapshot(e), err
	}
	return o.snapshot(e), nil
}

func (o *Orchestrator) pipeline(ctx context.Context, e *entry) error {
	target := o.snapshot(e).Target

	payee, err := o.c.Detector.ResolvePayeeNetwork(target)
	if err != nil {
		return o.fail(e, err, types.KindPrecondition)
	}
	payerNet, payer, err := o.detect(ctx)
	if err != nil {
		return o.fail(e, err, types.KindPrecondition)
	}
	if err := o.advance(e, types.StageDetected, func(p *types.PaymentIntent) {
		p.Payer = payer
		p.PayerNetwork = payerNet
		p.PayeeNetwork = payee
	}); err != nil {
		return err
	}

	decision := o.c.Selector.Select(payerNet, payee)
	if err := o.advance(e, types.StageModeSelected, func(p *types.PaymentIntent) { p.Mode = decision.Mode }); err != nil {
		return err
	}

	var fee *types.FeeEstimate
	if decision.Mode == types.ModeCrossChain {
		amount, err := o.baseUnits(payerNet, target)
		if err != nil {
			return o.fail(e, err, types.KindPrecondition)
		}
		fee, err = o.c.Fees.EstimateFee(ctx, payerNet, payee, amount, common.HexToAddress(target.Recipient))
		if err != nil {
			return o.fail(e, err, types.KindQuote)
		}
		if err := o.advance(e, types.StageFeeEstimated, func(p *types.PaymentIntent) { p.Fee = fee }); err != nil {
			return err
		}
	}

	out, err := o.c.Builder.Build(ctx, builder.Request{
		Target:       target,
		Payer:        payer,
		PayerNetwork: payerNet,
		Mode:         decision.Mode,
		Fee:          fee,
	})
	if err != nil {
		return o.fail(e, err, types.KindInvalidDraft)
	}
	if out.Switch != nil {
		sw := *out.Switch
		sw.Reason = decision.Reason
		return o.advance(e, types.StageSwitchRequired, func(p *types.PaymentIntent) { p.Switch = &sw })
	}

	draft := out.Draft
	if err := o.advance(e, types.StageBuilt, func(p *types.PaymentIntent) { p.Draft = draft }); err != nil {
		return err
	}

	if draft.Mode == types.ModeCrossChain {
		if err := o.authorize(ctx, e, draft); err != nil {
			return err
		}
	}

	if err := o.simulate(ctx, e, draft); err != nil {
		return err
	}
	return o.issue(e)
}

func (o *Orchestrator) detect(ctx context.Context) (types.NetworkID, common.Address, error) {
	network, ok, err := o.c.Detector.DetectPayerNetwork(ctx)
	if err != nil {
		return "", common.Address{}, walletError(err)
	}
	if !ok {
		return "", common.Address{}, walletError(clients.ErrNoWallet)
	}
	payer, err := o.c.Detector.DetectPayer(ctx)
	if err != nil {
		return "", common.Address{}, walletError(err)
	}
	return network, payer, nil
}

func (o *Orchestrator) baseUnits(network types.NetworkID, target types.PaymentTarget) (*big.Int, error) {
	token, ok := o.c.Registry.Token(network, target.Token)
	if !ok {
		return nil, types.NewPreconditionError(types.ErrUnknownToken, fmt.Sprintf("token %s is not configured on %s", target.Token, network), types.RemedySwitchNetwork)
	}
	amount, err := utils.ToBaseUnits(target.Amount, token.Decimals)
	if err != nil {
		return nil, types.NewPreconditionError(types.ErrInvalidTarget, err.Error(), types.RemedyNone)
	}
	return amount, nil
}

// authorize makes sure the bridge router may pull the token amount,
// requesting an approval when it may not.
func (o *Orchestrator) authorize(ctx context.Context, e *entry, draft *types.TransactionDraft) error {
	if draft.Spender == nil {
		return o.fail(e, types.NewInvalidDraftError("cross-chain draft has no spender"), types.KindInvalidDraft)
	}
	spender := *draft.Spender

	status, err := o.c.Allowance.Check(ctx, draft.Network, draft.From, draft.Token, draft.TokenAmount, spender)
	if err != nil {
		return o.fail(e, err, types.KindAllowance)
	}
	if err := o.advance(e, types.StageAllowanceChecked, func(p *types.PaymentIntent) { p.Allowance = status }); err != nil {
		return err
	}
	if status.Sufficient {
		return nil
	}

	if err := o.advance(e, types.StageAwaitingApproval, nil); err != nil {
		return err
	}
	id := o.snapshot(e).ID
	o.bus.Publish(events.Event{
		Type:     events.ApprovalRequested,
		IntentID: id,
		Stage:    types.StageAwaitingApproval,
		Data: map[string]any{
			"spender":  spender.Hex(),
			"token":    draft.Token.Hex(),
			"required": status.Required.String(),
			"granted":  status.Granted.String(),
		},
	})

	res, err := o.c.Allowance.RequestApproval(ctx, status)
	if err != nil {
		return o.fail(e, err, types.KindAllowance)
	}
	if err := o.mutate(e, func(p *types.PaymentIntent) { p.Approval = res }); err != nil {
		return err
	}
	o.bus.Publish(events.Event{
		Type:     events.ApprovalResolved,
		IntentID: id,
		Data:     map[string]any{"outcome": string(res.Outcome), "tx": res.TxHash.Hex()},
	})

	if e.ctx.Err() != nil {
		return o.classify(e, errIntentCancelled, types.KindCancelled)
	}
	switch res.Outcome {
	case types.ApprovalCancelled:
		pe := types.NewAllowanceError(types.ErrApprovalRejected, "payer declined the spending approval", nil)
		o.terminate(e, types.StatusCancelled, pe)
		return pe
	case types.ApprovalFailed:
		pe := types.NewAllowanceError(types.ErrApprovalFailed, "spending approval failed: "+res.Error, nil)
		o.terminate(e, types.StatusFailed, pe)
		return pe
	}

	// the payment may only proceed on an allowance read after the approval
	status, err = o.c.Allowance.Check(ctx, draft.Network, draft.From, draft.Token, draft.TokenAmount, spender)
	if err != nil {
		return o.fail(e, err, types.KindAllowance)
	}
	if !status.Sufficient {
		pe := types.NewAllowanceError(types.ErrApprovalFailed, "allowance still insufficient after approval", nil)
		o.terminate(e, types.StatusFailed, pe)
		return pe
	}
	return o.advance(e, types.StageAllowanceChecked, func(p *types.PaymentIntent) { p.Allowance = status })
}

func (o *Orchestrator) simulate(ctx context.Context, e *entry, draft *types.TransactionDraft) error {
	work := draft.Clone()
	res, err := o.c.Simulator.Simulate(ctx, work)
	if err != nil {
		return o.fail(e, err, types.KindSimulation)
	}

	switch {
	case res == nil:
		o.log.Warn("simulation unavailable, continuing without a dry run", map[string]any{
			"intent":  o.snapshot(e).ID,
			"network": string(draft.Network),
		})
		return o.advance(e, types.StageSimulated, func(p *types.PaymentIntent) { p.Simulation = nil })

	case res.Success:
		return o.advance(e, types.StageSimulated, func(p *types.PaymentIntent) {
			p.Simulation = res
			p.Draft = work
		})
	}

	pe := types.NewSimulationFailure(res)
	if err := o.advance(e, types.StageSimulationFailed, func(p *types.PaymentIntent) { p.Simulation = res }); err != nil {
		return err
	}
	o.bus.Publish(events.Event{
		Type:     events.SimulationFailed,
		IntentID: o.snapshot(e).ID,
		Stage:    types.StageSimulationFailed,
		Error:    pe,
		Data: map[string]any{
			"reason":  string(res.Reason),
			"message": res.Message,
			"remedy":  string(pe.Remedy),
		},
	})
	return o.fail(e, pe, types.KindSimulation)
}

// issue applies the ReadyToSend gate and encodes the artifact.
func (o *Orchestrator) issue(e *entry) error {
	p := o.snapshot(e)
	if !p.ReadyToSend() {
		return o.fail(e, notReady(p, ""), types.KindInvalidDraft)
	}
	if err := o.advance(e, types.StageReadyToSend, nil); err != nil {
		return err
	}

	artifact, err := o.c.Encoder.Encode(p.Draft)
	if err != nil {
		return o.fail(e, err, types.KindInvalidDraft)
	}
	if err := o.advance(e, types.StageEncoded, func(live *types.PaymentIntent) {
		live.Artifact = artifact
		live.Outcome = nil
	}); err != nil {
		return err
	}
	o.bus.Publish(events.Event{
		Type:     events.ArtifactIssued,
		IntentID: p.ID,
		Stage:    types.StageEncoded,
		Data: map[string]any{
			"uri":       artifact.URI,
			"expiresAt": artifact.ExpiresAt,
		},
	})
	return nil
}

func notReady(p *types.PaymentIntent, msg string) *types.PaymentError {
	pe := types.NewInvalidDraftError(msg)
	pe.Code = types.ErrNotReady
	switch {
	case msg != "":
	case p.Draft == nil:
		pe.Message = "no payment draft has been built"
	case p.Mode == types.ModeCrossChain && (p.Allowance == nil || !p.Allowance.Sufficient):
		pe.Message = "bridge router is not approved to spend the payment amount"
		pe.Remedy = types.RemedyApproveSpending
	case p.Simulation != nil && !p.Simulation.Success && !p.RiskAcknowledged:
		pe.Message = "simulation failed and the risk was not acknowledged"
		pe.Remedy = p.Simulation.Reason.Remedy()
	case p.Artifact == nil:
		pe.Message = "no payment artifact has been issued"
	default:
		pe.Message = "payment intent is not ready to send"
	}
	return pe
}

func walletError(err error) *types.PaymentError {
	var pe *types.PaymentError
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, clients.ErrNoWallet) {
		return &types.PaymentError{
			Kind:    types.KindPrecondition,
			Code:    types.ErrNoWallet,
			Message: "connect a wallet to pay",
			Remedy:  types.RemedyConnectWallet,
			Err:     err,
		}
	}
	return &types.PaymentError{
		Kind:      types.KindPrecondition,
		Code:      types.ErrNoWallet,
		Message:   "wallet did not answer",
		Remedy:    types.RemedyRetry,
		Retryable: true,
		Err:       err,
	}
}
