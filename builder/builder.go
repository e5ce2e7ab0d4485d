package builder

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/vitwit/xpay/clients"
	"github.com/vitwit/xpay/logger"
	"github.com/vitwit/xpay/registry"
	"github.com/vitwit/xpay/types"
	"github.com/vitwit/xpay/utils"
)

// GasConfig bounds the EIP-1559 fields of every draft.
type GasConfig struct {
	// FeeCap = baseFee * BaseFeeMultiplier + tip
	BaseFeeMultiplier int64
	FallbackTipGwei   decimal.Decimal
	TransferGas       uint64
	ApproveGas        uint64
	BridgeGas         uint64
}

func DefaultGasConfig() GasConfig {
	return GasConfig{
		BaseFeeMultiplier: 2,
		FallbackTipGwei:   decimal.NewFromFloat(1.5),
		TransferGas:       65_000,
		ApproveGas:        60_000,
		BridgeGas:         300_000,
	}
}

// Request is everything Build needs for one payment attempt.
type Request struct {
	Target       types.PaymentTarget
	Payer        common.Address
	PayerNetwork types.NetworkID
	Mode         types.PaymentMode
	Fee          *types.FeeEstimate
}

// Outcome carries either a draft or, in switch-network mode, an instruction.
type Outcome struct {
	Draft  *types.TransactionDraft
	Switch *types.SwitchNetworkInstruction
}

type Builder struct {
	registry *registry.Registry
	readers  clients.Readers
	gas      GasConfig
	log      logger.Logger
}

func New(reg *registry.Registry, readers clients.Readers, gas GasConfig, log logger.Logger) *Builder {
	if log == nil {
		log = logger.NoopLogger{}
	}
	return &Builder{registry: reg, readers: readers, gas: gas, log: log}
}

// Build produces a validated draft for the chosen mode. A draft that fails
// validation is never returned.
func (b *Builder) Build(ctx context.Context, req Request) (*Outcome, error) {
	switch req.Mode {
	case types.ModeSwitchNetwork:
		desc, ok := b.registry.Get(req.Target.Network)
		if !ok {
			return nil, types.NewPreconditionError(types.ErrUnsupportedNetwork, fmt.Sprintf("unknown payee network %s", req.Target.Network), types.RemedyNone)
		}
		return &Outcome{Switch: &types.SwitchNetworkInstruction{
			Current:  req.PayerNetwork,
			Required: desc,
			Reason:   fmt.Sprintf("switch to %s to pay", desc.DisplayName),
		}}, nil

	case types.ModeSameChain:
		draft, err := b.sameChain(req)
		if err != nil {
			return nil, err
		}
		return b.finish(ctx, draft, req.Fee)

	case types.ModeCrossChain:
		draft, err := b.crossChain(req)
		if err != nil {
			return nil, err
		}
		return b.finish(ctx, draft, req.Fee)
	}
	return nil, types.NewInvalidDraftError(fmt.Sprintf("unknown payment mode %q", req.Mode))
}

func (b *Builder) finish(ctx context.Context, draft *types.TransactionDraft, fee *types.FeeEstimate) (*Outcome, error) {
	b.applyFees(ctx, draft)
	if err := ValidateDraft(draft, fee); err != nil {
		b.log.Error("draft failed validation", map[string]any{
			"network": draft.Network,
			"mode":    draft.Mode,
			"error":   err,
		})
		return nil, err
	}
	return &Outcome{Draft: draft}, nil
}

func (b *Builder) resolve(network types.NetworkID, target types.PaymentTarget) (types.NetworkDescriptor, types.TokenInfo, common.Address, *big.Int, error) {
	desc, ok := b.registry.Get(network)
	if !ok {
		return desc, types.TokenInfo{}, common.Address{}, nil,
			types.NewPreconditionError(types.ErrUnsupportedNetwork, fmt.Sprintf("unknown network %s", network), types.RemedySwitchNetwork)
	}
	token, ok := b.registry.Token(network, target.Token)
	if !ok {
		return desc, token, common.Address{}, nil,
			types.NewPreconditionError(types.ErrUnknownToken, fmt.Sprintf("token %s is not configured on %s", target.Token, network), types.RemedyNone)
	}
	recipient, err := utils.ValidateAddress(target.Recipient)
	if err != nil {
		return desc, token, common.Address{}, nil, types.NewPreconditionError(types.ErrInvalidTarget, err.Error(), types.RemedyNone)
	}
	amount, err := utils.ToBaseUnits(target.Amount, token.Decimals)
	if err != nil {
		return desc, token, common.Address{}, nil, types.NewPreconditionError(types.ErrInvalidTarget, err.Error(), types.RemedyNone)
	}
	if amount.Sign() <= 0 {
		return desc, token, common.Address{}, nil, types.NewPreconditionError(types.ErrInvalidTarget, "amount must be positive", types.RemedyNone)
	}
	return desc, token, recipient, amount, nil
}

func (b *Builder) sameChain(req Request) (*types.TransactionDraft, error) {
	if req.PayerNetwork != req.Target.Network {
		return nil, types.NewInvalidDraftError(fmt.Sprintf("same-chain transfer requested across %s and %s", req.PayerNetwork, req.Target.Network))
	}
	desc, token, recipient, amount, err := b.resolve(req.Target.Network, req.Target)
	if err != nil {
		return nil, err
	}
	data, err := clients.PackTransfer(recipient, amount)
	if err != nil {
		return nil, types.NewInvalidDraftError(fmt.Sprintf("encode transfer: %v", err))
	}
	return &types.TransactionDraft{
		Purpose:     types.PurposePayment,
		Mode:        types.ModeSameChain,
		Network:     desc.ID,
		ChainID:     desc.ChainID,
		From:        req.Payer,
		To:          token.Address,
		Value:       new(big.Int),
		Data:        data,
		Token:       token.Address,
		Recipient:   recipient,
		TokenAmount: amount,
		Gas:         b.gas.TransferGas,
	}, nil
}

func (b *Builder) crossChain(req Request) (*types.TransactionDraft, error) {
	if req.Fee == nil || req.Fee.Buffered == nil {
		return nil, types.NewInvalidDraftError("cross-chain draft requires a fee estimate")
	}
	payee, ok := b.registry.Get(req.Target.Network)
	if !ok || payee.BridgeDomain == 0 {
		return nil, types.NewPreconditionError(types.ErrNoBridgeRoute, fmt.Sprintf("no bridge domain for %s", req.Target.Network), types.RemedySwitchNetwork)
	}
	route, ok := b.registry.Route(req.PayerNetwork)
	if !ok {
		return nil, types.NewPreconditionError(types.ErrNoBridgeRoute, fmt.Sprintf("no bridge router on %s", req.PayerNetwork), types.RemedySwitchNetwork)
	}

	// the token leaves from the payer's network
	desc, token, recipient, amount, err := b.resolve(req.PayerNetwork, req.Target)
	if err != nil {
		return nil, err
	}

	msg := &types.BridgeMessage{
		DestinationDomain: payee.BridgeDomain,
		Recipient:         utils.AddressToBytes32(recipient),
		Amount:            amount,
	}
	data, err := clients.PackTransferRemote(msg.DestinationDomain, msg.Recipient, msg.Amount)
	if err != nil {
		return nil, types.NewInvalidDraftError(fmt.Sprintf("encode transferRemote: %v", err))
	}

	spender := route.Router
	return &types.TransactionDraft{
		Purpose:     types.PurposePayment,
		Mode:        types.ModeCrossChain,
		Network:     desc.ID,
		ChainID:     desc.ChainID,
		From:        req.Payer,
		To:          route.Router,
		Value:       new(big.Int).Set(req.Fee.Buffered),
		Data:        data,
		Token:       token.Address,
		Recipient:   recipient,
		TokenAmount: amount,
		Spender:     &spender,
		Bridge:      msg,
		Gas:         b.gas.BridgeGas,
	}, nil
}

// BuildApproval drafts approve(spender, amount) on token.
func (b *Builder) BuildApproval(ctx context.Context, network types.NetworkID, owner, token, spender common.Address, amount *big.Int) (*types.TransactionDraft, error) {
	desc, ok := b.registry.Get(network)
	if !ok {
		return nil, types.NewPreconditionError(types.ErrUnsupportedNetwork, fmt.Sprintf("unknown network %s", network), types.RemedySwitchNetwork)
	}
	data, err := clients.PackApprove(spender, amount)
	if err != nil {
		return nil, types.NewInvalidDraftError(fmt.Sprintf("encode approve: %v", err))
	}
	sp := spender
	draft := &types.TransactionDraft{
		Purpose:     types.PurposeApproval,
		Mode:        types.ModeCrossChain,
		Network:     desc.ID,
		ChainID:     desc.ChainID,
		From:        owner,
		To:          token,
		Value:       new(big.Int),
		Data:        data,
		Token:       token,
		TokenAmount: new(big.Int).Set(amount),
		Spender:     &sp,
		Gas:         b.gas.ApproveGas,
	}
	b.applyFees(ctx, draft)
	if err := ValidateDraft(draft, nil); err != nil {
		return nil, err
	}
	return draft, nil
}

// applyFees fills the EIP-1559 caps from the latest header. Failures leave
// the caps empty so the wallet prices the transaction itself.
func (b *Builder) applyFees(ctx context.Context, draft *types.TransactionDraft) {
	reader, err := b.readers.Get(draft.Network)
	if err != nil {
		return
	}

	head, err := reader.HeaderByNumber(ctx, nil)
	if err != nil || head.BaseFee == nil {
		b.log.Warn("base fee unavailable, leaving fee caps to the wallet", map[string]any{
			"network": draft.Network,
			"error":   err,
		})
		return
	}

	tip, err := reader.SuggestGasTipCap(ctx)
	if err != nil || tip == nil {
		tip = utils.GweiToWei(b.gas.FallbackTipGwei)
	}

	mul := b.gas.BaseFeeMultiplier
	if mul <= 0 {
		mul = 2
	}
	feeCap := new(big.Int).Mul(head.BaseFee, big.NewInt(mul))
	feeCap.Add(feeCap, tip)

	draft.GasTipCap = tip
	draft.GasFeeCap = feeCap
}
