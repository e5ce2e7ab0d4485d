package routing

import (
	"fmt"

	"github.com/vitwit/xpay/registry"
	"github.com/vitwit/xpay/types"
)

// SelectMode is the routing decision. It is total over its inputs and never
// yields a direct transfer across mismatched networks.
func SelectMode(payer, payee types.NetworkID, payerBridges, payeeBridges bool) types.PaymentMode {
	switch {
	case payer == payee:
		return types.ModeSameChain
	case payerBridges && payeeBridges:
		return types.ModeCrossChain
	default:
		return types.ModeSwitchNetwork
	}
}

// Decision is a mode plus the reason it was chosen.
type Decision struct {
	Mode   types.PaymentMode
	Reason string
}

// Selector applies SelectMode with registry capability flags and checks
// that a usable bridge deployment exists for cross-chain routes.
type Selector struct {
	registry *registry.Registry
}

func NewSelector(reg *registry.Registry) *Selector {
	return &Selector{registry: reg}
}

func (s *Selector) Select(payer, payee types.NetworkID) Decision {
	mode := SelectMode(payer, payee, s.registry.SupportsBridging(payer), s.registry.SupportsBridging(payee))

	switch mode {
	case types.ModeSameChain:
		return Decision{Mode: mode, Reason: "payer and payee share a network"}
	case types.ModeSwitchNetwork:
		return Decision{Mode: mode, Reason: fmt.Sprintf("no bridge between %s and %s", payer, payee)}
	}

	if _, ok := s.registry.Route(payer); !ok {
		return Decision{Mode: types.ModeSwitchNetwork, Reason: fmt.Sprintf("no bridge router configured on %s", payer)}
	}
	if d, _ := s.registry.Get(payee); d.BridgeDomain == 0 {
		return Decision{Mode: types.ModeSwitchNetwork, Reason: fmt.Sprintf("no bridge domain known for %s", payee)}
	}
	return Decision{Mode: types.ModeCrossChain, Reason: fmt.Sprintf("bridging %s to %s", payer, payee)}
}

// SwitchInstruction describes the move the payer must make.
func (s *Selector) SwitchInstruction(current, required types.NetworkID, reason string) *types.SwitchNetworkInstruction {
	desc, _ := s.registry.Get(required)
	return &types.SwitchNetworkInstruction{
		Current:  current,
		Required: desc,
		Reason:   reason,
	}
}
