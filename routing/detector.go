package routing

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vitwit/xpay/clients"
	"github.com/vitwit/xpay/registry"
	"github.com/vitwit/xpay/types"
)

// Detector reads the payer's current network from the wallet. Nothing is
// cached: the payer can switch networks between any two calls.
type Detector struct {
	wallet   clients.Wallet
	registry *registry.Registry
}

func NewDetector(wallet clients.Wallet, reg *registry.Registry) *Detector {
	return &Detector{wallet: wallet, registry: reg}
}

// DetectPayerNetwork returns ok=false when no wallet is connected. A chain
// the registry does not know is a precondition error asking the payer to
// switch.
func (d *Detector) DetectPayerNetwork(ctx context.Context) (types.NetworkID, bool, error) {
	if d.wallet == nil {
		return "", false, nil
	}

	chainID, err := d.wallet.ChainID(ctx)
	if err != nil {
		if errors.Is(err, clients.ErrNoWallet) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read wallet chain id: %w", err)
	}

	desc, known := d.registry.ByChainID(chainID)
	if !known {
		return "", true, types.NewPreconditionError(
			types.ErrUnsupportedNetwork,
			fmt.Sprintf("wallet is on unsupported chain %s", chainID),
			types.RemedySwitchNetwork,
		)
	}
	return desc.ID, true, nil
}

// DetectPayer returns the wallet's active account.
func (d *Detector) DetectPayer(ctx context.Context) (common.Address, error) {
	if d.wallet == nil {
		return common.Address{}, clients.ErrNoWallet
	}
	accounts, err := d.wallet.RequestAccounts(ctx)
	if err != nil {
		return common.Address{}, err
	}
	if len(accounts) == 0 {
		return common.Address{}, clients.ErrNoWallet
	}
	return accounts[0], nil
}

// ResolvePayeeNetwork returns the payee's fixed settlement network.
func (d *Detector) ResolvePayeeNetwork(target types.PaymentTarget) (types.NetworkID, error) {
	if _, ok := d.registry.Get(target.Network); !ok {
		return "", types.NewPreconditionError(
			types.ErrUnsupportedNetwork,
			fmt.Sprintf("payee network %s is not supported", target.Network),
			types.RemedyNone,
		)
	}
	return target.Network, nil
}
