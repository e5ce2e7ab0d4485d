package types

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// NetworkID identifies a settlement network (e.g. "base", "polygon-amoy").
type NetworkID string

func (n NetworkID) String() string {
	return string(n)
}

// NetworkDescriptor is the settlement-layer metadata of one network.
// Descriptors are immutable once the registry has been built.
type NetworkDescriptor struct {
	ID             NetworkID `json:"id" yaml:"id"`
	ChainID        *big.Int  `json:"chainId" yaml:"-"`
	DisplayName    string    `json:"displayName" yaml:"display_name"`
	NativeSymbol   string    `json:"nativeSymbol" yaml:"native_symbol"`
	NativeDecimals int32     `json:"nativeDecimals" yaml:"native_decimals"`

	// SupportsBridging reports whether the bridge messaging protocol has a
	// deployment on this network.
	SupportsBridging bool `json:"supportsBridging" yaml:"supports_bridging"`

	// BridgeDomain is the message-domain id the bridge uses for this network.
	// Zero means unset.
	BridgeDomain uint32 `json:"bridgeDomain,omitempty" yaml:"bridge_domain"`

	ExplorerURL string `json:"explorerUrl" yaml:"explorer_url"`
	Testnet     bool   `json:"testnet" yaml:"testnet"`
}

// Clone returns a deep copy so callers can never mutate registry state.
func (d NetworkDescriptor) Clone() NetworkDescriptor {
	out := d
	if d.ChainID != nil {
		out.ChainID = new(big.Int).Set(d.ChainID)
	}
	return out
}

// TxURL links a transaction hash on the network's block explorer.
func (d NetworkDescriptor) TxURL(hash string) string {
	if d.ExplorerURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/tx/%s", strings.TrimSuffix(d.ExplorerURL, "/"), hash)
}

// SwitchNetworkInstruction is returned instead of a transaction draft when
// the payer must move to the payee's network before paying.
type SwitchNetworkInstruction struct {
	Current  NetworkID         `json:"current"`
	Required NetworkDescriptor `json:"required"`
	Reason   string            `json:"reason"`
}

// TokenInfo describes an ERC-20 deployment on one network.
type TokenInfo struct {
	Symbol   string         `json:"symbol"`
	Address  common.Address `json:"address"`
	Decimals int32          `json:"decimals"`
}

// BridgeRoute is the bridge deployment a payer network sends through.
type BridgeRoute struct {
	Router   common.Address `json:"router"`
	QuoteURL string         `json:"quoteUrl,omitempty"`
}
