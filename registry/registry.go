package registry

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vitwit/xpay/types"
)

// Override adjusts a built-in network or, when ID is unknown, registers a
// new one. New networks must carry a chain id.
type Override struct {
	ID               types.NetworkID
	ChainID          *big.Int
	DisplayName      string
	NativeSymbol     string
	ExplorerURL      string
	SupportsBridging *bool
	BridgeDomain     uint32
	Router           common.Address
	QuoteURL         string
	Tokens           []types.TokenInfo
	Testnet          bool
}

// Registry maps network ids and chain ids to settlement metadata. It is
// read-only after New returns and safe for concurrent use.
type Registry struct {
	networks map[types.NetworkID]types.NetworkDescriptor
	byChain  map[string]types.NetworkID
	tokens   map[types.NetworkID]map[string]types.TokenInfo
	routes   map[types.NetworkID]types.BridgeRoute
}

// New builds the registry from the built-in table plus overrides.
func New(overrides ...Override) (*Registry, error) {
	r := &Registry{
		networks: make(map[types.NetworkID]types.NetworkDescriptor),
		byChain:  make(map[string]types.NetworkID),
		tokens:   make(map[types.NetworkID]map[string]types.TokenInfo),
		routes:   make(map[types.NetworkID]types.BridgeRoute),
	}

	for _, b := range builtins {
		r.networks[b.desc.ID] = b.desc.Clone()
		if b.usdc != "" {
			r.addToken(b.desc.ID, usdc(b.usdc))
		}
	}

	for _, o := range overrides {
		if err := r.apply(o); err != nil {
			return nil, err
		}
	}

	for id, d := range r.networks {
		key := d.ChainID.String()
		if other, dup := r.byChain[key]; dup {
			return nil, fmt.Errorf("chain id %s claimed by both %s and %s", key, other, id)
		}
		r.byChain[key] = id
	}

	return r, nil
}

func (r *Registry) apply(o Override) error {
	if o.ID == "" {
		return fmt.Errorf("network override without id")
	}

	d, known := r.networks[o.ID]
	if !known {
		if o.ChainID == nil || o.ChainID.Sign() <= 0 {
			return fmt.Errorf("network %s is not built in and has no chain id", o.ID)
		}
		d = types.NetworkDescriptor{
			ID:             o.ID,
			ChainID:        new(big.Int).Set(o.ChainID),
			DisplayName:    string(o.ID),
			NativeSymbol:   "ETH",
			NativeDecimals: 18,
			Testnet:        o.Testnet,
		}
	} else if o.ChainID != nil && o.ChainID.Cmp(d.ChainID) != 0 {
		return fmt.Errorf("network %s: chain id %s conflicts with built-in %s", o.ID, o.ChainID, d.ChainID)
	}

	if o.DisplayName != "" {
		d.DisplayName = o.DisplayName
	}
	if o.NativeSymbol != "" {
		d.NativeSymbol = o.NativeSymbol
	}
	if o.ExplorerURL != "" {
		d.ExplorerURL = o.ExplorerURL
	}
	if o.SupportsBridging != nil {
		d.SupportsBridging = *o.SupportsBridging
	}
	if o.BridgeDomain != 0 {
		d.BridgeDomain = o.BridgeDomain
	}
	r.networks[o.ID] = d

	if o.Router != (common.Address{}) || o.QuoteURL != "" {
		r.routes[o.ID] = types.BridgeRoute{Router: o.Router, QuoteURL: o.QuoteURL}
	}
	for _, t := range o.Tokens {
		if t.Symbol == "" || t.Address == (common.Address{}) {
			return fmt.Errorf("network %s: token needs a symbol and address", o.ID)
		}
		r.addToken(o.ID, t)
	}
	return nil
}

func (r *Registry) addToken(id types.NetworkID, t types.TokenInfo) {
	if r.tokens[id] == nil {
		r.tokens[id] = make(map[string]types.TokenInfo)
	}
	t.Symbol = strings.ToUpper(t.Symbol)
	r.tokens[id][t.Symbol] = t
}

// Get returns a copy of the descriptor for id.
func (r *Registry) Get(id types.NetworkID) (types.NetworkDescriptor, bool) {
	d, ok := r.networks[id]
	if !ok {
		return types.NetworkDescriptor{}, false
	}
	return d.Clone(), true
}

// ByChainID maps a wallet-reported chain id to its network.
func (r *Registry) ByChainID(chainID *big.Int) (types.NetworkDescriptor, bool) {
	if chainID == nil {
		return types.NetworkDescriptor{}, false
	}
	id, ok := r.byChain[chainID.String()]
	if !ok {
		return types.NetworkDescriptor{}, false
	}
	return r.Get(id)
}

// All returns every network sorted by id.
func (r *Registry) All() []types.NetworkDescriptor {
	out := make([]types.NetworkDescriptor, 0, len(r.networks))
	for _, d := range r.networks {
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SupportsBridging is false for unknown networks.
func (r *Registry) SupportsBridging(id types.NetworkID) bool {
	d, ok := r.networks[id]
	return ok && d.SupportsBridging
}

// Token looks up a token by symbol, case-insensitively.
func (r *Registry) Token(id types.NetworkID, symbol string) (types.TokenInfo, bool) {
	t, ok := r.tokens[id][strings.ToUpper(symbol)]
	return t, ok
}

// Route returns the bridge deployment on id. Routes without a router
// address are not usable for sending.
func (r *Registry) Route(id types.NetworkID) (types.BridgeRoute, bool) {
	route, ok := r.routes[id]
	if !ok || route.Router == (common.Address{}) {
		return types.BridgeRoute{}, false
	}
	return route, true
}

// QuoteURL returns the configured bridge quote endpoint for id, if any.
func (r *Registry) QuoteURL(id types.NetworkID) string {
	return r.routes[id].QuoteURL
}
