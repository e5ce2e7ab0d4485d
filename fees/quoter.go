package fees

import (
	"context"
	"fmt"
	"math/big"
	"net/url"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vitwit/xpay/clients"
	"github.com/vitwit/xpay/registry"
	"github.com/vitwit/xpay/types"
)

// QuoteRequest is one bridge fee question.
type QuoteRequest struct {
	Origin      types.NetworkID
	Destination types.NetworkID
	Domain      uint32
	Recipient   common.Hash
	Amount      *big.Int
}

// Quoter returns a raw bridge fee in the origin network's native base units.
type Quoter interface {
	Name() string
	Quote(ctx context.Context, req QuoteRequest) (*big.Int, error)
}

// RouterQuoter asks the origin network's bridge router on chain.
type RouterQuoter struct {
	registry *registry.Registry
	readers  clients.Readers
}

func NewRouterQuoter(reg *registry.Registry, readers clients.Readers) *RouterQuoter {
	return &RouterQuoter{registry: reg, readers: readers}
}

func (q *RouterQuoter) Name() string { return "router" }

func (q *RouterQuoter) Quote(ctx context.Context, req QuoteRequest) (*big.Int, error) {
	route, ok := q.registry.Route(req.Origin)
	if !ok {
		return nil, fmt.Errorf("no bridge router on %s", req.Origin)
	}
	reader, err := q.readers.Get(req.Origin)
	if err != nil {
		return nil, err
	}
	return clients.NewRouter(route.Router, reader).QuoteTransferRemote(ctx, req.Domain, req.Recipient, req.Amount)
}

// EndpointQuoter asks the bridge's HTTP quote service. The service answers
// {"fee": "<base units>"}.
type EndpointQuoter struct {
	registry *registry.Registry
	http     *clients.HTTPClient
}

func NewEndpointQuoter(reg *registry.Registry, http *clients.HTTPClient) *EndpointQuoter {
	return &EndpointQuoter{registry: reg, http: http}
}

func (q *EndpointQuoter) Name() string { return "endpoint" }

type quoteResponse struct {
	Fee *string `json:"fee"`
}

func (q *EndpointQuoter) Quote(ctx context.Context, req QuoteRequest) (*big.Int, error) {
	base := q.registry.QuoteURL(req.Origin)
	if base == "" {
		return nil, fmt.Errorf("no quote endpoint configured for %s", req.Origin)
	}

	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid quote endpoint %q: %w", base, err)
	}
	params := u.Query()
	params.Set("origin", string(req.Origin))
	params.Set("destination", string(req.Destination))
	params.Set("domain", strconv.FormatUint(uint64(req.Domain), 10))
	params.Set("recipient", req.Recipient.Hex())
	params.Set("amount", req.Amount.String())
	u.RawQuery = params.Encode()

	var resp quoteResponse
	if err := q.http.GetJSON(ctx, u.String(), &resp); err != nil {
		return nil, err
	}
	if resp.Fee == nil || *resp.Fee == "" {
		return nil, fmt.Errorf("quote endpoint returned no fee")
	}
	fee, ok := new(big.Int).SetString(*resp.Fee, 10)
	if !ok || fee.Sign() < 0 {
		return nil, fmt.Errorf("quote endpoint returned invalid fee %q", *resp.Fee)
	}
	return fee, nil
}
