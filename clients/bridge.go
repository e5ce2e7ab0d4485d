package clients

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

const routerABIJSON = `[
  {"type":"function","name":"quoteTransferRemote","stateMutability":"view",
   "inputs":[{"name":"destinationDomain","type":"uint32"},{"name":"recipient","type":"bytes32"},{"name":"amount","type":"uint256"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"transferRemote","stateMutability":"payable",
   "inputs":[{"name":"destinationDomain","type":"uint32"},{"name":"recipient","type":"bytes32"},{"name":"amount","type":"uint256"}],
   "outputs":[{"name":"messageId","type":"bytes32"}]}
]`

// RouterABI is the token bridge router interface.
var RouterABI = mustParseABI(routerABIJSON)

// PackTransferRemote encodes transferRemote(domain, recipient, amount).
func PackTransferRemote(domain uint32, recipient common.Hash, amount *big.Int) ([]byte, error) {
	return RouterABI.Pack("transferRemote", domain, [32]byte(recipient), amount)
}

// DecodeTransferRemote is the inverse of PackTransferRemote.
func DecodeTransferRemote(data []byte) (uint32, common.Hash, *big.Int, error) {
	if len(data) < 4 {
		return 0, common.Hash{}, nil, fmt.Errorf("calldata too short")
	}
	method, err := RouterABI.MethodById(data[:4])
	if err != nil {
		return 0, common.Hash{}, nil, err
	}
	if method.Name != "transferRemote" {
		return 0, common.Hash{}, nil, fmt.Errorf("unexpected router method %s", method.Name)
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return 0, common.Hash{}, nil, fmt.Errorf("unpack transferRemote: %w", err)
	}
	domain, ok1 := args[0].(uint32)
	recipient, ok2 := args[1].([32]byte)
	amount, ok3 := args[2].(*big.Int)
	if !ok1 || !ok2 || !ok3 {
		return 0, common.Hash{}, nil, fmt.Errorf("unexpected transferRemote argument types")
	}
	return domain, common.Hash(recipient), amount, nil
}

// Router reads quotes from a bridge router deployment.
type Router struct {
	address common.Address
	reader  ChainReader
}

func NewRouter(address common.Address, reader ChainReader) *Router {
	return &Router{address: address, reader: reader}
}

func (r *Router) Address() common.Address {
	return r.address
}

// QuoteTransferRemote returns the native fee the router charges for
// delivering amount to recipient on domain.
func (r *Router) QuoteTransferRemote(ctx context.Context, domain uint32, recipient common.Hash, amount *big.Int) (*big.Int, error) {
	data, err := RouterABI.Pack("quoteTransferRemote", domain, [32]byte(recipient), amount)
	if err != nil {
		return nil, fmt.Errorf("pack quoteTransferRemote: %w", err)
	}
	ret, err := r.reader.CallContract(ctx, ethereum.CallMsg{To: &r.address, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("quoteTransferRemote on %s: %w", r.address.Hex(), err)
	}
	out, err := RouterABI.Unpack("quoteTransferRemote", ret)
	if err != nil {
		return nil, fmt.Errorf("unpack quoteTransferRemote: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("quoteTransferRemote returned no data")
	}
	fee, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected quote type %T", out[0])
	}
	return fee, nil
}
