package clients

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const erc20ABIJSON = `[
  {"type":"function","name":"transfer","stateMutability":"nonpayable",
   "inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"approve","stateMutability":"nonpayable",
   "inputs":[{"name":"spender","type":"address"},{"name":"value","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"allowance","stateMutability":"view",
   "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view",
   "inputs":[{"name":"account","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"decimals","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"uint8"}]},
  {"type":"error","name":"ERC20InsufficientBalance",
   "inputs":[{"name":"sender","type":"address"},{"name":"balance","type":"uint256"},{"name":"needed","type":"uint256"}]},
  {"type":"error","name":"ERC20InsufficientAllowance",
   "inputs":[{"name":"spender","type":"address"},{"name":"allowance","type":"uint256"},{"name":"needed","type":"uint256"}]}
]`

// ERC20ABI is the subset of the token interface xpay calls or decodes.
var ERC20ABI = mustParseABI(erc20ABIJSON)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid abi: %v", err))
	}
	return parsed
}

// PackTransfer encodes transfer(to, amount).
func PackTransfer(to common.Address, amount *big.Int) ([]byte, error) {
	return ERC20ABI.Pack("transfer", to, amount)
}

// PackApprove encodes approve(spender, amount).
func PackApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	return ERC20ABI.Pack("approve", spender, amount)
}

// DecodeTokenCall decodes transfer or approve calldata into its method name,
// address argument and amount.
func DecodeTokenCall(data []byte) (string, common.Address, *big.Int, error) {
	if len(data) < 4 {
		return "", common.Address{}, nil, fmt.Errorf("calldata too short")
	}
	method, err := ERC20ABI.MethodById(data[:4])
	if err != nil {
		return "", common.Address{}, nil, err
	}
	if method.Name != "transfer" && method.Name != "approve" {
		return "", common.Address{}, nil, fmt.Errorf("unexpected token method %s", method.Name)
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return "", common.Address{}, nil, fmt.Errorf("unpack %s: %w", method.Name, err)
	}
	addr, ok := args[0].(common.Address)
	if !ok {
		return "", common.Address{}, nil, fmt.Errorf("unexpected %s address argument", method.Name)
	}
	amount, ok := args[1].(*big.Int)
	if !ok {
		return "", common.Address{}, nil, fmt.Errorf("unexpected %s amount argument", method.Name)
	}
	return method.Name, addr, amount, nil
}

// ERC20 reads token state through a ChainReader.
type ERC20 struct {
	token  common.Address
	reader ChainReader
}

func NewERC20(token common.Address, reader ChainReader) *ERC20 {
	return &ERC20{token: token, reader: reader}
}

func (e *ERC20) Address() common.Address {
	return e.token
}

func (e *ERC20) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	return e.callUint(ctx, "allowance", owner, spender)
}

func (e *ERC20) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	return e.callUint(ctx, "balanceOf", owner)
}

func (e *ERC20) Decimals(ctx context.Context) (uint8, error) {
	out, err := e.call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	d, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("unexpected decimals type %T", out[0])
	}
	return d, nil
}

func (e *ERC20) callUint(ctx context.Context, method string, args ...any) (*big.Int, error) {
	out, err := e.call(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected %s return type %T", method, out[0])
	}
	return v, nil
}

func (e *ERC20) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := ERC20ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	ret, err := e.reader.CallContract(ctx, ethereum.CallMsg{To: &e.token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s call on %s: %w", method, e.token.Hex(), err)
	}
	out, err := ERC20ABI.Unpack(method, ret)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s returned no data", method)
	}
	return out, nil
}
