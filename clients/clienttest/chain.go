// Package clienttest provides in-memory chain and wallet doubles.
package clienttest

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/vitwit/xpay/clients"
)

// RevertError mimics the error geth returns for a reverted eth_call.
type RevertError struct {
	Data []byte
}

func (e *RevertError) Error() string  { return "execution reverted" }
func (e *RevertError) ErrorCode() int { return 3 }
func (e *RevertError) ErrorData() any { return hexutil.Encode(e.Data) }

// RevertString builds revert data for require(false, reason).
func RevertString(reason string) []byte {
	args := abi.Arguments{{Type: mustType("string")}}
	packed, err := args.Pack(reason)
	if err != nil {
		panic(err)
	}
	return append(crypto.Keccak256([]byte("Error(string)"))[:4], packed...)
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// Chain is a single-token ledger answering the calls xpay makes. Zero values
// are usable; unset balances read as zero.
type Chain struct {
	mu sync.Mutex

	Balances   map[common.Address]*big.Int
	Allowances map[common.Address]map[common.Address]*big.Int

	QuoteFee *big.Int
	QuoteErr error

	// CallErr fails every eth_call, as an unreachable node would.
	CallErr error
	// RevertWith forces payment calls to revert with this data.
	RevertWith []byte

	GasEstimate uint64
	BaseFee     *big.Int
	Tip         *big.Int
	TipErr      error

	Receipts map[common.Hash]*gethtypes.Receipt

	Calls int
}

var _ clients.ChainReader = (*Chain)(nil)

func NewChain() *Chain {
	return &Chain{
		Balances:    make(map[common.Address]*big.Int),
		Allowances:  make(map[common.Address]map[common.Address]*big.Int),
		Receipts:    make(map[common.Hash]*gethtypes.Receipt),
		GasEstimate: 60_000,
		BaseFee:     big.NewInt(1_000_000_000),
		Tip:         big.NewInt(1_500_000_000),
	}
}

func (c *Chain) SetBalance(owner common.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Balances[owner] = new(big.Int).Set(amount)
}

func (c *Chain) SetAllowance(owner, spender common.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setAllowance(owner, spender, amount)
}

func (c *Chain) setAllowance(owner, spender common.Address, amount *big.Int) {
	if c.Allowances[owner] == nil {
		c.Allowances[owner] = make(map[common.Address]*big.Int)
	}
	c.Allowances[owner][spender] = new(big.Int).Set(amount)
}

func (c *Chain) allowance(owner, spender common.Address) *big.Int {
	if a := c.Allowances[owner][spender]; a != nil {
		return a
	}
	return new(big.Int)
}

func (c *Chain) balance(owner common.Address) *big.Int {
	if b := c.Balances[owner]; b != nil {
		return b
	}
	return new(big.Int)
}

// SetReceipt records a mined receipt for hash.
func (c *Chain) SetReceipt(hash common.Hash, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	status := gethtypes.ReceiptStatusFailed
	if success {
		status = gethtypes.ReceiptStatusSuccessful
	}
	c.Receipts[hash] = &gethtypes.Receipt{TxHash: hash, Status: status, BlockNumber: big.NewInt(1)}
}

func (c *Chain) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls++

	if c.CallErr != nil {
		return nil, c.CallErr
	}
	if len(msg.Data) < 4 {
		return nil, fmt.Errorf("no calldata")
	}

	if m, err := clients.ERC20ABI.MethodById(msg.Data[:4]); err == nil {
		args, err := m.Inputs.Unpack(msg.Data[4:])
		if err != nil {
			return nil, err
		}
		switch m.Name {
		case "allowance":
			return m.Outputs.Pack(new(big.Int).Set(c.allowance(args[0].(common.Address), args[1].(common.Address))))
		case "balanceOf":
			return m.Outputs.Pack(new(big.Int).Set(c.balance(args[0].(common.Address))))
		case "decimals":
			return m.Outputs.Pack(uint8(6))
		case "approve":
			return m.Outputs.Pack(true)
		case "transfer":
			if c.RevertWith != nil {
				return nil, &RevertError{Data: c.RevertWith}
			}
			if c.balance(msg.From).Cmp(args[1].(*big.Int)) < 0 {
				return nil, &RevertError{Data: RevertString("ERC20: transfer amount exceeds balance")}
			}
			return m.Outputs.Pack(true)
		}
	}

	if m, err := clients.RouterABI.MethodById(msg.Data[:4]); err == nil {
		args, err := m.Inputs.Unpack(msg.Data[4:])
		if err != nil {
			return nil, err
		}
		switch m.Name {
		case "quoteTransferRemote":
			if c.QuoteErr != nil {
				return nil, c.QuoteErr
			}
			if c.QuoteFee == nil {
				return nil, fmt.Errorf("no quote configured")
			}
			return m.Outputs.Pack(new(big.Int).Set(c.QuoteFee))
		case "transferRemote":
			if c.RevertWith != nil {
				return nil, &RevertError{Data: c.RevertWith}
			}
			amount := args[2].(*big.Int)
			if c.allowance(msg.From, *msg.To).Cmp(amount) < 0 {
				return nil, &RevertError{Data: RevertString("ERC20: insufficient allowance")}
			}
			if c.balance(msg.From).Cmp(amount) < 0 {
				return nil, &RevertError{Data: RevertString("ERC20: transfer amount exceeds balance")}
			}
			return m.Outputs.Pack([32]byte{1})
		}
	}

	return nil, fmt.Errorf("unknown selector %x", msg.Data[:4])
}

func (c *Chain) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.CallErr != nil {
		return 0, c.CallErr
	}
	return c.GasEstimate, nil
}

func (c *Chain) HeaderByNumber(context.Context, *big.Int) (*gethtypes.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &gethtypes.Header{Number: big.NewInt(1), BaseFee: c.BaseFee}, nil
}

func (c *Chain) SuggestGasTipCap(context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.TipErr != nil {
		return nil, c.TipErr
	}
	return new(big.Int).Set(c.Tip), nil
}

func (c *Chain) TransactionReceipt(_ context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.Receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}
