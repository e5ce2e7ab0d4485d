package clients

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/vitwit/xpay/types"
)

// RPCWallet talks to a wallet that exposes the EIP-1193 request methods over
// JSON-RPC, such as a signer daemon or a browser bridge.
type RPCWallet struct {
	client *rpc.Client
}

var _ Wallet = (*RPCWallet)(nil)

func DialWallet(ctx context.Context, url string) (*RPCWallet, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to wallet %s: %w", url, err)
	}
	return &RPCWallet{client: c}, nil
}

func NewRPCWallet(c *rpc.Client) *RPCWallet {
	return &RPCWallet{client: c}
}

func (w *RPCWallet) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	if err := w.client.CallContext(ctx, &accounts, "eth_requestAccounts"); err != nil {
		return nil, NormalizeWalletError(err)
	}
	if len(accounts) == 0 {
		return nil, ErrNoWallet
	}
	return accounts, nil
}

func (w *RPCWallet) ChainID(ctx context.Context) (*big.Int, error) {
	var id hexutil.Big
	if err := w.client.CallContext(ctx, &id, "eth_chainId"); err != nil {
		return nil, NormalizeWalletError(err)
	}
	return (*big.Int)(&id), nil
}

type sendTxArgs struct {
	From                 common.Address  `json:"from"`
	To                   common.Address  `json:"to"`
	Value                *hexutil.Big    `json:"value"`
	Data                 hexutil.Bytes   `json:"data"`
	Gas                  *hexutil.Uint64 `json:"gas,omitempty"`
	MaxFeePerGas         *hexutil.Big    `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas *hexutil.Big    `json:"maxPriorityFeePerGas,omitempty"`
	ChainID              *hexutil.Big    `json:"chainId,omitempty"`
}

func toSendArgs(d *types.TransactionDraft) sendTxArgs {
	args := sendTxArgs{
		From:  d.From,
		To:    d.To,
		Value: (*hexutil.Big)(new(big.Int)),
		Data:  hexutil.Bytes(d.Data),
	}
	if d.Value != nil {
		args.Value = (*hexutil.Big)(new(big.Int).Set(d.Value))
	}
	if d.Gas > 0 {
		g := hexutil.Uint64(d.Gas)
		args.Gas = &g
	}
	if d.GasFeeCap != nil {
		args.MaxFeePerGas = (*hexutil.Big)(d.GasFeeCap)
	}
	if d.GasTipCap != nil {
		args.MaxPriorityFeePerGas = (*hexutil.Big)(d.GasTipCap)
	}
	if d.ChainID != nil {
		args.ChainID = (*hexutil.Big)(d.ChainID)
	}
	return args
}

func (w *RPCWallet) SendTransaction(ctx context.Context, draft *types.TransactionDraft) (common.Hash, error) {
	var hash common.Hash
	if err := w.client.CallContext(ctx, &hash, "eth_sendTransaction", toSendArgs(draft)); err != nil {
		return common.Hash{}, NormalizeWalletError(err)
	}
	return hash, nil
}

func (w *RPCWallet) Close() {
	w.client.Close()
}
