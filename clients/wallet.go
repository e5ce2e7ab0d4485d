package clients

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/vitwit/xpay/types"
)

var (
	// ErrNoWallet means no wallet provider is connected.
	ErrNoWallet = errors.New("no wallet connected")
	// ErrUserRejected means the payer declined a wallet prompt.
	ErrUserRejected = errors.New("user rejected the request")
	// ErrReadOnlyWallet is returned by wallets that cannot sign.
	ErrReadOnlyWallet = errors.New("wallet is read-only")
)

// EIP-1193 provider error codes
const (
	CodeUserRejected = 4001
	CodeUnauthorized = 4100
	CodeDisconnected = 4900
)

// Wallet is the external signer. xpay never holds keys; it hands drafts to
// the wallet and receives a transaction hash back.
type Wallet interface {
	RequestAccounts(ctx context.Context) ([]common.Address, error)
	ChainID(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, draft *types.TransactionDraft) (common.Hash, error)
}

// NormalizeWalletError maps provider-specific failures onto ErrUserRejected
// and ErrNoWallet.
func NormalizeWalletError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUserRejected) || errors.Is(err, ErrNoWallet) {
		return err
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case CodeUserRejected:
			return fmt.Errorf("%w: %s", ErrUserRejected, rpcErr.Error())
		case CodeUnauthorized, CodeDisconnected:
			return fmt.Errorf("%w: %s", ErrNoWallet, rpcErr.Error())
		}
	}

	s := strings.ToLower(err.Error())
	for _, marker := range []string{"user rejected", "user denied", "rejected by user", "request closed", "cancelled by user", "canceled by user"} {
		if strings.Contains(s, marker) {
			return fmt.Errorf("%w: %s", ErrUserRejected, err.Error())
		}
	}
	return err
}

// StaticWallet reports a fixed account and chain and refuses to sign. It lets
// operators prepare artifacts for a payer that signs elsewhere.
type StaticWallet struct {
	Account common.Address
	Chain   *big.Int
}

var _ Wallet = (*StaticWallet)(nil)

func (w *StaticWallet) RequestAccounts(context.Context) ([]common.Address, error) {
	if w.Account == (common.Address{}) {
		return nil, ErrNoWallet
	}
	return []common.Address{w.Account}, nil
}

func (w *StaticWallet) ChainID(context.Context) (*big.Int, error) {
	if w.Chain == nil {
		return nil, ErrNoWallet
	}
	return new(big.Int).Set(w.Chain), nil
}

func (w *StaticWallet) SendTransaction(context.Context, *types.TransactionDraft) (common.Hash, error) {
	return common.Hash{}, ErrReadOnlyWallet
}
