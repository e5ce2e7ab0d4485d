package clienttest

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/vitwit/xpay/clients"
	"github.com/vitwit/xpay/types"
)

// Wallet is a scripted wallet. When Ledger is set, approvals it signs are
// applied to the ledger and mined immediately.
type Wallet struct {
	mu sync.Mutex

	Accounts []common.Address
	ChainIDs []*big.Int // successive ChainID answers; the last one repeats
	Err      error

	SendErr     error
	ApproveErr  error
	RevertApprs bool
	SendDelay   time.Duration

	Ledger *Chain
	Sent   []*types.TransactionDraft

	chainCalls  int
	inflight    int32
	MaxInflight int32
}

var _ clients.Wallet = (*Wallet)(nil)

func NewWallet(account common.Address, chainID int64) *Wallet {
	return &Wallet{
		Accounts: []common.Address{account},
		ChainIDs: []*big.Int{big.NewInt(chainID)},
	}
}

func (w *Wallet) RequestAccounts(context.Context) ([]common.Address, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Err != nil {
		return nil, w.Err
	}
	if len(w.Accounts) == 0 {
		return nil, clients.ErrNoWallet
	}
	return append([]common.Address(nil), w.Accounts...), nil
}

func (w *Wallet) ChainID(context.Context) (*big.Int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Err != nil {
		return nil, w.Err
	}
	if len(w.ChainIDs) == 0 {
		return nil, clients.ErrNoWallet
	}
	i := w.chainCalls
	if i >= len(w.ChainIDs) {
		i = len(w.ChainIDs) - 1
	}
	w.chainCalls++
	return new(big.Int).Set(w.ChainIDs[i]), nil
}

// ChainCalls reports how often the chain id was queried.
func (w *Wallet) ChainCalls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.chainCalls
}

func (w *Wallet) SendTransaction(ctx context.Context, draft *types.TransactionDraft) (common.Hash, error) {
	n := atomic.AddInt32(&w.inflight, 1)
	defer atomic.AddInt32(&w.inflight, -1)
	for {
		max := atomic.LoadInt32(&w.MaxInflight)
		if n <= max || atomic.CompareAndSwapInt32(&w.MaxInflight, max, n) {
			break
		}
	}

	if w.SendDelay > 0 {
		select {
		case <-time.After(w.SendDelay):
		case <-ctx.Done():
			return common.Hash{}, ctx.Err()
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if draft.Purpose == types.PurposeApproval && w.ApproveErr != nil {
		return common.Hash{}, w.ApproveErr
	}
	if draft.Purpose == types.PurposePayment && w.SendErr != nil {
		return common.Hash{}, w.SendErr
	}

	w.Sent = append(w.Sent, draft)
	hash := crypto.Keccak256Hash(draft.To.Bytes(), draft.Data, big.NewInt(int64(len(w.Sent))).Bytes())

	if w.Ledger != nil {
		if draft.Purpose == types.PurposeApproval && !w.RevertApprs {
			if _, spender, amount, err := clients.DecodeTokenCall(draft.Data); err == nil {
				w.Ledger.SetAllowance(draft.From, spender, amount)
			}
		}
		w.Ledger.SetReceipt(hash, !(draft.Purpose == types.PurposeApproval && w.RevertApprs))
	}
	return hash, nil
}

// SentPurposes lists the purposes of every signed draft in order.
func (w *Wallet) SentPurposes() []types.DraftPurpose {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]types.DraftPurpose, 0, len(w.Sent))
	for _, d := range w.Sent {
		out = append(out, d.Purpose)
	}
	return out
}
