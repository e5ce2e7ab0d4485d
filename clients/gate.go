package clients

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/semaphore"

	"github.com/vitwit/xpay/types"
)

// SigningGate allows at most one outstanding wallet signature request.
// Approvals and payments share it.
type SigningGate struct {
	sem *semaphore.Weighted
}

func NewSigningGate() *SigningGate {
	return &SigningGate{sem: semaphore.NewWeighted(1)}
}

// Send waits for the gate, then hands draft to wallet.
func (g *SigningGate) Send(ctx context.Context, wallet Wallet, draft *types.TransactionDraft) (common.Hash, error) {
	return g.SendWhen(ctx, wallet, draft, nil)
}

// SendWhen is Send with a last check run while holding the gate. A non-nil
// error from check aborts before the wallet sees the draft.
func (g *SigningGate) SendWhen(ctx context.Context, wallet Wallet, draft *types.TransactionDraft, check func() error) (common.Hash, error) {
	if wallet == nil {
		return common.Hash{}, ErrNoWallet
	}
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return common.Hash{}, err
	}
	defer g.sem.Release(1)

	if check != nil {
		if err := check(); err != nil {
			return common.Hash{}, err
		}
	}

	hash, err := wallet.SendTransaction(ctx, draft)
	return hash, NormalizeWalletError(err)
}
