package builder

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vitwit/xpay/clients"
	"github.com/vitwit/xpay/types"
	"github.com/vitwit/xpay/utils"
)

func invalid(format string, args ...any) error {
	return types.NewInvalidDraftError(fmt.Sprintf(format, args...))
}

func valueOf(d *types.TransactionDraft) *big.Int {
	if d.Value == nil {
		return new(big.Int)
	}
	return d.Value
}

// ValidateDraft decodes the calldata again and checks it against the draft's
// declared intent. fee is required for cross-chain payments.
func ValidateDraft(d *types.TransactionDraft, fee *types.FeeEstimate) error {
	if d == nil {
		return invalid("draft is nil")
	}
	if d.ChainID == nil || d.ChainID.Sign() <= 0 {
		return invalid("draft has no chain id")
	}
	if d.To == (common.Address{}) {
		return invalid("draft has no destination")
	}
	if d.TokenAmount == nil || d.TokenAmount.Sign() < 0 {
		return invalid("draft has no token amount")
	}
	if d.GasFeeCap != nil && d.GasTipCap != nil && d.GasFeeCap.Cmp(d.GasTipCap) < 0 {
		return invalid("fee cap %s below tip cap %s", d.GasFeeCap, d.GasTipCap)
	}

	if d.Purpose == types.PurposeApproval {
		return validateApproval(d)
	}

	switch d.Mode {
	case types.ModeSameChain:
		return validateTransfer(d)
	case types.ModeCrossChain:
		return validateBridge(d, fee)
	}
	return invalid("mode %q cannot carry a payment draft", d.Mode)
}

func validateApproval(d *types.TransactionDraft) error {
	if valueOf(d).Sign() != 0 {
		return invalid("approval carries native value %s", valueOf(d))
	}
	if d.To != d.Token {
		return invalid("approval must target the token contract")
	}
	method, spender, amount, err := clients.DecodeTokenCall(d.Data)
	if err != nil {
		return invalid("approval calldata: %v", err)
	}
	if method != "approve" {
		return invalid("approval calldata calls %s", method)
	}
	if d.Spender == nil || spender != *d.Spender {
		return invalid("approval spender mismatch")
	}
	if amount.Cmp(d.TokenAmount) != 0 {
		return invalid("approval amount %s does not match %s", amount, d.TokenAmount)
	}
	return nil
}

func validateTransfer(d *types.TransactionDraft) error {
	// token transfers never carry native value
	if valueOf(d).Sign() != 0 {
		return invalid("same-chain transfer carries native value %s", valueOf(d))
	}
	if d.To != d.Token {
		return invalid("same-chain transfer must target the token contract")
	}
	if d.Bridge != nil || d.Spender != nil {
		return invalid("same-chain transfer carries bridge fields")
	}
	method, to, amount, err := clients.DecodeTokenCall(d.Data)
	if err != nil {
		return invalid("transfer calldata: %v", err)
	}
	if method != "transfer" {
		return invalid("transfer calldata calls %s", method)
	}
	if to != d.Recipient {
		return invalid("transfer recipient %s does not match %s", to.Hex(), d.Recipient.Hex())
	}
	if amount.Cmp(d.TokenAmount) != 0 || amount.Sign() == 0 {
		return invalid("transfer amount %s does not match %s", amount, d.TokenAmount)
	}
	return nil
}

func validateBridge(d *types.TransactionDraft, fee *types.FeeEstimate) error {
	if fee == nil || fee.Buffered == nil {
		return invalid("cross-chain draft validated without a fee estimate")
	}
	value := valueOf(d)
	if value.Cmp(fee.Buffered) != 0 {
		return invalid("native value %s does not equal buffered fee %s", value, fee.Buffered)
	}
	// the token amount must never ride in the native value field
	if d.TokenAmount.Sign() > 0 && value.Cmp(d.TokenAmount) == 0 {
		return invalid("native value equals token amount %s", d.TokenAmount)
	}
	if d.Bridge == nil {
		return invalid("cross-chain draft has no bridge message")
	}
	if d.Spender == nil || *d.Spender != d.To {
		return invalid("cross-chain spender must be the router")
	}
	if d.To == d.Token {
		return invalid("cross-chain draft targets the token instead of the router")
	}

	domain, recipient, amount, err := clients.DecodeTransferRemote(d.Data)
	if err != nil {
		return invalid("transferRemote calldata: %v", err)
	}
	if domain != d.Bridge.DestinationDomain {
		return invalid("destination domain %d does not match %d", domain, d.Bridge.DestinationDomain)
	}
	if !bytes.Equal(recipient[:], utils.AddressToBytes32(d.Recipient).Bytes()) || recipient != d.Bridge.Recipient {
		return invalid("bridge recipient mismatch")
	}
	if amount.Sign() == 0 || amount.Cmp(d.TokenAmount) != 0 || amount.Cmp(d.Bridge.Amount) != 0 {
		return invalid("bridge amount %s does not match %s", amount, d.TokenAmount)
	}
	return nil
}
