package simulation

import (
	"bytes"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/vitwit/xpay/clients"
	"github.com/vitwit/xpay/types"
)

var (
	selInsufficientBalance   = clients.ERC20ABI.Errors["ERC20InsufficientBalance"].ID.Bytes()[:4]
	selInsufficientAllowance = clients.ERC20ABI.Errors["ERC20InsufficientAllowance"].ID.Bytes()[:4]
)

// RevertData extracts the raw revert payload a node attached to err.
func RevertData(err error) []byte {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return nil
	}
	switch v := dataErr.ErrorData().(type) {
	case string:
		b, decErr := hexutil.Decode(v)
		if decErr != nil {
			return nil
		}
		return b
	case []byte:
		return v
	}
	return nil
}

// Classify maps a failed dry run onto a reason. Custom ERC-6093 errors are
// checked first, then Error(string) reasons, then the node's error text.
func Classify(err error) (types.SimulationReason, string, []byte) {
	data := RevertData(err)

	if len(data) >= 4 {
		switch {
		case bytes.Equal(data[:4], selInsufficientBalance):
			return types.ReasonInsufficientBalance, "ERC20InsufficientBalance", data
		case bytes.Equal(data[:4], selInsufficientAllowance):
			return types.ReasonInsufficientAllowance, "ERC20InsufficientAllowance", data
		}
		if reason, unpackErr := abi.UnpackRevert(data); unpackErr == nil {
			return classifyText(reason), reason, data
		}
	}

	msg := err.Error()
	return classifyText(msg), msg, data
}

func classifyText(s string) types.SimulationReason {
	ls := strings.ToLower(s)
	switch {
	case strings.Contains(ls, "allowance"):
		return types.ReasonInsufficientAllowance
	case strings.Contains(ls, "balance"), strings.Contains(ls, "insufficient funds"):
		return types.ReasonInsufficientBalance
	}
	return types.ReasonGenericRevert
}
