package encoding

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const DefaultScheme = "ethereum"

// Function names carried in payment URIs
const (
	FnTransfer       = "transfer"
	FnTransferRemote = "transferRemote"
)

// PaymentURI is a parsed payment request link.
type PaymentURI struct {
	Scheme   string
	Target   common.Address
	ChainID  *big.Int
	Function string

	// transfer
	Recipient common.Address
	Amount    *big.Int

	// transferRemote
	Domain          uint32
	BridgeRecipient common.Hash
	Value           *big.Int
}

// TransferURI renders <scheme>:<token>@<chainId>/transfer?address=<recipient>&uint256=<amount>.
func TransferURI(scheme string, token common.Address, chainID *big.Int, recipient common.Address, amount *big.Int) string {
	return fmt.Sprintf("%s:%s@%s/%s?address=%s&uint256=%s",
		scheme, token.Hex(), chainID.String(), FnTransfer, recipient.Hex(), amount.String())
}

// TransferRemoteURI renders the router call for a cross-chain payment.
func TransferRemoteURI(scheme string, router common.Address, chainID *big.Int, domain uint32, recipient common.Hash, amount, value *big.Int) string {
	return fmt.Sprintf("%s:%s@%s/%s?uint32=%d&bytes32=%s&uint256=%s&value=%s",
		scheme, router.Hex(), chainID.String(), FnTransferRemote, domain, recipient.Hex(), amount.String(), value.String())
}

// ParseURI parses links produced by TransferURI and TransferRemoteURI.
func ParseURI(raw string) (*PaymentURI, error) {
	scheme, rest, ok := strings.Cut(raw, ":")
	if !ok || scheme == "" {
		return nil, fmt.Errorf("payment uri %q has no scheme", raw)
	}

	path, query, _ := strings.Cut(rest, "?")
	targetPart, fn, ok := strings.Cut(path, "/")
	if !ok {
		return nil, fmt.Errorf("payment uri %q has no function", raw)
	}
	targetHex, chainPart, ok := strings.Cut(targetPart, "@")
	if !ok {
		return nil, fmt.Errorf("payment uri %q has no chain id", raw)
	}
	if !common.IsHexAddress(targetHex) {
		return nil, fmt.Errorf("payment uri target %q is not an address", targetHex)
	}
	chainID, ok := plainUint(chainPart)
	if !ok || chainID.Sign() == 0 {
		return nil, fmt.Errorf("payment uri chain id %q is invalid", chainPart)
	}

	params := make(map[string]string)
	if query != "" {
		for _, kv := range strings.Split(query, "&") {
			k, v, _ := strings.Cut(kv, "=")
			if _, dup := params[k]; dup {
				return nil, fmt.Errorf("payment uri repeats parameter %q", k)
			}
			params[k] = v
		}
	}

	out := &PaymentURI{
		Scheme:   scheme,
		Target:   common.HexToAddress(targetHex),
		ChainID:  chainID,
		Function: fn,
	}

	var err error
	switch fn {
	case FnTransfer:
		addr := params["address"]
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("payment uri address %q is invalid", addr)
		}
		out.Recipient = common.HexToAddress(addr)
		if out.Amount, err = parseUint(params, "uint256"); err != nil {
			return nil, err
		}

	case FnTransferRemote:
		domain, err := strconv.ParseUint(params["uint32"], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("payment uri domain %q is invalid", params["uint32"])
		}
		out.Domain = uint32(domain)
		b, err := hexutil.Decode(params["bytes32"])
		if err != nil || len(b) != common.HashLength {
			return nil, fmt.Errorf("payment uri bytes32 %q is invalid", params["bytes32"])
		}
		out.BridgeRecipient = common.BytesToHash(b)
		out.Recipient = common.BytesToAddress(b[12:])
		if out.Amount, err = parseUint(params, "uint256"); err != nil {
			return nil, err
		}
		if out.Value, err = parseUint(params, "value"); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("payment uri function %q is not supported", fn)
	}
	return out, nil
}

func parseUint(params map[string]string, key string) (*big.Int, error) {
	v, ok := params[key]
	if !ok {
		return nil, fmt.Errorf("payment uri is missing %s", key)
	}
	n, ok := plainUint(v)
	if !ok {
		return nil, fmt.Errorf("payment uri %s %q is not a plain integer", key, v)
	}
	return n, nil
}

// plainUint accepts ASCII digits only: no sign, exponent or separators.
func plainUint(s string) (*big.Int, bool) {
	if s == "" {
		return nil, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return nil, false
		}
	}
	return new(big.Int).SetString(s, 10)
}
