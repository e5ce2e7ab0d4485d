package utils

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
)

// ValidateAmount checks that amount is a positive decimal.
func ValidateAmount(amount string) (*decimal.Decimal, error) {
	if amount == "" {
		return nil, fmt.Errorf("amount cannot be empty")
	}

	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount format: %w", err)
	}

	if !dec.IsPositive() {
		return nil, fmt.Errorf("amount must be positive")
	}

	return &dec, nil
}

// ValidateAddress parses a 0x-prefixed EVM address. The zero address is
// rejected since funds sent there are unrecoverable.
func ValidateAddress(address string) (common.Address, error) {
	if address == "" {
		return common.Address{}, fmt.Errorf("address cannot be empty")
	}
	if !strings.HasPrefix(address, "0x") && !strings.HasPrefix(address, "0X") {
		return common.Address{}, fmt.Errorf("address must start with 0x")
	}
	if !common.IsHexAddress(address) {
		return common.Address{}, fmt.Errorf("invalid address %q", address)
	}

	addr := common.HexToAddress(address)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("zero address is not a valid recipient")
	}
	return addr, nil
}

// ValidateTransactionHash checks an EVM transaction hash.
func ValidateTransactionHash(hash string) (common.Hash, error) {
	if hash == "" {
		return common.Hash{}, fmt.Errorf("transaction hash cannot be empty")
	}
	if !strings.HasPrefix(hash, "0x") {
		return common.Hash{}, fmt.Errorf("transaction hash must start with 0x")
	}
	if len(hash) != 66 {
		return common.Hash{}, fmt.Errorf("transaction hash must be 66 characters long")
	}
	b, err := hexutil.Decode(hash)
	if err != nil {
		return common.Hash{}, fmt.Errorf("transaction hash must be valid hex")
	}
	return common.BytesToHash(b), nil
}

// AddressToBytes32 left-pads an EVM address into a bridge message recipient.
func AddressToBytes32(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

// Bytes32ToAddress is the inverse of AddressToBytes32. It fails when the
// upper 12 bytes are not zero.
func Bytes32ToAddress(h common.Hash) (common.Address, error) {
	for _, b := range h[:12] {
		if b != 0 {
			return common.Address{}, fmt.Errorf("bytes32 %s is not a left-padded address", h.Hex())
		}
	}
	return common.BytesToAddress(h[12:]), nil
}
