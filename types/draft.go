package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// DraftPurpose separates spending approvals from the payment itself.
type DraftPurpose string

const (
	PurposePayment  DraftPurpose = "payment"
	PurposeApproval DraftPurpose = "approval"
)

// BridgeMessage is the body of a cross-chain transfer. The token amount lives
// here and only here; native value attached to the draft pays bridge fees.
type BridgeMessage struct {
	DestinationDomain uint32      `json:"destinationDomain"`
	Recipient         common.Hash `json:"recipient"`
	Amount            *big.Int    `json:"amount"`
}

// TransactionDraft is an unsigned, validated transaction ready for a wallet.
type TransactionDraft struct {
	Purpose DraftPurpose `json:"purpose"`
	Mode    PaymentMode  `json:"mode"`
	Network NetworkID    `json:"network"`
	ChainID *big.Int     `json:"chainId"`

	From  common.Address `json:"from"`
	To    common.Address `json:"to"`
	Value *big.Int       `json:"value"`
	Data  []byte         `json:"data"`

	Token       common.Address  `json:"token"`
	Recipient   common.Address  `json:"recipient"`
	TokenAmount *big.Int        `json:"tokenAmount"`
	Spender     *common.Address `json:"spender,omitempty"`
	Bridge      *BridgeMessage  `json:"bridge,omitempty"`

	Gas       uint64   `json:"gas"`
	GasTipCap *big.Int `json:"gasTipCap,omitempty"`
	GasFeeCap *big.Int `json:"gasFeeCap,omitempty"`
}

// CallMsg converts the draft for eth_call and eth_estimateGas.
func (d *TransactionDraft) CallMsg() ethereum.CallMsg {
	to := d.To
	value := new(big.Int)
	if d.Value != nil {
		value.Set(d.Value)
	}
	return ethereum.CallMsg{
		From:      d.From,
		To:        &to,
		Gas:       d.Gas,
		GasTipCap: d.GasTipCap,
		GasFeeCap: d.GasFeeCap,
		Value:     value,
		Data:      common.CopyBytes(d.Data),
	}
}

// Clone returns a deep copy. Drafts attached to an intent are never mutated;
// steps that refine a draft work on a clone.
func (d *TransactionDraft) Clone() *TransactionDraft {
	if d == nil {
		return nil
	}
	c := *d
	c.ChainID = cloneInt(d.ChainID)
	c.Value = cloneInt(d.Value)
	c.Data = append([]byte(nil), d.Data...)
	c.TokenAmount = cloneInt(d.TokenAmount)
	c.GasTipCap = cloneInt(d.GasTipCap)
	c.GasFeeCap = cloneInt(d.GasFeeCap)
	if d.Spender != nil {
		sp := *d.Spender
		c.Spender = &sp
	}
	if d.Bridge != nil {
		b := *d.Bridge
		b.Amount = cloneInt(d.Bridge.Amount)
		c.Bridge = &b
	}
	return &c
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
