package types

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// PaymentMode is the routing decision for one payment attempt.
type PaymentMode string

const (
	ModeSameChain     PaymentMode = "same-chain"
	ModeCrossChain    PaymentMode = "cross-chain"
	ModeSwitchNetwork PaymentMode = "switch-network"
)

func (m PaymentMode) String() string {
	return string(m)
}

// PaymentStatus is the rail-independent lifecycle status of a payment.
type PaymentStatus string

const (
	StatusPending    PaymentStatus = "pending"
	StatusProcessing PaymentStatus = "processing"
	StatusCompleted  PaymentStatus = "completed"
	StatusFailed     PaymentStatus = "failed"
	StatusCancelled  PaymentStatus = "cancelled"
	StatusExpired    PaymentStatus = "expired"
)

// ParsePaymentStatus accepts the status strings reported by status sources.
func ParsePaymentStatus(s string) (PaymentStatus, error) {
	switch PaymentStatus(s) {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled, StatusExpired:
		return PaymentStatus(s), nil
	}
	// card and bank processors commonly report these spellings
	switch s {
	case "canceled":
		return StatusCancelled, nil
	case "succeeded", "success", "paid":
		return StatusCompleted, nil
	case "in_progress", "submitted":
		return StatusProcessing, nil
	}
	return "", fmt.Errorf("unknown payment status %q", s)
}

// IsTerminal reports whether no further transition is possible.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// CanTransition reports whether s may move to next. Statuses only move
// forward: pending -> processing -> {completed, failed, cancelled}, and
// pending or processing -> expired. Polling may miss processing, so pending
// may resolve directly.
func (s PaymentStatus) CanTransition(next PaymentStatus) bool {
	if s.IsTerminal() {
		return false
	}
	switch next {
	case StatusPending:
		return false
	case StatusProcessing:
		return s == StatusPending
	case StatusCompleted, StatusFailed, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

func (s PaymentStatus) String() string {
	return string(s)
}

// IntentStage is how far the orchestrator got with one intent.
type IntentStage string

const (
	StageCreated           IntentStage = "created"
	StageDetected          IntentStage = "detected"
	StageModeSelected      IntentStage = "mode_selected"
	StageFeeEstimated      IntentStage = "fee_estimated"
	StageBuilt             IntentStage = "built"
	StageAllowanceChecked  IntentStage = "allowance_checked"
	StageAwaitingApproval  IntentStage = "awaiting_approval"
	StageSimulated         IntentStage = "simulated"
	StageSimulationFailed  IntentStage = "simulation_failed"
	StageSwitchRequired    IntentStage = "switch_required"
	StageReadyToSend       IntentStage = "ready_to_send"
	StageEncoded           IntentStage = "encoded"
	StageAwaitingSignature IntentStage = "awaiting_signature"
	StageSubmitted         IntentStage = "submitted"
	StageTracking          IntentStage = "tracking"
	StageTerminated        IntentStage = "terminated"
)

// PaymentTarget is what the payee asks for. It is read-only once created.
type PaymentTarget struct {
	PayeeID   string          `json:"payeeId" validate:"required"`
	Recipient string          `json:"recipient" validate:"required,eth_addr"`
	Network   NetworkID       `json:"network" validate:"required"`
	Amount    decimal.Decimal `json:"amount"`
	Token     string          `json:"token" validate:"required"`
}

// FeeEstimate is a bridge fee quote in native base units.
type FeeEstimate struct {
	Raw           *big.Int  `json:"raw"`
	Buffered      *big.Int  `json:"buffered"`
	BufferPercent int64     `json:"bufferPercent"`
	NativeSymbol  string    `json:"nativeSymbol"`
	Source        string    `json:"source"`
	QuotedAt      time.Time `json:"quotedAt"`
}

// AllowanceStatus is derived fresh for every payment attempt.
type AllowanceStatus struct {
	Network    NetworkID         `json:"network"`
	Owner      common.Address    `json:"owner"`
	Spender    common.Address    `json:"spender"`
	Token      common.Address    `json:"token"`
	Required   *big.Int          `json:"required"`
	Granted    *big.Int          `json:"granted"`
	Sufficient bool              `json:"sufficient"`
	Approval   *TransactionDraft `json:"approval,omitempty"`
}

// ApprovalOutcome is the result of asking the payer to authorize spending.
type ApprovalOutcome string

const (
	ApprovalGranted   ApprovalOutcome = "approved"
	ApprovalCancelled ApprovalOutcome = "cancelled"
	ApprovalFailed    ApprovalOutcome = "failed"
)

type ApprovalResult struct {
	Outcome ApprovalOutcome `json:"outcome"`
	TxHash  common.Hash     `json:"txHash,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// SimulationReason classifies a failed dry run.
type SimulationReason string

const (
	ReasonInsufficientBalance   SimulationReason = "insufficient_balance"
	ReasonInsufficientAllowance SimulationReason = "insufficient_allowance"
	ReasonGenericRevert         SimulationReason = "generic_revert"
)

// Remedy returns the user action that usually clears the failure.
func (r SimulationReason) Remedy() Remedy {
	switch r {
	case ReasonInsufficientBalance:
		return RemedyTopUpBalance
	case ReasonInsufficientAllowance:
		return RemedyApproveSpending
	}
	return RemedyProceedAtRisk
}

type SimulationResult struct {
	Success    bool             `json:"success"`
	Reason     SimulationReason `json:"reason,omitempty"`
	Message    string           `json:"message,omitempty"`
	RevertData []byte           `json:"revertData,omitempty"`
	GasUsed    uint64           `json:"gasUsed,omitempty"`
}

// PaymentArtifact is the shareable form of a validated payment.
type PaymentArtifact struct {
	URI       string    `json:"uri"`
	QRCode    []byte    `json:"-"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired is inclusive: an artifact queried exactly at ExpiresAt is expired.
func (a *PaymentArtifact) Expired(now time.Time) bool {
	return !now.Before(a.ExpiresAt)
}

// PaymentIntent is the working object for one payment attempt. It is owned
// by the orchestrator and never persisted.
type PaymentIntent struct {
	ID     string        `json:"id"`
	Target PaymentTarget `json:"target"`

	Payer        common.Address `json:"payer"`
	PayerNetwork NetworkID      `json:"payerNetwork"`
	PayeeNetwork NetworkID      `json:"payeeNetwork"`
	Mode         PaymentMode    `json:"mode"`

	Fee        *FeeEstimate              `json:"fee,omitempty"`
	Draft      *TransactionDraft         `json:"draft,omitempty"`
	Switch     *SwitchNetworkInstruction `json:"switch,omitempty"`
	Allowance  *AllowanceStatus          `json:"allowance,omitempty"`
	Approval   *ApprovalResult           `json:"approval,omitempty"`
	Simulation *SimulationResult         `json:"simulation,omitempty"`

	// RiskAcknowledged records that the payer chose to continue past a
	// failed simulation.
	RiskAcknowledged bool `json:"riskAcknowledged"`

	Artifact *PaymentArtifact `json:"artifact,omitempty"`
	TxHash   common.Hash      `json:"txHash,omitempty"`
	OrderID  string           `json:"orderId,omitempty"`

	Stage   IntentStage   `json:"stage"`
	Status  PaymentStatus `json:"status"`
	Outcome *PaymentError `json:"outcome,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ReadyToSend is the gate every draft must pass before it reaches a wallet.
func (p *PaymentIntent) ReadyToSend() bool {
	if p.Draft == nil || p.Status.IsTerminal() {
		return false
	}
	simOK := p.Simulation == nil || p.Simulation.Success || p.RiskAcknowledged
	if !simOK {
		return false
	}
	if p.Mode == ModeCrossChain {
		return p.Allowance != nil && p.Allowance.Sufficient
	}
	return p.Mode == ModeSameChain
}
