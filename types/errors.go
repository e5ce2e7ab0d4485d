package types

import (
	"errors"
	"fmt"
)

// ErrorKind is the top-level taxonomy the orchestrator branches on.
type ErrorKind string

const (
	KindPrecondition ErrorKind = "precondition"
	KindQuote        ErrorKind = "quote"
	KindAllowance    ErrorKind = "allowance"
	KindSimulation   ErrorKind = "simulation"
	KindExpiry       ErrorKind = "expiry"
	KindTransport    ErrorKind = "transport"
	KindInvalidDraft ErrorKind = "invalid_draft"
	KindCancelled    ErrorKind = "cancelled"
)

// Remedy is the concrete user action offered alongside an error.
type Remedy string

const (
	RemedyNone            Remedy = ""
	RemedyConnectWallet   Remedy = "connect_wallet"
	RemedySwitchNetwork   Remedy = "switch_network"
	RemedyRetry           Remedy = "retry"
	RemedyApproveSpending Remedy = "approve_spending"
	RemedyTopUpBalance    Remedy = "top_up_balance"
	RemedyRegenerate      Remedy = "regenerate"
	RemedyProceedAtRisk   Remedy = "proceed_at_risk"
)

// Common error codes
const (
	ErrNoWallet            = "NO_WALLET"
	ErrUnsupportedNetwork  = "UNSUPPORTED_NETWORK"
	ErrNetworkChanged      = "NETWORK_CHANGED"
	ErrAccountChanged      = "ACCOUNT_CHANGED"
	ErrUnknownIntent       = "UNKNOWN_INTENT"
	ErrInvalidTarget       = "INVALID_TARGET"
	ErrUnknownToken        = "UNKNOWN_TOKEN"
	ErrNoBridgeRoute       = "NO_BRIDGE_ROUTE"
	ErrQuoteFailed         = "QUOTE_FAILED"
	ErrAllowanceRead       = "ALLOWANCE_READ_FAILED"
	ErrApprovalRejected    = "APPROVAL_REJECTED"
	ErrApprovalFailed      = "APPROVAL_FAILED"
	ErrApprovalInterrupted = "APPROVAL_INTERRUPTED"
	ErrSimulationReverted  = "SIMULATION_REVERTED"
	ErrArtifactExpired     = "ARTIFACT_EXPIRED"
	ErrTransportsExhausted = "TRANSPORTS_EXHAUSTED"
	ErrDraftInvalid        = "DRAFT_INVALID"
	ErrNotReady            = "NOT_READY_TO_SEND"
	ErrIntentCancelled     = "INTENT_CANCELLED"
	ErrSignatureRejected   = "SIGNATURE_REJECTED"
	ErrSendFailed          = "SEND_FAILED"
)

// PaymentError is the typed outcome of a failed step.
type PaymentError struct {
	Kind      ErrorKind `json:"kind"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Remedy    Remedy    `json:"remedy,omitempty"`
	Retryable bool      `json:"retryable"`
	Err       error     `json:"-"`
}

func (e *PaymentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}

func NewPreconditionError(code, msg string, remedy Remedy) *PaymentError {
	return &PaymentError{Kind: KindPrecondition, Code: code, Message: msg, Remedy: remedy}
}

func NewQuoteError(msg string, err error) *PaymentError {
	return &PaymentError{Kind: KindQuote, Code: ErrQuoteFailed, Message: msg, Remedy: RemedyRetry, Retryable: true, Err: err}
}

func NewAllowanceError(code, msg string, err error) *PaymentError {
	e := &PaymentError{Kind: KindAllowance, Code: code, Message: msg, Err: err}
	if code == ErrAllowanceRead || code == ErrApprovalInterrupted {
		e.Remedy = RemedyRetry
		e.Retryable = true
	}
	return e
}

func NewSimulationFailure(result *SimulationResult) *PaymentError {
	return &PaymentError{
		Kind:    KindSimulation,
		Code:    ErrSimulationReverted,
		Message: fmt.Sprintf("simulation reverted (%s): %s", result.Reason, result.Message),
		Remedy:  result.Reason.Remedy(),
	}
}

func NewExpiryError(msg string) *PaymentError {
	return &PaymentError{Kind: KindExpiry, Code: ErrArtifactExpired, Message: msg, Remedy: RemedyRegenerate}
}

func NewTransportError(msg string, err error) *PaymentError {
	return &PaymentError{Kind: KindTransport, Code: ErrTransportsExhausted, Message: msg, Remedy: RemedyRetry, Retryable: true, Err: err}
}

func NewInvalidDraftError(msg string) *PaymentError {
	return &PaymentError{Kind: KindInvalidDraft, Code: ErrDraftInvalid, Message: msg}
}

func NewCancelledError(code, msg string) *PaymentError {
	return &PaymentError{Kind: KindCancelled, Code: code, Message: msg}
}

// KindOf extracts the taxonomy kind, or "" for untyped errors.
func KindOf(err error) ErrorKind {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// AsPaymentError returns err as a *PaymentError, wrapping untyped errors
// with the given kind.
func AsPaymentError(err error, fallback ErrorKind) *PaymentError {
	if err == nil {
		return nil
	}
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe
	}
	return &PaymentError{Kind: fallback, Message: err.Error(), Err: err}
}
