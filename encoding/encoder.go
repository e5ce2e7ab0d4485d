package encoding

import (
	"fmt"
	"time"

	"github.com/skip2/go-qrcode"

	"github.com/vitwit/xpay/registry"
	"github.com/vitwit/xpay/types"
	"github.com/vitwit/xpay/utils"
)

const (
	DefaultTTL    = 5 * time.Minute
	DefaultQRSize = 256
)

// Encoder turns validated drafts into shareable payment artifacts.
type Encoder struct {
	registry *registry.Registry
	scheme   string
	ttl      time.Duration
	qrSize   int
	now      func() time.Time
}

type Option func(*Encoder)

// WithScheme sets the URI scheme. Schemes are case-sensitive.
func WithScheme(s string) Option {
	return func(e *Encoder) { e.scheme = s }
}

func WithTTL(ttl time.Duration) Option {
	return func(e *Encoder) { e.ttl = ttl }
}

// WithQRSize sets the PNG edge length in pixels. Zero disables the image.
func WithQRSize(px int) Option {
	return func(e *Encoder) { e.qrSize = px }
}

func WithClock(now func() time.Time) Option {
	return func(e *Encoder) { e.now = now }
}

func New(reg *registry.Registry, opts ...Option) *Encoder {
	e := &Encoder{
		registry: reg,
		scheme:   DefaultScheme,
		ttl:      DefaultTTL,
		qrSize:   DefaultQRSize,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Encode renders a payment draft.
func (e *Encoder) Encode(draft *types.TransactionDraft) (*types.PaymentArtifact, error) {
	if draft == nil {
		return nil, types.NewInvalidDraftError("nothing to encode")
	}
	if draft.Purpose == types.PurposeApproval {
		return nil, types.NewInvalidDraftError("approval drafts are not shareable")
	}

	var uri string
	switch draft.Mode {
	case types.ModeSameChain:
		uri = TransferURI(e.scheme, draft.Token, draft.ChainID, draft.Recipient, draft.TokenAmount)
	case types.ModeCrossChain:
		if draft.Bridge == nil {
			return nil, types.NewInvalidDraftError("cross-chain draft has no bridge message")
		}
		uri = TransferRemoteURI(e.scheme, draft.To, draft.ChainID, draft.Bridge.DestinationDomain, draft.Bridge.Recipient, draft.Bridge.Amount, draft.Value)
	default:
		return nil, types.NewInvalidDraftError(fmt.Sprintf("mode %q cannot be encoded", draft.Mode))
	}
	return e.artifact(uri)
}

// EncodeTarget renders a direct transfer on the payee's own network, for
// payers who have no wallet connected yet.
func (e *Encoder) EncodeTarget(target types.PaymentTarget) (*types.PaymentArtifact, error) {
	if err := utils.ValidateTarget(&target); err != nil {
		return nil, err
	}
	desc, ok := e.registry.Get(target.Network)
	if !ok {
		return nil, types.NewPreconditionError(types.ErrUnsupportedNetwork, fmt.Sprintf("unknown network %s", target.Network), types.RemedyNone)
	}
	token, ok := e.registry.Token(target.Network, target.Token)
	if !ok {
		return nil, types.NewPreconditionError(types.ErrUnknownToken, fmt.Sprintf("token %s is not configured on %s", target.Token, target.Network), types.RemedyNone)
	}
	amount, err := utils.ToBaseUnits(target.Amount, token.Decimals)
	if err != nil {
		return nil, types.NewPreconditionError(types.ErrInvalidTarget, err.Error(), types.RemedyNone)
	}
	recipient, err := utils.ValidateAddress(target.Recipient)
	if err != nil {
		return nil, types.NewPreconditionError(types.ErrInvalidTarget, err.Error(), types.RemedyNone)
	}
	return e.artifact(TransferURI(e.scheme, token.Address, desc.ChainID, recipient, amount))
}

func (e *Encoder) artifact(uri string) (*types.PaymentArtifact, error) {
	issued := e.now()
	a := &types.PaymentArtifact{
		URI:       uri,
		IssuedAt:  issued,
		ExpiresAt: issued.Add(e.ttl),
	}
	if e.qrSize > 0 {
		png, err := qrcode.Encode(uri, qrcode.Medium, e.qrSize)
		if err != nil {
			return nil, fmt.Errorf("render qr code: %w", err)
		}
		a.QRCode = png
	}
	return a, nil
}

// Validate fails once the artifact has expired. Expiry is inclusive.
func (e *Encoder) Validate(a *types.PaymentArtifact) error {
	return ValidateAt(a, e.now())
}

func ValidateAt(a *types.PaymentArtifact, now time.Time) error {
	if a == nil {
		return types.NewExpiryError("no payment artifact issued")
	}
	if a.Expired(now) {
		return types.NewExpiryError(fmt.Sprintf("payment artifact expired at %s", a.ExpiresAt.UTC().Format(time.RFC3339)))
	}
	return nil
}
