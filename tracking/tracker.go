package tracking

import (
	"context"
	"errors"
	"time"

	"github.com/vitwit/xpay/events"
	"github.com/vitwit/xpay/logger"
	"github.com/vitwit/xpay/metrics"
	"github.com/vitwit/xpay/types"
)

// Request identifies what to track and until when.
type Request struct {
	IntentID  string
	OrderID   string
	Network   types.NetworkID
	ExpiresAt time.Time
	// Initial defaults to pending.
	Initial types.PaymentStatus
}

// Result is the final observation of a tracking session.
type Result struct {
	Status    types.PaymentStatus   `json:"status"`
	Transport string                `json:"transport,omitempty"`
	History   []types.PaymentStatus `json:"history"`
	Expired   bool                  `json:"expired"`
}

// Tracker drives a primary status transport and swaps to the fallback when
// the primary fails. Exactly one transport runs at a time.
type Tracker struct {
	primary  StatusTransport
	fallback StatusTransport

	bus     *events.Bus
	now     func() time.Time
	after   func(time.Duration) <-chan time.Time
	log     logger.Logger
	metrics metrics.Recorder
}

type Option func(*Tracker)

func WithBus(b *events.Bus) Option {
	return func(t *Tracker) { t.bus = b }
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithTimer replaces time.After for the expiry deadline.
func WithTimer(after func(time.Duration) <-chan time.Time) Option {
	return func(t *Tracker) { t.after = after }
}

func WithLogger(l logger.Logger) Option {
	return func(t *Tracker) { t.log = l }
}

func WithMetrics(m metrics.Recorder) Option {
	return func(t *Tracker) { t.metrics = m }
}

func NewTracker(primary, fallback StatusTransport, opts ...Option) *Tracker {
	t := &Tracker{
		primary:  primary,
		fallback: fallback,
		now:      time.Now,
		after:    time.After,
		log:      logger.NoopLogger{},
		metrics:  metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

type session struct {
	t      *Tracker
	req    Request
	result *Result
}

func (s *session) apply(next types.PaymentStatus, transport string) {
	cur := s.result.Status
	if next == cur {
		return
	}
	if !cur.CanTransition(next) {
		s.t.log.Debug("ignoring backwards status", map[string]any{
			"intent": s.req.IntentID,
			"from":   string(cur),
			"to":     string(next),
		})
		return
	}
	s.result.Status = next
	s.result.History = append(s.result.History, next)
	s.t.log.Info("payment status changed", map[string]any{
		"intent":    s.req.IntentID,
		"order":     s.req.OrderID,
		"from":      string(cur),
		"to":        string(next),
		"transport": transport,
	})
	if s.t.bus != nil {
		s.t.bus.Publish(events.Event{
			Type:     events.StatusChanged,
			IntentID: s.req.IntentID,
			Status:   next,
			Data:     map[string]any{"from": string(cur), "transport": transport, "order": s.req.OrderID},
		})
	}
}

// Track runs transports until a terminal status, the expiry deadline, or ctx
// cancellation. When both transports fail it returns a TransportError along
// with the last observed status. On ctx cancellation the result carries the
// last status and ctx.Err() is returned.
func (t *Tracker) Track(ctx context.Context, req Request) (*Result, error) {
	start := t.now()
	initial := req.Initial
	if initial == "" {
		initial = types.StatusPending
	}
	s := &session{t: t, req: req, result: &Result{Status: initial, History: []types.PaymentStatus{initial}}}
	labels := map[string]string{"operation": metrics.OpTrack, "network": string(req.Network)}
	defer func() {
		t.metrics.ObserveLatency(metrics.OpTrack, t.now().Sub(start), labels)
	}()

	if initial.IsTerminal() {
		return s.result, nil
	}

	remaining := req.ExpiresAt.Sub(t.now())
	if !req.ExpiresAt.IsZero() && remaining <= 0 {
		s.expire("")
		return s.result, nil
	}
	var expiry <-chan time.Time
	if !req.ExpiresAt.IsZero() {
		expiry = t.after(remaining)
	}

	var lastErr error
	for _, tr := range []StatusTransport{t.primary, t.fallback} {
		if tr == nil {
			continue
		}
		done, err := t.runTransport(ctx, s, tr, expiry)
		if done {
			return s.result, err
		}
		lastErr = err
		t.metrics.IncCounter(metrics.TransportSwap, map[string]string{"type": tr.Name(), "network": string(req.Network)})
		t.log.Warn("status transport failed", map[string]any{
			"intent":    req.IntentID,
			"order":     req.OrderID,
			"transport": tr.Name(),
			"error":     err,
		})
		if t.bus != nil {
			t.bus.Publish(events.Event{
				Type:     events.TransportSwapped,
				IntentID: req.IntentID,
				Status:   s.result.Status,
				Data:     map[string]any{"failed": tr.Name(), "error": errString(err)},
			})
		}
	}

	if lastErr == nil {
		lastErr = errors.New("no status transport configured")
	}
	return s.result, types.NewTransportError("all status transports failed", lastErr)
}

// runTransport reports done=true when tracking is over, whether by terminal
// status, expiry or cancellation. done=false means the transport failed.
func (t *Tracker) runTransport(ctx context.Context, s *session, tr StatusTransport, expiry <-chan time.Time) (bool, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	updates := make(chan types.PaymentStatus, 16)
	finished := make(chan error, 1)
	go func() {
		finished <- tr.Run(runCtx, s.req.OrderID, func(st types.PaymentStatus) {
			select {
			case updates <- st:
			case <-runCtx.Done():
			}
		})
	}()

	stop := func() {
		cancel()
		<-finished
	}

	s.result.Transport = tr.Name()
	for {
		select {
		case st := <-updates:
			s.apply(st, tr.Name())
			if s.result.Status.IsTerminal() {
				stop()
				return true, nil
			}
		case err := <-finished:
			for drained := false; !drained; {
				select {
				case st := <-updates:
					s.apply(st, tr.Name())
				default:
					drained = true
				}
			}
			if s.result.Status.IsTerminal() {
				return true, nil
			}
			if ctx.Err() != nil {
				return true, ctx.Err()
			}
			if err == nil {
				err = errors.New(tr.Name() + " feed closed")
			}
			return false, err
		case <-expiry:
			stop()
			s.expire(tr.Name())
			return true, nil
		case <-ctx.Done():
			stop()
			return true, ctx.Err()
		}
	}
}

func (s *session) expire(transport string) {
	s.t.log.Warn("artifact expired before a terminal status", map[string]any{
		"intent": s.req.IntentID,
		"order":  s.req.OrderID,
	})
	s.apply(types.StatusExpired, transport)
	s.result.Expired = s.result.Status == types.StatusExpired
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
