package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vitwit/xpay/allowance"
	"github.com/vitwit/xpay/builder"
	"github.com/vitwit/xpay/clients"
	"github.com/vitwit/xpay/encoding"
	"github.com/vitwit/xpay/events"
	"github.com/vitwit/xpay/fees"
	"github.com/vitwit/xpay/logger"
	"github.com/vitwit/xpay/metrics"
	"github.com/vitwit/xpay/registry"
	"github.com/vitwit/xpay/routing"
	"github.com/vitwit/xpay/simulation"
	"github.com/vitwit/xpay/tracking"
	"github.com/vitwit/xpay/types"
)

var errIntentCancelled = errors.New("payment intent cancelled")

// Components are the pipeline stages an Orchestrator drives, in order.
type Components struct {
	Registry  *registry.Registry
	Wallet    clients.Wallet
	Gate      *clients.SigningGate
	Detector  *routing.Detector
	Selector  *routing.Selector
	Fees      *fees.Estimator
	Builder   *builder.Builder
	Allowance *allowance.Guard
	Simulator *simulation.Simulator
	Encoder   *encoding.Encoder
	// Transports picks status transports for Track.
	Transports TransportFactory
}

// Orchestrator owns every in-flight PaymentIntent. Steps of one intent run
// sequentially in the caller's goroutine; separate intents may run
// concurrently and share only the signing gate.
type Orchestrator struct {
	c Components

	bus         *events.Bus
	now         func() time.Time
	log         logger.Logger
	metrics     metrics.Recorder
	trackerOpts []tracking.Option

	mu      sync.Mutex
	intents map[string]*entry
}

type entry struct {
	intent *types.PaymentIntent
	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

type Option func(*Orchestrator)

func WithBus(b *events.Bus) Option {
	return func(o *Orchestrator) { o.bus = b }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func WithLogger(l logger.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

func WithMetrics(m metrics.Recorder) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTrackerOptions are appended to every tracker Track creates.
func WithTrackerOptions(opts ...tracking.Option) Option {
	return func(o *Orchestrator) { o.trackerOpts = append(o.trackerOpts, opts...) }
}

func New(c Components, opts ...Option) (*Orchestrator, error) {
	switch {
	case c.Registry == nil:
		return nil, errors.New("orchestrator: registry is required")
	case c.Builder == nil:
		return nil, errors.New("orchestrator: builder is required")
	case c.Encoder == nil:
		return nil, errors.New("orchestrator: encoder is required")
	case c.Fees == nil:
		return nil, errors.New("orchestrator: fee estimator is required")
	case c.Allowance == nil:
		return nil, errors.New("orchestrator: allowance guard is required")
	}

	o := &Orchestrator{
		c:       c,
		now:     time.Now,
		log:     logger.NoopLogger{},
		metrics: metrics.NoopRecorder{},
		intents: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.bus == nil {
		o.bus = events.NewBus(o.log)
	}
	if o.c.Detector == nil {
		o.c.Detector = routing.NewDetector(c.Wallet, c.Registry)
	}
	if o.c.Selector == nil {
		o.c.Selector = routing.NewSelector(c.Registry)
	}
	if o.c.Gate == nil {
		o.c.Gate = clients.NewSigningGate()
	}
	if o.c.Simulator == nil {
		o.c.Simulator = simulation.New(nil, 0, o.log, o.metrics)
	}
	return o, nil
}

// Bus is the event bus intents publish on.
func (o *Orchestrator) Bus() *events.Bus {
	return o.bus
}

// Get returns a snapshot of an in-flight intent.
func (o *Orchestrator) Get(id string) (*types.PaymentIntent, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.intents[id]
	if !ok {
		return nil, false
	}
	cp := *e.intent
	return &cp, true
}

// Active lists snapshots of every in-flight intent, oldest first.
func (o *Orchestrator) Active() []*types.PaymentIntent {
	o.mu.Lock()
	out := make([]*types.PaymentIntent, 0, len(o.intents))
	for _, e := range o.intents {
		cp := *e.intent
		out = append(out, &cp)
	}
	o.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Cancel stops any running step or status transport of the intent and
// discards it. A cancelled intent can never be sent.
func (o *Orchestrator) Cancel(id string) error {
	e, err := o.lookup(id)
	if err != nil {
		return err
	}
	o.terminate(e, types.StatusCancelled, types.NewCancelledError(types.ErrIntentCancelled, "payment cancelled by payer"))
	return nil
}

// Close cancels every in-flight intent.
func (o *Orchestrator) Close() {
	for _, p := range o.Active() {
		_ = o.Cancel(p.ID)
	}
}

func (o *Orchestrator) register(p *types.PaymentIntent) *entry {
	ctx, cancel := context.WithCancel(context.Background())
	e := &entry{intent: p, ctx: ctx, cancel: cancel}

	o.mu.Lock()
	o.intents[p.ID] = e
	n := len(o.intents)
	o.mu.Unlock()

	o.metrics.SetGauge("active_intents", float64(n))
	return e
}

func (o *Orchestrator) lookup(id string) (*entry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.intents[id]
	if !ok {
		return nil, types.NewPreconditionError(types.ErrUnknownIntent, fmt.Sprintf("no active payment intent %q", id), types.RemedyRegenerate)
	}
	return e, nil
}

func (o *Orchestrator) snapshot(e *entry) *types.PaymentIntent {
	o.mu.Lock()
	defer o.mu.Unlock()
	cp := *e.intent
	return &cp
}

// mutate applies fn to the live intent. Values assigned to an intent are
// never modified afterwards, so snapshots may share them.
func (o *Orchestrator) mutate(e *entry, fn func(p *types.PaymentIntent)) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if e.closed {
		return types.NewCancelledError(types.ErrIntentCancelled, "payment intent is no longer active")
	}
	fn(e.intent)
	e.intent.UpdatedAt = o.now()
	return nil
}

// advance records stage and publishes the change.
func (o *Orchestrator) advance(e *entry, stage types.IntentStage, fn func(p *types.PaymentIntent)) error {
	var p types.PaymentIntent
	err := o.mutate(e, func(live *types.PaymentIntent) {
		if fn != nil {
			fn(live)
		}
		live.Stage = stage
		p = *live
	})
	if err != nil {
		return err
	}

	o.metrics.IncCounter(metrics.StageCompleted, labels(&p))
	o.log.Info("payment intent advanced", fields(&p))
	o.bus.Publish(events.Event{Type: events.StageChanged, IntentID: p.ID, Stage: stage, Status: p.Status})
	return nil
}

// fail records err as the intent's outcome and returns it typed. The intent
// stays active so the payer can act on the remedy.
func (o *Orchestrator) fail(e *entry, err error, fallback types.ErrorKind) *types.PaymentError {
	pe := o.classify(e, err, fallback)
	var p types.PaymentIntent
	if o.mutate(e, func(live *types.PaymentIntent) {
		live.Outcome = pe
		p = *live
	}) != nil {
		return pe
	}

	o.metrics.IncCounter(metrics.StageFailed, labels(&p))
	o.log.Warn("payment intent step failed", logger.Merge(fields(&p), map[string]any{
		"kind":   string(pe.Kind),
		"code":   pe.Code,
		"remedy": string(pe.Remedy),
		"error":  pe,
	}))
	return pe
}

// classify turns cancellation of the intent's own context into a cancelled
// error, and anything untyped into fallback.
func (o *Orchestrator) classify(e *entry, err error, fallback types.ErrorKind) *types.PaymentError {
	if e.ctx.Err() != nil || errors.Is(err, errIntentCancelled) {
		return types.NewCancelledError(types.ErrIntentCancelled, "payment intent cancelled")
	}
	return types.AsPaymentError(err, fallback)
}

// terminate moves the intent to a final status, stops everything running on
// its behalf and drops it.
func (o *Orchestrator) terminate(e *entry, status types.PaymentStatus, pe *types.PaymentError) *types.PaymentIntent {
	o.mu.Lock()
	if e.closed {
		cp := *e.intent
		o.mu.Unlock()
		return &cp
	}
	e.closed = true
	prev := e.intent.Status
	if prev.CanTransition(status) {
		e.intent.Status = status
	}
	if pe != nil {
		e.intent.Outcome = pe
	}
	if e.intent.TxHash == (common.Hash{}) {
		// an unsent draft must not outlive the intent
		e.intent.Draft = nil
	}
	e.intent.Stage = types.StageTerminated
	e.intent.UpdatedAt = o.now()
	delete(o.intents, e.intent.ID)
	n := len(o.intents)
	p := *e.intent
	o.mu.Unlock()

	e.cancel()

	o.metrics.IncCounter(metrics.IntentsTerminal, labels(&p))
	o.metrics.SetGauge("active_intents", float64(n))
	o.log.Info("payment intent terminated", logger.Merge(fields(&p), map[string]any{"status": string(p.Status)}))
	ev := events.Event{Type: events.IntentTerminated, IntentID: p.ID, Stage: p.Stage, Status: p.Status, Error: p.Outcome}
	if prev != p.Status {
		o.bus.Publish(events.Event{Type: events.StatusChanged, IntentID: p.ID, Status: p.Status, Data: map[string]any{"from": string(prev)}})
	}
	o.bus.Publish(ev)
	return &p
}

// bind derives a context for one operation that is also cancelled when the
// intent is.
func (o *Orchestrator) bind(ctx context.Context, e *entry) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)
	stop := context.AfterFunc(e.ctx, func() { cancel(errIntentCancelled) })
	return ctx, func() {
		stop()
		cancel(nil)
	}
}

func labels(p *types.PaymentIntent) map[string]string {
	return map[string]string{"network": string(p.PayerNetwork), "mode": string(p.Mode)}
}

func fields(p *types.PaymentIntent) map[string]any {
	return map[string]any{
		"intent":  p.ID,
		"stage":   string(p.Stage),
		"network": string(p.PayerNetwork),
		"payee":   string(p.Target.Network),
		"mode":    string(p.Mode),
	}
}
