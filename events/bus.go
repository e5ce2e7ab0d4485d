package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vitwit/xpay/logger"
	"github.com/vitwit/xpay/types"
)

// Type names one kind of orchestration event.
type Type string

const (
	IntentCreated     Type = "intent.created"
	StageChanged      Type = "intent.stage_changed"
	ApprovalRequested Type = "allowance.approval_requested"
	ApprovalResolved  Type = "allowance.approval_resolved"
	SimulationFailed  Type = "simulation.failed"
	ArtifactIssued    Type = "artifact.issued"
	TransactionSent   Type = "transaction.sent"
	StatusChanged     Type = "status.changed"
	TransportSwapped  Type = "tracking.transport_swapped"
	IntentTerminated  Type = "intent.terminated"
)

// Event is the envelope delivered to subscribers.
type Event struct {
	ID        string              `json:"id"`
	Type      Type                `json:"type"`
	IntentID  string              `json:"intentId"`
	Timestamp time.Time           `json:"timestamp"`
	Stage     types.IntentStage   `json:"stage,omitempty"`
	Status    types.PaymentStatus `json:"status,omitempty"`
	Error     *types.PaymentError `json:"error,omitempty"`
	Data      map[string]any      `json:"data,omitempty"`
}

// Handler receives events synchronously. Handlers must not block.
type Handler func(Event)

type subscription struct {
	id      uint64
	handler Handler
	types   map[Type]struct{}
}

func (s *subscription) wants(t Type) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// Bus is an in-process typed publish/subscribe hub.
type Bus struct {
	mu     sync.RWMutex
	subs   []*subscription
	nextID uint64
	now    func() time.Time
	log    logger.Logger
}

func NewBus(log logger.Logger) *Bus {
	if log == nil {
		log = logger.NoopLogger{}
	}
	return &Bus{now: time.Now, log: log}
}

// Subscribe registers handler for the given types, or for every type when
// none are given. The returned func removes the subscription.
func (b *Bus) Subscribe(handler Handler, kinds ...Type) func() {
	s := &subscription{handler: handler, types: make(map[Type]struct{}, len(kinds))}
	for _, t := range kinds {
		s.types[t] = struct{}{}
	}

	b.mu.Lock()
	b.nextID++
	s.id = b.nextID
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(s.id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers ev to matching subscribers in subscription order. Missing
// ids and timestamps are filled in.
func (b *Bus) Publish(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = b.now()
	}

	b.mu.RLock()
	subs := make([]*subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		if s.wants(ev.Type) {
			b.deliver(s, ev)
		}
	}
}

func (b *Bus) deliver(s *subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked", map[string]any{
				"event":  string(ev.Type),
				"intent": ev.IntentID,
				"panic":  r,
			})
		}
	}()
	s.handler(ev)
}
