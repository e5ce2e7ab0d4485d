package tracking

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/xpay/clients"
	"github.com/vitwit/xpay/clients/clienttest"
	"github.com/vitwit/xpay/events"
	"github.com/vitwit/xpay/types"
)

type scriptTransport struct {
	name     string
	statuses []types.PaymentStatus
	err      error
	hold     bool

	started atomic.Int32
	stopped atomic.Int32
}

func (s *scriptTransport) Name() string { return s.name }

func (s *scriptTransport) Run(ctx context.Context, _ string, emit func(types.PaymentStatus)) error {
	s.started.Add(1)
	defer s.stopped.Add(1)
	for _, st := range s.statuses {
		emit(st)
	}
	if s.hold {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.err
}

func pushServer(t *testing.T, orderID string, statuses ...string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status/"+orderID {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(statusMessage{OrderID: "someone-else", Status: "failed"})
		for _, st := range statuses {
			_ = conn.WriteJSON(statusMessage{OrderID: orderID, Status: st})
		}
		_, _, _ = conn.ReadMessage()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func pollServer(t *testing.T, status string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"` + status + `"}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestTrackPushToCompletion(t *testing.T) {
	srv := pushServer(t, "order-1", "processing", "completed")
	fallback := &scriptTransport{name: "poll", hold: true}

	bus := events.NewBus(nil)
	var seen []types.PaymentStatus
	bus.Subscribe(func(e events.Event) { seen = append(seen, e.Status) }, events.StatusChanged)

	tr := NewTracker(NewPushTransport(srv.URL, time.Second, nil), fallback, WithBus(bus))
	res, err := tr.Track(context.Background(), Request{IntentID: "i1", OrderID: "order-1", ExpiresAt: time.Now().Add(time.Minute)})
	require.NoError(t, err)

	assert.Equal(t, types.StatusCompleted, res.Status)
	assert.False(t, res.Expired)
	assert.Equal(t, "push", res.Transport)
	assert.Equal(t, []types.PaymentStatus{types.StatusPending, types.StatusProcessing, types.StatusCompleted}, res.History)
	assert.Equal(t, []types.PaymentStatus{types.StatusProcessing, types.StatusCompleted}, seen)
	assert.Zero(t, fallback.started.Load())
}

func TestTrackFallsBackToPolling(t *testing.T) {
	broken := httptest.NewServer(http.NotFoundHandler())
	defer broken.Close()
	srv, hits := pollServer(t, "succeeded")

	bus := events.NewBus(nil)
	var swapped []events.Event
	bus.Subscribe(func(e events.Event) { swapped = append(swapped, e) }, events.TransportSwapped)

	tr := NewTracker(
		NewPushTransport(broken.URL, time.Second, nil),
		NewPollTransport(srv.URL, 10*time.Millisecond, nil, nil),
		WithBus(bus),
	)
	res, err := tr.Track(context.Background(), Request{IntentID: "i2", OrderID: "order-2", ExpiresAt: time.Now().Add(time.Minute)})
	require.NoError(t, err)

	assert.Equal(t, types.StatusCompleted, res.Status)
	assert.Equal(t, "poll", res.Transport)
	assert.GreaterOrEqual(t, hits.Load(), int32(1))
	require.Len(t, swapped, 1)
	assert.Equal(t, "push", swapped[0].Data["failed"])
}

func TestTrackBothTransportsFail(t *testing.T) {
	primary := &scriptTransport{name: "push", err: errors.New("socket closed")}
	fallback := &scriptTransport{name: "poll", err: errors.New("502")}

	res, err := NewTracker(primary, fallback).Track(context.Background(), Request{OrderID: "o", ExpiresAt: time.Now().Add(time.Minute)})
	require.Error(t, err)
	assert.Equal(t, types.KindTransport, types.KindOf(err))
	assert.Equal(t, types.StatusPending, res.Status)
	assert.Equal(t, int32(1), primary.started.Load())
	assert.Equal(t, int32(1), fallback.started.Load())
}

func TestTrackExpiresAndTearsDown(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	fire := make(chan time.Time, 1)
	var waited time.Duration

	primary := &scriptTransport{name: "push", hold: true}
	fallback := &scriptTransport{name: "poll", hold: true}
	tr := NewTracker(primary, fallback,
		WithClock(func() time.Time { return now }),
		WithTimer(func(d time.Duration) <-chan time.Time {
			waited = d
			fire <- now.Add(d + time.Second)
			return fire
		}),
	)

	res, err := tr.Track(context.Background(), Request{OrderID: "o", ExpiresAt: now.Add(300 * time.Second)})
	require.NoError(t, err)

	assert.Equal(t, 300*time.Second, waited)
	assert.Equal(t, types.StatusExpired, res.Status)
	assert.True(t, res.Expired)
	assert.Equal(t, int32(1), primary.stopped.Load())
	assert.Zero(t, fallback.started.Load())
}

func TestTrackAlreadyExpired(t *testing.T) {
	primary := &scriptTransport{name: "push", hold: true}
	res, err := NewTracker(primary, nil).Track(context.Background(), Request{OrderID: "o", ExpiresAt: time.Now().Add(-time.Second)})
	require.NoError(t, err)
	assert.Equal(t, types.StatusExpired, res.Status)
	assert.True(t, res.Expired)
	assert.Zero(t, primary.started.Load())
}

func TestTrackIgnoresBackwardsStatus(t *testing.T) {
	primary := &scriptTransport{name: "push", hold: true, statuses: []types.PaymentStatus{
		types.StatusProcessing, types.StatusPending, types.StatusProcessing, types.StatusFailed, types.StatusCompleted,
	}}
	res, err := NewTracker(primary, nil).Track(context.Background(), Request{OrderID: "o", ExpiresAt: time.Now().Add(time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, []types.PaymentStatus{types.StatusPending, types.StatusProcessing, types.StatusFailed}, res.History)
}

func TestTrackCancellation(t *testing.T) {
	primary := &scriptTransport{name: "push", hold: true}
	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	var err error
	go func() {
		defer wg.Done()
		_, err = NewTracker(primary, nil).Track(ctx, Request{OrderID: "o", ExpiresAt: time.Now().Add(time.Minute)})
	}()
	require.Eventually(t, func() bool { return primary.started.Load() == 1 }, time.Second, time.Millisecond)
	cancel()
	wg.Wait()

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), primary.stopped.Load())
}

func TestReceiptTransport(t *testing.T) {
	chain := clienttest.NewChain()
	hash := common.HexToHash("0xabc1")
	chain.SetReceipt(hash, false)

	tr := NewTracker(NewReceiptTransport(chain, 5*time.Millisecond), nil)
	res, err := tr.Track(context.Background(), Request{OrderID: hash.Hex(), ExpiresAt: time.Now().Add(time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, []types.PaymentStatus{types.StatusPending, types.StatusProcessing, types.StatusFailed}, res.History)
}

func TestReceiptTransportWaitsForMining(t *testing.T) {
	chain := clienttest.NewChain()
	hash := common.HexToHash("0xabc2")
	go func() {
		time.Sleep(20 * time.Millisecond)
		chain.SetReceipt(hash, true)
	}()

	res, err := NewTracker(NewReceiptTransport(chain, 5*time.Millisecond), nil).
		Track(context.Background(), Request{OrderID: hash.Hex(), ExpiresAt: time.Now().Add(time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, res.Status)
}

func TestPollTransportGivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewPollTransport(srv.URL, time.Millisecond, clients.NewHTTPClient("status", time.Second, nil), nil)
	err := p.Run(context.Background(), "o", func(types.PaymentStatus) {})
	require.Error(t, err)
	var httpErr *clients.HTTPError
	assert.ErrorAs(t, err, &httpErr)
}
