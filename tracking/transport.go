package tracking

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/gorilla/websocket"

	"github.com/vitwit/xpay/clients"
	"github.com/vitwit/xpay/logger"
	"github.com/vitwit/xpay/types"
	"github.com/vitwit/xpay/utils"
)

const (
	DefaultPollInterval = 3 * time.Second
	DefaultMaxFailures  = 3
)

// StatusTransport feeds status updates for one order into emit. Run blocks
// until ctx is cancelled or the feed fails; a nil return means the source
// closed the feed.
type StatusTransport interface {
	Name() string
	Run(ctx context.Context, orderID string, emit func(types.PaymentStatus)) error
}

// statusMessage is the JSON body served by status sources over both HTTP and
// the push channel.
type statusMessage struct {
	OrderID string `json:"orderId,omitempty"`
	Status  string `json:"status"`
}

func statusPath(base, orderID string) string {
	return strings.TrimRight(base, "/") + "/status/" + url.PathEscape(orderID)
}

// PushTransport subscribes to a websocket feed at {base}/status/{orderId}.
type PushTransport struct {
	baseURL string
	dialer  *websocket.Dialer
	log     logger.Logger
}

func NewPushTransport(baseURL string, handshakeTimeout time.Duration, log logger.Logger) *PushTransport {
	if log == nil {
		log = logger.NoopLogger{}
	}
	// status sources often publish an http(s) base; the push channel is the same host
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		baseURL = "wss://" + strings.TrimPrefix(baseURL, "https://")
	case strings.HasPrefix(baseURL, "http://"):
		baseURL = "ws://" + strings.TrimPrefix(baseURL, "http://")
	}
	return &PushTransport{
		baseURL: baseURL,
		dialer:  &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		log:     log,
	}
}

func (p *PushTransport) Name() string { return "push" }

func (p *PushTransport) Run(ctx context.Context, orderID string, emit func(types.PaymentStatus)) error {
	endpoint := statusPath(p.baseURL, orderID)
	conn, _, err := p.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", endpoint, err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			// unblocks ReadJSON
			conn.Close()
		case <-stop:
		}
	}()

	for {
		var msg statusMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("push feed: %w", err)
		}
		if msg.OrderID != "" && msg.OrderID != orderID {
			continue
		}
		status, err := types.ParsePaymentStatus(msg.Status)
		if err != nil {
			p.log.Warn("ignoring push message", map[string]any{"order": orderID, "error": err})
			continue
		}
		emit(status)
	}
}

// PollTransport requests {base}/status/{orderId} at a fixed interval.
type PollTransport struct {
	baseURL     string
	interval    time.Duration
	maxFailures int
	http        *clients.HTTPClient
	log         logger.Logger
}

func NewPollTransport(baseURL string, interval time.Duration, http *clients.HTTPClient, log logger.Logger) *PollTransport {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if log == nil {
		log = logger.NoopLogger{}
	}
	if http == nil {
		http = clients.NewHTTPClient("status", 10*time.Second, log)
	}
	return &PollTransport{
		baseURL:     baseURL,
		interval:    interval,
		maxFailures: DefaultMaxFailures,
		http:        http,
		log:         log,
	}
}

func (p *PollTransport) Name() string { return "poll" }

func (p *PollTransport) Run(ctx context.Context, orderID string, emit func(types.PaymentStatus)) error {
	endpoint := statusPath(p.baseURL, orderID)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	failures := 0
	for {
		var msg statusMessage
		err := p.http.GetJSON(ctx, endpoint, &msg)
		if err == nil {
			var status types.PaymentStatus
			status, err = types.ParsePaymentStatus(msg.Status)
			if err == nil {
				failures = 0
				emit(status)
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			p.log.Debug("status poll failed", map[string]any{
				"order":    orderID,
				"failures": failures,
				"error":    err,
			})
			if failures >= p.maxFailures {
				return fmt.Errorf("poll %s: %d consecutive failures: %w", endpoint, failures, err)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ReceiptTransport follows a submitted transaction on chain. The order id is
// the transaction hash.
type ReceiptTransport struct {
	reader      clients.ChainReader
	interval    time.Duration
	maxFailures int
}

func NewReceiptTransport(reader clients.ChainReader, interval time.Duration) *ReceiptTransport {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &ReceiptTransport{reader: reader, interval: interval, maxFailures: DefaultMaxFailures}
}

func (r *ReceiptTransport) Name() string { return "receipt" }

func (r *ReceiptTransport) Run(ctx context.Context, orderID string, emit func(types.PaymentStatus)) error {
	hash, err := utils.ValidateTransactionHash(orderID)
	if err != nil {
		return err
	}
	// a hash exists, so the wallet has broadcast it
	emit(types.StatusProcessing)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	failures := 0
	for {
		receipt, err := r.reader.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			if receipt.Status == gethtypes.ReceiptStatusSuccessful {
				emit(types.StatusCompleted)
			} else {
				emit(types.StatusFailed)
			}
			return nil
		case errors.Is(err, ethereum.NotFound):
			failures = 0
		default:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			if failures >= r.maxFailures {
				return fmt.Errorf("receipt %s: %w", hash.Hex(), err)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
