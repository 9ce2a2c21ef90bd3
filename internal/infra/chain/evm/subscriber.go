package evm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vietddude/blockmon/internal/core/domain"
	"github.com/vietddude/blockmon/internal/indexing/metrics"
)

// SubscriberConfig configures the newHeads WebSocket subscriber.
type SubscriberConfig struct {
	// URL is the node's WebSocket endpoint (ws:// or wss://).
	URL string

	// InitialBackoff is the delay before the first reconnection attempt.
	// Defaults to 1 second.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between reconnection attempts.
	// Defaults to 30 seconds.
	MaxBackoff time.Duration

	// BackoffFactor multiplies the delay after each failed attempt.
	// Defaults to 2.0.
	BackoffFactor float64

	// PingInterval is how often a ping is sent on an idle connection.
	// Defaults to 30 seconds.
	PingInterval time.Duration

	// PongTimeout bounds the ping write.
	// Defaults to 10 seconds.
	PongTimeout time.Duration

	// ReadTimeout is how long to wait for any frame before the connection is dropped.
	// Defaults to 60 seconds.
	ReadTimeout time.Duration

	// BufferSize is the capacity of the outgoing block channel.
	// Defaults to 16.
	BufferSize int

	// MaxReconnects is the number of consecutive failed connection attempts
	// after which the stream is closed. Zero means retry forever.
	MaxReconnects int

	Logger *slog.Logger
}

func (c *SubscriberConfig) applyDefaults() {
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = 2.0
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 10 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 16
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type jsonRPCResponse struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *jsonRPCError   `json:"error,omitempty"`
}

type subscriptionParams struct {
	Subscription string          `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

// Subscriber streams new head blocks over an eth_subscribe("newHeads") WebSocket
// subscription, reconnecting with exponential backoff when the connection drops.
// The returned channel is closed once the subscriber gives up or is closed.
type Subscriber struct {
	cfg    SubscriberConfig
	log    *slog.Logger
	blocks chan domain.Block

	mu     sync.RWMutex
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	closed bool

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewSubscriber validates cfg and returns an idle subscriber.
func NewSubscriber(cfg SubscriberConfig) (*Subscriber, error) {
	if cfg.URL == "" {
		return nil, errors.New("websocket url is required")
	}
	cfg.applyDefaults()

	return &Subscriber{
		cfg:    cfg,
		log:    cfg.Logger.With("component", "subscriber"),
		blocks: make(chan domain.Block, cfg.BufferSize),
		done:   make(chan struct{}),
	}, nil
}

// Subscribe starts the connection manager and returns the block stream.
func (s *Subscriber) Subscribe(ctx context.Context) (<-chan domain.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.New("subscriber is closed")
	}
	if s.ctx != nil {
		return nil, errors.New("already subscribed")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.connectionManager()

	return s.blocks, nil
}

// Close stops the subscription and waits for the connection manager to exit.
func (s *Subscriber) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		cancel := s.cancel
		s.mu.Unlock()

		close(s.done)
		if cancel != nil {
			cancel()
		}
		s.closeConnection()
	})
	s.wg.Wait()
	return nil
}

func (s *Subscriber) connectionManager() {
	defer s.wg.Done()
	defer close(s.blocks)

	backoff := s.cfg.InitialBackoff
	failures := 0
	first := true

	for {
		if s.stopped() {
			return
		}

		if !first {
			metrics.SubscriberReconnects.Inc()
		}
		first = false

		if err := s.connectAndSubscribe(); err != nil {
			failures++
			if s.cfg.MaxReconnects > 0 && failures > s.cfg.MaxReconnects {
				s.log.Error("giving up on websocket", "error", err, "attempts", failures)
				return
			}
			s.log.Warn("failed to connect", "error", err, "backoff", backoff)

			select {
			case <-s.done:
				return
			case <-s.ctx.Done():
				return
			case <-time.After(backoff):
			}

			backoff = time.Duration(float64(backoff) * s.cfg.BackoffFactor)
			if backoff > s.cfg.MaxBackoff {
				backoff = s.cfg.MaxBackoff
			}
			continue
		}

		backoff = s.cfg.InitialBackoff
		failures = 0
		s.log.Info("subscribed to newHeads", "url", s.cfg.URL)

		s.readLoop()

		if !s.stopped() {
			s.log.Warn("websocket connection lost, reconnecting")
		}
	}
}

func (s *Subscriber) stopped() bool {
	select {
	case <-s.done:
		return true
	case <-s.ctx.Done():
		return true
	default:
		return false
	}
}

// connectAndSubscribe dials the endpoint and confirms the newHeads subscription.
func (s *Subscriber) connectAndSubscribe() error {
	conn, _, err := websocket.DefaultDialer.DialContext(s.ctx, s.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial websocket: %w", err)
	}

	fail := func(err error) error {
		conn.Close()
		return err
	}

	if err := conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
		return fail(fmt.Errorf("set read deadline: %w", err))
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	})

	req := jsonRPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "eth_subscribe",
		Params:  []any{"newHeads"},
	}
	if err := conn.WriteJSON(req); err != nil {
		return fail(fmt.Errorf("send subscription request: %w", err))
	}

	var resp jsonRPCResponse
	if err := conn.ReadJSON(&resp); err != nil {
		return fail(fmt.Errorf("read subscription response: %w", err))
	}
	if resp.Error != nil {
		return fail(fmt.Errorf("subscription failed: %s", resp.Error.Message))
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fail(errors.New("subscriber is closed"))
	}
	s.conn = conn
	s.mu.Unlock()

	return nil
}

// readLoop forwards headers until the connection fails or the subscriber stops.
func (s *Subscriber) readLoop() {
	pingTicker := time.NewTicker(s.cfg.PingInterval)
	defer pingTicker.Stop()

	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return
	}

	stop := make(chan struct{})
	defer close(stop)

	readErr := make(chan error, 1)
	received := make(chan domain.Block)

	go func() {
		for {
			if err := conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
				readErr <- fmt.Errorf("set read deadline: %w", err)
				return
			}

			var msg jsonRPCResponse
			if err := conn.ReadJSON(&msg); err != nil {
				readErr <- err
				return
			}
			if msg.Method != "eth_subscription" || msg.Params == nil {
				continue
			}

			var params subscriptionParams
			if err := json.Unmarshal(msg.Params, &params); err != nil {
				s.log.Warn("failed to parse subscription params", "error", err)
				continue
			}
			block, err := ParseHeader(params.Result)
			if err != nil {
				s.log.Warn("failed to parse header", "error", err)
				continue
			}

			select {
			case received <- *block:
			case <-stop:
				return
			}
		}
	}()

	for {
		select {
		case <-s.done:
			s.closeConnection()
			return
		case <-s.ctx.Done():
			s.closeConnection()
			return
		case err := <-readErr:
			s.log.Warn("read error", "error", err)
			s.closeConnection()
			return
		case block := <-received:
			select {
			case s.blocks <- block:
				s.log.Debug("head received", "number", block.Number, "hash", block.Hash.Hex())
			case <-s.done:
				s.closeConnection()
				return
			case <-s.ctx.Done():
				s.closeConnection()
				return
			}
		case <-pingTicker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.PongTimeout)); err != nil {
				s.log.Warn("ping failed", "error", err)
				s.closeConnection()
				return
			}
		}
	}
}

func (s *Subscriber) closeConnection() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		s.conn.Close()
		s.conn = nil
	}
}
