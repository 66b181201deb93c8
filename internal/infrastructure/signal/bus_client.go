package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"voicelink/internal/core/domain"
	"voicelink/pkg/config"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// BusConfig holds the connection settings for the signaling bus.
type BusConfig struct {
	URL              string
	AuthSecret       string
	ClientID         string
	DialTimeout      time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	ReconnectMaxWait time.Duration
	SendRate         float64 // messages per second, 0 = unlimited
	SendBurst        int
}

// BusConfigFrom translates the application config into bus settings.
func BusConfigFrom(cfg *config.Config) BusConfig {
	return BusConfig{
		URL:              cfg.Signaling.URL,
		AuthSecret:       cfg.Signaling.AuthSecret,
		DialTimeout:      cfg.Signaling.DialTimeout,
		WriteTimeout:     cfg.Signaling.WriteTimeout,
		PingInterval:     cfg.Signaling.PingInterval,
		ReconnectMaxWait: cfg.Signaling.ReconnectMaxWait,
		SendRate:         cfg.Signaling.SendRate,
		SendBurst:        cfg.Signaling.SendBurst,
	}
}

// BusClient is the websocket client for the signaling bus. It implements
// ports.SignalBus: delivery is at-least-once and a dropped connection is
// re-dialed with exponential backoff, firing the reconnect handler once the
// link is back.
type BusClient struct {
	cfg     BusConfig
	logger  *zap.SugaredLogger
	limiter *rate.Limiter

	mu          sync.Mutex
	conn        *websocket.Conn
	writeMu     sync.Mutex
	onMessage   func(domain.Envelope)
	onReconnect func()
	closed      bool
	done        chan struct{}
}

// NewBusClient creates a client. Connect must be called before Send.
func NewBusClient(cfg BusConfig, logger *zap.SugaredLogger) *BusClient {
	if cfg.ClientID == "" {
		cfg.ClientID = uuid.NewString()
	}
	c := &BusClient{
		cfg:    cfg,
		logger: logger,
		done:   make(chan struct{}),
	}
	if cfg.SendRate > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.SendRate), cfg.SendBurst)
	}
	return c
}

// Connect dials the bus and starts the read and ping loops.
func (c *BusClient) Connect(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn)
	go c.pingLoop(conn)

	c.logger.Infow("signaling bus connected", "url", c.cfg.URL, "client_id", c.cfg.ClientID)
	return nil
}

func (c *BusClient) dial(ctx context.Context) (*websocket.Conn, error) {
	token, err := c.authToken()
	if err != nil {
		return nil, fmt.Errorf("sign auth token: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.DialTimeout}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial signaling bus: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial signaling bus: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(c.readWait()))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.readWait()))
	})
	return conn, nil
}

func (c *BusClient) authToken() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   c.cfg.ClientID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(24 * time.Hour)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(c.cfg.AuthSecret))
}

func (c *BusClient) readWait() time.Duration {
	return c.cfg.PingInterval*2 + 10*time.Second
}

// Send publishes one message. The bus server stamps From with the
// authenticated sender identity; an empty target addresses the whole room.
func (c *BusClient) Send(ctx context.Context, room domain.RoomID, target domain.UserID, msgType domain.MessageType, payload interface{}) error {
	c.mu.Lock()
	conn := c.conn
	closed := c.closed
	c.mu.Unlock()
	if closed || conn == nil {
		return domain.ErrSignalingUnavailable
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("send rate limit: %w", err)
		}
	}

	env := domain.Envelope{Room: room, To: target, Type: msgType}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		env.Payload = raw
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteJSON(env); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSignalingUnavailable, err)
	}
	return nil
}

// OnMessage registers the inbound handler, replacing any previous one.
func (c *BusClient) OnMessage(handler func(domain.Envelope)) {
	c.mu.Lock()
	c.onMessage = handler
	c.mu.Unlock()
}

// OnReconnect registers the handler fired after a dropped link is restored.
func (c *BusClient) OnReconnect(handler func()) {
	c.mu.Lock()
	c.onReconnect = handler
	c.mu.Unlock()
}

func (c *BusClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	close(c.done)
	c.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *BusClient) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if closed {
				return
			}
			c.logger.Warnw("signaling bus read failed, reconnecting", "error", err)
			conn.Close()
			c.reconnect()
			return
		}

		var env domain.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Debugw("dropping malformed bus message", "error", err)
			continue
		}

		c.mu.Lock()
		handler := c.onMessage
		c.mu.Unlock()
		if handler != nil {
			handler(env)
		}
	}
}

func (c *BusClient) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// reconnect re-dials with exponential backoff until the link is back or the
// client is closed, then fires the reconnect handler.
func (c *BusClient) reconnect() {
	policy := backoff.NewExponentialBackOff()
	policy.MaxInterval = c.cfg.ReconnectMaxWait
	policy.MaxElapsedTime = 0

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	var conn *websocket.Conn
	err := backoff.Retry(func() error {
		var dialErr error
		conn, dialErr = c.dial(ctx)
		if dialErr != nil {
			c.logger.Debugw("signaling bus redial failed", "error", dialErr)
		}
		return dialErr
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	handler := c.onReconnect
	c.mu.Unlock()

	go c.readLoop(conn)
	go c.pingLoop(conn)

	c.logger.Infow("signaling bus reconnected", "url", c.cfg.URL)
	if handler != nil {
		handler()
	}
}
