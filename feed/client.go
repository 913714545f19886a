package feed

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/opdacuont2563-hash/surgibot/backoff"
)

// Client consumes the push feed over WebSocket. A broken connection is
// re-dialed with exponential backoff; the Frames channel stays open
// across reconnects and closes only when the client shuts down or gives
// up for good.
type Client struct {
	url     string
	logger  *slog.Logger
	backoff backoff.Strategy

	// maxReconnects caps reconnection attempts; 0 means retry forever.
	maxReconnects int

	conn   net.Conn
	mu     sync.Mutex
	closed atomic.Bool

	frames chan *Frame
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientLogger sets the logger used for connection diagnostics.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithReconnectBackoff replaces the delay strategy between reconnects.
func WithReconnectBackoff(strategy backoff.Strategy) ClientOption {
	return func(c *Client) {
		if strategy != nil {
			c.backoff = strategy
		}
	}
}

// WithMaxReconnects caps reconnection attempts before the client gives
// up and closes its frame channel.
func WithMaxReconnects(n int) ClientOption {
	return func(c *Client) {
		if n >= 0 {
			c.maxReconnects = n
		}
	}
}

// WithFrameBuffer sets the Frames channel capacity.
func WithFrameBuffer(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.frames = make(chan *Frame, n)
		}
	}
}

// Dial connects to a feed endpoint, e.g. "ws://10.0.0.5:8743/ws". A
// token, when given, is carried as a query parameter.
func Dial(ctx context.Context, rawURL, token string, opts ...ClientOption) (*Client, error) {
	endpoint, err := feedURL(rawURL, token)
	if err != nil {
		return nil, err
	}

	c := &Client{
		url:     endpoint,
		logger:  slog.Default(),
		backoff: backoff.DefaultReconnect(),
		frames:  make(chan *Frame, DefaultBufferSize),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.connect(ctx); err != nil {
		return nil, fmt.Errorf("feed: dial: %w", err)
	}
	go c.readLoop()
	return c, nil
}

// Frames returns the inbound frame channel. Ping frames are answered
// internally and never appear here.
func (c *Client) Frames() <-chan *Frame { return c.frames }

// Close shuts the client down. The Frames channel closes once the read
// loop drains out.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Client) connect(ctx context.Context) error {
	conn, _, _, err := ws.Dial(ctx, c.url)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if old := c.conn; old != nil {
		old.Close()
	}
	c.conn = conn
	// Close may have run between the closed check in reconnect and here;
	// it would have missed this conn, so shut it down ourselves.
	if c.closed.Load() {
		c.mu.Unlock()
		conn.Close()
		return net.ErrClosed
	}
	c.mu.Unlock()
	return nil
}

// readLoop pulls frames off the wire until the client closes or the
// reconnect budget runs out. It owns the frames channel.
func (c *Client) readLoop() {
	defer close(c.frames)

	for {
		data, err := wsutil.ReadServerBinary(c.currentConn())
		if err != nil {
			if c.closed.Load() {
				return
			}
			c.logger.Warn("feed: read error", "error", err)
			if !c.reconnect() {
				return
			}
			continue
		}

		frame, err := DecodeFrame(data)
		if err != nil {
			c.logger.Warn("feed: invalid frame", "error", err)
			continue
		}

		if frame.Type == FramePing {
			c.pong()
			continue
		}
		c.deliver(frame)
	}
}

// deliver hands the frame to the consumer, evicting the oldest buffered
// frame when the consumer lags.
func (c *Client) deliver(f *Frame) {
	select {
	case c.frames <- f:
		return
	default:
	}
	select {
	case <-c.frames:
	default:
	}
	select {
	case c.frames <- f:
	default:
	}
}

// reconnect re-dials until it succeeds or the attempt budget is spent.
// Returns false when the client should stop for good.
func (c *Client) reconnect() bool {
	for attempt := 1; ; attempt++ {
		if c.closed.Load() {
			return false
		}
		if c.maxReconnects > 0 && attempt > c.maxReconnects {
			c.logger.Error("feed: giving up after reconnect attempts", "attempts", c.maxReconnects)
			return false
		}

		delay := c.backoff.Delay(attempt)
		c.logger.Info("feed: reconnecting", "attempt", attempt, "delay", delay)
		time.Sleep(delay)

		if c.closed.Load() {
			return false
		}
		if err := c.connect(context.Background()); err != nil {
			c.logger.Warn("feed: reconnect failed", "error", err)
			continue
		}
		c.logger.Info("feed: reconnected")
		return true
	}
}

func (c *Client) currentConn() net.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Client) pong() {
	f, err := NewFrame(FramePong, "", nil)
	if err != nil {
		return
	}
	data, err := f.Encode()
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := wsutil.WriteClientBinary(c.conn, data); err != nil {
		c.logger.Debug("feed: pong write failed", "error", err)
	}
}

func feedURL(rawURL, token string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("feed: bad url: %w", err)
	}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
