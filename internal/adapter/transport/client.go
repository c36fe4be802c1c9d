// Package transport maintains the WebSocket connection to the agent
// runner: it writes commands, fans inbound events out to subscribers, and
// correlates request/response pairs by command id.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/attribute"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"forgechat/internal/domain"
	"forgechat/internal/infra/tracer"
)

const (
	sendBuffer       = 64
	defaultCallWait  = 30 * time.Second
	reconnectInitial = 500 * time.Millisecond
	reconnectMax     = 10 * time.Second
)

// Config configures a Client.
type Config struct {
	URL    string
	Token  string
	Logger *slog.Logger
	// OnConnChange is invoked with the new connectivity state. Optional.
	OnConnChange func(connected bool)
	// CallTimeout bounds Call when the caller's context has no deadline.
	CallTimeout time.Duration
}

// Client is a reconnecting WebSocket client. Events are delivered to
// subscribers in arrival order; delivery never blocks the read loop.
type Client struct {
	cfg     Config
	logger  *slog.Logger
	breaker *gobreaker.CircuitBreaker[domain.Event]

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	pending   map[string]chan domain.Event
	subs      map[int]func(domain.Event)
	nextSub   int
	sendCh    chan domain.Command
	closed    bool

	done chan struct{}
}

// Dial connects to the runner and starts the connection supervisor. The
// returned client keeps reconnecting until Close is called.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallWait
	}
	c := &Client{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "transport"),
		pending: make(map[string]chan domain.Event),
		subs:    make(map[int]func(domain.Event)),
		sendCh:  make(chan domain.Command, sendBuffer),
		done:    make(chan struct{}),
	}
	c.breaker = gobreaker.NewCircuitBreaker[domain.Event](gobreaker.Settings{
		Name:    "runner-call",
		Timeout: 15 * time.Second,
	})

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, domain.WrapOpDetail("transport.dial", domain.ErrNotConnected, err.Error())
	}
	c.adopt(conn)
	go c.supervise()
	return c, nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	opts := &websocket.DialOptions{}
	if c.cfg.Token != "" {
		opts.HTTPHeader = http.Header{"Authorization": {"Bearer " + c.cfg.Token}}
	}
	conn, _, err := websocket.Dial(ctx, c.cfg.URL, opts)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(16 << 20)
	return conn, nil
}

func (c *Client) adopt(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	if c.cfg.OnConnChange != nil {
		c.cfg.OnConnChange(true)
	}
}

// supervise owns the connection lifecycle: one read loop and one write
// loop per connection, redial with backoff when either fails.
func (c *Client) supervise() {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		go c.writeLoop(ctx, conn)
		err := c.readLoop(conn)
		cancel()
		conn.Close(websocket.StatusNormalClosure, "")

		c.dropConnection(err)
		select {
		case <-c.done:
			return
		default:
		}
		if !c.redial() {
			return
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		var ev domain.Event
		if err := wsjson.Read(context.Background(), conn, &ev); err != nil {
			return err
		}
		c.dispatch(ev)
	}
}

func (c *Client) writeLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-c.sendCh:
			wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := wsjson.Write(wctx, conn, cmd)
			cancel()
			if err != nil {
				c.logger.Warn("write failed", "cmd", cmd.Cmd, "error", err)
				return
			}
		}
	}
}

func (c *Client) dispatch(ev domain.Event) {
	if ev.Type == domain.EventResponse && ev.ID != "" {
		c.mu.Lock()
		waiter, ok := c.pending[ev.ID]
		if ok {
			delete(c.pending, ev.ID)
		}
		c.mu.Unlock()
		if ok {
			waiter <- ev
			return
		}
		// No waiter, fall through to subscribers: late responses still
		// carry usable state.
	}

	c.mu.Lock()
	handlers := make([]func(domain.Event), 0, len(c.subs))
	for _, fn := range c.subs {
		handlers = append(handlers, fn)
	}
	c.mu.Unlock()
	for _, fn := range handlers {
		fn(ev)
	}
}

func (c *Client) dropConnection(err error) {
	c.mu.Lock()
	c.connected = false
	waiters := c.pending
	c.pending = make(map[string]chan domain.Event)
	closed := c.closed
	c.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
	if !closed {
		c.logger.Warn("connection lost", "error", err)
	}
	if c.cfg.OnConnChange != nil {
		c.cfg.OnConnChange(false)
	}
}

// redial reconnects with exponential backoff. Returns false when the
// client was closed while waiting.
func (c *Client) redial() bool {
	backoff := reconnectInitial
	for {
		select {
		case <-c.done:
			return false
		case <-time.After(backoff):
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		conn, err := c.dial(ctx)
		cancel()
		if err == nil {
			c.logger.Info("reconnected", "url", c.cfg.URL)
			c.adopt(conn)
			return true
		}
		c.logger.Warn("reconnect failed", "error", err, "retry_in", backoff)
		backoff *= 2
		if backoff > reconnectMax {
			backoff = reconnectMax
		}
	}
}

// Subscribe registers fn for every inbound event and returns an
// unsubscribe func.
func (c *Client) Subscribe(fn func(domain.Event)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// Send queues a fire-and-forget command.
func (c *Client) Send(ctx context.Context, cmd domain.Command) error {
	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()
	if !connected {
		return domain.WrapOp("transport.send", domain.ErrNotConnected)
	}
	select {
	case c.sendCh <- cmd:
		return nil
	case <-ctx.Done():
		return domain.WrapOp("transport.send", ctx.Err())
	case <-c.done:
		return domain.WrapOp("transport.send", domain.ErrClosed)
	}
}

// Call sends a command with a correlation id and blocks for the matching
// response event. A circuit breaker trips after repeated failures so a
// dead runner does not absorb every caller's timeout.
func (c *Client) Call(ctx context.Context, cmd domain.Command) (domain.Event, error) {
	if cmd.ID == "" {
		cmd.ID = ulid.Make().String()
	}
	ctx, span := tracer.StartSpan(ctx, "transport.call")
	span.SetAttributes(
		attribute.String("cmd", cmd.Cmd),
		attribute.String("session_id", cmd.SessionID),
	)
	defer span.End()

	ev, err := c.breaker.Execute(func() (domain.Event, error) {
		return c.call(ctx, cmd)
	})
	if err != nil {
		tracer.RecordError(span, err)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return domain.Event{}, domain.WrapOpDetail("transport.call", domain.ErrNotConnected, "circuit open")
		}
		return domain.Event{}, err
	}
	return ev, nil
}

func (c *Client) call(ctx context.Context, cmd domain.Command) (domain.Event, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.CallTimeout)
		defer cancel()
	}

	waiter := make(chan domain.Event, 1)
	c.mu.Lock()
	c.pending[cmd.ID] = waiter
	c.mu.Unlock()
	cleanup := func() {
		c.mu.Lock()
		delete(c.pending, cmd.ID)
		c.mu.Unlock()
	}

	if err := c.Send(ctx, cmd); err != nil {
		cleanup()
		return domain.Event{}, err
	}

	select {
	case ev, ok := <-waiter:
		if !ok {
			return domain.Event{}, domain.WrapOp("transport.call", domain.ErrNotConnected)
		}
		return ev, nil
	case <-ctx.Done():
		cleanup()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return domain.Event{}, domain.WrapOpDetail("transport.call", domain.ErrTimeout, fmt.Sprintf("cmd %s", cmd.Cmd))
		}
		return domain.Event{}, domain.WrapOp("transport.call", ctx.Err())
	}
}

// Connected reports current connectivity.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Close shuts the client down. Pending calls fail with ErrNotConnected.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	close(c.done)
	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client closing")
	}
	return nil
}
