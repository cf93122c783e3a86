package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/EternisAI/clawd-node/internal/correlation"
	"github.com/EternisAI/clawd-node/internal/identity"
	"github.com/EternisAI/clawd-node/internal/metrics"
	"github.com/EternisAI/clawd-node/internal/protocol"
	"github.com/EternisAI/clawd-node/internal/status"
	"github.com/EternisAI/clawd-node/internal/transport"
)

const (
	sendChannelBuffer = 100
	defaultInterval   = 5 * time.Second
	maxDelay          = 60 * time.Second
	backoffFactor     = 2
)

var (
	ErrAlreadyRunning = errors.New("client already running")
	ErrNotConnected   = errors.New("not connected to gateway")
	ErrSendBufferFull = errors.New("send channel full")
)

// TokenStore persists session tokens issued by the gateway.
type TokenStore interface {
	SaveToken(token string) error
}

// InvocationHandler runs commands the gateway sends. Handle must not block;
// results come back through the client's send methods.
type InvocationHandler interface {
	Commands() []string
	Handle(ctx context.Context, inv protocol.Invocation)
}

type Options struct {
	URL      string
	NodeID   string
	NodeName string
	Version  string
	Platform string
	Password string
	Token    string

	// ReconnectInterval is the first delay after a session closes. The delay
	// doubles on consecutive failures up to MaxReconnectInterval and resets
	// after a session reaches Connected.
	ReconnectInterval    time.Duration
	MaxReconnectInterval time.Duration
	PingInterval         time.Duration

	Permissions map[string]bool

	Dialer   transport.Dialer
	Identity *identity.DeviceIdentity
	Tokens   TokenStore
	Reporter status.Reporter
	Metrics  *metrics.Metrics
}

// Client owns the single connection to the gateway and drives the
// authentication state machine over it.
type Client struct {
	opts    Options
	table   *correlation.Table
	handler InvocationHandler

	mu      sync.Mutex
	session *session
	state   State
	token   string
	started bool

	reconnectCh chan struct{}
	stopCh      chan struct{}
	doneCh      chan struct{}
	stopOnce    sync.Once

	reconnectDelay time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

func NewClient(opts Options) *Client {
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = defaultInterval
	}
	if opts.MaxReconnectInterval < opts.ReconnectInterval {
		opts.MaxReconnectInterval = max(maxDelay, opts.ReconnectInterval)
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = transport.PingPeriod
	}
	if opts.Platform == "" {
		opts.Platform = runtime.GOOS
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.Dialer == nil {
		opts.Dialer = &transport.WebSocketDialer{}
	}
	if opts.Reporter == nil {
		opts.Reporter = status.Logger{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		opts:           opts,
		table:          correlation.NewTable(),
		token:          opts.Token,
		state:          StateIdle,
		reconnectCh:    make(chan struct{}, 1),
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
		reconnectDelay: opts.ReconnectInterval,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// SetHandler installs the invocation handler. It must be called before Start.
func (c *Client) SetHandler(h InvocationHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

func (c *Client) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return ErrAlreadyRunning
	}
	c.started = true
	go c.connectionLoop()
	return nil
}

func (c *Client) Stop() error {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		return nil
	}

	slog.Info("Stopping gateway client")
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.cancel()
		if s := c.currentSession(); s != nil {
			s.close(intentStop, nil)
		}
	})
	<-c.doneCh
	slog.Info("Gateway client stopped")
	return nil
}

// Reconnect drops the current session, if any, and starts a new attempt
// without waiting for the backoff delay.
func (c *Client) Reconnect() {
	c.kick()
	if s := c.currentSession(); s != nil {
		s.close(intentReconnect, nil)
	}
}

// UpdateOptions applies fn to the connection options and reconnects so the
// next session uses them.
func (c *Client) UpdateOptions(fn func(*Options)) {
	c.mu.Lock()
	fn(&c.opts)
	if c.opts.Token != "" && c.opts.Token != c.token {
		c.token = c.opts.Token
	}
	c.mu.Unlock()
	c.Reconnect()
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) Connected() bool {
	return c.State() == StateConnected
}

// SessionID identifies the live session for logs, or "" between sessions.
func (c *Client) SessionID() string {
	if s := c.currentSession(); s != nil {
		return s.id
	}
	return ""
}

// NodeID returns the configured node id.
func (c *Client) NodeID() string {
	return c.options().NodeID
}

// PendingRequests returns the number of requests awaiting a response.
func (c *Client) PendingRequests() int {
	return c.table.Len()
}

// SendRequest sends a req frame on the live session and registers it for
// correlation. It returns the request id.
func (c *Client) SendRequest(method string, params any) (string, error) {
	s := c.currentSession()
	if s == nil {
		return "", ErrNotConnected
	}
	id, _, err := c.request(s, method, params)
	return id, err
}

// Call sends a request and waits for its response.
func (c *Client) Call(ctx context.Context, method string, params any) (*protocol.Response, error) {
	s := c.currentSession()
	if s == nil {
		return nil, ErrNotConnected
	}
	_, done, err := c.request(s, method, params)
	if err != nil {
		return nil, err
	}
	select {
	case result := <-done:
		return result.Response, result.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SendFrame encodes and queues an arbitrary frame on the live session.
func (c *Client) SendFrame(frame protocol.Frame) error {
	s := c.currentSession()
	if s == nil {
		return ErrNotConnected
	}
	return c.sendFrame(s, frame)
}

func (c *Client) currentSession() *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Client) options() Options {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts
}

func (c *Client) currentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) kick() {
	select {
	case c.reconnectCh <- struct{}{}:
	default:
	}
}

func (c *Client) drainKick() {
	select {
	case <-c.reconnectCh:
	default:
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.opts.Metrics.SetConnectionState(int(s))
}

func (c *Client) report(st status.Status, details string) {
	c.opts.Reporter.Report(status.Update{
		Status:    st,
		Details:   details,
		Timestamp: time.Now(),
		Connected: c.State() == StateConnected,
	})
}

func (c *Client) connectionLoop() {
	defer close(c.doneCh)

	for {
		select {
		case <-c.stopCh:
			c.setState(StateIdle)
			return
		default:
		}

		reached, err := c.runSession()
		if err != nil {
			slog.Warn("Gateway session ended", "error", err)
		}
		if reached {
			c.reconnectDelay = c.opts.ReconnectInterval
		}

		select {
		case <-c.stopCh:
			c.setState(StateIdle)
			return
		case <-c.reconnectCh:
			slog.Info("Reconnecting now")
		case <-time.After(c.reconnectDelay):
			c.increaseReconnectDelay()
		}
		c.opts.Metrics.Reconnect()
	}
}

func (c *Client) increaseReconnectDelay() {
	c.reconnectDelay = c.reconnectDelay * backoffFactor
	if c.reconnectDelay > c.opts.MaxReconnectInterval {
		c.reconnectDelay = c.opts.MaxReconnectInterval
	}
}

// runSession dials, serves one session until it closes and reports whether
// it reached Connected.
func (c *Client) runSession() (bool, error) {
	opts := c.options()
	c.drainKick()

	c.setState(StateConnecting)
	c.opts.Metrics.ConnectAttempt()
	slog.Info("Connecting to gateway", "url", opts.URL)
	c.report(status.Connecting, fmt.Sprintf("Connecting to %s", opts.URL))

	conn, err := opts.Dialer.Dial(c.ctx, opts.URL)
	if err != nil {
		c.setState(StateClosed)
		if c.ctx.Err() == nil {
			c.report(status.Error, err.Error())
		}
		slog.Error("Connection failed", "error", err, "retry_in", c.reconnectDelay)
		return false, err
	}

	s := newSession(conn)

	c.mu.Lock()
	c.session = s
	c.state = StateAwaitingChallenge
	c.mu.Unlock()
	c.opts.Metrics.SetConnectionState(int(StateAwaitingChallenge))

	select {
	case <-c.stopCh:
		s.close(intentStop, nil)
	default:
	}

	slog.Info("Transport open, waiting for challenge", "session_id", s.id)
	c.report(status.Connecting, "Waiting for server challenge")
	if opts.Identity == nil {
		c.report(status.Error, "Device identity not found")
	}

	err = c.handleSession(s)
	return c.closeSession(s, err), err
}
