package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/EternisAI/clawd-node/internal/identity"
	"github.com/EternisAI/clawd-node/internal/protocol"
	"github.com/EternisAI/clawd-node/internal/status"
	"github.com/EternisAI/clawd-node/internal/transport"
)

const waitTimeout = 2 * time.Second

var errFakeClosed = errors.New("fake connection closed")

// fakeConn is an in-memory transport. The test plays the gateway by pushing
// inbound frames and reading what the client wrote.
type fakeConn struct {
	in        chan []byte
	out       chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-f.in:
		return data, nil
	case <-f.closed:
		return nil, errFakeClosed
	}
}

func (f *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-f.closed:
		return errFakeClosed
	default:
	}
	f.out <- data
	return nil
}

func (f *fakeConn) Ping() error { return nil }

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeConn) push(t *testing.T, frame string) {
	t.Helper()
	select {
	case f.in <- []byte(frame):
	case <-time.After(waitTimeout):
		t.Fatal("timed out pushing frame")
	}
}

type wireMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Method  string          `json:"method"`
	Event   string          `json:"event"`
	Params  json.RawMessage `json:"params"`
	Payload json.RawMessage `json:"payload"`
	OK      bool            `json:"ok"`
	Error   string          `json:"error"`
}

func (f *fakeConn) next(t *testing.T) wireMessage {
	t.Helper()
	select {
	case data := <-f.out:
		var msg wireMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for outbound frame")
		return wireMessage{}
	}
}

func (f *fakeConn) pending() int {
	return len(f.out)
}

// fakeDialer hands out queued connections in order.
type fakeDialer struct {
	conns chan transport.Conn
	mu    sync.Mutex
	dials int
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(chan transport.Conn, 8)}
}

func (d *fakeDialer) Dial(ctx context.Context, _ string) (transport.Conn, error) {
	select {
	case conn := <-d.conns:
		d.mu.Lock()
		d.dials++
		d.mu.Unlock()
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) queue() *fakeConn {
	conn := newFakeConn()
	d.conns <- conn
	return conn
}

type MockTokenStore struct {
	mock.Mock
}

func (m *MockTokenStore) SaveToken(token string) error {
	args := m.Called(token)
	return args.Error(0)
}

type recordingReporter struct {
	mu      sync.Mutex
	updates []status.Update
}

func (r *recordingReporter) Report(u status.Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recordingReporter) count(s status.Status) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, u := range r.updates {
		if u.Status == s {
			n++
		}
	}
	return n
}

func (r *recordingReporter) last() status.Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.updates) == 0 {
		return status.Update{}
	}
	return r.updates[len(r.updates)-1]
}

type recordingHandler struct {
	mu          sync.Mutex
	invocations []protocol.Invocation
}

func (h *recordingHandler) Commands() []string {
	return []string{"system.run", "browser.proxy"}
}

func (h *recordingHandler) Handle(_ context.Context, inv protocol.Invocation) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.invocations = append(h.invocations, inv)
}

func (h *recordingHandler) received() []protocol.Invocation {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]protocol.Invocation(nil), h.invocations...)
}

type harness struct {
	client   *Client
	dialer   *fakeDialer
	tokens   *MockTokenStore
	reporter *recordingReporter
	handler  *recordingHandler
	identity *identity.DeviceIdentity
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()

	id, err := identity.Generate()
	require.NoError(t, err)

	h := &harness{
		dialer:   newFakeDialer(),
		tokens:   new(MockTokenStore),
		reporter: &recordingReporter{},
		handler:  &recordingHandler{},
		identity: id,
	}

	opts := Options{
		URL:               "ws://gateway.test",
		NodeID:            "desk-1",
		NodeName:          "Desk",
		Version:           "1.2.3",
		Platform:          "linux",
		ReconnectInterval: time.Hour,
		Dialer:            h.dialer,
		Identity:          id,
		Tokens:            h.tokens,
		Reporter:          h.reporter,
	}
	if mutate != nil {
		mutate(&opts)
	}

	h.client = NewClient(opts)
	h.client.SetHandler(h.handler)
	t.Cleanup(func() { _ = h.client.Stop() })
	return h
}

func (h *harness) waitState(t *testing.T, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.client.State() == want },
		waitTimeout, 5*time.Millisecond, "state never became %s (is %s)", want, h.client.State())
}

// authenticate drives conn through challenge and hello-ok.
func (h *harness) authenticate(t *testing.T, conn *fakeConn) {
	t.Helper()
	h.waitState(t, StateAwaitingChallenge)
	conn.push(t, `{"type":"event","event":"connect.challenge","payload":{"nonce":"n-1"}}`)
	connect := conn.next(t)
	require.Equal(t, protocol.MethodConnect, connect.Method)
	conn.push(t, `{"type":"res","id":"`+connect.ID+`","ok":true,"payload":{"type":"hello-ok","protocol":3,"server":{"host":"gw"}}}`)
	h.waitState(t, StateConnected)
}

var errDialRefused = errors.New("dial refused")

// scriptedDialer records when each dial starts and lets the test decide its
// outcome by attempt number, starting at 1.
type scriptedDialer struct {
	mu   sync.Mutex
	at   []time.Time
	next func(ctx context.Context, attempt int) (transport.Conn, error)
}

func (d *scriptedDialer) Dial(ctx context.Context, _ string) (transport.Conn, error) {
	d.mu.Lock()
	d.at = append(d.at, time.Now())
	attempt := len(d.at)
	d.mu.Unlock()
	return d.next(ctx, attempt)
}

func (d *scriptedDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.at)
}

// gaps returns the time between consecutive dial starts.
func (d *scriptedDialer) gaps() []time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]time.Duration, 0, len(d.at))
	for i := 1; i < len(d.at); i++ {
		out = append(out, d.at[i].Sub(d.at[i-1]))
	}
	return out
}

func (d *scriptedDialer) started(attempt int) time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.at[attempt-1]
}
