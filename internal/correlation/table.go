package correlation

import (
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/EternisAI/clawd-node/internal/protocol"
)

// ErrConnectionClosed is delivered to every pending request when the
// connection it was sent on goes away.
var ErrConnectionClosed = errors.New("connection closed")

// Result completes a pending request. Exactly one of Response and Err is set.
type Result struct {
	Response *protocol.Response
	Err      error
}

type pending struct {
	method   string
	issuedAt time.Time
	done     chan Result
}

// Table tracks outstanding requests by id. The id counter lives as long as
// the table and is never reset, so ids stay unique across reconnects.
type Table struct {
	mu      sync.Mutex
	counter uint64
	pending map[string]*pending
}

func NewTable() *Table {
	return &Table{
		pending: make(map[string]*pending),
	}
}

// NextID returns a fresh id as a decimal string.
func (t *Table) NextID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counter++
	return strconv.FormatUint(t.counter, 10)
}

// Register records id as outstanding. The returned channel receives exactly
// one Result and is never closed.
func (t *Table) Register(id, method string) <-chan Result {
	done := make(chan Result, 1)

	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.pending[id]; ok {
		prev.done <- Result{Err: errors.New("request id reused")}
	}
	t.pending[id] = &pending{
		method:   method,
		issuedAt: time.Now(),
		done:     done,
	}
	return done
}

// Resolve completes the request with the given response and reports the
// method it was sent with. Unknown ids are logged and ignored.
func (t *Table) Resolve(id string, resp *protocol.Response) (string, bool) {
	t.mu.Lock()
	p, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()

	if !ok {
		slog.Debug("Response for unknown request", "request_id", id)
		return "", false
	}

	slog.Debug("Request resolved",
		"request_id", id,
		"method", p.method,
		"duration", time.Since(p.issuedAt))
	p.done <- Result{Response: resp}
	return p.method, true
}

// Discard drops a pending request whose frame never reached the wire.
func (t *Table) Discard(id string) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

// Method returns the method of a pending request without resolving it.
func (t *Table) Method(id string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pending[id]
	if !ok {
		return "", false
	}
	return p.method, true
}

// RejectAll fails every pending request with err and empties the table. It
// returns the number of requests rejected.
func (t *Table) RejectAll(err error) int {
	t.mu.Lock()
	drained := t.pending
	t.pending = make(map[string]*pending)
	t.mu.Unlock()

	for _, p := range drained {
		p.done <- Result{Err: err}
	}
	if len(drained) > 0 {
		slog.Info("Rejected pending requests", "count", len(drained), "reason", err)
	}
	return len(drained)
}

// Len returns the number of pending requests.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
