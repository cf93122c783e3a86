package client

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/EternisAI/clawd-node/internal/correlation"
	"github.com/EternisAI/clawd-node/internal/protocol"
	"github.com/EternisAI/clawd-node/internal/status"
	"github.com/EternisAI/clawd-node/internal/transport"
)

const logFrameLimit = 300

type closeIntent int

const (
	intentTransport closeIntent = iota
	intentStop
	intentReconnect
	intentPairApproved
	intentAuthRejected
)

// session is one physical connection attempt. The handshake fields are
// guarded by Client.mu and only written from the session's receive loop.
type session struct {
	id     string
	conn   transport.Conn
	sendCh chan []byte
	done   chan struct{}

	closeOnce sync.Once
	intent    closeIntent
	closeErr  error

	authNonce     string
	connectSent   bool
	pairRequested bool
}

func newSession(conn transport.Conn) *session {
	return &session{
		id:     uuid.New().String(),
		conn:   conn,
		sendCh: make(chan []byte, sendChannelBuffer),
		done:   make(chan struct{}),
	}
}

// close ends the session. The first caller's intent and error win.
func (s *session) close(intent closeIntent, err error) {
	s.closeOnce.Do(func() {
		s.intent = intent
		s.closeErr = err
		close(s.done)
		if cerr := s.conn.Close(); cerr != nil {
			slog.Debug("Error closing transport", "session_id", s.id, "error", cerr)
		}
	})
}

func (s *session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *session) send(data []byte) error {
	if s.closed() {
		return ErrNotConnected
	}
	select {
	case s.sendCh <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// handleSession runs the receive and send loops until either fails or the
// session is closed, and waits for both to exit.
func (c *Client) handleSession(s *session) error {
	errChan := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		c.receiveLoop(s, errChan)
	}()
	go func() {
		defer wg.Done()
		c.sendLoop(s, errChan)
	}()

	var err error
	select {
	case err = <-errChan:
	case <-s.done:
	}
	s.close(intentTransport, err)
	wg.Wait()

	return s.closeErr
}

func (c *Client) receiveLoop(s *session, errChan chan<- error) {
	for {
		data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closed() {
				errChan <- err
			}
			return
		}
		slog.Debug("Frame received", "session_id", s.id, "frame", truncate(data))
		c.handleMessage(s, data)
	}
}

func (c *Client) sendLoop(s *session, errChan chan<- error) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case data := <-s.sendCh:
			slog.Debug("Sending frame", "session_id", s.id, "frame", truncate(data))
			if err := s.conn.WriteMessage(data); err != nil {
				slog.Error("Error sending frame", "session_id", s.id, "error", err)
				errChan <- err
				return
			}
		case <-ticker.C:
			if err := s.conn.Ping(); err != nil {
				slog.Error("Keepalive ping failed", "session_id", s.id, "error", err)
				errChan <- err
				return
			}
		}
	}
}

// closeSession moves to Closed, fails every pending request and reports the
// outcome. It returns whether the session had reached Connected.
func (c *Client) closeSession(s *session, err error) bool {
	c.mu.Lock()
	prev := c.state
	c.state = StateClosed
	if c.session == s {
		c.session = nil
	}
	c.mu.Unlock()
	c.opts.Metrics.SetConnectionState(int(StateClosed))

	rejected := c.table.RejectAll(correlation.ErrConnectionClosed)
	c.opts.Metrics.SetPendingRequests(c.table.Len())

	detail := closeDetail(err)
	slog.Info("Session closed",
		"session_id", s.id,
		"previous_state", prev.String(),
		"reason", detail,
		"rejected_requests", rejected)

	switch {
	case s.intent == intentStop:
		c.report(status.Disconnected, "Disconnected manually")
	case s.intent == intentReconnect, s.intent == intentPairApproved, s.intent == intentAuthRejected:
	case prev == StateConnected:
		c.report(status.Disconnected, "Disconnected: "+detail)
	case prev == StateAuthenticating:
		c.opts.Metrics.AuthFailure()
		reason := detail
		if err == nil {
			reason = "Authentication rejected"
		}
		c.report(status.AuthFailed, reason)
	default:
		c.report(status.Disconnected, "Connection closed: "+detail)
	}

	return prev == StateConnected
}

func closeDetail(err error) string {
	if err == nil {
		return "closed"
	}
	if code, reason, ok := transport.CloseDetails(err); ok {
		if reason != "" {
			return reason
		}
		return fmt.Sprintf("code %d", code)
	}
	return err.Error()
}

// request registers and queues a req frame on s.
func (c *Client) request(s *session, method string, params any) (string, <-chan correlation.Result, error) {
	id := c.table.NextID()
	frame, err := protocol.NewRequest(id, method, params)
	if err != nil {
		return "", nil, err
	}
	data, err := protocol.Encode(frame)
	if err != nil {
		return "", nil, fmt.Errorf("encoding %s request: %w", method, err)
	}

	done := c.table.Register(id, method)
	if err := s.send(data); err != nil {
		c.table.Discard(id)
		c.noteSendError(err)
		return "", nil, err
	}
	c.opts.Metrics.SetPendingRequests(c.table.Len())
	return id, done, nil
}

func (c *Client) sendFrame(s *session, frame protocol.Frame) error {
	data, err := protocol.Encode(frame)
	if err != nil {
		return fmt.Errorf("encoding %s frame: %w", frame.Type, err)
	}
	if err := s.send(data); err != nil {
		c.noteSendError(err)
		return err
	}
	return nil
}

func (c *Client) noteSendError(err error) {
	if errors.Is(err, ErrSendBufferFull) {
		c.opts.Metrics.DroppedFrame("send_buffer_full")
	}
}

func truncate(data []byte) string {
	if len(data) > logFrameLimit {
		return string(data[:logFrameLimit]) + "..."
	}
	return string(data)
}
