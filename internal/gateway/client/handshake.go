package client

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/EternisAI/clawd-node/internal/auth"
	"github.com/EternisAI/clawd-node/internal/identity"
	"github.com/EternisAI/clawd-node/internal/protocol"
	"github.com/EternisAI/clawd-node/internal/status"
)

const (
	protocolVersion = 3
	clientID        = "node-host"
	clientMode      = "node"
	clientRole      = "node"
)

var (
	connectCaps = []string{"system", "browser", "clipboard", "screen", "camera"}
	pairCaps    = []string{"system.run", "browser.proxy", "notification", "clipboard", "screen", "camera", "exec"}

	defaultPermissions = map[string]bool{
		"exec":     true,
		"camera":   false,
		"screen":   false,
		"location": false,
	}
)

// pairingSentinels mark an auth failure caused by an unknown device. Matching
// is a case-sensitive substring test. The gateway's vocabulary is not
// formally specified, so this list is kept to what it is known to send.
var pairingSentinels = []string{"NOT_PAIRED", "UNAUTHORIZED", "device identity"}

var errPairingApproved = errors.New("pairing approved")

func isPairingRequired(reason string) bool {
	for _, sentinel := range pairingSentinels {
		if strings.Contains(reason, sentinel) {
			return true
		}
	}
	return false
}

// handleMessage runs on the session's receive loop, the only goroutine that
// advances the handshake.
func (c *Client) handleMessage(s *session, data []byte) {
	frame, err := protocol.Decode(data)
	if err != nil {
		slog.Warn("Dropping malformed frame", "session_id", s.id, "error", err)
		c.opts.Metrics.DroppedFrame("malformed")
		return
	}

	switch frame.Type {
	case protocol.TypeEvent:
		c.handleEvent(s, frame.Event)
	case protocol.TypeResponse:
		c.handleResponse(s, frame.Response)
	case protocol.TypeInvoke:
		inv, err := protocol.InvocationFromInvoke(frame.Invoke)
		if err != nil {
			slog.Warn("Dropping invoke frame", "session_id", s.id, "error", err)
			c.opts.Metrics.DroppedFrame("malformed")
			return
		}
		c.dispatch(inv)
	case protocol.TypeAuthOK:
		c.onAuthSuccess(s, protocol.TypeAuthOK, "", "")
	case protocol.TypeAuthError:
		reason := frame.Error
		if reason == "" {
			reason = "Authentication error"
		}
		c.onAuthFailure(s, reason)
	case protocol.TypePing:
		if err := c.sendFrame(s, protocol.Frame{Type: protocol.TypePong, ID: frame.ID}); err != nil {
			slog.Warn("Failed to answer ping", "error", err)
		}
	case protocol.TypePong:
	default:
		slog.Debug("Unhandled frame type", "session_id", s.id, "type", frame.Type)
	}
}

func (c *Client) handleEvent(s *session, ev *protocol.Event) {
	switch ev.Name {
	case protocol.EventConnectChallenge:
		var challenge protocol.Challenge
		if err := protocol.UnmarshalPayload(ev.Payload, &challenge); err != nil {
			slog.Warn("Malformed challenge", "session_id", s.id, "error", err)
			return
		}
		c.onChallenge(s, challenge.Nonce)

	case protocol.EventHelloOK, protocol.EventAuthSuccess:
		var p protocol.TokenPayload
		_ = protocol.UnmarshalPayload(ev.Payload, &p)
		c.onAuthSuccess(s, ev.Name, p.Token, "")

	case protocol.EventAuthFailed, protocol.EventError:
		var p protocol.FailurePayload
		_ = protocol.UnmarshalPayload(ev.Payload, &p)
		reason := p.Text()
		if reason == "" {
			reason = "Authentication failed"
		}
		c.onAuthFailure(s, reason)

	case protocol.EventPairRequested:
		slog.Info("Pairing requested, waiting for approval on the gateway")
		c.report(status.Pairing, "Waiting for operator approval")

	case protocol.EventPairApproved:
		var p protocol.TokenPayload
		_ = protocol.UnmarshalPayload(ev.Payload, &p)
		c.onPairApproved(s, p.Token)

	case protocol.EventPing:
		pong, _ := protocol.NewEvent(protocol.EventPong, nil)
		if err := c.sendFrame(s, pong); err != nil {
			slog.Warn("Failed to answer ping", "error", err)
		}

	case protocol.EventNodeInvokeRequest:
		inv, err := protocol.ParseInvokeRequest(ev.Payload)
		if err != nil {
			slog.Warn("Dropping invoke request", "session_id", s.id, "error", err)
			c.opts.Metrics.DroppedFrame("malformed")
			return
		}
		c.dispatch(inv)

	default:
		slog.Debug("Unhandled event", "session_id", s.id, "event", ev.Name)
	}
}

func (c *Client) handleResponse(s *session, resp *protocol.Response) {
	method, known := c.table.Resolve(resp.ID, resp)
	c.opts.Metrics.SetPendingRequests(c.table.Len())

	if resp.OK {
		var p protocol.HelloOK
		if err := protocol.UnmarshalPayload(resp.Payload, &p); err != nil {
			return
		}
		switch p.Type {
		case protocol.PayloadHelloOK:
			slog.Info("Gateway accepted connect", "protocol", p.Protocol, "host", p.Server.Host)
			c.onAuthSuccess(s, "hello-ok response", p.Auth.DeviceToken, p.Server.Host)
		case protocol.PayloadPairOK:
			c.onPairApproved(s, p.Token)
		}
		return
	}

	reason := resp.Error
	if reason == "" {
		reason = "Unknown error"
	}

	switch {
	case method == protocol.MethodConnect, !known && c.State() == StateAuthenticating:
		c.onAuthFailure(s, reason)
	case method == protocol.MethodPairRequest:
		slog.Warn("Pairing request rejected", "error", reason)
		c.report(status.Error, reason)
	default:
		slog.Warn("Request failed", "request_id", resp.ID, "method", method, "error", reason)
	}
}

func (c *Client) onChallenge(s *session, nonce string) {
	c.mu.Lock()
	if s.connectSent {
		c.mu.Unlock()
		slog.Debug("Ignoring challenge, connect already sent", "session_id", s.id)
		return
	}
	if c.opts.Identity == nil {
		c.mu.Unlock()
		slog.Error("Device identity not loaded, cannot answer challenge")
		c.report(status.Error, "Device identity not found")
		return
	}
	s.authNonce = nonce
	s.connectSent = true
	c.state = StateAuthenticating
	c.mu.Unlock()
	c.opts.Metrics.SetConnectionState(int(StateAuthenticating))

	c.report(status.Authenticating, "Challenge received, sending connect")
	if err := c.sendConnect(s, nonce); err != nil {
		slog.Error("Failed to send connect", "session_id", s.id, "error", err)
		s.close(intentTransport, err)
		return
	}
	c.report(status.AuthPending, "Waiting for gateway response")
}

func (c *Client) sendConnect(s *session, nonce string) error {
	opts := c.options()
	token := auth.UsableToken(c.currentToken())
	signedAt := time.Now().UnixMilli()
	scopes := []string{}

	_, signature := opts.Identity.SignAuthPayload(identity.AuthPayload{
		DeviceID:   opts.Identity.DeviceID,
		ClientID:   clientID,
		ClientMode: clientMode,
		Role:       clientRole,
		Scopes:     scopes,
		SignedAtMs: signedAt,
		Token:      token,
		Nonce:      nonce,
	})

	permissions := opts.Permissions
	if permissions == nil {
		permissions = defaultPermissions
	}
	var commands []string
	if h := c.invocationHandler(); h != nil {
		commands = h.Commands()
	}
	if commands == nil {
		commands = []string{}
	}

	params := protocol.ConnectParams{
		MinProtocol: protocolVersion,
		MaxProtocol: protocolVersion,
		Client: protocol.ClientInfo{
			ID:          clientID,
			DisplayName: opts.NodeName,
			Version:     opts.Version,
			Platform:    opts.Platform,
			Mode:        clientMode,
			InstanceID:  opts.NodeID,
		},
		Caps:        connectCaps,
		Commands:    commands,
		Permissions: permissions,
		Auth: protocol.ConnectAuth{
			Token:    token,
			Password: opts.Password,
		},
		Role:   clientRole,
		Scopes: scopes,
		Device: protocol.DeviceAuth{
			ID:        opts.Identity.DeviceID,
			PublicKey: opts.Identity.PublicKeyEncoded(),
			Signature: signature,
			SignedAt:  signedAt,
			Nonce:     nonce,
		},
	}

	id, _, err := c.request(s, protocol.MethodConnect, params)
	if err != nil {
		return err
	}
	slog.Info("Connect request sent", "session_id", s.id, "request_id", id)
	return nil
}

// onAuthSuccess handles every success shape. The first one in a session wins;
// later ones are ignored.
func (c *Client) onAuthSuccess(s *session, shape, token, host string) {
	c.mu.Lock()
	if c.session != s || s.closed() || c.state == StateConnected {
		c.mu.Unlock()
		slog.Debug("Ignoring duplicate auth success", "session_id", s.id, "shape", shape)
		return
	}
	c.state = StateConnected
	c.mu.Unlock()
	c.opts.Metrics.SetConnectionState(int(StateConnected))

	slog.Info("Authenticated with gateway", "session_id", s.id, "shape", shape)
	if token != "" {
		c.persistToken(token)
	}

	details := "Authenticated"
	if host != "" {
		details = "Connected to " + host
	}
	c.report(status.Connected, details)
}

func (c *Client) onAuthFailure(s *session, reason string) {
	c.mu.Lock()
	if c.session != s || s.closed() {
		c.mu.Unlock()
		return
	}
	if c.state == StateConnected {
		c.mu.Unlock()
		slog.Warn("Gateway reported error", "session_id", s.id, "error", reason)
		return
	}

	if isPairingRequired(reason) {
		if s.pairRequested {
			c.mu.Unlock()
			slog.Debug("Pairing already requested", "session_id", s.id)
			return
		}
		s.pairRequested = true
		c.mu.Unlock()

		slog.Info("Node not paired, requesting pairing", "session_id", s.id, "reason", reason)
		c.report(status.Pairing, "Requesting pairing")
		c.requestPairing(s)
		return
	}
	c.mu.Unlock()

	slog.Warn("Authentication rejected", "session_id", s.id, "reason", reason)
	c.opts.Metrics.AuthFailure()
	c.report(status.AuthFailed, reason)
	s.close(intentAuthRejected, errors.New(reason))
}

func (c *Client) requestPairing(s *session) {
	opts := c.options()
	params := protocol.PairRequestParams{
		NodeID:   opts.NodeID,
		NodeName: opts.NodeName,
		Platform: opts.Platform,
		Caps:     pairCaps,
	}
	if _, _, err := c.request(s, protocol.MethodPairRequest, params); err != nil {
		slog.Error("Failed to send pairing request", "error", err)
		return
	}
	c.opts.Metrics.PairingRequest()
}

// onPairApproved stores the pairing token and, unless already connected,
// replaces the session so the next connect presents it.
func (c *Client) onPairApproved(s *session, token string) {
	slog.Info("Pairing approved", "session_id", s.id, "token_issued", token != "")
	if token != "" {
		c.persistToken(token)
	}
	if c.State() == StateConnected {
		return
	}
	c.report(status.Connecting, "Pairing approved, reconnecting")
	c.kick()
	s.close(intentPairApproved, errPairingApproved)
}

func (c *Client) persistToken(token string) {
	c.mu.Lock()
	if token == c.token {
		c.mu.Unlock()
		return
	}
	c.token = token
	c.mu.Unlock()

	if c.opts.Tokens == nil {
		return
	}
	if err := c.opts.Tokens.SaveToken(token); err != nil {
		slog.Error("Failed to persist session token", "error", err)
	}
}

func (c *Client) invocationHandler() InvocationHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler
}

// dispatch hands inv to the handler. Invocations are only accepted once the
// session is Connected.
func (c *Client) dispatch(inv protocol.Invocation) {
	if state := c.State(); state != StateConnected {
		slog.Warn("Dropping invocation before authentication", "invocation_id", inv.ID, "command", inv.Command, "state", state)
		c.opts.Metrics.DroppedFrame("not_connected")
		return
	}
	h := c.invocationHandler()
	if h == nil {
		slog.Warn("No invocation handler installed, dropping", "invocation_id", inv.ID, "command", inv.Command)
		return
	}
	h.Handle(c.ctx, inv)
}
