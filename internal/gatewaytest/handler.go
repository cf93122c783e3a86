package gatewaytest

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/EternisAI/clawd-node/internal/auth"
	"github.com/EternisAI/clawd-node/internal/identity"
	"github.com/EternisAI/clawd-node/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 32 * 1024 * 1024
	serverHost     = "gatewaytest"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// ServeHTTP upgrades the request and serves one node connection.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()
	ws.SetReadLimit(maxMessageSize)

	nonce := uuid.New().String()
	conn := g.Register(uuid.New().String(), nonce)
	defer g.Deregister(conn.ID)

	if err := g.sendEvent(conn, protocol.EventConnectChallenge, protocol.Challenge{Nonce: nonce}); err != nil {
		slog.Error("Failed to queue challenge", "session_id", conn.ID, "error", err)
		return
	}

	done := make(chan struct{})
	errChan := make(chan error, 2)

	go g.receiveLoop(conn, ws, errChan)
	go g.sendLoop(conn, ws, done, errChan)

	select {
	case err := <-errChan:
		if err != nil && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			slog.Warn("Node connection ended", "session_id", conn.ID, "error", err)
		}
	case <-conn.ctx.Done():
	}
	close(done)
}

func (g *Gateway) receiveLoop(conn *NodeConnection, ws *websocket.Conn, errChan chan<- error) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			errChan <- err
			return
		}
		conn.mu.Lock()
		conn.LastSeen = time.Now()
		conn.mu.Unlock()

		if err := g.processFrame(conn, data); err != nil {
			slog.Error("Failed to process frame", "session_id", conn.ID, "error", err)
		}
	}
}

func (g *Gateway) sendLoop(conn *NodeConnection, ws *websocket.Conn, done <-chan struct{}, errChan chan<- error) {
	for {
		select {
		case <-done:
			return
		case data := <-conn.SendCh:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				errChan <- err
				return
			}
		}
	}
}

func (g *Gateway) processFrame(conn *NodeConnection, data []byte) error {
	frame, err := protocol.Decode(data)
	if err != nil {
		return err
	}

	switch frame.Type {
	case protocol.TypeRequest:
		req := frame.Request
		switch req.Method {
		case protocol.MethodConnect:
			return g.handleConnect(conn, req)
		case protocol.MethodPairRequest:
			return g.handlePairRequest(conn, req)
		case protocol.MethodNodeInvokeResult:
			var result protocol.InvokeResult
			if err := json.Unmarshal(req.Params, &result); err != nil {
				return g.respond(conn, req.ID, false, nil, "invalid result")
			}
			select {
			case g.Results <- result:
			default:
				slog.Warn("Result buffer full, dropping", "invocation_id", result.ID)
			}
			return g.respond(conn, req.ID, true, nil, "")
		default:
			return g.respond(conn, req.ID, false, nil, "unknown method: "+req.Method)
		}
	case protocol.TypeInvokeResponse:
		select {
		case g.LegacyResult <- *frame.InvokeResponse:
		default:
		}
	case protocol.TypeEvent, protocol.TypePong:
	default:
		slog.Debug("Ignoring frame", "type", frame.Type)
	}
	return nil
}

func (g *Gateway) handleConnect(conn *NodeConnection, req *protocol.Request) error {
	var params protocol.ConnectParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return g.respond(conn, req.ID, false, nil, "invalid connect params")
	}
	select {
	case g.Connects <- params:
	default:
	}

	if err := VerifyConnect(params, conn.Nonce); err != nil {
		slog.Warn("Rejecting connect", "session_id", conn.ID, "error", err)
		return g.respond(conn, req.ID, false, nil, err.Error())
	}
	if g.passwordHash != "" && !auth.CheckPassword(params.Auth.Password, g.passwordHash) {
		return g.respond(conn, req.ID, false, nil, "invalid password")
	}

	conn.mu.Lock()
	conn.deviceID = params.Device.ID
	conn.mu.Unlock()

	g.mu.RLock()
	token, paired := g.paired[params.Device.ID]
	g.mu.RUnlock()
	if !paired {
		return g.respond(conn, req.ID, false, nil, "NOT_PAIRED: device is not approved")
	}

	conn.mu.Lock()
	conn.authenticated = true
	conn.mu.Unlock()

	hello := protocol.HelloOK{Type: protocol.PayloadHelloOK, Protocol: 3}
	hello.Server.Host = serverHost
	hello.Auth.DeviceToken = token
	slog.Info("Node authenticated", "session_id", conn.ID, "device_id", params.Device.ID)
	return g.respond(conn, req.ID, true, hello, "")
}

func (g *Gateway) handlePairRequest(conn *NodeConnection, req *protocol.Request) error {
	var params protocol.PairRequestParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return g.respond(conn, req.ID, false, nil, "invalid pair params")
	}
	deviceID := conn.DeviceID()
	if deviceID == "" {
		return g.respond(conn, req.ID, false, nil, "device identity required")
	}

	select {
	case g.PairRequests <- params:
	default:
	}

	if g.opts.AutoApprove {
		token := g.Pair(deviceID)
		return g.respond(conn, req.ID, true, protocol.TokenPayload{Type: protocol.PayloadPairOK, Token: token}, "")
	}

	g.mu.Lock()
	g.pending[deviceID] = params
	g.mu.Unlock()

	if err := g.respond(conn, req.ID, true, map[string]string{"status": "pending"}, ""); err != nil {
		return err
	}
	return g.sendEvent(conn, protocol.EventPairRequested, map[string]string{"nodeId": params.NodeID})
}

func (g *Gateway) respond(conn *NodeConnection, id string, ok bool, payload any, errText string) error {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		raw = data
	}
	data, err := protocol.Encode(protocol.Frame{Type: protocol.TypeResponse, Response: &protocol.Response{
		ID:      id,
		OK:      ok,
		Payload: raw,
		Error:   errText,
	}})
	if err != nil {
		return err
	}
	return g.send(conn, data)
}

// VerifyConnect checks the device proof of a connect request the way the
// gateway does: the id is the fingerprint of the presented key, the nonce is
// the one issued, and the signature covers the reconstructed payload.
func VerifyConnect(params protocol.ConnectParams, nonce string) error {
	device := params.Device
	publicKey, err := base64.RawURLEncoding.DecodeString(device.PublicKey)
	if err != nil || len(publicKey) != ed25519.PublicKeySize {
		return errors.New("device identity: invalid public key")
	}
	sum := sha256.Sum256(publicKey)
	if hex.EncodeToString(sum[:]) != device.ID {
		return errors.New("device identity: id does not match public key")
	}
	if device.Nonce != "" && device.Nonce != nonce {
		return fmt.Errorf("device identity: stale nonce")
	}
	signature, err := base64.RawURLEncoding.DecodeString(device.Signature)
	if err != nil {
		return errors.New("device identity: malformed signature")
	}

	payload := identity.AuthPayload{
		DeviceID:   device.ID,
		ClientID:   params.Client.ID,
		ClientMode: params.Client.Mode,
		Role:       params.Role,
		Scopes:     params.Scopes,
		SignedAtMs: device.SignedAt,
		Token:      params.Auth.Token,
		Nonce:      device.Nonce,
	}
	if !ed25519.Verify(publicKey, []byte(payload.String()), signature) {
		return errors.New("device identity: signature mismatch")
	}
	return nil
}
