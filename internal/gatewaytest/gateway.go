// Package gatewaytest is an in-process gateway speaking the node protocol over
// websockets. It issues challenges, verifies device signatures, tracks pairing
// and can push invocations, for end-to-end tests and manual runs.
package gatewaytest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/EternisAI/clawd-node/internal/auth"
	"github.com/EternisAI/clawd-node/internal/protocol"
)

const (
	sendChannelBuffer = 100
	sendTimeout       = 5 * time.Second
)

// NodeConnection is one authenticated-or-not node socket.
type NodeConnection struct {
	ID        string
	SessionID string
	Nonce     string
	SendCh    chan []byte
	LastSeen  time.Time

	mu            sync.Mutex
	deviceID      string
	authenticated bool

	ctx    context.Context
	cancel context.CancelFunc
}

func (n *NodeConnection) DeviceID() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.deviceID
}

func (n *NodeConnection) lastSeen() time.Time {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.LastSeen
}

func (n *NodeConnection) Authenticated() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.authenticated
}

type Options struct {
	// AutoApprove answers pairing requests with pair-ok immediately.
	AutoApprove bool
	// Password, when set, must be presented in connect auth.password. It may
	// be given as plaintext or as a bcrypt hash.
	Password string
	// TokenTTL bounds issued session tokens. Defaults to auth.DefaultTokenTTL.
	TokenTTL time.Duration
}

// Gateway tracks node connections, paired devices and issued tokens.
type Gateway struct {
	opts         Options
	tokens       *auth.Service
	passwordHash string

	mu      sync.RWMutex
	nodes   map[string]*NodeConnection
	paired  map[string]string
	pending map[string]protocol.PairRequestParams
	counter uint64

	Connects     chan protocol.ConnectParams
	PairRequests chan protocol.PairRequestParams
	Results      chan protocol.InvokeResult
	LegacyResult chan protocol.InvokeResponse
}

func New(opts Options) *Gateway {
	tokens, err := auth.NewService(auth.Config{TTL: opts.TokenTTL})
	if err != nil {
		panic(err)
	}
	passwordHash := opts.Password
	if passwordHash != "" && !auth.IsHash(passwordHash) {
		if passwordHash, err = auth.HashPassword(opts.Password); err != nil {
			panic(err)
		}
	}
	return &Gateway{
		opts:         opts,
		tokens:       tokens,
		passwordHash: passwordHash,
		nodes:        make(map[string]*NodeConnection),
		paired:       make(map[string]string),
		pending:      make(map[string]protocol.PairRequestParams),
		Connects:     make(chan protocol.ConnectParams, 16),
		PairRequests: make(chan protocol.PairRequestParams, 16),
		Results:      make(chan protocol.InvokeResult, 64),
		LegacyResult: make(chan protocol.InvokeResponse, 64),
	}
}

// Pair marks deviceID as approved and returns its token.
func (g *Gateway) Pair(deviceID string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pairLocked(deviceID)
}

func (g *Gateway) pairLocked(deviceID string) string {
	if token, ok := g.paired[deviceID]; ok {
		return token
	}
	token, err := g.tokens.Issue(deviceID)
	if err != nil {
		slog.Error("Failed to issue token", "device_id", deviceID, "error", err)
		return ""
	}
	g.paired[deviceID] = token
	delete(g.pending, deviceID)
	return token
}

// PendingPairings lists devices that asked for pairing and are not approved.
func (g *Gateway) PendingPairings() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := make([]string, 0, len(g.pending))
	for id := range g.pending {
		ids = append(ids, id)
	}
	return ids
}

func (g *Gateway) IsPaired(deviceID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.paired[deviceID]
	return ok
}

// Approve pairs a device that asked for pairing and tells its live
// connection with a node.pair.approved event.
func (g *Gateway) Approve(deviceID string) error {
	token := g.Pair(deviceID)
	conn, ok := g.nodeByDevice(deviceID)
	if !ok {
		return fmt.Errorf("device not connected: %s", deviceID)
	}
	return g.sendEvent(conn, protocol.EventPairApproved, protocol.TokenPayload{Token: token})
}

// Register adds a fresh connection.
func (g *Gateway) Register(sessionID, nonce string) *NodeConnection {
	ctx, cancel := context.WithCancel(context.Background())
	conn := &NodeConnection{
		ID:        sessionID,
		SessionID: sessionID,
		Nonce:     nonce,
		SendCh:    make(chan []byte, sendChannelBuffer),
		LastSeen:  time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}

	g.mu.Lock()
	g.nodes[sessionID] = conn
	total := len(g.nodes)
	g.mu.Unlock()

	slog.Info("Node connection registered", "session_id", sessionID, "total_connections", total)
	return conn
}

func (g *Gateway) Deregister(sessionID string) {
	g.mu.Lock()
	conn, ok := g.nodes[sessionID]
	if ok {
		conn.cancel()
		delete(g.nodes, sessionID)
	}
	total := len(g.nodes)
	g.mu.Unlock()

	if ok {
		slog.Info("Node connection deregistered", "session_id", sessionID, "total_connections", total)
	}
}

// Connections returns the number of live sockets.
func (g *Gateway) Connections() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Invoke pushes a node.invoke.request to the authenticated connection of
// deviceID and returns the invocation id.
func (g *Gateway) Invoke(deviceID, command string, params any) (string, error) {
	conn, ok := g.nodeByDevice(deviceID)
	if !ok || !conn.Authenticated() {
		return "", fmt.Errorf("device not connected: %s", deviceID)
	}
	id := g.nextID("inv")
	payload := map[string]any{
		"id":      id,
		"nodeId":  deviceID,
		"command": command,
		"params":  params,
	}
	return id, g.sendEvent(conn, protocol.EventNodeInvokeRequest, payload)
}

// InvokeLegacy pushes a legacy invoke frame.
func (g *Gateway) InvokeLegacy(deviceID, method string, params any) (string, error) {
	conn, ok := g.nodeByDevice(deviceID)
	if !ok {
		return "", fmt.Errorf("device not connected: %s", deviceID)
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return "", err
	}
	id := g.nextID("legacy")
	data, err := protocol.Encode(protocol.Frame{Type: protocol.TypeInvoke, Invoke: &protocol.Invoke{
		ID:     id,
		Method: method,
		Params: raw,
	}})
	if err != nil {
		return "", err
	}
	return id, g.send(conn, data)
}

// Ping sends a ping event to every connection.
func (g *Gateway) Ping() {
	g.mu.RLock()
	conns := make([]*NodeConnection, 0, len(g.nodes))
	for _, conn := range g.nodes {
		conns = append(conns, conn)
	}
	g.mu.RUnlock()

	for _, conn := range conns {
		if err := g.sendEvent(conn, protocol.EventPing, nil); err != nil {
			slog.Warn("Failed to ping node", "session_id", conn.ID, "error", err)
		}
	}
}

func (g *Gateway) nodeByDevice(deviceID string) (*NodeConnection, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var latest *NodeConnection
	for _, conn := range g.nodes {
		if conn.DeviceID() == deviceID && (latest == nil || conn.lastSeen().After(latest.lastSeen())) {
			latest = conn
		}
	}
	return latest, latest != nil
}

func (g *Gateway) nextID(prefix string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter++
	return fmt.Sprintf("%s-%d", prefix, g.counter)
}

func (g *Gateway) send(conn *NodeConnection, data []byte) error {
	select {
	case conn.SendCh <- data:
		return nil
	case <-time.After(sendTimeout):
		return fmt.Errorf("timeout sending to node: %s", conn.ID)
	case <-conn.ctx.Done():
		return fmt.Errorf("node connection closed: %s", conn.ID)
	}
}

func (g *Gateway) sendEvent(conn *NodeConnection, name string, payload any) error {
	frame, err := protocol.NewEvent(name, payload)
	if err != nil {
		return err
	}
	data, err := protocol.Encode(frame)
	if err != nil {
		return err
	}
	return g.send(conn, data)
}

