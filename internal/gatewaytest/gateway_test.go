package gatewaytest_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EternisAI/clawd-node/internal/auth"
	"github.com/EternisAI/clawd-node/internal/gateway/client"
	"github.com/EternisAI/clawd-node/internal/gatewaytest"
	"github.com/EternisAI/clawd-node/internal/identity"
	"github.com/EternisAI/clawd-node/internal/protocol"
	"github.com/EternisAI/clawd-node/internal/status"
)

const waitTimeout = 5 * time.Second

type memoryTokens struct {
	mu    sync.Mutex
	saved []string
}

func (m *memoryTokens) SaveToken(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, token)
	return nil
}

func (m *memoryTokens) last() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.saved) == 0 {
		return ""
	}
	return m.saved[len(m.saved)-1]
}

// echoHandler answers every invocation with its params.
type echoHandler struct {
	client *client.Client
}

func (h *echoHandler) Commands() []string { return []string{"echo"} }

func (h *echoHandler) Handle(_ context.Context, inv protocol.Invocation) {
	_, _ = h.client.SendRequest(protocol.MethodNodeInvokeResult, protocol.InvokeResult{
		ID:          inv.ID,
		NodeID:      inv.NodeID,
		OK:          true,
		PayloadJSON: string(inv.Params),
	})
}

type setup struct {
	gw       *gatewaytest.Gateway
	client   *client.Client
	identity *identity.DeviceIdentity
	tokens   *memoryTokens
	tracker  *status.Tracker
}

func newSetup(t *testing.T, gwOpts gatewaytest.Options, mutate func(*client.Options)) *setup {
	t.Helper()

	gw := gatewaytest.New(gwOpts)
	server := httptest.NewServer(gw)
	t.Cleanup(server.Close)

	id, err := identity.Generate()
	require.NoError(t, err)

	s := &setup{
		gw:       gw,
		identity: id,
		tokens:   &memoryTokens{},
		tracker:  status.NewTracker(),
	}
	opts := client.Options{
		URL:               "ws" + strings.TrimPrefix(server.URL, "http"),
		NodeID:            "node-e2e",
		NodeName:          "E2E",
		ReconnectInterval: 50 * time.Millisecond,
		Identity:          id,
		Tokens:            s.tokens,
		Reporter:          s.tracker,
	}
	if mutate != nil {
		mutate(&opts)
	}
	s.client = client.NewClient(opts)
	s.client.SetHandler(&echoHandler{client: s.client})
	t.Cleanup(func() { _ = s.client.Stop() })
	return s
}

func (s *setup) waitConnected(t *testing.T) {
	t.Helper()
	require.Eventually(t, s.client.Connected, waitTimeout, 10*time.Millisecond,
		"client never connected, last status %+v", s.tracker.Last())
}

func TestPairedNodeConnects(t *testing.T) {
	s := newSetup(t, gatewaytest.Options{}, nil)
	token := s.gw.Pair(s.identity.DeviceID)

	require.NoError(t, s.client.Start())
	s.waitConnected(t)

	assert.Equal(t, token, s.tokens.last())
	assert.Equal(t, status.Connected, s.tracker.Last().Status)
	assert.Equal(t, 1, s.gw.Connections())

	select {
	case params := <-s.gw.Connects:
		assert.Equal(t, s.identity.DeviceID, params.Device.ID)
		assert.Equal(t, []string{"echo"}, params.Commands)
	case <-time.After(waitTimeout):
		t.Fatal("gateway never saw connect")
	}
}

func TestOperatorApprovalCompletesPairing(t *testing.T) {
	s := newSetup(t, gatewaytest.Options{}, nil)
	require.NoError(t, s.client.Start())

	select {
	case req := <-s.gw.PairRequests:
		assert.Equal(t, "node-e2e", req.NodeID)
		assert.Contains(t, req.Caps, "system.run")
	case <-time.After(waitTimeout):
		t.Fatal("gateway never saw pairing request")
	}
	require.Eventually(t, func() bool {
		return s.tracker.Last().Status == status.Pairing
	}, waitTimeout, 10*time.Millisecond)
	assert.Equal(t, []string{s.identity.DeviceID}, s.gw.PendingPairings())
	assert.False(t, s.client.Connected())

	require.NoError(t, s.gw.Approve(s.identity.DeviceID))
	s.waitConnected(t)

	assert.True(t, s.gw.IsPaired(s.identity.DeviceID))
	assert.NotEmpty(t, s.tokens.last())
	assert.Empty(t, s.gw.PendingPairings())
}

func TestAutoApprovePairing(t *testing.T) {
	s := newSetup(t, gatewaytest.Options{AutoApprove: true}, nil)
	require.NoError(t, s.client.Start())

	s.waitConnected(t)
	info, err := auth.Inspect(s.tokens.last())
	require.NoError(t, err)
	assert.True(t, info.JWT)
	assert.Equal(t, s.identity.DeviceID, info.Subject)
}

func TestWrongPasswordFailsAuth(t *testing.T) {
	s := newSetup(t, gatewaytest.Options{Password: "hunter2"}, func(o *client.Options) {
		o.Password = "wrong"
		o.ReconnectInterval = time.Hour
	})
	s.gw.Pair(s.identity.DeviceID)
	require.NoError(t, s.client.Start())

	require.Eventually(t, func() bool {
		last := s.tracker.Last()
		return last.Status == status.AuthFailed && last.Details == "invalid password"
	}, waitTimeout, 10*time.Millisecond)
	assert.False(t, s.client.Connected())
}

func TestInvocationRoundTrip(t *testing.T) {
	s := newSetup(t, gatewaytest.Options{}, nil)
	s.gw.Pair(s.identity.DeviceID)
	require.NoError(t, s.client.Start())
	s.waitConnected(t)

	require.Eventually(t, func() bool {
		_, err := s.gw.Invoke(s.identity.DeviceID, "echo", map[string]string{"msg": "hi"})
		return err == nil
	}, waitTimeout, 10*time.Millisecond)

	select {
	case result := <-s.gw.Results:
		assert.True(t, result.OK)
		assert.Equal(t, s.identity.DeviceID, result.NodeID)
		assert.JSONEq(t, `{"msg":"hi"}`, result.PayloadJSON)
	case <-time.After(waitTimeout):
		t.Fatal("no invocation result")
	}
}

func TestVerifyConnect(t *testing.T) {
	id, err := identity.Generate()
	require.NoError(t, err)

	signed := func(nonce string) protocol.ConnectParams {
		payload := identity.AuthPayload{
			DeviceID:   id.DeviceID,
			ClientID:   "node-host",
			ClientMode: "node",
			Role:       "node",
			Scopes:     []string{},
			SignedAtMs: 1700000000000,
			Nonce:      nonce,
		}
		_, sig := id.SignAuthPayload(payload)
		params := protocol.ConnectParams{
			Client: protocol.ClientInfo{ID: "node-host", Mode: "node"},
			Role:   "node",
			Scopes: []string{},
			Device: protocol.DeviceAuth{
				ID:        id.DeviceID,
				PublicKey: id.PublicKeyEncoded(),
				Signature: sig,
				SignedAt:  1700000000000,
				Nonce:     nonce,
			},
		}
		return params
	}

	t.Run("valid v2", func(t *testing.T) {
		assert.NoError(t, gatewaytest.VerifyConnect(signed("n-1"), "n-1"))
	})

	t.Run("valid v1 without nonce", func(t *testing.T) {
		assert.NoError(t, gatewaytest.VerifyConnect(signed(""), "n-1"))
	})

	t.Run("stale nonce", func(t *testing.T) {
		err := gatewaytest.VerifyConnect(signed("n-0"), "n-1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "device identity")
	})

	t.Run("tampered scopes", func(t *testing.T) {
		params := signed("n-1")
		params.Scopes = []string{"admin"}
		assert.Error(t, gatewaytest.VerifyConnect(params, "n-1"))
	})

	t.Run("id not matching key", func(t *testing.T) {
		params := signed("n-1")
		params.Device.ID = strings.Repeat("0", 64)
		assert.Error(t, gatewaytest.VerifyConnect(params, "n-1"))
	})
}

func TestInvokeRequiresAuthenticatedNode(t *testing.T) {
	gw := gatewaytest.New(gatewaytest.Options{})
	_, err := gw.Invoke("unknown", "echo", nil)
	assert.Error(t, err)

	_, err = gw.InvokeLegacy("unknown", "exec", json.RawMessage(`{}`))
	assert.Error(t, err)
}
