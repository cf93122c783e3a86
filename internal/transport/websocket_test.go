package transport

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EternisAI/clawd-node/internal/cert"
)

func echoHandler() http.Handler {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			kind, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if string(data) == "bye" {
				_ = ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(4001, "told to leave"))
				return
			}
			if err := ws.WriteMessage(kind, data); err != nil {
				return
			}
		}
	})
}

func echoServer(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(echoHandler())
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocketDialer_Echo(t *testing.T) {
	srv := echoServer(t)

	conn, err := (&WebSocketDialer{}).Dial(context.Background(), wsURL(srv))
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Ping())
	require.NoError(t, conn.WriteMessage([]byte(`{"type":"event","event":"ping"}`)))

	data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, `{"type":"event","event":"ping"}`, string(data))
}

func TestWebSocketConn_CloseDetails(t *testing.T) {
	srv := echoServer(t)

	conn, err := (&WebSocketDialer{}).Dial(context.Background(), wsURL(srv))
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage([]byte("bye")))
	_, err = conn.ReadMessage()
	require.Error(t, err)

	code, reason, ok := CloseDetails(err)
	assert.True(t, ok)
	assert.Equal(t, 4001, code)
	assert.Equal(t, "told to leave", reason)
	assert.True(t, IsUnexpectedClose(err))
}

func TestWebSocketDialer_Refused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := (&WebSocketDialer{}).Dial(context.Background(), wsURL(srv))
	assert.Error(t, err)
}

func TestLoadClientTLS(t *testing.T) {
	config, err := LoadClientTLS(TLSOptions{})
	require.NoError(t, err)
	assert.Nil(t, config)

	config, err = LoadClientTLS(TLSOptions{ServerNameOverride: "gateway.local", InsecureSkipVerify: true})
	require.NoError(t, err)
	assert.Equal(t, "gateway.local", config.ServerName)
	assert.True(t, config.InsecureSkipVerify)

	_, err = LoadClientTLS(TLSOptions{CAFile: filepath.Join(t.TempDir(), "missing.pem")})
	assert.Error(t, err)
}

func TestWebSocketDialer_TLSWithCAFile(t *testing.T) {
	certs, err := cert.New(t.TempDir(), nil)
	require.NoError(t, err)
	pair, err := tls.LoadX509KeyPair(certs.ServerCertPath, certs.ServerKeyPath)
	require.NoError(t, err)

	srv := httptest.NewUnstartedServer(echoHandler())
	srv.TLS = &tls.Config{Certificates: []tls.Certificate{pair}}
	srv.StartTLS()
	t.Cleanup(srv.Close)

	config, err := LoadClientTLS(TLSOptions{CAFile: certs.CaCertPath})
	require.NoError(t, err)

	conn, err := (&WebSocketDialer{TLSConfig: config}).Dial(context.Background(), wsURL(srv))
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.WriteMessage([]byte("hello")))
	data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = (&WebSocketDialer{}).Dial(context.Background(), wsURL(srv))
	assert.Error(t, err)
}
