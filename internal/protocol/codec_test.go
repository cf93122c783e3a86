package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	frames := map[string]Frame{
		"req": {
			Type:    TypeRequest,
			Request: &Request{ID: "7", Method: "node.invoke.result", Params: json.RawMessage(`{"id":"inv-1","ok":true}`)},
		},
		"res": {
			Type:     TypeResponse,
			Response: &Response{ID: "7", OK: false, Error: "boom"},
		},
		"event": {
			Type:  TypeEvent,
			Event: &Event{Name: EventConnectChallenge, Payload: json.RawMessage(`{"nonce":"xyz"}`)},
		},
		"invoke": {
			Type:   TypeInvoke,
			Invoke: &Invoke{ID: "9", Method: "exec", Params: json.RawMessage(`{"command":"ls"}`)},
		},
	}

	for name, frame := range frames {
		t.Run(name, func(t *testing.T) {
			data, err := Encode(frame)
			require.NoError(t, err)

			decoded, err := Decode(data)
			require.NoError(t, err)

			assert.Equal(t, frame.Type, decoded.Type)
			assert.Equal(t, frame.Request, decoded.Request)
			assert.Equal(t, frame.Event, decoded.Event)
			assert.Equal(t, frame.Invoke, decoded.Invoke)
			if frame.Response != nil {
				require.NotNil(t, decoded.Response)
				assert.Equal(t, frame.Response.ID, decoded.Response.ID)
				assert.Equal(t, frame.Response.OK, decoded.Response.OK)
				assert.Equal(t, frame.Response.Error, decoded.Response.Error)
				assert.Empty(t, decoded.Response.Payload)
			}
		})
	}
}

func TestEncode_RequestWireShape(t *testing.T) {
	frame, err := NewRequest("1", MethodConnect, map[string]int{"minProtocol": 3})
	require.NoError(t, err)

	data, err := Encode(frame)
	require.NoError(t, err)

	assert.JSONEq(t, `{"type":"req","id":"1","method":"connect","params":{"minProtocol":3}}`, string(data))
}

func TestEncode_RequestWithoutParamsSendsEmptyObject(t *testing.T) {
	data, err := Encode(Frame{Type: TypeRequest, Request: &Request{ID: "2", Method: "x"}})
	require.NoError(t, err)

	assert.JSONEq(t, `{"type":"req","id":"2","method":"x","params":{}}`, string(data))
}

func TestEncode_LegacyPong(t *testing.T) {
	data, err := Encode(Frame{Type: TypePong, ID: "p1"})
	require.NoError(t, err)

	assert.JSONEq(t, `{"type":"pong","id":"p1"}`, string(data))
}

func TestDecode_Malformed(t *testing.T) {
	cases := map[string]string{
		"not json":         `{"type":`,
		"array":            `[1,2]`,
		"missing type":     `{"id":"1"}`,
		"event no name":    `{"type":"event"}`,
		"req no method":    `{"type":"req","id":"1"}`,
		"id of wrong kind": `{"type":"res","id":{"a":1}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(body))
			assert.ErrorIs(t, err, ErrMalformedFrame)
		})
	}
}

func TestDecode_NumericIDAndObjectError(t *testing.T) {
	frame, err := Decode([]byte(`{"type":"res","id":12,"ok":false,"error":{"code":"NOT_PAIRED","message":"pair first"}}`))
	require.NoError(t, err)

	require.NotNil(t, frame.Response)
	assert.Equal(t, "12", frame.Response.ID)
	assert.False(t, frame.Response.OK)
	assert.Equal(t, "NOT_PAIRED: pair first", frame.Response.Error)
}

func TestDecode_LegacyFrames(t *testing.T) {
	frame, err := Decode([]byte(`{"type":"auth_error","error":"device identity required"}`))
	require.NoError(t, err)
	assert.Equal(t, TypeAuthError, frame.Type)
	assert.Equal(t, "device identity required", frame.Error)

	frame, err = Decode([]byte(`{"type":"ping","id":"abc"}`))
	require.NoError(t, err)
	assert.Equal(t, TypePing, frame.Type)
	assert.Equal(t, "abc", frame.ID)
}

func TestDecode_NullPayloadIsAbsent(t *testing.T) {
	frame, err := Decode([]byte(`{"type":"event","event":"ping","payload":null}`))
	require.NoError(t, err)

	require.NotNil(t, frame.Event)
	assert.Empty(t, frame.Event.Payload)
}

func TestParseInvokeRequest(t *testing.T) {
	t.Run("params object", func(t *testing.T) {
		inv, err := ParseInvokeRequest(json.RawMessage(`{"id":"a","command":"system.run","params":{"command":["ls"]},"nodeId":"n1"}`))
		require.NoError(t, err)
		assert.Equal(t, "a", inv.ID)
		assert.Equal(t, "system.run", inv.Command)
		assert.Equal(t, "n1", inv.NodeID)
		assert.JSONEq(t, `{"command":["ls"]}`, string(inv.Params))
		assert.False(t, inv.Legacy)
	})

	t.Run("paramsJSON fallback", func(t *testing.T) {
		inv, err := ParseInvokeRequest(json.RawMessage(`{"id":"b","command":"notification","paramsJSON":"{\"title\":\"hi\"}"}`))
		require.NoError(t, err)
		assert.JSONEq(t, `{"title":"hi"}`, string(inv.Params))
	})

	t.Run("unparsable paramsJSON", func(t *testing.T) {
		inv, err := ParseInvokeRequest(json.RawMessage(`{"id":"c","command":"notification","paramsJSON":"{oops"}`))
		require.NoError(t, err)
		assert.JSONEq(t, `{}`, string(inv.Params))
	})

	t.Run("missing id", func(t *testing.T) {
		_, err := ParseInvokeRequest(json.RawMessage(`{"command":"system.run"}`))
		assert.ErrorIs(t, err, ErrMalformedFrame)
	})
}

func TestInvocationFromInvoke(t *testing.T) {
	inv, err := InvocationFromInvoke(&Invoke{ID: "3", Method: "exec"})
	require.NoError(t, err)

	assert.True(t, inv.Legacy)
	assert.Equal(t, "exec", inv.Command)
	assert.JSONEq(t, `{}`, string(inv.Params))
}
