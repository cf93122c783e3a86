package protocol

import "encoding/json"

// Frame type discriminators.
const (
	TypeRequest        = "req"
	TypeResponse       = "res"
	TypeEvent          = "event"
	TypeInvoke         = "invoke"
	TypeInvokeResponse = "invoke-res"

	// Legacy frames still emitted by older gateways.
	TypeAuthOK    = "auth_ok"
	TypeAuthError = "auth_error"
	TypePing      = "ping"
	TypePong      = "pong"
)

// Event names.
const (
	EventConnectChallenge  = "connect.challenge"
	EventHelloOK           = "hello-ok"
	EventAuthSuccess       = "auth.success"
	EventAuthFailed        = "auth.failed"
	EventError             = "error"
	EventPairRequested     = "node.pair.requested"
	EventPairApproved      = "node.pair.approved"
	EventPing              = "ping"
	EventPong              = "pong"
	EventNodeInvokeRequest = "node.invoke.request"
)

// Request methods.
const (
	MethodConnect          = "connect"
	MethodPairRequest      = "node.pair.request"
	MethodNodeInvokeResult = "node.invoke.result"
)

// Response payload types.
const (
	PayloadHelloOK = "hello-ok"
	PayloadPairOK  = "pair-ok"
)

// Request is an outbound call expecting a Response with the same ID.
type Request struct {
	ID     string
	Method string
	Params json.RawMessage
}

// Response replies to a Request.
type Response struct {
	ID      string
	OK      bool
	Payload json.RawMessage
	Error   string
}

// Event is an unsolicited notification.
type Event struct {
	Name    string
	Payload json.RawMessage
}

// Invoke is the legacy server-initiated call answered with an InvokeResponse.
type Invoke struct {
	ID     string
	Method string
	Params json.RawMessage
}

// InvokeResponse answers a legacy Invoke.
type InvokeResponse struct {
	ID      string
	OK      bool
	Payload json.RawMessage
	Error   string
}

// Frame is one decoded wire message. Type selects which of the pointer fields
// is set. Legacy frames (auth_ok, auth_error, ping, pong) carry only ID and
// Error.
type Frame struct {
	Type string

	Request        *Request
	Response       *Response
	Event          *Event
	Invoke         *Invoke
	InvokeResponse *InvokeResponse

	ID    string
	Error string
}

// HelloOK is the payload of a successful connect response.
type HelloOK struct {
	Type     string `json:"type"`
	Protocol int    `json:"protocol,omitempty"`
	Server   struct {
		Host string `json:"host,omitempty"`
	} `json:"server"`
	Auth struct {
		DeviceToken string `json:"deviceToken,omitempty"`
	} `json:"auth"`
	Token string `json:"token,omitempty"`
}

// Challenge is the payload of connect.challenge.
type Challenge struct {
	Nonce string `json:"nonce"`
}

// TokenPayload covers hello-ok/auth.success events, pair approvals and pair-ok
// responses, all of which may carry a session token.
type TokenPayload struct {
	Type  string `json:"type,omitempty"`
	Token string `json:"token,omitempty"`
}

// FailurePayload covers auth.failed and error events.
type FailurePayload struct {
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Text returns the first non-empty of reason, message, error.
func (f FailurePayload) Text() string {
	switch {
	case f.Reason != "":
		return f.Reason
	case f.Message != "":
		return f.Message
	default:
		return f.Error
	}
}

// ClientInfo describes the node in a connect request.
type ClientInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Version     string `json:"version"`
	Platform    string `json:"platform"`
	Mode        string `json:"mode"`
	InstanceID  string `json:"instanceId"`
}

// ConnectAuth carries optional shared credentials.
type ConnectAuth struct {
	Token    string `json:"token,omitempty"`
	Password string `json:"password,omitempty"`
}

// DeviceAuth carries the signed device proof.
type DeviceAuth struct {
	ID        string `json:"id"`
	PublicKey string `json:"publicKey"`
	Signature string `json:"signature"`
	SignedAt  int64  `json:"signedAt"`
	Nonce     string `json:"nonce,omitempty"`
}

// ConnectParams are the params of the connect request.
type ConnectParams struct {
	MinProtocol int             `json:"minProtocol"`
	MaxProtocol int             `json:"maxProtocol"`
	Client      ClientInfo      `json:"client"`
	Caps        []string        `json:"caps"`
	Commands    []string        `json:"commands"`
	Permissions map[string]bool `json:"permissions"`
	Auth        ConnectAuth     `json:"auth"`
	Role        string          `json:"role"`
	Scopes      []string        `json:"scopes"`
	Device      DeviceAuth      `json:"device"`
}

// PairRequestParams are the params of node.pair.request.
type PairRequestParams struct {
	NodeID   string   `json:"nodeId"`
	NodeName string   `json:"nodeName"`
	Platform string   `json:"platform"`
	Caps     []string `json:"caps"`
}

// Error codes of invocation results.
const (
	CodeUnavailable = "UNAVAILABLE"
	CodeError       = "ERROR"
)

// InvokeError is the structured failure of an invocation result.
type InvokeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// InvokeResult are the params of node.invoke.result. PayloadJSON holds the
// result already serialised to JSON; the gateway expects a string, not an
// object.
type InvokeResult struct {
	ID          string       `json:"id"`
	NodeID      string       `json:"nodeId"`
	OK          bool         `json:"ok"`
	PayloadJSON string       `json:"payloadJSON,omitempty"`
	Error       *InvokeError `json:"error,omitempty"`
}
