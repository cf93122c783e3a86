package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Invocation is a command the gateway asked this node to run, from either a
// node.invoke.request event or a legacy invoke frame.
type Invocation struct {
	ID      string
	Command string
	Params  json.RawMessage
	NodeID  string
	// Legacy invocations are answered with an invoke-res frame instead of a
	// node.invoke.result request.
	Legacy  bool
}

type invokeRequestPayload struct {
	ID         json.RawMessage `json:"id"`
	NodeID     string          `json:"nodeId"`
	Command    string          `json:"command"`
	Params     json.RawMessage `json:"params"`
	ParamsJSON string          `json:"paramsJSON"`
}

var emptyObject = json.RawMessage("{}")

// ParseInvokeRequest extracts an Invocation from a node.invoke.request event
// payload. Params come from "params" when present, otherwise from the
// string-encoded "paramsJSON"; an unparsable paramsJSON yields {}.
func ParseInvokeRequest(payload json.RawMessage) (Invocation, error) {
	if len(payload) == 0 {
		return Invocation{}, fmt.Errorf("%w: invoke request without payload", ErrMalformedFrame)
	}
	var p invokeRequestPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return Invocation{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	id, err := decodeID(p.ID)
	if err != nil {
		return Invocation{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if id == "" {
		return Invocation{}, fmt.Errorf("%w: invoke request without id", ErrMalformedFrame)
	}

	params := nullToEmpty(p.Params)
	if len(params) == 0 && p.ParamsJSON != "" {
		if json.Valid([]byte(p.ParamsJSON)) {
			params = json.RawMessage(p.ParamsJSON)
		} else {
			params = emptyObject
		}
	}
	if len(params) == 0 {
		params = emptyObject
	}

	return Invocation{
		ID:      id,
		Command: p.Command,
		Params:  params,
		NodeID:  p.NodeID,
	}, nil
}

// InvocationFromInvoke converts a legacy invoke frame.
func InvocationFromInvoke(inv *Invoke) (Invocation, error) {
	if inv == nil || inv.ID == "" {
		return Invocation{}, errors.New("legacy invoke without id")
	}
	params := inv.Params
	if len(bytes.TrimSpace(params)) == 0 {
		params = emptyObject
	}
	return Invocation{
		ID:      inv.ID,
		Command: inv.Method,
		Params:  params,
		Legacy:  true,
	}, nil
}
