package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var ErrMalformedFrame = errors.New("malformed frame")

type wireFrame struct {
	Type    string          `json:"type"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
	Event   string          `json:"event,omitempty"`
}

// Decode parses one wire message. Every failure wraps ErrMalformedFrame so the
// caller can log and drop the frame without tearing down the connection.
func Decode(data []byte) (Frame, error) {
	var w wireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if w.Type == "" {
		return Frame{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}

	id, err := decodeID(w.ID)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	errText := decodeError(w.Error)
	payload := nullToEmpty(w.Payload)
	params := nullToEmpty(w.Params)

	frame := Frame{Type: w.Type, ID: id, Error: errText}

	switch w.Type {
	case TypeRequest:
		if id == "" || w.Method == "" {
			return Frame{}, fmt.Errorf("%w: req without id or method", ErrMalformedFrame)
		}
		frame.Request = &Request{ID: id, Method: w.Method, Params: params}
	case TypeResponse:
		frame.Response = &Response{ID: id, OK: w.OK != nil && *w.OK, Payload: payload, Error: errText}
	case TypeEvent:
		if w.Event == "" {
			return Frame{}, fmt.Errorf("%w: event without name", ErrMalformedFrame)
		}
		frame.Event = &Event{Name: w.Event, Payload: payload}
	case TypeInvoke:
		frame.Invoke = &Invoke{ID: id, Method: w.Method, Params: params}
	case TypeInvokeResponse:
		frame.InvokeResponse = &InvokeResponse{ID: id, OK: w.OK != nil && *w.OK, Payload: payload, Error: errText}
	}

	return frame, nil
}

// Encode serialises a frame using only the fields of its type.
func Encode(f Frame) ([]byte, error) {
	var w wireFrame
	w.Type = f.Type

	switch f.Type {
	case TypeRequest:
		if f.Request == nil {
			return nil, errors.New("req frame without request")
		}
		w.ID = encodeID(f.Request.ID)
		w.Method = f.Request.Method
		w.Params = f.Request.Params
		if len(w.Params) == 0 {
			w.Params = json.RawMessage("{}")
		}
	case TypeResponse:
		if f.Response == nil {
			return nil, errors.New("res frame without response")
		}
		w.ID = encodeID(f.Response.ID)
		w.OK = boolPtr(f.Response.OK)
		w.Payload = f.Response.Payload
		w.Error = encodeError(f.Response.Error)
	case TypeEvent:
		if f.Event == nil {
			return nil, errors.New("event frame without event")
		}
		w.Event = f.Event.Name
		w.Payload = f.Event.Payload
	case TypeInvoke:
		if f.Invoke == nil {
			return nil, errors.New("invoke frame without invoke")
		}
		w.ID = encodeID(f.Invoke.ID)
		w.Method = f.Invoke.Method
		w.Params = f.Invoke.Params
	case TypeInvokeResponse:
		if f.InvokeResponse == nil {
			return nil, errors.New("invoke-res frame without response")
		}
		w.ID = encodeID(f.InvokeResponse.ID)
		w.OK = boolPtr(f.InvokeResponse.OK)
		w.Payload = f.InvokeResponse.Payload
		w.Error = encodeError(f.InvokeResponse.Error)
	default:
		if f.ID != "" {
			w.ID = encodeID(f.ID)
		}
		w.Error = encodeError(f.Error)
	}

	return json.Marshal(w)
}

// NewRequest builds a req frame, marshalling params.
func NewRequest(id, method string, params any) (Frame, error) {
	raw, err := marshalRaw(params)
	if err != nil {
		return Frame{}, fmt.Errorf("marshalling %s params: %w", method, err)
	}
	return Frame{Type: TypeRequest, Request: &Request{ID: id, Method: method, Params: raw}}, nil
}

// NewEvent builds an event frame. A nil payload is omitted.
func NewEvent(name string, payload any) (Frame, error) {
	raw, err := marshalRaw(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("marshalling %s payload: %w", name, err)
	}
	return Frame{Type: TypeEvent, Event: &Event{Name: name, Payload: raw}}, nil
}

// NewInvokeResponse builds a legacy invoke-res frame.
func NewInvokeResponse(id string, ok bool, payload any, errText string) (Frame, error) {
	raw, err := marshalRaw(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("marshalling invoke-res payload: %w", err)
	}
	return Frame{Type: TypeInvokeResponse, InvokeResponse: &InvokeResponse{ID: id, OK: ok, Payload: raw, Error: errText}}, nil
}

// UnmarshalPayload decodes an optional payload into v. An absent payload
// leaves v untouched.
func UnmarshalPayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func marshalRaw(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// decodeID accepts string ids and, leniently, numeric ones.
func decodeID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("id %s is neither string nor number", raw)
}

func encodeID(id string) json.RawMessage {
	return json.RawMessage(strconv.Quote(id))
}

// decodeError accepts a plain string or a {code, message} object.
func decodeError(raw json.RawMessage) string {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj InvokeError
	if err := json.Unmarshal(raw, &obj); err == nil {
		switch {
		case obj.Code != "" && obj.Message != "":
			return obj.Code + ": " + obj.Message
		case obj.Message != "":
			return obj.Message
		default:
			return obj.Code
		}
	}
	return string(raw)
}

func encodeError(text string) json.RawMessage {
	if text == "" {
		return nil
	}
	data, _ := json.Marshal(text)
	return data
}

func nullToEmpty(raw json.RawMessage) json.RawMessage {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}
	return raw
}

func boolPtr(b bool) *bool {
	return &b
}
