// Package browser drives a persistent Chrome profile over the DevTools
// protocol for the browser.proxy command.
package browser

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Action names a browser operation.
type Action string

const (
	ActionStatus      Action = "status"
	ActionStart       Action = "start"
	ActionStop        Action = "stop"
	ActionOpen        Action = "open"
	ActionNavigate    Action = "navigate"
	ActionTabs        Action = "tabs"
	ActionTabFocus    Action = "tabFocus"
	ActionTabClose    Action = "tabClose"
	ActionSnapshot    Action = "snapshot"
	ActionScreenshot  Action = "screenshot"
	ActionAct         Action = "act"
	ActionContent     Action = "content"
	ActionEvaluate    Action = "evaluate"
	ActionConsole     Action = "console"
	ActionCookies     Action = "cookies"
	ActionCookieSet   Action = "cookieSet"
	ActionCookieClear Action = "cookieClear"
)

var actionAliases = map[string]Action{
	"goto":  ActionNavigate,
	"close": ActionStop,
	"html":  ActionContent,
	"exec":  ActionEvaluate,
	"click": ActionAct,
	"type":  ActionAct,
	"fill":  ActionAct,
}

var knownActions = map[Action]struct{}{
	ActionStatus: {}, ActionStart: {}, ActionStop: {}, ActionOpen: {}, ActionNavigate: {},
	ActionTabs: {}, ActionTabFocus: {}, ActionTabClose: {}, ActionSnapshot: {},
	ActionScreenshot: {}, ActionAct: {}, ActionContent: {}, ActionEvaluate: {},
	ActionConsole: {}, ActionCookies: {}, ActionCookieSet: {}, ActionCookieClear: {},
}

// ParseAction resolves an action name, including the short forms older
// callers send (goto, close, html, exec, click, type, fill). For the
// element shortcuts the returned params carry the act type.
func ParseAction(name string, params Params) (Action, Params, error) {
	if _, ok := knownActions[Action(name)]; ok {
		return Action(name), params, nil
	}
	action, ok := actionAliases[name]
	if !ok {
		return "", params, fmt.Errorf("unknown browser action: %s", name)
	}
	if action == ActionAct {
		params = params.With("type", name)
	}
	return action, params, nil
}

// Params are the loosely typed arguments of an action, as decoded from JSON.
type Params map[string]any

// ParamsFrom decodes a JSON object. Anything else yields empty params.
func ParamsFrom(raw json.RawMessage) Params {
	p := Params{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &p)
	}
	return p
}

// With returns a copy with key set.
func (p Params) With(key string, value any) Params {
	out := make(Params, len(p)+1)
	for k, v := range p {
		out[k] = v
	}
	out[key] = value
	return out
}

// String returns the first non-empty value among keys. Numbers and booleans
// are formatted.
func (p Params) String(keys ...string) string {
	for _, key := range keys {
		switch v := p[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case json.Number:
			return v.String()
		case bool:
			return strconv.FormatBool(v)
		}
	}
	return ""
}

func (p Params) Bool(key string, def bool) bool {
	switch v := p[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func (p Params) Float(key string, def float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// TabID formats the id of the tab at index.
func TabID(index int) string {
	return fmt.Sprintf("tab_%d", index)
}

// ParseTabID extracts the index from a tab id such as "tab_2". An empty id
// yields def.
func ParseTabID(id string, def int) int {
	if id == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimPrefix(id, "tab_"))
	if err != nil {
		return -1
	}
	return n
}
