package dispatch

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/EternisAI/clawd-node/internal/capability/browser"
)

var browserPaths = map[string]browser.Action{
	"/status":          browser.ActionStatus,
	"/start":           browser.ActionStart,
	"/stop":            browser.ActionStop,
	"/open":            browser.ActionOpen,
	"/tabs/open":       browser.ActionOpen,
	"/navigate":        browser.ActionNavigate,
	"/tabs/navigate":   browser.ActionNavigate,
	"/tabs":            browser.ActionTabs,
	"/tabs/list":       browser.ActionTabs,
	"/tabs/focus":      browser.ActionTabFocus,
	"/tabs/close":      browser.ActionTabClose,
	"/snapshot":        browser.ActionSnapshot,
	"/tabs/snapshot":   browser.ActionSnapshot,
	"/screenshot":      browser.ActionScreenshot,
	"/tabs/screenshot": browser.ActionScreenshot,
	"/act":             browser.ActionAct,
	"/tabs/act":        browser.ActionAct,
	"/content":         browser.ActionContent,
	"/tabs/content":    browser.ActionContent,
	"/html":            browser.ActionContent,
	"/evaluate":        browser.ActionEvaluate,
	"/console":         browser.ActionConsole,
	"/cookies":         browser.ActionCookies,
	"/cookies/set":     browser.ActionCookieSet,
	"/cookies/clear":   browser.ActionCookieClear,
}

// BrowserRoute is the action a browser.proxy request resolved to.
type BrowserRoute struct {
	Action browser.Action
	Params browser.Params
}

// RouteBrowserProxy maps browser.proxy params {method, path, body} onto a
// browser action. A bare {action, ...} object routes as POST / with itself
// as the body.
func RouteBrowserProxy(raw json.RawMessage) (BrowserRoute, error) {
	params := browser.ParamsFrom(raw)

	_, hasPath := params["path"]
	_, hasMethod := params["method"]
	if !hasPath && !hasMethod && params.String("action") != "" {
		return routeBrowser(http.MethodPost, "/", params)
	}

	method := strings.ToUpper(params.String("method"))
	if method == "" {
		method = http.MethodGet
	}
	path := params.String("path")
	if path == "" {
		path = "/"
	}
	body := browser.Params{}
	if m, ok := params["body"].(map[string]any); ok {
		body = m
	}
	return routeBrowser(method, path, body)
}

func routeBrowser(method, path string, body browser.Params) (BrowserRoute, error) {
	path = "/" + strings.Trim(path, "/")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}

	var name string
	switch {
	case path == "/":
		name = string(browser.ActionStatus)
		if method != http.MethodGet {
			if action := body.String("action"); action != "" {
				name = action
			}
		}
	case method == http.MethodDelete && strings.HasPrefix(path, "/tabs/") && browserPaths[path] == "":
		name = string(browser.ActionTabClose)
		target, _, _ := strings.Cut(strings.TrimPrefix(path, "/tabs/"), "/")
		body = body.With("targetId", target)
	default:
		action, ok := browserPaths[path]
		if !ok {
			return BrowserRoute{}, unavailable("Unknown browser route: %s %s", method, path)
		}
		name = string(action)
	}

	action, params, err := browser.ParseAction(name, body)
	if err != nil {
		return BrowserRoute{}, unavailable("%s", err.Error())
	}
	if action == browser.ActionAct {
		params = normalizeAct(params)
	}
	return BrowserRoute{Action: action, Params: params}, nil
}

// normalizeAct folds the field spellings of different callers into
// type/selector/text.
func normalizeAct(p browser.Params) browser.Params {
	out := browser.Params{}
	if t := p.String("kind", "type", "action"); t != "" && t != string(browser.ActionAct) {
		out["type"] = t
	}
	if s := p.String("ref", "selector", "target"); s != "" {
		out["selector"] = s
	}
	if s := p.String("text", "value"); s != "" {
		out["text"] = s
	}
	for _, key := range []string{"key", "x", "y", "amount", "value", "option", "targetId"} {
		if v, ok := p[key]; ok {
			out[key] = v
		}
	}
	return out
}
