package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/google/uuid"
)

const (
	defaultProfile  = "clawd"
	actionTimeout   = 60 * time.Second
	consoleCapacity = 200
)

var (
	ErrNoSession   = errors.New("no active browser session")
	ErrTabNotFound = errors.New("tab not found")
)

type Options struct {
	Headless      bool
	ProfilesDir   string
	ExecPath      string
	ScreenshotDir string
}

type tab struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Controller owns at most one browser with a persistent profile. Actions are
// serialised.
type Controller struct {
	opts Options

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCancel context.CancelFunc
	browserCtx    context.Context
	tabs          []*tab
	active        *tab
	profile       string
	sessionID     string

	consoleMu sync.Mutex
	console   []ConsoleEntry
}

func New(opts Options) *Controller {
	if opts.ProfilesDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			opts.ProfilesDir = filepath.Join(home, ".clawdbot", "browser")
		} else {
			opts.ProfilesDir = filepath.Join(os.TempDir(), "clawd-browser")
		}
	}
	if opts.ScreenshotDir == "" {
		opts.ScreenshotDir = filepath.Join(os.TempDir(), "clawdbot-screenshots")
	}
	return &Controller{opts: opts}
}

// Do runs one action.
func (c *Controller) Do(ctx context.Context, action Action, params Params) (any, error) {
	if params == nil {
		params = Params{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	slog.Debug("Browser action", "action", action)

	switch action {
	case ActionStart:
		return c.start(params)
	case ActionStatus:
		return c.status(ctx), nil
	case ActionStop:
		c.shutdown()
		return Done{Success: true}, nil
	case ActionOpen, ActionNavigate:
		return c.navigate(ctx, action, params)
	case ActionSnapshot:
		return c.snapshot(ctx)
	case ActionScreenshot:
		return c.screenshot(ctx, params)
	case ActionAct:
		return c.act(ctx, params)
	case ActionEvaluate:
		return c.evaluate(ctx, params)
	case ActionContent:
		return c.content(ctx)
	case ActionTabs:
		return c.listTabs(ctx), nil
	case ActionTabFocus:
		return c.focusTab(ctx, params)
	case ActionTabClose:
		return c.closeTab(ctx, params)
	case ActionConsole:
		return ConsoleLogs{Logs: c.consoleEntries()}, nil
	case ActionCookies:
		return c.cookies(ctx)
	case ActionCookieSet:
		return c.setCookie(ctx, params)
	case ActionCookieClear:
		return c.clearCookies(ctx)
	default:
		return nil, fmt.Errorf("unknown browser action: %s", action)
	}
}

// Close shuts the browser down.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shutdown()
	return nil
}

func (c *Controller) running() bool {
	return c.browserCtx != nil
}

func (c *Controller) start(params Params) (any, error) {
	profile := params.String("profile")
	if profile == "" {
		profile = defaultProfile
	}
	headless := params.Bool("headless", c.opts.Headless)
	dir := filepath.Join(c.opts.ProfilesDir, profile, "user-data")

	if c.running() && c.profile == profile {
		return Started{Running: true, Profile: profile, UserDataDir: dir, SessionID: c.sessionID}, nil
	}
	c.shutdown()

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating profile directory: %w", err)
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(dir),
		chromedp.Flag("headless", headless),
	)
	if c.opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(c.opts.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	c.listenConsole(browserCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("launching browser: %w", err)
	}

	first := &tab{ctx: browserCtx, cancel: browserCancel}
	c.allocCancel = allocCancel
	c.browserCancel = browserCancel
	c.browserCtx = browserCtx
	c.tabs = []*tab{first}
	c.active = first
	c.profile = profile
	c.sessionID = "session_" + uuid.NewString()

	slog.Info("Browser session started", "session_id", c.sessionID, "profile", profile, "headless", headless)
	return Started{Running: true, Profile: profile, UserDataDir: dir, SessionID: c.sessionID}, nil
}

func (c *Controller) shutdown() {
	if !c.running() {
		return
	}
	for _, t := range c.tabs[1:] {
		t.cancel()
	}
	c.browserCancel()
	c.allocCancel()

	slog.Info("Browser session stopped", "session_id", c.sessionID)
	c.browserCtx = nil
	c.browserCancel = nil
	c.allocCancel = nil
	c.tabs = nil
	c.active = nil
	c.profile = ""
	c.sessionID = ""
}

// run executes actions on t, bounded by ctx and the action timeout.
func (c *Controller) run(ctx context.Context, t *tab, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(t.ctx, actionTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (c *Controller) activeTab() (*tab, error) {
	if c.active == nil {
		return nil, ErrNoSession
	}
	return c.active, nil
}

func (c *Controller) activeTabID() string {
	for i, t := range c.tabs {
		if t == c.active {
			return TabID(i)
		}
	}
	return "default"
}

func (c *Controller) location(ctx context.Context, t *tab) (string, string) {
	var url, title string
	_ = c.run(ctx, t, chromedp.Location(&url), chromedp.Title(&title))
	return url, title
}

func (c *Controller) status(ctx context.Context) Status {
	if c.active == nil {
		return Status{Running: false}
	}
	url, title := c.location(ctx, c.active)
	return Status{Running: true, Profile: c.profile, SessionID: c.sessionID, URL: url, Title: title}
}

func (c *Controller) newTab() (*tab, error) {
	ctx, cancel := chromedp.NewContext(c.browserCtx)
	c.listenConsole(ctx)
	if err := chromedp.Run(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("opening tab: %w", err)
	}
	t := &tab{ctx: ctx, cancel: cancel}
	c.tabs = append(c.tabs, t)
	return t, nil
}

func (c *Controller) navigate(ctx context.Context, action Action, params Params) (any, error) {
	url := params.String("url")
	if url == "" {
		return nil, errors.New("URL required")
	}
	if !c.running() {
		if _, err := c.start(Params{}); err != nil {
			return nil, err
		}
	}

	if c.active == nil || (action == ActionOpen && c.tabHasPage(ctx, c.active)) {
		opened, err := c.newTab()
		if err != nil {
			return nil, err
		}
		c.active = opened
	}
	t := c.active

	if err := c.run(ctx, t, chromedp.Navigate(url)); err != nil {
		return nil, fmt.Errorf("navigating to %s: %w", url, err)
	}
	current, title := c.location(ctx, t)
	return Navigated{Success: true, URL: current, Title: title}, nil
}

// tabHasPage reports whether t shows something other than a blank page.
func (c *Controller) tabHasPage(ctx context.Context, t *tab) bool {
	url, _ := c.location(ctx, t)
	return url != "" && url != "about:blank"
}

func (c *Controller) snapshot(ctx context.Context) (any, error) {
	t, err := c.activeTab()
	if err != nil {
		return nil, err
	}
	var text string
	if err := c.run(ctx, t, chromedp.Evaluate(snapshotScript, &text)); err != nil {
		return nil, fmt.Errorf("taking snapshot: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		text = "(empty page)"
	}
	url, _ := c.location(ctx, t)
	return Snapshot{OK: true, Format: "aria", Snapshot: text, TargetID: c.activeTabID(), URL: url}, nil
}

func (c *Controller) screenshot(ctx context.Context, params Params) (any, error) {
	t, err := c.activeTab()
	if err != nil {
		return nil, err
	}
	var buf []byte
	capture := chromedp.CaptureScreenshot(&buf)
	if params.Bool("fullPage", false) {
		capture = chromedp.FullScreenshot(&buf, 100)
	}
	if err := c.run(ctx, t, capture); err != nil {
		return nil, fmt.Errorf("taking screenshot: %w", err)
	}

	if err := os.MkdirAll(c.opts.ScreenshotDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating screenshot directory: %w", err)
	}
	path := filepath.Join(c.opts.ScreenshotDir, fmt.Sprintf("screenshot_%d.png", time.Now().UnixMilli()))
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return nil, fmt.Errorf("writing screenshot: %w", err)
	}
	url, _ := c.location(ctx, t)
	return Screenshot{OK: true, Path: path, TargetID: c.activeTabID(), URL: url}, nil
}

func (c *Controller) act(ctx context.Context, params Params) (any, error) {
	t, err := c.activeTab()
	if err != nil {
		return nil, err
	}
	kind := params.String("type", "action")
	selector := params.String("selector", "target")
	text := params.String("text", "value")

	needSelector := func() error {
		if selector == "" {
			return fmt.Errorf("selector required for %s", kind)
		}
		return nil
	}

	var actions []chromedp.Action
	switch kind {
	case "click":
		if err := needSelector(); err != nil {
			return nil, err
		}
		actions = append(actions, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
	case "type", "fill":
		if err := needSelector(); err != nil {
			return nil, err
		}
		actions = append(actions,
			chromedp.SetValue(selector, "", chromedp.ByQuery),
			chromedp.SendKeys(selector, text, chromedp.ByQuery))
	case "press":
		key := keyFor(params.String("key", "text", "value"))
		if selector != "" {
			actions = append(actions, chromedp.SendKeys(selector, key, chromedp.ByQuery))
		} else {
			actions = append(actions, chromedp.KeyEvent(key))
		}
	case "scroll":
		x := params.Float("x", 0)
		y := params.Float("y", params.Float("amount", 500))
		var ignored any
		actions = append(actions, chromedp.Evaluate(fmt.Sprintf("window.scrollBy(%g, %g)", x, y), &ignored))
	case "hover":
		if err := needSelector(); err != nil {
			return nil, err
		}
		var ignored any
		actions = append(actions, chromedp.Evaluate(hoverScript(selector), &ignored))
	case "focus":
		if err := needSelector(); err != nil {
			return nil, err
		}
		actions = append(actions, chromedp.Focus(selector, chromedp.ByQuery))
	case "select":
		if err := needSelector(); err != nil {
			return nil, err
		}
		actions = append(actions, chromedp.SetValue(selector, params.String("value", "option"), chromedp.ByQuery))
	default:
		return nil, fmt.Errorf("unknown act type: %s", kind)
	}

	if err := c.run(ctx, t, actions...); err != nil {
		return nil, fmt.Errorf("%s: %w", kind, err)
	}
	return Acted{Success: true, Action: kind}, nil
}

func keyFor(name string) string {
	switch strings.ToLower(name) {
	case "enter", "return":
		return kb.Enter
	case "tab":
		return kb.Tab
	case "escape", "esc":
		return kb.Escape
	case "backspace":
		return kb.Backspace
	case "delete":
		return kb.Delete
	case "arrowup", "up":
		return kb.ArrowUp
	case "arrowdown", "down":
		return kb.ArrowDown
	case "arrowleft", "left":
		return kb.ArrowLeft
	case "arrowright", "right":
		return kb.ArrowRight
	case "home":
		return kb.Home
	case "end":
		return kb.End
	case "pageup":
		return kb.PageUp
	case "pagedown":
		return kb.PageDown
	default:
		return name
	}
}

func (c *Controller) evaluate(ctx context.Context, params Params) (any, error) {
	t, err := c.activeTab()
	if err != nil {
		return nil, err
	}
	script := params.String("script", "code", "expression")
	if script == "" {
		return nil, errors.New("script required")
	}
	var result any
	if err := c.run(ctx, t, chromedp.Evaluate(script, &result)); err != nil {
		return nil, fmt.Errorf("evaluating script: %w", err)
	}
	return Evaluated{Result: result}, nil
}

func (c *Controller) content(ctx context.Context) (any, error) {
	t, err := c.activeTab()
	if err != nil {
		return nil, err
	}
	var html string
	if err := c.run(ctx, t, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return nil, fmt.Errorf("reading content: %w", err)
	}
	return Content{Content: html}, nil
}

func (c *Controller) listTabs(ctx context.Context) Tabs {
	tabs := make([]Tab, 0, len(c.tabs))
	for i, t := range c.tabs {
		url, title := c.location(ctx, t)
		tabs = append(tabs, Tab{ID: TabID(i), URL: url, Title: title, Active: t == c.active})
	}
	return Tabs{Tabs: tabs}
}

func (c *Controller) focusTab(ctx context.Context, params Params) (any, error) {
	if !c.running() {
		return nil, ErrNoSession
	}
	idx := ParseTabID(params.String("targetId"), 0)
	if idx < 0 || idx >= len(c.tabs) {
		return nil, ErrTabNotFound
	}
	t := c.tabs[idx]
	if err := c.run(ctx, t, page.BringToFront()); err != nil {
		return nil, fmt.Errorf("focusing tab: %w", err)
	}
	c.active = t
	return TabChanged{Success: true, Focused: TabID(idx)}, nil
}

func (c *Controller) closeTab(ctx context.Context, params Params) (any, error) {
	if !c.running() {
		return nil, ErrNoSession
	}
	idx := ParseTabID(params.String("targetId"), -1)
	if idx < 0 || idx >= len(c.tabs) {
		return nil, ErrTabNotFound
	}
	t := c.tabs[idx]
	if idx == 0 {
		// The first tab owns the browser; close its page instead of its context.
		if err := c.run(ctx, t, page.Close()); err != nil {
			return nil, fmt.Errorf("closing tab: %w", err)
		}
	} else {
		t.cancel()
	}

	c.tabs = append(c.tabs[:idx], c.tabs[idx+1:]...)
	if c.active == t {
		c.active = nil
		if len(c.tabs) > 0 {
			c.active = c.tabs[0]
		}
	}
	return TabChanged{Success: true, Closed: TabID(idx)}, nil
}

func (c *Controller) cookies(ctx context.Context) (any, error) {
	if c.active == nil {
		return Cookies{Cookies: []Cookie{}}, nil
	}
	var raw []*network.Cookie
	err := c.run(ctx, c.active, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		raw, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("reading cookies: %w", err)
	}
	cookies := make([]Cookie, 0, len(raw))
	for _, ck := range raw {
		cookies = append(cookies, Cookie{
			Name:     ck.Name,
			Value:    ck.Value,
			Domain:   ck.Domain,
			Path:     ck.Path,
			Expires:  ck.Expires,
			HTTPOnly: ck.HTTPOnly,
			Secure:   ck.Secure,
		})
	}
	return Cookies{Cookies: cookies}, nil
}

func (c *Controller) setCookie(ctx context.Context, params Params) (any, error) {
	if c.active == nil {
		return nil, ErrNoSession
	}
	name := params.String("name")
	if name == "" {
		return nil, errors.New("cookie name required")
	}
	url := params.String("url")
	if url == "" {
		url, _ = c.location(ctx, c.active)
	}
	path := params.String("path")
	if path == "" {
		path = "/"
	}

	err := c.run(ctx, c.active, chromedp.ActionFunc(func(ctx context.Context) error {
		set := network.SetCookie(name, params.String("value")).WithPath(path)
		if url != "" {
			set = set.WithURL(url)
		}
		if domain := params.String("domain"); domain != "" {
			set = set.WithDomain(domain)
		}
		return set.Do(ctx)
	}))
	if err != nil {
		return nil, fmt.Errorf("setting cookie: %w", err)
	}
	return Done{Success: true}, nil
}

func (c *Controller) clearCookies(ctx context.Context) (any, error) {
	if c.active == nil {
		return nil, ErrNoSession
	}
	err := c.run(ctx, c.active, chromedp.ActionFunc(func(ctx context.Context) error {
		return network.ClearBrowserCookies().Do(ctx)
	}))
	if err != nil {
		return nil, fmt.Errorf("clearing cookies: %w", err)
	}
	return Done{Success: true}, nil
}

func (c *Controller) listenConsole(ctx context.Context) {
	chromedp.ListenTarget(ctx, func(ev any) {
		if e, ok := ev.(*runtime.EventConsoleAPICalled); ok {
			c.recordConsole(string(e.Type), consoleText(e.Args))
		}
	})
}

func consoleText(args []*runtime.RemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		if arg == nil {
			continue
		}
		if len(arg.Value) > 0 {
			var s string
			if err := json.Unmarshal([]byte(arg.Value), &s); err == nil {
				parts = append(parts, s)
			} else {
				parts = append(parts, string(arg.Value))
			}
			continue
		}
		parts = append(parts, arg.Description)
	}
	return strings.Join(parts, " ")
}

func (c *Controller) recordConsole(kind, text string) {
	c.consoleMu.Lock()
	defer c.consoleMu.Unlock()
	c.console = append(c.console, ConsoleEntry{Type: kind, Text: text, Time: time.Now()})
	if len(c.console) > consoleCapacity {
		c.console = c.console[len(c.console)-consoleCapacity:]
	}
}

func (c *Controller) consoleEntries() []ConsoleEntry {
	c.consoleMu.Lock()
	defer c.consoleMu.Unlock()
	return append([]ConsoleEntry{}, c.console...)
}
