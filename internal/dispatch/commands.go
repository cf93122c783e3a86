package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/EternisAI/clawd-node/internal/capability"
	"github.com/EternisAI/clawd-node/internal/protocol"
)

const (
	CommandSystemRun      = "system.run"
	CommandSystemWhich    = "system.which"
	CommandBrowserProxy   = "browser.proxy"
	CommandNotification   = "notification"
	CommandClipboardRead  = "clipboard.read"
	CommandClipboardWrite = "clipboard.write"
	CommandScreenCapture  = "screen.capture"
	CommandCameraList     = "camera.list"
	CommandCameraSnap     = "camera.snap"
	CommandCameraClip     = "camera.clip"
)

const defaultNotificationTitle = "Clawdbot"

// legacyAliases resolve method names of legacy invoke frames.
var legacyAliases = map[string]string{
	"exec":    CommandSystemRun,
	"browser": CommandBrowserProxy,
	"notify":  CommandNotification,
}

type commandFunc func(ctx context.Context, params json.RawMessage) (any, error)

func (d *Dispatcher) buildCommands() map[string]commandFunc {
	p := d.opts.Providers
	cmds := make(map[string]commandFunc)
	if p.Shell != nil {
		cmds[CommandSystemRun] = d.systemRun
		cmds[CommandSystemWhich] = d.systemWhich
	}
	if p.Browser != nil {
		cmds[CommandBrowserProxy] = d.browserProxy
	}
	if p.Notifier != nil {
		cmds[CommandNotification] = d.notification
	}
	if p.Clipboard != nil {
		cmds[CommandClipboardRead] = d.clipboardRead
		cmds[CommandClipboardWrite] = d.clipboardWrite
	}
	if p.Screen != nil {
		cmds[CommandScreenCapture] = d.screenCapture
	}
	if p.Camera != nil {
		cmds[CommandCameraList] = d.cameraList
		cmds[CommandCameraSnap] = d.cameraSnap
		cmds[CommandCameraClip] = d.cameraClip
	}
	return cmds
}

func decodeParams(raw json.RawMessage, v any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return invalidParams(err)
	}
	return nil
}

type runParams struct {
	Command   json.RawMessage `json:"command"`
	Cmd       string          `json:"cmd"`
	TimeoutMs int64           `json:"timeoutMs"`
	Timeout   int64           `json:"timeout"`
}

// commandLine accepts either an argv array, joined with spaces, or a string.
func commandLine(raw json.RawMessage) string {
	var argv []string
	if err := json.Unmarshal(raw, &argv); err == nil {
		return strings.Join(argv, " ")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func (d *Dispatcher) systemRun(ctx context.Context, raw json.RawMessage) (any, error) {
	var p runParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	command := p.Cmd
	if len(p.Command) > 0 {
		if c := commandLine(p.Command); c != "" {
			command = c
		}
	}
	if strings.TrimSpace(command) == "" {
		return nil, &CommandError{Code: protocol.CodeError, Message: "command required"}
	}

	timeoutMs := p.TimeoutMs
	if timeoutMs == 0 {
		timeoutMs = p.Timeout
	}
	return d.opts.Providers.Shell.Run(ctx, command, time.Duration(timeoutMs)*time.Millisecond)
}

func (d *Dispatcher) systemWhich(_ context.Context, raw json.RawMessage) (any, error) {
	var p struct {
		Bins []string `json:"bins"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return map[string]any{"bins": d.opts.Providers.Shell.Which(p.Bins)}, nil
}

func (d *Dispatcher) browserProxy(ctx context.Context, raw json.RawMessage) (any, error) {
	route, err := RouteBrowserProxy(raw)
	if err != nil {
		return nil, err
	}
	return d.opts.Providers.Browser.Do(ctx, route.Action, route.Params)
}

func (d *Dispatcher) notification(ctx context.Context, raw json.RawMessage) (any, error) {
	var p struct {
		Title   string `json:"title"`
		Message string `json:"message"`
		Body    string `json:"body"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.Title == "" {
		p.Title = defaultNotificationTitle
	}
	if p.Message == "" {
		p.Message = p.Body
	}
	if err := d.opts.Providers.Notifier.Notify(ctx, p.Title, p.Message); err != nil {
		return nil, err
	}
	return map[string]any{"success": true}, nil
}

func (d *Dispatcher) clipboardRead(ctx context.Context, _ json.RawMessage) (any, error) {
	text, err := d.opts.Providers.Clipboard.Read(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"text": text}, nil
}

func (d *Dispatcher) clipboardWrite(ctx context.Context, raw json.RawMessage) (any, error) {
	var p struct {
		Text string `json:"text"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if err := d.opts.Providers.Clipboard.Write(ctx, p.Text); err != nil {
		return nil, err
	}
	return map[string]any{"success": true}, nil
}

func (d *Dispatcher) screenCapture(ctx context.Context, _ json.RawMessage) (any, error) {
	return d.opts.Providers.Screen.Capture(ctx)
}

type cameraParams struct {
	Camera     string  `json:"camera"`
	Device     string  `json:"device"`
	Duration   float64 `json:"duration"`
	DurationMs int64   `json:"durationMs"`
}

func (p cameraParams) device() string {
	if p.Camera != "" {
		return p.Camera
	}
	return p.Device
}

// clipDuration is seconds from "duration", or milliseconds from "durationMs".
func (p cameraParams) clipDuration() time.Duration {
	if p.DurationMs > 0 {
		return time.Duration(p.DurationMs) * time.Millisecond
	}
	return time.Duration(p.Duration * float64(time.Second))
}

func (d *Dispatcher) cameraList(ctx context.Context, _ json.RawMessage) (any, error) {
	devices, err := d.opts.Providers.Camera.List(ctx)
	if err != nil {
		return nil, err
	}
	if devices == nil {
		devices = []capability.CameraDevice{}
	}
	return map[string]any{"cameras": devices}, nil
}

func (d *Dispatcher) cameraSnap(ctx context.Context, raw json.RawMessage) (any, error) {
	var p cameraParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return d.opts.Providers.Camera.Snap(ctx, p.device())
}

func (d *Dispatcher) cameraClip(ctx context.Context, raw json.RawMessage) (any, error) {
	var p cameraParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return d.opts.Providers.Camera.Clip(ctx, p.device(), capability.ClampClipDuration(p.clipDuration()))
}
