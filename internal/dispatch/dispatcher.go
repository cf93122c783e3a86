// Package dispatch runs the commands the gateway invokes on this node and
// sends back exactly one result per invocation.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/EternisAI/clawd-node/internal/capability"
	"github.com/EternisAI/clawd-node/internal/capability/browser"
	"github.com/EternisAI/clawd-node/internal/journal"
	"github.com/EternisAI/clawd-node/internal/metrics"
	"github.com/EternisAI/clawd-node/internal/protocol"
)

// Sender delivers results to the gateway.
type Sender interface {
	SendRequest(method string, params any) (string, error)
	SendFrame(frame protocol.Frame) error
}

type Shell interface {
	Run(ctx context.Context, command string, timeout time.Duration) (capability.RunResult, error)
	Which(bins []string) map[string]string
}

type Browser interface {
	Do(ctx context.Context, action browser.Action, params browser.Params) (any, error)
}

type Notifier interface {
	Notify(ctx context.Context, title, message string) error
}

type Clipboard interface {
	Read(ctx context.Context) (string, error)
	Write(ctx context.Context, text string) error
}

type Screen interface {
	Capture(ctx context.Context) (capability.Media, error)
}

type Camera interface {
	List(ctx context.Context) ([]capability.CameraDevice, error)
	Snap(ctx context.Context, device string) (capability.Media, error)
	Clip(ctx context.Context, device string, duration time.Duration) (capability.Media, error)
}

// Providers are the capabilities behind the command table. A nil provider
// leaves its commands out, so they answer UNAVAILABLE.
type Providers struct {
	Shell     Shell
	Browser   Browser
	Notifier  Notifier
	Clipboard Clipboard
	Screen    Screen
	Camera    Camera
}

// completedHistory is how many finished invocation keys are remembered so a
// redelivered invocation is not answered twice.
const completedHistory = 1024

type Options struct {
	// NodeID fills result nodeId when the invocation did not carry one.
	NodeID    string
	Providers Providers
	Journal   journal.Journal
	Metrics   *metrics.Metrics
}

type Dispatcher struct {
	opts     Options
	sender   Sender
	commands map[string]commandFunc

	mu        sync.Mutex
	inflight  map[string]struct{}
	completed map[string]struct{}
	ring      []string
	ringNext  int
	wg        sync.WaitGroup
}

func New(sender Sender, opts Options) *Dispatcher {
	d := &Dispatcher{
		opts:     opts,
		sender:   sender,
		inflight:  make(map[string]struct{}),
		completed: make(map[string]struct{}, completedHistory),
		ring:      make([]string, 0, completedHistory),
	}
	d.commands = d.buildCommands()
	return d
}

// Commands lists the advertised command names, sorted.
func (d *Dispatcher) Commands() []string {
	names := make([]string, 0, len(d.commands))
	for name := range d.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Handle starts inv in its own goroutine and returns immediately. An
// invocation whose id is in flight or among the recently completed ones is
// dropped.
func (d *Dispatcher) Handle(ctx context.Context, inv protocol.Invocation) {
	key := inv.ID
	if inv.Legacy {
		key = "legacy:" + inv.ID
	}

	d.mu.Lock()
	_, busy := d.inflight[key]
	_, done := d.completed[key]
	if busy || done {
		d.mu.Unlock()
		slog.Warn("Ignoring duplicate invocation", "invocation_id", inv.ID, "command", inv.Command, "completed", done)
		d.opts.Metrics.DroppedFrame("duplicate_invocation")
		return
	}
	d.inflight[key] = struct{}{}
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.finish(key)
		d.run(ctx, inv)
	}()
}

func (d *Dispatcher) finish(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inflight, key)

	if len(d.ring) < completedHistory {
		d.ring = append(d.ring, key)
	} else {
		delete(d.completed, d.ring[d.ringNext])
		d.ring[d.ringNext] = key
		d.ringNext = (d.ringNext + 1) % completedHistory
	}
	d.completed[key] = struct{}{}
}

// Wait blocks until every started invocation has replied.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Execute runs a command synchronously without replying to the gateway. The
// local control server uses it so both entry points share one table.
func (d *Dispatcher) Execute(ctx context.Context, command string, params json.RawMessage) (any, error) {
	return d.execute(ctx, command, params, false)
}

func (d *Dispatcher) execute(ctx context.Context, command string, params json.RawMessage, legacy bool) (payload any, err error) {
	name := command
	if legacy {
		if target, ok := legacyAliases[command]; ok {
			name = target
		}
	}
	fn, ok := d.commands[name]
	if !ok {
		if legacy {
			return nil, unavailable("Unknown method: %s", command)
		}
		return nil, unavailable("Unknown command: %s", command)
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Command panicked", "command", command, "panic", r, "stack", string(debug.Stack()))
			payload = nil
			err = &CommandError{Code: protocol.CodeError, Message: fmt.Sprintf("panic: %v", r)}
		}
	}()
	return fn(ctx, params)
}

func (d *Dispatcher) run(ctx context.Context, inv protocol.Invocation) {
	received := time.Now()
	slog.Info("Invocation received", "invocation_id", inv.ID, "command", inv.Command, "legacy", inv.Legacy)

	payload, err := d.execute(ctx, inv.Command, inv.Params, inv.Legacy)
	cmdErr := asCommandError(err)

	var encoded []byte
	if cmdErr == nil && payload != nil {
		if encoded, err = json.Marshal(payload); err != nil {
			cmdErr = &CommandError{Code: protocol.CodeError, Message: "encoding result: " + err.Error()}
		}
	}
	elapsed := time.Since(received)

	if cmdErr != nil {
		slog.Warn("Invocation failed", "invocation_id", inv.ID, "command", inv.Command, "code", cmdErr.Code, "error", cmdErr.Message)
	} else {
		slog.Info("Invocation completed", "invocation_id", inv.ID, "command", inv.Command, "duration", elapsed)
	}

	if inv.Legacy {
		d.replyLegacy(inv, encoded, cmdErr)
	} else {
		d.replyResult(inv, encoded, cmdErr)
	}

	outcome := "ok"
	if cmdErr != nil {
		outcome = cmdErr.Code
	}
	d.opts.Metrics.Invocation(d.commandLabel(inv), outcome, elapsed)
	d.record(inv, cmdErr, received, elapsed)
}

func (d *Dispatcher) replyResult(inv protocol.Invocation, encoded []byte, cmdErr *CommandError) {
	result := protocol.InvokeResult{ID: inv.ID, NodeID: d.nodeID(inv), OK: cmdErr == nil}
	if cmdErr != nil {
		result.Error = &protocol.InvokeError{Code: cmdErr.Code, Message: cmdErr.Message}
	} else if encoded != nil {
		result.PayloadJSON = string(encoded)
	}

	if _, err := d.sender.SendRequest(protocol.MethodNodeInvokeResult, result); err != nil {
		slog.Error("Failed to send invocation result", "invocation_id", inv.ID, "error", err)
	}
}

func (d *Dispatcher) replyLegacy(inv protocol.Invocation, encoded []byte, cmdErr *CommandError) {
	var (
		payload any
		errText string
	)
	if cmdErr != nil {
		errText = cmdErr.Message
	} else if encoded != nil {
		payload = json.RawMessage(encoded)
	}

	frame, err := protocol.NewInvokeResponse(inv.ID, cmdErr == nil, payload, errText)
	if err != nil {
		slog.Error("Failed to build invoke-res", "invocation_id", inv.ID, "error", err)
		return
	}
	if err := d.sender.SendFrame(frame); err != nil {
		slog.Error("Failed to send invoke-res", "invocation_id", inv.ID, "error", err)
	}
}

func (d *Dispatcher) nodeID(inv protocol.Invocation) string {
	if inv.NodeID != "" {
		return inv.NodeID
	}
	return d.opts.NodeID
}

func (d *Dispatcher) commandLabel(inv protocol.Invocation) string {
	name := inv.Command
	if inv.Legacy {
		if target, ok := legacyAliases[name]; ok {
			name = target
		}
	}
	if _, ok := d.commands[name]; ok {
		return name
	}
	return "unknown"
}

func (d *Dispatcher) record(inv protocol.Invocation, cmdErr *CommandError, received time.Time, elapsed time.Duration) {
	if d.opts.Journal == nil {
		return
	}
	entry := journal.Entry{
		ID:         inv.ID,
		Command:    inv.Command,
		NodeID:     d.nodeID(inv),
		Legacy:     inv.Legacy,
		OK:         cmdErr == nil,
		ReceivedAt: received,
		Duration:   elapsed,
		DurationMs: elapsed.Milliseconds(),
	}
	if cmdErr != nil {
		entry.ErrorCode = cmdErr.Code
		entry.ErrorMessage = cmdErr.Message
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.opts.Journal.Record(ctx, entry); err != nil {
		slog.Warn("Failed to journal invocation", "invocation_id", inv.ID, "error", err)
	}
}
