package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/EternisAI/clawd-node/internal/capability"
	"github.com/EternisAI/clawd-node/internal/capability/browser"
	"github.com/EternisAI/clawd-node/internal/journal"
	"github.com/EternisAI/clawd-node/internal/metrics"
	"github.com/EternisAI/clawd-node/internal/protocol"
)

type recordingSender struct {
	mu      sync.Mutex
	results []protocol.InvokeResult
	frames  []protocol.Frame
}

func (s *recordingSender) SendRequest(method string, params any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if method == protocol.MethodNodeInvokeResult {
		s.results = append(s.results, params.(protocol.InvokeResult))
	}
	return "1", nil
}

func (s *recordingSender) SendFrame(frame protocol.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frame)
	return nil
}

func (s *recordingSender) Results() []protocol.InvokeResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.InvokeResult(nil), s.results...)
}

type mockShell struct {
	mock.Mock
}

func (m *mockShell) Run(ctx context.Context, command string, timeout time.Duration) (capability.RunResult, error) {
	args := m.Called(command, timeout)
	return args.Get(0).(capability.RunResult), args.Error(1)
}

func (m *mockShell) Which(bins []string) map[string]string {
	return m.Called(bins).Get(0).(map[string]string)
}

type mockBrowser struct {
	mock.Mock
}

func (m *mockBrowser) Do(ctx context.Context, action browser.Action, params browser.Params) (any, error) {
	args := m.Called(action, params)
	return args.Get(0), args.Error(1)
}

type panickingNotifier struct{}

func (panickingNotifier) Notify(context.Context, string, string) error {
	panic("boom")
}

type blockingClipboard struct {
	release chan struct{}
}

func (c *blockingClipboard) Read(ctx context.Context) (string, error) {
	<-c.release
	return "copied", nil
}

func (c *blockingClipboard) Write(context.Context, string) error { return nil }

func invocation(id, command, params string) protocol.Invocation {
	return protocol.Invocation{ID: id, Command: command, Params: json.RawMessage(params)}
}

func TestUnknownCommandIsUnavailable(t *testing.T) {
	sender := &recordingSender{}
	d := New(sender, Options{NodeID: "node-1"})

	d.Handle(context.Background(), invocation("1", "frobnicate", `{}`))
	d.Wait()

	results := sender.Results()
	require.Len(t, results, 1)
	assert.Equal(t, "1", results[0].ID)
	assert.Equal(t, "node-1", results[0].NodeID)
	assert.False(t, results[0].OK)
	require.NotNil(t, results[0].Error)
	assert.Equal(t, protocol.CodeUnavailable, results[0].Error.Code)
}

func TestSystemRunResult(t *testing.T) {
	sender := &recordingSender{}
	shell := &mockShell{}
	shell.On("Run", "echo hi", 2*time.Second).
		Return(capability.RunResult{Success: true, Stdout: "hi\n"}, nil)
	d := New(sender, Options{Providers: Providers{Shell: shell}})

	inv := invocation("7", CommandSystemRun, `{"command":["echo","hi"],"timeoutMs":2000}`)
	inv.NodeID = "gw-node"
	d.Handle(context.Background(), inv)
	d.Wait()

	results := sender.Results()
	require.Len(t, results, 1)
	assert.True(t, results[0].OK)
	assert.Equal(t, "gw-node", results[0].NodeID)
	assert.JSONEq(t, `{"success":true,"stdout":"hi\n","stderr":"","code":0}`, results[0].PayloadJSON)
	shell.AssertExpectations(t)
}

func TestProviderErrorIsError(t *testing.T) {
	sender := &recordingSender{}
	shell := &mockShell{}
	shell.On("Run", "false", time.Duration(0)).Return(capability.RunResult{}, errors.New("no shell"))
	d := New(sender, Options{Providers: Providers{Shell: shell}})

	d.Handle(context.Background(), invocation("2", CommandSystemRun, `{"command":"false"}`))
	d.Wait()

	results := sender.Results()
	require.Len(t, results, 1)
	require.NotNil(t, results[0].Error)
	assert.Equal(t, protocol.CodeError, results[0].Error.Code)
	assert.Equal(t, "no shell", results[0].Error.Message)
}

func TestPanicBecomesOneErrorResult(t *testing.T) {
	sender := &recordingSender{}
	d := New(sender, Options{Providers: Providers{Notifier: panickingNotifier{}}})

	d.Handle(context.Background(), invocation("3", CommandNotification, `{"message":"x"}`))
	d.Wait()

	results := sender.Results()
	require.Len(t, results, 1)
	assert.False(t, results[0].OK)
	assert.Equal(t, protocol.CodeError, results[0].Error.Code)
	assert.Contains(t, results[0].Error.Message, "boom")
}

func TestDuplicateInFlightIDIsDropped(t *testing.T) {
	sender := &recordingSender{}
	clip := &blockingClipboard{release: make(chan struct{})}
	d := New(sender, Options{Providers: Providers{Clipboard: clip}})

	d.Handle(context.Background(), invocation("dup", CommandClipboardRead, `{}`))
	d.Handle(context.Background(), invocation("dup", CommandClipboardRead, `{}`))
	close(clip.release)
	d.Wait()

	results := sender.Results()
	require.Len(t, results, 1)
	assert.JSONEq(t, `{"text":"copied"}`, results[0].PayloadJSON)
}

func TestLegacyInvocationRepliesWithInvokeRes(t *testing.T) {
	sender := &recordingSender{}
	shell := &mockShell{}
	shell.On("Run", "ls", time.Duration(500)*time.Millisecond).
		Return(capability.RunResult{Success: true}, nil)
	d := New(sender, Options{Providers: Providers{Shell: shell}})

	d.Handle(context.Background(), protocol.Invocation{ID: "9", Command: "exec", Params: json.RawMessage(`{"cmd":"ls","timeout":500}`), Legacy: true})
	d.Handle(context.Background(), protocol.Invocation{ID: "10", Command: "teleport", Legacy: true})
	d.Wait()

	assert.Empty(t, sender.Results())
	require.Len(t, sender.frames, 2)
	byID := map[string]*protocol.InvokeResponse{}
	for _, f := range sender.frames {
		require.Equal(t, protocol.TypeInvokeResponse, f.Type)
		byID[f.InvokeResponse.ID] = f.InvokeResponse
	}
	assert.True(t, byID["9"].OK)
	assert.False(t, byID["10"].OK)
	assert.Equal(t, "Unknown method: teleport", byID["10"].Error)
}

func TestCompletedIDIsNotAnsweredAgain(t *testing.T) {
	sender := &recordingSender{}
	d := New(sender, Options{})

	d.Handle(context.Background(), invocation("7", "frobnicate", `{}`))
	d.Wait()
	d.Handle(context.Background(), invocation("7", "frobnicate", `{}`))
	d.Wait()

	require.Len(t, sender.Results(), 1)
	assert.Equal(t, "7", sender.Results()[0].ID)
}

func TestCompletedHistoryIsBounded(t *testing.T) {
	sender := &recordingSender{}
	d := New(sender, Options{})

	for i := 0; i <= completedHistory; i++ {
		d.Handle(context.Background(), invocation(strconv.Itoa(i), "frobnicate", `{}`))
		d.Wait()
	}
	d.mu.Lock()
	assert.Len(t, d.completed, completedHistory)
	_, oldest := d.completed["0"]
	_, newest := d.completed[strconv.Itoa(completedHistory)]
	d.mu.Unlock()
	assert.False(t, oldest)
	assert.True(t, newest)

	d.Handle(context.Background(), invocation("0", "frobnicate", `{}`))
	d.Wait()
	assert.Len(t, sender.Results(), completedHistory+2)
}

func TestJournalAndMetricsRecordOutcome(t *testing.T) {
	sender := &recordingSender{}
	j := journal.NewMemory(10)
	d := New(sender, Options{NodeID: "node-1", Journal: j, Metrics: metrics.New()})

	d.Handle(context.Background(), invocation("4", "nope", `{}`))
	d.Wait()

	entries, err := j.Recent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "4", entries[0].ID)
	assert.Equal(t, "node-1", entries[0].NodeID)
	assert.Equal(t, sender.Results()[0].NodeID, entries[0].NodeID)
	assert.False(t, entries[0].OK)
	assert.Equal(t, protocol.CodeUnavailable, entries[0].ErrorCode)
}

func TestCommandsFollowProviders(t *testing.T) {
	d := New(&recordingSender{}, Options{Providers: Providers{Shell: &mockShell{}, Browser: &mockBrowser{}}})
	assert.Equal(t, []string{CommandBrowserProxy, CommandSystemRun, CommandSystemWhich}, d.Commands())
}

func TestExecuteBrowserProxy(t *testing.T) {
	b := &mockBrowser{}
	b.On("Do", browser.ActionTabClose, browser.Params{"targetId": "tab_2"}).Return(browser.Done{Success: true}, nil)
	d := New(&recordingSender{}, Options{Providers: Providers{Browser: b}})

	out, err := d.Execute(context.Background(), CommandBrowserProxy, json.RawMessage(`{"method":"DELETE","path":"/tabs/tab_2"}`))
	require.NoError(t, err)
	assert.Equal(t, browser.Done{Success: true}, out)
	b.AssertExpectations(t)
}

func TestCameraClipIsCapped(t *testing.T) {
	cam := &fakeCamera{}
	d := New(&recordingSender{}, Options{Providers: Providers{Camera: cam}})

	_, err := d.Execute(context.Background(), CommandCameraClip, json.RawMessage(`{"camera":"front","duration":90}`))
	require.NoError(t, err)
	assert.Equal(t, "front", cam.device)
	assert.Equal(t, capability.MaxClipDuration, cam.duration)
}

func TestInvalidParams(t *testing.T) {
	d := New(&recordingSender{}, Options{Providers: Providers{Shell: &mockShell{}}})

	_, err := d.Execute(context.Background(), CommandSystemRun, json.RawMessage(`{"command":`))
	var ce *CommandError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, protocol.CodeError, ce.Code)

	_, err = d.Execute(context.Background(), CommandSystemRun, json.RawMessage(`{}`))
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "command required", ce.Message)
}

type fakeCamera struct {
	device   string
	duration time.Duration
}

func (c *fakeCamera) List(context.Context) ([]capability.CameraDevice, error) { return nil, nil }

func (c *fakeCamera) Snap(_ context.Context, device string) (capability.Media, error) {
	c.device = device
	return capability.Media{Format: "jpg"}, nil
}

func (c *fakeCamera) Clip(_ context.Context, device string, d time.Duration) (capability.Media, error) {
	c.device, c.duration = device, d
	return capability.Media{Format: "mp4"}, nil
}
