package status

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileReporter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "status.txt")
	reporter := NewFileReporter(path)

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	reporter.Report(Update{Status: Connecting, Details: "dialing", Timestamp: ts})
	reporter.Report(Update{Status: Connected, Details: "ok", Timestamp: ts, Connected: true})

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "connected", got["status"])
	assert.Equal(t, "ok", got["details"])
	assert.Equal(t, true, got["connected"])
	assert.Equal(t, "2026-01-02T03:04:05Z", got["timestamp"])
}

func TestTrackerAndMulti(t *testing.T) {
	a, b := NewTracker(), NewTracker()
	assert.Equal(t, Disconnected, a.Last().Status)

	Multi{a, nil, b}.Report(Update{Status: Pairing})

	assert.Equal(t, Pairing, a.Last().Status)
	assert.Equal(t, Pairing, b.Last().Status)
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(_ context.Context, _, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

func TestNotifyingReporter(t *testing.T) {
	notifier := &recordingNotifier{}
	reporter := NewNotifyingReporter(notifier, "Clawd Node")

	reporter.Report(Update{Status: Connecting})
	reporter.Report(Update{Status: Connected, Details: "Connected to gateway"})
	reporter.Report(Update{Status: Connected, Details: "again"})
	reporter.Report(Update{Status: Disconnected})

	assert.Eventually(t, func() bool { return notifier.count() == 2 }, time.Second, 10*time.Millisecond)
	assert.Never(t, func() bool { return notifier.count() > 2 }, 100*time.Millisecond, 10*time.Millisecond)
}
