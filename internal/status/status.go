package status

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type Status string

const (
	Connecting     Status = "connecting"
	AuthPending    Status = "auth_pending"
	Authenticating Status = "authenticating"
	Connected      Status = "connected"
	Pairing        Status = "pairing"
	AuthFailed     Status = "auth_failed"
	Disconnected   Status = "disconnected"
	Error          Status = "error"
)

// Update is one externally visible status transition.
type Update struct {
	Status    Status    `json:"status"`
	Details   string    `json:"details"`
	Timestamp time.Time `json:"timestamp"`
	Connected bool      `json:"connected"`
}

// Reporter receives status transitions. Implementations must not block.
type Reporter interface {
	Report(u Update)
}

// FileReporter rewrites a JSON status file on every update so external
// tooling can poll the node's state.
type FileReporter struct {
	path string
	mu   sync.Mutex
}

func NewFileReporter(path string) *FileReporter {
	return &FileReporter{path: path}
}

func (r *FileReporter) Report(u Update) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := json.Marshal(u)
	if err != nil {
		slog.Warn("Failed to encode status", "error", err)
		return
	}
	if err := writeAtomic(r.path, data); err != nil {
		slog.Warn("Failed to write status file", "path", r.path, "error", err)
	}
}

func writeAtomic(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating status directory: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Tracker remembers the most recent update.
type Tracker struct {
	mu   sync.RWMutex
	last Update
}

func NewTracker() *Tracker {
	return &Tracker{last: Update{Status: Disconnected, Timestamp: time.Now()}}
}

func (t *Tracker) Report(u Update) {
	t.mu.Lock()
	t.last = u
	t.mu.Unlock()
}

func (t *Tracker) Last() Update {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last
}

// Multi fans an update out to several reporters in order.
type Multi []Reporter

func (m Multi) Report(u Update) {
	for _, r := range m {
		if r != nil {
			r.Report(u)
		}
	}
}

// Logger reports transitions through slog.
type Logger struct{}

func (Logger) Report(u Update) {
	slog.Info("Node status changed",
		"status", u.Status,
		"details", u.Details,
		"connected", u.Connected)
}
