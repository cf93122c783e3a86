package status

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const notifyTimeout = 10 * time.Second

// Notifier shows a desktop notification.
type Notifier interface {
	Notify(ctx context.Context, title, message string) error
}

// NotifyingReporter raises a desktop notification for the transitions an
// operator has to act on or would want to see. Repeats of the same status
// are suppressed.
type NotifyingReporter struct {
	notifier Notifier
	title    string

	mu   sync.Mutex
	last Status
}

func NewNotifyingReporter(notifier Notifier, title string) *NotifyingReporter {
	return &NotifyingReporter{notifier: notifier, title: title}
}

func (r *NotifyingReporter) Report(u Update) {
	if !notifiable(u.Status) {
		return
	}

	r.mu.Lock()
	if u.Status == r.last {
		r.mu.Unlock()
		return
	}
	r.last = u.Status
	r.mu.Unlock()

	message := u.Details
	if message == "" {
		message = string(u.Status)
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := r.notifier.Notify(ctx, r.title, message); err != nil {
			slog.Debug("Desktop notification failed", "error", err)
		}
	}()
}

func notifiable(s Status) bool {
	switch s {
	case Connected, Disconnected, AuthFailed, Pairing, Error:
		return true
	default:
		return false
	}
}
