package capability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const DefaultShellTimeout = 60 * time.Second

// RunResult is the outcome of a shell command. A command that ran and exited
// non-zero is still a result, not an error.
type RunResult struct {
	Success bool   `json:"success"`
	Stdout  string `json:"stdout"`
	Stderr  string `json:"stderr"`
	Code    int    `json:"code"`
}

type Shell struct {
	Exec
	Timeout time.Duration
}

// Run executes command through the platform shell. timeout overrides the
// configured default when positive.
func (s *Shell) Run(ctx context.Context, command string, timeout time.Duration) (RunResult, error) {
	if command == "" {
		return RunResult{}, errors.New("command required")
	}
	if timeout <= 0 {
		timeout = s.Timeout
	}
	if timeout <= 0 {
		timeout = DefaultShellTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	name, args := "/bin/sh", []string{"-c", command}
	if s.goos() == "windows" {
		name, args = "cmd", []string{"/C", command}
	}

	slog.Info("Running shell command", "command", command, "timeout", timeout)
	stdout, stderr, err := s.run(ctx, name, args, nil)
	result := RunResult{Success: err == nil, Stdout: string(stdout), Stderr: string(stderr)}
	if err == nil {
		return result, nil
	}

	var coded interface{ ExitCode() int }
	switch {
	case errors.As(err, &coded):
		result.Code = coded.ExitCode()
	case ctx.Err() != nil:
		result.Code = -1
		result.Stderr += fmt.Sprintf("\ncommand timed out after %s", timeout)
	default:
		return RunResult{}, fmt.Errorf("starting shell: %w", err)
	}
	return result, nil
}

// Which resolves each binary on PATH. Missing binaries are left out.
func (s *Shell) Which(bins []string) map[string]string {
	found := make(map[string]string, len(bins))
	for _, bin := range bins {
		if bin == "" {
			continue
		}
		if path, err := s.lookPath(bin); err == nil {
			found[bin] = path
		}
	}
	return found
}
