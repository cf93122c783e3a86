// Package capability implements the local capabilities a node exposes to the
// gateway. Every provider shells out to a platform tool; none of them keep
// state between calls.
package capability

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

var ErrNoTool = errors.New("no supported tool found")

// Runner executes an external program and returns what it wrote.
type Runner interface {
	Run(ctx context.Context, name string, args []string, stdin io.Reader) (stdout, stderr []byte, err error)
}

// ExecRunner runs programs with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args []string, stdin io.Reader) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Exec carries the process plumbing shared by providers. The zero value uses
// os/exec on the running platform.
type Exec struct {
	Runner   Runner
	LookPath func(file string) (string, error)
	GOOS     string
}

func (e Exec) goos() string {
	if e.GOOS != "" {
		return e.GOOS
	}
	return runtime.GOOS
}

func (e Exec) run(ctx context.Context, name string, args []string, stdin io.Reader) ([]byte, []byte, error) {
	runner := e.Runner
	if runner == nil {
		runner = ExecRunner{}
	}
	return runner.Run(ctx, name, args, stdin)
}

// output runs a tool and folds stderr into the error on failure.
func (e Exec) output(ctx context.Context, name string, args []string, stdin io.Reader) ([]byte, error) {
	stdout, stderr, err := e.run(ctx, name, args, stdin)
	if err != nil {
		if msg := strings.TrimSpace(string(stderr)); msg != "" {
			return stdout, fmt.Errorf("%s: %w (stderr: %s)", name, err, msg)
		}
		return stdout, fmt.Errorf("%s: %w", name, err)
	}
	return stdout, nil
}

func (e Exec) lookPath(file string) (string, error) {
	if e.LookPath != nil {
		return e.LookPath(file)
	}
	return exec.LookPath(file)
}

// find returns the first candidate present on PATH.
func (e Exec) find(candidates ...string) (string, error) {
	for _, c := range candidates {
		if _, err := e.lookPath(c); err == nil {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: tried %s", ErrNoTool, strings.Join(candidates, ", "))
}

// Media is a captured image or recording.
type Media struct {
	Base64   string `json:"base64"`
	Format   string `json:"format"`
	Size     int    `json:"size"`
	Duration int    `json:"duration,omitempty"`
}

func newMedia(data []byte, format string) Media {
	return Media{
		Base64: base64.StdEncoding.EncodeToString(data),
		Format: format,
		Size:   len(data),
	}
}

// tempPath reserves a file name for a tool to write to.
func tempPath(pattern string) (string, error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return name, nil
}

// readOutput reads and removes a file a tool produced.
func readOutput(path string) ([]byte, error) {
	defer os.Remove(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading capture: %w", err)
	}
	return data, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}

// psQuote escapes s for a single-quoted PowerShell string.
func psQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
