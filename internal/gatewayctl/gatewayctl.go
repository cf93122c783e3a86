// Package gatewayctl starts, stops and inspects the gateway on its host by
// running configured commands over SSH.
package gatewayctl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	DefaultPort    = 22
	DefaultTimeout = 30 * time.Second
)

var ErrNotConfigured = errors.New("gateway host control is not configured")

type Config struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	PrivateKeyPath string        `mapstructure:"private_key_path"`
	KnownHostsPath string        `mapstructure:"known_hosts_path"`
	StartCommand   string        `mapstructure:"start_command"`
	StopCommand    string        `mapstructure:"stop_command"`
	RestartCommand string        `mapstructure:"restart_command"`
	StatusCommand  string        `mapstructure:"status_command"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

type Action string

const (
	ActionStart   Action = "start"
	ActionStop    Action = "stop"
	ActionRestart Action = "restart"
	ActionStatus  Action = "status"
)

func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionStart, ActionStop, ActionRestart, ActionStatus:
		return a, nil
	default:
		return "", fmt.Errorf("unknown gateway action %q (want start, stop, restart or status)", s)
	}
}

type Result struct {
	Action   Action
	Command  string
	Stdout   string
	Stderr   string
	ExitCode int
}

type Controller struct {
	cfg Config
}

func New(cfg Config) (*Controller, error) {
	if cfg.Host == "" || cfg.Username == "" {
		return nil, ErrNotConfigured
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.KnownHostsPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		cfg.KnownHostsPath = filepath.Join(home, ".ssh", "known_hosts")
	}
	return &Controller{cfg: cfg}, nil
}

func (c *Controller) command(action Action) string {
	switch action {
	case ActionStart:
		return c.cfg.StartCommand
	case ActionStop:
		return c.cfg.StopCommand
	case ActionRestart:
		return c.cfg.RestartCommand
	case ActionStatus:
		return c.cfg.StatusCommand
	}
	return ""
}

// Run executes the command configured for action. A non-zero exit status is
// reported in Result, not as an error.
func (c *Controller) Run(ctx context.Context, action Action) (Result, error) {
	command := c.command(action)
	if command == "" {
		return Result{}, fmt.Errorf("no %s command configured", action)
	}
	result := Result{Action: action, Command: command}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	client, err := c.dial(ctx)
	if err != nil {
		return result, err
	}
	defer client.Close()
	stop := context.AfterFunc(ctx, func() { client.Close() })
	defer stop()

	session, err := client.NewSession()
	if err != nil {
		return result, fmt.Errorf("open ssh session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	slog.Info("Running gateway command", "action", action, "host", c.cfg.Host)
	err = session.Run(command)
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()

	var exitErr *ssh.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitStatus()
	case ctx.Err() != nil:
		return result, fmt.Errorf("gateway %s: %w", action, ctx.Err())
	default:
		return result, fmt.Errorf("gateway %s: %w", action, err)
	}

	slog.Info("Gateway command finished", "action", action, "exit_code", result.ExitCode)
	return result, nil
}

func (c *Controller) dial(ctx context.Context) (*ssh.Client, error) {
	clientConfig, err := c.clientConfig()
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientConfig)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(sshConn, chans, reqs), nil
}

func (c *Controller) clientConfig() (*ssh.ClientConfig, error) {
	hostKeyCallback, err := knownhosts.New(c.cfg.KnownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("load known hosts %s: %w", c.cfg.KnownHostsPath, err)
	}

	auth, err := c.authMethods()
	if err != nil {
		return nil, err
	}

	return &ssh.ClientConfig{
		User:            c.cfg.Username,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.cfg.Timeout,
	}, nil
}

// authMethods prefers the private key when the file exists and falls back to
// the password.
func (c *Controller) authMethods() ([]ssh.AuthMethod, error) {
	if c.cfg.PrivateKeyPath != "" {
		pem, err := os.ReadFile(c.cfg.PrivateKeyPath)
		switch {
		case err == nil:
			signer, err := ssh.ParsePrivateKey(pem)
			if err != nil {
				return nil, fmt.Errorf("parse private key: %w", err)
			}
			return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("read private key: %w", err)
		}
	}
	if c.cfg.Password != "" {
		return []ssh.AuthMethod{ssh.Password(c.cfg.Password)}, nil
	}
	return nil, errors.New("no ssh credentials configured")
}
