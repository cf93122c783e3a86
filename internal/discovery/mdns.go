// Package discovery advertises the local control server over mDNS.
package discovery

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/grandcat/zeroconf"
)

const (
	DefaultService = "_clawd-node._tcp"
	DefaultDomain  = "local."
)

type Config struct {
	Enabled bool   `mapstructure:"enabled"`
	Service string `mapstructure:"service"`
	Domain  string `mapstructure:"domain"`
	Name    string `mapstructure:"name"`
}

// Info describes the advertised node.
type Info struct {
	NodeID      string
	DisplayName string
	Platform    string
	Version     string
	Port        int
}

// Advertisement is a live mDNS registration.
type Advertisement struct {
	Name    string
	Service string
	server  *zeroconf.Server
}

var register = func(name, service, domain string, port int, txt []string) (*zeroconf.Server, error) {
	return zeroconf.Register(name, service, domain, port, txt, nil)
}

func Advertise(cfg Config, info Info) (*Advertisement, error) {
	service := strings.TrimSpace(cfg.Service)
	if service == "" {
		service = DefaultService
	}
	domain := strings.TrimSpace(cfg.Domain)
	if domain == "" {
		domain = DefaultDomain
	}
	name := InstanceName(cfg.Name, info.DisplayName)

	server, err := register(name, service, domain, info.Port, TXTRecords(name, info))
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	slog.Info("Advertised node over mDNS", "name", name, "service", service, "domain", domain, "port", info.Port)
	return &Advertisement{Name: name, Service: service, server: server}, nil
}

func (a *Advertisement) Shutdown() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
}

// InstanceName picks the configured name, then the display name, then the
// hostname, always carrying a "(Clawdbot)" marker.
func InstanceName(configured, displayName string) string {
	name := strings.TrimSpace(configured)
	if name == "" {
		name = strings.TrimSpace(displayName)
	}
	if name == "" {
		name = hostname()
	}
	if !strings.Contains(strings.ToLower(name), "clawdbot") {
		name = fmt.Sprintf("%s (Clawdbot)", name)
	}
	return name
}

func TXTRecords(name string, info Info) []string {
	txt := []string{
		"role=node",
		"displayName=" + prettify(name),
		"lanHost=" + lanHost() + ".local",
		"nodeId=" + info.NodeID,
		"transport=node",
	}
	if info.Platform != "" {
		txt = append(txt, "platform="+info.Platform)
	}
	if info.Version != "" {
		txt = append(txt, "version="+info.Version)
	}
	if info.Port > 0 {
		txt = append(txt, fmt.Sprintf("httpPort=%d", info.Port))
	}
	return txt
}

func prettify(name string) string {
	normalized := strings.Join(strings.Fields(name), " ")
	if normalized == "" {
		return name
	}
	const suffix = " (clawdbot)"
	if strings.HasSuffix(strings.ToLower(normalized), suffix) {
		normalized = strings.TrimSpace(normalized[:len(normalized)-len(suffix)])
	}
	return normalized
}

func hostname() string {
	host, err := os.Hostname()
	if err != nil || strings.TrimSpace(host) == "" {
		return "clawd-node"
	}
	return host
}

func lanHost() string {
	host := strings.TrimSuffix(hostname(), ".local")
	if i := strings.IndexByte(host, '.'); i > 0 {
		host = host[:i]
	}
	return host
}
