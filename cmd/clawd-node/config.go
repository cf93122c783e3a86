package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/EternisAI/clawd-node/internal/api/http"
	"github.com/EternisAI/clawd-node/internal/discovery"
	"github.com/EternisAI/clawd-node/internal/gatewayctl"
	"github.com/EternisAI/clawd-node/internal/transport"
	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Log      LogConfig
	Gateway  GatewayConfig
	Identity IdentityConfig
	Http     http.Config
	Status   StatusConfig
	Notify   NotifyConfig
	Shell    ShellConfig
	Browser  BrowserConfig
	Camera   CameraConfig
	Journal  JournalConfig
	Mdns     discovery.Config
	SSH      gatewayctl.Config `mapstructure:"ssh"`
}

type GatewayConfig struct {
	URL                  string          `mapstructure:"url"`
	NodeID               string          `mapstructure:"node_id"`
	NodeName             string          `mapstructure:"node_name"`
	Token                string          `mapstructure:"token"`
	Password             string          `mapstructure:"password"`
	ReconnectInterval    time.Duration   `mapstructure:"reconnect_interval"`
	MaxReconnectInterval time.Duration   `mapstructure:"max_reconnect_interval"`
	Permissions          map[string]bool `mapstructure:"permissions"`
	TLS                  TLSConfig       `mapstructure:"tls"`
}

type TLSConfig struct {
	CAFile             string `mapstructure:"ca_file"`
	CertFile           string `mapstructure:"cert_file"`
	KeyFile            string `mapstructure:"key_file"`
	ServerNameOverride string `mapstructure:"server_name_override"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

func (c TLSConfig) Options() transport.TLSOptions {
	return transport.TLSOptions{
		CAFile:             c.CAFile,
		CertFile:           c.CertFile,
		KeyFile:            c.KeyFile,
		ServerNameOverride: c.ServerNameOverride,
		InsecureSkipVerify: c.InsecureSkipVerify,
	}
}

type IdentityConfig struct {
	Path string `mapstructure:"path"`
}

type StatusConfig struct {
	Path string `mapstructure:"path"`
}

type NotifyConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type ShellConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type BrowserConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Headless      bool   `mapstructure:"headless"`
	ProfilesDir   string `mapstructure:"profiles_dir"`
	ExecPath      string `mapstructure:"exec_path"`
	ScreenshotDir string `mapstructure:"screenshot_dir"`
}

type CameraConfig struct {
	FFmpegPath    string `mapstructure:"ffmpeg_path"`
	DefaultDevice string `mapstructure:"default_device"`
}

type JournalConfig struct {
	DatabaseURL string `mapstructure:"database_url"`
	Schema      string `mapstructure:"schema"`
	Capacity    int    `mapstructure:"capacity"`
}

var (
	config   Config
	configMu sync.RWMutex
)

func currentConfig() Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return config
}

func setDefaults() {
	home, _ := os.UserHomeDir()
	viper.SetDefault("log.level", defaultLogLevel)
	viper.SetDefault("gateway.url", "ws://127.0.0.1:18789")
	viper.SetDefault("gateway.reconnect_interval", 5*time.Second)
	viper.SetDefault("gateway.max_reconnect_interval", 60*time.Second)
	viper.SetDefault("identity.path", filepath.Join(home, ".clawdbot", "identity", "device.json"))
	viper.SetDefault("http.enabled", true)
	viper.SetDefault("http.port", http.DefaultPort)
	viper.SetDefault("status.path", "status.txt")
	viper.SetDefault("notify.enabled", true)
	viper.SetDefault("shell.timeout", 60*time.Second)
	viper.SetDefault("browser.enabled", true)
	viper.SetDefault("browser.profiles_dir", filepath.Join(home, ".clawdbot", "browser"))
	viper.SetDefault("journal.schema", "clawd_node")
	viper.SetDefault("mdns.service", discovery.DefaultService)
	viper.SetDefault("ssh.port", gatewayctl.DefaultPort)
}

// InitConfig loads application.yaml, from configFile when given. It returns
// the path of the file in use so the token can be written back to it.
func InitConfig(configFile string) string {
	_ = godotenv.Load()

	setDefaults()
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("application")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./cmd/clawd-node")
		viper.SetConfigType("yaml")
	}
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		panic(err)
	}

	var loaded Config
	if err := viper.Unmarshal(&loaded); err != nil {
		panic(err)
	}
	configMu.Lock()
	config = loaded
	configMu.Unlock()

	initLogger(loaded.Log.Level)

	if level, _ := parseLogLevel(loaded.Log.Level); level == slog.LevelDebug {
		redacted := loaded
		redacted.Gateway.Token = redact(redacted.Gateway.Token)
		redacted.Gateway.Password = redact(redacted.Gateway.Password)
		redacted.SSH.Password = redact(redacted.SSH.Password)
		redacted.Http.APIKey = redact(redacted.Http.APIKey)
		configJSON, err := json.MarshalIndent(redacted, "", "  ")
		if err == nil {
			fmt.Println("Config loaded:")
			fmt.Println(string(configJSON))
		}
	}

	return viper.ConfigFileUsed()
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}

// connectionChanged reports whether a config change needs a new session.
// A token change alone is our own write-back.
func connectionChanged(old, new GatewayConfig) bool {
	return old.URL != new.URL ||
		old.NodeID != new.NodeID ||
		old.NodeName != new.NodeName ||
		old.Password != new.Password ||
		old.TLS != new.TLS
}

// watchConfig reloads the config file on change and calls onChange with the
// previous and new config.
func watchConfig(onChange func(old, new Config)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		var loaded Config
		if err := viper.Unmarshal(&loaded); err != nil {
			slog.Error("Failed to reload config", "file", e.Name, "error", err)
			return
		}

		configMu.Lock()
		old := config
		config = loaded
		configMu.Unlock()

		slog.Info("Config reloaded", "file", e.Name)
		onChange(old, loaded)
	})
	viper.WatchConfig()
}
