package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	internalhttp "github.com/EternisAI/clawd-node/internal/api/http"
	"github.com/EternisAI/clawd-node/internal/capability"
	"github.com/EternisAI/clawd-node/internal/capability/browser"
	nodeconfig "github.com/EternisAI/clawd-node/internal/config"
	"github.com/EternisAI/clawd-node/internal/db"
	"github.com/EternisAI/clawd-node/internal/discovery"
	"github.com/EternisAI/clawd-node/internal/dispatch"
	"github.com/EternisAI/clawd-node/internal/gateway/client"
	"github.com/EternisAI/clawd-node/internal/identity"
	"github.com/EternisAI/clawd-node/internal/journal"
	"github.com/EternisAI/clawd-node/internal/metrics"
	"github.com/EternisAI/clawd-node/internal/status"
	"github.com/EternisAI/clawd-node/internal/transport"
	"github.com/gin-gonic/gin"
)

const appName = "Clawd Node"

func runNode(configFile string) error {
	configPath := InitConfig(configFile)
	cfg := currentConfig()

	slog.Info(appName, "version", AppVersion, "config", configPath)

	ident, err := identity.Load(cfg.Identity.Path)
	if err != nil {
		// The client reports the missing identity and keeps retrying.
		slog.Error("Failed to load device identity", "path", cfg.Identity.Path, "error", err)
		ident = nil
	}

	tlsConfig, err := transport.LoadClientTLS(cfg.Gateway.TLS.Options())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	notifier := &capability.Notifier{AppName: appName}

	reporters := status.Multi{status.Logger{}, status.NewFileReporter(cfg.Status.Path)}
	if cfg.Notify.Enabled {
		reporters = append(reporters, status.NewNotifyingReporter(notifier, appName))
	}

	j, closeJournal, err := openJournal(ctx, cfg.Journal)
	if err != nil {
		return err
	}
	defer closeJournal()

	gw := client.NewClient(client.Options{
		URL:                  cfg.Gateway.URL,
		NodeID:               cfg.Gateway.NodeID,
		NodeName:             cfg.Gateway.NodeName,
		Version:              AppVersion,
		Password:             cfg.Gateway.Password,
		Token:                cfg.Gateway.Token,
		ReconnectInterval:    cfg.Gateway.ReconnectInterval,
		MaxReconnectInterval: cfg.Gateway.MaxReconnectInterval,
		Permissions:          cfg.Gateway.Permissions,
		Dialer:               &transport.WebSocketDialer{TLSConfig: tlsConfig},
		Identity:             ident,
		Tokens:               nodeconfig.NewStore(configPath, cfg.Gateway.Token),
		Reporter:             reporters,
		Metrics:              m,
	})

	providers := dispatch.Providers{
		Shell:     &capability.Shell{Timeout: cfg.Shell.Timeout},
		Notifier:  notifier,
		Clipboard: &capability.Clipboard{},
		Screen:    &capability.Screen{},
		Camera:    &capability.Camera{FFmpegPath: cfg.Camera.FFmpegPath, DefaultDevice: cfg.Camera.DefaultDevice},
	}
	var controller *browser.Controller
	if cfg.Browser.Enabled {
		controller = browser.New(browser.Options{
			Headless:      cfg.Browser.Headless,
			ProfilesDir:   cfg.Browser.ProfilesDir,
			ExecPath:      cfg.Browser.ExecPath,
			ScreenshotDir: cfg.Browser.ScreenshotDir,
		})
		providers.Browser = controller
	}

	dispatcher := dispatch.New(gw, dispatch.Options{
		NodeID:    gw.NodeID(),
		Providers: providers,
		Journal:   j,
		Metrics:   m,
	})
	gw.SetHandler(dispatcher)

	if err := gw.Start(); err != nil {
		return fmt.Errorf("start gateway client: %w", err)
	}

	var (
		server *internalhttp.Server
		ad     *discovery.Advertisement
	)
	if cfg.Http.Enabled {
		gin.SetMode(gin.ReleaseMode)
		engine := internalhttp.NewEngine(&internalhttp.Services{
			Node:       gw,
			Dispatcher: dispatcher,
			Journal:    j,
			Metrics:    m,
		}, cfg.Http.APIKey)

		server, err = internalhttp.Start(cfg.Http, engine)
		if err != nil {
			slog.Error("Local control server disabled", "error", err)
		} else if cfg.Mdns.Enabled {
			ad, err = discovery.Advertise(cfg.Mdns, discovery.Info{
				NodeID:      gw.NodeID(),
				DisplayName: cfg.Gateway.NodeName,
				Platform:    runtime.GOOS,
				Version:     AppVersion,
				Port:        server.Port(),
			})
			if err != nil {
				slog.Warn("mDNS advertisement failed", "error", err)
			}
		}
	}

	watchConfig(func(old, new Config) {
		if old.Log.Level != new.Log.Level {
			initLogger(new.Log.Level)
		}
		if !connectionChanged(old.Gateway, new.Gateway) {
			return
		}
		tlsConfig, err := transport.LoadClientTLS(new.Gateway.TLS.Options())
		if err != nil {
			slog.Error("Ignoring config change with invalid TLS settings", "error", err)
			return
		}
		slog.Info("Gateway settings changed, reconnecting", "url", new.Gateway.URL)
		gw.UpdateOptions(func(o *client.Options) {
			o.URL = new.Gateway.URL
			o.NodeID = new.Gateway.NodeID
			o.NodeName = new.Gateway.NodeName
			o.Password = new.Gateway.Password
			o.Dialer = &transport.WebSocketDialer{TLSConfig: tlsConfig}
		})
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("Received shutdown signal", "signal", sig)

	slog.Info("Shutting down...")
	if err := gw.Stop(); err != nil {
		slog.Error("Gateway client shutdown error", "error", err)
	}
	dispatcher.Wait()
	ad.Shutdown()
	if server != nil {
		if err := server.Shutdown(); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		}
	}
	if controller != nil {
		if err := controller.Close(); err != nil {
			slog.Error("Browser shutdown error", "error", err)
		}
	}

	slog.Info("Shutdown complete")
	return nil
}

// openJournal uses Postgres when a database URL is configured and an
// in-memory ring otherwise.
func openJournal(ctx context.Context, cfg JournalConfig) (journal.Journal, func(), error) {
	if cfg.DatabaseURL == "" {
		return journal.NewMemory(cfg.Capacity), func() {}, nil
	}

	if err := db.RunMigrations(cfg.DatabaseURL, cfg.Schema); err != nil {
		return nil, nil, fmt.Errorf("journal migrations: %w", err)
	}
	pool, err := db.InitDB(ctx, cfg.DatabaseURL, cfg.Schema)
	if err != nil {
		return nil, nil, fmt.Errorf("journal database: %w", err)
	}
	slog.Info("Invocation journal stored in Postgres", "schema", cfg.Schema)
	return journal.NewService(db.New(pool)), pool.Close, nil
}
