// Command fake-gateway runs the in-memory gateway used by the tests, with a
// small admin API for approving pairings and pushing invocations by hand.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/EternisAI/clawd-node/internal/cert"
	"github.com/EternisAI/clawd-node/internal/gatewaytest"
	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
)

type invokeRequest struct {
	Command string `json:"command" binding:"required"`
	Params  any    `json:"params"`
	Legacy  bool   `json:"legacy"`
}

func main() {
	port := pflag.Int("port", 18789, "Listen port")
	password := pflag.String("password", "", "Require this connect password, plaintext or bcrypt hash")
	autoApprove := pflag.Bool("auto-approve", false, "Approve pairing requests immediately")
	tlsDir := pflag.String("tls-dir", "", "Serve wss:// with a development CA kept in this directory")
	tokenTTL := pflag.Duration("token-ttl", 0, "Lifetime of issued session tokens")
	pflag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})))

	gw := gatewaytest.New(gatewaytest.Options{AutoApprove: *autoApprove, Password: *password, TokenTTL: *tokenTTL})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go logActivity(ctx, gw)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET("/", gin.WrapH(gw))
	engine.GET("/pairings", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"pending": gw.PendingPairings()})
	})
	engine.POST("/pairings/:device/approve", func(c *gin.Context) {
		if err := gw.Approve(c.Param("device")); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Approved"})
	})
	engine.POST("/nodes/:device/invoke", func(c *gin.Context) {
		var req invokeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		invoke := gw.Invoke
		if req.Legacy {
			invoke = gw.InvokeLegacy
		}
		id, err := invoke(c.Param("device"), req.Command, req.Params)
		if err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"id": id})
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", *port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var certs *cert.Service
	if *tlsDir != "" {
		var err error
		if certs, err = cert.New(*tlsDir, nil); err != nil {
			slog.Error("Failed to prepare TLS certificates", "error", err)
			os.Exit(1)
		}
		slog.Info("Serving wss, point gateway.tls.ca_file at the CA", "ca_file", certs.CaCertPath)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("Starting fake gateway", "address", server.Addr, "auto_approve", *autoApprove, "tls", certs != nil)
		var err error
		if certs != nil {
			err = server.ListenAndServeTLS(certs.ServerCertPath, certs.ServerKeyPath)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			quit <- syscall.SIGTERM
		}
	}()

	sig := <-quit
	slog.Info("Received shutdown signal", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
}

func logActivity(ctx context.Context, gw *gatewaytest.Gateway) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-gw.Connects:
			slog.Info("Node connecting", "device_id", p.Device.ID, "client", p.Client.ID)
		case p := <-gw.PairRequests:
			slog.Info("Pairing requested", "node_id", p.NodeID, "node_name", p.NodeName, "platform", p.Platform)
		case r := <-gw.Results:
			attrs := []any{"invocation_id", r.ID, "ok", r.OK, "payload", r.PayloadJSON}
			if r.Error != nil {
				attrs = append(attrs, "code", r.Error.Code, "error", r.Error.Message)
			}
			slog.Info("Invocation result", attrs...)
		case r := <-gw.LegacyResult:
			slog.Info("Legacy invocation result", "invocation_id", r.ID, "ok", r.OK, "error", r.Error, "payload", string(r.Payload))
		}
	}
}
