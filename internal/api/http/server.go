package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

const serverShutdownTimeout = 5 * time.Second

// Server is the local control server.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
}

// NewEngine builds the gin engine with permissive CORS and all routes.
func NewEngine(srvs *Services, apiKey string) *gin.Engine {
	engine := gin.New()
	engine.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Length", "Content-Type", "X-API-Key"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))
	engine.Use(gin.Recovery())
	SetupRoute(engine, srvs, apiKey)
	return engine
}

// Start binds the port synchronously and serves in the background. Port 0
// picks a free port; Port reports the one bound.
func Start(cfg Config, handler http.Handler) (*Server, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("failed to bind port %d: %w", cfg.Port, err)
	}

	s := &Server{
		httpServer: &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second},
		listener:   listener,
	}

	go func() {
		slog.Info("Starting HTTP server", "address", listener.Addr().String())
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
		}
	}()
	return s, nil
}

func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		slog.Warn("HTTP server did not shut down gracefully", "error", err)
		return s.httpServer.Close()
	}
	slog.Info("HTTP server stopped")
	return nil
}
