package http

import (
	"github.com/EternisAI/clawd-node/internal/api/http/handler"
	"github.com/EternisAI/clawd-node/internal/api/http/middleware"
	"github.com/EternisAI/clawd-node/internal/journal"
	"github.com/EternisAI/clawd-node/internal/metrics"
	"github.com/gin-gonic/gin"
)

type Services struct {
	Node       handler.Node
	Dispatcher Dispatcher
	Journal    journal.Journal
	Metrics    *metrics.Metrics
}

// Dispatcher is the node's command table.
type Dispatcher interface {
	handler.Executor
	Commands() []string
}

var browserRoutes = []string{
	"/start", "/stop", "/open", "/navigate", "/snapshot", "/screenshot",
	"/act", "/content", "/html", "/evaluate", "/console",
	"/tabs", "/tabs/list", "/tabs/open", "/tabs/navigate", "/tabs/focus", "/tabs/close",
	"/tabs/snapshot", "/tabs/screenshot", "/tabs/act", "/tabs/content",
	"/cookies", "/cookies/set", "/cookies/clear",
}

func SetupRoute(engine *gin.Engine, srvs *Services, apiKey string) {
	engine.Use(middleware.RequestLogger())

	healthHandler := handler.NewHealthHandler(srvs.Node)
	engine.GET("/health", healthHandler.Check)

	if srvs.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(srvs.Metrics.Handler()))
	}

	api := engine.Group("/", middleware.APIKeyAuth(apiKey))

	var commands func() []string
	if srvs.Dispatcher != nil {
		commands = srvs.Dispatcher.Commands
	}
	nodeHandler := handler.NewNodeHandler(srvs.Node, commands, srvs.Journal)
	if srvs.Node != nil {
		api.GET("/node/status", nodeHandler.Status)
		api.POST("/node/reconnect", nodeHandler.Reconnect)
	}
	api.GET("/node/invocations", nodeHandler.Invocations)

	if srvs.Dispatcher == nil {
		return
	}

	browserHandler := handler.NewBrowserHandler(srvs.Dispatcher)
	api.GET("/", browserHandler.Proxy)
	api.POST("/", browserHandler.Proxy)
	api.GET("/status", browserHandler.Proxy)
	for _, path := range browserRoutes {
		api.GET(path, browserHandler.Proxy)
		api.POST(path, browserHandler.Proxy)
	}
	api.DELETE("/tabs/:id", browserHandler.Proxy)

	systemHandler := handler.NewSystemHandler(srvs.Dispatcher)
	api.POST("/notify", systemHandler.Notify)
	api.GET("/clipboard", systemHandler.ReadClipboard)
	api.POST("/clipboard", systemHandler.WriteClipboard)
	api.GET("/screen", systemHandler.CaptureScreen)
	api.GET("/camera/list", systemHandler.ListCameras)
	api.POST("/camera/snap", systemHandler.SnapCamera)
	api.POST("/camera/clip", systemHandler.ClipCamera)
}
