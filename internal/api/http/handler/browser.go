package handler

import (
	"net/http"

	"github.com/EternisAI/clawd-node/internal/api/http/dto"
	"github.com/EternisAI/clawd-node/internal/dispatch"
	"github.com/gin-gonic/gin"
)

// BrowserHandler forwards browser-control requests to the browser.proxy
// command, keeping the request method and path for its route table.
type BrowserHandler struct {
	exec Executor
}

func NewBrowserHandler(exec Executor) *BrowserHandler {
	return &BrowserHandler{exec: exec}
}

func (h *BrowserHandler) Proxy(c *gin.Context) {
	body, err := bodyParams(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.CommandErrorResponse{Error: err.Error()})
		return
	}
	for key, values := range c.Request.URL.Query() {
		if _, set := body[key]; !set && len(values) > 0 {
			body[key] = values[0]
		}
	}

	runCommand(c, h.exec, dispatch.CommandBrowserProxy, map[string]any{
		"method": c.Request.Method,
		"path":   c.Request.URL.Path,
		"body":   body,
	})
}
