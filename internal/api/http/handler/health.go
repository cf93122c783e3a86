package handler

import (
	"net/http"

	"github.com/EternisAI/clawd-node/internal/api/http/dto"
	"github.com/gin-gonic/gin"
)

// HealthHandler answers liveness checks. The process is healthy while it
// serves HTTP, so a lost gateway session is reported but stays a 200.
type HealthHandler struct {
	node Node
}

func NewHealthHandler(node Node) *HealthHandler {
	return &HealthHandler{node: node}
}

func (h *HealthHandler) Check(ctx *gin.Context) {
	resp := dto.HealthResponse{Status: "ok"}
	if h.node != nil {
		resp.Gateway = "disconnected"
		if h.node.Connected() {
			resp.Gateway = "connected"
		}
	}
	ctx.JSON(http.StatusOK, resp)
}
