package handler

import (
	"net/http"

	"github.com/EternisAI/clawd-node/internal/api/http/dto"
	"github.com/EternisAI/clawd-node/internal/dispatch"
	"github.com/gin-gonic/gin"
)

type SystemHandler struct {
	exec Executor
}

func NewSystemHandler(exec Executor) *SystemHandler {
	return &SystemHandler{exec: exec}
}

func (h *SystemHandler) Notify(c *gin.Context) {
	h.withBody(c, dispatch.CommandNotification)
}

func (h *SystemHandler) ReadClipboard(c *gin.Context) {
	runCommand(c, h.exec, dispatch.CommandClipboardRead, struct{}{})
}

func (h *SystemHandler) WriteClipboard(c *gin.Context) {
	h.withBody(c, dispatch.CommandClipboardWrite)
}

func (h *SystemHandler) CaptureScreen(c *gin.Context) {
	runCommand(c, h.exec, dispatch.CommandScreenCapture, struct{}{})
}

func (h *SystemHandler) ListCameras(c *gin.Context) {
	runCommand(c, h.exec, dispatch.CommandCameraList, struct{}{})
}

func (h *SystemHandler) SnapCamera(c *gin.Context) {
	h.withBody(c, dispatch.CommandCameraSnap)
}

func (h *SystemHandler) ClipCamera(c *gin.Context) {
	h.withBody(c, dispatch.CommandCameraClip)
}

func (h *SystemHandler) withBody(c *gin.Context, command string) {
	params, err := bodyParams(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.CommandErrorResponse{Error: err.Error()})
		return
	}
	runCommand(c, h.exec, command, params)
}
