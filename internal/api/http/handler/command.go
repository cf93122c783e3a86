package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/EternisAI/clawd-node/internal/api/http/dto"
	"github.com/EternisAI/clawd-node/internal/dispatch"
	"github.com/EternisAI/clawd-node/internal/protocol"
	"github.com/gin-gonic/gin"
)

// Executor runs a command from the node's command table.
type Executor interface {
	Execute(ctx context.Context, command string, params json.RawMessage) (any, error)
}

func runCommand(c *gin.Context, exec Executor, command string, params any) {
	raw, err := json.Marshal(params)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.CommandErrorResponse{Error: err.Error()})
		return
	}

	result, err := exec.Execute(c.Request.Context(), command, raw)
	if err != nil {
		status, code := http.StatusInternalServerError, protocol.CodeError
		var ce *dispatch.CommandError
		if errors.As(err, &ce) {
			code = ce.Code
			if ce.Code == protocol.CodeUnavailable {
				status = http.StatusNotFound
			}
			err = errors.New(ce.Message)
		}
		slog.Warn("Local command failed", "command", command, "code", code, "error", err)
		c.JSON(status, dto.CommandErrorResponse{Error: err.Error(), Code: code})
		return
	}
	c.JSON(http.StatusOK, result)
}

// bodyParams reads an optional JSON object body.
func bodyParams(c *gin.Context) (map[string]any, error) {
	params := map[string]any{}
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return params, nil
	}
	if err := c.ShouldBindJSON(&params); err != nil {
		return nil, err
	}
	return params, nil
}
