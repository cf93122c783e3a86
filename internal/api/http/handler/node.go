package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/EternisAI/clawd-node/internal/api/http/dto"
	"github.com/EternisAI/clawd-node/internal/gateway/client"
	"github.com/EternisAI/clawd-node/internal/journal"
	"github.com/gin-gonic/gin"
)

const defaultInvocationLimit = 50

// Node is the connection the handler reports on.
type Node interface {
	State() client.State
	Connected() bool
	SessionID() string
	NodeID() string
	PendingRequests() int
	Reconnect()
}

type NodeHandler struct {
	node     Node
	commands func() []string
	journal  journal.Journal
}

func NewNodeHandler(node Node, commands func() []string, j journal.Journal) *NodeHandler {
	return &NodeHandler{node: node, commands: commands, journal: j}
}

func (h *NodeHandler) Status(ctx *gin.Context) {
	resp := dto.NodeStatusResponse{
		State:           h.node.State().String(),
		Connected:       h.node.Connected(),
		SessionID:       h.node.SessionID(),
		NodeID:          h.node.NodeID(),
		PendingRequests: h.node.PendingRequests(),
		Commands:        []string{},
	}
	if h.commands != nil {
		resp.Commands = h.commands()
	}
	ctx.JSON(http.StatusOK, resp)
}

func (h *NodeHandler) Reconnect(ctx *gin.Context) {
	slog.Info("Reconnect requested over HTTP", "client_ip", ctx.ClientIP())
	h.node.Reconnect()
	ctx.JSON(http.StatusAccepted, gin.H{"message": "Reconnect scheduled"})
}

func (h *NodeHandler) Invocations(ctx *gin.Context) {
	if h.journal == nil {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "Invocation journal is disabled"})
		return
	}

	limit := defaultInvocationLimit
	if raw := ctx.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	entries, err := h.journal.Recent(ctx.Request.Context(), limit)
	if err != nil {
		slog.Error("Failed to list invocations", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list invocations"})
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}

	ctx.JSON(http.StatusOK, dto.InvocationsResponse{
		Invocations: entries,
		Count:       len(entries),
	})
}
