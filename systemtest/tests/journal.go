package tests

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/EternisAI/clawd-node/internal/api/http/dto"
	"github.com/EternisAI/clawd-node/internal/dispatch"
	"github.com/EternisAI/clawd-node/internal/journal"
	"github.com/EternisAI/clawd-node/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthCheck(t *testing.T, router *gin.Engine) {
	rr := doJSON(router, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestJournalRecordAndRecent(t *testing.T, svc *journal.Service) {
	ctx := context.Background()
	received := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, svc.Record(ctx, journal.Entry{
		ID:           "direct-1",
		Command:      "system.run",
		NodeID:       "node-1",
		OK:           false,
		ErrorCode:    protocol.CodeError,
		ErrorMessage: "exit status 1",
		ReceivedAt:   received,
		Duration:     1500 * time.Millisecond,
	}))

	entries, err := svc.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	got := entries[0]
	assert.Equal(t, "direct-1", got.ID)
	assert.Equal(t, "node-1", got.NodeID)
	assert.False(t, got.OK)
	assert.Equal(t, protocol.CodeError, got.ErrorCode)
	assert.Equal(t, "exit status 1", got.ErrorMessage)
	assert.True(t, received.Equal(got.ReceivedAt.UTC()))
	assert.Equal(t, int64(1500), got.DurationMs)
}

func TestDispatchedInvocationsAreJournaled(t *testing.T, router *gin.Engine, svc *journal.Service, d *dispatch.Dispatcher) {
	ctx := context.Background()
	before, err := svc.Count(ctx)
	require.NoError(t, err)

	d.Handle(ctx, protocol.Invocation{ID: "sys-1", Command: "frobnicate", Params: json.RawMessage(`{}`)})
	d.Handle(ctx, protocol.Invocation{ID: "sys-2", Command: "teleport", Legacy: true})
	d.Wait()

	after, err := svc.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, before+2, after)

	rr := doJSON(router, "GET", "/node/invocations?limit=2", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp dto.InvocationsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Count)

	ids := []string{resp.Invocations[0].ID, resp.Invocations[1].ID}
	assert.ElementsMatch(t, []string{"sys-1", "sys-2"}, ids)
	for _, e := range resp.Invocations {
		assert.False(t, e.OK)
		assert.Equal(t, protocol.CodeUnavailable, e.ErrorCode)
	}
}
