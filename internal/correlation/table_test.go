package correlation

import (
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EternisAI/clawd-node/internal/protocol"
)

func TestNextID_UniqueAndIncreasing(t *testing.T) {
	table := NewTable()

	var (
		mu  sync.Mutex
		ids []string
		wg  sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id := table.NextID()
				mu.Lock()
				ids = append(ids, id)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, 800)

	prev := uint64(0)
	for i := 0; i < 5; i++ {
		n, err := strconv.ParseUint(table.NextID(), 10, 64)
		require.NoError(t, err)
		assert.Greater(t, n, prev)
		prev = n
	}
}

func TestResolve(t *testing.T) {
	table := NewTable()
	id := table.NextID()
	done := table.Register(id, protocol.MethodConnect)

	method, ok := table.Resolve(id, &protocol.Response{ID: id, OK: true})
	assert.True(t, ok)
	assert.Equal(t, protocol.MethodConnect, method)

	result := <-done
	require.NoError(t, result.Err)
	assert.True(t, result.Response.OK)
	assert.Equal(t, 0, table.Len())
}

func TestResolve_UnknownIDIsNoop(t *testing.T) {
	table := NewTable()
	id := table.NextID()
	done := table.Register(id, "x")

	_, ok := table.Resolve("999", &protocol.Response{ID: "999"})
	assert.False(t, ok)
	assert.Equal(t, 1, table.Len())

	_, ok = table.Resolve(id, &protocol.Response{ID: id})
	assert.True(t, ok)
	<-done

	_, ok = table.Resolve(id, &protocol.Response{ID: id})
	assert.False(t, ok, "late duplicate response must be ignored")
}

func TestRejectAll(t *testing.T) {
	table := NewTable()

	var channels []<-chan Result
	for i := 0; i < 3; i++ {
		channels = append(channels, table.Register(table.NextID(), "m"))
	}

	assert.Equal(t, 3, table.RejectAll(ErrConnectionClosed))
	assert.Equal(t, 0, table.Len())

	for _, ch := range channels {
		select {
		case result := <-ch:
			assert.ErrorIs(t, result.Err, ErrConnectionClosed)
			assert.Nil(t, result.Response)
		default:
			t.Fatal("pending request was not rejected synchronously")
		}
	}
}

func TestIDsSurviveRejectAll(t *testing.T) {
	table := NewTable()
	first := table.NextID()
	table.Register(first, "m")
	table.RejectAll(ErrConnectionClosed)

	assert.NotEqual(t, first, table.NextID())
}
