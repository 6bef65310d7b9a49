package toolchannel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/swarmhandoff/testutil"
)

func connectInMemory(t *testing.T, ops map[string]OperationFunc) *MCPChannel {
	t.Helper()
	ctx := testutil.TestContext(t)

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	server := NewServer("responder", "v0.0.1", ops)
	serverSession, err := server.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = serverSession.Close() })

	ch, err := Connect(ctx, clientTransport, "v0.0.1", zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ch.Close() })
	return ch
}

func TestNull(t *testing.T) {
	var ch Channel = Null{}
	assert.False(t, ch.Supports(OpNegotiateTask))
	ops, err := ch.ListOperations(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, ops)
	_, err = ch.Invoke(context.Background(), OpNegotiateTask, nil)
	assert.ErrorIs(t, err, ErrUnsupported)

	assert.Equal(t, Null{}, OrNull(nil))
}

func TestMCPChannel_ListsAndInvokes(t *testing.T) {
	var calls atomic.Int32
	ch := connectInMemory(t, map[string]OperationFunc{
		OpNegotiateTask: func(_ context.Context, args map[string]any) (map[string]any, error) {
			calls.Add(1)
			return map[string]any{
				"accepted":          true,
				"estimated_latency": 250.0,
				"echo":              args["handshake_id"],
			}, nil
		},
	})

	ops, err := ch.ListOperations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{OpNegotiateTask}, ops)
	assert.True(t, ch.Supports(OpNegotiateTask))
	assert.False(t, ch.Supports(OpSyncState))

	out, err := ch.Invoke(testutil.TestContext(t), OpNegotiateTask, map[string]any{"handshake_id": "h-1"})
	require.NoError(t, err)
	assert.Equal(t, true, out["accepted"])
	assert.Equal(t, 250.0, out["estimated_latency"])
	assert.Equal(t, "h-1", out["echo"])
	assert.Equal(t, int32(1), calls.Load())
}

func TestMCPChannel_ToolErrorSurfaces(t *testing.T) {
	ch := connectInMemory(t, map[string]OperationFunc{
		OpSyncState: func(context.Context, map[string]any) (map[string]any, error) {
			return nil, errors.New("state store offline")
		},
	})

	_, err := ch.Invoke(testutil.TestContext(t), OpSyncState, map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "state store offline")
}

func TestMCPChannel_UnsupportedOperation(t *testing.T) {
	ch := connectInMemory(t, map[string]OperationFunc{})

	_, err := ch.Invoke(context.Background(), OpNegotiateTask, nil)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestDecodeResult_TextFallback(t *testing.T) {
	out, err := decodeResult(&mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: `{"acknowledged":true}`}}})
	require.NoError(t, err)
	assert.Equal(t, true, out["acknowledged"])

	out, err = decodeResult(&mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: "plain"}}})
	require.NoError(t, err)
	assert.Equal(t, "plain", out["text"])
}
