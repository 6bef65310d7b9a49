package toolchannel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/BaSui01/swarmhandoff/internal/tlsutil"
)

// ClientName is the MCP implementation name this package announces.
const ClientName = "swarmhandoff"

// =============================================================================
// 🔌 MCP client channel
// =============================================================================

// MCPChannel exposes the tools of an MCP session as channel operations.
// The tool list is cached on connect and by Refresh.
type MCPChannel struct {
	session *mcp.ClientSession
	logger  *zap.Logger

	mu  sync.RWMutex
	ops map[string]struct{}
}

// NewMCPChannel wraps an established client session and loads its tools.
func NewMCPChannel(ctx context.Context, session *mcp.ClientSession, logger *zap.Logger) (*MCPChannel, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &MCPChannel{
		session: session,
		logger:  logger.With(zap.String("component", "mcp_channel")),
		ops:     make(map[string]struct{}),
	}
	if err := c.Refresh(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Connect opens a client session over transport.
func Connect(ctx context.Context, transport mcp.Transport, version string, logger *zap.Logger) (*MCPChannel, error) {
	client := mcp.NewClient(&mcp.Implementation{Name: ClientName, Version: version}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect mcp session: %w", err)
	}
	ch, err := NewMCPChannel(ctx, session, logger)
	if err != nil {
		_ = session.Close()
		return nil, err
	}
	return ch, nil
}

// Dial connects to a streamable HTTP MCP endpoint, e.g. http://peer:8080/mcp.
func Dial(ctx context.Context, endpoint, version string, logger *zap.Logger) (*MCPChannel, error) {
	transport := &mcp.StreamableClientTransport{
		Endpoint:   endpoint,
		HTTPClient: tlsutil.SecureHTTPClient(0),
	}
	return Connect(ctx, transport, version, logger)
}

// Refresh reloads the advertised tool list.
func (c *MCPChannel) Refresh(ctx context.Context) error {
	ops := make(map[string]struct{})
	params := &mcp.ListToolsParams{}
	for {
		res, err := c.session.ListTools(ctx, params)
		if err != nil {
			return fmt.Errorf("list mcp tools: %w", err)
		}
		for _, tool := range res.Tools {
			ops[tool.Name] = struct{}{}
		}
		if res.NextCursor == "" {
			break
		}
		params = &mcp.ListToolsParams{Cursor: res.NextCursor}
	}

	c.mu.Lock()
	c.ops = ops
	c.mu.Unlock()

	c.logger.Debug("mcp tools loaded", zap.Int("count", len(ops)))
	return nil
}

// Supports implements Channel.
func (c *MCPChannel) Supports(op string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.ops[op]
	return ok
}

// ListOperations implements Channel.
func (c *MCPChannel) ListOperations(context.Context) ([]string, error) {
	c.mu.RLock()
	out := make([]string, 0, len(c.ops))
	for op := range c.ops {
		out = append(out, op)
	}
	c.mu.RUnlock()
	sort.Strings(out)
	return out, nil
}

// Invoke calls the tool named op. Tool-level errors (IsError) are returned
// as Go errors.
func (c *MCPChannel) Invoke(ctx context.Context, op string, args map[string]any) (map[string]any, error) {
	if !c.Supports(op) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, op)
	}
	res, err := c.session.CallTool(ctx, &mcp.CallToolParams{Name: op, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("call tool %s: %w", op, err)
	}
	if res.IsError {
		return nil, fmt.Errorf("tool %s returned error: %s", op, textOf(res))
	}
	return decodeResult(res)
}

// Close ends the MCP session.
func (c *MCPChannel) Close() error {
	return c.session.Close()
}

func decodeResult(res *mcp.CallToolResult) (map[string]any, error) {
	if res.StructuredContent != nil {
		if m, ok := res.StructuredContent.(map[string]any); ok {
			return m, nil
		}
		data, err := json.Marshal(res.StructuredContent)
		if err != nil {
			return nil, fmt.Errorf("encode structured content: %w", err)
		}
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("structured content is not an object: %w", err)
		}
		return m, nil
	}

	text := textOf(res)
	var m map[string]any
	if err := json.Unmarshal([]byte(text), &m); err != nil {
		return map[string]any{"text": text}, nil
	}
	return m, nil
}

func textOf(res *mcp.CallToolResult) string {
	var parts []string
	for _, content := range res.Content {
		if tc, ok := content.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// =============================================================================
// 🛠️ MCP server side
// =============================================================================

// OperationFunc handles one operation on the responder side.
type OperationFunc func(ctx context.Context, args map[string]any) (map[string]any, error)

// NewServer builds an MCP server exposing ops as tools.
func NewServer(name, version string, ops map[string]OperationFunc) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: name, Version: version}, nil)

	names := make([]string, 0, len(ops))
	for n := range ops {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, n := range names {
		fn := ops[n]
		mcp.AddTool(server, &mcp.Tool{Name: n, Description: "swarm handoff operation " + n},
			func(ctx context.Context, _ *mcp.CallToolRequest, args map[string]any) (*mcp.CallToolResult, map[string]any, error) {
				out, err := fn(ctx, args)
				if err != nil {
					return nil, nil, err
				}
				return nil, out, nil
			})
	}
	return server
}

// Handler serves server over streamable HTTP.
func Handler(server *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return server }, nil)
}
