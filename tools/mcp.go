package tools

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/samber/oops"

	"github.com/nittaya1990/spiced/errcode"
)

// mcpDirectivePrefix marks a tool component as an MCP server reference.
const mcpDirectivePrefix = "mcp:"

// ParseMCPDirective splits an "mcp:<id>" directive into the server id.
// Returns false when the value is not an MCP directive.
func ParseMCPDirective(value string) (string, bool) {
	if !strings.HasPrefix(value, mcpDirectivePrefix) {
		return "", false
	}
	return strings.TrimPrefix(value, mcpDirectivePrefix), true
}

// MCPConfig describes one external MCP server. ID is either an http(s)
// URL, served over streamable HTTP, or a local command started with a
// stdio transport. Args only applies to commands and is whitespace-split
// into argv.
type MCPConfig struct {
	Name string
	ID   string
	Args string
	Env  []string
}

// SplitArgs whitespace-splits the mcp_args parameter into argv.
func (c MCPConfig) SplitArgs() []string {
	return strings.Fields(c.Args)
}

func (c MCPConfig) isHTTP() bool {
	return strings.HasPrefix(c.ID, "http://") || strings.HasPrefix(c.ID, "https://")
}

// MCPCatalog bridges one MCP server's tools into the registry. The
// connection is established lazily on first use and reused afterwards.
type MCPCatalog struct {
	config MCPConfig

	mu     sync.Mutex
	client *client.Client
}

func NewMCPCatalog(config MCPConfig) *MCPCatalog {
	return &MCPCatalog{config: config}
}

func (c *MCPCatalog) Name() string { return c.config.Name }

// connect dials the server and performs the MCP handshake once.
func (c *MCPCatalog) connect(ctx context.Context) (*client.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}

	var (
		mcpClient *client.Client
		err       error
	)
	if c.config.isHTTP() {
		mcpClient, err = client.NewStreamableHttpClient(c.config.ID)
	} else {
		mcpClient, err = client.NewStdioMCPClient(c.config.ID, c.config.Env, c.config.SplitArgs()...)
	}
	if err != nil {
		return nil, oops.Code(errcode.UpstreamFailure).With("server", c.config.ID).Wrapf(err, "failed to create MCP client")
	}

	if err := mcpClient.Start(ctx); err != nil {
		return nil, oops.Code(errcode.UpstreamFailure).With("server", c.config.ID).Wrapf(err, "failed to start MCP transport")
	}

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.Capabilities = mcp.ClientCapabilities{}
	initRequest.Params.ClientInfo = mcp.Implementation{Name: "spiced", Version: "1.0.0"}

	if _, err := mcpClient.Initialize(ctx, initRequest); err != nil {
		_ = mcpClient.Close()
		return nil, oops.Code(errcode.UpstreamFailure).With("server", c.config.ID).Wrapf(err, "MCP initialize failed")
	}

	c.client = mcpClient
	return c.client, nil
}

// All lists the server's tools, following pagination cursors.
func (c *MCPCatalog) All(ctx context.Context) ([]Tool, error) {
	mcpClient, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	var out []Tool
	request := mcp.ListToolsRequest{}
	for {
		result, err := mcpClient.ListTools(ctx, request)
		if err != nil {
			return nil, oops.Code(errcode.UpstreamFailure).With("server", c.config.ID).Wrapf(err, "MCP list tools failed")
		}
		for _, remote := range result.Tools {
			out = append(out, newMCPTool(c, remote))
		}
		if result.NextCursor == "" {
			break
		}
		request.Params.Cursor = result.NextCursor
	}
	return out, nil
}

func (c *MCPCatalog) Get(ctx context.Context, name string) (Tool, error) {
	tools, err := c.All(ctx)
	if err != nil {
		return nil, err
	}
	for _, tool := range tools {
		if tool.Name() == name {
			return tool, nil
		}
	}
	return nil, oops.With("tool", name).Wrap(ErrToolNotFound)
}

// Close shuts down the server connection if one was established.
func (c *MCPCatalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}

// mcpTool proxies one remote tool.
type mcpTool struct {
	catalog    *MCPCatalog
	name       string
	desc       string
	parameters json.RawMessage
}

func newMCPTool(catalog *MCPCatalog, remote mcp.Tool) *mcpTool {
	parameters, err := json.Marshal(remote.InputSchema)
	if err != nil {
		parameters = json.RawMessage(`{"type": "object"}`)
	}
	return &mcpTool{
		catalog:    catalog,
		name:       remote.Name,
		desc:       remote.Description,
		parameters: parameters,
	}
}

func (t *mcpTool) Name() string                { return t.name }
func (t *mcpTool) Description() string         { return t.desc }
func (t *mcpTool) Parameters() json.RawMessage { return t.parameters }
func (t *mcpTool) Strict() bool                { return false }

// Call forwards the invocation to the remote server. Arguments that are
// not valid JSON are rejected before anything goes over the wire.
func (t *mcpTool) Call(ctx context.Context, argsJSON string, rt Runtime) (any, error) {
	var args map[string]any
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return nil, oops.Code(errcode.InvalidArgument).With("tool", t.name).Wrapf(err, "invalid tool arguments")
		}
	}

	mcpClient, err := t.catalog.connect(ctx)
	if err != nil {
		return nil, err
	}

	request := mcp.CallToolRequest{}
	request.Params.Name = t.name
	request.Params.Arguments = args

	result, err := mcpClient.CallTool(ctx, request)
	if err != nil {
		return nil, oops.Code(errcode.UpstreamFailure).With("tool", t.name).Wrapf(err, "MCP tool call failed")
	}

	var parts []string
	for _, content := range result.Content {
		if text, ok := mcp.AsTextContent(content); ok {
			parts = append(parts, text.Text)
		}
	}
	text := strings.Join(parts, "\n")
	if result.IsError {
		return nil, oops.Code(errcode.UpstreamFailure).With("tool", t.name).Errorf("tool reported error: %s", text)
	}
	return text, nil
}
