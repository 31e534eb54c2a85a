// Package mcp adapts a Model Context Protocol server into a shopchat
// capability source.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sweetpotato0/shopchat/pkg/logging"
	"github.com/sweetpotato0/shopchat/tool"
)

// ErrSourceClosed is returned when the source has been closed.
var ErrSourceClosed = errors.New("mcp source closed")

// ToolError is returned when the MCP server reports an error response.
type ToolError struct {
	Name    string
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("mcp tool %s: %s", e.Name, e.Message)
}

// Source connects to one MCP server over the streamable HTTP transport and
// exposes its tools as a capability source. The session is established
// lazily on first use so a down server degrades discovery instead of
// failing startup.
type Source struct {
	endpoint string
	impl     sdkmcp.Implementation
	logger   *slog.Logger

	mu      sync.Mutex
	client  *sdkmcp.Client
	session *sdkmcp.ClientSession
	closed  bool
}

// Option configures optional source behaviour.
type Option func(*Source)

// WithClientInfo sets the client metadata advertised to the MCP server.
func WithClientInfo(name, version string) Option {
	return func(s *Source) {
		if name != "" {
			s.impl.Name = name
		}
		if version != "" {
			s.impl.Version = version
		}
	}
}

// NewSource creates a capability source for the given MCP endpoint.
func NewSource(endpoint string, opts ...Option) (*Source, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, errors.New("mcp: endpoint cannot be empty")
	}
	s := &Source{
		endpoint: endpoint,
		impl: sdkmcp.Implementation{
			Name:    "shopchat",
			Version: "0.1.0",
		},
		logger: logging.WithComponent("mcp_source"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Name identifies the source in logs.
func (s *Source) Name() string {
	return s.endpoint
}

func (s *Source) ensureSession(ctx context.Context) (*sdkmcp.ClientSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSourceClosed
	}
	if s.session != nil {
		return s.session, nil
	}

	if s.client == nil {
		s.client = sdkmcp.NewClient(&s.impl, nil)
	}
	transport := &sdkmcp.StreamableClientTransport{Endpoint: s.endpoint}
	session, err := s.client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("mcp: connect %s: %w", s.endpoint, err)
	}
	s.session = session
	return session, nil
}

// Connect returns the full set of tools exposed by the MCP server, walking
// the list cursor until exhausted.
func (s *Source) Connect(ctx context.Context) ([]*tool.Descriptor, error) {
	session, err := s.ensureSession(ctx)
	if err != nil {
		return nil, err
	}

	params := &sdkmcp.ListToolsParams{}
	var (
		cursor string
		defs   []*sdkmcp.Tool
	)
	for {
		if cursor != "" {
			params.Cursor = cursor
		}
		res, err := session.ListTools(ctx, params)
		if err != nil {
			s.dropSession()
			return nil, fmt.Errorf("mcp: list tools: %w", err)
		}
		defs = append(defs, res.Tools...)
		if res.NextCursor == "" {
			break
		}
		cursor = res.NextCursor
	}

	descriptors := make([]*tool.Descriptor, 0, len(defs))
	for _, def := range defs {
		if def == nil || def.Name == "" {
			continue
		}
		description := def.Description
		if description == "" && def.Annotations != nil {
			description = def.Annotations.Title
		}
		descriptors = append(descriptors, &tool.Descriptor{
			Name:        def.Name,
			Description: description,
			InputSchema: toMap(def.InputSchema),
		})
	}
	return descriptors, nil
}

// Invoke calls a remote MCP tool and normalizes its response into the
// canonical outcome envelope.
func (s *Source) Invoke(ctx context.Context, name string, input map[string]any) (*tool.Outcome, error) {
	session, err := s.ensureSession(ctx)
	if err != nil {
		return nil, err
	}
	if input == nil {
		input = make(map[string]any)
	}

	result, err := session.CallTool(ctx, &sdkmcp.CallToolParams{
		Name:      name,
		Arguments: input,
	})
	if err != nil {
		s.dropSession()
		return nil, fmt.Errorf("mcp: call tool %s: %w", name, err)
	}

	text := flattenContent(result.Content)
	if result.IsError {
		if text == "" {
			text = "tool returned error without message"
		}
		return nil, &ToolError{Name: name, Message: text}
	}

	return tool.NormalizeRaw(text), nil
}

// Close terminates the MCP session.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.session == nil {
		return nil
	}
	err := s.session.Close()
	s.session = nil
	return err
}

// dropSession discards a session after a transport failure so the next call
// reconnects.
func (s *Source) dropSession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		_ = s.session.Close()
		s.session = nil
	}
}

// flattenContent joins heterogeneous MCP content blocks into one text
// payload. Non-text blocks keep their JSON form.
func flattenContent(content []sdkmcp.Content) string {
	if len(content) == 0 {
		return ""
	}
	parts := make([]string, 0, len(content))
	for _, c := range content {
		switch v := c.(type) {
		case *sdkmcp.TextContent:
			parts = append(parts, v.Text)
		default:
			if data, err := c.MarshalJSON(); err == nil {
				parts = append(parts, string(data))
			}
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

func toMap(v any) map[string]any {
	switch value := v.(type) {
	case map[string]any:
		return value
	case json.RawMessage:
		var out map[string]any
		if err := json.Unmarshal(value, &out); err != nil {
			return nil
		}
		return out
	case []byte:
		var out map[string]any
		if err := json.Unmarshal(value, &out); err != nil {
			return nil
		}
		return out
	default:
		if data, err := json.Marshal(value); err == nil {
			var out map[string]any
			if err := json.Unmarshal(data, &out); err == nil {
				return out
			}
		}
		return nil
	}
}
