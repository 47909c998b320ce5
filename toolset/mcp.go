//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

package toolset

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"
	mcp "trpc.group/trpc-go/trpc-mcp-go"

	"trpc.group/trpc-go/trpc-flow-go/log"
	"trpc.group/trpc-go/trpc-flow-go/workflow"
)

// defaultMCPTimeout bounds one MCP handshake plus list call.
const defaultMCPTimeout = 10 * time.Second

var defaultClientInfo = mcp.Implementation{
	Name:    "trpc-flow-go",
	Version: "1.0.0",
}

// MCPCatalog lists the tools hosted by an app's MCP server. Each listing
// opens a short-lived session; concurrent listings against the same server
// are deduplicated, results are never cached across calls so a run always
// sees the server's current tool set.
type MCPCatalog struct {
	timeout    time.Duration
	clientInfo mcp.Implementation
	group      singleflight.Group
}

// MCPCatalogOption configures an MCPCatalog.
type MCPCatalogOption func(*MCPCatalog)

// WithMCPTimeout bounds one listing round trip.
func WithMCPTimeout(d time.Duration) MCPCatalogOption {
	return func(c *MCPCatalog) { c.timeout = d }
}

// WithClientInfo overrides the client identification sent on handshake.
func WithClientInfo(info mcp.Implementation) MCPCatalogOption {
	return func(c *MCPCatalog) { c.clientInfo = info }
}

// NewMCPCatalog creates an MCPCatalog.
func NewMCPCatalog(opts ...MCPCatalogOption) *MCPCatalog {
	c := &MCPCatalog{
		timeout:    defaultMCPTimeout,
		clientInfo: defaultClientInfo,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Children implements workflow.MCPToolCatalog.
func (c *MCPCatalog) Children(ctx context.Context, app *workflow.App) ([]workflow.MCPToolInfo, error) {
	if app == nil || app.MCPServerURL == "" {
		return nil, fmt.Errorf("toolset: app has no MCP server url")
	}
	v, err, _ := c.group.Do(app.MCPServerURL, func() (any, error) {
		return c.listTools(ctx, app)
	})
	if err != nil {
		return nil, err
	}
	return v.([]workflow.MCPToolInfo), nil
}

func (c *MCPCatalog) listTools(ctx context.Context, app *workflow.App) ([]workflow.MCPToolInfo, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	client, err := c.newClient(app)
	if err != nil {
		return nil, fmt.Errorf("toolset: create MCP client for %s: %w", app.MCPServerURL, err)
	}
	defer func() {
		if closeErr := client.Close(); closeErr != nil {
			log.Warnf("close MCP client for %s: %v", app.MCPServerURL, closeErr)
		}
	}()

	if _, err := client.Initialize(ctx, &mcp.InitializeRequest{}); err != nil {
		return nil, fmt.Errorf("toolset: initialize MCP session with %s: %w", app.MCPServerURL, err)
	}
	resp, err := client.ListTools(ctx, &mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("toolset: list MCP tools from %s: %w", app.MCPServerURL, err)
	}

	infos := make([]workflow.MCPToolInfo, 0, len(resp.Tools))
	for _, t := range resp.Tools {
		infos = append(infos, workflow.MCPToolInfo{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schemaToMap(t.InputSchema),
		})
	}
	return infos, nil
}

func (c *MCPCatalog) newClient(app *workflow.App) (*mcp.Client, error) {
	var options []mcp.ClientOption
	if len(app.Headers) > 0 {
		headers := http.Header{}
		for k, v := range app.Headers {
			headers.Set(k, v)
		}
		options = append(options, mcp.WithHTTPHeaders(headers))
	}
	return mcp.NewClient(app.MCPServerURL, c.clientInfo, options...)
}

// schemaToMap normalizes an MCP input schema into a plain map via a JSON
// round trip. A schema that does not survive the round trip is dropped.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return nil
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}
