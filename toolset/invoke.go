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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	mcp "trpc.group/trpc-go/trpc-mcp-go"

	"trpc.group/trpc-go/trpc-flow-go/workflow"
)

// Invoker executes expanded tool nodes against their backing service,
// dispatching on the tool source recorded at rewrite time. It implements
// the dispatch engine's ToolInvoker contract.
type Invoker struct {
	client     *http.Client
	clientInfo mcp.Implementation
}

// InvokerOption configures an Invoker.
type InvokerOption func(*Invoker)

// WithHTTPClient sets the client used for HTTP tool calls.
func WithHTTPClient(c *http.Client) InvokerOption {
	return func(i *Invoker) { i.client = c }
}

// NewInvoker creates an Invoker.
func NewInvoker(opts ...InvokerOption) *Invoker {
	i := &Invoker{
		client:     http.DefaultClient,
		clientInfo: defaultClientInfo,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Invoke executes one tool call.
func (i *Invoker) Invoke(ctx context.Context, meta *workflow.ToolMeta, args map[string]any) (any, error) {
	switch meta.Source {
	case workflow.ToolSourceHTTP:
		return i.invokeHTTP(ctx, meta, args)
	case workflow.ToolSourceMCP:
		return i.invokeMCP(ctx, meta, args)
	}
	return nil, fmt.Errorf("toolset: unsupported tool source %q", meta.Source)
}

func (i *Invoker) invokeHTTP(ctx context.Context, meta *workflow.ToolMeta, args map[string]any) (any, error) {
	method := strings.ToUpper(meta.Method)
	if method == "" {
		method = http.MethodPost
	}
	url := strings.TrimSuffix(meta.BaseURL, "/") + meta.Path

	var body io.Reader
	if method != http.MethodGet && len(args) > 0 {
		raw, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("toolset: marshal tool arguments: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, &workflow.HTTPError{Message: err.Error(), Method: method, Name: meta.ToolName}
	}
	req.Header.Set("Content-Type", "application/json")
	if method == http.MethodGet {
		q := req.URL.Query()
		for k, v := range args {
			q.Set(k, fmt.Sprintf("%v", v))
		}
		req.URL.RawQuery = q.Encode()
	}

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, &workflow.HTTPError{Message: err.Error(), Method: method, Name: meta.ToolName}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &workflow.HTTPError{
			Message: err.Error(), Method: method, Name: meta.ToolName, Status: resp.StatusCode,
		}
	}

	var parsed any = string(raw)
	var asJSON any
	if json.Unmarshal(raw, &asJSON) == nil {
		parsed = asJSON
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &workflow.HTTPError{
			Message: fmt.Sprintf("tool %s failed with status %d", meta.ToolName, resp.StatusCode),
			Method:  method,
			Name:    meta.ToolName,
			Status:  resp.StatusCode,
			Data:    parsed,
		}
	}
	return parsed, nil
}

func (i *Invoker) invokeMCP(ctx context.Context, meta *workflow.ToolMeta, args map[string]any) (any, error) {
	client, err := mcp.NewClient(meta.BaseURL, i.clientInfo)
	if err != nil {
		return nil, fmt.Errorf("toolset: create MCP client for %s: %w", meta.BaseURL, err)
	}
	defer client.Close()

	if _, err := client.Initialize(ctx, &mcp.InitializeRequest{}); err != nil {
		return nil, fmt.Errorf("toolset: initialize MCP session with %s: %w", meta.BaseURL, err)
	}
	callReq := &mcp.CallToolRequest{}
	callReq.Params.Name = meta.ToolName
	callReq.Params.Arguments = args
	resp, err := client.CallTool(ctx, callReq)
	if err != nil {
		return nil, fmt.Errorf("toolset: call tool %s: %w", meta.ToolName, err)
	}

	// Flatten text content; anything richer is passed through as-is.
	var texts []string
	for _, content := range resp.Content {
		if tc, ok := content.(mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	if len(texts) == len(resp.Content) && len(texts) > 0 {
		return strings.Join(texts, "\n"), nil
	}
	return resp.Content, nil
}
