//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"trpc.group/trpc-go/trpc-flow-go/log"
)

// ErrAppNotFound is returned by AppCatalog implementations when the pluginID
// does not resolve to an app record.
var ErrAppNotFound = errors.New("workflow: app not found")

// SystemToolCatalog resolves a built-in tool catalog id to pre-built runtime
// child nodes.
type SystemToolCatalog interface {
	RuntimeNodes(ctx context.Context, toolID string) ([]RuntimeNode, error)
}

// App is the owning record of an externally hosted (MCP) tool catalog.
type App struct {
	ID           string            `json:"id" bson:"_id"`
	Name         string            `json:"name" bson:"name"`
	MCPServerURL string            `json:"mcpServerUrl,omitempty" bson:"mcpServerUrl,omitempty"`
	Headers      map[string]string `json:"headers,omitempty" bson:"headers,omitempty"`
}

// AppCatalog looks up app records by plugin id.
type AppCatalog interface {
	// FindApp returns ErrAppNotFound when no record exists.
	FindApp(ctx context.Context, pluginID string) (*App, error)
}

// MCPToolInfo describes one tool hosted by an MCP server.
type MCPToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// MCPToolCatalog fetches the tool list hosted by an app's MCP server.
type MCPToolCatalog interface {
	Children(ctx context.Context, app *App) ([]MCPToolInfo, error)
}

// Rewriter expands tool-set placeholder nodes into concrete runtime children
// just before execution. Expansion happens fresh on every run: underlying
// catalogs may change between runs, so results are never cached.
type Rewriter struct {
	system SystemToolCatalog
	apps   AppCatalog
	mcp    MCPToolCatalog
}

// RewriterOption configures a Rewriter.
type RewriterOption func(*Rewriter)

// WithSystemToolCatalog sets the built-in tool catalog resolver.
func WithSystemToolCatalog(c SystemToolCatalog) RewriterOption {
	return func(r *Rewriter) { r.system = c }
}

// WithAppCatalog sets the app record lookup.
func WithAppCatalog(c AppCatalog) RewriterOption {
	return func(r *Rewriter) { r.apps = c }
}

// WithMCPToolCatalog sets the MCP tool list fetcher.
func WithMCPToolCatalog(c MCPToolCatalog) RewriterOption {
	return func(r *Rewriter) { r.mcp = c }
}

// NewRewriter creates a Rewriter.
func NewRewriter(opts ...RewriterOption) *Rewriter {
	r := &Rewriter{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Rewrite returns a new executable snapshot of wf in which every tool-set
// node has been replaced by its expansion. The input workflow is not
// modified, so a caller holding the stored definition keeps a clean copy.
//
// Post-conditions: no node in the result has type toolSet, and every edge
// connects two surviving nodes.
//
// An MCP tool set whose owning app no longer exists is dropped together with
// its edges; a tool becoming unavailable between authoring and execution is
// a tolerated condition, not an error.
func (r *Rewriter) Rewrite(ctx context.Context, wf RuntimeWorkflow) (RuntimeWorkflow, error) {
	hasToolSet := false
	for i := range wf.Nodes {
		if wf.Nodes[i].FlowNodeType == NodeTypeToolSet {
			hasToolSet = true
			break
		}
	}
	if !hasToolSet {
		return wf, nil
	}

	out := RuntimeWorkflow{
		Nodes: make([]RuntimeNode, 0, len(wf.Nodes)),
		Edges: make([]RuntimeEdge, 0, len(wf.Edges)),
	}

	// Children per replaced tool-set node id; a nil entry means the node was
	// dropped without replacement.
	expansions := make(map[string][]RuntimeNode)

	for i := range wf.Nodes {
		node := wf.Nodes[i]
		if node.FlowNodeType != NodeTypeToolSet {
			out.Nodes = append(out.Nodes, node)
			continue
		}
		children, err := r.expand(ctx, &node)
		if err != nil {
			return RuntimeWorkflow{}, err
		}
		expansions[node.NodeID] = children
		out.Nodes = append(out.Nodes, children...)
	}

	for _, edge := range wf.Edges {
		children, replacedTarget := expansions[edge.Target]
		if _, replacedSource := expansions[edge.Source]; replacedSource {
			// Edges leaving a tool-set node have no surviving source.
			continue
		}
		if !replacedTarget {
			out.Edges = append(out.Edges, edge)
			continue
		}
		// Duplicate the inbound edge to each resolved child so every child
		// stays wired to the caller.
		for i := range children {
			dup := edge
			dup.Target = children[i].NodeID
			out.Edges = append(out.Edges, dup)
		}
	}

	return out, nil
}

// expand resolves one tool-set node to its concrete children. A nil, nil
// return drops the node without replacement.
func (r *Rewriter) expand(ctx context.Context, node *RuntimeNode) ([]RuntimeNode, error) {
	if err := node.ToolConfig.Validate(); err != nil {
		return nil, fmt.Errorf("tool set node %s: %w", node.NodeID, err)
	}
	switch node.ToolConfig.Type {
	case ToolConfigSystem:
		return r.expandSystem(ctx, node)
	case ToolConfigMCP:
		return r.expandMCP(ctx, node)
	case ToolConfigHTTP:
		return expandHTTP(node), nil
	}
	// Unreachable: Validate rejects unknown types.
	return nil, fmt.Errorf("tool set node %s: %w", node.NodeID, ErrInvalidToolConfig)
}

func (r *Rewriter) expandSystem(ctx context.Context, node *RuntimeNode) ([]RuntimeNode, error) {
	if r.system == nil {
		return nil, fmt.Errorf("tool set node %s: no system tool catalog configured", node.NodeID)
	}
	children, err := r.system.RuntimeNodes(ctx, node.ToolConfig.System.ToolID)
	if err != nil {
		return nil, fmt.Errorf("tool set node %s: resolve system catalog %s: %w",
			node.NodeID, node.ToolConfig.System.ToolID, err)
	}
	return children, nil
}

func (r *Rewriter) expandMCP(ctx context.Context, node *RuntimeNode) ([]RuntimeNode, error) {
	if r.apps == nil || r.mcp == nil {
		return nil, fmt.Errorf("tool set node %s: no MCP catalog configured", node.NodeID)
	}
	cfg := node.ToolConfig.MCP
	app, err := r.apps.FindApp(ctx, cfg.ToolID)
	if errors.Is(err, ErrAppNotFound) {
		log.Warnf("tool set node %s: app %s no longer exists, dropping node", node.NodeID, cfg.ToolID)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tool set node %s: look up app %s: %w", node.NodeID, cfg.ToolID, err)
	}
	tools, err := r.mcp.Children(ctx, app)
	if err != nil {
		return nil, fmt.Errorf("tool set node %s: list MCP tools for app %s: %w",
			node.NodeID, app.ID, err)
	}
	children := make([]RuntimeNode, 0, len(tools))
	for i, tool := range tools {
		children = append(children, toolChildNode(node, i, tool.Name, tool.Description, &ToolMeta{
			Source:      ToolSourceMCP,
			ParentID:    app.ID,
			ToolName:    tool.Name,
			BaseURL:     app.MCPServerURL,
			InputSchema: tool.InputSchema,
		}))
	}
	return children, nil
}

func expandHTTP(node *RuntimeNode) []RuntimeNode {
	cfg := node.ToolConfig.HTTP
	children := make([]RuntimeNode, 0, len(cfg.ToolList))
	for i, tool := range cfg.ToolList {
		children = append(children, toolChildNode(node, i, tool.Name, tool.Description, &ToolMeta{
			Source:      ToolSourceHTTP,
			ParentID:    node.NodeID,
			ToolName:    tool.Name,
			Method:      tool.Method,
			Path:        tool.Path,
			BaseURL:     cfg.BaseURL,
			InputSchema: tool.InputSchema,
		}))
	}
	return children
}

// toolChildNode synthesizes the i-th child of a tool-set node. Child ids are
// the parent id with the index appended, so identities stay stable and
// collision-free across repeated rewrites of the same source node.
func toolChildNode(parent *RuntimeNode, i int, name, description string, meta *ToolMeta) RuntimeNode {
	child := RuntimeNode{
		NodeID:       fmt.Sprintf("%s%d", parent.NodeID, i),
		Name:         name,
		Intro:        description,
		FlowNodeType: NodeTypeTool,
		ShowStatus:   parent.ShowStatus,
		ToolMeta:     meta,
	}
	props := schemaProperties(meta.InputSchema)
	for _, prop := range sortedKeys(props) {
		child.Inputs = append(child.Inputs, NodeInput{
			Key:             prop,
			ValueType:       schemaValueType(props[prop]),
			ToolDescription: schemaDescription(props[prop]),
		})
	}
	child.Outputs = append(child.Outputs, NodeOutput{Key: "result", ValueType: ValueTypeAny})
	return child
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func schemaProperties(schema map[string]any) map[string]any {
	props, _ := schema["properties"].(map[string]any)
	return props
}

func schemaDescription(spec any) string {
	m, ok := spec.(map[string]any)
	if !ok {
		return ""
	}
	desc, _ := m["description"].(string)
	return desc
}

func schemaValueType(spec any) ValueType {
	m, ok := spec.(map[string]any)
	if !ok {
		return ValueTypeAny
	}
	switch m["type"] {
	case "string":
		return ValueTypeString
	case "number", "integer":
		return ValueTypeNumber
	case "boolean":
		return ValueTypeBoolean
	case "object":
		return ValueTypeObject
	case "array":
		return ValueTypeArrayString
	}
	return ValueTypeAny
}
